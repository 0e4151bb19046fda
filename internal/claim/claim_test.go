package claim

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraitsura/grimoire/internal/models"
	"github.com/kraitsura/grimoire/internal/state"
)

type fakeNotifier struct {
	calls []string
	err   error
}

func (f *fakeNotifier) Notify(provider models.IssueProvider, issueID, message string) error {
	f.calls = append(f.calls, message)
	return f.err
}

func newTestCoordinator(t *testing.T) (*Coordinator, *state.Store, *fakeNotifier) {
	t.Helper()
	store := state.NewStore(t.TempDir(), "")
	notifier := &fakeNotifier{}
	return NewCoordinator(store, notifier), store, notifier
}

func addEntry(t *testing.T, store *state.Store, name string) {
	t.Helper()
	require.NoError(t, store.AddWorktree(models.WorktreeEntry{Name: name, Branch: name}))
}

func TestClaimReleaseRoundTrip(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	addEntry(t, store, "feat-a")

	require.NoError(t, coord.Claim("feat-a", "agent-1", false))

	entry := store.GetState().Find("feat-a")
	assert.Equal(t, "agent-1", entry.ClaimedBy)
	require.NotNil(t, entry.ClaimedAt)

	require.NoError(t, coord.Release("feat-a", ReleaseOptions{Identity: "agent-1"}))

	entry = store.GetState().Find("feat-a")
	assert.Empty(t, entry.ClaimedBy)
	assert.Nil(t, entry.ClaimedAt)

	// A plain release carries no metadata block.
	last := entry.Logs[len(entry.Logs)-1]
	assert.Equal(t, models.LogTypeLog, last.Type)
	assert.Nil(t, last.Metadata)
}

func TestClaim_NotFound(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	assert.Error(t, coord.Claim("ghost", "agent-1", false))
}

func TestClaim_ConflictLeavesHolder(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	addEntry(t, store, "feat-a")

	require.NoError(t, coord.Claim("feat-a", "agent-1", false))

	err := coord.Claim("feat-a", "agent-2", false)
	require.Error(t, err)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "agent-1", conflict.Holder)

	// The losing attempt must not disturb the existing claim.
	assert.Equal(t, "agent-1", store.GetState().Find("feat-a").ClaimedBy)
}

func TestClaim_ConcurrentClaimantsOnlyOneWins(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	addEntry(t, store, "feat-a")

	identities := []string{"agent-a", "agent-b"}
	errs := make([]error, len(identities))

	var wg sync.WaitGroup
	for i, id := range identities {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = coord.Claim("feat-a", id, false)
		}(i, id)
	}
	wg.Wait()

	// Exactly one claim lands; the other sees the holder's conflict.
	winners := 0
	for i, err := range errs {
		if err == nil {
			winners++
			assert.Equal(t, identities[i], store.GetState().Find("feat-a").ClaimedBy)
			continue
		}
		var conflict *ConflictError
		require.True(t, errors.As(err, &conflict))
	}
	assert.Equal(t, 1, winners)
}

func TestClaim_Reentrant(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	addEntry(t, store, "feat-a")

	require.NoError(t, coord.Claim("feat-a", "agent-1", false))
	require.NoError(t, coord.Claim("feat-a", "agent-1", false))

	assert.Equal(t, "agent-1", store.GetState().Find("feat-a").ClaimedBy)
}

func TestClaim_ForceOverride(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	addEntry(t, store, "feat-a")

	require.NoError(t, coord.Claim("feat-a", "agent-1", false))
	require.NoError(t, coord.Claim("feat-a", "agent-2", true))

	entry := store.GetState().Find("feat-a")
	assert.Equal(t, "agent-2", entry.ClaimedBy)

	// The takeover is recorded in the log.
	require.NotEmpty(t, entry.Logs)
	assert.Contains(t, entry.Logs[len(entry.Logs)-1].Message, "took over")
}

func TestRelease_HandoffRecordsStageTransition(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	addEntry(t, store, "feat-a")
	require.NoError(t, coord.Claim("feat-a", "agent-1", false))

	err := coord.Release("feat-a", ReleaseOptions{
		Identity:  "agent-1",
		Note:      "implementation done, needs tests",
		NextStage: "test",
	})
	require.NoError(t, err)

	entry := store.GetState().Find("feat-a")
	assert.Equal(t, models.StageTest, entry.CurrentStage)
	require.Len(t, entry.StageHistory, 1)
	assert.Equal(t, "test", entry.StageHistory[0].To)

	last := entry.Logs[len(entry.Logs)-1]
	assert.Equal(t, models.LogTypeHandoff, last.Type)
	assert.Equal(t, "implementation done, needs tests", last.Message)
}

func TestRelease_InterruptType(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	addEntry(t, store, "feat-a")
	require.NoError(t, coord.Claim("feat-a", "agent-1", false))

	require.NoError(t, coord.Release("feat-a", ReleaseOptions{
		Identity: "agent-1",
		Reason:   "context limit reached",
	}))

	entry := store.GetState().Find("feat-a")
	last := entry.Logs[len(entry.Logs)-1]
	assert.Equal(t, models.LogTypeInterrupt, last.Type)
	require.NotNil(t, last.Metadata)
	assert.Equal(t, "context limit reached", last.Metadata.Reason)
}

func TestRelease_InvalidStageIgnored(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)
	addEntry(t, store, "feat-a")

	require.NoError(t, coord.Release("feat-a", ReleaseOptions{NextStage: "deploy"}))

	entry := store.GetState().Find("feat-a")
	assert.Empty(t, entry.CurrentStage)
	assert.Empty(t, entry.StageHistory)
}

func TestRelease_NotifierFailureDoesNotFail(t *testing.T) {
	coord, store, notifier := newTestCoordinator(t)
	notifier.err = errors.New("tracker down")

	require.NoError(t, store.AddWorktree(models.WorktreeEntry{
		Name:          "feat-a",
		Branch:        "feat-a",
		LinkedIssue:   "bd-42",
		IssueProvider: models.IssueProviderBeads,
	}))
	require.NoError(t, coord.Claim("feat-a", "agent-1", false))

	err := coord.Release("feat-a", ReleaseOptions{Identity: "agent-1"})
	assert.NoError(t, err)
	assert.Len(t, notifier.calls, 1)
}

func TestConflictError_Message(t *testing.T) {
	err := &ConflictError{Name: "feat-a", Holder: "agent-1", Age: 90 * time.Second}
	assert.Contains(t, err.Error(), "agent-1")
	assert.Contains(t, err.Error(), "--force")
}
