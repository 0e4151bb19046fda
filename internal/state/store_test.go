package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraitsura/grimoire/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), "")
}

func TestGetState_Missing(t *testing.T) {
	s := newTestStore(t)

	st := s.GetState()
	assert.Equal(t, models.StateVersion, st.Version)
	assert.Empty(t, st.Worktrees)
}

func TestGetState_CorruptDocument(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.BaseDir(), 0o755))
	require.NoError(t, os.WriteFile(s.StatePath(), []byte("{not json"), 0o644))

	st := s.GetState()
	assert.Equal(t, models.StateVersion, st.Version)
	assert.Empty(t, st.Worktrees)
}

func TestAddWorktree_Defaults(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddWorktree(models.WorktreeEntry{Name: "feat-a", Branch: "feat-a"}))

	entry := s.GetState().Find("feat-a")
	require.NotNil(t, entry)
	assert.Equal(t, models.MergeStatusPending, entry.MergeStatus)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestAddWorktree_Idempotent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddWorktree(models.WorktreeEntry{Name: "feat-a", Branch: "feat-a"}))
	require.NoError(t, s.AddWorktree(models.WorktreeEntry{Name: "feat-a", Branch: "other"}))

	st := s.GetState()
	assert.Len(t, st.Worktrees, 1)
	assert.Equal(t, "feat-a", st.Worktrees[0].Branch)
}

func TestAddWorktree_RequiresName(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.AddWorktree(models.WorktreeEntry{}))
}

func TestUpdateWorktree_EmptyUpdateWritesNothing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddWorktree(models.WorktreeEntry{Name: "feat-a", Branch: "feat-a"}))

	info, err := os.Stat(s.StatePath())
	require.NoError(t, err)
	before := info.ModTime()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.UpdateWorktree("feat-a", WorktreeUpdate{}))

	info, err = os.Stat(s.StatePath())
	require.NoError(t, err)
	assert.Equal(t, before, info.ModTime())
}

func TestUpdateWorktree_MissingEntryNeverCreates(t *testing.T) {
	s := newTestStore(t)

	status := models.MergeStatusReady
	require.NoError(t, s.UpdateWorktree("ghost", WorktreeUpdate{MergeStatus: &status}))

	assert.Nil(t, s.GetState().Find("ghost"))
}

func TestUpdateWorktree_ClaimPair(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddWorktree(models.WorktreeEntry{Name: "feat-a", Branch: "feat-a"}))

	who := "agent-1"
	now := time.Now().UTC()
	require.NoError(t, s.UpdateWorktree("feat-a", WorktreeUpdate{ClaimedBy: &who, ClaimedAt: &now}))

	entry := s.GetState().Find("feat-a")
	require.NotNil(t, entry)
	assert.Equal(t, "agent-1", entry.ClaimedBy)
	require.NotNil(t, entry.ClaimedAt)

	require.NoError(t, s.UpdateWorktree("feat-a", WorktreeUpdate{ClearClaim: true}))
	entry = s.GetState().Find("feat-a")
	assert.Empty(t, entry.ClaimedBy)
	assert.Nil(t, entry.ClaimedAt)
}

func TestUpdateWorktree_AppendLogPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddWorktree(models.WorktreeEntry{Name: "feat-a", Branch: "feat-a"}))

	for _, msg := range []string{"first", "second", "third"} {
		entry := models.LogEntry{Time: time.Now().UTC(), Message: msg, Type: models.LogTypeLog}
		require.NoError(t, s.UpdateWorktree("feat-a", WorktreeUpdate{AppendLog: &entry}))
	}

	logs := s.GetState().Find("feat-a").Logs
	require.Len(t, logs, 3)
	assert.Equal(t, "first", logs[0].Message)
	assert.Equal(t, "third", logs[2].Message)
}

func TestUpdateWorktree_AddChildUnique(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddWorktree(models.WorktreeEntry{Name: "parent", Branch: "parent"}))

	child := "feat-a"
	require.NoError(t, s.UpdateWorktree("parent", WorktreeUpdate{AddChild: &child}))
	require.NoError(t, s.UpdateWorktree("parent", WorktreeUpdate{AddChild: &child}))

	assert.Equal(t, []string{"feat-a"}, s.GetState().Find("parent").ChildWorktrees)
}

func TestMutateWorktree_ChecksAndUpdatesAtomically(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddWorktree(models.WorktreeEntry{Name: "feat-a", Branch: "feat-a"}))

	err := s.MutateWorktree("feat-a", func(entry *models.WorktreeEntry) (WorktreeUpdate, error) {
		if entry.ClaimedBy != "" {
			return WorktreeUpdate{}, errors.New("already claimed")
		}
		who := "agent-1"
		now := time.Now().UTC()
		return WorktreeUpdate{ClaimedBy: &who, ClaimedAt: &now}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "agent-1", s.GetState().Find("feat-a").ClaimedBy)
}

func TestMutateWorktree_CheckFailureAbortsWrite(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddWorktree(models.WorktreeEntry{Name: "feat-a", Branch: "feat-a"}))

	wantErr := errors.New("refused")
	err := s.MutateWorktree("feat-a", func(entry *models.WorktreeEntry) (WorktreeUpdate, error) {
		who := "agent-1"
		now := time.Now().UTC()
		// The returned update must be discarded when fn errors.
		entry.Branch = "mutated-in-place"
		return WorktreeUpdate{ClaimedBy: &who, ClaimedAt: &now}, wantErr
	})
	require.ErrorIs(t, err, wantErr)

	entry := s.GetState().Find("feat-a")
	assert.Empty(t, entry.ClaimedBy)
	assert.Equal(t, "feat-a", entry.Branch)
}

func TestMutateWorktree_MissingEntry(t *testing.T) {
	s := newTestStore(t)

	err := s.MutateWorktree("ghost", func(entry *models.WorktreeEntry) (WorktreeUpdate, error) {
		return WorktreeUpdate{}, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrphans(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddWorktree(models.WorktreeEntry{Name: "feat-a", Branch: "feat-a"}))
	require.NoError(t, s.AddWorktree(models.WorktreeEntry{Name: "feat-b", Branch: "feat-b"}))

	// Only feat-a has a backing directory; feat-b's entry is orphaned.
	require.NoError(t, os.MkdirAll(s.WorktreePath("feat-a"), 0o755))

	assert.Equal(t, []string{"feat-b"}, s.Orphans())
}

func TestRemoveWorktree(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddWorktree(models.WorktreeEntry{Name: "feat-a", Branch: "feat-a"}))
	require.NoError(t, s.AddWorktree(models.WorktreeEntry{Name: "feat-b", Branch: "feat-b"}))

	require.NoError(t, s.RemoveWorktree("feat-a"))

	st := s.GetState()
	assert.Nil(t, st.Find("feat-a"))
	assert.NotNil(t, st.Find("feat-b"))
}

func TestRemoveWorktree_AbsentIsNoop(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.RemoveWorktree("ghost"))
}

func TestWorktreePath(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, "")

	assert.Equal(t, filepath.Join(root, DefaultBasePath, "feat-a"), s.WorktreePath("feat-a"))
}
