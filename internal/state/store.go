package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kraitsura/grimoire/internal/models"
)

// ErrNotFound is returned when a named entry is absent from the state
// document.
var ErrNotFound = errors.New("worktree not found")

const (
	// DefaultBasePath is the directory under the repo root holding
	// managed worktrees and the shared state document.
	DefaultBasePath = ".worktrees"

	stateFileName = ".state.json"
	lockFileName  = ".state.lock"
	dirMode       = 0o755
	fileMode      = 0o644
)

// Store reads and writes the shared worktree state document for one
// repository. Every mutation runs under an advisory file lock and lands
// via write-to-temp-then-rename, so readers never observe a torn document
// and concurrent writers cannot lose each other's updates.
type Store struct {
	repoRoot string
	basePath string
}

// NewStore creates a store for the repository rooted at repoRoot.
// basePath is relative to the root; empty means DefaultBasePath.
func NewStore(repoRoot, basePath string) *Store {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	return &Store{repoRoot: repoRoot, basePath: basePath}
}

// BaseDir returns the absolute directory holding managed worktrees.
func (s *Store) BaseDir() string {
	return filepath.Join(s.repoRoot, s.basePath)
}

// StatePath returns the absolute path of the state document.
func (s *Store) StatePath() string {
	return filepath.Join(s.BaseDir(), stateFileName)
}

func (s *Store) lockPath() string {
	return filepath.Join(s.BaseDir(), lockFileName)
}

// WorktreePath returns the directory a named worktree is checked out in.
func (s *Store) WorktreePath(name string) string {
	return filepath.Join(s.BaseDir(), name)
}

// GetState loads the state document. A missing or corrupt document is
// treated as "no state": an empty default is returned, never an error.
func (s *Store) GetState() models.WorktreeState {
	state, _ := readState(s.StatePath())
	return state
}

func readState(path string) (models.WorktreeState, bool) {
	empty := models.WorktreeState{Version: models.StateVersion}
	data, err := os.ReadFile(path)
	if err != nil {
		return empty, false
	}
	var state models.WorktreeState
	if err := json.Unmarshal(data, &state); err != nil {
		return empty, false
	}
	if state.Version == 0 {
		state.Version = models.StateVersion
	}
	return state, true
}

// WorktreeUpdate is an explicit partial update: only non-nil fields are
// applied. Claim fields move as a pair via ClaimedBy+ClaimedAt or ClearClaim.
type WorktreeUpdate struct {
	Branch         *string
	LinkedIssue    *string
	IssueProvider  *models.IssueProvider
	ClaimedBy      *string
	ClaimedAt      *time.Time
	ClearClaim     bool
	ParentWorktree *string
	ParentSession  *string
	AddChild       *string
	CurrentStage   *models.Stage
	SpawnedAt      *time.Time
	CompletedAt    *time.Time
	MergeStatus    *models.MergeStatus

	AppendLog        *models.LogEntry
	AppendCheckpoint *models.Checkpoint
	AppendTransition *models.StageTransition
}

func (u WorktreeUpdate) empty() bool {
	return u.Branch == nil && u.LinkedIssue == nil && u.IssueProvider == nil &&
		u.ClaimedBy == nil && u.ClaimedAt == nil && !u.ClearClaim &&
		u.ParentWorktree == nil && u.ParentSession == nil && u.AddChild == nil &&
		u.CurrentStage == nil && u.SpawnedAt == nil && u.CompletedAt == nil &&
		u.MergeStatus == nil && u.AppendLog == nil && u.AppendCheckpoint == nil &&
		u.AppendTransition == nil
}

// AddWorktree inserts the entry. Inserting a name that already exists is
// a no-op, so retried provisioning stays idempotent.
func (s *Store) AddWorktree(entry models.WorktreeEntry) error {
	if entry.Name == "" {
		return fmt.Errorf("worktree entry requires a name")
	}
	return s.mutate(func(state *models.WorktreeState) (bool, error) {
		if state.Find(entry.Name) != nil {
			return false, nil
		}
		if entry.MergeStatus == "" {
			entry.MergeStatus = models.MergeStatusPending
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		state.Worktrees = append(state.Worktrees, entry)
		return true, nil
	})
}

// UpdateWorktree applies the present fields of upd to the named entry.
// No-op when the entry does not exist or the update carries no fields.
func (s *Store) UpdateWorktree(name string, upd WorktreeUpdate) error {
	if upd.empty() {
		return nil
	}
	return s.mutate(func(state *models.WorktreeState) (bool, error) {
		entry := state.Find(name)
		if entry == nil {
			return false, nil
		}
		applyUpdate(entry, upd)
		return true, nil
	})
}

// MutateWorktree runs fn against the named entry inside the locked
// read-modify-write cycle, making check-then-update sequences atomic
// against concurrent writers. fn inspects the current entry and returns
// the update to apply; an error aborts the cycle without writing and is
// returned unchanged. A missing entry yields ErrNotFound.
func (s *Store) MutateWorktree(name string, fn func(entry *models.WorktreeEntry) (WorktreeUpdate, error)) error {
	return s.mutate(func(state *models.WorktreeState) (bool, error) {
		entry := state.Find(name)
		if entry == nil {
			return false, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		upd, err := fn(entry)
		if err != nil {
			return false, err
		}
		if upd.empty() {
			return false, nil
		}
		applyUpdate(entry, upd)
		return true, nil
	})
}

func applyUpdate(entry *models.WorktreeEntry, upd WorktreeUpdate) {
	if upd.Branch != nil {
		entry.Branch = *upd.Branch
	}
	if upd.LinkedIssue != nil {
		entry.LinkedIssue = *upd.LinkedIssue
	}
	if upd.IssueProvider != nil {
		entry.IssueProvider = *upd.IssueProvider
	}
	if upd.ClaimedBy != nil && upd.ClaimedAt != nil {
		entry.ClaimedBy = *upd.ClaimedBy
		at := *upd.ClaimedAt
		entry.ClaimedAt = &at
	}
	if upd.ClearClaim {
		entry.ClaimedBy = ""
		entry.ClaimedAt = nil
	}
	if upd.ParentWorktree != nil {
		entry.ParentWorktree = *upd.ParentWorktree
	}
	if upd.ParentSession != nil {
		entry.ParentSession = *upd.ParentSession
	}
	if upd.AddChild != nil {
		entry.ChildWorktrees = appendUnique(entry.ChildWorktrees, *upd.AddChild)
	}
	if upd.CurrentStage != nil {
		entry.CurrentStage = *upd.CurrentStage
	}
	if upd.SpawnedAt != nil {
		at := *upd.SpawnedAt
		entry.SpawnedAt = &at
	}
	if upd.CompletedAt != nil {
		at := *upd.CompletedAt
		entry.CompletedAt = &at
	}
	if upd.MergeStatus != nil {
		entry.MergeStatus = *upd.MergeStatus
	}
	if upd.AppendLog != nil {
		entry.Logs = append(entry.Logs, *upd.AppendLog)
	}
	if upd.AppendCheckpoint != nil {
		entry.Checkpoints = append(entry.Checkpoints, *upd.AppendCheckpoint)
	}
	if upd.AppendTransition != nil {
		entry.StageHistory = append(entry.StageHistory, *upd.AppendTransition)
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// RemoveWorktree filters out the named entry. No-op if absent.
func (s *Store) RemoveWorktree(name string) error {
	return s.mutate(func(state *models.WorktreeState) (bool, error) {
		kept := state.Worktrees[:0]
		removed := false
		for _, entry := range state.Worktrees {
			if entry.Name == name {
				removed = true
				continue
			}
			kept = append(kept, entry)
		}
		state.Worktrees = kept
		return removed, nil
	})
}

// Orphans returns the names of entries whose worktree directory no
// longer exists on disk. The state entry outlives a manually deleted
// worktree; clean prunes these.
func (s *Store) Orphans() []string {
	var names []string
	for _, entry := range s.GetState().Worktrees {
		if _, err := os.Stat(s.WorktreePath(entry.Name)); os.IsNotExist(err) {
			names = append(names, entry.Name)
		}
	}
	return names
}

// mutate runs one read-modify-write cycle under the advisory lock.
// fn returns false to skip the write when nothing changed; an error
// also skips the write and propagates to the caller.
func (s *Store) mutate(fn func(state *models.WorktreeState) (bool, error)) error {
	if err := os.MkdirAll(s.BaseDir(), dirMode); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	lock, err := acquireLock(s.lockPath())
	if err != nil {
		return fmt.Errorf("lock state document: %w", err)
	}
	defer lock.release()

	state, _ := readState(s.StatePath())
	changed, err := fn(&state)
	if err != nil || !changed {
		return err
	}
	return writeStateAtomic(s.StatePath(), state)
}

// writeStateAtomic serializes the document to a temp file in the same
// directory and renames it over the real path.
func writeStateAtomic(path string, state models.WorktreeState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state document: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
