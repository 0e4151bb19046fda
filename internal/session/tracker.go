package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kraitsura/grimoire/internal/models"
)

// FileName is the per-worktree session record. It lives inside the
// worktree directory, outside the shared state document, so agents
// updating their own session never contend on the repository state.
const FileName = ".grim-session.json"

// Tracker reads and writes per-worktree agent session records and
// performs PID liveness probing.
type Tracker struct{}

// NewTracker returns a Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

func sessionPath(worktreePath string) string {
	return filepath.Join(worktreePath, FileName)
}

// CreateOptions carries the fields recorded when a process is spawned.
type CreateOptions struct {
	SessionID  string
	PID        int
	Mode       models.SessionMode
	Prompt     string
	LogFile    string
	TmuxWindow string
}

// Create writes a fresh running session record for the worktree.
func (t *Tracker) Create(worktreePath string, opts CreateOptions) (*models.AgentSession, error) {
	sess := &models.AgentSession{
		SessionID:  opts.SessionID,
		PID:        opts.PID,
		Mode:       opts.Mode,
		StartedAt:  time.Now().UTC(),
		Status:     models.SessionStatusRunning,
		Prompt:     opts.Prompt,
		LogFile:    opts.LogFile,
		TmuxWindow: opts.TmuxWindow,
	}
	if err := writeSession(sessionPath(worktreePath), sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the session record, or nil if the worktree has none.
func (t *Tracker) Get(worktreePath string) (*models.AgentSession, error) {
	data, err := os.ReadFile(sessionPath(worktreePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var sess models.AgentSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return &sess, nil
}

// Update is an explicit partial update of the session record.
// Only non-nil fields are applied.
type Update struct {
	Status   *models.SessionStatus
	EndedAt  *time.Time
	ExitCode *int
	LogFile  *string
	Prompt   *string
}

// Update applies the present fields. Missing or unparsable session files
// make this a no-op returning nil, matching the tolerant read contract.
func (t *Tracker) Update(worktreePath string, upd Update) (*models.AgentSession, error) {
	sess, err := t.Get(worktreePath)
	if err != nil || sess == nil {
		return nil, nil
	}
	if upd.Status != nil {
		sess.Status = *upd.Status
	}
	if upd.EndedAt != nil {
		at := *upd.EndedAt
		sess.EndedAt = &at
	}
	if upd.ExitCode != nil {
		code := *upd.ExitCode
		sess.ExitCode = &code
	}
	if upd.LogFile != nil {
		sess.LogFile = *upd.LogFile
	}
	if upd.Prompt != nil {
		sess.Prompt = *upd.Prompt
	}
	if err := writeSession(sessionPath(worktreePath), sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// RefreshStatus reconciles the recorded status with actual PID liveness.
// Terminal statuses are returned unchanged. A session that still claims
// running while its PID is dead transitions to crashed with EndedAt set.
// This is the only place liveness healing happens; callers needing a
// session's true status go through here, not the raw file.
func (t *Tracker) RefreshStatus(worktreePath string) (*models.AgentSession, error) {
	sess, err := t.Get(worktreePath)
	if err != nil || sess == nil {
		return sess, err
	}
	if sess.Status.Terminal() {
		return sess, nil
	}
	if sess.Status == models.SessionStatusRunning && !IsPidAlive(sess.PID) {
		now := time.Now().UTC()
		sess.Status = models.SessionStatusCrashed
		sess.EndedAt = &now
		if err := writeSession(sessionPath(worktreePath), sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// Remove deletes the session file, tolerating its absence.
func (t *Tracker) Remove(worktreePath string) error {
	err := os.Remove(sessionPath(worktreePath))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// writeSession rewrites the record atomically so a concurrent reader
// never sees a torn file.
func writeSession(path string, sess *models.AgentSession) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}
