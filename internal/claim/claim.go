package claim

import (
	"fmt"
	"time"

	"github.com/kraitsura/grimoire/internal/issues"
	"github.com/kraitsura/grimoire/internal/models"
	"github.com/kraitsura/grimoire/internal/state"
)

// ConflictError reports a claim attempt on a worktree another identity
// already holds.
type ConflictError struct {
	Name   string
	Holder string
	Age    time.Duration
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("worktree %s is claimed by %s (%s ago); use --force to override",
		e.Name, e.Holder, e.Age.Round(time.Second))
}

// Coordinator implements the advisory claim/release protocol on top of
// the state store. A claim is a soft marker, not a lock: it can always
// be overridden with force.
type Coordinator struct {
	store    *state.Store
	notifier issues.Notifier
}

// NewCoordinator creates a Coordinator. notifier may be nil.
func NewCoordinator(s *state.Store, n issues.Notifier) *Coordinator {
	return &Coordinator{store: s, notifier: n}
}

// Claim marks the worktree as owned by identity. If another identity
// holds it and force is false, a *ConflictError is returned and the
// state is untouched. The conflict check and the write run inside one
// locked cycle, so two racing claimants can never both win.
func (c *Coordinator) Claim(name, identity string, force bool) error {
	return c.store.MutateWorktree(name, func(entry *models.WorktreeEntry) (state.WorktreeUpdate, error) {
		if entry.ClaimedBy != "" && entry.ClaimedBy != identity && !force {
			age := time.Duration(0)
			if entry.ClaimedAt != nil {
				age = time.Since(*entry.ClaimedAt)
			}
			return state.WorktreeUpdate{}, &ConflictError{Name: name, Holder: entry.ClaimedBy, Age: age}
		}

		now := time.Now().UTC()
		message := fmt.Sprintf("claimed by %s", identity)
		if entry.ClaimedBy != "" && entry.ClaimedBy != identity {
			message = fmt.Sprintf("claim overridden: %s took over from %s", identity, entry.ClaimedBy)
		}

		return state.WorktreeUpdate{
			ClaimedBy: &identity,
			ClaimedAt: &now,
			AppendLog: &models.LogEntry{
				Time:    now,
				Message: message,
				Author:  identity,
				Type:    models.LogTypeLog,
			},
		}, nil
	})
}

// ReleaseOptions configures how a release is recorded.
type ReleaseOptions struct {
	Identity  string
	Note      string
	Reason    string
	NextStage string
}

// Release clears the claim pair and appends a log entry describing the
// release: interrupt when a reason is given, handoff when a next stage
// is given, plain log otherwise. A valid NextStage also records a stage
// transition, reading the outgoing stage inside the same locked cycle
// that writes it. The linked-issue notification afterwards is
// best-effort and can never fail the release.
func (c *Coordinator) Release(name string, opts ReleaseOptions) error {
	var linkedIssue string
	var provider models.IssueProvider

	err := c.store.MutateWorktree(name, func(entry *models.WorktreeEntry) (state.WorktreeUpdate, error) {
		linkedIssue = entry.LinkedIssue
		provider = entry.IssueProvider

		now := time.Now().UTC()
		logType := models.LogTypeLog
		switch {
		case opts.Reason != "":
			logType = models.LogTypeInterrupt
		case opts.NextStage != "":
			logType = models.LogTypeHandoff
		}

		message := opts.Note
		if message == "" {
			message = "released"
		}

		logEntry := &models.LogEntry{
			Time:    now,
			Message: message,
			Author:  opts.Identity,
			Type:    logType,
		}
		if opts.Reason != "" || opts.NextStage != "" {
			logEntry.Metadata = &models.LogMetadata{
				NextStage: opts.NextStage,
				Reason:    opts.Reason,
			}
		}

		upd := state.WorktreeUpdate{
			ClearClaim: true,
			AppendLog:  logEntry,
		}

		if models.ValidStage(opts.NextStage) {
			next := models.Stage(opts.NextStage)
			upd.CurrentStage = &next
			upd.AppendTransition = &models.StageTransition{
				From:  string(entry.CurrentStage),
				To:    opts.NextStage,
				Time:  now,
				Agent: opts.Identity,
			}
		}
		return upd, nil
	})
	if err != nil {
		return err
	}

	if c.notifier != nil && linkedIssue != "" {
		status := fmt.Sprintf("worktree %s released", name)
		if opts.NextStage != "" {
			status = fmt.Sprintf("worktree %s handed off to stage %s", name, opts.NextStage)
		} else if opts.Reason != "" {
			status = fmt.Sprintf("worktree %s interrupted: %s", name, opts.Reason)
		}
		// Fire and forget; tracker outages must not block a release.
		_ = c.notifier.Notify(provider, linkedIssue, status)
	}

	return nil
}
