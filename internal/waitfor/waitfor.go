package waitfor

import (
	"time"

	"github.com/kraitsura/grimoire/internal/models"
	"github.com/kraitsura/grimoire/internal/session"
	"github.com/kraitsura/grimoire/internal/state"
)

// Quantifier selects how many targets must finish before Wait returns.
type Quantifier string

const (
	All Quantifier = "all"
	Any Quantifier = "any"
)

// Outcome is the terminal classification of one waited-on worktree.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeCompleted Outcome = "completed"
	OutcomeCrashed   Outcome = "crashed"
	OutcomeTimeout   Outcome = "timeout"
)

// TargetResult is the final outcome for one target worktree.
type TargetResult struct {
	Name    string  `json:"worktree"`
	Outcome Outcome `json:"outcome"`
}

// Result is the outcome of one wait invocation.
type Result struct {
	Targets   []TargetResult `json:"targets"`
	NoTargets bool           `json:"noTargets,omitempty"`
	Elapsed   time.Duration  `json:"-"`
}

// Failed reports whether the invocation should exit nonzero: any target
// that crashed or timed out fails the whole wait.
func (r *Result) Failed() bool {
	for _, t := range r.Targets {
		if t.Outcome == OutcomeCrashed || t.Outcome == OutcomeTimeout {
			return true
		}
	}
	return false
}

// DefaultPollInterval is the sleep between liveness sweeps. The wait
// engine is a cooperative polling loop, not event-driven.
const DefaultPollInterval = 2 * time.Second

// Engine polls the session tracker and state store until a quantifier
// over the target set is satisfied or the deadline passes.
type Engine struct {
	store        *state.Store
	tracker      *session.Tracker
	PollInterval time.Duration
}

// NewEngine creates a wait engine over the given store and tracker.
func NewEngine(s *state.Store, t *session.Tracker) *Engine {
	return &Engine{store: s, tracker: t, PollInterval: DefaultPollInterval}
}

// Wait blocks until the quantifier is satisfied over targets, or until
// timeout elapses (zero means wait forever). An empty target set returns
// immediately with NoTargets set rather than blocking.
func (e *Engine) Wait(targets []string, q Quantifier, timeout time.Duration) (*Result, error) {
	if len(targets) == 0 {
		return &Result{NoTargets: true}, nil
	}

	outcomes := make(map[string]Outcome, len(targets))
	for _, name := range targets {
		outcomes[name] = OutcomeRunning
	}

	start := time.Now()
	for {
		for _, name := range targets {
			if outcomes[name] != OutcomeRunning {
				continue
			}
			outcomes[name] = e.classify(name)
		}

		running := 0
		finished := 0
		for _, o := range outcomes {
			if o == OutcomeRunning {
				running++
			} else {
				finished++
			}
		}

		if running == 0 {
			break
		}
		if q == Any && finished > 0 {
			break
		}
		if timeout > 0 && time.Since(start) >= timeout {
			for name, o := range outcomes {
				if o == OutcomeRunning {
					outcomes[name] = OutcomeTimeout
				}
			}
			break
		}

		time.Sleep(e.PollInterval)
	}

	result := &Result{Elapsed: time.Since(start)}
	for _, name := range targets {
		result.Targets = append(result.Targets, TargetResult{Name: name, Outcome: outcomes[name]})
	}
	return result, nil
}

// classify inspects one target's session (through the healing refresh
// path) and falls back to the state document when no session exists.
func (e *Engine) classify(name string) Outcome {
	wtPath := e.store.WorktreePath(name)
	sess, err := e.tracker.RefreshStatus(wtPath)
	if err == nil && sess != nil {
		switch sess.Status {
		case models.SessionStatusStopped:
			return OutcomeCompleted
		case models.SessionStatusCrashed:
			return OutcomeCrashed
		case models.SessionStatusRunning:
			// RefreshStatus heals dead PIDs, so a running status here
			// means the process really is alive.
			if !session.IsPidAlive(sess.PID) {
				return OutcomeCrashed
			}
			return OutcomeRunning
		default:
			return OutcomeRunning
		}
	}

	// No session recorded: a non-pending merge status is the only other
	// signal that the work finished.
	st := e.store.GetState()
	if entry := st.Find(name); entry != nil && entry.MergeStatus != models.MergeStatusPending {
		return OutcomeCompleted
	}
	return OutcomeRunning
}

// DeriveTargets returns the names of worktrees whose parent back-references
// match the given worktree name or session ID, for the implicit target set.
func DeriveTargets(st models.WorktreeState, parentWorktree, parentSession string) []string {
	var names []string
	for _, entry := range st.Worktrees {
		if parentWorktree != "" && entry.ParentWorktree == parentWorktree {
			names = append(names, entry.Name)
			continue
		}
		if parentSession != "" && entry.ParentSession == parentSession {
			names = append(names, entry.Name)
		}
	}
	return names
}
