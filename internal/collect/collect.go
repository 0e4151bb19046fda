package collect

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/kraitsura/grimoire/internal/gitx"
	"github.com/kraitsura/grimoire/internal/models"
	"github.com/kraitsura/grimoire/internal/session"
	"github.com/kraitsura/grimoire/internal/state"
)

// Strategy selects how a completed branch is folded into the current one
// when auto-rebase is disabled.
type Strategy string

const (
	StrategyMerge  Strategy = "merge"
	StrategyRebase Strategy = "rebase"
	StrategySquash Strategy = "squash"
)

// Status classifies the outcome for one collected worktree.
type Status string

const (
	StatusMerged     Status = "merged"
	StatusConflict   Status = "conflict"
	StatusSkipped    Status = "skipped"
	StatusNotReady   Status = "not-ready"
	StatusWouldMerge Status = "would-merge"
)

// EntryResult is the per-worktree outcome of a collect run.
type EntryResult struct {
	Worktree      string   `json:"worktree"`
	Branch        string   `json:"branch"`
	Status        Status   `json:"status"`
	Reason        string   `json:"reason,omitempty"`
	ConflictFiles []string `json:"conflictFiles,omitempty"`
	Commits       []string `json:"commits,omitempty"`
}

// Summary is the batch outcome. Any conflict makes the run a failure.
type Summary struct {
	Target   string        `json:"target"`
	Results  []EntryResult `json:"results"`
	Merged   int           `json:"merged"`
	Conflict int           `json:"conflict"`
	Skipped  int           `json:"skipped"`
	NotReady int           `json:"notReady"`
	DryRun   bool          `json:"dryRun,omitempty"`
}

// Failed reports whether the collect invocation should exit nonzero.
func (s *Summary) Failed() bool {
	return s.Conflict > 0
}

// Options configures a collect run.
type Options struct {
	// Names are explicitly requested worktrees; explicit intent
	// overrides the completion predicate.
	Names []string
	// ParentWorktree/ParentSession identify the invoking context for
	// implicit target derivation.
	ParentWorktree string
	ParentSession  string
	DryRun         bool
	// AutoRebase rebases each child onto the target tip before a
	// fast-forward-only merge. Default on; disabled by --no-rebase.
	AutoRebase bool
	Strategy   Strategy
	// Delete removes the worktree (and entry) after a verified merge;
	// DeleteBranch also removes the branch ref.
	Delete       bool
	DeleteBranch bool
	// Force allows ancestry detection off the main branch.
	Force bool
	// MainBranches are the branch names collection normally runs from.
	MainBranches []string
}

// Logger is the minimal progress surface the engine reports through.
type Logger interface {
	Info(format string, a ...any)
	Warning(format string, a ...any)
	VerboseLog(format string, a ...any)
}

// Engine reconciles completed child worktree branches back into the
// current branch: completion detection, spawn-order processing, a
// rebase-then-fast-forward protocol, conflict handling, and per-entry
// state persistence so a crash mid-batch leaves recorded progress.
type Engine struct {
	store    *state.Store
	tracker  *session.Tracker
	git      gitx.Client
	repoRoot string
	log      Logger
}

// NewEngine creates a collect engine rooted at repoRoot.
func NewEngine(s *state.Store, t *session.Tracker, g gitx.Client, repoRoot string, log Logger) *Engine {
	return &Engine{store: s, tracker: t, git: g, repoRoot: repoRoot, log: log}
}

// Run executes the full collect protocol and returns the batch summary.
// Precondition failures (no resolvable targets, ambiguous ancestry)
// return an error before any git or state mutation.
func (e *Engine) Run(opts Options) (*Summary, error) {
	currentBranch, err := e.git.CurrentBranch(e.repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve current branch: %w", err)
	}

	st := e.store.GetState()
	targets, err := e.resolveTargets(st, currentBranch, opts)
	if err != nil {
		return nil, err
	}

	explicit := make(map[string]bool, len(opts.Names))
	for _, name := range opts.Names {
		explicit[name] = true
	}

	// Earlier-spawned work reconciles first. Entries without a spawn
	// time sort by creation time, after all spawned ones.
	sort.SliceStable(targets, func(i, j int) bool {
		ti, tj := targets[i].SpawnedAt, targets[j].SpawnedAt
		switch {
		case ti != nil && tj != nil:
			return ti.Before(*tj)
		case ti != nil:
			return true
		case tj != nil:
			return false
		}
		return targets[i].CreatedAt.Before(targets[j].CreatedAt)
	})

	summary := &Summary{Target: currentBranch, DryRun: opts.DryRun}
	for _, entry := range targets {
		res := e.processEntry(entry, currentBranch, explicit[entry.Name], opts)
		summary.Results = append(summary.Results, res)
		switch res.Status {
		case StatusMerged, StatusWouldMerge:
			summary.Merged++
		case StatusConflict:
			summary.Conflict++
		case StatusNotReady:
			summary.NotReady++
		default:
			summary.Skipped++
		}
	}
	return summary, nil
}

// resolveTargets picks the worktree set in priority order: explicit
// names, then parent-context back-references, then git-ancestry
// detection as a last resort.
func (e *Engine) resolveTargets(st models.WorktreeState, currentBranch string, opts Options) ([]models.WorktreeEntry, error) {
	if len(opts.Names) > 0 {
		var targets []models.WorktreeEntry
		for _, name := range opts.Names {
			entry := st.Find(name)
			if entry == nil {
				return nil, fmt.Errorf("worktree not found: %s", name)
			}
			targets = append(targets, *entry)
		}
		return targets, nil
	}

	if opts.ParentWorktree != "" || opts.ParentSession != "" {
		var targets []models.WorktreeEntry
		for _, entry := range st.Worktrees {
			if (opts.ParentWorktree != "" && entry.ParentWorktree == opts.ParentWorktree) ||
				(opts.ParentSession != "" && entry.ParentSession == opts.ParentSession) {
				targets = append(targets, entry)
			}
		}
		if len(targets) > 0 {
			return targets, nil
		}
	}

	return e.detectByAncestry(st, currentBranch, opts)
}

// detectByAncestry scans tracked entries for branches descended from the
// current branch with new commits, filtered by creation time so stale
// branches sharing ancestry don't get swept in.
func (e *Engine) detectByAncestry(st models.WorktreeState, currentBranch string, opts Options) ([]models.WorktreeEntry, error) {
	for _, entry := range st.Worktrees {
		if entry.Branch == currentBranch {
			return nil, fmt.Errorf("current branch %s is itself a tracked worktree branch; "+
				"name the worktrees to collect explicitly", currentBranch)
		}
	}

	if !onMainBranch(currentBranch, opts.MainBranches) && !opts.Force {
		return nil, fmt.Errorf("refusing ancestry detection on branch %s (not %v); "+
			"pass worktree names or --force to override", currentBranch, opts.MainBranches)
	}

	tipTime, err := e.git.CommitTime(e.repoRoot, currentBranch)
	if err != nil {
		return nil, fmt.Errorf("read tip commit time: %w", err)
	}

	var targets []models.WorktreeEntry
	for _, entry := range st.Worktrees {
		exists, err := e.git.BranchExists(e.repoRoot, entry.Branch)
		if err != nil || !exists {
			continue
		}
		descendant, err := e.git.IsAncestor(e.repoRoot, currentBranch, entry.Branch)
		if err != nil || !descendant {
			continue
		}
		commits, err := e.git.CommitsAhead(e.repoRoot, currentBranch, entry.Branch)
		if err != nil || len(commits) == 0 {
			continue
		}
		// Temporal sanity filter: an old branch that happens to share
		// ancestry is not a child of this tip.
		if entry.CreatedAt.Before(tipTime) {
			continue
		}
		targets = append(targets, entry)
	}
	return targets, nil
}

func onMainBranch(branch string, mains []string) bool {
	if len(mains) == 0 {
		mains = []string{"main", "master"}
	}
	for _, m := range mains {
		if branch == m {
			return true
		}
	}
	return false
}

// isCompleted is the eligibility predicate: any one signal marks the
// entry collectable. An explicitly named worktree is always eligible.
func (e *Engine) isCompleted(entry models.WorktreeEntry, explicit bool) bool {
	if explicit {
		return true
	}
	if entry.MergeStatus == models.MergeStatusReady || entry.MergeStatus == models.MergeStatusMerged {
		return true
	}
	if entry.CompletedAt != nil {
		return true
	}
	sess, err := e.tracker.Get(e.store.WorktreePath(entry.Name))
	if err == nil && sess != nil {
		if sess.Status.Terminal() {
			return true
		}
		if sess.Status == models.SessionStatusRunning && !session.IsPidAlive(sess.PID) {
			return true
		}
	}
	return false
}

// processEntry runs the per-entry protocol. Failures are recorded in the
// result and the loop continues; only dry-run skips all mutation.
func (e *Engine) processEntry(entry models.WorktreeEntry, currentBranch string, explicit bool, opts Options) EntryResult {
	res := EntryResult{Worktree: entry.Name, Branch: entry.Branch}
	wtPath := e.store.WorktreePath(entry.Name)

	if _, err := os.Stat(wtPath); os.IsNotExist(err) {
		res.Status = StatusSkipped
		res.Reason = "worktree directory no longer exists"
		return res
	}
	if entry.MergeStatus.Terminal() {
		res.Status = StatusSkipped
		res.Reason = "already merged"
		return res
	}
	if !e.isCompleted(entry, explicit) {
		res.Status = StatusNotReady
		res.Reason = "agent still running and no completion signal"
		return res
	}

	commits, err := e.git.CommitsAhead(e.repoRoot, currentBranch, entry.Branch)
	if err != nil {
		res.Status = StatusSkipped
		res.Reason = fmt.Sprintf("inspect commits: %v", err)
		return res
	}
	if len(commits) == 0 {
		res.Status = StatusSkipped
		res.Reason = "already up to date"
		return res
	}

	// A previous collect may have left the child mid-rebase on purpose.
	// Report the same conflict instead of stacking a new rebase on top.
	if conflictFiles, err := e.git.ConflictFiles(wtPath); err == nil && len(conflictFiles) > 0 {
		res.Status = StatusConflict
		res.Reason = "unresolved conflict from a previous collect"
		res.ConflictFiles = conflictFiles
		return res
	}

	if opts.DryRun {
		res.Status = StatusWouldMerge
		res.Commits = commits
		return res
	}

	if opts.AutoRebase {
		if done, conflictRes := e.rebaseChild(entry, wtPath, currentBranch); !done {
			return conflictRes
		}
	}

	return e.mergeChild(entry, wtPath, currentBranch, opts)
}

// rebaseChild replays the child branch onto the current tip. A clean
// child worktree rebases in place so conflicts stay live there for the
// owning agent to resolve. A dirty child is detached and the branch ref
// rebased from the collecting context, with the checkout restored on
// every exit path.
func (e *Engine) rebaseChild(entry models.WorktreeEntry, wtPath, currentBranch string) (bool, EntryResult) {
	res := EntryResult{Worktree: entry.Name, Branch: entry.Branch}

	if err := e.git.Fetch(e.repoRoot); err != nil {
		e.log.VerboseLog("fetch before rebase: %v", err)
	}

	dirty, err := e.git.IsDirty(wtPath)
	if err != nil {
		res.Status = StatusSkipped
		res.Reason = fmt.Sprintf("inspect worktree: %v", err)
		return false, res
	}

	if !dirty {
		gitErr := e.git.Rebase(wtPath, currentBranch)
		if gitErr == nil {
			return true, res
		}
		if gitErr.IsConflict() {
			// Leave the rebase stopped in the child worktree: the agent
			// that owns it resolves in place and re-invokes collect.
			files, _ := e.git.ConflictFiles(wtPath)
			e.recordConflict(entry.Name, files)
			res.Status = StatusConflict
			res.Reason = "rebase conflict, left unresolved in worktree"
			res.ConflictFiles = files
			return false, res
		}
		_ = e.git.RebaseAbort(wtPath)
		res.Status = StatusSkipped
		res.Reason = fmt.Sprintf("rebase failed: %v", gitErr)
		return false, res
	}

	// Dirty child worktree: rebase the branch ref from the collecting
	// context, which requires the branch not to be checked out there.
	guard, err := acquireDetach(e.git, wtPath, entry.Branch)
	if err != nil {
		res.Status = StatusSkipped
		res.Reason = fmt.Sprintf("detach worktree: %v", err)
		return false, res
	}
	defer func() {
		if err := guard.Release(); err != nil {
			e.log.Warning("restore %s: %v", entry.Name, err)
		}
	}()

	gitErr := e.git.RebaseBranch(e.repoRoot, currentBranch, entry.Branch)
	if gitErr != nil {
		files, _ := e.git.ConflictFiles(e.repoRoot)
		_ = e.git.RebaseAbort(e.repoRoot)
		_ = e.git.Checkout(e.repoRoot, currentBranch)
		if gitErr.IsConflict() {
			e.recordConflict(entry.Name, files)
			res.Status = StatusConflict
			res.Reason = "rebase conflict (child worktree was dirty, rebase aborted)"
			res.ConflictFiles = files
			return false, res
		}
		res.Status = StatusSkipped
		res.Reason = fmt.Sprintf("rebase failed: %v", gitErr)
		return false, res
	}
	// The from-context rebase leaves the collecting root on the child
	// branch; return to the target before merging.
	if err := e.git.Checkout(e.repoRoot, currentBranch); err != nil {
		res.Status = StatusSkipped
		res.Reason = fmt.Sprintf("restore target branch: %v", err)
		return false, res
	}
	return true, res
}

// mergeChild folds the (possibly rebased) child branch into the current
// branch and verifies HEAD actually advanced before recording a merge.
func (e *Engine) mergeChild(entry models.WorktreeEntry, wtPath, currentBranch string, opts Options) EntryResult {
	res := EntryResult{Worktree: entry.Name, Branch: entry.Branch}

	before, err := e.git.RevParse(e.repoRoot, "HEAD")
	if err != nil {
		res.Status = StatusSkipped
		res.Reason = fmt.Sprintf("read HEAD: %v", err)
		return res
	}

	var gitErr *gitx.GitError
	switch {
	case opts.AutoRebase:
		// The rebase already replayed the child onto the tip, so the
		// merge must be a pure fast-forward.
		gitErr = e.git.MergeFFOnly(e.repoRoot, entry.Branch)
	case opts.Strategy == StrategySquash:
		gitErr = e.git.MergeSquash(e.repoRoot, entry.Branch)
		if gitErr == nil {
			if err := e.git.Commit(e.repoRoot, fmt.Sprintf("squash %s into %s", entry.Branch, currentBranch)); err != nil {
				res.Status = StatusSkipped
				res.Reason = fmt.Sprintf("squash commit: %v", err)
				return res
			}
		}
	default:
		gitErr = e.git.Merge(e.repoRoot, entry.Branch,
			fmt.Sprintf("merge %s into %s", entry.Branch, currentBranch))
	}

	if gitErr != nil {
		if gitErr.IsConflict() {
			files, _ := e.git.ConflictFiles(e.repoRoot)
			_ = e.git.MergeAbort(e.repoRoot)
			e.recordConflict(entry.Name, files)
			res.Status = StatusConflict
			res.Reason = "merge conflict"
			res.ConflictFiles = files
			return res
		}
		res.Status = StatusSkipped
		res.Reason = fmt.Sprintf("merge failed: %v", gitErr)
		return res
	}

	after, err := e.git.RevParse(e.repoRoot, "HEAD")
	if err != nil || after == before {
		// A "success" that moved nothing is never recorded as merged.
		e.log.Warning("merge of %s reported success but HEAD did not move", entry.Branch)
		res.Status = StatusSkipped
		res.Reason = "merge did not advance HEAD"
		return res
	}

	e.recordMerged(entry.Name, currentBranch)
	res.Status = StatusMerged

	if opts.Delete {
		if err := e.git.WorktreeRemove(e.repoRoot, wtPath, true); err != nil {
			e.log.Warning("remove worktree %s: %v", entry.Name, err)
		}
		if opts.DeleteBranch {
			if err := e.git.BranchDelete(e.repoRoot, entry.Branch, true); err != nil {
				e.log.Warning("delete branch %s: %v", entry.Branch, err)
			}
		}
		if err := e.store.RemoveWorktree(entry.Name); err != nil {
			e.log.Warning("remove entry %s: %v", entry.Name, err)
		}
	}
	return res
}

// recordConflict persists the conflict outcome immediately so a crash
// mid-batch leaves correct partial progress.
func (e *Engine) recordConflict(name string, files []string) {
	status := models.MergeStatusConflict
	now := time.Now().UTC()
	err := e.store.UpdateWorktree(name, state.WorktreeUpdate{
		MergeStatus: &status,
		AppendLog: &models.LogEntry{
			Time:    now,
			Message: fmt.Sprintf("collect hit a conflict (%d files)", len(files)),
			Author:  "grim",
			Type:    models.LogTypeLog,
		},
	})
	if err != nil {
		e.log.Warning("record conflict for %s: %v", name, err)
	}
}

func (e *Engine) recordMerged(name, target string) {
	status := models.MergeStatusMerged
	now := time.Now().UTC()
	err := e.store.UpdateWorktree(name, state.WorktreeUpdate{
		MergeStatus: &status,
		CompletedAt: &now,
		AppendLog: &models.LogEntry{
			Time:    now,
			Message: fmt.Sprintf("collected into %s", target),
			Author:  "grim",
			Type:    models.LogTypeLog,
		},
	})
	if err != nil {
		e.log.Warning("record merge for %s: %v", name, err)
	}
}
