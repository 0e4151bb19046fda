package gitx

import (
	"fmt"
	"strings"
	"time"

	"github.com/kraitsura/grimoire/internal/run"
)

// WorktreeInfo holds parsed worktree metadata from `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path     string
	Branch   string
	HEAD     string
	Detached bool
}

// Client defines the git operations the orchestration core needs.
// All methods take a path since grim operates on multiple worktrees.
type Client interface {
	RepoRoot(path string) (string, error)
	CurrentBranch(path string) (string, error)
	RevParse(path, ref string) (string, error)
	BranchExists(path, branch string) (bool, error)
	BranchDelete(path, branch string, force bool) error
	IsAncestor(path, ancestor, descendant string) (bool, error)
	CommitTime(path, ref string) (time.Time, error)
	CommitsAhead(path, base, branch string) ([]string, error)
	IsDirty(path string) (bool, error)
	WorktreeList(path string) ([]WorktreeInfo, error)
	WorktreeAdd(path, wtPath, branch, base string, newBranch bool) error
	WorktreeRemove(path, wtPath string, force bool) error
	WorktreePrune(path string) error
	Checkout(path, ref string) error
	DetachHead(path string) error
	Fetch(path string) error
	Rebase(path, onto string) *GitError
	RebaseBranch(path, upstream, branch string) *GitError
	RebaseAbort(path string) error
	MergeFFOnly(path, branch string) *GitError
	Merge(path, branch, message string) *GitError
	MergeSquash(path, branch string) *GitError
	MergeAbort(path string) error
	Commit(path, message string) error
	ConflictFiles(path string) ([]string, error)
}

// GitError wraps a failed git invocation with enough context to classify
// conflicts separately from other failures.
type GitError struct {
	Op       string
	Output   string
	ExitCode int
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s: %s", e.Op, strings.TrimSpace(e.Output))
}

// IsConflict reports whether the failure looks like a content conflict.
func (e *GitError) IsConflict() bool {
	out := strings.ToLower(e.Output)
	return strings.Contains(out, "conflict") ||
		strings.Contains(out, "could not apply") ||
		strings.Contains(out, "needs merge")
}

// RealClient implements Client by shelling out to the git binary.
type RealClient struct {
	runner run.Runner
}

// NewClient returns a RealClient using the default process runner.
func NewClient() *RealClient {
	return &RealClient{runner: run.NewRunner()}
}

// NewClientWithRunner returns a RealClient using the given runner.
func NewClientWithRunner(r run.Runner) *RealClient {
	return &RealClient{runner: r}
}

func (c *RealClient) git(path string, args ...string) (string, error) {
	res := c.runner.Run(path, "git", args...)
	if !res.Ok() {
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), res.ErrorText())
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (c *RealClient) gitErr(path, op string, args ...string) *GitError {
	res := c.runner.Run(path, "git", args...)
	if res.Ok() {
		return nil
	}
	return &GitError{Op: op, Output: res.Stderr + res.Stdout, ExitCode: res.ExitCode}
}

func (c *RealClient) RepoRoot(path string) (string, error) {
	return c.git(path, "rev-parse", "--show-toplevel")
}

func (c *RealClient) CurrentBranch(path string) (string, error) {
	return c.git(path, "rev-parse", "--abbrev-ref", "HEAD")
}

func (c *RealClient) RevParse(path, ref string) (string, error) {
	return c.git(path, "rev-parse", ref)
}

func (c *RealClient) BranchExists(path, branch string) (bool, error) {
	res := c.runner.Run(path, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if res.Err != nil {
		return false, fmt.Errorf("git show-ref: %w", res.Err)
	}
	return res.ExitCode == 0, nil
}

func (c *RealClient) BranchDelete(path, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := c.git(path, "branch", flag, branch)
	return err
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (c *RealClient) IsAncestor(path, ancestor, descendant string) (bool, error) {
	res := c.runner.Run(path, "git", "merge-base", "--is-ancestor", ancestor, descendant)
	if res.Err != nil {
		return false, fmt.Errorf("git merge-base: %w", res.Err)
	}
	// Exit 0 means ancestor, 1 means not; anything else is a real error.
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	}
	return false, fmt.Errorf("git merge-base --is-ancestor: %s", res.ErrorText())
}

func (c *RealClient) CommitTime(path, ref string) (time.Time, error) {
	out, err := c.git(path, "log", "-1", "--format=%aI", ref)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, out)
}

// CommitsAhead lists one-line summaries of commits on branch not in base.
func (c *RealClient) CommitsAhead(path, base, branch string) ([]string, error) {
	out, err := c.git(path, "log", "--oneline", base+".."+branch)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (c *RealClient) IsDirty(path string) (bool, error) {
	out, err := c.git(path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (c *RealClient) WorktreeList(path string) ([]WorktreeInfo, error) {
	out, err := c.git(path, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParseWorktreeListPorcelain(out), nil
}

func (c *RealClient) WorktreeAdd(path, wtPath, branch, base string, newBranch bool) error {
	var args []string
	if newBranch {
		args = []string{"worktree", "add", "-b", branch, wtPath, base}
	} else {
		args = []string{"worktree", "add", wtPath, branch}
	}
	_, err := c.git(path, args...)
	return err
}

func (c *RealClient) WorktreeRemove(path, wtPath string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, wtPath)
	_, err := c.git(path, args...)
	return err
}

func (c *RealClient) WorktreePrune(path string) error {
	_, err := c.git(path, "worktree", "prune")
	return err
}

func (c *RealClient) Checkout(path, ref string) error {
	_, err := c.git(path, "checkout", ref)
	return err
}

// DetachHead detaches the worktree at its current commit so the branch
// ref can be manipulated from another checkout.
func (c *RealClient) DetachHead(path string) error {
	_, err := c.git(path, "checkout", "--detach")
	return err
}

func (c *RealClient) Fetch(path string) error {
	res := c.runner.Run(path, "git", "fetch")
	if res.Err != nil {
		return fmt.Errorf("git fetch: %w", res.Err)
	}
	// No remote configured is fine for local-only repos.
	return nil
}

func (c *RealClient) Rebase(path, onto string) *GitError {
	return c.gitErr(path, "rebase", "rebase", onto)
}

// RebaseBranch rebases the named branch onto upstream from the given
// checkout, leaving that checkout's HEAD on branch afterwards.
func (c *RealClient) RebaseBranch(path, upstream, branch string) *GitError {
	return c.gitErr(path, "rebase", "rebase", upstream, branch)
}

func (c *RealClient) RebaseAbort(path string) error {
	_, err := c.git(path, "rebase", "--abort")
	return err
}

func (c *RealClient) MergeFFOnly(path, branch string) *GitError {
	return c.gitErr(path, "merge --ff-only", "merge", "--ff-only", branch)
}

func (c *RealClient) Merge(path, branch, message string) *GitError {
	return c.gitErr(path, "merge", "merge", "--no-ff", "-m", message, branch)
}

func (c *RealClient) MergeSquash(path, branch string) *GitError {
	return c.gitErr(path, "merge --squash", "merge", "--squash", branch)
}

func (c *RealClient) MergeAbort(path string) error {
	_, err := c.git(path, "merge", "--abort")
	return err
}

func (c *RealClient) Commit(path, message string) error {
	_, err := c.git(path, "commit", "-m", message)
	return err
}

// ConflictFiles lists paths with unresolved conflicts in the worktree.
func (c *RealClient) ConflictFiles(path string) ([]string, error) {
	out, err := c.git(path, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ParseWorktreeListPorcelain parses the output of `git worktree list --porcelain`.
func ParseWorktreeListPorcelain(output string) []WorktreeInfo {
	var worktrees []WorktreeInfo
	var current WorktreeInfo

	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.HEAD = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			branch := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(branch, "refs/heads/")
		case line == "detached":
			current.Detached = true
		case line == "":
			if current.Path != "" {
				worktrees = append(worktrees, current)
				current = WorktreeInfo{}
			}
		}
	}
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	return worktrees
}
