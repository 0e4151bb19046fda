package collect

import (
	"fmt"

	"github.com/kraitsura/grimoire/internal/gitx"
)

// detachGuard temporarily detaches a worktree from its branch so the
// branch ref can be rebased from the collecting context. The same branch
// cannot be checked out in two places, and the detach/restore pair is
// the only defense against leaving a worktree stranded off its branch.
// Release must run on every exit path.
type detachGuard struct {
	git      gitx.Client
	path     string
	branch   string
	detached bool
}

// acquireDetach detaches the worktree at path if it currently has branch
// checked out. A worktree already detached or on another branch needs no
// guard.
func acquireDetach(git gitx.Client, path, branch string) (*detachGuard, error) {
	g := &detachGuard{git: git, path: path, branch: branch}

	current, err := git.CurrentBranch(path)
	if err != nil {
		return nil, fmt.Errorf("inspect worktree checkout: %w", err)
	}
	if current != branch {
		return g, nil
	}
	if err := git.DetachHead(path); err != nil {
		return nil, fmt.Errorf("detach worktree %s: %w", path, err)
	}
	g.detached = true
	return g, nil
}

// Release restores the branch checkout in the worktree. Safe to call
// multiple times and on guards that never detached.
func (g *detachGuard) Release() error {
	if g == nil || !g.detached {
		return nil
	}
	g.detached = false
	if err := g.git.Checkout(g.path, g.branch); err != nil {
		return fmt.Errorf("restore worktree %s to %s: %w", g.path, g.branch, err)
	}
	return nil
}
