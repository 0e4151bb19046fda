package gitx

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initTestRepo creates a git repo in dir with a user config so commits work on CI.
func initTestRepo(t *testing.T, dir string) {
	t.Helper()
	cmds := [][]string{
		{"git", "-C", dir, "init", "-b", "main"},
		{"git", "-C", dir, "config", "user.email", "test@test.com"},
		{"git", "-C", dir, "config", "user.name", "Test"},
	}
	for _, args := range cmds {
		require.NoError(t, exec.Command(args[0], args[1:]...).Run())
	}
}

func commitFile(t *testing.T, dir, name, content, message string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	require.NoError(t, exec.Command("git", "-C", dir, "add", "-A").Run())
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "-m", message).Run())
}

func TestParseWorktreeListPorcelain(t *testing.T) {
	input := `worktree /home/dev/repo
HEAD abc123def456
branch refs/heads/main

worktree /home/dev/repo/.worktrees/feat-x
HEAD def789abc012
branch refs/heads/feat/x

worktree /home/dev/repo/.worktrees/feat-y
HEAD 0123456789ab
detached

`
	worktrees := ParseWorktreeListPorcelain(input)
	require.Len(t, worktrees, 3)

	assert.Equal(t, "/home/dev/repo", worktrees[0].Path)
	assert.Equal(t, "main", worktrees[0].Branch)
	assert.Equal(t, "abc123def456", worktrees[0].HEAD)
	assert.False(t, worktrees[0].Detached)

	assert.Equal(t, "feat/x", worktrees[1].Branch)

	assert.Equal(t, "/home/dev/repo/.worktrees/feat-y", worktrees[2].Path)
	assert.Empty(t, worktrees[2].Branch)
	assert.True(t, worktrees[2].Detached)
}

func TestParseWorktreeListPorcelain_Empty(t *testing.T) {
	assert.Nil(t, ParseWorktreeListPorcelain(""))
}

func TestGitError_IsConflict(t *testing.T) {
	assert.True(t, (&GitError{Output: "CONFLICT (content): Merge conflict in a.txt"}).IsConflict())
	assert.True(t, (&GitError{Output: "error: could not apply abc123"}).IsConflict())
	assert.True(t, (&GitError{Output: "a.txt: needs merge"}).IsConflict())
	assert.False(t, (&GitError{Output: "fatal: not a git repository"}).IsConflict())
}

func TestBranchExistsAndRevParse(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	commitFile(t, dir, "a.txt", "a", "initial")

	c := NewClient()

	exists, err := c.BranchExists(dir, "main")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.BranchExists(dir, "nope")
	require.NoError(t, err)
	assert.False(t, exists)

	hash, err := c.RevParse(dir, "HEAD")
	require.NoError(t, err)
	assert.Len(t, hash, 40)
}

func TestIsAncestorAndCommitsAhead(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	commitFile(t, dir, "a.txt", "a", "initial")

	c := NewClient()
	require.NoError(t, exec.Command("git", "-C", dir, "checkout", "-b", "feat").Run())
	commitFile(t, dir, "b.txt", "b", "feature work")

	ok, err := c.IsAncestor(dir, "main", "feat")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IsAncestor(dir, "feat", "main")
	require.NoError(t, err)
	assert.False(t, ok)

	commits, err := c.CommitsAhead(dir, "main", "feat")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Contains(t, commits[0], "feature work")

	commits, err = c.CommitsAhead(dir, "feat", "main")
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestIsDirty(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	commitFile(t, dir, "a.txt", "a", "initial")

	c := NewClient()

	dirty, err := c.IsDirty(dir)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("changed"), 0o644))
	dirty, err = c.IsDirty(dir)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestWorktreeAddAndList(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	commitFile(t, dir, "a.txt", "a", "initial")

	c := NewClient()
	wtPath := filepath.Join(dir, ".worktrees", "feat-a")
	require.NoError(t, c.WorktreeAdd(dir, wtPath, "feat-a", "main", true))

	worktrees, err := c.WorktreeList(dir)
	require.NoError(t, err)
	require.Len(t, worktrees, 2)
	assert.Equal(t, "feat-a", worktrees[1].Branch)

	exists, err := c.BranchExists(dir, "feat-a")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMergeFFOnly_RefusesDivergence(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	commitFile(t, dir, "a.txt", "a", "initial")

	c := NewClient()
	require.NoError(t, exec.Command("git", "-C", dir, "checkout", "-b", "feat").Run())
	commitFile(t, dir, "b.txt", "b", "feature work")
	require.NoError(t, exec.Command("git", "-C", dir, "checkout", "main").Run())
	commitFile(t, dir, "c.txt", "c", "main moved on")

	gitErr := c.MergeFFOnly(dir, "feat")
	require.NotNil(t, gitErr)
	assert.False(t, gitErr.IsConflict())
}
