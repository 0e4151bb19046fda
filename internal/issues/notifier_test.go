package issues

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kraitsura/grimoire/internal/models"
	"github.com/kraitsura/grimoire/internal/run"
)

type recordingRunner struct {
	name string
	args []string
	res  run.Result
}

func (r *recordingRunner) Run(dir, name string, args ...string) run.Result {
	r.name = name
	r.args = args
	return r.res
}

func (r *recordingRunner) RunInteractive(dir string, env []string, name string, args ...string) run.Result {
	return run.Result{}
}

func (r *recordingRunner) Detach(dir string, env []string, logFile, name string, args ...string) (int, error) {
	return 0, nil
}

func TestNotify_EmptyIssueIsNoop(t *testing.T) {
	rr := &recordingRunner{}
	n := NewNotifierWithRunner(rr)

	assert.NoError(t, n.Notify(models.IssueProviderGitHub, "", "done"))
	assert.Empty(t, rr.name)
}

func TestNotify_UnknownProviderIsNoop(t *testing.T) {
	rr := &recordingRunner{}
	n := NewNotifierWithRunner(rr)

	assert.NoError(t, n.Notify(models.IssueProviderNone, "42", "done"))
	assert.Empty(t, rr.name)
}

func TestNotify_GitHubCommand(t *testing.T) {
	rr := &recordingRunner{}
	n := NewNotifierWithRunner(rr)

	assert.NoError(t, n.Notify(models.IssueProviderGitHub, "42", "worktree released"))
	assert.Equal(t, "gh", rr.name)
	assert.Equal(t, []string{"issue", "comment", "42", "--body", "worktree released"}, rr.args)
}

func TestNotify_BeadsCommand(t *testing.T) {
	rr := &recordingRunner{}
	n := NewNotifierWithRunner(rr)

	assert.NoError(t, n.Notify(models.IssueProviderBeads, "bd-7", "handed off"))
	assert.Equal(t, "bd", rr.name)
	assert.Equal(t, []string{"comment", "bd-7", "handed off"}, rr.args)
}

func TestNotify_CLIFailureReturnsError(t *testing.T) {
	rr := &recordingRunner{res: run.Result{ExitCode: 1, Stderr: "no auth"}}
	n := NewNotifierWithRunner(rr)

	err := n.Notify(models.IssueProviderGitHub, "42", "done")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no auth")
}
