package issues

import (
	"fmt"

	"github.com/kraitsura/grimoire/internal/models"
	"github.com/kraitsura/grimoire/internal/run"
)

// Notifier posts plain-text status updates to an external issue tracker.
// All callers treat notification as fire-and-forget: failures are logged
// at most and never propagate into the calling operation's result.
type Notifier interface {
	Notify(provider models.IssueProvider, issueID, message string) error
}

// CLINotifier shells out to each provider's command-line tool.
type CLINotifier struct {
	runner run.Runner
}

// NewNotifier returns a CLINotifier using the default process runner.
func NewNotifier() *CLINotifier {
	return &CLINotifier{runner: run.NewRunner()}
}

// NewNotifierWithRunner returns a CLINotifier using the given runner.
func NewNotifierWithRunner(r run.Runner) *CLINotifier {
	return &CLINotifier{runner: r}
}

// Notify posts message as a comment on the issue via the provider CLI.
func (n *CLINotifier) Notify(provider models.IssueProvider, issueID, message string) error {
	if issueID == "" {
		return nil
	}

	var name string
	var args []string
	switch provider {
	case models.IssueProviderBeads:
		name, args = "bd", []string{"comment", issueID, message}
	case models.IssueProviderGitHub:
		name, args = "gh", []string{"issue", "comment", issueID, "--body", message}
	case models.IssueProviderLinear:
		name, args = "linear", []string{"issue", "comment", issueID, message}
	case models.IssueProviderJira:
		name, args = "jira", []string{"issue", "comment", "add", issueID, message}
	default:
		return nil
	}

	res := n.runner.Run("", name, args...)
	if !res.Ok() {
		return fmt.Errorf("%s notify %s: %s", provider, issueID, res.ErrorText())
	}
	return nil
}
