package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kraitsura/grimoire/internal/collect"
	"github.com/kraitsura/grimoire/internal/gitx"
	"github.com/kraitsura/grimoire/internal/history"
	"github.com/kraitsura/grimoire/internal/output"
)

var (
	collectStrategy     string
	collectDelete       bool
	collectDeleteBranch bool
	collectNoRebase     bool
	collectForce        bool
)

var wtCollectCmd = &cobra.Command{
	Use:   "collect [names...]",
	Short: "Merge completed worktree branches into the current branch",
	Long: `Reconcile finished agent work back into the current branch. Targets
resolve in priority order: explicit names, worktrees spawned from the
invoking context, then git-ancestry detection from a main branch.

Each completed branch is rebased onto the current tip and fast-forward
merged, in spawn order. Conflicts are left live in the child worktree
for the owning agent to resolve; re-running collect reports the same
conflict until it is resolved. Exits 1 if any target conflicts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return collectRun(args)
	},
}

func init() {
	wtCollectCmd.Flags().StringVar(&collectStrategy, "strategy", "merge", "Merge strategy when --no-rebase: merge, rebase, squash")
	wtCollectCmd.Flags().BoolVar(&collectDelete, "delete", false, "Remove each worktree after a verified merge")
	wtCollectCmd.Flags().BoolVar(&collectDeleteBranch, "delete-branch", false, "Also delete branch refs (with --delete)")
	wtCollectCmd.Flags().BoolVar(&collectNoRebase, "no-rebase", false, "Skip the rebase-then-fast-forward protocol")
	wtCollectCmd.Flags().BoolVarP(&collectForce, "force", "f", false, "Allow ancestry detection off the main branch")

	wtCmd.AddCommand(wtCollectCmd)
}

func collectRun(names []string) error {
	store, err := getStore()
	if err != nil {
		return err
	}
	root, _ := getRepoRoot()

	parentWt, parentSess := parentContext()
	engine := collect.NewEngine(store, getTracker(), gitx.NewClient(), root, ui)

	summary, err := engine.Run(collect.Options{
		Names:          names,
		ParentWorktree: parentWt,
		ParentSession:  parentSess,
		DryRun:         dryRun,
		AutoRebase:     !collectNoRebase,
		Strategy:       collect.Strategy(collectStrategy),
		Delete:         collectDelete,
		DeleteBranch:   collectDeleteBranch,
		Force:          collectForce,
		MainBranches:   viper.GetStringSlice("main_branches"),
	})
	if err != nil {
		return err
	}

	recordCollectHistory(summary)

	if jsonOut {
		if err := printJSON(summary); err != nil {
			return err
		}
	} else {
		printCollectSummary(summary)
	}

	if summary.Failed() {
		return fmt.Errorf("%d worktree(s) hit conflicts", summary.Conflict)
	}
	return nil
}

func printCollectSummary(summary *collect.Summary) {
	if len(summary.Results) == 0 {
		ui.Info("No worktrees to collect into %s.", summary.Target)
		return
	}

	for _, r := range summary.Results {
		switch r.Status {
		case collect.StatusMerged:
			ui.Success("%s: merged %s", output.Cyan(r.Worktree), r.Branch)
		case collect.StatusWouldMerge:
			ui.Info("%s: would merge %s (%d commits)", output.Cyan(r.Worktree), r.Branch, len(r.Commits))
			for _, c := range r.Commits {
				ui.VerboseLog("%s", c)
			}
		case collect.StatusConflict:
			ui.Error("%s: conflict: %s", output.Cyan(r.Worktree), r.Reason)
			for _, f := range r.ConflictFiles {
				ui.Info("  %s", output.Red(f))
			}
		case collect.StatusNotReady:
			ui.Warning("%s: not ready: %s", output.Cyan(r.Worktree), r.Reason)
		default:
			ui.Info("%s: skipped: %s", output.Cyan(r.Worktree), r.Reason)
		}
	}

	ui.Info("%d merged, %d conflict, %d skipped, %d not ready",
		summary.Merged, summary.Conflict, summary.Skipped, summary.NotReady)
}

// recordCollectHistory writes per-entry outcomes to the history db.
// Best-effort: a broken db never fails the collect.
func recordCollectHistory(summary *collect.Summary) {
	if summary.DryRun {
		return
	}
	h, err := getHistory()
	if err != nil {
		ui.VerboseLog("history db unavailable: %v", err)
		return
	}
	defer h.Close()

	ctx := rootCmd.Context()
	for _, r := range summary.Results {
		_ = h.RecordCollect(ctx, &history.CollectRecord{
			Worktree: r.Worktree,
			Branch:   r.Branch,
			Target:   summary.Target,
			Status:   string(r.Status),
			Reason:   r.Reason,
		})
	}
}
