package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kraitsura/grimoire/internal/gitx"
	"github.com/kraitsura/grimoire/internal/models"
	"github.com/kraitsura/grimoire/internal/output"
)

var wtCmd = &cobra.Command{
	Use:     "wt",
	Aliases: []string{"worktree"},
	Short:   "Manage agent worktrees",
	Long: `Create, inspect, and remove the isolated git worktrees that agent
sessions run in. Each worktree gets its own branch and an entry in the
shared state document under .worktrees/.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return wtListRun()
	},
}

var (
	wtNewBranch   string
	wtNewBase     string
	wtNewIssue    string
	wtNewProvider string

	wtRmForce        bool
	wtRmDeleteBranch bool

	wtCleanExecute  bool
	wtCleanBranches bool
	wtCleanForce    bool
)

var wtNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a worktree and register it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return wtNewRun(args[0])
	},
}

var wtListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked worktrees",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return wtListRun()
	},
}

var wtRmCmd = &cobra.Command{
	Use:     "rm <name>",
	Aliases: []string{"remove"},
	Short:   "Remove a worktree and its state entry",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return wtRmRun(args[0])
	},
}

var wtStatusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show worktree and agent session status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return wtStatusDetailRun(args[0])
		}
		return wtListRun()
	},
}

var wtCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove merged, abandoned, and orphaned worktrees",
	Long: `Scan tracked worktrees for entries whose branch has been collected
(merged) or abandoned, plus orphaned entries whose backing directory no
longer exists on disk, and remove them. Without --execute this only
reports what would be removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return wtCleanRun()
	},
}

func init() {
	wtNewCmd.Flags().StringVarP(&wtNewBranch, "branch", "b", "", "Branch name (defaults to the worktree name)")
	wtNewCmd.Flags().StringVar(&wtNewBase, "base", "", "Base ref to branch from (defaults to the current branch)")
	wtNewCmd.Flags().StringVar(&wtNewIssue, "issue", "", "Linked issue ID")
	wtNewCmd.Flags().StringVar(&wtNewProvider, "provider", "", "Issue provider: beads, github, linear, jira")

	wtRmCmd.Flags().BoolVarP(&wtRmForce, "force", "f", false, "Remove even with uncommitted changes")
	wtRmCmd.Flags().BoolVar(&wtRmDeleteBranch, "delete-branch", false, "Also delete the branch ref")

	wtCleanCmd.Flags().BoolVar(&wtCleanExecute, "execute", false, "Actually remove instead of reporting")
	wtCleanCmd.Flags().BoolVar(&wtCleanBranches, "branches", false, "Also delete branch refs")
	wtCleanCmd.Flags().BoolVar(&wtCleanForce, "force", false, "Remove worktrees with uncommitted changes")

	wtCmd.AddCommand(wtNewCmd)
	wtCmd.AddCommand(wtListCmd)
	wtCmd.AddCommand(wtRmCmd)
	wtCmd.AddCommand(wtStatusCmd)
	wtCmd.AddCommand(wtCleanCmd)
	rootCmd.AddCommand(wtCmd)
}

func wtNewRun(name string) error {
	store, err := getStore()
	if err != nil {
		return err
	}
	root, _ := getRepoRoot()
	git := gitx.NewClient()

	branch := wtNewBranch
	if branch == "" {
		branch = name
	}
	base := wtNewBase
	if base == "" {
		base, err = git.CurrentBranch(root)
		if err != nil {
			return fmt.Errorf("resolve base branch: %w", err)
		}
	}

	wtPath := store.WorktreePath(name)
	if dryRun {
		ui.DryRunMsg("Would create worktree %s on branch %s from %s", name, branch, base)
		return nil
	}

	if err := os.MkdirAll(store.BaseDir(), 0o755); err != nil {
		return fmt.Errorf("create base directory: %w", err)
	}

	exists, err := git.BranchExists(root, branch)
	if err != nil {
		return err
	}
	if err := git.WorktreeAdd(root, wtPath, branch, base, !exists); err != nil {
		return fmt.Errorf("create worktree: %w", err)
	}

	entry := models.WorktreeEntry{
		Name:        name,
		Branch:      branch,
		LinkedIssue: wtNewIssue,
	}
	if wtNewProvider != "" {
		entry.IssueProvider = models.IssueProvider(wtNewProvider)
	}
	if err := store.AddWorktree(entry); err != nil {
		return fmt.Errorf("register worktree: %w", err)
	}

	ui.Success("Created worktree %s on branch %s", output.Cyan(name), output.Cyan(branch))
	ui.VerboseLog("path: %s", wtPath)
	return nil
}

func wtListRun() error {
	store, err := getStore()
	if err != nil {
		return err
	}
	tracker := getTracker()

	st := store.GetState()
	if len(st.Worktrees) == 0 {
		ui.Info("No worktrees tracked. Use 'grim wt new <name>' to get started.")
		return nil
	}

	type row struct {
		Name        string `json:"name"`
		Branch      string `json:"branch"`
		ClaimedBy   string `json:"claimedBy,omitempty"`
		Stage       string `json:"stage,omitempty"`
		MergeStatus string `json:"mergeStatus"`
		Session     string `json:"session,omitempty"`
	}

	var rows []row
	for i := range st.Worktrees {
		e := &st.Worktrees[i]
		r := row{
			Name:        e.Name,
			Branch:      e.Branch,
			ClaimedBy:   e.ClaimedBy,
			Stage:       string(e.CurrentStage),
			MergeStatus: string(e.MergeStatus),
		}
		if sess, err := tracker.RefreshStatus(store.WorktreePath(e.Name)); err == nil && sess != nil {
			r.Session = string(sess.Status)
		}
		rows = append(rows, r)
	}

	if jsonOut {
		return printJSON(rows)
	}

	table := ui.Table([]string{"Name", "Branch", "Claimed By", "Stage", "Merge", "Session"})
	for _, r := range rows {
		_ = table.Append([]string{
			output.Cyan(r.Name),
			r.Branch,
			r.ClaimedBy,
			r.Stage,
			output.MergeColor(r.MergeStatus),
			output.SessionColor(r.Session),
		})
	}
	_ = table.Render()
	return nil
}

func wtStatusDetailRun(name string) error {
	store, err := getStore()
	if err != nil {
		return err
	}
	tracker := getTracker()

	st := store.GetState()
	entry := st.Find(name)
	if entry == nil {
		return fmt.Errorf("worktree not found: %s", name)
	}

	sess, _ := tracker.RefreshStatus(store.WorktreePath(name))

	if jsonOut {
		return printJSON(map[string]any{
			"worktree": entry,
			"session":  sess,
		})
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(entry.Name))
	fmt.Fprintf(ui.Out, "  Branch:  %s\n", entry.Branch)
	fmt.Fprintf(ui.Out, "  Created: %s\n", entry.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Merge:   %s\n", output.MergeColor(string(entry.MergeStatus)))
	if entry.ClaimedBy != "" {
		age := ""
		if entry.ClaimedAt != nil {
			age = fmt.Sprintf(" (%s ago)", time.Since(*entry.ClaimedAt).Round(time.Second))
		}
		fmt.Fprintf(ui.Out, "  Claimed: %s%s\n", entry.ClaimedBy, age)
	}
	if entry.CurrentStage != "" {
		fmt.Fprintf(ui.Out, "  Stage:   %s\n", entry.CurrentStage)
	}
	if entry.LinkedIssue != "" {
		fmt.Fprintf(ui.Out, "  Issue:   %s (%s)\n", entry.LinkedIssue, entry.IssueProvider)
	}
	if entry.ParentWorktree != "" {
		fmt.Fprintf(ui.Out, "  Parent:  %s\n", entry.ParentWorktree)
	}
	if len(entry.ChildWorktrees) > 0 {
		fmt.Fprintf(ui.Out, "  Children: %v\n", entry.ChildWorktrees)
	}

	if sess != nil {
		fmt.Fprintf(ui.Out, "  Session: %s (pid %d, %s, started %s)\n",
			output.SessionColor(string(sess.Status)), sess.PID, sess.Mode,
			sess.StartedAt.Format(time.RFC3339))
	}

	if n := len(entry.Logs); n > 0 {
		fmt.Fprintf(ui.Out, "  Recent log:\n")
		logs := entry.Logs
		if n > 5 {
			logs = logs[n-5:]
		}
		for _, l := range logs {
			fmt.Fprintf(ui.Out, "    %s [%s] %s\n", l.Time.Format("2006-01-02 15:04"), l.Type, l.Message)
		}
	}
	return nil
}

func wtCleanRun() error {
	store, err := getStore()
	if err != nil {
		return err
	}
	root, _ := getRepoRoot()
	git := gitx.NewClient()

	orphaned := make(map[string]bool)
	for _, name := range store.Orphans() {
		orphaned[name] = true
	}

	st := store.GetState()
	removed := 0
	for i := range st.Worktrees {
		e := &st.Worktrees[i]
		collected := e.MergeStatus == models.MergeStatusMerged || e.MergeStatus == models.MergeStatusAbandoned
		if !collected && !orphaned[e.Name] {
			continue
		}

		reason := string(e.MergeStatus)
		if !collected {
			reason = "orphaned"
		}
		if !wtCleanExecute {
			ui.Info("Would remove %s (%s)", e.Name, reason)
			removed++
			continue
		}

		wtPath := store.WorktreePath(e.Name)
		if _, statErr := os.Stat(wtPath); statErr == nil {
			if err := git.WorktreeRemove(root, wtPath, wtCleanForce); err != nil {
				ui.Warning("remove worktree %s: %v", e.Name, err)
				continue
			}
		}
		// An orphan's branch may still hold uncollected work; only
		// collected entries are eligible for branch deletion.
		if wtCleanBranches && collected {
			if err := git.BranchDelete(root, e.Branch, true); err != nil {
				ui.Warning("delete branch %s: %v", e.Branch, err)
			}
		}
		if err := store.RemoveWorktree(e.Name); err != nil {
			ui.Warning("remove entry %s: %v", e.Name, err)
			continue
		}
		ui.Success("Removed %s (%s)", e.Name, reason)
		removed++
	}

	if wtCleanExecute {
		_ = git.WorktreePrune(root)
	}
	if removed == 0 {
		ui.Info("Nothing to clean.")
	} else if !wtCleanExecute {
		ui.Info("Pass --execute to remove.")
	}
	return nil
}

func wtRmRun(name string) error {
	store, err := getStore()
	if err != nil {
		return err
	}
	root, _ := getRepoRoot()
	git := gitx.NewClient()

	st := store.GetState()
	entry := st.Find(name)
	if entry == nil {
		return fmt.Errorf("worktree not found: %s", name)
	}

	if dryRun {
		ui.DryRunMsg("Would remove worktree %s", name)
		return nil
	}

	wtPath := store.WorktreePath(name)
	if _, statErr := os.Stat(wtPath); statErr == nil {
		if err := git.WorktreeRemove(root, wtPath, wtRmForce); err != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}
	}
	if wtRmDeleteBranch {
		if err := git.BranchDelete(root, entry.Branch, true); err != nil {
			ui.Warning("delete branch %s: %v", entry.Branch, err)
		}
	}
	if err := store.RemoveWorktree(name); err != nil {
		return fmt.Errorf("remove state entry: %w", err)
	}

	ui.Success("Removed worktree %s", output.Cyan(name))
	return nil
}

// printJSON writes v to stdout as indented JSON for --json mode.
func printJSON(v any) error {
	enc := json.NewEncoder(ui.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
