package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/kraitsura/grimoire/internal/output"
)

var (
	historyLimit    int
	historyCollects bool
)

var wtHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past agent sessions and collect outcomes",
	Long: `List recent agent sessions from the local history database, or with
--collects the per-worktree outcomes of past collect runs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRun()
	},
}

func init() {
	wtHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum rows to show")
	wtHistoryCmd.Flags().BoolVar(&historyCollects, "collects", false, "Show collect outcomes instead of sessions")

	wtCmd.AddCommand(wtHistoryCmd)
}

func historyRun() error {
	h, err := getHistory()
	if err != nil {
		return err
	}
	defer h.Close()

	ctx := rootCmd.Context()
	if historyCollects {
		records, err := h.ListCollects(ctx, historyLimit)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(records)
		}
		if len(records) == 0 {
			ui.Info("No collect history.")
			return nil
		}
		table := ui.Table([]string{"When", "Worktree", "Branch", "Target", "Status", "Reason"})
		for _, r := range records {
			_ = table.Append([]string{
				r.CreatedAt.Local().Format("2006-01-02 15:04"),
				output.Cyan(r.Worktree),
				r.Branch,
				r.Target,
				output.MergeColor(r.Status),
				r.Reason,
			})
		}
		_ = table.Render()
		return nil
	}

	records, err := h.ListSessions(ctx, historyLimit)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(records)
	}
	if len(records) == 0 {
		ui.Info("No session history.")
		return nil
	}
	table := ui.Table([]string{"Started", "Worktree", "Branch", "Mode", "Status", "Duration"})
	for _, r := range records {
		duration := ""
		if r.EndedAt != nil {
			duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_ = table.Append([]string{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			output.Cyan(r.Worktree),
			r.Branch,
			r.Mode,
			output.SessionColor(r.Status),
			duration,
		})
	}
	_ = table.Render()
	return nil
}
