package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kraitsura/grimoire/internal/claim"
	"github.com/kraitsura/grimoire/internal/issues"
	"github.com/kraitsura/grimoire/internal/mcp"
)

var wtServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an MCP stdio server exposing worktree tools",
	Long: `Start an MCP (Model Context Protocol) server on stdio so agents can
inspect and coordinate worktrees natively. Configure with:

  {
    "mcpServers": {
      "grim": { "command": "grim", "args": ["wt", "serve"] }
    }
  }

Available tools: wt_list, wt_status, wt_claim, wt_release, wt_log`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun()
	},
}

func init() {
	wtCmd.AddCommand(wtServeCmd)
}

func serveRun() error {
	store, err := getStore()
	if err != nil {
		return err
	}

	coord := claim.NewCoordinator(store, issues.NewNotifier())
	srv := mcp.NewServer(store, getTracker(), coord, buildVersion)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ui.VerboseLog("MCP server listening on stdio")
	return srv.ServeStdio(ctx)
}
