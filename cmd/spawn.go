package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kraitsura/grimoire/internal/gitx"
	"github.com/kraitsura/grimoire/internal/history"
	"github.com/kraitsura/grimoire/internal/models"
	"github.com/kraitsura/grimoire/internal/output"
	"github.com/kraitsura/grimoire/internal/run"
	"github.com/kraitsura/grimoire/internal/sandbox"
	"github.com/kraitsura/grimoire/internal/spawn"
	"github.com/kraitsura/grimoire/internal/state"
)

var (
	spawnPrompt   string
	spawnHeadless bool
	spawnTmux     bool
	spawnAgentBin string
)

var wtSpawnCmd = &cobra.Command{
	Use:   "spawn <name>",
	Short: "Launch an agent session in a worktree",
	Long: `Start the configured agent binary inside a worktree with the spawn
environment set (GRIM_SESSION_ID, GRIM_WORKTREE, GRIM_WORKTREE_PATH).
Interactive by default; --headless detaches the process and logs to a
file in the worktree, --tmux opens a tmux window.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return spawnRun(args[0])
	},
}

var wtLogCmd = &cobra.Command{
	Use:   "log <name> <message>",
	Short: "Append a log entry to a worktree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return logRun(args[0], args[1])
	},
}

var wtCheckpointCmd = &cobra.Command{
	Use:   "checkpoint <name> <message>",
	Short: "Commit current work and record a checkpoint",
	Long: `Commit all changes in the worktree and append a checkpoint pairing
the commit hash with the message. With a clean tree only the
checkpoint record is written, pointing at the current HEAD.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkpointRun(args[0], args[1])
	},
}

func init() {
	wtSpawnCmd.Flags().StringVarP(&spawnPrompt, "prompt", "p", "", "Prompt passed to the agent")
	wtSpawnCmd.Flags().BoolVar(&spawnHeadless, "headless", false, "Detach the agent and log to a file")
	wtSpawnCmd.Flags().BoolVar(&spawnTmux, "tmux", false, "Run the agent in a new tmux window")
	wtSpawnCmd.Flags().StringVar(&spawnAgentBin, "agent", "", "Agent binary (defaults to config agent.bin)")

	wtCmd.AddCommand(wtSpawnCmd)
	wtCmd.AddCommand(wtLogCmd)
	wtCmd.AddCommand(wtCheckpointCmd)
}

func spawnRun(name string) error {
	store, err := getStore()
	if err != nil {
		return err
	}

	agentBin := spawnAgentBin
	if agentBin == "" {
		agentBin = viper.GetString("agent.bin")
	}

	mode := models.SessionModeInteractive
	switch {
	case spawnHeadless && spawnTmux:
		return fmt.Errorf("--headless and --tmux are mutually exclusive")
	case spawnHeadless:
		mode = models.SessionModeHeadless
	case spawnTmux:
		mode = models.SessionModeTmux
	}

	if dryRun {
		ui.DryRunMsg("Would spawn %s agent in %s", mode, name)
		return nil
	}

	parentWt, parentSess := parentContext()
	spawner := spawn.NewSpawner(store, getTracker(), run.NewRunner(),
		sandbox.NewResolver(viper.GetString("sandbox.wrapper")))

	ui.Info("Spawning %s agent in %s...", mode, output.Cyan(name))
	sess, err := spawner.Spawn(spawn.Options{
		Name:           name,
		Prompt:         spawnPrompt,
		Mode:           mode,
		AgentBin:       agentBin,
		ParentWorktree: parentWt,
		ParentSession:  parentSess,
	})
	if sess != nil {
		recordSessionHistory(store, name, sess)
	}
	if err != nil {
		return err
	}

	switch mode {
	case models.SessionModeHeadless:
		ui.Success("Agent %s running (pid %d), log: %s", sess.SessionID, sess.PID, sess.LogFile)
	case models.SessionModeTmux:
		ui.Success("Agent %s running in tmux window %s", sess.SessionID, sess.TmuxWindow)
	default:
		code := 0
		if sess.ExitCode != nil {
			code = *sess.ExitCode
		}
		if code != 0 {
			return fmt.Errorf("agent exited with code %d", code)
		}
		ui.Success("Agent session %s finished", sess.SessionID)
	}
	return nil
}

// recordSessionHistory is best-effort; the spawn already happened.
func recordSessionHistory(store *state.Store, name string, sess *models.AgentSession) {
	h, err := getHistory()
	if err != nil {
		ui.VerboseLog("history db unavailable: %v", err)
		return
	}
	defer h.Close()

	branch := ""
	if entry := store.GetState().Find(name); entry != nil {
		branch = entry.Branch
	}
	_ = h.RecordSession(rootCmd.Context(), &history.SessionRecord{
		ID:        sess.SessionID,
		Worktree:  name,
		Branch:    branch,
		Mode:      string(sess.Mode),
		Status:    string(sess.Status),
		StartedAt: sess.StartedAt,
		EndedAt:   sess.EndedAt,
	})
}

func logRun(name, message string) error {
	store, err := getStore()
	if err != nil {
		return err
	}

	if store.GetState().Find(name) == nil {
		return fmt.Errorf("worktree not found: %s", name)
	}

	entry := models.LogEntry{
		Time:    time.Now().UTC(),
		Message: message,
		Author:  defaultIdentity(),
		Type:    models.LogTypeLog,
	}
	if err := store.UpdateWorktree(name, state.WorktreeUpdate{AppendLog: &entry}); err != nil {
		return err
	}

	ui.Success("Logged to %s", output.Cyan(name))
	return nil
}

func checkpointRun(name, message string) error {
	store, err := getStore()
	if err != nil {
		return err
	}
	git := gitx.NewClient()

	if store.GetState().Find(name) == nil {
		return fmt.Errorf("worktree not found: %s", name)
	}
	wtPath := store.WorktreePath(name)
	if _, err := os.Stat(wtPath); err != nil {
		return fmt.Errorf("worktree directory missing: %s", wtPath)
	}

	if dryRun {
		ui.DryRunMsg("Would checkpoint %s: %s", name, message)
		return nil
	}

	dirty, err := git.IsDirty(wtPath)
	if err != nil {
		return err
	}
	if dirty {
		res := run.NewRunner().Run(wtPath, "git", "add", "-A")
		if !res.Ok() {
			return fmt.Errorf("stage changes: %s", res.ErrorText())
		}
		if err := git.Commit(wtPath, message); err != nil {
			return fmt.Errorf("commit checkpoint: %w", err)
		}
	}

	hash, err := git.RevParse(wtPath, "HEAD")
	if err != nil {
		return fmt.Errorf("resolve checkpoint commit: %w", err)
	}

	cp := models.Checkpoint{
		Hash:    hash,
		Message: message,
		Time:    time.Now().UTC(),
		Author:  defaultIdentity(),
	}
	if err := store.UpdateWorktree(name, state.WorktreeUpdate{AppendCheckpoint: &cp}); err != nil {
		return err
	}

	short := hash
	if len(short) > 8 {
		short = short[:8]
	}
	ui.Success("Checkpoint %s at %s", strings.TrimSpace(message), output.Cyan(short))
	return nil
}
