package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kraitsura/grimoire/internal/gitx"
	"github.com/kraitsura/grimoire/internal/history"
	"github.com/kraitsura/grimoire/internal/output"
	"github.com/kraitsura/grimoire/internal/session"
	"github.com/kraitsura/grimoire/internal/spawn"
	"github.com/kraitsura/grimoire/internal/state"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui *output.UI

	verbose bool
	dryRun  bool
	jsonOut bool

	buildVersion string
	buildCommit  string
	buildDate    string
)

var rootCmd = &cobra.Command{
	Use:   "grim",
	Short: "Orchestrate coding agents across isolated git worktrees",
	Long: `grim runs multiple autonomous coding agents in parallel, each in its
own git worktree, and coordinates their lifecycle: spawning, claiming,
waiting on completion, and collecting finished branches back into the
current branch.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go. A failed command
// or a failed batch (conflicts, crashes, timeouts) exits 1.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Machine-readable JSON output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/grim/config.yaml)")

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "grim")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GRIM")
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "grim")

	viper.SetDefault("base_path", state.DefaultBasePath)
	viper.SetDefault("main_branches", []string{"main", "master"})
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "grim.db"))
	viper.SetDefault("agent.bin", "claude")
	viper.SetDefault("agent.mode", "interactive")
	viper.SetDefault("wait.poll_interval", 2*time.Second)
	viper.SetDefault("sandbox.wrapper", "")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(ui.Out, "grim %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
		return nil
	},
}

// getRepoRoot resolves the enclosing repository root from the working
// directory. Every wt subcommand needs this.
func getRepoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	root, err := gitx.NewClient().RepoRoot(cwd)
	if err != nil {
		return "", fmt.Errorf("not inside a git repository: %w", err)
	}
	return root, nil
}

// getStore builds the state store for the current repository.
func getStore() (*state.Store, error) {
	root, err := getRepoRoot()
	if err != nil {
		return nil, err
	}
	return state.NewStore(root, viper.GetString("base_path")), nil
}

func getTracker() *session.Tracker {
	return session.NewTracker()
}

// getHistory opens the history database. Callers treat failures as
// best-effort: a broken db never blocks an operation.
func getHistory() (history.Store, error) {
	h, err := history.NewSQLiteStore(viper.GetString("db_path"))
	if err != nil {
		return nil, err
	}
	if err := h.Migrate(rootCmd.Context()); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

// parentContext reads the spawn environment injected into agent
// processes, identifying the invoking worktree and session.
func parentContext() (parentWorktree, parentSession string) {
	return os.Getenv(spawn.EnvWorktree), os.Getenv(spawn.EnvSessionID)
}
