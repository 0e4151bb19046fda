package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kraitsura/grimoire/internal/output"
	"github.com/kraitsura/grimoire/internal/waitfor"
)

var (
	waitAny     bool
	waitTimeout time.Duration
)

var wtWaitCmd = &cobra.Command{
	Use:   "wait [names...]",
	Short: "Block until spawned agents finish",
	Long: `Poll the named worktrees' agent sessions until they finish. Without
names, the target set is every worktree spawned from the invoking
context. By default all targets must finish; --any returns on the
first. Exits 1 if any waited-on agent crashed or the timeout passed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return waitRun(args)
	},
}

func init() {
	wtWaitCmd.Flags().BoolVar(&waitAny, "any", false, "Return when the first target finishes")
	wtWaitCmd.Flags().DurationVar(&waitTimeout, "timeout", 0, "Give up after this long (0 waits forever)")

	wtCmd.AddCommand(wtWaitCmd)
}

func waitRun(names []string) error {
	store, err := getStore()
	if err != nil {
		return err
	}

	targets := names
	if len(targets) == 0 {
		parentWt, parentSess := parentContext()
		targets = waitfor.DeriveTargets(store.GetState(), parentWt, parentSess)
	}

	engine := waitfor.NewEngine(store, getTracker())
	if d := viper.GetDuration("wait.poll_interval"); d > 0 {
		engine.PollInterval = d
	}

	quantifier := waitfor.All
	if waitAny {
		quantifier = waitfor.Any
	}

	ui.VerboseLog("waiting on %d worktree(s)", len(targets))
	result, err := engine.Wait(targets, quantifier, waitTimeout)
	if err != nil {
		return err
	}

	if jsonOut {
		if err := printJSON(result); err != nil {
			return err
		}
	} else if result.NoTargets {
		ui.Info("No spawned worktrees to wait on.")
	} else {
		for _, t := range result.Targets {
			switch t.Outcome {
			case waitfor.OutcomeCompleted:
				ui.Success("%s: completed", output.Cyan(t.Name))
			case waitfor.OutcomeCrashed:
				ui.Error("%s: crashed", output.Cyan(t.Name))
			case waitfor.OutcomeTimeout:
				ui.Error("%s: timed out", output.Cyan(t.Name))
			default:
				ui.Info("%s: still running", output.Cyan(t.Name))
			}
		}
		ui.VerboseLog("waited %s", result.Elapsed.Round(time.Millisecond))
	}

	if result.Failed() {
		return fmt.Errorf("wait finished with crashed or timed-out agents")
	}
	return nil
}
