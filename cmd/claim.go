package cmd

import (
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/kraitsura/grimoire/internal/claim"
	"github.com/kraitsura/grimoire/internal/issues"
	"github.com/kraitsura/grimoire/internal/output"
	"github.com/kraitsura/grimoire/internal/spawn"
)

var (
	claimIdentity string
	claimForce    bool

	releaseIdentity string
	releaseNote     string
	releaseReason   string
	releaseNext     string
)

var wtClaimCmd = &cobra.Command{
	Use:   "claim <name>",
	Short: "Claim a worktree for exclusive work",
	Long: `Mark a worktree as owned by an identity (an agent session ID or a
username). Claims are advisory: another identity holding the claim
blocks the command unless --force is passed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return claimRun(args[0])
	},
}

var wtReleaseCmd = &cobra.Command{
	Use:   "release <name>",
	Short: "Release a claimed worktree",
	Long: `Clear the claim on a worktree, optionally recording a handoff note
for the next agent (--note, --next) or an interrupt reason (--reason).
A linked issue gets a best-effort status comment.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return releaseRun(args[0])
	},
}

func init() {
	wtClaimCmd.Flags().StringVar(&claimIdentity, "as", "", "Claiming identity (defaults to the agent session or username)")
	wtClaimCmd.Flags().BoolVarP(&claimForce, "force", "f", false, "Override an existing claim")

	wtReleaseCmd.Flags().StringVar(&releaseIdentity, "as", "", "Releasing identity")
	wtReleaseCmd.Flags().StringVar(&releaseNote, "note", "", "Handoff note for the worktree log")
	wtReleaseCmd.Flags().StringVar(&releaseReason, "reason", "", "Interrupt reason")
	wtReleaseCmd.Flags().StringVar(&releaseNext, "next", "", "Next stage: plan, implement, test, review")

	wtCmd.AddCommand(wtClaimCmd)
	wtCmd.AddCommand(wtReleaseCmd)
}

// defaultIdentity picks the claiming identity: the spawning session ID
// when running inside an agent, the OS username otherwise.
func defaultIdentity() string {
	if id := os.Getenv(spawn.EnvSessionID); id != "" {
		return id
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

func claimRun(name string) error {
	store, err := getStore()
	if err != nil {
		return err
	}

	identity := claimIdentity
	if identity == "" {
		identity = defaultIdentity()
	}

	if dryRun {
		ui.DryRunMsg("Would claim %s as %s", name, identity)
		return nil
	}

	coord := claim.NewCoordinator(store, issues.NewNotifier())
	if err := coord.Claim(name, identity, claimForce); err != nil {
		return err
	}

	ui.Success("Claimed %s as %s", output.Cyan(name), identity)
	return nil
}

func releaseRun(name string) error {
	store, err := getStore()
	if err != nil {
		return err
	}

	identity := releaseIdentity
	if identity == "" {
		identity = defaultIdentity()
	}

	if dryRun {
		ui.DryRunMsg("Would release %s", name)
		return nil
	}

	coord := claim.NewCoordinator(store, issues.NewNotifier())
	err = coord.Release(name, claim.ReleaseOptions{
		Identity:  identity,
		Note:      releaseNote,
		Reason:    releaseReason,
		NextStage: releaseNext,
	})
	if err != nil {
		return err
	}

	switch {
	case releaseNext != "":
		ui.Success("Released %s, handed off to stage %s", output.Cyan(name), releaseNext)
	case releaseReason != "":
		ui.Success("Released %s (interrupted: %s)", output.Cyan(name), releaseReason)
	default:
		ui.Success("Released %s", output.Cyan(name))
	}
	return nil
}
