package spawn

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kraitsura/grimoire/internal/models"
	"github.com/kraitsura/grimoire/internal/run"
	"github.com/kraitsura/grimoire/internal/sandbox"
	"github.com/kraitsura/grimoire/internal/session"
	"github.com/kraitsura/grimoire/internal/state"
)

// Environment variables identifying a spawned agent's context.
const (
	EnvSessionID    = "GRIM_SESSION_ID"
	EnvWorktree     = "GRIM_WORKTREE"
	EnvWorktreePath = "GRIM_WORKTREE_PATH"
)

// Options configures one agent spawn.
type Options struct {
	Name     string
	Prompt   string
	Mode     models.SessionMode
	AgentBin string
	// ParentWorktree/ParentSession are the invoking context, recorded
	// as weak back-references on the entry for later wait/collect.
	ParentWorktree string
	ParentSession  string
}

// Spawner launches agent processes into worktrees and records both the
// per-worktree session and the entry's spawn metadata.
type Spawner struct {
	store   *state.Store
	tracker *session.Tracker
	runner  run.Runner
	sandbox sandbox.Resolver
}

// NewSpawner creates a Spawner.
func NewSpawner(s *state.Store, t *session.Tracker, r run.Runner, sb sandbox.Resolver) *Spawner {
	return &Spawner{store: s, tracker: t, runner: r, sandbox: sb}
}

func newSessionID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Spawn launches the agent into the named worktree. Headless agents are
// detached and logged to a file; interactive agents inherit the
// terminal and the call blocks until they exit.
func (s *Spawner) Spawn(opts Options) (*models.AgentSession, error) {
	st := s.store.GetState()
	entry := st.Find(opts.Name)
	if entry == nil {
		return nil, fmt.Errorf("worktree not found: %s", opts.Name)
	}

	wtPath := s.store.WorktreePath(opts.Name)
	sessionID := newSessionID()

	env := []string{
		EnvSessionID + "=" + sessionID,
		EnvWorktree + "=" + opts.Name,
		EnvWorktreePath + "=" + wtPath,
	}

	cfg, err := s.sandbox.Resolve(wtPath, s.store.BaseDir())
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox config: %w", err)
	}

	command := opts.AgentBin
	if opts.Prompt != "" {
		command = fmt.Sprintf("%s -p %s", opts.AgentBin, shellQuote(opts.Prompt))
	}
	command = cfg.WrapCommand(command)

	now := time.Now().UTC()
	if err := s.store.UpdateWorktree(opts.Name, state.WorktreeUpdate{
		SpawnedAt:      &now,
		ParentWorktree: optional(opts.ParentWorktree),
		ParentSession:  optional(opts.ParentSession),
	}); err != nil {
		return nil, fmt.Errorf("record spawn: %w", err)
	}
	if opts.ParentWorktree != "" {
		child := opts.Name
		_ = s.store.UpdateWorktree(opts.ParentWorktree, state.WorktreeUpdate{AddChild: &child})
	}

	switch opts.Mode {
	case models.SessionModeHeadless:
		return s.spawnHeadless(opts, wtPath, sessionID, env, command)
	case models.SessionModeTmux:
		return s.spawnTmux(opts, wtPath, sessionID, env, command)
	default:
		return s.spawnInteractive(opts, wtPath, sessionID, env, command)
	}
}

func (s *Spawner) spawnHeadless(opts Options, wtPath, sessionID string, env []string, command string) (*models.AgentSession, error) {
	logFile := filepath.Join(wtPath, ".grim-agent.log")
	pid, err := s.runner.Detach(wtPath, env, logFile, "sh", "-c", command)
	if err != nil {
		return nil, fmt.Errorf("spawn headless agent: %w", err)
	}
	return s.tracker.Create(wtPath, session.CreateOptions{
		SessionID: sessionID,
		PID:       pid,
		Mode:      models.SessionModeHeadless,
		Prompt:    opts.Prompt,
		LogFile:   logFile,
	})
}

func (s *Spawner) spawnTmux(opts Options, wtPath, sessionID string, env []string, command string) (*models.AgentSession, error) {
	window := "grim-" + opts.Name
	args := []string{"new-window", "-d", "-n", window, "-c", wtPath, "-P", "-F", "#{pane_pid}"}
	for _, kv := range env {
		args = append(args, "-e", kv)
	}
	args = append(args, command)

	res := s.runner.Run(wtPath, "tmux", args...)
	if !res.Ok() {
		return nil, fmt.Errorf("spawn tmux window: %s", res.ErrorText())
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(res.Stdout))

	return s.tracker.Create(wtPath, session.CreateOptions{
		SessionID:  sessionID,
		PID:        pid,
		Mode:       models.SessionModeTmux,
		Prompt:     opts.Prompt,
		TmuxWindow: window,
	})
}

// spawnInteractive blocks until the agent exits, then finalizes the
// session record with the exit code.
func (s *Spawner) spawnInteractive(opts Options, wtPath, sessionID string, env []string, command string) (*models.AgentSession, error) {
	// The CLI process hosts the interactive agent, so its own PID is
	// the right liveness anchor while the agent runs.
	sess, err := s.tracker.Create(wtPath, session.CreateOptions{
		SessionID: sessionID,
		PID:       os.Getpid(),
		Mode:      models.SessionModeInteractive,
		Prompt:    opts.Prompt,
	})
	if err != nil {
		return nil, err
	}

	res := s.runner.RunInteractive(wtPath, env, "sh", "-c", command)

	now := time.Now().UTC()
	stopped := models.SessionStatusStopped
	code := res.ExitCode
	updated, err := s.tracker.Update(wtPath, session.Update{
		Status:   &stopped,
		EndedAt:  &now,
		ExitCode: &code,
	})
	if err != nil {
		return sess, err
	}
	if updated != nil {
		sess = updated
	}
	if res.Err != nil {
		return sess, fmt.Errorf("run agent: %w", res.Err)
	}
	return sess, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
