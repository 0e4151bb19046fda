package models

import "time"

// SessionStatus represents the state of a spawned agent process.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "running"
	SessionStatusStopped SessionStatus = "stopped"
	SessionStatusCrashed SessionStatus = "crashed"
	SessionStatusUnknown SessionStatus = "unknown"
)

// Terminal reports whether the status can never revert to running.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusStopped || s == SessionStatusCrashed
}

// SessionMode is how the agent process was attached to the terminal.
type SessionMode string

const (
	SessionModeInteractive SessionMode = "interactive"
	SessionModeHeadless    SessionMode = "headless"
	SessionModeTmux        SessionMode = "tmux"
)

// AgentSession records the agent process spawned into one worktree.
// It lives in a per-worktree file rather than the shared state document
// so concurrent agents don't contend on it.
type AgentSession struct {
	SessionID  string        `json:"sessionId"`
	PID        int           `json:"pid"`
	Mode       SessionMode   `json:"mode"`
	StartedAt  time.Time     `json:"startedAt"`
	Status     SessionStatus `json:"status"`
	Prompt     string        `json:"prompt,omitempty"`
	LogFile    string        `json:"logFile,omitempty"`
	TmuxWindow string        `json:"tmuxWindow,omitempty"`
	EndedAt    *time.Time    `json:"endedAt,omitempty"`
	ExitCode   *int          `json:"exitCode,omitempty"`
}
