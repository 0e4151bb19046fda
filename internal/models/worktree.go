package models

import "time"

// MergeStatus tracks where a worktree's branch is in the collect lifecycle.
type MergeStatus string

const (
	MergeStatusPending   MergeStatus = "pending"
	MergeStatusReady     MergeStatus = "ready"
	MergeStatusMerged    MergeStatus = "merged"
	MergeStatusConflict  MergeStatus = "conflict"
	MergeStatusAbandoned MergeStatus = "abandoned"
)

// Terminal reports whether the status permits no further collection attempts.
func (m MergeStatus) Terminal() bool {
	return m == MergeStatusMerged
}

// Stage is a coarse phase label for the work happening in a worktree.
type Stage string

const (
	StagePlan      Stage = "plan"
	StageImplement Stage = "implement"
	StageTest      Stage = "test"
	StageReview    Stage = "review"
)

// ValidStage reports whether s is one of the four known stages.
func ValidStage(s string) bool {
	switch Stage(s) {
	case StagePlan, StageImplement, StageTest, StageReview:
		return true
	}
	return false
}

// IssueProvider identifies the external tracker a worktree is linked to.
type IssueProvider string

const (
	IssueProviderBeads  IssueProvider = "beads"
	IssueProviderGitHub IssueProvider = "github"
	IssueProviderLinear IssueProvider = "linear"
	IssueProviderJira   IssueProvider = "jira"
	IssueProviderNone   IssueProvider = "none"
)

// LogType classifies a worktree log entry.
type LogType string

const (
	LogTypeLog       LogType = "log"
	LogTypeHandoff   LogType = "handoff"
	LogTypeInterrupt LogType = "interrupt"
)

// LogMetadata carries optional structured fields on a log entry.
type LogMetadata struct {
	NextStage string `json:"nextStage,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// LogEntry is one append-only record in a worktree's log. Entries are never
// mutated or reordered after being written.
type LogEntry struct {
	Time     time.Time    `json:"time"`
	Message  string       `json:"message"`
	Author   string       `json:"author"`
	Type     LogType      `json:"type"`
	Metadata *LogMetadata `json:"metadata,omitempty"`
}

// Checkpoint is a named point-in-time snapshot, usually paired with a commit.
type Checkpoint struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
	Author  string    `json:"author"`
}

// StageTransition records one move in a worktree's stage audit trail.
// CurrentStage on the entry is always the To of the last transition.
type StageTransition struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Time  time.Time `json:"time"`
	Agent string    `json:"agent"`
}

// WorktreeEntry is the coordination record for one managed worktree,
// keyed by Name within a repository's state document. Name is immutable
// once created. ClaimedBy and ClaimedAt are set and cleared as a pair.
type WorktreeEntry struct {
	Name           string            `json:"name"`
	Branch         string            `json:"branch"`
	CreatedAt      time.Time         `json:"createdAt"`
	LinkedIssue    string            `json:"linkedIssue,omitempty"`
	IssueProvider  IssueProvider     `json:"issueProvider,omitempty"`
	Logs           []LogEntry        `json:"logs,omitempty"`
	Checkpoints    []Checkpoint      `json:"checkpoints,omitempty"`
	ClaimedBy      string            `json:"claimedBy,omitempty"`
	ClaimedAt      *time.Time        `json:"claimedAt,omitempty"`
	ParentWorktree string            `json:"parentWorktree,omitempty"`
	ParentSession  string            `json:"parentSession,omitempty"`
	ChildWorktrees []string          `json:"childWorktrees,omitempty"`
	CurrentStage   Stage             `json:"currentStage,omitempty"`
	StageHistory   []StageTransition `json:"stageHistory,omitempty"`
	SpawnedAt      *time.Time        `json:"spawnedAt,omitempty"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	MergeStatus    MergeStatus       `json:"mergeStatus"`
}

// StateVersion is the current schema version of the state document.
const StateVersion = 1

// WorktreeState is the root document persisted per repository.
// Uniqueness by Name is enforced on insert.
type WorktreeState struct {
	Version   int             `json:"version"`
	Worktrees []WorktreeEntry `json:"worktrees"`
}

// Find returns a pointer to the named entry, or nil if absent. The
// value receiver keeps Find callable on a freshly loaded state; the
// returned pointer still aliases the slice backing array.
func (s WorktreeState) Find(name string) *WorktreeEntry {
	for i := range s.Worktrees {
		if s.Worktrees[i].Name == name {
			return &s.Worktrees[i]
		}
	}
	return nil
}
