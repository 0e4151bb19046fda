package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kraitsura/grimoire/internal/claim"
	"github.com/kraitsura/grimoire/internal/models"
	"github.com/kraitsura/grimoire/internal/session"
	"github.com/kraitsura/grimoire/internal/state"
)

// Server wraps the worktree state layer and exposes it as MCP tools, so
// agents can inspect and coordinate worktrees from inside a session.
type Server struct {
	store   *state.Store
	tracker *session.Tracker
	claims  *claim.Coordinator
	version string
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(st *state.Store, tr *session.Tracker, cl *claim.Coordinator, version string) *Server {
	return &Server{store: st, tracker: tr, claims: cl, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("grim", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listTool())
	srv.AddTool(s.statusTool())
	srv.AddTool(s.claimTool())
	srv.AddTool(s.releaseTool())
	srv.AddTool(s.logTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

type worktreeOut struct {
	Name        string     `json:"name"`
	Branch      string     `json:"branch"`
	CreatedAt   string     `json:"created_at"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	Stage       string     `json:"stage,omitempty"`
	MergeStatus string     `json:"merge_status"`
	Parent      string     `json:"parent,omitempty"`
	SpawnedAt   *time.Time `json:"spawned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func entryOut(e *models.WorktreeEntry) worktreeOut {
	return worktreeOut{
		Name:        e.Name,
		Branch:      e.Branch,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		ClaimedBy:   e.ClaimedBy,
		Stage:       string(e.CurrentStage),
		MergeStatus: string(e.MergeStatus),
		Parent:      e.ParentWorktree,
		SpawnedAt:   e.SpawnedAt,
		CompletedAt: e.CompletedAt,
	}
}

// wt_list
func (s *Server) listTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("wt_list",
		mcp.WithDescription("List all tracked worktrees. Returns a JSON array with name, branch, claim holder, stage, merge status, and parent."),
	)
	return tool, s.handleList
}

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.store.GetState()
	out := make([]worktreeOut, len(st.Worktrees))
	for i := range st.Worktrees {
		out[i] = entryOut(&st.Worktrees[i])
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal worktrees: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// wt_status
func (s *Server) statusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("wt_status",
		mcp.WithDescription("Get detailed status for one worktree: state entry, recent logs, and the live agent session (status is refreshed against the actual process)."),
		mcp.WithString("worktree", mcp.Required(), mcp.Description("Worktree name")),
	)
	return tool, s.handleStatus
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("worktree")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: worktree"), nil
	}

	st := s.store.GetState()
	entry := st.Find(name)
	if entry == nil {
		return mcp.NewToolResultError(fmt.Sprintf("worktree not found: %s", name)), nil
	}

	result := map[string]any{
		"worktree": entryOut(entry),
	}

	logs := entry.Logs
	if len(logs) > 10 {
		logs = logs[len(logs)-10:]
	}
	result["logs"] = logs

	sess, err := s.tracker.RefreshStatus(s.store.WorktreePath(name))
	if err == nil && sess != nil {
		result["session"] = map[string]any{
			"session_id": sess.SessionID,
			"pid":        sess.PID,
			"mode":       string(sess.Mode),
			"status":     string(sess.Status),
			"started_at": sess.StartedAt.Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// wt_claim
func (s *Server) claimTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("wt_claim",
		mcp.WithDescription("Claim a worktree for exclusive work. Fails with holder info if another identity already holds it, unless force is set."),
		mcp.WithString("worktree", mcp.Required(), mcp.Description("Worktree name")),
		mcp.WithString("identity", mcp.Required(), mcp.Description("Claiming identity, e.g. an agent session ID")),
		mcp.WithBoolean("force", mcp.Description("Override an existing claim")),
	)
	return tool, s.handleClaim
}

func (s *Server) handleClaim(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("worktree")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: worktree"), nil
	}
	identity, err := request.RequireString("identity")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: identity"), nil
	}
	force := request.GetBool("force", false)

	if err := s.claims.Claim(name, identity, force); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, _ := json.Marshal(map[string]any{
		"worktree":   name,
		"claimed_by": identity,
	})
	return mcp.NewToolResultText(string(data)), nil
}

// wt_release
func (s *Server) releaseTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("wt_release",
		mcp.WithDescription("Release a claimed worktree, optionally with a handoff note for the next agent or an interrupt reason."),
		mcp.WithString("worktree", mcp.Required(), mcp.Description("Worktree name")),
		mcp.WithString("identity", mcp.Description("Releasing identity")),
		mcp.WithString("note", mcp.Description("Handoff note recorded in the worktree log")),
		mcp.WithString("reason", mcp.Description("Interrupt reason; marks the release as an interruption")),
		mcp.WithString("next_stage", mcp.Description("Stage for the next agent: plan, implement, test, review")),
	)
	return tool, s.handleRelease
}

func (s *Server) handleRelease(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("worktree")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: worktree"), nil
	}

	err = s.claims.Release(name, claim.ReleaseOptions{
		Identity:  request.GetString("identity", ""),
		Note:      request.GetString("note", ""),
		Reason:    request.GetString("reason", ""),
		NextStage: request.GetString("next_stage", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, _ := json.Marshal(map[string]any{
		"worktree": name,
		"released": true,
	})
	return mcp.NewToolResultText(string(data)), nil
}

// wt_log
func (s *Server) logTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("wt_log",
		mcp.WithDescription("Append a progress log entry to a worktree. Agents use this to leave context for wait/collect and for the next session."),
		mcp.WithString("worktree", mcp.Required(), mcp.Description("Worktree name")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Log message")),
		mcp.WithString("session_id", mcp.Description("Authoring agent session ID")),
	)
	return tool, s.handleLog
}

func (s *Server) handleLog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("worktree")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: worktree"), nil
	}
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: message"), nil
	}

	if s.store.GetState().Find(name) == nil {
		return mcp.NewToolResultError(fmt.Sprintf("worktree not found: %s", name)), nil
	}

	entry := models.LogEntry{
		Time:    time.Now().UTC(),
		Author:  request.GetString("session_id", ""),
		Type:    models.LogTypeLog,
		Message: message,
	}
	if err := s.store.UpdateWorktree(name, state.WorktreeUpdate{AppendLog: &entry}); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, _ := json.Marshal(map[string]any{
		"worktree": name,
		"logged":   true,
	})
	return mcp.NewToolResultText(string(data)), nil
}
