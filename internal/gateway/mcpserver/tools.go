package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/driftloop/autonomy/internal/orchestrator"
	"github.com/driftloop/autonomy/internal/types"
)

type enqueueEventInput struct {
	AgentID   string         `json:"agent_id" jsonschema:"agent identifier"`
	Source    string         `json:"source" jsonschema:"event origin: cron, webhook, email, subagent, or manual"`
	Type      string         `json:"type" jsonschema:"event type string"`
	DedupeKey string         `json:"dedupe_key,omitempty" jsonschema:"optional dedupe key"`
	Payload   map[string]any `json:"payload,omitempty" jsonschema:"optional event payload"`
}

type prepareInput struct {
	AgentID      string `json:"agent_id" jsonschema:"agent identifier"`
	WorkspaceDir string `json:"workspace_dir" jsonschema:"workspace directory for goals/tasks/log files"`
}

type finalizeInput struct {
	AgentID        string `json:"agent_id" jsonschema:"agent identifier"`
	WorkspaceDir   string `json:"workspace_dir" jsonschema:"workspace directory used by the matching Prepare call"`
	Status         string `json:"status" jsonschema:"cycle outcome: ok, error, or skipped"`
	Summary        string `json:"summary,omitempty" jsonschema:"one-line summary of what the cycle did"`
	Err            string `json:"error,omitempty" jsonschema:"error detail when status is error"`
	TokensUsed     int64  `json:"tokens_used,omitempty" jsonschema:"tokens consumed by the cycle"`
	LockToken      string `json:"lock_token" jsonschema:"run-lock token returned by the matching Prepare call"`
	CycleStartedAt string `json:"cycle_started_at" jsonschema:"RFC3339 timestamp returned by the matching Prepare call"`
}

type readLedgerInput struct {
	AgentID string `json:"agent_id" jsonschema:"agent identifier"`
	Limit   int    `json:"limit,omitempty" jsonschema:"max entries to return (default 50)"`
	Offset  int    `json:"offset,omitempty" jsonschema:"entries to skip from the most recent"`
}

type verifyLedgerInput struct {
	AgentID string `json:"agent_id" jsonschema:"agent identifier"`
}

type pauseInput struct {
	AgentID string `json:"agent_id" jsonschema:"agent identifier"`
}

type resumeInput struct {
	AgentID string `json:"agent_id" jsonschema:"agent identifier"`
}

type tuneInput struct {
	AgentID                       string  `json:"agent_id" jsonschema:"agent identifier"`
	Mission                       *string `json:"mission,omitempty" jsonschema:"override mission statement"`
	MaxActionsPerRun              *int    `json:"max_actions_per_run,omitempty" jsonschema:"override max actions per cycle"`
	DedupeWindowMinutes           *int    `json:"dedupe_window_minutes,omitempty" jsonschema:"override event dedupe window in minutes"`
	MaxQueuedEvents               *int    `json:"max_queued_events,omitempty" jsonschema:"override max queued events"`
	DailyTokenBudget              *int64  `json:"daily_token_budget,omitempty" jsonschema:"override daily token budget"`
	DailyCycleBudget              *int    `json:"daily_cycle_budget,omitempty" jsonschema:"override daily cycle budget"`
	MaxConsecutiveErrors          *int    `json:"max_consecutive_errors,omitempty" jsonschema:"override consecutive-error auto-pause threshold"`
	AutoPauseOnBudgetExhausted    *bool   `json:"auto_pause_on_budget_exhausted,omitempty"`
	AutoResumeOnNewDayBudgetPause *bool   `json:"auto_resume_on_new_day_budget_pause,omitempty"`
	ErrorPauseMinutes             *int    `json:"error_pause_minutes,omitempty" jsonschema:"override error-pause cooldown in minutes"`
	StaleTaskHours                *int    `json:"stale_task_hours,omitempty" jsonschema:"override stale-task threshold in hours"`
}

func (s *MCPServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "autonomy_enqueue_event",
		Description: "Enqueue a signal event for an agent's next cycle",
	}, s.handleEnqueueEvent)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "autonomy_prepare",
		Description: "Run Prepare: load state, drain the queue, advance the stage machine, and return the cycle context",
	}, s.handlePrepare)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "autonomy_finalize",
		Description: "Run Finalize: record a completed cycle's outcome and release the run-lock",
	}, s.handleFinalize)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "autonomy_read_ledger",
		Description: "Read an agent's append-only audit ledger, most recent first",
	}, s.handleReadLedger)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "autonomy_verify_ledger",
		Description: "Recompute an agent's ledger hash chain and report the first entry that fails tamper verification, if any",
	}, s.handleVerifyLedger)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "autonomy_pause",
		Description: "Pause an agent's autonomous cycle",
	}, s.handlePause)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "autonomy_resume",
		Description: "Resume a paused agent",
	}, s.handleResume)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "autonomy_tune",
		Description: "Apply a partial config override to an agent's persisted state",
	}, s.handleTune)
}

func (s *MCPServer) handleEnqueueEvent(_ context.Context, _ *mcp.CallToolRequest, input enqueueEventInput) (*mcp.CallToolResult, any, error) {
	agentID := strings.TrimSpace(input.AgentID)
	if agentID == "" {
		return nil, nil, fmt.Errorf("agent_id is required")
	}
	eventType := strings.TrimSpace(input.Type)
	if eventType == "" {
		return nil, nil, fmt.Errorf("type is required")
	}
	source, err := parseSource(input.Source)
	if err != nil {
		return nil, nil, err
	}

	ev, err := s.orch.EnqueueEvent(agentID, source, eventType, input.DedupeKey, input.Payload, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(ev)
}

func (s *MCPServer) handlePrepare(ctx context.Context, _ *mcp.CallToolRequest, input prepareInput) (*mcp.CallToolResult, any, error) {
	agentID := strings.TrimSpace(input.AgentID)
	if agentID == "" {
		return nil, nil, fmt.Errorf("agent_id is required")
	}
	workspaceDir := strings.TrimSpace(input.WorkspaceDir)
	if workspaceDir == "" {
		return nil, nil, fmt.Errorf("workspace_dir is required")
	}

	result, err := s.orch.Prepare(orchestrator.PrepareParams{
		AgentID:      agentID,
		WorkspaceDir: workspaceDir,
		Now:          time.Now().UTC(),
		Ctx:          ctx,
	})
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(result)
}

func (s *MCPServer) handleFinalize(ctx context.Context, _ *mcp.CallToolRequest, input finalizeInput) (*mcp.CallToolResult, any, error) {
	agentID := strings.TrimSpace(input.AgentID)
	if agentID == "" {
		return nil, nil, fmt.Errorf("agent_id is required")
	}
	status := strings.TrimSpace(input.Status)
	if status != "ok" && status != "error" && status != "skipped" {
		return nil, nil, fmt.Errorf("invalid status %q: expected ok, error, or skipped", input.Status)
	}
	cycleStartedAt, err := time.Parse(time.RFC3339, input.CycleStartedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cycle_started_at: %w", err)
	}

	state, err := s.orch.LoadState(agentID, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}

	err = s.orch.Finalize(orchestrator.FinalizeParams{
		State:          state,
		Status:         status,
		Summary:        input.Summary,
		Err:            input.Err,
		Usage:          &orchestrator.Usage{TokensUsed: input.TokensUsed},
		LockToken:      input.LockToken,
		WorkspaceDir:   input.WorkspaceDir,
		CycleStartedAt: cycleStartedAt,
		Now:            time.Now().UTC(),
		Ctx:            ctx,
	})
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(state)
}

func (s *MCPServer) handleReadLedger(_ context.Context, _ *mcp.CallToolRequest, input readLedgerInput) (*mcp.CallToolResult, any, error) {
	agentID := strings.TrimSpace(input.AgentID)
	if agentID == "" {
		return nil, nil, fmt.Errorf("agent_id is required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}

	entries, err := s.orch.ReadLedgerEntries(agentID, limit, input.Offset)
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(map[string]any{"entries": entries, "count": len(entries)})
}

func (s *MCPServer) handleVerifyLedger(_ context.Context, _ *mcp.CallToolRequest, input verifyLedgerInput) (*mcp.CallToolResult, any, error) {
	agentID := strings.TrimSpace(input.AgentID)
	if agentID == "" {
		return nil, nil, fmt.Errorf("agent_id is required")
	}
	brokenAt, checked, err := s.orch.VerifyLedger(agentID)
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(map[string]any{"intact": brokenAt == -1, "broken_at": brokenAt, "entries_checked": checked})
}

func (s *MCPServer) handlePause(_ context.Context, _ *mcp.CallToolRequest, input pauseInput) (*mcp.CallToolResult, any, error) {
	agentID := strings.TrimSpace(input.AgentID)
	if agentID == "" {
		return nil, nil, fmt.Errorf("agent_id is required")
	}
	state, err := s.orch.Pause(agentID, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(state)
}

func (s *MCPServer) handleResume(_ context.Context, _ *mcp.CallToolRequest, input resumeInput) (*mcp.CallToolResult, any, error) {
	agentID := strings.TrimSpace(input.AgentID)
	if agentID == "" {
		return nil, nil, fmt.Errorf("agent_id is required")
	}
	state, err := s.orch.Resume(agentID, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(state)
}

func (s *MCPServer) handleTune(_ context.Context, _ *mcp.CallToolRequest, input tuneInput) (*mcp.CallToolResult, any, error) {
	agentID := strings.TrimSpace(input.AgentID)
	if agentID == "" {
		return nil, nil, fmt.Errorf("agent_id is required")
	}
	cfg := orchestrator.Config{
		Mission:                       input.Mission,
		MaxActionsPerRun:              input.MaxActionsPerRun,
		DedupeWindowMinutes:           input.DedupeWindowMinutes,
		MaxQueuedEvents:               input.MaxQueuedEvents,
		DailyTokenBudget:              input.DailyTokenBudget,
		DailyCycleBudget:              input.DailyCycleBudget,
		MaxConsecutiveErrors:          input.MaxConsecutiveErrors,
		AutoPauseOnBudgetExhausted:    input.AutoPauseOnBudgetExhausted,
		AutoResumeOnNewDayBudgetPause: input.AutoResumeOnNewDayBudgetPause,
		ErrorPauseMinutes:             input.ErrorPauseMinutes,
		StaleTaskHours:                input.StaleTaskHours,
	}
	state, err := s.orch.Tune(agentID, cfg, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	return jsonToolResult(state)
}

func parseSource(raw string) (types.EventSource, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "manual":
		return types.SourceManual, nil
	case "cron":
		return types.SourceCron, nil
	case "webhook":
		return types.SourceWebhook, nil
	case "email":
		return types.SourceEmail, nil
	case "subagent":
		return types.SourceSubagent, nil
	default:
		return "", fmt.Errorf("invalid source %q: expected cron, webhook, email, subagent, or manual", raw)
	}
}

func jsonToolResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return textToolResult(string(data)), nil, nil
}

func textToolResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
