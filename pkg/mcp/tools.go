package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/velocityhq/velocity/internal/store"
	"github.com/velocityhq/velocity/pkg/schema"
)

// watchTimeout bounds how long a submitted run is polled for push notifications.
const watchTimeout = 10 * time.Minute

// handleSubmit validates and submits a merchant application.
func (s *VelocityServer) handleSubmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	merchantID, err := req.RequireString("merchant_id")
	if err != nil {
		return mcp.NewToolResultError("merchant_id is required"), nil
	}
	application := mcp.ParseStringMap(req, "application", nil)
	if application == nil {
		return mcp.NewToolResultError("application is required"), nil
	}

	runID, submitErr := s.manager.Submit(ctx, merchantID, application)
	if submitErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submit failed: %v", submitErr)), nil
	}

	// Bind the run to this session and push status changes back to it.
	s.captureSession(ctx, runID)
	go s.watchRun(runID)

	return marshalResult(map[string]any{
		"run_id": runID,
		"status": schema.JobStatusQueued,
	})
}

// handleStatus returns the current job record for a run.
func (s *VelocityServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	job, statusErr := s.manager.Status(ctx, runID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}

	return marshalResult(jobView(job))
}

// handleItems lists a run's action items with a severity summary.
func (s *VelocityServer) handleItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	includeResolved := req.GetBool("include_resolved", false)

	items, listErr := s.ledger.List(ctx, runID, includeResolved)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("item query failed: %v", listErr)), nil
	}
	summary, sumErr := s.ledger.Summary(ctx, runID)
	if sumErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("item query failed: %v", sumErr)), nil
	}

	return marshalResult(map[string]any{
		"run_id":  runID,
		"items":   items,
		"summary": summary,
	})
}

// handleResume merges corrections into a paused run and requeues it.
func (s *VelocityServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	updatedData := mcp.ParseStringMap(req, "updated_data", nil)
	userMessage := req.GetString("user_message", "")
	if len(updatedData) == 0 && userMessage == "" {
		return mcp.NewToolResultError("updated_data or user_message is required"), nil
	}

	fieldsUpdated, resumeErr := s.manager.Resume(ctx, runID, updatedData, userMessage)
	if resumeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", resumeErr)), nil
	}

	s.captureSession(ctx, runID)
	go s.watchRun(runID)

	return marshalResult(map[string]any{
		"run_id":         runID,
		"status":         schema.JobStatusProcessing,
		"fields_updated": fieldsUpdated,
	})
}

// handleRuns lists job records matching the filter.
func (s *VelocityServer) handleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.JobFilter{
		MerchantID: req.GetString("merchant_id", ""),
		Limit:      req.GetInt("limit", 50),
	}
	if raw := req.GetString("status", ""); raw != "" {
		status := schema.JobStatus(raw)
		filter.Status = &status
	}

	jobList, err := s.manager.List(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	views := make([]map[string]any, 0, len(jobList))
	for _, job := range jobList {
		views = append(views, jobView(job))
	}
	return marshalResult(map[string]any{
		"runs":  views,
		"count": len(views),
	})
}

// handleSimulate inspects or toggles failure-simulation flags.
func (s *VelocityServer) handleSimulate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	sim := s.registry.Simulation()
	if sim == nil {
		return mcp.NewToolResultError("simulation is not enabled on this registry"), nil
	}

	switch action {
	case "list":
	case "set":
		flag := req.GetString("flag", "")
		if flag == "" {
			return mcp.NewToolResultError("flag is required for action=set"), nil
		}
		sim.Set(flag, req.GetBool("enabled", true))
	case "reset":
		sim.Reset()
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}

	return marshalResult(map[string]any{"enabled": sim.Snapshot()})
}

// handleGraph describes the stage graph as text or a Mermaid flowchart.
func (s *VelocityServer) handleGraph(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	switch format := req.GetString("format", "text"); format {
	case "text":
		return mcp.NewToolResultText(strings.Join(s.graph.Describe(), "\n")), nil
	case "mermaid":
		return mcp.NewToolResultText(s.graph.Mermaid()), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format: %s", format)), nil
	}
}

// --- Internal helpers ---

// watchRun polls a run's job record and pushes a notification to the owning
// session when the run pauses for review or finishes. A run that is still
// processing after watchTimeout is silently dropped; the session can always
// poll onboard.status.
func (s *VelocityServer) watchRun(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), watchTimeout)
	defer cancel()

	ticker := time.NewTicker(s.watchTick)
	defer ticker.Stop()

	var lastStatus schema.JobStatus
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, err := s.manager.Status(ctx, runID)
		if err != nil {
			s.logger.Warn("run watch failed", slog.String("run_id", runID), slog.Any("error", err))
			return
		}
		if job.Status == lastStatus {
			continue
		}
		lastStatus = job.Status

		switch job.Status {
		case schema.JobStatusNeedsReview, schema.JobStatusCompleted, schema.JobStatusFailed:
			payload := map[string]any{
				"event":  "run_status_changed",
				"run_id": runID,
				"status": job.Status,
				"stage":  job.Stage,
			}
			if job.ErrorMessage != "" {
				payload["error_message"] = job.ErrorMessage
			}
			if notifyErr := s.notifier.Notify(ctx, runID, payload); notifyErr != nil {
				s.logger.Warn("run notification failed", slog.String("run_id", runID), slog.Any("error", notifyErr))
			}
			if job.Status.IsTerminal() {
				s.sessions.Forget(runID)
			}
			// A review pause also ends the watch; resume restarts it.
			return
		}
	}
}

// jobView projects a job record into the wire shape shared with the HTTP API.
func jobView(job *store.Job) map[string]any {
	view := map[string]any{
		"run_id":      job.RunID,
		"merchant_id": job.MerchantID,
		"status":      job.Status,
		"stage":       job.Stage,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	}
	if job.ErrorMessage != "" {
		view["error_message"] = job.ErrorMessage
	}
	if len(job.Result) > 0 {
		view["result"] = json.RawMessage(job.Result)
	}
	return view
}

// captureSession maps the run ID to the calling MCP session for notifications.
func (s *VelocityServer) captureSession(ctx context.Context, runID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(runID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
