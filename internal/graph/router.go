package graph

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/velocityhq/velocity/internal/expressions"
	"github.com/velocityhq/velocity/internal/ledger"
	"github.com/velocityhq/velocity/internal/logging"
	"github.com/velocityhq/velocity/internal/store"
	"github.com/velocityhq/velocity/internal/streaming"
	"github.com/velocityhq/velocity/internal/tools"
	"github.com/velocityhq/velocity/pkg/schema"
)

// Router walks a run through the graph. Every step loads the latest
// checkpoint, executes one node, appends new action items, and writes the
// successor checkpoint at seq+1. The UNIQUE(run_id, seq) constraint is the
// only concurrency guard: a writer that loses the race aborts.
type Router struct {
	graph  *Graph
	store  store.Store
	ledger *ledger.Ledger
	cel    *expressions.CELEngine
	hub    streaming.EventHub
	logger *slog.Logger

	// maxRetries caps fixer loop entries before the run is rejected.
	maxRetries int

	// stepTimeout bounds a single node execution.
	stepTimeout time.Duration
}

// RouterOptions configures a Router.
type RouterOptions struct {
	MaxRetries  int
	StepTimeout time.Duration

	// Hub receives run events as the walk progresses. Nil disables streaming.
	Hub streaming.EventHub
}

// NewRouter creates a Router. Zero option fields fall back to 3 retries and
// a 60s step timeout.
func NewRouter(g *Graph, st store.Store, led *ledger.Ledger, cel *expressions.CELEngine, logger *slog.Logger, opts RouterOptions) *Router {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{
		graph:       g,
		store:       st,
		ledger:      led,
		cel:         cel,
		hub:         opts.Hub,
		logger:      logger,
		maxRetries:  opts.MaxRetries,
		stepTimeout: opts.StepTimeout,
	}
}

// Run executes from the run's latest checkpoint until the walk interrupts,
// terminates, or fails. The job projection is kept current throughout.
func (r *Router) Run(ctx context.Context, runID string) error {
	cp, err := r.store.LatestCheckpoint(ctx, runID)
	if err != nil {
		return err
	}
	state := cp.State.Clone()
	seq := cp.Seq
	ctx = logging.WithIDs(ctx, runID, string(state.Stage), state.MerchantID)

	if state.Status == schema.RunStatusCompleted || state.Status == schema.RunStatusRejected {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"run %s already finished with status %s", runID, state.Status)
	}

	// A resumed run re-enters the loop out of review.
	if state.Status == schema.RunStatusNeedsReview {
		state.Status = schema.RunStatusInProgress
		state.Notes = append(state.Notes, "Resumed after merchant review")
	}

	if err := r.setJob(ctx, runID, schema.JobStatusProcessing, state.Stage, nil); err != nil {
		return err
	}

	for {
		node, err := r.graph.Node(state.Stage)
		if err != nil {
			return r.failJob(ctx, runID, err)
		}

		// Rejection check before another fixer loop starts.
		if node.Stage == schema.StageFixer && state.RetryCount >= r.maxRetries {
			return r.reject(ctx, runID, state, seq)
		}

		r.publish(ctx, runID, node.Stage, streaming.EventStageStarted, nil)

		result, err := r.executeNode(ctx, node, state)
		if err != nil {
			r.logger.ErrorContext(ctx, "stage execution failed",
				"stage", node.Stage, "error", err)
			return r.failJob(ctx, runID, err)
		}

		appended, err := r.ledger.Append(ctx, runID, result.ActionItems)
		if err != nil {
			return r.failJob(ctx, runID, err)
		}
		if appended > 0 {
			r.publish(ctx, runID, node.Stage, streaming.EventItemsAppended,
				map[string]any{"count": appended})
		}

		result.Apply(state)

		next, err := r.route(ctx, node, result, state)
		if err != nil {
			return r.failJob(ctx, runID, err)
		}
		if !node.Terminal {
			state.Stage = next
		}

		seq++
		err = r.store.SaveCheckpoint(ctx, &store.Checkpoint{
			RunID: runID,
			Seq:   seq,
			Stage: node.Stage,
			State: state,
		})
		if err != nil {
			var engErr *schema.EngineError
			if errors.As(err, &engErr) && engErr.Code == schema.ErrCodeSequenceConflict {
				// Another writer advanced the run; this walk is stale.
				r.logger.WarnContext(ctx, "checkpoint sequence conflict, aborting walk",
					"seq", seq)
				return err
			}
			return r.failJob(ctx, runID, err)
		}

		r.logger.InfoContext(ctx, "stage completed",
			"stage", node.Stage, "next", next, "seq", seq, "status", state.Status)
		r.publish(ctx, runID, node.Stage, streaming.EventStageCompleted,
			map[string]any{"seq": seq, "next": next, "status": state.Status})

		switch {
		case node.Terminal:
			return r.complete(ctx, runID, state)
		case node.Interrupt:
			return r.interrupt(ctx, runID, state)
		}
	}
}

// executeNode runs one handler under the step timeout with panic capture.
func (r *Router) executeNode(ctx context.Context, node *Node, state *schema.RunState) (result *schema.StageResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = schema.NewErrorf(schema.ErrCodeExecution, "stage panicked: %v", rec).
				WithStage(string(node.Stage))
		}
	}()

	stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	defer cancel()
	stepCtx = logging.WithStage(stepCtx, string(node.Stage))
	if flags := simOverrides(state); len(flags) > 0 {
		stepCtx = tools.WithSimFlags(stepCtx, flags...)
	}

	openItems, err := r.ledger.Open(stepCtx, state.RunID)
	if err != nil {
		return nil, err
	}

	return node.Handler.Execute(stepCtx, state.Clone(), openItems)
}

// simOverrides reads the per-run simulation flags a submission attached to
// the run state. A JSON round-trip through the checkpoint turns the slice
// into []any, so both shapes are accepted.
func simOverrides(state *schema.RunState) []string {
	switch v := state.Extra["sim_overrides"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, f := range v {
			if s, ok := f.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// route resolves the successor stage for an executed node.
func (r *Router) route(ctx context.Context, node *Node, result *schema.StageResult, state *schema.RunState) (schema.Stage, error) {
	if node.Terminal {
		return node.Stage, nil
	}

	if node.Edge == "" {
		// Explicit handler hints only apply to edge-less nodes.
		if result.NextStage != "" {
			return result.NextStage, nil
		}
		return node.Next, nil
	}

	summary, err := r.ledger.Summary(ctx, state.RunID)
	if err != nil {
		return "", err
	}

	ok, err := r.cel.EvaluateBool(ctx, node.Edge, map[string]any{
		"flags": map[string]any{
			"auth_valid":        state.Flags.AuthValid,
			"doc_verified":      state.Flags.DocVerified,
			"bank_verified":     state.Flags.BankVerified,
			"website_compliant": state.Flags.WebsiteCompliant,
		},
		"run": map[string]any{
			"run_id":      state.RunID,
			"stage":       string(node.Stage),
			"status":      string(state.Status),
			"risk_score":  state.RiskScore,
			"retry_count": state.RetryCount,
		},
		"application": state.ApplicationData,
		"items": map[string]any{
			"total":    summary.Total,
			"blocking": summary.Blocking,
			"warning":  summary.Warning,
			"resolved": summary.Resolved,
		},
	})
	if err != nil {
		return "", schema.NewError(schema.ErrCodeExecution, "edge predicate failed").
			WithCause(err).WithStage(string(node.Stage))
	}

	if ok {
		return node.Then, nil
	}
	return node.Else, nil
}

// interrupt parks the run for merchant review.
func (r *Router) interrupt(ctx context.Context, runID string, state *schema.RunState) error {
	r.logger.InfoContext(ctx, "run interrupted for review",
		"risk_score", state.RiskScore, "retry_count", state.RetryCount)
	r.publish(ctx, runID, state.Stage, streaming.EventRunPaused,
		map[string]any{"risk_score": state.RiskScore, "retry_count": state.RetryCount})
	return r.setJob(ctx, runID, schema.JobStatusNeedsReview, state.Stage, state)
}

// complete records the final outcome on the job projection. A successful
// run closes out whatever advisory items are still open; there is nothing
// left for a merchant to act on.
func (r *Router) complete(ctx context.Context, runID string, state *schema.RunState) error {
	if state.Status == schema.RunStatusCompleted {
		if n, err := r.ledger.ResolveAllOpen(ctx, runID); err != nil {
			r.logger.WarnContext(ctx, "resolving leftover items failed", "error", err)
		} else if n > 0 {
			r.logger.InfoContext(ctx, "resolved leftover items on completion", "count", n)
		}
	}
	r.logger.InfoContext(ctx, "run completed", "status", state.Status)
	r.publish(ctx, runID, state.Stage, streaming.EventRunCompleted,
		map[string]any{"status": state.Status})
	return r.setJob(ctx, runID, schema.JobStatusCompleted, state.Stage, state)
}

// reject finishes a run whose fixer loop budget is spent.
func (r *Router) reject(ctx context.Context, runID string, state *schema.RunState, seq int64) error {
	state.Status = schema.RunStatusRejected
	state.Notes = append(state.Notes, "Retry budget exhausted, application rejected")

	err := r.store.SaveCheckpoint(ctx, &store.Checkpoint{
		RunID: runID,
		Seq:   seq + 1,
		Stage: schema.StageFixer,
		State: state,
	})
	if err != nil {
		return r.failJob(ctx, runID, err)
	}

	r.logger.WarnContext(ctx, "run rejected", "retry_count", state.RetryCount)
	r.publish(ctx, runID, schema.StageFixer, streaming.EventRunRejected,
		map[string]any{"retry_count": state.RetryCount})
	return r.setJob(ctx, runID, schema.JobStatusCompleted, schema.StageFixer, state)
}

// setJob updates the pollable job projection. When state is non-nil a result
// snapshot is attached.
func (r *Router) setJob(ctx context.Context, runID string, status schema.JobStatus, stage schema.Stage, state *schema.RunState) error {
	update := store.JobUpdate{
		Status: &status,
		Stage:  &stage,
	}
	if state != nil {
		snapshot, err := json.Marshal(resultSnapshot(state))
		if err != nil {
			return schema.NewError(schema.ErrCodeStore, "marshal job result").WithCause(err)
		}
		update.Result = snapshot
	}
	return r.store.UpdateJob(ctx, runID, update)
}

func (r *Router) failJob(ctx context.Context, runID string, cause error) error {
	status := schema.JobStatusFailed
	msg := cause.Error()
	if err := r.store.UpdateJob(ctx, runID, store.JobUpdate{
		Status:       &status,
		ErrorMessage: &msg,
	}); err != nil {
		r.logger.ErrorContext(ctx, "failed to mark job failed", "error", err)
	}
	r.publish(ctx, runID, "", streaming.EventRunFailed,
		map[string]any{"error": cause.Error()})
	return cause
}

// publish emits a run event when a hub is attached. Delivery is best-effort.
func (r *Router) publish(ctx context.Context, runID string, stage schema.Stage, eventType string, payload any) {
	if r.hub == nil {
		return
	}
	_ = r.hub.Publish(ctx, streaming.RunEvent{
		RunID:     runID,
		Stage:     stage,
		EventType: eventType,
		Payload:   payload,
	})
}

// resultSnapshot is the job-facing summary of a run's state.
func resultSnapshot(state *schema.RunState) map[string]any {
	out := map[string]any{
		"run_id":      state.RunID,
		"merchant_id": state.MerchantID,
		"status":      state.Status,
		"stage":       state.Stage,
		"risk_score":  state.RiskScore,
		"flags":       state.Flags,
		"notes":       state.Notes,
		"retry_count": state.RetryCount,
	}
	if state.LastError != "" {
		out["last_error"] = state.LastError
	}
	if hints, ok := state.Extra["correction_hints"]; ok {
		out["correction_hints"] = hints
	}
	if plan, ok := state.Extra["correction_plan"]; ok {
		out["correction_plan"] = plan
	}
	return out
}
