// Package jobs owns the background run lifecycle: submission, resumption
// after review, and the pollable job projection.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/velocityhq/velocity/internal/graph"
	"github.com/velocityhq/velocity/internal/ledger"
	"github.com/velocityhq/velocity/internal/logging"
	"github.com/velocityhq/velocity/internal/secrets"
	"github.com/velocityhq/velocity/internal/store"
	"github.com/velocityhq/velocity/internal/validation"
	"github.com/velocityhq/velocity/pkg/schema"
)

// Manager coordinates run submission and resumption. Execution happens on
// the worker pool against a base context so client disconnects cannot kill
// an in-flight run.
type Manager struct {
	baseCtx   context.Context
	store     store.Store
	router    *graph.Router
	ledger    *ledger.Ledger
	validator validation.Validator
	pool      *WorkerPool
	sealer    secrets.Sealer
	logger    *slog.Logger
}

// NewManager creates a Manager. baseCtx scopes all background execution.
func NewManager(baseCtx context.Context, st store.Store, router *graph.Router, led *ledger.Ledger, v validation.Validator, pool *WorkerPool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		baseCtx:   baseCtx,
		store:     st,
		router:    router,
		ledger:    led,
		validator: v,
		pool:      pool,
		logger:    logger,
	}
}

// WithSealer installs a credential sealer. Sensitive application fields are
// encrypted before the first checkpoint is written.
func (m *Manager) WithSealer(s secrets.Sealer) *Manager {
	m.sealer = s
	return m
}

// NewRunID returns a short opaque run identifier.
func NewRunID() string {
	return "run_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// Submit validates an application, seeds the run's first checkpoint and job
// record, and dispatches execution. Returns the new run ID. Optional
// simulate flags ride along on the run state and steer tool outcomes for
// this run only.
func (m *Manager) Submit(ctx context.Context, merchantID string, application map[string]any, simulate ...string) (string, error) {
	if merchantID == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "merchant_id is required")
	}
	if err := m.validator.ValidateApplication(application); err != nil {
		return "", err
	}
	if err := secrets.SealApplication(m.sealer, application); err != nil {
		return "", err
	}

	runID := NewRunID()
	state := &schema.RunState{
		RunID:           runID,
		MerchantID:      merchantID,
		Stage:           schema.StageInput,
		Status:          schema.RunStatusInProgress,
		ApplicationData: application,
	}
	if len(simulate) > 0 {
		state.Extra = map[string]any{"sim_overrides": simulate}
	}

	err := m.store.SaveCheckpoint(ctx, &store.Checkpoint{
		RunID: runID,
		Seq:   1,
		Stage: schema.StageInput,
		State: state,
	})
	if err != nil {
		return "", err
	}

	err = m.store.CreateJob(ctx, &store.Job{
		RunID:      runID,
		MerchantID: merchantID,
		Status:     schema.JobStatusQueued,
		Stage:      schema.StageInput,
	})
	if err != nil {
		return "", err
	}

	m.logger.InfoContext(ctx, "run submitted", "run_id", runID, "merchant_id", merchantID)
	return runID, m.dispatch(runID)
}

// Resume merges merchant corrections into a run parked in NEEDS_REVIEW,
// resolves the action items the corrections address, and re-dispatches
// execution from the top of the graph. Returns how many application fields
// the corrections actually changed.
func (m *Manager) Resume(ctx context.Context, runID string, corrections map[string]any, userMessage string) (int, error) {
	job, err := m.store.GetJob(ctx, runID)
	if err != nil {
		return 0, err
	}
	if !CanTransition(job.Status, schema.JobStatusProcessing) {
		return 0, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"run %s cannot be resumed from status %s", runID, job.Status)
	}

	fieldsUpdated := 0
	if len(corrections) > 0 {
		if err := secrets.SealApplication(m.sealer, corrections); err != nil {
			return 0, err
		}
		fieldsUpdated, err = m.store.UpdateApplicationData(ctx, runID, corrections)
		if err != nil {
			return 0, err
		}
		m.logger.InfoContext(ctx, "corrections merged", "run_id", runID, "fields", fieldsUpdated)

		// Items whose field the merchant corrected are considered addressed;
		// the re-run decides whether the correction actually holds.
		if err := m.resolveCorrected(ctx, runID, corrections); err != nil {
			return 0, err
		}
	}

	if userMessage != "" {
		if err := m.appendNote(ctx, runID, fmt.Sprintf("Merchant: %s", userMessage)); err != nil {
			return 0, err
		}
	}

	return fieldsUpdated, m.dispatch(runID)
}

// Status returns the pollable job record.
func (m *Manager) Status(ctx context.Context, runID string) (*store.Job, error) {
	return m.store.GetJob(ctx, runID)
}

// List returns job records matching the filter.
func (m *Manager) List(ctx context.Context, filter store.JobFilter) ([]*store.Job, error) {
	return m.store.ListJobs(ctx, filter)
}

// Shutdown drains the worker pool.
func (m *Manager) Shutdown() {
	m.pool.Shutdown()
}

// dispatch hands the run to the worker pool under the manager's base context.
// The job record is already QUEUED in the store, so the hand-off must not
// hold the caller while the pool drains a slot.
func (m *Manager) dispatch(runID string) error {
	return m.pool.Dispatch(m.baseCtx, func(ctx context.Context) error {
		ctx = logging.WithRunID(ctx, runID)
		if err := m.router.Run(ctx, runID); err != nil {
			m.logger.ErrorContext(ctx, "run execution failed", "run_id", runID, "error", err)
			return err
		}
		return nil
	})
}

// resolveCorrected resolves open items whose FieldToUpdate path appears as
// a leaf in the corrections payload.
func (m *Manager) resolveCorrected(ctx context.Context, runID string, corrections map[string]any) error {
	paths := map[string]bool{}
	flattenPaths("", corrections, paths)

	open, err := m.ledger.Open(ctx, runID)
	if err != nil {
		return err
	}

	var ids []string
	for _, it := range open {
		if it.FieldToUpdate != "" && coveredBy(it.FieldToUpdate, paths) {
			ids = append(ids, it.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	resolved, err := m.ledger.Resolve(ctx, runID, ids)
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "action items resolved by corrections",
		"run_id", runID, "resolved", resolved)
	return nil
}

// appendNote writes a checkpoint whose only change is an audit note.
func (m *Manager) appendNote(ctx context.Context, runID, note string) error {
	cp, err := m.store.LatestCheckpoint(ctx, runID)
	if err != nil {
		return err
	}
	state := cp.State.Clone()
	state.Notes = append(state.Notes, note)
	return m.store.SaveCheckpoint(ctx, &store.Checkpoint{
		RunID: runID,
		Seq:   cp.Seq + 1,
		Stage: cp.Stage,
		State: state,
	})
}

// flattenPaths walks a nested corrections map and records the dotted path
// of every non-empty leaf.
func flattenPaths(prefix string, m map[string]any, out map[string]bool) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flattenPaths(path, val, out)
		case nil:
			// ignored leaf
		case string:
			if val != "" {
				out[path] = true
			}
		default:
			out[path] = true
		}
	}
}

// coveredBy reports whether a field path or one of its ancestors was
// corrected (correcting "bank_details" covers "bank_details.ifsc").
func coveredBy(field string, paths map[string]bool) bool {
	if paths[field] {
		return true
	}
	for p := range paths {
		if strings.HasPrefix(field, p+".") || strings.HasPrefix(p, field+".") {
			return true
		}
	}
	return false
}
