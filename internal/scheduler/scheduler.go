// Package scheduler runs the periodic review-reminder sweep: runs parked in
// NEEDS_REVIEW longer than the stale window get a reminder notification.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/velocityhq/velocity/internal/ledger"
	"github.com/velocityhq/velocity/internal/store"
	"github.com/velocityhq/velocity/internal/tools"
	"github.com/velocityhq/velocity/pkg/schema"
)

// Options configures the sweep cadence and the stale window.
type Options struct {
	// CronExpr is a standard 5-field cron expression for sweep times.
	CronExpr string

	// StaleAfter is how long a run may sit in NEEDS_REVIEW before a
	// reminder goes out.
	StaleAfter time.Duration
}

// Scheduler wakes on a cron schedule and sends review reminders for stale
// runs via the notification tools.
type Scheduler struct {
	store    store.Store
	ledger   *ledger.Ledger
	registry *tools.Registry
	parser   cron.Parser
	logger   *slog.Logger
	opts     Options

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	// reminded dedups within the process so one stale run does not get a
	// reminder on every tick between sweeps.
	remindedMu sync.Mutex
	reminded   map[string]time.Time
}

// New creates a Scheduler. Empty options default to a daily 09:00 sweep and
// a 24h stale window.
func New(s store.Store, led *ledger.Ledger, registry *tools.Registry, logger *slog.Logger, opts Options) *Scheduler {
	if opts.CronExpr == "" {
		opts.CronExpr = "0 9 * * *"
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		store:    s,
		ledger:   led,
		registry: registry,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		opts:     opts,
		reminded: make(map[string]time.Time),
	}
}

// Start launches the background loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	next, err := s.CalculateNextRun(s.opts.CronExpr, time.Now().UTC())
	if err != nil {
		s.mu.Unlock()
		return err
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx, next)
	s.logger.Info("reminder scheduler started",
		slog.String("cron", s.opts.CronExpr),
		slog.Time("next_sweep", next))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, next time.Time) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			if now.Before(next) {
				continue
			}
			s.Sweep(ctx)
			var err error
			next, err = s.CalculateNextRun(s.opts.CronExpr, now)
			if err != nil {
				s.logger.Error("failed to schedule next sweep", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// Sweep sends reminders for all runs stale in NEEDS_REVIEW. Exported so the
// debug surface can trigger it on demand.
func (s *Scheduler) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.opts.StaleAfter)
	status := schema.JobStatusNeedsReview
	jobs, err := s.store.ListJobs(ctx, store.JobFilter{
		Status:        &status,
		UpdatedBefore: &cutoff,
	})
	if err != nil {
		s.logger.Error("failed to list stale reviews", slog.String("error", err.Error()))
		return
	}

	sent := 0
	for _, job := range jobs {
		if !s.shouldRemind(job.RunID, job.UpdatedAt) {
			continue
		}
		if err := s.remind(ctx, job); err != nil {
			s.logger.Error("reminder failed",
				slog.String("run_id", job.RunID),
				slog.String("error", err.Error()))
			continue
		}
		sent++
	}

	if len(jobs) > 0 {
		s.logger.Info("review reminder sweep finished",
			slog.Int("stale", len(jobs)), slog.Int("sent", sent))
	}
}

func (s *Scheduler) remind(ctx context.Context, job *store.Job) error {
	// A paused run with nothing blocking has no action for the merchant,
	// so there is nothing worth nagging them about.
	blocking, err := s.ledger.HasBlocking(ctx, job.RunID)
	if err != nil {
		return err
	}
	if !blocking {
		s.markReminded(job.RunID)
		return nil
	}

	summary, err := s.ledger.Summary(ctx, job.RunID)
	if err != nil {
		return err
	}

	res := s.registry.Call(ctx, "send_review_reminder", map[string]any{
		"merchant_id":    job.MerchantID,
		"run_id":         job.RunID,
		"blocking_items": summary.Blocking,
	})
	if !res.Success {
		return schema.NewError(schema.ErrCodeToolFailed, res.Error)
	}

	s.markReminded(job.RunID)
	return nil
}

// shouldRemind dedups reminders: one per run per stale period, reset when
// the job record moves again.
func (s *Scheduler) shouldRemind(runID string, updatedAt time.Time) bool {
	s.remindedMu.Lock()
	defer s.remindedMu.Unlock()
	last, ok := s.reminded[runID]
	if !ok {
		return true
	}
	return updatedAt.After(last)
}

func (s *Scheduler) markReminded(runID string) {
	s.remindedMu.Lock()
	defer s.remindedMu.Unlock()
	s.reminded[runID] = time.Now().UTC()
}

// CalculateNextRun computes the next sweep time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("reminder scheduler stopped")
	return nil
}
