// Package ledger exposes the append-only action item ledger for a run.
// Items are deduplicated by ID on insert and never deleted; resolving an
// item only records the resolution fact.
package ledger

import (
	"context"
	"log/slog"

	"github.com/velocityhq/velocity/internal/store"
	"github.com/velocityhq/velocity/pkg/schema"
)

// Ledger wraps the store's action item operations with dedup and
// summarization semantics.
type Ledger struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Ledger. logger may be nil for a no-op logger.
func New(st store.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ledger{store: st, logger: logger}
}

// Append merges new items into the run's ledger. Items whose ID already
// exists are silently skipped so stage retries cannot duplicate entries.
// Returns the number of newly inserted items.
func (l *Ledger) Append(ctx context.Context, runID string, items []schema.ActionItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	inserted, err := l.store.InsertActionItems(ctx, runID, items)
	if err != nil {
		return 0, err
	}

	if inserted < len(items) {
		l.logger.DebugContext(ctx, "skipped duplicate action items",
			"run_id", runID, "offered", len(items), "inserted", inserted)
	}
	return inserted, nil
}

// Resolve marks the given items resolved. Already resolved items keep their
// original resolution timestamp; unknown IDs are ignored. Returns how many
// items transitioned to resolved by this call.
func (l *Ledger) Resolve(ctx context.Context, runID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return l.store.ResolveActionItems(ctx, runID, ids)
}

// ResolveAllOpen resolves every unresolved item on the run. Used when a
// resume's corrections clear the underlying issues wholesale.
func (l *Ledger) ResolveAllOpen(ctx context.Context, runID string) (int, error) {
	open, err := l.Open(ctx, runID)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(open))
	for _, it := range open {
		ids = append(ids, it.ID)
	}
	return l.Resolve(ctx, runID, ids)
}

// List returns the run's items, BLOCKING before WARNING, oldest first
// within a severity. includeResolved adds resolved items to the view.
func (l *Ledger) List(ctx context.Context, runID string, includeResolved bool) ([]schema.ActionItem, error) {
	return l.store.ListActionItems(ctx, runID, includeResolved)
}

// Open returns only the unresolved items.
func (l *Ledger) Open(ctx context.Context, runID string) ([]schema.ActionItem, error) {
	return l.store.ListActionItems(ctx, runID, false)
}

// Summary aggregates the full ledger, resolved items included.
func (l *Ledger) Summary(ctx context.Context, runID string) (schema.ItemSummary, error) {
	items, err := l.store.ListActionItems(ctx, runID, true)
	if err != nil {
		return schema.ItemSummary{}, err
	}
	return schema.Summarize(items), nil
}

// HasBlocking reports whether any unresolved BLOCKING item remains.
func (l *Ledger) HasBlocking(ctx context.Context, runID string) (bool, error) {
	open, err := l.Open(ctx, runID)
	if err != nil {
		return false, err
	}
	for _, it := range open {
		if it.Severity == schema.SeverityBlocking {
			return true, nil
		}
	}
	return false, nil
}
