package store

import (
	"context"

	"github.com/velocityhq/velocity/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Checkpoints (append-only)
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	LatestCheckpoint(ctx context.Context, runID string) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, runID string) ([]*Checkpoint, error)
	UpdateApplicationData(ctx context.Context, runID string, partial map[string]any) (int, error)

	// Jobs (pollable projection)
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, runID string) (*Job, error)
	UpdateJob(ctx context.Context, runID string, update JobUpdate) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// Action items (append-only ledger rows)
	InsertActionItems(ctx context.Context, runID string, items []schema.ActionItem) (int, error)
	ResolveActionItems(ctx context.Context, runID string, ids []string) (int, error)
	ListActionItems(ctx context.Context, runID string, includeResolved bool) ([]schema.ActionItem, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
