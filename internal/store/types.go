package store

import (
	"encoding/json"
	"time"

	"github.com/velocityhq/velocity/pkg/schema"
)

// Checkpoint is an immutable snapshot of a run's full state, written after
// every stage transition. Ordered per run by Seq; the latest one is the only
// resume point.
type Checkpoint struct {
	RunID     string           `json:"run_id"`
	Seq       int64            `json:"seq"`
	Stage     schema.Stage     `json:"stage"`
	State     *schema.RunState `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
}

// Job is the pollable execution-tracking record for a run. It shares the
// run's external ID and is a cache of progress, not a source of truth.
type Job struct {
	RunID        string           `json:"run_id"`
	MerchantID   string           `json:"merchant_id"`
	Status       schema.JobStatus `json:"status"`
	Stage        schema.Stage     `json:"stage"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Result       json.RawMessage  `json:"result,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// JobUpdate specifies mutable fields of a job record.
type JobUpdate struct {
	Status       *schema.JobStatus `json:"status,omitempty"`
	Stage        *schema.Stage     `json:"stage,omitempty"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
}

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status        *schema.JobStatus `json:"status,omitempty"`
	MerchantID    string            `json:"merchant_id,omitempty"`
	UpdatedBefore *time.Time        `json:"updated_before,omitempty"`
	Limit         int               `json:"limit,omitempty"`
	Offset        int               `json:"offset,omitempty"`
}
