package streaming

import (
	"context"

	"github.com/velocityhq/velocity/pkg/schema"
)

// Event types published while a run walks the verification graph.
const (
	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventItemsAppended  = "items_appended"
	EventRunPaused      = "run_paused"
	EventRunCompleted   = "run_completed"
	EventRunRejected    = "run_rejected"
	EventRunFailed      = "run_failed"
)

// RunEvent is a real-time event emitted during run execution.
type RunEvent struct {
	RunID     string       `json:"run_id"`
	Stage     schema.Stage `json:"stage,omitempty"`
	EventType string       `json:"event_type"`
	Payload   any          `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error)
}
