package jobs

import "github.com/velocityhq/velocity/pkg/schema"

// ValidJobTransitions is the job status transition table. COMPLETED and
// FAILED are terminal.
var ValidJobTransitions = map[schema.JobStatus][]schema.JobStatus{
	schema.JobStatusQueued: {
		schema.JobStatusProcessing,
		schema.JobStatusFailed,
	},
	schema.JobStatusProcessing: {
		schema.JobStatusNeedsReview,
		schema.JobStatusCompleted,
		schema.JobStatusFailed,
		schema.JobStatusProcessing,
	},
	schema.JobStatusNeedsReview: {
		schema.JobStatusProcessing,
		schema.JobStatusFailed,
	},
	schema.JobStatusCompleted: {},
	schema.JobStatusFailed:    {},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to schema.JobStatus) bool {
	allowed, ok := ValidJobTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}
