package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/velocityhq/velocity/pkg/schema"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to schema.JobStatus
		want     bool
	}{
		{schema.JobStatusQueued, schema.JobStatusProcessing, true},
		{schema.JobStatusQueued, schema.JobStatusFailed, true},
		{schema.JobStatusQueued, schema.JobStatusCompleted, false},
		{schema.JobStatusProcessing, schema.JobStatusNeedsReview, true},
		{schema.JobStatusProcessing, schema.JobStatusCompleted, true},
		{schema.JobStatusProcessing, schema.JobStatusProcessing, true},
		{schema.JobStatusNeedsReview, schema.JobStatusProcessing, true},
		{schema.JobStatusNeedsReview, schema.JobStatusCompleted, false},
		{schema.JobStatusCompleted, schema.JobStatusProcessing, false},
		{schema.JobStatusFailed, schema.JobStatusProcessing, false},
		{schema.JobStatus("BOGUS"), schema.JobStatusProcessing, false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatusesAllowNothing(t *testing.T) {
	for _, from := range []schema.JobStatus{schema.JobStatusCompleted, schema.JobStatusFailed} {
		assert.Empty(t, ValidJobTransitions[from])
		assert.True(t, from.IsTerminal())
	}
}
