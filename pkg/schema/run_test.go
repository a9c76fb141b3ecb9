package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusIsTerminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.False(t, JobStatusQueued.IsTerminal())
	assert.False(t, JobStatusProcessing.IsTerminal())
	assert.False(t, JobStatusNeedsReview.IsTerminal())
}

func TestRunStateClone(t *testing.T) {
	orig := &RunState{
		RunID:  "run_1",
		Stage:  StageDocs,
		Status: RunStatusInProgress,
		ApplicationData: map[string]any{
			"business_details": map[string]any{"pan": "ABCPE1234F"},
			"tags":             []any{"a", "b"},
		},
		Notes: []string{"first"},
		Extra: map[string]any{"k": "v"},
	}

	cp := orig.Clone()

	// Mutating the clone must not leak back into the original.
	cp.ApplicationData["business_details"].(map[string]any)["pan"] = "CHANGED"
	cp.Notes = append(cp.Notes, "second")
	cp.Extra["k"] = "changed"

	assert.Equal(t, "ABCPE1234F", orig.ApplicationData["business_details"].(map[string]any)["pan"])
	assert.Equal(t, []string{"first"}, orig.Notes)
	assert.Equal(t, "v", orig.Extra["k"])
}

func TestRunStateCloneNilMaps(t *testing.T) {
	orig := &RunState{RunID: "run_1"}
	cp := orig.Clone()
	assert.Nil(t, cp.ApplicationData)
	assert.Nil(t, cp.Extra)
}

func TestStageResultApply(t *testing.T) {
	state := &RunState{
		RunID:  "run_1",
		Stage:  StageBank,
		Status: RunStatusInProgress,
		Notes:  []string{"existing"},
	}

	result := &StageResult{
		Update: StateUpdate{
			Status:       StatusPtr(RunStatusNeedsReview),
			RiskScore:    Float(0.7),
			RetryCount:   Int(2),
			BankVerified: Bool(true),
			Extra:        map[string]any{"correction_plan": []string{"fix pan"}},
		},
		Notes: []string{"bank checked"},
	}
	result.Apply(state)

	assert.Equal(t, RunStatusNeedsReview, state.Status)
	assert.Equal(t, 0.7, state.RiskScore)
	assert.Equal(t, 2, state.RetryCount)
	assert.True(t, state.Flags.BankVerified)
	assert.False(t, state.Flags.AuthValid)
	assert.Equal(t, []string{"existing", "bank checked"}, state.Notes)
	assert.Contains(t, state.Extra, "correction_plan")

	// The stage cursor is untouched by an empty Stage pointer.
	assert.Equal(t, StageBank, state.Stage)
}

func TestStageResultApplyEmptyUpdate(t *testing.T) {
	state := &RunState{
		RunID:     "run_1",
		Status:    RunStatusInProgress,
		RiskScore: 0.4,
		Flags:     OutcomeFlags{AuthValid: true},
	}

	(&StageResult{}).Apply(state)

	assert.Equal(t, RunStatusInProgress, state.Status)
	assert.Equal(t, 0.4, state.RiskScore)
	assert.True(t, state.Flags.AuthValid)
	assert.Empty(t, state.Notes)
}
