package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendReviewReminder(t *testing.T) {
	data := callTool(t, SendReviewReminder(), nil, map[string]any{
		"merchant_id": "merch_123",
		"run_id":      "run_abc",
	})
	require.Equal(t, true, data["delivered"])
	assert.Regexp(t, `^msg_[0-9a-f-]{8}$`, data["message_id"])
	assert.Equal(t, "email", data["channel"])
}

func TestSendReviewReminderProviderDown(t *testing.T) {
	sim := NewSimulation()
	sim.Set("notify_fail", true)

	_, err := SendReviewReminder().Run(context.Background(), Input{
		Params: map[string]any{"merchant_id": "m", "run_id": "r"},
		Sim:    sim,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
}

func TestSendCompletionEmail(t *testing.T) {
	data := callTool(t, SendCompletionEmail(), nil, map[string]any{
		"merchant_id": "merch_123",
		"run_id":      "run_abc",
		"outcome":     "COMPLETED",
	})
	require.Equal(t, true, data["delivered"])
	assert.Equal(t, "COMPLETED", data["outcome"])
}

func TestSendCompletionEmailProviderDown(t *testing.T) {
	sim := NewSimulation()
	sim.Set("notify_fail", true)

	_, err := SendCompletionEmail().Run(context.Background(), Input{
		Params: map[string]any{"merchant_id": "m", "run_id": "r", "outcome": "REJECTED"},
		Sim:    sim,
	})
	require.Error(t, err)
}
