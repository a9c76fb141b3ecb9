package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velocityhq/velocity/internal/tools"
	"github.com/velocityhq/velocity/pkg/schema"
)

func inputState(pan, gstin string) *schema.RunState {
	return appState(map[string]any{
		"business_details": map[string]any{
			"pan":         pan,
			"gstin":       gstin,
			"entity_type": "proprietorship",
		},
	})
}

func TestInputValidApplication(t *testing.T) {
	h := NewInput(newDeps(t, nil))

	res, err := h.Execute(context.Background(), inputState("ABCPE1234F", "27ABCPE1234F1Z5"), nil)
	require.NoError(t, err)

	require.NotNil(t, res.Update.AuthValid)
	assert.True(t, *res.Update.AuthValid)
	assert.Equal(t, schema.StageInput, *res.Update.Stage)
	assert.Empty(t, res.ActionItems)
	assert.Contains(t, res.Notes, "PAN valid: Individual")
	assert.Contains(t, res.Notes, "GSTIN valid: state 27")
	assert.Contains(t, res.Notes, "Processing proprietorship merchant")
	assert.Contains(t, res.Notes, "Basic data validation passed")
}

func TestInputRejectsMalformedIdentifiers(t *testing.T) {
	h := NewInput(newDeps(t, nil))

	res, err := h.Execute(context.Background(), inputState("INVALID", ""), nil)
	require.NoError(t, err)

	require.NotNil(t, res.Update.AuthValid)
	assert.False(t, *res.Update.AuthValid)
	assert.Equal(t, "input validation failed", *res.Update.LastError)
	require.Len(t, res.ActionItems, 2)

	pan := res.ActionItems[0]
	assert.Equal(t, "Correct PAN number", pan.Title)
	assert.Equal(t, schema.SeverityBlocking, pan.Severity)
	assert.Equal(t, "business_details.pan", pan.FieldToUpdate)
	assert.Equal(t, "INVALID", pan.CurrentValue)
	assert.Equal(t, "AAAAA9999A", pan.RequiredFormat)

	gstin := res.ActionItems[1]
	assert.Equal(t, "Correct GSTIN number", gstin.Title)
	assert.Equal(t, "business_details.gstin", gstin.FieldToUpdate)
	assert.Equal(t, "99AAAAA9999A9Z9", gstin.RequiredFormat)
}

func TestInputCrossChecksPANAgainstGSTIN(t *testing.T) {
	h := NewInput(newDeps(t, nil))

	// Both identifiers are individually valid but belong to different entities.
	res, err := h.Execute(context.Background(), inputState("ABCPE1234F", "27ZZZZZ9999Z1Z5"), nil)
	require.NoError(t, err)

	require.Len(t, res.ActionItems, 1)
	item := res.ActionItems[0]
	assert.Equal(t, "PAN and GSTIN do not match", item.Title)
	assert.Equal(t, schema.SeverityBlocking, item.Severity)
	assert.Contains(t, item.Description, "ZZZZZ9999Z")
	assert.Contains(t, item.Description, "ABCPE1234F")
	assert.False(t, *res.Update.AuthValid)
}

func TestInputSimulatedRegistryMismatch(t *testing.T) {
	sim := tools.NewSimulation()
	sim.Set("pan_mismatch", true)
	h := NewInput(newDeps(t, sim))

	res, err := h.Execute(context.Background(), inputState("ABCPE1234F", "27ABCPE1234F1Z5"), nil)
	require.NoError(t, err)

	require.NotEmpty(t, res.ActionItems)
	assert.Equal(t, "Correct PAN number", res.ActionItems[0].Title)
	assert.Contains(t, res.ActionItems[0].Description, "does not match registered records")
	assert.False(t, *res.Update.AuthValid)
}
