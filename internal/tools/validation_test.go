package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callTool(t *testing.T, tool *Tool, sim *Simulation, params map[string]any) map[string]any {
	t.Helper()
	data, err := tool.Run(context.Background(), Input{Params: params, Sim: sim})
	require.NoError(t, err)
	return data
}

func TestValidatePAN(t *testing.T) {
	tool := ValidatePAN()

	tests := []struct {
		name  string
		pan   string
		valid bool
	}{
		{"individual", "ABCPE1234F", true},
		{"company", "ABCCE1234F", true},
		{"lowercase normalized", "abcpe1234f", true},
		{"whitespace trimmed", "  ABCPE1234F  ", true},
		{"too short", "ABCP1234F", false},
		{"digits in prefix", "AB1PE1234F", false},
		{"empty", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := callTool(t, tool, nil, map[string]any{"pan": tc.pan})
			assert.Equal(t, tc.valid, data["valid"])
		})
	}
}

func TestValidatePANHolderType(t *testing.T) {
	tool := ValidatePAN()

	data := callTool(t, tool, nil, map[string]any{"pan": "ABCPE1234F"})
	parsed := data["parsed"].(map[string]any)
	assert.Equal(t, "Individual", parsed["holder_type"])
	assert.Equal(t, "P", parsed["type"])

	data = callTool(t, tool, nil, map[string]any{"pan": "ABCCE1234F"})
	parsed = data["parsed"].(map[string]any)
	assert.Equal(t, "Company", parsed["holder_type"])
}

func TestValidatePANSimulatedMismatch(t *testing.T) {
	sim := NewSimulation()
	sim.Set("pan_mismatch", true)

	data := callTool(t, ValidatePAN(), sim, map[string]any{"pan": "ABCPE1234F"})
	assert.Equal(t, false, data["valid"])
	assert.Contains(t, data["error"], "does not match")
}

func TestValidateGSTIN(t *testing.T) {
	tool := ValidateGSTIN()

	data := callTool(t, tool, nil, map[string]any{"gstin": "27ABCPE1234F1Z5"})
	require.Equal(t, true, data["valid"])
	parsed := data["parsed"].(map[string]any)
	assert.Equal(t, "27", parsed["state_code"])
	assert.Equal(t, "ABCPE1234F", parsed["pan"])

	// State code outside 01-37 fails even with a clean format.
	data = callTool(t, tool, nil, map[string]any{"gstin": "99ABCPE1234F1Z5"})
	assert.Equal(t, false, data["valid"])
	assert.Contains(t, data["error"], "state code")

	data = callTool(t, tool, nil, map[string]any{"gstin": "27ABCPE1234F1X5"})
	assert.Equal(t, false, data["valid"])
}

func TestValidateGSTINSimulatedInactive(t *testing.T) {
	sim := NewSimulation()
	sim.Set("gstin_inactive", true)

	data := callTool(t, ValidateGSTIN(), sim, map[string]any{"gstin": "27ABCPE1234F1Z5"})
	assert.Equal(t, false, data["valid"])
	assert.Contains(t, data["error"], "inactive")
}

func TestValidateIFSC(t *testing.T) {
	tool := ValidateIFSC()

	data := callTool(t, tool, nil, map[string]any{"ifsc": "HDFC0001234"})
	require.Equal(t, true, data["valid"])
	parsed := data["parsed"].(map[string]any)
	assert.Equal(t, "HDFC", parsed["bank_code"])
	assert.Equal(t, "001234", parsed["branch_code"])

	// Fifth character must be the reserved zero.
	data = callTool(t, tool, nil, map[string]any{"ifsc": "HDFC1001234"})
	assert.Equal(t, false, data["valid"])
}

func TestValidateAadhaar(t *testing.T) {
	tool := ValidateAadhaar()

	tests := []struct {
		name    string
		aadhaar string
		valid   bool
	}{
		{"valid", "234567890123", true},
		{"with separators", "2345-6789-0123", true},
		{"with spaces", "2345 6789 0123", true},
		{"starts with zero", "034567890123", false},
		{"starts with one", "134567890123", false},
		{"too short", "23456789012", false},
		{"empty", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := callTool(t, tool, nil, map[string]any{"aadhaar": tc.aadhaar})
			assert.Equal(t, tc.valid, data["valid"])
		})
	}
}
