package tools

import (
	"context"
	"encoding/json"
)

// Category groups tools by the verification concern they serve.
type Category string

const (
	CategoryValidation   Category = "validation"
	CategoryBank         Category = "bank"
	CategoryDocument     Category = "document"
	CategoryWeb          Category = "web"
	CategoryEnrichment   Category = "enrichment"
	CategoryNotification Category = "notification"
)

// Definition describes the contract of a registered tool.
type Definition struct {
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Category        Category        `json:"category"`
	InputSchema     json.RawMessage `json:"input_schema,omitempty"`
	RequiresNetwork bool            `json:"requires_network"`
	Idempotent      bool            `json:"idempotent"`
}

// Input is the data provided to a tool at invocation time.
type Input struct {
	Params map[string]any `json:"params"`
	Sim    *Simulation    `json:"-"`
}

// Result is the uniform envelope every invocation returns. A tool never
// surfaces a Go error to its caller; failures are carried in Error with
// Success false so stage handlers can translate them into action items.
type Result struct {
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	ElapsedMs int64          `json:"execution_time_ms"`
	WasMocked bool           `json:"was_mocked"`
}

// RunFunc is the executable body of a tool.
type RunFunc func(ctx context.Context, in Input) (map[string]any, error)

// Tool pairs a definition with its implementation.
type Tool struct {
	Def Definition
	Run RunFunc
}

// Info is a summary of a registered tool for listing.
type Info struct {
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Description string   `json:"description,omitempty"`
}

// InputValidator checks tool params against a JSON Schema document.
type InputValidator interface {
	ValidateInput(input map[string]any, schemaBytes []byte) error
}

// strParam reads a string param, returning "" when absent or not a string.
func strParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}
