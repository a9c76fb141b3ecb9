package validation

// Validator checks merchant applications and tool inputs for correctness
// before execution. Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateApplication(data map[string]any) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}
