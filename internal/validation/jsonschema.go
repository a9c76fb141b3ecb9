package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/velocityhq/velocity/pkg/schema"
)

// applicationSchemaJSON is the JSON Schema for merchant application payloads.
// Embedded as a constant to avoid filesystem dependencies.
const applicationSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://velocityhq.dev/schemas/application.json",
  "type": "object",
  "required": ["business_details", "bank_details", "signatory_details"],
  "properties": {
    "api_key": { "type": "string" },
    "documents_path": { "type": "string" },
    "business_details": {
      "type": "object",
      "required": ["pan", "entity_type", "category", "gstin", "monthly_volume"],
      "properties": {
        "pan": { "type": "string", "minLength": 1 },
        "entity_type": { "type": "string", "minLength": 1 },
        "category": { "type": "string", "minLength": 1 },
        "gstin": { "type": "string", "minLength": 1 },
        "monthly_volume": { "type": "string", "minLength": 1 },
        "website_url": { "type": "string" }
      },
      "additionalProperties": true
    },
    "bank_details": {
      "type": "object",
      "required": ["account_number", "ifsc", "account_holder_name"],
      "properties": {
        "account_number": { "type": "string", "minLength": 1 },
        "ifsc": { "type": "string", "minLength": 1 },
        "account_holder_name": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": true
    },
    "signatory_details": {
      "type": "object",
      "required": ["name", "email", "aadhaar"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "email": { "type": "string", "format": "email" },
        "aadhaar": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`

const applicationSchemaURL = "https://velocityhq.dev/schemas/application.json"

// JSONSchemaValidator implements the Validator interface using JSON Schema
// Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	appSchema *jsonschema.Schema

	// mu guards the cache for dynamic schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the application
// schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newInputCompiler()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(applicationSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal application schema: %w", err)
	}
	if err := c.AddResource(applicationSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add application schema resource: %w", err)
	}

	appSchema, err := c.Compile(applicationSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile application schema: %w", err)
	}

	return &JSONSchemaValidator{
		appSchema: appSchema,
		cache:     make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateApplication validates a merchant application payload against the
// application JSON Schema.
func (v *JSONSchemaValidator) ValidateApplication(data map[string]any) error {
	if data == nil {
		return schema.NewError(schema.ErrCodeValidation, "application payload is nil")
	}

	doc, err := toJSONValue(data)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize application payload").WithCause(err)
	}

	if err := v.appSchema.Validate(doc); err != nil {
		return toEngineError(err)
	}

	return nil
}

// ValidateInput validates input data against a JSON Schema provided as raw
// bytes. The schema is compiled and cached for subsequent calls.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	// Convert input to JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toEngineError(err)
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("velocity://input-schema/%d", len(v.cache))

	// Use a fresh compiler per dynamic schema to avoid resource collision.
	c := newInputCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// newInputCompiler creates a Compiler configured for input validation.
func newInputCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toEngineError converts a jsonschema.ValidationError into an EngineError
// with clear, actionable messages.
func toEngineError(err error) *schema.EngineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
