package stages

import (
	"context"
	"fmt"

	"github.com/velocityhq/velocity/internal/tools"
	"github.com/velocityhq/velocity/pkg/schema"
)

// Input validates the initial application data: PAN and GSTIN format plus
// PAN/GSTIN cross-consistency. It gates the auth_valid flag.
type Input struct {
	deps   *Deps
	scoped *tools.Scoped
}

func NewInput(d *Deps) *Input {
	h := &Input{deps: d}
	h.scoped = d.Registry.Scope(h.Tools()...)
	return h
}

func (h *Input) Stage() schema.Stage { return schema.StageInput }

func (h *Input) Tools() []string {
	return []string{"validate_pan", "validate_gstin"}
}

func (h *Input) Execute(ctx context.Context, st *schema.RunState, _ []schema.ActionItem) (*schema.StageResult, error) {
	pan := h.deps.field(ctx, st, ".business_details.pan")
	gstin := h.deps.field(ctx, st, ".business_details.gstin")

	res := &schema.StageResult{}
	var items []schema.ActionItem

	panRes := h.scoped.Call(ctx, "validate_pan", map[string]any{"pan": pan})
	if !panRes.Success || !resultBool(panRes, "valid") {
		desc := resultString(panRes, "error")
		if desc == "" {
			desc = panRes.Error
		}
		item := schema.NewActionItem(schema.CategoryData, schema.SeverityBlocking,
			"Correct PAN number", desc,
			"PAN should be 10 characters: 5 letters, 4 digits, 1 letter (e.g. ABCDE1234F).")
		item.FieldToUpdate = "business_details.pan"
		item.CurrentValue = pan
		item.RequiredFormat = "AAAAA9999A"
		items = append(items, item)
	} else if parsed, ok := resultData(panRes, "parsed").(map[string]any); ok {
		res.Notes = append(res.Notes, fmt.Sprintf("PAN valid: %v", parsed["holder_type"]))
	}

	gstinRes := h.scoped.Call(ctx, "validate_gstin", map[string]any{"gstin": gstin})
	if !gstinRes.Success || !resultBool(gstinRes, "valid") {
		desc := resultString(gstinRes, "error")
		if desc == "" {
			desc = gstinRes.Error
		}
		item := schema.NewActionItem(schema.CategoryData, schema.SeverityBlocking,
			"Correct GSTIN number", desc,
			"GSTIN should be 15 characters with state code, PAN, and check digit.")
		item.FieldToUpdate = "business_details.gstin"
		item.CurrentValue = gstin
		item.RequiredFormat = "99AAAAA9999A9Z9"
		items = append(items, item)
	} else if parsed, ok := resultData(gstinRes, "parsed").(map[string]any); ok {
		res.Notes = append(res.Notes, fmt.Sprintf("GSTIN valid: state %v", parsed["state_code"]))

		// The PAN embedded in a GSTIN must match the declared PAN.
		if embedded, _ := parsed["pan"].(string); embedded != "" && pan != "" && embedded != pan {
			item := schema.NewActionItem(schema.CategoryData, schema.SeverityBlocking,
				"PAN and GSTIN do not match",
				fmt.Sprintf("The PAN embedded in the GSTIN (%s) differs from the declared PAN (%s).", embedded, pan),
				"Both identifiers must belong to the same registered entity.")
			item.FieldToUpdate = "business_details.gstin"
			item.CurrentValue = gstin
			items = append(items, item)
		}
	}

	res.Update.Stage = schema.StagePtr(schema.StageInput)
	res.ActionItems = items
	if len(items) > 0 {
		res.Update.AuthValid = schema.Bool(false)
		res.Update.LastError = schema.Str("input validation failed")
		res.Notes = append(res.Notes, "Input validation failed, see action items")
		return res, nil
	}

	res.Update.AuthValid = schema.Bool(true)
	entityType := h.deps.field(ctx, st, ".business_details.entity_type")
	if entityType != "" {
		res.Notes = append(res.Notes, fmt.Sprintf("Processing %s merchant", entityType))
	}
	res.Notes = append(res.Notes, "Basic data validation passed")
	return res, nil
}
