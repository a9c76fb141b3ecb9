package stages

import (
	"context"
	"fmt"

	"github.com/velocityhq/velocity/internal/tools"
	"github.com/velocityhq/velocity/pkg/schema"
)

// Docs extracts text from the uploaded KYC document and validates its
// content against the application. It gates the doc_verified flag.
type Docs struct {
	deps   *Deps
	scoped *tools.Scoped
}

func NewDocs(d *Deps) *Docs {
	h := &Docs{deps: d}
	h.scoped = d.Registry.Scope(h.Tools()...)
	return h
}

func (h *Docs) Stage() schema.Stage { return schema.StageDocs }

func (h *Docs) Tools() []string {
	return []string{"extract_document_text", "validate_document_content", "extract_pan_from_document"}
}

// minOCRConfidence is the cutoff below which a scan counts as unreadable.
const minOCRConfidence = 0.5

func (h *Docs) Execute(ctx context.Context, st *schema.RunState, _ []schema.ActionItem) (*schema.StageResult, error) {
	docPath := h.deps.field(ctx, st, ".documents_path")
	pan := h.deps.field(ctx, st, ".business_details.pan")
	holder := h.deps.field(ctx, st, ".signatory_details.name")

	res := &schema.StageResult{}
	res.Update.Stage = schema.StagePtr(schema.StageDocs)

	if docPath == "" {
		item := schema.NewActionItem(schema.CategoryDocument, schema.SeverityBlocking,
			"Upload KYC document",
			"No document was found on the application.",
			"Please upload your KYC document (PAN card or government ID).")
		item.FieldToUpdate = "documents_path"
		item.RequiredFormat = "PDF, PNG, or JPG. Maximum 5MB."
		return h.fail(res, "document not found", item), nil
	}

	extract := h.scoped.Call(ctx, "extract_document_text", map[string]any{
		"file_path":    docPath,
		"doc_type":     "pan_card",
		"reference_id": pan,
		"holder_name":  holder,
	})
	if !extract.Success || !resultBool(extract, "success") {
		item := schema.NewActionItem(schema.CategoryDocument, schema.SeverityBlocking,
			"Upload readable KYC document",
			"Text could not be extracted from the document.",
			"Upload a high-resolution scan (300+ DPI). Ensure the document is flat and well-lit.")
		item.FieldToUpdate = "documents_path"
		item.CurrentValue = docPath
		item.RequiredFormat = "PDF, PNG, or JPG. Minimum 300 DPI."
		return h.fail(res, "document OCR failed", item), nil
	}

	confidence := resultFloat(extract, "confidence")
	if confidence < minOCRConfidence {
		item := schema.NewActionItem(schema.CategoryDocument, schema.SeverityBlocking,
			"Upload clearer KYC document",
			fmt.Sprintf("The document is blurry or low resolution (OCR confidence %.2f).", confidence),
			"Upload a high-resolution scan (300+ DPI). Ensure the document is flat and well-lit.")
		item.FieldToUpdate = "documents_path"
		item.CurrentValue = docPath
		item.RequiredFormat = "PDF, PNG, or JPG. Minimum 300 DPI."
		return h.fail(res, "document OCR failed: image too blurry", item), nil
	}

	text := resultString(extract, "text")
	res.Notes = append(res.Notes, fmt.Sprintf("OCR extracted %d characters at confidence %.2f", len(text), confidence))

	content := h.scoped.Call(ctx, "validate_document_content", map[string]any{
		"text":            text,
		"expected_fields": []any{"PAN", "Name", "Government"},
	})
	if !content.Success || !resultBool(content, "valid") {
		item := schema.NewActionItem(schema.CategoryDocument, schema.SeverityBlocking,
			"Upload valid KYC document",
			"The document is missing required fields.",
			"Ensure you upload a complete government-issued ID with name and identifier visible.")
		item.FieldToUpdate = "documents_path"
		item.CurrentValue = docPath
		item.RequiredFormat = "Complete PAN card or Aadhaar with name and ID visible."
		return h.fail(res, "document missing required fields", item), nil
	}

	// Cross-check the PAN printed on the document against the application.
	docPAN := h.scoped.Call(ctx, "extract_pan_from_document", map[string]any{"text": text})
	if docPAN.Success && resultBool(docPAN, "found") {
		extracted := resultString(docPAN, "pan")
		if pan != "" && extracted != "" && extracted != pan {
			item := schema.NewActionItem(schema.CategoryData, schema.SeverityBlocking,
				"PAN on document does not match application",
				fmt.Sprintf("The document carries PAN %s but the application declares %s.", extracted, pan),
				"Upload the PAN card belonging to the registered entity, or correct the declared PAN.")
			item.FieldToUpdate = "business_details.pan"
			item.CurrentValue = pan
			item.RequiredFormat = "AAAAA9999A"
			return h.fail(res, "document PAN mismatch", item), nil
		}
		res.Notes = append(res.Notes, "Document PAN matches application")
	}

	res.Update.DocVerified = schema.Bool(true)
	res.Notes = append(res.Notes, "Document verification passed")
	return res, nil
}

func (h *Docs) fail(res *schema.StageResult, errMsg string, items ...schema.ActionItem) *schema.StageResult {
	res.Update.DocVerified = schema.Bool(false)
	res.Update.LastError = schema.Str(errMsg)
	res.ActionItems = append(res.ActionItems, items...)
	return res
}
