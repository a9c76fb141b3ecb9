package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velocityhq/velocity/internal/tools"
	"github.com/velocityhq/velocity/pkg/schema"
)

func docsState(pan string) *schema.RunState {
	return appState(map[string]any{
		"documents_path":    "/uploads/pan.pdf",
		"business_details":  map[string]any{"pan": pan},
		"signatory_details": map[string]any{"name": "Priya Sharma"},
	})
}

func TestDocsVerifiesDocument(t *testing.T) {
	h := NewDocs(newDeps(t, nil))

	res, err := h.Execute(context.Background(), docsState("ABCPE1234F"), nil)
	require.NoError(t, err)

	require.NotNil(t, res.Update.DocVerified)
	assert.True(t, *res.Update.DocVerified)
	assert.Empty(t, res.ActionItems)
	assert.Contains(t, res.Notes, "Document PAN matches application")
	assert.Contains(t, res.Notes, "Document verification passed")
}

func TestDocsMissingDocument(t *testing.T) {
	h := NewDocs(newDeps(t, nil))

	st := appState(map[string]any{
		"business_details": map[string]any{"pan": "ABCPE1234F"},
	})
	res, err := h.Execute(context.Background(), st, nil)
	require.NoError(t, err)

	assert.False(t, *res.Update.DocVerified)
	assert.Equal(t, "document not found", *res.Update.LastError)
	require.Len(t, res.ActionItems, 1)
	item := res.ActionItems[0]
	assert.Equal(t, "Upload KYC document", item.Title)
	assert.Equal(t, schema.SeverityBlocking, item.Severity)
	assert.Equal(t, "documents_path", item.FieldToUpdate)
}

func TestDocsBlurryScan(t *testing.T) {
	sim := tools.NewSimulation()
	sim.Set("document_blurry", true)
	h := NewDocs(newDeps(t, sim))

	res, err := h.Execute(context.Background(), docsState("ABCPE1234F"), nil)
	require.NoError(t, err)

	assert.False(t, *res.Update.DocVerified)
	assert.Equal(t, "document OCR failed: image too blurry", *res.Update.LastError)
	require.Len(t, res.ActionItems, 1)
	item := res.ActionItems[0]
	assert.Equal(t, "Upload clearer KYC document", item.Title)
	assert.Contains(t, item.Description, "0.20")
	assert.Equal(t, "/uploads/pan.pdf", item.CurrentValue)
}

func TestDocsMissingRequiredFields(t *testing.T) {
	sim := tools.NewSimulation()
	sim.Set("document_name_mismatch", true)
	h := NewDocs(newDeps(t, sim))

	res, err := h.Execute(context.Background(), docsState("ABCPE1234F"), nil)
	require.NoError(t, err)

	assert.False(t, *res.Update.DocVerified)
	assert.Equal(t, "document missing required fields", *res.Update.LastError)
	require.Len(t, res.ActionItems, 1)
	assert.Equal(t, "Upload valid KYC document", res.ActionItems[0].Title)
}

func TestDocsPANMismatch(t *testing.T) {
	h := NewDocs(newDeps(t, nil))

	// OCR uppercases the reference id, so a lowercase declared PAN no longer
	// matches the PAN printed on the document.
	res, err := h.Execute(context.Background(), docsState("abcpe1234f"), nil)
	require.NoError(t, err)

	assert.False(t, *res.Update.DocVerified)
	assert.Equal(t, "document PAN mismatch", *res.Update.LastError)
	require.Len(t, res.ActionItems, 1)
	item := res.ActionItems[0]
	assert.Equal(t, "PAN on document does not match application", item.Title)
	assert.Equal(t, schema.CategoryData, item.Category)
	assert.Equal(t, "business_details.pan", item.FieldToUpdate)
	assert.Equal(t, "abcpe1234f", item.CurrentValue)
}
