package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
)

var (
	panInTextPattern  = regexp.MustCompile(`\b[A-Z]{5}[0-9]{4}[A-Z]\b`)
	nameInTextPattern = regexp.MustCompile(`NAME[:\s]+([A-Z][A-Z\s]+)`)
)

// documentSamples are the canned extractions returned by the offline OCR
// backend, keyed by document type.
var documentSamples = map[string]string{
	"pan_card": "INCOME TAX DEPARTMENT\nGOVERNMENT OF INDIA\nPermanent Account Number Card\n%s\nName: %s\nDate of Birth: 01/01/1990",
	"aadhaar":  "GOVERNMENT OF INDIA\nUnique Identification Authority of India\nName: %s\nAadhaar: XXXX XXXX %s",
	"gst_cert": "GOVERNMENT OF INDIA\nForm GST REG-06\nRegistration Certificate\nGSTIN: %s\nLegal Name: %s",
}

// ExtractDocumentText runs OCR over an uploaded document and returns the
// extracted text with a confidence score. Confidence degrades when the
// scan is low quality.
func ExtractDocumentText() *Tool {
	return &Tool{
		Def: Definition{
			Name:        "extract_document_text",
			Description: "Extract text content from a document using OCR",
			Category:    CategoryDocument,
			Idempotent:  true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"file_path": {"type": "string", "description": "Path or reference of the uploaded document"},
					"doc_type": {"type": "string", "description": "Document type hint (pan_card, aadhaar, gst_cert)"},
					"reference_id": {"type": "string", "description": "Identifier expected inside the document"},
					"holder_name": {"type": "string", "description": "Name expected inside the document"}
				},
				"required": ["file_path"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			filePath := strParam(in.Params, "file_path")
			if filePath == "" {
				return map[string]any{
					"success": false, "text": "", "confidence": 0.0, "pages": 0,
					"error": "file path is required",
				}, nil
			}
			if in.Sim.Enabled("document_blurry") {
				return map[string]any{
					"success":    true,
					"text":       "ILLEGIBLE SCAN",
					"confidence": 0.2,
					"pages":      1,
				}, nil
			}

			docType := strParam(in.Params, "doc_type")
			tmpl, ok := documentSamples[docType]
			if !ok {
				tmpl = documentSamples["pan_card"]
			}
			refID := strings.ToUpper(strParam(in.Params, "reference_id"))
			holder := strings.ToUpper(strParam(in.Params, "holder_name"))
			if holder == "" {
				holder = "ACCOUNT HOLDER"
			}
			text := fmt.Sprintf(tmpl, refID, holder)

			return map[string]any{
				"success":    true,
				"text":       text,
				"confidence": ocrConfidence(text),
				"pages":      1,
			}, nil
		},
	}
}

// ValidateDocumentContent checks the extracted text for expected fields.
// A document passes when every field is present or at least half are.
func ValidateDocumentContent() *Tool {
	return &Tool{
		Def: Definition{
			Name:        "validate_document_content",
			Description: "Validate extracted document content against expected fields",
			Category:    CategoryDocument,
			Idempotent:  true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"text": {"type": "string", "description": "Extracted text from document"},
					"expected_fields": {
						"type": "array",
						"items": {"type": "string"},
						"description": "Field names to look for"
					}
				},
				"required": ["text"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			text := strings.ToLower(strParam(in.Params, "text"))

			expected := []string{"PAN", "Name", "Government"}
			if raw, ok := in.Params["expected_fields"].([]any); ok && len(raw) > 0 {
				expected = expected[:0]
				for _, f := range raw {
					if s, ok := f.(string); ok {
						expected = append(expected, s)
					}
				}
			}

			var found, missing []string
			for _, field := range expected {
				if strings.Contains(text, strings.ToLower(field)) {
					found = append(found, field)
				} else {
					missing = append(missing, field)
				}
			}
			if in.Sim.Enabled("document_name_mismatch") {
				missing = append(missing, "Name")
				found = removeField(found, "Name")
			}

			total := len(expected)
			if total == 0 {
				total = 1
			}
			valid := len(missing) == 0 || float64(len(found)) >= float64(total)*0.5
			confidence := math.Round(float64(len(found))/float64(total)*100) / 100

			return map[string]any{
				"valid":          valid,
				"found_fields":   found,
				"missing_fields": missing,
				"confidence":     confidence,
			}, nil
		},
	}
}

// ExtractPANFromDocument pulls a PAN number and nearby holder name out of
// extracted document text.
func ExtractPANFromDocument() *Tool {
	return &Tool{
		Def: Definition{
			Name:        "extract_pan_from_document",
			Description: "Extract PAN number from document text",
			Category:    CategoryDocument,
			Idempotent:  true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"text": {"type": "string", "description": "Document text to search"}
				},
				"required": ["text"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			text := strings.ToUpper(strParam(in.Params, "text"))

			pan := panInTextPattern.FindString(text)
			if pan == "" {
				return map[string]any{"found": false}, nil
			}

			out := map[string]any{"found": true, "pan": pan}
			if m := nameInTextPattern.FindStringSubmatch(text); m != nil {
				out["name"] = strings.TrimSpace(m[1])
			}
			return out, nil
		},
	}
}

func ocrConfidence(text string) float64 {
	keywords := []string{"pan", "aadhaar", "government", "income tax", "uidai"}
	lower := strings.ToLower(text)
	hits := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			hits++
		}
	}
	c := 0.5 + float64(hits)*0.1 + math.Min(float64(len(text)), 500)/1000
	return math.Round(math.Min(0.95, c)*100) / 100
}

func removeField(fields []string, name string) []string {
	out := fields[:0]
	for _, f := range fields {
		if f != name {
			out = append(out, f)
		}
	}
	return out
}
