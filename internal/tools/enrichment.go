package tools

import (
	"context"
	"encoding/json"
	"strings"
)

// suggestionHints are canned remediation hints keyed by action item
// category. Used when an item carries no suggestion of its own.
var suggestionHints = map[string]struct {
	suggestion string
	format     string
	sample     string
}{
	"DOCUMENT": {
		suggestion: "Upload a clear, uncropped scan of the original document with all corners visible",
		format:     "PDF, PNG or JPG under 5 MB",
		sample:     "A flat scan at 300 DPI with no glare over the photograph or identifier",
	},
	"BANK": {
		suggestion: "Re-enter the account number and IFSC exactly as printed on a cancelled cheque",
		format:     "Account: 9-18 digits, IFSC: 4 letters + 0 + 6 alphanumeric",
		sample:     "Account 50100123456789 with IFSC HDFC0001234",
	},
	"COMPLIANCE": {
		suggestion: "Publish the missing policy page and link it from the site footer",
		format:     "Publicly reachable URL returning HTTP 200",
		sample:     "https://example.com/privacy-policy",
	},
	"WEBSITE": {
		suggestion: "Fix the site so it is reachable over HTTPS with a valid certificate",
		format:     "https:// URL with a certificate valid for at least 30 days",
		sample:     "https://store.example.com",
	},
	"DATA": {
		suggestion: "Correct the field so it matches the registered legal records",
		format:     "Exactly as printed on the issuing document",
		sample:     "Legal name as it appears on the PAN card",
	},
}

// EnrichSuggestions fills in remediation guidance for action items that
// lack it: a suggestion, the required format, and sample content.
func EnrichSuggestions() *Tool {
	return &Tool{
		Def: Definition{
			Name:        "enrich_suggestions",
			Description: "Add remediation guidance to action items missing a suggestion",
			Category:    CategoryEnrichment,
			Idempotent:  true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"items": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"category": {"type": "string"},
								"title": {"type": "string"},
								"suggestion": {"type": "string"}
							},
							"required": ["category"]
						}
					}
				},
				"required": ["items"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			raw, _ := in.Params["items"].([]any)

			enriched := make([]any, 0, len(raw))
			count := 0
			for _, entry := range raw {
				item, ok := entry.(map[string]any)
				if !ok {
					continue
				}
				out := make(map[string]any, len(item)+3)
				for k, v := range item {
					out[k] = v
				}

				if strParam(out, "suggestion") == "" {
					category := strings.ToUpper(strParam(out, "category"))
					hint, ok := suggestionHints[category]
					if !ok {
						hint = suggestionHints["DATA"]
					}
					out["suggestion"] = hint.suggestion
					if strParam(out, "required_format") == "" {
						out["required_format"] = hint.format
					}
					if strParam(out, "sample_content") == "" {
						out["sample_content"] = hint.sample
					}
					count++
				}
				enriched = append(enriched, out)
			}

			return map[string]any{
				"items":    enriched,
				"enriched": count,
			}, nil
		},
	}
}
