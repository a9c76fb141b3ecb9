package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/velocityhq/velocity/internal/retry"
	"github.com/velocityhq/velocity/internal/tools"
	"github.com/velocityhq/velocity/pkg/schema"
)

// Fixer consolidates the run's open issues into a correction plan, scores
// risk, and parks the run for merchant review. The router interrupts
// execution immediately after this stage.
type Fixer struct {
	deps   *Deps
	scoped *tools.Scoped
}

func NewFixer(d *Deps) *Fixer {
	h := &Fixer{deps: d}
	h.scoped = d.Registry.Scope(h.Tools()...)
	return h
}

func (h *Fixer) Stage() schema.Stage { return schema.StageFixer }

func (h *Fixer) Tools() []string {
	return []string{"enrich_suggestions"}
}

// defaultEnrichRetry backs off briefly on transient enrichment failures. It
// is deliberately short: enrichment is advisory and must not stall the
// review handoff.
var defaultEnrichRetry = retry.Policy{
	MaxAttempts: 3,
	Backoff:     "exponential",
	Delay:       250 * time.Millisecond,
	MaxDelay:    2 * time.Second,
	Jitter:      true,
}

func (h *Fixer) enrichPolicy() retry.Policy {
	if h.deps.EnrichRetry.MaxAttempts > 0 {
		return h.deps.EnrichRetry
	}
	return defaultEnrichRetry
}

func (h *Fixer) Execute(ctx context.Context, st *schema.RunState, openItems []schema.ActionItem) (*schema.StageResult, error) {
	res := &schema.StageResult{}
	res.Update.Stage = schema.StagePtr(schema.StageFixer)

	blocking, warnings := 0, 0
	for _, it := range openItems {
		switch it.Severity {
		case schema.SeverityBlocking:
			blocking++
		case schema.SeverityWarning:
			warnings++
		}
	}
	res.Notes = append(res.Notes, fmt.Sprintf("Consolidating %d open action items", len(openItems)))

	riskExpr := h.deps.RiskExpr
	if riskExpr == "" {
		riskExpr = DefaultRiskExpr
	}
	risk, err := h.deps.Expr.EvaluateFloat(ctx, riskExpr, map[string]any{
		"blocking": blocking,
		"warnings": warnings,
		"retries":  st.RetryCount,
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "risk policy evaluation failed").
			WithCause(err).WithStage(string(schema.StageFixer))
	}

	// Enrichment fills remediation guidance for items missing a suggestion.
	// The hints land in the correction plan only; ledger rows are immutable.
	// Provider hiccups are retried with backoff; an exhausted budget degrades
	// to the raw items rather than failing the review handoff.
	enriched := openItems
	if raw := itemsToMaps(openItems); len(raw) > 0 {
		var enrich *tools.Result
		err := retry.Do(ctx, h.enrichPolicy(), func(ctx context.Context) error {
			enrich = h.scoped.Call(ctx, "enrich_suggestions", map[string]any{"items": raw})
			if !enrich.Success {
				return schema.NewError(schema.ErrCodeToolFailed, enrich.Error)
			}
			return nil
		})
		if err == nil {
			if out, ok := resultData(enrich, "items").([]any); ok {
				enriched = mergeEnrichment(openItems, out)
			}
			if n := int(resultFloat(enrich, "enriched")); n > 0 {
				res.Notes = append(res.Notes, fmt.Sprintf("Enriched %d action items with remediation guidance", n))
			}
		}
	}

	plan := make([]string, 0, len(enriched))
	hints := make(map[string]any, len(enriched))
	for _, it := range enriched {
		plan = append(plan, fmt.Sprintf("[%s] %s: %s", it.Severity, it.Title, truncate(it.Suggestion, 100)))
		if it.FieldToUpdate != "" {
			hints[it.FieldToUpdate] = map[string]any{
				"current_value":   it.CurrentValue,
				"required_format": it.RequiredFormat,
				"suggestion":      it.Suggestion,
			}
		}
	}

	res.Update.Status = schema.StatusPtr(schema.RunStatusNeedsReview)
	res.Update.RiskScore = schema.Float(risk)
	res.Update.RetryCount = schema.Int(st.RetryCount + 1)
	res.Update.Extra = map[string]any{
		"correction_plan":  plan,
		"correction_hints": hints,
	}

	if blocking > 0 {
		res.Notes = append(res.Notes, fmt.Sprintf("%d blocking issue(s) require attention", blocking))
	}
	if warnings > 0 {
		res.Notes = append(res.Notes, fmt.Sprintf("%d warning(s) for review", warnings))
	}
	res.Notes = append(res.Notes, fmt.Sprintf("Risk score %.2f", risk))
	return res, nil
}

// itemsToMaps converts items into the loose shape the enrichment tool takes.
func itemsToMaps(items []schema.ActionItem) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]any{
			"id":              it.ID,
			"category":        string(it.Category),
			"severity":        string(it.Severity),
			"title":           it.Title,
			"suggestion":      it.Suggestion,
			"required_format": it.RequiredFormat,
			"sample_content":  it.SampleContent,
		})
	}
	return out
}

// mergeEnrichment copies tool-filled guidance back onto the item views used
// for the correction plan, matched by item ID.
func mergeEnrichment(items []schema.ActionItem, enriched []any) []schema.ActionItem {
	byID := make(map[string]map[string]any, len(enriched))
	for _, e := range enriched {
		if m, ok := e.(map[string]any); ok {
			if id, _ := m["id"].(string); id != "" {
				byID[id] = m
			}
		}
	}

	out := make([]schema.ActionItem, len(items))
	copy(out, items)
	for i := range out {
		m, ok := byID[out[i].ID]
		if !ok {
			continue
		}
		if s, _ := m["suggestion"].(string); s != "" && out[i].Suggestion == "" {
			out[i].Suggestion = s
		}
		if s, _ := m["required_format"].(string); s != "" && out[i].RequiredFormat == "" {
			out[i].RequiredFormat = s
		}
		if s, _ := m["sample_content"].(string); s != "" && out[i].SampleContent == "" {
			out[i].SampleContent = s
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
