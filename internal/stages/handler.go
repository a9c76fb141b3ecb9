// Package stages holds the per-stage verification handlers. Each handler
// sees a cloned state view plus the run's open action items, calls its
// allow-listed tools, and returns a StageResult for the router to apply.
package stages

import (
	"context"
	"log/slog"

	"github.com/velocityhq/velocity/internal/expressions"
	"github.com/velocityhq/velocity/internal/retry"
	"github.com/velocityhq/velocity/internal/tools"
	"github.com/velocityhq/velocity/pkg/schema"
)

// Handler executes one stage of the onboarding workflow.
type Handler interface {
	Stage() schema.Stage

	// Tools returns the handler's tool allow-list. Calls outside the list
	// fail with a structured error instead of executing.
	Tools() []string

	Execute(ctx context.Context, st *schema.RunState, openItems []schema.ActionItem) (*schema.StageResult, error)
}

// Deps carries the shared collaborators every handler needs.
type Deps struct {
	Registry *tools.Registry
	JQ       *expressions.GoJQEngine
	Expr     *expressions.ExprEngine
	Logger   *slog.Logger

	// RiskExpr overrides the risk scoring policy. Empty means DefaultRiskExpr.
	RiskExpr string

	// EnrichRetry overrides the backoff policy for suggestion enrichment.
	// The zero value falls back to the fixer's default policy.
	EnrichRetry retry.Policy
}

// DefaultRiskExpr is the stock risk policy: a 0.3 floor plus 0.2 per
// blocking issue and 0.1 per warning, capped at 1.0.
const DefaultRiskExpr = `min(1.0, 0.3 + blocking * 0.2 + warnings * 0.1)`

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.Logger
}

// field reads a string field out of application data by jq path. Missing
// fields and evaluation errors read as "" so handlers degrade to issuing
// action items instead of failing the run.
func (d *Deps) field(ctx context.Context, st *schema.RunState, path string) string {
	s, err := d.JQ.String(ctx, path+` // "" | tostring`, st.ApplicationData)
	if err != nil {
		return ""
	}
	return s
}

// All builds the full handler set keyed by stage.
func All(d *Deps) map[schema.Stage]Handler {
	handlers := []Handler{
		NewInput(d),
		NewDocs(d),
		NewBank(d),
		NewCompliance(d),
		NewFixer(d),
		NewFinal(d),
	}
	byStage := make(map[schema.Stage]Handler, len(handlers))
	for _, h := range handlers {
		byStage[h.Stage()] = h
	}
	return byStage
}

// resultData is a shorthand accessor over a tool result's data map.
func resultData(res *tools.Result, key string) any {
	if res == nil || res.Data == nil {
		return nil
	}
	return res.Data[key]
}

func resultBool(res *tools.Result, key string) bool {
	b, _ := resultData(res, key).(bool)
	return b
}

func resultString(res *tools.Result, key string) string {
	s, _ := resultData(res, key).(string)
	return s
}

func resultFloat(res *tools.Result, key string) float64 {
	switch v := resultData(res, key).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
