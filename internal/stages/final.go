package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/velocityhq/velocity/internal/tools"
	"github.com/velocityhq/velocity/pkg/schema"
)

// Final marks the run COMPLETED and sends the completion notification.
// The router only reaches this stage when every gate has passed.
type Final struct {
	deps   *Deps
	scoped *tools.Scoped
}

func NewFinal(d *Deps) *Final {
	h := &Final{deps: d}
	h.scoped = d.Registry.Scope(h.Tools()...)
	return h
}

func (h *Final) Stage() schema.Stage { return schema.StageFinal }

func (h *Final) Tools() []string {
	return []string{"send_completion_email"}
}

func (h *Final) Execute(ctx context.Context, st *schema.RunState, _ []schema.ActionItem) (*schema.StageResult, error) {
	res := &schema.StageResult{}
	res.Update.Stage = schema.StagePtr(schema.StageFinal)

	checks := map[string]bool{
		"Auth/Input": st.Flags.AuthValid,
		"Documents":  st.Flags.DocVerified,
		"Bank":       st.Flags.BankVerified,
		"Website":    st.Flags.WebsiteCompliant,
	}
	var failed []string
	for name, passed := range checks {
		if !passed {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"finalizer reached with unverified gates: %s", strings.Join(failed, ", ")).
			WithStage(string(schema.StageFinal))
	}

	res.Update.Status = schema.StatusPtr(schema.RunStatusCompleted)
	res.Notes = append(res.Notes,
		"All verifications complete",
		"Agreement pending generation",
		"Settlement configuration pending",
	)

	// Notification failure does not block completion.
	mail := h.scoped.Call(ctx, "send_completion_email", map[string]any{
		"merchant_id": st.MerchantID,
		"run_id":      st.RunID,
		"outcome":     string(schema.RunStatusCompleted),
	})
	if mail.Success {
		res.Notes = append(res.Notes, fmt.Sprintf("Completion email queued (%s)", resultString(mail, "message_id")))
	} else {
		h.deps.logger().WarnContext(ctx, "completion email failed",
			"run_id", st.RunID, "error", mail.Error)
	}

	return res, nil
}
