package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SendReviewReminder notifies a merchant that their application is waiting
// on corrections. Delivery is fire-and-forget; the caller only needs the
// message id for audit.
func SendReviewReminder() *Tool {
	return &Tool{
		Def: Definition{
			Name:            "send_review_reminder",
			Description:     "Send a reminder that an application needs merchant review",
			Category:        CategoryNotification,
			RequiresNetwork: true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"merchant_id": {"type": "string", "description": "Merchant to notify"},
					"run_id": {"type": "string", "description": "Run awaiting review"},
					"blocking_items": {"type": "integer", "description": "Count of unresolved blocking items"}
				},
				"required": ["merchant_id", "run_id"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			if in.Sim.Enabled("notify_fail") {
				return nil, errors.New("notification provider unavailable")
			}
			return map[string]any{
				"delivered":  true,
				"message_id": fmt.Sprintf("msg_%s", uuid.NewString()[:8]),
				"channel":    "email",
			}, nil
		},
	}
}

// SendCompletionEmail notifies a merchant of the final onboarding outcome.
func SendCompletionEmail() *Tool {
	return &Tool{
		Def: Definition{
			Name:            "send_completion_email",
			Description:     "Send the final onboarding outcome to the merchant",
			Category:        CategoryNotification,
			RequiresNetwork: true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"merchant_id": {"type": "string", "description": "Merchant to notify"},
					"run_id": {"type": "string", "description": "Completed run"},
					"outcome": {"type": "string", "enum": ["COMPLETED", "REJECTED"], "description": "Final run status"}
				},
				"required": ["merchant_id", "run_id", "outcome"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			if in.Sim.Enabled("notify_fail") {
				return nil, errors.New("notification provider unavailable")
			}
			return map[string]any{
				"delivered":  true,
				"message_id": fmt.Sprintf("msg_%s", uuid.NewString()[:8]),
				"channel":    "email",
				"outcome":    strParam(in.Params, "outcome"),
			}, nil
		},
	}
}
