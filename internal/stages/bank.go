package stages

import (
	"context"
	"fmt"

	"github.com/velocityhq/velocity/internal/tools"
	"github.com/velocityhq/velocity/pkg/schema"
)

// Bank verifies the settlement account: IFSC and account format checks
// followed by a penny drop with name matching. It gates bank_verified.
type Bank struct {
	deps   *Deps
	scoped *tools.Scoped
}

func NewBank(d *Deps) *Bank {
	h := &Bank{deps: d}
	h.scoped = d.Registry.Scope(h.Tools()...)
	return h
}

func (h *Bank) Stage() schema.Stage { return schema.StageBank }

func (h *Bank) Tools() []string {
	return []string{"validate_ifsc", "validate_account_number", "penny_drop_verify", "lookup_ifsc"}
}

// minNameMatchScore is the penny drop name similarity below which the
// account holder is treated as a different person.
const minNameMatchScore = 0.8

func (h *Bank) Execute(ctx context.Context, st *schema.RunState, _ []schema.ActionItem) (*schema.StageResult, error) {
	account := h.deps.field(ctx, st, ".bank_details.account_number")
	ifsc := h.deps.field(ctx, st, ".bank_details.ifsc")
	holder := h.deps.field(ctx, st, ".bank_details.account_holder_name")

	res := &schema.StageResult{}
	res.Update.Stage = schema.StagePtr(schema.StageBank)

	if account == "" || ifsc == "" {
		item := schema.NewActionItem(schema.CategoryBank, schema.SeverityBlocking,
			"Provide complete bank details",
			"Bank account number or IFSC code is missing.",
			"Please provide complete bank account details.")
		item.FieldToUpdate = "bank_details"
		return h.fail(res, "incomplete bank details", item), nil
	}

	ifscRes := h.scoped.Call(ctx, "validate_ifsc", map[string]any{"ifsc": ifsc})
	if !ifscRes.Success || !resultBool(ifscRes, "valid") {
		item := schema.NewActionItem(schema.CategoryBank, schema.SeverityBlocking,
			"Correct IFSC code",
			"The IFSC code is invalid or does not match any bank branch.",
			"Verify the IFSC from your cheque book or bank statement.")
		item.FieldToUpdate = "bank_details.ifsc"
		item.CurrentValue = ifsc
		item.RequiredFormat = "11 characters: AAAA0BBBBBB (e.g. HDFC0001234)"
		return h.fail(res, "invalid IFSC code", item), nil
	}

	acctRes := h.scoped.Call(ctx, "validate_account_number", map[string]any{"account_number": account})
	if !acctRes.Success || !resultBool(acctRes, "valid") {
		desc := resultString(acctRes, "error")
		if desc == "" {
			desc = "The account number format is invalid."
		}
		item := schema.NewActionItem(schema.CategoryBank, schema.SeverityBlocking,
			"Correct bank account number", desc,
			"Enter the account number exactly as printed on a cancelled cheque.")
		item.FieldToUpdate = "bank_details.account_number"
		item.CurrentValue = account
		item.RequiredFormat = "9 to 18 digits"
		return h.fail(res, "invalid account number", item), nil
	}

	// Branch lookup is advisory; record it for the audit trail.
	lookup := h.scoped.Call(ctx, "lookup_ifsc", map[string]any{"ifsc": ifsc})
	if lookup.Success && resultBool(lookup, "found") {
		res.Notes = append(res.Notes, fmt.Sprintf("Settlement account at %s, %s",
			resultString(lookup, "bank_name"), resultString(lookup, "branch_name")))
	}

	drop := h.scoped.Call(ctx, "penny_drop_verify", map[string]any{
		"account_number": account,
		"ifsc":           ifsc,
		"expected_name":  holder,
	})
	if !drop.Success || !resultBool(drop, "verified") {
		desc := resultString(drop, "error")
		if desc == "" {
			desc = drop.Error
		}
		item := schema.NewActionItem(schema.CategoryBank, schema.SeverityBlocking,
			"Provide active bank account",
			fmt.Sprintf("Penny drop verification failed: %s", desc),
			"Please provide details of an active savings or current account.")
		item.FieldToUpdate = "bank_details.account_number"
		item.CurrentValue = account
		item.RequiredFormat = "Active savings or current account."
		return h.fail(res, "penny drop failed", item), nil
	}

	if score := resultFloat(drop, "name_match_score"); score < minNameMatchScore {
		item := schema.NewActionItem(schema.CategoryBank, schema.SeverityBlocking,
			"Correct bank account holder name",
			fmt.Sprintf("The name on the bank account (%s) does not match the application (match score %.2f).",
				resultString(drop, "account_holder_name"), score),
			"Ensure the account holder name matches exactly with your business registration.")
		item.FieldToUpdate = "bank_details.account_holder_name"
		item.CurrentValue = holder
		item.RequiredFormat = "Full name as it appears on the bank account."
		return h.fail(res, "penny drop failed: name mismatch", item), nil
	}

	res.Update.BankVerified = schema.Bool(true)
	res.Notes = append(res.Notes, fmt.Sprintf("Penny drop verified against %s", resultString(drop, "bank_name")))
	return res, nil
}

func (h *Bank) fail(res *schema.StageResult, errMsg string, items ...schema.ActionItem) *schema.StageResult {
	res.Update.BankVerified = schema.Bool(false)
	res.Update.LastError = schema.Str(errMsg)
	res.ActionItems = append(res.ActionItems, items...)
	return res
}
