package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// bankNames maps the 4-letter IFSC bank code to the institution name.
var bankNames = map[string]string{
	"HDFC": "HDFC Bank",
	"ICIC": "ICICI Bank",
	"SBIN": "State Bank of India",
	"AXIS": "Axis Bank",
	"KKBK": "Kotak Mahindra Bank",
	"PUNB": "Punjab National Bank",
	"BARB": "Bank of Baroda",
	"UBIN": "Union Bank of India",
}

var bankCities = map[string]string{
	"HDFC": "Mumbai",
	"ICIC": "Mumbai",
	"SBIN": "Delhi",
	"AXIS": "Bangalore",
}

// PennyDropVerify performs a penny drop verification against the account.
// The sandbox backend confirms the deposit and returns the registered
// holder name with a match score against the expected name.
func PennyDropVerify() *Tool {
	return &Tool{
		Def: Definition{
			Name:            "penny_drop_verify",
			Description:     "Perform penny drop verification on bank account",
			Category:        CategoryBank,
			RequiresNetwork: true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"account_number": {"type": "string", "description": "Bank account number"},
					"ifsc": {"type": "string", "description": "IFSC code"},
					"expected_name": {"type": "string", "description": "Expected account holder name"}
				},
				"required": ["account_number", "ifsc"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			account := strParam(in.Params, "account_number")
			ifsc := strings.ToUpper(strParam(in.Params, "ifsc"))
			expected := strParam(in.Params, "expected_name")

			if account == "" || ifsc == "" {
				return map[string]any{
					"verified": false,
					"error":    "account number and IFSC are required",
				}, nil
			}
			if in.Sim.Enabled("penny_drop_fail") {
				return map[string]any{
					"verified":            false,
					"account_holder_name": "",
					"name_match_score":    0.0,
					"bank_name":           bankNameFor(ifsc),
					"error":               "penny drop deposit failed: account not found",
				}, nil
			}

			score := 1.0
			holder := "VERIFIED"
			if expected != "" {
				holder = strings.ToUpper(expected)
			} else {
				score = 0.8
			}

			return map[string]any{
				"verified":            true,
				"account_holder_name": holder,
				"name_match_score":    score,
				"bank_name":           bankNameFor(ifsc),
			}, nil
		},
	}
}

// LookupIFSC resolves bank and branch details from an IFSC code.
func LookupIFSC() *Tool {
	return &Tool{
		Def: Definition{
			Name:            "lookup_ifsc",
			Description:     "Look up bank and branch details from IFSC code",
			Category:        CategoryBank,
			RequiresNetwork: true,
			Idempotent:      true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"ifsc": {"type": "string", "description": "IFSC code to look up"}
				},
				"required": ["ifsc"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			ifsc := strings.ToUpper(strings.TrimSpace(strParam(in.Params, "ifsc")))
			if len(ifsc) != 11 {
				return map[string]any{"found": false}, nil
			}

			code := ifsc[:4]
			city, ok := bankCities[code]
			if !ok {
				city = "Mumbai"
			}
			state := "Maharashtra"
			if city == "Delhi" {
				state = "Delhi"
			} else if city == "Bangalore" {
				state = "Karnataka"
			}

			return map[string]any{
				"found":       true,
				"bank_name":   bankNameFor(ifsc),
				"branch_name": fmt.Sprintf("%s Branch", city),
				"address":     fmt.Sprintf("123 Main Road, %s", city),
				"city":        city,
				"state":       state,
			}, nil
		},
	}
}

// ValidateAccountNumber checks account number format. Indian bank accounts
// run 9 to 18 digits.
func ValidateAccountNumber() *Tool {
	return &Tool{
		Def: Definition{
			Name:        "validate_account_number",
			Description: "Validate bank account number format",
			Category:    CategoryBank,
			Idempotent:  true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"account_number": {"type": "string", "description": "Account number to validate"}
				},
				"required": ["account_number"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			account := separators.Replace(strParam(in.Params, "account_number"))
			if account == "" {
				return map[string]any{"valid": false, "length": 0, "error": "account number is required"}, nil
			}
			for _, r := range account {
				if r < '0' || r > '9' {
					return map[string]any{
						"valid":  false,
						"length": len(account),
						"error":  "account number must contain only digits",
					}, nil
				}
			}
			if len(account) < 9 || len(account) > 18 || in.Sim.Enabled("bank_account_invalid") {
				return map[string]any{
					"valid":  false,
					"length": len(account),
					"error":  "account number must be between 9 and 18 digits",
				}, nil
			}
			return map[string]any{"valid": true, "length": len(account)}, nil
		},
	}
}

func bankNameFor(ifsc string) string {
	if len(ifsc) < 4 {
		return "Unknown Bank"
	}
	code := ifsc[:4]
	if name, ok := bankNames[code]; ok {
		return name
	}
	return fmt.Sprintf("Bank (%s)", code)
}
