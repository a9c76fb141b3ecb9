package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	panPattern     = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	gstinPattern   = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][0-9A-Z]Z[0-9A-Z]$`)
	ifscPattern    = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
	aadhaarPattern = regexp.MustCompile(`^[2-9][0-9]{11}$`)
	separators     = strings.NewReplacer(" ", "", "-", "")
)

// panHolderTypes maps the 4th PAN character to the registered holder type.
var panHolderTypes = map[byte]string{
	'A': "Association of Persons (AOP)",
	'B': "Body of Individuals (BOI)",
	'C': "Company",
	'F': "Firm",
	'G': "Government",
	'H': "Hindu Undivided Family (HUF)",
	'L': "Local Authority",
	'J': "Artificial Juridical Person",
	'P': "Individual",
	'T': "Trust (AOP)",
	'K': "Krishi",
}

// ValidatePAN checks a Permanent Account Number: 5 letters, 4 digits, 1
// letter, with the 4th character encoding the holder type.
func ValidatePAN() *Tool {
	return &Tool{
		Def: Definition{
			Name:        "validate_pan",
			Description: "Validate PAN (Permanent Account Number) format and holder type",
			Category:    CategoryValidation,
			Idempotent:  true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"pan": {"type": "string", "description": "PAN to validate"}
				},
				"required": ["pan"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			pan := strings.ToUpper(strings.TrimSpace(strParam(in.Params, "pan")))
			if pan == "" {
				return invalid("PAN is required"), nil
			}
			if !panPattern.MatchString(pan) {
				return invalid("invalid format: PAN must be 10 characters, 5 letters + 4 digits + 1 letter"), nil
			}

			holderType, ok := panHolderTypes[pan[3]]
			if !ok {
				holderType = "Unknown"
			}
			if in.Sim.Enabled("pan_mismatch") {
				return invalid("PAN holder name does not match registered records"), nil
			}

			return map[string]any{
				"valid": true,
				"parsed": map[string]any{
					"type":         string(pan[3]),
					"holder_type":  holderType,
					"name_initial": string(pan[4]),
				},
			}, nil
		},
	}
}

// ValidateGSTIN checks a 15-character GSTIN: 2-digit state code, embedded
// PAN, entity code, the literal Z, and a check digit.
func ValidateGSTIN() *Tool {
	return &Tool{
		Def: Definition{
			Name:        "validate_gstin",
			Description: "Validate GSTIN (Goods and Services Tax Identification Number) format",
			Category:    CategoryValidation,
			Idempotent:  true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"gstin": {"type": "string", "description": "GSTIN to validate"}
				},
				"required": ["gstin"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			gstin := strings.ToUpper(strings.TrimSpace(strParam(in.Params, "gstin")))
			if gstin == "" {
				return invalid("GSTIN is required"), nil
			}
			if !gstinPattern.MatchString(gstin) {
				return invalid("invalid format: GSTIN must be 15 characters, 2 digits + 10 char PAN + entity code + Z + check digit"), nil
			}

			stateCode := gstin[:2]
			if n, _ := strconv.Atoi(stateCode); n < 1 || n > 37 {
				return invalid(fmt.Sprintf("invalid state code %s: must be between 01 and 37", stateCode)), nil
			}
			if in.Sim.Enabled("gstin_inactive") {
				return invalid("GSTIN registration is inactive"), nil
			}

			return map[string]any{
				"valid": true,
				"parsed": map[string]any{
					"state_code":  stateCode,
					"pan":         gstin[2:12],
					"entity_code": string(gstin[12]),
				},
			}, nil
		},
	}
}

// ValidateIFSC checks an Indian Financial System Code: 4-letter bank code,
// a reserved zero, and a 6-character branch code.
func ValidateIFSC() *Tool {
	return &Tool{
		Def: Definition{
			Name:        "validate_ifsc",
			Description: "Validate IFSC (Indian Financial System Code) format",
			Category:    CategoryValidation,
			Idempotent:  true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"ifsc": {"type": "string", "description": "IFSC code to validate"}
				},
				"required": ["ifsc"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			ifsc := strings.ToUpper(strings.TrimSpace(strParam(in.Params, "ifsc")))
			if ifsc == "" {
				return invalid("IFSC is required"), nil
			}
			if !ifscPattern.MatchString(ifsc) {
				return invalid("invalid format: IFSC must be 11 characters, 4 letters + 0 + 6 alphanumeric"), nil
			}

			return map[string]any{
				"valid": true,
				"parsed": map[string]any{
					"bank_code":   ifsc[:4],
					"branch_code": ifsc[5:],
				},
			}, nil
		},
	}
}

// ValidateAadhaar performs a format-only check: 12 digits and the first
// digit outside 0 and 1. No Verhoeff checksum.
func ValidateAadhaar() *Tool {
	return &Tool{
		Def: Definition{
			Name:        "validate_aadhaar",
			Description: "Validate Aadhaar number format (basic check)",
			Category:    CategoryValidation,
			Idempotent:  true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"aadhaar": {"type": "string", "description": "Aadhaar number to validate"}
				},
				"required": ["aadhaar"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			aadhaar := separators.Replace(strParam(in.Params, "aadhaar"))
			if aadhaar == "" {
				return invalid("Aadhaar is required"), nil
			}
			if !aadhaarPattern.MatchString(aadhaar) || in.Sim.Enabled("aadhaar_invalid") {
				return invalid("invalid format: Aadhaar must be 12 digits and cannot start with 0 or 1"), nil
			}
			return map[string]any{"valid": true}, nil
		},
	}
}

func invalid(msg string) map[string]any {
	return map[string]any{"valid": false, "error": msg}
}
