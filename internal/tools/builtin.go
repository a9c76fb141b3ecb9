package tools

// RegisterBuiltins wires every built-in tool into the registry. Panics on
// duplicate names, which can only happen from a wiring mistake at startup.
func RegisterBuiltins(r *Registry) {
	builtins := []*Tool{
		ValidatePAN(),
		ValidateGSTIN(),
		ValidateIFSC(),
		ValidateAadhaar(),
		PennyDropVerify(),
		LookupIFSC(),
		ValidateAccountNumber(),
		ExtractDocumentText(),
		ValidateDocumentContent(),
		ExtractPANFromDocument(),
		CheckSSL(),
		FetchWebpage(),
		CheckPagePolicies(),
		CheckDomainAge(),
		EnrichSuggestions(),
		SendReviewReminder(),
		SendCompletionEmail(),
	}
	for _, t := range builtins {
		r.MustRegister(t)
	}
}
