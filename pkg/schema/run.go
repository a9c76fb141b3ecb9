package schema

// Stage names the steps of the onboarding workflow.
type Stage string

const (
	StageInput      Stage = "INPUT"
	StageDocs       Stage = "DOCS"
	StageBank       Stage = "BANK"
	StageCompliance Stage = "COMPLIANCE"
	StageFixer      Stage = "FIXER"
	StageFinal      Stage = "FINAL"
)

// RunStatus is the lifecycle status of an onboarding run.
type RunStatus string

const (
	RunStatusInProgress  RunStatus = "IN_PROGRESS"
	RunStatusNeedsReview RunStatus = "NEEDS_REVIEW"
	RunStatusCompleted   RunStatus = "COMPLETED"
	RunStatusRejected    RunStatus = "REJECTED"
)

// JobStatus is the pollable execution status of a run's background job.
type JobStatus string

const (
	JobStatusQueued      JobStatus = "QUEUED"
	JobStatusProcessing  JobStatus = "PROCESSING"
	JobStatusNeedsReview JobStatus = "NEEDS_REVIEW"
	JobStatusCompleted   JobStatus = "COMPLETED"
	JobStatusFailed      JobStatus = "FAILED"
)

// IsTerminal reports whether the job status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// OutcomeFlags are the per-stage gate results. A gate that has not run yet
// reads as false, which routes to the fixer; the router never advances past
// an unverified gate.
type OutcomeFlags struct {
	AuthValid        bool `json:"auth_valid"`
	DocVerified      bool `json:"doc_verified"`
	BankVerified     bool `json:"bank_verified"`
	WebsiteCompliant bool `json:"website_compliant"`
}

// RunState is the full state of one onboarding run. It is owned by the
// checkpoint store; stage handlers see a read-only view and mutate it only
// through StageResult updates applied by the router.
type RunState struct {
	RunID      string    `json:"run_id"`
	MerchantID string    `json:"merchant_id"`
	Stage      Stage     `json:"stage"`
	Status     RunStatus `json:"status"`

	Flags     OutcomeFlags `json:"flags"`
	RiskScore float64      `json:"risk_score"`

	// ApplicationData is the merchant-supplied payload. It is mutated only by
	// the resume merge, never by stage handlers.
	ApplicationData map[string]any `json:"application_data"`

	// Notes is the monotonically growing audit trail.
	Notes []string `json:"notes"`

	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`

	// Extra carries pass-through extension data that does not belong to any
	// fixed field.
	Extra map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep copy of the state so handlers can be given a view
// that cannot alias the router's working copy.
func (s *RunState) Clone() *RunState {
	cp := *s
	cp.ApplicationData = cloneMap(s.ApplicationData)
	cp.Notes = append([]string(nil), s.Notes...)
	cp.Extra = cloneMap(s.Extra)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = cloneMap(val)
		case []any:
			cp := make([]any, len(val))
			for i, e := range val {
				if nested, ok := e.(map[string]any); ok {
					cp[i] = cloneMap(nested)
				} else {
					cp[i] = e
				}
			}
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

// StateUpdate is the partial state change a stage handler returns. Nil
// pointer fields mean "leave unchanged".
type StateUpdate struct {
	Stage      *Stage     `json:"stage,omitempty"`
	Status     *RunStatus `json:"status,omitempty"`
	RiskScore  *float64   `json:"risk_score,omitempty"`
	LastError  *string    `json:"last_error,omitempty"`
	RetryCount *int       `json:"retry_count,omitempty"`

	AuthValid        *bool `json:"auth_valid,omitempty"`
	DocVerified      *bool `json:"doc_verified,omitempty"`
	BankVerified     *bool `json:"bank_verified,omitempty"`
	WebsiteCompliant *bool `json:"website_compliant,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// StageResult is the per-invocation output of a stage handler.
type StageResult struct {
	Update      StateUpdate  `json:"update"`
	ActionItems []ActionItem `json:"action_items,omitempty"`
	Notes       []string     `json:"notes,omitempty"`

	// NextStage is an optional explicit routing hint, used only when the
	// executed stage declares no edge predicate.
	NextStage Stage `json:"next_stage,omitempty"`
}

// Apply merges the update into the state. Notes are appended, never replaced.
func (r *StageResult) Apply(s *RunState) {
	u := r.Update
	if u.Stage != nil {
		s.Stage = *u.Stage
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.RiskScore != nil {
		s.RiskScore = *u.RiskScore
	}
	if u.LastError != nil {
		s.LastError = *u.LastError
	}
	if u.RetryCount != nil {
		s.RetryCount = *u.RetryCount
	}
	if u.AuthValid != nil {
		s.Flags.AuthValid = *u.AuthValid
	}
	if u.DocVerified != nil {
		s.Flags.DocVerified = *u.DocVerified
	}
	if u.BankVerified != nil {
		s.Flags.BankVerified = *u.BankVerified
	}
	if u.WebsiteCompliant != nil {
		s.Flags.WebsiteCompliant = *u.WebsiteCompliant
	}
	if len(u.Extra) > 0 {
		if s.Extra == nil {
			s.Extra = make(map[string]any, len(u.Extra))
		}
		for k, v := range u.Extra {
			s.Extra[k] = v
		}
	}
	s.Notes = append(s.Notes, r.Notes...)
}

// Helpers for building partial updates without pointer boilerplate.

func Bool(v bool) *bool              { return &v }
func Float(v float64) *float64       { return &v }
func Int(v int) *int                 { return &v }
func Str(v string) *string           { return &v }
func StagePtr(v Stage) *Stage        { return &v }
func StatusPtr(v RunStatus) *RunStatus { return &v }
