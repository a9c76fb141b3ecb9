package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionCategory classifies the area an action item relates to.
type ActionCategory string

const (
	CategoryDocument   ActionCategory = "DOCUMENT"
	CategoryBank       ActionCategory = "BANK"
	CategoryCompliance ActionCategory = "COMPLIANCE"
	CategoryWebsite    ActionCategory = "WEBSITE"
	CategoryData       ActionCategory = "DATA"
)

// ActionSeverity ranks how badly an item blocks onboarding.
type ActionSeverity string

const (
	SeverityBlocking ActionSeverity = "BLOCKING"
	SeverityWarning  ActionSeverity = "WARNING"
)

// ActionItem is an immutable record of one discrete issue found during
// verification. Once issued, an item is never removed from a run's ledger;
// resolving only adds the resolution fact.
type ActionItem struct {
	ID          string         `json:"id"`
	Category    ActionCategory `json:"category"`
	Severity    ActionSeverity `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Suggestion  string         `json:"suggestion,omitempty"`

	// FieldToUpdate points at the offending application data field, as a
	// dotted path (e.g. "business_details.pan").
	FieldToUpdate  string `json:"field_to_update,omitempty"`
	CurrentValue   string `json:"current_value,omitempty"`
	RequiredFormat string `json:"required_format,omitempty"`
	SampleContent  string `json:"sample_content,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// NewActionItem builds an item with a creation timestamp and an ID derived
// from the finding itself, so a stage re-run that detects the same issue
// emits the same ID and the ledger's insert dedup collapses it.
func NewActionItem(category ActionCategory, severity ActionSeverity, title, description, suggestion string) ActionItem {
	return ActionItem{
		ID:          ItemID(category, title),
		Category:    category,
		Severity:    severity,
		Title:       title,
		Description: description,
		Suggestion:  suggestion,
		CreatedAt:   time.Now().UTC(),
	}
}

// itemNamespace seeds the deterministic item ID derivation. Stable across
// processes; never change it, or re-runs of parked runs will duplicate their
// ledger entries under new IDs.
var itemNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// ItemID derives a short deterministic identifier from the finding's
// category and title. The prefix keeps item IDs visually distinct from run
// IDs in logs and API payloads. The ledger scopes items per run, so two runs
// with the same finding share an ID without colliding.
func ItemID(category ActionCategory, title string) string {
	id := uuid.NewSHA1(itemNamespace, []byte(string(category)+"|"+title))
	return "ai_" + strings.ReplaceAll(id.String(), "-", "")[:12]
}

// ItemSummary is the aggregate view returned alongside item listings.
type ItemSummary struct {
	Total    int `json:"total"`
	Blocking int `json:"blocking"`
	Warning  int `json:"warning"`
	Resolved int `json:"resolved"`
}

// Summarize counts items by severity and resolution.
func Summarize(items []ActionItem) ItemSummary {
	var s ItemSummary
	for _, it := range items {
		s.Total++
		if it.Resolved {
			s.Resolved++
			continue
		}
		switch it.Severity {
		case SeverityBlocking:
			s.Blocking++
		case SeverityWarning:
			s.Warning++
		}
	}
	return s
}
