package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewActionItem(t *testing.T) {
	item := NewActionItem(CategoryBank, SeverityBlocking, "Account invalid", "Account number failed validation", "Re-enter the account number")

	assert.True(t, strings.HasPrefix(item.ID, "ai_"))
	assert.Len(t, item.ID, 15)
	assert.Equal(t, CategoryBank, item.Category)
	assert.Equal(t, SeverityBlocking, item.Severity)
	assert.False(t, item.Resolved)
	assert.Nil(t, item.ResolvedAt)
	assert.False(t, item.CreatedAt.IsZero())
}

func TestItemIDDeterministic(t *testing.T) {
	a := NewActionItem(CategoryBank, SeverityBlocking, "Account invalid", "first pass", "")
	b := NewActionItem(CategoryBank, SeverityBlocking, "Account invalid", "retry pass, different wording", "new hint")

	// A re-detected finding carries the same ID so the ledger dedups it.
	assert.Equal(t, a.ID, b.ID)
}

func TestItemIDDistinguishesFindings(t *testing.T) {
	seen := map[string]bool{}
	cases := []struct {
		category ActionCategory
		title    string
	}{
		{CategoryBank, "Account invalid"},
		{CategoryBank, "IFSC invalid"},
		{CategoryData, "Account invalid"},
		{CategoryCompliance, "Add a Privacy Policy page"},
	}
	for _, c := range cases {
		id := ItemID(c.category, c.title)
		assert.False(t, seen[id], "collision on %s/%s", c.category, c.title)
		seen[id] = true
	}
}

func TestSummarize(t *testing.T) {
	items := []ActionItem{
		{Severity: SeverityBlocking},
		{Severity: SeverityBlocking, Resolved: true},
		{Severity: SeverityWarning},
		{Severity: SeverityWarning},
	}

	s := Summarize(items)
	assert.Equal(t, ItemSummary{Total: 4, Blocking: 1, Warning: 2, Resolved: 1}, s)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, ItemSummary{}, Summarize(nil))
}
