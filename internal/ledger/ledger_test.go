package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velocityhq/velocity/internal/store"
	"github.com/velocityhq/velocity/pkg/schema"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "ledger_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, nil)
}

func blockingItem(title string) schema.ActionItem {
	return schema.NewActionItem(schema.CategoryBank, schema.SeverityBlocking, title, "desc", "fix it")
}

func warningItem(title string) schema.ActionItem {
	return schema.NewActionItem(schema.CategoryWebsite, schema.SeverityWarning, title, "desc", "")
}

func TestAppendAndList(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	n, err := l.Append(ctx, "run_1", []schema.ActionItem{blockingItem("b1"), warningItem("w1")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := l.List(ctx, "run_1", true)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, schema.SeverityBlocking, items[0].Severity)
}

func TestAppendDeduplicatesByID(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	item := blockingItem("b1")
	n, err := l.Append(ctx, "run_1", []schema.ActionItem{item})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A stage retry re-offering the same item must not duplicate it.
	n, err = l.Append(ctx, "run_1", []schema.ActionItem{item, warningItem("w1")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err := l.List(ctx, "run_1", true)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestAppendDedupsReconstructedFinding(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first := schema.NewActionItem(schema.CategoryBank, schema.SeverityBlocking, "Account invalid", "account failed validation", "")
	n, err := l.Append(ctx, "run_1", []schema.ActionItem{first})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A fixer-loop re-run builds a brand new struct for the same finding.
	// The derived ID matches, so the original row stands untouched.
	again := schema.NewActionItem(schema.CategoryBank, schema.SeverityBlocking, "Account invalid", "reworded on retry", "fresh hint")
	require.Equal(t, first.ID, again.ID)

	n, err = l.Append(ctx, "run_1", []schema.ActionItem{again})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	items, err := l.List(ctx, "run_1", true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "account failed validation", items[0].Description)
}

func TestAppendEmpty(t *testing.T) {
	l := newTestLedger(t)
	n, err := l.Append(context.Background(), "run_1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestResolveKeepsItemInLedger(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	item := blockingItem("b1")
	_, err := l.Append(ctx, "run_1", []schema.ActionItem{item})
	require.NoError(t, err)

	n, err := l.Resolve(ctx, "run_1", []string{item.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	open, err := l.Open(ctx, "run_1")
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := l.List(ctx, "run_1", true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Resolved)
}

func TestResolveAllOpen(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	resolved := blockingItem("already")
	_, err := l.Append(ctx, "run_1", []schema.ActionItem{resolved, blockingItem("b1"), warningItem("w1")})
	require.NoError(t, err)
	_, err = l.Resolve(ctx, "run_1", []string{resolved.ID})
	require.NoError(t, err)

	n, err := l.ResolveAllOpen(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	open, err := l.Open(ctx, "run_1")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSummary(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	resolved := warningItem("done")
	_, err := l.Append(ctx, "run_1", []schema.ActionItem{blockingItem("b1"), warningItem("w1"), resolved})
	require.NoError(t, err)
	_, err = l.Resolve(ctx, "run_1", []string{resolved.ID})
	require.NoError(t, err)

	sum, err := l.Summary(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, schema.ItemSummary{Total: 3, Blocking: 1, Warning: 1, Resolved: 1}, sum)
}

func TestHasBlocking(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	has, err := l.HasBlocking(ctx, "run_1")
	require.NoError(t, err)
	assert.False(t, has)

	item := blockingItem("b1")
	_, err = l.Append(ctx, "run_1", []schema.ActionItem{item, warningItem("w1")})
	require.NoError(t, err)

	has, err = l.HasBlocking(ctx, "run_1")
	require.NoError(t, err)
	assert.True(t, has)

	// A resolved blocker no longer blocks.
	_, err = l.Resolve(ctx, "run_1", []string{item.ID})
	require.NoError(t, err)
	has, err = l.HasBlocking(ctx, "run_1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestLedgersAreIsolatedPerRun(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "run_1", []schema.ActionItem{blockingItem("b1")})
	require.NoError(t, err)

	items, err := l.List(ctx, "run_2", true)
	require.NoError(t, err)
	assert.Empty(t, items)
}
