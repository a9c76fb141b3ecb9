package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velocityhq/velocity/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	st, err := NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "store_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testState(runID string) *schema.RunState {
	return &schema.RunState{
		RunID:      runID,
		MerchantID: "merch_1",
		Stage:      schema.StageInput,
		Status:     schema.RunStatusInProgress,
		ApplicationData: map[string]any{
			"business_details": map[string]any{"pan": "ABCPE1234F"},
			"bank_details":     map[string]any{"account_number": "12345678901"},
		},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// newTestStore already migrated once; applied scripts are skipped.
	require.NoError(t, st.Migrate(ctx))

	var applied int
	require.NoError(t, st.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM applied_migrations`).Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestSaveAndLoadCheckpoint(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	cp := &Checkpoint{RunID: "run_1", Seq: 1, Stage: schema.StageInput, State: testState("run_1")}
	require.NoError(t, st.SaveCheckpoint(ctx, cp))

	got, err := st.LatestCheckpoint(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Seq)
	assert.Equal(t, schema.StageInput, got.Stage)
	assert.Equal(t, "merch_1", got.State.MerchantID)
	assert.Equal(t, "ABCPE1234F",
		got.State.ApplicationData["business_details"].(map[string]any)["pan"])
}

func TestLatestCheckpointPicksHighestSeq(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for seq := int64(1); seq <= 3; seq++ {
		state := testState("run_1")
		state.RetryCount = int(seq)
		require.NoError(t, st.SaveCheckpoint(ctx, &Checkpoint{
			RunID: "run_1", Seq: seq, Stage: schema.StageDocs, State: state,
		}))
	}

	got, err := st.LatestCheckpoint(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Seq)
	assert.Equal(t, 3, got.State.RetryCount)
}

func TestSaveCheckpointSeqConflict(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	cp := &Checkpoint{RunID: "run_1", Seq: 1, Stage: schema.StageInput, State: testState("run_1")}
	require.NoError(t, st.SaveCheckpoint(ctx, cp))

	err := st.SaveCheckpoint(ctx, cp)
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeSequenceConflict, engErr.Code)
}

func TestSaveCheckpointConcurrentWritersOneWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	const writers = 8
	errs := make([]error, writers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			state := testState("run_1")
			state.RetryCount = i
			errs[i] = st.SaveCheckpoint(ctx, &Checkpoint{
				RunID: "run_1", Seq: 1, Stage: schema.StageInput, State: state,
			})
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		var engErr *schema.EngineError
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, schema.ErrCodeSequenceConflict, engErr.Code)
	}
	assert.Equal(t, 1, winners)

	cps, err := st.ListCheckpoints(ctx, "run_1")
	require.NoError(t, err)
	assert.Len(t, cps, 1)
}

func TestSaveCheckpointRejectsInvalid(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.SaveCheckpoint(ctx, &Checkpoint{RunID: "run_1", Seq: 0, Stage: schema.StageInput, State: testState("run_1")})
	require.Error(t, err)

	err = st.SaveCheckpoint(ctx, &Checkpoint{RunID: "run_1", Seq: 1})
	require.Error(t, err)
}

func TestLatestCheckpointNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.LatestCheckpoint(context.Background(), "missing")
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeNotFound, engErr.Code)
}

func TestListCheckpointsOrdered(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, st.SaveCheckpoint(ctx, &Checkpoint{
			RunID: "run_1", Seq: seq, Stage: schema.StageDocs, State: testState("run_1"),
		}))
	}
	require.NoError(t, st.SaveCheckpoint(ctx, &Checkpoint{
		RunID: "run_2", Seq: 1, Stage: schema.StageInput, State: testState("run_2"),
	}))

	cps, err := st.ListCheckpoints(ctx, "run_1")
	require.NoError(t, err)
	require.Len(t, cps, 3)
	for i, cp := range cps {
		assert.Equal(t, int64(i+1), cp.Seq)
	}
}

func TestUpdateApplicationDataMergesAndAppends(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveCheckpoint(ctx, &Checkpoint{
		RunID: "run_1", Seq: 1, Stage: schema.StageFixer, State: testState("run_1"),
	}))

	changed, err := st.UpdateApplicationData(ctx, "run_1", map[string]any{
		"bank_details": map[string]any{"account_number": "99999999999"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	// The merge lands as a new checkpoint; the old one is untouched.
	cps, err := st.ListCheckpoints(ctx, "run_1")
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, "12345678901",
		cps[0].State.ApplicationData["bank_details"].(map[string]any)["account_number"])
	assert.Equal(t, "99999999999",
		cps[1].State.ApplicationData["bank_details"].(map[string]any)["account_number"])

	// Untouched siblings survive the merge.
	assert.Equal(t, "ABCPE1234F",
		cps[1].State.ApplicationData["business_details"].(map[string]any)["pan"])
}

func TestUpdateApplicationDataNoChangeNoCheckpoint(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveCheckpoint(ctx, &Checkpoint{
		RunID: "run_1", Seq: 1, Stage: schema.StageFixer, State: testState("run_1"),
	}))

	changed, err := st.UpdateApplicationData(ctx, "run_1", map[string]any{
		"bank_details": map[string]any{"account_number": "12345678901"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, changed)

	cps, err := st.ListCheckpoints(ctx, "run_1")
	require.NoError(t, err)
	assert.Len(t, cps, 1)
}

func TestUpdateApplicationDataUnknownRun(t *testing.T) {
	st := newTestStore(t)
	_, err := st.UpdateApplicationData(context.Background(), "missing", map[string]any{"x": "y"})
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeNotFound, engErr.Code)
}

func TestJobLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := &Job{RunID: "run_1", MerchantID: "merch_1", Status: schema.JobStatusQueued, Stage: schema.StageInput}
	require.NoError(t, st.CreateJob(ctx, job))

	err := st.CreateJob(ctx, job)
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeConflict, engErr.Code)

	got, err := st.GetJob(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, schema.JobStatusQueued, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Nil(t, got.Result)

	status := schema.JobStatusProcessing
	stage := schema.StageBank
	require.NoError(t, st.UpdateJob(ctx, "run_1", JobUpdate{Status: &status, Stage: &stage}))

	got, err = st.GetJob(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, schema.JobStatusProcessing, got.Status)
	assert.Equal(t, schema.StageBank, got.Stage)
}

func TestUpdateJobNotFound(t *testing.T) {
	st := newTestStore(t)
	status := schema.JobStatusFailed
	err := st.UpdateJob(context.Background(), "missing", JobUpdate{Status: &status})
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeNotFound, engErr.Code)
}

func TestUpdateJobEmptyUpdateIsNoop(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.UpdateJob(context.Background(), "missing", JobUpdate{}))
}

func TestListJobsFiltering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed := []struct {
		runID    string
		merchant string
		status   schema.JobStatus
	}{
		{"run_1", "merch_a", schema.JobStatusQueued},
		{"run_2", "merch_a", schema.JobStatusCompleted},
		{"run_3", "merch_b", schema.JobStatusNeedsReview},
	}
	for i, s := range seed {
		require.NoError(t, st.CreateJob(ctx, &Job{
			RunID: s.runID, MerchantID: s.merchant, Status: s.status, Stage: schema.StageInput,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := st.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "run_3", all[0].RunID)

	status := schema.JobStatusNeedsReview
	byStatus, err := st.ListJobs(ctx, JobFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "run_3", byStatus[0].RunID)

	byMerchant, err := st.ListJobs(ctx, JobFilter{MerchantID: "merch_a"})
	require.NoError(t, err)
	assert.Len(t, byMerchant, 2)

	limited, err := st.ListJobs(ctx, JobFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "run_2", limited[0].RunID)
}

func TestListJobsUpdatedBefore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, &Job{
		RunID: "run_old", MerchantID: "m", Status: schema.JobStatusNeedsReview, Stage: schema.StageFixer,
		UpdatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}))
	require.NoError(t, st.CreateJob(ctx, &Job{
		RunID: "run_new", MerchantID: "m", Status: schema.JobStatusNeedsReview, Stage: schema.StageFixer,
	}))

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	stale, err := st.ListJobs(ctx, JobFilter{UpdatedBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "run_old", stale[0].RunID)
}

func TestInsertActionItemsDedup(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	items := []schema.ActionItem{
		schema.NewActionItem(schema.CategoryBank, schema.SeverityBlocking, "Bad account", "desc", ""),
		schema.NewActionItem(schema.CategoryWebsite, schema.SeverityWarning, "Slow site", "desc", ""),
	}
	n, err := st.InsertActionItems(ctx, "run_1", items)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-offering the same IDs inserts nothing.
	n, err = st.InsertActionItems(ctx, "run_1", items)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = st.InsertActionItems(ctx, "run_1", []schema.ActionItem{{Category: schema.CategoryData, Severity: schema.SeverityWarning, Title: "t", Description: "d"}})
	require.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestListActionItemsOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	items := []schema.ActionItem{
		{ID: "ai_warn_early", Category: schema.CategoryWebsite, Severity: schema.SeverityWarning, Title: "w1", Description: "d", CreatedAt: base},
		{ID: "ai_block_late", Category: schema.CategoryBank, Severity: schema.SeverityBlocking, Title: "b2", Description: "d", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "ai_block_early", Category: schema.CategoryBank, Severity: schema.SeverityBlocking, Title: "b1", Description: "d", CreatedAt: base.Add(time.Minute)},
	}
	_, err := st.InsertActionItems(ctx, "run_1", items)
	require.NoError(t, err)

	got, err := st.ListActionItems(ctx, "run_1", true)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// BLOCKING first, oldest first within a severity.
	assert.Equal(t, "ai_block_early", got[0].ID)
	assert.Equal(t, "ai_block_late", got[1].ID)
	assert.Equal(t, "ai_warn_early", got[2].ID)
}

func TestResolveActionItems(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	item := schema.NewActionItem(schema.CategoryBank, schema.SeverityBlocking, "Bad account", "desc", "")
	_, err := st.InsertActionItems(ctx, "run_1", []schema.ActionItem{item})
	require.NoError(t, err)

	n, err := st.ResolveActionItems(ctx, "run_1", []string{item.ID, "ai_unknown"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Resolving again is a no-op; the original timestamp stands.
	n, err = st.ResolveActionItems(ctx, "run_1", []string{item.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	open, err := st.ListActionItems(ctx, "run_1", false)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := st.ListActionItems(ctx, "run_1", true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Resolved)
	assert.NotNil(t, all[0].ResolvedAt)
}
