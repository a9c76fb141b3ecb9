package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RunID(ctx))
	assert.Empty(t, Stage(ctx))
	assert.Empty(t, MerchantID(ctx))

	ctx = WithIDs(ctx, "run_1", "BANK", "merch_1")
	assert.Equal(t, "run_1", RunID(ctx))
	assert.Equal(t, "BANK", Stage(ctx))
	assert.Equal(t, "merch_1", MerchantID(ctx))
}

func TestCorrelationHandlerInjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithIDs(context.Background(), "run_1", "DOCS", "merch_1")
	logger.InfoContext(ctx, "stage running", "attempt", 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "run_1", rec["run_id"])
	assert.Equal(t, "DOCS", rec["stage"])
	assert.Equal(t, "merch_1", rec["merchant_id"])
	assert.Equal(t, float64(2), rec["attempt"])
}

func TestCorrelationHandlerSkipsEmptyIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithRunID(context.Background(), "run_1")
	logger.InfoContext(ctx, "partial context")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "run_1", rec["run_id"])
	assert.NotContains(t, rec, "stage")
	assert.NotContains(t, rec, "merchant_id")
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))
	logger := base.With("component", "router")

	logger.InfoContext(WithStage(context.Background(), "FINAL"), "done")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "router", rec["component"])
	assert.Equal(t, "FINAL", rec["stage"])
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithIDs(context.Background(), "run_1", "", "merch_1")
	LogWith(ctx, logger).Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "run_1", rec["run_id"])
	assert.Equal(t, "merch_1", rec["merchant_id"])
	assert.NotContains(t, rec, "stage")
}
