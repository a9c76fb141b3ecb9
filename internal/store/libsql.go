package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/velocityhq/velocity/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Checkpoints ---

// SaveCheckpoint appends an immutable checkpoint. The (run_id, seq) primary
// key rejects duplicate or competing writes; the loser of a race gets a
// SEQUENCE_CONFLICT error and must abort its execution attempt.
func (s *LibSQLStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.State == nil {
		return schema.NewError(schema.ErrCodeValidation, "checkpoint state is nil")
	}
	if cp.Seq <= 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "checkpoint seq must be positive, got %d", cp.Seq)
	}
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("marshal checkpoint state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (run_id, seq, stage, state, created_at) VALUES (?, ?, ?, ?, ?)`,
		cp.RunID, cp.Seq, string(cp.Stage), string(stateJSON), timeOrNow(cp.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeSequenceConflict,
				"checkpoint seq %d already exists for run %q", cp.Seq, cp.RunID).WithCause(err)
		}
		return err
	}
	return nil
}

// LatestCheckpoint returns the highest-seq checkpoint for a run.
func (s *LibSQLStore) LatestCheckpoint(ctx context.Context, runID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, seq, stage, state, created_at FROM checkpoints
		 WHERE run_id = ? ORDER BY seq DESC LIMIT 1`, runID,
	)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("checkpoint", runID)
	}
	return cp, err
}

// ListCheckpoints returns all checkpoints for a run ordered by seq ascending.
func (s *LibSQLStore) ListCheckpoints(ctx context.Context, runID string) ([]*Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, stage, state, created_at FROM checkpoints
		 WHERE run_id = ? ORDER BY seq ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cps []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// UpdateApplicationData deep-merges caller-supplied corrections into the
// latest checkpoint's application data and writes the merged state as a NEW
// checkpoint at seq+1. Existing checkpoints are never edited. Returns the
// number of top-level fields that changed.
func (s *LibSQLStore) UpdateApplicationData(ctx context.Context, runID string, partial map[string]any) (int, error) {
	if len(partial) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Force write-lock acquisition up front so the read-merge-write below
	// cannot interleave with a competing writer in WAL mode.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO applied_migrations (name) VALUES ('_write_lock')`); err != nil {
		return 0, fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM applied_migrations WHERE name = '_write_lock'`); err != nil {
		return 0, fmt.Errorf("cleanup write lock: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT run_id, seq, stage, state, created_at FROM checkpoints
		 WHERE run_id = ? ORDER BY seq DESC LIMIT 1`, runID,
	)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return 0, storeNotFound("checkpoint", runID)
	}
	if err != nil {
		return 0, err
	}

	state := cp.State
	if state.ApplicationData == nil {
		state.ApplicationData = make(map[string]any)
	}
	changed := DeepMerge(state.ApplicationData, partial)
	if changed == 0 {
		return 0, tx.Commit()
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("marshal merged state: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (run_id, seq, stage, state, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, cp.Seq+1, string(cp.Stage), string(stateJSON), time.Now().UTC(),
	); err != nil {
		if isUniqueViolation(err) {
			return 0, schema.NewErrorf(schema.ErrCodeSequenceConflict,
				"checkpoint seq %d already exists for run %q", cp.Seq+1, runID).WithCause(err)
		}
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit merged checkpoint: %w", err)
	}
	return changed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	cp := &Checkpoint{}
	var stage, stateJSON string
	if err := row.Scan(&cp.RunID, &cp.Seq, &stage, &stateJSON, &cp.CreatedAt); err != nil {
		return nil, err
	}
	cp.Stage = schema.Stage(stage)
	cp.State = &schema.RunState{}
	if err := json.Unmarshal([]byte(stateJSON), cp.State); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint state: %w", err)
	}
	return cp, nil
}

// --- Jobs ---

func (s *LibSQLStore) CreateJob(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (run_id, merchant_id, status, stage, error_message, result, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.RunID, job.MerchantID, string(job.Status), string(job.Stage),
		nullStr(job.ErrorMessage), nullRaw(job.Result),
		timeOrNow(job.CreatedAt), timeOrNow(job.UpdatedAt),
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "job %q already exists", job.RunID).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetJob(ctx context.Context, runID string) (*Job, error) {
	j := &Job{}
	var status, stage string
	var errMsg, result sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, merchant_id, status, stage, error_message, result, created_at, updated_at
		 FROM jobs WHERE run_id = ?`, runID,
	).Scan(&j.RunID, &j.MerchantID, &status, &stage, &errMsg, &result, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("job", runID)
	}
	if err != nil {
		return nil, err
	}
	j.Status = schema.JobStatus(status)
	j.Stage = schema.Stage(stage)
	j.ErrorMessage = errMsg.String
	j.Result = rawOrNil(result)
	return j, nil
}

func (s *LibSQLStore) UpdateJob(ctx context.Context, runID string, update JobUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Stage != nil {
		sets = append(sets, "stage = ?")
		args = append(args, string(*update.Stage))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	}
	if update.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, string(update.Result))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, runID)

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE run_id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "job", runID)
}

func (s *LibSQLStore) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.MerchantID != "" {
		where = append(where, "merchant_id = ?")
		args = append(args, filter.MerchantID)
	}
	if filter.UpdatedBefore != nil {
		where = append(where, "updated_at < ?")
		args = append(args, *filter.UpdatedBefore)
	}

	query := "SELECT run_id, merchant_id, status, stage, error_message, result, created_at, updated_at FROM jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j := &Job{}
		var status, stage string
		var errMsg, result sql.NullString
		if err := rows.Scan(&j.RunID, &j.MerchantID, &status, &stage, &errMsg, &result, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		j.Status = schema.JobStatus(status)
		j.Stage = schema.Stage(stage)
		j.ErrorMessage = errMsg.String
		j.Result = rawOrNil(result)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// --- Action items ---

// InsertActionItems appends items whose IDs are not already present for the
// run. Re-submitted IDs are dropped, not overwritten. Returns the number of
// rows actually inserted.
func (s *LibSQLStore) InsertActionItems(ctx context.Context, runID string, items []schema.ActionItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, it := range items {
		if it.ID == "" {
			return inserted, schema.NewError(schema.ErrCodeValidation, "action item has empty ID")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO action_items
			 (run_id, item_id, category, severity, title, description, suggestion,
			  field_to_update, current_value, required_format, sample_content,
			  created_at, resolved, resolved_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, it.ID, string(it.Category), string(it.Severity), it.Title, it.Description,
			nullStr(it.Suggestion), nullStr(it.FieldToUpdate), nullStr(it.CurrentValue),
			nullStr(it.RequiredFormat), nullStr(it.SampleContent),
			timeOrNow(it.CreatedAt), boolToInt(it.Resolved), nullTime(it.ResolvedAt),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert action item %q: %w", it.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("commit action items: %w", err)
	}
	return inserted, nil
}

// ResolveActionItems stamps matching unresolved items with a resolution
// timestamp. Unknown IDs and already-resolved items are no-ops. Returns the
// number of items newly resolved.
func (s *LibSQLStore) ResolveActionItems(ctx context.Context, runID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	resolved := 0
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx,
			`UPDATE action_items SET resolved = 1, resolved_at = CURRENT_TIMESTAMP
			 WHERE run_id = ? AND item_id = ? AND resolved = 0`,
			runID, id,
		)
		if err != nil {
			return resolved, fmt.Errorf("resolve action item %q: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			resolved++
		}
	}
	return resolved, nil
}

// ListActionItems returns the run's items ordered BLOCKING before WARNING,
// ties broken by creation time then item ID for stability.
func (s *LibSQLStore) ListActionItems(ctx context.Context, runID string, includeResolved bool) ([]schema.ActionItem, error) {
	query := `SELECT item_id, category, severity, title, description, suggestion,
	                 field_to_update, current_value, required_format, sample_content,
	                 created_at, resolved, resolved_at
	          FROM action_items WHERE run_id = ?`
	if !includeResolved {
		query += ` AND resolved = 0`
	}
	query += ` ORDER BY CASE severity WHEN 'BLOCKING' THEN 0 ELSE 1 END, created_at ASC, item_id ASC`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []schema.ActionItem
	for rows.Next() {
		var it schema.ActionItem
		var category, severity string
		var suggestion, field, current, format, sample sql.NullString
		var resolved int
		var resolvedAt sql.NullTime
		if err := rows.Scan(&it.ID, &category, &severity, &it.Title, &it.Description,
			&suggestion, &field, &current, &format, &sample,
			&it.CreatedAt, &resolved, &resolvedAt); err != nil {
			return nil, err
		}
		it.Category = schema.ActionCategory(category)
		it.Severity = schema.ActionSeverity(severity)
		it.Suggestion = suggestion.String
		it.FieldToUpdate = field.String
		it.CurrentValue = current.String
		it.RequiredFormat = format.String
		it.SampleContent = sample.String
		it.Resolved = resolved != 0
		if resolvedAt.Valid {
			t := resolvedAt.Time
			it.ResolvedAt = &t
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
