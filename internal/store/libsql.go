package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/chatflow/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/chatflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
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

// --- Snapshots ---

func (s *LibSQLStore) Save(ctx context.Context, snap *schema.RuntimeSnapshot) error {
	if snap == nil || snap.ThreadID == "" {
		return schema.NewError(schema.ErrCodeValidation, "snapshot requires a thread id")
	}
	data, err := schema.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (thread_id, run_id, workflow_slug, status, data, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET run_id=excluded.run_id, workflow_slug=excluded.workflow_slug,
		 status=excluded.status, data=excluded.data, updated_at=excluded.updated_at`,
		snap.ThreadID, snap.RunID, snap.WorkflowSlug, string(snap.Status), string(data),
		timeOrNow(snap.UpdatedAt).UTC(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ThreadID, err)
	}
	return nil
}

func (s *LibSQLStore) Load(ctx context.Context, threadID string) (*schema.RuntimeSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM snapshots WHERE thread_id = ?`, threadID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("snapshot", threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", threadID, err)
	}
	return schema.DecodeSnapshot([]byte(data))
}

// Delete removes the snapshot of a thread together with its run events and
// step records.
func (s *LibSQLStore) Delete(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", threadID, err)
	}
	if err := checkRowsAffected(res, "snapshot", threadID); err != nil {
		return err
	}
	for _, table := range []string{"run_events", "step_records"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE thread_id = ?`, threadID); err != nil {
			return fmt.Errorf("delete %s of %s: %w", table, threadID, err)
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) ListFinished(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id FROM snapshots WHERE status IN (?, ?) AND updated_at < ? ORDER BY updated_at ASC`,
		string(schema.RunStatusCompleted), string(schema.RunStatusFailed), olderThan.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *schema.RunEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE thread_id = ?`, event.ThreadID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (thread_id, run_id, node_slug, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ThreadID, event.RunID, nullStr(event.NodeSlug), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) Events(ctx context.Context, threadID string, since int64) ([]*schema.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, run_id, node_slug, event_type, payload, timestamp, sequence
		 FROM run_events WHERE thread_id = ? AND sequence > ? ORDER BY sequence ASC`,
		threadID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) EventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*schema.RunEvent, error) {
	var where []string
	var args []any

	where = append(where, "event_type = ?")
	args = append(args, eventType)

	if filter.ThreadID != "" {
		where = append(where, "thread_id = ?")
		args = append(args, filter.ThreadID)
	}
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.NodeSlug != "" {
		where = append(where, "node_slug = ?")
		args = append(args, filter.NodeSlug)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, thread_id, run_id, node_slug, event_type, payload, timestamp, sequence FROM run_events`
	query += " WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*schema.RunEvent, error) {
	var events []*schema.RunEvent
	for rows.Next() {
		e := &schema.RunEvent{}
		var nodeSlug, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ThreadID, &e.RunID, &nodeSlug, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeSlug = nodeSlug.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Step records ---

func (s *LibSQLStore) RecordStep(ctx context.Context, rec schema.StepRecord) error {
	if rec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "step record requires an id")
	}
	diagnostics, err := marshalDiagnostics(rec.Diagnostics)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO step_records (id, thread_id, run_id, node_slug, kind, title, output_text, output, diagnostics, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ThreadID, rec.RunID, rec.NodeSlug, string(rec.Kind), nullStr(rec.Title),
		nullStr(rec.OutputText), nullRaw(rec.Output), diagnostics, rec.DurationMs, timeOrNow(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert step record: %w", err)
	}
	return nil
}

func (s *LibSQLStore) Steps(ctx context.Context, threadID string) ([]schema.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, run_id, node_slug, kind, title, output_text, output, diagnostics, duration_ms, created_at
		 FROM step_records WHERE thread_id = ? ORDER BY created_at ASC, rowid ASC`, threadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []schema.StepRecord
	for rows.Next() {
		var (
			r                               schema.StepRecord
			kind                            string
			title, outputText, output, diag sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.RunID, &r.NodeSlug, &kind, &title, &outputText,
			&output, &diag, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Kind = schema.NodeKind(kind)
		r.Title = title.String
		r.OutputText = outputText.String
		r.Output = rawOrNil(output)
		if diag.Valid && diag.String != "" {
			if err := json.Unmarshal([]byte(diag.String), &r.Diagnostics); err != nil {
				return nil, fmt.Errorf("decode diagnostics of step %s: %w", r.ID, err)
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
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

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
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

func marshalDiagnostics(d []schema.Diagnostic) (any, error) {
	if len(d) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
