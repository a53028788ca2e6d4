package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/outpostdb/outpost/internal/record"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// LocalStore is the durable local replica: an embedded SQLite database
// holding synced records plus the per-table sync watermark.
//
// It doubles as a NativeBackend, so a monitor can wrap it directly and the
// sync layer can apply resolved records through it.
type LocalStore struct {
	conn *sql.DB
	path string
}

// MutateResult reports the outcome of a mutating statement.
type MutateResult struct {
	Success  bool
	Affected int64
}

// Open creates or opens the local replica at path.
//
// The database runs in WAL mode with a busy timeout so concurrent readers
// do not starve during writes. The caller must Close when done.
func Open(path string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &LocalStore{conn: conn, path: path}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS records (
    tbl        TEXT NOT NULL,
    id         TEXT NOT NULL,
    data       TEXT NOT NULL,
    client_id  TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL,
    sync_id    TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (tbl, id)
);
CREATE INDEX IF NOT EXISTS idx_records_updated ON records(tbl, updated_at);

CREATE TABLE IF NOT EXISTS sync_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (s *LocalStore) Path() string { return s.path }

// Close checkpoints the WAL and closes the connection.
func (s *LocalStore) Close() error {
	if s.conn == nil {
		return nil
	}
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.conn.Close()
}

// Run satisfies NativeBackend: read statements return rows, everything else
// reports the affected count. Backend errors propagate unchanged.
func (s *LocalStore) Run(ctx context.Context, query string, params []any) (Result, error) {
	if isReadStatement(query) {
		rows, err := s.Query(ctx, query, params)
		if err != nil {
			return Result{Message: err.Error()}, err
		}
		return Result{OK: true, Rows: rows}, nil
	}

	res, err := s.Mutate(ctx, query, params)
	if err != nil {
		return Result{Message: err.Error()}, err
	}
	return Result{OK: res.Success, Affected: res.Affected}, nil
}

// Query executes a read statement and materializes the rows.
func (s *LocalStore) Query(ctx context.Context, query string, params []any) ([]map[string]any, error) {
	rows, err := s.conn.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return out, nil
}

// Mutate executes a writing statement.
func (s *LocalStore) Mutate(ctx context.Context, query string, params []any) (MutateResult, error) {
	res, err := s.conn.ExecContext(ctx, query, params...)
	if err != nil {
		return MutateResult{}, fmt.Errorf("mutation failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return MutateResult{Success: true, Affected: affected}, nil
}

// Get fetches the local copy of a record, reporting whether one exists.
func (s *LocalStore) Get(ctx context.Context, table, id string) (record.SyncRecord, bool, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT data, client_id, updated_at, sync_id FROM records WHERE tbl = ? AND id = ?",
		table, id)

	var data string
	rec := record.SyncRecord{ID: id}
	err := row.Scan(&data, &rec.ClientID, &rec.UpdatedAt, &rec.SyncID)
	if errors.Is(err, sql.ErrNoRows) {
		return record.SyncRecord{}, false, nil
	}
	if err != nil {
		return record.SyncRecord{}, false, fmt.Errorf("failed to read record %s/%s: %w", table, id, err)
	}
	rec.Data = json.RawMessage(data)
	return rec, true, nil
}

// Apply upserts a resolved record into the local replica.
//
// When fields is non-empty the payload is projected down to those fields
// before storage, matching the column selection the caller synced.
func (s *LocalStore) Apply(ctx context.Context, table string, fields []string, rec record.SyncRecord) error {
	data := rec.Data
	if len(fields) > 0 {
		projected, err := projectFields(rec, fields)
		if err == nil {
			data = projected
		}
	}

	_, err := s.conn.ExecContext(ctx, `
INSERT INTO records (tbl, id, data, client_id, updated_at, sync_id)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(tbl, id) DO UPDATE SET
    data = excluded.data,
    client_id = excluded.client_id,
    updated_at = excluded.updated_at,
    sync_id = excluded.sync_id`,
		table, rec.ID, string(data), rec.ClientID, rec.UpdatedAt, rec.SyncID)
	if err != nil {
		return fmt.Errorf("failed to apply record %s/%s: %w", table, rec.ID, err)
	}
	return nil
}

// Delete removes a record from the local replica. Idempotent.
func (s *LocalStore) Delete(ctx context.Context, table, id string) error {
	if _, err := s.conn.ExecContext(ctx,
		"DELETE FROM records WHERE tbl = ? AND id = ?", table, id); err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", table, id, err)
	}
	return nil
}

// ChangedSince lists local records in table updated strictly after the given
// unix time, oldest first. The CLI uses this to requeue offline edits.
func (s *LocalStore) ChangedSince(ctx context.Context, table string, since int64) ([]record.SyncRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
SELECT id, data, client_id, updated_at, sync_id
FROM records WHERE tbl = ? AND updated_at > ?
ORDER BY updated_at ASC`, table, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	defer rows.Close()

	var out []record.SyncRecord
	for rows.Next() {
		var rec record.SyncRecord
		var data string
		if err := rows.Scan(&rec.ID, &data, &rec.ClientID, &rec.UpdatedAt, &rec.SyncID); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		rec.Data = json.RawMessage(data)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountRecords returns the number of records stored for table.
func (s *LocalStore) CountRecords(ctx context.Context, table string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE tbl = ?", table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Watermark returns the persisted last-sync time for table (0 if never
// synced).
func (s *LocalStore) Watermark(ctx context.Context, table string) (int64, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT value FROM sync_meta WHERE key = ?", watermarkKey(table))
	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark: %w", err)
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt watermark %q: %w", value, err)
	}
	return ts, nil
}

// SetWatermark persists the last-sync time for table.
func (s *LocalStore) SetWatermark(ctx context.Context, table string, ts int64) error {
	_, err := s.conn.ExecContext(ctx, `
INSERT INTO sync_meta (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		watermarkKey(table), strconv.FormatInt(ts, 10))
	if err != nil {
		return fmt.Errorf("failed to persist watermark: %w", err)
	}
	return nil
}

func watermarkKey(table string) string {
	return "last_sync_time:" + table
}

func projectFields(rec record.SyncRecord, fields []string) (json.RawMessage, error) {
	all, err := rec.Fields()
	if err != nil {
		return nil, err
	}
	projected := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := all[f]; ok {
			projected[f] = v
		}
	}
	return json.Marshal(projected)
}

func isReadStatement(query string) bool {
	q := strings.TrimSpace(query)
	if i := strings.IndexAny(q, " \t\n\r("); i > 0 {
		q = q[:i]
	}
	switch strings.ToUpper(q) {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN":
		return true
	}
	return false
}
