package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/metrics"
)

// timeLayout is fixed-width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// liveIndex enforces one live alert per fingerprint at the database.
const liveIndex = "idx_alerts_live_fingerprint"

// migrations run in order; the SQL is portable between sqlite and postgres.
var migrations = []struct {
	version int
	sql     string
}{
	{1, `CREATE TABLE IF NOT EXISTS alerts (
		id            TEXT PRIMARY KEY,
		fingerprint   TEXT NOT NULL,
		status        TEXT NOT NULL,
		alert_type    TEXT NOT NULL,
		severity      TEXT NOT NULL,
		metric        TEXT NOT NULL,
		date          TEXT NOT NULL,
		anomaly_score DOUBLE PRECISION NOT NULL,
		payload       TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`},
	{2, `CREATE UNIQUE INDEX IF NOT EXISTS ` + liveIndex + ` ON alerts(fingerprint) WHERE status <> 'resolved'`},
	{3, `CREATE INDEX IF NOT EXISTS idx_alerts_date ON alerts(date)`},
	{4, `ALTER TABLE alerts ADD COLUMN archived_at TEXT`},
}

// SQLStore implements AlertStore over sqlite or postgres. The full alert is
// kept as JSON in payload; the other columns exist for filtering and for
// the live-fingerprint index.
type SQLStore struct {
	db      *sqlx.DB
	backend string
}

type alertRow struct {
	ID      string `db:"id"`
	Payload string `db:"payload"`
}

// NewSQLiteStore opens (or creates) a sqlite database at path and runs
// pending migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection: an in-memory database is per-connection, and sqlite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLStore{db: db, backend: BackendSQLite}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewPostgresStore connects to postgres and runs pending migrations.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLStore{db: db, backend: BackendPostgres}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.Get(&count, s.db.Rebind(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`), m.version); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(s.db.Rebind(`INSERT INTO schema_versions(version) VALUES(?)`), m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, a *alert.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", a.ID, err)
	}
	query := s.db.Rebind(`
		INSERT INTO alerts (id, fingerprint, status, alert_type, severity, metric, date, anomaly_score, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = s.db.ExecContext(ctx, query,
		a.ID, a.Fingerprint, string(a.Status()), string(a.Type), string(a.Severity),
		string(a.Metric), a.Date, a.AnomalyScore, string(payload),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		switch uniqueViolation(err) {
		case liveIndex:
			return ErrDuplicateFingerprint
		case "pkey":
			return ErrAlreadyExists
		}
		s.countError("create")
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*alert.Alert, error) {
	var row alertRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT id, payload FROM alerts WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.countError("get")
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}
	return row.decode()
}

func (s *SQLStore) FindLive(ctx context.Context, fingerprint string) (*alert.Alert, error) {
	var row alertRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT id, payload FROM alerts WHERE fingerprint = ? AND status <> 'resolved'`), fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.countError("find_live")
		return nil, fmt.Errorf("find live alert %s: %w", fingerprint, err)
	}
	return row.decode()
}

// List returns matching alerts in creation order.
func (s *SQLStore) List(ctx context.Context, f Filter) ([]*alert.Alert, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		where = append(where, clause)
		args = append(args, v)
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.Severity != "" {
		add("severity = ?", string(f.Severity))
	}
	if f.Type != "" {
		add("alert_type = ?", string(f.Type))
	}
	if f.Metric != "" {
		add("metric = ?", string(f.Metric))
	}
	if f.MinAnomalyScore != nil {
		add("anomaly_score >= ?", *f.MinAnomalyScore)
	}
	if f.DateFrom != "" {
		add("date >= ?", f.DateFrom)
	}
	if f.DateTo != "" {
		add("date <= ?", f.DateTo)
	}

	query := `SELECT id, payload FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		s.countError("list")
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return decodeRows(rows)
}

func (s *SQLStore) Update(ctx context.Context, a *alert.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", a.ID, err)
	}
	// A resolved row never becomes live again and the fingerprint never
	// changes; both show up as zero rows affected.
	query := s.db.Rebind(`
		UPDATE alerts SET status = ?, severity = ?, payload = ?, updated_at = ?
		WHERE id = ? AND fingerprint = ? AND (status <> 'resolved' OR CAST(? AS TEXT) = 'resolved')
	`)
	res, err := s.db.ExecContext(ctx, query,
		string(a.Status()), string(a.Severity), string(payload), formatTime(a.UpdatedAt),
		a.ID, a.Fingerprint, string(a.Status()),
	)
	if err != nil {
		s.countError("update")
		return fmt.Errorf("update alert %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert %s: %w", a.ID, err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, a.ID); err != nil {
			return err
		}
		return ErrInvalidUpdate
	}
	return nil
}

func (s *SQLStore) ListUnarchived(ctx context.Context, limit int) ([]*alert.Alert, error) {
	query := `SELECT id, payload FROM alerts WHERE status = 'resolved' AND archived_at IS NULL ORDER BY updated_at, id`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		s.countError("list_unarchived")
		return nil, fmt.Errorf("list unarchived alerts: %w", err)
	}
	return decodeRows(rows)
}

func (s *SQLStore) MarkArchived(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE alerts SET archived_at = ? WHERE id = ?`), formatTime(at), id)
	if err != nil {
		s.countError("mark_archived")
		return fmt.Errorf("mark alert %s archived: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) countError(op string) {
	metrics.StoreErrorsTotal.WithLabelValues(s.backend, op).Inc()
}

func (r alertRow) decode() (*alert.Alert, error) {
	var a alert.Alert
	if err := json.Unmarshal([]byte(r.Payload), &a); err != nil {
		return nil, fmt.Errorf("decode alert %s: %w", r.ID, err)
	}
	return &a, nil
}

func decodeRows(rows []alertRow) ([]*alert.Alert, error) {
	out := make([]*alert.Alert, 0, len(rows))
	for _, r := range rows {
		a, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// uniqueViolation names the violated constraint: liveIndex, "pkey", or ""
// when err is not a unique violation.
func uniqueViolation(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code != "23505" {
			return ""
		}
		if pqErr.Constraint == liveIndex {
			return liveIndex
		}
		return "pkey"
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return ""
	}
	if strings.Contains(msg, "alerts.fingerprint") {
		return liveIndex
	}
	return "pkey"
}
