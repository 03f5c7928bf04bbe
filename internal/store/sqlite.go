package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "notiq/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutJob(ctx context.Context, job Job) error {
	rec, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, owner_id, kind, interval_ms, cron, repeat, payload, next_fire_ms, created_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET next_fire_ms=excluded.next_fire_ms, payload=excluded.payload`,
		rec.ID, rec.OwnerID, rec.Kind, rec.IntervalMS, nullStr(rec.Cron), boolInt(rec.Repeat),
		nullStr(string(rec.Payload)), rec.NextFireMS, rec.CreatedMS,
	)
	return err
}

func (s *sqliteStore) GetJob(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, kind, interval_ms, cron, repeat, payload, next_fire_ms, created_ms
		 FROM jobs WHERE id = ?`, id)
	rec, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	return decodeJob(rec)
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListOwnerJobs(ctx context.Context, ownerID string) ([]Job, error) {
	return s.query(ctx,
		`SELECT id, owner_id, kind, interval_ms, cron, repeat, payload, next_fire_ms, created_ms
		 FROM jobs WHERE owner_id = ? ORDER BY seq`, ownerID)
}

func (s *sqliteStore) ListJobs(ctx context.Context) ([]Job, error) {
	return s.query(ctx,
		`SELECT id, owner_id, kind, interval_ms, cron, repeat, payload, next_fire_ms, created_ms
		 FROM jobs ORDER BY seq`)
}

func (s *sqliteStore) query(ctx context.Context, q string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		rec, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		j, err := decodeJob(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(scan func(dest ...any) error) (jobRecord, error) {
	var (
		rec     jobRecord
		cron    sql.NullString
		payload sql.NullString
		repeat  int
	)
	err := scan(&rec.ID, &rec.OwnerID, &rec.Kind, &rec.IntervalMS, &cron, &repeat,
		&payload, &rec.NextFireMS, &rec.CreatedMS)
	if err != nil {
		return jobRecord{}, err
	}
	rec.Cron = cron.String
	rec.Repeat = repeat != 0
	if payload.Valid && payload.String != "" {
		rec.Payload = json.RawMessage(payload.String)
	}
	return rec, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
