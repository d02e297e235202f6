package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/streamgate/internal/catalog"
)

// DB implements catalog.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases shared
	d.SetMaxOpenConns(1)
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cameras(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			mtx_path TEXT NOT NULL UNIQUE,
			is_enabled BOOLEAN NOT NULL DEFAULT 1,
			is_persistent BOOLEAN NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cameras_persistent ON cameras(is_enabled, is_persistent);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Upsert(ctx context.Context, e catalog.Entity) error {
	if e.ID == "" || e.Path == "" {
		return errors.New("camera requires id and path")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cameras(id, name, mtx_path, is_enabled, is_persistent, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			mtx_path=excluded.mtx_path,
			is_enabled=excluded.is_enabled,
			is_persistent=excluded.is_persistent,
			updated_at=excluded.updated_at;`,
		e.ID, e.Name, e.Path, e.Enabled, e.Persistent, time.Now().UTC())
	return err
}

func (s *DB) Delete(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cameras WHERE mtx_path = ?;`, path)
	return err
}

func (s *DB) FindByPath(ctx context.Context, path string) (*catalog.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, mtx_path, is_enabled, is_persistent FROM cameras WHERE mtx_path = ?;`, path)
	var e catalog.Entity
	if err := row.Scan(&e.ID, &e.Name, &e.Path, &e.Enabled, &e.Persistent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (s *DB) ListPersistent(ctx context.Context) ([]catalog.Entity, error) {
	return s.query(ctx, `
		SELECT id, name, mtx_path, is_enabled, is_persistent FROM cameras
		WHERE is_enabled = 1 AND is_persistent = 1 ORDER BY mtx_path;`)
}

func (s *DB) List(ctx context.Context) ([]catalog.Entity, error) {
	return s.query(ctx, `SELECT id, name, mtx_path, is_enabled, is_persistent FROM cameras ORDER BY mtx_path;`)
}

func (s *DB) query(ctx context.Context, q string) ([]catalog.Entity, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []catalog.Entity
	for rows.Next() {
		var e catalog.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Path, &e.Enabled, &e.Persistent); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
