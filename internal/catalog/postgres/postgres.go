package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/streamgate/internal/catalog"
)

// DB implements catalog.Store for PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cameras(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			mtx_path TEXT NOT NULL UNIQUE,
			is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			is_persistent BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cameras_persistent ON cameras(is_enabled, is_persistent);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Upsert(ctx context.Context, e catalog.Entity) error {
	if e.ID == "" || e.Path == "" {
		return errors.New("camera requires id and path")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO cameras(id, name, mtx_path, is_enabled, is_persistent, updated_at)
		VALUES($1, $2, $3, $4, $5, $6)
		ON CONFLICT(id) DO UPDATE SET
			name=EXCLUDED.name,
			mtx_path=EXCLUDED.mtx_path,
			is_enabled=EXCLUDED.is_enabled,
			is_persistent=EXCLUDED.is_persistent,
			updated_at=EXCLUDED.updated_at;`,
		e.ID, e.Name, e.Path, e.Enabled, e.Persistent, time.Now().UTC())
	return err
}

func (p *DB) Delete(ctx context.Context, path string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM cameras WHERE mtx_path = $1;`, path)
	return err
}

func (p *DB) FindByPath(ctx context.Context, path string) (*catalog.Entity, error) {
	var e catalog.Entity
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, mtx_path, is_enabled, is_persistent FROM cameras WHERE mtx_path = $1;`, path).
		Scan(&e.ID, &e.Name, &e.Path, &e.Enabled, &e.Persistent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *DB) ListPersistent(ctx context.Context) ([]catalog.Entity, error) {
	return p.query(ctx, `
		SELECT id, name, mtx_path, is_enabled, is_persistent FROM cameras
		WHERE is_enabled AND is_persistent ORDER BY mtx_path;`)
}

func (p *DB) List(ctx context.Context) ([]catalog.Entity, error) {
	return p.query(ctx, `SELECT id, name, mtx_path, is_enabled, is_persistent FROM cameras ORDER BY mtx_path;`)
}

func (p *DB) query(ctx context.Context, q string) ([]catalog.Entity, error) {
	rows, err := p.db.QueryContext(ctx, q)
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
