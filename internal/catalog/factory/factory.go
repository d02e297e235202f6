package factory

import (
	"context"
	"errors"
	"strings"

	"github.com/loykin/streamgate/internal/catalog"
	pg "github.com/loykin/streamgate/internal/catalog/postgres"
	sq "github.com/loykin/streamgate/internal/catalog/sqlite"
)

// NewFromDSN selects a catalog store based on DSN and ensures its schema.
// Supported:
//   - sqlite:  "sqlite:///<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(ctx context.Context, dsn string) (catalog.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	var (
		s   catalog.Store
		err error
	)
	switch {
	case strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://"):
		s, err = pg.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		s, err = sq.New(d[len("sqlite://"):])
	default:
		s, err = sq.New(d)
	}
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
