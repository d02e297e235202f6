// Package catalog resolves stream paths to the camera entities registered for
// them. The demand orchestrator consults it for telemetry identity and for the
// persistent flag that exempts a path from teardown.
package catalog

import (
	"context"
	"sort"
	"sync"
)

// Entity is a registered camera.
type Entity struct {
	ID         string `json:"id" mapstructure:"id"`
	Name       string `json:"name" mapstructure:"name"`
	Path       string `json:"path" mapstructure:"path"`
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Persistent bool   `json:"persistent" mapstructure:"persistent"`
}

// KeepAlive reports whether the path must never be torn down on release.
func (e Entity) KeepAlive() bool { return e.Enabled && e.Persistent }

// Catalog is the read side used by the orchestrator.
type Catalog interface {
	// FindByPath returns the entity for path, or nil when none is registered.
	FindByPath(ctx context.Context, path string) (*Entity, error)
	// ListPersistent returns enabled, persistent entities.
	ListPersistent(ctx context.Context) ([]Entity, error)
}

// Store is a catalog backed by a database.
type Store interface {
	Catalog
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, e Entity) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context) ([]Entity, error)
	Close() error
}

// Static is an in-memory catalog, typically loaded from configuration.
type Static struct {
	mu     sync.RWMutex
	byPath map[string]Entity
}

// NewStatic builds a catalog from entities; later duplicates of a path win.
func NewStatic(entities []Entity) *Static {
	s := &Static{}
	s.Replace(entities)
	return s
}

// Replace swaps the whole content atomically.
func (s *Static) Replace(entities []Entity) {
	m := make(map[string]Entity, len(entities))
	for _, e := range entities {
		if e.Path == "" {
			continue
		}
		m[e.Path] = e
	}
	s.mu.Lock()
	s.byPath = m
	s.mu.Unlock()
}

func (s *Static) FindByPath(_ context.Context, path string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byPath[path]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *Static) ListPersistent(ctx context.Context) ([]Entity, error) {
	all, _ := s.List(ctx)
	out := all[:0]
	for _, e := range all {
		if e.KeepAlive() {
			out = append(out, e)
		}
	}
	return out, nil
}

// List returns every entity sorted by path.
func (s *Static) List(_ context.Context) ([]Entity, error) {
	s.mu.RLock()
	out := make([]Entity, 0, len(s.byPath))
	for _, e := range s.byPath {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
