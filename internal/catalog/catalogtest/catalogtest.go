// Package catalogtest holds a behavioural suite shared by catalog.Store backends.
package catalogtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/streamgate/internal/catalog"
)

// Run exercises s against the Store contract. s must have an ensured, empty schema.
func Run(t *testing.T, s catalog.Store) {
	t.Helper()
	ctx := context.Background()

	e, err := s.FindByPath(ctx, "cam-1")
	require.NoError(t, err)
	assert.Nil(t, e, "unknown path resolves to nil")

	require.NoError(t, s.Upsert(ctx, catalog.Entity{ID: "c1", Name: "Lobby", Path: "cam-1", Enabled: true}))
	require.NoError(t, s.Upsert(ctx, catalog.Entity{ID: "c2", Name: "Gate", Path: "cam-2", Enabled: true, Persistent: true}))
	require.NoError(t, s.Upsert(ctx, catalog.Entity{ID: "c3", Name: "Dock", Path: "cam-3", Enabled: false, Persistent: true}))
	require.Error(t, s.Upsert(ctx, catalog.Entity{ID: "", Path: "x"}))

	e, err = s.FindByPath(ctx, "cam-1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, catalog.Entity{ID: "c1", Name: "Lobby", Path: "cam-1", Enabled: true}, *e)

	persistent, err := s.ListPersistent(ctx)
	require.NoError(t, err)
	require.Len(t, persistent, 1)
	assert.Equal(t, "cam-2", persistent[0].Path)

	// update in place flips the flag
	require.NoError(t, s.Upsert(ctx, catalog.Entity{ID: "c1", Name: "Lobby", Path: "cam-1", Enabled: true, Persistent: true}))
	persistent, err = s.ListPersistent(ctx)
	require.NoError(t, err)
	assert.Len(t, persistent, 2)

	require.NoError(t, s.Delete(ctx, "cam-3"))
	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "cam-1", all[0].Path)
	assert.Equal(t, "cam-2", all[1].Path)
}
