package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticLookup(t *testing.T) {
	ctx := context.Background()
	s := NewStatic([]Entity{
		{ID: "1", Path: "cam-1", Enabled: true},
		{ID: "2", Path: "cam-2", Enabled: true, Persistent: true},
		{ID: "3", Path: "cam-3", Enabled: false, Persistent: true},
		{ID: "4", Path: ""},
	})

	e, err := s.FindByPath(ctx, "cam-1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "1", e.ID)
	assert.False(t, e.KeepAlive())

	e, err = s.FindByPath(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, e)

	p, err := s.ListPersistent(ctx)
	require.NoError(t, err)
	require.Len(t, p, 1)
	assert.Equal(t, "cam-2", p[0].Path)

	all, _ := s.List(ctx)
	assert.Len(t, all, 3)
}

func TestStaticReplace(t *testing.T) {
	ctx := context.Background()
	s := NewStatic([]Entity{{ID: "1", Path: "a"}})
	s.Replace([]Entity{{ID: "2", Path: "b"}})
	e, _ := s.FindByPath(ctx, "a")
	assert.Nil(t, e)
	e, _ = s.FindByPath(ctx, "b")
	require.NotNil(t, e)
	assert.Equal(t, "2", e.ID)
}

func TestStaticReturnsCopies(t *testing.T) {
	s := NewStatic([]Entity{{ID: "1", Path: "a", Enabled: true}})
	e, _ := s.FindByPath(context.Background(), "a")
	e.Enabled = false
	again, _ := s.FindByPath(context.Background(), "a")
	assert.True(t, again.Enabled)
}
