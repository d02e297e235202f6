package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/streamgate/internal/intake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestRunHook_SendsEvent(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ipc.sock")
	l := intake.NewListener(slog.New(slog.NewTextHandler(io.Discard, nil)))
	got := make(chan intake.Event, 1)
	l.On(intake.EventDemand, func(ev intake.Event) error {
		got <- ev
		return nil
	})
	require.NoError(t, l.Listen(sock))
	defer func() { _ = l.Shutdown(context.Background()) }()

	env := envOf(map[string]string{"MTX_PATH": "cam-1", "MTX_QUERY": "token=x", "RTSP_PORT": "8555"})
	err := runHook(context.Background(), &GlobalFlags{}, &HookFlags{Socket: sock, Timeout: time.Second}, intake.EventDemand, env)
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.Equal(t, "cam-1", ev.Path())
		assert.Equal(t, "token=x", ev.Field(intake.FieldQuery))
		assert.Equal(t, "8555", ev.Field(intake.FieldRTSPPort))
	case <-time.After(3 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRunHook_ValidatesBeforeDialing(t *testing.T) {
	// the socket does not exist, so only validation can produce these errors
	flags := &HookFlags{Socket: filepath.Join(t.TempDir(), "none.sock"), Timeout: time.Second}

	err := runHook(context.Background(), &GlobalFlags{}, flags, "bogus", envOf(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event")

	err = runHook(context.Background(), &GlobalFlags{}, flags, intake.EventRead, envOf(map[string]string{"MTX_PATH": "cam-1", "MTX_QUERY": ""}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MTX_READER_ID")

	err = runHook(context.Background(), &GlobalFlags{}, flags, intake.EventDemand, envOf(map[string]string{"MTX_PATH": "cam-1", "MTX_QUERY": ""}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")
}

func TestRunHook_SocketFromConfig(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "cfg.sock")
	t.Setenv("STREAMGATE_INTAKE_SOCKET", sock)
	err := runHook(context.Background(), &GlobalFlags{}, &HookFlags{Timeout: time.Second}, intake.EventInit, envOf(map[string]string{"MTX_PATH": "cam-1"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), sock)
}
