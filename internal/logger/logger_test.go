package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}

func TestWriters_Destinations(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name             string
		cfg              FileConfig
		wantOut, wantErr string
	}{
		{"nothing configured", FileConfig{}, "", ""},
		{"dir derives names", FileConfig{Dir: dir}, filepath.Join(dir, "mtx-cam.stdout.log"), filepath.Join(dir, "mtx-cam.stderr.log")},
		{"explicit paths win", FileConfig{Dir: dir, StdoutPath: filepath.Join(dir, "o.log"), StderrPath: filepath.Join(dir, "e.log")}, filepath.Join(dir, "o.log"), filepath.Join(dir, "e.log")},
		{"stdout only", FileConfig{StdoutPath: filepath.Join(dir, "only.log")}, filepath.Join(dir, "only.log"), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outW, errW, err := tc.cfg.Writers("mtx-cam")
			require.NoError(t, err)
			defer closeAll(outW, errW)
			check := func(w io.WriteCloser, want string) {
				if want == "" {
					assert.Nil(t, w)
					return
				}
				l, ok := w.(*lj.Logger)
				require.True(t, ok)
				assert.Equal(t, want, l.Filename)
			}
			check(outW, tc.wantOut)
			check(errW, tc.wantErr)
		})
	}
}

func TestWriters_RotationSettings(t *testing.T) {
	outW, _, _ := FileConfig{StdoutPath: "a"}.Writers("n")
	l := outW.(*lj.Logger)
	assert.Equal(t, DefaultMaxSizeMB, l.MaxSize)
	assert.Equal(t, DefaultMaxBackups, l.MaxBackups)
	assert.Equal(t, DefaultMaxAgeDays, l.MaxAge)
	assert.False(t, l.Compress)

	outW, _, _ = FileConfig{StdoutPath: "b", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 2, Compress: true}.Writers("n")
	l = outW.(*lj.Logger)
	assert.Equal(t, []int{1, 9, 2}, []int{l.MaxSize, l.MaxBackups, l.MaxAge})
	assert.True(t, l.Compress)
}

func TestWriters_CreatesFiles(t *testing.T) {
	dir := t.TempDir()
	outW, errW, err := FileConfig{Dir: dir}.Writers("mtx-door")
	require.NoError(t, err)
	_, _ = outW.Write([]byte("frame=1\n"))
	_, _ = errW.Write([]byte("warning\n"))
	closeAll(outW, errW)
	assert.FileExists(t, filepath.Join(dir, "mtx-door.stdout.log"))
	assert.FileExists(t, filepath.Join(dir, "mtx-door.stderr.log"))
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, "warning": slog.LevelWarn, " error ": slog.LevelError} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_Formats(t *testing.T) {
	for _, f := range []string{"", "text", "json", "color"} {
		l, c, err := New(Config{Format: f, Level: "debug"})
		require.NoError(t, err, f)
		assert.True(t, l.Enabled(context.Background(), slog.LevelDebug), f)
		closeAll(c)
	}
	_, _, err := New(Config{Format: "xml"})
	assert.Error(t, err)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "streamgate.log")
	l, c, err := New(Config{Path: path, Format: "json"})
	require.NoError(t, err)
	l.Info("path active", "path", "cam-1")
	closeAll(c)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"path":"cam-1"`)
}

func TestColorTextHandler(t *testing.T) {
	var buf strings.Builder
	l := slog.New(NewColorTextHandler(&buf, nil, false)).With("component", "demand")
	l.Warn("grace period expired")
	out := buf.String()
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "grace period expired")
	assert.Contains(t, out, "component=demand")
	assert.NotContains(t, out, "time=")
	assert.NotContains(t, out, "level=")
}
