package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{ closed bool }

func (f *failingSink) Write([]byte) (int, error) { return 0, assert.AnError }
func (f *failingSink) Close() error              { f.closed = true; return nil }

func TestLineWriterSplitsAcrossWrites(t *testing.T) {
	var got []string
	w := newLineWriter(Stdout, nil, func(_ Stream, l string) { got = append(got, l) })
	_, _ = w.Write([]byte("hel"))
	_, _ = w.Write([]byte("lo\r\nwor"))
	_, _ = w.Write([]byte("ld\n\n"))
	_, _ = w.Write([]byte("tail"))
	require.NoError(t, w.Close())
	assert.Equal(t, []string{"hello", "world", "tail"}, got)
}

func TestLineWriterIgnoresSinkErrors(t *testing.T) {
	sink := &failingSink{}
	var got []string
	w := newLineWriter(Stderr, sink, func(s Stream, l string) {
		assert.Equal(t, Stderr, s)
		got = append(got, l)
	})
	n, err := w.Write([]byte("x\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, w.Close())
	assert.True(t, sink.closed)
	assert.Equal(t, []string{"x"}, got)
}

func TestLineWriterCapsLongLines(t *testing.T) {
	var got []string
	w := newLineWriter(Stdout, nil, func(_ Stream, l string) { got = append(got, l) })
	_, _ = w.Write([]byte(strings.Repeat("a", maxLine+10)))
	require.Len(t, got, 1)
	assert.Len(t, got[0], maxLine+10)
}
