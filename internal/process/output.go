package process

import (
	"bytes"
	"io"
	"sync"
)

// Stream identifies an output stream of a process.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// LineFunc receives every non-empty output line.
type LineFunc func(stream Stream, line string)

// maxLine caps a buffered partial line; longer runs are emitted as-is.
const maxLine = 64 << 10

// lineWriter splits a byte stream into lines. Raw bytes also go to sink when
// set. Sink errors are ignored so a broken log file never stalls the child.
type lineWriter struct {
	mu     sync.Mutex
	stream Stream
	sink   io.WriteCloser
	onLine LineFunc
	buf    []byte
}

func newLineWriter(stream Stream, sink io.WriteCloser, onLine LineFunc) *lineWriter {
	return &lineWriter{stream: stream, sink: sink, onLine: onLine}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sink != nil {
		_, _ = w.sink.Write(p)
	}
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) >= maxLine {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

func (w *lineWriter) emit(b []byte) {
	line := string(bytes.TrimRight(b, "\r"))
	if line == "" || w.onLine == nil {
		return
	}
	w.onLine(w.stream, line)
}

// Close flushes a trailing partial line and closes the sink.
func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
	if w.sink != nil {
		err := w.sink.Close()
		w.sink = nil
		return err
	}
	return nil
}
