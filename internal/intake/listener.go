// Package intake receives relay hook notifications over a local unix socket.
//
// Each hook invocation connects once, writes one frame and closes its write
// side. The listener decodes the frame and dispatches it to the handlers
// registered for the event name.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/loykin/streamgate/internal/eventbus"
	"github.com/loykin/streamgate/internal/metrics"
)

const (
	// DefaultMaxFrame bounds a single message.
	DefaultMaxFrame = 64 << 10
	// DefaultReadTimeout bounds how long a client may take to send its frame.
	DefaultReadTimeout = 5 * time.Second
)

// Listener is the long-lived end of the intake channel.
type Listener struct {
	log         *slog.Logger
	bus         *eventbus.Bus[Event]
	maxFrame    int64
	readTimeout time.Duration

	mu     sync.Mutex
	ln     net.Listener
	lock   *flock.Flock
	path   string
	closed bool
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewListener creates a listener that is not yet bound.
func NewListener(log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "intake")
	return &Listener{
		log:         log,
		bus:         eventbus.New[Event](log),
		maxFrame:    DefaultMaxFrame,
		readTimeout: DefaultReadTimeout,
	}
}

// On registers h for eventName. Handlers run in registration order.
func (l *Listener) On(eventName string, h func(Event) error) {
	l.bus.On(eventName, h)
}

// Listen binds the unix socket at address and starts accepting in the
// background. A sibling "<address>.lock" file is held exclusively so two
// control planes never share one socket; a stale socket file left by a dead
// owner is removed.
func (l *Listener) Listen(address string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return fmt.Errorf("intake: already listening on %s", l.path)
	}
	if err := os.MkdirAll(filepath.Dir(address), 0o750); err != nil {
		return fmt.Errorf("intake: create socket dir: %w", err)
	}
	lock := flock.New(address + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("intake: acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("intake: socket %s is owned by another process", address)
	}
	if err := os.Remove(address); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = lock.Unlock()
		return fmt.Errorf("intake: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", address)
	if err != nil {
		_ = lock.Unlock()
		return fmt.Errorf("intake: listen: %w", err)
	}
	_ = os.Chmod(address, 0o660)
	l.ln, l.lock, l.path = ln, lock, address
	l.closed = false
	l.done = make(chan struct{})
	go l.acceptLoop(ln, l.done)
	l.log.Info("intake listening", slog.String("socket", address))
	return nil
}

// Addr returns the bound socket path, or "" before Listen.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Shutdown closes the listener and waits for in-flight connections until ctx
// is done.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.ln == nil || l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	ln, lock, path, done := l.ln, l.lock, l.path, l.done
	l.mu.Unlock()

	err := ln.Close()
	<-done
	waited := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	_ = os.Remove(path)
	_ = lock.Unlock()

	l.mu.Lock()
	l.ln = nil
	l.mu.Unlock()
	l.log.Info("intake closed", slog.String("socket", path))
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (l *Listener) acceptLoop(ln net.Listener, done chan struct{}) {
	defer close(done)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Warn("intake accept failed", slog.Any("error", err))
			time.Sleep(10 * time.Millisecond)
			continue
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.serve(conn)
		}()
	}
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Listener) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(l.readTimeout))
	frame, err := io.ReadAll(io.LimitReader(conn, l.maxFrame+1))
	if err != nil && len(frame) == 0 {
		l.log.Warn("intake read failed", slog.Any("error", err))
		metrics.IncIntakeFrame("dropped")
		return
	}
	if int64(len(frame)) > l.maxFrame {
		l.log.Error("intake frame too large", slog.Int64("limit", l.maxFrame))
		metrics.IncIntakeFrame("dropped")
		return
	}
	l.Dispatch(frame)
}

// Dispatch decodes frame and runs the matching handlers. Malformed frames and
// known events missing required fields are logged and dropped.
func (l *Listener) Dispatch(frame []byte) {
	ev, err := Decode(frame)
	if err != nil {
		l.log.Error("invalid intake frame", slog.String("frame", truncate(frame, 256)), slog.Any("error", err))
		metrics.IncIntakeFrame("dropped")
		return
	}
	if err := ev.Validate(); err != nil {
		l.log.Warn("incomplete intake event", slog.String("event", ev.Name), slog.Any("error", err))
		metrics.IncIntakeFrame("dropped")
		return
	}
	n := l.bus.Emit(ev.Name, ev)
	if n == 0 {
		l.log.Debug("no handler for event", slog.String("event", ev.Name))
		metrics.IncIntakeFrame("unhandled")
		return
	}
	metrics.IncIntakeFrame("accepted")
	l.log.Info("emitted event", slog.String("event", ev.Name), slog.String("path", ev.Path()))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
