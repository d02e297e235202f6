// Package publish fans lifecycle telemetry out to external subscribers.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/streamgate/internal/metrics"
)

// Well-known domains.
const (
	DomainCamera  = "camera"
	DomainProcess = "process"
)

// Message is the envelope delivered to every transport.
type Message struct {
	ID        string         `json:"id"`
	Domain    string         `json:"domain"`
	Event     string         `json:"event"`
	EntityID  string         `json:"entityId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher announces domain events. entityID may be empty.
type Publisher interface {
	Publish(ctx context.Context, domain, event, entityID string, details map[string]any) error
}

// Transport delivers a message to one kind of subscriber.
type Transport interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// Bus is a Publisher that fans each message out to all transports.
type Bus struct {
	log        *slog.Logger
	timeout    time.Duration
	mu         sync.RWMutex
	transports []Transport
	now        func() time.Time
}

// NewBus returns a bus with the given transports. A zero timeout disables the
// per-transport deadline.
func NewBus(log *slog.Logger, timeout time.Duration, transports ...Transport) *Bus {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Bus{log: log, timeout: timeout, transports: transports, now: time.Now}
}

// Add registers another transport.
func (b *Bus) Add(t Transport) {
	if t == nil {
		return
	}
	b.mu.Lock()
	b.transports = append(b.transports, t)
	b.mu.Unlock()
}

// Transports returns the registered transport names.
func (b *Bus) Transports() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.transports))
	for _, t := range b.transports {
		out = append(out, t.Name())
	}
	return out
}

func (b *Bus) Publish(ctx context.Context, domain, event, entityID string, details map[string]any) error {
	m := Message{
		ID:        uuid.NewString(),
		Domain:    domain,
		Event:     event,
		EntityID:  entityID,
		Details:   details,
		Timestamp: b.now().UTC(),
	}
	b.mu.RLock()
	ts := append([]Transport(nil), b.transports...)
	b.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, t := range ts {
		wg.Add(1)
		go func(t Transport) {
			defer wg.Done()
			tctx := ctx
			if b.timeout > 0 {
				var cancel context.CancelFunc
				tctx, cancel = context.WithTimeout(ctx, b.timeout)
				defer cancel()
			}
			if err := t.Send(tctx, m); err != nil {
				metrics.IncPublishFailure(t.Name())
				b.log.Warn("publish failed", "transport", t.Name(), "domain", domain, "event", event, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
				mu.Unlock()
			}
		}(t)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(context.Context, string, string, string, map[string]any) error { return nil }
