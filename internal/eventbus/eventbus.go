// Package eventbus is an in-process registry of named event handlers.
//
// Handlers registered for a name are invoked synchronously, in registration
// order, by Emit. A handler that returns an error or panics is logged and the
// remaining handlers still run; nothing is propagated to the emitter.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler consumes one event.
type Handler[T any] func(T) error

// Bus maps event names to ordered handler lists.
type Bus[T any] struct {
	mu       sync.RWMutex
	handlers map[string][]Handler[T]
	log      *slog.Logger
}

// New creates an empty bus. A nil logger discards handler failures.
func New[T any](log *slog.Logger) *Bus[T] {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Bus[T]{handlers: make(map[string][]Handler[T]), log: log}
}

// On appends h to the handlers of name.
func (b *Bus[T]) On(name string, h Handler[T]) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers[name] = append(b.handlers[name], h)
	b.mu.Unlock()
}

// Has reports whether at least one handler is registered for name.
func (b *Bus[T]) Has(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name]) > 0
}

// Emit invokes every handler registered for name and returns how many ran.
func (b *Bus[T]) Emit(name string, ev T) int {
	b.mu.RLock()
	hs := append([]Handler[T](nil), b.handlers[name]...)
	b.mu.RUnlock()
	for i, h := range hs {
		if err := b.invoke(h, ev); err != nil {
			b.log.Error("event handler failed",
				slog.String("event", name),
				slog.Int("handler", i),
				slog.Any("error", err))
		}
	}
	return len(hs)
}

func (b *Bus[T]) invoke(h Handler[T], ev T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ev)
}
