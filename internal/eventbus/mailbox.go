package eventbus

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Mailbox runs posted functions one at a time in posting order. A worker
// goroutine exists only while work is pending, so idle mailboxes cost nothing.
// Post never blocks. A panicking function is logged through slog.Default and
// the mailbox moves on to the next one.
type Mailbox struct {
	mu      sync.Mutex
	queue   []func()
	running bool
	idle    *sync.Cond
}

// Post enqueues fn.
func (mb *Mailbox) Post(fn func()) {
	if fn == nil {
		return
	}
	mb.mu.Lock()
	mb.queue = append(mb.queue, fn)
	if !mb.running {
		mb.running = true
		go mb.drain()
	}
	mb.mu.Unlock()
}

func (mb *Mailbox) drain() {
	for {
		mb.mu.Lock()
		if len(mb.queue) == 0 {
			mb.running = false
			if mb.idle != nil {
				mb.idle.Broadcast()
			}
			mb.mu.Unlock()
			return
		}
		fn := mb.queue[0]
		mb.queue[0] = nil
		mb.queue = mb.queue[1:]
		mb.mu.Unlock()
		run(fn)
	}
}

func run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("mailbox task panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

// Pending returns the number of functions not yet started.
func (mb *Mailbox) Pending() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.queue)
}

// Wait blocks until the mailbox is idle.
func (mb *Mailbox) Wait() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.idle == nil {
		mb.idle = sync.NewCond(&mb.mu)
	}
	for mb.running {
		mb.idle.Wait()
	}
}
