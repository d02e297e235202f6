package demand

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loykin/streamgate/internal/catalog"
	"github.com/loykin/streamgate/internal/intake"
	"github.com/loykin/streamgate/internal/manager"
	"github.com/loykin/streamgate/internal/process"
)

// fakeSupervisor mimics manager.Manager without spawning anything.
type fakeSupervisor struct {
	mu        sync.Mutex
	handlers  map[string][]func(manager.Event) error
	procs     map[string]*fakeProc
	nextPID   int
	spawnErr  error
	defines   int
	removes   int
	maxAlive  int
	lastSpecs map[string]process.Spec
}

type fakeProc struct {
	spec     process.Spec
	running  bool
	pid      int
	restarts int
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		handlers:  map[string][]func(manager.Event) error{},
		procs:     map[string]*fakeProc{},
		nextPID:   1000,
		lastSpecs: map[string]process.Spec{},
	}
}

func (f *fakeSupervisor) On(topic string, h func(manager.Event) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = append(f.handlers[topic], h)
}

func (f *fakeSupervisor) emit(topic string, ev manager.Event) {
	f.mu.Lock()
	hs := append([]func(manager.Event) error(nil), f.handlers[topic]...)
	f.mu.Unlock()
	for _, h := range hs {
		_ = h(ev)
	}
}

// spawnLocked must be called with mu held.
func (f *fakeSupervisor) spawnLocked(p *fakeProc) error {
	if f.spawnErr != nil {
		return &process.SpawnError{Name: p.spec.Name, Err: f.spawnErr}
	}
	f.nextPID++
	p.pid = f.nextPID
	p.running = true
	alive := 0
	for _, q := range f.procs {
		if q.running {
			alive++
		}
	}
	if alive > f.maxAlive {
		f.maxAlive = alive
	}
	return nil
}

func (f *fakeSupervisor) Define(spec process.Spec, startIfExists bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defines++
	f.lastSpecs[spec.Name] = spec
	p, ok := f.procs[spec.Name]
	if ok && !startIfExists {
		return fmt.Errorf("%s: %w", spec.Name, manager.ErrAlreadyExists)
	}
	if !ok {
		p = &fakeProc{spec: spec}
		f.procs[spec.Name] = p
	}
	if !startIfExists || p.running {
		return nil
	}
	return f.spawnLocked(p)
}

func (f *fakeSupervisor) Recover(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, manager.ErrNoSuchProcess)
	}
	if p.running {
		return nil
	}
	if p.spec.MaxRestarts > 0 && p.restarts >= p.spec.MaxRestarts {
		return fmt.Errorf("%s after %d restarts: %w", name, p.restarts, manager.ErrCrashLoop)
	}
	p.restarts++
	return f.spawnLocked(p)
}

func (f *fakeSupervisor) Remove(name string) error {
	f.mu.Lock()
	p, ok := f.procs[name]
	delete(f.procs, name)
	f.removes++
	f.mu.Unlock()
	if ok && p.running {
		go f.emit(manager.TopicExit, manager.Event{
			Name:   name,
			Exit:   &process.Exit{Signal: "terminated", Requested: true, At: time.Now()},
			Status: process.Status{Name: name, PID: p.pid},
		})
	}
	return nil
}

func (f *fakeSupervisor) Get(name string) (process.Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[name]
	if !ok {
		return process.Status{}, false
	}
	return process.Status{Name: name, Running: p.running, PID: p.pid, Restarts: p.restarts}, true
}

// crash makes the named process exit on its own with code right after start.
func (f *fakeSupervisor) crash(name string, code int) {
	f.crashAfter(name, code, 0)
}

// crashAfter is crash for a process that ran for uptime. Like the real
// supervisor, a clean exit resets the restart counter.
func (f *fakeSupervisor) crashAfter(name string, code int, uptime time.Duration) {
	f.mu.Lock()
	p, ok := f.procs[name]
	if !ok || !p.running {
		f.mu.Unlock()
		return
	}
	p.running = false
	if code == 0 {
		p.restarts = 0
	}
	now := time.Now()
	st := process.Status{Name: name, PID: p.pid}
	if uptime > 0 {
		st.StartedAt, st.StoppedAt = now.Add(-uptime), now
	}
	ev := manager.Event{
		Name:     name,
		Exit:     &process.Exit{Code: code, At: now},
		Status:   st,
		Restarts: p.restarts,
	}
	f.mu.Unlock()
	f.emit(manager.TopicExit, ev)
}

func (f *fakeSupervisor) alive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.procs {
		if p.running {
			n++
		}
	}
	return n
}

func (f *fakeSupervisor) counts() (defines, removes, maxAlive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.defines, f.removes, f.maxAlive
}

// recorder is a publish.Publisher that keeps every message.
type recorder struct {
	mu   sync.Mutex
	msgs []published
}

type published struct {
	Domain, Event, EntityID string
	Details                 map[string]any
}

func (r *recorder) Publish(_ context.Context, domain, event, entityID string, details map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, published{domain, event, entityID, details})
	return nil
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Event)
	}
	return out
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.events() {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) last(event string) (published, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].Event == event {
			return r.msgs[i], true
		}
	}
	return published{}, false
}

// failingCatalog always errors.
type failingCatalog struct{}

func (failingCatalog) FindByPath(context.Context, string) (*catalog.Entity, error) {
	return nil, fmt.Errorf("catalog offline")
}

func (failingCatalog) ListPersistent(context.Context) ([]catalog.Entity, error) {
	return nil, fmt.Errorf("catalog offline")
}

func ev(name, path string) intake.Event {
	return intake.Event{Name: name, Fields: map[string]string{intake.FieldPath: path, intake.FieldQuery: ""}}
}
