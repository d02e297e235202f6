// Package manager supervises named external processes: it keeps the desired
// set of specs, the live handle of each, captures their output and applies the
// restart policy when they exit.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/streamgate/internal/env"
	"github.com/loykin/streamgate/internal/eventbus"
	"github.com/loykin/streamgate/internal/process"
)

// Manager starts, stops, and monitors processes.
type Manager struct {
	log *slog.Logger
	bus *eventbus.Bus[Event]

	mu      sync.RWMutex
	envM    *env.Env
	entries map[string]*managedProcess
	closed  bool
}

func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "manager")
	return &Manager{
		log:     log,
		bus:     eventbus.New[Event](log),
		envM:    env.New(),
		entries: make(map[string]*managedProcess),
	}
}

// SetGlobalEnv sets global environment variables affecting all processes managed by this Manager.
// kvs must be in the form "KEY=VALUE".
func (m *Manager) SetGlobalEnv(kvs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.envM
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e = e.WithSet(kv[:i], kv[i+1:])
		}
	}
	m.envM = e
}

func (m *Manager) mergedEnvFor(spec process.Spec) []string {
	m.mu.RLock()
	e := m.envM
	m.mu.RUnlock()
	return e.Merge(spec.Env)
}

// On registers h for topic (see the Topic constants and *Topic helpers).
func (m *Manager) On(topic string, h func(Event) error) {
	m.bus.On(topic, h)
}

func (m *Manager) emit(topic string, ev Event) {
	m.bus.Emit(topic, ev)
}

// Define registers spec under spec.Name. If the name is already defined it
// fails with ErrAlreadyExists, unless startIfExists is set, in which case it
// behaves as Start. A new spec is started right away when startIfExists is
// set. The definition is dropped automatically when spec.Context is done.
func (m *Manager) Define(spec process.Spec, startIfExists bool) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	if _, ok := m.entries[spec.Name]; ok {
		m.mu.Unlock()
		if !startIfExists {
			return fmt.Errorf("%s: %w", spec.Name, ErrAlreadyExists)
		}
		return m.Start(spec.Name)
	}
	mp := newManagedProcess(context.Background(), spec, m.log, m.mergedEnvFor, m.emit)
	m.entries[spec.Name] = mp
	m.mu.Unlock()

	context.AfterFunc(mp.ctx, func() { m.drop(mp) })
	m.log.Debug("process defined", "process", spec.Name)
	if startIfExists {
		return m.Start(spec.Name)
	}
	return nil
}

func (m *Manager) lookup(name string) (*managedProcess, error) {
	m.mu.RLock()
	mp := m.entries[name]
	m.mu.RUnlock()
	if mp == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNoSuchProcess)
	}
	return mp, nil
}

// Start spawns the process if it is not running. Launch failures are returned
// as *process.SpawnError (errors.Is(err, ErrSpawnFailure)).
func (m *Manager) Start(name string) error {
	mp, err := m.lookup(name)
	if err != nil {
		return err
	}
	return mp.send(command{action: actionStart})
}

// Stop terminates the process (SIGTERM, then SIGKILL after the spec's stop
// timeout) and resets its restart counter. The definition is kept.
func (m *Manager) Stop(name string) error {
	mp, err := m.lookup(name)
	if err != nil {
		return err
	}
	return mp.send(command{action: actionStop})
}

// Restart stops and starts the process as one operation.
func (m *Manager) Restart(name string) error {
	mp, err := m.lookup(name)
	if err != nil {
		return err
	}
	return mp.send(command{action: actionRestart})
}

// Recover starts an exited process again and counts it as a consecutive
// restart. It fails with ErrCrashLoop once the spec's MaxRestarts is reached;
// the counter resets on a clean exit or an explicit Stop.
func (m *Manager) Recover(name string) error {
	mp, err := m.lookup(name)
	if err != nil {
		return err
	}
	return mp.send(command{action: actionRecover})
}

// Remove stops the process if running and forgets its definition. Removing an
// unknown name is not an error. When Remove returns, Get reports nothing for
// the name and the process has exited.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	mp := m.entries[name]
	if mp != nil {
		delete(m.entries, name)
	}
	m.mu.Unlock()
	if mp == nil {
		return nil
	}
	mp.remove()
	m.log.Debug("process removed", "process", name)
	return nil
}

// drop removes mp if it is still the registered entry for its name.
func (m *Manager) drop(mp *managedProcess) {
	m.mu.Lock()
	if m.entries[mp.name] == mp {
		delete(m.entries, mp.name)
	}
	m.mu.Unlock()
	mp.remove()
}

// Get returns a snapshot of the named process.
func (m *Manager) Get(name string) (process.Status, bool) {
	mp, err := m.lookup(name)
	if err != nil {
		return process.Status{}, false
	}
	return mp.status(), true
}

// List returns snapshots of all defined processes sorted by name.
func (m *Manager) List() []process.Status {
	m.mu.RLock()
	mps := make([]*managedProcess, 0, len(m.entries))
	for _, mp := range m.entries {
		mps = append(mps, mp)
	}
	m.mu.RUnlock()
	out := make([]process.Status, 0, len(mps))
	for _, mp := range mps {
		out = append(out, mp.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Running returns the pid of every running process keyed by name.
func (m *Manager) Running() map[string]int32 {
	out := make(map[string]int32)
	for _, st := range m.List() {
		if st.Running && st.PID > 0 {
			out[st.Name] = int32(st.PID)
		}
	}
	return out
}

// Shutdown removes every process concurrently and rejects new definitions.
// It returns ctx.Err() if ctx ends first; processes keep being stopped in the
// background in that case.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	mps := make([]*managedProcess, 0, len(m.entries))
	for name, mp := range m.entries {
		mps = append(mps, mp)
		delete(m.entries, name)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, mp := range mps {
		wg.Add(1)
		go func(mp *managedProcess) {
			defer wg.Done()
			mp.remove()
		}(mp)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info("all processes stopped", "count", len(mps))
		return nil
	case <-ctx.Done():
		return errors.Join(fmt.Errorf("shutdown with %d processes pending", len(mps)), ctx.Err())
	}
}
