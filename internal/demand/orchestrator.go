// Package demand turns relay path events into supervised worker processes.
//
// Every stream path has its own state machine (Idle, Active, GracePeriod).
// Events for one path are applied strictly in arrival order by a per-path
// mailbox; different paths progress independently. Telemetry is published
// fire-and-forget through a single ordered outbox.
package demand

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/streamgate/internal/catalog"
	"github.com/loykin/streamgate/internal/eventbus"
	"github.com/loykin/streamgate/internal/intake"
	"github.com/loykin/streamgate/internal/manager"
	"github.com/loykin/streamgate/internal/metrics"
	"github.com/loykin/streamgate/internal/process"
	"github.com/loykin/streamgate/internal/publish"
	"github.com/robfig/cron/v3"
)

// Telemetry event names published under publish.DomainCamera.
const (
	EventStarted = "started"
	EventStopped = "stopped"
	EventErrored = "errored"
)

// ErrClosed is returned by Dispatch after Shutdown.
var ErrClosed = errors.New("orchestrator is shut down")

// Supervisor is the part of manager.Manager the orchestrator drives.
type Supervisor interface {
	Define(spec process.Spec, startIfExists bool) error
	Recover(name string) error
	Remove(name string) error
	Get(name string) (process.Status, bool)
	On(topic string, h func(manager.Event) error)
}

// Registrar is where intake handlers are registered (intake.Listener).
type Registrar interface {
	On(eventName string, h func(intake.Event) error)
}

// telemetryEvents only publish; they never change path state.
var telemetryEvents = []string{
	intake.EventInit,
	intake.EventReady,
	intake.EventNotReady,
	intake.EventRead,
	intake.EventUnread,
	intake.EventRecordSegmentCreate,
	intake.EventRecordSegmentComplete,
}

// Orchestrator owns the path table.
type Orchestrator struct {
	cfg     Config
	sup     Supervisor
	catalog catalog.Catalog
	pub     publish.Publisher
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	paths  map[string]*pathState
	byName map[string]*pathState
	closed bool

	outbox eventbus.Mailbox
	sweep  sync.WaitGroup
	cron   *cron.Cron
}

// New wires an orchestrator to its supervisor. cat and pub may be nil.
func New(cfg Config, sup Supervisor, cat catalog.Catalog, pub publish.Publisher, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if pub == nil {
		pub = publish.Discard{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:     cfg.WithDefaults(),
		sup:     sup,
		catalog: cat,
		pub:     pub,
		log:     log.With("component", "demand"),
		ctx:     ctx,
		cancel:  cancel,
		paths:   make(map[string]*pathState),
		byName:  make(map[string]*pathState),
	}
	sup.On(manager.TopicExit, o.onExit)
	sup.On(manager.TopicLogOut, o.onLine(slog.LevelInfo))
	sup.On(manager.TopicLogErr, o.onLine(slog.LevelWarn))
	return o
}

// Bind registers the orchestrator for every relay event on r.
func (o *Orchestrator) Bind(r Registrar) {
	r.On(intake.EventDemand, o.Dispatch)
	r.On(intake.EventUnDemand, o.Dispatch)
	for _, name := range telemetryEvents {
		r.On(name, o.Dispatch)
	}
}

// Start schedules the persistence sweep and runs it once right away. It is
// optional; without a schedule or catalog it does nothing.
func (o *Orchestrator) Start() error {
	spec := o.cfg.PersistSpec()
	if spec == "" || o.catalog == nil {
		return nil
	}
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid persist schedule %q: %w", spec, err)
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(o.sweepPersistent))

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if o.cron != nil {
		return fmt.Errorf("persistence sweep already started")
	}
	o.cron = c
	c.Start()
	o.sweep.Add(1)
	go func() {
		defer o.sweep.Done()
		o.sweepPersistent()
	}()
	o.log.Info("persistence sweep scheduled", "schedule", spec)
	return nil
}

// sweepPersistent re-demands every persistent entity so a worker that died
// outside of any relay event is brought back.
func (o *Orchestrator) sweepPersistent() {
	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.LookupTimeout)
	defer cancel()
	entities, err := o.catalog.ListPersistent(ctx)
	if err != nil {
		o.log.Warn("persistent catalog lookup failed", "error", err)
		return
	}
	for _, e := range entities {
		_ = o.Dispatch(intake.Event{Name: intake.EventDemand, Fields: map[string]string{
			intake.FieldPath:  e.Path,
			intake.FieldQuery: "",
		}})
	}
}

// Dispatch queues ev on its path's mailbox. It never blocks on the transition.
func (o *Orchestrator) Dispatch(ev intake.Event) error {
	path := ev.Path()
	if path == "" {
		return fmt.Errorf("%s event without path", ev.Name)
	}
	ps, err := o.pathFor(path)
	if err != nil {
		return err
	}
	ps.box.Post(func() { o.handle(ps, ev) })
	return nil
}

func (o *Orchestrator) pathFor(path string) (*pathState, error) {
	o.mu.RLock()
	ps, ok := o.paths[path]
	closed := o.closed
	o.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return ps, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if ps, ok = o.paths[path]; ok {
		return ps, nil
	}
	name := o.cfg.ProcessName(path)
	ps = newPathState(path, name)
	o.paths[path] = ps
	o.byName[name] = ps
	return ps, nil
}

func (o *Orchestrator) handle(ps *pathState, ev intake.Event) {
	switch ev.Name {
	case intake.EventDemand:
		o.demand(ps, ev)
	case intake.EventUnDemand:
		o.unDemand(ps, ev)
	default:
		o.telemetry(ps, ev)
	}
}

// onExit routes supervisor exits to the owning path.
func (o *Orchestrator) onExit(ev manager.Event) error {
	o.mu.RLock()
	ps := o.byName[ev.Name]
	o.mu.RUnlock()
	if ps == nil || ev.Exit == nil {
		return nil
	}
	ps.box.Post(func() { o.exited(ps, ev) })
	return nil
}

func (o *Orchestrator) onLine(level slog.Level) func(manager.Event) error {
	return func(ev manager.Event) error {
		if !strings.HasPrefix(ev.Name, o.cfg.NamePrefix) {
			return nil
		}
		o.log.Log(o.ctx, level, ev.Line, "process", ev.Name)
		return nil
	}
}

// lookup resolves path in the catalog. Failures mean "unknown".
func (o *Orchestrator) lookup(path string) *catalog.Entity {
	if o.catalog == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.LookupTimeout)
	defer cancel()
	e, err := o.catalog.FindByPath(ctx, path)
	if err != nil {
		o.log.Debug("catalog lookup failed", "path", path, "error", err)
		return nil
	}
	return e
}

// publish queues a telemetry message; it never blocks the caller.
func (o *Orchestrator) publish(event string, entity *catalog.Entity, details map[string]any) {
	entityID := ""
	if entity != nil {
		entityID = entity.ID
	}
	o.outbox.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.pub.Publish(ctx, publish.DomainCamera, event, entityID, details); err != nil {
			o.log.Debug("telemetry publish failed", "event", event, "error", err)
		}
	})
}

// Paths returns a snapshot of every known path sorted by path.
func (o *Orchestrator) Paths() []PathStatus {
	o.mu.RLock()
	out := make([]PathStatus, 0, len(o.paths))
	for _, ps := range o.paths {
		out = append(out, ps.snapshot())
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Path returns the snapshot of one path.
func (o *Orchestrator) Path(path string) (PathStatus, bool) {
	o.mu.RLock()
	ps, ok := o.paths[path]
	o.mu.RUnlock()
	if !ok {
		return PathStatus{}, false
	}
	return ps.snapshot(), true
}

// Flush waits until every queued transition and telemetry message has been
// handled, or ctx ends.
func (o *Orchestrator) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			o.mu.RLock()
			boxes := make([]*eventbus.Mailbox, 0, len(o.paths))
			for _, ps := range o.paths {
				boxes = append(boxes, &ps.box)
			}
			o.mu.RUnlock()
			for _, b := range boxes {
				b.Wait()
			}
			o.outbox.Wait()
			busy := o.outbox.Pending() > 0
			for _, b := range boxes {
				busy = busy || b.Pending() > 0
			}
			if !busy {
				return
			}
		}
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown rejects new events, tears down every backing process and drains
// telemetry. Teardown at shutdown publishes stopped for active paths.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	all := make([]*pathState, 0, len(o.paths))
	for _, ps := range o.paths {
		all = append(all, ps)
	}
	o.mu.Unlock()

	o.cancel()
	if o.cron != nil {
		<-o.cron.Stop().Done()
	}
	o.sweep.Wait()
	for _, ps := range all {
		ps.box.Post(func() { o.teardown(ps, "shutdown") })
	}
	if err := o.Flush(ctx); err != nil {
		return err
	}
	for _, ps := range all {
		metrics.ForgetPath(ps.path)
	}
	return nil
}
