package demand

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loykin/streamgate/internal/catalog"
	"github.com/loykin/streamgate/internal/eventbus"
	"github.com/loykin/streamgate/internal/intake"
	"github.com/loykin/streamgate/internal/manager"
	"github.com/loykin/streamgate/internal/metrics"
)

// Phase is the demand state of a path.
type Phase string

const (
	PhaseIdle        Phase = "Idle"
	PhaseActive      Phase = "Active"
	PhaseGracePeriod Phase = "GracePeriod"
)

// PathStatus is a read-only snapshot of a path.
type PathStatus struct {
	Path       string     `json:"path"`
	Phase      Phase      `json:"phase"`
	Process    string     `json:"process,omitempty"`
	PID        int        `json:"pid,omitempty"`
	EntityID   string     `json:"entity_id,omitempty"`
	Persistent bool       `json:"persistent"`
	Since      time.Time  `json:"since"`
	GraceUntil *time.Time `json:"grace_until,omitempty"`
}

// pathState fields below box are touched only by functions running on box.
type pathState struct {
	path string
	name string
	box  eventbus.Mailbox

	phase  Phase
	entity *catalog.Entity
	pid    int
	quick  int // consecutive exits before MinUptime
	query  string
	port   string
	timer  *time.Timer
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.RWMutex
	snap PathStatus
}

func newPathState(path, name string) *pathState {
	ps := &pathState{path: path, name: name, phase: PhaseIdle}
	ps.snap = PathStatus{Path: path, Phase: PhaseIdle, Since: time.Now()}
	return ps
}

func (ps *pathState) snapshot() PathStatus {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	s := ps.snap
	if s.GraceUntil != nil {
		t := *s.GraceUntil
		s.GraceUntil = &t
	}
	return s
}

func (ps *pathState) setPhase(p Phase, graceUntil *time.Time) {
	from := ps.phase
	ps.phase = p
	metrics.RecordPathTransition(ps.path, string(from), string(p))

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if from != p {
		ps.snap.Since = time.Now()
	}
	ps.snap.Phase = p
	ps.snap.GraceUntil = graceUntil
	ps.snap.PID = ps.pid
	if p == PhaseIdle {
		ps.snap.Process = ""
		ps.snap.PID = 0
	} else {
		ps.snap.Process = ps.name
	}
}

func (ps *pathState) setEntity(e *catalog.Entity) {
	ps.entity = e
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if e == nil {
		ps.snap.EntityID, ps.snap.Persistent = "", false
		return
	}
	ps.snap.EntityID, ps.snap.Persistent = e.ID, e.KeepAlive()
}

func (ps *pathState) setPID(pid int) {
	ps.pid = pid
	ps.mu.Lock()
	ps.snap.PID = pid
	ps.mu.Unlock()
}

// cancelGrace stops a pending grace timer; a fire already queued is
// invalidated by the generation bump.
func (ps *pathState) cancelGrace() bool {
	if ps.timer == nil {
		return false
	}
	ps.timer.Stop()
	ps.timer = nil
	ps.gen++
	return true
}

func details(ps *pathState, entity *catalog.Entity, ev intake.Event) map[string]any {
	d := map[string]any{
		"path":    ps.path,
		"name":    nil,
		"enabled": nil,
	}
	if entity != nil {
		d["name"] = entity.Name
		d["enabled"] = entity.Enabled
	}
	for k, v := range ev.Fields {
		if k == intake.FieldPath {
			continue
		}
		d[k] = v
	}
	return d
}

func (o *Orchestrator) demand(ps *pathState, ev intake.Event) {
	entity := o.lookup(ps.path)
	ps.setEntity(entity)
	ps.query = ev.Field(intake.FieldQuery)
	if p := ev.Field(intake.FieldRTSPPort); p != "" {
		ps.port = p
	}
	o.publish(ev.Name, entity, details(ps, entity, ev))

	if ps.cancelGrace() {
		o.log.Info("demand resumed within grace period", "path", ps.path, "process", ps.name)
		ps.setPhase(PhaseActive, nil)
		if o.alive(ps) {
			return
		}
	}
	if ps.phase == PhaseActive && o.alive(ps) {
		o.log.Debug("path already active", "path", ps.path, "pid", ps.pid)
		return
	}
	o.launch(ps, entity)
}

// alive reports whether the backing process is confirmed running.
func (o *Orchestrator) alive(ps *pathState) bool {
	st, ok := o.sup.Get(ps.name)
	return ok && st.Running
}

// launch replaces any previous backing process with a fresh definition, which
// also resets the supervisor's restart counter.
func (o *Orchestrator) launch(ps *pathState, entity *catalog.Entity) {
	o.release(ps)
	ps.quick = 0
	ps.ctx, ps.cancel = context.WithCancel(o.ctx)
	spec := o.cfg.spec(ps.name, ps.path, ps.query, ps.port)
	spec.Context = ps.ctx

	ps.setPhase(PhaseActive, nil)
	if err := o.sup.Define(spec, true); err != nil {
		o.log.Error("worker start failed", "path", ps.path, "process", ps.name, "error", err)
		o.fail(ps, entity, err)
		return
	}
	st, _ := o.sup.Get(ps.name)
	ps.setPID(st.PID)
	o.log.Info("worker started", "path", ps.path, "process", ps.name, "pid", st.PID)
	d := details(ps, entity, intake.Event{})
	d["process"] = ps.name
	d["pid"] = st.PID
	o.publish(EventStarted, entity, d)
}

// release removes the backing process and cancels its context.
func (o *Orchestrator) release(ps *pathState) {
	if ps.cancel == nil {
		_ = o.sup.Remove(ps.name)
		return
	}
	if err := o.sup.Remove(ps.name); err != nil {
		o.log.Warn("worker remove failed", "process", ps.name, "error", err)
	}
	ps.cancel()
	ps.ctx, ps.cancel = nil, nil
	ps.setPID(0)
}

// fail tears the path down after an unrecoverable worker error.
func (o *Orchestrator) fail(ps *pathState, entity *catalog.Entity, cause error) {
	ps.cancelGrace()
	o.release(ps)
	ps.setPhase(PhaseIdle, nil)
	metrics.IncPathErrored(ps.path)
	d := details(ps, entity, intake.Event{})
	d["process"] = ps.name
	d["error"] = cause.Error()
	d["crashLoop"] = errors.Is(cause, manager.ErrCrashLoop)
	o.publish(EventErrored, entity, d)
}

func (o *Orchestrator) unDemand(ps *pathState, ev intake.Event) {
	entity := o.lookup(ps.path)
	ps.setEntity(entity)
	if entity != nil && entity.KeepAlive() {
		o.log.Info("path is persistent, ignoring release", "path", ps.path, "entity", entity.ID)
		return
	}
	o.publish(ev.Name, entity, details(ps, entity, ev))
	if ps.phase == PhaseIdle {
		return
	}
	ps.cancelGrace()
	gen := ps.gen
	until := time.Now().Add(o.cfg.GracePeriod)
	ps.timer = time.AfterFunc(o.cfg.GracePeriod, func() {
		ps.box.Post(func() { o.graceExpired(ps, gen) })
	})
	ps.setPhase(PhaseGracePeriod, &until)
	o.log.Info("demand released, grace period started", "path", ps.path, "grace", o.cfg.GracePeriod)
}

func (o *Orchestrator) graceExpired(ps *pathState, gen uint64) {
	if gen != ps.gen || ps.phase != PhaseGracePeriod {
		return
	}
	ps.timer = nil
	o.teardown(ps, "grace period expired")
}

// teardown stops the backing process and returns the path to Idle.
func (o *Orchestrator) teardown(ps *pathState, reason string) {
	ps.cancelGrace()
	if ps.phase == PhaseIdle {
		o.release(ps)
		return
	}
	pid := ps.pid
	o.release(ps)
	ps.setPhase(PhaseIdle, nil)
	o.log.Info("worker stopped", "path", ps.path, "process", ps.name, "reason", reason)
	entity := ps.entity
	d := details(ps, entity, intake.Event{})
	d["process"] = ps.name
	d["pid"] = pid
	d["reason"] = reason
	o.publish(EventStopped, entity, d)
}

// exited applies the crash policy: Active + exit restarts the worker through
// the supervisor's counted Recover, or ends in errored at the ceiling.
func (o *Orchestrator) exited(ps *pathState, ev manager.Event) {
	if ev.Exit.Requested || ps.phase == PhaseIdle || ev.Status.PID != ps.pid {
		return
	}
	if ps.phase == PhaseGracePeriod {
		o.teardown(ps, "worker exited during grace period")
		return
	}

	entity := ps.entity
	d := details(ps, entity, intake.Event{})
	d["process"] = ps.name
	d["pid"] = ps.pid
	d["exit"] = ev.Exit.String()
	d["restarts"] = ev.Restarts
	o.publish(EventStopped, entity, d)
	o.log.Warn("worker exited while demanded", "path", ps.path, "process", ps.name, "exit", ev.Exit.String())

	// the supervisor only counts crashes; a worker that keeps exiting
	// cleanly right after start is a loop too
	if up := ev.Status.Uptime(); up < o.cfg.MinUptime {
		ps.quick++
	} else {
		ps.quick = 0
	}
	if ps.quick > o.cfg.RestartCeiling {
		err := fmt.Errorf("%s exited %d times within %s of starting: %w", ps.name, ps.quick, o.cfg.MinUptime, manager.ErrCrashLoop)
		o.log.Error("worker not restarted", "path", ps.path, "process", ps.name, "error", err)
		o.fail(ps, entity, err)
		return
	}

	if err := o.sup.Recover(ps.name); err != nil {
		o.log.Error("worker not restarted", "path", ps.path, "process", ps.name, "error", err)
		o.fail(ps, entity, err)
		return
	}
	st, _ := o.sup.Get(ps.name)
	ps.setPID(st.PID)
	o.log.Info("worker restarted", "path", ps.path, "process", ps.name, "pid", st.PID, "restarts", st.Restarts)
	s := details(ps, entity, intake.Event{})
	s["process"] = ps.name
	s["pid"] = st.PID
	s["restarts"] = st.Restarts
	o.publish(EventStarted, entity, s)
}

// telemetry publishes events that carry no state change.
func (o *Orchestrator) telemetry(ps *pathState, ev intake.Event) {
	entity := o.lookup(ps.path)
	ps.setEntity(entity)
	o.publish(ev.Name, entity, details(ps, entity, ev))
}
