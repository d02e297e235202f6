package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/streamgate/internal/eventbus"
	"github.com/loykin/streamgate/internal/metrics"
	"github.com/loykin/streamgate/internal/process"
)

// managedProcess owns the lifecycle of one defined name. Every operation is a
// command processed by a single goroutine, so a restart can never interleave
// with another caller's start or stop.
//
// Lock hierarchy: mu only guards fields read by snapshots (proc, restarts);
// it is never held across process operations.
type managedProcess struct {
	name   string
	spec   process.Spec
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mergeEnv func(process.Spec) []string
	emit     func(topic string, ev Event)
	outbox   eventbus.Mailbox

	cmdChan  chan command
	doneChan chan struct{}

	mu       sync.RWMutex
	proc     *process.Process
	restarts int

	// owned by runStateMachine
	seen *process.Process
}

type command struct {
	action commandAction
	wait   time.Duration
	proc   *process.Process
	reply  chan error
}

type commandAction int

const (
	actionStart commandAction = iota
	actionStop
	actionRestart
	actionRecover
	actionExit
	actionRemove
)

func newManagedProcess(parent context.Context, spec process.Spec, log *slog.Logger, mergeEnv func(process.Spec) []string, emit func(string, Event)) *managedProcess {
	if spec.Context != nil {
		parent = spec.Context
	}
	ctx, cancel := context.WithCancel(parent)
	mp := &managedProcess{
		name:     spec.Name,
		spec:     spec,
		ctx:      ctx,
		cancel:   cancel,
		log:      log.With("process", spec.Name),
		mergeEnv: mergeEnv,
		emit:     emit,
		cmdChan:  make(chan command, 16),
		doneChan: make(chan struct{}),
	}
	go mp.runStateMachine()
	return mp
}

// send queues a command and waits for its result.
func (mp *managedProcess) send(c command) error {
	c.reply = make(chan error, 1)
	select {
	case mp.cmdChan <- c:
	case <-mp.doneChan:
		return fmt.Errorf("%s: %w", mp.name, ErrNoSuchProcess)
	}
	select {
	case err := <-c.reply:
		return err
	case <-mp.doneChan:
		// the loop ended (removed) before or right after answering
		select {
		case err := <-c.reply:
			return err
		default:
			return fmt.Errorf("%s: %w", mp.name, ErrNoSuchProcess)
		}
	}
}

// remove stops the process and ends the state machine. Safe to call more than once.
func (mp *managedProcess) remove() {
	_ = mp.send(command{action: actionRemove})
	<-mp.doneChan
}

func (mp *managedProcess) runStateMachine() {
	defer close(mp.doneChan)
	for c := range mp.cmdChan {
		var err error
		switch c.action {
		case actionStart:
			err = mp.doStart()
		case actionStop:
			err = mp.doStop(c.wait)
		case actionRestart:
			if err = mp.doStop(c.wait); err == nil {
				err = mp.doStart()
			}
		case actionRecover:
			err = mp.doRecover()
		case actionExit:
			mp.handleExit(c.proc)
		case actionRemove:
			_ = mp.doStop(mp.spec.StopWait())
			mp.cancel()
			if c.reply != nil {
				c.reply <- nil
			}
			return
		}
		if c.reply != nil {
			c.reply <- err
		}
	}
}

func (mp *managedProcess) post(topic string, ev Event) {
	mp.outbox.Post(func() { mp.emit(topic, ev) })
}

func (mp *managedProcess) current() *process.Process {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.proc
}

func (mp *managedProcess) setRestarts(n int) {
	mp.mu.Lock()
	mp.restarts = n
	mp.mu.Unlock()
}

func (mp *managedProcess) restartCount() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.restarts
}

// reap handles an exit that happened but whose notification has not been
// processed yet, so every run produces exactly one exit event.
func (mp *managedProcess) reap() {
	if p := mp.current(); p != nil && p != mp.seen && !p.Alive() {
		mp.handleExit(p)
	}
}

func (mp *managedProcess) doStart() error {
	mp.reap()
	if p := mp.current(); p != nil && p.Alive() {
		return nil
	}
	if mp.ctx.Err() != nil {
		return fmt.Errorf("%s: %w", mp.name, ErrNoSuchProcess)
	}
	spec := mp.spec
	spec.Context = mp.ctx
	p, err := process.Start(spec, mp.mergeEnv(spec), mp.onLine)
	if err != nil {
		metrics.IncSpawnFailure(mp.name)
		mp.log.Error("process start failed", "error", err)
		mp.post(ErrorTopic(mp.name), Event{Name: mp.name, Err: err, Restarts: mp.restartCount()})
		return err
	}
	mp.mu.Lock()
	mp.proc = p
	restarts := mp.restarts
	mp.mu.Unlock()

	metrics.IncStart(mp.name)
	st := p.Snapshot()
	st.Restarts = restarts
	mp.log.Info("process started", "pid", st.PID, "restarts", restarts)
	mp.post(TopicStartPrefix+mp.name, Event{Name: mp.name, Status: st, Restarts: restarts})
	go mp.watch(p)
	return nil
}

// watch reports the exit of p to the state machine.
func (mp *managedProcess) watch(p *process.Process) {
	<-p.Done()
	select {
	case mp.cmdChan <- command{action: actionExit, proc: p}:
	case <-mp.doneChan:
	}
}

func (mp *managedProcess) doStop(wait time.Duration) error {
	mp.reap()
	mp.setRestarts(0)
	p := mp.current()
	if p == nil || !p.Alive() {
		return nil
	}
	if wait <= 0 {
		wait = mp.spec.StopWait()
	}
	metrics.IncStop(mp.name)
	err := p.Stop(wait)
	mp.handleExit(p)
	return err
}

func (mp *managedProcess) doRecover() error {
	mp.reap()
	if p := mp.current(); p != nil && p.Alive() {
		return nil
	}
	restarts := mp.restartCount()
	if !underCeiling(restarts, mp.spec.MaxRestarts) {
		return fmt.Errorf("%s after %d restarts: %w", mp.name, restarts, ErrCrashLoop)
	}
	mp.setRestarts(restarts + 1)
	metrics.IncRestart(mp.name)
	return mp.doStart()
}

func underCeiling(restarts, max int) bool {
	return max <= 0 || restarts < max
}

// handleExit records the exit of p once, emits it and applies the onCrash policy.
func (mp *managedProcess) handleExit(p *process.Process) {
	if p == nil || p != mp.current() || p == mp.seen {
		return
	}
	mp.seen = p
	ex, ok := p.Exit()
	if !ok {
		return
	}

	kind := "crash"
	switch {
	case ex.Requested:
		kind = "requested"
	case ex.Clean():
		kind = "clean"
	}
	metrics.IncExit(mp.name, kind)
	if kind != "crash" {
		mp.setRestarts(0)
	}
	restarts := mp.restartCount()

	ev := Event{Name: mp.name, Exit: &ex, Restarts: restarts}
	ev.Status = p.Snapshot()
	ev.Status.Restarts = restarts
	if ex.Crashed() && mp.spec.Restart == process.RestartOnCrash && mp.ctx.Err() == nil {
		if underCeiling(restarts, mp.spec.MaxRestarts) {
			ev.Restarting = true
		} else {
			ev.CrashLoop = true
		}
	}

	attrs := []any{"exit", ex.String(), "kind", kind, "restarts", restarts}
	if kind == "crash" {
		mp.log.Warn("process exited", attrs...)
	} else {
		mp.log.Info("process exited", attrs...)
	}
	if ev.CrashLoop {
		mp.log.Error("restart ceiling reached", "max_restarts", mp.spec.MaxRestarts)
	}
	mp.post(ExitTopic(mp.name), ev)
	mp.post(TopicExit, ev)

	if ev.Restarting {
		mp.setRestarts(restarts + 1)
		metrics.IncRestart(mp.name)
		if err := mp.doStart(); err != nil {
			mp.log.Error("automatic restart failed", "error", err)
		}
	}
}

func (mp *managedProcess) onLine(s process.Stream, line string) {
	ev := Event{Name: mp.name, Stream: s, Line: line}
	if s == process.Stderr {
		mp.emit(StderrTopic(mp.name), ev)
		mp.emit(TopicLogErr, ev)
		return
	}
	mp.emit(StdoutTopic(mp.name), ev)
	mp.emit(TopicLogOut, ev)
}

// status returns a snapshot for Get/List.
func (mp *managedProcess) status() process.Status {
	mp.mu.RLock()
	p, restarts := mp.proc, mp.restarts
	mp.mu.RUnlock()
	if p == nil {
		return process.Status{Name: mp.name, State: process.StatePending, Restarts: restarts}
	}
	st := p.Snapshot()
	st.Restarts = restarts
	return st
}
