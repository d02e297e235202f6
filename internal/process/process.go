package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// waitDelay bounds how long output pipes may outlive the process, e.g. when a
// grandchild keeps them open.
const waitDelay = 2 * time.Second

// Process is the live handle of one run of a Spec. A handle is never
// restarted; the supervisor creates a new one per start.
type Process struct {
	spec   Spec
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	outW   *lineWriter
	errW   *lineWriter

	mu        sync.Mutex
	status    Status
	exit      Exit
	requested bool
}

// Start spawns spec with the given environment. Output lines are passed to
// onLine (which may be nil). The handle's context is a child of spec.Context:
// cancelling either stops the process.
//
// Launch errors are returned as *SpawnError.
func Start(spec Spec, env []string, onLine LineFunc) (*Process, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	parent := spec.Context
	if parent == nil {
		parent = context.Background()
	}
	if err := parent.Err(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Name, context.Cause(parent))
	}

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(env) > 0 {
		cmd.Env = env
	}
	configureSysProcAttr(cmd, spec)
	cmd.WaitDelay = waitDelay

	if spec.Log.Dir != "" {
		_ = os.MkdirAll(spec.Log.Dir, 0o750)
	}
	outSink, errSink, _ := spec.Log.Writers(spec.Name)
	p := &Process{
		spec: spec,
		cmd:  cmd,
		done: make(chan struct{}),
		outW: newLineWriter(Stdout, outSink, onLine),
		errW: newLineWriter(Stderr, errSink, onLine),
	}
	cmd.Stdout = p.outW
	cmd.Stderr = p.errW

	p.status = Status{Name: spec.Name, State: StatePending}
	if err := cmd.Start(); err != nil {
		_ = p.outW.Close()
		_ = p.errW.Close()
		return nil, &SpawnError{Name: spec.Name, Err: err}
	}

	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.mu.Lock()
	p.status.State = StateRunning
	p.status.Running = true
	p.status.PID = cmd.Process.Pid
	p.status.StartedAt = time.Now()
	p.mu.Unlock()

	go p.wait()
	go p.watch(ctx)
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) {
		// the process itself exited; only its pipes lingered
		err = nil
	}
	_ = p.outW.Close()
	_ = p.errW.Close()

	p.mu.Lock()
	ex := exitFrom(p.cmd.ProcessState, err)
	ex.Requested = p.requested
	p.exit = ex
	p.status.State = StateExited
	p.status.Running = false
	p.status.StoppedAt = ex.At
	code := ex.Code
	p.status.ExitCode = &code
	p.status.Signal = ex.Signal
	if ex.Err != nil {
		p.status.Error = ex.Err.Error()
	}
	p.mu.Unlock()

	p.cancel()
	close(p.done)
}

// watch stops the process when its context is cancelled.
func (p *Process) watch(ctx context.Context) {
	select {
	case <-p.done:
	case <-ctx.Done():
		_ = p.Stop(p.spec.StopWait())
	}
}

func exitFrom(ps *os.ProcessState, err error) Exit {
	ex := Exit{At: time.Now()}
	if ps == nil {
		ex.Code = -1
		ex.Err = err
		return ex
	}
	ex.Code = ps.ExitCode()
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		ex.Signal = ws.Signal().String()
	}
	var ee *exec.ExitError
	if err != nil && !errors.As(err, &ee) {
		ex.Err = err
	}
	return ex
}

// Name returns the spec name.
func (p *Process) Name() string { return p.spec.Name }

// Spec returns the spec the process was started from.
func (p *Process) Spec() Spec { return p.spec }

// PID returns the OS process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited and its output is flushed.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exit returns the exit result; ok is false while the process is running.
func (p *Process) Exit() (Exit, bool) {
	select {
	case <-p.done:
	default:
		return Exit{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit, true
}

// Alive reports whether the process has not exited yet.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.status
	if s.ExitCode != nil {
		c := *s.ExitCode
		s.ExitCode = &c
	}
	return s
}

// Stop sends SIGTERM to the process group, waits up to wait and then sends
// SIGKILL. It returns once the process has exited or the kill grace elapsed.
// Calling Stop on an exited process is a no-op.
func (p *Process) Stop(wait time.Duration) error {
	p.mu.Lock()
	if p.status.State == StateExited {
		p.mu.Unlock()
		return nil
	}
	p.requested = true
	p.status.State = StateStopping
	p.mu.Unlock()

	pid := p.cmd.Process.Pid
	_ = terminateGroup(p.cmd, pid)
	select {
	case <-p.done:
		return nil
	case <-time.After(wait):
	}
	_ = killGroup(p.cmd, pid)
	select {
	case <-p.done:
		return nil
	case <-time.After(waitDelay + time.Second):
		return fmt.Errorf("process %s (pid %d) did not exit after SIGKILL", p.spec.Name, pid)
	}
}
