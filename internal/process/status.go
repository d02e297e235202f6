package process

import (
	"time"
)

// State is the lifecycle status of a process handle.
type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateExited   State = "exited"
)

// Status is a point-in-time snapshot of a handle.
type Status struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Signal    string    `json:"signal,omitempty"`
	Error     string    `json:"error,omitempty"`
	Restarts  int       `json:"restarts"`
}

// Uptime is how long the process has been (or was) running.
func (s Status) Uptime() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.Running || s.StoppedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.StoppedAt.Sub(s.StartedAt)
}

// Exit describes how a process terminated.
type Exit struct {
	Code      int       `json:"code"`
	Signal    string    `json:"signal,omitempty"`
	Err       error     `json:"-"`
	Requested bool      `json:"requested"` // termination was asked for by Stop or cancellation
	At        time.Time `json:"at"`
}

// Clean reports a zero exit code without a signal.
func (e Exit) Clean() bool {
	return e.Err == nil && e.Code == 0 && e.Signal == ""
}

// Crashed reports an exit nobody asked for that was non-zero or signaled.
func (e Exit) Crashed() bool {
	return !e.Requested && !e.Clean()
}

func (e Exit) String() string {
	switch {
	case e.Signal != "":
		return "signal " + e.Signal
	case e.Err != nil:
		return e.Err.Error()
	}
	return "exit code " + itoa(e.Code)
}
