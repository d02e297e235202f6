package manager

import (
	"github.com/loykin/streamgate/internal/process"
)

// Event topics. Per-name topics are formed as prefix + process name.
const (
	TopicStdoutPrefix = "stdout:"
	TopicStderrPrefix = "stderr:"
	TopicExitPrefix   = "exit:"
	TopicStartPrefix  = "start:"
	TopicErrorPrefix  = "error:"

	// TopicExit receives every exit regardless of name.
	TopicExit = "exit"
	// TopicLogOut and TopicLogErr receive every output line regardless of name.
	TopicLogOut = "log:out"
	TopicLogErr = "log:err"
)

// Event is delivered to handlers registered with Manager.On.
type Event struct {
	Name string `json:"name"`

	// output events
	Stream process.Stream `json:"stream,omitempty"`
	Line   string         `json:"line,omitempty"`

	// exit events
	Exit *process.Exit `json:"exit,omitempty"`
	// Restarting is set when the supervisor restarts the process on its own.
	Restarting bool `json:"restarting,omitempty"`
	// CrashLoop is set when an onCrash restart was refused by the ceiling.
	CrashLoop bool `json:"crash_loop,omitempty"`

	// start and exit events
	Status   process.Status `json:"status"`
	Restarts int            `json:"restarts"`

	// error events
	Err error `json:"-"`
}

// ExitTopic returns the per-name exit topic.
func ExitTopic(name string) string { return TopicExitPrefix + name }

// StdoutTopic returns the per-name stdout topic.
func StdoutTopic(name string) string { return TopicStdoutPrefix + name }

// StderrTopic returns the per-name stderr topic.
func StderrTopic(name string) string { return TopicStderrPrefix + name }

// ErrorTopic returns the per-name error topic.
func ErrorTopic(name string) string { return TopicErrorPrefix + name }
