package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/streamgate/internal/logger"
)

// RestartPolicy selects what the supervisor does when a process exits on its own.
type RestartPolicy string

const (
	RestartNone    RestartPolicy = "none"
	RestartOnCrash RestartPolicy = "onCrash"
)

// DefaultStopTimeout bounds the wait between SIGTERM and SIGKILL.
const DefaultStopTimeout = 5 * time.Second

// Spec describes a process to be managed.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Command string   `json:"command" mapstructure:"command"` // executable, or a shell line when Args is empty
	Args    []string `json:"args" mapstructure:"args"`
	// Direct runs Command as an executable even when Args is empty; it is
	// never handed to a shell.
	Direct  bool     `json:"direct,omitempty" mapstructure:"direct"`
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	Env     []string `json:"env" mapstructure:"env"` // "K=V" overlay on the supervisor environment
	// UID/GID run the process as another user (Unix only, requires privileges).
	UID         *uint32       `json:"uid,omitempty" mapstructure:"uid"`
	GID         *uint32       `json:"gid,omitempty" mapstructure:"gid"`
	Restart     RestartPolicy `json:"restart" mapstructure:"restart"`
	MaxRestarts int           `json:"max_restarts" mapstructure:"max_restarts"` // consecutive; <= 0 is unlimited
	StopTimeout time.Duration `json:"stop_timeout" mapstructure:"stop_timeout"`
	Log         logger.FileConfig `json:"log" mapstructure:"log"`

	// Context cancels the spec: when it is done the process is stopped and
	// the supervisor forgets the name.
	Context context.Context `json:"-" mapstructure:"-"`
}

// Validate checks the fields needed to spawn.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("process requires name")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("process %q requires command", s.Name)
	}
	switch s.Restart {
	case "", RestartNone, RestartOnCrash:
	default:
		return fmt.Errorf("process %q: unknown restart policy %q", s.Name, s.Restart)
	}
	return nil
}

// StopWait returns StopTimeout or the default.
func (s Spec) StopWait() time.Duration {
	if s.StopTimeout > 0 {
		return s.StopTimeout
	}
	return DefaultStopTimeout
}

// BuildCommand constructs an *exec.Cmd for the spec.
// With Args or Direct the command is executed directly. Without Args the Command string
// is split on whitespace unless it needs a shell: an explicit "sh -c ..."
// prefix is honored without double-wrapping, and shell metacharacters select
// /bin/sh -c.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if len(s.Args) > 0 || s.Direct {
		// #nosec G204
		return exec.Command(cmdStr, s.Args...)
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes and returns the
// script after -c with one pair of surrounding quotes removed.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return strings.Fields(p)[0], after, true
	}
	return "", "", false
}
