package demand

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
	"unicode"

	"github.com/loykin/streamgate/internal/logger"
	"github.com/loykin/streamgate/internal/process"
	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Defaults for Config.
const (
	DefaultGracePeriod     = 60 * time.Second
	DefaultRestartCeiling  = 5
	DefaultNamePrefix      = "mtx-"
	DefaultLookupTimeout   = 2 * time.Second
	DefaultPersistInterval = time.Minute
	DefaultRTSPPort        = "8554"
	DefaultMinUptime       = 5 * time.Second
)

// WorkerConfig is the template for backing processes. Command, Args, WorkDir
// and Env may reference {path}, {query}, {port} and {name}.
type WorkerConfig struct {
	Command     string            `mapstructure:"command"`
	Args        []string          `mapstructure:"args"`
	WorkDir     string            `mapstructure:"workdir"`
	Env         []string          `mapstructure:"env"`
	UID         *uint32           `mapstructure:"uid"`
	GID         *uint32           `mapstructure:"gid"`
	StopTimeout time.Duration     `mapstructure:"stop_timeout"`
	Output      logger.FileConfig `mapstructure:"output"`
}

// Config tunes the orchestrator.
type Config struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
	// RestartCeiling bounds consecutive crash restarts of a demanded path.
	RestartCeiling int `mapstructure:"restart_ceiling"`
	// MinUptime is how long a worker must run before its exit, clean or not,
	// stops counting towards RestartCeiling.
	MinUptime  time.Duration `mapstructure:"min_uptime"`
	NamePrefix string        `mapstructure:"name_prefix"`
	// PersistInterval is how often persistent catalog entries are re-demanded; <= 0 disables.
	PersistInterval time.Duration `mapstructure:"persist_interval"`
	// PersistSchedule is a cron expression that takes precedence over PersistInterval.
	PersistSchedule string        `mapstructure:"persist_schedule"`
	LookupTimeout   time.Duration `mapstructure:"lookup_timeout"`
	Worker          WorkerConfig  `mapstructure:"worker"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.RestartCeiling <= 0 {
		c.RestartCeiling = DefaultRestartCeiling
	}
	if c.MinUptime <= 0 {
		c.MinUptime = DefaultMinUptime
	}
	if c.NamePrefix == "" {
		c.NamePrefix = DefaultNamePrefix
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = DefaultLookupTimeout
	}
	return c
}

// Validate reports configuration that cannot produce a worker.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Worker.Command) == "" {
		return fmt.Errorf("worker command is required")
	}
	if spec := c.PersistSpec(); spec != "" {
		if _, err := scheduleParser.Parse(spec); err != nil {
			return fmt.Errorf("invalid persist schedule %q: %w", spec, err)
		}
	}
	return nil
}

// PersistSpec returns the cron schedule of the persistence sweep, or "" when
// the sweep is off.
func (c Config) PersistSpec() string {
	if c.PersistSchedule != "" {
		return c.PersistSchedule
	}
	if c.PersistInterval > 0 {
		return "@every " + c.PersistInterval.String()
	}
	return ""
}

// ProcessName derives the backing process name for path: prefix, a slug of
// the path, and a short hash so that paths with the same slug stay distinct.
func (c Config) ProcessName(path string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	s := slug(path)
	if s == "" {
		return fmt.Sprintf("%s%08x", c.NamePrefix, h.Sum32())
	}
	return fmt.Sprintf("%s%s-%08x", c.NamePrefix, s, h.Sum32())
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// spec renders the worker template for one path. Relay supplied values are
// only ever substituted into single argv entries: a templated command line
// without Args is split into argv first and run without a shell.
func (c Config) spec(name, path, query, port string) process.Spec {
	if port == "" {
		port = DefaultRTSPPort
	}
	r := strings.NewReplacer("{path}", path, "{query}", query, "{port}", port, "{name}", name)
	w := c.Worker
	command, rawArgs, direct := w.Command, w.Args, false
	if len(rawArgs) == 0 && hasPlaceholder(command) {
		if f := strings.Fields(command); len(f) > 0 {
			command, rawArgs, direct = f[0], f[1:], true
		}
	}
	args := make([]string, len(rawArgs))
	for i, a := range rawArgs {
		args[i] = r.Replace(a)
	}
	var env []string
	for _, kv := range w.Env {
		env = append(env, r.Replace(kv))
	}
	return process.Spec{
		Name:        name,
		Command:     r.Replace(command),
		Args:        args,
		Direct:      direct,
		WorkDir:     r.Replace(w.WorkDir),
		Env:         env,
		UID:         w.UID,
		GID:         w.GID,
		Restart:     process.RestartNone,
		MaxRestarts: c.RestartCeiling,
		StopTimeout: w.StopTimeout,
		Log:         w.Output,
	}
}

func hasPlaceholder(s string) bool {
	for _, p := range []string{"{path}", "{query}", "{port}", "{name}"} {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
