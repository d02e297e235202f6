package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/loykin/streamgate/internal/catalog"
	"github.com/loykin/streamgate/internal/demand"
	"github.com/loykin/streamgate/internal/logger"
	"github.com/loykin/streamgate/internal/metrics"
	"github.com/loykin/streamgate/internal/publish"
	gatetls "github.com/loykin/streamgate/internal/tls"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. STREAMGATE_SERVER_LISTEN.
const EnvPrefix = "STREAMGATE"

// Config represents the top-level TOML structure.
type Config struct {
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Intake  IntakeConfig        `toml:"intake" mapstructure:"intake"`
	Server  ServerConfig        `toml:"server" mapstructure:"server"`
	Log     logger.Config       `toml:"log" mapstructure:"log"`
	Worker  demand.WorkerConfig `toml:"worker" mapstructure:"worker"`
	Demand  demand.Config       `toml:"demand" mapstructure:"demand"`
	Catalog CatalogConfig       `toml:"catalog" mapstructure:"catalog"`
	Publish PublishConfig       `toml:"publish" mapstructure:"publish"`
	Metrics MetricsConfig       `toml:"metrics" mapstructure:"metrics"`

	v    *viper.Viper
	file string
}

type IntakeConfig struct {
	Socket string `toml:"socket" mapstructure:"socket"`
}

type ServerConfig struct {
	Enabled  bool           `toml:"enabled" mapstructure:"enabled"`
	Listen   string         `toml:"listen" mapstructure:"listen"`
	BasePath string         `toml:"base_path" mapstructure:"base_path"`
	TLS      gatetls.Config `toml:"tls" mapstructure:"tls"`
}

// CatalogConfig selects the path catalog. With an empty DSN the static
// Paths list is used and follows config file edits.
type CatalogConfig struct {
	DSN   string           `toml:"dsn" mapstructure:"dsn"`
	Paths []catalog.Entity `toml:"paths" mapstructure:"paths"`
}

type PublishConfig struct {
	WebSocket  bool                `toml:"websocket" mapstructure:"websocket"`
	Hub        publish.HubConfig   `toml:"hub" mapstructure:"hub"`
	Redis      publish.RedisConfig `toml:"redis" mapstructure:"redis"`
	HistoryDSN string              `toml:"history_dsn" mapstructure:"history_dsn"`
	// Timeout bounds each transport send.
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled bool                `toml:"enabled" mapstructure:"enabled"`
	Usage   metrics.UsageConfig `toml:"usage" mapstructure:"usage"`
}

// DefaultSocket is where the intake channel listens when nothing is configured.
func DefaultSocket() string {
	return filepath.Join(os.TempDir(), "streamgate", "ipc.sock")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("intake.socket", DefaultSocket())
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen", "127.0.0.1:62005")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("worker.command", "")
	v.SetDefault("worker.stop_timeout", "5s")
	v.SetDefault("demand.grace_period", demand.DefaultGracePeriod.String())
	v.SetDefault("demand.restart_ceiling", demand.DefaultRestartCeiling)
	v.SetDefault("demand.min_uptime", demand.DefaultMinUptime.String())
	v.SetDefault("demand.persist_interval", demand.DefaultPersistInterval.String())
	v.SetDefault("demand.persist_schedule", "")
	v.SetDefault("demand.name_prefix", demand.DefaultNamePrefix)
	v.SetDefault("demand.lookup_timeout", demand.DefaultLookupTimeout.String())
	v.SetDefault("catalog.dsn", "")
	v.SetDefault("publish.websocket", true)
	v.SetDefault("publish.hub.allowed_origins", []string{})
	v.SetDefault("publish.timeout", "5s")
	v.SetDefault("publish.history_dsn", "")
	v.SetDefault("publish.redis.addr", "")
	v.SetDefault("publish.redis.channel_prefix", "streamgate")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.usage.enabled", false)
	v.SetDefault("metrics.usage.interval", "10s")
	v.SetDefault("metrics.usage.max_history", 60)
}

// Load reads the TOML file at path, if any, on top of the built-in defaults.
// STREAMGATE_* environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.v = v
	c.file = path
	return &c, nil
}

// File returns the path Load read, or "".
func (c *Config) File() string { return c.file }

// Orchestration returns the demand configuration with the worker template attached.
func (c *Config) Orchestration() demand.Config {
	d := c.Demand
	if c.Worker.Command != "" || d.Worker.Command == "" {
		d.Worker = c.Worker
	}
	return d.WithDefaults()
}

// Validate reports settings serve cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Intake.Socket) == "" {
		return fmt.Errorf("intake socket is required")
	}
	if err := c.Orchestration().Validate(); err != nil {
		return err
	}
	if c.Server.Enabled {
		if c.Server.Listen == "" {
			return fmt.Errorf("server listen address is required when server is enabled")
		}
		if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
			return fmt.Errorf("server base_path must start with '/': %q", c.Server.BasePath)
		}
	}
	seen := make(map[string]struct{}, len(c.Catalog.Paths))
	for i, e := range c.Catalog.Paths {
		if e.Path == "" {
			return fmt.Errorf("catalog path #%d has no path", i+1)
		}
		if _, dup := seen[e.Path]; dup {
			return fmt.Errorf("catalog path %q is listed twice", e.Path)
		}
		seen[e.Path] = struct{}{}
	}
	return nil
}

// GlobalEnv merges env from config: top-level env, env_files contents, and optionally OS env when UseOSEnv is true.
// Precedence: OS env (when enabled) provides base; then apply file vars; then top-level env list overrides last.
func (c *Config) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if c.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return pairs(m), nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	return pairs(m), nil
}

func pairs(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			if k == "" {
				continue
			}
			m[k] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}

// WatchCatalog re-reads the config file whenever it changes and passes the
// static catalog entries to onChange. Edits that fail to parse are logged and
// skipped. Only the catalog section is hot; everything else needs a restart.
func (c *Config) WatchCatalog(log *slog.Logger, onChange func([]catalog.Entity)) error {
	if c.v == nil || c.file == "" {
		return fmt.Errorf("config was not loaded from a file")
	}
	if log == nil {
		log = slog.Default()
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		var cc CatalogConfig
		if err := c.v.UnmarshalKey("catalog", &cc); err != nil {
			log.Warn("config reload failed", "file", e.Name, "error", err)
			return
		}
		log.Info("catalog reloaded", "file", e.Name, "paths", len(cc.Paths))
		onChange(cc.Paths)
	})
	c.v.WatchConfig()
	return nil
}
