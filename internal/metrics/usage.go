package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Usage is one CPU and memory sample of a supervised process.
type Usage struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// UsageConfig configures the resource sampler.
type UsageConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// UsageCollector periodically samples the processes returned by a lister and
// keeps a bounded history per name.
type UsageCollector struct {
	enabled    bool
	interval   time.Duration
	maxHistory int
	log        *slog.Logger

	mu      sync.RWMutex
	history map[string][]Usage

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
}

// NewUsageCollector builds a collector; defaults are a 5s interval and 60 samples.
func NewUsageCollector(cfg UsageConfig, log *slog.Logger) *UsageCollector {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 60
	}
	if log == nil {
		log = slog.Default()
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      name,
			Help:      help,
		}, []string{"name"})
	}
	return &UsageCollector{
		enabled:    cfg.Enabled,
		interval:   cfg.Interval,
		maxHistory: cfg.MaxHistory,
		log:        log,
		history:    make(map[string][]Usage),
		stopCh:     make(chan struct{}),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage for supervised processes."),
		memoryMB:   gauge("memory_mb", "Resident memory in MB for supervised processes."),
		numThreads: gauge("num_threads", "Number of threads for supervised processes."),
	}
}

// Enabled reports whether sampling is configured.
func (c *UsageCollector) Enabled() bool { return c.enabled }

// RegisterMetrics registers the resource gauges.
func (c *UsageCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	for _, col := range []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads} {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples list() every interval until ctx is done or Stop is called.
// list returns running processes keyed by name.
func (c *UsageCollector) Start(ctx context.Context, list func() map[string]int32) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(list())
			}
		}
	}()
}

// Stop ends sampling and waits for the loop to exit.
func (c *UsageCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample of every process and forgets names not present.
func (c *UsageCollector) Collect(procs map[string]int32) {
	now := time.Now()
	for name, pid := range procs {
		if pid <= 0 {
			continue
		}
		u, err := sample(name, pid, now)
		if err != nil {
			c.log.Debug("usage sample failed", "name", name, "pid", pid, "error", err)
			continue
		}
		c.cpuPercent.WithLabelValues(name).Set(u.CPUPercent)
		c.memoryMB.WithLabelValues(name).Set(u.MemoryMB)
		c.numThreads.WithLabelValues(name).Set(float64(u.NumThreads))
		c.append(u)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.history {
		if _, ok := procs[name]; !ok {
			delete(c.history, name)
			c.cpuPercent.DeleteLabelValues(name)
			c.memoryMB.DeleteLabelValues(name)
			c.numThreads.DeleteLabelValues(name)
		}
	}
}

func (c *UsageCollector) append(u Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.history[u.Name]
	if len(h) >= c.maxHistory {
		h = h[1:]
	}
	c.history[u.Name] = append(h, u)
}

// Latest returns the newest sample for name.
func (c *UsageCollector) Latest(name string) (Usage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.history[name]
	if len(h) == 0 {
		return Usage{}, false
	}
	return h[len(h)-1], true
}

// History returns a copy of the samples kept for name, oldest first.
func (c *UsageCollector) History(name string) []Usage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Usage(nil), c.history[name]...)
}

func sample(name string, pid int32, at time.Time) (Usage, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return Usage{}, fmt.Errorf("open process: %w", err)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("memory info: %w", err)
	}
	// CPU and thread counts are best effort; some platforms refuse them.
	cpu, _ := proc.CPUPercent()
	threads, _ := proc.NumThreads()
	u := Usage{
		PID:        pid,
		Name:       name,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		NumThreads: threads,
		Timestamp:  at,
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDs(); err == nil {
			u.NumFDs = fds
		}
	}
	return u, nil
}
