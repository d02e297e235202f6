package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageCollectSelf(t *testing.T) {
	c := NewUsageCollector(UsageConfig{Enabled: true, MaxHistory: 2}, nil)
	require.NoError(t, c.RegisterMetrics(prometheus.NewRegistry()))

	self := map[string]int32{"self": int32(os.Getpid())}
	for i := 0; i < 3; i++ {
		c.Collect(self)
	}
	u, ok := c.Latest("self")
	require.True(t, ok)
	assert.Equal(t, int32(os.Getpid()), u.PID)
	assert.Greater(t, u.MemoryRSS, uint64(0))
	assert.Len(t, c.History("self"), 2)

	// names that disappear are forgotten
	c.Collect(map[string]int32{})
	_, ok = c.Latest("self")
	assert.False(t, ok)
}

func TestUsageCollectorSkipsInvalidPID(t *testing.T) {
	c := NewUsageCollector(UsageConfig{Enabled: true}, nil)
	c.Collect(map[string]int32{"zero": 0})
	_, ok := c.Latest("zero")
	assert.False(t, ok)
}

func TestUsageCollectorStartStop(t *testing.T) {
	c := NewUsageCollector(UsageConfig{Enabled: true, Interval: 20 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, func() map[string]int32 { return map[string]int32{"self": int32(os.Getpid())} })
	require.Eventually(t, func() bool {
		_, ok := c.Latest("self")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	c.Stop()
	c.Stop()
}

func TestUsageCollectorDisabled(t *testing.T) {
	c := NewUsageCollector(UsageConfig{}, nil)
	assert.False(t, c.Enabled())
	require.NoError(t, c.RegisterMetrics(prometheus.NewRegistry()))
	c.Start(context.Background(), func() map[string]int32 { return nil })
	c.Stop()
}
