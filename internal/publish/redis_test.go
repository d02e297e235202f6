package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type fakeRedis struct {
	channel string
	payload []byte
	err     error
	closed  bool
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisPublisherChannelAndPayload(t *testing.T) {
	fr := &fakeRedis{}
	rp := newRedisPublisher(fr, "")
	assert.Equal(t, "redis", rp.Name())

	m := Message{ID: "1", Domain: DomainCamera, Event: "unDemand", EntityID: "c1"}
	require.NoError(t, rp.Send(context.Background(), m))
	assert.Equal(t, "streamgate:camera:unDemand", fr.channel)

	var got Message
	require.NoError(t, json.Unmarshal(fr.payload, &got))
	assert.Equal(t, "c1", got.EntityID)

	require.NoError(t, rp.Close())
	assert.True(t, fr.closed)
}

func TestRedisPublisherPropagatesError(t *testing.T) {
	boom := errors.New("connection reset")
	rp := newRedisPublisher(&fakeRedis{err: boom}, "gw")
	err := rp.Send(context.Background(), Message{Domain: "d", Event: "e"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "gw:d:e", rp.Channel(Message{Domain: "d", Event: "e"}))
}

func TestNewRedisPublisherUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisPublisher(ctx, RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
}

func TestRedisPublisher_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Failed to start Redis container: %v", err)
	}
	defer func() { _ = container.Terminate(ctx) }()

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	sub := redis.NewClient(&redis.Options{Addr: endpoint})
	defer func() { _ = sub.Close() }()
	ps := sub.PSubscribe(ctx, "streamgate:camera:*")
	defer func() { _ = ps.Close() }()
	_, err = ps.Receive(ctx)
	require.NoError(t, err)

	rp, err := NewRedisPublisher(ctx, RedisConfig{Addr: endpoint})
	require.NoError(t, err)
	defer func() { _ = rp.Close() }()

	bus := NewBus(nil, 5*time.Second, rp)
	require.NoError(t, bus.Publish(ctx, DomainCamera, "started", "cam-1", map[string]any{"path": "cam-1"}))

	select {
	case msg := <-ps.Channel():
		assert.Equal(t, "streamgate:camera:started", msg.Channel)
		var got Message
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "cam-1", got.EntityID)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
