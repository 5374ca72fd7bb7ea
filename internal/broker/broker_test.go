package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/pkg/call"
	"github.com/agentrelay/agentrelay/pkg/config"
	"github.com/agentrelay/agentrelay/pkg/health"
)

// Compile-time wiring checks: the hub is a message transport and the
// registry feeds the peer health checker.
var (
	_ call.MessageTransport = (*Hub)(nil)
	_ health.PeerLister     = (*Registry)(nil)
)

// testRedis connects to a local Redis, skipping the test when none is
// available.
func testRedis(t *testing.T) *RedisClient {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client, err := NewRedisClient(&config.RedisConfig{
		Host:     "localhost",
		Port:     6379,
		DB:       15,
		PoolSize: 4,
	})
	if err != nil {
		t.Skipf("Redis not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() {
		client.Client().FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	client := testRedis(t)
	hub := NewHub(client)
	defer hub.Close()

	received := make(chan *call.Message, 1)
	_, err := hub.Subscribe(context.Background(), "test.topic", func(ctx context.Context, msg *call.Message) {
		received <- msg
	})
	require.NoError(t, err)

	msg := &call.Message{
		ID:          "m-1",
		Timestamp:   time.Now(),
		SourceAgent: "agent-1",
		Topic:       "test.topic",
		MessageType: "ping",
		Payload:     map[string]interface{}{"n": 1},
	}
	require.NoError(t, hub.Publish(context.Background(), msg))

	select {
	case got := <-received:
		assert.Equal(t, "m-1", got.ID)
		assert.Equal(t, "agent-1", got.SourceAgent)
		assert.Equal(t, "ping", got.MessageType)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the published message to reach the subscriber")
	}
}

func TestHub_MalformedMessagesAreDropped(t *testing.T) {
	client := testRedis(t)
	hub := NewHub(client)
	defer hub.Close()

	received := make(chan *call.Message, 1)
	_, err := hub.Subscribe(context.Background(), "test.malformed", func(ctx context.Context, msg *call.Message) {
		received <- msg
	})
	require.NoError(t, err)

	// Raw garbage on the wire must not reach the handler.
	require.NoError(t, client.Client().Publish(context.Background(), topicPrefix+"test.malformed", "{not json").Err())

	good := &call.Message{
		ID:          "m-2",
		Timestamp:   time.Now(),
		SourceAgent: "agent-1",
		Topic:       "test.malformed",
		MessageType: "ping",
		Payload:     "ok",
	}
	require.NoError(t, hub.Publish(context.Background(), good))

	select {
	case got := <-received:
		assert.Equal(t, "m-2", got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the well-formed message")
	}
}

func TestHub_CloseIsIdempotentAndStopsSubscriptions(t *testing.T) {
	client := testRedis(t)
	hub := NewHub(client)

	_, err := hub.Subscribe(context.Background(), "test.close", func(ctx context.Context, msg *call.Message) {})
	require.NoError(t, err)

	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	_, err = hub.Subscribe(context.Background(), "test.after", func(ctx context.Context, msg *call.Message) {})
	require.Error(t, err, "a closed hub rejects new subscriptions")
}

func TestHub_ClosedSubscriptionStopsDelivery(t *testing.T) {
	client := testRedis(t)
	hub := NewHub(client)
	defer hub.Close()

	received := make(chan *call.Message, 1)
	sub, err := hub.Subscribe(context.Background(), "test.unsub", func(ctx context.Context, msg *call.Message) {
		received <- msg
	})
	require.NoError(t, err)
	assert.Equal(t, "test.unsub", sub.Topic())

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "closing a subscription twice is a no-op")

	late := &call.Message{
		ID:          "m-3",
		Timestamp:   time.Now(),
		SourceAgent: "agent-1",
		Topic:       "test.unsub",
		MessageType: "ping",
		Payload:     "late",
	}
	require.NoError(t, hub.Publish(context.Background(), late))

	select {
	case <-received:
		t.Fatal("no message may be delivered after the subscription closes")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRegistry_RegisterHeartbeatDeregister(t *testing.T) {
	client := testRedis(t)
	registry := NewRegistry(client, 10*time.Second)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, PeerInfo{
		AgentID:   "chat-1",
		AgentType: "chat",
		Status:    "running",
	}))
	require.NoError(t, registry.Register(ctx, PeerInfo{
		AgentID:   "risk-1",
		AgentType: "risk",
		Status:    "error",
	}))

	peers, err := registry.ListPeers(ctx)
	require.NoError(t, err)
	assert.Len(t, peers, 2)

	reachable, total, err := registry.ReachablePeers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reachable, "only running peers count as reachable")
	assert.Equal(t, 2, total)

	require.NoError(t, registry.Deregister(ctx, "risk-1"))
	peers, err = registry.ListPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "chat-1", peers[0].AgentID)
}

func TestRegistry_EntriesExpireWithoutHeartbeat(t *testing.T) {
	client := testRedis(t)
	registry := NewRegistry(client, time.Second)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, PeerInfo{
		AgentID:   "chat-ttl",
		AgentType: "chat",
		Status:    "running",
	}))

	assert.Eventually(t, func() bool {
		peers, err := registry.ListPeers(ctx)
		return err == nil && len(peers) == 0
	}, 3*time.Second, 100*time.Millisecond, "an unrefreshed entry must expire")
}
