package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/internal/broker"
	"github.com/agentrelay/agentrelay/pkg/call"
	"github.com/agentrelay/agentrelay/pkg/config"
	apperrors "github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/resilience"
)

type fakeHandler struct {
	handleFn  func(ctx context.Context, req *Request) (interface{}, error)
	handled   int
	cleanups  int
	cleanupFn func(ctx context.Context) error
	topics    []string
	onMessage func(ctx context.Context, m *call.Message)
}

func (f *fakeHandler) Type() string { return "fake" }

func (f *fakeHandler) Handle(ctx context.Context, req *Request) (interface{}, error) {
	f.handled++
	if f.handleFn != nil {
		return f.handleFn(ctx, req)
	}
	return map[string]interface{}{"ok": true}, nil
}

func (f *fakeHandler) Subscriptions() []string { return f.topics }

func (f *fakeHandler) OnMessage(ctx context.Context, m *call.Message) {
	if f.onMessage != nil {
		f.onMessage(ctx, m)
	}
}

func (f *fakeHandler) Cleanup(ctx context.Context) error {
	f.cleanups++
	if f.cleanupFn != nil {
		return f.cleanupFn(ctx)
	}
	return nil
}

func newTestManager(t *testing.T, handler Handler) *Manager {
	t.Helper()
	// Zero intervals disable the scheduler's timers.
	mgr := NewManager("fake", handler, Clients{}, nil, nil, nil, ManagerConfig{
		AgentID: "fake-test",
	})
	t.Cleanup(func() {
		mgr.Shutdown(context.Background())
	})
	return mgr
}

func validRequest() *Request {
	return &Request{
		ID:            "req-1",
		Timestamp:     time.Now(),
		CorrelationID: "corr-1",
		Payload:       map[string]interface{}{"message": "hello"},
	}
}

func TestManager_RejectsRequestsBeforeInitialize(t *testing.T) {
	handler := &fakeHandler{}
	mgr := newTestManager(t, handler)

	_, err := mgr.ProcessRequest(context.Background(), validRequest())

	require.Error(t, err)
	assert.Equal(t, 0, handler.handled)
	assert.Equal(t, StatusInitializing, mgr.Status())
}

func TestManager_InitializeTransitionsToRunning(t *testing.T) {
	mgr := newTestManager(t, &fakeHandler{})

	events := mgr.Events().Subscribe(4)

	require.NoError(t, mgr.Initialize(context.Background()))
	assert.Equal(t, StatusRunning, mgr.Status())

	// Initialize again is a no-op.
	require.NoError(t, mgr.Initialize(context.Background()))

	select {
	case event := <-events:
		change, ok := event.(StateChangedEvent)
		require.True(t, ok)
		assert.Equal(t, StatusRunning, change.To)
	case <-time.After(time.Second):
		t.Fatal("expected a state change event")
	}
}

func TestManager_ProcessRequestValidatesFirst(t *testing.T) {
	handler := &fakeHandler{}
	mgr := newTestManager(t, handler)
	require.NoError(t, mgr.Initialize(context.Background()))

	_, err := mgr.ProcessRequest(context.Background(), &Request{
		ID:        "req-1",
		Timestamp: time.Now(),
		// missing correlation id and payload
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	assert.Equal(t, 0, handler.handled)
}

func TestManager_ProcessRequestReturnsNormalizedResponse(t *testing.T) {
	mgr := newTestManager(t, &fakeHandler{})
	require.NoError(t, mgr.Initialize(context.Background()))

	req := validRequest()
	resp, err := mgr.ProcessRequest(context.Background(), req)

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, req.ID, resp.RequestID)
	assert.NotEmpty(t, resp.ID)
	assert.NotNil(t, resp.Data)
}

func TestManager_TracksErrorRateAndAverages(t *testing.T) {
	fail := false
	handler := &fakeHandler{
		handleFn: func(ctx context.Context, req *Request) (interface{}, error) {
			if fail {
				return nil, apperrors.NewUpstreamError("ai", "down")
			}
			return "ok", nil
		},
	}
	mgr := newTestManager(t, handler)
	require.NoError(t, mgr.Initialize(context.Background()))

	for i := 0; i < 3; i++ {
		_, err := mgr.ProcessRequest(context.Background(), validRequest())
		require.NoError(t, err)
	}
	fail = true
	resp, err := mgr.ProcessRequest(context.Background(), validRequest())
	require.Error(t, err)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	state := mgr.State()
	assert.Equal(t, int64(4), state.Metrics.RequestsProcessed)
	assert.InDelta(t, 0.25, state.Metrics.ErrorRate, 0.001)
	assert.Greater(t, state.Metrics.Uptime, time.Duration(0))
	require.Len(t, state.RecentErrors, 1)
	assert.Contains(t, state.RecentErrors[0].Message, "down")
}

func TestManager_RecentErrorsAreBounded(t *testing.T) {
	handler := &fakeHandler{
		handleFn: func(ctx context.Context, req *Request) (interface{}, error) {
			return nil, apperrors.NewUpstreamError("ai", "down")
		},
	}
	mgr := NewManager("fake", handler, Clients{}, nil, nil, nil, ManagerConfig{
		RecentErrorsLimit: 3,
	})
	defer mgr.Shutdown(context.Background())
	require.NoError(t, mgr.Initialize(context.Background()))

	for i := 0; i < 10; i++ {
		mgr.ProcessRequest(context.Background(), validRequest())
	}

	assert.Len(t, mgr.State().RecentErrors, 3)
}

func TestManager_ShutdownIsIdempotent(t *testing.T) {
	mgr := newTestManager(t, &fakeHandler{})
	require.NoError(t, mgr.Initialize(context.Background()))

	require.NoError(t, mgr.Shutdown(context.Background()))
	assert.Equal(t, StatusStopped, mgr.Status())
	require.NoError(t, mgr.Shutdown(context.Background()))

	_, err := mgr.ProcessRequest(context.Background(), validRequest())
	require.Error(t, err)
}

func TestManager_ShutdownRunsHandlerCleanup(t *testing.T) {
	handler := &fakeHandler{}
	mgr := newTestManager(t, handler)
	require.NoError(t, mgr.Initialize(context.Background()))

	require.NoError(t, mgr.Shutdown(context.Background()))
	assert.Equal(t, 1, handler.cleanups)

	// A second shutdown is a no-op and must not run cleanup again.
	require.NoError(t, mgr.Shutdown(context.Background()))
	assert.Equal(t, 1, handler.cleanups)
}

func TestManager_HandlerCleanupErrorDoesNotFailShutdown(t *testing.T) {
	handler := &fakeHandler{
		cleanupFn: func(ctx context.Context) error {
			return apperrors.NewInternalError("cleanup failed")
		},
	}
	mgr := newTestManager(t, handler)
	require.NoError(t, mgr.Initialize(context.Background()))

	require.NoError(t, mgr.Shutdown(context.Background()))
	assert.Equal(t, 1, handler.cleanups)
	assert.Equal(t, StatusStopped, mgr.Status())
}

func TestManager_ShutdownStopsPeerDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client, err := broker.NewRedisClient(&config.RedisConfig{
		Host:     "localhost",
		Port:     6379,
		DB:       15,
		PoolSize: 4,
	})
	if err != nil {
		t.Skipf("Redis not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	hub := broker.NewHub(client)
	t.Cleanup(func() {
		hub.Close()
	})

	received := make(chan *call.Message, 4)
	handler := &fakeHandler{
		topics: []string{"fake.peer"},
		onMessage: func(ctx context.Context, m *call.Message) {
			received <- m
		},
	}
	mgr := NewManager("fake", handler, Clients{}, hub, nil, nil, ManagerConfig{
		AgentID: "fake-peer-test",
	})
	require.NoError(t, mgr.Initialize(context.Background()))

	require.NoError(t, hub.Publish(context.Background(), &call.Message{
		ID:          "m-1",
		Timestamp:   time.Now(),
		SourceAgent: "peer-1",
		Topic:       "fake.peer",
		MessageType: "ping",
		Payload:     "hi",
	}))
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("expected peer delivery while running")
	}

	require.NoError(t, mgr.Shutdown(context.Background()))

	require.NoError(t, hub.Publish(context.Background(), &call.Message{
		ID:          "m-2",
		Timestamp:   time.Now(),
		SourceAgent: "peer-1",
		Topic:       "fake.peer",
		MessageType: "ping",
		Payload:     "late",
	}))
	select {
	case <-received:
		t.Fatal("no peer message may reach the handler after shutdown")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestManager_DefaultAgentIDDerivedFromType(t *testing.T) {
	mgr := NewManager("chat", &fakeHandler{}, Clients{}, nil, nil, nil, ManagerConfig{})
	defer mgr.Shutdown(context.Background())

	assert.Contains(t, mgr.AgentID(), "chat-")
	assert.Equal(t, "chat", mgr.AgentType())
}

func TestManager_BreakerStateChangeEmitsEvent(t *testing.T) {
	mgr := newTestManager(t, &fakeHandler{})
	events := mgr.Events().Subscribe(4)

	mgr.OnBreakerStateChange("chat.ai", resilience.StateClosed, resilience.StateOpen)

	select {
	case event := <-events:
		opened, ok := event.(BreakerOpenedEvent)
		require.True(t, ok)
		assert.Equal(t, "chat.ai", opened.Endpoint)
		assert.Equal(t, resilience.StateOpen, opened.To)
	case <-time.After(time.Second):
		t.Fatal("expected a breaker event")
	}
}
