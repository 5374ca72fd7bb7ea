package broker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/agentrelay/agentrelay/pkg/call"
	"github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/logging"
)

const topicPrefix = "agentrelay:topic:"

// MessageHandler consumes one inbound peer message
type MessageHandler func(ctx context.Context, msg *call.Message)

// Hub is the Redis pub/sub peer-messaging fabric. It implements
// call.MessageTransport on the publish side; subscriptions run one reader
// goroutine per topic until the hub closes.
type Hub struct {
	redis  *RedisClient
	logger *logging.Logger

	mutex   sync.Mutex
	subs    []*Subscription
	closed  bool
	readers sync.WaitGroup
}

// Subscription is the handle for one topic subscription. Closing it stops the
// reader goroutine and message delivery for that topic without touching the
// hub's other subscriptions.
type Subscription struct {
	topic string
	hub   *Hub
	sub   *redis.PubSub
	once  sync.Once
}

// Topic returns the subscribed topic name
func (s *Subscription) Topic() string {
	return s.topic
}

// Close stops delivery for this subscription. Idempotent.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.hub.remove(s)
		err = s.sub.Close()
	})
	return err
}

// NewHub creates a peer-messaging hub over an established Redis connection
func NewHub(redisClient *RedisClient) *Hub {
	return &Hub{
		redis:  redisClient,
		logger: logging.GetLogger(),
	}
}

// Publish sends one message to its topic channel. Fire-and-forget: delivery
// to subscribers is not awaited.
func (h *Hub) Publish(ctx context.Context, msg *call.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.NewValidationError("failed to encode peer message").WithCause(err)
	}

	if err := h.redis.Client().Publish(ctx, topicPrefix+msg.Topic, payload).Err(); err != nil {
		return errors.NewUpstreamError("broker", "failed to publish peer message").WithCause(err)
	}
	return nil
}

// Subscribe registers a handler for one topic and returns its handle. The
// handler runs on a dedicated reader goroutine until the handle or the hub is
// closed; malformed messages are logged and dropped.
func (h *Hub) Subscribe(ctx context.Context, topic string, handler MessageHandler) (*Subscription, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return nil, errors.NewInternalError("hub is closed")
	}

	sub := h.redis.Client().Subscribe(ctx, topicPrefix+topic)

	// Force the subscription onto the wire before returning so a publish
	// right after Subscribe is not lost.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, errors.NewUpstreamError("broker", "failed to subscribe to topic").WithCause(err)
	}

	handle := &Subscription{topic: topic, hub: h, sub: sub}
	h.subs = append(h.subs, handle)
	h.readers.Add(1)

	go func() {
		defer h.readers.Done()

		for redisMsg := range sub.Channel() {
			var msg call.Message
			if err := json.Unmarshal([]byte(redisMsg.Payload), &msg); err != nil {
				h.logger.Warn("Dropping malformed peer message",
					"topic", topic,
					"error", err.Error(),
				)
				continue
			}
			handler(ctx, &msg)
		}
	}()

	h.logger.Info("Subscribed to peer topic", "topic", topic)
	return handle, nil
}

func (h *Hub) remove(handle *Subscription) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for i, s := range h.subs {
		if s == handle {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return
		}
	}
}

// Close tears down all subscriptions and waits for readers to drain.
// Idempotent.
func (h *Hub) Close() error {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return nil
	}
	h.closed = true
	subs := h.subs
	h.subs = nil
	h.mutex.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() {
			sub.sub.Close()
		})
	}
	h.readers.Wait()
	return nil
}
