package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/logging"
)

const peerKeyPrefix = "agentrelay:peer:"

// PeerInfo describes one registered agent process
type PeerInfo struct {
	AgentID       string    `json:"agent_id"`
	AgentType     string    `json:"agent_type"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Registry tracks live agents in Redis. Each agent registers under a keyed
// entry with a TTL; a missed heartbeat lets the entry expire, which is how
// peers become unreachable.
type Registry struct {
	redis  *RedisClient
	ttl    time.Duration
	logger *logging.Logger
}

// NewRegistry creates a peer registry. ttl should be a small multiple of the
// heartbeat interval.
func NewRegistry(redisClient *RedisClient, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}

	return &Registry{
		redis:  redisClient,
		ttl:    ttl,
		logger: logging.GetLogger(),
	}
}

// Register announces an agent, creating or refreshing its entry
func (r *Registry) Register(ctx context.Context, info PeerInfo) error {
	info.LastHeartbeat = time.Now()

	payload, err := json.Marshal(info)
	if err != nil {
		return errors.NewInternalError("failed to encode peer info").WithCause(err)
	}

	if err := r.redis.Client().Set(ctx, peerKeyPrefix+info.AgentID, payload, r.ttl).Err(); err != nil {
		return errors.NewUpstreamError("broker", "failed to register peer").WithCause(err)
	}
	return nil
}

// Heartbeat refreshes an agent's entry and TTL
func (r *Registry) Heartbeat(ctx context.Context, info PeerInfo) error {
	return r.Register(ctx, info)
}

// Deregister removes an agent's entry
func (r *Registry) Deregister(ctx context.Context, agentID string) error {
	if err := r.redis.Client().Del(ctx, peerKeyPrefix+agentID).Err(); err != nil {
		return errors.NewUpstreamError("broker", "failed to deregister peer").WithCause(err)
	}
	return nil
}

// ListPeers returns all currently registered agents
func (r *Registry) ListPeers(ctx context.Context) ([]PeerInfo, error) {
	keys, err := r.redis.Client().Keys(ctx, peerKeyPrefix+"*").Result()
	if err != nil {
		return nil, errors.NewUpstreamError("broker", "failed to list peers").WithCause(err)
	}

	peers := make([]PeerInfo, 0, len(keys))
	for _, key := range keys {
		payload, err := r.redis.Client().Get(ctx, key).Result()
		if err != nil {
			// Entry expired between KEYS and GET.
			continue
		}

		var info PeerInfo
		if err := json.Unmarshal([]byte(payload), &info); err != nil {
			r.logger.Warn("Dropping malformed peer entry", "key", key, "error", err.Error())
			continue
		}
		peers = append(peers, info)
	}
	return peers, nil
}

// ReachablePeers reports how many registered peers have a live entry. It
// satisfies the health peer checker interface.
func (r *Registry) ReachablePeers(ctx context.Context) (int, int, error) {
	peers, err := r.ListPeers(ctx)
	if err != nil {
		return 0, 0, err
	}

	reachable := 0
	for _, peer := range peers {
		if peer.Status == "running" {
			reachable++
		}
	}
	return reachable, len(peers), nil
}
