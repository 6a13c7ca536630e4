package stream

import (
	"context"
	"encoding/json"
	"sync"

	"backend-stridelink/internal/message"
	"backend-stridelink/internal/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Hub fans metrics snapshots and split events out to UI subscribers. Local
// subscribers get an in-process channel; redis pub/sub bridges instances.
// The core never renders anything itself.
type Hub struct {
	redis   *redis.Client
	log     *zap.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	SessionID string
	Send      chan []byte
}

// Frame is the wire shape pushed to UI subscribers.
type Frame struct {
	Type     string              `json:"type"` // "snapshot" | "split"
	Snapshot *metrics.Snapshot   `json:"snapshot,omitempty"`
	Split    *message.SplitEvent `json:"split,omitempty"`
}

func NewHub(redisClient *redis.Client, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		redis:   redisClient,
		log:     log,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionClients, ok := h.clients[client.SessionID]; ok {
		delete(sessionClients, client)
		if len(sessionClients) == 0 {
			delete(h.clients, client.SessionID)
		}
	}
	close(client.Send)
}

func (h *Hub) BroadcastSnapshot(snap metrics.Snapshot) {
	h.broadcast(snap.SessionID, Frame{Type: "snapshot", Snapshot: &snap})
}

func (h *Hub) BroadcastSplit(sessionID string, ev message.SplitEvent) {
	h.broadcast(sessionID, Frame{Type: "split", Split: &ev})
}

func (h *Hub) broadcast(sessionID string, frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := h.clients[sessionID]
	h.mu.RUnlock()

	for client := range clients {
		select {
		case client.Send <- payload:
		default:
		}
	}

	if h.redis != nil {
		if err := h.redis.Publish(context.Background(), redisChannel(sessionID), payload).Err(); err != nil {
			h.log.Warn("redis publish failed", zap.Error(err))
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "session:*:stream")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		sessionID := sessionIDFromChannel(msg.Channel)
		h.mu.RLock()
		clients := h.clients[sessionID]
		h.mu.RUnlock()
		for client := range clients {
			select {
			case client.Send <- []byte(msg.Payload):
			default:
			}
		}
	}
}

func redisChannel(sessionID string) string {
	return "session:" + sessionID + ":stream"
}

func sessionIDFromChannel(ch string) string {
	// session:{session}:stream
	const prefix = "session:"
	const suffix = ":stream"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
