package stream

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Hub fans status and path updates out to every live subscriber of a
// worker. Updates also go through redis pub/sub so subscribers attached
// to other instances receive them.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	WorkerID string
	Send     chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(workerID string) *Client {
	client := &Client{
		WorkerID: workerID,
		Send:     make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[workerID] == nil {
		h.clients[workerID] = map[*Client]struct{}{}
	}
	h.clients[workerID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if workerClients, ok := h.clients[client.WorkerID]; ok {
		delete(workerClients, client)
		if len(workerClients) == 0 {
			delete(h.clients, client.WorkerID)
		}
	}
	close(client.Send)
}

// Broadcast pushes one event to every subscriber of the worker. With
// Redis configured the event goes through pub/sub only; the pattern
// subscription delivers it to local clients exactly once, same as to
// clients on other instances.
func (h *Hub) Broadcast(workerID string, payload []byte) {
	if h.redis == nil {
		h.deliver(workerID, payload)
		return
	}
	err := h.redis.Publish(context.Background(), redisChannel(workerID), payload).Err()
	if err != nil {
		log.Printf("redis publish error: %v", err)
	}
}

func (h *Hub) deliver(workerID string, payload []byte) {
	h.mu.RLock()
	clients := h.clients[workerID]
	h.mu.RUnlock()

	// Slow subscribers drop messages rather than stall the broadcast.
	for client := range clients {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "workers:*:events")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		h.deliver(workerIDFromChannel(msg.Channel), []byte(msg.Payload))
	}
}

func redisChannel(workerID string) string {
	return "workers:" + workerID + ":events"
}

func workerIDFromChannel(ch string) string {
	// workers:{worker}:events
	const prefix = "workers:"
	const suffix = ":events"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
