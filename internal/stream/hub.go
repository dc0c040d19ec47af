package stream

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Hub fans live position updates out to viewers subscribed by share
// token. Local websocket clients get the payload directly; Redis pub/sub
// carries it to viewers connected to other instances.
type Hub struct {
	redis   *redis.Client
	log     zerolog.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	Token string
	Send  chan []byte
}

func NewHub(redisClient *redis.Client, logger zerolog.Logger) *Hub {
	h := &Hub{
		redis:   redisClient,
		log:     logger.With().Str("module", "stream").Logger(),
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(token string) *Client {
	client := &Client{
		Token: token,
		Send:  make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[token] == nil {
		h.clients[token] = map[*Client]struct{}{}
	}
	h.clients[token][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tokenClients, ok := h.clients[client.Token]; ok {
		delete(tokenClients, client)
		if len(tokenClients) == 0 {
			delete(h.clients, client.Token)
		}
	}
	close(client.Send)
}

// Broadcast delivers a payload to every viewer of the token. Slow clients
// are skipped rather than blocking position flow.
func (h *Hub) Broadcast(token string, payload []byte) {
	h.mu.RLock()
	clients := h.clients[token]
	h.mu.RUnlock()

	for client := range clients {
		select {
		case client.Send <- payload:
		default:
		}
	}

	if h.redis != nil {
		err := h.redis.Publish(context.Background(), liveChannel(token), payload).Err()
		if err != nil {
			h.log.Warn().Err(err).Msg("redis publish failed")
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "tracking:*:live")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		token := tokenFromChannel(msg.Channel)
		h.mu.RLock()
		clients := h.clients[token]
		h.mu.RUnlock()
		for client := range clients {
			select {
			case client.Send <- []byte(msg.Payload):
			default:
			}
		}
	}
}

func liveChannel(token string) string {
	return "tracking:" + token + ":live"
}

func tokenFromChannel(ch string) string {
	// tracking:{token}:live
	const prefix = "tracking:"
	const suffix = ":live"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
