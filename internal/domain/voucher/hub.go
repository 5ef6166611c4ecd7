package voucher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/athwifi/voucher-api/internal/domain/plan"
)

// EventType of an inventory change.
type EventType string

const (
	EventClaimed  EventType = "claimed"
	EventImported EventType = "imported"
	EventPurged   EventType = "purged"
	EventSnapshot EventType = "snapshot"
)

// InventoryChannel carries inventory events between API instances.
const InventoryChannel = "vouchers:inventory"

// Event is a committed inventory change.
type Event struct {
	Type  EventType `json:"type"`
	Tier  plan.Tier `json:"tier,omitempty"`
	Count int       `json:"count,omitempty"`
	At    time.Time `json:"at"`
}

// Update is what admin sockets receive: the event plus a stock snapshot
// recomputed after it.
type Update struct {
	Event Event       `json:"event"`
	Stock []TierStock `json:"stock"`
}

// Client is one admin websocket.
type Client struct {
	Conn *websocket.Conn
	Send chan []byte
}

// Hub fans inventory events out to admin sockets. With Redis every
// instance hears every event; without it events stay local.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex

	redis  *redis.Client
	pubsub *redis.PubSub
	stock  func(ctx context.Context) ([]TierStock, error)

	register   chan *Client
	unregister chan *Client

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub. stock recomputes the snapshot sent with each update.
func NewHub(redisClient *redis.Client, stock func(ctx context.Context) ([]TierStock, error)) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		redis:      redisClient,
		stock:      stock,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
	}
	if redisClient != nil {
		h.pubsub = redisClient.Subscribe(ctx, InventoryChannel)
	}
	return h
}

// Run processes registrations until Close. Call it in a goroutine.
func (h *Hub) Run() {
	if h.pubsub != nil {
		go h.runRedisSubscriber()
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			log.Debug().Msg("Admin connected to inventory stream")
			go h.sendSnapshot(c)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.Send)
			}
			h.mu.Unlock()
			log.Debug().Msg("Admin disconnected from inventory stream")
		}
	}
}

func (h *Hub) runRedisSubscriber() {
	ch := h.pubsub.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warn().Err(err).Msg("Malformed inventory event")
				continue
			}
			h.broadcastLocal(event)
		}
	}
}

// Publish announces a committed change to every instance.
func (h *Hub) Publish(ctx context.Context, event Event) {
	if h.redis == nil {
		h.broadcastLocal(event)
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := h.redis.Publish(ctx, InventoryChannel, data).Err(); err != nil {
		log.Error().Err(err).Msg("Redis publish failed, broadcasting locally")
		h.broadcastLocal(event)
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) update(event Event) ([]byte, error) {
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()
	stock, err := h.stock(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Update{Event: event, Stock: stock})
}

func (h *Hub) broadcastLocal(event Event) {
	if h.clientCount() == 0 {
		return
	}
	data, err := h.update(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build inventory update")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.Send <- data:
		default:
			log.Warn().Msg("Inventory stream send buffer full")
		}
	}
}

func (h *Hub) sendSnapshot(c *Client) {
	data, err := h.update(Event{Type: EventSnapshot, At: time.Now().UTC()})
	if err != nil {
		log.Error().Err(err).Msg("Failed to build inventory snapshot")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Close stops the hub and its Redis subscription.
func (h *Hub) Close() {
	h.cancel()
	if h.pubsub != nil {
		_ = h.pubsub.Close()
	}
}
