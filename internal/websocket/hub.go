package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tournament-registry/internal/domain"
)

// Message types
const (
	MessageTypePlayersUpdated  = "players_updated"
	MessageTypeCategoryUpdated = "category_updated"
	MessageTypeSubscribe       = "subscribe"
	MessageTypeUnsubscribe     = "unsubscribe"
	MessageTypeSubscribed      = "subscribed"
	MessageTypeUnsubscribed    = "unsubscribed"
	MessageTypePing            = "ping"
	MessageTypePong            = "pong"
	MessageTypeError           = "error"
)

// Message is the envelope of every frame sent to clients
type Message struct {
	Type       string            `json:"type"`
	CategoryID domain.CategoryID `json:"category_id,omitempty"`
	Data       interface{}       `json:"data,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// PlayersUpdate summarises a refresh for every connected client
type PlayersUpdate struct {
	TotalPlayers int                    `json:"total_players"`
	ByCategory   []domain.CategoryCount `json:"by_category"`
	LastUpdated  time.Time              `json:"last_updated"`
	Warning      string                 `json:"warning,omitempty"`
}

// CategoryUpdate carries the full player list of one category
type CategoryUpdate struct {
	CategoryID domain.CategoryID `json:"category_id"`
	Players    []domain.Player   `json:"players"`
}

// Hub tracks connected clients and their category subscriptions
type Hub struct {
	// subscribers by category
	clients map[domain.CategoryID]map[*Client]bool

	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client     *Client
	categoryID domain.CategoryID
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[domain.CategoryID]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run processes hub events until Stop is called
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("websocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for id, subs := range h.clients {
					delete(subs, client)
					if len(subs) == 0 {
						delete(h.clients, id)
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.categoryID]; !ok {
				h.clients[req.categoryID] = make(map[*Client]bool)
			}
			h.clients[req.categoryID][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "category", req.categoryID)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if subs, ok := h.clients[req.categoryID]; ok {
				delete(subs, req.client)
				if len(subs) == 0 {
					delete(h.clients, req.categoryID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "category", req.categoryID)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// deliver sends category messages to that category's subscribers and
// everything else to all clients.
func (h *Hub) deliver(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	targets := h.allClients
	if message.CategoryID != "" {
		targets = h.clients[message.CategoryID]
	}
	for client := range targets {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type)
	}
}

// BroadcastPlayersUpdated announces a refreshed player list. All clients get
// the per-category counts; subscribers of a category also get its players.
func (h *Hub) BroadcastPlayersUpdated(snapshot domain.PlayersSnapshot) {
	now := time.Now()
	perCategory := make(map[domain.CategoryID][]domain.Player, len(domain.Categories))
	for _, p := range snapshot.Players {
		for _, c := range p.Categories {
			perCategory[c] = append(perCategory[c], p)
		}
	}

	counts := make([]domain.CategoryCount, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		counts = append(counts, domain.CategoryCount{CategoryID: c.ID, Label: c.Label, Count: len(perCategory[c.ID])})
	}

	h.enqueue(&Message{
		Type: MessageTypePlayersUpdated,
		Data: PlayersUpdate{
			TotalPlayers: len(snapshot.Players),
			ByCategory:   counts,
			LastUpdated:  snapshot.LastUpdated,
			Warning:      snapshot.Warning,
		},
		Timestamp: now,
	})

	for _, c := range domain.Categories {
		if h.GetSubscriberCount(c.ID) == 0 {
			continue
		}
		players := perCategory[c.ID]
		if players == nil {
			players = []domain.Player{}
		}
		h.enqueue(&Message{
			Type:       MessageTypeCategoryUpdated,
			CategoryID: c.ID,
			Data:       CategoryUpdate{CategoryID: c.ID, Players: players},
			Timestamp:  now,
		})
	}
}

// Register adds a client to the hub. Calls after Stop are dropped.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a category's subscribers
func (h *Hub) Subscribe(client *Client, id domain.CategoryID) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, categoryID: id}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a category's subscribers
func (h *Hub) Unsubscribe(client *Client, id domain.CategoryID) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, categoryID: id}:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of subscribers of a category
func (h *Hub) GetSubscriberCount(id domain.CategoryID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[id])
}

// GetTotalConnections returns the number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
