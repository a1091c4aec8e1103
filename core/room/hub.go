package room

import (
	"context"
	"errors"
	"sync"

	"cotowatch/logger"
	"cotowatch/metrics"
)

var ErrHubStopped = errors.New("room hub stopped")

// Broker relays published payloads between processes. Run delivers payloads
// published by other instances; it must not echo this instance's own publishes.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Run(ctx context.Context, deliver func(topic string, payload []byte)) error
}

type broadcastMessage struct {
	topic   string
	payload []byte
}

// Hub fans payloads out to the clients subscribed to a topic. A single loop
// applies every broadcast, so subscribers of a topic see payloads in publish order.
type Hub struct {
	topics map[string]map[*Client]struct{}
	// topic:userID -> client; one connection per signed-in user per room
	byUser map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	broker Broker

	mu       sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
}

func NewHub(broker Broker) *Hub {
	return &Hub{
		topics:     make(map[string]map[*Client]struct{}),
		byUser:     make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 1024),
		broker:     broker,
		done:       make(chan struct{}),
	}
}

// Run processes subscriptions and broadcasts until ctx ends or Stop is called.
func (h *Hub) Run(ctx context.Context) {
	if h.broker != nil {
		go func() {
			err := h.broker.Run(ctx, func(topic string, payload []byte) {
				h.enqueueLocal(ctx, topic, payload)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("room broker stopped", logger.ErrorField(err))
			}
		}()
	}

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client, false)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-ctx.Done():
			h.Stop()
			h.cleanup()
			return

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Subscribe adds client to its room topic. An older connection of the same
// signed-in user is closed and marked replaced.
func (h *Hub) Subscribe(ctx context.Context, client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe removes client and closes its queue. Unknown clients are ignored.
func (h *Hub) Unsubscribe(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish delivers payload to local subscribers of topic and, when a broker is
// configured, to other instances.
func (h *Hub) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := h.enqueueLocal(ctx, topic, payload); err != nil {
		return err
	}
	if h.broker != nil {
		if err := h.broker.Publish(ctx, topic, payload); err != nil {
			logger.Warn("failed to relay room message",
				logger.String("topic", topic),
				logger.ErrorField(err))
		}
	}
	return nil
}

func (h *Hub) enqueueLocal(ctx context.Context, topic string, payload []byte) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.broadcast <- &broadcastMessage{topic: topic, payload: payload}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseTopic disconnects every client of topic.
func (h *Hub) CloseTopic(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.topics[topic] {
		h.removeClient(client, false)
	}
}

// SubscriberCount returns the number of local clients on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topic := client.topic()
	if key := client.userKey(); key != "" {
		if old, ok := h.byUser[key]; ok && old != client {
			h.removeClient(old, true)
			logger.Info("replaced duplicate room connection",
				logger.Int64("room", client.RoomID),
				logger.Int64("user", client.User.ID))
		}
		h.byUser[key] = client
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]struct{})
	}
	h.topics[topic][client] = struct{}{}

	logger.Debug("client subscribed",
		logger.String("topic", topic),
		logger.String("client", client.ID))
}

// removeClient must be called with h.mu held. It reports whether client was subscribed.
func (h *Hub) removeClient(client *Client, replaced bool) bool {
	topic := client.topic()
	found := false
	if clients, ok := h.topics[topic]; ok {
		if _, ok := clients[client]; ok {
			found = true
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	if key := client.userKey(); key != "" && h.byUser[key] == client {
		delete(h.byUser, key)
	}
	client.close(replaced)
	return found
}

func (h *Hub) deliver(msg *broadcastMessage) {
	h.mu.RLock()
	clients := h.topics[msg.topic]
	list := make([]*Client, 0, len(clients))
	for client := range clients {
		list = append(list, client)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range list {
		if !client.enqueue(msg.payload) {
			slow = append(slow, client)
		}
	}
	if len(slow) == 0 {
		return
	}

	h.mu.Lock()
	for _, client := range slow {
		if !h.removeClient(client, false) {
			continue
		}
		metrics.RoomDroppedClients.Inc()
		logger.Warn("dropped slow room client",
			logger.String("topic", msg.topic),
			logger.String("client", client.ID))
	}
	h.mu.Unlock()
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.topics {
		for client := range clients {
			client.close(false)
		}
	}
	h.topics = make(map[string]map[*Client]struct{})
	h.byUser = make(map[string]*Client)
}
