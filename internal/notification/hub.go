package notification

import (
	"sync"

	"formation-review/internal/common/metrics"
)

// Client is one live connection subscribed under its user's id.
type Client struct {
	userID string
	send   chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *Client) UserID() string { return c.userID }

// Send exposes the outbound queue to the connection writer. It is closed
// when the client is unsubscribed.
func (c *Client) Send() <-chan []byte { return c.send }

// deliver queues msg without blocking. It returns false when the client is
// closed or its buffer is full.
func (c *Client) deliver(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// Hub is the process-wide registry of live subscribers keyed by recipient id.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	sendBuffer int
}

func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 16
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		sendBuffer: sendBuffer,
	}
}

// Subscribe registers a new connection for userID.
func (h *Hub) Subscribe(userID string) *Client {
	c := &Client{userID: userID, send: make(chan []byte, h.sendBuffer)}

	h.mu.Lock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	metrics.LiveConnections.Inc()
	return c
}

// Unsubscribe removes c and closes its queue. Safe to call more than once.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()

	if c.close() {
		metrics.LiveConnections.Dec()
	}
}

// Publish delivers msg to every connection of recipientID and returns how
// many accepted it. Connections with a full buffer are dropped.
func (h *Hub) Publish(recipientID string, msg []byte) int {
	var delivered int
	var slow []*Client

	h.mu.RLock()
	for c := range h.clients[recipientID] {
		if c.deliver(msg) {
			delivered++
		} else {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.Unsubscribe(c)
	}
	return delivered
}

// Subscribers returns the number of live connections of userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		if c.close() {
			metrics.LiveConnections.Dec()
		}
	}
}
