// Package progress implements the per-batch/per-epoch progress surface of
// spec.md §6 and broadcasts it to external dashboards over WebSocket,
// grounded on akwiatkowski-battery_storage_simulator's internal/ws hub
// (register/unregister/broadcast over a mutex-guarded client set, one
// buffered send channel per client, a writePump goroutine per client).
package progress

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Envelope is the wire message every broadcast carries: a type tag plus a
// type-specific JSON payload, the same discriminated-union shape the
// example hub's messages use.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	TypeBatch = "batch"
	TypeEpoch = "epoch"
)

// BatchPayload reports per-batch progress: processed samples out of the
// current epoch's total.
type BatchPayload struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// EpochPayload reports a completed epoch's evaluation, spec.md §6's
// "epoch index, dataset cost, accuracy".
type EpochPayload struct {
	Epoch    int     `json:"epoch"`
	Cost     float32 `json:"cost"`
	Accuracy float32 `json:"accuracy"`
}

func newEnvelope(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Payload: raw})
}

// Client is one connected WebSocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected clients and fans a broadcast message out to all of
// them, dropping it for any client whose send buffer is full rather than
// blocking the trainer goroutine that triggered the broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]bool)}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast sends msg to every connected client.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Printf("progress: client send buffer full, dropping message")
		}
	}
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		// The progress feed is one-directional; inbound frames are only
		// read to notice disconnects and keep the connection alive.
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades incoming HTTP requests to WebSocket connections and
// registers them on a Hub.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("progress: websocket upgrade error: %v", err)
		return
	}
	c := &Client{hub: h.hub, conn: conn, send: make(chan []byte, 256)}
	h.hub.register(c)
	go c.writePump()
	c.readPump()
}

// Broadcaster adapts a Hub into the two callback shapes
// internal/trainer.Config expects (OnBatch, OnEpoch), JSON-encoding each
// event as an Envelope before fanning it out.
type Broadcaster struct {
	hub *Hub
}

func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// OnBatch matches trainer.Config.OnBatch's signature.
func (b *Broadcaster) OnBatch(processed, total int) {
	msg, err := newEnvelope(TypeBatch, BatchPayload{Processed: processed, Total: total})
	if err != nil {
		log.Printf("progress: encode batch event: %v", err)
		return
	}
	b.hub.Broadcast(msg)
}

// OnEpoch matches trainer.Config.OnEpoch's signature.
func (b *Broadcaster) OnEpoch(epoch int, cost, accuracy float32) {
	msg, err := newEnvelope(TypeEpoch, EpochPayload{Epoch: epoch, Cost: cost, Accuracy: accuracy})
	if err != nil {
		log.Printf("progress: encode epoch event: %v", err)
		return
	}
	b.hub.Broadcast(msg)
}
