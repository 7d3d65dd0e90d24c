package fabric

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/finbase/stockpulse/pkg/log"
	"github.com/finbase/stockpulse/pkg/metrics"
)

// BroadcastFunc is the single host-registered callback the socket backend
// invokes for every published envelope, letting the embedding process relay
// messages to subscribers it manages itself.
type BroadcastFunc func(env Envelope)

// SocketHub is the broadcast-socket fabric backend. Published messages fan
// out to the registered broadcast callback and to every attached websocket
// client. Slow clients are dropped rather than blocking publishers.
type SocketHub struct {
	mu        sync.RWMutex
	broadcast BroadcastFunc
	subs      map[string][]Callback
	clients   map[*wsClient]bool
	upgrader  websocket.Upgrader
	connected bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan Envelope
}

// NewSocketHub creates a broadcast-socket fabric
func NewSocketHub() *SocketHub {
	return &SocketHub{
		subs:    make(map[string][]Callback),
		clients: make(map[*wsClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetBroadcast registers the host broadcast callback. Only one callback is
// held; a later registration replaces the earlier one.
func (h *SocketHub) SetBroadcast(fn BroadcastFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcast = fn
}

// Connect marks the hub ready
func (h *SocketHub) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = true
	return nil
}

// Disconnect closes all websocket clients and drops subscriptions
func (h *SocketHub) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = false
	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
	}
	h.clients = make(map[*wsClient]bool)
	h.subs = make(map[string][]Callback)
	return nil
}

// IsConnected reports whether Connect has been called
func (h *SocketHub) IsConnected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connected
}

// Publish fans the message out to the broadcast callback, local
// subscribers, and websocket clients
func (h *SocketHub) Publish(topic string, message any) error {
	data, err := encode(message)
	if err != nil {
		return err
	}
	env := Envelope{Topic: topic, Payload: data, Timestamp: time.Now()}

	h.mu.RLock()
	broadcast := h.broadcast
	cbs := h.subs[topic]
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if broadcast != nil {
		broadcast(env)
	}
	for _, cb := range cbs {
		cb(topic, data)
	}
	for _, c := range clients {
		select {
		case c.send <- env:
		default:
			// Client buffer full, skip
			metrics.PublishFailures.WithLabelValues(topic).Inc()
		}
	}
	metrics.MessagesPublished.WithLabelValues(topic).Inc()
	return nil
}

// Subscribe registers a local callback for the topic
func (h *SocketHub) Subscribe(topic string, cb Callback) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[topic] = append(h.subs[topic], cb)
	return nil
}

// Unsubscribe removes all local callbacks for the topic
func (h *SocketHub) Unsubscribe(topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, topic)
	return nil
}

// ServeWS upgrades an HTTP request to a websocket client attached to the hub
func (h *SocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("fabric").Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan Envelope, 64)}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go h.writeLoop(client)
	go h.readLoop(client)
}

func (h *SocketHub) writeLoop(c *wsClient) {
	for env := range c.send {
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.drop(c)
			return
		}
	}
}

// readLoop discards inbound frames and detects disconnects
func (h *SocketHub) readLoop(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *SocketHub) drop(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

// ClientCount returns the number of attached websocket clients
func (h *SocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
