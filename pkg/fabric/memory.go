package fabric

import (
	"context"
	"sync"

	"github.com/finbase/stockpulse/pkg/metrics"
)

// Memory is the in-process fabric backend. Callbacks are invoked
// synchronously under a read lock in publication order; used for tests,
// development, and single-process deployments.
type Memory struct {
	mu        sync.RWMutex
	subs      map[string][]Callback
	connected bool
}

// NewMemory creates an in-process fabric
func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]Callback)}
}

// Connect marks the fabric ready
func (m *Memory) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Disconnect drops all subscriptions
func (m *Memory) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.subs = make(map[string][]Callback)
	return nil
}

// IsConnected reports whether Connect has been called
func (m *Memory) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Publish delivers the message to every subscriber of the topic in order
func (m *Memory) Publish(topic string, message any) error {
	data, err := encode(message)
	if err != nil {
		return err
	}

	m.mu.RLock()
	cbs := m.subs[topic]
	m.mu.RUnlock()

	for _, cb := range cbs {
		cb(topic, data)
	}
	metrics.MessagesPublished.WithLabelValues(topic).Inc()
	return nil
}

// Subscribe registers a callback for the topic
func (m *Memory) Subscribe(topic string, cb Callback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[topic] = append(m.subs[topic], cb)
	return nil
}

// Unsubscribe removes all callbacks for the topic
func (m *Memory) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, topic)
	return nil
}
