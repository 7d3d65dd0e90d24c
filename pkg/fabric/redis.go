package fabric

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/finbase/stockpulse/pkg/log"
	"github.com/finbase/stockpulse/pkg/metrics"
)

// Redis is the external pub/sub fabric backend. A background receive loop
// dispatches messages from the redis subscription to registered callbacks.
type Redis struct {
	url string

	mu        sync.RWMutex
	client    *redis.Client
	pubsub    *redis.PubSub
	subs      map[string][]Callback
	connected bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedis creates a redis-backed fabric for the given URL
// (redis://host:port/db)
func NewRedis(url string) *Redis {
	return &Redis{
		url:  url,
		subs: make(map[string][]Callback),
	}
}

// Connect dials redis and starts the receive loop
func (r *Redis) Connect(ctx context.Context) error {
	opts, err := redis.ParseURL(r.url)
	if err != nil {
		return fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.client = client
	r.pubsub = client.Subscribe(loopCtx)
	r.ctx = loopCtx
	r.cancel = cancel
	r.done = make(chan struct{})
	r.connected = true
	pubsub := r.pubsub
	r.mu.Unlock()

	go r.receiveLoop(pubsub)
	return nil
}

// Disconnect stops the receive loop and closes the client
func (r *Redis) Disconnect() error {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return nil
	}
	r.connected = false
	cancel := r.cancel
	pubsub := r.pubsub
	client := r.client
	done := r.done
	r.mu.Unlock()

	cancel()
	_ = pubsub.Close()
	<-done
	return client.Close()
}

// IsConnected reports whether the client is connected
func (r *Redis) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// Publish sends the message on the given redis channel
func (r *Redis) Publish(topic string, message any) error {
	r.mu.RLock()
	client := r.client
	connected := r.connected
	r.mu.RUnlock()

	if !connected {
		return fmt.Errorf("fabric not connected")
	}

	data, err := encode(message)
	if err != nil {
		return err
	}
	if err := client.Publish(context.Background(), topic, data).Err(); err != nil {
		metrics.PublishFailures.WithLabelValues(topic).Inc()
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	metrics.MessagesPublished.WithLabelValues(topic).Inc()
	return nil
}

// Subscribe registers a callback and joins the redis channel
func (r *Redis) Subscribe(topic string, cb Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return fmt.Errorf("fabric not connected")
	}
	if err := r.pubsub.Subscribe(r.ctx, topic); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	r.subs[topic] = append(r.subs[topic], cb)
	return nil
}

// Unsubscribe leaves the redis channel and drops its callbacks
func (r *Redis) Unsubscribe(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return nil
	}
	if err := r.pubsub.Unsubscribe(r.ctx, topic); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", topic, err)
	}
	delete(r.subs, topic)
	return nil
}

func (r *Redis) receiveLoop(pubsub *redis.PubSub) {
	defer close(r.done)
	logger := log.WithComponent("fabric")

	for msg := range pubsub.Channel() {
		r.mu.RLock()
		cbs := append([]Callback(nil), r.subs[msg.Channel]...)
		r.mu.RUnlock()

		for _, cb := range cbs {
			cb(msg.Channel, []byte(msg.Payload))
		}
		logger.Debug().Str("topic", msg.Channel).Int("subscribers", len(cbs)).Msg("message dispatched")
	}
}
