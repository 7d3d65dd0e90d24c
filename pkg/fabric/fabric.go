package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Topics carried on the fabric
const (
	TopicProgress       = "task/progress"
	TopicStatus         = "task/status"
	TopicModuleStart    = "module/start"
	TopicModuleComplete = "module/complete"
	TopicModuleError    = "module/error"
)

// Callback receives messages delivered on a subscribed topic
type Callback func(topic string, payload []byte)

// Fabric is the pub/sub abstraction carrying progress and status events.
// Delivery is best-effort: no durability, at-least-once within a connected
// session, publication order preserved per topic and publisher.
type Fabric interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Publish(topic string, message any) error
	Subscribe(topic string, cb Callback) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Envelope wraps a payload for transports that multiplex topics over one
// connection (socket hub, redis receive loop).
type Envelope struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

func encode(message any) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}
