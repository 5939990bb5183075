package messaging

import (
	"context"
	"time"
)

// Broker publishes and subscribes to named channels
type Broker interface {
	Publish(ctx context.Context, channel string, message Message) error
	Subscribe(ctx context.Context, channel string) (<-chan Message, error)
	Close() error
}

// Message is the envelope carried on every channel
type Message struct {
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}
