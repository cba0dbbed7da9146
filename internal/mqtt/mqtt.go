// Package mqtt wraps the paho MQTT client for the position feed and alert
// publishing.
package mqtt

import (
	"context"
	"time"
)

// MessageHandler receives messages for a subscription
type MessageHandler func(topic string, payload []byte)

// Client defines the MQTT operations SafeTrack uses.
type Client interface {
	// Connect resolves the broker and connects, failing when ctx expires first.
	Connect(ctx context.Context) error

	// Publish sends payload to topic and waits for the broker acknowledgement.
	Publish(ctx context.Context, topic string, payload string) error

	// Subscribe registers handler for topic. Subscriptions are restored
	// automatically after a reconnect.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error

	// Unsubscribe removes the subscription for topic.
	Unsubscribe(ctx context.Context, topic string) error

	// IsConnected reports whether the client currently holds a connection.
	IsConnected() bool

	// Disconnect closes the connection.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	QoS               byte
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
	MaxReconnectDelay time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		QoS:               1,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
		MaxReconnectDelay: 2 * time.Minute,
	}
}
