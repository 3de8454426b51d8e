package domain

import (
	"context"
	"strings"
)

// EventBus moves records into the ingest worker and detected cases out to
// downstream consumers. The community tier runs on in-process channels, the
// pro tier on NATS.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe delivers every message whose topic matches pattern. A
	// pattern may use "*" for one dot-separated token and a trailing ">"
	// for the rest of the subject.
	Subscribe(ctx context.Context, pattern string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler consumes one message. A returned error is logged; the
// message is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope carried on every topic. Metadata holds the
// publishing service under "source" and, on event topics, the record
// category under "kind".
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is a live registration on the bus.
type Subscription interface {
	Unsubscribe() error

	// Topic returns the pattern the subscription was created with.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	Type string `koanf:"type" json:"type"` // channel | nats

	// per-subscription buffer for the channel bus
	ChannelBufferSize int `koanf:"channel_buffer_size" json:"channelBufferSize"`

	NATSUrl           string `koanf:"nats_url" json:"natsUrl"`
	NATSToken         string `koanf:"nats_token" json:"-"`
	NATSMaxReconnects int    `koanf:"nats_max_reconnects" json:"natsMaxReconnects"`
	NATSReconnectWait int    `koanf:"nats_reconnect_wait" json:"natsReconnectWait"` // seconds

	// NATSQueueGroup load-balances event topics across instances so each
	// record is evaluated once per cluster. Case topics always fan out.
	NATSQueueGroup string `koanf:"nats_queue_group" json:"natsQueueGroup"`
}

// Topic names. Event topics are suffixed with the record category.
const (
	TopicEventPrefix  = "fuelguard.event."
	TopicCaseDetected = "fuelguard.case.detected"
)

// EventTopic returns the ingestion topic for a record category.
func EventTopic(category string) string {
	return TopicEventPrefix + category
}

// IsEventTopic reports whether topic carries operational records.
func IsEventTopic(topic string) bool {
	return strings.HasPrefix(topic, TopicEventPrefix)
}
