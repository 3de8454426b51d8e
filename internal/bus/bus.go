// Package bus carries operational records and detected cases between
// FuelGuard components: in-process channels in the community tier, NATS in
// the pro tier. Topics are dot-separated subjects; subscriptions may use the
// NATS wildcards "*" (one token) and ">" (one or more trailing tokens).
package bus

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// New creates the event bus selected by cfg.Type.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// newMessage wraps payload in the envelope shared by both transports.
func newMessage(topic string, payload []byte) *domain.Message {
	meta := map[string]string{"source": "fuelguard"}
	if domain.IsEventTopic(topic) {
		meta["kind"] = strings.TrimPrefix(topic, domain.TopicEventPrefix)
	}
	return &domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  meta,
		Timestamp: time.Now().UnixNano(),
	}
}

// Match reports whether topic matches the subscription pattern.
func Match(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if !strings.ContainsAny(pattern, "*>") {
		return false
	}

	p := strings.Split(pattern, ".")
	t := strings.Split(topic, ".")
	for i, tok := range p {
		switch {
		case tok == ">":
			return i == len(p)-1 && len(t) > i
		case i >= len(t):
			return false
		case tok != "*" && tok != t[i]:
			return false
		}
	}
	return len(p) == len(t)
}

func validPattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("topic is required")
	}
	toks := strings.Split(pattern, ".")
	for i, tok := range toks {
		if tok == "" {
			return fmt.Errorf("topic %q has an empty token", pattern)
		}
		if tok == ">" && i != len(toks)-1 {
			return fmt.Errorf("topic %q: '>' must be the last token", pattern)
		}
	}
	return nil
}
