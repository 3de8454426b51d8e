package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

var errClosed = errors.New("bus is closed")

// ChannelBus is the in-process community-tier bus. Every subscription owns
// a buffered channel drained by its own goroutine, so a slow consumer
// never blocks a publisher: when its buffer is full the message is dropped
// for that subscriber only.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	subs       map[string]*channelSubscription
	closed     bool

	published atomic.Int64
	dropped   atomic.Int64
}

type channelSubscription struct {
	id      string
	pattern string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a bus whose subscriptions buffer bufferSize messages.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		subs:       make(map[string]*channelSubscription),
	}
}

// Publish delivers payload to every subscription whose pattern matches topic.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" || strings.ContainsAny(topic, "*>") {
		return fmt.Errorf("invalid publish topic %q", topic)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}

	msg := newMessage(topic, payload)
	b.published.Add(1)

	for _, sub := range b.subs {
		if !Match(sub.pattern, topic) {
			continue
		}
		select {
		case sub.msgCh <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("subscriber buffer full, message dropped",
				"topic", topic,
				"pattern", sub.pattern,
				"subscription", sub.id,
			)
		}
	}
	return nil
}

// Subscribe registers handler for every topic matching pattern.
func (b *ChannelBus) Subscribe(ctx context.Context, pattern string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := validPattern(pattern); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.NewString(),
		pattern: pattern,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}
	b.subs[sub.id] = sub

	go sub.run()
	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Warn("message handler failed",
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Published returns how many messages were accepted.
func (b *ChannelBus) Published() int64 {
	return b.published.Load()
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	return nil
}

// Close stops every subscription. Buffered messages are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.cancel()
	}
	b.subs = make(map[string]*channelSubscription)
	return nil
}

func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.pattern
}
