package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
)

const (
	publishTimeout       = 10 * time.Second
	publishRetryInterval = 20 * time.Millisecond
)

// InMemoryBus is a Go-channel based message bus for in-process communication.
// Channels publish inbound messages; the agent loop consumes them and sends
// outbound replies to per-channel handlers.
type InMemoryBus struct {
	inbound  chan domain.InboundMessage
	handlers map[string]func(domain.OutboundMessage)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, bufferSize),
		handlers: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

// Publish retries up to 10 seconds if the bus is full instead of dropping.
// Each attempt holds the lock only for a non-blocking send, so a full bus
// never stalls Close or OnOutbound behind a held read lock. Sending only
// while the lock is held is what makes Close safe: it takes the write lock
// before closing the channel.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	deadline := time.Now().Add(publishTimeout)
	warned := false

	for {
		b.mu.RLock()
		if b.closed {
			b.mu.RUnlock()
			b.logger.Warn("attempted to publish to closed bus", "channel", msg.Channel)
			return
		}
		select {
		case b.inbound <- msg:
			b.mu.RUnlock()
			return
		default:
		}
		b.mu.RUnlock()

		if !warned {
			warned = true
			b.logger.Warn("inbound bus full, waiting", "channel", msg.Channel, "sender", msg.SenderID)
		}
		if time.Now().After(deadline) {
			b.logger.Error("message dropped: bus full",
				"channel", msg.Channel,
				"sender", msg.SenderID,
			)
			return
		}
		time.Sleep(publishRetryInterval)
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", msg.Channel)
		return
	}

	handler(msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}

var _ domain.MessageBus = (*InMemoryBus)(nil)
