package bus

import (
	"context"
	"log/slog"
	"sync"
)

const (
	inboundBuffer  = 256
	outboundBuffer = 256
)

// MessageBus routes inbound messages from channels to the scheduler core and
// outbound messages back to channels. Event subscribers (ops websocket
// clients) receive a best-effort broadcast feed.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]EventHandler
}

// NewMessageBus creates a bus with bounded queues.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:     make(chan InboundMessage, inboundBuffer),
		outbound:    make(chan OutboundMessage, outboundBuffer),
		subscribers: make(map[string]EventHandler),
	}
}

// PublishInbound enqueues an inbound message. Drops with a warning when the
// queue is full — a stalled consumer must not back-pressure channel callbacks.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("bus: inbound queue full, dropping message",
			"channel", msg.Channel, "scene", msg.Scene.String())
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
// The second return is false when the bus is shutting down.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg, ok := <-b.inbound:
		return msg, ok
	}
}

// PublishOutbound enqueues an outbound message for channel dispatch.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("bus: outbound queue full, dropping message",
			"channel", msg.Channel, "scene", msg.Scene.String())
	}
}

// SubscribeOutbound blocks until an outbound message is available or ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg, ok := <-b.outbound:
		return msg, ok
	}
}

// Subscribe registers an event handler under id, replacing any previous one.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers an event to all subscribers. Handlers run on the
// caller's goroutine and must not block.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.subscribers {
		h(event)
	}
}
