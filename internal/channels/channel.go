// Package channels connects chat platforms (Telegram, Discord) to the
// scheduler core via the message bus. Adapters normalize platform events
// into scene-keyed inbound messages and deliver paced outbound actions.
package channels

import (
	"context"

	"github.com/cadencebot/cadence/internal/bus"
)

// Channel is implemented by every platform adapter.
type Channel interface {
	// Name returns the channel identifier ("telegram", "discord").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message, including any platform-side
	// typing indication.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is actively processing.
	IsRunning() bool
}

// BaseChannel provides the shared plumbing adapters embed: bus access,
// running state, inbound flood limiting, and duplicate suppression.
type BaseChannel struct {
	name    string
	bus     *bus.MessageBus
	running bool
	limiter *InboundRateLimiter
	seen    *bus.DedupeCache
}

// NewBaseChannel creates the shared adapter state. inboundRPM of zero
// disables flood limiting.
func NewBaseChannel(name string, msgBus *bus.MessageBus, inboundRPM int) *BaseChannel {
	return &BaseChannel{
		name:    name,
		bus:     msgBus,
		limiter: NewInboundRateLimiter(inboundRPM),
		seen:    bus.NewDedupeCache(dedupeWindow, dedupeMaxEntries),
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning reports whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// Publish forwards a normalized message to the bus, applying duplicate
// suppression (webhook redeliveries) and per-scene flood limiting.
// Returns false when the message was dropped.
func (c *BaseChannel) Publish(msg bus.InboundMessage) bool {
	if msg.ID != "" && c.seen.Seen(c.name+":"+msg.ID) {
		return false
	}
	if !c.limiter.Allow(msg.Scene.String()) {
		return false
	}
	c.bus.PublishInbound(msg)
	return true
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
