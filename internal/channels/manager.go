package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cadencebot/cadence/internal/bus"
)

// Manager owns the registered channels: lifecycle and outbound routing.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus
	cancel   context.CancelFunc
}

// NewManager creates a manager. Channels are registered externally via
// RegisterChannel before StartAll.
func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}
}

// RegisterChannel adds a channel under its name.
func (m *Manager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll starts all registered channels and the outbound routing loop.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.routeOutbound(dispatchCtx)

	if len(m.channels) == 0 {
		slog.Warn("channels: none enabled")
		return nil
	}

	for name, ch := range m.channels {
		slog.Info("channels: starting", "channel", name)
		if err := ch.Start(ctx); err != nil {
			slog.Error("channels: start failed", "channel", name, "error", err)
		}
	}
	return nil
}

// StopAll stops the routing loop and all channels.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	for name, ch := range m.channels {
		slog.Info("channels: stopping", "channel", name)
		if err := ch.Stop(ctx); err != nil {
			slog.Error("channels: stop failed", "channel", name, "error", err)
		}
	}
	return nil
}

// routeOutbound consumes outbound messages from the bus and hands each to
// its channel.
func (m *Manager) routeOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		m.mu.RLock()
		ch, exists := m.channels[msg.Channel]
		m.mu.RUnlock()
		if !exists {
			slog.Warn("channels: unknown outbound channel", "channel", msg.Channel)
			continue
		}

		if err := ch.Send(ctx, msg); err != nil {
			slog.Error("channels: send failed",
				"channel", msg.Channel, "scene", msg.Scene.String(), "error", err)
		}
	}
}

// SendToChannel delivers content directly to one channel (CLI/doctor use).
func (m *Manager) SendToChannel(ctx context.Context, msg bus.OutboundMessage) error {
	m.mu.RLock()
	ch, exists := m.channels[msg.Channel]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("channel %s not found", msg.Channel)
	}
	return ch.Send(ctx, msg)
}

// Status returns the running state per channel.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		status[name] = ch.IsRunning()
	}
	return status
}
