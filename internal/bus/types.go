package bus

import (
	"time"

	"github.com/cadencebot/cadence/internal/scene"
)

// MsgKind classifies inbound message content for the debounce engine.
type MsgKind string

const (
	MsgText  MsgKind = "text"
	MsgImage MsgKind = "image"
	MsgOther MsgKind = "other"
)

// InboundMessage represents one message received from a channel
// (Telegram, Discord, etc.), already normalized to scene identity.
type InboundMessage struct {
	ID          string            `json:"id"`
	Channel     string            `json:"channel"`
	Scene       scene.Key         `json:"scene"`
	SenderID    string            `json:"sender_id"`
	Kind        MsgKind           `json:"kind"`
	Content     string            `json:"content"`
	ImageRef    string            `json:"image_ref,omitempty"` // stable ref for the attached image, if any
	MentionsBot bool              `json:"mentions_bot,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ImageOnly reports whether the message carries an image and no effective text.
func (m InboundMessage) ImageOnly() bool {
	return m.ImageRef != "" && m.Content == ""
}

// OutboundMessage represents one bot action to be delivered to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	Scene    scene.Key         `json:"scene"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundPublisher accepts bot actions for delivery. Implemented by the
// MessageBus; the dispatcher depends on this instead of the concrete bus.
type OutboundPublisher interface {
	PublishOutbound(msg OutboundMessage)
}

// Event is a server-side event broadcast to ops websocket clients.
type Event struct {
	Name    string      `json:"name"` // "turn", "job", "health"
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the ops gateway to decouple from the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
