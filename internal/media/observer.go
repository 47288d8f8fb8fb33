package media

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cadencebot/cadence/internal/bus"
	"github.com/cadencebot/cadence/internal/jobs"
)

// Observer inspects inbound messages and enqueues index jobs for images the
// bot has not seen recently. It never blocks the inbound path: enqueue
// failures are logged and dropped, the message itself is unaffected.
type Observer struct {
	queue *jobs.Queue
	seen  *bus.DedupeCache
}

// NewObserver creates an observer deduplicating over window with at most
// maxEntries refs tracked.
func NewObserver(queue *jobs.Queue, window time.Duration, maxEntries int) *Observer {
	return &Observer{
		queue: queue,
		seen:  bus.NewDedupeCache(window, maxEntries),
	}
}

type indexPayload struct {
	Channel  string `json:"channel"`
	Scene    string `json:"scene"`
	SenderID string `json:"sender_id"`
	Caption  string `json:"caption,omitempty"`
}

// Observe considers one inbound message. Non-image messages and recently
// seen refs are ignored.
func (o *Observer) Observe(ctx context.Context, msg bus.InboundMessage) {
	if msg.ImageRef == "" {
		return
	}
	if o.seen.Seen(msg.ImageRef) {
		return
	}

	payload, err := json.Marshal(indexPayload{
		Channel:  msg.Channel,
		Scene:    msg.Scene.String(),
		SenderID: msg.SenderID,
		Caption:  msg.Content,
	})
	if err != nil {
		slog.Error("media: marshal index payload", "ref", msg.ImageRef, "error", err)
		return
	}

	itemType := "image"
	if msg.Metadata["sticker"] == "true" {
		itemType = "sticker"
	}
	if _, err := o.queue.Enqueue(ctx, itemType, msg.ImageRef, string(payload)); err != nil {
		slog.Error("media: enqueue index job", "ref", msg.ImageRef, "error", err)
	}
}
