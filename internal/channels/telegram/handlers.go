package telegram

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/cadencebot/cadence/internal/bus"
	"github.com/cadencebot/cadence/internal/channels"
	"github.com/cadencebot/cadence/internal/scene"
)

// handleMessage normalizes one Telegram message and publishes it.
func (c *Channel) handleMessage(message *telego.Message) {
	user := message.From
	if user == nil {
		return
	}

	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"
	kind := scene.KindPrivate
	sceneID := fmt.Sprintf("%d", user.ID)
	if isGroup {
		kind = scene.KindGroup
		sceneID = fmt.Sprintf("%d", message.Chat.ID)
	}
	key := scene.NewKey(kind, sceneID)

	content := message.Text
	if message.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += message.Caption
	}

	msg := bus.InboundMessage{
		ID:          fmt.Sprintf("%d:%d", message.Chat.ID, message.MessageID),
		Channel:     c.Name(),
		Scene:       key,
		SenderID:    fmt.Sprintf("%d", user.ID),
		Kind:        bus.MsgText,
		Content:     content,
		MentionsBot: c.mentionsBot(message),
		ReceivedAt:  time.Unix(message.Date, 0),
	}

	switch {
	case message.Sticker != nil:
		msg.Kind = bus.MsgImage
		msg.ImageRef = message.Sticker.FileUniqueID
		msg.Metadata = map[string]string{"sticker": "true"}
		if message.Sticker.Emoji != "" {
			msg.Metadata["emoji"] = message.Sticker.Emoji
		}
	case len(message.Photo) > 0:
		// The last PhotoSize is the largest rendition.
		msg.Kind = bus.MsgImage
		msg.ImageRef = message.Photo[len(message.Photo)-1].FileUniqueID
	case content == "":
		msg.Kind = bus.MsgOther
	}

	slog.Debug("telegram: message received",
		"scene", key.String(),
		"kind", string(msg.Kind),
		"mentions_bot", msg.MentionsBot,
		"text_preview", channels.Truncate(content, 60),
	)

	c.Publish(msg)
}

// mentionsBot reports whether the message addresses the bot: an @mention of
// its username or a reply to one of its messages.
func (c *Channel) mentionsBot(message *telego.Message) bool {
	if message.Chat.Type == "private" {
		return true
	}
	username := c.bot.Username()
	if username != "" && strings.Contains(message.Text, "@"+username) {
		return true
	}
	if reply := message.ReplyToMessage; reply != nil && reply.From != nil && reply.From.IsBot {
		return reply.From.Username == username
	}
	return false
}
