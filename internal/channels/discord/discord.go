// Package discord connects to the Discord gateway and normalizes message
// events into scene-keyed inbound messages.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/cadencebot/cadence/internal/bus"
	"github.com/cadencebot/cadence/internal/channels"
	"github.com/cadencebot/cadence/internal/config"
	"github.com/cadencebot/cadence/internal/scene"
)

// Channel is the Discord adapter.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	cfg       config.DiscordConfig
	botUserID string // populated on start
}

// New creates a Discord channel from config.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", msgBus, cfg.InboundRPM),
		session:     session,
		cfg:         cfg,
	}, nil
}

// Start opens the gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord: connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}

// Send shows the typing indicator and delivers msg, chunking past Discord's
// 2000 character limit.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	channelID := msg.Scene.ID
	if channelID == "" {
		return fmt.Errorf("empty channel id for discord send")
	}

	_ = c.session.ChannelTyping(channelID)
	return c.sendChunked(channelID, msg.Content)
}

// sendChunked splits content into <=2000 char messages, breaking on
// newlines when one is in the back half of the chunk.
func (c *Channel) sendChunked(channelID, content string) error {
	const maxLen = 2000

	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxLen {
			cutAt := maxLen
			if idx := lastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}

		if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// handleMessage normalizes one Discord message and publishes it.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	isDM := m.GuildID == ""
	kind := scene.KindGroup
	if isDM {
		kind = scene.KindPrivate
	}
	key := scene.NewKey(kind, m.ChannelID)

	mentioned := isDM
	for _, u := range m.Mentions {
		if u.ID == c.botUserID {
			mentioned = true
			break
		}
	}

	receivedAt := m.Timestamp
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	msg := bus.InboundMessage{
		ID:          m.ID,
		Channel:     c.Name(),
		Scene:       key,
		SenderID:    m.Author.ID,
		Kind:        bus.MsgText,
		Content:     m.Content,
		MentionsBot: mentioned,
		ReceivedAt:  receivedAt,
	}

	// First image attachment becomes the indexable ref; the rest ride along
	// in metadata for the reply pipeline.
	for _, att := range m.Attachments {
		if att.ContentType != "" && len(att.ContentType) >= 6 && att.ContentType[:6] == "image/" {
			msg.Kind = bus.MsgImage
			msg.ImageRef = att.ID
			msg.Metadata = map[string]string{"image_url": att.URL}
			break
		}
	}
	if msg.Content == "" && msg.ImageRef == "" {
		msg.Kind = bus.MsgOther
	}

	slog.Debug("discord: message received",
		"scene", key.String(),
		"kind", string(msg.Kind),
		"mentions_bot", msg.MentionsBot,
		"preview", channels.Truncate(m.Content, 50),
	)

	c.Publish(msg)
}

// lastIndexByte returns the last index of byte b in s, or -1.
func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}
