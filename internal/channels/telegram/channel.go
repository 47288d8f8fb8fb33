// Package telegram connects to the Telegram Bot API via long polling and
// normalizes updates into scene-keyed inbound messages.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/cadencebot/cadence/internal/bus"
	"github.com/cadencebot/cadence/internal/channels"
	"github.com/cadencebot/cadence/internal/config"
)

// Channel is the Telegram adapter.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	cfg        config.TelegramConfig
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram channel from config.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, cfg.InboundRPM),
		bot:         bot,
		cfg:         cfg,
	}, nil
}

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram: connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram: updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the poll goroutine so Telegram
// releases the getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram: polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// Send shows a typing indication and delivers msg to its chat.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseChatID(msg.Scene.ID)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", msg.Scene.ID, err)
	}
	chatIDObj := tu.ID(chatID)

	// Best effort: the indicator failing must not block the message.
	_ = c.bot.SendChatAction(ctx, tu.ChatAction(chatIDObj, telego.ChatActionTyping))

	if _, err := c.bot.SendMessage(ctx, tu.Message(chatIDObj, msg.Content)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func parseChatID(s string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err
}
