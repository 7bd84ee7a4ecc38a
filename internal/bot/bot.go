// Package bot is an optional Telegram front end: it announces deliveries to
// configured chats and accepts control commands from allowed users.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss_watch/internal/config"
	"rss_watch/internal/model"
	"rss_watch/internal/scheduler"
	"rss_watch/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Syncer is the part of the scheduler the bot drives.
type Syncer interface {
	Trigger()
	DeliverManual(ctx context.Context, link string) (model.HistoryRecord, error)
	Status() scheduler.Status
}

// Bot handles user commands and sends delivery notifications.
type Bot struct {
	api   telegramAPI
	store storage.Storage
	sync  Syncer
	cfg   *config.Config
	log   *slog.Logger
}

// New creates a Bot with the given Telegram token, storage, scheduler and config.
func New(token string, store storage.Storage, sync Syncer, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:   api,
		store: store,
		sync:  sync,
		cfg:   cfg,
		log:   log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From == nil || !b.cfg.IsUserAllowed(cb.From.ID) {
			return
		}
		b.handleCallback(ctx, cb)
		return
	}
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	if update.Message.From == nil || !b.cfg.IsUserAllowed(update.Message.From.ID) {
		b.reply(update.Message.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, update.Message)
}

// Delivered announces a delivery to every configured chat.
func (b *Bot) Delivered(rec model.HistoryRecord) {
	text := FormatDelivered(rec)
	for _, chatID := range b.cfg.TelegramChatIDs {
		b.SendMessage(chatID, text)
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "status":
		b.handleStatus(chatID)
	case "history":
		b.handleHistory(ctx, chatID)
	case cmdSync:
		b.handleSync(chatID)
	case "add":
		b.handleManual(ctx, chatID, args)
	case "feeds":
		b.handleFeeds(ctx, chatID)
	case "addfeed":
		b.handleAddFeed(ctx, chatID, args)
	case "rmfeed":
		b.handleRemoveFeed(ctx, chatID, args)
	case cmdFilters:
		b.handleFilters(ctx, chatID)
	case "addfilter":
		b.handleAddFilter(ctx, chatID, args)
	case "rmfilter":
		b.handleRemoveFilter(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
