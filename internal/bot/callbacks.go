package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss_watch/internal/model"
	"rss_watch/internal/storage"
)

const (
	cmdSync    = "sync"
	cmdFilters = "filters"

	actionFilterOn  = "filter_on"
	actionFilterOff = "filter_off"

	// Telegram rejects callback data longer than 64 bytes.
	maxCallbackData = 64
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, arg, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return
	}

	b.log.Info("callback",
		"action", action,
		"arg", arg,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdSync:
		b.handleSync(chatID)
	case actionFilterOn, actionFilterOff:
		b.toggleFilter(ctx, chatID, arg, action == actionFilterOn)
	}
}

func (b *Bot) toggleFilter(ctx context.Context, chatID int64, name string, enabled bool) {
	err := b.store.SetFilterEnabled(ctx, name, enabled)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Filter %q not found.", name))
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	case enabled:
		b.reply(chatID, fmt.Sprintf("Filter %q enabled.", name))
	default:
		b.reply(chatID, fmt.Sprintf("Filter %q disabled.", name))
	}
}

// filterKeyboard offers one enable/disable button per filter whose name fits
// into callback data.
func filterKeyboard(filters []model.FilterRule) (tgbotapi.InlineKeyboardMarkup, bool) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, f := range filters {
		label, action := "Enable "+f.Name, actionFilterOn
		if f.Enabled {
			label, action = "Disable "+f.Name, actionFilterOff
		}
		data := action + ":" + f.Name
		if len(data) > maxCallbackData {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, data)))
	}
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}
