package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss_watch/internal/delivery"
	"rss_watch/internal/filter"
	"rss_watch/internal/scheduler"
	"rss_watch/internal/storage"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to rss_watch!

New feed entries that match your filters are dropped into the watch directory of your download client.

Quick start:
1. /addfeed <url> — add an RSS feed
2. /addfilter <name> <regex> — deliver entries whose title matches
3. /sync — check feeds now

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Sync:
/status — last and next sync
/sync — check feeds now
/history — recent deliveries
/add <magnet or torrent url> — deliver a link directly

Feeds:
/feeds — show all feeds
/addfeed <url> — add a feed
/rmfeed <url> — remove a feed

Filters:
/filters — show filters (tap to enable or disable)
/addfilter <name> <regex> — add a case-insensitive title filter
/rmfilter <name> — remove a filter`)
}

func (b *Bot) handleStatus(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, FormatStatus(b.sync.Status(), time.Now()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Sync now", cmdSync+":0")),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send status", "error", err)
	}
}

func (b *Bot) handleSync(chatID int64) {
	b.sync.Trigger()
	b.reply(chatID, "Sync requested.")
}

func (b *Bot) handleHistory(ctx context.Context, chatID int64) {
	records, err := b.store.History(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatHistory(records))
}

func (b *Bot) handleManual(ctx context.Context, chatID int64, args string) {
	rec, err := b.sync.DeliverManual(ctx, args)
	switch {
	case errors.Is(err, scheduler.ErrEmptyLink):
		b.reply(chatID, "Usage: /add <magnet or torrent url>")
	case err != nil:
		b.log.Error("manual delivery", "link", args, "chat_id", chatID, "error", err)
		b.reply(chatID, "Failed to write file: "+delivery.Reason(err))
	default:
		b.reply(chatID, fmt.Sprintf("Link added to watch directory.\n%s", rec.GUID))
	}
}

func (b *Bot) handleFeeds(ctx context.Context, chatID int64) {
	feeds, err := b.store.ListFeeds(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatFeedList(feeds))
}

func (b *Bot) handleAddFeed(ctx context.Context, chatID int64, args string) {
	url, err := ParseFeedURL(args)
	if err != nil {
		b.reply(chatID, "Usage: /addfeed <url>")
		return
	}

	added, err := b.store.AddFeed(ctx, url)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save feed: %v", err))
		return
	}
	if !added {
		b.reply(chatID, fmt.Sprintf("Feed already present: %s", url))
		return
	}
	b.sync.Trigger()
	b.reply(chatID, fmt.Sprintf("Feed added: %s", url))
}

func (b *Bot) handleRemoveFeed(ctx context.Context, chatID int64, args string) {
	url, err := ParseFeedURL(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmfeed <url>")
		return
	}
	if err := b.store.RemoveFeed(ctx, url); err != nil {
		b.reply(chatID, fmt.Sprintf("Error removing feed: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Feed removed: %s", url))
}

func (b *Bot) handleFilters(ctx context.Context, chatID int64) {
	filters, err := b.store.ListFilters(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatFilterList(filters))
	if kb, ok := filterKeyboard(filters); ok {
		msg.ReplyMarkup = kb
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send filters", "error", err)
	}
}

func (b *Bot) handleAddFilter(ctx context.Context, chatID int64, args string) {
	rule, err := ParseFilterArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	if err := b.store.AddFilter(ctx, rule); err != nil {
		var invalid *filter.InvalidPatternError
		switch {
		case errors.As(err, &invalid):
			b.reply(chatID, fmt.Sprintf("Invalid regex: %v", invalid.Err))
		case errors.Is(err, storage.ErrDuplicate):
			b.reply(chatID, fmt.Sprintf("Filter not added: %v", err))
		default:
			b.reply(chatID, fmt.Sprintf("Error: %v", err))
		}
		return
	}

	b.sync.Trigger()
	b.reply(chatID, fmt.Sprintf("Filter %q added: %s", rule.Name, rule.Pattern))
}

func (b *Bot) handleRemoveFilter(ctx context.Context, chatID int64, args string) {
	name, err := ParseNameArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmfilter <name>")
		return
	}

	err = b.store.RemoveFilter(ctx, name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Filter %q not found.", name))
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, fmt.Sprintf("Filter %q removed.", name))
	}
}
