package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"rss_watch/internal/config"
	"rss_watch/internal/delivery"
	"rss_watch/internal/model"
	"rss_watch/internal/scheduler"
	"rss_watch/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
	Markup any
}

type mockAPI struct {
	mu        sync.Mutex
	sent      []sentMsg
	callbacks int
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch msg := c.(type) {
	case tgbotapi.MessageConfig:
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Markup: msg.ReplyMarkup})
	case tgbotapi.CallbackConfig:
		m.callbacks++
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) last() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) lastText() string {
	return m.last().Text
}

func (m *mockAPI) allTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.Text
	}
	return out
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type mockSyncer struct {
	triggers  int
	status    scheduler.Status
	manual    []string
	manualErr error
}

func (m *mockSyncer) Trigger() { m.triggers++ }

func (m *mockSyncer) Status() scheduler.Status { return m.status }

func (m *mockSyncer) DeliverManual(_ context.Context, link string) (model.HistoryRecord, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return model.HistoryRecord{}, scheduler.ErrEmptyLink
	}
	if m.manualErr != nil {
		return model.HistoryRecord{}, m.manualErr
	}
	m.manual = append(m.manual, link)
	return model.HistoryRecord{Title: "Manual Add", GUID: link, DeliveredAt: time.Now()}, nil
}

// --- helpers ---

func newTestBot(t *testing.T) (*Bot, *mockAPI, *mockSyncer, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:", "/watch")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &mockAPI{}
	syncer := &mockSyncer{}
	b := &Bot{
		api:   api,
		store: store,
		sync:  syncer,
		cfg:   &config.Config{TelegramChatIDs: []int64{100, 200}, AllowedUsers: []int64{7}},
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return b, api, syncer, store
}

func seedFilter(t *testing.T, store *storage.SQLite, name, pattern string) {
	t.Helper()
	rule := model.FilterRule{Name: name, Pattern: pattern, Enabled: true}
	if err := store.AddFilter(context.Background(), rule); err != nil {
		t.Fatalf("seed filter: %v", err)
	}
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

func makeMsg(userID int64, cmd, args string) *tgbotapi.Message {
	text := "/" + cmd
	if args != "" {
		text += " " + args
	}
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: 100},
		Text: text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
		},
	}
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	b, api, _, _ := newTestBot(t)
	b.handleStart(100)
	requireContains(t, api.lastText(), "Welcome to rss_watch")
}

func TestHandleHelp(t *testing.T) {
	b, api, _, _ := newTestBot(t)
	b.handleHelp(100)
	for _, cmd := range []string{"/add", "/addfeed", "/rmfeed", "/addfilter", "/rmfilter", "/sync", "/history"} {
		requireContains(t, api.lastText(), cmd)
	}
}

func TestHandleStatus(t *testing.T) {
	b, api, syncer, _ := newTestBot(t)
	syncer.status = scheduler.Status{LastSync: time.Now().Add(-3 * time.Minute), Interval: 15 * time.Minute}

	b.handleStatus(100)
	requireContains(t, api.lastText(), "3 min ago")
	requireContains(t, api.lastText(), "Interval: 15m0s")

	kb, ok := api.last().Markup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("expected inline keyboard, got %T", api.last().Markup)
	}
	if diff := cmp.Diff("sync:0", *kb.InlineKeyboard[0][0].CallbackData); diff != "" {
		t.Errorf("button data (-want +got):\n%s", diff)
	}
}

func TestHandleSync(t *testing.T) {
	b, api, syncer, _ := newTestBot(t)
	b.handleSync(100)
	requireContains(t, api.lastText(), "Sync requested")
	if diff := cmp.Diff(1, syncer.triggers); diff != "" {
		t.Errorf("triggers (-want +got):\n%s", diff)
	}
}

func TestHandleHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleHistory(ctx, 100)
		requireContains(t, api.lastText(), "Nothing delivered yet")
	})

	t.Run("with records", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		if err := store.AppendHistory(ctx,
			model.HistoryRecord{Title: "Show.S01E01", GUID: "g1", DeliveredAt: time.Now()},
			model.HistoryRecord{Title: "Show.S01E02", GUID: "g2", DeliveredAt: time.Now()},
		); err != nil {
			t.Fatalf("append history: %v", err)
		}
		b.handleHistory(ctx, 100)
		reply := api.lastText()
		requireContains(t, reply, "Show.S01E01")
		requireContains(t, reply, "Show.S01E02")
		if strings.Index(reply, "S01E02") > strings.Index(reply, "S01E01") {
			t.Errorf("newest delivery should come first:\n%s", reply)
		}
	})
}

func TestHandleManual(t *testing.T) {
	ctx := context.Background()

	t.Run("empty link", func(t *testing.T) {
		b, api, syncer, _ := newTestBot(t)
		b.handleManual(ctx, 100, "   ")
		requireContains(t, api.lastText(), "Usage: /add")
		if diff := cmp.Diff(0, len(syncer.manual)); diff != "" {
			t.Errorf("manual deliveries (-want +got):\n%s", diff)
		}
	})

	t.Run("write failure", func(t *testing.T) {
		b, api, syncer, _ := newTestBot(t)
		syncer.manualErr = &delivery.DeliveryError{
			Link: "magnet:?xt=urn:btih:abc",
			Kind: delivery.KindMagnet,
			Err:  fmt.Errorf("%w: %w", delivery.ErrWatchDirUnwritable, errors.New("open /watch/x.tmp: permission denied")),
		}
		b.handleManual(ctx, 100, "magnet:?xt=urn:btih:abc")
		if diff := cmp.Diff("Failed to write file: watch directory not writable", api.lastText()); diff != "" {
			t.Errorf("reply mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("success", func(t *testing.T) {
		b, api, syncer, _ := newTestBot(t)
		b.handleManual(ctx, 100, "magnet:?xt=urn:btih:abc")
		requireContains(t, api.lastText(), "Link added to watch directory")
		requireContains(t, api.lastText(), "magnet:?xt=urn:btih:abc")
		if diff := cmp.Diff([]string{"magnet:?xt=urn:btih:abc"}, syncer.manual); diff != "" {
			t.Errorf("manual deliveries (-want +got):\n%s", diff)
		}
	})
}

func TestHandleFeeds(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleFeeds(ctx, 100)
		requireContains(t, api.lastText(), "No feeds yet")
	})

	t.Run("lists feeds", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		_, _ = store.AddFeed(ctx, "https://a.example/rss")
		_, _ = store.AddFeed(ctx, "https://b.example/rss")
		_ = store.SetFeedEnabled(ctx, "https://b.example/rss", false)

		b.handleFeeds(ctx, 100)
		requireContains(t, api.lastText(), "1. https://a.example/rss [enabled]")
		requireContains(t, api.lastText(), "2. https://b.example/rss [disabled]")
	})
}

func TestHandleAddFeed(t *testing.T) {
	ctx := context.Background()

	t.Run("bad url", func(t *testing.T) {
		b, api, syncer, _ := newTestBot(t)
		b.handleAddFeed(ctx, 100, "not-a-url")
		requireContains(t, api.lastText(), "Usage: /addfeed")
		if diff := cmp.Diff(0, syncer.triggers); diff != "" {
			t.Errorf("triggers (-want +got):\n%s", diff)
		}
	})

	t.Run("added then duplicate", func(t *testing.T) {
		b, api, syncer, store := newTestBot(t)
		b.handleAddFeed(ctx, 100, "https://a.example/rss")
		requireContains(t, api.lastText(), "Feed added: https://a.example/rss")

		b.handleAddFeed(ctx, 100, "https://a.example/rss")
		requireContains(t, api.lastText(), "Feed already present")

		if diff := cmp.Diff(1, syncer.triggers); diff != "" {
			t.Errorf("triggers (-want +got):\n%s", diff)
		}
		feeds, _ := store.ListFeeds(ctx)
		want := []model.Feed{{URL: "https://a.example/rss", Enabled: true}}
		if diff := cmp.Diff(want, feeds); diff != "" {
			t.Errorf("feeds (-want +got):\n%s", diff)
		}
	})
}

func TestHandleRemoveFeed(t *testing.T) {
	ctx := context.Background()
	b, api, _, store := newTestBot(t)
	_, _ = store.AddFeed(ctx, "https://a.example/rss")

	b.handleRemoveFeed(ctx, 100, "")
	requireContains(t, api.lastText(), "Usage: /rmfeed")

	b.handleRemoveFeed(ctx, 100, "https://a.example/rss")
	requireContains(t, api.lastText(), "Feed removed")

	feeds, _ := store.ListFeeds(ctx)
	if diff := cmp.Diff(0, len(feeds)); diff != "" {
		t.Errorf("feeds should be empty (-want +got):\n%s", diff)
	}
}

func TestHandleFilters(t *testing.T) {
	ctx := context.Background()

	t.Run("empty has no keyboard", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleFilters(ctx, 100)
		requireContains(t, api.lastText(), "No filters yet")
		if api.last().Markup != nil {
			t.Errorf("unexpected markup %T", api.last().Markup)
		}
	})

	t.Run("with filters", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		seedFilter(t, store, "shows", `Show\.S\d+`)

		b.handleFilters(ctx, 100)
		requireContains(t, api.lastText(), `shows: Show\.S\d+ [enabled]`)
		if _, ok := api.last().Markup.(tgbotapi.InlineKeyboardMarkup); !ok {
			t.Errorf("expected inline keyboard, got %T", api.last().Markup)
		}
	})
}

func TestHandleAddFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleAddFilter(ctx, 100, "onlyname")
		requireContains(t, api.lastText(), "usage: /addfilter")
	})

	t.Run("invalid regex", func(t *testing.T) {
		b, api, syncer, _ := newTestBot(t)
		b.handleAddFilter(ctx, 100, "broken [unclosed")
		requireContains(t, api.lastText(), "Invalid regex")
		if diff := cmp.Diff(0, syncer.triggers); diff != "" {
			t.Errorf("triggers (-want +got):\n%s", diff)
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		seedFilter(t, store, "shows", "a")
		b.handleAddFilter(ctx, 100, "shows b")
		requireContains(t, api.lastText(), "Filter not added")
	})

	t.Run("success", func(t *testing.T) {
		b, api, syncer, store := newTestBot(t)
		b.handleAddFilter(ctx, 100, `shows Show\.S\d+E\d+`)
		requireContains(t, api.lastText(), `Filter "shows" added`)

		if diff := cmp.Diff(1, syncer.triggers); diff != "" {
			t.Errorf("triggers (-want +got):\n%s", diff)
		}
		filters, _ := store.ListFilters(ctx)
		want := []model.FilterRule{{Name: "shows", Pattern: `Show\.S\d+E\d+`, Enabled: true}}
		if diff := cmp.Diff(want, filters); diff != "" {
			t.Errorf("filters (-want +got):\n%s", diff)
		}
	})
}

func TestHandleRemoveFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleRemoveFilter(ctx, 100, "")
		requireContains(t, api.lastText(), "Usage: /rmfilter")
	})

	t.Run("not found", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleRemoveFilter(ctx, 100, "missing")
		requireContains(t, api.lastText(), `Filter "missing" not found`)
	})

	t.Run("success", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		seedFilter(t, store, "shows", "a")
		b.handleRemoveFilter(ctx, 100, "shows")
		requireContains(t, api.lastText(), `Filter "shows" removed`)

		filters, _ := store.ListFilters(ctx)
		if diff := cmp.Diff(0, len(filters)); diff != "" {
			t.Errorf("filters should be empty (-want +got):\n%s", diff)
		}
	})
}

func TestDelivered(t *testing.T) {
	b, api, _, _ := newTestBot(t)
	b.Delivered(model.HistoryRecord{Title: "Show.S01E01", SourceURL: "https://a.example/rss"})

	api.mu.Lock()
	defer api.mu.Unlock()
	want := []sentMsg{
		{ChatID: 100, Text: "Delivered: Show.S01E01\nFrom: https://a.example/rss"},
		{ChatID: 200, Text: "Delivered: Show.S01E01\nFrom: https://a.example/rss"},
	}
	if diff := cmp.Diff(want, api.sent); diff != "" {
		t.Errorf("notifications (-want +got):\n%s", diff)
	}
}

func TestHandleUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("access denied", func(t *testing.T) {
		b, api, syncer, _ := newTestBot(t)
		b.handleUpdate(ctx, tgbotapi.Update{Message: makeMsg(8, cmdSync, "")})
		requireContains(t, api.lastText(), "Access denied")
		if diff := cmp.Diff(0, syncer.triggers); diff != "" {
			t.Errorf("triggers (-want +got):\n%s", diff)
		}
	})

	t.Run("plain text ignored", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 7},
			Chat: &tgbotapi.Chat{ID: 100},
			Text: "hello",
		}})
		if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
			t.Errorf("expected no replies (-want +got):\n%s", diff)
		}
	})

	t.Run("denied callback ignored", func(t *testing.T) {
		b, api, syncer, _ := newTestBot(t)
		b.handleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb",
			From:    &tgbotapi.User{ID: 8},
			Data:    "sync:0",
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		}})
		if diff := cmp.Diff(0, syncer.triggers+api.callbacks); diff != "" {
			t.Errorf("denied callback had effects (-want +got):\n%s", diff)
		}
	})
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()
	b, api, syncer, _ := newTestBot(t)

	cmds := []struct {
		cmd      string
		args     string
		contains string
	}{
		{"start", "", "Welcome"},
		{"help", "", "/addfilter"},
		{"status", "", "Last sync"},
		{"sync", "", "Sync requested"},
		{"history", "", "Nothing delivered"},
		{"add", "magnet:?xt=urn:btih:1", "Link added"},
		{"feeds", "", "No feeds yet"},
		{"addfeed", "https://a.example/rss", "Feed added"},
		{"rmfeed", "https://a.example/rss", "Feed removed"},
		{"filters", "", "No filters yet"},
		{"addfilter", "shows Show", "added"},
		{"rmfilter", "shows", "removed"},
		{"unknown_cmd", "", "Unknown command"},
	}

	for _, tc := range cmds {
		api.reset()
		b.handleUpdate(ctx, tgbotapi.Update{Message: makeMsg(7, tc.cmd, tc.args)})
		requireContains(t, api.lastText(), tc.contains)
	}

	// sync, addfeed and addfilter
	if diff := cmp.Diff(3, syncer.triggers); diff != "" {
		t.Errorf("triggers (-want +got):\n%s", diff)
	}
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	callback := func(data string) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:      "cb",
			From:    &tgbotapi.User{ID: 7},
			Data:    data,
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		}
	}

	t.Run("invalid data format", func(t *testing.T) {
		b, api, syncer, _ := newTestBot(t)
		b.handleCallback(ctx, callback("nocolon"))
		if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(1, api.callbacks); diff != "" {
			t.Errorf("callback must still be acknowledged (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(0, syncer.triggers); diff != "" {
			t.Errorf("triggers (-want +got):\n%s", diff)
		}
	})

	t.Run("sync", func(t *testing.T) {
		b, api, syncer, _ := newTestBot(t)
		b.handleCallback(ctx, callback("sync:0"))
		requireContains(t, api.lastText(), "Sync requested")
		if diff := cmp.Diff(1, syncer.triggers); diff != "" {
			t.Errorf("triggers (-want +got):\n%s", diff)
		}
	})

	t.Run("toggle filter", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		seedFilter(t, store, "shows", "a")

		b.handleCallback(ctx, callback("filter_off:shows"))
		requireContains(t, api.lastText(), `Filter "shows" disabled`)
		filters, _ := store.ListFilters(ctx)
		if diff := cmp.Diff(false, filters[0].Enabled); diff != "" {
			t.Errorf("enabled (-want +got):\n%s", diff)
		}

		b.handleCallback(ctx, callback("filter_on:shows"))
		requireContains(t, api.lastText(), `Filter "shows" enabled`)
		filters, _ = store.ListFilters(ctx)
		if diff := cmp.Diff(true, filters[0].Enabled); diff != "" {
			t.Errorf("enabled (-want +got):\n%s", diff)
		}
	})

	t.Run("toggle missing filter", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleCallback(ctx, callback("filter_on:ghost"))
		requireContains(t, api.lastText(), `Filter "ghost" not found`)
	})
}
