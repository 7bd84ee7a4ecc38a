package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rss_watch/internal/model"
	"rss_watch/internal/scheduler"
)

func TestParseFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    model.FilterRule
		wantErr bool
	}{
		{
			name: "simple pattern",
			args: `shows Show\.S\d+E\d+`,
			want: model.FilterRule{Name: "shows", Pattern: `Show\.S\d+E\d+`, Enabled: true},
		},
		{
			name: "pattern keeps inner spaces",
			args: "  docs   nature  documentary ",
			want: model.FilterRule{Name: "docs", Pattern: "nature  documentary", Enabled: true},
		},
		{
			name:    "missing pattern",
			args:    "shows",
			wantErr: true,
		},
		{
			name:    "empty args",
			args:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilterArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseFilterArgs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFeedURL(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    string
		wantErr bool
	}{
		{name: "https", args: "https://tracker.example.com/rss?passkey=1", want: "https://tracker.example.com/rss?passkey=1"},
		{name: "extra words ignored", args: "http://a.example/rss please", want: "http://a.example/rss"},
		{name: "empty", args: "  ", wantErr: true},
		{name: "magnet is not a feed", args: "magnet:?xt=urn:btih:1", wantErr: true},
		{name: "no host", args: "https://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFeedURL(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseFeedURL() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseNameArg(t *testing.T) {
	got, err := ParseNameArg(" shows extra")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff("shows", got); diff != "" {
		t.Errorf("ParseNameArg() mismatch (-want +got):\n%s", diff)
	}
	if _, err := ParseNameArg(""); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestFormatDelivered(t *testing.T) {
	tests := []struct {
		name string
		rec  model.HistoryRecord
		want string
	}{
		{
			name: "from feed",
			rec:  model.HistoryRecord{Title: "Show.S01E01", SourceURL: "https://a.example/rss"},
			want: "Delivered: Show.S01E01\nFrom: https://a.example/rss",
		},
		{
			name: "manual",
			rec:  model.HistoryRecord{Title: "Manual Add", GUID: "magnet:?xt=1"},
			want: "Delivered: Manual Add",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatDelivered(tt.rec)); diff != "" {
				t.Errorf("FormatDelivered() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatStatus(t *testing.T) {
	last := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)
	st := scheduler.Status{LastSync: last, Interval: 15 * time.Minute}

	got := FormatStatus(st, last.Add(5*time.Minute))
	want := "Last sync: 2025-01-06 12:00 UTC (5 min ago)\nInterval: 15m0s\nNext sync: 2025-01-06 12:15 UTC"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FormatStatus() mismatch (-want +got):\n%s", diff)
	}
}

func TestAgo(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 10 * time.Second, want: "just now"},
		{in: 42 * time.Minute, want: "42 min ago"},
		{in: 90 * time.Minute, want: "1.5 h ago"},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, ago(tt.in)); diff != "" {
			t.Errorf("ago(%s) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestFormatHistory(t *testing.T) {
	if diff := cmp.Diff("Nothing delivered yet.", FormatHistory(nil)); diff != "" {
		t.Errorf("empty history mismatch (-want +got):\n%s", diff)
	}

	var records []model.HistoryRecord
	for i := range 12 {
		records = append(records, model.HistoryRecord{
			Title:       "item",
			DeliveredAt: time.Date(2025, 1, 6, 12, i, 0, 0, time.UTC),
		})
	}
	got := FormatHistory(records)
	if diff := cmp.Diff(historyShown, strings.Count(got, "  item")); diff != "" {
		t.Errorf("shown entries mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasSuffix(got, "... and 2 more") {
		t.Errorf("missing overflow marker:\n%s", got)
	}
}

func TestFormatFeedList(t *testing.T) {
	if !strings.Contains(FormatFeedList(nil), "/addfeed") {
		t.Error("empty list should point to /addfeed")
	}

	got := FormatFeedList([]model.Feed{
		{URL: "https://a.example/rss", Enabled: true},
		{URL: "https://b.example/rss", Enabled: false},
	})
	want := "Feeds:\n\n1. https://a.example/rss [enabled]\n2. https://b.example/rss [disabled]"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FormatFeedList() mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatFilterList(t *testing.T) {
	if !strings.Contains(FormatFilterList(nil), "Nothing will be delivered") {
		t.Error("empty list should warn that nothing is delivered")
	}

	got := FormatFilterList([]model.FilterRule{{Name: "shows", Pattern: `Show\.S\d+`, Enabled: true}})
	want := "Filters:\n\nshows: Show\\.S\\d+ [enabled]"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FormatFilterList() mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterKeyboard(t *testing.T) {
	if _, ok := filterKeyboard(nil); ok {
		t.Error("no filters should produce no keyboard")
	}

	long := strings.Repeat("x", maxCallbackData)
	kb, ok := filterKeyboard([]model.FilterRule{
		{Name: "on", Pattern: "a", Enabled: true},
		{Name: "off", Pattern: "b", Enabled: false},
		{Name: long, Pattern: "c", Enabled: true},
	})
	if !ok {
		t.Fatal("expected keyboard")
	}

	var got []string
	for _, row := range kb.InlineKeyboard {
		for _, btn := range row {
			got = append(got, btn.Text+"="+*btn.CallbackData)
		}
	}
	want := []string{"Disable on=filter_off:on", "Enable off=filter_on:off"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("keyboard mismatch (-want +got):\n%s", diff)
	}
}
