package bot

import (
	"fmt"
	"strings"
	"time"

	"rss_watch/internal/model"
	"rss_watch/internal/scheduler"
)

const (
	statusEnabled  = "enabled"
	statusDisabled = "disabled"

	historyShown = 10
	timeFormat   = "2006-01-02 15:04 UTC"
)

// FormatDelivered formats the notification sent after a delivery.
func FormatDelivered(rec model.HistoryRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Delivered: %s", rec.Title)
	if rec.SourceURL != "" {
		fmt.Fprintf(&b, "\nFrom: %s", rec.SourceURL)
	}
	return b.String()
}

// FormatStatus formats the last sync time, relative to now, and the next
// scheduled one.
func FormatStatus(st scheduler.Status, now time.Time) string {
	last := st.LastSync.UTC()
	return fmt.Sprintf("Last sync: %s (%s)\nInterval: %s\nNext sync: %s",
		last.Format(timeFormat), ago(now.Sub(last)), st.Interval, last.Add(st.Interval).Format(timeFormat))
}

// FormatHistory formats the most recent deliveries, newest first.
func FormatHistory(records []model.HistoryRecord) string {
	if len(records) == 0 {
		return "Nothing delivered yet."
	}
	var b strings.Builder
	b.WriteString("Recent deliveries:\n")
	for i, r := range records {
		if i == historyShown {
			fmt.Fprintf(&b, "\n... and %d more", len(records)-historyShown)
			break
		}
		fmt.Fprintf(&b, "\n%s  %s", r.DeliveredAt.UTC().Format(timeFormat), r.Title)
	}
	return b.String()
}

// FormatFeedList formats the configured feeds.
func FormatFeedList(feeds []model.Feed) string {
	if len(feeds) == 0 {
		return "No feeds yet. Use /addfeed <url> to add one."
	}
	var b strings.Builder
	b.WriteString("Feeds:\n")
	for i, f := range feeds {
		fmt.Fprintf(&b, "\n%d. %s [%s]", i+1, f.URL, enabledLabel(f.Enabled))
	}
	return b.String()
}

// FormatFilterList formats the filter rules.
func FormatFilterList(filters []model.FilterRule) string {
	if len(filters) == 0 {
		return "No filters yet. Nothing will be delivered until you add one with /addfilter <name> <regex>."
	}
	var b strings.Builder
	b.WriteString("Filters:\n")
	for _, f := range filters {
		fmt.Fprintf(&b, "\n%s: %s [%s]", f.Name, f.Pattern, enabledLabel(f.Enabled))
	}
	return b.String()
}

func enabledLabel(enabled bool) string {
	if enabled {
		return statusEnabled
	}
	return statusDisabled
}

func ago(since time.Duration) string {
	switch {
	case since < time.Minute:
		return "just now"
	case since < time.Hour:
		return fmt.Sprintf("%d min ago", int(since.Minutes()))
	default:
		return fmt.Sprintf("%.1f h ago", since.Hours())
	}
}
