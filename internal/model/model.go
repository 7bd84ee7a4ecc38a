// Package model defines the domain types used across the application.
package model

import "time"

// HistoryLimit is the maximum number of delivery records kept.
const HistoryLimit = 50

// Feed represents a polled feed subscription.
type Feed struct {
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// FilterRule is a named, case-insensitive regular expression matched
// against entry titles.
type FilterRule struct {
	Name    string `json:"name"`
	Pattern string `json:"regex"`
	Enabled bool   `json:"enabled"`
}

// Entry is a single item produced by one feed fetch. It is never persisted.
type Entry struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"date"`
	SourceURL   string    `json:"source"`
	GUID        string    `json:"-"`
}

// HistoryRecord tracks an entry that has been delivered to the watch directory.
type HistoryRecord struct {
	Title       string    `json:"title"`
	DeliveredAt time.Time `json:"date"`
	GUID        string    `json:"guid"`
	SourceURL   string    `json:"source,omitempty"`
}

// Settings is a point-in-time snapshot of the user configuration.
type Settings struct {
	WatchDir string       `json:"watchDir"`
	Feeds    []Feed       `json:"rssFeeds"`
	Filters  []FilterRule `json:"filters"`
}

// EnabledFeeds returns the enabled feeds in declaration order.
func (s Settings) EnabledFeeds() []Feed {
	var out []Feed
	for _, f := range s.Feeds {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}

// EnabledFilters returns the enabled filter rules in declaration order.
func (s Settings) EnabledFilters() []FilterRule {
	var out []FilterRule
	for _, f := range s.Filters {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}
