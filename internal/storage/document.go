package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"rss_watch/internal/model"
)

// Document is the on-disk shape of the JSON store. It is also the import
// format accepted by (*SQLite).Import.
type Document struct {
	WatchDir        string                `json:"watchDir"`
	Feeds           []model.Feed          `json:"rssFeeds"`
	Filters         []model.FilterRule    `json:"filters"`
	DownloadHistory []model.HistoryRecord `json:"downloadHistory"`
}

// NewDocument returns an empty document pointing at watchDir.
func NewDocument(watchDir string) Document {
	return Document{
		WatchDir:        watchDir,
		Feeds:           []model.Feed{},
		Filters:         []model.FilterRule{},
		DownloadHistory: []model.HistoryRecord{},
	}
}

type legacyFilter struct {
	Name    string `json:"name"`
	Regex   string `json:"regex"`
	Enabled *bool  `json:"enabled"`
}

type legacyRecord struct {
	Title  string `json:"title"`
	Date   string `json:"date"`
	GUID   string `json:"guid"`
	Source string `json:"source"`
}

// legacyDocument accepts every shape the store has used: a single rssUrl
// string, feeds as plain URL strings or objects, a single filterRegex
// string, and filters without an enabled flag.
type legacyDocument struct {
	WatchDir        *string           `json:"watchDir"`
	RSSURL          *string           `json:"rssUrl"`
	RSSFeeds        []json.RawMessage `json:"rssFeeds"`
	FilterRegex     *string           `json:"filterRegex"`
	Filters         []legacyFilter    `json:"filters"`
	DownloadHistory []legacyRecord    `json:"downloadHistory"`

	hasFeeds   bool
	hasFilters bool
}

// UpgradeDocument decodes raw in any historical shape and returns the
// canonical document. upgraded reports whether anything had to change, so
// the caller writes the result back at most once. Upgrading the marshalled
// output of a previous upgrade is a no-op.
func UpgradeDocument(raw []byte, defaultWatchDir string) (doc Document, upgraded bool, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Document{}, false, fmt.Errorf("decode document: %w", err)
	}
	var legacy legacyDocument
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return Document{}, false, fmt.Errorf("decode document: %w", err)
	}
	_, legacy.hasFeeds = fields["rssFeeds"]
	_, legacy.hasFilters = fields["filters"]
	if _, ok := fields["downloadHistory"]; !ok {
		upgraded = true
	}

	doc = NewDocument(defaultWatchDir)

	if legacy.WatchDir != nil && *legacy.WatchDir != "" {
		doc.WatchDir = *legacy.WatchDir
	} else {
		upgraded = true
	}

	if !legacy.hasFeeds {
		upgraded = true
		if legacy.RSSURL != nil {
			doc.Feeds = append(doc.Feeds, model.Feed{URL: *legacy.RSSURL, Enabled: true})
		}
	}
	if legacy.RSSURL != nil {
		upgraded = true
	}
	for _, rawFeed := range legacy.RSSFeeds {
		f, converted, err := decodeFeed(rawFeed)
		if err != nil {
			return Document{}, false, err
		}
		upgraded = upgraded || converted
		doc.Feeds = append(doc.Feeds, f)
	}

	if !legacy.hasFilters {
		upgraded = true
		if legacy.FilterRegex != nil {
			doc.Filters = append(doc.Filters, model.FilterRule{Name: "Default", Pattern: *legacy.FilterRegex, Enabled: true})
		}
	}
	if legacy.FilterRegex != nil {
		upgraded = true
	}
	for _, lf := range legacy.Filters {
		rule := model.FilterRule{Name: lf.Name, Pattern: lf.Regex, Enabled: true}
		if lf.Enabled == nil {
			upgraded = true
		} else {
			rule.Enabled = *lf.Enabled
		}
		if rule.Name == "" {
			rule.Name = rule.Pattern
			upgraded = true
		}
		doc.Filters = append(doc.Filters, rule)
	}

	for _, lr := range legacy.DownloadHistory {
		rec := model.HistoryRecord{Title: lr.Title, GUID: lr.GUID, SourceURL: lr.Source}
		if lr.Date != "" {
			if t, err := time.Parse(time.RFC3339Nano, lr.Date); err == nil {
				rec.DeliveredAt = t.UTC()
			}
		}
		doc.DownloadHistory = append(doc.DownloadHistory, rec)
	}
	if len(doc.DownloadHistory) > model.HistoryLimit {
		doc.DownloadHistory = doc.DownloadHistory[:model.HistoryLimit]
		upgraded = true
	}

	return doc, upgraded, nil
}

func decodeFeed(raw json.RawMessage) (model.Feed, bool, error) {
	var url string
	if err := json.Unmarshal(raw, &url); err == nil {
		return model.Feed{URL: url, Enabled: true}, true, nil
	}
	var obj struct {
		URL     string `json:"url"`
		Enabled *bool  `json:"enabled"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return model.Feed{}, false, fmt.Errorf("decode feed: %w", err)
	}
	if obj.Enabled == nil {
		return model.Feed{URL: obj.URL, Enabled: true}, true, nil
	}
	return model.Feed{URL: obj.URL, Enabled: *obj.Enabled}, false, nil
}
