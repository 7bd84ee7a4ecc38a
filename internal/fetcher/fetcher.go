// Package fetcher handles feed downloading and parsing.
package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/mmcdole/gofeed"

	"rss_watch/internal/model"
)

const (
	// MaxEntries caps the number of entries taken from a single feed.
	MaxEntries = 300

	maxBodySize    = 10 * 1024 * 1024
	defaultTimeout = 30 * time.Second
	userAgent      = "rss_watch/1.0"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchError reports a failed download or parse of one feed.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: defaultTimeout,
	}
}

// SetTimeout overrides the default 30-second per-feed timeout.
func (f *Fetcher) SetTimeout(d time.Duration) {
	if d > 0 {
		f.timeout = d
	}
}

// Fetch downloads the feed at url and returns the MaxEntries most recent
// entries in document order. Any failure is returned as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]model.Entry, error) {
	feed, err := f.fetchFeed(ctx, url)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	items := mostRecent(feed.Items, MaxEntries)
	entries := make([]model.Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, model.Entry{
			Title:       item.Title,
			Link:        item.Link,
			PublishedAt: ItemTime(item),
			SourceURL:   url,
			GUID:        ItemGUID(item),
		})
	}
	return entries, nil
}

// mostRecent drops nil items and keeps the n newest, undated items ranking
// last. The kept items stay in document order.
func mostRecent(items []*gofeed.Item, n int) []*gofeed.Item {
	items = slices.DeleteFunc(slices.Clone(items), func(it *gofeed.Item) bool { return it == nil })
	if len(items) <= n {
		return items
	}

	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ta, tb := ItemTime(items[a]), ItemTime(items[b])
		switch {
		case ta.IsZero() && tb.IsZero():
			return 0
		case ta.IsZero():
			return 1
		case tb.IsZero():
			return -1
		}
		return tb.Compare(ta)
	})
	keep := order[:n]
	slices.Sort(keep)

	out := make([]*gofeed.Item, 0, n)
	for _, i := range keep {
		out = append(out, items[i])
	}
	return out
}

func (f *Fetcher) fetchFeed(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// ItemGUID returns the dedup key for a feed item: its GUID, else its link.
// Items carrying neither get a SHA-256 hash of the title.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	if item.Link != "" {
		return item.Link
	}
	h := sha256.Sum256([]byte(item.Title))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// ItemTime returns the item's publication time, falling back to its update
// time. Zero if the feed provides neither.
func ItemTime(item *gofeed.Item) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC()
	default:
		return time.Time{}
	}
}
