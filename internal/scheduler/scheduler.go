// Package scheduler runs sync cycles: fetch enabled feeds, skip delivered
// entries, match filters, deliver into the watch directory and record history.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"rss_watch/internal/filter"
	"rss_watch/internal/model"
	"rss_watch/internal/storage"
)

const (
	// DefaultInterval is the time between scheduled cycles.
	DefaultInterval = 15 * time.Minute
	// PreviewLimit caps the number of entries returned by Preview.
	PreviewLimit = 500

	defaultInitialDelay = 5 * time.Second
	manualTitle         = "Manual Add"
)

// ErrEmptyLink is returned by DeliverManual when no link is given.
var ErrEmptyLink = errors.New("no link provided")

// Fetcher retrieves the entries of one feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]model.Entry, error)
}

// Deliverer places the artifact for a link into a watch directory.
type Deliverer interface {
	Deliver(ctx context.Context, dir, title, link string) (string, error)
}

// Notifier is told about every successful delivery.
type Notifier interface {
	Delivered(rec model.HistoryRecord)
}

// Result summarizes one cycle.
type Result struct {
	Entries   int
	Delivered int
	Failed    int
}

// Status reports when the last cycle started and the cycle interval.
type Status struct {
	LastSync time.Time
	Interval time.Duration
}

// Scheduler owns the sync loop. Cycles never overlap; triggers received while
// a cycle runs collapse into a single follow-up cycle.
type Scheduler struct {
	store    storage.Storage
	fetcher  Fetcher
	writer   Deliverer
	filters  *filter.Engine
	notifier Notifier
	log      *slog.Logger

	tick         time.Duration
	initialDelay time.Duration
	trigger      chan struct{}
	cycleMu      sync.Mutex

	mu       sync.RWMutex
	lastSync time.Time
}

// New creates a Scheduler with the default 15-minute interval.
func New(store storage.Storage, f Fetcher, w Deliverer, filters *filter.Engine, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        store,
		fetcher:      f,
		writer:       w,
		filters:      filters,
		log:          log,
		tick:         DefaultInterval,
		initialDelay: defaultInitialDelay,
		trigger:      make(chan struct{}, 1),
		lastSync:     time.Now(),
	}
}

// SetTickInterval overrides the default 15-minute interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// SetInitialDelay overrides the delay before the first cycle after Run starts.
func (s *Scheduler) SetInitialDelay(d time.Duration) {
	s.initialDelay = d
}

// SetNotifier registers n to be told about deliveries. Call before Run.
func (s *Scheduler) SetNotifier(n Notifier) {
	s.notifier = n
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	first := time.NewTimer(s.initialDelay)
	defer first.Stop()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-first.C:
			s.RunCycle(ctx)
		case <-ticker.C:
			s.RunCycle(ctx)
		case <-s.trigger:
			s.RunCycle(ctx)
		}
	}
}

// Trigger requests a cycle as soon as possible. It never blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Status returns the start time of the last cycle and the interval.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{LastSync: s.lastSync, Interval: s.tick}
}

// RunCycle performs one full sync cycle. History is persisted once, after
// all entries were processed. Failures of single feeds or entries are logged
// and never abort the cycle. Cancelling ctx does not stop a running cycle;
// fetch and download timeouts bound it. The notifier is called after the
// cycle finished.
func (s *Scheduler) RunCycle(ctx context.Context) Result {
	res, delivered := s.runCycle(context.WithoutCancel(ctx))
	for _, rec := range delivered {
		s.notify(rec)
	}
	return res
}

func (s *Scheduler) runCycle(ctx context.Context) (Result, []model.HistoryRecord) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	s.lastSync = time.Now()
	s.mu.Unlock()

	log := s.log.With("cycle_id", uuid.NewString())
	settings := s.snapshot(ctx, log)

	feeds := settings.EnabledFeeds()
	if len(feeds) == 0 {
		log.Info("no enabled feeds")
		return Result{}, nil
	}

	entries := s.fetchAll(ctx, log, feeds)
	rules := settings.EnabledFilters()
	res := Result{Entries: len(entries)}

	var records []model.HistoryRecord
	seen := make(map[string]bool)
	for _, e := range entries {
		if seen[e.GUID] {
			continue
		}
		known, err := s.store.IsKnown(ctx, e.GUID)
		if err != nil {
			log.Error("check history", "guid", e.GUID, "error", err)
			continue
		}
		if known {
			continue
		}

		rule, ok := s.filters.Match(e.Title, rules)
		if !ok {
			continue
		}
		log.Info("entry matched", "title", e.Title, "filter", rule.Name)

		if _, err := s.writer.Deliver(ctx, settings.WatchDir, e.Title, e.Link); err != nil {
			res.Failed++
			continue
		}
		seen[e.GUID] = true

		rec := model.HistoryRecord{
			Title:       e.Title,
			DeliveredAt: time.Now().UTC(),
			GUID:        e.GUID,
			SourceURL:   e.SourceURL,
		}
		records = append(records, rec)
	}

	res.Delivered = len(records)
	if len(records) > 0 {
		if err := s.store.AppendHistory(ctx, records...); err != nil {
			log.Error("record history", "count", len(records), "error", err)
		}
		log.Info("processed new entries", "delivered", res.Delivered, "failed", res.Failed)
	} else {
		log.Info("no new matching entries", "entries", res.Entries, "failed", res.Failed)
	}
	return res, records
}

// Preview fetches all enabled feeds without side effects. Entries are
// deduplicated by title (first wins), sorted newest first and capped at
// PreviewLimit. Entries without a date sort last.
func (s *Scheduler) Preview(ctx context.Context) []model.Entry {
	log := s.log.With("op", "preview")
	settings := s.snapshot(ctx, log)

	feeds := settings.EnabledFeeds()
	if len(feeds) == 0 {
		return []model.Entry{}
	}

	entries := lo.UniqBy(s.fetchAll(ctx, log, feeds), func(e model.Entry) string { return e.Title })
	slices.SortStableFunc(entries, func(a, b model.Entry) int {
		switch {
		case a.PublishedAt.IsZero() && b.PublishedAt.IsZero():
			return 0
		case a.PublishedAt.IsZero():
			return 1
		case b.PublishedAt.IsZero():
			return -1
		}
		return b.PublishedAt.Compare(a.PublishedAt)
	})
	if len(entries) > PreviewLimit {
		entries = entries[:PreviewLimit]
	}
	return entries
}

// DeliverManual delivers an arbitrary magnet or torrent link and records it
// in history with the link as guid.
func (s *Scheduler) DeliverManual(ctx context.Context, link string) (model.HistoryRecord, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return model.HistoryRecord{}, ErrEmptyLink
	}

	settings := s.snapshot(ctx, s.log)
	now := time.Now().UTC()
	title := fmt.Sprintf("Manual_Add_%d", now.UnixMilli())

	if _, err := s.writer.Deliver(ctx, settings.WatchDir, title, link); err != nil {
		return model.HistoryRecord{}, err
	}

	// The artifact is already in the watch directory; record it even if the
	// caller went away.
	rec := model.HistoryRecord{Title: manualTitle, DeliveredAt: now, GUID: link}
	if err := s.store.AppendHistory(context.WithoutCancel(ctx), rec); err != nil {
		s.log.Error("record manual delivery", "link", link, "error", err)
	}
	s.notify(rec)
	return rec, nil
}

// snapshot loads the current settings. A store failure is logged and
// degrades to empty settings.
func (s *Scheduler) snapshot(ctx context.Context, log *slog.Logger) model.Settings {
	settings, err := s.store.Settings(ctx)
	if err != nil {
		log.Error("load settings", "error", err)
		return model.Settings{}
	}
	return settings
}

// fetchAll fetches feeds sequentially in declaration order and concatenates
// their entries. Failed feeds are logged and skipped.
func (s *Scheduler) fetchAll(ctx context.Context, log *slog.Logger, feeds []model.Feed) []model.Entry {
	var all []model.Entry
	for _, f := range feeds {
		log.Debug("fetching feed", "url", f.URL)
		entries, err := s.fetcher.Fetch(ctx, f.URL)
		if err != nil {
			log.Error("fetch feed", "url", f.URL, "error", err)
			continue
		}
		all = append(all, entries...)
	}
	return all
}

func (s *Scheduler) notify(rec model.HistoryRecord) {
	if s.notifier != nil {
		s.notifier.Delivered(rec)
	}
}
