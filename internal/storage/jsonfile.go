package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/samber/lo"

	"rss_watch/internal/model"
)

// JSONFile implements Storage as a single JSON document on disk. Every
// mutation rewrites the whole document through a temp file and rename.
type JSONFile struct {
	path string
	log  *slog.Logger

	mu  sync.Mutex
	doc Document
}

// OpenJSONFile loads the document at path, upgrading legacy shapes once.
// A missing file is created with defaults. An unreadable or corrupt file is
// moved aside to path+".corrupt" and the store starts empty. A failed write
// is logged and the store keeps serving the document from memory, so the
// service stays available.
func OpenJSONFile(path, defaultWatchDir string, log *slog.Logger) (*JSONFile, error) {
	s := &JSONFile{path: path, log: log, doc: NewDocument(defaultWatchDir)}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := s.persist(s.doc); err != nil {
			log.Error("create store file", "path", path, "error", err)
		}
		return s, nil
	case err != nil:
		s.degrade(&StoreError{Op: "read", Err: err})
		return s, nil
	}

	doc, upgraded, err := UpgradeDocument(raw, defaultWatchDir)
	if err != nil {
		s.degrade(&StoreError{Op: "decode", Err: err})
		return s, nil
	}
	s.doc = doc
	if upgraded {
		log.Info("upgraded store document", "path", path)
		if err := s.persist(doc); err != nil {
			log.Error("write upgraded store document", "path", path, "error", err)
		}
	}
	return s, nil
}

func (s *JSONFile) degrade(err error) {
	s.log.Error("store unreadable, starting with defaults", "path", s.path, "error", err)
	if rerr := os.Rename(s.path, s.path+".corrupt"); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
		s.log.Warn("keep corrupt store", "path", s.path, "error", rerr)
	}
}

// Close is a no-op; every mutation is already on disk.
func (s *JSONFile) Close() error { return nil }

// Settings returns a copy of the watch directory, feeds and filters.
func (s *JSONFile) Settings(_ context.Context) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Settings{
		WatchDir: s.doc.WatchDir,
		Feeds:    slices.Clone(s.doc.Feeds),
		Filters:  slices.Clone(s.doc.Filters),
	}, nil
}

// SetWatchDir stores the watch directory.
func (s *JSONFile) SetWatchDir(_ context.Context, dir string) error {
	return s.update(func(doc *Document) error {
		doc.WatchDir = dir
		return nil
	})
}

// ListFeeds returns all feeds in the order they were added.
func (s *JSONFile) ListFeeds(_ context.Context) ([]model.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.doc.Feeds), nil
}

// AddFeed appends an enabled feed unless its URL is already present.
func (s *JSONFile) AddFeed(_ context.Context, url string) (bool, error) {
	added := false
	err := s.update(func(doc *Document) error {
		if lo.ContainsBy(doc.Feeds, func(f model.Feed) bool { return f.URL == url }) {
			return errNoChange
		}
		doc.Feeds = append(doc.Feeds, model.Feed{URL: url, Enabled: true})
		added = true
		return nil
	})
	return added, err
}

// RemoveFeed deletes a feed. Removing an unknown URL is not an error.
func (s *JSONFile) RemoveFeed(_ context.Context, url string) error {
	return s.update(func(doc *Document) error {
		doc.Feeds = lo.Reject(doc.Feeds, func(f model.Feed, _ int) bool { return f.URL == url })
		return nil
	})
}

// SetFeedEnabled enables or disables a feed.
func (s *JSONFile) SetFeedEnabled(_ context.Context, url string, enabled bool) error {
	return s.update(func(doc *Document) error {
		_, i, ok := lo.FindIndexOf(doc.Feeds, func(f model.Feed) bool { return f.URL == url })
		if !ok {
			return fmt.Errorf("feed %w", ErrNotFound)
		}
		doc.Feeds[i].Enabled = enabled
		return nil
	})
}

// ListFilters returns all filter rules in the order they were added.
func (s *JSONFile) ListFilters(_ context.Context) ([]model.FilterRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.doc.Filters), nil
}

// AddFilter validates and appends a filter rule. Names and patterns are unique.
func (s *JSONFile) AddFilter(_ context.Context, rule model.FilterRule) error {
	if err := validateFilter(rule); err != nil {
		return err
	}
	return s.update(func(doc *Document) error {
		if lo.ContainsBy(doc.Filters, func(f model.FilterRule) bool { return f.Name == rule.Name }) {
			return duplicateFilterError(true)
		}
		if lo.ContainsBy(doc.Filters, func(f model.FilterRule) bool { return f.Pattern == rule.Pattern }) {
			return duplicateFilterError(false)
		}
		doc.Filters = append(doc.Filters, rule)
		return nil
	})
}

// RemoveFilter deletes a filter rule by name.
func (s *JSONFile) RemoveFilter(_ context.Context, name string) error {
	return s.update(func(doc *Document) error {
		kept := lo.Reject(doc.Filters, func(f model.FilterRule, _ int) bool { return f.Name == name })
		if len(kept) == len(doc.Filters) {
			return fmt.Errorf("filter %w", ErrNotFound)
		}
		doc.Filters = kept
		return nil
	})
}

// SetFilterEnabled enables or disables a filter rule by name.
func (s *JSONFile) SetFilterEnabled(_ context.Context, name string, enabled bool) error {
	return s.update(func(doc *Document) error {
		_, i, ok := lo.FindIndexOf(doc.Filters, func(f model.FilterRule) bool { return f.Name == name })
		if !ok {
			return fmt.Errorf("filter %w", ErrNotFound)
		}
		doc.Filters[i].Enabled = enabled
		return nil
	})
}

// History returns delivery records, most recent first.
func (s *JSONFile) History(_ context.Context) ([]model.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.doc.DownloadHistory), nil
}

// IsKnown checks whether an entry with guid has already been delivered.
func (s *JSONFile) IsKnown(_ context.Context, guid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.ContainsBy(s.doc.DownloadHistory, func(r model.HistoryRecord) bool { return r.GUID == guid }), nil
}

// AppendHistory prepends records, newest first, and evicts the oldest beyond
// model.HistoryLimit.
func (s *JSONFile) AppendHistory(_ context.Context, records ...model.HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.update(func(doc *Document) error {
		head := slices.Clone(records)
		slices.Reverse(head)
		doc.DownloadHistory = append(head, doc.DownloadHistory...)
		if len(doc.DownloadHistory) > model.HistoryLimit {
			doc.DownloadHistory = doc.DownloadHistory[:model.HistoryLimit]
		}
		return nil
	})
}

var errNoChange = errors.New("no change")

// update applies fn to a copy of the document and persists it. The in-memory
// document is only replaced once the write succeeded.
func (s *JSONFile) update(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Document{
		WatchDir:        s.doc.WatchDir,
		Feeds:           slices.Clone(s.doc.Feeds),
		Filters:         slices.Clone(s.doc.Filters),
		DownloadHistory: slices.Clone(s.doc.DownloadHistory),
	}
	if err := fn(&next); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *JSONFile) persist(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &StoreError{Op: "encode", Err: err}
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return &StoreError{Op: "write", Err: err}
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &StoreError{Op: "write", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &StoreError{Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &StoreError{Op: "write", Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return &StoreError{Op: "write", Err: err}
	}
	return nil
}
