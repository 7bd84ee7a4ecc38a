// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"fmt"

	"rss_watch/internal/filter"
	"rss_watch/internal/model"
)

var (
	// ErrNotFound is returned when a feed or filter does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a filter name or pattern is already taken.
	ErrDuplicate = errors.New("already exists")
)

// StoreError reports that the durable store could not be read or written.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Storage is the interface for all persistence operations. Every method is
// atomic with respect to the others.
type Storage interface {
	Settings(ctx context.Context) (model.Settings, error)
	SetWatchDir(ctx context.Context, dir string) error

	ListFeeds(ctx context.Context) ([]model.Feed, error)
	// AddFeed reports false if a feed with the same URL already exists.
	AddFeed(ctx context.Context, url string) (bool, error)
	RemoveFeed(ctx context.Context, url string) error
	SetFeedEnabled(ctx context.Context, url string, enabled bool) error

	ListFilters(ctx context.Context) ([]model.FilterRule, error)
	AddFilter(ctx context.Context, rule model.FilterRule) error
	RemoveFilter(ctx context.Context, name string) error
	SetFilterEnabled(ctx context.Context, name string, enabled bool) error

	// History returns delivery records, most recent first.
	History(ctx context.Context) ([]model.HistoryRecord, error)
	IsKnown(ctx context.Context, guid string) (bool, error)
	// AppendHistory records deliveries given in the order they happened and
	// keeps only the model.HistoryLimit most recent.
	AppendHistory(ctx context.Context, records ...model.HistoryRecord) error

	Close() error
}

func validateFilter(rule model.FilterRule) error {
	if rule.Name == "" {
		return errors.New("filter name is required")
	}
	return filter.ValidateRegex(rule.Pattern)
}

func duplicateFilterError(name bool) error {
	if name {
		return fmt.Errorf("filter with this name %w", ErrDuplicate)
	}
	return fmt.Errorf("filter with this regex %w", ErrDuplicate)
}
