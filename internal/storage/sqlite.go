package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"rss_watch/internal/model"
	"rss_watch/migrations"
)

const (
	timeLayout     = time.RFC3339Nano
	keyWatchDir    = "watch_dir"
	historyColumns = `title, delivered_at, guid, source_url`
)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn, runs pending migrations and
// seeds the watch directory with defaultWatchDir if none is stored yet.
func NewSQLite(dsn, defaultWatchDir string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if defaultWatchDir != "" {
		if _, err := db.Exec(`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`,
			keyWatchDir, defaultWatchDir); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("seed watch dir: %w", err)
		}
	}

	return &SQLite{db: db}, nil
}

// OpenSQLite opens the database file at path like NewSQLite. A file that
// cannot be opened or migrated is moved aside to path+".corrupt" and a fresh
// database is created in its place. If that fails too, state is kept in
// memory until restart, so the service stays available.
func OpenSQLite(path, defaultWatchDir string, log *slog.Logger) (*SQLite, error) {
	s, err := NewSQLite(path, defaultWatchDir)
	if err == nil {
		return s, nil
	}
	log.Error("store unreadable, starting with defaults", "path", path, "error", &StoreError{Op: "open", Err: err})

	for _, name := range []string{path, path + "-wal", path + "-shm"} {
		if rerr := os.Rename(name, name+".corrupt"); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			log.Warn("keep corrupt store", "path", name, "error", rerr)
		}
	}
	if s, err = NewSQLite(path, defaultWatchDir); err == nil {
		return s, nil
	}

	log.Error("store not writable, keeping state in memory", "path", path, "error", err)
	return NewSQLite(":memory:", defaultWatchDir)
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Settings returns the watch directory, feeds and filters.
func (s *SQLite) Settings(ctx context.Context) (model.Settings, error) {
	var out model.Settings

	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, keyWatchDir).Scan(&out.WatchDir)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.Settings{}, fmt.Errorf("query watch dir: %w", err)
	}

	if out.Feeds, err = s.ListFeeds(ctx); err != nil {
		return model.Settings{}, err
	}
	if out.Filters, err = s.ListFilters(ctx); err != nil {
		return model.Settings{}, err
	}
	return out, nil
}

// SetWatchDir stores the watch directory.
func (s *SQLite) SetWatchDir(ctx context.Context, dir string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		keyWatchDir, dir,
	)
	if err != nil {
		return fmt.Errorf("update watch dir: %w", err)
	}
	return nil
}

// ListFeeds returns all feeds in the order they were added.
func (s *SQLite) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, enabled FROM feeds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	feeds := []model.Feed{}
	for rows.Next() {
		var f model.Feed
		var enabled int
		if err := rows.Scan(&f.URL, &enabled); err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		f.Enabled = enabled == 1
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// AddFeed inserts an enabled feed unless its URL is already present.
func (s *SQLite) AddFeed(ctx context.Context, url string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO feeds (url, enabled, created_at) VALUES (?, 1, ?)`,
		url, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("insert feed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// RemoveFeed deletes a feed. Removing an unknown URL is not an error.
func (s *SQLite) RemoveFeed(ctx context.Context, url string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM feeds WHERE url = ?`, url); err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	return nil
}

// SetFeedEnabled enables or disables a feed.
func (s *SQLite) SetFeedEnabled(ctx context.Context, url string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE feeds SET enabled = ? WHERE url = ?`, boolToInt(enabled), url)
	if err != nil {
		return fmt.Errorf("update feed: %w", err)
	}
	return requireAffected(res, "feed")
}

// ListFilters returns all filter rules in the order they were added.
func (s *SQLite) ListFilters(ctx context.Context) ([]model.FilterRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, pattern, enabled FROM filters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query filters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	filters := []model.FilterRule{}
	for rows.Next() {
		var f model.FilterRule
		var enabled int
		if err := rows.Scan(&f.Name, &f.Pattern, &enabled); err != nil {
			return nil, fmt.Errorf("scan filter: %w", err)
		}
		f.Enabled = enabled == 1
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

// AddFilter validates and inserts a filter rule. Names and patterns are unique.
func (s *SQLite) AddFilter(ctx context.Context, rule model.FilterRule) error {
	if err := validateFilter(rule); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var byName, byPattern int
	err = tx.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(name = ?), 0),
		   COALESCE(SUM(pattern = ?), 0)
		 FROM filters`,
		rule.Name, rule.Pattern,
	).Scan(&byName, &byPattern)
	if err != nil {
		return fmt.Errorf("check duplicates: %w", err)
	}
	if byName > 0 {
		return duplicateFilterError(true)
	}
	if byPattern > 0 {
		return duplicateFilterError(false)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO filters (name, pattern, enabled, created_at) VALUES (?, ?, ?, ?)`,
		rule.Name, rule.Pattern, boolToInt(rule.Enabled), time.Now().UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("insert filter: %w", err)
	}
	return tx.Commit()
}

// RemoveFilter deletes a filter rule by name.
func (s *SQLite) RemoveFilter(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM filters WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete filter: %w", err)
	}
	return requireAffected(res, "filter")
}

// SetFilterEnabled enables or disables a filter rule by name.
func (s *SQLite) SetFilterEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE filters SET enabled = ? WHERE name = ?`, boolToInt(enabled), name)
	if err != nil {
		return fmt.Errorf("update filter: %w", err)
	}
	return requireAffected(res, "filter")
}

// History returns delivery records, most recent first.
func (s *SQLite) History(ctx context.Context) ([]model.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM history ORDER BY id DESC LIMIT ?`, model.HistoryLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []model.HistoryRecord{}
	for rows.Next() {
		var r model.HistoryRecord
		var delivered string
		if err := rows.Scan(&r.Title, &delivered, &r.GUID, &r.SourceURL); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.DeliveredAt, _ = time.Parse(timeLayout, delivered)
		records = append(records, r)
	}
	return records, rows.Err()
}

// IsKnown checks whether an entry with guid has already been delivered.
func (s *SQLite) IsKnown(ctx context.Context, guid string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history WHERE guid = ?`, guid).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	return count > 0, nil
}

// AppendHistory inserts records in one transaction and evicts the oldest
// beyond model.HistoryLimit.
func (s *SQLite) AppendHistory(ctx context.Context, records ...model.HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range records {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history (`+historyColumns+`) VALUES (?, ?, ?, ?)`,
			r.Title, r.DeliveredAt.UTC().Format(timeLayout), r.GUID, r.SourceURL,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)`,
		model.HistoryLimit,
	); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return tx.Commit()
}

// Import merges a JSON document into the database: the watch directory is
// replaced, unknown feeds and filters are added and history is appended.
func (s *SQLite) Import(ctx context.Context, doc Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)

	if doc.WatchDir != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
			keyWatchDir, doc.WatchDir,
		); err != nil {
			return fmt.Errorf("import watch dir: %w", err)
		}
	}
	for _, f := range doc.Feeds {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO feeds (url, enabled, created_at) VALUES (?, ?, ?)`,
			f.URL, boolToInt(f.Enabled), now,
		); err != nil {
			return fmt.Errorf("import feed: %w", err)
		}
	}
	for _, f := range doc.Filters {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO filters (name, pattern, enabled, created_at) VALUES (?, ?, ?, ?)`,
			f.Name, f.Pattern, boolToInt(f.Enabled), now,
		); err != nil {
			return fmt.Errorf("import filter: %w", err)
		}
	}
	// Documents keep history newest first; insert oldest first so ids follow
	// delivery order.
	for i := len(doc.DownloadHistory) - 1; i >= 0; i-- {
		r := doc.DownloadHistory[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history (`+historyColumns+`)
			 SELECT ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM history WHERE guid = ?)`,
			r.Title, r.DeliveredAt.UTC().Format(timeLayout), r.GUID, r.SourceURL, r.GUID,
		); err != nil {
			return fmt.Errorf("import history: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)`,
		model.HistoryLimit,
	); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return tx.Commit()
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
