package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/feeds"

	"rss_watch/internal/config"
	"rss_watch/internal/delivery"
	"rss_watch/internal/filter"
	"rss_watch/internal/model"
	"rss_watch/internal/scheduler"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.Settings(r.Context())
	if err != nil {
		s.log.Error("load settings", "error", err)
		settings = model.Settings{}
	}
	if settings.Feeds == nil {
		settings.Feeds = []model.Feed{}
	}
	if settings.Filters == nil {
		settings.Filters = []model.FilterRule{}
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WatchDir string `json:"watchDir"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.WatchDir) == "" {
		s.writeError(w, http.StatusNotFound, "Use specific endpoints for feeds/filters")
		return
	}

	dir := config.ExpandHome(strings.TrimSpace(req.WatchDir))
	if err := s.store.SetWatchDir(r.Context(), dir); err != nil {
		s.writeStoreError(w, "update watch dir", err, "")
		return
	}
	s.log.Info("watch directory updated", "dir", dir)
	s.writeOK(w, "Settings saved")
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.ListFeeds(r.Context())
	if err != nil {
		s.log.Error("list feeds", "error", err)
		feeds = []model.Feed{}
	}
	s.writeJSON(w, http.StatusOK, feeds)
}

type feedRequest struct {
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleAddFeed(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		s.writeError(w, http.StatusBadRequest, "URL required")
		return
	}

	added, err := s.store.AddFeed(r.Context(), url)
	if err != nil {
		s.writeStoreError(w, "add feed", err, "")
		return
	}
	if added {
		s.log.Info("feed added", "url", url)
		s.sync.Trigger()
	}
	s.writeOK(w, "Feed added")
}

func (s *Server) handleRemoveFeed(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "URL required")
		return
	}
	if err := s.store.RemoveFeed(r.Context(), req.URL); err != nil {
		s.writeStoreError(w, "remove feed", err, "")
		return
	}
	s.writeOK(w, "Feed removed")
}

func (s *Server) handleToggleFeed(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := s.store.SetFeedEnabled(r.Context(), req.URL, req.Enabled); err != nil {
		s.writeStoreError(w, "toggle feed", err, "Feed not found")
		return
	}
	s.writeOK(w, "Feed updated")
}

func (s *Server) handleListFilters(w http.ResponseWriter, r *http.Request) {
	filters, err := s.store.ListFilters(r.Context())
	if err != nil {
		s.log.Error("list filters", "error", err)
		filters = []model.FilterRule{}
	}
	s.writeJSON(w, http.StatusOK, filters)
}

type filterRequest struct {
	Name    string `json:"name"`
	Regex   string `json:"regex"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleAddFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" || req.Regex == "" {
		s.writeError(w, http.StatusBadRequest, "Name and Regex are required")
		return
	}

	rule := model.FilterRule{Name: req.Name, Pattern: req.Regex, Enabled: true}
	if err := s.store.AddFilter(r.Context(), rule); err != nil {
		var invalid *filter.InvalidPatternError
		if errors.As(err, &invalid) {
			s.writeError(w, http.StatusBadRequest, "Invalid Regex")
			return
		}
		s.writeStoreError(w, "add filter", err, "")
		return
	}
	s.log.Info("filter added", "name", rule.Name, "pattern", rule.Pattern)
	s.sync.Trigger()
	s.writeOK(w, "Filter added")
}

func (s *Server) handleRemoveFilter(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.store.RemoveFilter(r.Context(), name); err != nil {
		s.writeStoreError(w, "remove filter", err, "Filter not found")
		return
	}
	s.writeOK(w, "Filter deleted")
}

func (s *Server) handleToggleFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := s.store.SetFilterEnabled(r.Context(), req.Name, req.Enabled); err != nil {
		s.writeStoreError(w, "toggle filter", err, "Filter not found")
		return
	}
	s.writeOK(w, "Filter updated")
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Items []model.Entry `json:"items"`
	}{Items: s.sync.Preview(r.Context())})
}

func (s *Server) history(r *http.Request) []model.HistoryRecord {
	records, err := s.store.History(r.Context())
	if err != nil {
		s.log.Error("load history", "error", err)
		return []model.HistoryRecord{}
	}
	return records
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.history(r))
}

func (s *Server) handleHistoryRSS(w http.ResponseWriter, r *http.Request) {
	records := s.history(r)
	base := fmt.Sprintf("%s://%s", scheme(r), r.Host)

	feed := &feeds.Feed{
		Title:       "rss_watch deliveries",
		Link:        &feeds.Link{Href: base + "/api/history"},
		Description: "Entries delivered to the watch directory",
	}
	if len(records) > 0 {
		feed.Updated = records[0].DeliveredAt
	}
	for _, rec := range records {
		item := &feeds.Item{
			Title:   rec.Title,
			Link:    &feeds.Link{Href: rec.GUID},
			Id:      rec.GUID,
			Created: rec.DeliveredAt,
		}
		if rec.SourceURL != "" {
			item.Description = "Delivered from " + rec.SourceURL
		}
		feed.Items = append(feed.Items, item)
	}

	rss, err := feed.ToRss()
	if err != nil {
		s.log.Error("render history feed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to generate RSS")
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rss))
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Link string `json:"link"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	_, err := s.sync.DeliverManual(r.Context(), req.Link)
	switch {
	case errors.Is(err, scheduler.ErrEmptyLink):
		s.writeError(w, http.StatusBadRequest, "No link provided")
	case err != nil:
		s.log.Error("manual delivery", "link", req.Link, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to write file: "+delivery.Reason(err))
	default:
		s.writeOK(w, "Link added to Watch Directory")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.sync.Status()
	s.writeJSON(w, http.StatusOK, struct {
		LastSync int64 `json:"lastSync"`
		Interval int64 `json:"interval"`
	}{
		LastSync: st.LastSync.UnixMilli(),
		Interval: st.Interval.Milliseconds(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
