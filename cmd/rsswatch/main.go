package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	slogmulti "github.com/samber/slog-multi"

	"rss_watch/internal/api"
	"rss_watch/internal/bot"
	"rss_watch/internal/config"
	"rss_watch/internal/delivery"
	"rss_watch/internal/fetcher"
	"rss_watch/internal/filter"
	"rss_watch/internal/scheduler"
	"rss_watch/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml, json or toml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log, closeLog, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		slog.Error("open log file", "path", cfg.LogFile, "error", err)
		os.Exit(1)
	}
	defer closeLog()

	store, err := openStore(cfg, log)
	if err != nil {
		log.Error("open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	f := fetcher.New(http.DefaultClient)
	f.SetTimeout(cfg.FetchTimeout)
	w := delivery.New(http.DefaultClient, log)
	w.SetTimeout(cfg.FetchTimeout)

	sched := scheduler.New(store, f, w, filter.New(log), log)
	sched.SetTickInterval(cfg.SyncInterval)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var b *bot.Bot
	if cfg.TelegramBotToken != "" {
		b, err = bot.New(cfg.TelegramBotToken, store, sched, cfg, log)
		if err != nil {
			log.Error("create bot", "error", err)
			os.Exit(1)
		}
		sched.SetNotifier(b)
	}

	srv := newHTTPServer(cfg.HTTPAddr, api.New(store, sched, log).Handler())

	go sched.Run(ctx)
	if b != nil {
		go b.Run(ctx)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown http server", "error", err)
		}
	}()

	log.Info("starting rss_watch",
		"addr", cfg.HTTPAddr,
		"store", cfg.StoreDriver,
		"interval", cfg.SyncInterval,
		"telegram", b != nil,
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http server", "error", err)
		cancel()
		closeLog()
		os.Exit(1)
	}

	log.Info("rss_watch stopped")
}

// newHTTPServer sets no write timeout: a preview fetches every enabled feed
// in turn, each bounded only by the fetch timeout.
func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

func openStore(cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	path := cfg.DatabasePath
	if cfg.StoreDriver == config.DriverJSON {
		path = cfg.JSONStorePath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
		}
	}

	if cfg.StoreDriver == config.DriverJSON {
		s, err := storage.OpenJSONFile(path, cfg.WatchDir, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := storage.OpenSQLite(path, cfg.WatchDir, log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newLogger writes text logs to stderr and, when path is set, JSON logs to
// that file as well.
func newLogger(level, path string) (*slog.Logger, func(), error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	stderr := slog.NewTextHandler(os.Stderr, opts)
	if path == "" {
		return slog.New(stderr), func() {}, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, nil, err
	}
	handler := slogmulti.Fanout(stderr, slog.NewJSONHandler(file, opts))
	return slog.New(handler), func() { _ = file.Close() }, nil
}
