package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"rss_watch/internal/storage"
	"rss_watch/migrations"
)

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/rsswatch.db"), "path to sqlite database")
	watchDir := flag.String("watch-dir", envOrDefault("WATCH_DIR", "./watch_files"), "watch directory used when the imported file has none")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <command>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  up             Migrate to the latest version")
		fmt.Fprintln(os.Stderr, "  up-one         Migrate one version up")
		fmt.Fprintln(os.Stderr, "  down           Roll back one version")
		fmt.Fprintln(os.Stderr, "  status         Show migration status")
		fmt.Fprintln(os.Stderr, "  version        Show current version")
		fmt.Fprintln(os.Stderr, "  reset          Roll back all migrations")
		fmt.Fprintln(os.Stderr, "  import <file>  Merge a JSON store file into the database")
		os.Exit(1)
	}

	cmd := args[0]
	if cmd == "import" {
		if len(args) < 2 {
			log.Fatal("import: path to JSON store file is required")
		}
		if err := importDocument(*dbPath, args[1], *watchDir); err != nil {
			log.Fatalf("import: %v", err)
		}
		return
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		log.Fatal(err)
	}

	switch cmd {
	case "up":
		err = goose.Up(db, ".")
	case "up-one":
		err = goose.UpByOne(db, ".")
	case "down":
		err = goose.Down(db, ".")
	case "status":
		err = goose.Status(db, ".")
	case "version":
		err = goose.Version(db, ".")
	case "reset":
		err = goose.Reset(db, ".")
	default:
		log.Fatalf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func importDocument(dbPath, docPath, watchDir string) error {
	raw, err := os.ReadFile(docPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", docPath, err)
	}
	doc, _, err := storage.UpgradeDocument(raw, watchDir)
	if err != nil {
		return err
	}

	store, err := storage.NewSQLite(dbPath, watchDir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Import(context.Background(), doc); err != nil {
		return err
	}
	log.Printf("imported %d feeds, %d filters, %d history records from %s",
		len(doc.Feeds), len(doc.Filters), len(doc.DownloadHistory), docPath)
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
