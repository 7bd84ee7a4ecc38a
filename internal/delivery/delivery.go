// Package delivery writes matched entries into the watch directory.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Kind classifies a link by how it is delivered.
type Kind string

// Supported link kinds.
const (
	KindMagnet  Kind = "magnet"
	KindTorrent Kind = "torrent"
	KindUnknown Kind = "unknown"
)

const (
	magnetPrefix    = "magnet:?"
	tmpSuffix       = ".tmp"
	maxPayloadSize  = 20 * 1024 * 1024
	maxSlugLength   = 200
	defaultTimeout  = 30 * time.Second
	downloadAgent   = "rss_watch/1.0"
	artifactPerm    = 0o644
	watchDirPerm    = 0o755
	fallbackSlug    = "untitled"
	torrentSuffix   = ".torrent"
	torrentSegment  = "/torrent"
	magnetExtension = ".magnet"
)

var (
	// ErrUnsupportedLink is returned for links that are neither magnet URIs
	// nor torrent file URLs.
	ErrUnsupportedLink = errors.New("unsupported link")
	// ErrDownloadFailed wraps failures to fetch a torrent file.
	ErrDownloadFailed = errors.New("download failed")
	// ErrWatchDirUnwritable wraps failures to create or write into the watch
	// directory.
	ErrWatchDirUnwritable = errors.New("watch directory not writable")
)

// DeliveryError reports a failed delivery.
type DeliveryError struct {
	Link string
	Kind Kind
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s link: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Reason returns a short description of a delivery failure that is safe to
// show to users. Details stay in the logs.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedLink):
		return ErrUnsupportedLink.Error()
	case errors.Is(err, ErrDownloadFailed):
		return ErrDownloadFailed.Error()
	case errors.Is(err, ErrWatchDirUnwritable):
		return ErrWatchDirUnwritable.Error()
	default:
		return "delivery failed"
	}
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Writer places artifacts into a watch directory. Every file becomes visible
// under its final name only once it is completely written.
type Writer struct {
	client  HTTPClient
	timeout time.Duration
	log     *slog.Logger
}

// New creates a Writer that downloads torrent files with client.
func New(client HTTPClient, log *slog.Logger) *Writer {
	return &Writer{
		client:  client,
		timeout: defaultTimeout,
		log:     log,
	}
}

// SetTimeout overrides the default 30-second download timeout.
func (w *Writer) SetTimeout(d time.Duration) {
	if d > 0 {
		w.timeout = d
	}
}

// Classify determines how link would be delivered.
func Classify(link string) Kind {
	if strings.HasPrefix(link, magnetPrefix) {
		return KindMagnet
	}
	if hasTorrentSuffix(link) {
		return KindTorrent
	}
	if u, err := url.Parse(link); err == nil && hasTorrentSuffix(u.Path) {
		return KindTorrent
	}
	return KindUnknown
}

func hasTorrentSuffix(s string) bool {
	return strings.HasSuffix(s, torrentSuffix) || strings.HasSuffix(s, torrentSegment)
}

// Slug converts title into a file name stem: every character outside
// [a-z0-9] becomes an underscore and the result is lower-cased.
func Slug(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s == "" {
		return fallbackSlug
	}
	if len(s) > maxSlugLength {
		s = s[:maxSlugLength]
	}
	return s
}

// Deliver writes the artifact for link into dir and returns its final path.
// Errors are *DeliveryError.
func (w *Writer) Deliver(ctx context.Context, dir, title, link string) (string, error) {
	kind := Classify(link)
	path, err := w.deliver(ctx, kind, dir, title, link)
	if err != nil {
		w.log.Error("delivery failed", "title", title, "kind", kind, "error", err)
		return "", &DeliveryError{Link: link, Kind: kind, Err: err}
	}
	w.log.Info("delivered", "title", title, "kind", kind, "path", path)
	return path, nil
}

func (w *Writer) deliver(ctx context.Context, kind Kind, dir, title, link string) (string, error) {
	var (
		ext  string
		data []byte
	)
	switch kind {
	case KindMagnet:
		ext = magnetExtension
		data = []byte(link)
	case KindTorrent:
		payload, err := w.download(ctx, link)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
		}
		ext = torrentSuffix
		data = payload
	default:
		return "", ErrUnsupportedLink
	}

	if err := os.MkdirAll(dir, watchDirPerm); err != nil {
		return "", fmt.Errorf("%w: create: %w", ErrWatchDirUnwritable, err)
	}

	path := filepath.Join(dir, Slug(title)+ext)
	if err := WriteAtomic(path, data); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWatchDirUnwritable, err)
	}
	return path, nil
}

func (w *Writer) download(ctx context.Context, link string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", downloadAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxPayloadSize {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxPayloadSize)
	}
	return body, nil
}

// WriteAtomic writes data to path+".tmp" and renames it onto path. The
// temporary file is removed if either step fails.
func WriteAtomic(path string, data []byte) error {
	tmp := path + tmpSuffix
	if err := os.WriteFile(tmp, data, artifactPerm); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
