// Package feedsource fetches raw feed payloads from files and HTTP endpoints.
package feedsource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"

	"transiter.dev/transiter/internal/logging"
)

// DefaultMaxBodySize bounds a single payload, after decompression.
const DefaultMaxBodySize = 100 * 1024 * 1024

// Feed describes where a feed's payload lives.
type Feed struct {
	ID      string
	URL     string
	Path    string
	Headers map[string]string
	// Timeout bounds one HTTP fetch. Zero uses the source's default.
	Timeout time.Duration
	// Gzip marks payloads that are always gzip compressed. Payloads starting
	// with the gzip magic number are decompressed either way.
	Gzip bool
}

type Source interface {
	Fetch(ctx context.Context, feed Feed) ([]byte, error)
}

// Dispatcher fetches feeds with a URL over HTTP and the rest from disk.
type Dispatcher struct {
	HTTP Source
	File Source
}

func NewDispatcher(httpSource, fileSource Source) *Dispatcher {
	return &Dispatcher{HTTP: httpSource, File: fileSource}
}

func (d *Dispatcher) Fetch(ctx context.Context, feed Feed) ([]byte, error) {
	switch {
	case feed.URL != "":
		return d.HTTP.Fetch(ctx, feed)
	case feed.Path != "":
		return d.File.Fetch(ctx, feed)
	default:
		return nil, fmt.Errorf("feed %q has neither a url nor a path", feed.ID)
	}
}

// FileSource reads feeds from the local filesystem.
type FileSource struct {
	MaxBodySize int64
}

func NewFileSource() *FileSource {
	return &FileSource{MaxBodySize: DefaultMaxBodySize}
}

func (s *FileSource) Fetch(ctx context.Context, feed Feed) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(feed.Path)
	if err != nil {
		return nil, fmt.Errorf("open feed file: %w", err)
	}
	defer logging.SafeCloseWithLogging(f,
		slog.Default().With(slog.String("component", "file_feed_source")),
		"feed_file")

	body, err := readLimited(f, s.MaxBodySize)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", feed.Path, err)
	}
	return maybeGunzip(body, feed.Gzip, s.MaxBodySize)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("payload exceeds size limit of %d bytes", limit)
	}
	return body, nil
}

var gzipMagic = []byte{0x1f, 0x8b}

func maybeGunzip(body []byte, force bool, limit int64) ([]byte, error) {
	if !force && !bytes.HasPrefix(body, gzipMagic) {
		return body, nil
	}
	if len(body) == 0 {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open gzip payload: %w", err)
	}
	defer func() { _ = zr.Close() }()
	out, err := readLimited(zr, limit)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return out, nil
}
