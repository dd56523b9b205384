package feedsource

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "feed.pb")
	compressed := filepath.Join(dir, "feed.pb.gz")
	require.NoError(t, os.WriteFile(plain, []byte("payload"), 0o600))
	require.NoError(t, os.WriteFile(compressed, gzipped(t, []byte("payload")), 0o600))

	source := NewFileSource()
	for _, path := range []string{plain, compressed} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			body, err := source.Fetch(context.Background(), Feed{ID: "feed", Path: path})
			require.NoError(t, err)
			assert.Equal(t, "payload", string(body))
		})
	}

	_, err := source.Fetch(context.Background(), Feed{ID: "feed", Path: filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestFileSourceSizeLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 64), 0o600))

	source := &FileSource{MaxBodySize: 32}
	_, err := source.Fetch(context.Background(), Feed{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size limit")
}

func TestHTTPSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plain":
			assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
			_, _ = w.Write([]byte("payload"))
		case "/gzip":
			_, _ = w.Write(gzipped(t, []byte("payload")))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	source := NewHTTPSource(HTTPOptions{})

	body, err := source.Fetch(context.Background(), Feed{
		ID:      "feed",
		URL:     server.URL + "/plain",
		Headers: map[string]string{"X-Api-Key": "secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))

	body, err = source.Fetch(context.Background(), Feed{ID: "feed", URL: server.URL + "/gzip"})
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))

	_, err = source.Fetch(context.Background(), Feed{ID: "feed", URL: server.URL + "/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestHTTPSourceForcedGzipRejectsPlainBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not compressed"))
	}))
	defer server.Close()

	_, err := NewHTTPSource(HTTPOptions{}).Fetch(context.Background(), Feed{URL: server.URL, Gzip: true})
	assert.Error(t, err)
}

func TestHTTPSourceTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := NewHTTPSource(HTTPOptions{}).Fetch(context.Background(), Feed{
		URL:     server.URL,
		Timeout: 50 * time.Millisecond,
	})
	assert.Error(t, err)
}

func TestHTTPSourceSizeLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer server.Close()

	_, err := NewHTTPSource(HTTPOptions{MaxBodySize: 32}).Fetch(context.Background(), Feed{URL: server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size limit")
}

func TestHTTPSourceRateLimitsPerHost(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	source := NewHTTPSource(HTTPOptions{RequestsPerSecond: 0.01, Burst: 1})
	_, err := source.Fetch(context.Background(), Feed{URL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = source.Fetch(ctx, Feed{URL: server.URL})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())

	assert.Same(t, source.limiter("a.example"), source.limiter("a.example"))
	assert.NotSame(t, source.limiter("a.example"), source.limiter("b.example"))
}

func TestDispatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed")
	require.NoError(t, os.WriteFile(path, []byte("from disk"), 0o600))

	d := NewDispatcher(NewHTTPSource(HTTPOptions{}), NewFileSource())
	body, err := d.Fetch(context.Background(), Feed{ID: "f", Path: path})
	require.NoError(t, err)
	assert.Equal(t, "from disk", string(body))

	_, err = d.Fetch(context.Background(), Feed{ID: "f"})
	assert.Error(t, err)
}
