package update

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/apperrors"
	"transiter.dev/transiter/internal/clock"
	"transiter.dev/transiter/internal/dbtest"
	"transiter.dev/transiter/internal/feedsource"
	"transiter.dev/transiter/internal/metrics"
	"transiter.dev/transiter/internal/reconcile"
)

// stubSource serves a fixed payload or error per feed id.
type stubSource struct {
	mu       sync.Mutex
	payloads map[string][]byte
	errs     map[string]error
	fetched  []feedsource.Feed
}

func newStubSource() *stubSource {
	return &stubSource{payloads: map[string][]byte{}, errs: map[string]error{}}
}

func (s *stubSource) set(feedID string, payload []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[feedID] = payload
	s.errs[feedID] = err
}

func (s *stubSource) Fetch(_ context.Context, feed feedsource.Feed) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, feed)
	return s.payloads[feed.ID], s.errs[feed.ID]
}

func staticZip(t *testing.T, stops string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("stops.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("stop_id,stop_name,stop_lat,stop_lon\n" + stops))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type fixture struct {
	client  *gtfsdb.Client
	source  *stubSource
	clock   *clock.MockClock
	metrics *metrics.Metrics
	runner  *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.NewClient(t)
	systemPk := dbtest.System(t, client, "nyc")
	_, err := client.Queries.UpsertFeed(context.Background(), gtfsdb.UpsertFeedParams{
		ID:            "static",
		SystemPk:      systemPk,
		Parser:        "GTFS_STATIC",
		Url:           "https://feeds.example/static.zip",
		Headers:       `{"X-Api-Key":"secret"}`,
		HttpTimeoutMs: sql.NullInt64{Int64: 1500, Valid: true},
	})
	require.NoError(t, err)
	_, err = client.Queries.UpsertFeed(context.Background(), gtfsdb.UpsertFeedParams{
		ID:       "broken",
		SystemPk: systemPk,
		Parser:   "NOT_A_FORMAT",
		Headers:  "{}",
	})
	require.NoError(t, err)

	source := newStubSource()
	clk := clock.NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	m := metrics.New()
	return &fixture{
		client:  client,
		source:  source,
		clock:   clk,
		metrics: m,
		runner:  NewRunner(client, source, clk, m),
	}
}

func TestRunUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.set("static", staticZip(t, "1,One,1,1\n2,Two,2,2\n"), nil)
	result, err := f.runner.RunUpdate(ctx, "nyc", "static")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, OutcomeUpdated, result.Result)
	assert.Equal(t, reconcile.KindCounts{Added: 2}, result.CountsByKind[reconcile.KindStop])
	assert.NotEmpty(t, result.UpdateID)
	assert.Len(t, result.ContentHash, 64)

	require.Len(t, f.source.fetched, 1)
	fetched := f.source.fetched[0]
	assert.Equal(t, "https://feeds.example/static.zip", fetched.URL)
	assert.Equal(t, map[string]string{"X-Api-Key": "secret"}, fetched.Headers)
	assert.Equal(t, 1500*time.Millisecond, fetched.Timeout)

	stored, err := f.runner.GetUpdate(ctx, result.UpdateID)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", stored.Status)
	assert.Equal(t, "UPDATED", stored.Result.String)
	assert.Equal(t, result.ContentHash, stored.ContentHash.String)
	assert.True(t, stored.EndedAt.Valid)

	t.Run("same content is not reapplied", func(t *testing.T) {
		again, err := f.runner.RunUpdate(ctx, "nyc", "static")
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, again.Status)
		assert.Equal(t, OutcomeNotNeeded, again.Result)
		assert.Empty(t, again.CountsByKind)
	})

	t.Run("removed stops are deleted", func(t *testing.T) {
		f.source.set("static", staticZip(t, "1,One,1,1\n"), nil)
		next, err := f.runner.RunUpdate(ctx, "nyc", "static")
		require.NoError(t, err)
		assert.Equal(t, reconcile.KindCounts{Updated: 1, Deleted: 1}, next.CountsByKind[reconcile.KindStop])
	})

	assert.Equal(t, float64(2), testutil.ToFloat64(
		f.metrics.FeedUpdatesTotal.WithLabelValues("nyc", "static", "SUCCESS", "UPDATED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		f.metrics.FeedUpdatesTotal.WithLabelValues("nyc", "static", "SUCCESS", "NOT_NEEDED")))
	assert.Equal(t, float64(2), testutil.ToFloat64(
		f.metrics.EntityChangesTotal.WithLabelValues("stop", "added")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		f.metrics.EntityChangesTotal.WithLabelValues("stop", "deleted")))
}

func TestRunUpdateFailures(t *testing.T) {
	tests := []struct {
		name    string
		feedID  string
		payload []byte
		err     error
		want    Outcome
	}{
		{name: "fetch error", feedID: "static", err: errors.New("connection refused"), want: OutcomeIOError},
		{name: "empty payload", feedID: "static", payload: []byte{}, want: OutcomeEmptyFeed},
		{name: "not a zip", feedID: "static", payload: []byte("garbage"), want: OutcomeParseError},
		{name: "unknown parser", feedID: "broken", payload: []byte("anything"), want: OutcomeInvalidParser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.source.set(tt.feedID, tt.payload, tt.err)

			result, err := f.runner.RunUpdate(context.Background(), "nyc", tt.feedID)
			require.Error(t, err)
			assert.Equal(t, StatusFailure, result.Status)
			assert.Equal(t, tt.want, result.Result)

			stored, err := f.runner.GetUpdate(context.Background(), result.UpdateID)
			require.NoError(t, err)
			assert.Equal(t, "FAILURE", stored.Status)
			assert.Equal(t, string(tt.want), stored.Result.String)
			assert.True(t, stored.ErrorMessage.Valid)
		})
	}
}

func TestRunUpdateConflictKeepsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.set("static", staticZip(t, "1,One,1,1\n"), nil)
	_, err := f.runner.RunUpdate(ctx, "nyc", "static")
	require.NoError(t, err)

	f.source.set("static", staticZip(t, "2,Two,2,2\n2,Again,3,3\n"), nil)
	result, err := f.runner.RunUpdate(ctx, "nyc", "static")
	var conflict *apperrors.ReconciliationConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, OutcomeReconciliationConflict, result.Result)

	counts, err := f.client.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["stop"])

	t.Run("failed content is retried", func(t *testing.T) {
		f.source.set("static", staticZip(t, "2,Two,2,2\n"), nil)
		result, err := f.runner.RunUpdate(ctx, "nyc", "static")
		require.NoError(t, err)
		assert.Equal(t, OutcomeUpdated, result.Result)
	})
}

func TestRunUpdateUnknownIDs(t *testing.T) {
	f := newFixture(t)
	var notFound *apperrors.IdNotFoundError

	_, err := f.runner.RunUpdate(context.Background(), "london", "static")
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "system", notFound.Kind)

	_, err = f.runner.RunUpdate(context.Background(), "nyc", "realtime")
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "feed", notFound.Kind)

	_, err = f.runner.GetUpdate(context.Background(), "no-such-update")
	require.ErrorAs(t, err, &notFound)
}

func TestListAndTrimUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.set("static", staticZip(t, "1,One,1,1\n"), nil)
	first, err := f.runner.RunUpdate(ctx, "nyc", "static")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	f.source.set("static", nil, errors.New("timeout"))
	_, err = f.runner.RunUpdate(ctx, "nyc", "static")
	require.Error(t, err)
	f.clock.Advance(time.Hour)
	f.source.set("static", nil, errors.New("timeout"))
	latest, err := f.runner.RunUpdate(ctx, "nyc", "static")
	require.Error(t, err)

	updates, err := f.runner.ListUpdates(ctx, "nyc", "static", 10)
	require.NoError(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, latest.UpdateID, updates[0].UpdateID)
	assert.Equal(t, first.UpdateID, updates[2].UpdateID)

	limited, err := f.runner.ListUpdates(ctx, "nyc", "static", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = f.runner.ListUpdates(ctx, "nyc", "static", 0)
	var invalid *apperrors.InvalidInputError
	assert.ErrorAs(t, err, &invalid)

	// Only the middle failure can go: the first is the source of stop 1 and
	// the last is the newest update of the feed.
	deleted, err := f.runner.TrimUpdates(ctx, f.clock.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	updates, err = f.runner.ListUpdates(ctx, "nyc", "static", 10)
	require.NoError(t, err)
	assert.Len(t, updates, 2)
}

func TestRunUpdateSerializesPerFeed(t *testing.T) {
	f := newFixture(t)
	f.source.set("static", staticZip(t, "1,One,1,1\n"), nil)

	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.runner.RunUpdate(context.Background(), "nyc", "static")
			assert.NoError(t, err)
			results[i] = result
		}()
	}
	wg.Wait()

	var updated int
	for _, r := range results {
		if r.Result == OutcomeUpdated {
			updated++
		} else {
			assert.Equal(t, OutcomeNotNeeded, r.Result)
		}
	}
	assert.Equal(t, 1, updated)
}

func TestRunUpdateConcurrentFeedsOnFileDatabase(t *testing.T) {
	client := dbtest.NewFileClient(t)
	systemIDs := []string{"s1", "s2", "s3", "s4"}
	for _, id := range systemIDs {
		dbtest.Feed(t, client, dbtest.System(t, client, id), "static", "GTFS_STATIC")
	}
	source := newStubSource()
	source.set("static", staticZip(t, "1,One,1,1\n2,Two,2,2\n"), nil)
	runner := NewRunner(client, source, clock.NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)), metrics.New())

	var wg sync.WaitGroup
	results := make([]Result, len(systemIDs))
	errs := make([]error, len(systemIDs))
	for i, id := range systemIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = runner.RunUpdate(context.Background(), id, "static")
		}()
	}
	wg.Wait()

	for i := range systemIDs {
		require.NoError(t, errs[i], systemIDs[i])
		assert.Equal(t, StatusSuccess, results[i].Status)
		assert.Equal(t, OutcomeUpdated, results[i].Result)
	}
}
