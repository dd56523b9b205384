// Package update runs feed updates: fetch a payload, parse it and reconcile
// it into storage, recording each run as a feed_update row.
package update

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/apperrors"
	"transiter.dev/transiter/internal/clock"
	"transiter.dev/transiter/internal/feedsource"
	"transiter.dev/transiter/internal/logging"
	"transiter.dev/transiter/internal/metrics"
	"transiter.dev/transiter/internal/parse"
	"transiter.dev/transiter/internal/reconcile"
)

type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Outcome explains how an update finished.
type Outcome string

const (
	OutcomeUpdated                Outcome = "UPDATED"
	OutcomeNotNeeded              Outcome = "NOT_NEEDED"
	OutcomeEmptyFeed              Outcome = "EMPTY_FEED"
	OutcomeIOError                Outcome = "IO_ERROR"
	OutcomeInvalidParser          Outcome = "INVALID_PARSER"
	OutcomeParseError             Outcome = "PARSE_ERROR"
	OutcomeReconciliationConflict Outcome = "RECONCILIATION_CONFLICT"
	OutcomeUnexpectedError        Outcome = "UNEXPECTED_ERROR"
)

func (o Outcome) status() Status {
	switch o {
	case OutcomeUpdated, OutcomeNotNeeded:
		return StatusSuccess
	default:
		return StatusFailure
	}
}

// Result describes one finished feed update.
type Result struct {
	UpdateID     string
	Status       Status
	Result       Outcome
	CountsByKind reconcile.Counts
	ContentHash  string
	Elapsed      time.Duration
}

// Runner performs feed updates. Updates of the same feed run one at a time;
// updates of different feeds may run concurrently.
type Runner struct {
	client     *gtfsdb.Client
	source     feedsource.Source
	reconciler *reconcile.Reconciler
	clock      clock.Clock
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu    sync.Mutex
	feeds map[int64]*sync.Mutex
}

// NewRunner builds a Runner. m may be nil.
func NewRunner(client *gtfsdb.Client, source feedsource.Source, clk clock.Clock, m *metrics.Metrics) *Runner {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Runner{
		client:     client,
		source:     source,
		reconciler: reconcile.NewReconciler(),
		clock:      clk,
		metrics:    m,
		logger:     slog.Default().With(slog.String("component", "feed_update_runner")),
		feeds:      map[int64]*sync.Mutex{},
	}
}

func (r *Runner) feedLock(feedPk int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.feeds[feedPk]
	if !ok {
		l = &sync.Mutex{}
		r.feeds[feedPk] = l
	}
	return l
}

// RunUpdate updates one feed. An unknown system or feed is an
// IdNotFoundError and records nothing. Otherwise the update is recorded and
// the returned Result is filled in even when the update fails; the error is
// then the cause of the failure.
func (r *Runner) RunUpdate(ctx context.Context, systemID, feedID string) (Result, error) {
	system, feed, err := r.lookup(ctx, systemID, feedID)
	if err != nil {
		return Result{}, err
	}

	lock := r.feedLock(feed.Pk)
	lock.Lock()
	defer lock.Unlock()

	started := r.clock.Now()
	updateID := uuid.NewString()
	updatePk, err := r.client.Queries.InsertFeedUpdate(ctx, gtfsdb.InsertFeedUpdateParams{
		FeedPk:    feed.Pk,
		UpdateID:  updateID,
		Status:    string(StatusRunning),
		StartedAt: started.Unix(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("record feed update: %w", err)
	}

	logger := r.logger.With(
		slog.String("system_id", systemID),
		slog.String("feed_id", feedID),
		slog.String("update_id", updateID))
	ctx = logging.WithLogger(ctx, logger)

	run := &run{
		Runner: r,
		system: system,
		feed:   feed,
		gen:    reconcile.Generation{SystemPk: system.Pk, FeedPk: feed.Pk, UpdatePk: updatePk},
		logger: logger,
	}
	outcome, runErr := run.execute(ctx)

	result := Result{
		UpdateID:     updateID,
		Status:       outcome.status(),
		Result:       outcome,
		CountsByKind: run.counts,
		ContentHash:  run.hash,
		Elapsed:      r.clock.Now().Sub(started),
	}
	if err := r.finish(context.WithoutCancel(ctx), updatePk, result, run.length, runErr); err != nil {
		return result, errors.Join(runErr, err)
	}
	r.record(system.ID, feed.ID, result, run.length)

	attrs := []slog.Attr{
		slog.String("status", string(result.Status)),
		slog.String("result", string(result.Result)),
		slog.Duration("elapsed", result.Elapsed),
	}
	if runErr != nil {
		logging.LogError(logger, "feed update failed", runErr, attrs...)
		return result, runErr
	}
	logging.LogOperation(logger, "feed_update_completed", attrs...)
	return result, nil
}

func (r *Runner) lookup(ctx context.Context, systemID, feedID string) (gtfsdb.System, gtfsdb.Feed, error) {
	system, err := r.client.Queries.GetSystem(ctx, systemID)
	if errors.Is(err, sql.ErrNoRows) {
		return gtfsdb.System{}, gtfsdb.Feed{}, &apperrors.IdNotFoundError{Kind: "system", ID: systemID}
	}
	if err != nil {
		return gtfsdb.System{}, gtfsdb.Feed{}, err
	}
	feed, err := r.client.Queries.GetFeed(ctx, system.Pk, feedID)
	if errors.Is(err, sql.ErrNoRows) {
		return gtfsdb.System{}, gtfsdb.Feed{}, &apperrors.IdNotFoundError{Kind: "feed", ID: feedID}
	}
	if err != nil {
		return gtfsdb.System{}, gtfsdb.Feed{}, err
	}
	return system, feed, nil
}

func (r *Runner) finish(ctx context.Context, updatePk int64, result Result, length int, runErr error) error {
	params := gtfsdb.FinishFeedUpdateParams{
		Pk:      updatePk,
		Status:  string(result.Status),
		Result:  sql.NullString{String: string(result.Result), Valid: true},
		EndedAt: sql.NullInt64{Int64: r.clock.Now().Unix(), Valid: true},
	}
	if result.ContentHash != "" {
		params.ContentHash = sql.NullString{String: result.ContentHash, Valid: true}
		params.ContentLength = sql.NullInt64{Int64: int64(length), Valid: true}
	}
	if runErr != nil {
		params.ErrorMessage = sql.NullString{String: runErr.Error(), Valid: true}
	}
	if err := r.client.Queries.FinishFeedUpdate(ctx, params); err != nil {
		return fmt.Errorf("finish feed update: %w", err)
	}
	return nil
}

func (r *Runner) record(systemID, feedID string, result Result, length int) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordFeedUpdate(systemID, feedID, string(result.Status), string(result.Result), result.Elapsed)
	r.metrics.FeedBytesTotal.WithLabelValues(systemID, feedID).Add(float64(length))
	for kind, counts := range result.CountsByKind {
		r.metrics.RecordEntityChanges(string(kind), "added", counts.Added)
		r.metrics.RecordEntityChanges(string(kind), "updated", counts.Updated)
		r.metrics.RecordEntityChanges(string(kind), "deleted", counts.Deleted)
	}
}

// run holds the state of one update while it executes.
type run struct {
	*Runner
	system gtfsdb.System
	feed   gtfsdb.Feed
	gen    reconcile.Generation
	logger *slog.Logger

	hash   string
	length int
	counts reconcile.Counts
}

func (u *run) execute(ctx context.Context) (Outcome, error) {
	parser, err := u.parser()
	if err != nil {
		return OutcomeInvalidParser, err
	}

	source, err := sourceFeed(u.feed)
	if err != nil {
		return OutcomeInvalidParser, err
	}
	content, err := u.source.Fetch(ctx, source)
	if err != nil {
		return OutcomeIOError, err
	}
	u.length = len(content)
	if len(content) == 0 {
		return OutcomeEmptyFeed, errors.New("feed payload is empty")
	}

	sum := sha256.Sum256(content)
	u.hash = hex.EncodeToString(sum[:])
	last, err := u.client.Queries.GetLastSuccessfulContentHash(ctx, u.feed.Pk)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return OutcomeUnexpectedError, fmt.Errorf("load last content hash: %w", err)
	}
	if last == u.hash {
		return OutcomeNotNeeded, nil
	}

	result, err := parser.Parse(ctx, content)
	if err != nil {
		return OutcomeParseError, err
	}
	u.logger.Debug("feed_parsed", slog.Any("counts", result.Counts()))

	err = u.client.InTx(ctx, "feed_update", func(_ *sql.Tx, q *gtfsdb.Queries) error {
		counts, err := u.reconciler.Reconcile(ctx, q, u.gen, result)
		if err != nil {
			return err
		}
		u.counts = counts
		return nil
	})
	var conflict *apperrors.ReconciliationConflictError
	switch {
	case errors.As(err, &conflict):
		return OutcomeReconciliationConflict, err
	case err != nil:
		return OutcomeUnexpectedError, err
	}
	return OutcomeUpdated, nil
}

func (u *run) parser() (parse.Parser, error) {
	transfers, err := parse.LoadTransfersConfig([]byte(u.feed.TransfersConfig))
	if err != nil {
		return nil, err
	}
	timezone := u.feed.Timezone
	if timezone == "" {
		timezone = u.system.Timezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, apperrors.InvalidInputf("feed %s: unknown timezone %q", u.feed.ID, timezone)
	}
	var extension int32
	if u.feed.ExtensionFieldNumber.Valid {
		extension = int32(u.feed.ExtensionFieldNumber.Int64)
	}
	return parse.New(parse.Format(u.feed.Parser), parse.Options{
		Transfers:            transfers,
		ExtensionFieldNumber: extension,
		Location:             loc,
		Clock:                u.clock,
	})
}

func sourceFeed(feed gtfsdb.Feed) (feedsource.Feed, error) {
	source := feedsource.Feed{
		ID:   feed.ID,
		URL:  feed.Url,
		Path: feed.Path,
		Gzip: feed.Gzip,
	}
	if feed.Headers != "" {
		if err := json.Unmarshal([]byte(feed.Headers), &source.Headers); err != nil {
			return feedsource.Feed{}, fmt.Errorf("decode headers of feed %s: %w", feed.ID, err)
		}
	}
	if feed.HttpTimeoutMs.Valid {
		source.Timeout = time.Duration(feed.HttpTimeoutMs.Int64) * time.Millisecond
	}
	return source, nil
}

// ListUpdates returns the most recent updates of a feed, newest first.
func (r *Runner) ListUpdates(ctx context.Context, systemID, feedID string, limit int) ([]gtfsdb.FeedUpdate, error) {
	if limit <= 0 {
		return nil, apperrors.InvalidInputf("limit must be positive, got %d", limit)
	}
	_, feed, err := r.lookup(ctx, systemID, feedID)
	if err != nil {
		return nil, err
	}
	return r.client.Queries.ListFeedUpdates(ctx, feed.Pk, int64(limit))
}

// GetUpdate returns the update with the given run id.
func (r *Runner) GetUpdate(ctx context.Context, updateID string) (gtfsdb.FeedUpdate, error) {
	update, err := r.client.Queries.GetFeedUpdate(ctx, updateID)
	if errors.Is(err, sql.ErrNoRows) {
		return gtfsdb.FeedUpdate{}, &apperrors.IdNotFoundError{Kind: "feed update", ID: updateID}
	}
	return update, err
}

// TrimUpdates deletes finished updates started before the cutoff. The newest
// update of each feed and updates that are still the source of an entity are
// kept.
func (r *Runner) TrimUpdates(ctx context.Context, before time.Time) (int64, error) {
	n, err := r.client.Queries.TrimFeedUpdates(ctx, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("trim feed updates: %w", err)
	}
	logging.LogOperation(r.logger, "feed_updates_trimmed",
		slog.Int64("deleted", n), slog.Time("before", before))
	return n, nil
}
