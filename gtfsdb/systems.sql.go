package gtfsdb

import (
	"context"
	"database/sql"
)

const getSystem = `
SELECT pk, id, name, timezone FROM system WHERE id = ?
`

func (q *Queries) GetSystem(ctx context.Context, id string) (System, error) {
	row := q.db.QueryRowContext(ctx, getSystem, id)
	var i System
	err := row.Scan(&i.Pk, &i.ID, &i.Name, &i.Timezone)
	return i, err
}

const listSystems = `
SELECT pk, id, name, timezone FROM system ORDER BY id
`

func (q *Queries) ListSystems(ctx context.Context) ([]System, error) {
	rows, err := q.db.QueryContext(ctx, listSystems)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []System
	for rows.Next() {
		var i System
		if err := rows.Scan(&i.Pk, &i.ID, &i.Name, &i.Timezone); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertSystem = `
INSERT INTO system (id, name, timezone) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, timezone = excluded.timezone
RETURNING pk
`

type UpsertSystemParams struct {
	ID       string
	Name     string
	Timezone string
}

func (q *Queries) UpsertSystem(ctx context.Context, arg UpsertSystemParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertSystem, arg.ID, arg.Name, arg.Timezone)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}

const deleteSystem = `
DELETE FROM system WHERE pk = ?
`

func (q *Queries) DeleteSystem(ctx context.Context, pk int64) error {
	_, err := q.db.ExecContext(ctx, deleteSystem, pk)
	return err
}

const feedColumns = `pk, id, system_pk, parser, url, path, headers, http_timeout_ms, period_ms, gzip,
    transfers_config, extension_field_number, timezone`

func scanFeed(scanner interface{ Scan(...any) error }, i *Feed) error {
	return scanner.Scan(
		&i.Pk,
		&i.ID,
		&i.SystemPk,
		&i.Parser,
		&i.Url,
		&i.Path,
		&i.Headers,
		&i.HttpTimeoutMs,
		&i.PeriodMs,
		&i.Gzip,
		&i.TransfersConfig,
		&i.ExtensionFieldNumber,
		&i.Timezone,
	)
}

const getFeed = `
SELECT ` + feedColumns + ` FROM feed WHERE system_pk = ? AND id = ?
`

func (q *Queries) GetFeed(ctx context.Context, systemPk int64, id string) (Feed, error) {
	row := q.db.QueryRowContext(ctx, getFeed, systemPk, id)
	var i Feed
	err := scanFeed(row, &i)
	return i, err
}

const listFeeds = `
SELECT ` + feedColumns + ` FROM feed WHERE system_pk = ? ORDER BY id
`

func (q *Queries) ListFeeds(ctx context.Context, systemPk int64) ([]Feed, error) {
	rows, err := q.db.QueryContext(ctx, listFeeds, systemPk)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Feed
	for rows.Next() {
		var i Feed
		if err := scanFeed(rows, &i); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listScheduledFeeds = `
SELECT system.id, feed.id, feed.period_ms
FROM feed
    JOIN system ON system.pk = feed.system_pk
WHERE feed.period_ms IS NOT NULL AND feed.period_ms > 0
ORDER BY system.id, feed.id
`

type ListScheduledFeedsRow struct {
	SystemID string
	FeedID   string
	PeriodMs sql.NullInt64
}

// ListScheduledFeeds returns every feed that has an update period.
func (q *Queries) ListScheduledFeeds(ctx context.Context) ([]ListScheduledFeedsRow, error) {
	rows, err := q.db.QueryContext(ctx, listScheduledFeeds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListScheduledFeedsRow
	for rows.Next() {
		var i ListScheduledFeedsRow
		if err := rows.Scan(&i.SystemID, &i.FeedID, &i.PeriodMs); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertFeed = `
INSERT INTO feed (
    id, system_pk, parser, url, path, headers, http_timeout_ms, period_ms, gzip,
    transfers_config, extension_field_number, timezone
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (system_pk, id) DO UPDATE SET
    parser = excluded.parser,
    url = excluded.url,
    path = excluded.path,
    headers = excluded.headers,
    http_timeout_ms = excluded.http_timeout_ms,
    period_ms = excluded.period_ms,
    gzip = excluded.gzip,
    transfers_config = excluded.transfers_config,
    extension_field_number = excluded.extension_field_number,
    timezone = excluded.timezone
RETURNING pk
`

type UpsertFeedParams struct {
	ID                   string
	SystemPk             int64
	Parser               string
	Url                  string
	Path                 string
	Headers              string
	HttpTimeoutMs        sql.NullInt64
	PeriodMs             sql.NullInt64
	Gzip                 bool
	TransfersConfig      string
	ExtensionFieldNumber sql.NullInt64
	Timezone             string
}

func (q *Queries) UpsertFeed(ctx context.Context, arg UpsertFeedParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertFeed,
		arg.ID,
		arg.SystemPk,
		arg.Parser,
		arg.Url,
		arg.Path,
		arg.Headers,
		arg.HttpTimeoutMs,
		arg.PeriodMs,
		boolToInt(arg.Gzip),
		arg.TransfersConfig,
		arg.ExtensionFieldNumber,
		arg.Timezone,
	)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}

const deleteFeed = `
DELETE FROM feed WHERE pk = ?
`

func (q *Queries) DeleteFeed(ctx context.Context, pk int64) error {
	_, err := q.db.ExecContext(ctx, deleteFeed, pk)
	return err
}
