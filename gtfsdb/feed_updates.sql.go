package gtfsdb

import (
	"context"
	"database/sql"
)

const insertFeedUpdate = `
INSERT INTO feed_update (feed_pk, update_id, status, started_at) VALUES (?, ?, ?, ?)
RETURNING pk
`

type InsertFeedUpdateParams struct {
	FeedPk    int64
	UpdateID  string
	Status    string
	StartedAt int64
}

func (q *Queries) InsertFeedUpdate(ctx context.Context, arg InsertFeedUpdateParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, insertFeedUpdate, arg.FeedPk, arg.UpdateID, arg.Status, arg.StartedAt)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}

const finishFeedUpdate = `
UPDATE feed_update
SET status = ?, result = ?, content_hash = ?, content_length = ?, error_message = ?, ended_at = ?
WHERE pk = ?
`

type FinishFeedUpdateParams struct {
	Pk            int64
	Status        string
	Result        sql.NullString
	ContentHash   sql.NullString
	ContentLength sql.NullInt64
	ErrorMessage  sql.NullString
	EndedAt       sql.NullInt64
}

func (q *Queries) FinishFeedUpdate(ctx context.Context, arg FinishFeedUpdateParams) error {
	_, err := q.db.ExecContext(ctx, finishFeedUpdate,
		arg.Status,
		arg.Result,
		arg.ContentHash,
		arg.ContentLength,
		arg.ErrorMessage,
		arg.EndedAt,
		arg.Pk,
	)
	return err
}

const getLastSuccessfulContentHash = `
SELECT content_hash FROM feed_update
WHERE feed_pk = ? AND status = 'SUCCESS' AND content_hash IS NOT NULL
ORDER BY pk DESC
LIMIT 1
`

func (q *Queries) GetLastSuccessfulContentHash(ctx context.Context, feedPk int64) (string, error) {
	row := q.db.QueryRowContext(ctx, getLastSuccessfulContentHash, feedPk)
	var hash string
	err := row.Scan(&hash)
	return hash, err
}

const feedUpdateColumns = `pk, feed_pk, update_id, status, result, content_hash, content_length,
    error_message, started_at, ended_at`

const listFeedUpdates = `
SELECT ` + feedUpdateColumns + ` FROM feed_update
WHERE feed_pk = ?
ORDER BY pk DESC
LIMIT ?
`

func (q *Queries) ListFeedUpdates(ctx context.Context, feedPk int64, limit int64) ([]FeedUpdate, error) {
	rows, err := q.db.QueryContext(ctx, listFeedUpdates, feedPk, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []FeedUpdate
	for rows.Next() {
		var i FeedUpdate
		if err := rows.Scan(
			&i.Pk,
			&i.FeedPk,
			&i.UpdateID,
			&i.Status,
			&i.Result,
			&i.ContentHash,
			&i.ContentLength,
			&i.ErrorMessage,
			&i.StartedAt,
			&i.EndedAt,
		); err != nil {
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

const getFeedUpdate = `
SELECT ` + feedUpdateColumns + ` FROM feed_update WHERE update_id = ?
`

func (q *Queries) GetFeedUpdate(ctx context.Context, updateID string) (FeedUpdate, error) {
	row := q.db.QueryRowContext(ctx, getFeedUpdate, updateID)
	var i FeedUpdate
	err := row.Scan(
		&i.Pk,
		&i.FeedPk,
		&i.UpdateID,
		&i.Status,
		&i.Result,
		&i.ContentHash,
		&i.ContentLength,
		&i.ErrorMessage,
		&i.StartedAt,
		&i.EndedAt,
	)
	return i, err
}

// trimFeedUpdates keeps running updates, the newest update of each feed and
// every update that is still the source of an entity.
const trimFeedUpdates = `
DELETE FROM feed_update
WHERE started_at < ?
    AND status != 'RUNNING'
    AND pk NOT IN (SELECT MAX(pk) FROM feed_update GROUP BY feed_pk)
    AND NOT EXISTS (SELECT 1 FROM agency WHERE agency.source_pk = feed_update.pk)
    AND NOT EXISTS (SELECT 1 FROM route WHERE route.source_pk = feed_update.pk)
    AND NOT EXISTS (SELECT 1 FROM stop WHERE stop.source_pk = feed_update.pk)
    AND NOT EXISTS (SELECT 1 FROM shape WHERE shape.source_pk = feed_update.pk)
    AND NOT EXISTS (SELECT 1 FROM scheduled_service WHERE scheduled_service.source_pk = feed_update.pk)
    AND NOT EXISTS (SELECT 1 FROM trip WHERE trip.source_pk = feed_update.pk)
    AND NOT EXISTS (SELECT 1 FROM vehicle WHERE vehicle.source_pk = feed_update.pk)
    AND NOT EXISTS (SELECT 1 FROM alert WHERE alert.source_pk = feed_update.pk)
    AND NOT EXISTS (SELECT 1 FROM transfer WHERE transfer.source_pk = feed_update.pk)
`

func (q *Queries) TrimFeedUpdates(ctx context.Context, before int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, trimFeedUpdates, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
