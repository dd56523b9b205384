package gtfsdb

// Queries whose shape depends on their input (IN lists, entity tables,
// recursive traversals) are assembled with go-sqlbuilder instead of being
// written as fixed statements.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
)

// EntityTable names a table of feed-owned entities with a natural id.
type EntityTable string

const (
	AgencyTable           EntityTable = "agency"
	RouteTable            EntityTable = "route"
	StopTable             EntityTable = "stop"
	ShapeTable            EntityTable = "shape"
	ScheduledServiceTable EntityTable = "scheduled_service"
	TripTable             EntityTable = "trip"
	VehicleTable          EntityTable = "vehicle"
	AlertTable            EntityTable = "alert"
)

// inChunkSize bounds the number of bound parameters in one IN list.
const inChunkSize = 500

func chunks[T any](values []T) [][]T {
	var out [][]T
	for len(values) > inChunkSize {
		out = append(out, values[:inChunkSize])
		values = values[inChunkSize:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}

type IDPk struct {
	ID string
	Pk int64
}

func (q *Queries) queryIDPks(ctx context.Context, query string, args ...interface{}) ([]IDPk, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []IDPk
	for rows.Next() {
		var i IDPk
		if err := rows.Scan(&i.ID, &i.Pk); err != nil {
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

// MapIDsToPks returns natural id to pk for every row of table in the system.
func (q *Queries) MapIDsToPks(ctx context.Context, table EntityTable, systemPk int64) (map[string]int64, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "pk")
	sb.From(string(table))
	sb.Where(sb.Equal("system_pk", systemPk))

	query, args := sb.Build()
	items, err := q.queryIDPks(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("map %s ids: %w", table, err)
	}
	out := make(map[string]int64, len(items))
	for _, i := range items {
		out[i.ID] = i.Pk
	}
	return out, nil
}

// LookupPks resolves the given natural ids of table in the system. Unknown
// ids are absent from the result.
func (q *Queries) LookupPks(ctx context.Context, table EntityTable, systemPk int64, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	for _, chunk := range chunks(ids) {
		sb := sqlbuilder.SQLite.NewSelectBuilder()
		sb.Select("id", "pk")
		sb.From(string(table))
		sb.Where(
			sb.Equal("system_pk", systemPk),
			sb.In("id", sqlbuilder.Flatten(chunk)...),
		)

		query, args := sb.Build()
		items, err := q.queryIDPks(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("lookup %s ids: %w", table, err)
		}
		for _, i := range items {
			out[i.ID] = i.Pk
		}
	}
	return out, nil
}

// ListStaleEntities returns rows of table written by an earlier update of the
// feed than currentUpdatePk.
func (q *Queries) ListStaleEntities(ctx context.Context, table EntityTable, feedPk, currentUpdatePk int64) ([]IDPk, error) {
	updates := sqlbuilder.SQLite.NewSelectBuilder()
	updates.Select("pk")
	updates.From("feed_update")
	updates.Where(updates.Equal("feed_pk", feedPk))

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "pk")
	sb.From(string(table))
	sb.Where(
		sb.In("source_pk", updates),
		sb.NotEqual("source_pk", currentUpdatePk),
	)
	sb.OrderBy("id")

	query, args := sb.Build()
	items, err := q.queryIDPks(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale %s: %w", table, err)
	}
	return items, nil
}

// ListStaleFeedTransfers is ListStaleEntities for feed-owned transfers, whose
// id is "<from stop id>:<to stop id>".
func (q *Queries) ListStaleFeedTransfers(ctx context.Context, feedPk, currentUpdatePk int64) ([]IDPk, error) {
	updates := sqlbuilder.SQLite.NewSelectBuilder()
	updates.Select("pk")
	updates.From("feed_update")
	updates.Where(updates.Equal("feed_pk", feedPk))

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("from_stop.id || ':' || to_stop.id", "transfer.pk")
	sb.From("transfer")
	sb.Join("stop AS from_stop", "from_stop.pk = transfer.from_stop_pk")
	sb.Join("stop AS to_stop", "to_stop.pk = transfer.to_stop_pk")
	sb.Where(
		sb.IsNull("transfer.config_source_pk"),
		sb.In("transfer.source_pk", updates),
		sb.NotEqual("transfer.source_pk", currentUpdatePk),
	)

	query, args := sb.Build()
	items, err := q.queryIDPks(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale transfers: %w", err)
	}
	return items, nil
}

// MapFeedTransfers returns the pk of every feed-owned transfer in the system
// keyed by (from stop pk, to stop pk).
func (q *Queries) MapFeedTransfers(ctx context.Context, systemPk int64) (map[[2]int64]int64, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("from_stop_pk", "to_stop_pk", "pk")
	sb.From("transfer")
	sb.Where(sb.Equal("system_pk", systemPk), sb.IsNull("config_source_pk"))

	query, args := sb.Build()
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[[2]int64]int64{}
	for rows.Next() {
		var from, to, pk int64
		if err := rows.Scan(&from, &to, &pk); err != nil {
			return nil, err
		}
		out[[2]int64{from, to}] = pk
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return out, rows.Err()
}

// DeleteByPks deletes rows of table by primary key. Owned children go with
// them through ON DELETE CASCADE.
func (q *Queries) DeleteByPks(ctx context.Context, table string, pks []int64) (int64, error) {
	var total int64
	for _, chunk := range chunks(pks) {
		db := sqlbuilder.SQLite.NewDeleteBuilder()
		db.DeleteFrom(table)
		db.Where(db.In("pk", sqlbuilder.Flatten(chunk)...))

		query, args := db.Build()
		result, err := q.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("delete from %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Reference is a column that points at another table without cascading.
type Reference struct {
	Table  string
	Column string
}

// FindReferencedPk returns one pk from pks that is still referenced through
// ref by a row whose own pk is not in pks.
func (q *Queries) FindReferencedPk(ctx context.Context, ref Reference, pks []int64) (int64, bool, error) {
	for _, chunk := range chunks(pks) {
		sb := sqlbuilder.SQLite.NewSelectBuilder()
		sb.Select(ref.Column)
		sb.From(ref.Table)
		where := []string{sb.In(ref.Column, sqlbuilder.Flatten(chunk)...)}
		if ref.Table == "stop" {
			where = append(where, sb.NotIn("pk", sqlbuilder.Flatten(pks)...))
		}
		sb.Where(where...)
		sb.Limit(1)

		query, args := sb.Build()
		var pk int64
		err := q.db.QueryRowContext(ctx, query, args...).Scan(&pk)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, false, fmt.Errorf("check references from %s.%s: %w", ref.Table, ref.Column, err)
		}
		return pk, true, nil
	}
	return 0, false, nil
}
