package gtfsdb

import (
	"context"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
)

// StopTreeRow is one (root, descendant) pair of a stop tree traversal.
type StopTreeRow struct {
	RootPk int64
	Pk     int64
}

const descendantStopsFormat = `
WITH RECURSIVE descendant (root_pk, pk) AS (
    SELECT pk, pk FROM stop WHERE pk IN (%v)
    UNION
    SELECT descendant.root_pk, stop.pk
    FROM stop
        JOIN descendant ON stop.parent_stop_pk = descendant.pk
    WHERE %v = 0 OR stop.type IN ('STATION', 'GROUPED_STATION')
)
SELECT root_pk, pk FROM descendant ORDER BY root_pk, pk
`

// ListDescendantStops walks the parent_stop_pk relation down from each root.
// Roots are always reported; with stationsOnly the walk only enters station
// stops.
func (q *Queries) ListDescendantStops(ctx context.Context, rootPks []int64, stationsOnly bool) ([]StopTreeRow, error) {
	if len(rootPks) == 0 {
		return nil, nil
	}
	query, args := sqlbuilder.Buildf(descendantStopsFormat, sqlbuilder.List(rootPks), boolToInt(stationsOnly)).
		BuildWithFlavor(sqlbuilder.SQLite)
	return q.queryStopTree(ctx, query, args...)
}

const ancestorStopsFormat = `
WITH RECURSIVE ancestor (root_pk, pk, parent_stop_pk) AS (
    SELECT pk, pk, parent_stop_pk FROM stop WHERE pk IN (%v)
    UNION
    SELECT ancestor.root_pk, stop.pk, stop.parent_stop_pk
    FROM stop
        JOIN ancestor ON stop.pk = ancestor.parent_stop_pk
)
SELECT root_pk, pk FROM ancestor WHERE parent_stop_pk IS NULL ORDER BY root_pk
`

// ListTopLevelAncestors maps each stop to the parentless stop at the top of
// its tree, which is the stop itself when it has no parent.
func (q *Queries) ListTopLevelAncestors(ctx context.Context, stopPks []int64) ([]StopTreeRow, error) {
	if len(stopPks) == 0 {
		return nil, nil
	}
	query, args := sqlbuilder.Buildf(ancestorStopsFormat, sqlbuilder.List(stopPks)).
		BuildWithFlavor(sqlbuilder.SQLite)
	return q.queryStopTree(ctx, query, args...)
}

func (q *Queries) queryStopTree(ctx context.Context, query string, args ...interface{}) ([]StopTreeRow, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stop tree query: %w", err)
	}
	defer rows.Close()
	var items []StopTreeRow
	for rows.Next() {
		var i StopTreeRow
		if err := rows.Scan(&i.RootPk, &i.Pk); err != nil {
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

const stopColumns = `pk, id, system_pk, source_pk, parent_stop_pk, name, latitude, longitude, type,
    code, description, url, timezone, platform_code, wheelchair_boarding`

func scanStop(scanner interface{ Scan(...any) error }, i *Stop) error {
	return scanner.Scan(
		&i.Pk,
		&i.ID,
		&i.SystemPk,
		&i.SourcePk,
		&i.ParentStopPk,
		&i.Name,
		&i.Latitude,
		&i.Longitude,
		&i.Type,
		&i.Code,
		&i.Description,
		&i.Url,
		&i.Timezone,
		&i.PlatformCode,
		&i.WheelchairBoarding,
	)
}

const getStop = `
SELECT ` + stopColumns + ` FROM stop WHERE system_pk = ? AND id = ?
`

func (q *Queries) GetStop(ctx context.Context, systemPk int64, id string) (Stop, error) {
	row := q.db.QueryRowContext(ctx, getStop, systemPk, id)
	var i Stop
	err := scanStop(row, &i)
	return i, err
}

// ListStopsByPks returns the stops with the given pks, ordered by pk.
func (q *Queries) ListStopsByPks(ctx context.Context, pks []int64) ([]Stop, error) {
	var items []Stop
	for _, chunk := range chunks(pks) {
		sb := sqlbuilder.SQLite.NewSelectBuilder()
		sb.Select(stopColumns)
		sb.From("stop")
		sb.Where(sb.In("pk", sqlbuilder.Flatten(chunk)...))
		sb.OrderBy("pk")

		query, args := sb.Build()
		chunkItems, err := q.queryStops(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		items = append(items, chunkItems...)
	}
	return items, nil
}

// ListTopLevelStops returns the parentless stops of the given systems.
func (q *Queries) ListTopLevelStops(ctx context.Context, systemPks []int64) ([]Stop, error) {
	if len(systemPks) == 0 {
		return nil, nil
	}
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(stopColumns)
	sb.From("stop")
	sb.Where(
		sb.In("system_pk", sqlbuilder.Flatten(systemPks)...),
		sb.IsNull("parent_stop_pk"),
	)
	sb.OrderBy("system_pk", "id")

	query, args := sb.Build()
	return q.queryStops(ctx, query, args...)
}

func (q *Queries) queryStops(ctx context.Context, query string, args ...interface{}) ([]Stop, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Stop
	for rows.Next() {
		var i Stop
		if err := scanStop(rows, &i); err != nil {
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
