package gtfsdb

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/huandu/go-sqlbuilder"
)

// ActiveAlertRow is an alert together with one of its active periods that
// contains the query time, for one associated entity.
type ActiveAlertRow struct {
	EntityPk int64
	Alert    Alert
	StartsAt sql.NullInt64
	EndsAt   sql.NullInt64
}

// AlertPath selects alerts related to an entity pk through one association.
type AlertPath struct {
	// Table is the association table holding (alert_pk, Column).
	Table  string
	Column string
	// Join and On optionally map the association's column onto the entity:
	// for routes reached through trips, Join is "trip" and the entity pk is
	// trip.route_pk.
	Join        string
	On          string
	EntityField string
}

// ListActiveAlertRows returns, for each entity pk, every (alert, period) pair
// reachable through paths whose period contains at. Rows are ordered by
// entity, then period start with open starts first, then alert pk.
func (q *Queries) ListActiveAlertRows(ctx context.Context, paths []AlertPath, entityPks []int64, at time.Time) ([]ActiveAlertRow, error) {
	if len(entityPks) == 0 || len(paths) == 0 {
		return nil, nil
	}
	now := at.Unix()

	var items []ActiveAlertRow
	for _, path := range paths {
		entityField := path.Table + "." + path.Column
		if path.EntityField != "" {
			entityField = path.EntityField
		}
		for _, chunk := range chunks(entityPks) {
			sb := sqlbuilder.SQLite.NewSelectBuilder()
			sb.Select(
				entityField,
				"alert.pk", "alert.id", "alert.system_pk", "alert.source_pk", "alert.cause", "alert.effect",
				"alert.created_at", "alert.updated_at", "alert.sort_order",
				"period.starts_at", "period.ends_at",
			)
			sb.From(path.Table)
			if path.Join != "" {
				sb.Join(path.Join, path.On)
			}
			sb.Join("alert", "alert.pk = "+path.Table+".alert_pk")
			sb.Join("alert_active_period AS period", "period.alert_pk = alert.pk")
			sb.Where(
				sb.In(entityField, sqlbuilder.Flatten(chunk)...),
				sb.Or(sb.IsNull("period.starts_at"), sb.LessEqualThan("period.starts_at", now)),
				sb.Or(sb.IsNull("period.ends_at"), sb.GreaterEqualThan("period.ends_at", now)),
			)

			query, args := sb.Build()
			chunkItems, err := q.queryActiveAlertRows(ctx, query, args...)
			if err != nil {
				return nil, fmt.Errorf("list active alerts through %s: %w", path.Table, err)
			}
			items = append(items, chunkItems...)
		}
	}

	slices.SortStableFunc(items, func(a, b ActiveAlertRow) int {
		if c := cmp.Compare(a.EntityPk, b.EntityPk); c != 0 {
			return c
		}
		if c := compareNullStart(a.StartsAt, b.StartsAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Alert.Pk, b.Alert.Pk)
	})
	return items, nil
}

func compareNullStart(a, b sql.NullInt64) int {
	switch {
	case !a.Valid && !b.Valid:
		return 0
	case !a.Valid:
		return -1
	case !b.Valid:
		return 1
	default:
		return cmp.Compare(a.Int64, b.Int64)
	}
}

func (q *Queries) queryActiveAlertRows(ctx context.Context, query string, args ...interface{}) ([]ActiveAlertRow, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ActiveAlertRow
	for rows.Next() {
		var i ActiveAlertRow
		if err := rows.Scan(
			&i.EntityPk,
			&i.Alert.Pk,
			&i.Alert.ID,
			&i.Alert.SystemPk,
			&i.Alert.SourcePk,
			&i.Alert.Cause,
			&i.Alert.Effect,
			&i.Alert.CreatedAt,
			&i.Alert.UpdatedAt,
			&i.Alert.SortOrder,
			&i.StartsAt,
			&i.EndsAt,
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

// ListAlertMessages returns the messages of the given alerts keyed by alert pk.
func (q *Queries) ListAlertMessages(ctx context.Context, alertPks []int64) (map[int64][]AlertMessage, error) {
	out := map[int64][]AlertMessage{}
	for _, chunk := range chunks(alertPks) {
		sb := sqlbuilder.SQLite.NewSelectBuilder()
		sb.Select("pk", "alert_pk", "header", "description", "url", "language")
		sb.From("alert_message")
		sb.Where(sb.In("alert_pk", sqlbuilder.Flatten(chunk)...))
		sb.OrderBy("alert_pk", "pk")

		query, args := sb.Build()
		rows, err := q.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("list alert messages: %w", err)
		}
		for rows.Next() {
			var i AlertMessage
			if err := rows.Scan(&i.Pk, &i.AlertPk, &i.Header, &i.Description, &i.Url, &i.Language); err != nil {
				_ = rows.Close()
				return nil, err
			}
			out[i.AlertPk] = append(out[i.AlertPk], i)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
