// Package alerts finds the service alerts that are active for a set of
// entities at a given time.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/logging"
)

// HasActiveAlerts is implemented by entity kinds that alerts can be attached
// to. It names the association paths from an entity pk to its alerts.
type HasActiveAlerts interface {
	Kind() string
	AlertPaths() []gtfsdb.AlertPath
}

type entityKind struct {
	kind  string
	paths []gtfsdb.AlertPath
}

func (e entityKind) Kind() string                   { return e.kind }
func (e entityKind) AlertPaths() []gtfsdb.AlertPath { return e.paths }

var (
	// Routes match alerts informing the route, and alerts informing any trip
	// of the route.
	Routes HasActiveAlerts = entityKind{
		kind: "route",
		paths: []gtfsdb.AlertPath{
			{Table: "alert_route", Column: "route_pk"},
			{
				Table:       "alert_trip",
				Column:      "trip_pk",
				Join:        "trip",
				On:          "trip.pk = alert_trip.trip_pk",
				EntityField: "trip.route_pk",
			},
		},
	}
	Stops HasActiveAlerts = entityKind{
		kind:  "stop",
		paths: []gtfsdb.AlertPath{{Table: "alert_stop", Column: "stop_pk"}},
	}
	Trips HasActiveAlerts = entityKind{
		kind:  "trip",
		paths: []gtfsdb.AlertPath{{Table: "alert_trip", Column: "trip_pk"}},
	}
	Agencies HasActiveAlerts = entityKind{
		kind:  "agency",
		paths: []gtfsdb.AlertPath{{Table: "alert_agency", Column: "agency_pk"}},
	}
)

type Message struct {
	Header      string
	Description string
	URL         string
	Language    *string
}

// ActiveAlert is an alert with the active period that matched.
type ActiveAlert struct {
	Pk        int64
	ID        string
	Cause     string
	Effect    string
	CreatedAt *time.Time
	UpdatedAt *time.Time
	SortOrder *int32
	StartsAt  *time.Time
	EndsAt    *time.Time
	Messages  []Message
}

type Matcher struct {
	q      *gtfsdb.Queries
	logger *slog.Logger
}

func NewMatcher(q *gtfsdb.Queries) *Matcher {
	return &Matcher{
		q:      q,
		logger: slog.Default().With(slog.String("component", "alerts")),
	}
}

// ActiveAlertsFor returns, for every pk, the alerts of kind active at the
// given time. An alert appears once per entity with its earliest matching
// period, and alerts are ordered by that period's start, open starts first.
// Every requested pk is present in the result.
func (m *Matcher) ActiveAlertsFor(ctx context.Context, kind HasActiveAlerts, pks []int64, at time.Time) (map[int64][]ActiveAlert, error) {
	out := make(map[int64][]ActiveAlert, len(pks))
	if len(pks) == 0 {
		return out, nil
	}
	for _, pk := range pks {
		out[pk] = []ActiveAlert{}
	}

	rows, err := m.q.ListActiveAlertRows(ctx, kind.AlertPaths(), pks, at)
	if err != nil {
		logging.LogError(m.logger, "Failed to list active alerts", err,
			slog.String("kind", kind.Kind()))
		return nil, fmt.Errorf("active %s alerts: %w", kind.Kind(), err)
	}

	type key struct{ entityPk, alertPk int64 }
	seen := map[key]bool{}
	var alertPks []int64
	seenAlert := map[int64]bool{}
	for _, row := range rows {
		k := key{row.EntityPk, row.Alert.Pk}
		if seen[k] {
			continue
		}
		seen[k] = true
		if !seenAlert[row.Alert.Pk] {
			seenAlert[row.Alert.Pk] = true
			alertPks = append(alertPks, row.Alert.Pk)
		}
		out[row.EntityPk] = append(out[row.EntityPk], activeAlert(row))
	}
	if len(alertPks) == 0 {
		return out, nil
	}

	messages, err := m.q.ListAlertMessages(ctx, alertPks)
	if err != nil {
		return nil, fmt.Errorf("alert messages: %w", err)
	}
	for pk, alerts := range out {
		for i := range alerts {
			alerts[i].Messages = convertMessages(messages[alerts[i].Pk])
		}
		out[pk] = alerts
	}
	return out, nil
}

func activeAlert(row gtfsdb.ActiveAlertRow) ActiveAlert {
	alert := ActiveAlert{
		Pk:        row.Alert.Pk,
		ID:        row.Alert.ID,
		Cause:     row.Alert.Cause,
		Effect:    row.Alert.Effect,
		CreatedAt: gtfsdb.TimeFromNull(row.Alert.CreatedAt),
		UpdatedAt: gtfsdb.TimeFromNull(row.Alert.UpdatedAt),
		StartsAt:  gtfsdb.TimeFromNull(row.StartsAt),
		EndsAt:    gtfsdb.TimeFromNull(row.EndsAt),
	}
	if row.Alert.SortOrder.Valid {
		sortOrder := int32(row.Alert.SortOrder.Int64)
		alert.SortOrder = &sortOrder
	}
	return alert
}

func convertMessages(in []gtfsdb.AlertMessage) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		message := Message{
			Header:      m.Header,
			Description: m.Description,
			URL:         m.Url,
		}
		if m.Language.Valid {
			language := m.Language.String
			message.Language = &language
		}
		out = append(out, message)
	}
	return out
}
