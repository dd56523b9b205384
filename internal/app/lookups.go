package app

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/alerts"
	"transiter.dev/transiter/internal/apperrors"
)

// AlertKind returns the alert kind and entity table for a kind name such as
// "route".
func AlertKind(name string) (alerts.HasActiveAlerts, gtfsdb.EntityTable, error) {
	switch name {
	case "route", "routes":
		return alerts.Routes, gtfsdb.RouteTable, nil
	case "stop", "stops":
		return alerts.Stops, gtfsdb.StopTable, nil
	case "trip", "trips":
		return alerts.Trips, gtfsdb.TripTable, nil
	case "agency", "agencies":
		return alerts.Agencies, gtfsdb.AgencyTable, nil
	default:
		return nil, "", apperrors.InvalidInputf("unknown entity kind %q", name)
	}
}

func (app *Application) system(ctx context.Context, systemID string) (gtfsdb.System, error) {
	system, err := app.DB.Queries.GetSystem(ctx, systemID)
	if errors.Is(err, sql.ErrNoRows) {
		return gtfsdb.System{}, &apperrors.IdNotFoundError{Kind: "system", ID: systemID}
	}
	return system, err
}

// resolve maps natural ids to pks. Every id must exist.
func (app *Application) resolve(ctx context.Context, systemID string, table gtfsdb.EntityTable, ids []string) (map[string]int64, error) {
	system, err := app.system(ctx, systemID)
	if err != nil {
		return nil, err
	}
	pks, err := app.DB.Queries.LookupPks(ctx, table, system.Pk, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := pks[id]; !ok {
			return nil, &apperrors.IdNotFoundError{Kind: string(table), ID: id}
		}
	}
	return pks, nil
}

// StopDescendants returns, for each stop id, the sorted ids of the stop and
// every stop below it.
func (app *Application) StopDescendants(ctx context.Context, systemID string, stopIDs []string, stationsOnly bool) (map[string][]string, error) {
	pks, err := app.resolve(ctx, systemID, gtfsdb.StopTable, stopIDs)
	if err != nil {
		return nil, err
	}
	roots := make([]int64, 0, len(pks))
	for _, pk := range pks {
		roots = append(roots, pk)
	}
	tree, err := app.Resolver.Descendants(ctx, roots, stationsOnly)
	if err != nil {
		return nil, err
	}

	var all []int64
	for _, descendants := range tree {
		for pk := range descendants {
			all = append(all, pk)
		}
	}
	stops, err := app.DB.Queries.ListStopsByPks(ctx, all)
	if err != nil {
		return nil, err
	}
	idOf := make(map[int64]string, len(stops))
	for _, stop := range stops {
		idOf[stop.Pk] = stop.ID
	}

	out := make(map[string][]string, len(stopIDs))
	for _, id := range stopIDs {
		var ids []string
		for pk := range tree[pks[id]] {
			ids = append(ids, idOf[pk])
		}
		slices.Sort(ids)
		out[id] = ids
	}
	return out, nil
}

// ActiveAlerts returns the alerts active at the given time for each entity id
// of the named kind.
func (app *Application) ActiveAlerts(ctx context.Context, systemID, kindName string, ids []string, at time.Time) (map[string][]alerts.ActiveAlert, error) {
	kind, table, err := AlertKind(kindName)
	if err != nil {
		return nil, err
	}
	pks, err := app.resolve(ctx, systemID, table, ids)
	if err != nil {
		return nil, err
	}
	entityPks := make([]int64, 0, len(pks))
	for _, pk := range pks {
		entityPks = append(entityPks, pk)
	}
	matched, err := app.Matcher.ActiveAlertsFor(ctx, kind, entityPks, at)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]alerts.ActiveAlert, len(ids))
	for _, id := range ids {
		out[id] = matched[pks[id]]
	}
	return out, nil
}
