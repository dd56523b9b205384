// Package reconcile merges one parsed feed snapshot into storage.
//
// Every feed update is a generation: rows written by the update carry its
// feed_update pk as source_pk. Incoming entities are upserted by natural id
// first, then rows the feed wrote in earlier generations and did not send
// again are deleted.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/apperrors"
	"transiter.dev/transiter/internal/logging"
	"transiter.dev/transiter/internal/parse"
)

// Kind names an entity kind in Counts.
type Kind string

const (
	KindAgency           Kind = "agency"
	KindRoute            Kind = "route"
	KindStop             Kind = "stop"
	KindShape            Kind = "shape"
	KindScheduledService Kind = "scheduled_service"
	KindTrip             Kind = "trip"
	KindVehicle          Kind = "vehicle"
	KindAlert            Kind = "alert"
	KindTransfer         Kind = "transfer"

	// kindScheduledTrip is only reported by the duplicate check; scheduled
	// trips are counted with their service.
	kindScheduledTrip Kind = "scheduled_trip"
)

// Kinds lists every kind in dependency order.
var Kinds = []Kind{
	KindAgency,
	KindRoute,
	KindStop,
	KindShape,
	KindScheduledService,
	KindTrip,
	KindVehicle,
	KindAlert,
	KindTransfer,
}

// Generation identifies the feed update being applied.
type Generation struct {
	SystemPk int64
	FeedPk   int64
	UpdatePk int64
}

type KindCounts struct {
	Added   int
	Updated int
	Deleted int
}

// Counts reports the changes made per kind. Kinds with no changes are absent.
type Counts map[Kind]KindCounts

func (c Counts) add(kind Kind, existed bool) {
	kc := c[kind]
	if existed {
		kc.Updated++
	} else {
		kc.Added++
	}
	c[kind] = kc
}

func (c Counts) deleted(kind Kind, n int) {
	if n == 0 {
		return
	}
	kc := c[kind]
	kc.Deleted += n
	c[kind] = kc
}

// Total is the number of entities written or deleted.
func (c Counts) Total() int {
	total := 0
	for _, kc := range c {
		total += kc.Added + kc.Updated + kc.Deleted
	}
	return total
}

type staleSweep struct {
	kind  Kind
	table gtfsdb.EntityTable
	refs  []gtfsdb.Reference
}

// sweeps is the stale deletion order: dependents before the rows they point
// at. refs are the non-cascading columns that may still point at a stale row.
var sweeps = []staleSweep{
	{kind: KindAlert, table: gtfsdb.AlertTable},
	{kind: KindVehicle, table: gtfsdb.VehicleTable},
	{kind: KindTrip, table: gtfsdb.TripTable},
	{kind: KindScheduledService, table: gtfsdb.ScheduledServiceTable},
	{kind: KindShape, table: gtfsdb.ShapeTable},
	{kind: KindStop, table: gtfsdb.StopTable, refs: []gtfsdb.Reference{
		{Table: "stop", Column: "parent_stop_pk"},
		{Table: "trip_stop_time", Column: "stop_pk"},
		{Table: "scheduled_trip_stop_time", Column: "stop_pk"},
	}},
	{kind: KindRoute, table: gtfsdb.RouteTable, refs: []gtfsdb.Reference{
		{Table: "trip", Column: "route_pk"},
		{Table: "scheduled_trip", Column: "route_pk"},
	}},
	{kind: KindAgency, table: gtfsdb.AgencyTable, refs: []gtfsdb.Reference{
		{Table: "route", Column: "agency_pk"},
	}},
}

// Reconciler applies parse results. It holds no per-run state and is safe for
// concurrent use with distinct transactions.
type Reconciler struct {
	logger *slog.Logger
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		logger: slog.Default().With(slog.String("component", "reconciler")),
	}
}

// Reconcile writes result as generation gen using q, which must be bound to
// the transaction the whole generation runs in. On error the caller rolls
// the transaction back.
func (r *Reconciler) Reconcile(ctx context.Context, q *gtfsdb.Queries, gen Generation, result *parse.Result) (Counts, error) {
	if err := checkDuplicates(result); err != nil {
		return nil, err
	}

	run := &reconcileRun{
		q:      q,
		gen:    gen,
		counts: Counts{},
		logger: r.logger.With(
			slog.Int64("feed_pk", gen.FeedPk),
			slog.Int64("update_pk", gen.UpdatePk),
		),
	}

	steps := []struct {
		kind Kind
		fn   func(context.Context, *parse.Result) error
	}{
		{KindAgency, run.agencies},
		{KindRoute, run.routes},
		{KindStop, run.stops},
		{KindShape, run.shapes},
		{KindScheduledService, run.services},
		{KindTrip, run.trips},
		{KindVehicle, run.vehicles},
		{KindAlert, run.alerts},
		{KindTransfer, run.transfers},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := step.fn(ctx, result); err != nil {
			return nil, fmt.Errorf("upsert %s: %w", step.kind, err)
		}
	}

	if err := run.sweepStale(ctx); err != nil {
		return nil, err
	}

	logging.LogOperation(run.logger, "feed_reconciled",
		slog.Int("changes", run.counts.Total()))
	return run.counts, nil
}

func (r *reconcileRun) sweepStale(ctx context.Context) error {
	stale, err := r.q.ListStaleFeedTransfers(ctx, r.gen.FeedPk, r.gen.UpdatePk)
	if err != nil {
		return err
	}
	n, err := r.q.DeleteByPks(ctx, "transfer", pksOf(stale))
	if err != nil {
		return err
	}
	r.counts.deleted(KindTransfer, int(n))

	for _, sweep := range sweeps {
		stale, err := r.q.ListStaleEntities(ctx, sweep.table, r.gen.FeedPk, r.gen.UpdatePk)
		if err != nil {
			return err
		}
		if len(stale) == 0 {
			continue
		}
		pks := pksOf(stale)
		for _, ref := range sweep.refs {
			pk, found, err := r.q.FindReferencedPk(ctx, ref, pks)
			if err != nil {
				return err
			}
			if found {
				return &apperrors.ReconciliationConflictError{
					Kind:   string(sweep.kind),
					ID:     idOf(stale, pk),
					Reason: fmt.Sprintf("removed from the feed but still referenced by %s.%s", ref.Table, ref.Column),
				}
			}
		}
		n, err := r.q.DeleteByPks(ctx, string(sweep.table), pks)
		if err != nil {
			return err
		}
		r.counts.deleted(sweep.kind, int(n))
	}
	return nil
}

func pksOf(items []gtfsdb.IDPk) []int64 {
	pks := make([]int64, len(items))
	for i, item := range items {
		pks[i] = item.Pk
	}
	return pks
}

func idOf(items []gtfsdb.IDPk, pk int64) string {
	for _, item := range items {
		if item.Pk == pk {
			return item.ID
		}
	}
	return fmt.Sprint(pk)
}

func checkDuplicates(result *parse.Result) error {
	checks := []struct {
		kind Kind
		ids  iter.Seq[string]
	}{
		{KindAgency, ids(result.Agencies(), func(v parse.Agency) string { return v.ID })},
		{KindRoute, ids(result.Routes(), func(v parse.Route) string { return v.ID })},
		{KindStop, ids(result.Stops(), func(v parse.Stop) string { return v.ID })},
		{KindShape, ids(result.Shapes(), func(v parse.Shape) string { return v.ID })},
		{KindScheduledService, ids(result.ScheduledServices(), func(v parse.ScheduledService) string { return v.ID })},
		{kindScheduledTrip, scheduledTripIDs(result)},
		{KindTrip, ids(result.Trips(), func(v parse.Trip) string { return v.ID })},
		{KindVehicle, ids(result.Vehicles(), func(v parse.Vehicle) string { return v.ID })},
		{KindAlert, ids(result.Alerts(), func(v parse.Alert) string { return v.ID })},
		{KindTransfer, ids(result.Transfers(), func(v parse.Transfer) string { return v.FromStopID + ":" + v.ToStopID })},
	}
	for _, check := range checks {
		seen := map[string]bool{}
		for id := range check.ids {
			if seen[id] {
				return &apperrors.ReconciliationConflictError{
					Kind:   string(check.kind),
					ID:     id,
					Reason: "appears more than once in the feed",
				}
			}
			seen[id] = true
		}
	}
	return nil
}

func ids[T any](seq iter.Seq[T], id func(T) string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for v := range seq {
			if !yield(id(v)) {
				return
			}
		}
	}
}

func scheduledTripIDs(result *parse.Result) iter.Seq[string] {
	return func(yield func(string) bool) {
		for service := range result.ScheduledServices() {
			for _, trip := range service.Trips {
				if !yield(trip.ID) {
					return
				}
			}
		}
	}
}

// lookupPk resolves an optional reference by natural id.
func lookupPk(pks map[string]int64, id string) sql.NullInt64 {
	if id == "" {
		return sql.NullInt64{}
	}
	pk, ok := pks[id]
	if !ok {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: pk, Valid: true}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
