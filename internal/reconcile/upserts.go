package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/twpayne/go-polyline"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/apperrors"
	"transiter.dev/transiter/internal/parse"
)

// reconcileRun carries the natural id to pk maps built up while one
// generation is written. The maps cover the whole system, so references to
// entities owned by other feeds resolve too.
type reconcileRun struct {
	q      *gtfsdb.Queries
	gen    Generation
	counts Counts
	logger *slog.Logger

	agencyPks map[string]int64
	routePks  map[string]int64
	stopPks   map[string]int64
	shapePks  map[string]int64
	tripPks   map[string]int64
}

func (r *reconcileRun) agencies(ctx context.Context, result *parse.Result) error {
	existing, err := r.q.MapIDsToPks(ctx, gtfsdb.AgencyTable, r.gen.SystemPk)
	if err != nil {
		return err
	}
	for agency := range result.Agencies() {
		pk, err := r.q.UpsertAgency(ctx, gtfsdb.UpsertAgencyParams{
			ID:       agency.ID,
			SystemPk: r.gen.SystemPk,
			SourcePk: r.gen.UpdatePk,
			Name:     agency.Name,
			Url:      agency.URL,
			Timezone: agency.Timezone,
			Language: agency.Language,
			Phone:    agency.Phone,
			FareUrl:  agency.FareURL,
			Email:    agency.Email,
		})
		if err != nil {
			return err
		}
		_, existed := existing[agency.ID]
		r.counts.add(KindAgency, existed)
		existing[agency.ID] = pk
	}
	r.agencyPks = existing
	return nil
}

func (r *reconcileRun) routes(ctx context.Context, result *parse.Result) error {
	existing, err := r.q.MapIDsToPks(ctx, gtfsdb.RouteTable, r.gen.SystemPk)
	if err != nil {
		return err
	}
	for route := range result.Routes() {
		agencyPk := lookupPk(r.agencyPks, route.AgencyID)
		if route.AgencyID != "" && !agencyPk.Valid {
			r.logger.Warn("route_agency_not_found",
				slog.String("route_id", route.ID),
				slog.String("agency_id", route.AgencyID))
		}
		pk, err := r.q.UpsertRoute(ctx, gtfsdb.UpsertRouteParams{
			ID:          route.ID,
			SystemPk:    r.gen.SystemPk,
			SourcePk:    r.gen.UpdatePk,
			AgencyPk:    agencyPk,
			ShortName:   route.ShortName,
			LongName:    route.LongName,
			Description: route.Description,
			Color:       route.Color,
			TextColor:   route.TextColor,
			Url:         route.URL,
			SortOrder:   gtfsdb.NullInt32(route.SortOrder),
			Type:        int64(route.Type),
		})
		if err != nil {
			return err
		}
		_, existed := existing[route.ID]
		r.counts.add(KindRoute, existed)
		existing[route.ID] = pk
	}
	r.routePks = existing
	return nil
}

// stops are written in two passes so a parent may appear after its children.
// stopType returns the type of a stop of the system, preferring the parsed
// types of this update over stored rows.
func (r *reconcileRun) stopType(ctx context.Context, parsed map[string]parse.StopType, id string) (parse.StopType, error) {
	if t, ok := parsed[id]; ok {
		return t, nil
	}
	stop, err := r.q.GetStop(ctx, r.gen.SystemPk, id)
	if err != nil {
		return "", fmt.Errorf("get parent stop %q: %w", id, err)
	}
	return parse.StopType(stop.Type), nil
}

func (r *reconcileRun) stops(ctx context.Context, result *parse.Result) error {
	if id := findParentCycle(result); id != "" {
		return &apperrors.ReconciliationConflictError{
			Kind:   string(KindStop),
			ID:     id,
			Reason: "parent stops form a cycle",
		}
	}

	existing, err := r.q.MapIDsToPks(ctx, gtfsdb.StopTable, r.gen.SystemPk)
	if err != nil {
		return err
	}
	for stop := range result.Stops() {
		pk, err := r.q.UpsertStop(ctx, gtfsdb.UpsertStopParams{
			ID:                 stop.ID,
			SystemPk:           r.gen.SystemPk,
			SourcePk:           r.gen.UpdatePk,
			Name:               stop.Name,
			Latitude:           stop.Latitude,
			Longitude:          stop.Longitude,
			Type:               string(stop.Type),
			Code:               stop.Code,
			Description:        stop.Description,
			Url:                stop.URL,
			Timezone:           stop.Timezone,
			PlatformCode:       stop.PlatformCode,
			WheelchairBoarding: gtfsdb.NullBool(stop.WheelchairBoarding),
		})
		if err != nil {
			return err
		}
		_, existed := existing[stop.ID]
		r.counts.add(KindStop, existed)
		existing[stop.ID] = pk
	}
	r.stopPks = existing

	types := map[string]parse.StopType{}
	for stop := range result.Stops() {
		types[stop.ID] = stop.Type
	}
	for stop := range result.Stops() {
		var parentPk sql.NullInt64
		if stop.ParentID != nil {
			parentPk = lookupPk(r.stopPks, *stop.ParentID)
			if !parentPk.Valid {
				r.logger.Warn("parent_stop_not_found",
					slog.String("stop_id", stop.ID),
					slog.String("parent_stop_id", *stop.ParentID))
			} else {
				parentType, err := r.stopType(ctx, types, *stop.ParentID)
				if err != nil {
					return err
				}
				if !parentType.IsStation() {
					r.logger.Warn("parent_stop_not_station",
						slog.String("stop_id", stop.ID),
						slog.String("parent_stop_id", *stop.ParentID),
						slog.String("parent_type", string(parentType)))
					parentPk = sql.NullInt64{}
				}
			}
		}
		if err := r.q.UpdateStopParent(ctx, r.stopPks[stop.ID], parentPk); err != nil {
			return err
		}
	}
	return nil
}

// findParentCycle returns the id of a stop whose parent chain within the feed
// loops back on itself, or "".
func findParentCycle(result *parse.Result) string {
	parents := map[string]string{}
	for stop := range result.Stops() {
		if stop.ParentID != nil {
			parents[stop.ID] = *stop.ParentID
		}
	}
	for start := range parents {
		seen := map[string]bool{start: true}
		for id, ok := parents[start]; ok; id, ok = parents[id] {
			if seen[id] {
				return start
			}
			seen[id] = true
		}
	}
	return ""
}

func (r *reconcileRun) shapes(ctx context.Context, result *parse.Result) error {
	existing, err := r.q.MapIDsToPks(ctx, gtfsdb.ShapeTable, r.gen.SystemPk)
	if err != nil {
		return err
	}
	for shape := range result.Shapes() {
		coords := make([][]float64, len(shape.Points))
		for i, point := range shape.Points {
			coords[i] = []float64{point.Latitude, point.Longitude}
		}
		pk, err := r.q.UpsertShape(ctx, gtfsdb.UpsertShapeParams{
			ID:       shape.ID,
			SystemPk: r.gen.SystemPk,
			SourcePk: r.gen.UpdatePk,
			Polyline: string(polyline.EncodeCoords(coords)),
		})
		if err != nil {
			return err
		}
		_, existed := existing[shape.ID]
		r.counts.add(KindShape, existed)
		existing[shape.ID] = pk
	}
	r.shapePks = existing
	return nil
}

func (r *reconcileRun) services(ctx context.Context, result *parse.Result) error {
	existing, err := r.q.MapIDsToPks(ctx, gtfsdb.ScheduledServiceTable, r.gen.SystemPk)
	if err != nil {
		return err
	}
	for service := range result.ScheduledServices() {
		pk, err := r.q.UpsertScheduledService(ctx, gtfsdb.UpsertScheduledServiceParams{
			ID:       service.ID,
			SystemPk: r.gen.SystemPk,
			SourcePk: r.gen.UpdatePk,
			Days: [7]bool{
				service.Monday, service.Tuesday, service.Wednesday, service.Thursday,
				service.Friday, service.Saturday, service.Sunday,
			},
			StartDate: gtfsdb.NullTime(service.StartDate),
			EndDate:   gtfsdb.NullTime(service.EndDate),
		})
		if err != nil {
			return err
		}
		_, existed := existing[service.ID]
		r.counts.add(KindScheduledService, existed)
		existing[service.ID] = pk

		if err := r.q.DeleteScheduledServiceChildren(ctx, pk); err != nil {
			return err
		}
		for _, date := range service.AddedDates {
			if err := r.q.InsertScheduledServiceAddition(ctx, pk, date.Unix()); err != nil {
				return err
			}
		}
		for _, date := range service.RemovedDates {
			if err := r.q.InsertScheduledServiceRemoval(ctx, pk, date.Unix()); err != nil {
				return err
			}
		}
		for _, trip := range service.Trips {
			if err := r.scheduledTrip(ctx, pk, trip); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *reconcileRun) scheduledTrip(ctx context.Context, servicePk int64, trip parse.ScheduledTrip) error {
	routePk, ok := r.routePks[trip.RouteID]
	if !ok {
		r.logger.Warn("scheduled_trip_route_not_found",
			slog.String("trip_id", trip.ID),
			slog.String("route_id", trip.RouteID))
		return nil
	}
	tripPk, err := r.q.InsertScheduledTrip(ctx, gtfsdb.InsertScheduledTripParams{
		ID:          trip.ID,
		ServicePk:   servicePk,
		RoutePk:     routePk,
		ShapePk:     lookupPk(r.shapePks, trip.ShapeID),
		DirectionID: gtfsdb.NullBool(trip.DirectionID),
		Headsign:    trip.Headsign,
		BlockID:     trip.BlockID,
	})
	if err != nil {
		return err
	}
	for _, stopTime := range trip.StopTimes {
		stopPk, ok := r.stopPks[stopTime.StopID]
		if !ok {
			r.logger.Warn("scheduled_stop_time_stop_not_found",
				slog.String("trip_id", trip.ID),
				slog.String("stop_id", stopTime.StopID))
			continue
		}
		err := r.q.InsertScheduledTripStopTime(ctx, gtfsdb.InsertScheduledTripStopTimeParams{
			TripPk:        tripPk,
			StopPk:        stopPk,
			StopSequence:  int64(stopTime.StopSequence),
			ArrivalTime:   gtfsdb.NullDuration(stopTime.ArrivalTime),
			DepartureTime: gtfsdb.NullDuration(stopTime.DepartureTime),
		})
		if err != nil {
			return err
		}
	}
	for _, frequency := range trip.Frequencies {
		err := r.q.InsertScheduledTripFrequency(ctx, gtfsdb.InsertScheduledTripFrequencyParams{
			TripPk:         tripPk,
			StartTime:      int64(frequency.StartTime.Seconds()),
			EndTime:        int64(frequency.EndTime.Seconds()),
			Headway:        int64(frequency.Headway.Seconds()),
			FrequencyBased: frequency.FrequencyBased,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *reconcileRun) trips(ctx context.Context, result *parse.Result) error {
	existing, err := r.q.MapIDsToPks(ctx, gtfsdb.TripTable, r.gen.SystemPk)
	if err != nil {
		return err
	}
	for trip := range result.Trips() {
		routePk, ok, err := r.tripRoutePk(ctx, trip)
		if err != nil {
			return err
		}
		if !ok {
			r.logger.Warn("trip_route_not_found",
				slog.String("trip_id", trip.ID),
				slog.String("route_id", trip.RouteID))
			continue
		}
		pk, err := r.q.UpsertTrip(ctx, gtfsdb.UpsertTripParams{
			ID:                   trip.ID,
			SystemPk:             r.gen.SystemPk,
			SourcePk:             r.gen.UpdatePk,
			RoutePk:              routePk,
			DirectionID:          gtfsdb.NullBool(trip.DirectionID),
			ScheduleRelationship: string(trip.ScheduleRelationship),
			StartTime:            gtfsdb.NullTime(trip.StartTime),
			UpdatedAt:            gtfsdb.NullTime(trip.UpdatedAt),
			Delay:                gtfsdb.NullInt32(trip.Delay),
		})
		if err != nil {
			return err
		}
		_, existed := existing[trip.ID]
		r.counts.add(KindTrip, existed)
		existing[trip.ID] = pk

		if err := r.q.DeleteTripStopTimes(ctx, pk); err != nil {
			return err
		}
		for _, stopTime := range trip.StopTimes {
			stopPk, ok := r.stopPks[stopTime.StopID]
			if !ok {
				r.logger.Warn("stop_time_stop_not_found",
					slog.String("trip_id", trip.ID),
					slog.String("stop_id", stopTime.StopID))
				continue
			}
			err := r.q.InsertTripStopTime(ctx, gtfsdb.InsertTripStopTimeParams{
				TripPk:               pk,
				StopPk:               stopPk,
				StopSequence:         gtfsdb.NullUint32(stopTime.StopSequence),
				ScheduleRelationship: string(stopTime.ScheduleRelationship),
				ArrivalTime:          gtfsdb.NullTime(stopTime.ArrivalTime),
				ArrivalDelay:         gtfsdb.NullInt32(stopTime.ArrivalDelay),
				ArrivalUncertainty:   gtfsdb.NullInt32(stopTime.ArrivalUncertainty),
				DepartureTime:        gtfsdb.NullTime(stopTime.DepartureTime),
				DepartureDelay:       gtfsdb.NullInt32(stopTime.DepartureDelay),
				DepartureUncertainty: gtfsdb.NullInt32(stopTime.DepartureUncertainty),
				Track:                gtfsdb.NullString(stopTime.Track),
			})
			if err != nil {
				return err
			}
		}
	}
	r.tripPks = existing
	return nil
}

// tripRoutePk resolves the trip's route, falling back to the route of the
// scheduled trip with the same id when the update names none.
func (r *reconcileRun) tripRoutePk(ctx context.Context, trip parse.Trip) (int64, bool, error) {
	if trip.RouteID != "" {
		pk, ok := r.routePks[trip.RouteID]
		return pk, ok, nil
	}
	pk, err := r.q.GetScheduledTripRoutePk(ctx, r.gen.SystemPk, trip.ID)
	if isNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return pk, true, nil
}

func (r *reconcileRun) vehicles(ctx context.Context, result *parse.Result) error {
	existing, err := r.q.MapIDsToPks(ctx, gtfsdb.VehicleTable, r.gen.SystemPk)
	if err != nil {
		return err
	}
	for vehicle := range result.Vehicles() {
		var tripPk, stopPk sql.NullInt64
		if vehicle.TripID != nil {
			tripPk = lookupPk(r.tripPks, *vehicle.TripID)
		}
		if vehicle.StopID != nil {
			stopPk = lookupPk(r.stopPks, *vehicle.StopID)
		}
		pk, err := r.q.UpsertVehicle(ctx, gtfsdb.UpsertVehicleParams{
			ID:                  vehicle.ID,
			SystemPk:            r.gen.SystemPk,
			SourcePk:            r.gen.UpdatePk,
			TripPk:              tripPk,
			StopPk:              stopPk,
			Label:               vehicle.Label,
			LicensePlate:        vehicle.LicensePlate,
			CurrentStatus:       string(vehicle.CurrentStatus),
			Latitude:            gtfsdb.NullFloat(vehicle.Latitude),
			Longitude:           gtfsdb.NullFloat(vehicle.Longitude),
			Bearing:             gtfsdb.NullFloat(vehicle.Bearing),
			Odometer:            gtfsdb.NullFloat(vehicle.Odometer),
			Speed:               gtfsdb.NullFloat(vehicle.Speed),
			CurrentStopSequence: gtfsdb.NullUint32(vehicle.CurrentStopSequence),
			UpdatedAt:           gtfsdb.NullTime(vehicle.UpdatedAt),
		})
		if err != nil {
			return err
		}
		_, existed := existing[vehicle.ID]
		r.counts.add(KindVehicle, existed)
		existing[vehicle.ID] = pk
	}
	return nil
}

func (r *reconcileRun) alerts(ctx context.Context, result *parse.Result) error {
	existing, err := r.q.MapIDsToPks(ctx, gtfsdb.AlertTable, r.gen.SystemPk)
	if err != nil {
		return err
	}
	for alert := range result.Alerts() {
		pk, err := r.q.UpsertAlert(ctx, gtfsdb.UpsertAlertParams{
			ID:        alert.ID,
			SystemPk:  r.gen.SystemPk,
			SourcePk:  r.gen.UpdatePk,
			Cause:     alert.Cause,
			Effect:    alert.Effect,
			CreatedAt: gtfsdb.NullTime(alert.CreatedAt),
			UpdatedAt: gtfsdb.NullTime(alert.UpdatedAt),
			SortOrder: gtfsdb.NullInt32(alert.SortOrder),
		})
		if err != nil {
			return err
		}
		_, existed := existing[alert.ID]
		r.counts.add(KindAlert, existed)
		existing[alert.ID] = pk

		if err := r.q.DeleteAlertChildren(ctx, pk); err != nil {
			return err
		}
		for _, period := range alert.ActivePeriods {
			err := r.q.InsertAlertActivePeriod(ctx, pk,
				gtfsdb.NullTime(period.StartsAt), gtfsdb.NullTime(period.EndsAt))
			if err != nil {
				return err
			}
		}
		for _, message := range alert.Messages {
			err := r.q.InsertAlertMessage(ctx, gtfsdb.InsertAlertMessageParams{
				AlertPk:     pk,
				Header:      message.Header,
				Description: message.Description,
				Url:         message.URL,
				Language:    gtfsdb.NullString(message.Language),
			})
			if err != nil {
				return err
			}
		}
		associations := []struct {
			kind gtfsdb.AlertAssociation
			ids  []string
			pks  map[string]int64
		}{
			{gtfsdb.AlertAgency, alert.AgencyIDs, r.agencyPks},
			{gtfsdb.AlertRoute, alert.RouteIDs, r.routePks},
			{gtfsdb.AlertStop, alert.StopIDs, r.stopPks},
			{gtfsdb.AlertTrip, alert.TripIDs, r.tripPks},
		}
		for _, association := range associations {
			for _, id := range association.ids {
				entityPk, ok := association.pks[id]
				if !ok {
					r.logger.Debug("alert_entity_not_found",
						slog.String("alert_id", alert.ID),
						slog.String("kind", string(association.kind)),
						slog.String("id", id))
					continue
				}
				if err := r.q.InsertAlertAssociation(ctx, association.kind, pk, entityPk); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *reconcileRun) transfers(ctx context.Context, result *parse.Result) error {
	existing, err := r.q.MapFeedTransfers(ctx, r.gen.SystemPk)
	if err != nil {
		return err
	}
	for transfer := range result.Transfers() {
		fromPk, fromOK := r.stopPks[transfer.FromStopID]
		toPk, toOK := r.stopPks[transfer.ToStopID]
		if !fromOK || !toOK {
			r.logger.Warn("transfer_stop_not_found",
				slog.String("from_stop_id", transfer.FromStopID),
				slog.String("to_stop_id", transfer.ToStopID))
			continue
		}
		_, err := r.q.UpsertFeedTransfer(ctx, gtfsdb.UpsertFeedTransferParams{
			SystemPk:        r.gen.SystemPk,
			SourcePk:        r.gen.UpdatePk,
			FromStopPk:      fromPk,
			ToStopPk:        toPk,
			Type:            string(transfer.Type),
			MinTransferTime: gtfsdb.NullInt32(transfer.MinTransferTime),
		})
		if err != nil {
			return err
		}
		_, existed := existing[[2]int64{fromPk, toPk}]
		r.counts.add(KindTransfer, existed)
	}
	return nil
}
