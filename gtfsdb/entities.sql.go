package gtfsdb

import (
	"context"
	"database/sql"
)

const upsertAgency = `
INSERT INTO agency (id, system_pk, source_pk, name, url, timezone, language, phone, fare_url, email)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (system_pk, id) DO UPDATE SET
    source_pk = excluded.source_pk,
    name = excluded.name,
    url = excluded.url,
    timezone = excluded.timezone,
    language = excluded.language,
    phone = excluded.phone,
    fare_url = excluded.fare_url,
    email = excluded.email
RETURNING pk
`

type UpsertAgencyParams struct {
	ID       string
	SystemPk int64
	SourcePk int64
	Name     string
	Url      string
	Timezone string
	Language string
	Phone    string
	FareUrl  string
	Email    string
}

func (q *Queries) UpsertAgency(ctx context.Context, arg UpsertAgencyParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertAgency,
		arg.ID, arg.SystemPk, arg.SourcePk, arg.Name, arg.Url, arg.Timezone,
		arg.Language, arg.Phone, arg.FareUrl, arg.Email,
	)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}

const upsertRoute = `
INSERT INTO route (
    id, system_pk, source_pk, agency_pk, short_name, long_name, description,
    color, text_color, url, sort_order, type
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (system_pk, id) DO UPDATE SET
    source_pk = excluded.source_pk,
    agency_pk = excluded.agency_pk,
    short_name = excluded.short_name,
    long_name = excluded.long_name,
    description = excluded.description,
    color = excluded.color,
    text_color = excluded.text_color,
    url = excluded.url,
    sort_order = excluded.sort_order,
    type = excluded.type
RETURNING pk
`

type UpsertRouteParams struct {
	ID          string
	SystemPk    int64
	SourcePk    int64
	AgencyPk    sql.NullInt64
	ShortName   string
	LongName    string
	Description string
	Color       string
	TextColor   string
	Url         string
	SortOrder   sql.NullInt64
	Type        int64
}

func (q *Queries) UpsertRoute(ctx context.Context, arg UpsertRouteParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertRoute,
		arg.ID, arg.SystemPk, arg.SourcePk, arg.AgencyPk, arg.ShortName, arg.LongName,
		arg.Description, arg.Color, arg.TextColor, arg.Url, arg.SortOrder, arg.Type,
	)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}

const upsertStop = `
INSERT INTO stop (
    id, system_pk, source_pk, name, latitude, longitude, type, code, description,
    url, timezone, platform_code, wheelchair_boarding
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (system_pk, id) DO UPDATE SET
    source_pk = excluded.source_pk,
    name = excluded.name,
    latitude = excluded.latitude,
    longitude = excluded.longitude,
    type = excluded.type,
    code = excluded.code,
    description = excluded.description,
    url = excluded.url,
    timezone = excluded.timezone,
    platform_code = excluded.platform_code,
    wheelchair_boarding = excluded.wheelchair_boarding
RETURNING pk
`

// UpsertStopParams does not carry the parent; parents are linked in a second
// pass with UpdateStopParent once every stop of the batch has a pk.
type UpsertStopParams struct {
	ID                 string
	SystemPk           int64
	SourcePk           int64
	Name               string
	Latitude           float64
	Longitude          float64
	Type               string
	Code               string
	Description        string
	Url                string
	Timezone           string
	PlatformCode       string
	WheelchairBoarding sql.NullBool
}

func (q *Queries) UpsertStop(ctx context.Context, arg UpsertStopParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertStop,
		arg.ID, arg.SystemPk, arg.SourcePk, arg.Name, arg.Latitude, arg.Longitude, arg.Type,
		arg.Code, arg.Description, arg.Url, arg.Timezone, arg.PlatformCode, arg.WheelchairBoarding,
	)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}

const updateStopParent = `
UPDATE stop SET parent_stop_pk = ? WHERE pk = ?
`

func (q *Queries) UpdateStopParent(ctx context.Context, pk int64, parentStopPk sql.NullInt64) error {
	_, err := q.db.ExecContext(ctx, updateStopParent, parentStopPk, pk)
	return err
}

const upsertShape = `
INSERT INTO shape (id, system_pk, source_pk, polyline) VALUES (?, ?, ?, ?)
ON CONFLICT (system_pk, id) DO UPDATE SET
    source_pk = excluded.source_pk,
    polyline = excluded.polyline
RETURNING pk
`

type UpsertShapeParams struct {
	ID       string
	SystemPk int64
	SourcePk int64
	Polyline string
}

func (q *Queries) UpsertShape(ctx context.Context, arg UpsertShapeParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertShape, arg.ID, arg.SystemPk, arg.SourcePk, arg.Polyline)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}

const getShape = `
SELECT pk, id, system_pk, source_pk, polyline FROM shape WHERE system_pk = ? AND id = ?
`

func (q *Queries) GetShape(ctx context.Context, systemPk int64, id string) (Shape, error) {
	row := q.db.QueryRowContext(ctx, getShape, systemPk, id)
	var i Shape
	err := row.Scan(&i.Pk, &i.ID, &i.SystemPk, &i.SourcePk, &i.Polyline)
	return i, err
}

const upsertScheduledService = `
INSERT INTO scheduled_service (
    id, system_pk, source_pk, monday, tuesday, wednesday, thursday, friday, saturday, sunday,
    start_date, end_date
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (system_pk, id) DO UPDATE SET
    source_pk = excluded.source_pk,
    monday = excluded.monday,
    tuesday = excluded.tuesday,
    wednesday = excluded.wednesday,
    thursday = excluded.thursday,
    friday = excluded.friday,
    saturday = excluded.saturday,
    sunday = excluded.sunday,
    start_date = excluded.start_date,
    end_date = excluded.end_date
RETURNING pk
`

type UpsertScheduledServiceParams struct {
	ID        string
	SystemPk  int64
	SourcePk  int64
	Days      [7]bool
	StartDate sql.NullInt64
	EndDate   sql.NullInt64
}

func (q *Queries) UpsertScheduledService(ctx context.Context, arg UpsertScheduledServiceParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertScheduledService,
		arg.ID, arg.SystemPk, arg.SourcePk,
		boolToInt(arg.Days[0]), boolToInt(arg.Days[1]), boolToInt(arg.Days[2]), boolToInt(arg.Days[3]),
		boolToInt(arg.Days[4]), boolToInt(arg.Days[5]), boolToInt(arg.Days[6]),
		arg.StartDate, arg.EndDate,
	)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}

const deleteScheduledServiceAdditions = `DELETE FROM scheduled_service_addition WHERE service_pk = ?`
const deleteScheduledServiceRemovals = `DELETE FROM scheduled_service_removal WHERE service_pk = ?`
const deleteScheduledTrips = `DELETE FROM scheduled_trip WHERE service_pk = ?`

// DeleteScheduledServiceChildren removes the dates and trips of a service so
// they can be rewritten.
func (q *Queries) DeleteScheduledServiceChildren(ctx context.Context, servicePk int64) error {
	for _, stmt := range []string{deleteScheduledServiceAdditions, deleteScheduledServiceRemovals, deleteScheduledTrips} {
		if _, err := q.db.ExecContext(ctx, stmt, servicePk); err != nil {
			return err
		}
	}
	return nil
}

const insertScheduledServiceAddition = `
INSERT OR IGNORE INTO scheduled_service_addition (service_pk, date) VALUES (?, ?)
`

func (q *Queries) InsertScheduledServiceAddition(ctx context.Context, servicePk, date int64) error {
	_, err := q.db.ExecContext(ctx, insertScheduledServiceAddition, servicePk, date)
	return err
}

const insertScheduledServiceRemoval = `
INSERT OR IGNORE INTO scheduled_service_removal (service_pk, date) VALUES (?, ?)
`

func (q *Queries) InsertScheduledServiceRemoval(ctx context.Context, servicePk, date int64) error {
	_, err := q.db.ExecContext(ctx, insertScheduledServiceRemoval, servicePk, date)
	return err
}

const insertScheduledTrip = `
INSERT INTO scheduled_trip (id, service_pk, route_pk, shape_pk, direction_id, headsign, block_id)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING pk
`

type InsertScheduledTripParams struct {
	ID          string
	ServicePk   int64
	RoutePk     int64
	ShapePk     sql.NullInt64
	DirectionID sql.NullBool
	Headsign    string
	BlockID     string
}

func (q *Queries) InsertScheduledTrip(ctx context.Context, arg InsertScheduledTripParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, insertScheduledTrip,
		arg.ID, arg.ServicePk, arg.RoutePk, arg.ShapePk, arg.DirectionID, arg.Headsign, arg.BlockID,
	)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}

const insertScheduledTripStopTime = `
INSERT OR REPLACE INTO scheduled_trip_stop_time (trip_pk, stop_pk, stop_sequence, arrival_time, departure_time)
VALUES (?, ?, ?, ?, ?)
`

type InsertScheduledTripStopTimeParams struct {
	TripPk        int64
	StopPk        int64
	StopSequence  int64
	ArrivalTime   sql.NullInt64
	DepartureTime sql.NullInt64
}

func (q *Queries) InsertScheduledTripStopTime(ctx context.Context, arg InsertScheduledTripStopTimeParams) error {
	_, err := q.db.ExecContext(ctx, insertScheduledTripStopTime,
		arg.TripPk, arg.StopPk, arg.StopSequence, arg.ArrivalTime, arg.DepartureTime,
	)
	return err
}

const insertScheduledTripFrequency = `
INSERT INTO scheduled_trip_frequency (trip_pk, start_time, end_time, headway, frequency_based)
VALUES (?, ?, ?, ?, ?)
`

type InsertScheduledTripFrequencyParams struct {
	TripPk         int64
	StartTime      int64
	EndTime        int64
	Headway        int64
	FrequencyBased bool
}

func (q *Queries) InsertScheduledTripFrequency(ctx context.Context, arg InsertScheduledTripFrequencyParams) error {
	_, err := q.db.ExecContext(ctx, insertScheduledTripFrequency,
		arg.TripPk, arg.StartTime, arg.EndTime, arg.Headway, boolToInt(arg.FrequencyBased),
	)
	return err
}

const upsertTrip = `
INSERT INTO trip (
    id, system_pk, source_pk, route_pk, direction_id, schedule_relationship, start_time, updated_at, delay
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (system_pk, id) DO UPDATE SET
    source_pk = excluded.source_pk,
    route_pk = excluded.route_pk,
    direction_id = excluded.direction_id,
    schedule_relationship = excluded.schedule_relationship,
    start_time = excluded.start_time,
    updated_at = excluded.updated_at,
    delay = excluded.delay
RETURNING pk
`

type UpsertTripParams struct {
	ID                   string
	SystemPk             int64
	SourcePk             int64
	RoutePk              int64
	DirectionID          sql.NullBool
	ScheduleRelationship string
	StartTime            sql.NullInt64
	UpdatedAt            sql.NullInt64
	Delay                sql.NullInt64
}

func (q *Queries) UpsertTrip(ctx context.Context, arg UpsertTripParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertTrip,
		arg.ID, arg.SystemPk, arg.SourcePk, arg.RoutePk, arg.DirectionID,
		arg.ScheduleRelationship, arg.StartTime, arg.UpdatedAt, arg.Delay,
	)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}

const deleteTripStopTimes = `
DELETE FROM trip_stop_time WHERE trip_pk = ?
`

func (q *Queries) DeleteTripStopTimes(ctx context.Context, tripPk int64) error {
	_, err := q.db.ExecContext(ctx, deleteTripStopTimes, tripPk)
	return err
}

const insertTripStopTime = `
INSERT INTO trip_stop_time (
    trip_pk, stop_pk, stop_sequence, schedule_relationship,
    arrival_time, arrival_delay, arrival_uncertainty,
    departure_time, departure_delay, departure_uncertainty, track
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertTripStopTimeParams struct {
	TripPk               int64
	StopPk               int64
	StopSequence         sql.NullInt64
	ScheduleRelationship string
	ArrivalTime          sql.NullInt64
	ArrivalDelay         sql.NullInt64
	ArrivalUncertainty   sql.NullInt64
	DepartureTime        sql.NullInt64
	DepartureDelay       sql.NullInt64
	DepartureUncertainty sql.NullInt64
	Track                sql.NullString
}

func (q *Queries) InsertTripStopTime(ctx context.Context, arg InsertTripStopTimeParams) error {
	_, err := q.db.ExecContext(ctx, insertTripStopTime,
		arg.TripPk, arg.StopPk, arg.StopSequence, arg.ScheduleRelationship,
		arg.ArrivalTime, arg.ArrivalDelay, arg.ArrivalUncertainty,
		arg.DepartureTime, arg.DepartureDelay, arg.DepartureUncertainty, arg.Track,
	)
	return err
}

const upsertVehicle = `
INSERT INTO vehicle (
    id, system_pk, source_pk, trip_pk, stop_pk, label, license_plate, current_status,
    latitude, longitude, bearing, odometer, speed, current_stop_sequence, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (system_pk, id) DO UPDATE SET
    source_pk = excluded.source_pk,
    trip_pk = excluded.trip_pk,
    stop_pk = excluded.stop_pk,
    label = excluded.label,
    license_plate = excluded.license_plate,
    current_status = excluded.current_status,
    latitude = excluded.latitude,
    longitude = excluded.longitude,
    bearing = excluded.bearing,
    odometer = excluded.odometer,
    speed = excluded.speed,
    current_stop_sequence = excluded.current_stop_sequence,
    updated_at = excluded.updated_at
RETURNING pk
`

type UpsertVehicleParams struct {
	ID                  string
	SystemPk            int64
	SourcePk            int64
	TripPk              sql.NullInt64
	StopPk              sql.NullInt64
	Label               string
	LicensePlate        string
	CurrentStatus       string
	Latitude            sql.NullFloat64
	Longitude           sql.NullFloat64
	Bearing             sql.NullFloat64
	Odometer            sql.NullFloat64
	Speed               sql.NullFloat64
	CurrentStopSequence sql.NullInt64
	UpdatedAt           sql.NullInt64
}

func (q *Queries) UpsertVehicle(ctx context.Context, arg UpsertVehicleParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertVehicle,
		arg.ID, arg.SystemPk, arg.SourcePk, arg.TripPk, arg.StopPk, arg.Label, arg.LicensePlate,
		arg.CurrentStatus, arg.Latitude, arg.Longitude, arg.Bearing, arg.Odometer, arg.Speed,
		arg.CurrentStopSequence, arg.UpdatedAt,
	)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}

const upsertAlert = `
INSERT INTO alert (id, system_pk, source_pk, cause, effect, created_at, updated_at, sort_order)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (system_pk, id) DO UPDATE SET
    source_pk = excluded.source_pk,
    cause = excluded.cause,
    effect = excluded.effect,
    created_at = excluded.created_at,
    updated_at = excluded.updated_at,
    sort_order = excluded.sort_order
RETURNING pk
`

type UpsertAlertParams struct {
	ID        string
	SystemPk  int64
	SourcePk  int64
	Cause     string
	Effect    string
	CreatedAt sql.NullInt64
	UpdatedAt sql.NullInt64
	SortOrder sql.NullInt64
}

func (q *Queries) UpsertAlert(ctx context.Context, arg UpsertAlertParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertAlert,
		arg.ID, arg.SystemPk, arg.SourcePk, arg.Cause, arg.Effect, arg.CreatedAt, arg.UpdatedAt, arg.SortOrder,
	)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}

// DeleteAlertChildren removes the periods, messages and associations of an
// alert so they can be rewritten.
func (q *Queries) DeleteAlertChildren(ctx context.Context, alertPk int64) error {
	for _, table := range []string{"alert_active_period", "alert_message", "alert_route", "alert_stop", "alert_trip", "alert_agency"} {
		if _, err := q.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE alert_pk = ?", alertPk); err != nil {
			return err
		}
	}
	return nil
}

const insertAlertActivePeriod = `
INSERT INTO alert_active_period (alert_pk, starts_at, ends_at) VALUES (?, ?, ?)
`

func (q *Queries) InsertAlertActivePeriod(ctx context.Context, alertPk int64, startsAt, endsAt sql.NullInt64) error {
	_, err := q.db.ExecContext(ctx, insertAlertActivePeriod, alertPk, startsAt, endsAt)
	return err
}

const insertAlertMessage = `
INSERT INTO alert_message (alert_pk, header, description, url, language) VALUES (?, ?, ?, ?, ?)
`

type InsertAlertMessageParams struct {
	AlertPk     int64
	Header      string
	Description string
	Url         string
	Language    sql.NullString
}

func (q *Queries) InsertAlertMessage(ctx context.Context, arg InsertAlertMessageParams) error {
	_, err := q.db.ExecContext(ctx, insertAlertMessage, arg.AlertPk, arg.Header, arg.Description, arg.Url, arg.Language)
	return err
}

// AlertAssociation names one of the alert_* association tables.
type AlertAssociation string

const (
	AlertRoute  AlertAssociation = "route"
	AlertStop   AlertAssociation = "stop"
	AlertTrip   AlertAssociation = "trip"
	AlertAgency AlertAssociation = "agency"
)

func (a AlertAssociation) table() string  { return "alert_" + string(a) }
func (a AlertAssociation) column() string { return string(a) + "_pk" }

func (q *Queries) InsertAlertAssociation(ctx context.Context, kind AlertAssociation, alertPk, entityPk int64) error {
	stmt := "INSERT OR IGNORE INTO " + kind.table() + " (alert_pk, " + kind.column() + ") VALUES (?, ?)"
	_, err := q.db.ExecContext(ctx, stmt, alertPk, entityPk)
	return err
}

const upsertFeedTransfer = `
INSERT INTO transfer (system_pk, source_pk, from_stop_pk, to_stop_pk, type, min_transfer_time)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (system_pk, from_stop_pk, to_stop_pk) WHERE config_source_pk IS NULL DO UPDATE SET
    source_pk = excluded.source_pk,
    type = excluded.type,
    min_transfer_time = excluded.min_transfer_time
RETURNING pk
`

type UpsertFeedTransferParams struct {
	SystemPk        int64
	SourcePk        int64
	FromStopPk      int64
	ToStopPk        int64
	Type            string
	MinTransferTime sql.NullInt64
}

func (q *Queries) UpsertFeedTransfer(ctx context.Context, arg UpsertFeedTransferParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertFeedTransfer,
		arg.SystemPk, arg.SourcePk, arg.FromStopPk, arg.ToStopPk, arg.Type, arg.MinTransferTime,
	)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}

const getScheduledTripRoutePk = `
SELECT scheduled_trip.route_pk FROM scheduled_trip
JOIN scheduled_service ON scheduled_service.pk = scheduled_trip.service_pk
WHERE scheduled_service.system_pk = ? AND scheduled_trip.id = ?
ORDER BY scheduled_trip.pk
LIMIT 1
`

// GetScheduledTripRoutePk returns the route of the scheduled trip with the
// given id, for realtime trips that omit their route.
func (q *Queries) GetScheduledTripRoutePk(ctx context.Context, systemPk int64, tripID string) (int64, error) {
	row := q.db.QueryRowContext(ctx, getScheduledTripRoutePk, systemPk, tripID)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}
