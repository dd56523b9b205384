package parse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gtfsproto "github.com/OneBusAway/go-gtfs/proto"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoregistry"

	"transiter.dev/transiter/internal/apperrors"
	"transiter.dev/transiter/internal/clock"
)

// DefaultExtensionFieldNumber is the field number used for the private
// extension messages attached to stop time updates and alerts.
const DefaultExtensionFieldNumber int32 = 1001

// GTFSRealtimeParser parses GTFS-Realtime protobuf messages into trips,
// alerts and vehicles.
type GTFSRealtimeParser struct {
	clock          clock.Clock
	location       *time.Location
	extensionField protowire.Number
	logger         *slog.Logger
}

func NewGTFSRealtimeParser(clk clock.Clock, loc *time.Location, extensionFieldNumber int32) *GTFSRealtimeParser {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if extensionFieldNumber == 0 {
		extensionFieldNumber = DefaultExtensionFieldNumber
	}
	return &GTFSRealtimeParser{
		clock:          clk,
		location:       loc,
		extensionField: protowire.Number(extensionFieldNumber),
		logger:         slog.Default().With(slog.String("component", "gtfs_realtime_parser")),
	}
}

func (p *GTFSRealtimeParser) Parse(ctx context.Context, content []byte) (*Result, error) {
	message := &gtfsproto.FeedMessage{}
	// An empty resolver keeps extension fields in the unknown bytes, where
	// readExtension decodes them with the feed's own field number.
	opts := proto.UnmarshalOptions{Resolver: new(protoregistry.Types)}
	if err := opts.Unmarshal(content, message); err != nil {
		return nil, apperrors.NewParseError("feed_message", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var b ResultBuilder
	for _, entity := range message.GetEntity() {
		tu, alert := entity.GetTripUpdate(), entity.GetAlert()
		switch {
		case tu != nil:
			if alert != nil {
				p.logger.Warn("entity has both trip update and alert, ignoring alert",
					slog.String("entity_id", entity.GetId()))
			}
			trip, ok, err := p.buildTrip(tu)
			if err != nil {
				return nil, apperrors.NewParseError("trip_update", fmt.Errorf("entity %q: %w", entity.GetId(), err))
			}
			if ok {
				b.Trips(trip)
			}
		case alert != nil:
			a, err := p.buildAlert(entity.GetId(), alert)
			if err != nil {
				return nil, apperrors.NewParseError("alert", fmt.Errorf("entity %q: %w", entity.GetId(), err))
			}
			b.Alerts(a)
		}
		if vp := entity.GetVehicle(); vp != nil {
			if vehicle, ok := p.buildVehicle(vp); ok {
				b.Vehicles(vehicle)
			}
		}
	}

	result := b.Build()
	p.logger.Debug("parsed gtfs realtime feed", slog.Any("counts", result.Counts()))
	return result, nil
}

func (p *GTFSRealtimeParser) buildTrip(tu *gtfsproto.TripUpdate) (Trip, bool, error) {
	descriptor := tu.GetTrip()
	if descriptor.GetTripId() == "" {
		return Trip{}, false, nil
	}
	trip := Trip{
		ID:                   descriptor.GetTripId(),
		RouteID:              descriptor.GetRouteId(),
		ScheduleRelationship: TripScheduleRelationship(descriptor.GetScheduleRelationship().String()),
	}
	if descriptor.DirectionId != nil {
		trip.DirectionID = ptr(descriptor.GetDirectionId() == 1)
	}
	startTime, err := p.startTime(descriptor.GetStartDate(), descriptor.GetStartTime())
	if err != nil {
		return Trip{}, false, err
	}
	trip.StartTime = startTime
	if tu.Timestamp != nil {
		trip.UpdatedAt = ptr(time.Unix(int64(tu.GetTimestamp()), 0).UTC())
	}
	if tu.Delay != nil {
		trip.Delay = ptr(tu.GetDelay())
	}

	for _, stu := range tu.GetStopTimeUpdate() {
		stopTime := TripStopTime{
			StopID:               stu.GetStopId(),
			ScheduleRelationship: StopTimeScheduleRelationship(stu.GetScheduleRelationship().String()),
		}
		if stu.StopSequence != nil {
			stopTime.StopSequence = ptr(stu.GetStopSequence())
		}
		if arrival := stu.GetArrival(); arrival != nil {
			stopTime.ArrivalTime, stopTime.ArrivalDelay, stopTime.ArrivalUncertainty = convertStopTimeEvent(arrival)
		}
		if departure := stu.GetDeparture(); departure != nil {
			stopTime.DepartureTime, stopTime.DepartureDelay, stopTime.DepartureUncertainty = convertStopTimeEvent(departure)
		}
		ext, err := p.readExtension(stu)
		if err != nil {
			return Trip{}, false, err
		}
		if track, ok := ext.strings[1]; ok {
			stopTime.Track = ptr(track)
		}
		trip.StopTimes = append(trip.StopTimes, stopTime)
	}
	return trip, true, nil
}

func convertStopTimeEvent(event *gtfsproto.TripUpdate_StopTimeEvent) (*time.Time, *int32, *int32) {
	var t *time.Time
	var delay, uncertainty *int32
	if event.Time != nil {
		t = ptr(time.Unix(event.GetTime(), 0).UTC())
	}
	if event.Delay != nil {
		delay = ptr(event.GetDelay())
	}
	if event.Uncertainty != nil {
		uncertainty = ptr(event.GetUncertainty())
	}
	return t, delay, uncertainty
}

// startTime combines a trip's start date and start time. A missing date means
// the current service day in the parser's location.
func (p *GTFSRealtimeParser) startTime(startDate, startTime string) (*time.Time, error) {
	if startTime == "" {
		return nil, nil
	}
	offset, err := parseGTFSTime(startTime)
	if err != nil {
		return nil, fmt.Errorf("invalid start_time: %w", err)
	}
	day := clock.ServiceDay(p.clock, p.location)
	if startDate != "" {
		day, err = time.ParseInLocation("20060102", startDate, p.location)
		if err != nil {
			return nil, fmt.Errorf("invalid start_date: %w", err)
		}
	}
	return ptr(day.Add(offset)), nil
}

func (p *GTFSRealtimeParser) buildAlert(id string, alert *gtfsproto.Alert) (Alert, error) {
	a := Alert{
		ID:     id,
		Cause:  alert.GetCause().String(),
		Effect: alert.GetEffect().String(),
	}

	for _, period := range alert.GetActivePeriod() {
		var ap ActivePeriod
		if period.Start != nil {
			ap.StartsAt = ptr(time.Unix(int64(period.GetStart()), 0).UTC())
		}
		if period.End != nil {
			ap.EndsAt = ptr(time.Unix(int64(period.GetEnd()), 0).UTC())
		}
		a.ActivePeriods = append(a.ActivePeriods, ap)
	}

	a.Messages = buildAlertMessages(alert)

	for _, informed := range alert.GetInformedEntity() {
		switch {
		case informed.GetTrip().GetTripId() != "":
			a.TripIDs = append(a.TripIDs, informed.GetTrip().GetTripId())
		case informed.GetTrip().GetRouteId() != "":
			a.RouteIDs = append(a.RouteIDs, informed.GetTrip().GetRouteId())
		}
		if informed.GetRouteId() != "" {
			a.RouteIDs = append(a.RouteIDs, informed.GetRouteId())
		}
		if informed.GetStopId() != "" {
			a.StopIDs = append(a.StopIDs, informed.GetStopId())
		}
		if informed.GetAgencyId() != "" {
			a.AgencyIDs = append(a.AgencyIDs, informed.GetAgencyId())
		}
	}

	ext, err := p.readExtension(alert)
	if err != nil {
		return Alert{}, err
	}
	if v, ok := ext.varints[1]; ok {
		a.CreatedAt = ptr(time.Unix(int64(v), 0).UTC())
	}
	if v, ok := ext.varints[2]; ok {
		a.UpdatedAt = ptr(time.Unix(int64(v), 0).UTC())
	}
	if v, ok := ext.varints[3]; ok {
		a.SortOrder = ptr(int32(v))
	}
	return a, nil
}

// buildAlertMessages produces one message per language, in the order the
// languages first appear across the header, description and url.
func buildAlertMessages(alert *gtfsproto.Alert) []AlertMessage {
	var order []string
	byLanguage := map[string]*AlertMessage{}
	get := func(language string) *AlertMessage {
		if m, ok := byLanguage[language]; ok {
			return m
		}
		m := &AlertMessage{}
		if language != "" {
			m.Language = ptr(language)
		}
		byLanguage[language] = m
		order = append(order, language)
		return m
	}
	for _, t := range alert.GetHeaderText().GetTranslation() {
		get(t.GetLanguage()).Header = t.GetText()
	}
	for _, t := range alert.GetDescriptionText().GetTranslation() {
		get(t.GetLanguage()).Description = t.GetText()
	}
	for _, t := range alert.GetUrl().GetTranslation() {
		get(t.GetLanguage()).URL = t.GetText()
	}
	messages := make([]AlertMessage, 0, len(order))
	for _, language := range order {
		messages = append(messages, *byLanguage[language])
	}
	return messages
}

func (p *GTFSRealtimeParser) buildVehicle(vp *gtfsproto.VehiclePosition) (Vehicle, bool) {
	descriptor := vp.GetVehicle()
	if descriptor.GetId() == "" {
		p.logger.Debug("skipping vehicle without id")
		return Vehicle{}, false
	}
	vehicle := Vehicle{
		ID:            descriptor.GetId(),
		Label:         descriptor.GetLabel(),
		LicensePlate:  descriptor.GetLicensePlate(),
		CurrentStatus: VehicleInTransitTo,
	}
	if tripID := vp.GetTrip().GetTripId(); tripID != "" {
		vehicle.TripID = ptr(tripID)
	}
	if vp.StopId != nil {
		vehicle.StopID = ptr(vp.GetStopId())
	}
	if vp.CurrentStopSequence != nil {
		vehicle.CurrentStopSequence = ptr(vp.GetCurrentStopSequence())
	}
	switch vp.GetCurrentStatus() {
	case gtfsproto.VehiclePosition_INCOMING_AT:
		vehicle.CurrentStatus = VehicleIncomingAt
	case gtfsproto.VehiclePosition_STOPPED_AT:
		vehicle.CurrentStatus = VehicleStoppedAt
	}
	if pos := vp.GetPosition(); pos != nil {
		vehicle.Latitude = ptr(float64(pos.GetLatitude()))
		vehicle.Longitude = ptr(float64(pos.GetLongitude()))
		if pos.Bearing != nil {
			vehicle.Bearing = ptr(float64(pos.GetBearing()))
		}
		if pos.Odometer != nil {
			vehicle.Odometer = ptr(pos.GetOdometer())
		}
		if pos.Speed != nil {
			vehicle.Speed = ptr(float64(pos.GetSpeed()))
		}
	}
	if vp.Timestamp != nil {
		vehicle.UpdatedAt = ptr(time.Unix(int64(vp.GetTimestamp()), 0).UTC())
	}
	return vehicle, true
}

type extensionFields struct {
	strings map[protowire.Number]string
	varints map[protowire.Number]uint64
}

// readExtension decodes the private extension message stored in the unknown
// fields of m. A missing extension yields empty maps.
func (p *GTFSRealtimeParser) readExtension(m proto.Message) (extensionFields, error) {
	ext := extensionFields{strings: map[protowire.Number]string{}, varints: map[protowire.Number]uint64{}}
	raw := m.ProtoReflect().GetUnknown()
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return ext, fmt.Errorf("malformed unknown fields: %w", protowire.ParseError(n))
		}
		raw = raw[n:]
		if num != p.extensionField || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return ext, fmt.Errorf("malformed unknown fields: %w", protowire.ParseError(n))
			}
			raw = raw[n:]
			continue
		}
		payload, n := protowire.ConsumeBytes(raw)
		if n < 0 {
			return ext, fmt.Errorf("malformed extension: %w", protowire.ParseError(n))
		}
		raw = raw[n:]
		if err := decodeExtensionPayload(payload, &ext); err != nil {
			return ext, err
		}
	}
	return ext, nil
}

func decodeExtensionPayload(payload []byte, ext *extensionFields) error {
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return fmt.Errorf("malformed extension: %w", protowire.ParseError(n))
		}
		payload = payload[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return fmt.Errorf("malformed extension: %w", protowire.ParseError(n))
			}
			ext.varints[num] = v
			payload = payload[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return fmt.Errorf("malformed extension: %w", protowire.ParseError(n))
			}
			ext.strings[num] = string(v)
			payload = payload[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, payload)
			if n < 0 {
				return fmt.Errorf("malformed extension: %w", protowire.ParseError(n))
			}
			payload = payload[n:]
		}
	}
	return nil
}
