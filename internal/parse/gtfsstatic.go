package parse

import (
	"archive/zip"
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"transiter.dev/transiter/internal/apperrors"
)

// GTFSStaticParser parses a GTFS static zip archive. Missing files are treated
// as empty tables.
type GTFSStaticParser struct {
	transfers TransfersConfig
	logger    *slog.Logger
}

func NewGTFSStaticParser(transfers TransfersConfig) *GTFSStaticParser {
	return &GTFSStaticParser{
		transfers: transfers,
		logger:    slog.Default().With(slog.String("component", "gtfs_static_parser")),
	}
}

type transferRow struct {
	fromStopID      string
	toStopID        string
	transferType    string
	minTransferTime string
}

type staticState struct {
	agencies     []Agency
	routes       []Route
	stops        []Stop
	transferRows []transferRow
	services     []ScheduledService
	serviceIdx   map[string]int
	tripIdx      map[string][2]int
	shapes       []Shape
}

func (p *GTFSStaticParser) Parse(ctx context.Context, content []byte) (*Result, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, apperrors.NewParseError("archive", err)
	}
	files := map[string]*zip.File{}
	for _, f := range reader.File {
		files[path.Base(f.Name)] = f
	}

	s := &staticState{serviceIdx: map[string]int{}, tripIdx: map[string][2]int{}}
	for _, table := range []struct {
		File   string
		Action func(*csvFile) error
	}{
		{File: "agency.txt", Action: s.parseAgencies},
		{File: "routes.txt", Action: s.parseRoutes},
		{File: "stops.txt", Action: s.parseStops},
		{File: "transfers.txt", Action: s.parseTransferRows},
		{File: "calendar.txt", Action: s.parseCalendar},
		{File: "calendar_dates.txt", Action: s.parseCalendarDates},
		{File: "shapes.txt", Action: s.parseShapes},
		{File: "trips.txt", Action: s.parseTrips},
		{File: "frequencies.txt", Action: s.parseFrequencies},
		{File: "stop_times.txt", Action: s.parseStopTimes},
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		zf := files[table.File]
		if zf == nil {
			continue
		}
		file, err := openCSVFile(table.File, zf)
		if err != nil {
			return nil, apperrors.NewParseError(table.File, err)
		}
		err = table.Action(file)
		if err == nil {
			err = file.Err()
		}
		_ = file.Close()
		if err != nil {
			return nil, apperrors.NewParseError(table.File, err)
		}
	}

	for i := range s.services {
		for j := range s.services[i].Trips {
			slices.SortStableFunc(s.services[i].Trips[j].StopTimes, func(a, b ScheduledTripStopTime) int {
				return cmp.Compare(a.StopSequence, b.StopSequence)
			})
		}
	}

	stops, grouped := groupStations(s.stops, s.transferRows, p.transfers)
	transfers, err := buildTransfers(s.transferRows, grouped)
	if err != nil {
		return nil, apperrors.NewParseError("transfers.txt", err)
	}

	var b ResultBuilder
	b.Agencies(s.agencies...).
		Routes(s.routes...).
		Stops(stops...).
		Transfers(transfers...).
		ScheduledServices(s.services...).
		Shapes(s.shapes...)

	result := b.Build()
	p.logger.Debug("parsed gtfs static feed", slog.Any("counts", result.Counts()))
	return result, nil
}

func (s *staticState) parseAgencies(f *csvFile) error {
	idColumn := f.OptionalColumn("agency_id")
	nameColumn := f.RequiredColumn("agency_name")
	urlColumn := f.OptionalColumn("agency_url")
	timezoneColumn := f.OptionalColumn("agency_timezone")
	languageColumn := f.OptionalColumn("agency_lang")
	phoneColumn := f.OptionalColumn("agency_phone")
	fareURLColumn := f.OptionalColumn("agency_fare_url")
	emailColumn := f.OptionalColumn("agency_email")
	if err := f.MissingRequiredColumns(); err != nil {
		return err
	}
	for f.NextRow() {
		agency := Agency{
			ID:       idColumn.Read(),
			Name:     nameColumn.Read(),
			URL:      urlColumn.Read(),
			Timezone: timezoneColumn.Read(),
			Language: languageColumn.Read(),
			Phone:    phoneColumn.Read(),
			FareURL:  fareURLColumn.Read(),
			Email:    emailColumn.Read(),
		}
		if agency.ID == "" {
			agency.ID = agency.Name
		}
		if agency.ID == "" {
			continue
		}
		s.agencies = append(s.agencies, agency)
	}
	return nil
}

func (s *staticState) parseRoutes(f *csvFile) error {
	idColumn := f.RequiredColumn("route_id")
	agencyIDColumn := f.OptionalColumn("agency_id")
	shortNameColumn := f.OptionalColumn("route_short_name")
	longNameColumn := f.OptionalColumn("route_long_name")
	descriptionColumn := f.OptionalColumn("route_desc")
	typeColumn := f.OptionalColumn("route_type")
	urlColumn := f.OptionalColumn("route_url")
	colorColumn := f.OptionalColumn("route_color")
	textColorColumn := f.OptionalColumn("route_text_color")
	sortOrderColumn := f.OptionalColumn("route_sort_order")
	if err := f.MissingRequiredColumns(); err != nil {
		return err
	}

	singleAgencyID := ""
	if len(s.agencies) == 1 {
		singleAgencyID = s.agencies[0].ID
	}
	for f.NextRow() {
		route := Route{
			ID:          idColumn.Read(),
			AgencyID:    pickFirstAvailable(agencyIDColumn.Read(), singleAgencyID),
			ShortName:   shortNameColumn.Read(),
			LongName:    longNameColumn.Read(),
			Description: descriptionColumn.Read(),
			Color:       pickFirstAvailable(colorColumn.Read(), "FFFFFF"),
			TextColor:   pickFirstAvailable(textColorColumn.Read(), "000000"),
			URL:         urlColumn.Read(),
			SortOrder:   parseInt32(sortOrderColumn.Read()),
			Type:        parseRouteType(typeColumn.Read()),
		}
		if len(f.MissingRowKeys()) > 0 {
			continue
		}
		s.routes = append(s.routes, route)
	}
	return nil
}

func (s *staticState) parseStops(f *csvFile) error {
	idColumn := f.RequiredColumn("stop_id")
	nameColumn := f.OptionalColumn("stop_name")
	latColumn := f.OptionalColumn("stop_lat")
	lonColumn := f.OptionalColumn("stop_lon")
	typeColumn := f.OptionalColumn("location_type")
	parentColumn := f.OptionalColumn("parent_station")
	codeColumn := f.OptionalColumn("stop_code")
	descriptionColumn := f.OptionalColumn("stop_desc")
	urlColumn := f.OptionalColumn("stop_url")
	timezoneColumn := f.OptionalColumn("stop_timezone")
	platformCodeColumn := f.OptionalColumn("platform_code")
	wheelchairColumn := f.OptionalColumn("wheelchair_boarding")
	if err := f.MissingRequiredColumns(); err != nil {
		return err
	}
	for f.NextRow() {
		id := idColumn.Read()
		if len(f.MissingRowKeys()) > 0 {
			continue
		}
		lat, err := parseCoordinate(latColumn.Read())
		if err != nil {
			return fmt.Errorf("stop %q: invalid stop_lat: %w", id, err)
		}
		lon, err := parseCoordinate(lonColumn.Read())
		if err != nil {
			return fmt.Errorf("stop %q: invalid stop_lon: %w", id, err)
		}
		stop := Stop{
			ID:                 id,
			Name:               nameColumn.Read(),
			Latitude:           lat,
			Longitude:          lon,
			Type:               parseStopType(typeColumn.Read()),
			Code:               codeColumn.Read(),
			Description:        descriptionColumn.Read(),
			URL:                urlColumn.Read(),
			Timezone:           timezoneColumn.Read(),
			PlatformCode:       platformCodeColumn.Read(),
			WheelchairBoarding: parseWheelchair(wheelchairColumn.Read()),
		}
		if parentID := parentColumn.Read(); parentID != "" {
			stop.ParentID = ptr(parentID)
		}
		s.stops = append(s.stops, stop)
	}
	return nil
}

func (s *staticState) parseTransferRows(f *csvFile) error {
	fromColumn := f.RequiredColumn("from_stop_id")
	toColumn := f.RequiredColumn("to_stop_id")
	typeColumn := f.OptionalColumn("transfer_type")
	minTimeColumn := f.OptionalColumn("min_transfer_time")
	if err := f.MissingRequiredColumns(); err != nil {
		return err
	}
	for f.NextRow() {
		row := transferRow{
			fromStopID:      fromColumn.Read(),
			toStopID:        toColumn.Read(),
			transferType:    typeColumn.Read(),
			minTransferTime: minTimeColumn.Read(),
		}
		if len(f.MissingRowKeys()) > 0 {
			continue
		}
		s.transferRows = append(s.transferRows, row)
	}
	return nil
}

func buildTransfers(rows []transferRow, grouped map[[2]string]bool) ([]Transfer, error) {
	var transfers []Transfer
	for _, row := range rows {
		if row.fromStopID == row.toStopID || grouped[[2]string{row.fromStopID, row.toStopID}] {
			continue
		}
		transfer := Transfer{
			FromStopID: row.fromStopID,
			ToStopID:   row.toStopID,
			Type:       parseTransferType(row.transferType),
		}
		if row.minTransferTime != "" {
			v, err := strconv.ParseInt(row.minTransferTime, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid min_transfer_time %q: %w", row.minTransferTime, err)
			}
			transfer.MinTransferTime = ptr(int32(v))
		}
		transfers = append(transfers, transfer)
	}
	return transfers, nil
}

func (s *staticState) service(id string) *ScheduledService {
	if idx, ok := s.serviceIdx[id]; ok {
		return &s.services[idx]
	}
	s.serviceIdx[id] = len(s.services)
	s.services = append(s.services, ScheduledService{ID: id})
	return &s.services[len(s.services)-1]
}

func (s *staticState) parseCalendar(f *csvFile) error {
	idColumn := f.RequiredColumn("service_id")
	startColumn := f.RequiredColumn("start_date")
	endColumn := f.RequiredColumn("end_date")
	var dayColumns [7]csvColumn
	for i, day := range []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"} {
		dayColumns[i] = f.OptionalColumn(day)
	}
	if err := f.MissingRequiredColumns(); err != nil {
		return err
	}
	for f.NextRow() {
		id := idColumn.Read()
		startRaw, endRaw := startColumn.Read(), endColumn.Read()
		if len(f.MissingRowKeys()) > 0 {
			continue
		}
		start, err := parseDate(startRaw)
		if err != nil {
			return fmt.Errorf("service %q: %w", id, err)
		}
		end, err := parseDate(endRaw)
		if err != nil {
			return fmt.Errorf("service %q: %w", id, err)
		}
		service := s.service(id)
		days := [7]*bool{&service.Monday, &service.Tuesday, &service.Wednesday, &service.Thursday,
			&service.Friday, &service.Saturday, &service.Sunday}
		for i, column := range dayColumns {
			*days[i] = column.Read() == "1"
		}
		service.StartDate = &start
		service.EndDate = &end
	}
	return nil
}

func (s *staticState) parseCalendarDates(f *csvFile) error {
	idColumn := f.RequiredColumn("service_id")
	dateColumn := f.RequiredColumn("date")
	typeColumn := f.RequiredColumn("exception_type")
	if err := f.MissingRequiredColumns(); err != nil {
		return err
	}
	for f.NextRow() {
		id, rawDate, exceptionType := idColumn.Read(), dateColumn.Read(), typeColumn.Read()
		if len(f.MissingRowKeys()) > 0 {
			continue
		}
		date, err := parseDate(rawDate)
		if err != nil {
			return fmt.Errorf("service %q: %w", id, err)
		}
		service := s.service(id)
		switch exceptionType {
		case "1":
			service.AddedDates = append(service.AddedDates, date)
		case "2":
			service.RemovedDates = append(service.RemovedDates, date)
		}
	}
	return nil
}

func (s *staticState) parseShapes(f *csvFile) error {
	idColumn := f.RequiredColumn("shape_id")
	latColumn := f.RequiredColumn("shape_pt_lat")
	lonColumn := f.RequiredColumn("shape_pt_lon")
	sequenceColumn := f.RequiredColumn("shape_pt_sequence")
	if err := f.MissingRequiredColumns(); err != nil {
		return err
	}
	type point struct {
		seq int64
		pt  ShapePoint
	}
	var order []string
	points := map[string][]point{}
	for f.NextRow() {
		id, rawLat, rawLon, rawSeq := idColumn.Read(), latColumn.Read(), lonColumn.Read(), sequenceColumn.Read()
		if len(f.MissingRowKeys()) > 0 {
			continue
		}
		lat, err := strconv.ParseFloat(rawLat, 64)
		if err != nil {
			return fmt.Errorf("shape %q: invalid shape_pt_lat: %w", id, err)
		}
		lon, err := strconv.ParseFloat(rawLon, 64)
		if err != nil {
			return fmt.Errorf("shape %q: invalid shape_pt_lon: %w", id, err)
		}
		seq, err := strconv.ParseInt(rawSeq, 10, 64)
		if err != nil {
			return fmt.Errorf("shape %q: invalid shape_pt_sequence: %w", id, err)
		}
		if _, ok := points[id]; !ok {
			order = append(order, id)
		}
		points[id] = append(points[id], point{seq: seq, pt: ShapePoint{Latitude: lat, Longitude: lon}})
	}
	for _, id := range order {
		pts := points[id]
		slices.SortStableFunc(pts, func(a, b point) int { return cmp.Compare(a.seq, b.seq) })
		shape := Shape{ID: id, Points: make([]ShapePoint, 0, len(pts))}
		for _, p := range pts {
			shape.Points = append(shape.Points, p.pt)
		}
		s.shapes = append(s.shapes, shape)
	}
	return nil
}

func (s *staticState) parseTrips(f *csvFile) error {
	idColumn := f.RequiredColumn("trip_id")
	routeColumn := f.RequiredColumn("route_id")
	serviceColumn := f.RequiredColumn("service_id")
	directionColumn := f.OptionalColumn("direction_id")
	headsignColumn := f.OptionalColumn("trip_headsign")
	blockColumn := f.OptionalColumn("block_id")
	shapeColumn := f.OptionalColumn("shape_id")
	if err := f.MissingRequiredColumns(); err != nil {
		return err
	}
	for f.NextRow() {
		trip := ScheduledTrip{
			ID:          idColumn.Read(),
			RouteID:     routeColumn.Read(),
			DirectionID: parseDirection(directionColumn.Read()),
			Headsign:    headsignColumn.Read(),
			BlockID:     blockColumn.Read(),
			ShapeID:     shapeColumn.Read(),
		}
		serviceID := serviceColumn.Read()
		if len(f.MissingRowKeys()) > 0 {
			continue
		}
		serviceIdx, ok := s.serviceIdx[serviceID]
		if !ok {
			continue
		}
		service := &s.services[serviceIdx]
		s.tripIdx[trip.ID] = [2]int{serviceIdx, len(service.Trips)}
		service.Trips = append(service.Trips, trip)
	}
	return nil
}

func (s *staticState) trip(id string) *ScheduledTrip {
	idx, ok := s.tripIdx[id]
	if !ok {
		return nil
	}
	return &s.services[idx[0]].Trips[idx[1]]
}

func (s *staticState) parseFrequencies(f *csvFile) error {
	tripColumn := f.RequiredColumn("trip_id")
	startColumn := f.RequiredColumn("start_time")
	endColumn := f.RequiredColumn("end_time")
	headwayColumn := f.RequiredColumn("headway_secs")
	exactTimesColumn := f.OptionalColumn("exact_times")
	if err := f.MissingRequiredColumns(); err != nil {
		return err
	}
	for f.NextRow() {
		tripID, rawStart, rawEnd, rawHeadway := tripColumn.Read(), startColumn.Read(), endColumn.Read(), headwayColumn.Read()
		exactTimes := exactTimesColumn.Read()
		if len(f.MissingRowKeys()) > 0 {
			continue
		}
		trip := s.trip(tripID)
		if trip == nil {
			continue
		}
		start, err := parseGTFSTime(rawStart)
		if err != nil {
			return fmt.Errorf("trip %q: invalid start_time: %w", tripID, err)
		}
		end, err := parseGTFSTime(rawEnd)
		if err != nil {
			return fmt.Errorf("trip %q: invalid end_time: %w", tripID, err)
		}
		headway, err := strconv.Atoi(rawHeadway)
		if err != nil {
			return fmt.Errorf("trip %q: invalid headway_secs: %w", tripID, err)
		}
		trip.Frequencies = append(trip.Frequencies, ScheduledTripFrequency{
			StartTime:      start,
			EndTime:        end,
			Headway:        time.Duration(headway) * time.Second,
			FrequencyBased: exactTimes != "1",
		})
	}
	return nil
}

func (s *staticState) parseStopTimes(f *csvFile) error {
	tripColumn := f.RequiredColumn("trip_id")
	stopColumn := f.RequiredColumn("stop_id")
	sequenceColumn := f.RequiredColumn("stop_sequence")
	arrivalColumn := f.OptionalColumn("arrival_time")
	departureColumn := f.OptionalColumn("departure_time")
	if err := f.MissingRequiredColumns(); err != nil {
		return err
	}
	for f.NextRow() {
		tripID, stopID, rawSeq := tripColumn.Read(), stopColumn.Read(), sequenceColumn.Read()
		rawArrival, rawDeparture := arrivalColumn.Read(), departureColumn.Read()
		if len(f.MissingRowKeys()) > 0 {
			continue
		}
		trip := s.trip(tripID)
		if trip == nil {
			continue
		}
		seq, err := strconv.ParseUint(rawSeq, 10, 32)
		if err != nil {
			return fmt.Errorf("trip %q: invalid stop_sequence: %w", tripID, err)
		}
		stopTime := ScheduledTripStopTime{StopID: stopID, StopSequence: uint32(seq)}
		if rawArrival != "" {
			t, err := parseGTFSTime(rawArrival)
			if err != nil {
				return fmt.Errorf("trip %q: invalid arrival_time: %w", tripID, err)
			}
			stopTime.ArrivalTime = &t
		}
		if rawDeparture != "" {
			t, err := parseGTFSTime(rawDeparture)
			if err != nil {
				return fmt.Errorf("trip %q: invalid departure_time: %w", tripID, err)
			}
			stopTime.DepartureTime = &t
		}
		trip.StopTimes = append(trip.StopTimes, stopTime)
	}
	return nil
}

func pickFirstAvailable(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func parseCoordinate(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseInt32(s string) *int32 {
	if s == "" {
		return nil
	}
	i, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return nil
	}
	return ptr(int32(i))
}

func parseRouteType(s string) RouteType {
	i, err := strconv.Atoi(s)
	if err != nil {
		return RouteTypeUnknown
	}
	return RouteType(i)
}

func parseStopType(s string) StopType {
	switch s {
	case "1":
		return StopTypeStation
	case "2":
		return StopTypeEntrance
	default:
		return StopTypePlatform
	}
}

func parseWheelchair(s string) *bool {
	switch s {
	case "1":
		return ptr(true)
	case "2":
		return ptr(false)
	default:
		return nil
	}
}

func parseDirection(s string) *bool {
	switch s {
	case "1":
		return ptr(true)
	case "0":
		return ptr(false)
	default:
		return nil
	}
}

func parseTransferType(s string) TransferType {
	switch s {
	case "1":
		return TransferCoordinated
	case "2":
		return TransferPossible
	case "3":
		return TransferNoTransfer
	default:
		return TransferRecommended
	}
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation("20060102", s, time.UTC)
}

// parseGTFSTime parses H:MM:SS where the hour may exceed 23.
func parseGTFSTime(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("expected HH:MM:SS, got %q", s)
	}
	var fields [3]int
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("expected HH:MM:SS, got %q", s)
		}
		fields[i] = v
	}
	if fields[1] > 59 || fields[2] > 59 {
		return 0, fmt.Errorf("minutes and seconds must be below 60, got %q", s)
	}
	return time.Duration(fields[0])*time.Hour + time.Duration(fields[1])*time.Minute + time.Duration(fields[2])*time.Second, nil
}
