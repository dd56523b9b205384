package parse

import (
	"time"
)

type StopType string

const (
	StopTypePlatform       StopType = "PLATFORM"
	StopTypeStation        StopType = "STATION"
	StopTypeGroupedStation StopType = "GROUPED_STATION"
	StopTypeEntrance       StopType = "ENTRANCE"
)

// IsStation reports whether stops of this type may have children.
func (t StopType) IsStation() bool {
	return t == StopTypeStation || t == StopTypeGroupedStation
}

// RouteType is the GTFS route_type code.
type RouteType int32

const (
	RouteTypeLightRail  RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCableTram  RouteType = 5
	RouteTypeAerialLift RouteType = 6
	RouteTypeFunicular  RouteType = 7
	RouteTypeTrolleybus RouteType = 11
	RouteTypeMonorail   RouteType = 12
	RouteTypeUnknown    RouteType = -1
)

type TripScheduleRelationship string

const (
	TripScheduled   TripScheduleRelationship = "SCHEDULED"
	TripAdded       TripScheduleRelationship = "ADDED"
	TripUnscheduled TripScheduleRelationship = "UNSCHEDULED"
	TripCanceled    TripScheduleRelationship = "CANCELED"
	TripReplacement TripScheduleRelationship = "REPLACEMENT"
	TripDuplicated  TripScheduleRelationship = "DUPLICATED"
	TripDeleted     TripScheduleRelationship = "DELETED"
	TripUnknown     TripScheduleRelationship = "UNKNOWN"
)

type StopTimeScheduleRelationship string

const (
	StopTimeScheduled   StopTimeScheduleRelationship = "SCHEDULED"
	StopTimeSkipped     StopTimeScheduleRelationship = "SKIPPED"
	StopTimeNoData      StopTimeScheduleRelationship = "NO_DATA"
	StopTimeUnscheduled StopTimeScheduleRelationship = "UNSCHEDULED"
)

type TransferType string

const (
	TransferRecommended TransferType = "RECOMMENDED"
	TransferCoordinated TransferType = "COORDINATED"
	TransferPossible    TransferType = "POSSIBLE"
	TransferNoTransfer  TransferType = "NO_TRANSFER"
	TransferGeographic  TransferType = "GEOGRAPHIC"
)

type VehicleStatus string

const (
	VehicleIncomingAt  VehicleStatus = "INCOMING_AT"
	VehicleStoppedAt   VehicleStatus = "STOPPED_AT"
	VehicleInTransitTo VehicleStatus = "IN_TRANSIT_TO"
)

const (
	UnknownCause  = "UNKNOWN_CAUSE"
	UnknownEffect = "UNKNOWN_EFFECT"
)

type Agency struct {
	ID       string
	Name     string
	URL      string
	Timezone string
	Language string
	Phone    string
	FareURL  string
	Email    string
}

type Route struct {
	ID          string
	AgencyID    string
	ShortName   string
	LongName    string
	Description string
	Color       string
	TextColor   string
	URL         string
	SortOrder   *int32
	Type        RouteType
}

type Stop struct {
	ID                 string
	Name               string
	Latitude           float64
	Longitude          float64
	Type               StopType
	ParentID           *string
	Code               string
	Description        string
	URL                string
	Timezone           string
	PlatformCode       string
	WheelchairBoarding *bool
}

type Trip struct {
	ID                   string
	RouteID              string
	DirectionID          *bool
	ScheduleRelationship TripScheduleRelationship
	StartTime            *time.Time
	UpdatedAt            *time.Time
	Delay                *int32
	StopTimes            []TripStopTime
}

type TripStopTime struct {
	StopID               string
	StopSequence         *uint32
	ScheduleRelationship StopTimeScheduleRelationship
	ArrivalTime          *time.Time
	ArrivalDelay         *int32
	ArrivalUncertainty   *int32
	DepartureTime        *time.Time
	DepartureDelay       *int32
	DepartureUncertainty *int32
	Track                *string
}

type ScheduledService struct {
	ID           string
	Monday       bool
	Tuesday      bool
	Wednesday    bool
	Thursday     bool
	Friday       bool
	Saturday     bool
	Sunday       bool
	StartDate    *time.Time
	EndDate      *time.Time
	AddedDates   []time.Time
	RemovedDates []time.Time
	Trips        []ScheduledTrip
}

type ScheduledTrip struct {
	ID          string
	RouteID     string
	DirectionID *bool
	Headsign    string
	BlockID     string
	ShapeID     string
	StopTimes   []ScheduledTripStopTime
	Frequencies []ScheduledTripFrequency
}

// ScheduledTripStopTime times are offsets from midnight of the service day
// and may exceed 24 hours.
type ScheduledTripStopTime struct {
	StopID        string
	StopSequence  uint32
	ArrivalTime   *time.Duration
	DepartureTime *time.Duration
}

type ScheduledTripFrequency struct {
	StartTime      time.Duration
	EndTime        time.Duration
	Headway        time.Duration
	FrequencyBased bool
}

type ShapePoint struct {
	Latitude  float64
	Longitude float64
}

type Shape struct {
	ID     string
	Points []ShapePoint
}

type ActivePeriod struct {
	StartsAt *time.Time
	EndsAt   *time.Time
}

type AlertMessage struct {
	Header      string
	Description string
	URL         string
	Language    *string
}

type Alert struct {
	ID            string
	Cause         string
	Effect        string
	ActivePeriods []ActivePeriod
	Messages      []AlertMessage
	RouteIDs      []string
	StopIDs       []string
	TripIDs       []string
	AgencyIDs     []string
	CreatedAt     *time.Time
	UpdatedAt     *time.Time
	SortOrder     *int32
}

type Transfer struct {
	FromStopID      string
	ToStopID        string
	Type            TransferType
	MinTransferTime *int32
}

type Vehicle struct {
	ID                  string
	TripID              *string
	Label               string
	LicensePlate        string
	CurrentStatus       VehicleStatus
	Latitude            *float64
	Longitude           *float64
	Bearing             *float64
	Odometer            *float64
	Speed               *float64
	StopID              *string
	CurrentStopSequence *uint32
	UpdatedAt           *time.Time
}
