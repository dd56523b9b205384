// Package parse turns raw feed payloads into canonical, format-independent
// entities. Parsers never touch storage and are safe for concurrent use.
package parse

import (
	"context"
	"iter"
	"slices"
	"time"

	"transiter.dev/transiter/internal/apperrors"
	"transiter.dev/transiter/internal/clock"
)

// Parser converts one feed payload into a Result. On error the Result is nil;
// callers never see a partially populated result.
type Parser interface {
	Parse(ctx context.Context, content []byte) (*Result, error)
}

// Result holds the entities found in one payload. Each accessor returns a
// fresh iterator over the same data, so sequences can be walked any number of
// times and independently of each other.
type Result struct {
	agencies  []Agency
	routes    []Route
	stops     []Stop
	trips     []Trip
	alerts    []Alert
	services  []ScheduledService
	transfers []Transfer
	vehicles  []Vehicle
	shapes    []Shape
}

func (r *Result) Agencies() iter.Seq[Agency]                    { return slices.Values(r.agencies) }
func (r *Result) Routes() iter.Seq[Route]                       { return slices.Values(r.routes) }
func (r *Result) Stops() iter.Seq[Stop]                         { return slices.Values(r.stops) }
func (r *Result) Trips() iter.Seq[Trip]                         { return slices.Values(r.trips) }
func (r *Result) Alerts() iter.Seq[Alert]                       { return slices.Values(r.alerts) }
func (r *Result) ScheduledServices() iter.Seq[ScheduledService] { return slices.Values(r.services) }
func (r *Result) Transfers() iter.Seq[Transfer]                 { return slices.Values(r.transfers) }
func (r *Result) Vehicles() iter.Seq[Vehicle]                   { return slices.Values(r.vehicles) }
func (r *Result) Shapes() iter.Seq[Shape]                       { return slices.Values(r.shapes) }

// Counts returns the number of parsed entities per kind, for logging.
func (r *Result) Counts() map[string]int {
	return map[string]int{
		"agency":            len(r.agencies),
		"route":             len(r.routes),
		"stop":              len(r.stops),
		"trip":              len(r.trips),
		"alert":             len(r.alerts),
		"scheduled_service": len(r.services),
		"transfer":          len(r.transfers),
		"vehicle":           len(r.vehicles),
		"shape":             len(r.shapes),
	}
}

// ResultBuilder assembles a Result from already-canonical entities. It is
// used by parsers in this package and by tests elsewhere that need fixtures.
type ResultBuilder struct {
	r Result
}

func (b *ResultBuilder) Agencies(v ...Agency) *ResultBuilder {
	b.r.agencies = append(b.r.agencies, v...)
	return b
}

func (b *ResultBuilder) Routes(v ...Route) *ResultBuilder {
	b.r.routes = append(b.r.routes, v...)
	return b
}

func (b *ResultBuilder) Stops(v ...Stop) *ResultBuilder {
	b.r.stops = append(b.r.stops, v...)
	return b
}

func (b *ResultBuilder) Trips(v ...Trip) *ResultBuilder {
	b.r.trips = append(b.r.trips, v...)
	return b
}

func (b *ResultBuilder) Alerts(v ...Alert) *ResultBuilder {
	b.r.alerts = append(b.r.alerts, v...)
	return b
}

func (b *ResultBuilder) ScheduledServices(v ...ScheduledService) *ResultBuilder {
	b.r.services = append(b.r.services, v...)
	return b
}

func (b *ResultBuilder) Transfers(v ...Transfer) *ResultBuilder {
	b.r.transfers = append(b.r.transfers, v...)
	return b
}

func (b *ResultBuilder) Vehicles(v ...Vehicle) *ResultBuilder {
	b.r.vehicles = append(b.r.vehicles, v...)
	return b
}

func (b *ResultBuilder) Shapes(v ...Shape) *ResultBuilder {
	b.r.shapes = append(b.r.shapes, v...)
	return b
}

func (b *ResultBuilder) Build() *Result {
	r := b.r
	return &r
}

// Format names a supported feed format.
type Format string

const (
	FormatGTFSStatic   Format = "GTFS_STATIC"
	FormatGTFSRealtime Format = "GTFS_REALTIME"
)

// Options configures a parser built by New.
type Options struct {
	// Transfers controls station grouping for static feeds.
	Transfers TransfersConfig
	// ExtensionFieldNumber is the field number of the private GTFS-Realtime
	// extension. Zero selects DefaultExtensionFieldNumber.
	ExtensionFieldNumber int32
	// Location anchors realtime start times that carry no date. Nil means UTC.
	Location *time.Location
	// Clock supplies "today" for realtime start times. Nil means the system clock.
	Clock clock.Clock
}

// New returns the parser for format.
func New(format Format, opts Options) (Parser, error) {
	switch format {
	case FormatGTFSStatic:
		return NewGTFSStaticParser(opts.Transfers), nil
	case FormatGTFSRealtime:
		return NewGTFSRealtimeParser(opts.Clock, opts.Location, opts.ExtensionFieldNumber), nil
	default:
		return nil, apperrors.InvalidInputf("unknown feed format %q", format)
	}
}

func ptr[T any](v T) *T {
	return &v
}
