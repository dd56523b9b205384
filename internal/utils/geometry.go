package utils

import "math"

const (
	// RadiusOfEarthInMeters is the mean Earth radius used for all distance math.
	RadiusOfEarthInMeters = 6371010.0
)

// CoordinateBounds is a latitude/longitude bounding box in degrees.
type CoordinateBounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance returns the great-circle distance in meters between two points
// given in degrees, using the haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push a slightly above 1 for antipodal points.
	a = math.Min(1, a)

	return 2 * RadiusOfEarthInMeters * math.Asin(math.Sqrt(a))
}

// CalculateBounds returns a box that contains every point within distance
// meters of (lat, lon). The box is conservative: points inside it still need
// an exact Distance check.
//
// The longitude half-width is the widest reach of the spherical cap,
// asin(sin(r)/cos(lat)), which lies north or south of the center latitude.
// When the cap touches a pole every longitude is covered.
func CalculateBounds(lat, lon, distance float64) CoordinateBounds {
	angular := distance / RadiusOfEarthInMeters
	latOffset := angular * 180 / math.Pi

	bounds := CoordinateBounds{
		MinLat: math.Max(-90, lat-latOffset),
		MaxLat: math.Min(90, lat+latOffset),
		MinLon: -180,
		MaxLon: 180,
	}
	if bounds.MinLat == -90 || bounds.MaxLat == 90 || angular >= math.Pi/2 {
		return bounds
	}
	ratio := math.Sin(angular) / math.Cos(toRadians(lat))
	if ratio >= 1 {
		return bounds
	}
	// The margin absorbs rounding between this and Distance.
	lonOffset := math.Asin(ratio)*180/math.Pi + 1e-9
	bounds.MinLon = lon - lonOffset
	bounds.MaxLon = lon + lonOffset
	return bounds
}

// IsOutOfBounds reports whether inner has no overlap with outer.
func IsOutOfBounds(inner, outer CoordinateBounds) bool {
	return inner.MaxLat < outer.MinLat ||
		inner.MinLat > outer.MaxLat ||
		inner.MaxLon < outer.MinLon ||
		inner.MinLon > outer.MaxLon
}
