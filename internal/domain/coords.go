package domain

import "math"

// CoordinateOutcome reports what NormalizeCoordinate did to a vendor pair.
type CoordinateOutcome int

const (
	CoordinateValid CoordinateOutcome = iota
	CoordinateSwapped
	CoordinateInvalid
)

func (o CoordinateOutcome) String() string {
	switch o {
	case CoordinateSwapped:
		return "swapped"
	case CoordinateInvalid:
		return "invalid"
	default:
		return "valid"
	}
}

// ValidLatitude reports whether v lies within [-90, 90].
func ValidLatitude(v float64) bool {
	return !math.IsNaN(v) && v >= -90 && v <= 90
}

// ValidLongitude reports whether v lies within [-180, 180].
func ValidLongitude(v float64) bool {
	return !math.IsNaN(v) && v >= -180 && v <= 180
}

// NormalizeCoordinate applies the axis-swap heuristic for vendor polygon vertices.
//
// A pair is swapped only when its latitude is out of range, its longitude value
// would be a valid latitude, and its latitude value is a valid longitude. Any
// other out-of-range pair is returned unchanged with CoordinateInvalid; callers
// log it and keep it.
// TODO: revisit once upstream confirms the axis order of storm-cell vertices.
func NormalizeCoordinate(c Coordinate) (Coordinate, CoordinateOutcome) {
	if ValidLatitude(c.Lat) && ValidLongitude(c.Lng) {
		return c, CoordinateValid
	}
	if !ValidLatitude(c.Lat) && ValidLatitude(c.Lng) && ValidLongitude(c.Lat) {
		return Coordinate{Lat: c.Lng, Lng: c.Lat}, CoordinateSwapped
	}
	return c, CoordinateInvalid
}
