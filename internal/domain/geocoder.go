package domain

import "context"

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	PlaceName        string
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Coordinate returns the result position.
func (r GeocodingResult) Coordinate() Coordinate {
	return Coordinate{Lat: r.Lat, Lng: r.Lon}
}

// Geocoder resolves observer places and labels coordinates.
type Geocoder interface {
	// ForwardGeocode converts a place name, optionally qualified by a region, to coordinates.
	ForwardGeocode(ctx context.Context, name, region string) (GeocodingResult, error)

	// ReverseGeocode converts coordinates to place details.
	ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodingResult, error)
}
