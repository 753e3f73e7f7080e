package mapbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
)

// ErrPlaceNotFound is returned when Mapbox has no match for the observer place.
var ErrPlaceNotFound = errors.New("observer place not found")

// Locator resolves the observer from a configured place name.
type Locator struct {
	geocoder domain.Geocoder
	place    string
	region   string
	logger   *slog.Logger
}

// NewLocator creates a locator for place, optionally qualified by region.
func NewLocator(geocoder domain.Geocoder, place, region string, logger *slog.Logger) *Locator {
	return &Locator{geocoder: geocoder, place: place, region: region, logger: logger}
}

// Locate forward-geocodes the configured place.
func (l *Locator) Locate(ctx context.Context) (domain.Coordinate, error) {
	result, err := l.geocoder.ForwardGeocode(ctx, l.place, l.region)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("locate %q: %w", l.place, err)
	}
	if result.FormattedAddress == "" {
		return domain.Coordinate{}, fmt.Errorf("locate %q: %w", l.place, ErrPlaceNotFound)
	}
	l.logger.Info("observer place resolved",
		"place", l.place, "address", result.FormattedAddress, "confidence", result.Confidence)
	return result.Coordinate(), nil
}

// Describe reverse-geocodes c to a human-readable place. It returns an empty
// string when nothing matches.
func Describe(ctx context.Context, geocoder domain.Geocoder, c domain.Coordinate) (string, error) {
	result, err := geocoder.ReverseGeocode(ctx, c.Lat, c.Lng)
	if err != nil {
		return "", fmt.Errorf("describe %.4f,%.4f: %w", c.Lat, c.Lng, err)
	}
	return result.FormattedAddress, nil
}
