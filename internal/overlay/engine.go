// Package overlay drives the live lightning, radar and storm-polygon feeds into a
// map engine and derives the proximity alert around the observer.
package overlay

import (
	"context"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/scene"
)

// MapEngine is the map the overlay draws into. *scene.Scene implements it.
type MapEngine interface {
	AddSource(id string, src scene.Source) error
	RemoveSource(id string) error
	HasSource(id string) bool
	AddLayer(l scene.Layer) error
	RemoveLayer(id string) error
	HasLayer(id string) bool
	SetPaintProperty(layerID, name string, value any) error
	SetLayoutProperty(layerID, name string, value any) error

	AddMarker(m scene.Marker) error
	RemoveMarker(id string) error

	ShowPopup(p scene.Popup)
	OnClick(layerID string, fn scene.ClickHandler)
	OnHover(layerID, cursor string)

	FitBounds(b scene.Bounds)
	FlyTo(c domain.Coordinate, zoom float64)
	Center() domain.Coordinate
	SetStyle(style string)
}

// EventSource produces lightning events until stopped. The live feed manager and
// the simulation generator both implement it.
type EventSource interface {
	Start(ctx context.Context, emit func(domain.LightningEvent))
	Stop()
}

// Locator resolves the observer position once at startup.
type Locator interface {
	Locate(ctx context.Context) (domain.Coordinate, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (domain.Coordinate, error)

// Locate calls f.
func (f LocatorFunc) Locate(ctx context.Context) (domain.Coordinate, error) { return f(ctx) }

// FixedLocator always returns the same position.
func FixedLocator(c domain.Coordinate) Locator {
	return LocatorFunc(func(context.Context) (domain.Coordinate, error) { return c, nil })
}

// Publisher forwards strikes and alert transitions downstream.
type Publisher interface {
	PublishStrike(ctx context.Context, ev domain.LightningEvent) error
	PublishAlert(ctx context.Context, change domain.AlertChange) error
}
