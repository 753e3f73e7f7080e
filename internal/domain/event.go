package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Coordinate is a WGS-84 position as delivered by the vendor and the backend.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Position returns the GeoJSON [lng, lat] order.
func (c Coordinate) Position() []float64 {
	return []float64{c.Lng, c.Lat}
}

// LightningEvent is a single detected discharge. It is never persisted.
type LightningEvent struct {
	Longitude  float64         `json:"lon"`
	Latitude   float64         `json:"lat"`
	ReceivedAt time.Time       `json:"received_at"`
	Simulated  bool            `json:"simulated,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Coordinate returns the event position.
func (e LightningEvent) Coordinate() Coordinate {
	return Coordinate{Lat: e.Latitude, Lng: e.Longitude}
}

// StormPolygon is one vendor storm record. The whole list is replaced on every poll.
type StormPolygon struct {
	Identifier     string       `json:"identifier"`
	Severity       string       `json:"severity"`
	LightningLevel FlexString   `json:"lightningLevel"`
	Headline       string       `json:"headline"`
	Description    string       `json:"description"`
	Expires        string       `json:"expires"`
	Polygon        []Coordinate `json:"polygon"`
	CellPolygon    []Coordinate `json:"cellPolygon,omitempty"`
	Direction      *float64     `json:"direction,omitempty"`
	Speed          *Speed       `json:"speed,omitempty"`
}

// HasTrack reports whether the record carries enough motion data to project a track.
func (p StormPolygon) HasTrack() bool {
	return p.Direction != nil && p.Speed != nil && p.Speed.Valid
}

// RadarTimeSlot identifies one radar raster snapshot. Opaque to us.
type RadarTimeSlot string

// FlexString decodes a JSON string or number into its textual form.
// Vendor fields such as lightningLevel and time slots switch between the two.
type FlexString string

// UnmarshalJSON accepts strings, numbers and null.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode flex string: %w", err)
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode flex string: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// Speed is a storm's reported speed in miles per hour.
type Speed struct {
	MPH   float64
	Raw   string
	Valid bool
}

// NewSpeed returns a valid speed of mph miles per hour.
func NewSpeed(mph float64) Speed {
	return Speed{MPH: mph, Raw: strconv.FormatFloat(mph, 'f', -1, 64), Valid: true}
}

// MarshalJSON writes the speed back in the form it arrived in.
func (s Speed) MarshalJSON() ([]byte, error) {
	switch {
	case s.Raw != "":
		if _, err := strconv.ParseFloat(s.Raw, 64); err == nil {
			return []byte(s.Raw), nil
		}
		return json.Marshal(s.Raw)
	case s.Valid:
		return json.Marshal(s.MPH)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a number (12) or a string with a unit suffix ("12 mph").
// Unparseable values decode to an invalid Speed rather than failing the record.
func (s *Speed) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = Speed{}
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode speed: %w", err)
		}
		mph, ok := ParseSpeedMPH(raw)
		*s = Speed{MPH: mph, Raw: raw, Valid: ok}
		return nil
	}
	var mph float64
	if err := json.Unmarshal(data, &mph); err != nil {
		return fmt.Errorf("decode speed: %w", err)
	}
	*s = Speed{MPH: mph, Raw: string(data), Valid: true}
	return nil
}

// KMH converts the speed to kilometers per hour.
func (s Speed) KMH() float64 {
	return s.MPH * KmPerMile
}

// AlertLevel is the proximity alert state around the observer.
type AlertLevel int

const (
	AlertNormal AlertLevel = iota
	AlertWarning
	AlertDanger
)

func (l AlertLevel) String() string {
	switch l {
	case AlertWarning:
		return "warning"
	case AlertDanger:
		return "danger"
	default:
		return "normal"
	}
}

// MarshalText encodes the level by name.
func (l AlertLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// LayerConfig is UI-controlled overlay state. Never persisted; each session starts from defaults.
type LayerConfig struct {
	RadarOpacity float64 `json:"radarOpacity"`
	RadarContour bool    `json:"radarContour"`
	CloudOpacity float64 `json:"cloudOpacity"`
	ShowLabels   bool    `json:"showLabels"`
	ShowPolygons bool    `json:"showPolygons"`
	MapStyle     string  `json:"mapStyle"`
}

// MapStyles lists the base styles a client may select.
var MapStyles = []string{"streets", "satellite", "dark", "light", "outdoors"}

// DefaultLayerConfig returns the session defaults.
func DefaultLayerConfig() LayerConfig {
	return LayerConfig{
		RadarOpacity: 0.7,
		RadarContour: false,
		CloudOpacity: 0.5,
		ShowLabels:   true,
		ShowPolygons: true,
		MapStyle:     "streets",
	}
}

// Validate checks opacity ranges and the map style name.
func (c LayerConfig) Validate() error {
	if c.RadarOpacity < 0 || c.RadarOpacity > 1 {
		return fmt.Errorf("radarOpacity must be within [0, 1], got %g", c.RadarOpacity)
	}
	if c.CloudOpacity < 0 || c.CloudOpacity > 1 {
		return fmt.Errorf("cloudOpacity must be within [0, 1], got %g", c.CloudOpacity)
	}
	for _, s := range MapStyles {
		if s == c.MapStyle {
			return nil
		}
	}
	return fmt.Errorf("unknown mapStyle %q", c.MapStyle)
}

// AlertChange records one proximity alert transition.
type AlertChange struct {
	From       AlertLevel `json:"from"`
	To         AlertLevel `json:"to"`
	Observer   Coordinate `json:"observer"`
	DistanceKm float64    `json:"distance_km,omitempty"`
	At         time.Time  `json:"at"`
}
