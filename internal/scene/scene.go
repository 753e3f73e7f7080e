// Package scene is the in-memory map engine the overlay draws into.
//
// It keeps the same registry semantics as a browser map library: sources and
// layers are addressed by ID, adding an existing ID fails, a source cannot be
// removed while a layer still uses it, and click/hover handlers are bound to a
// layer ID independently of whether that layer currently exists. Clients render
// the scene through the HTTP API.
package scene

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
)

var (
	ErrDuplicateID = errors.New("id already exists")
	ErrNotFound    = errors.New("not found")
	ErrSourceInUse = errors.New("source in use by layer")
)

// SourceType is the kind of data a source carries.
type SourceType string

const (
	SourceGeoJSON SourceType = "geojson"
	SourceRaster  SourceType = "raster"
)

// LayerType is the render primitive of a layer.
type LayerType string

const (
	LayerFill   LayerType = "fill"
	LayerLine   LayerType = "line"
	LayerCircle LayerType = "circle"
	LayerRaster LayerType = "raster"
	LayerSymbol LayerType = "symbol"
)

// Source is a named data source.
type Source struct {
	Type        SourceType                 `json:"type"`
	Data        *geojson.FeatureCollection `json:"data,omitempty"`
	Tiles       []string                   `json:"tiles,omitempty"`
	TileSize    int                        `json:"tileSize,omitempty"`
	Attribution string                     `json:"attribution,omitempty"`
}

// Layer renders one source with paint and layout properties.
type Layer struct {
	ID     string         `json:"id"`
	Type   LayerType      `json:"type"`
	Source string         `json:"source"`
	Filter []any          `json:"filter,omitempty"`
	Paint  map[string]any `json:"paint,omitempty"`
	Layout map[string]any `json:"layout,omitempty"`
}

func (l Layer) clone() Layer {
	l.Paint = maps.Clone(l.Paint)
	l.Layout = maps.Clone(l.Layout)
	l.Filter = slices.Clone(l.Filter)
	return l
}

// Marker is a transient point placed on the map.
type Marker struct {
	ID        string            `json:"id"`
	Position  domain.Coordinate `json:"position"`
	Kind      string            `json:"kind"`
	CreatedAt time.Time         `json:"createdAt"`
}

// PopupField is one labeled line of a popup.
type PopupField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Popup is an info window anchored at a position.
type Popup struct {
	LayerID  string            `json:"layerId"`
	Title    string            `json:"title"`
	Fields   []PopupField      `json:"fields"`
	Position domain.Coordinate `json:"position"`
}

// Bounds is a west/south/east/north bounding box.
type Bounds struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Camera is the current viewport request.
type Camera struct {
	Center domain.Coordinate `json:"center"`
	Zoom   float64           `json:"zoom"`
	Bounds *Bounds           `json:"bounds,omitempty"`
}

// ClickHandler receives the clicked feature.
type ClickHandler func(f *geojson.Feature)

// Snapshot is a read-only copy of the scene without source data.
type Snapshot struct {
	Style   string                `json:"style"`
	Camera  Camera                `json:"camera"`
	Sources map[string]SourceInfo `json:"sources"`
	Layers  []Layer               `json:"layers"`
	Markers int                   `json:"markers"`
	Popup   *Popup                `json:"popup,omitempty"`
}

// SourceInfo describes a source without its data.
type SourceInfo struct {
	Type     SourceType `json:"type"`
	Tiles    []string   `json:"tiles,omitempty"`
	Features int        `json:"features,omitempty"`
}

// Scene is safe for concurrent use.
type Scene struct {
	mu      sync.RWMutex
	style   string
	camera  Camera
	sources map[string]Source
	layers  []Layer
	markers map[string]Marker
	popup   *Popup
	clicks  map[string]ClickHandler
	cursors map[string]string
	cursor  string
}

// New creates an empty scene with the given base style.
func New(style string) *Scene {
	return &Scene{
		style:   style,
		sources: make(map[string]Source),
		markers: make(map[string]Marker),
		clicks:  make(map[string]ClickHandler),
		cursors: make(map[string]string),
	}
}

// AddSource registers a source under id.
func (s *Scene) AddSource(id string, src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; ok {
		return fmt.Errorf("add source %q: %w", id, ErrDuplicateID)
	}
	s.sources[id] = src
	return nil
}

// RemoveSource unregisters a source. Layers using it must be removed first.
func (s *Scene) RemoveSource(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return fmt.Errorf("remove source %q: %w", id, ErrNotFound)
	}
	for _, l := range s.layers {
		if l.Source == id {
			return fmt.Errorf("remove source %q (layer %q): %w", id, l.ID, ErrSourceInUse)
		}
	}
	delete(s.sources, id)
	return nil
}

// HasSource reports whether id is registered.
func (s *Scene) HasSource(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sources[id]
	return ok
}

// Source returns the source registered under id.
func (s *Scene) Source(id string) (Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	return src, ok
}

// AddLayer appends a layer on top of the existing ones.
func (s *Scene) AddLayer(l Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layerIndex(l.ID) >= 0 {
		return fmt.Errorf("add layer %q: %w", l.ID, ErrDuplicateID)
	}
	if _, ok := s.sources[l.Source]; !ok {
		return fmt.Errorf("add layer %q: source %q: %w", l.ID, l.Source, ErrNotFound)
	}
	s.layers = append(s.layers, l.clone())
	return nil
}

// RemoveLayer removes a layer by id.
func (s *Scene) RemoveLayer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.layerIndex(id)
	if i < 0 {
		return fmt.Errorf("remove layer %q: %w", id, ErrNotFound)
	}
	s.layers = slices.Delete(s.layers, i, i+1)
	return nil
}

// HasLayer reports whether a layer with id exists.
func (s *Scene) HasLayer(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layerIndex(id) >= 0
}

// Layer returns a copy of the layer with id.
func (s *Scene) Layer(id string) (Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.layerIndex(id)
	if i < 0 {
		return Layer{}, false
	}
	return s.layers[i].clone(), true
}

// Layers returns copies of all layers in draw order.
func (s *Scene) Layers() []Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Layer, len(s.layers))
	for i, l := range s.layers {
		out[i] = l.clone()
	}
	return out
}

// SetPaintProperty sets one paint property on a layer.
func (s *Scene) SetPaintProperty(layerID, name string, value any) error {
	return s.setProperty(layerID, name, value, false)
}

// SetLayoutProperty sets one layout property on a layer.
func (s *Scene) SetLayoutProperty(layerID, name string, value any) error {
	return s.setProperty(layerID, name, value, true)
}

func (s *Scene) setProperty(layerID, name string, value any, layout bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.layerIndex(layerID)
	if i < 0 {
		return fmt.Errorf("set property %q on layer %q: %w", name, layerID, ErrNotFound)
	}
	l := &s.layers[i]
	if layout {
		if l.Layout == nil {
			l.Layout = make(map[string]any)
		}
		l.Layout[name] = value
		return nil
	}
	if l.Paint == nil {
		l.Paint = make(map[string]any)
	}
	l.Paint[name] = value
	return nil
}

// AddMarker places a marker.
func (s *Scene) AddMarker(m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markers[m.ID]; ok {
		return fmt.Errorf("add marker %q: %w", m.ID, ErrDuplicateID)
	}
	s.markers[m.ID] = m
	return nil
}

// RemoveMarker removes a marker.
func (s *Scene) RemoveMarker(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markers[id]; !ok {
		return fmt.Errorf("remove marker %q: %w", id, ErrNotFound)
	}
	delete(s.markers, id)
	return nil
}

// Markers returns the active markers ordered by creation time.
func (s *Scene) Markers() []Marker {
	s.mu.RLock()
	out := make([]Marker, 0, len(s.markers))
	for _, m := range s.markers {
		out = append(out, m)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Marker) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// ShowPopup opens a popup, replacing any open one.
func (s *Scene) ShowPopup(p Popup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.popup = &p
}

// ClosePopup closes the open popup, if any.
func (s *Scene) ClosePopup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.popup = nil
}

// Popup returns the open popup.
func (s *Scene) Popup() (Popup, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.popup == nil {
		return Popup{}, false
	}
	return *s.popup, true
}

// OnClick binds fn to clicks on layerID, replacing any previous handler.
func (s *Scene) OnClick(layerID string, fn ClickHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks[layerID] = fn
}

// OnHover sets the cursor shown while hovering layerID.
func (s *Scene) OnHover(layerID, cursor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[layerID] = cursor
}

// Click dispatches a click on the featureIndex-th feature of layerID.
// It returns false when no handler is bound.
func (s *Scene) Click(layerID string, featureIndex int) (bool, error) {
	s.mu.RLock()
	fn, bound := s.clicks[layerID]
	i := s.layerIndex(layerID)
	var src Source
	if i >= 0 {
		src = s.sources[s.layers[i].Source]
	}
	s.mu.RUnlock()

	if i < 0 {
		return false, fmt.Errorf("click layer %q: %w", layerID, ErrNotFound)
	}
	if src.Data == nil || featureIndex < 0 || featureIndex >= len(src.Data.Features) {
		return false, fmt.Errorf("click layer %q feature %d: %w", layerID, featureIndex, ErrNotFound)
	}
	if !bound {
		return false, nil
	}
	// Handlers run unlocked; they typically call ShowPopup.
	fn(src.Data.Features[featureIndex])
	return true, nil
}

// Hover enters layerID and returns the resulting cursor. An empty layerID leaves all layers.
func (s *Scene) Hover(layerID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = ""
	if layerID != "" && s.layerIndex(layerID) >= 0 {
		s.cursor = s.cursors[layerID]
	}
	return s.cursor
}

// FitBounds moves the camera to show b.
func (s *Scene) FitBounds(b Bounds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera = Camera{
		Center: domain.Coordinate{Lat: (b.South + b.North) / 2, Lng: (b.West + b.East) / 2},
		Bounds: &b,
	}
}

// FlyTo centers the camera at c with the given zoom.
func (s *Scene) FlyTo(c domain.Coordinate, zoom float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera = Camera{Center: c, Zoom: zoom}
}

// Center returns the camera center.
func (s *Scene) Center() domain.Coordinate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.camera.Center
}

// SetStyle switches the base map style.
func (s *Scene) SetStyle(style string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.style = style
}

// Snapshot copies the scene state for rendering.
func (s *Scene) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Style:   s.style,
		Camera:  s.camera,
		Sources: make(map[string]SourceInfo, len(s.sources)),
		Layers:  make([]Layer, len(s.layers)),
		Markers: len(s.markers),
	}
	for id, src := range s.sources {
		info := SourceInfo{Type: src.Type, Tiles: slices.Clone(src.Tiles)}
		if src.Data != nil {
			info.Features = len(src.Data.Features)
		}
		snap.Sources[id] = info
	}
	for i, l := range s.layers {
		snap.Layers[i] = l.clone()
	}
	if s.popup != nil {
		p := *s.popup
		snap.Popup = &p
	}
	return snap
}

func (s *Scene) layerIndex(id string) int {
	return slices.IndexFunc(s.layers, func(l Layer) bool { return l.ID == id })
}
