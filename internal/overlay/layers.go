package overlay

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/storm-overlay-service/internal/scene"
)

// LayerGroup is one source with the layers that render it. Groups own their source
// exclusively, so a group can always be replaced as a unit.
type LayerGroup struct {
	SourceID string
	Source   scene.Source
	Layers   []scene.Layer
}

// LayerIDs returns the IDs of the group's layers in draw order.
func (g LayerGroup) LayerIDs() []string {
	ids := make([]string, len(g.Layers))
	for i, l := range g.Layers {
		ids[i] = l.ID
	}
	return ids
}

// ReplaceGroup removes any existing layers and source of g, then adds them afresh.
// Removal always completes before the first add, so refreshing with unchanged data
// never trips the engine's duplicate-ID check.
func ReplaceGroup(engine MapEngine, g LayerGroup) error {
	if err := RemoveGroup(engine, g.SourceID, g.LayerIDs()...); err != nil {
		return err
	}
	if err := engine.AddSource(g.SourceID, g.Source); err != nil {
		return fmt.Errorf("replace %s: %w", g.SourceID, err)
	}
	for _, l := range g.Layers {
		if l.Source == "" {
			l.Source = g.SourceID
		}
		if err := engine.AddLayer(l); err != nil {
			return fmt.Errorf("replace %s: %w", g.SourceID, err)
		}
	}
	return nil
}

// RemoveGroup removes the named layers and then the source. Missing entries are skipped.
func RemoveGroup(engine MapEngine, sourceID string, layerIDs ...string) error {
	for i := len(layerIDs) - 1; i >= 0; i-- {
		if !engine.HasLayer(layerIDs[i]) {
			continue
		}
		if err := engine.RemoveLayer(layerIDs[i]); err != nil && !errors.Is(err, scene.ErrNotFound) {
			return fmt.Errorf("remove layer %s: %w", layerIDs[i], err)
		}
	}
	if engine.HasSource(sourceID) {
		if err := engine.RemoveSource(sourceID); err != nil && !errors.Is(err, scene.ErrNotFound) {
			return fmt.Errorf("remove source %s: %w", sourceID, err)
		}
	}
	return nil
}

// setVisibility toggles the layout visibility of every existing layer in ids.
func setVisibility(engine MapEngine, visible bool, ids ...string) {
	v := visibility(visible)
	for _, id := range ids {
		if engine.HasLayer(id) {
			_ = engine.SetLayoutProperty(id, "visibility", v)
		}
	}
}

func visibility(visible bool) string {
	if visible {
		return "visible"
	}
	return "none"
}
