package overlay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
)

func TestRadarLayer_RebuildsOnNewSlot(t *testing.T) {
	s := newScene()
	src := &stubRadar{slots: []domain.RadarTimeSlot{"202506141800", "202506141805"}}
	r := NewRadarLayer(s, src, domain.DefaultLayerConfig(), discardLogger(), testMetrics())

	require.NoError(t, r.Refresh(context.Background()))
	radar, ok := s.Source(radarSource)
	require.True(t, ok)
	assert.Contains(t, radar.Tiles[0], "t=202506141800")

	require.NoError(t, r.Refresh(context.Background()))
	radar, _ = s.Source(radarSource)
	assert.Contains(t, radar.Tiles[0], "t=202506141805")
	assert.Equal(t, domain.RadarTimeSlot("202506141805"), r.Slot())

	assert.Equal(t, []string{radarLayer}, layerIDs(s))
	l, _ := s.Layer(radarLayer)
	assert.InDelta(t, 0.7, l.Paint["raster-opacity"], 1e-9)
	assert.InDelta(t, 0.0, l.Paint["raster-contrast"], 1e-9)
}

func TestRadarLayer_ContourAppliedOnRebuild(t *testing.T) {
	s := newScene()
	src := &stubRadar{slots: []domain.RadarTimeSlot{"a"}}
	cfg := domain.DefaultLayerConfig()
	r := NewRadarLayer(s, src, cfg, discardLogger(), testMetrics())
	require.NoError(t, r.Refresh(context.Background()))

	cfg.RadarContour = true
	cfg.RadarOpacity = 0.4
	r.Apply(cfg)

	l, _ := s.Layer(radarLayer)
	assert.InDelta(t, 0.4, l.Paint["raster-opacity"], 1e-9)
	assert.InDelta(t, contourBrightnessMin, l.Paint["raster-brightness-min"], 1e-9)

	require.NoError(t, r.Refresh(context.Background()))
	l, _ = s.Layer(radarLayer)
	assert.InDelta(t, contourContrast, l.Paint["raster-contrast"], 1e-9)
}

func TestRadarLayer_FailureKeepsLayer(t *testing.T) {
	s := newScene()
	src := &stubRadar{slots: []domain.RadarTimeSlot{"a"}}
	r := NewRadarLayer(s, src, domain.DefaultLayerConfig(), discardLogger(), testMetrics())
	require.NoError(t, r.Refresh(context.Background()))

	src.err = errors.New("503")
	require.Error(t, r.Refresh(context.Background()))
	assert.True(t, s.HasLayer(radarLayer))
	assert.Equal(t, domain.RadarTimeSlot("a"), r.Slot())

	require.NoError(t, r.Remove())
	assert.False(t, s.HasSource(radarSource))
}
