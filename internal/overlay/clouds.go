package overlay

import (
	"net/url"
	"strings"

	"github.com/couchcryptid/storm-overlay-service/internal/scene"
)

const (
	cloudSource = "clouds"
	cloudLayer  = "clouds-layer"

	openWeatherCloudTiles = "https://tile.openweathermap.org/map/clouds_new/{z}/{x}/{y}.png?appid="
)

// CloudTileURL returns the OpenWeatherMap cloud tile template for apiKey.
func CloudTileURL(apiKey string) string {
	return openWeatherCloudTiles + url.QueryEscape(strings.TrimSpace(apiKey))
}

func cloudGroup(tileURL string, opacity float64) LayerGroup {
	return LayerGroup{
		SourceID: cloudSource,
		Source: scene.Source{
			Type:        scene.SourceRaster,
			Tiles:       []string{tileURL},
			TileSize:    256,
			Attribution: "OpenWeatherMap",
		},
		Layers: []scene.Layer{{
			ID:    cloudLayer,
			Type:  scene.LayerRaster,
			Paint: map[string]any{"raster-opacity": opacity},
		}},
	}
}
