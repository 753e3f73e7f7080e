package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/storm-overlay-service/internal/domain"
	"github.com/couchcryptid/storm-overlay-service/internal/overlay"
	"github.com/couchcryptid/storm-overlay-service/internal/scene"
)

const maxBodyBytes = 1 << 16

// Overlay is the controller surface the API reads and configures.
type Overlay interface {
	Status() overlay.Status
	LayerConfig() domain.LayerConfig
	ApplyLayerConfig(cfg domain.LayerConfig) error
}

// SceneView is the map state the API renders for clients.
type SceneView interface {
	Snapshot() scene.Snapshot
	Source(id string) (scene.Source, bool)
	Markers() []scene.Marker
	Click(layerID string, featureIndex int) (bool, error)
	Popup() (scene.Popup, bool)
	ClosePopup()
	Hover(layerID string) string
}

// API serves the overlay state to map clients.
type API struct {
	overlay Overlay
	scene   SceneView
	logger  *slog.Logger
}

// NewAPI creates the overlay API handlers.
func NewAPI(o Overlay, s SceneView, logger *slog.Logger) *API {
	return &API{overlay: o, scene: s, logger: logger}
}

func (a *API) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/overlay/status", a.handleStatus)
	mux.HandleFunc("GET /api/v1/overlay/scene", a.handleScene)
	mux.HandleFunc("GET /api/v1/overlay/sources/{id}", a.handleSource)
	mux.HandleFunc("GET /api/v1/overlay/markers", a.handleMarkers)
	mux.HandleFunc("GET /api/v1/overlay/config", a.handleGetConfig)
	mux.HandleFunc("PUT /api/v1/overlay/config", a.handlePutConfig)
	mux.HandleFunc("POST /api/v1/overlay/click", a.handleClick)
	mux.HandleFunc("DELETE /api/v1/overlay/popup", a.handleClosePopup)
	mux.HandleFunc("POST /api/v1/overlay/hover", a.handleHover)
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, a.overlay.Status())
}

func (a *API) handleScene(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, a.scene.Snapshot())
}

func (a *API) handleSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	src, ok := a.scene.Source(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source "+id)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, src)
}

func (a *API) handleMarkers(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, a.scene.Markers())
}

func (a *API) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, a.overlay.LayerConfig())
}

// handlePutConfig applies a full or partial LayerConfig; omitted fields keep
// their current value.
func (a *API) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	cfg := a.overlay.LayerConfig()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed config: "+err.Error())
		return
	}
	if err := a.overlay.ApplyLayerConfig(cfg); err != nil {
		if errors.Is(err, overlay.ErrInvalidLayerConfig) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		a.logger.Error("apply layer config failed", "error", err)
		writeError(w, http.StatusInternalServerError, "apply layer config failed")
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, a.overlay.LayerConfig())
}

type clickRequest struct {
	Layer   string `json:"layer"`
	Feature int    `json:"feature"`
}

type clickResponse struct {
	Handled bool         `json:"handled"`
	Popup   *scene.Popup `json:"popup,omitempty"`
}

func (a *API) handleClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Layer == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"layer\": string, \"feature\": int}")
		return
	}

	handled, err := a.scene.Click(req.Layer, req.Feature)
	if err != nil {
		if errors.Is(err, scene.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := clickResponse{Handled: handled}
	if p, ok := a.scene.Popup(); ok && handled && p.LayerID == req.Layer {
		resp.Popup = &p
	}
	sharedobs.WriteJSON(w, http.StatusOK, resp)
}

func (a *API) handleClosePopup(w http.ResponseWriter, _ *http.Request) {
	a.scene.ClosePopup()
	w.WriteHeader(http.StatusNoContent)
}

type hoverRequest struct {
	Layer string `json:"layer"`
}

func (a *API) handleHover(w http.ResponseWriter, r *http.Request) {
	var req hoverRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body must be {\"layer\": string}")
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]string{"cursor": a.scene.Hover(req.Layer)})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
