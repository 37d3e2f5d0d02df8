package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/planthub-poller/internal/lifecycle"
	"github.com/kjstillabower/planthub-poller/internal/models"
	"github.com/kjstillabower/planthub-poller/internal/observability"
	"github.com/kjstillabower/planthub-poller/internal/sensors"
	"github.com/kjstillabower/planthub-poller/internal/validation"
	"github.com/kjstillabower/planthub-poller/internal/webhook"
)

const serviceName = "planthub-poller"

// PlantSource is the read side of the refresh coordinator.
type PlantSource interface {
	CurrentSnapshot() *models.Snapshot
	PlantName(id string) string
	AuthFailed() bool
	Refresh(ctx context.Context) (*models.Snapshot, error)
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	// Window is the sliding window for fetch error rate and rate limit denials.
	Window               time.Duration
	DegradedErrorPct     int
	OverloadThresholdPct int
	RateLimitRPS         int // 0 when the rate limiter is disabled
	// StorePing, when set, checks snapshot store reachability. Used when the backend is memcached.
	StorePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	source       PlantSource
	traffic      observability.WindowCounter
	state        *lifecycle.State
	healthConfig *HealthConfig
	logger       *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. traffic and healthConfig may be nil, which
// disables the degraded and overloaded checks.
func NewHandler(
	source PlantSource,
	traffic observability.WindowCounter,
	state *lifecycle.State,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if state == nil {
		state = lifecycle.New()
	}
	return &Handler{
		source:       source,
		traffic:      traffic,
		state:        state,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

type plantResponse struct {
	PlantID   string              `json:"plant_id"`
	Name      string              `json:"name"`
	Status    models.Status       `json:"status"`
	Available bool                `json:"available"`
	Record    *models.PlantRecord `json:"record"`
}

type snapshotResponse struct {
	LastUpdate time.Time       `json:"last_update"`
	Error      string          `json:"error,omitempty"`
	Stale      bool            `json:"stale,omitempty"`
	Plants     []plantResponse `json:"plants"`
}

func (h *Handler) plantView(id string, rec *models.PlantRecord) plantResponse {
	p := plantResponse{
		PlantID: id,
		Name:    h.source.PlantName(id),
		Status:  models.StatusUnknown,
		Record:  rec,
	}
	if rec != nil {
		p.Status = models.StatusOf(*rec)
		p.Available = true
	}
	return p
}

func (h *Handler) snapshotView(snap *models.Snapshot) snapshotResponse {
	resp := snapshotResponse{
		LastUpdate: snap.LastUpdate,
		Error:      snap.Error,
		Stale:      snap.Stale,
		Plants:     make([]plantResponse, 0, len(snap.Order)),
	}
	for _, id := range snap.Order {
		resp.Plants = append(resp.Plants, h.plantView(id, snap.Plants[id]))
	}
	return resp
}

// GetPlants handles GET /plants.
func (h *Handler) GetPlants(w http.ResponseWriter, r *http.Request) {
	snap := h.source.CurrentSnapshot()
	if snap == nil {
		writeNotReady(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshotView(snap))
}

// lookup resolves the {plant_id} route variable against the current snapshot.
// It writes the error response and returns ok=false when the plant cannot be served.
// Ids present in the snapshot are served as is: in batch mode they come from
// the server and need not pass ValidatePlantID.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (id string, rec *models.PlantRecord, ok bool) {
	id = mux.Vars(r)["plant_id"]
	if unescaped, err := url.PathUnescape(id); err == nil {
		id = unescaped
	}
	snap := h.source.CurrentSnapshot()
	if snap.Has(id) {
		return id, snap.Plant(id), true
	}
	if err := validation.ValidatePlantID(id); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PLANT_ID", err.Error())
		return "", nil, false
	}
	if snap == nil {
		writeNotReady(w, r)
		return "", nil, false
	}
	writeError(w, r, http.StatusNotFound, "PLANT_NOT_FOUND", "unknown plant: "+id)
	return "", nil, false
}

// GetPlant handles GET /plants/{plant_id}.
func (h *Handler) GetPlant(w http.ResponseWriter, r *http.Request) {
	id, rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if rec == nil {
		writeError(w, r, http.StatusServiceUnavailable, "PLANT_UNAVAILABLE", "last fetch for plant "+id+" failed")
		return
	}
	writeJSON(w, http.StatusOK, h.plantView(id, rec))
}

// GetPlantSensors handles GET /plants/{plant_id}/sensors. A plant whose last
// fetch failed is still described, with every reading unavailable.
func (h *Handler) GetPlantSensors(w http.ResponseWriter, r *http.Request) {
	id, rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sensors.Build(id, h.source.PlantName(id), rec))
}

// PostRefresh handles POST /refresh. It joins the refresh in flight if there is one.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFromContext(r.Context(), h.logger)
	snap, err := h.source.Refresh(r.Context())
	if err != nil {
		logger.Debug("manual refresh did not complete", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "REFRESH_INCOMPLETE", "refresh did not complete")
		return
	}
	logger.Info("manual refresh", zap.Int("plants", len(snap.Order)), zap.Bool("failed", snap.Error != ""))
	writeJSON(w, http.StatusOK, h.snapshotView(snap))
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{
		"planthub": "healthy",
		"snapshot": "missing",
	}
	switch result.status {
	case "reauth_required", "degraded":
		checks["planthub"] = "unhealthy"
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   serviceName,
		"version":   webhook.Version,
		"checks":    checks,
		"uptime":    h.state.Uptime().Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if snap := h.source.CurrentSnapshot(); snap != nil {
		switch {
		case snap.Error != "":
			checks["snapshot"] = "failed"
		case snap.Stale:
			checks["snapshot"] = "stale"
		default:
			checks["snapshot"] = "fresh"
		}
		resp["lastRefresh"] = snap.LastUpdate.UTC().Format(time.RFC3339)
	}
	if h.healthConfig != nil && h.healthConfig.StorePing != nil {
		if h.healthConfig.StorePing() == nil {
			checks["store"] = "healthy"
		} else {
			checks["store"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting_down > reauth_required > degraded > overloaded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.state.ShuttingDown() {
		return healthResult{"shutting_down", http.StatusServiceUnavailable, "signal"}
	}
	if h.source.AuthFailed() {
		return healthResult{"reauth_required", http.StatusServiceUnavailable, "auth_error"}
	}
	if h.healthConfig == nil || h.traffic == nil || h.healthConfig.Window <= 0 {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	cfg := h.healthConfig
	if cfg.DegradedErrorPct > 0 {
		errors, total := h.traffic.ErrorRate(cfg.Window)
		if total > 0 && float64(errors)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	if cfg.RateLimitRPS > 0 && cfg.OverloadThresholdPct > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.Window.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(h.traffic.DenialCount(cfg.Window)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error body with the request's correlation id.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

func writeNotReady(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusServiceUnavailable, "NOT_READY", "no plant data published yet")
}
