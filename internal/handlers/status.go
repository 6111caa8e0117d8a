// Package handlers exposes the agent's sync state to the device UI
// layer over a local HTTP API. It contains no sync logic of its own.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cleanops/fieldsync/internal/coordinator"
	"github.com/cleanops/fieldsync/internal/sync"
)

// StatusHandler serves coordinator snapshots and sync controls
type StatusHandler struct {
	coord  *coordinator.Coordinator
	engine *sync.Engine
}

// NewStatusHandler creates a status handler
func NewStatusHandler(coord *coordinator.Coordinator, engine *sync.Engine) *StatusHandler {
	return &StatusHandler{coord: coord, engine: engine}
}

// RegisterRoutes registers the local API routes
func (sh *StatusHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/status", sh.GetStatus).Methods("GET")
	r.HandleFunc("/api/sync/progress", sh.GetProgress).Methods("GET")
	r.HandleFunc("/api/sync/start", sh.StartSync).Methods("POST")
	r.HandleFunc("/api/sync/retry", sh.RetryFailed).Methods("POST")
	r.HandleFunc("/health", sh.Health).Methods("GET")
}

// Health is a trivial liveness endpoint
func (sh *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus returns the merged coordinator snapshot
func (sh *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sh.coord.GetSnapshot())
}

// GetProgress returns the engine's live progress snapshot
func (sh *StatusHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sh.engine.Progress())
}

// StartSync triggers a manual sync pass
func (sh *StatusHandler) StartSync(w http.ResponseWriter, r *http.Request) {
	result := sh.coord.TriggerManualSync(r.Context())
	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

// RetryFailed re-queues failed operations and runs a pass
func (sh *StatusHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ResetAttempts bool `json:"resetAttempts"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	result := sh.engine.RetryFailed(r.Context(), body.ResetAttempts)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
