package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cleanops/fieldsync/internal/models"
	"github.com/cleanops/fieldsync/internal/offline"
	"github.com/cleanops/fieldsync/internal/photos"
)

// JobsHandler exposes the offline manager and photo store to the UI
// layer. Every mutation here is local-first; the queue carries it to
// the server later.
type JobsHandler struct {
	manager *offline.Manager
	photos  *photos.Store
}

// NewJobsHandler creates a jobs handler
func NewJobsHandler(manager *offline.Manager, photoStore *photos.Store) *JobsHandler {
	return &JobsHandler{manager: manager, photos: photoStore}
}

// RegisterRoutes registers job lifecycle routes
func (jh *JobsHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/jobs/preload", jh.Preload).Methods("POST")
	r.HandleFunc("/api/jobs/freshness", jh.Freshness).Methods("GET")
	r.HandleFunc("/api/jobs/{serverId}", jh.GetJob).Methods("GET")
	r.HandleFunc("/api/jobs/{serverId}/start", jh.StartJob).Methods("POST")
	r.HandleFunc("/api/jobs/{serverId}/complete", jh.CompleteJob).Methods("POST")
	r.HandleFunc("/api/jobs/{localId}/checklist/{itemId}", jh.UpdateChecklist).Methods("PUT")
	r.HandleFunc("/api/jobs/{localId}/photos", jh.SavePhoto).Methods("POST")
	r.HandleFunc("/api/jobs/{localId}/photos", jh.ListPhotos).Methods("GET")
	r.HandleFunc("/api/photos/{photoId}", jh.DeletePhoto).Methods("DELETE")
}

// Preload caches the worker's near-term jobs locally
func (jh *JobsHandler) Preload(w http.ResponseWriter, r *http.Request) {
	count, err := jh.manager.PreloadJobs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"jobs": count})
}

// Freshness reports the age of the preloaded cache
func (jh *JobsHandler) Freshness(w http.ResponseWriter, r *http.Request) {
	freshness, err := jh.manager.DataFreshness()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, freshness)
}

// GetJob returns the local mirror of a server job
func (jh *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	serverID := mux.Vars(r)["serverId"]
	job, err := jh.manager.GetLocalJob(serverID)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not loaded"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// StartJob starts a job locally and queues the start operation
func (jh *JobsHandler) StartJob(w http.ResponseWriter, r *http.Request) {
	serverID := mux.Vars(r)["serverId"]

	var loc offline.LocationData
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid location payload"})
		return
	}

	if err := jh.manager.StartJob(serverID, loc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// CompleteJob completes a job locally and queues the complete operation
func (jh *JobsHandler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	serverID := mux.Vars(r)["serverId"]

	var body struct {
		HoursWorked float64 `json:"hoursWorked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	if err := jh.manager.CompleteJob(serverID, body.HoursWorked); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// UpdateChecklist marks a checklist item completed
func (jh *JobsHandler) UpdateChecklist(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var body struct {
		Completed bool `json:"completed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	if err := jh.manager.UpdateChecklistItem(vars["localId"], vars["itemId"], body.Completed); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SavePhoto ingests a captured image from the device camera roll
func (jh *JobsHandler) SavePhoto(w http.ResponseWriter, r *http.Request) {
	localID := mux.Vars(r)["localId"]

	var body struct {
		SourceURI string               `json:"sourceUri"`
		PhotoType models.PhotoType     `json:"photoType"`
		Room      string               `json:"room"`
		Watermark photos.WatermarkData `json:"watermark"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	photo, err := jh.photos.SavePhoto(body.SourceURI, localID, body.PhotoType, body.Room, body.Watermark)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, photo)
}

// ListPhotos returns all photos for a job
func (jh *JobsHandler) ListPhotos(w http.ResponseWriter, r *http.Request) {
	localID := mux.Vars(r)["localId"]
	list, err := jh.photos.PhotosForJob(localID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"photos": list, "count": len(list)})
}

// DeletePhoto removes a photo; a queued upload is cancelled, not replayed
func (jh *JobsHandler) DeletePhoto(w http.ResponseWriter, r *http.Request) {
	photoID := mux.Vars(r)["photoId"]
	if err := jh.photos.DeletePhoto(photoID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// writeError maps manager/store errors onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, offline.ErrOffline):
		status = http.StatusServiceUnavailable
	case errors.Is(err, offline.ErrJobNotLoaded), errors.Is(err, photos.ErrPhotoNotFound):
		status = http.StatusNotFound
	case errors.Is(err, offline.ErrInvalidTransition):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
