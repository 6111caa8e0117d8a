// Package photos persists captured job photos to local file storage,
// records their metadata rows and queues them for upload.
package photos

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/cleanops/fieldsync/internal/database"
	"github.com/cleanops/fieldsync/internal/models"
)

// ErrPhotoNotFound is returned when acting on an unknown photo id
var ErrPhotoNotFound = errors.New("photo not found")

// WatermarkData are the capture facts stamped onto the image server-side
type WatermarkData struct {
	TakenAt   time.Time `json:"takenAt"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Worker    string    `json:"worker"`
}

// Store copies captured images into durable local storage and keeps
// their metadata rows in the datastore.
type Store struct {
	db       *database.DB
	dir      string
	deviceID string
	maxDim   int
	quality  int
	now      func() time.Time
}

// NewStore creates a photo store rooted at dir
func NewStore(db *database.DB, dir, deviceID string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create photo directory: %w", err)
	}
	return &Store{
		db:       db,
		dir:      dir,
		deviceID: deviceID,
		maxDim:   1600,
		quality:  80,
		now:      time.Now,
	}, nil
}

// SavePhoto copies and compresses the captured image into local storage,
// writes the Photo row and enqueues the matching before_photo or
// after_photo operation, all atomically. Returns the created record.
func (s *Store) SavePhoto(sourceURI, jobLocalID string, photoType models.PhotoType, room string, wm WatermarkData) (*models.Photo, error) {
	job, err := s.db.GetJob(jobLocalID)
	if err != nil {
		return nil, fmt.Errorf("look up job: %w", err)
	}

	src, err := imaging.Open(sourceURI, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open source image: %w", err)
	}

	// Downscale large captures before they hit the radio; phone camera
	// originals are far bigger than the server needs.
	bounds := src.Bounds()
	if bounds.Dx() > s.maxDim || bounds.Dy() > s.maxDim {
		src = imaging.Fit(src, s.maxDim, s.maxDim, imaging.Lanczos)
	}

	photoID := uuid.New().String()
	destPath := filepath.Join(s.dir, photoID+".jpg")
	if err := imaging.Save(src, destPath, imaging.JPEGQuality(s.quality)); err != nil {
		return nil, fmt.Errorf("save compressed image: %w", err)
	}

	takenAt := wm.TakenAt
	if takenAt.IsZero() {
		takenAt = s.now().UTC()
	}

	photo := &models.Photo{
		ID:         photoID,
		JobLocalID: jobLocalID,
		FilePath:   destPath,
		PhotoType:  photoType,
		Room:       room,
		DeviceID:   s.deviceID,
		TakenAt:    takenAt,
		Watermark: models.JSONMap{
			"takenAt":   takenAt.Format(time.RFC3339),
			"latitude":  wm.Latitude,
			"longitude": wm.Longitude,
			"worker":    wm.Worker,
		},
	}

	opType := models.OperationBeforePhoto
	if photoType == models.PhotoTypeAfter {
		opType = models.OperationAfterPhoto
	}

	serverID := ""
	if job.ServerID != nil {
		serverID = *job.ServerID
	}
	payload, err := json.Marshal(map[string]interface{}{
		"server_id": serverID,
		"photo_id":  photoID,
		"file_path": destPath,
		"room":      room,
		"taken_at":  takenAt.Format(time.RFC3339),
		"device_id": s.deviceID,
		"watermark": photo.Watermark,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal photo payload: %w", err)
	}

	err = s.db.Transaction(func(tx *database.DB) error {
		if err := tx.CreatePhoto(photo); err != nil {
			return err
		}
		if err := tx.Model(&models.OfflineJob{}).
			Where("local_id = ?", jobLocalID).
			Update("pending_sync", true).Error; err != nil {
			return err
		}
		pid := photoID
		return tx.EnqueueOperation(&models.SyncOperation{
			ID:            uuid.New().String(),
			JobLocalID:    jobLocalID,
			Type:          opType,
			Payload:       payload,
			PhotoID:       &pid,
			NextAttemptAt: s.now().UTC(),
		})
	})
	if err != nil {
		// Roll the file back too; an orphan file without a row would
		// never be cleaned up.
		os.Remove(destPath)
		return nil, fmt.Errorf("persist photo: %w", err)
	}

	log.Printf("📸 Saved %s photo %s for job %s (%s)", photoType, photoID, jobLocalID, room)
	return photo, nil
}

// PhotosForJob returns all photo rows for a job
func (s *Store) PhotosForJob(jobLocalID string) ([]models.Photo, error) {
	return s.db.ListPhotosForJob(jobLocalID)
}

// DeletePhoto removes the file and the row. A photo still queued for
// upload has its queue entry cancelled rather than replayed.
func (s *Store) DeletePhoto(photoID string) error {
	photo, err := s.db.GetPhoto(photoID)
	if err != nil {
		return fmt.Errorf("look up photo: %w", err)
	}
	if photo == nil {
		return ErrPhotoNotFound
	}

	err = s.db.Transaction(func(tx *database.DB) error {
		cancelled, err := tx.CancelPhotoOperations(photoID)
		if err != nil {
			return err
		}
		if cancelled > 0 {
			log.Printf("🗑️ Cancelled %d queued upload(s) for deleted photo %s", cancelled, photoID)
		}
		return tx.DeletePhotoRow(photoID)
	})
	if err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}

	if err := os.Remove(photo.FilePath); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️ Could not remove photo file %s: %v", photo.FilePath, err)
	}
	return nil
}
