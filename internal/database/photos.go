package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/cleanops/fieldsync/internal/models"
)

// CreatePhoto inserts a photo metadata row
func (db *DB) CreatePhoto(photo *models.Photo) error {
	if err := db.Create(photo).Error; err != nil {
		return fmt.Errorf("create photo: %w", err)
	}
	return nil
}

// GetPhoto returns a photo row by id, or nil if absent
func (db *DB) GetPhoto(id string) (*models.Photo, error) {
	var photo models.Photo
	err := db.Where("id = ?", id).First(&photo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &photo, nil
}

// ListPhotosForJob returns all photo rows for a job in capture order
func (db *DB) ListPhotosForJob(jobLocalID string) ([]models.Photo, error) {
	var photos []models.Photo
	err := db.Where("job_local_id = ?", jobLocalID).Order("taken_at").Find(&photos).Error
	return photos, err
}

// DeletePhotoRow removes the metadata row only; file removal is the
// photo store's job once the surrounding transaction commits.
func (db *DB) DeletePhotoRow(id string) error {
	return db.Where("id = ?", id).Delete(&models.Photo{}).Error
}

// MarkPhotoSynced flags a photo as confirmed uploaded
func (db *DB) MarkPhotoSynced(id string) error {
	return db.Model(&models.Photo{}).Where("id = ?", id).Update("synced", true).Error
}
