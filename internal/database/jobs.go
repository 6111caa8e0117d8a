package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cleanops/fieldsync/internal/models"
)

// CreateJob inserts a new local job row
func (db *DB) CreateJob(job *models.OfflineJob) error {
	if err := db.Create(job).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob returns a job by its device-owned local id
func (db *DB) GetJob(localID string) (*models.OfflineJob, error) {
	var job models.OfflineJob
	err := db.Where("local_id = ?", localID).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobByServerID returns the local mirror of a server job, or nil if
// the job was never preloaded onto this device.
func (db *DB) GetJobByServerID(serverID string) (*models.OfflineJob, error) {
	var job models.OfflineJob
	err := db.Where("server_id = ?", serverID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns all locally cached jobs, most recently scheduled first
func (db *DB) ListJobs() ([]models.OfflineJob, error) {
	var jobs []models.OfflineJob
	err := db.Order("scheduled_at DESC").Find(&jobs).Error
	return jobs, err
}

// SaveJob persists all fields of an existing job row
func (db *DB) SaveJob(job *models.OfflineJob) error {
	if err := db.Save(job).Error; err != nil {
		return fmt.Errorf("save job %s: %w", job.LocalID, err)
	}
	return nil
}

// ClearJobPendingSync drops the pending-sync overlay flag once every
// queued operation for the job has reached done.
func (db *DB) ClearJobPendingSync(localID string) error {
	var remaining int64
	err := db.Model(&models.SyncOperation{}).
		Where("job_local_id = ? AND status <> ?", localID, models.OperationStatusDone).
		Count(&remaining).Error
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	return db.Model(&models.OfflineJob{}).
		Where("local_id = ?", localID).
		Update("pending_sync", false).Error
}

// PurgeSyncedJobs deletes fully synced, completed jobs older than the
// retention window, together with their checklist rows, photo rows and
// queue history. Returns the file paths of purged photos so the caller
// can remove them from disk after the transaction commits.
func (db *DB) PurgeSyncedJobs(olderThan time.Time) ([]string, error) {
	var jobs []models.OfflineJob
	err := db.Where("status = ? AND pending_sync = ? AND completed_at < ?",
		models.JobStatusCompleted, false, olderThan).Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	var photoPaths []string
	err = db.Transaction(func(tx *DB) error {
		for _, job := range jobs {
			var photos []models.Photo
			if err := tx.Where("job_local_id = ?", job.LocalID).Find(&photos).Error; err != nil {
				return err
			}
			for _, p := range photos {
				photoPaths = append(photoPaths, p.FilePath)
			}

			for _, model := range []interface{}{
				&models.Photo{}, &models.ChecklistItem{}, &models.SyncOperation{},
			} {
				if err := tx.Where("job_local_id = ?", job.LocalID).Delete(model).Error; err != nil {
					return err
				}
			}
			if err := tx.Where("local_id = ?", job.LocalID).Delete(&models.OfflineJob{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("purge synced jobs: %w", err)
	}
	return photoPaths, nil
}
