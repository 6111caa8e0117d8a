package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cleanops/fieldsync/internal/models"
)

// EnqueueOperation appends a queue row. Ordinal is derived from the
// operation type so callers cannot break the per-job replay order.
func (db *DB) EnqueueOperation(op *models.SyncOperation) error {
	op.Ordinal = models.OrdinalFor(op.Type)
	if op.Status == "" {
		op.Status = models.OperationStatusPending
	}
	if op.NextAttemptAt.IsZero() {
		op.NextAttemptAt = time.Now().UTC()
	}
	if err := db.Create(op).Error; err != nil {
		return fmt.Errorf("enqueue %s operation: %w", op.Type, err)
	}
	return nil
}

// NextEligibleOperation returns the next pending operation that is due
// and not blocked by an earlier-ordered, unconfirmed operation for the
// same job. Failed and conflicted rows block later ordinals for their
// job; other jobs are unaffected. Returns nil when nothing is ready.
func (db *DB) NextEligibleOperation(now time.Time) (*models.SyncOperation, error) {
	var op models.SyncOperation
	err := db.Where("status = ? AND next_attempt_at <= ?", models.OperationStatusPending, now).
		Where(`NOT EXISTS (
			SELECT 1 FROM sync_operations blocker
			WHERE blocker.job_local_id = sync_operations.job_local_id
			  AND blocker.ordinal < sync_operations.ordinal
			  AND blocker.status <> ?)`, models.OperationStatusDone).
		Order("created_at, ordinal").
		First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// NextRetryTime returns the earliest future next_attempt_at among pending
// operations, or nil when the queue holds nothing schedulable.
func (db *DB) NextRetryTime(now time.Time) (*time.Time, error) {
	var op models.SyncOperation
	err := db.Where("status = ? AND next_attempt_at > ?", models.OperationStatusPending, now).
		Order("next_attempt_at").
		First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := op.NextAttemptAt
	return &t, nil
}

// MarkOperationInFlight transitions a row to in_flight before the server
// call is made.
func (db *DB) MarkOperationInFlight(id string) error {
	return db.Model(&models.SyncOperation{}).Where("id = ?", id).
		Update("status", models.OperationStatusInFlight).Error
}

// MarkOperationDone records server confirmation for a row
func (db *DB) MarkOperationDone(id string) error {
	return db.Model(&models.SyncOperation{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.OperationStatusDone,
			"last_error": nil,
		}).Error
}

// MarkOperationConflict parks a row that the server rejected as invalid.
// Conflicted rows are never retried automatically.
func (db *DB) MarkOperationConflict(id string, reason string) error {
	return db.Model(&models.SyncOperation{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.OperationStatusConflict,
			"last_error": reason,
		}).Error
}

// RecordOperationFailure bumps the attempt counter after a transient
// failure. Below maxAttempts the row returns to pending with the given
// retry time; at the cap it is parked as failed until RetryFailed.
func (db *DB) RecordOperationFailure(id string, errMsg string, nextAttempt time.Time, maxAttempts int) error {
	var op models.SyncOperation
	if err := db.Where("id = ?", id).First(&op).Error; err != nil {
		return err
	}

	op.AttemptCount++
	op.LastError = &errMsg
	if op.AttemptCount >= maxAttempts {
		op.Status = models.OperationStatusFailed
	} else {
		op.Status = models.OperationStatusPending
		op.NextAttemptAt = nextAttempt
	}
	return db.Save(&op).Error
}

// ReturnOperationPending puts an in-flight row back to pending without
// consuming an attempt. Used when the pass aborts for reasons unrelated
// to the operation itself, such as expired credentials.
func (db *DB) ReturnOperationPending(id string, errMsg string, nextAttempt time.Time) error {
	return db.Model(&models.SyncOperation{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.OperationStatusPending,
			"last_error":      errMsg,
			"next_attempt_at": nextAttempt,
		}).Error
}

// FailedOperations returns rows parked by exhausted retries
func (db *DB) FailedOperations() ([]models.SyncOperation, error) {
	var ops []models.SyncOperation
	err := db.Where("status = ?", models.OperationStatusFailed).Order("created_at").Find(&ops).Error
	return ops, err
}

// ConflictOperations returns rows awaiting user acknowledgement
func (db *DB) ConflictOperations() ([]models.SyncOperation, error) {
	var ops []models.SyncOperation
	err := db.Where("status = ?", models.OperationStatusConflict).Order("created_at").Find(&ops).Error
	return ops, err
}

// ResetFailedOperations moves failed rows back to pending. The attempt
// counter keeps its cumulative value unless resetAttempts is set.
func (db *DB) ResetFailedOperations(now time.Time, resetAttempts bool) (int64, error) {
	updates := map[string]interface{}{
		"status":          models.OperationStatusPending,
		"next_attempt_at": now,
	}
	if resetAttempts {
		updates["attempt_count"] = 0
		updates["last_error"] = nil
	}
	result := db.Model(&models.SyncOperation{}).
		Where("status = ?", models.OperationStatusFailed).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// CancelPhotoOperations removes unsent queue rows for a photo that was
// deleted locally before upload. Rows already confirmed stay untouched.
func (db *DB) CancelPhotoOperations(photoID string) (int64, error) {
	result := db.Where("photo_id = ? AND status <> ?", photoID, models.OperationStatusDone).
		Delete(&models.SyncOperation{})
	return result.RowsAffected, result.Error
}

// PendingSyncCount counts queue rows still owed to the server: pending,
// in-flight and failed. Conflicted rows are excluded; they are not
// retryable without user acknowledgement and are surfaced separately.
func (db *DB) PendingSyncCount() (int64, error) {
	var count int64
	err := db.Model(&models.SyncOperation{}).
		Where("status IN ?", []models.OperationStatus{
			models.OperationStatusPending,
			models.OperationStatusInFlight,
			models.OperationStatusFailed,
		}).
		Count(&count).Error
	return count, err
}

// OperationsForJob returns all queue rows for a job in replay order
func (db *DB) OperationsForJob(jobLocalID string) ([]models.SyncOperation, error) {
	var ops []models.SyncOperation
	err := db.Where("job_local_id = ?", jobLocalID).Order("ordinal, created_at").Find(&ops).Error
	return ops, err
}
