package database

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanops/fieldsync/internal/models"
)

func enqueue(t *testing.T, db *DB, jobID string, opType models.OperationType) *models.SyncOperation {
	t.Helper()
	op := &models.SyncOperation{ID: uuid.NewString(), JobLocalID: jobID, Type: opType}
	require.NoError(t, db.EnqueueOperation(op))
	return op
}

func TestEnqueueDerivesOrdinal(t *testing.T) {
	db := newTestDB(t)
	jobID := uuid.NewString()

	// The caller-supplied ordinal is ignored.
	op := &models.SyncOperation{
		ID: uuid.NewString(), JobLocalID: jobID,
		Type: models.OperationComplete, Ordinal: 0,
	}
	require.NoError(t, db.EnqueueOperation(op))
	assert.Equal(t, models.OrdinalFor(models.OperationComplete), op.Ordinal)
	assert.Equal(t, models.OperationStatusPending, op.Status)
	assert.False(t, op.NextAttemptAt.IsZero())
}

func TestNextEligibleFollowsReplayOrder(t *testing.T) {
	db := newTestDB(t)
	jobID := uuid.NewString()
	now := time.Now().UTC().Add(time.Second)

	start := enqueue(t, db, jobID, models.OperationStart)
	photo := enqueue(t, db, jobID, models.OperationBeforePhoto)
	complete := enqueue(t, db, jobID, models.OperationComplete)

	next, err := db.NextEligibleOperation(now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, start.ID, next.ID)

	require.NoError(t, db.MarkOperationDone(start.ID))

	next, err = db.NextEligibleOperation(now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, photo.ID, next.ID)

	require.NoError(t, db.MarkOperationDone(photo.ID))

	next, err = db.NextEligibleOperation(now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, complete.ID, next.ID)
}

func TestFailedOperationBlocksOnlyItsJob(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Add(time.Second)

	blockedJob := uuid.NewString()
	start := enqueue(t, db, blockedJob, models.OperationStart)
	enqueue(t, db, blockedJob, models.OperationComplete)
	require.NoError(t, db.RecordOperationFailure(start.ID, "server error", now, 1))

	otherJob := uuid.NewString()
	otherStart := enqueue(t, db, otherJob, models.OperationStart)

	next, err := db.NextEligibleOperation(now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, otherStart.ID, next.ID)

	require.NoError(t, db.MarkOperationDone(otherStart.ID))

	// The failed start still blocks the complete for its own job.
	next, err = db.NextEligibleOperation(now)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestConflictBlocksLaterOrdinals(t *testing.T) {
	db := newTestDB(t)
	jobID := uuid.NewString()
	now := time.Now().UTC().Add(time.Second)

	start := enqueue(t, db, jobID, models.OperationStart)
	enqueue(t, db, jobID, models.OperationComplete)
	require.NoError(t, db.MarkOperationConflict(start.ID, "job already started by another worker"))

	next, err := db.NextEligibleOperation(now)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestNextEligibleRespectsRetrySchedule(t *testing.T) {
	db := newTestDB(t)
	jobID := uuid.NewString()
	now := time.Now().UTC()

	op := enqueue(t, db, jobID, models.OperationStart)
	future := now.Add(4 * time.Second)
	require.NoError(t, db.RecordOperationFailure(op.ID, "timeout", future, 5))

	next, err := db.NextEligibleOperation(now)
	require.NoError(t, err)
	assert.Nil(t, next)

	retry, err := db.NextRetryTime(now)
	require.NoError(t, err)
	require.NotNil(t, retry)
	assert.WithinDuration(t, future, *retry, time.Second)

	next, err = db.NextEligibleOperation(future.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, op.ID, next.ID)
}

func TestRecordOperationFailureParksAtCap(t *testing.T) {
	db := newTestDB(t)
	op := enqueue(t, db, uuid.NewString(), models.OperationStart)
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		require.NoError(t, db.RecordOperationFailure(op.ID, "timeout", now, 5))
	}
	var got models.SyncOperation
	require.NoError(t, db.Where("id = ?", op.ID).First(&got).Error)
	assert.Equal(t, models.OperationStatusPending, got.Status)
	assert.Equal(t, 4, got.AttemptCount)

	require.NoError(t, db.RecordOperationFailure(op.ID, "timeout", now, 5))
	require.NoError(t, db.Where("id = ?", op.ID).First(&got).Error)
	assert.Equal(t, models.OperationStatusFailed, got.Status)
	assert.Equal(t, 5, got.AttemptCount)

	failed, err := db.FailedOperations()
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestReturnOperationPendingKeepsAttemptCount(t *testing.T) {
	db := newTestDB(t)
	op := enqueue(t, db, uuid.NewString(), models.OperationStart)
	now := time.Now().UTC()

	require.NoError(t, db.RecordOperationFailure(op.ID, "timeout", now, 5))
	require.NoError(t, db.MarkOperationInFlight(op.ID))
	require.NoError(t, db.ReturnOperationPending(op.ID, "authentication expired", now))

	var got models.SyncOperation
	require.NoError(t, db.Where("id = ?", op.ID).First(&got).Error)
	assert.Equal(t, models.OperationStatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestResetFailedOperations(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	failed := enqueue(t, db, uuid.NewString(), models.OperationStart)
	require.NoError(t, db.RecordOperationFailure(failed.ID, "timeout", now, 1))

	conflicted := enqueue(t, db, uuid.NewString(), models.OperationStart)
	require.NoError(t, db.MarkOperationConflict(conflicted.ID, "rejected"))

	count, err := db.ResetFailedOperations(now, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var got models.SyncOperation
	require.NoError(t, db.Where("id = ?", failed.ID).First(&got).Error)
	assert.Equal(t, models.OperationStatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount, "attempt history kept without resetAttempts")

	// Conflicted rows are never swept back in.
	got = models.SyncOperation{}
	require.NoError(t, db.Where("id = ?", conflicted.ID).First(&got).Error)
	assert.Equal(t, models.OperationStatusConflict, got.Status)
}

func TestResetFailedOperationsResetAttempts(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	op := enqueue(t, db, uuid.NewString(), models.OperationStart)
	require.NoError(t, db.RecordOperationFailure(op.ID, "timeout", now, 1))

	count, err := db.ResetFailedOperations(now, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var got models.SyncOperation
	require.NoError(t, db.Where("id = ?", op.ID).First(&got).Error)
	assert.Zero(t, got.AttemptCount)
	assert.Nil(t, got.LastError)
}

func TestPendingSyncCountExcludesConflictAndDone(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	enqueue(t, db, uuid.NewString(), models.OperationStart)

	inFlight := enqueue(t, db, uuid.NewString(), models.OperationStart)
	require.NoError(t, db.MarkOperationInFlight(inFlight.ID))

	failed := enqueue(t, db, uuid.NewString(), models.OperationStart)
	require.NoError(t, db.RecordOperationFailure(failed.ID, "timeout", now, 1))

	conflicted := enqueue(t, db, uuid.NewString(), models.OperationStart)
	require.NoError(t, db.MarkOperationConflict(conflicted.ID, "rejected"))

	done := enqueue(t, db, uuid.NewString(), models.OperationStart)
	require.NoError(t, db.MarkOperationDone(done.ID))

	count, err := db.PendingSyncCount()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestCancelPhotoOperations(t *testing.T) {
	db := newTestDB(t)
	jobID := uuid.NewString()
	photoID := uuid.NewString()

	op := &models.SyncOperation{
		ID: uuid.NewString(), JobLocalID: jobID,
		Type: models.OperationBeforePhoto, PhotoID: &photoID,
	}
	require.NoError(t, db.EnqueueOperation(op))

	confirmedPhoto := uuid.NewString()
	confirmed := &models.SyncOperation{
		ID: uuid.NewString(), JobLocalID: jobID,
		Type: models.OperationAfterPhoto, PhotoID: &confirmedPhoto,
	}
	require.NoError(t, db.EnqueueOperation(confirmed))
	require.NoError(t, db.MarkOperationDone(confirmed.ID))

	removed, err := db.CancelPhotoOperations(photoID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = db.CancelPhotoOperations(confirmedPhoto)
	require.NoError(t, err)
	assert.Zero(t, removed, "confirmed uploads stay in the history")
}
