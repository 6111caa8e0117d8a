package sync

import (
	"context"
	"errors"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanops/fieldsync/internal/database"
	"github.com/cleanops/fieldsync/internal/models"
)

// fakeAPI is a scriptable server. The handler decides the outcome of
// each replayed call; nil means success.
type fakeAPI struct {
	mu      gosync.Mutex
	authErr error
	handler func(op, serverID string) error
	calls   []string
}

func (f *fakeAPI) CheckAuth() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authErr
}

func (f *fakeAPI) FetchUpcomingJobs(_ context.Context) ([]JobSnapshot, error) {
	return nil, nil
}

func (f *fakeAPI) StartJob(_ context.Context, serverID string, _ []byte) error {
	return f.record("start", serverID)
}

func (f *fakeAPI) RecordAccuracy(_ context.Context, serverID string, _ []byte) error {
	return f.record("accuracy", serverID)
}

func (f *fakeAPI) UploadPhoto(_ context.Context, serverID string, photoType models.PhotoType, _ []byte, _ string) error {
	return f.record(string(photoType)+"_photo", serverID)
}

func (f *fakeAPI) UpdateChecklist(_ context.Context, serverID string, _ []byte) error {
	return f.record("checklist", serverID)
}

func (f *fakeAPI) CompleteJob(_ context.Context, serverID string, _ []byte) error {
	return f.record("complete", serverID)
}

func (f *fakeAPI) record(op, serverID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		return handler(op, serverID)
	}
	return nil
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type onlineStub struct{ online bool }

func (o onlineStub) IsOnline() bool { return o.online }

func newTestEngine(t *testing.T) (*Engine, *database.DB, *fakeAPI) {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	api := &fakeAPI{}
	return NewEngine(db, api, onlineStub{online: true}), db, api
}

func enqueueOp(t *testing.T, db *database.DB, jobID string, opType models.OperationType, photoID *string) *models.SyncOperation {
	t.Helper()
	op := &models.SyncOperation{
		ID:         uuid.NewString(),
		JobLocalID: jobID,
		Type:       opType,
		Payload:    []byte(`{"server_id":"srv-1"}`),
		PhotoID:    photoID,
	}
	require.NoError(t, db.EnqueueOperation(op))
	return op
}

func TestBackoffDelaySequence(t *testing.T) {
	e, _, _ := newTestEngine(t)

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 16 * time.Second, 16 * time.Second, 16 * time.Second,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, e.BackoffDelay(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, 1*time.Second, e.BackoffDelay(-3))
	assert.Equal(t, 16*time.Second, e.BackoffDelay(40))
}

func TestStartSyncOfflineIsRejected(t *testing.T) {
	e, db, api := newTestEngine(t)
	e.online = onlineStub{online: false}

	enqueueOp(t, db, uuid.NewString(), models.OperationStart, nil)

	result := e.StartSync(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, "offline", result.Reason)
	assert.Empty(t, api.callLog(), "no server call while offline")
}

func TestStartSyncAuthCheckFailsFast(t *testing.T) {
	e, _, api := newTestEngine(t)
	api.authErr = &AuthError{Reason: "token expired"}

	result := e.StartSync(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, "auth", result.Reason)
	assert.Equal(t, StatusError, e.Progress().Status)
}

func TestStartSyncIsReentrantNoop(t *testing.T) {
	e, db, api := newTestEngine(t)
	enqueueOp(t, db, uuid.NewString(), models.OperationStart, nil)

	release := make(chan struct{})
	api.handler = func(string, string) error {
		<-release
		return nil
	}

	done := make(chan Result, 1)
	go func() { done <- e.StartSync(context.Background()) }()

	require.Eventually(t, e.Syncing, time.Second, time.Millisecond)

	second := e.StartSync(context.Background())
	assert.True(t, second.Success)
	assert.Equal(t, "already_syncing", second.Reason)

	close(release)
	first := <-done
	assert.True(t, first.Success)
	assert.Equal(t, 1, first.Synced)
}

func TestDrainReplaysJobInOrder(t *testing.T) {
	e, db, api := newTestEngine(t)

	job := &models.OfflineJob{LocalID: uuid.NewString(), PendingSync: true}
	require.NoError(t, db.CreateJob(job))

	photo := &models.Photo{
		ID: uuid.NewString(), JobLocalID: job.LocalID,
		FilePath: "/photos/x.jpg", PhotoType: models.PhotoTypeBefore,
	}
	require.NoError(t, db.CreatePhoto(photo))

	// Enqueue out of type order; the ordinal decides replay order.
	enqueueOp(t, db, job.LocalID, models.OperationComplete, nil)
	enqueueOp(t, db, job.LocalID, models.OperationChecklist, nil)
	enqueueOp(t, db, job.LocalID, models.OperationBeforePhoto, &photo.ID)
	enqueueOp(t, db, job.LocalID, models.OperationStart, nil)

	result := e.StartSync(context.Background())
	require.True(t, result.Success)
	assert.Equal(t, 4, result.Synced)
	assert.Equal(t, []string{"start", "before_photo", "checklist", "complete"}, api.callLog())

	count, err := db.PendingSyncCount()
	require.NoError(t, err)
	assert.Zero(t, count)

	got, err := db.GetJob(job.LocalID)
	require.NoError(t, err)
	assert.False(t, got.PendingSync)

	p, err := db.GetPhoto(photo.ID)
	require.NoError(t, err)
	assert.True(t, p.Synced)

	assert.Equal(t, StatusCompleted, e.Progress().Status)
}

func TestTransientFailureBacksOffThenParks(t *testing.T) {
	e, db, api := newTestEngine(t)

	jobID := uuid.NewString()
	op := enqueueOp(t, db, jobID, models.OperationStart, nil)

	api.handler = func(string, string) error {
		return &TransientError{Err: errors.New("gateway timeout")}
	}

	clock := time.Now().UTC().Add(time.Second)
	var slept []time.Duration
	e.now = func() time.Time { return clock }
	e.sleepFn = func(_ context.Context, d time.Duration) bool {
		slept = append(slept, d)
		clock = clock.Add(d)
		return true
	}

	result := e.StartSync(context.Background())
	require.True(t, result.Success, "a pass that parks a row still completes")
	assert.Zero(t, result.Synced)

	// Four in-pass retries with doubling delays, then the row parks.
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	require.Len(t, slept, len(want))
	for i, expected := range want {
		assert.InDelta(t, float64(expected), float64(slept[i]), float64(50*time.Millisecond), "sleep %d", i)
	}
	assert.Len(t, api.callLog(), 5)

	failed, err := db.FailedOperations()
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, op.ID, failed[0].ID)
	assert.Equal(t, 5, failed[0].AttemptCount)

	progress := e.Progress()
	require.Len(t, progress.Errors, 1)
	assert.False(t, progress.Errors[0].Conflict)
}

func TestConflictParksWithoutRetry(t *testing.T) {
	e, db, api := newTestEngine(t)

	jobID := uuid.NewString()
	start := enqueueOp(t, db, jobID, models.OperationStart, nil)
	enqueueOp(t, db, jobID, models.OperationComplete, nil)

	api.handler = func(op, _ string) error {
		if op == "start" {
			return &ConflictError{Reason: "job reassigned"}
		}
		return nil
	}

	result := e.StartSync(context.Background())
	require.True(t, result.Success)
	assert.Zero(t, result.Synced)
	assert.Equal(t, []string{"start"}, api.callLog(), "blocked complete is never attempted")

	conflicts, err := db.ConflictOperations()
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, start.ID, conflicts[0].ID)

	// The conflicted row drops out of the owed-work count; the blocked
	// complete behind it is still owed.
	count, err := db.PendingSyncCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	progress := e.Progress()
	require.Len(t, progress.Errors, 1)
	assert.True(t, progress.Errors[0].Conflict)
}

func TestAuthFailureMidPassAbortsWithoutConsumingAttempt(t *testing.T) {
	e, db, api := newTestEngine(t)

	op := enqueueOp(t, db, uuid.NewString(), models.OperationStart, nil)
	api.handler = func(string, string) error {
		return &AuthError{Reason: "session revoked"}
	}

	result := e.StartSync(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, "auth", result.Reason)

	ops, err := db.OperationsForJob(op.JobLocalID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OperationStatusPending, ops[0].Status)
	assert.Zero(t, ops[0].AttemptCount)
}

func TestCancelDuringBackoffWait(t *testing.T) {
	e, db, api := newTestEngine(t)

	enqueueOp(t, db, uuid.NewString(), models.OperationStart, nil)
	api.handler = func(string, string) error {
		return &TransientError{Err: errors.New("connection reset")}
	}
	e.sleepFn = func(context.Context, time.Duration) bool { return false }

	result := e.StartSync(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, "cancelled", result.Reason)
	assert.Equal(t, StatusIdle, e.Progress().Status)
}

func TestRetryFailedRequeuesParkedOperations(t *testing.T) {
	e, db, api := newTestEngine(t)

	op := enqueueOp(t, db, uuid.NewString(), models.OperationStart, nil)
	require.NoError(t, db.RecordOperationFailure(op.ID, "timeout", time.Now().UTC(), 1))

	result := e.RetryFailed(context.Background(), true)
	require.True(t, result.Success)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, []string{"start"}, api.callLog())

	count, err := db.PendingSyncCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRetryFailedWithEmptyQueue(t *testing.T) {
	e, _, api := newTestEngine(t)

	result := e.RetryFailed(context.Background(), false)
	assert.True(t, result.Success)
	assert.Equal(t, "nothing_to_retry", result.Reason)
	assert.Empty(t, api.callLog())
}
