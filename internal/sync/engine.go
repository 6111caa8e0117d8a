package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/cleanops/fieldsync/internal/database"
	"github.com/cleanops/fieldsync/internal/models"
)

// Status is the engine's coarse state for consumers
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Retry policy: delay = min(baseDelay * 2^attempt, maxDelay), then park
// the operation as failed after maxAttempts.
const (
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 16 * time.Second
	defaultMaxAttempts = 5
)

// OperationError describes one operation that could not be confirmed
type OperationError struct {
	OperationID string               `json:"operationId"`
	JobLocalID  string               `json:"jobLocalId"`
	Type        models.OperationType `json:"type"`
	Message     string               `json:"message"`
	Conflict    bool                 `json:"conflict"`
}

// Progress is a live snapshot safe to poll or render continuously
type Progress struct {
	Status              Status           `json:"status"`
	TotalOperations     int              `json:"totalOperations"`
	CompletedOperations int              `json:"completedOperations"`
	CurrentOperation    string           `json:"currentOperation"`
	Errors              []OperationError `json:"errors"`
}

// Result is the outcome of one StartSync call
type Result struct {
	Success bool   `json:"success"`
	Synced  int    `json:"synced"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OnlineChecker is the slice of the network monitor the engine needs
type OnlineChecker interface {
	IsOnline() bool
}

// Engine drains SyncOperation rows against the server, one at a time,
// in per-job ordinal order. It enforces its own mutual exclusion: a
// second StartSync while a pass is running is a no-op, not an error.
type Engine struct {
	mu gosync.Mutex

	db      *database.DB
	api     API
	online  OnlineChecker
	now     func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) bool

	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int

	syncing  bool
	cancel   context.CancelFunc
	progress Progress

	subscribers map[int]func(Progress)
	nextSubID   int
}

// NewEngine creates an engine over the local datastore and server API
func NewEngine(db *database.DB, api API, online OnlineChecker) *Engine {
	return &Engine{
		db:          db,
		api:         api,
		online:      online,
		now:         time.Now,
		sleepFn:     sleepCtx,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		maxAttempts: defaultMaxAttempts,
		progress:    Progress{Status: StatusIdle},
		subscribers: make(map[int]func(Progress)),
	}
}

// BackoffDelay returns the retry delay for the given attempt number
func (e *Engine) BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Shift overflows past ~2^63; the cap makes anything above a few
	// attempts equivalent anyway.
	if attempt > 30 {
		return e.maxDelay
	}
	delay := e.baseDelay << uint(attempt)
	if delay > e.maxDelay {
		return e.maxDelay
	}
	return delay
}

// StartSync processes the queue across all jobs, serially, until every
// operation is done, failed or conflicted, or the pass is cancelled.
// Called while offline it returns {Success:false, Reason:"offline"}
// without touching anything; called while already syncing it is a no-op.
func (e *Engine) StartSync(ctx context.Context) Result {
	if e.online == nil || !e.online.IsOnline() {
		return Result{Success: false, Reason: "offline"}
	}

	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return Result{Success: true, Reason: "already_syncing"}
	}

	if err := e.api.CheckAuth(); err != nil {
		e.progress.Status = StatusError
		e.mu.Unlock()
		e.publish()
		return Result{Success: false, Reason: "auth", Error: err.Error()}
	}

	passCtx, cancel := context.WithCancel(ctx)
	e.syncing = true
	e.cancel = cancel

	total, err := e.db.PendingSyncCount()
	if err != nil {
		e.syncing = false
		e.cancel = nil
		e.progress.Status = StatusError
		e.mu.Unlock()
		cancel()
		e.publish()
		return Result{Success: false, Reason: "storage", Error: err.Error()}
	}

	e.progress = Progress{
		Status:          StatusSyncing,
		TotalOperations: int(total),
	}
	e.mu.Unlock()
	e.publish()

	result := e.drain(passCtx)
	cancel()

	e.mu.Lock()
	e.syncing = false
	e.cancel = nil
	finished := e.progress
	e.mu.Unlock()

	log.Printf("🔄 Sync pass finished: status=%s synced=%d errors=%d",
		finished.Status, result.Synced, len(finished.Errors))
	e.publish()
	return result
}

// RetryFailed moves failed operations back to pending and runs a pass.
// The cumulative attempt counter is preserved for backoff purposes
// unless resetAttempts is set. Conflicted operations are untouched.
func (e *Engine) RetryFailed(ctx context.Context, resetAttempts bool) Result {
	if e.online == nil || !e.online.IsOnline() {
		return Result{Success: false, Reason: "offline"}
	}

	count, err := e.db.ResetFailedOperations(e.now().UTC(), resetAttempts)
	if err != nil {
		return Result{Success: false, Reason: "storage", Error: err.Error()}
	}
	if count == 0 {
		return Result{Success: true, Reason: "nothing_to_retry"}
	}
	log.Printf("🔁 Re-queued %d failed operations", count)
	return e.StartSync(ctx)
}

// Cancel interrupts the current pass, if any. Operations already sent
// are left to resolve server-side; unsent rows remain pending.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Syncing reports whether a pass is currently running
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// Progress returns a snapshot of the current pass
func (e *Engine) Progress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyProgressLocked()
}

// Subscribe registers a progress listener, returning an unsubscribe
// function.
func (e *Engine) Subscribe(fn func(Progress)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subscribers, id)
	}
}

// drain is the serial queue-drain loop. The cancellation flag is checked
// between operations, never mid-call.
func (e *Engine) drain(ctx context.Context) Result {
	synced := 0

	for {
		select {
		case <-ctx.Done():
			e.setStatus(StatusIdle, "")
			return Result{Success: false, Synced: synced, Reason: "cancelled"}
		default:
		}

		op, err := e.db.NextEligibleOperation(e.now().UTC())
		if err != nil {
			e.setStatus(StatusError, "")
			return Result{Success: false, Synced: synced, Reason: "storage", Error: err.Error()}
		}

		if op == nil {
			next, err := e.db.NextRetryTime(e.now().UTC())
			if err != nil {
				e.setStatus(StatusError, "")
				return Result{Success: false, Synced: synced, Reason: "storage", Error: err.Error()}
			}
			if next == nil {
				// Queue fully drained for this pass.
				e.finishPass()
				return Result{Success: true, Synced: synced}
			}
			if !e.sleepFn(ctx, next.Sub(e.now())) {
				e.setStatus(StatusIdle, "")
				return Result{Success: false, Synced: synced, Reason: "cancelled"}
			}
			continue
		}

		ok, fatal := e.processOperation(ctx, op)
		if fatal != nil {
			e.setStatus(StatusError, "")
			return Result{Success: false, Synced: synced, Reason: fatalReason(fatal), Error: fatal.Error()}
		}
		if ok {
			synced++
		}
	}
}

// finishPass marks a fully drained pass completed
func (e *Engine) finishPass() {
	e.mu.Lock()
	e.progress.Status = StatusCompleted
	e.progress.CurrentOperation = ""
	e.mu.Unlock()
	e.publish()
}

// processOperation attempts one server call for one queue row.
// Returns ok=true when the row reached done; fatal is non-nil for
// engine-level failures that abort the whole pass.
func (e *Engine) processOperation(ctx context.Context, op *models.SyncOperation) (bool, error) {
	label := fmt.Sprintf("%s %s", op.Type, op.JobLocalID)
	e.setStatus(StatusSyncing, label)

	if err := e.db.MarkOperationInFlight(op.ID); err != nil {
		return false, fmt.Errorf("mark in flight: %w", err)
	}

	err := e.dispatch(ctx, op)
	switch {
	case err == nil:
		if dbErr := e.confirmOperation(op); dbErr != nil {
			return false, dbErr
		}
		e.bumpCompleted()
		return true, nil

	case IsAuth(err):
		// Auth failures abort the pass without consuming an attempt;
		// the row replays after re-login.
		msg := err.Error()
		if dbErr := e.db.ReturnOperationPending(op.ID, msg, e.now().UTC()); dbErr != nil {
			return false, dbErr
		}
		e.appendError(op, msg, false)
		return false, err

	case IsConflict(err):
		if dbErr := e.db.MarkOperationConflict(op.ID, err.Error()); dbErr != nil {
			return false, dbErr
		}
		log.Printf("⚠️ Operation %s (%s) conflicted: %v", op.ID, op.Type, err)
		e.appendError(op, err.Error(), true)
		return false, nil

	default:
		// Transient: schedule the retry with exponential backoff.
		delay := e.BackoffDelay(op.AttemptCount)
		next := e.now().UTC().Add(delay)
		if dbErr := e.db.RecordOperationFailure(op.ID, err.Error(), next, e.maxAttempts); dbErr != nil {
			return false, dbErr
		}
		if op.AttemptCount+1 >= e.maxAttempts {
			log.Printf("❌ Operation %s (%s) failed after %d attempts: %v",
				op.ID, op.Type, op.AttemptCount+1, err)
			e.appendError(op, err.Error(), false)
		} else {
			log.Printf("🔁 Operation %s (%s) failed, retry in %v: %v", op.ID, op.Type, delay, err)
		}
		return false, nil
	}
}

// confirmOperation records server confirmation and its side effects
func (e *Engine) confirmOperation(op *models.SyncOperation) error {
	if err := e.db.MarkOperationDone(op.ID); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	if op.PhotoID != nil {
		if err := e.db.MarkPhotoSynced(*op.PhotoID); err != nil {
			return fmt.Errorf("mark photo synced: %w", err)
		}
	}
	if err := e.db.ClearJobPendingSync(op.JobLocalID); err != nil {
		return fmt.Errorf("clear pending sync: %w", err)
	}
	return nil
}

// operationPayload is the slice of any payload the engine itself reads
type operationPayload struct {
	ServerID string `json:"server_id"`
	PhotoID  string `json:"photo_id"`
	FilePath string `json:"file_path"`
}

// dispatch maps an operation type to its server API call
func (e *Engine) dispatch(ctx context.Context, op *models.SyncOperation) error {
	var payload operationPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return &ConflictError{Reason: fmt.Sprintf("unreadable payload: %v", err)}
	}
	if payload.ServerID == "" {
		return &ConflictError{Reason: "operation has no server job id"}
	}

	raw := []byte(op.Payload)
	switch op.Type {
	case models.OperationStart:
		return e.api.StartJob(ctx, payload.ServerID, raw)
	case models.OperationAccuracy:
		return e.api.RecordAccuracy(ctx, payload.ServerID, raw)
	case models.OperationBeforePhoto:
		return e.api.UploadPhoto(ctx, payload.ServerID, models.PhotoTypeBefore, raw, payload.FilePath)
	case models.OperationChecklist:
		return e.api.UpdateChecklist(ctx, payload.ServerID, raw)
	case models.OperationAfterPhoto:
		return e.api.UploadPhoto(ctx, payload.ServerID, models.PhotoTypeAfter, raw, payload.FilePath)
	case models.OperationComplete:
		return e.api.CompleteJob(ctx, payload.ServerID, raw)
	default:
		return &ConflictError{Reason: fmt.Sprintf("unknown operation type %q", op.Type)}
	}
}

// setStatus updates status and the current-operation label
func (e *Engine) setStatus(status Status, current string) {
	e.mu.Lock()
	e.progress.Status = status
	e.progress.CurrentOperation = current
	e.mu.Unlock()
	e.publish()
}

func (e *Engine) bumpCompleted() {
	e.mu.Lock()
	e.progress.CompletedOperations++
	e.mu.Unlock()
	e.publish()
}

func (e *Engine) appendError(op *models.SyncOperation, msg string, conflict bool) {
	e.mu.Lock()
	e.progress.Errors = append(e.progress.Errors, OperationError{
		OperationID: op.ID,
		JobLocalID:  op.JobLocalID,
		Type:        op.Type,
		Message:     msg,
		Conflict:    conflict,
	})
	e.mu.Unlock()
	e.publish()
}

// publish pushes the current progress snapshot to all subscribers
func (e *Engine) publish() {
	e.mu.Lock()
	snapshot := e.copyProgressLocked()
	subs := make([]func(Progress), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

func (e *Engine) copyProgressLocked() Progress {
	snapshot := e.progress
	snapshot.Errors = append([]OperationError(nil), e.progress.Errors...)
	return snapshot
}

func fatalReason(err error) string {
	if IsAuth(err) {
		return "auth"
	}
	return "storage"
}

// sleepCtx waits for d or until ctx is cancelled; returns false when
// cancelled. Scheduled retries stay cancellable this way.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
