package models

import (
	"time"

	"gorm.io/datatypes"
)

// OperationType identifies the server action a queued operation replays
type OperationType string

const (
	OperationStart       OperationType = "start"
	OperationAccuracy    OperationType = "accuracy"
	OperationBeforePhoto OperationType = "before_photo"
	OperationChecklist   OperationType = "checklist"
	OperationAfterPhoto  OperationType = "after_photo"
	OperationComplete    OperationType = "complete"
)

// OperationStatus tracks a queued operation through replay
type OperationStatus string

const (
	OperationStatusPending  OperationStatus = "pending"
	OperationStatusInFlight OperationStatus = "in_flight"
	OperationStatusFailed   OperationStatus = "failed"
	OperationStatusConflict OperationStatus = "conflict"
	OperationStatusDone     OperationStatus = "done"
)

// operationOrdinals collapses the per-job operation DAG to a total order:
// start -> accuracy -> before_photo -> checklist -> after_photo -> complete.
var operationOrdinals = map[OperationType]int{
	OperationStart:       0,
	OperationAccuracy:    1,
	OperationBeforePhoto: 2,
	OperationChecklist:   3,
	OperationAfterPhoto:  4,
	OperationComplete:    5,
}

// OrdinalFor returns the replay position of an operation type within a job.
// Unknown types sort last.
func OrdinalFor(t OperationType) int {
	if ord, ok := operationOrdinals[t]; ok {
		return ord
	}
	return 99
}

// SyncOperation is one durable, replayable unit of work: a local mutation
// not yet confirmed by the server. Rows are append-only; the engine only
// ever moves Status forward and bumps AttemptCount; it never fabricates
// domain rows. A row leaves the queue only when the server confirms the
// matching action (Status done) or the operation is superseded locally.
type SyncOperation struct {
	ID            string          `gorm:"primaryKey" json:"id"`
	JobLocalID    string          `gorm:"not null;index:idx_job_ordinal" json:"jobLocalId"`
	Type          OperationType   `gorm:"type:varchar(20);not null" json:"type"`
	Ordinal       int             `gorm:"not null;index:idx_job_ordinal" json:"ordinal"`
	Payload       datatypes.JSON  `json:"payload"`
	PhotoID       *string         `gorm:"index" json:"photoId,omitempty"`
	AttemptCount  int             `gorm:"default:0" json:"attemptCount"`
	NextAttemptAt time.Time       `gorm:"index" json:"nextAttemptAt"`
	LastError     *string         `gorm:"type:text" json:"lastError,omitempty"`
	Status        OperationStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// TableName specifies the table name for SyncOperation
func (SyncOperation) TableName() string {
	return "sync_operations"
}

// Retryable reports whether the row still counts toward the pending sync
// total. Conflict rows are excluded: they need user acknowledgement and
// must never be replayed blindly.
func (op *SyncOperation) Retryable() bool {
	switch op.Status {
	case OperationStatusPending, OperationStatusInFlight, OperationStatusFailed:
		return true
	default:
		return false
	}
}
