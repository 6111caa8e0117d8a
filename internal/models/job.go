package models

import (
	"time"
)

// JobStatus defines the lifecycle state of a locally cached job
type JobStatus string

const (
	JobStatusAssigned  JobStatus = "assigned"
	JobStatusStarted   JobStatus = "started"
	JobStatusCompleted JobStatus = "completed"
)

// OfflineJob is the local-first mirror of a server job.
// LocalID is owned by the device and never changes; ServerID stays nil
// until the job has been seen by the server at least once.
// Status only ever moves assigned -> started -> completed. PendingSync is
// an overlay flag, not a state: it clears once every queued operation for
// the job has been confirmed.
type OfflineJob struct {
	LocalID          string     `gorm:"primaryKey" json:"localId"`
	ServerID         *string    `gorm:"uniqueIndex" json:"serverId,omitempty"`
	Status           JobStatus  `gorm:"type:varchar(20);not null;default:'assigned'" json:"status"`
	PendingSync      bool       `gorm:"default:false;index" json:"pendingSync"`
	Address          string     `json:"address"`
	ScheduledAt      *time.Time `json:"scheduledAt,omitempty"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	StartLatitude    *float64   `json:"startLatitude,omitempty"`
	StartLongitude   *float64   `json:"startLongitude,omitempty"`
	LocationAccuracy *float64   `json:"locationAccuracy,omitempty"`
	HoursWorked      *float64   `json:"hoursWorked,omitempty"`
	PreloadedAt      *time.Time `json:"preloadedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// TableName specifies the table name for OfflineJob
func (OfflineJob) TableName() string {
	return "offline_jobs"
}

// CanTransitionTo reports whether the one-directional lifecycle allows
// moving from the current status to the target status.
func (j *OfflineJob) CanTransitionTo(target JobStatus) bool {
	switch target {
	case JobStatusStarted:
		return j.Status == JobStatusAssigned
	case JobStatusCompleted:
		return j.Status == JobStatusStarted
	default:
		return false
	}
}
