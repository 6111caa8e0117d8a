// Package offline implements the job lifecycle against the local
// datastore only. Every mutation lands in the same transaction as its
// queue row, so the device never holds a change the server will not
// eventually hear about.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cleanops/fieldsync/internal/database"
	"github.com/cleanops/fieldsync/internal/models"
	"github.com/cleanops/fieldsync/internal/sync"
)

// Validation errors, surfaced synchronously to the caller and never
// enqueued.
var (
	ErrOffline           = errors.New("network unavailable")
	ErrJobNotLoaded      = errors.New("job not loaded")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// freshnessWindow is how recent the last preload must be for the local
// job cache to count as fresh.
const freshnessWindow = 24 * time.Hour

// LocationData is the geolocation captured when a job is started
type LocationData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"` // meters; 0 when unknown
}

// Freshness describes how stale the preloaded job cache is
type Freshness struct {
	Fresh       bool       `json:"fresh"`
	PreloadedAt *time.Time `json:"preloadedAt,omitempty"`
	Age         string     `json:"age"`
}

// OnlineChecker is the slice of the network monitor the manager needs
type OnlineChecker interface {
	IsOnline() bool
}

// Manager exposes the job lifecycle operations. All of them execute
// against the local datastore and mirror each mutation into the queue;
// only PreloadJobs talks to the server, and only while online.
type Manager struct {
	db     *database.DB
	api    sync.API
	online OnlineChecker
	now    func() time.Time
}

// NewManager creates an offline manager
func NewManager(db *database.DB, api sync.API, online OnlineChecker) *Manager {
	return &Manager{
		db:     db,
		api:    api,
		online: online,
		now:    time.Now,
	}
}

// GetLocalJob looks up the local mirror of a server job with no side
// effects. Returns nil when the job was never preloaded.
func (m *Manager) GetLocalJob(serverID string) (*models.OfflineJob, error) {
	return m.db.GetJobByServerID(serverID)
}

// PreloadJobs fetches the worker's near-term assigned jobs and
// materializes them locally, including checklist scaffolding, so the
// device has working data before going offline. Fails with ErrOffline
// without touching the datastore when called while disconnected.
func (m *Manager) PreloadJobs(ctx context.Context) (int, error) {
	if m.online == nil || !m.online.IsOnline() {
		return 0, fmt.Errorf("preload jobs: %w", ErrOffline)
	}

	snapshots, err := m.api.FetchUpcomingJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch upcoming jobs: %w", err)
	}

	now := m.now().UTC()
	created := 0

	err = m.db.Transaction(func(tx *database.DB) error {
		for _, snap := range snapshots {
			existing, err := tx.GetJobByServerID(snap.ServerID)
			if err != nil {
				return err
			}
			if existing != nil {
				// Never overwrite local progress; refresh the preload
				// stamp only.
				existing.PreloadedAt = &now
				if err := tx.SaveJob(existing); err != nil {
					return err
				}
				continue
			}

			serverID := snap.ServerID
			job := &models.OfflineJob{
				LocalID:     uuid.New().String(),
				ServerID:    &serverID,
				Status:      models.JobStatusAssigned,
				Address:     snap.Address,
				ScheduledAt: snap.ScheduledAt,
				PreloadedAt: &now,
			}
			if err := tx.CreateJob(job); err != nil {
				return err
			}
			for _, item := range snap.Checklist {
				scaffold := &models.ChecklistItem{
					JobLocalID: job.LocalID,
					ItemID:     item.ItemID,
					Label:      item.Label,
				}
				if err := tx.UpsertChecklistItem(scaffold); err != nil {
					return err
				}
			}
			created++
		}
		return tx.SetMetaTime(models.SyncMetaLastPreloadAt, now)
	})
	if err != nil {
		return 0, fmt.Errorf("preload jobs: %w", err)
	}

	log.Printf("📦 Preloaded %d jobs (%d new)", len(snapshots), created)
	return len(snapshots), nil
}

// StartJob transitions an assigned job to started, records location and
// time, and enqueues the start operation (plus an accuracy operation
// when accuracy data is present) in the same transaction.
func (m *Manager) StartJob(serverID string, loc LocationData) error {
	now := m.now().UTC()

	return m.db.Transaction(func(tx *database.DB) error {
		job, err := tx.GetJobByServerID(serverID)
		if err != nil {
			return err
		}
		if job == nil {
			return ErrJobNotLoaded
		}
		if !job.CanTransitionTo(models.JobStatusStarted) {
			return fmt.Errorf("%w: cannot start job in status %s", ErrInvalidTransition, job.Status)
		}

		job.Status = models.JobStatusStarted
		job.StartedAt = &now
		job.StartLatitude = &loc.Latitude
		job.StartLongitude = &loc.Longitude
		if loc.Accuracy > 0 {
			job.LocationAccuracy = &loc.Accuracy
		}
		job.PendingSync = true
		if err := tx.SaveJob(job); err != nil {
			return err
		}

		if err := m.enqueue(tx, job.LocalID, models.OperationStart, map[string]interface{}{
			"server_id":  serverID,
			"started_at": now.Format(time.RFC3339),
			"latitude":   loc.Latitude,
			"longitude":  loc.Longitude,
		}, nil); err != nil {
			return err
		}

		if loc.Accuracy > 0 {
			return m.enqueue(tx, job.LocalID, models.OperationAccuracy, map[string]interface{}{
				"server_id": serverID,
				"accuracy":  loc.Accuracy,
			}, nil)
		}
		return nil
	})
}

// CompleteJob transitions a started job to completed and enqueues the
// complete operation.
func (m *Manager) CompleteJob(serverID string, hoursWorked float64) error {
	now := m.now().UTC()

	return m.db.Transaction(func(tx *database.DB) error {
		job, err := tx.GetJobByServerID(serverID)
		if err != nil {
			return err
		}
		if job == nil {
			return ErrJobNotLoaded
		}
		if !job.CanTransitionTo(models.JobStatusCompleted) {
			return fmt.Errorf("%w: cannot complete job in status %s", ErrInvalidTransition, job.Status)
		}

		job.Status = models.JobStatusCompleted
		job.CompletedAt = &now
		job.HoursWorked = &hoursWorked
		job.PendingSync = true
		if err := tx.SaveJob(job); err != nil {
			return err
		}

		return m.enqueue(tx, job.LocalID, models.OperationComplete, map[string]interface{}{
			"server_id":    serverID,
			"completed_at": now.Format(time.RFC3339),
			"hours_worked": hoursWorked,
		}, nil)
	})
}

// UpdateChecklistItem marks a checklist item completed and enqueues the
// matching operation. Completions are final: if the item is already
// completed this is a no-op, and completed=false never persists
// anything.
func (m *Manager) UpdateChecklistItem(jobLocalID, itemID string, completed bool) error {
	if !completed {
		// Un-completing is not a representable local mutation.
		return nil
	}

	now := m.now().UTC()

	return m.db.Transaction(func(tx *database.DB) error {
		job, err := tx.GetJob(jobLocalID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotLoaded
		}
		if err != nil {
			return err
		}

		existing, err := tx.GetChecklistItem(jobLocalID, itemID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Completed {
			return nil // already final
		}

		item := &models.ChecklistItem{
			JobLocalID:  jobLocalID,
			ItemID:      itemID,
			Completed:   true,
			CompletedAt: &now,
		}
		if existing != nil {
			item.Label = existing.Label
		}
		if err := tx.UpsertChecklistItem(item); err != nil {
			return err
		}

		if err := tx.Model(&models.OfflineJob{}).
			Where("local_id = ?", jobLocalID).
			Update("pending_sync", true).Error; err != nil {
			return err
		}

		serverID := ""
		if job.ServerID != nil {
			serverID = *job.ServerID
		}
		return m.enqueue(tx, jobLocalID, models.OperationChecklist, map[string]interface{}{
			"server_id":    serverID,
			"item_id":      itemID,
			"completed":    true,
			"completed_at": now.Format(time.RFC3339),
		}, nil)
	})
}

// DataFreshness reports whether the last successful preload is recent
// enough to trust, with a human-readable age.
func (m *Manager) DataFreshness() (Freshness, error) {
	preloadedAt, err := m.db.GetMetaTime(models.SyncMetaLastPreloadAt)
	if err != nil {
		return Freshness{}, fmt.Errorf("read preload stamp: %w", err)
	}
	if preloadedAt == nil {
		return Freshness{Fresh: false, Age: "never"}, nil
	}

	age := m.now().Sub(*preloadedAt)
	return Freshness{
		Fresh:       age <= freshnessWindow,
		PreloadedAt: preloadedAt,
		Age:         humanAge(age),
	}, nil
}

// enqueue appends a queue row inside the caller's transaction
func (m *Manager) enqueue(tx *database.DB, jobLocalID string, opType models.OperationType, payload map[string]interface{}, photoID *string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", opType, err)
	}
	return tx.EnqueueOperation(&models.SyncOperation{
		ID:            uuid.New().String(),
		JobLocalID:    jobLocalID,
		Type:          opType,
		Payload:       raw,
		PhotoID:       photoID,
		NextAttemptAt: m.now().UTC(),
	})
}

// humanAge renders a duration the way the UI shows cache age
func humanAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}
