// Package coordinator merges network state, sync engine progress and
// offline-duration severity into one observable surface for the app.
// It is thin glue: all sync logic lives in the packages it composes.
package coordinator

import (
	"context"
	"log"
	"os"
	gosync "sync"
	"time"

	"github.com/cleanops/fieldsync/internal/database"
	"github.com/cleanops/fieldsync/internal/governor"
	"github.com/cleanops/fieldsync/internal/models"
	"github.com/cleanops/fieldsync/internal/netmon"
	"github.com/cleanops/fieldsync/internal/sync"
)

// Snapshot is the read-only view consumers render from
type Snapshot struct {
	Online           bool              `json:"online"`
	ConnectionType   string            `json:"connectionType"`
	Quality          netmon.Quality    `json:"quality"`
	SyncStatus       sync.Status       `json:"syncStatus"`
	PendingSyncCount int64             `json:"pendingSyncCount"`
	OfflineSince     *time.Time        `json:"offlineSince,omitempty"`
	OfflineSeverity  governor.Severity `json:"offlineSeverity"`
	LastSyncAt       *time.Time        `json:"lastSyncAt,omitempty"`
}

// Coordinator aggregates the monitor, engine and governor. Its
// lifecycle must be respected: Start subscribes everything, Stop
// unsubscribes and tears down timers; skipping Stop leaks both.
type Coordinator struct {
	mu gosync.Mutex

	db       *database.DB
	monitor  *netmon.Monitor
	engine   *sync.Engine
	governor *governor.Governor

	autoSyncOnReconnect bool
	retention           time.Duration

	subscribers map[int]func(Snapshot)
	nextSubID   int

	unsubs  []func()
	started bool
}

// New creates a coordinator over already-constructed services
func New(db *database.DB, monitor *netmon.Monitor, engine *sync.Engine, gov *governor.Governor) *Coordinator {
	return &Coordinator{
		db:          db,
		monitor:     monitor,
		engine:      engine,
		governor:    gov,
		retention:   7 * 24 * time.Hour,
		subscribers: make(map[int]func(Snapshot)),
	}
}

// SetAutoSyncOnReconnect enables a sync pass whenever connectivity
// returns with work queued.
func (c *Coordinator) SetAutoSyncOnReconnect(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoSyncOnReconnect = enabled
}

// SetRetention overrides how long fully synced jobs are kept
func (c *Coordinator) SetRetention(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retention = d
}

// Start wires the subscriptions. Idempotent.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.governor.Start(c.monitor)

	unsubNet := c.monitor.Subscribe(func(state netmon.NetworkState) {
		if !state.Online {
			// A pass in progress must not keep sending into a dead
			// link; unsent operations stay pending for the next pass.
			c.engine.Cancel()
		} else if c.shouldAutoSync() {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				c.engine.StartSync(ctx)
			}()
		}
		c.notify()
	})

	unsubProgress := c.engine.Subscribe(func(sync.Progress) {
		c.notify()
	})

	c.governor.OnSeverityChange(func(governor.Severity, time.Duration) {
		c.notify()
	})

	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsubNet, unsubProgress)
	c.mu.Unlock()
}

// Stop releases every subscription and timer
func (c *Coordinator) Stop() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.started = false
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	c.governor.Stop()
}

// GetSnapshot builds the current read-only view
func (c *Coordinator) GetSnapshot() Snapshot {
	state := c.monitor.GetStatus()
	progress := c.engine.Progress()

	pending, err := c.db.PendingSyncCount()
	if err != nil {
		log.Printf("⚠️ Could not read pending sync count: %v", err)
	}

	var lastSync *time.Time
	if t, err := c.db.GetMetaTime(models.SyncMetaLastSyncAt); err == nil {
		lastSync = t
	}

	return Snapshot{
		Online:           state.Online,
		ConnectionType:   state.ConnectionType,
		Quality:          state.Quality,
		SyncStatus:       progress.Status,
		PendingSyncCount: pending,
		OfflineSince:     c.governor.OfflineSince(),
		OfflineSeverity:  c.governor.Classify(),
		LastSyncAt:       lastSync,
	}
}

// Subscribe registers a snapshot listener; returns unsubscribe
func (c *Coordinator) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// TriggerManualSync runs a pass now and stamps the last-sync time on
// success.
func (c *Coordinator) TriggerManualSync(ctx context.Context) sync.Result {
	result := c.engine.StartSync(ctx)
	if result.Success && result.Reason == "" {
		if err := c.db.SetMetaTime(models.SyncMetaLastSyncAt, time.Now().UTC()); err != nil {
			log.Printf("⚠️ Could not stamp last sync time: %v", err)
		}
	}
	c.notify()
	return result
}

// RefreshPendingCount forces subscribers to re-read the derived count
func (c *Coordinator) RefreshPendingCount() int64 {
	count, err := c.db.PendingSyncCount()
	if err != nil {
		log.Printf("⚠️ Could not read pending sync count: %v", err)
		return 0
	}
	c.notify()
	return count
}

// RunCleanup purges fully synced jobs past the retention window and
// removes their photo files from disk.
func (c *Coordinator) RunCleanup() error {
	c.mu.Lock()
	retention := c.retention
	c.mu.Unlock()

	paths, err := c.db.PurgeSyncedJobs(time.Now().Add(-retention))
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("⚠️ Could not remove purged photo file %s: %v", path, err)
		}
	}
	if len(paths) > 0 {
		log.Printf("🧹 Cleanup removed %d photo files", len(paths))
	}
	return nil
}

func (c *Coordinator) shouldAutoSync() bool {
	c.mu.Lock()
	auto := c.autoSyncOnReconnect
	c.mu.Unlock()
	if !auto {
		return false
	}
	pending, err := c.db.PendingSyncCount()
	return err == nil && pending > 0
}

// notify pushes a fresh snapshot to all subscribers
func (c *Coordinator) notify() {
	snapshot := c.GetSnapshot()

	c.mu.Lock()
	subs := make([]func(Snapshot), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}
