// Package database provides the durable local datastore for the agent.
// It wraps GORM over the pure-Go SQLite driver so the device needs no
// native toolchain, and owns every job, checklist, photo and queue row.
package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cleanops/fieldsync/internal/models"
)

// DB wraps the GORM database connection
type DB struct {
	*gorm.DB
	path string
}

// Config holds database configuration options
type Config struct {
	Path  string
	Debug bool
}

// New opens (or creates) the local database, runs migrations and
// reconciles any operations left in flight by a previous crash.
func New(cfg Config) (*DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	wrapped := &DB{DB: db, path: cfg.Path}

	if err := wrapped.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if err := wrapped.reconcileInFlight(); err != nil {
		return nil, fmt.Errorf("reconcile in-flight operations: %w", err)
	}

	return wrapped, nil
}

// migrate runs GORM auto-migrations for all models
func (db *DB) migrate() error {
	return db.AutoMigrate(
		&models.OfflineJob{},
		&models.ChecklistItem{},
		&models.Photo{},
		&models.SyncOperation{},
		&models.SyncMeta{},
	)
}

// reconcileInFlight resets operations stuck in in_flight back to pending.
// If the process died mid-call the server outcome is unknown, so the row
// is replayed; server endpoints are idempotent per operation.
func (db *DB) reconcileInFlight() error {
	result := db.Model(&models.SyncOperation{}).
		Where("status = ?", models.OperationStatusInFlight).
		Updates(map[string]interface{}{
			"status":          models.OperationStatusPending,
			"next_attempt_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("🧹 Reset %d in-flight operations to pending after restart", result.RowsAffected)
	}
	return nil
}

// Transaction executes a function within a database transaction.
// The callback receives a *DB wrapper bound to the transaction; returning
// an error rolls everything back. Domain mutation and enqueue always go
// through here together so a crash cannot separate them.
func (db *DB) Transaction(fc func(tx *DB) error) error {
	return db.DB.Transaction(func(tx *gorm.DB) error {
		return fc(&DB{DB: tx, path: db.path})
	})
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Close closes the underlying connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
