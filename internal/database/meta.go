package database

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/cleanops/fieldsync/internal/models"
)

// SetMeta upserts a bookkeeping key/value row
func (db *DB) SetMeta(key, value string) error {
	meta := models.SyncMeta{Key: key, Value: value}
	return db.Save(&meta).Error
}

// GetMeta returns a bookkeeping value, or "" when the key is unset
func (db *DB) GetMeta(key string) (string, error) {
	var meta models.SyncMeta
	err := db.Where("key = ?", key).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return meta.Value, nil
}

// SetMetaTime stores a timestamp under a bookkeeping key in RFC 3339
func (db *DB) SetMetaTime(key string, t time.Time) error {
	return db.SetMeta(key, t.UTC().Format(time.RFC3339))
}

// GetMetaTime reads a timestamp bookkeeping key, nil when unset
func (db *DB) GetMetaTime(key string) (*time.Time, error) {
	raw, err := db.GetMeta(key)
	if err != nil || raw == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
