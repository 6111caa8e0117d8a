package models

import "time"

// Well-known SyncMeta keys
const (
	SyncMetaLastPreloadAt = "last_preload_at"
	SyncMetaLastSyncAt    = "last_sync_at"
	SyncMetaSchemaVersion = "schema_version"
)

// SyncMeta is a key/value row for small pieces of sync bookkeeping that
// don't warrant their own table (preload freshness, last successful sync).
type SyncMeta struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for SyncMeta
func (SyncMeta) TableName() string {
	return "sync_meta"
}
