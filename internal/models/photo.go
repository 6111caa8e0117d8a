package models

import (
	"time"
)

// PhotoType distinguishes documentation photos taken before and after a job
type PhotoType string

const (
	PhotoTypeBefore PhotoType = "before"
	PhotoTypeAfter  PhotoType = "after"
)

// Photo is the metadata row for a captured image persisted in local file
// storage. The image file itself lives at FilePath; the row and the file
// are deleted together, either by the user or by cleanup after a
// confirmed upload.
type Photo struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	JobLocalID string    `gorm:"not null;index" json:"jobLocalId"`
	FilePath   string    `gorm:"not null" json:"filePath"`
	PhotoType  PhotoType `gorm:"type:varchar(10);not null" json:"photoType"`
	Room       string    `json:"room"`
	DeviceID   string    `json:"deviceId"`
	Watermark  JSONMap   `gorm:"type:text" json:"watermark"`
	Synced     bool      `gorm:"default:false;index" json:"synced"`
	TakenAt    time.Time `json:"takenAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TableName specifies the table name for Photo
func (Photo) TableName() string {
	return "photos"
}
