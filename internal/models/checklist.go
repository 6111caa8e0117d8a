package models

import (
	"time"
)

// ChecklistItem is a single task on a job's checklist.
// Rows are created lazily: an item exists locally only once it has been
// completed (or preloaded as scaffolding). Completion is final; a
// completed item can never flip back to incomplete on the device.
type ChecklistItem struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	JobLocalID  string     `gorm:"not null;uniqueIndex:idx_job_item" json:"jobLocalId"`
	ItemID      string     `gorm:"not null;uniqueIndex:idx_job_item" json:"itemId"`
	Label       string     `json:"label"`
	Completed   bool       `gorm:"default:false" json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TableName specifies the table name for ChecklistItem
func (ChecklistItem) TableName() string {
	return "checklist_items"
}
