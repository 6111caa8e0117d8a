package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/cleanops/fieldsync/internal/models"
)

// ErrChecklistFinal is returned on any attempt to un-complete an item.
// Completions are final; the store enforces the invariant below the
// manager so no caller path can bypass it.
var ErrChecklistFinal = errors.New("checklist item completion is final")

// GetChecklistItem returns the row for (job, item), or nil if the item
// has never been touched locally.
func (db *DB) GetChecklistItem(jobLocalID, itemID string) (*models.ChecklistItem, error) {
	var item models.ChecklistItem
	err := db.Where("job_local_id = ? AND item_id = ?", jobLocalID, itemID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListChecklist returns all checklist rows for a job
func (db *DB) ListChecklist(jobLocalID string) ([]models.ChecklistItem, error) {
	var items []models.ChecklistItem
	err := db.Where("job_local_id = ?", jobLocalID).Order("item_id").Find(&items).Error
	return items, err
}

// UpsertChecklistItem creates or updates a checklist row. Once a row is
// completed it can never be written back to incomplete.
func (db *DB) UpsertChecklistItem(item *models.ChecklistItem) error {
	existing, err := db.GetChecklistItem(item.JobLocalID, item.ItemID)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := db.Create(item).Error; err != nil {
			return fmt.Errorf("create checklist item: %w", err)
		}
		return nil
	}
	if existing.Completed && !item.Completed {
		return ErrChecklistFinal
	}
	item.ID = existing.ID
	item.CreatedAt = existing.CreatedAt
	if err := db.Save(item).Error; err != nil {
		return fmt.Errorf("update checklist item: %w", err)
	}
	return nil
}
