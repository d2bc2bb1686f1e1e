package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/helixcare/imaging-gateway/internal/database"
	"github.com/helixcare/imaging-gateway/internal/models"
	"gorm.io/gorm/clause"
)

// StudyInstanceRepository handles the per-order instance ledger
type StudyInstanceRepository struct{}

// NewStudyInstanceRepository creates a new study instance repository
func NewStudyInstanceRepository() *StudyInstanceRepository {
	return &StudyInstanceRepository{}
}

// Record inserts one (order, SOPInstanceUID) row. Returns true when the
// instance was new; false when it was already recorded, in which case
// nothing is written. This is what makes repeated uploads of the same
// instance count once.
func (r *StudyInstanceRepository) Record(ctx context.Context, record *models.StudyInstanceRecord) (bool, error) {
	result := database.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "sop_instance_uid"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, fmt.Errorf("failed to record study instance: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CountByOrder returns how many distinct instances an order has accumulated
func (r *StudyInstanceRepository) CountByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var count int64
	if err := database.DB.WithContext(ctx).
		Model(&models.StudyInstanceRecord{}).
		Where("order_id = ?", orderID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count study instances: %w", err)
	}
	return count, nil
}

// Exists reports whether an instance is already recorded for an order
func (r *StudyInstanceRepository) Exists(ctx context.Context, orderID uuid.UUID, sopInstanceUID string) (bool, error) {
	var count int64
	if err := database.DB.WithContext(ctx).
		Model(&models.StudyInstanceRecord{}).
		Where("order_id = ? AND sop_instance_uid = ?", orderID, sopInstanceUID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check study instance: %w", err)
	}
	return count > 0, nil
}
