package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/helixcare/imaging-gateway/internal/database"
	"github.com/helixcare/imaging-gateway/internal/models"
)

// UploadLogRepository handles upload log database operations
type UploadLogRepository struct{}

// NewUploadLogRepository creates a new upload log repository
func NewUploadLogRepository() *UploadLogRepository {
	return &UploadLogRepository{}
}

// Create creates a new upload log entry
func (r *UploadLogRepository) Create(ctx context.Context, log *models.UploadLog) error {
	if err := database.DB.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to create upload log: %w", err)
	}
	return nil
}

// List retrieves upload logs across all patients, most recent first
func (r *UploadLogRepository) List(ctx context.Context, includeDeleted bool, limit, offset int) ([]models.UploadLog, error) {
	query := database.DB.WithContext(ctx).Order("upload_date DESC")
	if !includeDeleted {
		query = query.Where("is_deleted = ?", false)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var logs []models.UploadLog
	if err := query.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list upload logs: %w", err)
	}
	return logs, nil
}

// GetByID retrieves an upload log by ID
func (r *UploadLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UploadLog, error) {
	var log models.UploadLog
	if err := database.DB.WithContext(ctx).Where("id = ?", id).First(&log).Error; err != nil {
		return nil, fmt.Errorf("failed to get upload log: %w", err)
	}
	return &log, nil
}

// GetByStudyUID retrieves the active upload log for a study
func (r *UploadLogRepository) GetByStudyUID(ctx context.Context, studyUID string) (*models.UploadLog, error) {
	var log models.UploadLog
	if err := database.DB.WithContext(ctx).
		Where("study_instance_uid = ? AND is_deleted = ?", studyUID, false).
		Order("upload_date DESC").
		First(&log).Error; err != nil {
		return nil, fmt.Errorf("failed to get upload log by study UID: %w", err)
	}
	return &log, nil
}

// GetByPatientID retrieves upload logs for a patient, most recent first
func (r *UploadLogRepository) GetByPatientID(ctx context.Context, patientID uuid.UUID, includeDeleted bool) ([]models.UploadLog, error) {
	query := database.DB.WithContext(ctx).Where("patient_id = ?", patientID)
	if !includeDeleted {
		query = query.Where("is_deleted = ?", false)
	}

	var logs []models.UploadLog
	if err := query.Order("upload_date DESC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to get upload logs: %w", err)
	}
	return logs, nil
}

// GetByOrderID retrieves upload logs for an order, most recent first
func (r *UploadLogRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.UploadLog, error) {
	var logs []models.UploadLog
	if err := database.DB.WithContext(ctx).
		Where("order_id = ? AND is_deleted = ?", orderID, false).
		Order("upload_date DESC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to get upload logs: %w", err)
	}
	return logs, nil
}

// MarkDeleted soft deletes an upload log after the archive copy is removed
func (r *UploadLogRepository) MarkDeleted(ctx context.Context, id uuid.UUID, reason string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"is_deleted":      true,
		"status":          "deleted",
		"deleted_date":    now,
		"deletion_reason": reason,
	}

	if err := database.DB.WithContext(ctx).
		Model(&models.UploadLog{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to mark upload log deleted: %w", err)
	}
	return nil
}
