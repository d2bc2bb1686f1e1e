package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/helixcare/imaging-gateway/internal/database"
	"github.com/helixcare/imaging-gateway/internal/models"
)

// OrderRepository handles imaging order database operations
type OrderRepository struct{}

// NewOrderRepository creates a new order repository
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{}
}

// GetByID retrieves an imaging order by ID
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ImagingOrder, error) {
	var order models.ImagingOrder
	if err := database.DB.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// GetByAccession retrieves an imaging order by accession number
func (r *OrderRepository) GetByAccession(ctx context.Context, accession string) (*models.ImagingOrder, error) {
	var order models.ImagingOrder
	if err := database.DB.WithContext(ctx).Where("accession_number = ?", accession).First(&order).Error; err != nil {
		return nil, fmt.Errorf("failed to get order by accession: %w", err)
	}
	return &order, nil
}

// GetByPatientID retrieves all imaging orders for a patient
func (r *OrderRepository) GetByPatientID(ctx context.Context, patientID uuid.UUID) ([]models.ImagingOrder, error) {
	var orders []models.ImagingOrder
	if err := database.DB.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}
	return orders, nil
}

// Create creates a new imaging order
func (r *OrderRepository) Create(ctx context.Context, order *models.ImagingOrder) error {
	if err := database.DB.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// UpdateStudyFields writes the denormalized imaging fields onto an order
// after a successful upload. Counters only move forward: the caller passes
// the archive's authoritative totals, which already include prior uploads.
func (r *OrderRepository) UpdateStudyFields(ctx context.Context, id uuid.UUID, update *models.StudyUpdate) error {
	fields := map[string]interface{}{
		"study_instance_uid":  update.StudyInstanceUID,
		"archive_study_id":    update.ArchiveStudyID,
		"number_of_series":    update.NumberOfSeries,
		"number_of_instances": update.NumberOfInstances,
		"image_upload_date":   update.UploadTimestamp,
	}
	if update.StudyDate != "" {
		fields["study_date"] = update.StudyDate
	}
	if update.StudyTime != "" {
		fields["study_time"] = update.StudyTime
	}
	if update.Modality != "" {
		fields["modality"] = update.Modality
	}

	if err := database.DB.WithContext(ctx).
		Model(&models.ImagingOrder{}).
		Where("id = ?", id).
		Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to update order study fields: %w", err)
	}
	return nil
}
