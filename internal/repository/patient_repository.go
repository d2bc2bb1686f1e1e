package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/helixcare/imaging-gateway/internal/database"
	"github.com/helixcare/imaging-gateway/internal/models"
)

// PatientRepository handles patient registry database operations
type PatientRepository struct{}

// NewPatientRepository creates a new patient repository
func NewPatientRepository() *PatientRepository {
	return &PatientRepository{}
}

// GetByID retrieves a patient by ID
func (r *PatientRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Patient, error) {
	var patient models.Patient
	if err := database.DB.WithContext(ctx).Where("id = ?", id).First(&patient).Error; err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &patient, nil
}

// GetByMRN retrieves a patient by medical record number
func (r *PatientRepository) GetByMRN(ctx context.Context, mrn string) (*models.Patient, error) {
	var patient models.Patient
	if err := database.DB.WithContext(ctx).Where("mrn = ?", mrn).First(&patient).Error; err != nil {
		return nil, fmt.Errorf("failed to get patient by MRN: %w", err)
	}
	return &patient, nil
}

// List returns the patient registry snapshot for matching. The order is
// stable across calls so the matcher's first-occurrence tie-break is
// deterministic.
func (r *PatientRepository) List(ctx context.Context) ([]models.Patient, error) {
	var patients []models.Patient
	if err := database.DB.WithContext(ctx).
		Order("created_at ASC, id ASC").
		Find(&patients).Error; err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

// Create creates a new patient record
func (r *PatientRepository) Create(ctx context.Context, patient *models.Patient) error {
	if err := database.DB.WithContext(ctx).Create(patient).Error; err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}
