package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ImagingOrder is the clinical order that requested an imaging study. The
// study fields are denormalized from the archive after a successful upload
// and only ever move forward: counters increase, never decrease.
type ImagingOrder struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OrderNumber     string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"order_number"`
	PatientID       uuid.UUID `gorm:"type:uuid;not null;index" json:"patient_id"`
	AccessionNumber string    `gorm:"type:varchar(50);index" json:"accession_number,omitempty"`

	// Denormalized study fields, populated by the study registry.
	StudyInstanceUID  string     `gorm:"type:varchar(100);index" json:"study_instance_uid,omitempty"`
	ArchiveStudyID    string     `gorm:"type:varchar(100);index" json:"archive_study_id,omitempty"`
	StudyDate         string     `gorm:"type:varchar(20)" json:"study_date,omitempty"`
	StudyTime         string     `gorm:"type:varchar(20)" json:"study_time,omitempty"`
	Modality          string     `gorm:"type:varchar(20)" json:"modality,omitempty"`
	NumberOfSeries    int        `json:"number_of_series"`
	NumberOfInstances int        `json:"number_of_instances"`
	ImageUploadDate   *time.Time `gorm:"type:timestamptz" json:"image_upload_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (ImagingOrder) TableName() string {
	return "imaging_orders"
}

// BeforeCreate hook
func (o *ImagingOrder) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// StudyUpdate carries the imaging fields written back onto an order after
// a successful upload.
type StudyUpdate struct {
	StudyInstanceUID  string
	ArchiveStudyID    string
	StudyDate         string
	StudyTime         string
	Modality          string
	NumberOfSeries    int
	NumberOfInstances int
	UploadTimestamp   time.Time
}
