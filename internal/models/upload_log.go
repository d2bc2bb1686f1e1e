package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UploadLog tracks one uploaded study with the tag snapshot taken at
// ingestion time. Deletions are soft: the archive copy is removed but the
// log row is retained with a reason.
type UploadLog struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`

	StudyInstanceUID string `gorm:"type:varchar(100);not null;index" json:"study_instance_uid"`
	ArchiveStudyID   string `gorm:"type:varchar(100);not null;index" json:"archive_study_id"`

	PatientID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"patient_id"`
	OrderID    *uuid.UUID `gorm:"type:uuid;index" json:"order_id,omitempty"`
	UploadedBy uuid.UUID  `gorm:"type:uuid;not null" json:"uploaded_by"`

	// Tag snapshot from the uploaded files.
	PatientDicomID   string `gorm:"type:varchar(100)" json:"patient_dicom_id,omitempty"`
	PatientName      string `gorm:"type:varchar(200)" json:"patient_name,omitempty"`
	StudyDate        string `gorm:"type:varchar(20)" json:"study_date,omitempty"`
	StudyTime        string `gorm:"type:varchar(20)" json:"study_time,omitempty"`
	StudyDescription string `gorm:"type:varchar(500)" json:"study_description,omitempty"`
	AccessionNumber  string `gorm:"type:varchar(50);index" json:"accession_number,omitempty"`
	Modality         string `gorm:"type:varchar(20);index" json:"modality,omitempty"`

	Status         string    `gorm:"type:varchar(20);not null;default:'uploaded';index" json:"status"` // uploaded, failed, deleted
	FileCount      int       `gorm:"not null;default:0" json:"file_count"`
	TotalSizeBytes int64     `gorm:"not null;default:0" json:"total_size_bytes"`
	UploadDate     time.Time `gorm:"type:timestamptz;not null;index" json:"upload_date"`

	NumberOfSeries    int `json:"number_of_series"`
	NumberOfInstances int `json:"number_of_instances"`

	DeletedDate    *time.Time `gorm:"type:timestamptz" json:"deleted_date,omitempty"`
	DeletionReason string     `gorm:"type:text" json:"deletion_reason,omitempty"`
	ErrorMessage   string     `gorm:"type:text" json:"error_message,omitempty"`
	IsDeleted      bool       `gorm:"default:false;index" json:"is_deleted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (UploadLog) TableName() string {
	return "upload_logs"
}

// BeforeCreate hook
func (u *UploadLog) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.UploadDate.IsZero() {
		u.UploadDate = time.Now().UTC()
	}
	return nil
}
