package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StudyInstanceRecord is the idempotence ledger for instance counting.
// One row per (order, SOPInstanceUID): re-uploading an instance already
// recorded here must not bump the order's counters a second time.
type StudyInstanceRecord struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OrderID           uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_order_sop,priority:1" json:"order_id"`
	SOPInstanceUID    string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_order_sop,priority:2" json:"sop_instance_uid"`
	StudyInstanceUID  string    `gorm:"type:varchar(100);not null;index" json:"study_instance_uid"`
	SeriesInstanceUID string    `gorm:"type:varchar(100);not null;index" json:"series_instance_uid"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName overrides the table name
func (StudyInstanceRecord) TableName() string {
	return "study_instance_records"
}

// BeforeCreate hook
func (s *StudyInstanceRecord) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
