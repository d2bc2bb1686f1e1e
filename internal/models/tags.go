package models

// Tag field names used across the ingestion pipeline. These are the
// DICOM keyword names, not the numeric (group,element) pairs.
const (
	TagPatientID         = "PatientID"
	TagPatientName       = "PatientName"
	TagPatientBirthDate  = "PatientBirthDate"
	TagStudyInstanceUID  = "StudyInstanceUID"
	TagStudyDate         = "StudyDate"
	TagAccessionNumber   = "AccessionNumber"
	TagModality          = "Modality"
	TagSeriesInstanceUID = "SeriesInstanceUID"
	TagSOPInstanceUID    = "SOPInstanceUID"
	TagPatientSex        = "PatientSex"
	TagStudyTime         = "StudyTime"
	TagStudyDescription  = "StudyDescription"
	TagSeriesNumber      = "SeriesNumber"
	TagInstanceNumber    = "InstanceNumber"
	TagInstitutionName   = "InstitutionName"
)

// RequiredTags lists the fields every file must carry before it may enter
// an upload batch. The slice order is the schema order: validation reports
// missing fields in this order regardless of input order.
var RequiredTags = []string{
	TagPatientID,
	TagPatientName,
	TagPatientBirthDate,
	TagStudyInstanceUID,
	TagStudyDate,
	TagAccessionNumber,
	TagModality,
	TagSeriesInstanceUID,
	TagSOPInstanceUID,
}

// OptionalTags are extracted when present but never block an upload.
var OptionalTags = []string{
	TagPatientSex,
	TagStudyTime,
	TagStudyDescription,
	TagSeriesNumber,
	TagInstanceNumber,
	TagInstitutionName,
}

// ImmutableTags are the identity anchors shared with the archive. They are
// never editable: rewriting them would break referential integrity with
// instances already stored.
var ImmutableTags = []string{
	TagStudyInstanceUID,
	TagSeriesInstanceUID,
	TagSOPInstanceUID,
}

// TagSet holds the extracted metadata fields of one image file. It is a
// transient extraction result and is never persisted directly.
type TagSet map[string]string

// Get returns the value for a field, or "" if absent.
func (t TagSet) Get(name string) string {
	return t[name]
}

// Has reports whether a field is present with a non-empty value.
func (t TagSet) Has(name string) bool {
	return t[name] != ""
}

// ValidationResult reports whether a TagSet satisfies the required schema.
type ValidationResult struct {
	IsValid         bool     `json:"is_valid"`
	MissingRequired []string `json:"missing_required,omitempty"`
}

// FileInfo summarizes a parsed file for preview endpoints.
type FileInfo struct {
	FileSizeBytes     int64   `json:"file_size_bytes"`
	FileSizeMB        float64 `json:"file_size_mb"`
	Modality          string  `json:"modality,omitempty"`
	StudyInstanceUID  string  `json:"study_instance_uid,omitempty"`
	SeriesInstanceUID string  `json:"series_instance_uid,omitempty"`
	SOPInstanceUID    string  `json:"sop_instance_uid,omitempty"`
	PatientID         string  `json:"patient_id,omitempty"`
	StudyDate         string  `json:"study_date,omitempty"`
	ImageDimensions   string  `json:"image_dimensions,omitempty"`
}
