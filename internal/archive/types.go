package archive

// IngestResult is the archive's answer to a single-instance upload: the
// resolved identity anchors plus the owning study's counters after the
// upload was applied.
type IngestResult struct {
	InstanceID        string `json:"instance_id"`      // archive internal instance ID
	ArchiveStudyID    string `json:"archive_study_id"` // archive internal study ID
	StudyInstanceUID  string `json:"study_instance_uid"`
	SeriesInstanceUID string `json:"series_instance_uid"`
	SOPInstanceUID    string `json:"sop_instance_uid"`
	NumberOfSeries    int    `json:"number_of_series"`
	NumberOfInstances int    `json:"number_of_instances"`
}

// uploadResponse is the raw body of POST /instances.
type uploadResponse struct {
	ID           string `json:"ID"`
	ParentStudy  string `json:"ParentStudy"`
	ParentSeries string `json:"ParentSeries"`
	Status       string `json:"Status"`
}

// StudyDetails holds one study as returned by the archive's find API.
// Field names match the archive's JSON keys.
type StudyDetails struct {
	ID              string `json:"ID"` // archive internal study ID
	PatientMainTags struct {
		PatientID        string `json:"PatientID,omitempty"`
		PatientName      string `json:"PatientName,omitempty"`
		PatientBirthDate string `json:"PatientBirthDate,omitempty"`
	} `json:"PatientMainDicomTags"`
	MainTags struct {
		StudyInstanceUID string `json:"StudyInstanceUID,omitempty"`
		StudyDate        string `json:"StudyDate,omitempty"`
		StudyTime        string `json:"StudyTime,omitempty"`
		StudyDescription string `json:"StudyDescription,omitempty"`
		AccessionNumber  string `json:"AccessionNumber,omitempty"`
	} `json:"MainDicomTags"`
	Series     []string `json:"Series"`
	IsStable   bool     `json:"IsStable"`
	LastUpdate string   `json:"LastUpdate"`
}

// studyStatistics is the raw body of GET /studies/{id}/statistics.
type studyStatistics struct {
	CountSeries    int `json:"CountSeries"`
	CountInstances int `json:"CountInstances"`
}

// SystemStatistics holds archive-wide counters.
type SystemStatistics struct {
	TotalDiskSize  int64 `json:"TotalDiskSize"`
	CountPatients  int   `json:"CountPatients"`
	CountStudies   int   `json:"CountStudies"`
	CountSeries    int   `json:"CountSeries"`
	CountInstances int   `json:"CountInstances"`
}

// HealthStatus reports archive connectivity.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// findRequest is the body of POST /tools/find.
type findRequest struct {
	Level  string            `json:"Level"`
	Query  map[string]string `json:"Query"`
	Expand bool              `json:"Expand"`
}
