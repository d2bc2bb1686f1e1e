package archive

import (
	"context"
	"errors"
)

// ErrStudyNotFound is returned by query operations when the archive has no
// study for the given identifier.
var ErrStudyNotFound = errors.New("study not found in archive")

// Archive is the external binary-image storage/query service. Uploads and
// queries go through this interface so orchestration can be exercised
// against a fake in tests.
type Archive interface {
	// UploadInstance transmits one file and returns the archive-resolved
	// identity plus the owning study's updated counters.
	UploadInstance(ctx context.Context, data []byte) (*IngestResult, error)

	// GetStudy looks a study up by StudyInstanceUID. Returns
	// ErrStudyNotFound when absent; querying never mutates.
	GetStudy(ctx context.Context, studyUID string) (*StudyDetails, error)

	// QueryPatientStudies returns every study whose PatientID matches the
	// given MRN.
	QueryPatientStudies(ctx context.Context, mrn string) ([]StudyDetails, error)

	// QueryByAccession finds the study correlated with a clinical order's
	// accession number.
	QueryByAccession(ctx context.Context, accession string) (*StudyDetails, error)

	// DeleteStudy removes a study by the archive's internal study ID.
	DeleteStudy(ctx context.Context, archiveStudyID string) error

	// GetThumbnail returns a rendered preview (PNG) for a study.
	GetThumbnail(ctx context.Context, archiveStudyID string) ([]byte, error)

	// Statistics returns archive-wide storage counters.
	Statistics(ctx context.Context) (*SystemStatistics, error)

	// HealthCheck verifies connectivity and reports the archive version.
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}
