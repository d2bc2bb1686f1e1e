package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters, exposed on /metrics via promhttp.
var (
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imaging_uploads_total",
		Help: "Total file upload attempts by outcome.",
	}, []string{"status"})

	UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imaging_upload_bytes_total",
		Help: "Total bytes transmitted to the archive.",
	})

	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imaging_batches_total",
		Help: "Total upload batches by final status.",
	}, []string{"status"})

	MatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imaging_patient_matches_total",
		Help: "Patient match resolutions by match type.",
	}, []string{"type"})

	StudyDeletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imaging_study_deletions_total",
		Help: "Total studies deleted from the archive.",
	})
)
