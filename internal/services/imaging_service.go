package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/helixcare/imaging-gateway/internal/archive"
	"github.com/helixcare/imaging-gateway/internal/cache"
	"github.com/helixcare/imaging-gateway/internal/dicomtag"
	"github.com/helixcare/imaging-gateway/internal/matcher"
	"github.com/helixcare/imaging-gateway/internal/metrics"
	"github.com/helixcare/imaging-gateway/internal/models"
	"github.com/helixcare/imaging-gateway/internal/repository"
	"github.com/helixcare/imaging-gateway/internal/uploader"
	"github.com/rs/zerolog/log"
)

// ErrManualSelectionRequired is returned when a file cannot be resolved to
// a registry patient and no explicit selection was supplied.
var ErrManualSelectionRequired = errors.New("manual patient selection required")

// ErrValidationFailed is returned when a file is missing required fields.
var ErrValidationFailed = errors.New("file validation failed")

// UploadFile is one file submitted for upload, optionally carrying tag
// overrides and an explicit patient choice.
type UploadFile struct {
	Name      string
	Data      []byte
	Overrides map[string]string
	PatientID *uuid.UUID // explicit manual selection
}

// ImagingService handles business logic for the ingestion pipeline:
// validation, patient matching, batch orchestration and the study
// registry bookkeeping that follows each successful transmission.
type ImagingService struct {
	patientRepo  *repository.PatientRepository
	orderRepo    *repository.OrderRepository
	logRepo      *repository.UploadLogRepository
	instanceRepo *repository.StudyInstanceRepository
	archive      archive.Archive
	batches      *uploader.BatchStore
	cache        cache.Cache

	// Per-order write serialization for the study registry.
	mu         sync.Mutex
	orderLocks map[uuid.UUID]*sync.Mutex
}

// NewImagingService creates a new imaging service
func NewImagingService(
	patientRepo *repository.PatientRepository,
	orderRepo *repository.OrderRepository,
	logRepo *repository.UploadLogRepository,
	instanceRepo *repository.StudyInstanceRepository,
	arch archive.Archive,
	batches *uploader.BatchStore,
	c cache.Cache,
) *ImagingService {
	return &ImagingService{
		patientRepo:  patientRepo,
		orderRepo:    orderRepo,
		logRepo:      logRepo,
		instanceRepo: instanceRepo,
		archive:      arch,
		batches:      batches,
		cache:        c,
		orderLocks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

// ReadTags extracts the schema fields from a file and validates them.
func (s *ImagingService) ReadTags(data []byte) (models.TagSet, models.ValidationResult, error) {
	tags, err := dicomtag.Extract(data)
	if err != nil {
		return nil, models.ValidationResult{}, err
	}
	return tags, dicomtag.Validate(tags), nil
}

// ReadAllTags extracts every textual element from a file.
func (s *ImagingService) ReadAllTags(data []byte) (map[string]string, error) {
	tags, err := dicomtag.ExtractAll(data)
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// ModifyTags applies tag overrides to a file and returns the new payload.
func (s *ImagingService) ModifyTags(data []byte, overrides map[string]string) ([]byte, error) {
	return dicomtag.Modify(data, overrides)
}

// FileInfo returns the preview summary for a file.
func (s *ImagingService) FileInfo(data []byte) (*models.FileInfo, error) {
	return dicomtag.FileInfo(data)
}

// PreviewMatch runs the matching tiers for a single file without uploading.
func (s *ImagingService) PreviewMatch(ctx context.Context, data []byte) (*models.MatchResult, error) {
	tags, err := dicomtag.Extract(data)
	if err != nil {
		return nil, err
	}

	patients, err := s.patientRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	result := matcher.Match(matcher.IdentityFromTags(tags), patients)
	metrics.MatchesTotal.WithLabelValues(string(result.MatchType)).Inc()
	return &result, nil
}

// StartBatch validates and matches the given files, then launches a batch
// upload in the background. The returned batch is immediately pollable
// through the batch store.
//
// When orderID is set the batch is pre-bound: every file resolves to the
// order's patient and the matching tiers are skipped. Otherwise each file
// is matched individually; files that resolve to no patient and carry no
// explicit selection reject the whole request.
func (s *ImagingService) StartBatch(ctx context.Context, files []UploadFile, orderID *uuid.UUID, uploadedBy uuid.UUID) (*uploader.Batch, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files supplied")
	}

	var preBound *models.MatchResult
	if orderID != nil {
		order, err := s.orderRepo.GetByID(ctx, *orderID)
		if err != nil {
			return nil, err
		}
		match := matcher.PreBound(order.PatientID)
		preBound = &match
	}

	var patients []models.Patient
	if preBound == nil {
		var err error
		patients, err = s.patientRepo.List(ctx)
		if err != nil {
			return nil, err
		}
	}

	batchFiles := make([]uploader.File, 0, len(files))
	for _, f := range files {
		tags, err := dicomtag.Extract(f.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		if validation := dicomtag.Validate(tags); !validation.IsValid {
			return nil, fmt.Errorf("%w: %s is missing %s",
				ErrValidationFailed, f.Name, strings.Join(validation.MissingRequired, ", "))
		}

		var match models.MatchResult
		switch {
		case preBound != nil:
			match = *preBound
		case f.PatientID != nil:
			match = matcher.ManualSelection(*f.PatientID)
		default:
			match = matcher.Match(matcher.IdentityFromTags(tags), patients)
			if !match.Resolved() {
				return nil, fmt.Errorf("%w: %s", ErrManualSelectionRequired, f.Name)
			}
		}
		metrics.MatchesTotal.WithLabelValues(string(match.MatchType)).Inc()

		batchFiles = append(batchFiles, uploader.File{
			Name:      f.Name,
			Data:      f.Data,
			Match:     match,
			Overrides: f.Overrides,
		})
	}

	opts := []uploader.Option{
		uploader.WithCompletedFunc(s.registerInstance(orderID)),
	}
	if orderID != nil {
		opts = append(opts, uploader.WithOrder(*orderID))
	}

	batch := uploader.NewBatch(batchFiles, s.archive, opts...)

	// The batch outlives the HTTP request that started it.
	runCtx, cancel := context.WithCancel(context.Background())
	s.batches.Add(batch, cancel)

	go func() {
		defer cancel()
		summary := batch.Run(runCtx)
		s.batches.MarkFinished(batch.ID)

		snap := batch.Snapshot()
		metrics.BatchesTotal.WithLabelValues(string(snap.Status)).Inc()
		metrics.UploadsTotal.WithLabelValues("completed").Add(float64(summary.Successful))
		metrics.UploadsTotal.WithLabelValues("error").Add(float64(summary.Failed))

		s.recordUploadLogs(context.Background(), batch, batchFiles, uploadedBy, orderID)
	}()

	return batch, nil
}

// registerInstance is the study registry hook: it runs after every
// successful transmission, serialized per order, and records the instance
// so re-uploads never bump the order's counters a second time.
func (s *ImagingService) registerInstance(orderID *uuid.UUID) uploader.CompletedFunc {
	return func(ctx context.Context, f uploader.File, res *archive.IngestResult) error {
		metrics.UploadBytesTotal.Add(float64(len(f.Data)))
		if orderID == nil {
			return nil
		}

		lock := s.orderLock(*orderID)
		lock.Lock()
		defer lock.Unlock()

		isNew, err := s.instanceRepo.Record(ctx, &models.StudyInstanceRecord{
			OrderID:           *orderID,
			SOPInstanceUID:    res.SOPInstanceUID,
			StudyInstanceUID:  res.StudyInstanceUID,
			SeriesInstanceUID: res.SeriesInstanceUID,
		})
		if err != nil {
			return err
		}
		if !isNew {
			log.Debug().
				Str("sop_uid", res.SOPInstanceUID).
				Str("order_id", orderID.String()).
				Msg("Instance already recorded, counters unchanged")
			return nil
		}

		tags, _ := dicomtag.Extract(f.Data)
		update := &models.StudyUpdate{
			StudyInstanceUID:  res.StudyInstanceUID,
			ArchiveStudyID:    res.ArchiveStudyID,
			NumberOfSeries:    res.NumberOfSeries,
			NumberOfInstances: res.NumberOfInstances,
			UploadTimestamp:   time.Now().UTC(),
		}
		if tags != nil {
			update.StudyDate = tags.Get(models.TagStudyDate)
			update.StudyTime = tags.Get(models.TagStudyTime)
			update.Modality = tags.Get(models.TagModality)
		}
		return s.orderRepo.UpdateStudyFields(ctx, *orderID, update)
	}
}

// recordUploadLogs writes one upload log per distinct study the batch
// touched, with the tag snapshot taken from the first file of each study.
func (s *ImagingService) recordUploadLogs(ctx context.Context, batch *uploader.Batch, files []uploader.File, uploadedBy uuid.UUID, orderID *uuid.UUID) {
	snap := batch.Snapshot()

	type studyAgg struct {
		firstFile int
		fileCount int
		sizeBytes int64
		archiveID string
	}
	studies := make(map[string]*studyAgg)
	order := make([]string, 0)

	for _, task := range snap.Tasks {
		if task.Status != models.TaskStatusCompleted || task.StudyInstanceUID == "" {
			continue
		}
		agg, ok := studies[task.StudyInstanceUID]
		if !ok {
			agg = &studyAgg{firstFile: task.Index}
			studies[task.StudyInstanceUID] = agg
			order = append(order, task.StudyInstanceUID)
		}
		agg.fileCount++
		agg.sizeBytes += task.BytesTotal
	}

	for _, studyUID := range order {
		agg := studies[studyUID]
		f := files[agg.firstFile]

		entry := &models.UploadLog{
			StudyInstanceUID: studyUID,
			PatientID:        f.Match.PatientID,
			OrderID:          orderID,
			UploadedBy:       uploadedBy,
			Status:           "uploaded",
			FileCount:        agg.fileCount,
			TotalSizeBytes:   agg.sizeBytes,
		}

		if study, err := s.archive.GetStudy(ctx, studyUID); err == nil {
			entry.ArchiveStudyID = study.ID
			entry.PatientDicomID = study.PatientMainTags.PatientID
			entry.PatientName = study.PatientMainTags.PatientName
			entry.StudyDate = study.MainTags.StudyDate
			entry.StudyTime = study.MainTags.StudyTime
			entry.StudyDescription = study.MainTags.StudyDescription
			entry.AccessionNumber = study.MainTags.AccessionNumber
		}

		if err := s.logRepo.Create(ctx, entry); err != nil {
			log.Error().Err(err).Str("study_uid", studyUID).Msg("Failed to write upload log")
		}
	}
}

// GetBatch returns a batch snapshot for polling.
func (s *ImagingService) GetBatch(id uuid.UUID) (*models.BatchSnapshot, error) {
	batch, err := s.batches.Get(id)
	if err != nil {
		return nil, err
	}
	snap := batch.Snapshot()
	return &snap, nil
}

// CancelBatch requests cooperative cancellation of a running batch.
func (s *ImagingService) CancelBatch(id uuid.UUID) error {
	return s.batches.Cancel(id)
}

// GetStudy looks a study up in the archive by StudyInstanceUID.
func (s *ImagingService) GetStudy(ctx context.Context, studyUID string) (*archive.StudyDetails, error) {
	return s.archive.GetStudy(ctx, studyUID)
}

// GetPatientStudies queries the archive for every study belonging to a
// registry patient, keyed by the patient's MRN.
func (s *ImagingService) GetPatientStudies(ctx context.Context, patientID uuid.UUID) ([]archive.StudyDetails, error) {
	patient, err := s.patientRepo.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return s.archive.QueryPatientStudies(ctx, patient.MRN)
}

// GetOrderStudy returns the archive study bound to an order, if any.
func (s *ImagingService) GetOrderStudy(ctx context.Context, orderID uuid.UUID) (*archive.StudyDetails, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.StudyInstanceUID == "" {
		return nil, fmt.Errorf("%w: order has no uploaded study", archive.ErrStudyNotFound)
	}
	return s.archive.GetStudy(ctx, order.StudyInstanceUID)
}

// GetStudyByAccession finds the archive study correlated with a clinical
// order's accession number.
func (s *ImagingService) GetStudyByAccession(ctx context.Context, accession string) (*archive.StudyDetails, error) {
	return s.archive.QueryByAccession(ctx, accession)
}

// Statistics returns the archive-wide storage counters.
func (s *ImagingService) Statistics(ctx context.Context) (*archive.SystemStatistics, error) {
	return s.archive.Statistics(ctx)
}

// GetUploadLogs returns the upload history for a patient.
func (s *ImagingService) GetUploadLogs(ctx context.Context, patientID uuid.UUID, includeDeleted bool) ([]models.UploadLog, error) {
	return s.logRepo.GetByPatientID(ctx, patientID, includeDeleted)
}

// ListUploadLogs returns upload history across all patients, paginated.
func (s *ImagingService) ListUploadLogs(ctx context.Context, includeDeleted bool, limit, offset int) ([]models.UploadLog, error) {
	return s.logRepo.List(ctx, includeDeleted, limit, offset)
}

// GetUploadLog returns one upload log row.
func (s *ImagingService) GetUploadLog(ctx context.Context, id uuid.UUID) (*models.UploadLog, error) {
	return s.logRepo.GetByID(ctx, id)
}

// DeleteStudy removes a study from the archive and soft deletes its upload
// log. The log row is retained with the reason for auditability.
func (s *ImagingService) DeleteStudy(ctx context.Context, logID uuid.UUID, reason string) error {
	entry, err := s.logRepo.GetByID(ctx, logID)
	if err != nil {
		return err
	}
	if entry.IsDeleted {
		return fmt.Errorf("upload log already deleted")
	}

	if err := s.archive.DeleteStudy(ctx, entry.ArchiveStudyID); err != nil && !errors.Is(err, archive.ErrStudyNotFound) {
		return fmt.Errorf("failed to delete study from archive: %w", err)
	}

	if err := s.logRepo.MarkDeleted(ctx, logID, reason); err != nil {
		return err
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, cache.CacheKey(cache.KindStudyExists, entry.StudyInstanceUID))
		_ = s.cache.Delete(ctx, cache.CacheKey(cache.KindThumbnail, entry.StudyInstanceUID))
	}

	metrics.StudyDeletionsTotal.Inc()
	log.Info().
		Str("study_uid", entry.StudyInstanceUID).
		Str("reason", reason).
		Msg("Study deleted from archive")
	return nil
}

// GetThumbnail returns the rendered preview for a study, cached briefly
// since thumbnails are requested on every worklist render. The study is
// addressed by StudyInstanceUID and resolved to the archive's internal ID.
func (s *ImagingService) GetThumbnail(ctx context.Context, studyUID string) ([]byte, error) {
	key := cache.CacheKey(cache.KindThumbnail, studyUID)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, key); err == nil {
			return data, nil
		}
	}

	study, err := s.archive.GetStudy(ctx, studyUID)
	if err != nil {
		return nil, err
	}
	data, err := s.archive.GetThumbnail(ctx, study.ID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, data, 10*time.Minute); err != nil {
			log.Warn().Err(err).Str("study_uid", studyUID).Msg("Failed to cache thumbnail")
		}
	}
	return data, nil
}

func (s *ImagingService) orderLock(orderID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.orderLocks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		s.orderLocks[orderID] = lock
	}
	return lock
}
