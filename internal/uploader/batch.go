package uploader

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/helixcare/imaging-gateway/internal/archive"
	"github.com/helixcare/imaging-gateway/internal/dicomtag"
	"github.com/helixcare/imaging-gateway/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// File is one validated, matched file queued for upload.
type File struct {
	Name      string
	Data      []byte
	Match     models.MatchResult
	Overrides map[string]string // optional tag overrides applied before transmission
}

// task is one arena record of the batch state machine. State is mutated
// only by the batch's Run loop; snapshots go through the batch lock.
type task struct {
	index            int
	fileName         string
	status           models.TaskStatus
	bytesTotal       int64
	bytesTransferred int64
	errorMessage     string
	studyInstanceUID string
}

// CompletedFunc is invoked after each successful transmission, before the
// next file begins. It receives the file and the archive-resolved result;
// the study registry hangs off this hook.
type CompletedFunc func(ctx context.Context, f File, res *archive.IngestResult) error

// ProgressFunc observes every task state transition.
type ProgressFunc func(models.BatchSnapshot)

// Batch drives a set of files through transmission to the archive,
// strictly sequentially: one binary payload resident at a time, and task
// transitions for file i complete before file i+1 begins.
type Batch struct {
	ID      uuid.UUID
	OrderID *uuid.UUID

	mu     sync.RWMutex
	status models.BatchStatus
	tasks  []*task
	files  []File

	store       archive.Archive
	onCompleted CompletedFunc
	onProgress  ProgressFunc
	logger      zerolog.Logger
}

// Option configures a batch.
type Option func(*Batch)

// WithOrder binds the batch to a clinical order.
func WithOrder(orderID uuid.UUID) Option {
	return func(b *Batch) { b.OrderID = &orderID }
}

// WithCompletedFunc registers the per-success hook.
func WithCompletedFunc(fn CompletedFunc) Option {
	return func(b *Batch) { b.onCompleted = fn }
}

// WithProgressFunc registers the transition observer.
func WithProgressFunc(fn ProgressFunc) Option {
	return func(b *Batch) { b.onProgress = fn }
}

// NewBatch assembles a batch over the given files. Files must already be
// validated and matched; the orchestrator refuses unresolved matches at
// transmission time rather than at assembly.
func NewBatch(files []File, store archive.Archive, opts ...Option) *Batch {
	b := &Batch{
		ID:     uuid.New(),
		status: models.BatchStatusRunning,
		files:  files,
		store:  store,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = log.With().Str("batch_id", b.ID.String()).Logger()

	b.tasks = make([]*task, len(files))
	for i, f := range files {
		b.tasks[i] = &task{
			index:      i,
			fileName:   f.Name,
			status:     models.TaskStatusPending,
			bytesTotal: int64(len(f.Data)),
		}
	}
	return b
}

// Run processes the batch to completion. Per-file failures are recorded
// on the task and never abort the run. Cancellation is cooperative and
// checked only at file boundaries: an in-flight transmission always
// finishes. Returns the final summary.
func (b *Batch) Run(ctx context.Context) models.BatchSummary {
	for i := range b.tasks {
		if ctx.Err() != nil {
			b.logger.Warn().Int("remaining", len(b.tasks)-i).Msg("Batch cancelled at file boundary")
			b.setStatus(models.BatchStatusCancelled)
			return b.Summary()
		}
		b.processFile(ctx, i)
		// Release the payload so only one file stays resident.
		b.files[i].Data = nil
	}

	b.setStatus(models.BatchStatusCompleted)
	summary := b.Summary()
	b.logger.Info().
		Int("total", summary.TotalFiles).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Msg("Batch finished")
	return summary
}

func (b *Batch) processFile(ctx context.Context, i int) {
	f := b.files[i]
	b.transition(i, models.TaskStatusUploading, "", "")

	data := f.Data
	if len(f.Overrides) > 0 {
		modified, err := dicomtag.Modify(data, f.Overrides)
		if err != nil {
			b.logger.Warn().Err(err).Int("index", i).Str("file", f.Name).Msg("Tag override failed")
			b.transition(i, models.TaskStatusError, err.Error(), "")
			return
		}
		data = modified
	}

	if !f.Match.Resolved() {
		b.transition(i, models.TaskStatusError, "no patient resolved for file; manual selection required", "")
		return
	}

	res, err := b.store.UploadInstance(ctx, data)
	if err != nil {
		b.logger.Warn().Err(err).Int("index", i).Str("file", f.Name).Msg("Transmission failed")
		b.transition(i, models.TaskStatusError, err.Error(), "")
		return
	}

	if b.onCompleted != nil {
		if err := b.onCompleted(ctx, f, res); err != nil {
			// The instance is already stored; a bookkeeping failure must
			// not flip the task back to error.
			b.logger.Error().Err(err).Int("index", i).Str("study_uid", res.StudyInstanceUID).
				Msg("Post-upload registration failed")
		}
	}

	b.mu.Lock()
	b.tasks[i].bytesTransferred = b.tasks[i].bytesTotal
	b.mu.Unlock()
	b.transition(i, models.TaskStatusCompleted, "", res.StudyInstanceUID)
}

func (b *Batch) transition(i int, status models.TaskStatus, errMsg, studyUID string) {
	b.mu.Lock()
	t := b.tasks[i]
	t.status = status
	if errMsg != "" {
		t.errorMessage = errMsg
	}
	if studyUID != "" {
		t.studyInstanceUID = studyUID
	}
	b.mu.Unlock()

	b.logger.Debug().Int("index", i).Str("status", string(status)).Msg("Task transition")
	if b.onProgress != nil {
		b.onProgress(b.Snapshot())
	}
}

func (b *Batch) setStatus(status models.BatchStatus) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
	if b.onProgress != nil {
		b.onProgress(b.Snapshot())
	}
}

// Snapshot returns the pollable progress view. Percent counts terminal
// tasks only, so it is monotonically non-decreasing over a run.
func (b *Batch) Snapshot() models.BatchSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := models.BatchSnapshot{
		ID:     b.ID,
		Status: b.status,
		Tasks:  make([]models.TaskSnapshot, len(b.tasks)),
	}
	snap.Counts.TotalFiles = len(b.tasks)

	terminal := 0
	for i, t := range b.tasks {
		snap.Tasks[i] = models.TaskSnapshot{
			Index:            t.index,
			FileName:         t.fileName,
			Status:           t.status,
			BytesTotal:       t.bytesTotal,
			BytesTransferred: t.bytesTransferred,
			ErrorMessage:     t.errorMessage,
			StudyInstanceUID: t.studyInstanceUID,
		}
		switch t.status {
		case models.TaskStatusPending:
			snap.Counts.Pending++
		case models.TaskStatusUploading:
			snap.Counts.Uploading++
		case models.TaskStatusCompleted:
			snap.Counts.Completed++
			terminal++
		case models.TaskStatusError:
			snap.Counts.Failed++
			terminal++
		}
	}
	if len(b.tasks) > 0 {
		snap.Percent = int(math.Round(100 * float64(terminal) / float64(len(b.tasks))))
	}
	return snap
}

// Summary reports the batch outcome with per-file error detail retained.
func (b *Batch) Summary() models.BatchSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()

	summary := models.BatchSummary{TotalFiles: len(b.tasks)}
	seen := make(map[string]bool)
	for _, t := range b.tasks {
		switch t.status {
		case models.TaskStatusCompleted:
			summary.Successful++
			if t.studyInstanceUID != "" && !seen[t.studyInstanceUID] {
				seen[t.studyInstanceUID] = true
				summary.Studies = append(summary.Studies, t.studyInstanceUID)
			}
		case models.TaskStatusError:
			summary.Failed++
			summary.Errors = append(summary.Errors, t.fileName+": "+t.errorMessage)
		}
	}
	return summary
}
