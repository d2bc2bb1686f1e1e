package uploader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/helixcare/imaging-gateway/internal/archive"
	"github.com/helixcare/imaging-gateway/internal/dicomtag"
	"github.com/helixcare/imaging-gateway/internal/models"
)

// fakeArchive stores nothing; it answers uploads from a script keyed by
// payload content. Payloads containing "fail" are rejected.
type fakeArchive struct {
	uploads  int
	studyUID string
}

func (f *fakeArchive) UploadInstance(ctx context.Context, data []byte) (*archive.IngestResult, error) {
	f.uploads++
	if strings.Contains(string(data), "fail") {
		return nil, errors.New("connection reset by archive")
	}
	uid := f.studyUID
	if uid == "" {
		uid = "1.2.3.100"
	}
	return &archive.IngestResult{
		InstanceID:        fmt.Sprintf("inst-%d", f.uploads),
		ArchiveStudyID:    "study-1",
		StudyInstanceUID:  uid,
		SeriesInstanceUID: "1.2.3.200",
		SOPInstanceUID:    fmt.Sprintf("1.2.3.300.%d", f.uploads),
		NumberOfSeries:    1,
		NumberOfInstances: f.uploads,
	}, nil
}

func (f *fakeArchive) GetStudy(ctx context.Context, uid string) (*archive.StudyDetails, error) {
	return nil, archive.ErrStudyNotFound
}

func (f *fakeArchive) QueryPatientStudies(ctx context.Context, mrn string) ([]archive.StudyDetails, error) {
	return nil, nil
}

func (f *fakeArchive) QueryByAccession(ctx context.Context, acc string) (*archive.StudyDetails, error) {
	return nil, archive.ErrStudyNotFound
}

func (f *fakeArchive) DeleteStudy(ctx context.Context, id string) error { return nil }

func (f *fakeArchive) GetThumbnail(ctx context.Context, id string) ([]byte, error) { return nil, nil }

func (f *fakeArchive) Statistics(ctx context.Context) (*archive.SystemStatistics, error) {
	return &archive.SystemStatistics{}, nil
}

func (f *fakeArchive) HealthCheck(ctx context.Context) (*archive.HealthStatus, error) {
	return &archive.HealthStatus{Healthy: true}, nil
}

func matched() models.MatchResult {
	return models.MatchResult{
		MatchType:  models.MatchTypeExact,
		Confidence: 1.0,
		MatchedBy:  []string{models.MatchedByMRN},
		PatientID:  uuid.New(),
	}
}

func testFiles(names ...string) []File {
	files := make([]File, len(names))
	for i, name := range names {
		files[i] = File{Name: name, Data: []byte(name), Match: matched()}
	}
	return files
}

func TestRunAllSuccessful(t *testing.T) {
	arch := &fakeArchive{}
	b := NewBatch(testFiles("a.dcm", "b.dcm", "c.dcm"), arch)

	summary := b.Run(context.Background())

	if summary.Successful != 3 || summary.Failed != 0 {
		t.Fatalf("Summary: got %d/%d, want 3/0", summary.Successful, summary.Failed)
	}
	if len(summary.Studies) != 1 || summary.Studies[0] != "1.2.3.100" {
		t.Errorf("Studies: got %v", summary.Studies)
	}

	snap := b.Snapshot()
	if snap.Status != models.BatchStatusCompleted {
		t.Errorf("Status: got %s", snap.Status)
	}
	if snap.Percent != 100 {
		t.Errorf("Percent: got %d", snap.Percent)
	}
}

func TestRunContinuesPastFailure(t *testing.T) {
	arch := &fakeArchive{}
	b := NewBatch(testFiles("a.dcm", "fail.dcm", "c.dcm"), arch)

	summary := b.Run(context.Background())

	if summary.Successful != 2 || summary.Failed != 1 {
		t.Fatalf("Summary: got %d/%d, want 2/1", summary.Successful, summary.Failed)
	}
	if arch.uploads != 3 {
		t.Errorf("Uploads attempted: got %d, want 3", arch.uploads)
	}
	if len(summary.Errors) != 1 || !strings.HasPrefix(summary.Errors[0], "fail.dcm:") {
		t.Errorf("Errors: got %v", summary.Errors)
	}

	snap := b.Snapshot()
	if snap.Tasks[1].Status != models.TaskStatusError {
		t.Errorf("Task 1 status: got %s", snap.Tasks[1].Status)
	}
	if snap.Tasks[2].Status != models.TaskStatusCompleted {
		t.Errorf("Task 2 status: got %s", snap.Tasks[2].Status)
	}
}

func TestTerminalCountsInvariant(t *testing.T) {
	arch := &fakeArchive{}
	b := NewBatch(testFiles("a.dcm", "fail.dcm", "fail2.dcm", "d.dcm"), arch)
	b.Run(context.Background())

	c := b.Snapshot().Counts
	if c.Completed+c.Failed != c.TotalFiles {
		t.Errorf("Terminal counts %d+%d != total %d", c.Completed, c.Failed, c.TotalFiles)
	}
	if c.Pending != 0 || c.Uploading != 0 {
		t.Errorf("Non-terminal counts must be zero: pending=%d uploading=%d", c.Pending, c.Uploading)
	}
}

func TestProgressIsMonotone(t *testing.T) {
	arch := &fakeArchive{}

	var percents []int
	files := testFiles("a.dcm", "b.dcm", "fail.dcm", "d.dcm", "e.dcm")
	b := NewBatch(files, arch, WithProgressFunc(func(snap models.BatchSnapshot) {
		percents = append(percents, snap.Percent)
	}))
	b.Run(context.Background())

	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("Progress decreased at observation %d: %v", i, percents)
		}
	}
	if percents[len(percents)-1] != 100 {
		t.Errorf("Final progress: got %d", percents[len(percents)-1])
	}
}

func TestCompletedHookObservesEachSuccess(t *testing.T) {
	arch := &fakeArchive{}

	var seen []string
	b := NewBatch(testFiles("a.dcm", "fail.dcm", "c.dcm"), arch,
		WithCompletedFunc(func(ctx context.Context, f File, res *archive.IngestResult) error {
			seen = append(seen, f.Name)
			return nil
		}))
	b.Run(context.Background())

	if len(seen) != 2 || seen[0] != "a.dcm" || seen[1] != "c.dcm" {
		t.Errorf("Hook calls: got %v", seen)
	}
}

func TestHookFailureKeepsTaskCompleted(t *testing.T) {
	arch := &fakeArchive{}
	b := NewBatch(testFiles("a.dcm"), arch,
		WithCompletedFunc(func(ctx context.Context, f File, res *archive.IngestResult) error {
			return errors.New("database unavailable")
		}))
	summary := b.Run(context.Background())

	if summary.Successful != 1 {
		t.Errorf("Successful: got %d, want 1", summary.Successful)
	}
}

func TestCancelStopsAtFileBoundary(t *testing.T) {
	arch := &fakeArchive{}
	ctx, cancel := context.WithCancel(context.Background())

	files := testFiles("a.dcm", "b.dcm", "c.dcm")
	b := NewBatch(files, arch, WithProgressFunc(func(snap models.BatchSnapshot) {
		if snap.Counts.Completed == 1 {
			cancel()
		}
	}))
	b.Run(ctx)

	snap := b.Snapshot()
	if snap.Status != models.BatchStatusCancelled {
		t.Fatalf("Status: got %s, want cancelled", snap.Status)
	}
	if arch.uploads != 1 {
		t.Errorf("Uploads after cancel: got %d, want 1", arch.uploads)
	}
	if snap.Tasks[0].Status != models.TaskStatusCompleted {
		t.Errorf("Task 0 must stay completed, got %s", snap.Tasks[0].Status)
	}
	if snap.Tasks[1].Status != models.TaskStatusPending || snap.Tasks[2].Status != models.TaskStatusPending {
		t.Errorf("Remaining tasks must stay pending: %s, %s", snap.Tasks[1].Status, snap.Tasks[2].Status)
	}
}

func TestImmutableOverrideFailsTaskOnly(t *testing.T) {
	arch := &fakeArchive{}

	files := testFiles("a.dcm", "b.dcm")
	files[0].Overrides = map[string]string{"StudyInstanceUID": "9.9.9"}
	b := NewBatch(files, arch)
	summary := b.Run(context.Background())

	if summary.Failed != 1 || summary.Successful != 1 {
		t.Fatalf("Summary: got %d/%d, want 1 success 1 failure", summary.Successful, summary.Failed)
	}
	snap := b.Snapshot()
	if !strings.Contains(snap.Tasks[0].ErrorMessage, dicomtag.ErrImmutableTag.Error()) {
		t.Errorf("Task 0 error: got %q", snap.Tasks[0].ErrorMessage)
	}
	if arch.uploads != 1 {
		t.Errorf("Uploads: got %d, want 1 (rejected file never transmitted)", arch.uploads)
	}
}

func TestUnresolvedMatchFailsTask(t *testing.T) {
	arch := &fakeArchive{}

	files := testFiles("a.dcm")
	files[0].Match = models.MatchResult{MatchType: models.MatchTypeManual, MatchedBy: []string{}}
	b := NewBatch(files, arch)
	summary := b.Run(context.Background())

	if summary.Failed != 1 {
		t.Fatalf("Failed: got %d, want 1", summary.Failed)
	}
	if arch.uploads != 0 {
		t.Errorf("Uploads: got %d, want 0", arch.uploads)
	}
}

func TestEmptyBatchCompletesImmediately(t *testing.T) {
	b := NewBatch(nil, &fakeArchive{})
	summary := b.Run(context.Background())

	if summary.TotalFiles != 0 || summary.Successful != 0 {
		t.Errorf("Summary: %+v", summary)
	}
	if b.Snapshot().Status != models.BatchStatusCompleted {
		t.Errorf("Status: got %s", b.Snapshot().Status)
	}
}

func TestBatchStoreLifecycle(t *testing.T) {
	store := NewBatchStore()
	defer store.Close()

	b := NewBatch(testFiles("a.dcm"), &fakeArchive{})
	_, cancel := context.WithCancel(context.Background())
	store.Add(b, cancel)

	got, err := store.Get(b.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != b.ID {
		t.Errorf("Got wrong batch: %s", got.ID)
	}

	if err := store.Cancel(b.ID); err != nil {
		t.Errorf("Cancel failed: %v", err)
	}
	if _, err := store.Get(uuid.New()); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("Expected ErrBatchNotFound, got %v", err)
	}
}
