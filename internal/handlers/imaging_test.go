package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/helixcare/imaging-gateway/internal/archive"
	"github.com/helixcare/imaging-gateway/internal/repository"
	"github.com/helixcare/imaging-gateway/internal/services"
	"github.com/helixcare/imaging-gateway/internal/uploader"
)

// fakeArchive answers accession and statistics queries from fixed data.
type fakeArchive struct{}

func (f *fakeArchive) UploadInstance(ctx context.Context, data []byte) (*archive.IngestResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeArchive) GetStudy(ctx context.Context, uid string) (*archive.StudyDetails, error) {
	return nil, archive.ErrStudyNotFound
}

func (f *fakeArchive) QueryPatientStudies(ctx context.Context, mrn string) ([]archive.StudyDetails, error) {
	return nil, nil
}

func (f *fakeArchive) QueryByAccession(ctx context.Context, acc string) (*archive.StudyDetails, error) {
	if acc != "ACC-9" {
		return nil, archive.ErrStudyNotFound
	}
	study := &archive.StudyDetails{ID: "study-1"}
	study.MainTags.AccessionNumber = acc
	study.MainTags.StudyInstanceUID = "1.2.3.100"
	return study, nil
}

func (f *fakeArchive) DeleteStudy(ctx context.Context, id string) error { return nil }

func (f *fakeArchive) GetThumbnail(ctx context.Context, id string) ([]byte, error) { return nil, nil }

func (f *fakeArchive) Statistics(ctx context.Context) (*archive.SystemStatistics, error) {
	return &archive.SystemStatistics{
		TotalDiskSize:  1 << 30,
		CountPatients:  12,
		CountStudies:   34,
		CountSeries:    56,
		CountInstances: 789,
	}, nil
}

func (f *fakeArchive) HealthCheck(ctx context.Context) (*archive.HealthStatus, error) {
	return &archive.HealthStatus{Healthy: true}, nil
}

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()

	store := uploader.NewBatchStore()
	t.Cleanup(func() { store.Close() })

	svc := services.NewImagingService(
		repository.NewPatientRepository(),
		repository.NewOrderRepository(),
		repository.NewUploadLogRepository(),
		repository.NewStudyInstanceRepository(),
		&fakeArchive{},
		store,
		nil,
	)
	h := NewImagingHandler(svc, 500, 1000)

	r := chi.NewRouter()
	r.Get("/imaging/statistics", h.GetStatistics)
	r.Get("/studies/{studyUID}", h.GetStudy)
	r.Get("/studies/accession/{accession}", h.GetStudyByAccession)
	return r
}

func TestGetStatistics(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/imaging/statistics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var stats archive.SystemStatistics
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if stats.CountStudies != 34 || stats.CountInstances != 789 {
		t.Errorf("Statistics: %+v", stats)
	}
}

func TestGetStudyByAccession(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/studies/accession/ACC-9", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var study archive.StudyDetails
	if err := json.Unmarshal(rec.Body.Bytes(), &study); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if study.ID != "study-1" || study.MainTags.StudyInstanceUID != "1.2.3.100" {
		t.Errorf("Study: %+v", study)
	}
}

func TestGetStudyByAccessionNotFound(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/studies/accession/NOPE", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Status: got %d", rec.Code)
	}
}

func buildZip(t *testing.T, entries map[string][]byte, dirs ...string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, dir := range dirs {
		if _, err := zw.Create(dir); err != nil {
			t.Fatalf("Failed to create dir entry: %v", err)
		}
	}
	for name, data := range entries {
		f, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Failed to create entry: %v", err)
		}
		if _, err := f.Write(data); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func TestReadZipMembers(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"a.dcm":     []byte("first"),
		"sub/b.dcm": []byte("second"),
	}, "sub/")

	members, err := readZipMembers(data, 1<<20)
	if err != nil {
		t.Fatalf("readZipMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Members: got %d, want 2", len(members))
	}

	got := make(map[string]string, len(members))
	for _, m := range members {
		got[m.name] = string(m.data)
	}
	if got["a.dcm"] != "first" || got["b.dcm"] != "second" {
		t.Errorf("Members: %v", got)
	}
}

func TestReadZipMembersSkipsHiddenEntries(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"a.dcm":            []byte("first"),
		".DS_Store":        []byte("junk"),
		"__MACOSX/._a.dcm": []byte("fork"),
		"sub/.hidden":      []byte("junk"),
	})

	members, err := readZipMembers(data, 1<<20)
	if err != nil {
		t.Fatalf("readZipMembers failed: %v", err)
	}
	if len(members) != 1 || members[0].name != "a.dcm" {
		t.Errorf("Members: %+v", members)
	}
}

func TestReadZipMembersRejectsGarbage(t *testing.T) {
	if _, err := readZipMembers([]byte("not a zip"), 1<<20); err == nil {
		t.Fatal("Expected error for non-ZIP payload")
	}
}

func TestReadZipMembersRejectsEmptyArchive(t *testing.T) {
	data := buildZip(t, nil, "only-a-dir/")
	if _, err := readZipMembers(data, 1<<20); err == nil {
		t.Fatal("Expected error for archive with no files")
	}
}

func TestOverridesForMergesPerFile(t *testing.T) {
	form := &batchForm{
		overrides: map[string]string{"StudyDescription": "CHEST PA", "Modality": "CR"},
		fileOverrides: map[string]map[string]string{
			"b.dcm": {"Modality": "DX", "AccessionNumber": "ACC-1"},
		},
	}

	a := form.overridesFor("a.dcm")
	if a["StudyDescription"] != "CHEST PA" || a["Modality"] != "CR" {
		t.Errorf("a.dcm overrides: %v", a)
	}

	b := form.overridesFor("b.dcm")
	if b["Modality"] != "DX" {
		t.Errorf("Per-file value must win: %v", b)
	}
	if b["StudyDescription"] != "CHEST PA" || b["AccessionNumber"] != "ACC-1" {
		t.Errorf("b.dcm overrides: %v", b)
	}

	// Merging must not leak per-file values into the shared map.
	if form.overrides["AccessionNumber"] != "" {
		t.Errorf("Shared overrides mutated: %v", form.overrides)
	}
}

func TestOverridesForWithoutPerFileEntry(t *testing.T) {
	form := &batchForm{overrides: map[string]string{"Modality": "CR"}}
	if got := form.overridesFor("a.dcm"); got["Modality"] != "CR" {
		t.Errorf("Overrides: %v", got)
	}

	empty := &batchForm{}
	if got := empty.overridesFor("a.dcm"); len(got) != 0 {
		t.Errorf("Expected no overrides, got %v", got)
	}
}
