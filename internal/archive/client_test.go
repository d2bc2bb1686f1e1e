package archive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fakeArchive(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/instances", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		json.NewEncoder(w).Encode(uploadResponse{
			ID:           "inst-1",
			ParentStudy:  "study-1",
			ParentSeries: "series-1",
			Status:       "Success",
		})
	})
	mux.HandleFunc("/instances/inst-1/simplified-tags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"StudyInstanceUID":  "1.2.3.100",
			"SeriesInstanceUID": "1.2.3.200",
			"SOPInstanceUID":    "1.2.3.300",
		})
	})
	mux.HandleFunc("/studies/study-1/statistics", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(studyStatistics{CountSeries: 2, CountInstances: 7})
	})
	mux.HandleFunc("/tools/find", func(w http.ResponseWriter, r *http.Request) {
		var req findRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if req.Query["StudyInstanceUID"] == "1.2.3.100" || req.Query["PatientID"] == "CLI-2026-00001" {
			study := StudyDetails{ID: "study-1"}
			study.MainTags.StudyInstanceUID = "1.2.3.100"
			study.MainTags.AccessionNumber = "ACC-9"
			json.NewEncoder(w).Encode([]StudyDetails{study})
			return
		}
		json.NewEncoder(w).Encode([]StudyDetails{})
	})
	mux.HandleFunc("/system", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"Version": "1.12.4"})
	})

	return httptest.NewServer(mux)
}

func TestUploadInstanceResolvesIdentity(t *testing.T) {
	srv := fakeArchive(t)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	res, err := c.UploadInstance(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("UploadInstance failed: %v", err)
	}

	if res.StudyInstanceUID != "1.2.3.100" {
		t.Errorf("StudyInstanceUID: got %q", res.StudyInstanceUID)
	}
	if res.SOPInstanceUID != "1.2.3.300" {
		t.Errorf("SOPInstanceUID: got %q", res.SOPInstanceUID)
	}
	if res.ArchiveStudyID != "study-1" {
		t.Errorf("ArchiveStudyID: got %q", res.ArchiveStudyID)
	}
	if res.NumberOfSeries != 2 || res.NumberOfInstances != 7 {
		t.Errorf("Counts: got %d/%d", res.NumberOfSeries, res.NumberOfInstances)
	}
}

func TestGetStudyNotFound(t *testing.T) {
	srv := fakeArchive(t)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.GetStudy(context.Background(), "9.9.9")
	if !errors.Is(err, ErrStudyNotFound) {
		t.Fatalf("Expected ErrStudyNotFound, got %v", err)
	}
}

func TestGetStudyFound(t *testing.T) {
	srv := fakeArchive(t)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	study, err := c.GetStudy(context.Background(), "1.2.3.100")
	if err != nil {
		t.Fatalf("GetStudy failed: %v", err)
	}
	if study.ID != "study-1" {
		t.Errorf("ID: got %q", study.ID)
	}
}

func TestQueryPatientStudies(t *testing.T) {
	srv := fakeArchive(t)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	studies, err := c.QueryPatientStudies(context.Background(), "CLI-2026-00001")
	if err != nil {
		t.Fatalf("QueryPatientStudies failed: %v", err)
	}
	if len(studies) != 1 || studies[0].MainTags.StudyInstanceUID != "1.2.3.100" {
		t.Errorf("Unexpected studies: %+v", studies)
	}
}

func TestQueryByAccessionNotFound(t *testing.T) {
	srv := fakeArchive(t)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.QueryByAccession(context.Background(), "NOPE")
	if !errors.Is(err, ErrStudyNotFound) {
		t.Fatalf("Expected ErrStudyNotFound, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := fakeArchive(t)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	status, err := c.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if !status.Healthy || status.Version != "1.12.4" {
		t.Errorf("Status: %+v", status)
	}
}

func TestHealthCheckUnreachable(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	status, err := c.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck must not error, got %v", err)
	}
	if status.Healthy {
		t.Error("Expected unhealthy status")
	}
}
