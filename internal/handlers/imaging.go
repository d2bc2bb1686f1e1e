package handlers

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/helixcare/imaging-gateway/internal/archive"
	"github.com/helixcare/imaging-gateway/internal/dicomtag"
	"github.com/helixcare/imaging-gateway/internal/middleware"
	"github.com/helixcare/imaging-gateway/internal/services"
	"github.com/helixcare/imaging-gateway/internal/uploader"
	"github.com/rs/zerolog/log"
)

type ImagingHandler struct {
	imagingService *services.ImagingService
	maxFileBytes   int64
	maxBatchFiles  int
}

func NewImagingHandler(imagingService *services.ImagingService, maxFileSizeMB int64, maxBatchFiles int) *ImagingHandler {
	return &ImagingHandler{
		imagingService: imagingService,
		maxFileBytes:   maxFileSizeMB << 20,
		maxBatchFiles:  maxBatchFiles,
	}
}

// readUploadedFile pulls the single "file" part out of a multipart request
func (h *ImagingHandler) readUploadedFile(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if err := r.ParseMultipartForm(h.maxFileBytes); err != nil {
		http.Error(w, "Invalid multipart request", http.StatusBadRequest)
		return nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file part is required", http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()

	if header.Size > h.maxFileBytes {
		http.Error(w, "File exceeds maximum size", http.StatusRequestEntityTooLarge)
		return nil, false
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxFileBytes+1))
	if err != nil {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return nil, false
	}
	if int64(len(data)) > h.maxFileBytes {
		http.Error(w, "File exceeds maximum size", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return data, true
}

// ReadTags extracts and validates the schema fields of a file
func (h *ImagingHandler) ReadTags(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readUploadedFile(w, r)
	if !ok {
		return
	}

	tags, validation, err := h.imagingService.ReadTags(data)
	if err != nil {
		if errors.Is(err, dicomtag.ErrNotDICOM) {
			http.Error(w, "Not a valid DICOM file", http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Failed to read tags")
		http.Error(w, "Failed to read tags", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tags":       tags,
		"validation": validation,
	})
}

// ReadAllTags extracts every textual element of a file
func (h *ImagingHandler) ReadAllTags(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readUploadedFile(w, r)
	if !ok {
		return
	}

	tags, err := h.imagingService.ReadAllTags(data)
	if err != nil {
		if errors.Is(err, dicomtag.ErrNotDICOM) {
			http.Error(w, "Not a valid DICOM file", http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Failed to read tags")
		http.Error(w, "Failed to read tags", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tags)
}

// ValidateFile checks a file against the required field schema
func (h *ImagingHandler) ValidateFile(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readUploadedFile(w, r)
	if !ok {
		return
	}

	_, validation, err := h.imagingService.ReadTags(data)
	if err != nil {
		if errors.Is(err, dicomtag.ErrNotDICOM) {
			http.Error(w, "Not a valid DICOM file", http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Failed to validate file")
		http.Error(w, "Failed to validate file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(validation)
}

// ModifyTags rewrites editable tags and returns the new file
func (h *ImagingHandler) ModifyTags(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readUploadedFile(w, r)
	if !ok {
		return
	}

	overrides := map[string]string{}
	if raw := r.FormValue("overrides"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
			http.Error(w, "overrides must be a JSON object of field names to values", http.StatusBadRequest)
			return
		}
	}

	modified, err := h.imagingService.ModifyTags(data, overrides)
	if err != nil {
		switch {
		case errors.Is(err, dicomtag.ErrImmutableTag):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, dicomtag.ErrNotDICOM):
			http.Error(w, "Not a valid DICOM file", http.StatusBadRequest)
		default:
			log.Error().Err(err).Msg("Failed to modify tags")
			http.Error(w, "Failed to modify tags", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/dicom")
	w.Write(modified)
}

// FileInfo returns the preview summary of a file
func (h *ImagingHandler) FileInfo(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readUploadedFile(w, r)
	if !ok {
		return
	}

	info, err := h.imagingService.FileInfo(data)
	if err != nil {
		if errors.Is(err, dicomtag.ErrNotDICOM) {
			http.Error(w, "Not a valid DICOM file", http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Failed to read file info")
		http.Error(w, "Failed to read file info", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// MatchPreview runs the matching tiers for a file without uploading
func (h *ImagingHandler) MatchPreview(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readUploadedFile(w, r)
	if !ok {
		return
	}

	result, err := h.imagingService.PreviewMatch(r.Context(), data)
	if err != nil {
		if errors.Is(err, dicomtag.ErrNotDICOM) {
			http.Error(w, "Not a valid DICOM file", http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Failed to preview match")
		http.Error(w, "Failed to preview match", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// batchForm holds the non-file fields shared by the upload endpoints.
type batchForm struct {
	orderID       *uuid.UUID
	patientID     *uuid.UUID
	overrides     map[string]string
	fileOverrides map[string]map[string]string
}

// overridesFor merges the batch-wide overrides with the entry for one
// file; per-file values win on conflicting fields.
func (f *batchForm) overridesFor(name string) map[string]string {
	perFile := f.fileOverrides[name]
	if len(perFile) == 0 {
		return f.overrides
	}
	merged := make(map[string]string, len(f.overrides)+len(perFile))
	for k, v := range f.overrides {
		merged[k] = v
	}
	for k, v := range perFile {
		merged[k] = v
	}
	return merged
}

// parseBatchForm reads the order/patient/override form fields. The
// "overrides" field applies to every file; "file_overrides" is keyed by
// file name for batches that need different corrections per file.
func parseBatchForm(w http.ResponseWriter, r *http.Request) (*batchForm, bool) {
	form := &batchForm{}

	if raw := r.FormValue("order_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid order_id", http.StatusBadRequest)
			return nil, false
		}
		form.orderID = &id
	}

	if raw := r.FormValue("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid patient_id", http.StatusBadRequest)
			return nil, false
		}
		form.patientID = &id
	}

	if raw := r.FormValue("overrides"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &form.overrides); err != nil {
			http.Error(w, "overrides must be a JSON object of field names to values", http.StatusBadRequest)
			return nil, false
		}
	}

	if raw := r.FormValue("file_overrides"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &form.fileOverrides); err != nil {
			http.Error(w, "file_overrides must be a JSON object keyed by file name", http.StatusBadRequest)
			return nil, false
		}
	}

	return form, true
}

// startBatch hands the assembled files to the service and writes the 202
// response with the initial batch snapshot.
func (h *ImagingHandler) startBatch(w http.ResponseWriter, r *http.Request, files []services.UploadFile, orderID *uuid.UUID, uploadedBy uuid.UUID) {
	batch, err := h.imagingService.StartBatch(r.Context(), files, orderID, uploadedBy)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrValidationFailed), errors.Is(err, dicomtag.ErrNotDICOM):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, services.ErrManualSelectionRequired):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			log.Error().Err(err).Msg("Failed to start upload batch")
			http.Error(w, "Failed to start upload batch", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(batch.Snapshot())
}

// Upload accepts one or more files and launches a background batch.
// Responds 202 with the initial batch snapshot; progress is polled via
// GetBatch.
func (h *ImagingHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		http.Error(w, "User not found", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(h.maxFileBytes); err != nil {
		http.Error(w, "Invalid multipart request", http.StatusBadRequest)
		return
	}

	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		http.Error(w, "at least one files part is required", http.StatusBadRequest)
		return
	}
	if len(parts) > h.maxBatchFiles {
		http.Error(w, "Too many files in one batch", http.StatusRequestEntityTooLarge)
		return
	}

	form, ok := parseBatchForm(w, r)
	if !ok {
		return
	}

	files := make([]services.UploadFile, 0, len(parts))
	for _, part := range parts {
		if part.Size > h.maxFileBytes {
			http.Error(w, part.Filename+" exceeds maximum size", http.StatusRequestEntityTooLarge)
			return
		}
		f, err := part.Open()
		if err != nil {
			http.Error(w, "Failed to read "+part.Filename, http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			http.Error(w, "Failed to read "+part.Filename, http.StatusBadRequest)
			return
		}
		files = append(files, services.UploadFile{
			Name:      part.Filename,
			Data:      data,
			Overrides: form.overridesFor(part.Filename),
			PatientID: form.patientID,
		})
	}

	h.startBatch(w, r, files, form.orderID, user.UserID)
}

type zipMember struct {
	name string
	data []byte
}

// readZipMembers extracts the regular files of a ZIP archive. Directories
// and hidden entries (macOS resource forks and the like) are skipped;
// member names are flattened to their base name.
func readZipMembers(data []byte, maxMemberBytes int64) ([]zipMember, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("not a valid ZIP archive: %w", err)
	}

	var members []zipMember
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(f.Name)
		if strings.HasPrefix(name, ".") || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		if f.UncompressedSize64 > uint64(maxMemberBytes) {
			return nil, fmt.Errorf("%s exceeds maximum file size", name)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxMemberBytes+1))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if int64(len(content)) > maxMemberBytes {
			return nil, fmt.Errorf("%s exceeds maximum file size", name)
		}
		members = append(members, zipMember{name: name, data: content})
	}

	if len(members) == 0 {
		return nil, fmt.Errorf("ZIP archive contains no files")
	}
	return members, nil
}

// UploadZip accepts a ZIP archive of files and launches a background
// batch over its members. Form fields match Upload.
func (h *ImagingHandler) UploadZip(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		http.Error(w, "User not found", http.StatusUnauthorized)
		return
	}

	data, ok := h.readUploadedFile(w, r)
	if !ok {
		return
	}

	form, ok := parseBatchForm(w, r)
	if !ok {
		return
	}

	members, err := readZipMembers(data, h.maxFileBytes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(members) > h.maxBatchFiles {
		http.Error(w, "Too many files in one batch", http.StatusRequestEntityTooLarge)
		return
	}

	files := make([]services.UploadFile, 0, len(members))
	for _, m := range members {
		files = append(files, services.UploadFile{
			Name:      m.name,
			Data:      m.data,
			Overrides: form.overridesFor(m.name),
			PatientID: form.patientID,
		})
	}

	h.startBatch(w, r, files, form.orderID, user.UserID)
}

// GetBatch returns the pollable progress snapshot of a batch
func (h *ImagingHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid batch ID", http.StatusBadRequest)
		return
	}

	snap, err := h.imagingService.GetBatch(batchID)
	if err != nil {
		if errors.Is(err, uploader.ErrBatchNotFound) {
			http.Error(w, "Batch not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("Failed to get batch")
		http.Error(w, "Failed to get batch", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// CancelBatch requests cooperative cancellation of a running batch
func (h *ImagingHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid batch ID", http.StatusBadRequest)
		return
	}

	if err := h.imagingService.CancelBatch(batchID); err != nil {
		if errors.Is(err, uploader.ErrBatchNotFound) {
			http.Error(w, "Batch not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("Failed to cancel batch")
		http.Error(w, "Failed to cancel batch", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// GetStudy looks a study up by StudyInstanceUID
func (h *ImagingHandler) GetStudy(w http.ResponseWriter, r *http.Request) {
	studyUID := chi.URLParam(r, "studyUID")
	if studyUID == "" {
		http.Error(w, "Study UID is required", http.StatusBadRequest)
		return
	}

	study, err := h.imagingService.GetStudy(r.Context(), studyUID)
	if err != nil {
		if errors.Is(err, archive.ErrStudyNotFound) {
			http.Error(w, "Study not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("study_uid", studyUID).Msg("Failed to get study")
		http.Error(w, "Failed to get study", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(study)
}

// GetPatientStudies lists the archive studies of a registry patient
func (h *ImagingHandler) GetPatientStudies(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid patient ID", http.StatusBadRequest)
		return
	}

	studies, err := h.imagingService.GetPatientStudies(r.Context(), patientID)
	if err != nil {
		log.Error().Err(err).Str("patient_id", patientID.String()).Msg("Failed to get patient studies")
		http.Error(w, "Failed to get patient studies", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(studies)
}

// GetOrderStudy returns the archive study bound to an order
func (h *ImagingHandler) GetOrderStudy(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid order ID", http.StatusBadRequest)
		return
	}

	study, err := h.imagingService.GetOrderStudy(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, archive.ErrStudyNotFound) {
			http.Error(w, "No study uploaded for this order", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("Failed to get order study")
		http.Error(w, "Failed to get order study", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(study)
}

// GetStudyByAccession finds the study carrying an accession number
func (h *ImagingHandler) GetStudyByAccession(w http.ResponseWriter, r *http.Request) {
	accession := chi.URLParam(r, "accession")
	if accession == "" {
		http.Error(w, "Accession number is required", http.StatusBadRequest)
		return
	}

	study, err := h.imagingService.GetStudyByAccession(r.Context(), accession)
	if err != nil {
		if errors.Is(err, archive.ErrStudyNotFound) {
			http.Error(w, "Study not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("accession", accession).Msg("Failed to get study by accession")
		http.Error(w, "Failed to get study by accession", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(study)
}

// GetStatistics returns archive-wide storage counters
func (h *ImagingHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.imagingService.Statistics(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to get archive statistics")
		http.Error(w, "Failed to get archive statistics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// ListUploadLogs lists upload history across all patients, paginated
func (h *ImagingHandler) ListUploadLogs(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "offset must be non-negative", http.StatusBadRequest)
			return
		}
		offset = n
	}

	logs, err := h.imagingService.ListUploadLogs(r.Context(), includeDeleted, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list upload logs")
		http.Error(w, "Failed to list upload logs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}

// GetUploadLog returns one upload log row
func (h *ImagingHandler) GetUploadLog(w http.ResponseWriter, r *http.Request) {
	logID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid upload log ID", http.StatusBadRequest)
		return
	}

	entry, err := h.imagingService.GetUploadLog(r.Context(), logID)
	if err != nil {
		http.Error(w, "Upload log not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// GetUploadLogs lists the upload history of a patient
func (h *ImagingHandler) GetUploadLogs(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid patient ID", http.StatusBadRequest)
		return
	}
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"

	logs, err := h.imagingService.GetUploadLogs(r.Context(), patientID, includeDeleted)
	if err != nil {
		log.Error().Err(err).Str("patient_id", patientID.String()).Msg("Failed to get upload logs")
		http.Error(w, "Failed to get upload logs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}

// DeleteStudy removes a study from the archive and soft deletes its log
func (h *ImagingHandler) DeleteStudy(w http.ResponseWriter, r *http.Request) {
	logID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid upload log ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		http.Error(w, "reason is required", http.StatusBadRequest)
		return
	}

	if err := h.imagingService.DeleteStudy(r.Context(), logID, req.Reason); err != nil {
		log.Error().Err(err).Str("upload_log_id", logID.String()).Msg("Failed to delete study")
		http.Error(w, "Failed to delete study", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetThumbnail returns the rendered study preview
func (h *ImagingHandler) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	studyUID := chi.URLParam(r, "studyUID")
	if studyUID == "" {
		http.Error(w, "Study UID is required", http.StatusBadRequest)
		return
	}

	data, err := h.imagingService.GetThumbnail(r.Context(), studyUID)
	if err != nil {
		if errors.Is(err, archive.ErrStudyNotFound) {
			http.Error(w, "Study not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("study_uid", studyUID).Msg("Failed to get thumbnail")
		http.Error(w, "Failed to get thumbnail", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}
