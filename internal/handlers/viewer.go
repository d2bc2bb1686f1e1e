package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/helixcare/imaging-gateway/internal/archive"
	"github.com/helixcare/imaging-gateway/internal/repository"
	"github.com/helixcare/imaging-gateway/internal/viewer"
	"github.com/rs/zerolog/log"
)

type ViewerHandler struct {
	resolver    *viewer.Resolver
	patientRepo *repository.PatientRepository
	orderRepo   *repository.OrderRepository
}

func NewViewerHandler(resolver *viewer.Resolver, patientRepo *repository.PatientRepository, orderRepo *repository.OrderRepository) *ViewerHandler {
	return &ViewerHandler{
		resolver:    resolver,
		patientRepo: patientRepo,
		orderRepo:   orderRepo,
	}
}

type viewerLinkResponse struct {
	URL string `json:"url"`
}

// GetStudyLink returns the viewer URL for one study
func (h *ViewerHandler) GetStudyLink(w http.ResponseWriter, r *http.Request) {
	studyUID := chi.URLParam(r, "studyUID")
	if studyUID == "" {
		http.Error(w, "Study UID is required", http.StatusBadRequest)
		return
	}

	link, err := h.resolver.StudyLink(r.Context(), studyUID)
	if err != nil {
		if errors.Is(err, archive.ErrStudyNotFound) {
			http.Error(w, "Study not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("study_uid", studyUID).Msg("Failed to resolve viewer link")
		http.Error(w, "Failed to resolve viewer link", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(viewerLinkResponse{URL: link})
}

// GetComparisonLink returns a viewer URL opening multiple studies side by
// side. Study UIDs come comma-separated in the uids query parameter.
func (h *ViewerHandler) GetComparisonLink(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("uids")
	if raw == "" {
		http.Error(w, "uids query parameter is required", http.StatusBadRequest)
		return
	}

	var uids []string
	for _, uid := range strings.Split(raw, ",") {
		if uid = strings.TrimSpace(uid); uid != "" {
			uids = append(uids, uid)
		}
	}

	link, err := h.resolver.ComparisonLink(r.Context(), uids)
	if err != nil {
		switch {
		case errors.Is(err, viewer.ErrComparisonNeedsTwo):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, archive.ErrStudyNotFound):
			http.Error(w, "One or more studies not found", http.StatusNotFound)
		default:
			log.Error().Err(err).Msg("Failed to resolve comparison link")
			http.Error(w, "Failed to resolve comparison link", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(viewerLinkResponse{URL: link})
}

// GetPatientLink returns a viewer URL opening all studies of a patient
func (h *ViewerHandler) GetPatientLink(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid patient ID", http.StatusBadRequest)
		return
	}

	patient, err := h.patientRepo.GetByID(r.Context(), patientID)
	if err != nil {
		http.Error(w, "Patient not found", http.StatusNotFound)
		return
	}

	link, err := h.resolver.PatientLink(r.Context(), patient.MRN)
	if err != nil {
		if errors.Is(err, archive.ErrStudyNotFound) {
			http.Error(w, "No studies found for patient", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("patient_id", patientID.String()).Msg("Failed to resolve patient viewer link")
		http.Error(w, "Failed to resolve patient viewer link", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(viewerLinkResponse{URL: link})
}

// GetOrderLink returns the viewer URL for the study bound to an order
func (h *ViewerHandler) GetOrderLink(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid order ID", http.StatusBadRequest)
		return
	}

	order, err := h.orderRepo.GetByID(r.Context(), orderID)
	if err != nil {
		http.Error(w, "Order not found", http.StatusNotFound)
		return
	}
	if order.StudyInstanceUID == "" {
		http.Error(w, "No study uploaded for this order", http.StatusNotFound)
		return
	}

	link, err := h.resolver.StudyLink(r.Context(), order.StudyInstanceUID)
	if err != nil {
		if errors.Is(err, archive.ErrStudyNotFound) {
			http.Error(w, "Study not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("Failed to resolve order viewer link")
		http.Error(w, "Failed to resolve order viewer link", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(viewerLinkResponse{URL: link})
}
