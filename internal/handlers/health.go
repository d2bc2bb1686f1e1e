package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/helixcare/imaging-gateway/internal/archive"
	"github.com/helixcare/imaging-gateway/internal/database"
)

type HealthHandler struct {
	archive archive.Archive
}

func NewHealthHandler(arch archive.Archive) *HealthHandler {
	return &HealthHandler{archive: arch}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	// Check database
	sqlDB, err := database.DB.DB()
	if err != nil || sqlDB.Ping() != nil {
		response.Services["database"] = "unhealthy"
		response.Status = "degraded"
	} else {
		response.Services["database"] = "healthy"
	}

	// Check archive
	if status, err := h.archive.HealthCheck(r.Context()); err != nil || !status.Healthy {
		response.Services["archive"] = "unhealthy"
		response.Status = "degraded"
	} else {
		response.Services["archive"] = "healthy"
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	// Check if service is ready to accept requests
	sqlDB, err := database.DB.DB()
	if err != nil || sqlDB.Ping() != nil {
		http.Error(w, "Service not ready", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
