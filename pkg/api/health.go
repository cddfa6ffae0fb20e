package api

import (
	"encoding/json"
	"net/http"

	"github.com/adfharrison1/go-reql/pkg/domain"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string             `json:"status"`
	Message string             `json:"message"`
	Stats   domain.ServerStats `json:"stats"`
}

// HandleHealth handles GET requests to the health check endpoint
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Message: "go-reql server is running",
		Stats:   h.sessions.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}
