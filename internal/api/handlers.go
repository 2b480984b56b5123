// Package api exposes the orchestrator over HTTP, the surface the
// external queue consumer (out of scope for the core) calls per lead.
// Grounded on the auction service's internal/api handler.go (Handlers
// struct wrapping the engine, respondJSON/respondError helpers).
package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/rivalapex/leadauction/internal/domain"
	"github.com/rivalapex/leadauction/internal/orchestrator"
)

// Handlers wraps the Orchestrator for HTTP delivery.
type Handlers struct {
	orch *orchestrator.Orchestrator
}

// NewHandlers builds the HTTP handler set.
func NewHandlers(orch *orchestrator.Orchestrator) *Handlers {
	return &Handlers{orch: orch}
}

// HealthCheck reports liveness only; readiness (Redis connectivity) is
// served separately by the worker's own /health route.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "leadauction"})
}

// RunAuction decodes a Lead, runs the full auction/delivery pipeline,
// and returns the terminal AuctionResult. Route: POST /v1/auction.
func (h *Handlers) RunAuction(w http.ResponseWriter, r *http.Request) {
	var lead domain.Lead
	if err := json.NewDecoder(r.Body).Decode(&lead); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if lead.ServiceTypeID == "" || lead.ZipCode == "" {
		respondError(w, http.StatusBadRequest, "missing required fields: service_type_id, zip_code")
		return
	}
	if lead.LeadID == "" {
		// the queue consumer normally assigns leadId upstream; generate one
		// so a direct API caller never collides with an existing record.
		lead.LeadID = uuid.NewString()
	}

	result := h.orch.RunAuction(r.Context(), lead)
	log.WithFields(log.Fields{"lead_id": lead.LeadID, "status": result.Status}).Info("api: auction completed")
	respondJSON(w, http.StatusOK, result)
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}
