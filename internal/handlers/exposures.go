package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Appello-Prototypes/fedgate/internal/api/middleware"
	"github.com/Appello-Prototypes/fedgate/internal/models"
)

// CreateExposureRequest represents the exposure opt-in body.
type CreateExposureRequest struct {
	AgentSlug string   `json:"agent_slug"`
	Skills    []string `json:"skills"`
}

// ExposureResponse represents an exposure in API responses.
type ExposureResponse struct {
	ID        string   `json:"id"`
	AgentSlug string   `json:"agent_slug"`
	Skills    []string `json:"skills"`
	Active    bool     `json:"active"`
	CreatedAt string   `json:"created_at"`
}

func exposureResponse(e *models.Exposure) ExposureResponse {
	return ExposureResponse{
		ID:        e.ID.String(),
		AgentSlug: e.AgentSlug,
		Skills:    e.Skills,
		Active:    e.Active,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

// CreateExposure handles exposing an agent for federation. Re-posting
// an existing exposure updates its skill list and re-enables it.
func (h *Handler) CreateExposure(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetOrgFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateExposureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !isValidSlug(req.AgentSlug) {
		h.Error(w, http.StatusBadRequest, "invalid agent_slug")
		return
	}
	if len(req.Skills) == 0 {
		h.Error(w, http.StatusBadRequest, "skills is required")
		return
	}

	exposure, err := h.db.CreateExposure(r.Context(), caller.ID, req.AgentSlug, req.Skills)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create exposure")
		return
	}

	h.JSON(w, http.StatusCreated, exposureResponse(exposure))
}

// DisableExposure handles withdrawing an agent from federation. The
// exposure row is retained; discovery and policy treat it as absent.
func (h *Handler) DisableExposure(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetOrgFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid exposure ID format")
		return
	}

	exposure, err := h.db.GetExposureByID(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if exposure == nil {
		h.Error(w, http.StatusNotFound, "exposure not found")
		return
	}
	if exposure.OrgID != caller.ID {
		h.Error(w, http.StatusForbidden, "exposure belongs to another organization")
		return
	}

	if err := h.db.DisableExposure(r.Context(), id); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to disable exposure")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}
