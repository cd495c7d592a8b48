package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Discover returns the public capability card for an exposed agent.
// Only active exposures are discoverable; anything else is a 404 so
// unexposed agents are indistinguishable from nonexistent ones.
func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	orgSlug := chi.URLParam(r, "orgSlug")
	agentSlug := chi.URLParam(r, "agentSlug")

	if !isValidSlug(orgSlug) || !isValidSlug(agentSlug) {
		h.Error(w, http.StatusBadRequest, "invalid slug format")
		return
	}

	org, err := h.db.GetOrganizationBySlug(r.Context(), orgSlug)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if org == nil {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}

	exposure, err := h.db.GetExposure(r.Context(), org.ID, agentSlug)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if exposure == nil || !exposure.Active {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"org_slug":   org.Slug,
		"org_name":   org.Name,
		"agent_slug": exposure.AgentSlug,
		"skills":     exposure.Skills,
		"invoke_url": "/invoke",
	})
}
