package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Appello-Prototypes/fedgate/internal/crypto"
	"github.com/Appello-Prototypes/fedgate/internal/metrics"
)

// RegisterOrgRequest represents the organization registration request body.
type RegisterOrgRequest struct {
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

// RegisterOrgResponse represents the registration response.
type RegisterOrgResponse struct {
	ID         string `json:"id"`
	Slug       string `json:"slug"`
	ProfileURL string `json:"profile_url"`
}

// RegisterOrg handles organization registration.
func (h *Handler) RegisterOrg(w http.ResponseWriter, r *http.Request) {
	var req RegisterOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.PublicKey == "" {
		h.Error(w, http.StatusBadRequest, "public_key is required")
		return
	}
	if _, err := crypto.ValidatePublicKey(req.PublicKey); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid public_key: must be base64-encoded Ed25519 public key (32 bytes)")
		return
	}

	if !isValidSlug(req.Slug) {
		h.Error(w, http.StatusBadRequest, "invalid slug: lowercase letters, digits and hyphens, 3-64 characters")
		return
	}
	name := sanitizeName(req.Name)

	// Check if public key already registered
	existing, err := h.db.GetOrganizationByPublicKey(r.Context(), req.PublicKey)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	if existing != nil {
		// Return existing organization (idempotent registration)
		h.JSON(w, http.StatusOK, RegisterOrgResponse{
			ID:         existing.ID.String(),
			Slug:       existing.Slug,
			ProfileURL: fmt.Sprintf("/orgs/%s", existing.Slug),
		})
		return
	}

	// Slug must be free
	taken, err := h.db.GetOrganizationBySlug(r.Context(), req.Slug)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if taken != nil {
		h.Error(w, http.StatusConflict, "slug already in use")
		return
	}

	org, err := h.db.CreateOrganization(r.Context(), req.Slug, name, req.PublicKey)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create organization")
		return
	}

	metrics.OrganizationsRegistered.Inc()

	h.JSON(w, http.StatusCreated, RegisterOrgResponse{
		ID:         org.ID.String(),
		Slug:       org.Slug,
		ProfileURL: fmt.Sprintf("/orgs/%s", org.Slug),
	})
}

// OrgResponse represents the organization profile response.
type OrgResponse struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name,omitempty"`
	PublicKey string `json:"public_key"`
	JoinedAt  string `json:"joined_at"`
}

// GetOrg handles organization profile lookup.
func (h *Handler) GetOrg(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if !isValidSlug(slug) {
		h.Error(w, http.StatusBadRequest, "invalid organization slug")
		return
	}

	org, err := h.db.GetOrganizationBySlug(r.Context(), slug)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if org == nil {
		h.Error(w, http.StatusNotFound, "organization not found")
		return
	}

	h.JSON(w, http.StatusOK, OrgResponse{
		ID:        org.ID.String(),
		Slug:      org.Slug,
		Name:      org.Name,
		PublicKey: org.PublicKey,
		JoinedAt:  org.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}
