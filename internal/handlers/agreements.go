package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Appello-Prototypes/fedgate/internal/api/middleware"
	"github.com/Appello-Prototypes/fedgate/internal/channel"
	"github.com/Appello-Prototypes/fedgate/internal/models"
)

// CreateAgreementRequest represents the agreement proposal body.
type CreateAgreementRequest struct {
	ResponderSlug string   `json:"responder_slug"`
	AllowedSkills []string `json:"allowed_skills"`
	RateLimit     int      `json:"rate_limit"`
	CostLimitUSD  float64  `json:"cost_limit_usd"`
}

// AgreementResponse represents an agreement in API responses.
type AgreementResponse struct {
	ID            string   `json:"id"`
	InitiatorSlug string   `json:"initiator_slug"`
	ResponderSlug string   `json:"responder_slug"`
	Status        string   `json:"status"`
	AllowedSkills []string `json:"allowed_skills"`
	RateLimit     int      `json:"rate_limit"`
	CostLimitUSD  float64  `json:"cost_limit_usd"`
	CreatedAt     string   `json:"created_at"`
	ActivatedAt   string   `json:"activated_at,omitempty"`
}

func agreementResponse(a *models.Agreement) AgreementResponse {
	resp := AgreementResponse{
		ID:            a.ID.String(),
		InitiatorSlug: a.InitiatorSlug,
		ResponderSlug: a.ResponderSlug,
		Status:        string(a.Status),
		AllowedSkills: a.AllowedSkills,
		RateLimit:     a.RateLimit,
		CostLimitUSD:  a.CostLimitUSD,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
	}
	if a.ActivatedAt != nil {
		resp.ActivatedAt = a.ActivatedAt.Format(time.RFC3339)
	}
	return resp
}

// CreateAgreement handles proposing a new agreement.
func (h *Handler) CreateAgreement(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetOrgFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !isValidSlug(req.ResponderSlug) {
		h.Error(w, http.StatusBadRequest, "invalid responder_slug")
		return
	}
	if len(req.AllowedSkills) == 0 {
		h.Error(w, http.StatusBadRequest, "allowed_skills is required")
		return
	}
	if req.RateLimit < 0 || req.CostLimitUSD < 0 {
		h.Error(w, http.StatusBadRequest, "limits must be non-negative")
		return
	}

	responder, err := h.db.GetOrganizationBySlug(r.Context(), req.ResponderSlug)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if responder == nil {
		h.Error(w, http.StatusNotFound, "responder organization not found")
		return
	}
	if responder.ID == caller.ID {
		h.Error(w, http.StatusUnprocessableEntity, "cannot federate with yourself")
		return
	}

	agreement, err := h.db.CreateAgreement(r.Context(), caller.ID, responder.ID, req.AllowedSkills, req.RateLimit, req.CostLimitUSD)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create agreement")
		return
	}

	h.JSON(w, http.StatusCreated, agreementResponse(agreement))
}

// AgreementListResponse represents the agreement list response.
type AgreementListResponse struct {
	Agreements []AgreementResponse `json:"agreements"`
	Total      int                 `json:"total"`
}

// ListAgreements handles listing the caller's agreements.
func (h *Handler) ListAgreements(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetOrgFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	limit, offset := pagination(r)

	agreements, total, err := h.db.ListAgreementsForOrg(r.Context(), caller.ID, limit, offset)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	out := make([]AgreementResponse, len(agreements))
	for i := range agreements {
		out[i] = agreementResponse(&agreements[i])
	}

	h.JSON(w, http.StatusOK, AgreementListResponse{Agreements: out, Total: total})
}

// getPartyAgreement loads an agreement and verifies the caller is a
// party. Writes the error response and returns nil when not usable.
func (h *Handler) getPartyAgreement(w http.ResponseWriter, r *http.Request) *models.Agreement {
	caller := middleware.GetOrgFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return nil
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid agreement ID format")
		return nil
	}

	agreement, err := h.db.GetAgreement(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil
	}
	if agreement == nil {
		h.Error(w, http.StatusNotFound, "agreement not found")
		return nil
	}
	if !agreement.IsParty(caller.ID) {
		h.Error(w, http.StatusForbidden, "not a party to this agreement")
		return nil
	}
	return agreement
}

// GetAgreement handles agreement detail lookup.
func (h *Handler) GetAgreement(w http.ResponseWriter, r *http.Request) {
	agreement := h.getPartyAgreement(w, r)
	if agreement == nil {
		return
	}
	h.JSON(w, http.StatusOK, agreementResponse(agreement))
}

// AcceptAgreement handles the responder accepting a proposed
// agreement. Acceptance activates the agreement and establishes the
// channel key.
func (h *Handler) AcceptAgreement(w http.ResponseWriter, r *http.Request) {
	agreement := h.getPartyAgreement(w, r)
	if agreement == nil {
		return
	}
	caller := middleware.GetOrgFromContext(r.Context())

	if caller.ID != agreement.ResponderOrgID {
		h.Error(w, http.StatusForbidden, "only the responder can accept")
		return
	}
	if agreement.Status != models.AgreementProposed {
		h.Error(w, http.StatusConflict, "agreement is not in proposed state")
		return
	}

	key, err := channel.NewKey()
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to establish channel")
		return
	}
	if err := h.db.SetChannelKey(r.Context(), agreement.ID, key); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to establish channel")
		return
	}
	h.keys.Invalidate(agreement.ID)

	now := time.Now().UTC()
	if err := h.db.UpdateAgreementStatus(r.Context(), agreement.ID, models.AgreementActive, &now); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to activate agreement")
		return
	}

	agreement.Status = models.AgreementActive
	agreement.ActivatedAt = &now
	h.JSON(w, http.StatusOK, agreementResponse(agreement))
}

// SuspendAgreement pauses an active agreement.
func (h *Handler) SuspendAgreement(w http.ResponseWriter, r *http.Request) {
	agreement := h.getPartyAgreement(w, r)
	if agreement == nil {
		return
	}

	if agreement.Status != models.AgreementActive {
		h.Error(w, http.StatusConflict, "only active agreements can be suspended")
		return
	}

	if err := h.db.UpdateAgreementStatus(r.Context(), agreement.ID, models.AgreementSuspended, nil); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to suspend agreement")
		return
	}

	agreement.Status = models.AgreementSuspended
	h.JSON(w, http.StatusOK, agreementResponse(agreement))
}

// ResumeAgreement reactivates a suspended agreement.
func (h *Handler) ResumeAgreement(w http.ResponseWriter, r *http.Request) {
	agreement := h.getPartyAgreement(w, r)
	if agreement == nil {
		return
	}

	if agreement.Status != models.AgreementSuspended {
		h.Error(w, http.StatusConflict, "only suspended agreements can be resumed")
		return
	}

	if err := h.db.UpdateAgreementStatus(r.Context(), agreement.ID, models.AgreementActive, nil); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to resume agreement")
		return
	}

	agreement.Status = models.AgreementActive
	h.JSON(w, http.StatusOK, agreementResponse(agreement))
}

// RevokeAgreement terminally revokes an agreement and invalidates its
// channel key. The agreement row is retained for audit.
func (h *Handler) RevokeAgreement(w http.ResponseWriter, r *http.Request) {
	agreement := h.getPartyAgreement(w, r)
	if agreement == nil {
		return
	}

	if agreement.Status == models.AgreementRevoked {
		h.Error(w, http.StatusConflict, "agreement already revoked")
		return
	}

	if err := h.db.UpdateAgreementStatus(r.Context(), agreement.ID, models.AgreementRevoked, nil); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to revoke agreement")
		return
	}
	if err := h.db.DeleteChannelKey(r.Context(), agreement.ID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to invalidate channel key")
		return
	}
	h.keys.Invalidate(agreement.ID)

	agreement.Status = models.AgreementRevoked
	h.JSON(w, http.StatusOK, agreementResponse(agreement))
}

// RotateChannelKey replaces the channel key of an active agreement.
// Messages sealed with the previous key become undecryptable; they
// remain listed with decrypted:false.
func (h *Handler) RotateChannelKey(w http.ResponseWriter, r *http.Request) {
	agreement := h.getPartyAgreement(w, r)
	if agreement == nil {
		return
	}

	if agreement.Status != models.AgreementActive {
		h.Error(w, http.StatusConflict, "only active agreements can rotate keys")
		return
	}

	key, err := channel.NewKey()
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to generate key")
		return
	}
	if err := h.db.SetChannelKey(r.Context(), agreement.ID, key); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to rotate key")
		return
	}
	h.keys.Invalidate(agreement.ID)

	h.JSON(w, http.StatusOK, map[string]string{"status": "rotated"})
}
