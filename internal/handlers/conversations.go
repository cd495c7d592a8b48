package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Appello-Prototypes/fedgate/internal/api/middleware"
)

// ListConversations returns thread summaries for an agreement the
// caller is party to.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	org := middleware.GetOrgFromContext(r.Context())
	if org == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	agreementID, err := uuid.Parse(r.URL.Query().Get("agreement_id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "agreement_id query parameter is required")
		return
	}

	agreement, err := h.db.GetAgreement(r.Context(), agreementID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if agreement == nil {
		h.Error(w, http.StatusNotFound, "agreement not found")
		return
	}
	if !agreement.IsParty(org.ID) {
		h.Error(w, http.StatusForbidden, "not a party to this agreement")
		return
	}

	limit, offset := pagination(r)
	threads, total, err := h.ledger.Threads(r.Context(), agreementID, limit, offset)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"conversations": threads,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

// GetConversation returns the decrypted transcript of a conversation.
// Rows whose channel key is unavailable come back with decrypted set
// to false rather than failing the whole request.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	org := middleware.GetOrgFromContext(r.Context())
	if org == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conversationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	agreementID, err := h.ledger.ConversationAgreement(r.Context(), conversationID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if agreementID == uuid.Nil {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	agreement, err := h.db.GetAgreement(r.Context(), agreementID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if agreement == nil || !agreement.IsParty(org.ID) {
		h.Error(w, http.StatusForbidden, "not a party to this conversation")
		return
	}

	messages, err := h.ledger.Transcript(r.Context(), conversationID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"agreement_id":    agreement.ID,
		"messages":        messages,
	})
}
