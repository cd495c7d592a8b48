package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Appello-Prototypes/fedgate/internal/api/middleware"
	"github.com/Appello-Prototypes/fedgate/internal/crypto"
	"github.com/Appello-Prototypes/fedgate/internal/metrics"
	"github.com/Appello-Prototypes/fedgate/internal/models"
	"github.com/Appello-Prototypes/fedgate/internal/runtime"
)

// errorContentType marks ledger rows that carry a dispatch error note
// instead of agent output.
const errorContentType = "application/vnd.fedgate.error"

// InvokeRequest represents the invocation request body.
type InvokeRequest struct {
	AgreementID     string `json:"agreement_id"`
	TargetOrgSlug   string `json:"target_org_slug,omitempty"` // optional hint, must match the counterpart
	TargetAgentSlug string `json:"target_agent_slug"`
	Skill           string `json:"skill"`
	SourceAgentSlug string `json:"source_agent_slug,omitempty"`
	ConversationID  string `json:"conversation_id,omitempty"`
	Message         string `json:"message"`
	ContentType     string `json:"content_type,omitempty"`
}

// InvokeResponse represents the invocation response.
type InvokeResponse struct {
	Success        bool    `json:"success"`
	Response       string  `json:"response,omitempty"`
	Error          string  `json:"error,omitempty"`
	ConversationID string  `json:"conversation_id,omitempty"`
	PolicyResult   string  `json:"policy_result,omitempty"`
	InputTokens    int     `json:"input_tokens,omitempty"`
	OutputTokens   int     `json:"output_tokens,omitempty"`
	CostUSD        float64 `json:"cost_usd,omitempty"`
	LatencyMS      int64   `json:"latency_ms,omitempty"`
}

// Invoke handles a cross-organization agent invocation. The pipeline
// is: resolve agreement, evaluate policy, dispatch, append ledger
// rows. Every attempt leaves a ledger trace, including blocked ones;
// a runtime failure is a server error, never a policy block.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetOrgFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Message == "" {
		h.Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if len(req.Message) > 32768 {
		h.Error(w, http.StatusUnprocessableEntity, "message too long (max 32768 bytes)")
		return
	}
	if !isValidSlug(req.TargetAgentSlug) {
		h.Error(w, http.StatusBadRequest, "invalid target_agent_slug")
		return
	}
	if req.Skill == "" {
		h.Error(w, http.StatusBadRequest, "skill is required")
		return
	}

	agreementID, err := uuid.Parse(req.AgreementID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid agreement_id format")
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

	targetOrgID := agreement.OtherParty(caller.ID)
	targetSlug := agreement.ResponderSlug
	if targetOrgID == agreement.InitiatorOrgID {
		targetSlug = agreement.InitiatorSlug
	}
	if req.TargetOrgSlug != "" && req.TargetOrgSlug != targetSlug {
		h.Error(w, http.StatusUnprocessableEntity, "target_org_slug does not match the agreement counterpart")
		return
	}

	// Continue an existing thread or start a new one. A continued
	// conversation must belong to the invoked agreement; otherwise a
	// caller could append rows into another tenant pair's thread.
	conversationID := crypto.NewUUIDv7()
	if req.ConversationID != "" {
		conversationID, err = uuid.Parse(req.ConversationID)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid conversation_id format")
			return
		}
		owner, err := h.ledger.ConversationAgreement(r.Context(), conversationID)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
		if owner != uuid.Nil && owner != agreement.ID {
			h.Error(w, http.StatusUnprocessableEntity, "conversation_id belongs to a different agreement")
			return
		}
	}

	decision, err := h.gate.Evaluate(r.Context(), agreement, caller.ID, targetOrgID, req.TargetAgentSlug, req.Skill)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "policy evaluation failed")
		return
	}

	request := models.Message{
		AgreementID:    agreement.ID,
		ConversationID: conversationID,
		Direction:      models.DirectionOutbound,
		SourceOrgSlug:  caller.Slug,
		SourceAgent:    req.SourceAgentSlug,
		TargetOrgSlug:  targetSlug,
		TargetAgent:    req.TargetAgentSlug,
		ContentType:    req.ContentType,
		Body:           req.Message,
	}

	if !decision.Allowed {
		// The denial itself is auditable: one ledger row, no dispatch.
		request.PolicyResult = models.PolicyBlocked
		request.PolicyReason = decision.Reason
		if err := h.ledger.Record(r.Context(), &request); err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to record blocked attempt")
			return
		}

		metrics.Invocations.WithLabelValues("blocked").Inc()
		metrics.PolicyBlocks.WithLabelValues(blockReasonClass(decision.Reason)).Inc()

		h.JSON(w, http.StatusForbidden, InvokeResponse{
			Success:      false,
			Error:        decision.Reason,
			PolicyResult: string(models.PolicyBlocked),
		})
		return
	}

	start := time.Now()
	result, dispatchErr := h.dispatcher.Dispatch(r.Context(), runtime.Request{
		AgentSlug:      req.TargetAgentSlug,
		OrgSlug:        targetSlug,
		Skill:          req.Skill,
		Message:        req.Message,
		ConversationID: conversationID.String(),
	})
	latency := time.Since(start)
	metrics.RuntimeLatency.Observe(latency.Seconds())

	request.PolicyResult = models.PolicyAllowed
	request.LatencyMS = latency.Milliseconds()

	if dispatchErr != nil {
		metrics.Invocations.WithLabelValues("allowed").Inc()
		metrics.DispatchFailures.Inc()

		// Record both directions so the failed attempt is a complete
		// thread entry: the request as sent, the error in place of a
		// reply.
		if err := h.ledger.Record(r.Context(), &request); err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to record invocation")
			return
		}
		failure := models.Message{
			AgreementID:    agreement.ID,
			ConversationID: conversationID,
			Direction:      models.DirectionInbound,
			SourceOrgSlug:  targetSlug,
			SourceAgent:    req.TargetAgentSlug,
			TargetOrgSlug:  caller.Slug,
			TargetAgent:    req.SourceAgentSlug,
			ContentType:    errorContentType,
			Body:           dispatchErr.Error(),
			LatencyMS:      latency.Milliseconds(),
			PolicyResult:   models.PolicyAllowed,
		}
		if err := h.ledger.Record(r.Context(), &failure); err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to record invocation")
			return
		}

		h.JSON(w, http.StatusInternalServerError, InvokeResponse{
			Success:        false,
			Error:          dispatchErr.Error(),
			ConversationID: conversationID.String(),
		})
		return
	}

	inputCost := float64(result.Usage.InputTokens) * h.cfg.CostPerInputToken
	outputCost := float64(result.Usage.OutputTokens) * h.cfg.CostPerOutputToken

	request.InputTokens = result.Usage.InputTokens
	request.CostUSD = inputCost
	request.RunID = result.RunID
	if err := h.ledger.Record(r.Context(), &request); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to record invocation")
		return
	}

	response := models.Message{
		AgreementID:    agreement.ID,
		ConversationID: conversationID,
		Direction:      models.DirectionInbound,
		SourceOrgSlug:  targetSlug,
		SourceAgent:    req.TargetAgentSlug,
		TargetOrgSlug:  caller.Slug,
		TargetAgent:    req.SourceAgentSlug,
		ContentType:    req.ContentType,
		Body:           result.Text,
		LatencyMS:      latency.Milliseconds(),
		OutputTokens:   result.Usage.OutputTokens,
		CostUSD:        outputCost,
		PolicyResult:   models.PolicyAllowed,
		RunID:          result.RunID,
	}
	if err := h.ledger.Record(r.Context(), &response); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to record invocation")
		return
	}

	// Best effort: the cost window feeds the policy gate's next
	// decision, it is not an accounting system of record.
	_ = h.redis.AddWindowCost(r.Context(), agreement.ID, h.cfg.CostWindow, inputCost+outputCost)

	metrics.Invocations.WithLabelValues("allowed").Inc()
	metrics.TokensProcessed.WithLabelValues("input").Add(float64(result.Usage.InputTokens))
	metrics.TokensProcessed.WithLabelValues("output").Add(float64(result.Usage.OutputTokens))
	metrics.InvocationCostUSD.Add(inputCost + outputCost)

	h.JSON(w, http.StatusOK, InvokeResponse{
		Success:        true,
		Response:       result.Text,
		ConversationID: conversationID.String(),
		PolicyResult:   string(models.PolicyAllowed),
		InputTokens:    result.Usage.InputTokens,
		OutputTokens:   result.Usage.OutputTokens,
		CostUSD:        inputCost + outputCost,
		LatencyMS:      latency.Milliseconds(),
	})
}

// blockReasonClass folds free-form block reasons into a bounded label
// set for metrics.
func blockReasonClass(reason string) string {
	switch {
	case strings.Contains(reason, "rate limit"):
		return "rate_limit"
	case strings.Contains(reason, "cost limit"):
		return "cost_limit"
	case strings.Contains(reason, "not active"):
		return "agreement_inactive"
	case strings.Contains(reason, "scope"):
		return "scope"
	case strings.Contains(reason, "exposed"):
		return "exposure"
	case strings.Contains(reason, "party"), strings.Contains(reason, "counterpart"):
		return "party"
	default:
		return "other"
	}
}
