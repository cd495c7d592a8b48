package models

import (
	"time"

	"github.com/google/uuid"
)

// Direction of a ledger message relative to the calling organization.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// PolicyResult is the recorded outcome of the policy gate for an
// invocation attempt.
type PolicyResult string

const (
	PolicyAllowed PolicyResult = "allowed"
	PolicyBlocked PolicyResult = "blocked"
)

// Message is one row of the append-only federation ledger. Body holds
// the encrypted envelope; it is opaque outside the agreement's
// channel key. Rows are never updated after insertion.
type Message struct {
	ID             string       `json:"id"` // ULID
	AgreementID    uuid.UUID    `json:"agreement_id"`
	ConversationID uuid.UUID    `json:"conversation_id"`
	Direction      Direction    `json:"direction"`
	SourceOrgSlug  string       `json:"source_org"`
	SourceAgent    string       `json:"source_agent,omitempty"`
	TargetOrgSlug  string       `json:"target_org"`
	TargetAgent    string       `json:"target_agent"`
	ContentType    string       `json:"content_type"`
	Body           string       `json:"-"` // envelope, never serialized raw
	LatencyMS      int64        `json:"latency_ms"`
	InputTokens    int          `json:"input_tokens"`
	OutputTokens   int          `json:"output_tokens"`
	CostUSD        float64      `json:"cost_usd"`
	PolicyResult   PolicyResult `json:"policy_result"`
	PolicyReason   string       `json:"policy_reason,omitempty"`
	RunID          string       `json:"run_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ThreadSummary is a per-conversation aggregate over ledger rows.
// Computed with GROUP BY, never from decrypted content.
type ThreadSummary struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	AgreementID    uuid.UUID `json:"agreement_id"`
	MessageCount   int64     `json:"message_count"`
	FirstMessageAt time.Time `json:"first_message_at"`
	LastMessageAt  time.Time `json:"last_message_at"`
	TotalCostUSD   float64   `json:"total_cost_usd"`
}
