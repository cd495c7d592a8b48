package models

import (
	"time"

	"github.com/google/uuid"
)

// AgreementStatus is the lifecycle state of a federation agreement.
type AgreementStatus string

const (
	AgreementProposed  AgreementStatus = "proposed"
	AgreementActive    AgreementStatus = "active"
	AgreementSuspended AgreementStatus = "suspended"
	AgreementRevoked   AgreementStatus = "revoked"
)

// Agreement is a bilateral trust record between two organizations.
// Only an active agreement is usable for invocation. Agreements are
// never deleted; revocation is terminal and the row is retained for
// audit.
type Agreement struct {
	ID             uuid.UUID       `json:"id"`
	InitiatorOrgID uuid.UUID       `json:"initiator_org_id"`
	ResponderOrgID uuid.UUID       `json:"responder_org_id"`
	InitiatorSlug  string          `json:"initiator_slug"`
	ResponderSlug  string          `json:"responder_slug"`
	Status         AgreementStatus `json:"status"`
	AllowedSkills  []string        `json:"allowed_skills"`

	// RateLimit is the maximum number of invocation attempts per
	// rate window; zero means unlimited.
	RateLimit int `json:"rate_limit"`

	// CostLimitUSD caps the summed invocation cost per cost window;
	// zero means unlimited.
	CostLimitUSD float64 `json:"cost_limit_usd"`

	CreatedAt   time.Time  `json:"created_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// IsParty reports whether the given organization is one of the two
// parties of the agreement.
func (a *Agreement) IsParty(orgID uuid.UUID) bool {
	return a.InitiatorOrgID == orgID || a.ResponderOrgID == orgID
}

// OtherParty returns the counterpart organization ID for a party, or
// uuid.Nil when orgID is not a party.
func (a *Agreement) OtherParty(orgID uuid.UUID) uuid.UUID {
	switch orgID {
	case a.InitiatorOrgID:
		return a.ResponderOrgID
	case a.ResponderOrgID:
		return a.InitiatorOrgID
	}
	return uuid.Nil
}

// SkillAllowed reports whether a skill is within the agreement scope.
// An empty scope allows nothing.
func (a *Agreement) SkillAllowed(skill string) bool {
	for _, s := range a.AllowedSkills {
		if s == skill {
			return true
		}
	}
	return false
}
