package models

import (
	"time"

	"github.com/google/uuid"
)

// Exposure is an agent's explicit opt-in to be invocable via
// federation, with the skill list it exposes. Disabling an exposure
// is a soft state change; the row is kept.
type Exposure struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"org_id"`
	AgentSlug string    `json:"agent_slug"`
	Skills    []string  `json:"skills"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Exposes reports whether the exposure is active and includes the
// given skill.
func (e *Exposure) Exposes(skill string) bool {
	if !e.Active {
		return false
	}
	for _, s := range e.Skills {
		if s == skill {
			return true
		}
	}
	return false
}
