package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization represents a registered tenant that can participate in
// federation as either side of an agreement.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name,omitempty"`
	PublicKey string    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
