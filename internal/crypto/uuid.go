package crypto

import (
	"github.com/google/uuid"
)

// NewUUIDv7 generates a time-ordered UUID v7. Organizations,
// agreements, exposures and conversations all use v7 IDs so that
// index order follows creation order.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
