package channel

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// KeyStore is the persistence surface the resolver needs. Returns
// (nil, nil) when no channel has been established for the agreement.
type KeyStore interface {
	GetChannelKey(ctx context.Context, agreementID uuid.UUID) ([]byte, error)
}

// Resolver looks up channel keys by agreement and caches them for the
// life of the process. Rotation and revocation must call Invalidate;
// the stale entry would otherwise keep decrypting old envelopes and
// sealing new ones with a dead key.
type Resolver struct {
	store KeyStore

	mu    sync.RWMutex
	cache map[uuid.UUID][]byte
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(store KeyStore) *Resolver {
	return &Resolver{
		store: store,
		cache: make(map[uuid.UUID][]byte),
	}
}

// Resolve returns the channel key for an agreement, or (nil, nil)
// when no channel exists. Lookups are idempotent and cached.
func (r *Resolver) Resolve(ctx context.Context, agreementID uuid.UUID) ([]byte, error) {
	r.mu.RLock()
	key, ok := r.cache[agreementID]
	r.mu.RUnlock()
	if ok {
		return key, nil
	}

	key, err := r.store.GetChannelKey(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		// Negative results are not cached: the channel may be
		// established moments later on acceptance.
		return nil, nil
	}

	r.mu.Lock()
	r.cache[agreementID] = key
	r.mu.Unlock()

	return key, nil
}

// Invalidate drops the cached key for an agreement.
func (r *Resolver) Invalidate(agreementID uuid.UUID) {
	r.mu.Lock()
	delete(r.cache, agreementID)
	r.mu.Unlock()
}
