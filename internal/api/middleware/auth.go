package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Appello-Prototypes/fedgate/internal/crypto"
	"github.com/Appello-Prototypes/fedgate/internal/models"
	"github.com/Appello-Prototypes/fedgate/internal/store"
)

type contextKey string

const OrgContextKey contextKey = "organization"

// AuthMiddleware verifies organization signatures on authenticated
// endpoints. The caller proves control of the org's Ed25519 key by
// signing sha256(body)|nonce|timestamp; nonces are single-use within
// the replay window.
type AuthMiddleware struct {
	db     store.DataStore
	redis  *store.RedisStore
	window time.Duration
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(db store.DataStore, redis *store.RedisStore) *AuthMiddleware {
	return &AuthMiddleware{
		db:     db,
		redis:  redis,
		window: 30 * time.Second, // Tight window to minimize replay attack surface
	}
}

// RequireAuth middleware verifies Ed25519 signatures on requests.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Extract headers
		orgID := r.Header.Get("X-Fed-Org")
		nonce := r.Header.Get("X-Fed-Nonce")
		timestamp := r.Header.Get("X-Fed-Timestamp")
		signature := r.Header.Get("X-Fed-Signature")

		// Validate all headers present
		if orgID == "" || nonce == "" || timestamp == "" || signature == "" {
			jsonError(w, http.StatusUnauthorized, "missing auth headers")
			return
		}

		// Parse and validate timestamp
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid timestamp format")
			return
		}
		if !m.isTimestampValid(ts) {
			jsonError(w, http.StatusUnauthorized, "timestamp expired or too far in future")
			return
		}

		// Validate nonce format (min 24 chars for adequate entropy)
		if len(nonce) < 24 {
			jsonError(w, http.StatusUnauthorized, "nonce must be at least 24 characters")
			return
		}

		// Check nonce not reused
		if m.redis.IsNonceUsed(r.Context(), orgID, nonce) {
			jsonError(w, http.StatusUnauthorized, "nonce already used")
			return
		}

		// Parse org UUID
		orgUUID, err := uuid.Parse(orgID)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid organization ID format")
			return
		}

		// Get the organization's public key
		org, err := m.db.GetOrganizationByID(r.Context(), orgUUID)
		if err != nil || org == nil {
			jsonError(w, http.StatusUnauthorized, "organization not found")
			return
		}

		// Read body and compute hash
		body, err := io.ReadAll(r.Body)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body)) // Reset for handler

		bodyHash := sha256Hex(body)

		// Verify signature
		signedData := crypto.SignaturePayload(bodyHash, nonce, ts)
		pubkey, err := crypto.ValidatePublicKey(org.PublicKey)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid organization public key")
			return
		}

		if err := crypto.VerifySignature(pubkey, signedData, signature); err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		// Mark nonce as used
		m.redis.MarkNonceUsed(r.Context(), orgID, nonce, 3*time.Minute)

		// Add organization to context
		ctx := context.WithValue(r.Context(), OrgContextKey, org)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) isTimestampValid(ts int64) bool {
	now := time.Now().UnixMilli()
	windowMs := m.window.Milliseconds()
	// Only accept timestamps from the past (within window), reject future timestamps
	return ts > now-windowMs && ts <= now
}

func sha256Hex(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetOrgFromContext retrieves the authenticated organization from the
// request context.
func GetOrgFromContext(ctx context.Context) *models.Organization {
	org, ok := ctx.Value(OrgContextKey).(*models.Organization)
	if !ok {
		return nil
	}
	return org
}
