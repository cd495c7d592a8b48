package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/Appello-Prototypes/fedgate/internal/channel"
	"github.com/Appello-Prototypes/fedgate/internal/config"
	"github.com/Appello-Prototypes/fedgate/internal/ledger"
	"github.com/Appello-Prototypes/fedgate/internal/policy"
	"github.com/Appello-Prototypes/fedgate/internal/runtime"
	"github.com/Appello-Prototypes/fedgate/internal/store"
)

// slugRegex validates organization and agent slugs.
var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{1,62}[a-z0-9]$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db         store.DataStore
	redis      *store.RedisStore
	keys       *channel.Resolver
	gate       *policy.Gate
	ledger     *ledger.Ledger
	dispatcher runtime.Dispatcher
	cfg        *config.Config
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(db store.DataStore, redis *store.RedisStore, keys *channel.Resolver, gate *policy.Gate, led *ledger.Ledger, dispatcher runtime.Dispatcher, cfg *config.Config) *Handler {
	return &Handler{
		db:         db,
		redis:      redis,
		keys:       keys,
		gate:       gate,
		ledger:     led,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	// Limit to 100 characters
	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// isValidSlug validates slug format.
func isValidSlug(slug string) bool {
	return slugRegex.MatchString(slug)
}

// pagination parses limit/offset query params with sane bounds.
func pagination(r *http.Request) (limit, offset int) {
	limit = 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset = 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}
