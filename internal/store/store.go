package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Appello-Prototypes/fedgate/internal/models"
)

// DataStore defines the interface for persistent storage of
// organizations, agreements, exposures, channel keys and the message
// ledger. Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Organization operations
	CreateOrganization(ctx context.Context, slug, name, publicKey string) (*models.Organization, error)
	GetOrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error)
	GetOrganizationByPublicKey(ctx context.Context, publicKey string) (*models.Organization, error)

	// Agreement operations
	CreateAgreement(ctx context.Context, initiatorID, responderID uuid.UUID, allowedSkills []string, rateLimit int, costLimitUSD float64) (*models.Agreement, error)
	GetAgreement(ctx context.Context, id uuid.UUID) (*models.Agreement, error)
	ListAgreementsForOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]models.Agreement, int, error)
	UpdateAgreementStatus(ctx context.Context, id uuid.UUID, status models.AgreementStatus, activatedAt *time.Time) error

	// Channel key operations
	SetChannelKey(ctx context.Context, agreementID uuid.UUID, key []byte) error
	GetChannelKey(ctx context.Context, agreementID uuid.UUID) ([]byte, error)
	DeleteChannelKey(ctx context.Context, agreementID uuid.UUID) error

	// Exposure operations
	CreateExposure(ctx context.Context, orgID uuid.UUID, agentSlug string, skills []string) (*models.Exposure, error)
	GetExposureByID(ctx context.Context, id uuid.UUID) (*models.Exposure, error)
	GetExposure(ctx context.Context, orgID uuid.UUID, agentSlug string) (*models.Exposure, error)
	DisableExposure(ctx context.Context, id uuid.UUID) error

	// Ledger operations (append-only; rows are never updated)
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListConversationMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	GetConversationAgreement(ctx context.Context, conversationID uuid.UUID) (uuid.UUID, error)
	ListThreads(ctx context.Context, agreementID uuid.UUID, limit, offset int) ([]models.ThreadSummary, int, error)
}
