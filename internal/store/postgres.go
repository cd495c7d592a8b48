package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Appello-Prototypes/fedgate/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateOrganization creates a new organization record.
func (s *PostgresStore) CreateOrganization(ctx context.Context, slug, name, publicKey string) (*models.Organization, error) {
	org := &models.Organization{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO organizations (slug, name, public_key)
		VALUES ($1, $2, $3)
		RETURNING id, slug, name, public_key, created_at, updated_at
	`, slug, name, publicKey).Scan(
		&org.ID,
		&org.Slug,
		&org.Name,
		&org.PublicKey,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return org, nil
}

func (s *PostgresStore) scanOrganization(row pgx.Row) (*models.Organization, error) {
	org := &models.Organization{}
	err := row.Scan(
		&org.ID,
		&org.Slug,
		&org.Name,
		&org.PublicKey,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return org, nil
}

// GetOrganizationByID retrieves an organization by ID.
func (s *PostgresStore) GetOrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	return s.scanOrganization(s.pool.QueryRow(ctx, `
		SELECT id, slug, name, public_key, created_at, updated_at
		FROM organizations WHERE id = $1
	`, id))
}

// GetOrganizationBySlug retrieves an organization by slug.
func (s *PostgresStore) GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	return s.scanOrganization(s.pool.QueryRow(ctx, `
		SELECT id, slug, name, public_key, created_at, updated_at
		FROM organizations WHERE slug = $1
	`, slug))
}

// GetOrganizationByPublicKey retrieves an organization by public key.
func (s *PostgresStore) GetOrganizationByPublicKey(ctx context.Context, publicKey string) (*models.Organization, error) {
	return s.scanOrganization(s.pool.QueryRow(ctx, `
		SELECT id, slug, name, public_key, created_at, updated_at
		FROM organizations WHERE public_key = $1
	`, publicKey))
}

// CreateAgreement creates a new agreement in proposed state.
func (s *PostgresStore) CreateAgreement(ctx context.Context, initiatorID, responderID uuid.UUID, allowedSkills []string, rateLimit int, costLimitUSD float64) (*models.Agreement, error) {
	skillsJSON, err := json.Marshal(allowedSkills)
	if err != nil {
		return nil, err
	}

	var id uuid.UUID
	err = s.pool.QueryRow(ctx, `
		INSERT INTO federation_agreements (initiator_org_id, responder_org_id, status, allowed_skills, rate_limit, cost_limit_usd)
		VALUES ($1, $2, 'proposed', $3, $4, $5)
		RETURNING id
	`, initiatorID, responderID, string(skillsJSON), rateLimit, costLimitUSD).Scan(&id)
	if err != nil {
		return nil, err
	}
	return s.GetAgreement(ctx, id)
}

// GetAgreement retrieves an agreement with both party slugs resolved.
func (s *PostgresStore) GetAgreement(ctx context.Context, id uuid.UUID) (*models.Agreement, error) {
	a := &models.Agreement{}
	var skillsJSON string
	err := s.pool.QueryRow(ctx, `
		SELECT a.id, a.initiator_org_id, a.responder_org_id, i.slug, r.slug,
		       a.status, a.allowed_skills, a.rate_limit, a.cost_limit_usd,
		       a.created_at, a.activated_at
		FROM federation_agreements a
		JOIN organizations i ON i.id = a.initiator_org_id
		JOIN organizations r ON r.id = a.responder_org_id
		WHERE a.id = $1
	`, id).Scan(
		&a.ID,
		&a.InitiatorOrgID,
		&a.ResponderOrgID,
		&a.InitiatorSlug,
		&a.ResponderSlug,
		&a.Status,
		&skillsJSON,
		&a.RateLimit,
		&a.CostLimitUSD,
		&a.CreatedAt,
		&a.ActivatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(skillsJSON), &a.AllowedSkills); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAgreementsForOrg retrieves agreements where the organization is
// a party, newest first, with pagination.
func (s *PostgresStore) ListAgreementsForOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]models.Agreement, int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM federation_agreements
		WHERE initiator_org_id = $1 OR responder_org_id = $1
	`, orgID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.initiator_org_id, a.responder_org_id, i.slug, r.slug,
		       a.status, a.allowed_skills, a.rate_limit, a.cost_limit_usd,
		       a.created_at, a.activated_at
		FROM federation_agreements a
		JOIN organizations i ON i.id = a.initiator_org_id
		JOIN organizations r ON r.id = a.responder_org_id
		WHERE a.initiator_org_id = $1 OR a.responder_org_id = $1
		ORDER BY a.created_at DESC
		LIMIT $2 OFFSET $3
	`, orgID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var agreements []models.Agreement
	for rows.Next() {
		var a models.Agreement
		var skillsJSON string
		err := rows.Scan(
			&a.ID,
			&a.InitiatorOrgID,
			&a.ResponderOrgID,
			&a.InitiatorSlug,
			&a.ResponderSlug,
			&a.Status,
			&skillsJSON,
			&a.RateLimit,
			&a.CostLimitUSD,
			&a.CreatedAt,
			&a.ActivatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(skillsJSON), &a.AllowedSkills); err != nil {
			return nil, 0, err
		}
		agreements = append(agreements, a)
	}

	return agreements, total, nil
}

// UpdateAgreementStatus transitions an agreement's lifecycle state.
func (s *PostgresStore) UpdateAgreementStatus(ctx context.Context, id uuid.UUID, status models.AgreementStatus, activatedAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE federation_agreements
		SET status = $2, activated_at = COALESCE($3, activated_at)
		WHERE id = $1
	`, id, status, activatedAt)
	return err
}

// SetChannelKey stores (or replaces on rotation) the channel key for
// an agreement.
func (s *PostgresStore) SetChannelKey(ctx context.Context, agreementID uuid.UUID, key []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channel_keys (agreement_id, key_material, rotated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (agreement_id)
		DO UPDATE SET key_material = EXCLUDED.key_material, rotated_at = NOW()
	`, agreementID, base64.StdEncoding.EncodeToString(key))
	return err
}

// GetChannelKey retrieves the channel key for an agreement, or nil if
// no channel has been established.
func (s *PostgresStore) GetChannelKey(ctx context.Context, agreementID uuid.UUID) ([]byte, error) {
	var keyB64 string
	err := s.pool.QueryRow(ctx, `
		SELECT key_material FROM channel_keys WHERE agreement_id = $1
	`, agreementID).Scan(&keyB64)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return base64.StdEncoding.DecodeString(keyB64)
}

// DeleteChannelKey removes the channel key on revocation.
func (s *PostgresStore) DeleteChannelKey(ctx context.Context, agreementID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM channel_keys WHERE agreement_id = $1
	`, agreementID)
	return err
}

// CreateExposure creates a new active exposure.
func (s *PostgresStore) CreateExposure(ctx context.Context, orgID uuid.UUID, agentSlug string, skills []string) (*models.Exposure, error) {
	skillsJSON, err := json.Marshal(skills)
	if err != nil {
		return nil, err
	}

	e := &models.Exposure{}
	var storedSkills string
	err = s.pool.QueryRow(ctx, `
		INSERT INTO federation_exposures (org_id, agent_slug, skills, active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (org_id, agent_slug)
		DO UPDATE SET skills = EXCLUDED.skills, active = TRUE
		RETURNING id, org_id, agent_slug, skills, active, created_at
	`, orgID, agentSlug, string(skillsJSON)).Scan(
		&e.ID,
		&e.OrgID,
		&e.AgentSlug,
		&storedSkills,
		&e.Active,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(storedSkills), &e.Skills); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *PostgresStore) scanExposure(row pgx.Row) (*models.Exposure, error) {
	e := &models.Exposure{}
	var skillsJSON string
	err := row.Scan(
		&e.ID,
		&e.OrgID,
		&e.AgentSlug,
		&skillsJSON,
		&e.Active,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(skillsJSON), &e.Skills); err != nil {
		return nil, err
	}
	return e, nil
}

// GetExposureByID retrieves an exposure by ID.
func (s *PostgresStore) GetExposureByID(ctx context.Context, id uuid.UUID) (*models.Exposure, error) {
	return s.scanExposure(s.pool.QueryRow(ctx, `
		SELECT id, org_id, agent_slug, skills, active, created_at
		FROM federation_exposures WHERE id = $1
	`, id))
}

// GetExposure retrieves an exposure by organization and agent slug.
func (s *PostgresStore) GetExposure(ctx context.Context, orgID uuid.UUID, agentSlug string) (*models.Exposure, error) {
	return s.scanExposure(s.pool.QueryRow(ctx, `
		SELECT id, org_id, agent_slug, skills, active, created_at
		FROM federation_exposures WHERE org_id = $1 AND agent_slug = $2
	`, orgID, agentSlug))
}

// DisableExposure soft-disables an exposure.
func (s *PostgresStore) DisableExposure(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE federation_exposures SET active = FALSE WHERE id = $1
	`, id)
	return err
}

// AppendMessage inserts a ledger row. The ledger never updates rows
// after insertion.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO federation_messages
			(id, agreement_id, conversation_id, direction,
			 source_org_slug, source_agent, target_org_slug, target_agent,
			 content_type, body, latency_ms, input_tokens, output_tokens,
			 cost_usd, policy_result, policy_reason, run_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		msg.ID, msg.AgreementID, msg.ConversationID, msg.Direction,
		msg.SourceOrgSlug, msg.SourceAgent, msg.TargetOrgSlug, msg.TargetAgent,
		msg.ContentType, msg.Body, msg.LatencyMS, msg.InputTokens, msg.OutputTokens,
		msg.CostUSD, msg.PolicyResult, msg.PolicyReason, msg.RunID, msg.CreatedAt,
	)
	return err
}

// ListConversationMessages retrieves all ledger rows of a
// conversation in creation order.
func (s *PostgresStore) ListConversationMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agreement_id, conversation_id, direction,
		       source_org_slug, source_agent, target_org_slug, target_agent,
		       content_type, body, latency_ms, input_tokens, output_tokens,
		       cost_usd, policy_result, policy_reason, run_id, created_at
		FROM federation_messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		err := rows.Scan(
			&m.ID, &m.AgreementID, &m.ConversationID, &m.Direction,
			&m.SourceOrgSlug, &m.SourceAgent, &m.TargetOrgSlug, &m.TargetAgent,
			&m.ContentType, &m.Body, &m.LatencyMS, &m.InputTokens, &m.OutputTokens,
			&m.CostUSD, &m.PolicyResult, &m.PolicyReason, &m.RunID, &m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, nil
}

// GetConversationAgreement returns the agreement owning a
// conversation, or uuid.Nil when the conversation is unknown.
func (s *PostgresStore) GetConversationAgreement(ctx context.Context, conversationID uuid.UUID) (uuid.UUID, error) {
	var agreementID uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT agreement_id FROM federation_messages
		WHERE conversation_id = $1
		ORDER BY id
		LIMIT 1
	`, conversationID).Scan(&agreementID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, nil
		}
		return uuid.Nil, err
	}
	return agreementID, nil
}

// ListThreads aggregates ledger rows per conversation, most recent
// activity first, with pagination.
func (s *PostgresStore) ListThreads(ctx context.Context, agreementID uuid.UUID, limit, offset int) ([]models.ThreadSummary, int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT conversation_id)
		FROM federation_messages WHERE agreement_id = $1
	`, agreementID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT conversation_id, agreement_id, COUNT(*),
		       MIN(created_at), MAX(created_at), COALESCE(SUM(cost_usd), 0)
		FROM federation_messages
		WHERE agreement_id = $1
		GROUP BY conversation_id, agreement_id
		ORDER BY MAX(created_at) DESC
		LIMIT $2 OFFSET $3
	`, agreementID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var threads []models.ThreadSummary
	for rows.Next() {
		var t models.ThreadSummary
		err := rows.Scan(
			&t.ConversationID,
			&t.AgreementID,
			&t.MessageCount,
			&t.FirstMessageAt,
			&t.LastMessageAt,
			&t.TotalCostUSD,
		)
		if err != nil {
			return nil, 0, err
		}
		threads = append(threads, t)
	}

	return threads, total, nil
}
