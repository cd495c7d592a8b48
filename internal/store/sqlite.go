package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Appello-Prototypes/fedgate/internal/crypto"
	"github.com/Appello-Prototypes/fedgate/internal/models"
)

// SQLiteStore handles SQLite database operations. Used for local
// development and tests; production runs PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/fedgate.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/fedgate.db"
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		slug TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		public_key TEXT UNIQUE NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS federation_agreements (
		id TEXT PRIMARY KEY,
		initiator_org_id TEXT NOT NULL,
		responder_org_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'proposed',
		allowed_skills TEXT NOT NULL DEFAULT '[]',
		rate_limit INTEGER NOT NULL DEFAULT 0,
		cost_limit_usd REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		activated_at DATETIME,
		CHECK (initiator_org_id <> responder_org_id)
	);

	CREATE TABLE IF NOT EXISTS channel_keys (
		agreement_id TEXT PRIMARY KEY,
		key_material TEXT NOT NULL,
		rotated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS federation_exposures (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		agent_slug TEXT NOT NULL,
		skills TEXT NOT NULL DEFAULT '[]',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (org_id, agent_slug)
	);

	CREATE TABLE IF NOT EXISTS federation_messages (
		id TEXT PRIMARY KEY,
		agreement_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		source_org_slug TEXT NOT NULL,
		source_agent TEXT NOT NULL DEFAULT '',
		target_org_slug TEXT NOT NULL,
		target_agent TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'text/plain',
		body TEXT NOT NULL,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		policy_result TEXT NOT NULL,
		policy_reason TEXT NOT NULL DEFAULT '',
		run_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON federation_messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_agreement ON federation_messages(agreement_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateOrganization creates a new organization record.
func (s *SQLiteStore) CreateOrganization(ctx context.Context, slug, name, publicKey string) (*models.Organization, error) {
	id := crypto.NewUUIDv7()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, slug, name, public_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), slug, name, publicKey, now, now)
	if err != nil {
		return nil, err
	}
	return &models.Organization{
		ID:        id,
		Slug:      slug,
		Name:      name,
		PublicKey: publicKey,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) scanOrganization(row *sql.Row) (*models.Organization, error) {
	org := &models.Organization{}
	var id string
	err := row.Scan(&id, &org.Slug, &org.Name, &org.PublicKey, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	org.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganizationByID retrieves an organization by ID.
func (s *SQLiteStore) GetOrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	return s.scanOrganization(s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, public_key, created_at, updated_at
		FROM organizations WHERE id = ?
	`, id.String()))
}

// GetOrganizationBySlug retrieves an organization by slug.
func (s *SQLiteStore) GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	return s.scanOrganization(s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, public_key, created_at, updated_at
		FROM organizations WHERE slug = ?
	`, slug))
}

// GetOrganizationByPublicKey retrieves an organization by public key.
func (s *SQLiteStore) GetOrganizationByPublicKey(ctx context.Context, publicKey string) (*models.Organization, error) {
	return s.scanOrganization(s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, public_key, created_at, updated_at
		FROM organizations WHERE public_key = ?
	`, publicKey))
}

// CreateAgreement creates a new agreement in proposed state.
func (s *SQLiteStore) CreateAgreement(ctx context.Context, initiatorID, responderID uuid.UUID, allowedSkills []string, rateLimit int, costLimitUSD float64) (*models.Agreement, error) {
	skillsJSON, err := json.Marshal(allowedSkills)
	if err != nil {
		return nil, err
	}

	id := crypto.NewUUIDv7()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO federation_agreements
			(id, initiator_org_id, responder_org_id, status, allowed_skills, rate_limit, cost_limit_usd, created_at)
		VALUES (?, ?, ?, 'proposed', ?, ?, ?, ?)
	`, id.String(), initiatorID.String(), responderID.String(), string(skillsJSON), rateLimit, costLimitUSD, now)
	if err != nil {
		return nil, err
	}
	return s.GetAgreement(ctx, id)
}

func scanAgreementRow(scan func(dest ...any) error) (*models.Agreement, error) {
	a := &models.Agreement{}
	var id, initiator, responder, skillsJSON string
	err := scan(
		&id, &initiator, &responder, &a.InitiatorSlug, &a.ResponderSlug,
		&a.Status, &skillsJSON, &a.RateLimit, &a.CostLimitUSD,
		&a.CreatedAt, &a.ActivatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if a.InitiatorOrgID, err = uuid.Parse(initiator); err != nil {
		return nil, err
	}
	if a.ResponderOrgID, err = uuid.Parse(responder); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(skillsJSON), &a.AllowedSkills); err != nil {
		return nil, err
	}
	return a, nil
}

const agreementSelect = `
	SELECT a.id, a.initiator_org_id, a.responder_org_id, i.slug, r.slug,
	       a.status, a.allowed_skills, a.rate_limit, a.cost_limit_usd,
	       a.created_at, a.activated_at
	FROM federation_agreements a
	JOIN organizations i ON i.id = a.initiator_org_id
	JOIN organizations r ON r.id = a.responder_org_id
`

// GetAgreement retrieves an agreement with both party slugs resolved.
func (s *SQLiteStore) GetAgreement(ctx context.Context, id uuid.UUID) (*models.Agreement, error) {
	row := s.db.QueryRowContext(ctx, agreementSelect+` WHERE a.id = ?`, id.String())
	return scanAgreementRow(row.Scan)
}

// ListAgreementsForOrg retrieves agreements where the organization is
// a party, newest first, with pagination.
func (s *SQLiteStore) ListAgreementsForOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]models.Agreement, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM federation_agreements
		WHERE initiator_org_id = ? OR responder_org_id = ?
	`, orgID.String(), orgID.String()).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, agreementSelect+`
		WHERE a.initiator_org_id = ? OR a.responder_org_id = ?
		ORDER BY a.created_at DESC
		LIMIT ? OFFSET ?
	`, orgID.String(), orgID.String(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var agreements []models.Agreement
	for rows.Next() {
		a, err := scanAgreementRow(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		agreements = append(agreements, *a)
	}

	return agreements, total, nil
}

// UpdateAgreementStatus transitions an agreement's lifecycle state.
func (s *SQLiteStore) UpdateAgreementStatus(ctx context.Context, id uuid.UUID, status models.AgreementStatus, activatedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE federation_agreements
		SET status = ?, activated_at = COALESCE(?, activated_at)
		WHERE id = ?
	`, status, activatedAt, id.String())
	return err
}

// SetChannelKey stores (or replaces on rotation) the channel key for
// an agreement.
func (s *SQLiteStore) SetChannelKey(ctx context.Context, agreementID uuid.UUID, key []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_keys (agreement_id, key_material, rotated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (agreement_id)
		DO UPDATE SET key_material = excluded.key_material, rotated_at = CURRENT_TIMESTAMP
	`, agreementID.String(), base64.StdEncoding.EncodeToString(key))
	return err
}

// GetChannelKey retrieves the channel key for an agreement, or nil if
// no channel has been established.
func (s *SQLiteStore) GetChannelKey(ctx context.Context, agreementID uuid.UUID) ([]byte, error) {
	var keyB64 string
	err := s.db.QueryRowContext(ctx, `
		SELECT key_material FROM channel_keys WHERE agreement_id = ?
	`, agreementID.String()).Scan(&keyB64)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return base64.StdEncoding.DecodeString(keyB64)
}

// DeleteChannelKey removes the channel key on revocation.
func (s *SQLiteStore) DeleteChannelKey(ctx context.Context, agreementID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM channel_keys WHERE agreement_id = ?
	`, agreementID.String())
	return err
}

// CreateExposure creates a new active exposure.
func (s *SQLiteStore) CreateExposure(ctx context.Context, orgID uuid.UUID, agentSlug string, skills []string) (*models.Exposure, error) {
	skillsJSON, err := json.Marshal(skills)
	if err != nil {
		return nil, err
	}

	id := crypto.NewUUIDv7()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO federation_exposures (id, org_id, agent_slug, skills, active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (org_id, agent_slug)
		DO UPDATE SET skills = excluded.skills, active = 1
	`, id.String(), orgID.String(), agentSlug, string(skillsJSON), now)
	if err != nil {
		return nil, err
	}
	return s.GetExposure(ctx, orgID, agentSlug)
}

func (s *SQLiteStore) scanExposure(row *sql.Row) (*models.Exposure, error) {
	e := &models.Exposure{}
	var id, orgID, skillsJSON string
	err := row.Scan(&id, &orgID, &e.AgentSlug, &skillsJSON, &e.Active, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if e.OrgID, err = uuid.Parse(orgID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(skillsJSON), &e.Skills); err != nil {
		return nil, err
	}
	return e, nil
}

// GetExposureByID retrieves an exposure by ID.
func (s *SQLiteStore) GetExposureByID(ctx context.Context, id uuid.UUID) (*models.Exposure, error) {
	return s.scanExposure(s.db.QueryRowContext(ctx, `
		SELECT id, org_id, agent_slug, skills, active, created_at
		FROM federation_exposures WHERE id = ?
	`, id.String()))
}

// GetExposure retrieves an exposure by organization and agent slug.
func (s *SQLiteStore) GetExposure(ctx context.Context, orgID uuid.UUID, agentSlug string) (*models.Exposure, error) {
	return s.scanExposure(s.db.QueryRowContext(ctx, `
		SELECT id, org_id, agent_slug, skills, active, created_at
		FROM federation_exposures WHERE org_id = ? AND agent_slug = ?
	`, orgID.String(), agentSlug))
}

// DisableExposure soft-disables an exposure.
func (s *SQLiteStore) DisableExposure(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE federation_exposures SET active = 0 WHERE id = ?
	`, id.String())
	return err
}

// AppendMessage inserts a ledger row.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO federation_messages
			(id, agreement_id, conversation_id, direction,
			 source_org_slug, source_agent, target_org_slug, target_agent,
			 content_type, body, latency_ms, input_tokens, output_tokens,
			 cost_usd, policy_result, policy_reason, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID, msg.AgreementID.String(), msg.ConversationID.String(), msg.Direction,
		msg.SourceOrgSlug, msg.SourceAgent, msg.TargetOrgSlug, msg.TargetAgent,
		msg.ContentType, msg.Body, msg.LatencyMS, msg.InputTokens, msg.OutputTokens,
		msg.CostUSD, msg.PolicyResult, msg.PolicyReason, msg.RunID, msg.CreatedAt,
	)
	return err
}

// ListConversationMessages retrieves all ledger rows of a
// conversation in creation order.
func (s *SQLiteStore) ListConversationMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agreement_id, conversation_id, direction,
		       source_org_slug, source_agent, target_org_slug, target_agent,
		       content_type, body, latency_ms, input_tokens, output_tokens,
		       cost_usd, policy_result, policy_reason, run_id, created_at
		FROM federation_messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, conversationID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var agreementID, convID string
		err := rows.Scan(
			&m.ID, &agreementID, &convID, &m.Direction,
			&m.SourceOrgSlug, &m.SourceAgent, &m.TargetOrgSlug, &m.TargetAgent,
			&m.ContentType, &m.Body, &m.LatencyMS, &m.InputTokens, &m.OutputTokens,
			&m.CostUSD, &m.PolicyResult, &m.PolicyReason, &m.RunID, &m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if m.AgreementID, err = uuid.Parse(agreementID); err != nil {
			return nil, err
		}
		if m.ConversationID, err = uuid.Parse(convID); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, nil
}

// GetConversationAgreement returns the agreement owning a
// conversation, or uuid.Nil when the conversation is unknown.
func (s *SQLiteStore) GetConversationAgreement(ctx context.Context, conversationID uuid.UUID) (uuid.UUID, error) {
	var agreementID string
	err := s.db.QueryRowContext(ctx, `
		SELECT agreement_id FROM federation_messages
		WHERE conversation_id = ?
		ORDER BY id
		LIMIT 1
	`, conversationID.String()).Scan(&agreementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, nil
		}
		return uuid.Nil, err
	}
	return uuid.Parse(agreementID)
}

// ListThreads aggregates ledger rows per conversation, most recent
// activity first, with pagination.
func (s *SQLiteStore) ListThreads(ctx context.Context, agreementID uuid.UUID, limit, offset int) ([]models.ThreadSummary, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT conversation_id)
		FROM federation_messages WHERE agreement_id = ?
	`, agreementID.String()).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, agreement_id, COUNT(*),
		       MIN(created_at), MAX(created_at), COALESCE(SUM(cost_usd), 0)
		FROM federation_messages
		WHERE agreement_id = ?
		GROUP BY conversation_id, agreement_id
		ORDER BY MAX(created_at) DESC
		LIMIT ? OFFSET ?
	`, agreementID.String(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var threads []models.ThreadSummary
	for rows.Next() {
		var t models.ThreadSummary
		var convID, agrID string
		var first, last string
		err := rows.Scan(&convID, &agrID, &t.MessageCount, &first, &last, &t.TotalCostUSD)
		if err != nil {
			return nil, 0, err
		}
		// MIN/MAX lose the DATETIME column affinity, so the driver
		// hands the aggregates back as text.
		if t.FirstMessageAt, err = parseSQLiteTime(first); err != nil {
			return nil, 0, err
		}
		if t.LastMessageAt, err = parseSQLiteTime(last); err != nil {
			return nil, 0, err
		}
		if t.ConversationID, err = uuid.Parse(convID); err != nil {
			return nil, 0, err
		}
		if t.AgreementID, err = uuid.Parse(agrID); err != nil {
			return nil, 0, err
		}
		threads = append(threads, t)
	}

	return threads, total, nil
}

var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func parseSQLiteTime(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range sqliteTimeLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
