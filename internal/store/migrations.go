package store

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// migration is one ordered schema change. Migrations are embedded so
// the server binary is self-contained; applied names are recorded in
// schema_migrations and never re-run.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "001_organizations",
		sql: `
		CREATE TABLE IF NOT EXISTS organizations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			slug TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			public_key TEXT UNIQUE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_organizations_public_key ON organizations(public_key);
		`,
	},
	{
		name: "002_federation_agreements",
		sql: `
		CREATE TABLE IF NOT EXISTS federation_agreements (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			initiator_org_id UUID NOT NULL REFERENCES organizations(id),
			responder_org_id UUID NOT NULL REFERENCES organizations(id),
			status TEXT NOT NULL DEFAULT 'proposed',
			allowed_skills TEXT NOT NULL DEFAULT '[]',
			rate_limit INTEGER NOT NULL DEFAULT 0,
			cost_limit_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			activated_at TIMESTAMPTZ,
			CONSTRAINT distinct_parties CHECK (initiator_org_id <> responder_org_id)
		);
		CREATE INDEX IF NOT EXISTS idx_agreements_initiator ON federation_agreements(initiator_org_id);
		CREATE INDEX IF NOT EXISTS idx_agreements_responder ON federation_agreements(responder_org_id);
		`,
	},
	{
		name: "003_channel_keys",
		sql: `
		CREATE TABLE IF NOT EXISTS channel_keys (
			agreement_id UUID PRIMARY KEY REFERENCES federation_agreements(id),
			key_material TEXT NOT NULL,
			rotated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		`,
	},
	{
		name: "004_federation_exposures",
		sql: `
		CREATE TABLE IF NOT EXISTS federation_exposures (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			org_id UUID NOT NULL REFERENCES organizations(id),
			agent_slug TEXT NOT NULL,
			skills TEXT NOT NULL DEFAULT '[]',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (org_id, agent_slug)
		);
		`,
	},
	{
		name: "005_federation_messages",
		sql: `
		CREATE TABLE IF NOT EXISTS federation_messages (
			id TEXT PRIMARY KEY,
			agreement_id UUID NOT NULL REFERENCES federation_agreements(id),
			conversation_id UUID NOT NULL,
			direction TEXT NOT NULL,
			source_org_slug TEXT NOT NULL,
			source_agent TEXT NOT NULL DEFAULT '',
			target_org_slug TEXT NOT NULL,
			target_agent TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'text/plain',
			body TEXT NOT NULL,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			policy_result TEXT NOT NULL,
			policy_reason TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON federation_messages(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_agreement ON federation_messages(agreement_id, created_at);
		`,
	},
}

// RunMigrations applies pending migrations against the database.
func RunMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, m.name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check %s: %w", m.name, err)
		}
		if applied {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name) VALUES ($1)`, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", m.name, err)
		}
	}

	return nil
}
