package store

import (
	"context"
)

// schemaStatements creates every canonical table. Statements are idempotent
// so Migrate can run at every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		id               BIGSERIAL PRIMARY KEY,
		name             TEXT NOT NULL UNIQUE,
		credential_type  TEXT NOT NULL DEFAULT 'password',
		dialect          TEXT,
		username         TEXT NOT NULL,
		password_cipher  TEXT NOT NULL,
		is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS instances (
		id               BIGSERIAL PRIMARY KEY,
		name             TEXT NOT NULL UNIQUE,
		dialect          TEXT NOT NULL,
		host             TEXT NOT NULL,
		port             INTEGER NOT NULL,
		database_name    TEXT NOT NULL DEFAULT '',
		environment      TEXT NOT NULL DEFAULT 'production',
		credential_id    BIGINT REFERENCES credentials(id),
		database_version TEXT NOT NULL DEFAULT '',
		is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		is_deleted       BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at       TIMESTAMPTZ,
		last_connected   TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS accounts (
		id                           BIGSERIAL PRIMARY KEY,
		instance_id                  BIGINT NOT NULL REFERENCES instances(id),
		username                     TEXT NOT NULL,
		host                         TEXT NOT NULL DEFAULT '',
		is_superuser                 BOOLEAN NOT NULL DEFAULT FALSE,
		is_locked                    BOOLEAN NOT NULL DEFAULT FALSE,
		password_expired             BOOLEAN NOT NULL DEFAULT FALSE,
		plugin                       TEXT NOT NULL DEFAULT '',
		password_last_changed        TIMESTAMPTZ,
		privileges                   JSONB NOT NULL DEFAULT '{}',
		is_deleted                   BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at                   TIMESTAMPTZ,
		last_sync_time               TIMESTAMPTZ,
		last_change_time             TIMESTAMPTZ,
		last_classified_at           TIMESTAMPTZ,
		last_classification_batch_id BIGINT,
		created_at                   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at                   TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (instance_id, username, host)
	)`,

	`CREATE TABLE IF NOT EXISTS sync_sessions (
		id              BIGSERIAL PRIMARY KEY,
		session_id      TEXT NOT NULL UNIQUE,
		sync_type       TEXT NOT NULL,
		sync_category   TEXT NOT NULL DEFAULT 'account',
		task_id         BIGINT,
		status          TEXT NOT NULL DEFAULT 'running',
		total_instances INTEGER NOT NULL DEFAULT 0,
		success_count   INTEGER NOT NULL DEFAULT 0,
		failed_count    INTEGER NOT NULL DEFAULT 0,
		start_time      TIMESTAMPTZ NOT NULL DEFAULT now(),
		end_time        TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS sync_instance_records (
		id            BIGSERIAL PRIMARY KEY,
		session_id    TEXT NOT NULL,
		instance_id   BIGINT NOT NULL REFERENCES instances(id),
		status        TEXT NOT NULL DEFAULT 'pending',
		synced_count  INTEGER NOT NULL DEFAULT 0,
		added_count   INTEGER NOT NULL DEFAULT 0,
		modified_count INTEGER NOT NULL DEFAULT 0,
		removed_count INTEGER NOT NULL DEFAULT 0,
		error_kind    TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		details       JSONB NOT NULL DEFAULT '{}',
		start_time    TIMESTAMPTZ,
		end_time      TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_instance_records_session
		ON sync_instance_records (session_id, status)`,

	`CREATE TABLE IF NOT EXISTS account_change_log (
		id                      BIGSERIAL PRIMARY KEY,
		sync_instance_record_id BIGINT NOT NULL,
		instance_id             BIGINT NOT NULL,
		username                TEXT NOT NULL,
		host                    TEXT NOT NULL DEFAULT '',
		change_type             TEXT NOT NULL,
		account_data            JSONB NOT NULL DEFAULT '{}',
		change_time             TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_account_change_log_record
		ON account_change_log (sync_instance_record_id, change_time)`,

	`CREATE TABLE IF NOT EXISTS account_classifications (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		risk_level TEXT NOT NULL DEFAULT 'low',
		priority   INTEGER NOT NULL DEFAULT 0,
		color      TEXT NOT NULL DEFAULT '#6c757d',
		is_system  BOOLEAN NOT NULL DEFAULT FALSE,
		is_active  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS classification_rules (
		id                BIGSERIAL PRIMARY KEY,
		classification_id BIGINT NOT NULL REFERENCES account_classifications(id),
		name              TEXT NOT NULL DEFAULT '',
		dialect           TEXT NOT NULL,
		rule_expression   JSONB NOT NULL,
		is_active         BOOLEAN NOT NULL DEFAULT TRUE,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_classification_rules_dialect
		ON classification_rules (dialect, classification_id)`,

	`CREATE TABLE IF NOT EXISTS classification_assignments (
		id                BIGSERIAL PRIMARY KEY,
		account_id        BIGINT NOT NULL REFERENCES accounts(id),
		-- No FK on classification_id: assignments outlive a deleted tier as
		-- deactivated history rows.
		classification_id BIGINT NOT NULL,
		assignment_type   TEXT NOT NULL DEFAULT 'auto',
		confidence        DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		assigned_by       TEXT NOT NULL DEFAULT '',
		note              TEXT NOT NULL DEFAULT '',
		batch_id          BIGINT,
		is_active         BOOLEAN NOT NULL DEFAULT TRUE,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (account_id, classification_id)
	)`,

	`CREATE TABLE IF NOT EXISTS classification_batches (
		id               BIGSERIAL PRIMARY KEY,
		status           TEXT NOT NULL DEFAULT 'running',
		instance_id      BIGINT,
		total_accounts   INTEGER NOT NULL DEFAULT 0,
		matched_accounts INTEGER NOT NULL DEFAULT 0,
		total_matches    INTEGER NOT NULL DEFAULT 0,
		start_time       TIMESTAMPTZ NOT NULL DEFAULT now(),
		end_time         TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id            BIGSERIAL PRIMARY KEY,
		name          TEXT NOT NULL UNIQUE,
		dialect       TEXT NOT NULL DEFAULT '',
		cron_expr     TEXT NOT NULL,
		config        JSONB NOT NULL DEFAULT '{}',
		is_enabled    BOOLEAN NOT NULL DEFAULT TRUE,
		last_run      TIMESTAMPTZ,
		last_status   TEXT NOT NULL DEFAULT '',
		last_message  TEXT NOT NULL DEFAULT '',
		run_count     INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// seedClassifications are created once and flagged as system tiers. System
// classifications cannot be deleted through the store API.
var seedClassifications = []Classification{
	{Name: "privileged", RiskLevel: "critical", Priority: 100, Color: "#dc3545", IsSystem: true},
	{Name: "high_risk", RiskLevel: "high", Priority: 50, Color: "#fd7e14", IsSystem: true},
	{Name: "normal", RiskLevel: "low", Priority: 0, Color: "#6c757d", IsSystem: true},
}

// Migrate creates the schema and seeds the system classifications.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return classifyStoreErr("migrate", err)
		}
	}

	for _, c := range seedClassifications {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO account_classifications (name, risk_level, priority, color, is_system)
			VALUES ($1, $2, $3, $4, TRUE)
			ON CONFLICT (name) DO NOTHING`,
			c.Name, c.RiskLevel, c.Priority, c.Color)
		if err != nil {
			return classifyStoreErr("seed_classifications", err)
		}
	}

	s.logger.Info("canonical schema ready")
	return nil
}
