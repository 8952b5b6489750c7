package sqlstore

import (
	"context"

	"github.com/jrsteele09/cids/internal/errors"
)

// migrations use types and syntax accepted by both SQLite and Postgres.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS registered_apps (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		owner_email TEXT NOT NULL DEFAULT '',
		redirect_uris TEXT NOT NULL DEFAULT '[]',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		discovery_endpoint TEXT NOT NULL DEFAULT '',
		allow_discovery BOOLEAN NOT NULL DEFAULT FALSE,
		last_discovery_at TIMESTAMP NULL,
		last_discovery_status TEXT NOT NULL DEFAULT '',
		last_discovery_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		prefix TEXT NOT NULL,
		lookup_id TEXT NOT NULL,
		secret_hash TEXT NOT NULL,
		salt TEXT NOT NULL,
		owner_app_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		permissions TEXT NOT NULL DEFAULT '[]',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NULL,
		is_active BOOLEAN NOT NULL,
		last_used_at TIMESTAMP NULL,
		usage_count BIGINT NOT NULL DEFAULT 0,
		rotated_at TIMESTAMP NULL,
		grace_deadline TIMESTAMP NULL,
		revoked_at TIMESTAMP NULL
	)`,
	`CREATE INDEX IF NOT EXISTS api_keys_lookup_idx ON api_keys (lookup_id)`,
	`CREATE INDEX IF NOT EXISTS api_keys_owner_idx ON api_keys (owner_app_id)`,
	`CREATE TABLE IF NOT EXISTS roles (
		app_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		allowed TEXT NOT NULL DEFAULT '[]',
		denied TEXT NOT NULL DEFAULT '[]',
		rls_templates TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (app_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS role_mappings (
		app_id TEXT NOT NULL,
		group_name TEXT NOT NULL,
		role_name TEXT NOT NULL,
		tenant_scope TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (app_id, group_name, role_name, tenant_scope)
	)`,
	`CREATE TABLE IF NOT EXISTS discovered_permissions (
		app_id TEXT NOT NULL,
		resource TEXT NOT NULL,
		action TEXT NOT NULL,
		field TEXT NOT NULL,
		category TEXT NOT NULL,
		sensitive BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (app_id, resource, action, field)
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_families (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		current_hash TEXT NOT NULL,
		snapshot TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		rotated_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		revoked_at TIMESTAMP NULL,
		revoked_reason TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token_hash TEXT PRIMARY KEY,
		family_id TEXT NOT NULL,
		issued_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS refresh_tokens_family_idx ON refresh_tokens (family_id)`,
	`CREATE TABLE IF NOT EXISTS revoked_tokens (
		jti TEXT PRIMARY KEY,
		expires_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS signing_keys (
		kid TEXT PRIMARY KEY,
		private_pem TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		retired_at TIMESTAMP NULL
	)`,
	`CREATE TABLE IF NOT EXISTS a2a_permissions (
		source_app_id TEXT NOT NULL,
		target_app_id TEXT NOT NULL,
		allowed_scopes TEXT NOT NULL DEFAULT '[]',
		allowed_endpoints TEXT NOT NULL DEFAULT '[]',
		max_token_duration BIGINT NOT NULL,
		PRIMARY KEY (source_app_id, target_app_id)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		tenant TEXT NOT NULL DEFAULT '',
		groups_json TEXT NOT NULL DEFAULT '[]',
		blocked BOOLEAN NOT NULL DEFAULT FALSE,
		first_seen TIMESTAMP NOT NULL,
		last_login TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS users_email_idx ON users (email)`,
	`CREATE TABLE IF NOT EXISTS activity_log (
		id TEXT PRIMARY KEY,
		at TIMESTAMP NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS login_flows (
		state TEXT PRIMARY KEY,
		nonce TEXT NOT NULL,
		code_verifier TEXT NOT NULL,
		return_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	)`,
}

// Migrate creates any missing tables. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for i, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return errors.Wrapf(err, "migration %d", i)
		}
	}
	return nil
}
