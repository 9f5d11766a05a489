package db

import (
	"database/sql"
	"log"
)

// Federation schema (spec.md section 6, "Persisted state layout"). These
// tables are additive to the legacy remote_accounts/delivery_queue/relays
// tables created in migrations.go: the legacy tables stay in place and
// in use by the collaborator surface, while the federation core reads and
// writes its own richer shapes here (partial-unique dedup on delivery jobs,
// a settings key/value table, encrypted local actor key material).
const (
	sqlCreateRemoteActorsTable = `CREATE TABLE IF NOT EXISTS remote_actors (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE NOT NULL,
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		display_name TEXT,
		avatar_url TEXT,
		summary TEXT,
		public_key_pem TEXT NOT NULL,
		inbox TEXT NOT NULL,
		shared_inbox TEXT,
		actor_type TEXT NOT NULL,
		fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, domain)
	)`

	sqlCreateRemoteActorsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_actors_ap_id ON remote_actors(ap_id);
		CREATE INDEX IF NOT EXISTS idx_remote_actors_domain ON remote_actors(domain);
		CREATE INDEX IF NOT EXISTS idx_remote_actors_fetched_at ON remote_actors(fetched_at);
	`

	sqlCreateFederationFollowersTable = `CREATE TABLE IF NOT EXISTS federation_followers (
		id TEXT NOT NULL PRIMARY KEY,
		actor_uri TEXT NOT NULL,
		follower_uri TEXT NOT NULL,
		remote_actor_id TEXT NOT NULL,
		activity_id TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		accepted_at TIMESTAMP,
		UNIQUE(actor_uri, follower_uri)
	)`

	sqlCreateFederationFollowersIndices = `
		CREATE INDEX IF NOT EXISTS idx_fed_followers_actor_uri ON federation_followers(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_fed_followers_remote_actor_id ON federation_followers(remote_actor_id);
	`

	sqlCreateOutboundFollowsTable = `CREATE TABLE IF NOT EXISTS outbound_follows (
		id TEXT NOT NULL PRIMARY KEY,
		subject_kind TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		remote_actor_id TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		ap_id TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		accepted_at TIMESTAMP,
		rejected_at TIMESTAMP,
		UNIQUE(subject_kind, subject_id, remote_actor_id)
	)`

	sqlCreateOutboundFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_outbound_follows_subject ON outbound_follows(subject_kind, subject_id);
		CREATE INDEX IF NOT EXISTS idx_outbound_follows_state ON outbound_follows(state);
	`

	sqlCreateDeliveryJobsTable = `CREATE TABLE IF NOT EXISTS delivery_jobs (
		id TEXT NOT NULL PRIMARY KEY,
		activity_json TEXT NOT NULL,
		inbox_url TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		next_retry_at TIMESTAMP,
		delivered_at TIMESTAMP,
		inserted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// The partial unique index is the authoritative mutual-exclusion
	// primitive for outbound delivery (spec.md 5): at most one pending/failed
	// row per (inbox_url, actor_uri) pair. Inserts that collide with it are
	// silently dropped by DeliveryQueue.Enqueue (ON CONFLICT DO NOTHING).
	sqlCreateDeliveryJobsUniqueIndex = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_delivery_jobs_pending_dedup
		ON delivery_jobs(inbox_url, actor_uri)
		WHERE status IN ('pending', 'failed');
	`

	sqlCreateDeliveryJobsIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_jobs_status ON delivery_jobs(status);
		CREATE INDEX IF NOT EXISTS idx_delivery_jobs_next_retry ON delivery_jobs(next_retry_at);
		CREATE INDEX IF NOT EXISTS idx_delivery_jobs_inserted_at ON delivery_jobs(inserted_at);
	`

	sqlCreateFederationSettingsTable = `CREATE TABLE IF NOT EXISTS federation_settings (
		key TEXT NOT NULL PRIMARY KEY,
		value TEXT NOT NULL
	)`

	sqlCreateLocalActorKeysTable = `CREATE TABLE IF NOT EXISTS local_actor_keys (
		subject TEXT NOT NULL PRIMARY KEY,
		public_key_pem TEXT NOT NULL,
		private_key_encrypted BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// remote_content holds federated replies/DMs authored by remote actors
	// against local posts (spec.md 4.11 Create(Note reply|DM)). The legacy
	// notes table is local-account-scoped (user_id FK into accounts) and
	// can't carry a remote author, so this stays a separate table rather
	// than an ALTER onto notes.
	sqlCreateRemoteContentTable = `CREATE TABLE IF NOT EXISTS remote_content (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		author_uri TEXT NOT NULL,
		body TEXT NOT NULL,
		in_reply_to_uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP,
		deleted_at TIMESTAMP
	)`

	sqlCreateRemoteContentIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_content_author_uri ON remote_content(author_uri);
		CREATE INDEX IF NOT EXISTS idx_remote_content_in_reply_to ON remote_content(in_reply_to_uri);
	`
)

// RunFederationMigrations creates the federation core's own tables. It is
// additive and idempotent, called alongside RunActivityPubMigrations.
func (db *DB) RunFederationMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, stmt := range []struct {
			sql, name string
		}{
			{sqlCreateRemoteActorsTable, "remote_actors"},
			{sqlCreateFederationFollowersTable, "federation_followers"},
			{sqlCreateOutboundFollowsTable, "outbound_follows"},
			{sqlCreateDeliveryJobsTable, "delivery_jobs"},
			{sqlCreateFederationSettingsTable, "federation_settings"},
			{sqlCreateLocalActorKeysTable, "local_actor_keys"},
			{sqlCreateRemoteContentTable, "remote_content"},
		} {
			if err := db.createTableIfNotExists(tx, stmt.sql, stmt.name); err != nil {
				return err
			}
		}

		for _, idx := range []string{
			sqlCreateRemoteActorsIndices,
			sqlCreateFederationFollowersIndices,
			sqlCreateOutboundFollowsIndices,
			sqlCreateDeliveryJobsIndices,
			sqlCreateRemoteContentIndices,
		} {
			if _, err := tx.Exec(idx); err != nil {
				log.Printf("Warning: failed to create federation indices: %v", err)
			}
		}
		if _, err := tx.Exec(sqlCreateDeliveryJobsUniqueIndex); err != nil {
			log.Printf("Warning: failed to create delivery_jobs dedup index: %v", err)
		}

		return nil
	})
}
