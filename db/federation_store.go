package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/apcore/domain"
	"github.com/deemkeen/apcore/federation/delivery"
	"github.com/deemkeen/apcore/federation/domainpolicy"
	"github.com/deemkeen/apcore/federation/keystore"
	"github.com/google/uuid"
)

// --- keystore.Store -------------------------------------------------------

func (db *DB) LoadKeyMaterial(subject string) (*domain.LocalActorKeyMaterial, error) {
	row := db.db.QueryRow(`SELECT subject, public_key_pem, private_key_encrypted FROM local_actor_keys WHERE subject = ?`, subject)
	var m domain.LocalActorKeyMaterial
	if err := row.Scan(&m.Subject, &m.PublicKeyPEM, &m.PrivateKeyEncrypted); err != nil {
		if err == sql.ErrNoRows {
			return nil, keystore.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (db *DB) SaveKeyMaterial(m *domain.LocalActorKeyMaterial) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO local_actor_keys(subject, public_key_pem, private_key_encrypted, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(subject) DO UPDATE SET
				public_key_pem = excluded.public_key_pem,
				private_key_encrypted = excluded.private_key_encrypted,
				updated_at = excluded.updated_at
		`, m.Subject, m.PublicKeyPEM, m.PrivateKeyEncrypted, time.Now())
		return err
	})
}

// --- resolver.Store --------------------------------------------------------

func (db *DB) LoadRemoteActorByApID(apID string) (*domain.RemoteActor, error) {
	row := db.db.QueryRow(`SELECT id, ap_id, username, domain, display_name, avatar_url, summary, public_key_pem, inbox, shared_inbox, actor_type, fetched_at FROM remote_actors WHERE ap_id = ?`, apID)
	a, err := scanRemoteActor(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return a, err
}

func scanRemoteActor(row *sql.Row) (*domain.RemoteActor, error) {
	var (
		a                                uuid.UUID
		apID, username, dom, actorType   string
		displayName, avatarURL, summary  sql.NullString
		pubKey, inbox, sharedInbox       string
		fetchedAt                        time.Time
	)
	if err := row.Scan(&a, &apID, &username, &dom, &displayName, &avatarURL, &summary, &pubKey, &inbox, &sharedInbox, &actorType, &fetchedAt); err != nil {
		return nil, err
	}
	return &domain.RemoteActor{
		Id:           a,
		ApID:         apID,
		Username:     username,
		Domain:       dom,
		DisplayName:  displayName.String,
		AvatarURL:    avatarURL.String,
		Summary:      summary.String,
		PublicKeyPEM: pubKey,
		Inbox:        inbox,
		SharedInbox:  sharedInbox,
		ActorType:    domain.ActorType(actorType),
		FetchedAt:    fetchedAt,
	}, nil
}

func (db *DB) UpsertRemoteActor(a *domain.RemoteActor) error {
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO remote_actors(id, ap_id, username, domain, display_name, avatar_url, summary, public_key_pem, inbox, shared_inbox, actor_type, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ap_id) DO UPDATE SET
				username = excluded.username,
				domain = excluded.domain,
				display_name = excluded.display_name,
				avatar_url = excluded.avatar_url,
				summary = excluded.summary,
				public_key_pem = excluded.public_key_pem,
				inbox = excluded.inbox,
				shared_inbox = excluded.shared_inbox,
				actor_type = excluded.actor_type,
				fetched_at = excluded.fetched_at
		`, a.Id, a.ApID, a.Username, a.Domain, a.DisplayName, a.AvatarURL, a.Summary, a.PublicKeyPEM, a.Inbox, a.SharedInbox, string(a.ActorType), a.FetchedAt)
		return err
	})
}

// --- stale.Store ------------------------------------------------------

// SelectStaleRemoteActors returns a batch of remote_actors rows last
// fetched before olderThan, oldest first (spec.md 4.12).
func (db *DB) SelectStaleRemoteActors(olderThan time.Time, batchSize int) ([]*domain.RemoteActor, error) {
	rows, err := db.db.Query(`
		SELECT id, ap_id, username, domain, display_name, avatar_url, summary, public_key_pem, inbox, shared_inbox, actor_type, fetched_at
		FROM remote_actors
		WHERE fetched_at < ?
		ORDER BY fetched_at ASC
		LIMIT ?
	`, olderThan, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []*domain.RemoteActor
	for rows.Next() {
		a, err := scanRemoteActorRows(rows)
		if err != nil {
			return nil, err
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}

func scanRemoteActorRows(rows *sql.Rows) (*domain.RemoteActor, error) {
	var (
		a                                uuid.UUID
		apID, username, dom, actorType   string
		displayName, avatarURL, summary  sql.NullString
		pubKey, inbox, sharedInbox       string
		fetchedAt                        time.Time
	)
	if err := rows.Scan(&a, &apID, &username, &dom, &displayName, &avatarURL, &summary, &pubKey, &inbox, &sharedInbox, &actorType, &fetchedAt); err != nil {
		return nil, err
	}
	return &domain.RemoteActor{
		Id:           a,
		ApID:         apID,
		Username:     username,
		Domain:       dom,
		DisplayName:  displayName.String,
		AvatarURL:    avatarURL.String,
		Summary:      summary.String,
		PublicKeyPEM: pubKey,
		Inbox:        inbox,
		SharedInbox:  sharedInbox,
		ActorType:    domain.ActorType(actorType),
		FetchedAt:    fetchedAt,
	}, nil
}

// IsRemoteActorReferenced reports whether any federation_followers,
// outbound_follows, or remote_content row still points at this actor
// (spec.md 4.12's {Follower, Article, Comment, ArticleLike, Announce,
// Report} reference check — this schema's richest equivalents).
func (db *DB) IsRemoteActorReferenced(id uuid.UUID) (bool, error) {
	row := db.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM federation_followers WHERE remote_actor_id = ?)
		OR EXISTS(SELECT 1 FROM outbound_follows WHERE remote_actor_id = ?)
		OR EXISTS(
			SELECT 1 FROM remote_content
			WHERE author_uri = (SELECT ap_id FROM remote_actors WHERE id = ?)
		)
	`, id, id, id)
	var referenced bool
	if err := row.Scan(&referenced); err != nil {
		return false, err
	}
	return referenced, nil
}

func (db *DB) DeleteRemoteActor(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM remote_actors WHERE id = ?`, id)
		return err
	})
}

// --- domainpolicy.Settings -------------------------------------------------

const (
	settingsKeyFederationMode    = "ap_federation_mode"
	settingsKeyDomainBlocklist   = "ap_domain_blocklist"
	settingsKeyDomainAllowlist   = "ap_domain_allowlist"
)

func (db *DB) getFederationSetting(key string) (string, error) {
	row := db.db.QueryRow(`SELECT value FROM federation_settings WHERE key = ?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

func (db *DB) SetFederationSetting(key, value string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO federation_settings(key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		return err
	})
}

func (db *DB) FederationMode() (domainpolicy.Mode, error) {
	v, err := db.getFederationSetting(settingsKeyFederationMode)
	if err != nil {
		return domainpolicy.ModeBlocklist, err
	}
	if v == string(domainpolicy.ModeAllowlist) {
		return domainpolicy.ModeAllowlist, nil
	}
	return domainpolicy.ModeBlocklist, nil
}

func (db *DB) DomainBlocklist() ([]string, error) {
	return db.loadDomainList(settingsKeyDomainBlocklist)
}

func (db *DB) DomainAllowlist() ([]string, error) {
	return db.loadDomainList(settingsKeyDomainAllowlist)
}

func (db *DB) loadDomainList(key string) ([]string, error) {
	v, err := db.getFederationSetting(key)
	if err != nil || v == "" {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal([]byte(v), &list); err != nil {
		return nil, fmt.Errorf("federation_settings %s: %w", key, err)
	}
	return list, nil
}

// --- follower store ---------------------------------------------------

func (db *DB) InsertFollower(f *domain.Follower) error {
	if f.Id == uuid.Nil {
		f.Id = uuid.New()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO federation_followers(id, actor_uri, follower_uri, remote_actor_id, activity_id, created_at, accepted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(actor_uri, follower_uri) DO NOTHING
		`, f.Id, f.ActorURI, f.FollowerURI, f.RemoteActorId, f.ActivityID, f.CreatedAt, f.AcceptedAt)
		return err
	})
}

func (db *DB) DeleteFollower(actorURI, followerURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM federation_followers WHERE actor_uri = ? AND follower_uri = ?`, actorURI, followerURI)
		return err
	})
}

// InsertFollowerByApID is the InboxHandler-facing form of InsertFollower: it
// resolves followerApID to its cached remote_actors row (which ActorResolver
// must already have populated via signature verification) before writing
// the federation_followers row.
func (db *DB) InsertFollowerByApID(actorURI, followerApID, activityID string) error {
	remote, err := db.LoadRemoteActorByApID(followerApID)
	if err != nil {
		return fmt.Errorf("insert follower: resolve remote actor %s: %w", followerApID, err)
	}
	return db.InsertFollower(&domain.Follower{
		ActorURI:      actorURI,
		FollowerURI:   followerApID,
		RemoteActorId: remote.Id,
		ActivityID:    activityID,
		CreatedAt:     time.Now(),
	})
}

// FollowerInboxes returns the deliverable inbox for every follower of
// actorURI, preferring shared_inbox when set (spec.md 4.8).
func (db *DB) FollowerInboxes(actorURI string) ([]string, error) {
	rows, err := db.db.Query(`
		SELECT CASE WHEN ra.shared_inbox != '' THEN ra.shared_inbox ELSE ra.inbox END
		FROM federation_followers f
		JOIN remote_actors ra ON ra.id = f.remote_actor_id
		WHERE f.actor_uri = ?
	`, actorURI)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inboxes []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return nil, err
		}
		inboxes = append(inboxes, inbox)
	}
	return inboxes, rows.Err()
}

// --- delivery job store ----------------------------------------------

// InsertDeliveryJob inserts a pending delivery row, silently doing nothing
// if an active (pending/failed) row already exists for the same
// (inbox_url, actor_uri) pair — the partial unique index enforces this.
func (db *DB) InsertDeliveryJob(job *domain.DeliveryJob) (bool, error) {
	if job.Id == uuid.Nil {
		job.Id = uuid.New()
	}
	inserted := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO delivery_jobs(id, activity_json, inbox_url, actor_uri, status, attempts, inserted_at)
			VALUES (?, ?, ?, ?, 'pending', 0, ?)
			ON CONFLICT(inbox_url, actor_uri) WHERE status IN ('pending','failed') DO NOTHING
		`, job.Id, job.ActivityJSON, job.InboxURL, job.ActorURI, time.Now())
		if err != nil {
			// sqlite reports partial-unique-index conflicts as a constraint
			// error rather than via ON CONFLICT in some driver/version
			// combinations; treat that the same as a no-op skip.
			if strings.Contains(err.Error(), "UNIQUE constraint") {
				return nil
			}
			return err
		}
		n, _ := res.RowsAffected()
		inserted = n > 0
		return nil
	})
	return inserted, err
}

func (db *DB) MarkDeliveryJobDelivered(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE delivery_jobs SET status = 'delivered', delivered_at = ?, attempts = attempts + 1 WHERE id = ?`, time.Now(), id)
		return err
	})
}

func (db *DB) MarkDeliveryJobFailed(id uuid.UUID, attempts int, lastErr string, maxAttempts int) error {
	if len(lastErr) > 1000 {
		lastErr = lastErr[:1000]
	}
	status := "failed"
	var nextRetry *time.Time
	if attempts >= maxAttempts {
		status = "abandoned"
	} else {
		t := time.Now().Add(domain.BackoffFor(attempts))
		nextRetry = &t
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE delivery_jobs SET status = ?, attempts = ?, last_error = ?, next_retry_at = ? WHERE id = ?`,
			status, attempts, lastErr, nextRetry, id)
		return err
	})
}

func (db *DB) AbandonDeliveryJobBlocked(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE delivery_jobs SET status = 'abandoned', last_error = 'domain_blocked' WHERE id = ?`, id)
		return err
	})
}

// SelectDueDeliveryJobs implements spec.md 4.9's poll selection:
// (pending AND next_retry_at IS NULL) OR (status IN {pending,failed} AND next_retry_at <= now).
func (db *DB) SelectDueDeliveryJobs(batchSize int) ([]*domain.DeliveryJob, error) {
	rows, err := db.db.Query(`
		SELECT id, activity_json, inbox_url, actor_uri, status, attempts, last_error, next_retry_at, delivered_at, inserted_at
		FROM delivery_jobs
		WHERE (status = 'pending' AND next_retry_at IS NULL)
		   OR (status IN ('pending','failed') AND next_retry_at <= ?)
		ORDER BY inserted_at ASC
		LIMIT ?
	`, time.Now(), batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.DeliveryJob
	for rows.Next() {
		var (
			j                     domain.DeliveryJob
			lastErr               sql.NullString
			nextRetry, deliveredAt sql.NullTime
		)
		if err := rows.Scan(&j.Id, &j.ActivityJSON, &j.InboxURL, &j.ActorURI, &j.Status, &j.Attempts, &lastErr, &nextRetry, &deliveredAt, &j.InsertedAt); err != nil {
			return nil, err
		}
		j.LastError = lastErr.String
		if nextRetry.Valid {
			t := nextRetry.Time
			j.NextRetryAt = &t
		}
		if deliveredAt.Valid {
			t := deliveredAt.Time
			j.DeliveredAt = &t
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (db *DB) PurgeCompletedDeliveryJobs() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM delivery_jobs WHERE status = 'delivered' AND delivered_at < ?`, time.Now().Add(-7*24*time.Hour)); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM delivery_jobs WHERE status = 'abandoned' AND inserted_at < ?`, time.Now().Add(-30*24*time.Hour))
		return err
	})
}

func (db *DB) RetryDeliveryJob(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE delivery_jobs SET status = 'pending', next_retry_at = NULL WHERE id = ? AND status = 'failed'`, id)
		return err
	})
}

func (db *DB) AbandonDeliveryJob(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE delivery_jobs SET status = 'abandoned' WHERE id = ?`, id)
		return err
	})
}

func (db *DB) RetryAllFailedForDomain(domainName string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE delivery_jobs SET status = 'pending', next_retry_at = NULL WHERE status = 'failed' AND inbox_url LIKE ?`, "%"+domainName+"%")
		return err
	})
}

func (db *DB) AbandonAllForDomain(domainName string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE delivery_jobs SET status = 'abandoned' WHERE status IN ('pending','failed') AND inbox_url LIKE ?`, "%"+domainName+"%")
		return err
	})
}

func (db *DB) DeliveryStatusCounts() (delivery.StatusCounts, error) {
	var c delivery.StatusCounts
	rows, err := db.db.Query(`SELECT status, COUNT(*) FROM delivery_jobs GROUP BY status`)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return c, err
		}
		switch status {
		case "pending":
			c.Pending = n
		case "failed":
			c.Failed = n
		case "delivered":
			c.Delivered = n
		case "abandoned":
			c.Abandoned = n
		}
	}
	return c, rows.Err()
}

// DeliveryErrorRate24h is (failed + abandoned) / total over rows whose
// inserted_at falls in the last 24h, or 0 if there are none (spec.md 4.8).
func (db *DB) DeliveryErrorRate24h() (float64, error) {
	row := db.db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN status IN ('failed','abandoned') THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM delivery_jobs
		WHERE inserted_at >= ?
	`, time.Now().Add(-24*time.Hour))
	var bad, total int
	if err := row.Scan(&bad, &total); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(bad) / float64(total), nil
}
