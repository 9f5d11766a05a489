package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/apcore/federation"
	"github.com/google/uuid"
)

// FederationContent backs federation.ContentStore with the remote_content
// table (see federation_migrations.go): replies and DMs authored by remote
// actors against local posts. It is a distinct wrapper type, not a method
// set on *DB directly, because federation.ActorDirectory also declares a
// ByURI method with an incompatible return type.
type FederationContent struct{ db *DB }

func NewFederationContent(db *DB) *FederationContent { return &FederationContent{db: db} }

func (c *FederationContent) ByURI(uri string) (*federation.ContentItem, error) {
	row := c.db.db.QueryRow(`
		SELECT id, uri, author_uri, body, in_reply_to_uri, created_at, edited_at
		FROM remote_content WHERE uri = ? AND deleted_at IS NULL
	`, uri)
	return scanContentItem(row)
}

func (c *FederationContent) ByID(id uuid.UUID) (*federation.ContentItem, error) {
	row := c.db.db.QueryRow(`
		SELECT id, uri, author_uri, body, in_reply_to_uri, created_at, edited_at
		FROM remote_content WHERE id = ? AND deleted_at IS NULL
	`, id)
	return scanContentItem(row)
}

func scanContentItem(row *sql.Row) (*federation.ContentItem, error) {
	var (
		item         federation.ContentItem
		inReplyTo    sql.NullString
		editedAt     sql.NullTime
	)
	if err := row.Scan(&item.Id, &item.URI, &item.AuthorURI, &item.Body, &inReplyTo, &item.CreatedAt, &editedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("remote content: %w", sql.ErrNoRows)
		}
		return nil, err
	}
	item.InReplyToURI = inReplyTo.String
	if editedAt.Valid {
		t := editedAt.Time
		item.EditedAt = &t
	}
	return &item, nil
}

func (c *FederationContent) CreateRemoteComment(item *federation.ContentItem) error {
	if item.Id == uuid.Nil {
		item.Id = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	return c.db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO remote_content(id, uri, author_uri, body, in_reply_to_uri, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(uri) DO NOTHING
		`, item.Id, item.URI, item.AuthorURI, item.Body, item.InReplyToURI, item.CreatedAt)
		return err
	})
}

func (c *FederationContent) UpdateBody(id uuid.UUID, body string) error {
	return c.db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE remote_content SET body = ?, edited_at = ? WHERE id = ?`, body, time.Now(), id)
		return err
	})
}

func (c *FederationContent) SoftDelete(id uuid.UUID) error {
	return c.db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE remote_content SET deleted_at = ? WHERE id = ?`, time.Now(), id)
		return err
	})
}

// FederationDirectory backs federation.ActorDirectory with the accounts
// table. baseURL is the site's own origin (e.g. "https://example.social"),
// needed to tell a local actor URI apart from a remote one that happens to
// share a username.
type FederationDirectory struct {
	db      *DB
	baseURL string
}

func NewFederationDirectory(db *DB, baseURL string) *FederationDirectory {
	return &FederationDirectory{db: db, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (d *FederationDirectory) userActorURI(username string) string {
	return d.baseURL + "/users/" + username
}

func (d *FederationDirectory) ByURI(actorURI string) (*federation.LocalActor, error) {
	prefix := d.baseURL + "/users/"
	if !strings.HasPrefix(actorURI, prefix) {
		return nil, fmt.Errorf("federation directory: %s is not a local actor URI", actorURI)
	}
	return d.ByUsername(strings.TrimPrefix(actorURI, prefix))
}

// PrivateKeyPEMByActorURI resolves actorURI to its legacy per-account PEM
// (accounts.web_private_key, already PKCS#8 per MigrateKeysToPKCS8). It
// bridges delivery signing for actors created before the KeyStore/KeyVault
// path existed; federation/core tries KeyStore first and falls back here.
func (d *FederationDirectory) PrivateKeyPEMByActorURI(actorURI string) (string, error) {
	actor, err := d.ByURI(actorURI)
	if err != nil {
		return "", err
	}
	err2, acc := d.db.ReadAccByUsername(actor.Username)
	if err2 != nil {
		return "", err2
	}
	return acc.WebPrivateKey, nil
}

func (d *FederationDirectory) ByUsername(username string) (*federation.LocalActor, error) {
	err, acc := d.db.ReadAccByUsername(username)
	if err != nil {
		return nil, err
	}
	return &federation.LocalActor{ID: acc.Id, Username: acc.Username, ActorURI: d.userActorURI(acc.Username)}, nil
}

func (d *FederationDirectory) IsLocalURI(uri string) bool {
	_, err := d.ByURI(uri)
	return err == nil
}

// FederationFollowGraph backs federation.FollowGraph with the
// federation_followers table.
type FederationFollowGraph struct{ db *DB }

func NewFederationFollowGraph(db *DB) *FederationFollowGraph { return &FederationFollowGraph{db: db} }

func (g *FederationFollowGraph) IsFollowedByFollower(localActorURI, followerApID string) (bool, error) {
	row := g.db.db.QueryRow(`
		SELECT 1 FROM federation_followers WHERE actor_uri = ? AND follower_uri = ?
	`, localActorURI, followerApID)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
