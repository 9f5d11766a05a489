// Package resolver implements ActorResolver (spec.md component 4.7): a
// cache-with-TTL fetch for remote actors, with an authorized-fetch fallback
// on HTTP 401. It is the single chokepoint other federation components go
// through to learn about a remote actor — Signer/Verifier never bypass it.
package resolver

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/apcore/domain"
	"github.com/deemkeen/apcore/federation/sanitize"
)

var (
	ErrInvalidActorURL = fmt.Errorf("resolver: invalid_actor_url")
	ErrSelfReferencing = fmt.Errorf("resolver: self_referencing")
	ErrMissingID       = fmt.Errorf("resolver: missing_id")
	ErrMissingType     = fmt.Errorf("resolver: missing_type")
	ErrMissingInbox    = fmt.Errorf("resolver: missing_inbox")
	ErrMissingPublicKey = fmt.Errorf("resolver: missing_public_key")
	ErrNoSiteKey       = fmt.Errorf("resolver: no_site_key")
)

// Store persists and retrieves remote actor rows, keyed by ap_id.
type Store interface {
	LoadRemoteActorByApID(apID string) (*domain.RemoteActor, error)
	UpsertRemoteActor(a *domain.RemoteActor) error
}

// Fetcher performs the unsigned and signed GETs against a remote actor URL.
// federation/safehttp.Client satisfies this.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, int, error)
	SignedGet(ctx context.Context, url string, privateKey *rsa.PrivateKey, keyId string) ([]byte, int, error)
}

// SiteKey supplies the site-wide keypair used for the authorized-fetch
// fallback.
type SiteKey interface {
	SiteActorURI() string
	SitePrivateKey() (*rsa.PrivateKey, error)
}

type actorDocument struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Summary   string `json:"summary"`
	Icon      any    `json:"icon"`
	Inbox     string `json:"inbox"`
	SharedInbox struct {
		Inbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PreferredUsername string `json:"preferredUsername"`
	PublicKey         struct {
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// Resolver is the cache-with-TTL ActorResolver.
type Resolver struct {
	store       Store
	fetcher     Fetcher
	siteKey     SiteKey
	sanitizer   *sanitize.Sanitizer
	ttl         time.Duration
	localBase   string
}

func New(store Store, fetcher Fetcher, siteKey SiteKey, sanitizer *sanitize.Sanitizer, ttl time.Duration, localBase string) *Resolver {
	return &Resolver{
		store:     store,
		fetcher:   fetcher,
		siteKey:   siteKey,
		sanitizer: sanitizer,
		ttl:       ttl,
		localBase: strings.TrimRight(localBase, "/"),
	}
}

// Resolve returns the cached actor if fresh, otherwise fetches it.
func (r *Resolver) Resolve(ctx context.Context, apID string) (*domain.RemoteActor, error) {
	cached, err := r.store.LoadRemoteActorByApID(apID)
	if err == nil && time.Since(cached.FetchedAt) <= r.ttl {
		return cached, nil
	}
	return r.fetch(ctx, apID)
}

// ResolveByKeyID strips the URL fragment off keyId (e.g. "#main-key") and
// resolves the remaining actor URI.
func (r *Resolver) ResolveByKeyID(ctx context.Context, keyID string) (*domain.RemoteActor, error) {
	apID := keyID
	if idx := strings.Index(keyID, "#"); idx >= 0 {
		apID = keyID[:idx]
	}
	return r.Resolve(ctx, apID)
}

// Refresh forces a fetch, bypassing the cache.
func (r *Resolver) Refresh(ctx context.Context, apID string) (*domain.RemoteActor, error) {
	return r.fetch(ctx, apID)
}

func (r *Resolver) fetch(ctx context.Context, apID string) (*domain.RemoteActor, error) {
	u, err := url.Parse(apID)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, ErrInvalidActorURL
	}
	if r.isLocal(apID) {
		return nil, ErrSelfReferencing
	}

	body, status, err := r.fetcher.Get(ctx, apID)
	if err != nil {
		return nil, fmt.Errorf("resolver: fetch %s: %w", apID, err)
	}

	if status == http.StatusUnauthorized {
		if r.siteKey == nil {
			return nil, ErrNoSiteKey
		}
		priv, err := r.siteKey.SitePrivateKey()
		if err != nil {
			return nil, ErrNoSiteKey
		}
		keyID := r.siteKey.SiteActorURI() + "#main-key"
		body, status, err = r.fetcher.SignedGet(ctx, apID, priv, keyID)
		if err != nil {
			return nil, fmt.Errorf("resolver: signed fetch %s: %w", apID, err)
		}
	}

	if status/100 != 2 {
		return nil, fmt.Errorf("resolver: fetch %s: http status %d", apID, status)
	}

	var doc actorDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("resolver: parse actor document: %w", err)
	}
	if doc.ID == "" {
		return nil, ErrMissingID
	}
	if doc.Type == "" {
		return nil, ErrMissingType
	}
	if doc.Inbox == "" {
		return nil, ErrMissingInbox
	}
	if doc.PublicKey.PublicKeyPem == "" {
		return nil, ErrMissingPublicKey
	}

	actorURL, _ := url.Parse(doc.ID)
	domainName := ""
	if actorURL != nil {
		domainName = actorURL.Hostname()
	}

	actor := &domain.RemoteActor{
		ApID:         doc.ID,
		Username:     doc.PreferredUsername,
		Domain:       domainName,
		DisplayName:  sanitize.SanitizeDisplayName(doc.Name),
		PublicKeyPEM: doc.PublicKey.PublicKeyPem,
		Inbox:        doc.Inbox,
		SharedInbox:  doc.SharedInbox.Inbox,
		ActorType:    domain.ActorType(doc.Type),
		FetchedAt:    time.Now(),
	}
	if r.sanitizer != nil {
		actor.Summary = r.sanitizer.Sanitize(doc.Summary)
	} else {
		actor.Summary = doc.Summary
	}

	if err := r.store.UpsertRemoteActor(actor); err != nil {
		return nil, fmt.Errorf("resolver: upsert %s: %w", apID, err)
	}
	return actor, nil
}

func (r *Resolver) isLocal(apID string) bool {
	if r.localBase == "" {
		return false
	}
	return strings.HasPrefix(apID, r.localBase)
}
