// Package core assembles the federation/* components into the one object
// app/app.go constructs at startup: ActorResolver, DomainPolicy,
// InboxHandler, DeliveryQueue/Worker, Publisher, StaleCleaner, and the
// Supervisor that runs the long-lived workers together. It owns the HTTP
// entry point for inbound ActivityPub POSTs, playing the role
// activitypub/inbox.go's HandleInboxWithDeps plays for the legacy path:
// read body, verify the HTTP signature, dispatch, map errors to status
// codes.
package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/deemkeen/apcore/db"
	"github.com/deemkeen/apcore/federation"
	"github.com/deemkeen/apcore/federation/delivery"
	"github.com/deemkeen/apcore/federation/domainpolicy"
	"github.com/deemkeen/apcore/federation/httpsig"
	"github.com/deemkeen/apcore/federation/inbox"
	"github.com/deemkeen/apcore/federation/keystore"
	"github.com/deemkeen/apcore/federation/keyvault"
	"github.com/deemkeen/apcore/federation/publisher"
	"github.com/deemkeen/apcore/federation/resolver"
	"github.com/deemkeen/apcore/federation/safehttp"
	"github.com/deemkeen/apcore/federation/sanitize"
	"github.com/deemkeen/apcore/federation/stale"
	"github.com/deemkeen/apcore/federation/supervisor"
)

// Config carries the section-6 tunables Core needs to build its
// sub-components, read once from util.AppConfig.Conf by the caller so this
// package stays free of a util import.
type Config struct {
	BaseURL             string // e.g. "https://example.social"
	UserAgent           string
	MasterSecret        string
	ActorCacheTTL       time.Duration
	SignatureMaxAge     time.Duration
	HTTPConnectTimeout  time.Duration
	HTTPReceiveTimeout  time.Duration
	MaxPayloadSize      int
	DeliveryPollInterval time.Duration
	DeliveryBatchSize   int
	DeliveryConcurrency int
	DeliveryMaxAttempts int
	StaleMaxAge         time.Duration
	StaleCleanupInterval time.Duration
}

// Core wires every federation/* package to real storage (db.DB) and exposes
// the inbound-HTTP entry point web/router.go calls.
type Core struct {
	cfg       Config
	database  *db.DB
	resolver  *resolver.Resolver
	policy    *domainpolicy.Policy
	handler   *inbox.Handler
	queue     *delivery.Queue
	worker    *delivery.Worker
	cleaner   *stale.Cleaner
	publisher *publisher.Publisher
	keys      *keystore.KeyStore
	directory *db.FederationDirectory
	sup       *supervisor.Supervisor
}

// New builds every federation component against database and starts
// nothing; call Start to launch the background workers.
func New(cfg Config, database *db.DB) *Core {
	vault := keyvault.New(cfg.MasterSecret)
	keys := keystore.New(vault, database)

	sanitizer := sanitize.New()

	httpCfg := safehttp.DefaultConfig(cfg.UserAgent)
	if cfg.HTTPConnectTimeout > 0 {
		httpCfg.ConnectTimeout = cfg.HTTPConnectTimeout
	}
	if cfg.HTTPReceiveTimeout > 0 {
		httpCfg.ReceiveTimeout = cfg.HTTPReceiveTimeout
	}
	client, err := safehttp.New(httpCfg)
	if err != nil {
		// safehttp.New only fails to build its DNS client config; a bad
		// /etc/resolv.conf still leaves a usable zero-value client, so this
		// is logged rather than fatal.
		log.Printf("core: safehttp client: %v", err)
	}

	// No instance-wide actor exists in this deployment (every actor is a
	// per-account one); the authorized-fetch-on-401 fallback ActorResolver
	// offers is therefore unreachable here and Resolve degrades to
	// resolver.ErrNoSiteKey on a 401, which is treated the same as any
	// other fetch failure by callers.
	res := resolver.New(database, client, nil, sanitizer, cfg.ActorCacheTTL, cfg.BaseURL)

	policy := domainpolicy.New(database)

	directory := db.NewFederationDirectory(database, cfg.BaseURL)
	content := db.NewFederationContent(database)
	dmPolicy := federation.NewDomainFollowPolicy(db.NewFederationFollowGraph(database))

	queue := delivery.New(database, database)
	pub := publisher.New(queue)

	workerCfg := delivery.DefaultConfig()
	if cfg.DeliveryPollInterval > 0 {
		workerCfg.PollInterval = cfg.DeliveryPollInterval
	}
	if cfg.DeliveryBatchSize > 0 {
		workerCfg.BatchSize = cfg.DeliveryBatchSize
	}
	if cfg.DeliveryConcurrency > 0 {
		workerCfg.MaxConcurrency = cfg.DeliveryConcurrency
	}
	if cfg.DeliveryMaxAttempts > 0 {
		workerCfg.MaxAttempts = cfg.DeliveryMaxAttempts
	}
	sender := delivery.NewSafeHTTPSender(client)
	keyProvider := &hybridKeyProvider{keys: keys, legacy: directory}
	worker := delivery.NewWorker(workerCfg, database, keyProvider, sender, policy)

	staleCfg := stale.DefaultConfig()
	if cfg.StaleMaxAge > 0 {
		staleCfg.MaxAge = cfg.StaleMaxAge
	}
	if cfg.StaleCleanupInterval > 0 {
		staleCfg.CleanupInterval = cfg.StaleCleanupInterval
	}
	cleaner := stale.New(staleCfg, database, &staleResolverAdapter{res})

	sup := supervisor.New(supervisor.DefaultConfig(), worker, cleaner, policy)

	c := &Core{
		cfg:       cfg,
		database:  database,
		resolver:  res,
		policy:    policy,
		queue:     queue,
		worker:    worker,
		cleaner:   cleaner,
		publisher: pub,
		keys:      keys,
		directory: directory,
		sup:       sup,
	}

	c.handler = inbox.New(policy, directory, content, database, &inboxResolverAdapter{res}, sup, pub, sanitizer, dmPolicy, c.localTarget, c.inboxByApID)
	return c
}

// Start launches the delivery worker, stale cleaner, and domain policy
// refresh loop in the background, and performs the initial policy load
// (spec.md 4.5 requires a populated cache before the first inbound request
// is dispatched, not just after the first refresh tick).
func (c *Core) Start(ctx context.Context) error {
	if err := c.policy.Refresh(); err != nil {
		return fmt.Errorf("core: initial domain policy load: %w", err)
	}
	c.sup.Start(ctx)
	return nil
}

// Stop drains the background workers. See supervisor.Supervisor.Stop.
func (c *Core) Stop() { c.sup.Stop() }

// global holds the process-wide Core instance once app.go's Initialize
// builds one (WithAp enabled), mirroring db.GetDB()'s singleton-accessor
// idiom. The legacy activitypub.Send* functions read it through Global so
// they route through the new signed/durable/SSRF-hardened pipeline instead
// of their own plain http.Client whenever federation is enabled, without
// every ui/* call site needing to thread a *Core parameter through.
var global atomic.Pointer[Core]

// SetGlobal installs the process-wide Core. Called once from app.go's
// Initialize; nil when WithAp is off, which is how callers that check
// Global() for nil fall back to legacy behavior.
func SetGlobal(c *Core) { global.Store(c) }

// Global returns the process-wide Core, or nil if WithAp is disabled or
// Initialize hasn't run yet.
func Global() *Core { return global.Load() }

// Publisher exposes the outbound activity builder for the web/ssh layers
// that trigger federation events (new post, follow, like, ...).
func (c *Core) Publisher() *publisher.Publisher { return c.publisher }

// Keys exposes actor keypair management for account creation/rotation flows.
func (c *Core) Keys() *keystore.KeyStore { return c.keys }

func (c *Core) localTarget(t inbox.Target) (string, error) {
	switch t.Kind {
	case inbox.TargetUser, inbox.TargetShared:
		actor, err := c.directory.ByUsername(t.ID)
		if err != nil {
			return "", fmt.Errorf("core: resolve local target %s: %w", t.ID, err)
		}
		return actor.ActorURI, nil
	default:
		return "", fmt.Errorf("core: unsupported target kind %q", t.Kind)
	}
}

func (c *Core) inboxByApID(apID string) (string, error) {
	actor, err := c.database.LoadRemoteActorByApID(apID)
	if err != nil {
		return "", err
	}
	if actor.SharedInbox != "" {
		return actor.SharedInbox, nil
	}
	return actor.Inbox, nil
}

// inboxResolverAdapter adapts federation/resolver.Resolver's context-taking
// Refresh to the non-ctx Refresh(apID) error signature federation/inbox.
// Resolver declares; InboxHandler's Update(actor)/Move handling never
// carries a request context past the initial HTTP handler, so this
// supplies context.Background() instead of threading one through.
type inboxResolverAdapter struct{ r *resolver.Resolver }

func (a *inboxResolverAdapter) Refresh(apID string) error {
	_, err := a.r.Refresh(context.Background(), apID)
	return err
}

// staleResolverAdapter adapts the same Resolver to federation/stale.
// Resolver's ctx-taking Refresh, discarding the returned actor since the
// cleaner only cares whether the refresh succeeded.
type staleResolverAdapter struct{ r *resolver.Resolver }

func (a *staleResolverAdapter) Refresh(ctx context.Context, apID string) error {
	_, err := a.r.Refresh(ctx, apID)
	return err
}

// hybridKeyProvider tries the vault-encrypted KeyStore first, falling back
// to the legacy plaintext accounts.web_private_key column for actors
// created before KeyStore existed (see db.FederationDirectory's
// PrivateKeyPEMByActorURI doc comment).
type hybridKeyProvider struct {
	keys   *keystore.KeyStore
	legacy *db.FederationDirectory
}

func (k *hybridKeyProvider) DecryptPrivatePEM(subject string) (string, error) {
	pem, err := k.keys.DecryptPrivatePEM(subject)
	if err == nil {
		return pem, nil
	}
	if !errors.Is(err, keystore.ErrNotFound) {
		return "", err
	}
	return k.legacy.PrivateKeyPEMByActorURI(subject)
}

// HandleInboxRequest verifies the inbound request's HTTP Signature and
// dispatches it through InboxHandler (spec.md 4.4 + 4.11), writing the
// matching HTTP status. It does not itself decide which local inbox target
// the request was addressed to — callers resolve Target from the route
// (per-user inbox) or from the activity's own addressing (shared inbox).
func (c *Core) HandleInboxRequest(w http.ResponseWriter, r *http.Request, target inbox.Target) {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(c.maxPayloadSize())+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > c.maxPayloadSize() {
		http.Error(w, "payload too large", http.StatusBadRequest)
		return
	}

	keyID, err := httpsig.ExtractKeyID(r)
	if err != nil {
		http.Error(w, "missing signature", http.StatusUnauthorized)
		return
	}

	remoteActor, err := c.resolver.ResolveByKeyID(r.Context(), keyID)
	if err != nil {
		log.Printf("core: resolve signer %s: %v", keyID, err)
		http.Error(w, "could not resolve signer", http.StatusUnauthorized)
		return
	}

	// VerifyRequestWithMaxAge reads r.Body itself to check the Digest
	// header; restore it from the copy already read above.
	r.Body = io.NopCloser(bytes.NewReader(body))
	maxAge := c.cfg.SignatureMaxAge
	if maxAge == 0 {
		maxAge = httpsig.DefaultMaxAge
	}
	apID, err := httpsig.VerifyRequestWithMaxAge(r, remoteActor.PublicKeyPEM, maxAge)
	if err != nil {
		log.Printf("core: signature verification failed for %s: %v", keyID, err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	verified := inbox.VerifiedActor{ApID: apID, Domain: remoteActor.Domain}
	if err := c.handler.Handle(body, verified, target); err != nil {
		var de *inbox.DispatchError
		if errors.As(err, &de) {
			log.Printf("core: inbox dispatch rejected: %v", de)
			w.WriteHeader(statusForDispatch(de.Status))
			return
		}
		log.Printf("core: inbox dispatch error: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (c *Core) maxPayloadSize() int {
	if c.cfg.MaxPayloadSize > 0 {
		return c.cfg.MaxPayloadSize
	}
	return sanitize.DefaultMaxPayloadSize
}

func statusForDispatch(status string) int {
	switch status {
	case inbox.StatusBadRequest:
		return http.StatusBadRequest
	case inbox.StatusUnauthorized:
		return http.StatusUnauthorized
	case inbox.StatusForbidden:
		return http.StatusForbidden
	default:
		return http.StatusOK
	}
}
