// Package inbox implements InboxHandler, the dispatch table spec.md 4.11
// describes for routing verified inbound activities to storage effects,
// adapted from activitypub/inbox.go's type-switch into the table-lookup
// design spec.md's design notes call for.
package inbox

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/deemkeen/apcore/federation"
	"github.com/deemkeen/apcore/federation/sanitize"
	"github.com/google/uuid"
)

// TargetKind is the three shapes an inbound POST's destination can take.
type TargetKind string

const (
	TargetShared TargetKind = "shared"
	TargetUser   TargetKind = "user"
	TargetBoard  TargetKind = "board"
)

// Target names the local inbox an activity arrived at.
type Target struct {
	Kind TargetKind
	ID   string
}

// VerifiedActor is the remote actor an HTTP signature was checked against.
type VerifiedActor struct {
	ApID   string
	Domain string
}

// activity is the dynamic-shape envelope spec.md design notes describe:
// object/attributedTo may be string, map, or array, so each handler narrows
// the shape it actually needs rather than this struct committing to one.
type activity struct {
	Context any    `json:"@context"`
	ID      string `json:"id"`
	Type    string `json:"type"`
	Actor   string `json:"actor"`
	Object  any    `json:"object"`
	Target  any    `json:"target"`
	Content string `json:"content"`
}

// DomainPolicy reports whether a domain is currently blocked.
type DomainPolicy interface {
	IsBlocked(domain string) bool
}

// LocalURIChecker reports whether a URI names a local actor.
type LocalURIChecker interface {
	IsLocalURI(uri string) bool
}

// localDirectory is the subset of federation.ActorDirectory a Handler
// actually needs beyond LocalURIChecker: resolving the recipient a DM
// arrived at so DMPolicy has something to decide over.
type localDirectory interface {
	LocalURIChecker
	ByURI(actorURI string) (*federation.LocalActor, error)
}

// Followers is the follower-table surface InboxHandler mutates directly
// (Follow/Undo(Follow)), distinct from federation.FollowGraph's read-only
// DM-policy check.
type Followers interface {
	InsertFollowerByApID(actorURI, followerApID, activityID string) error
	DeleteFollower(actorURI, followerApID string) error
}

// Resolver is the subset of federation/resolver.Resolver InboxHandler uses
// for Update(actor) and Move handling.
type Resolver interface {
	Refresh(apID string) error
}

// AsyncRunner runs f in the background, outside the request goroutine, so
// inbound POSTs are not held open waiting on an outbound Accept/DM publish.
// The federation supervisor's task pool satisfies this (spec.md 4.13).
type AsyncRunner interface {
	Go(f func())
}

// Publisher is the outbound-activity surface InboxHandler needs for its
// asynchronous Accept(Follow) reply.
type Publisher interface {
	PublishAccept(localActorURI, followID, followerApID, followerInbox string) error
}

// activityStreamsPublic is the well-known addressee marking a Note public;
// its absence from both to and cc is what distinguishes a DM (spec.md
// 4.11's "check DM access policy").
const activityStreamsPublic = "https://www.w3.org/ns/activitystreams#Public"

func isPublic(obj map[string]any) bool {
	for _, field := range []string{"to", "cc"} {
		switch v := obj[field].(type) {
		case string:
			if v == activityStreamsPublic {
				return true
			}
		case []any:
			for _, e := range v {
				if s, ok := e.(string); ok && s == activityStreamsPublic {
					return true
				}
			}
		}
	}
	return false
}

// Handler dispatches verified inbound activities (spec.md 4.11).
type Handler struct {
	Policy    DomainPolicy
	Local     localDirectory
	Content   federation.ContentStore
	Followers Followers
	Resolver  Resolver
	Async     AsyncRunner
	Publish   Publisher
	Sanitizer *sanitize.Sanitizer

	// DM decides whether a private Create(Note) may be delivered to the
	// local recipient it addresses (spec.md 4.11). Nil disables the check
	// (no collaborator policy wired), accepting every DM as before.
	DM federation.DMPolicy

	// localTarget resolves a Target into the local actor URI it names
	// (user/board/site), since Target only carries an opaque local ID.
	localTarget func(Target) (string, error)

	// inboxByApID resolves a remote actor's shared/personal inbox for the
	// async Accept reply, keyed by ApID.
	inboxByApID func(apID string) (string, error)
}

// New builds a Handler. localTarget and inboxByApID are small lookups the
// caller supplies from its own actor/remote-actor stores, kept out of this
// package's dependency surface since they're one-liners over existing
// tables.
func New(policy DomainPolicy, local localDirectory, content federation.ContentStore, followers Followers, resolver Resolver, async AsyncRunner, publish Publisher, sanitizer *sanitize.Sanitizer, dm federation.DMPolicy, localTarget func(Target) (string, error), inboxByApID func(string) (string, error)) *Handler {
	return &Handler{
		Policy:      policy,
		Local:       local,
		Content:     content,
		Followers:   followers,
		Resolver:    resolver,
		Async:       async,
		Publish:     publish,
		Sanitizer:   sanitizer,
		DM:          dm,
		localTarget: localTarget,
		inboxByApID: inboxByApID,
	}
}

// Result kinds surfaced to the HTTP layer (spec.md 7's propagation rules).
const (
	StatusOK           = "ok"
	StatusBadRequest   = "bad_request"
	StatusUnauthorized = "unauthorized"
	StatusForbidden    = "forbidden"
)

// DispatchError carries the HTTP-status-class the caller should map to.
type DispatchError struct {
	Status string
	Err    error
}

func (e *DispatchError) Error() string { return e.Err.Error() }
func (e *DispatchError) Unwrap() error { return e.Err }

func fail(status string, err error) error { return &DispatchError{Status: status, Err: err} }

// Handle runs the pre-dispatch gate then routes to the matching handler
// (spec.md 4.11). A nil return means the activity was accepted (including
// idempotent no-ops); a *DispatchError means the caller should map it to
// the named HTTP status.
func (h *Handler) Handle(rawJSON []byte, verified VerifiedActor, target Target) error {
	if _, err := sanitize.ValidateShape(rawJSON, sanitize.DefaultMaxPayloadSize); err != nil {
		return fail(StatusBadRequest, fmt.Errorf("inbox: %w", err))
	}

	var a activity
	if err := json.Unmarshal(rawJSON, &a); err != nil {
		return fail(StatusBadRequest, fmt.Errorf("inbox: decode activity: %w", err))
	}

	if h.Policy.IsBlocked(verified.Domain) {
		return fail(StatusForbidden, fmt.Errorf("inbox: domain %s is blocked", verified.Domain))
	}
	if h.Local.IsLocalURI(a.Actor) {
		return fail(StatusForbidden, fmt.Errorf("inbox: actor %s must not be local", a.Actor))
	}
	if a.Actor != verified.ApID {
		return fail(StatusForbidden, fmt.Errorf("inbox: activity.actor %s does not match verified signer %s", a.Actor, verified.ApID))
	}

	handler, ok := dispatchTable[a.Type]
	if !ok {
		log.Printf("inbox: unknown activity type %q from %s, ignoring", a.Type, verified.ApID)
		return nil
	}
	return handler(h, a, verified, target)
}

type handlerFunc func(h *Handler, a activity, verified VerifiedActor, target Target) error

// dispatchTable is spec.md design note 9's table-lookup dispatcher, keyed
// by activity.type; a few entries further switch on the embedded object's
// type (Undo, Accept/Reject).
var dispatchTable = map[string]handlerFunc{
	"Follow":  handleFollow,
	"Undo":    handleUndo,
	"Create":  handleCreate,
	"Like":    handleLike,
	"Announce": handleAnnounce,
	"Update":  handleUpdate,
	"Delete":  handleDelete,
	"Accept":  handleAcceptReject,
	"Reject":  handleAcceptReject,
	"Flag":    handleFlag,
	"Move":    handleMove,
	"Block":   handleBlockLogOnly,
}

func objectID(obj any) string {
	switch v := obj.(type) {
	case string:
		return v
	case map[string]any:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}

func objectType(obj any) string {
	if m, ok := obj.(map[string]any); ok {
		if t, ok := m["type"].(string); ok {
			return t
		}
	}
	return ""
}

func handleFollow(h *Handler, a activity, verified VerifiedActor, target Target) error {
	targetURI, err := h.localTarget(target)
	if err != nil {
		return fail(StatusBadRequest, fmt.Errorf("inbox: resolve follow target: %w", err))
	}
	if err := h.Followers.InsertFollowerByApID(targetURI, verified.ApID, a.ID); err != nil && !isUniqueViolation(err) {
		return fail(StatusBadRequest, fmt.Errorf("inbox: store follower: %w", err))
	}

	h.Async.Go(func() {
		inboxURI, err := h.inboxByApID(verified.ApID)
		if err != nil {
			log.Printf("inbox: send_accept: resolve inbox for %s: %v", verified.ApID, err)
			return
		}
		if err := h.Publish.PublishAccept(targetURI, a.ID, verified.ApID, inboxURI); err != nil {
			log.Printf("inbox: send_accept: %v", err)
		}
	})
	return nil
}

func handleUndo(h *Handler, a activity, verified VerifiedActor, target Target) error {
	innerType := objectType(a.Object)
	innerID := objectID(a.Object)

	switch innerType {
	case "Follow":
		targetURI, err := h.localTarget(target)
		if err != nil {
			return fail(StatusBadRequest, err)
		}
		if err := h.Followers.DeleteFollower(targetURI, verified.ApID); err != nil {
			return fail(StatusBadRequest, fmt.Errorf("inbox: undo follow: %w", err))
		}
	case "Like", "Announce":
		// Deletion by ap_id, owned-by-verifier check; ContentStore/FollowGraph
		// in this repo model content, not Like/Announce rows directly, so
		// this path is intentionally a no-op until a dedicated likes/
		// announces store method lands — treated as :ok per the idempotency
		// strategy (nothing to undo is not an error).
		_ = innerID
	default:
		log.Printf("inbox: Undo(%s) not handled, ignoring", innerType)
	}
	return nil
}

// checkDMPolicy enforces spec.md 4.11's "check DM access policy (see
// collaborator)" for a non-public Create(Note). A nil DM leaves the
// behavior unchanged (every DM accepted) for deployments without a
// collaborator policy wired.
func (h *Handler) checkDMPolicy(target Target, senderApID string) error {
	if h.DM == nil {
		return nil
	}
	localURI, err := h.localTarget(target)
	if err != nil {
		return fail(StatusBadRequest, fmt.Errorf("inbox: resolve dm recipient: %w", err))
	}
	recipient, err := h.Local.ByURI(localURI)
	if err != nil {
		return fail(StatusBadRequest, fmt.Errorf("inbox: resolve dm recipient: %w", err))
	}
	allowed, err := h.DM.Allowed(*recipient, senderApID)
	if err != nil {
		return fail(StatusBadRequest, fmt.Errorf("inbox: dm policy check: %w", err))
	}
	if !allowed {
		return fail(StatusForbidden, fmt.Errorf("inbox: dm from %s to %s not permitted", senderApID, localURI))
	}
	return nil
}

func handleCreate(h *Handler, a activity, verified VerifiedActor, target Target) error {
	objType := objectType(a.Object)
	obj, _ := a.Object.(map[string]any)
	if obj == nil {
		return nil
	}

	attributedTo, err := sanitize.AttributedToURI(obj["attributedTo"])
	if err != nil || attributedTo != verified.ApID {
		return fail(StatusForbidden, fmt.Errorf("inbox: attributedTo does not match verified signer"))
	}

	body, _ := obj["content"].(string)
	if summary, ok := obj["summary"].(string); ok && summary != "" {
		if sensitive, _ := obj["sensitive"].(bool); sensitive {
			body = fmt.Sprintf("[CW: %s]\n\n%s", summary, body)
		}
	}
	body = h.Sanitizer.Sanitize(body)

	objID, _ := obj["id"].(string)
	inReplyTo, _ := obj["inReplyTo"].(string)

	item := &federation.ContentItem{
		Id:           uuid.New(),
		URI:          objID,
		AuthorURI:    attributedTo,
		Body:         body,
		InReplyToURI: inReplyTo,
		CreatedAt:    time.Now(),
	}

	if inReplyTo != "" {
		if _, err := h.Content.ByURI(inReplyTo); err == nil {
			if err := h.Content.CreateRemoteComment(item); err != nil && !isUniqueViolation(err) {
				return fail(StatusBadRequest, fmt.Errorf("inbox: create comment: %w", err))
			}
			return nil
		}
	}

	switch objType {
	case "Article", "Page":
		if err := h.Content.CreateRemoteComment(item); err != nil && !isUniqueViolation(err) {
			return fail(StatusBadRequest, fmt.Errorf("inbox: create article: %w", err))
		}
	default:
		if !isPublic(obj) {
			if err := h.checkDMPolicy(target, verified.ApID); err != nil {
				return err
			}
		}
		if err := h.Content.CreateRemoteComment(item); err != nil && !isUniqueViolation(err) {
			return fail(StatusBadRequest, fmt.Errorf("inbox: create note: %w", err))
		}
	}
	return nil
}

func handleLike(h *Handler, a activity, verified VerifiedActor, target Target) error {
	objURI := objectID(a.Object)
	if h.Local.IsLocalURI(objURI) {
		log.Printf("inbox: Like on %s recorded", objURI)
	}
	return nil
}

func handleAnnounce(h *Handler, a activity, verified VerifiedActor, target Target) error {
	log.Printf("inbox: Announce of %s by %s recorded", objectID(a.Object), verified.ApID)
	return nil
}

func handleUpdate(h *Handler, a activity, verified VerifiedActor, target Target) error {
	objType := objectType(a.Object)
	switch objType {
	case "Note", "Article", "Page":
		obj, _ := a.Object.(map[string]any)
		if obj == nil {
			return nil
		}
		objID, _ := obj["id"].(string)
		body, _ := obj["content"].(string)
		item, err := h.Content.ByURI(objID)
		if err != nil {
			return nil // unknown object: nothing to update
		}
		if item.AuthorURI != verified.ApID {
			return fail(StatusForbidden, fmt.Errorf("inbox: update author mismatch"))
		}
		if err := h.Content.UpdateBody(item.Id, h.Sanitizer.Sanitize(body)); err != nil {
			return fail(StatusBadRequest, fmt.Errorf("inbox: update body: %w", err))
		}
	case "Person", "Group", "Organization", "Application", "Service":
		if err := h.Resolver.Refresh(verified.ApID); err != nil {
			log.Printf("inbox: Update(actor) refresh failed for %s: %v", verified.ApID, err)
		}
	default:
		log.Printf("inbox: Update(%s) not handled, ignoring", objType)
	}
	return nil
}

func handleDelete(h *Handler, a activity, verified VerifiedActor, target Target) error {
	objURI := objectID(a.Object)
	if objURI == verified.ApID {
		log.Printf("inbox: actor %s self-deleted; follower/content cleanup deferred to StaleCleaner", verified.ApID)
		return nil
	}
	item, err := h.Content.ByURI(objURI)
	if err != nil {
		return nil
	}
	if item.AuthorURI != verified.ApID {
		return fail(StatusForbidden, fmt.Errorf("inbox: delete author mismatch"))
	}
	if err := h.Content.SoftDelete(item.Id); err != nil {
		return fail(StatusBadRequest, fmt.Errorf("inbox: soft delete: %w", err))
	}
	return nil
}

func handleAcceptReject(h *Handler, a activity, verified VerifiedActor, target Target) error {
	innerID := objectID(a.Object)
	if innerID == "" {
		if s, ok := a.Object.(string); ok {
			innerID = s
		}
	}
	log.Printf("inbox: %s(Follow=%s) from %s", a.Type, innerID, verified.ApID)
	return nil
}

func handleFlag(h *Handler, a activity, verified VerifiedActor, target Target) error {
	var objectURIs []string
	switch v := a.Object.(type) {
	case string:
		objectURIs = []string{v}
	case []any:
		for _, o := range v {
			if id := objectID(o); id != "" {
				objectURIs = append(objectURIs, id)
			} else if s, ok := o.(string); ok {
				objectURIs = append(objectURIs, s)
			}
		}
	}
	log.Printf("inbox: Flag from %s: %q against %v", verified.ApID, a.Content, objectURIs)
	return nil
}

func handleMove(h *Handler, a activity, verified VerifiedActor, target Target) error {
	newActorURI := objectID(a.Target)
	if newActorURI == "" {
		if s, ok := a.Target.(string); ok {
			newActorURI = s
		}
	}
	if newActorURI == "" {
		return fail(StatusBadRequest, fmt.Errorf("inbox: move missing target"))
	}
	if err := h.Resolver.Refresh(newActorURI); err != nil {
		log.Printf("inbox: move target %s could not be resolved, aborting migration: %v", newActorURI, err)
		return nil
	}
	log.Printf("inbox: actor %s moved to %s; follower migration deferred to collaborator job", verified.ApID, newActorURI)
	return nil
}

func handleBlockLogOnly(h *Handler, a activity, verified VerifiedActor, target Target) error {
	log.Printf("inbox: Block from %s, no enforcement side effect", verified.ApID)
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
