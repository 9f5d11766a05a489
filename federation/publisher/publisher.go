// Package publisher builds outbound ActivityStreams JSON for local events
// and hands the result to DeliveryQueue (spec.md component 4.10), adapted
// from activitypub/outbox.go's activity-builder functions.
package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const activityStreamsContext = "https://www.w3.org/ns/activitystreams"
const publicAddress = "https://www.w3.org/ns/activitystreams#Public"

// maxSummaryLen is spec.md 4.10's Article summary cap, in runes.
const maxSummaryLen = 501

// Queue is the delivery surface Publisher enqueues onto.
type Queue interface {
	Enqueue(activityJSON, signerURI string, inboxes []string) (int, error)
	EnqueueForFollowers(activityJSON, actorURI string) (int, error)
	EnqueueForArticle(activityJSON, actorURI string, boardInboxes []string) (int, error)
}

// Publisher builds the outbound verb set spec.md 4.10 names and enqueues
// each for delivery. All builders are pure with respect to their inputs;
// the enqueue calls are the only side effect.
type Publisher struct {
	queue Queue
}

func New(queue Queue) *Publisher {
	return &Publisher{queue: queue}
}

// ArticleInput is the shared shape PublishCreate/PublishUpdate build from.
type ArticleInput struct {
	ActorURI     string
	ObjectURI    string
	ObjectType   string // Article | Note | Question
	Title        string
	Body         string // already HTML-safe content
	InReplyTo    string
	Published    time.Time
	Updated      *time.Time
	BoardURIs    []string // board audiences this content was cross-posted to
	BoardInboxes []string // resolved inboxes for BoardURIs, supplied by the caller
}

func newActivityID(actorURI, verb string) string {
	return fmt.Sprintf("%s#%s-%s", actorURI, verb, uuid.New().String())
}

func truncateSummary(body string) string {
	runes := []rune(body)
	if len(runes) <= maxSummaryLen {
		return body
	}
	return string(runes[:maxSummaryLen-1]) + "…"
}

func hashtagObjects(body string, hashtags []string) []map[string]any {
	if len(hashtags) == 0 {
		return nil
	}
	tags := make([]map[string]any, 0, len(hashtags))
	for _, h := range hashtags {
		tags = append(tags, map[string]any{
			"type": "Hashtag",
			"href": fmt.Sprintf("https://tags.example/tags/%s", h),
			"name": "#" + h,
		})
	}
	return tags
}

func contextWithHashtags(hasHashtags bool) any {
	if !hasHashtags {
		return activityStreamsContext
	}
	return []any{
		activityStreamsContext,
		map[string]any{"Hashtag": "as:Hashtag"},
	}
}

// buildArticleObject builds the object map shared by Create/Update(Article|Note).
// hashtags should already be parsed outside code blocks and inline code by the
// caller (spec.md 4.10), since that parsing is a content-format concern, not a
// federation one.
func buildArticleObject(in ArticleInput, hashtags []string) map[string]any {
	obj := map[string]any{
		"id":           in.ObjectURI,
		"type":         in.ObjectType,
		"attributedTo": in.ActorURI,
		"content":      in.Body,
		"mediaType":    "text/html",
		"published":    in.Published.Format(time.RFC3339),
		"to":           []string{publicAddress},
	}
	if in.ObjectType == "Article" {
		obj["summary"] = truncateSummary(stripTags(in.Body))
		if in.Title != "" {
			obj["name"] = in.Title
		}
	}
	if in.InReplyTo != "" {
		obj["inReplyTo"] = in.InReplyTo
	}
	if in.Updated != nil {
		obj["updated"] = in.Updated.Format(time.RFC3339)
	}

	cc := []string{in.ActorURI + "/followers"}
	cc = append(cc, in.BoardURIs...)
	obj["cc"] = cc

	if tags := hashtagObjects(in.Body, hashtags); len(tags) > 0 {
		obj["tag"] = tags
	}
	return obj
}

func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PublishCreate builds and enqueues a Create(Article|Note|Question) to
// in.ActorURI's followers plus any board inboxes supplied.
func (p *Publisher) PublishCreate(in ArticleInput, hashtags []string) (int, error) {
	obj := buildArticleObject(in, hashtags)
	activity := map[string]any{
		"@context":  contextWithHashtags(len(hashtags) > 0),
		"id":        newActivityID(in.ActorURI, "create"),
		"type":      "Create",
		"actor":     in.ActorURI,
		"published": in.Published.Format(time.RFC3339),
		"to":        []string{publicAddress},
		"cc":        obj["cc"],
		"object":    obj,
	}
	return p.enqueueArticle(activity, in.ActorURI, in.BoardInboxes)
}

// PublishUpdate builds and enqueues an Update(Article|Note) to followers.
func (p *Publisher) PublishUpdate(in ArticleInput, hashtags []string) (int, error) {
	obj := buildArticleObject(in, hashtags)
	activity := map[string]any{
		"@context": contextWithHashtags(len(hashtags) > 0),
		"id":       newActivityID(in.ActorURI, "update"),
		"type":     "Update",
		"actor":    in.ActorURI,
		"to":       []string{publicAddress},
		"cc":       obj["cc"],
		"object":   obj,
	}
	return p.enqueueArticle(activity, in.ActorURI, in.BoardInboxes)
}

// PublishUpdateActor emits Update(actor) to followers — used both for
// profile edits and for publish_key_rotation (spec.md 4.10).
func (p *Publisher) PublishUpdateActor(actorURI string, actorDoc map[string]any) (int, error) {
	activity := map[string]any{
		"@context": activityStreamsContext,
		"id":       newActivityID(actorURI, "update"),
		"type":     "Update",
		"actor":    actorURI,
		"to":       []string{publicAddress},
		"object":   actorDoc,
	}
	return p.enqueueFollowers(activity, actorURI)
}

// PublishKeyRotation emits Update(actor) to followers after a key-rotation,
// per spec.md 4.10's publish_key_rotation(subject).
func (p *Publisher) PublishKeyRotation(subject string, actorDoc map[string]any) (int, error) {
	return p.PublishUpdateActor(subject, actorDoc)
}

// PublishDelete builds and enqueues a Delete(Tombstone) for a content item,
// delivered to actorURI's followers plus any extra inboxes supplied (e.g.
// subscribed relays, which aren't followers but still mirror the feed).
func (p *Publisher) PublishDelete(actorURI, objectURI, formerType string, extraInboxes ...string) (int, error) {
	tombstone := map[string]any{
		"id":         objectURI,
		"type":       "Tombstone",
		"formerType": formerType,
		"deleted":    time.Now().Format(time.RFC3339),
	}
	activity := map[string]any{
		"@context":  activityStreamsContext,
		"id":        newActivityID(actorURI, "delete"),
		"type":      "Delete",
		"actor":     actorURI,
		"published": time.Now().Format(time.RFC3339),
		"to":        []string{publicAddress},
		"cc":        []string{actorURI + "/followers"},
		"object":    tombstone,
	}
	if len(extraInboxes) == 0 {
		return p.enqueueFollowers(activity, actorURI)
	}
	return p.enqueueArticle(activity, actorURI, extraInboxes)
}

// PublishAnnounce builds and enqueues an Announce of articleURI, sent by a
// board actor (spec.md 4.10).
func (p *Publisher) PublishAnnounce(boardActorURI, articleURI string) (int, error) {
	activity := map[string]any{
		"@context":  activityStreamsContext,
		"id":        newActivityID(boardActorURI, "announce"),
		"type":      "Announce",
		"actor":     boardActorURI,
		"published": time.Now().Format(time.RFC3339),
		"to":        []string{publicAddress},
		"cc":        []string{boardActorURI + "/followers"},
		"object":    articleURI,
	}
	return p.enqueueFollowers(activity, boardActorURI)
}

// PublishFollow builds and enqueues a Follow from actorURI to targetURI,
// delivered directly to a single inbox (not fanned out).
func (p *Publisher) PublishFollow(actorURI, targetURI, targetInbox string) (string, int, error) {
	followID := newActivityID(actorURI, "follow")
	activity := map[string]any{
		"@context": activityStreamsContext,
		"id":       followID,
		"type":     "Follow",
		"actor":    actorURI,
		"object":   targetURI,
	}
	n, err := p.enqueue(activity, actorURI, []string{targetInbox})
	return followID, n, err
}

// PublishAccept builds and enqueues an Accept(Follow) in response to an
// inbound Follow, delivered directly to the follower's inbox (spec.md
// 4.11's "schedule send_accept on the task pool").
func (p *Publisher) PublishAccept(localActorURI, followID, followerApID, followerInbox string) error {
	activity := map[string]any{
		"@context": activityStreamsContext,
		"id":       newActivityID(localActorURI, "accept"),
		"type":     "Accept",
		"actor":    localActorURI,
		"object": map[string]any{
			"id":     followID,
			"type":   "Follow",
			"actor":  followerApID,
			"object": localActorURI,
		},
	}
	_, err := p.enqueue(activity, localActorURI, []string{followerInbox})
	return err
}

// PublishUndo wraps verb/object/target into an Undo and delivers it to a
// single inbox (spec.md 4.10: Undo(Follow|Block|Like|Announce)).
func (p *Publisher) PublishUndo(actorURI, verb, innerID, innerObject, targetInbox string) (int, error) {
	activity := map[string]any{
		"@context": activityStreamsContext,
		"id":       newActivityID(actorURI, "undo"),
		"type":     "Undo",
		"actor":    actorURI,
		"object": map[string]any{
			"id":     innerID,
			"type":   verb,
			"actor":  actorURI,
			"object": innerObject,
		},
	}
	return p.enqueue(activity, actorURI, []string{targetInbox})
}

// PublishLike builds and enqueues a Like for objectURI, delivered to a
// single inbox (the object's author).
func (p *Publisher) PublishLike(actorURI, objectURI, targetInbox string) (string, int, error) {
	likeID := newActivityID(actorURI, "like")
	activity := map[string]any{
		"@context": activityStreamsContext,
		"id":       likeID,
		"type":     "Like",
		"actor":    actorURI,
		"object":   objectURI,
	}
	n, err := p.enqueue(activity, actorURI, []string{targetInbox})
	return likeID, n, err
}

// PublishBlock builds and enqueues a Block of targetURI.
func (p *Publisher) PublishBlock(actorURI, targetURI, targetInbox string) (int, error) {
	activity := map[string]any{
		"@context": activityStreamsContext,
		"id":       newActivityID(actorURI, "block"),
		"type":     "Block",
		"actor":    actorURI,
		"object":   targetURI,
	}
	return p.enqueue(activity, actorURI, []string{targetInbox})
}

// PublishFlag builds and enqueues a Flag (moderation report), reported by
// the site actor (spec.md 4.10).
func (p *Publisher) PublishFlag(siteActorURI string, objectURIs []string, content, targetInbox string) (int, error) {
	activity := map[string]any{
		"@context": activityStreamsContext,
		"id":       newActivityID(siteActorURI, "flag"),
		"type":     "Flag",
		"actor":    siteActorURI,
		"content":  content,
		"object":   objectURIs,
	}
	return p.enqueue(activity, siteActorURI, []string{targetInbox})
}

// PublishDM builds and enqueues a private Create(Note) addressed only to
// recipientURI (spec.md 4.10: restricted addressing, tag=[Mention],
// context/conversation set).
func (p *Publisher) PublishDM(actorURI, objectURI, body, recipientURI, recipientInbox, conversation string) (int, error) {
	noteID := newActivityID(actorURI, "dm")
	note := map[string]any{
		"id":           objectURI,
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      body,
		"mediaType":    "text/html",
		"published":    time.Now().Format(time.RFC3339),
		"to":           []string{recipientURI},
		"tag": []map[string]any{
			{"type": "Mention", "href": recipientURI, "name": recipientURI},
		},
		"context":      conversation,
		"conversation": conversation,
	}
	activity := map[string]any{
		"@context": activityStreamsContext,
		"id":       noteID,
		"type":     "Create",
		"actor":    actorURI,
		"to":       []string{recipientURI},
		"object":   note,
	}
	return p.enqueue(activity, actorURI, []string{recipientInbox})
}

// enqueue delivers directly to the given inboxes only — used by the
// single-target verbs (Follow, Undo, Like, Block, Flag, DM) where the
// recipient is exactly the inbox list passed in, never the sender's
// followers.
func (p *Publisher) enqueue(activity map[string]any, actorURI string, inboxes []string) (int, error) {
	body, err := json.Marshal(activity)
	if err != nil {
		return 0, fmt.Errorf("publisher: marshal activity: %w", err)
	}
	return p.queue.Enqueue(string(body), actorURI, inboxes)
}

// enqueueFollowers delivers to actorURI's followers only.
func (p *Publisher) enqueueFollowers(activity map[string]any, actorURI string) (int, error) {
	body, err := json.Marshal(activity)
	if err != nil {
		return 0, fmt.Errorf("publisher: marshal activity: %w", err)
	}
	return p.queue.EnqueueForFollowers(string(body), actorURI)
}

// enqueueArticle delivers to actorURI's followers plus the given board
// inboxes (spec.md 4.10's Article cross-posting).
func (p *Publisher) enqueueArticle(activity map[string]any, actorURI string, boardInboxes []string) (int, error) {
	body, err := json.Marshal(activity)
	if err != nil {
		return 0, fmt.Errorf("publisher: marshal activity: %w", err)
	}
	return p.queue.EnqueueForArticle(string(body), actorURI, boardInboxes)
}
