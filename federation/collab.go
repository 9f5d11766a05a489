// Package federation ties the lower-level federation/* packages to the
// collaborator surface spec.md section 1 scopes out of the core: content
// storage, local actor identity, and DM access policy. This repo has no
// separate collaborator service, so ContentStore/ActorDirectory/DMPolicy
// are implemented directly against this repo's own db tables
// (remote_content, accounts, federation_followers) rather than called out
// to anything external.
package federation

import (
	"time"

	"github.com/google/uuid"
)

// ContentItem is the narrow view Publisher and InboxHandler need of a
// locally stored article/comment, independent of whether it backs a
// top-level Note or a threaded reply.
type ContentItem struct {
	Id           uuid.UUID
	URI          string
	AuthorURI    string
	Body         string
	InReplyToURI string
	CreatedAt    time.Time
	EditedAt     *time.Time
}

// ContentStore is the collaborator surface for reading and mutating local
// content (spec.md 4.10/4.11's Article|Note|Comment operations). stegodon's
// domain model has a single content kind (Note); this repo has no separate
// Board/Article/Comment entities, so every content operation here maps onto
// rows of the remote_content table, and threaded replies are items with
// InReplyToURI set.
type ContentStore interface {
	ByURI(uri string) (*ContentItem, error)
	ByID(id uuid.UUID) (*ContentItem, error)
	CreateRemoteComment(item *ContentItem) error
	UpdateBody(id uuid.UUID, body string) error
	SoftDelete(id uuid.UUID) error
}

// LocalActor is the narrow view of a local user/site actor Publisher and
// InboxHandler need: its ID, username, and actor URI, read from the
// existing accounts table. Follow state is not part of it (see FollowGraph).
type LocalActor struct {
	ID       uuid.UUID
	Username string
	ActorURI string
}

// ActorDirectory resolves local actor identity by URI or username, the
// "local target" half of InboxHandler's dispatch (spec.md 4.11, `target`).
type ActorDirectory interface {
	ByURI(actorURI string) (*LocalActor, error)
	ByUsername(username string) (*LocalActor, error)
	IsLocalURI(uri string) bool
}

// DMPolicy decides whether a remote actor may deliver a private Create(Note)
// to a local user (spec.md 4.11's "check DM access policy (see
// collaborator)"). The baseline policy accepts a DM only from an actor that
// is a recorded follower of the recipient; whether the recipient follows
// the sender is not checked. Stricter policies (e.g. an explicit
// allow-list) can wrap this.
type DMPolicy interface {
	Allowed(recipient LocalActor, senderApID string) (bool, error)
}

// FollowGraph is the subset of follow-relationship storage Publisher and
// InboxHandler need that ContentStore/ActorDirectory don't cover: whether a
// remote actor is a recorded follower of a local actor. Recording and
// removing followers is not part of this interface.
type FollowGraph interface {
	IsFollowedByFollower(localActorURI, followerApID string) (bool, error)
}

// domainFollowPolicy is the stock DMPolicy: allow a DM only when the sender
// is a recorded follower of the recipient. A follow in the other direction
// does not count.
type domainFollowPolicy struct {
	follows FollowGraph
}

// NewDomainFollowPolicy builds the baseline DMPolicy described above.
func NewDomainFollowPolicy(follows FollowGraph) DMPolicy {
	return &domainFollowPolicy{follows: follows}
}

func (p *domainFollowPolicy) Allowed(recipient LocalActor, senderApID string) (bool, error) {
	return p.follows.IsFollowedByFollower(recipient.ActorURI, senderApID)
}
