package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is the shared not-found sentinel for federation store
// implementations (remote actors, followers, outbound follows, delivery
// jobs), mirroring keystore.ErrNotFound's role for key material.
var ErrNotFound = errors.New("domain: not found")

// ActorType enumerates the ActivityStreams actor types the resolver accepts
// (spec.md section 3, RemoteActor.actor_type).
type ActorType string

const (
	ActorTypePerson       ActorType = "Person"
	ActorTypeGroup        ActorType = "Group"
	ActorTypeOrganization ActorType = "Organization"
	ActorTypeApplication  ActorType = "Application"
	ActorTypeService      ActorType = "Service"
)

// RemoteActor is a cached copy of a federated actor document, keyed by its
// globally unique ActivityPub id (ApID). It replaces the narrower
// domain.RemoteAccount for everything the federation core touches; the old
// type remains for the collaborator (web UI / TUI) surface that predates it.
type RemoteActor struct {
	Id            uuid.UUID
	ApID          string
	Username      string
	Domain        string
	DisplayName   string
	AvatarURL     string
	Summary       string
	PublicKeyPEM  string
	Inbox         string
	SharedInbox   string
	ActorType     ActorType
	FetchedAt     time.Time
}

// LocalActorKeyMaterial is the encrypted keypair attached to a local actor
// (user, board, or the site itself). PrivateKeyEncrypted is the KeyVault
// blob: IV(12) || ciphertext || TAG(16).
type LocalActorKeyMaterial struct {
	Subject             string
	PublicKeyPEM        string
	PrivateKeyEncrypted []byte
}

// Follower records a remote actor following a local actor.
type Follower struct {
	Id            uuid.UUID
	ActorURI      string
	FollowerURI   string
	RemoteActorId uuid.UUID
	ActivityID    string
	CreatedAt     time.Time
	AcceptedAt    *time.Time
}

// FollowState is the lifecycle of an outbound (local -> remote) follow.
type FollowState string

const (
	FollowStatePending  FollowState = "pending"
	FollowStateAccepted FollowState = "accepted"
	FollowStateRejected FollowState = "rejected"
)

// SubjectKind distinguishes which local entity owns an outbound follow.
type SubjectKind string

const (
	SubjectKindUser  SubjectKind = "user"
	SubjectKindBoard SubjectKind = "board"
)

// OutboundFollow is the UserFollow / BoardFollow entity from spec.md section 3,
// unified here since the two differ only by which local entity they hang off.
type OutboundFollow struct {
	Id              uuid.UUID
	SubjectKind     SubjectKind
	SubjectID       uuid.UUID
	RemoteActorId   uuid.UUID
	State           FollowState
	ApID            string
	CreatedAt       time.Time
	AcceptedAt      *time.Time
	RejectedAt      *time.Time
}

// DeliveryStatus is the state machine spec.md section 8 requires:
// pending -> {delivered, failed}; failed -> {delivered, failed, abandoned};
// delivered and abandoned are terminal.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusAbandoned DeliveryStatus = "abandoned"
)

// DeliveryJob is one (activity, inbox) delivery attempt row.
type DeliveryJob struct {
	Id           uuid.UUID
	ActivityJSON string
	InboxURL     string
	ActorURI     string
	Status       DeliveryStatus
	Attempts     int
	LastError    string
	NextRetryAt  *time.Time
	DeliveredAt  *time.Time
	InsertedAt   time.Time
}

// DefaultBackoffSchedule is spec.md section 4.8's default retry ladder, in
// seconds: 60, 300, 1800, 7200, 43200, 86400.
var DefaultBackoffSchedule = []int{60, 300, 1800, 7200, 43200, 86400}

// BackoffFor returns the retry delay for the given 1-based attempt count,
// plateauing at the schedule's last entry.
func BackoffFor(attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(DefaultBackoffSchedule) {
		idx = len(DefaultBackoffSchedule) - 1
	}
	return time.Duration(DefaultBackoffSchedule[idx]) * time.Second
}
