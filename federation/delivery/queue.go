// Package delivery implements DeliveryQueue and DeliveryWorker (spec.md
// components 4.8 and 4.9): enqueueing activities for outbound delivery,
// deduplicating by inbox, and the polling worker that actually ships them.
package delivery

import (
	"fmt"
	"strings"

	"github.com/deemkeen/apcore/domain"
	"github.com/google/uuid"
)

const DefaultMaxAttempts = 6

// FollowerLister resolves deliverable inboxes for a local actor's followers.
type FollowerLister interface {
	FollowerInboxes(actorURI string) ([]string, error)
}

// Store is the persistence surface DeliveryQueue needs. db.DB satisfies it.
type Store interface {
	InsertDeliveryJob(job *domain.DeliveryJob) (inserted bool, err error)
	PurgeCompletedDeliveryJobs() error
	RetryDeliveryJob(id uuid.UUID) error
	AbandonDeliveryJob(id uuid.UUID) error
	RetryAllFailedForDomain(domain string) error
	AbandonAllForDomain(domain string) error
	DeliveryStatusCounts() (StatusCounts, error)
	DeliveryErrorRate24h() (float64, error)
}

// StatusCounts mirrors db.DeliveryStatusCounts's shape without a direct
// dependency on the db package, keeping this package import-cycle-free.
type StatusCounts struct {
	Pending, Failed, Delivered, Abandoned int
}

type Queue struct {
	store     Store
	followers FollowerLister
}

func New(store Store, followers FollowerLister) *Queue {
	return &Queue{store: store, followers: followers}
}

// Enqueue inserts one job per unique inbox in inboxes, returning the count
// that were actually new (spec.md 4.8).
func (q *Queue) Enqueue(activityJSON, signerURI string, inboxes []string) (int, error) {
	unique := dedupe(inboxes)
	count := 0
	for _, inbox := range unique {
		job := &domain.DeliveryJob{
			ActivityJSON: activityJSON,
			InboxURL:     inbox,
			ActorURI:     signerURI,
		}
		inserted, err := q.store.InsertDeliveryJob(job)
		if err != nil {
			return count, fmt.Errorf("delivery: enqueue %s: %w", inbox, err)
		}
		if inserted {
			count++
		}
	}
	return count, nil
}

// EnqueueForFollowers resolves actorURI's follower inboxes (preferring
// shared_inbox), dedups, and enqueues.
func (q *Queue) EnqueueForFollowers(activityJSON, actorURI string) (int, error) {
	inboxes, err := q.followers.FollowerInboxes(actorURI)
	if err != nil {
		return 0, fmt.Errorf("delivery: list followers of %s: %w", actorURI, err)
	}
	return q.Enqueue(activityJSON, actorURI, inboxes)
}

// EnqueueForArticle unions user-follower and board-follower inboxes; boardInboxes
// is supplied by the caller already filtered to public/guest-visible boards
// (spec.md 4.8 — the board-visibility rule lives in the publisher, which
// knows about Board entities; this package only dedups and enqueues).
func (q *Queue) EnqueueForArticle(activityJSON, actorURI string, boardInboxes []string) (int, error) {
	userInboxes, err := q.followers.FollowerInboxes(actorURI)
	if err != nil {
		return 0, fmt.Errorf("delivery: list followers of %s: %w", actorURI, err)
	}
	all := append(append([]string{}, userInboxes...), boardInboxes...)
	return q.Enqueue(activityJSON, actorURI, all)
}

func dedupe(inboxes []string) []string {
	seen := make(map[string]struct{}, len(inboxes))
	var out []string
	for _, raw := range inboxes {
		inbox := strings.TrimSpace(raw)
		if inbox == "" {
			continue
		}
		if _, ok := seen[inbox]; ok {
			continue
		}
		seen[inbox] = struct{}{}
		out = append(out, inbox)
	}
	return out
}

// PurgeCompletedJobs deletes delivered rows older than 7 days and abandoned
// rows older than 30 days.
func (q *Queue) PurgeCompletedJobs() error {
	return q.store.PurgeCompletedDeliveryJobs()
}

// --- administrative operations (spec.md 4.8) ---

func (q *Queue) RetryJob(id uuid.UUID) error                 { return q.store.RetryDeliveryJob(id) }
func (q *Queue) AbandonJob(id uuid.UUID) error                { return q.store.AbandonDeliveryJob(id) }
func (q *Queue) RetryAllFailedForDomain(domain string) error  { return q.store.RetryAllFailedForDomain(domain) }
func (q *Queue) AbandonAllForDomain(domain string) error      { return q.store.AbandonAllForDomain(domain) }
func (q *Queue) StatusCounts() (StatusCounts, error)          { return q.store.DeliveryStatusCounts() }
func (q *Queue) ErrorRate24h() (float64, error)               { return q.store.DeliveryErrorRate24h() }
