package stale

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/deemkeen/apcore/domain"
	"github.com/google/uuid"
)

type fakeStore struct {
	actors      []*domain.RemoteActor
	referenced  map[uuid.UUID]bool
	deleted     []uuid.UUID
	selectErr   error
	referenceErr error
}

func (f *fakeStore) SelectStaleRemoteActors(olderThan time.Time, batchSize int) ([]*domain.RemoteActor, error) {
	return f.actors, f.selectErr
}

func (f *fakeStore) IsRemoteActorReferenced(id uuid.UUID) (bool, error) {
	if f.referenceErr != nil {
		return false, f.referenceErr
	}
	return f.referenced[id], nil
}

func (f *fakeStore) DeleteRemoteActor(id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeResolver struct {
	refreshed []string
	err       error
}

func (f *fakeResolver) Refresh(ctx context.Context, apID string) error {
	f.refreshed = append(f.refreshed, apID)
	return f.err
}

func TestSweepOnceRefreshesReferencedActors(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		actors:     []*domain.RemoteActor{{Id: id, ApID: "https://r.ex/u/alice"}},
		referenced: map[uuid.UUID]bool{id: true},
	}
	resolver := &fakeResolver{}
	c := New(DefaultConfig(), store, resolver)

	report := c.SweepOnce(context.Background())
	if report.Refreshed != 1 || report.Deleted != 0 || report.Errors != 0 {
		t.Fatalf("report = %+v, want {1 0 0}", report)
	}
	if len(resolver.refreshed) != 1 || resolver.refreshed[0] != "https://r.ex/u/alice" {
		t.Fatalf("refreshed = %v", resolver.refreshed)
	}
	if len(store.deleted) != 0 {
		t.Fatalf("expected no deletes, got %v", store.deleted)
	}
}

func TestSweepOnceDeletesUnreferencedActors(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		actors:     []*domain.RemoteActor{{Id: id, ApID: "https://r.ex/u/bob"}},
		referenced: map[uuid.UUID]bool{},
	}
	resolver := &fakeResolver{}
	c := New(DefaultConfig(), store, resolver)

	report := c.SweepOnce(context.Background())
	if report.Deleted != 1 || report.Refreshed != 0 || report.Errors != 0 {
		t.Fatalf("report = %+v, want {0 1 0}", report)
	}
	if len(store.deleted) != 1 || store.deleted[0] != id {
		t.Fatalf("deleted = %v, want [%s]", store.deleted, id)
	}
}

func TestSweepOnceCountsRefreshErrorsWithoutDeleting(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		actors:     []*domain.RemoteActor{{Id: id, ApID: "https://r.ex/u/carol"}},
		referenced: map[uuid.UUID]bool{id: true},
	}
	resolver := &fakeResolver{err: fmt.Errorf("network unreachable")}
	c := New(DefaultConfig(), store, resolver)

	report := c.SweepOnce(context.Background())
	if report.Errors != 1 || report.Refreshed != 0 || report.Deleted != 0 {
		t.Fatalf("report = %+v, want {0 0 1}", report)
	}
	if len(store.deleted) != 0 {
		t.Fatal("a failed refresh must not fall through to delete")
	}
}

func TestSweepOnceReturnsErrorOnSelectFailure(t *testing.T) {
	store := &fakeStore{selectErr: fmt.Errorf("db unavailable")}
	c := New(DefaultConfig(), store, &fakeResolver{})

	report := c.SweepOnce(context.Background())
	if report.Errors != 1 {
		t.Fatalf("errors = %d, want 1", report.Errors)
	}
}
