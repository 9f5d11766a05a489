// Package stale implements StaleCleaner (spec.md component 4.12): a
// periodic sweep over remote_actors rows nobody has touched in a while,
// refreshing the ones still referenced and deleting the rest.
package stale

import (
	"context"
	"log"
	"time"

	"github.com/deemkeen/apcore/domain"
	"github.com/google/uuid"
)

// Config carries the tunables spec.md section 6 names for StaleCleaner.
type Config struct {
	CleanupInterval time.Duration
	MaxAge          time.Duration
	BatchSize       int
}

func DefaultConfig() Config {
	return Config{
		CleanupInterval: 24 * time.Hour,
		MaxAge:          30 * 24 * time.Hour,
		BatchSize:       50,
	}
}

// Store is the remote_actors read/write surface StaleCleaner needs.
type Store interface {
	SelectStaleRemoteActors(olderThan time.Time, batchSize int) ([]*domain.RemoteActor, error)
	IsRemoteActorReferenced(id uuid.UUID) (bool, error)
	DeleteRemoteActor(id uuid.UUID) error
}

// Resolver refreshes a still-referenced actor's cached row. On error the
// actor is left alone for this pass rather than deleted or retried inline.
type Resolver interface {
	Refresh(ctx context.Context, apID string) error
}

// Report is the counts spec.md 4.12 asks each sweep to produce.
type Report struct {
	Refreshed int
	Deleted   int
	Errors    int
}

// Cleaner is the StaleCleaner state machine.
type Cleaner struct {
	cfg      Config
	store    Store
	resolver Resolver
}

func New(cfg Config, store Store, resolver Resolver) *Cleaner {
	return &Cleaner{cfg: cfg, store: store, resolver: resolver}
}

// Run sweeps every CleanupInterval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	t := time.NewTicker(c.cfg.CleanupInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			report := c.SweepOnce(ctx)
			log.Printf("stale: sweep done refreshed=%d deleted=%d errors=%d", report.Refreshed, report.Deleted, report.Errors)
		}
	}
}

// SweepOnce runs a single cleanup pass over one batch of stale rows
// (spec.md 4.12: batches of 50, fetched_at older than MaxAge). Call
// repeatedly (e.g. from Run's ticker) to drain more than one batch across
// successive intervals.
func (c *Cleaner) SweepOnce(ctx context.Context) Report {
	var report Report

	cutoff := time.Now().Add(-c.cfg.MaxAge)
	actors, err := c.store.SelectStaleRemoteActors(cutoff, c.cfg.BatchSize)
	if err != nil {
		log.Printf("stale: select stale actors: %v", err)
		report.Errors++
		return report
	}

	for _, a := range actors {
		referenced, err := c.store.IsRemoteActorReferenced(a.Id)
		if err != nil {
			log.Printf("stale: check references for %s: %v", a.ApID, err)
			report.Errors++
			continue
		}

		if referenced {
			if err := c.resolver.Refresh(ctx, a.ApID); err != nil {
				log.Printf("stale: refresh %s: %v", a.ApID, err)
				report.Errors++
				continue
			}
			report.Refreshed++
			continue
		}

		if err := c.store.DeleteRemoteActor(a.Id); err != nil {
			log.Printf("stale: delete %s: %v", a.ApID, err)
			report.Errors++
			continue
		}
		report.Deleted++
	}

	return report
}
