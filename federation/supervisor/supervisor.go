// Package supervisor starts and stops the federation core's long-lived
// workers together (spec.md component 4.13): DeliveryWorker, StaleCleaner,
// a DomainPolicy cache-refresh loop, and a bounded task pool for async
// sub-work like Accept delivery and DM publish, adapted from
// app/app.go's own start-everything/shutdown-with-deadline shape.
package supervisor

import (
	"context"
	"log"
	"sync"
	"time"
)

// DeliveryWorker is the subset of federation/delivery.Worker the
// supervisor drives.
type DeliveryWorker interface {
	Run(ctx context.Context)
}

// StaleCleaner is the subset of federation/stale.Cleaner the supervisor
// drives.
type StaleCleaner interface {
	Run(ctx context.Context)
}

// PolicyRefresher is the subset of federation/domainpolicy.Policy the
// supervisor drives on an interval; DomainPolicy itself is read lock-free
// by every other component, so the supervisor only owns the write side.
type PolicyRefresher interface {
	Refresh() error
}

// Config carries the tunables the supervisor needs beyond what each
// worker already configures for itself.
type Config struct {
	// PolicyRefreshInterval is how often DomainPolicy reloads its
	// blocklist/allowlist from settings.
	PolicyRefreshInterval time.Duration
	// TaskPoolSize bounds concurrent async sub-work (send_accept,
	// publish_dm_*); spec.md 4.13 requires these be owned by a pool the
	// supervisor can drain on shutdown, not fire-and-forget goroutines.
	TaskPoolSize int
	// ShutdownGrace is how long Stop waits for the task pool to drain
	// before returning anyway.
	ShutdownGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		PolicyRefreshInterval: 5 * time.Minute,
		TaskPoolSize:          16,
		ShutdownGrace:         30 * time.Second,
	}
}

// Supervisor owns the four long-lived workers spec.md 4.13 names and
// starts/stops them together.
type Supervisor struct {
	cfg Config

	delivery DeliveryWorker
	stale    StaleCleaner
	policy   PolicyRefresher

	sem chan struct{}
	wg  sync.WaitGroup

	cancel context.CancelFunc
	runWg  sync.WaitGroup
}

func New(cfg Config, delivery DeliveryWorker, stale StaleCleaner, policy PolicyRefresher) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		delivery: delivery,
		stale:    stale,
		policy:   policy,
		sem:      make(chan struct{}, cfg.TaskPoolSize),
	}
}

// Start launches all four workers in the background and returns
// immediately. Call Stop to bring them down together.
func (s *Supervisor) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	s.runWg.Add(3)
	go func() { defer s.runWg.Done(); s.delivery.Run(ctx) }()
	go func() { defer s.runWg.Done(); s.stale.Run(ctx) }()
	go func() { defer s.runWg.Done(); s.runPolicyRefresh(ctx) }()
}

func (s *Supervisor) runPolicyRefresh(ctx context.Context) {
	t := time.NewTicker(s.cfg.PolicyRefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.policy.Refresh(); err != nil {
				log.Printf("supervisor: domain policy refresh: %v", err)
			}
		}
	}
}

// Go runs f on the bounded task pool (satisfies federation/inbox.AsyncRunner
// and any other caller needing fire-and-drain background work). Submission
// blocks once TaskPoolSize tasks are already in flight, applying backpressure
// rather than letting the pool grow unbounded.
func (s *Supervisor) Go(f func()) {
	s.sem <- struct{}{}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		f()
	}()
}

// Stop cancels the three polling loops and waits for both them and the
// task pool to drain, up to ShutdownGrace.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.runWg.Wait()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("supervisor: all workers and tasks drained")
	case <-time.After(s.cfg.ShutdownGrace):
		log.Println("supervisor: shutdown grace period elapsed, proceeding with tasks still in flight")
	}
}
