package delivery

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/deemkeen/apcore/domain"
	"github.com/google/uuid"
)

type WorkerState string

const (
	WorkerRunning      WorkerState = "running"
	WorkerShuttingDown WorkerState = "shutting_down"
)

// KeyProvider loads the signer's private key PEM for a job's actor URI.
type KeyProvider interface {
	DecryptPrivatePEM(subject string) (string, error)
}

// Sender performs the signed POST to a remote inbox.
type Sender interface {
	SignedPostPEM(ctx context.Context, inboxURL, keyID, privatePEM string, body []byte) (status int, err error)
}

// DomainBlockChecker reports whether an inbox's host is currently blocked.
type DomainBlockChecker interface {
	IsBlocked(domain string) bool
}

// Config carries the tunables spec.md section 6 names for DeliveryWorker.
type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxConcurrency int
	MaxAttempts    int
	TaskTimeout    time.Duration // http receive timeout + 15s grace
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   60 * time.Second,
		BatchSize:      50,
		MaxConcurrency: 10,
		MaxAttempts:    DefaultMaxAttempts,
		TaskTimeout:    45 * time.Second,
	}
}

// Worker is the DeliveryWorker state machine (spec.md 4.9).
type Worker struct {
	cfg    Config
	store  WorkerStore
	keys   KeyProvider
	sender Sender
	policy DomainBlockChecker

	mu    sync.Mutex
	state WorkerState

	sem chan struct{}
	wg  sync.WaitGroup
}

// WorkerStore is the delivery-job read/write surface the poller needs,
// distinct from Queue's enqueue/admin surface. db.DB satisfies it.
type WorkerStore interface {
	SelectDueDeliveryJobs(batchSize int) ([]*domain.DeliveryJob, error)
	MarkDeliveryJobDelivered(id uuid.UUID) error
	MarkDeliveryJobFailed(id uuid.UUID, attempts int, lastErr string, maxAttempts int) error
	AbandonDeliveryJobBlocked(id uuid.UUID) error
}

func NewWorker(cfg Config, store WorkerStore, keys KeyProvider, sender Sender, policy DomainBlockChecker) *Worker {
	return &Worker{
		cfg:    cfg,
		store:  store,
		keys:   keys,
		sender: sender,
		policy: policy,
		state:  WorkerRunning,
		sem:    make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Run polls until ctx is cancelled, then drains in-flight deliveries.
func (w *Worker) Run(ctx context.Context) {
	jitter := time.Duration(float64(w.cfg.PollInterval) * (0.9 + 0.2*rand.Float64()))
	t := time.NewTicker(jitter)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		case <-t.C:
			w.pollOnce(ctx)
			t.Reset(time.Duration(float64(w.cfg.PollInterval) * (0.9 + 0.2*rand.Float64())))
		}
	}
}

func (w *Worker) shutdown() {
	w.mu.Lock()
	w.state = WorkerShuttingDown
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Worker) isShuttingDown() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == WorkerShuttingDown
}

func (w *Worker) pollOnce(ctx context.Context) {
	if w.isShuttingDown() {
		return
	}
	jobs, err := w.store.SelectDueDeliveryJobs(w.cfg.BatchSize)
	if err != nil {
		log.Printf("delivery: select due jobs: %v", err)
		return
	}

	for _, job := range jobs {
		job := job
		w.sem <- struct{}{}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.deliver(ctx, job)
		}()
	}
}

func (w *Worker) deliver(parent context.Context, job *domain.DeliveryJob) {
	log.Printf("delivery.start job=%s inbox=%s", job.Id, job.InboxURL)
	start := time.Now()
	status := "ok"
	defer func() {
		log.Printf("delivery.stop job=%s status=%s duration=%s", job.Id, status, time.Since(start))
	}()

	host := hostOf(job.InboxURL)
	if w.policy != nil && w.policy.IsBlocked(host) {
		status = "domain_blocked"
		if err := w.store.AbandonDeliveryJobBlocked(job.Id); err != nil {
			log.Printf("delivery: abandon blocked job %s: %v", job.Id, err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(parent, w.cfg.TaskTimeout)
	defer cancel()

	subject, keyID := subjectAndKeyID(job.ActorURI)
	privPEM, err := w.keys.DecryptPrivatePEM(subject)
	if err != nil {
		status = "key_error"
		w.fail(job, fmt.Errorf("load signer key for %s: %w", subject, err))
		return
	}

	respStatus, err := w.sender.SignedPostPEM(ctx, job.InboxURL, keyID, privPEM, []byte(job.ActivityJSON))
	if err != nil {
		if ctx.Err() != nil {
			// per-task timeout: leave the row unchanged, it is repicked
			// on the next poll.
			status = "timeout"
			return
		}
		status = "transport_error"
		w.fail(job, err)
		return
	}

	if respStatus/100 == 2 {
		status = "delivered"
		if err := w.store.MarkDeliveryJobDelivered(job.Id); err != nil {
			log.Printf("delivery: mark delivered %s: %v", job.Id, err)
		}
		return
	}

	status = "http_error"
	w.fail(job, fmt.Errorf("http status %d", respStatus))
}

func (w *Worker) fail(job *domain.DeliveryJob, cause error) {
	attempts := job.Attempts + 1
	if err := w.store.MarkDeliveryJobFailed(job.Id, attempts, cause.Error(), w.cfg.MaxAttempts); err != nil {
		log.Printf("delivery: mark failed %s: %v", job.Id, err)
	}
}

// subjectAndKeyID derives the KeyStore subject and the draft-cavage keyId
// from an actor URI: the subject is the URI unchanged and the keyId is the
// URI plus "#main-key". No path pattern is checked.
func subjectAndKeyID(actorURI string) (subject, keyID string) {
	return actorURI, actorURI + "#main-key"
}

func hostOf(rawURL string) string {
	noScheme := rawURL
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		noScheme = rawURL[idx+3:]
	}
	if idx := strings.IndexAny(noScheme, "/:"); idx >= 0 {
		noScheme = noScheme[:idx]
	}
	return noScheme
}
