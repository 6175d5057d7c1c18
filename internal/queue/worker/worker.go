package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aivent/aivent/internal/domain/job"
	"github.com/aivent/aivent/internal/notifications"
	"github.com/aivent/aivent/internal/observability"
	"github.com/aivent/aivent/internal/queue/redisclient"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
	RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error)
}

// Deliveries dedupes provider calls per logical notification.
type Deliveries interface {
	TryStart(ctx context.Context, kind, refID string) error
	MarkSent(ctx context.Context, kind, refID string) error
	MarkFailed(ctx context.Context, kind, refID string) error
}

type Config struct {
	WorkerID     string
	PollInterval time.Duration
	Concurrency  int
	LockTTL      time.Duration // processing locks older than this are considered abandoned
}

type Worker struct {
	cfg        Config
	repo       JobsRepository
	deliveries Deliveries
	notifier   notifications.Notifier
	metrics    *observability.JobMetrics
	prom       *observability.Prom
	log        *slog.Logger

	// optional wake-up channel; nil means pure polling
	nudge *redisclient.Client

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, repo JobsRepository, deliveries Deliveries, notifier notifications.Notifier, log *slog.Logger) *Worker {
	if cfg.WorkerID == "" {
		host, _ := os.Hostname()
		cfg.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &Worker{
		cfg:        cfg,
		repo:       repo,
		deliveries: deliveries,
		notifier:   notifier,
		metrics:    observability.NewJobMetrics(),
		log:        log,
	}
}

// WithProm attaches the shared prometheus vectors for job metrics.
func (w *Worker) WithProm(p *observability.Prom) *Worker {
	w.prom = p
	return w
}

// WithNudge lets committed producers wake the worker before the next tick.
func (w *Worker) WithNudge(c *redisclient.Client) *Worker {
	w.nudge = c
	return w
}

func (w *Worker) Metrics() observability.JobMetricsSnapShot {
	return w.metrics.Snapshot()
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}

// Run blocks until ctx is cancelled. It starts cfg.Concurrency claim loops
// plus one janitor that requeues abandoned processing jobs, and drains all
// loops before returning.
func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.janitor(ctx)
	}()

	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.loop(ctx, n)
		}(i)
	}

	<-ctx.Done()
	w.setReady(false)
	w.log.Info("worker shutting down", "worker_id", w.cfg.WorkerID)

	wg.Wait()
	return nil
}

func (w *Worker) loop(ctx context.Context, n int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := w.ProcessOne(ctx)

		if err != nil {
			w.log.Error("process error", "loop", n, "err", err)
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}

		if processed {
			// keep draining while there is work
			continue
		}

		w.idleWait(ctx)
	}
}

// idleWait parks the loop until more work might exist: a nudge from a
// producer, or the poll interval elapsing.
func (w *Worker) idleWait(ctx context.Context) {
	if w.nudge != nil {
		woken, err := w.nudge.WaitNudge(ctx, w.cfg.PollInterval)
		if err == nil || woken {
			return
		}
		// redis down: fall back to plain sleep for this round
	}

	w.sleep(ctx, w.cfg.PollInterval)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) janitor(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.LockTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.repo.RequeueStaleProcessing(ctx, w.cfg.LockTTL)

			if err != nil {
				w.log.Error("requeue stale failed", "err", err)
				continue
			}

			if n > 0 {
				w.log.Warn("requeued stale jobs", "count", n)
			}
		}
	}
}
