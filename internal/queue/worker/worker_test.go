package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aivent/aivent/internal/domain/job"
	"github.com/aivent/aivent/internal/domain/notificationsdelivery"
	"github.com/aivent/aivent/internal/jobs"
	"github.com/aivent/aivent/internal/mail"
	"github.com/aivent/aivent/internal/notifications"
	"github.com/aivent/aivent/internal/queue/worker"
	"github.com/aivent/aivent/internal/repo/memory"
	"github.com/google/uuid"
)

type fakeDeliveries struct {
	mu          sync.Mutex
	started     map[string]int
	sent        map[string]bool
	failed      map[string]int
	tryStartErr error
}

func newFakeDeliveries() *fakeDeliveries {
	return &fakeDeliveries{
		started: make(map[string]int),
		sent:    make(map[string]bool),
		failed:  make(map[string]int),
	}
}

func (f *fakeDeliveries) key(kind, refID string) string { return kind + "|" + refID }

func (f *fakeDeliveries) TryStart(ctx context.Context, kind, refID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tryStartErr != nil {
		return f.tryStartErr
	}
	f.started[f.key(kind, refID)]++
	return nil
}

func (f *fakeDeliveries) MarkSent(ctx context.Context, kind, refID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[f.key(kind, refID)] = true
	return nil
}

func (f *fakeDeliveries) MarkFailed(ctx context.Context, kind, refID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[f.key(kind, refID)]++
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	failFirst int // fail the first N sends
	calls     int
	delivered []notifications.Email
}

func (f *fakeNotifier) Send(ctx context.Context, email notifications.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return errors.New("smtp unavailable")
	}
	f.delivered = append(f.delivered, email)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestWorker(repo *memory.JobsRepo, deliveries *fakeDeliveries, notifier *fakeNotifier) *worker.Worker {
	return worker.New(worker.Config{
		WorkerID:     "test-worker",
		PollInterval: 10 * time.Millisecond,
		Concurrency:  1,
	}, repo, deliveries, notifier, testLogger())
}

func enqueueEmail(t *testing.T, repo *memory.JobsRepo, maxAttempts int) job.Job {
	t.Helper()

	payload, err := jobs.EncodeEmailPayload(jobs.EmailPayload{
		TemplateID: mail.TemplateRegistrationAccepted,
		To:         "ada@example.com",
		Params: map[string]string{
			"userName":  "Ada Lovelace",
			"eventName": "GopherCon",
			"date":      "Monday, 2 March 2026",
			"time":      "09:00 UTC",
		},
	})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}

	key := "email:registration.accepted:" + uuid.NewString()

	j, err := repo.Create(context.Background(), job.CreateRequest{
		Type:           jobs.TypeEmailSend,
		Payload:        payload,
		MaxAttempts:    maxAttempts,
		IdempotencyKey: &key,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

func getJob(t *testing.T, repo *memory.JobsRepo, id string) job.Job {
	t.Helper()

	j, err := repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return j
}

func TestProcessOne_DeliversAndMarksDone(t *testing.T) {
	repo := memory.NewJobsRepo()
	deliveries := newFakeDeliveries()
	notifier := &fakeNotifier{}

	j := enqueueEmail(t, repo, 5)

	w := newTestWorker(repo, deliveries, notifier)

	processed, err := w.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if !processed {
		t.Fatal("processed = false, want true")
	}

	got := getJob(t, repo, j.ID)
	if got.Status != job.StatusDone {
		t.Fatalf("status = %s, want done", got.Status)
	}

	if len(notifier.delivered) != 1 {
		t.Fatalf("delivered %d emails, want 1", len(notifier.delivered))
	}

	email := notifier.delivered[0]
	if email.To != "ada@example.com" || email.Subject == "" || email.HTML == "" {
		t.Fatalf("unexpected email: %+v", email)
	}

	ref := *j.IdempotencyKey
	if !deliveries.sent[deliveries.key(string(mail.TemplateRegistrationAccepted), ref)] {
		t.Fatal("delivery slot was not settled as sent")
	}
}

func TestProcessOne_EmptyQueue(t *testing.T) {
	w := newTestWorker(memory.NewJobsRepo(), newFakeDeliveries(), &fakeNotifier{})

	processed, err := w.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if processed {
		t.Fatal("processed = true on an empty queue")
	}
}

func TestProcessOne_TransientFailureReschedules(t *testing.T) {
	repo := memory.NewJobsRepo()
	notifier := &fakeNotifier{failFirst: 1000}

	j := enqueueEmail(t, repo, 5)

	w := newTestWorker(repo, newFakeDeliveries(), notifier)

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	got := getJob(t, repo, j.ID)

	if got.Status != job.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
	if !got.RunAt.After(time.Now()) {
		t.Fatal("run_at was not pushed into the future")
	}
	if got.LastError == nil || *got.LastError == "" {
		t.Fatal("last_error not recorded")
	}
}

func TestProcessOne_RetriesThenDelivers(t *testing.T) {
	repo := memory.NewJobsRepo()
	deliveries := newFakeDeliveries()
	notifier := &fakeNotifier{failFirst: 2}

	now := time.Now().UTC()
	repo.SetClock(func() time.Time { return now })

	j := enqueueEmail(t, repo, 5)

	w := newTestWorker(repo, deliveries, notifier)

	for i := 0; i < 3; i++ {
		processed, err := w.ProcessOne(context.Background())
		if err != nil {
			t.Fatalf("ProcessOne #%d: %v", i+1, err)
		}
		if !processed {
			t.Fatalf("ProcessOne #%d claimed nothing", i+1)
		}

		// jump past whatever backoff was scheduled
		now = now.Add(10 * time.Minute)
	}

	got := getJob(t, repo, j.ID)
	if got.Status != job.StatusDone {
		t.Fatalf("status = %s, want done after retries", got.Status)
	}
	if got.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", got.Attempts)
	}
	if len(notifier.delivered) != 1 {
		t.Fatalf("delivered %d emails, want exactly 1", len(notifier.delivered))
	}
}

func TestProcessOne_ExhaustionDeadLetters(t *testing.T) {
	repo := memory.NewJobsRepo()
	notifier := &fakeNotifier{failFirst: 1000}

	j := enqueueEmail(t, repo, 1)

	w := newTestWorker(repo, newFakeDeliveries(), notifier)

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	got := getJob(t, repo, j.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.LastError == nil {
		t.Fatal("dead letter lost its last_error")
	}

	// a dead letter must never be claimed again
	processed, err := w.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if processed {
		t.Fatal("worker claimed a failed job")
	}
}

func TestProcessOne_PermanentErrorDeadLettersImmediately(t *testing.T) {
	repo := memory.NewJobsRepo()
	notifier := &fakeNotifier{}

	bad := job.New(job.CreateRequest{
		Type:        jobs.TypeEmailSend,
		Payload:     json.RawMessage(`{"templateId":"NO_SUCH_TEMPLATE","to":"ada@example.com"}`),
		MaxAttempts: 5,
	})
	repo.Put(bad)

	w := newTestWorker(repo, newFakeDeliveries(), notifier)

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	got := getJob(t, repo, bad.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed (no retries for a bad payload)", got.Status)
	}
	if notifier.calls != 0 {
		t.Fatalf("notifier called %d times for an undecodable job", notifier.calls)
	}
}

func TestProcessOne_DuplicateDeliverySkipsSend(t *testing.T) {
	repo := memory.NewJobsRepo()
	deliveries := newFakeDeliveries()
	deliveries.tryStartErr = notificationsdelivery.ErrAlreadySent
	notifier := &fakeNotifier{}

	j := enqueueEmail(t, repo, 5)

	w := newTestWorker(repo, deliveries, notifier)

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	got := getJob(t, repo, j.ID)
	if got.Status != job.StatusDone {
		t.Fatalf("status = %s, want done (already-sent is success)", got.Status)
	}
	if notifier.calls != 0 {
		t.Fatalf("notifier called %d times for an already-sent notification", notifier.calls)
	}
}

func TestRun_DrainsAndStops(t *testing.T) {
	repo := memory.NewJobsRepo()
	deliveries := newFakeDeliveries()
	notifier := &fakeNotifier{}

	for i := 0; i < 5; i++ {
		enqueueEmail(t, repo, 5)
	}

	w := worker.New(worker.Config{
		WorkerID:     "test-worker",
		PollInterval: 5 * time.Millisecond,
		Concurrency:  3,
	}, repo, deliveries, notifier, testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	deadline := time.After(3 * time.Second)
	for {
		if w.Metrics().Done >= 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("queue not drained: %+v", w.Metrics())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	if len(notifier.delivered) != 5 {
		t.Fatalf("delivered %d emails, want 5", len(notifier.delivered))
	}
}
