package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aivent/aivent/internal/domain/event"
	"github.com/aivent/aivent/internal/domain/job"
	"github.com/aivent/aivent/internal/domain/registration"
	"github.com/aivent/aivent/internal/jobs"
	"github.com/aivent/aivent/internal/mail"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type captureCreator struct {
	created   []job.CreateRequest
	createdTx []job.CreateRequest
	err       error
}

func (c *captureCreator) Create(ctx context.Context, req job.CreateRequest) (job.Job, error) {
	if c.err != nil {
		return job.Job{}, c.err
	}
	c.created = append(c.created, req)
	return job.New(req), nil
}

func (c *captureCreator) CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error) {
	if c.err != nil {
		return job.Job{}, c.err
	}
	c.createdTx = append(c.createdTx, req)
	return job.New(req), nil
}

func decodePayload(t *testing.T, req job.CreateRequest) jobs.EmailPayload {
	t.Helper()

	var p jobs.EmailPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	return p
}

func sampleEvent() event.Event {
	return event.Event{
		ID:      uuid.NewString(),
		Title:   "GopherCon",
		Venue:   "Moscone Center",
		StartAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC),
	}
}

func sampleRegistration() registration.Registration {
	return registration.Registration{
		ID:            uuid.NewString(),
		EventID:       uuid.NewString(),
		UserID:        uuid.NewString(),
		AttendeeName:  "Ada Lovelace",
		AttendeeEmail: "ada@example.com",
		Status:        registration.StatusConfirmed,
	}
}

func TestEnqueueRegistrationAcceptedTx(t *testing.T) {
	creator := &captureCreator{}
	p := jobs.NewProducer(creator, 5)

	reg := sampleRegistration()
	evt := sampleEvent()

	j, err := p.EnqueueRegistrationAcceptedTx(context.Background(), nil, reg, evt)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if len(creator.createdTx) != 1 {
		t.Fatalf("created %d tx jobs, want 1", len(creator.createdTx))
	}

	req := creator.createdTx[0]

	if req.Type != jobs.TypeEmailSend {
		t.Fatalf("type = %s", req.Type)
	}
	if req.IdempotencyKey == nil || *req.IdempotencyKey != "email:registration.accepted:"+reg.ID {
		t.Fatalf("idempotency key = %v", req.IdempotencyKey)
	}
	if req.UserID == nil || *req.UserID != reg.UserID {
		t.Fatalf("user id = %v", req.UserID)
	}
	if req.MaxAttempts != 5 {
		t.Fatalf("max attempts = %d", req.MaxAttempts)
	}

	payload := decodePayload(t, req)

	if payload.TemplateID != mail.TemplateRegistrationAccepted {
		t.Fatalf("template = %s", payload.TemplateID)
	}
	if payload.To != reg.AttendeeEmail {
		t.Fatalf("to = %s", payload.To)
	}
	if payload.Params["eventName"] != evt.Title || payload.Params["venue"] != evt.Venue {
		t.Fatalf("params = %v", payload.Params)
	}
	if payload.Params["date"] != "Monday, 2 March 2026" {
		t.Fatalf("date param = %q", payload.Params["date"])
	}

	if j.Status != job.StatusPending {
		t.Fatalf("job status = %s", j.Status)
	}
}

func TestEnqueueEventCancelledTx(t *testing.T) {
	creator := &captureCreator{}
	p := jobs.NewProducer(creator, 3)

	reg := sampleRegistration()
	evt := sampleEvent()
	evt.Venue = ""

	if _, err := p.EnqueueEventCancelledTx(context.Background(), nil, reg, evt); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	req := creator.createdTx[0]

	if req.IdempotencyKey == nil || *req.IdempotencyKey != "email:event.cancelled:"+reg.ID {
		t.Fatalf("idempotency key = %v", req.IdempotencyKey)
	}

	payload := decodePayload(t, req)

	if payload.TemplateID != mail.TemplateEventCancelled {
		t.Fatalf("template = %s", payload.TemplateID)
	}
	if _, ok := payload.Params["venue"]; ok {
		t.Fatal("venue param present for a venueless event")
	}
}

func TestEnqueueSubscriptionSuccess(t *testing.T) {
	creator := &captureCreator{}
	p := jobs.NewProducer(creator, 5)

	_, err := p.EnqueueSubscriptionSuccess(context.Background(), jobs.SubscriptionEmail{
		Email:     "linus@example.com",
		Name:      "Linus",
		PlanName:  "Pro",
		StartDate: "2026-03-01",
		EndDate:   "2027-03-01",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if len(creator.created) != 1 {
		t.Fatalf("created %d jobs, want 1 (outside any tx)", len(creator.created))
	}

	req := creator.created[0]

	// re-activations are legitimate, so no dedup key
	if req.IdempotencyKey != nil {
		t.Fatalf("idempotency key = %q, want none", *req.IdempotencyKey)
	}

	payload := decodePayload(t, req)

	if payload.TemplateID != mail.TemplateSubscriptionSuccess {
		t.Fatalf("template = %s", payload.TemplateID)
	}
	if _, ok := payload.Params["dashboardLink"]; ok {
		t.Fatal("dashboardLink param present without a link")
	}
}

func TestEnqueue_CreatorErrorPropagates(t *testing.T) {
	boom := errors.New("unique violation")
	p := jobs.NewProducer(&captureCreator{err: boom}, 5)

	_, err := p.EnqueueRegistrationAcceptedTx(context.Background(), nil, sampleRegistration(), sampleEvent())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want creator error", err)
	}
}
