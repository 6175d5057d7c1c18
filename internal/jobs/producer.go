package jobs

import (
	"context"
	"time"

	"github.com/aivent/aivent/internal/domain/event"
	"github.com/aivent/aivent/internal/domain/job"
	"github.com/aivent/aivent/internal/domain/registration"
	"github.com/aivent/aivent/internal/mail"
	"github.com/jackc/pgx/v5"
)

// JobsCreator is the slice of the jobs repo the producer needs.
type JobsCreator interface {
	Create(ctx context.Context, req job.CreateRequest) (job.Job, error)
	CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error)
}

// Producer turns domain happenings into queued email jobs. It only writes the
// jobs table: delivery outcome is observable through job status, never through
// a callback into the request path.
type Producer struct {
	jobs        JobsCreator
	maxAttempts int
}

func NewProducer(jobs JobsCreator, maxAttempts int) *Producer {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	return &Producer{jobs: jobs, maxAttempts: maxAttempts}
}

func eventParams(attendeeName string, evt event.Event) map[string]string {
	start := evt.StartAt.UTC()

	params := map[string]string{
		"userName":  attendeeName,
		"eventName": evt.Title,
		"date":      start.Format("Monday, 2 January 2006"),
		"time":      start.Format("15:04 MST"),
	}

	if evt.Venue != "" {
		params["venue"] = evt.Venue
	}

	return params
}

func (p *Producer) emailRequest(tmpl mail.Template, to string, params map[string]string, key string, userID *string) (job.CreateRequest, error) {
	raw, err := EncodeEmailPayload(EmailPayload{
		TemplateID: tmpl,
		To:         to,
		Params:     params,
	})

	if err != nil {
		return job.CreateRequest{}, err
	}

	req := job.CreateRequest{
		Type:        TypeEmailSend,
		Payload:     raw,
		RunAt:       time.Now().UTC(),
		MaxAttempts: p.maxAttempts,
		UserID:      userID,
	}

	if key != "" {
		req.IdempotencyKey = &key
	}

	return req, nil
}

// EnqueueRegistrationAcceptedTx adds the confirmation mail to the queue inside
// the registration transaction, so the job commits iff the registration does.
func (p *Producer) EnqueueRegistrationAcceptedTx(ctx context.Context, tx pgx.Tx, reg registration.Registration, evt event.Event) (job.Job, error) {
	req, err := p.emailRequest(
		mail.TemplateRegistrationAccepted,
		reg.AttendeeEmail,
		eventParams(reg.AttendeeName, evt),
		"email:registration.accepted:"+reg.ID,
		&reg.UserID,
	)

	if err != nil {
		return job.Job{}, err
	}

	return p.jobs.CreateTx(ctx, tx, req)
}

// EnqueueEventCancelledTx fans out one cancellation mail per registration
// during event deletion, before any rows are removed.
func (p *Producer) EnqueueEventCancelledTx(ctx context.Context, tx pgx.Tx, reg registration.Registration, evt event.Event) (job.Job, error) {
	req, err := p.emailRequest(
		mail.TemplateEventCancelled,
		reg.AttendeeEmail,
		eventParams(reg.AttendeeName, evt),
		"email:event.cancelled:"+reg.ID,
		&reg.UserID,
	)

	if err != nil {
		return job.Job{}, err
	}

	return p.jobs.CreateTx(ctx, tx, req)
}

type SubscriptionEmail struct {
	Email         string
	Name          string
	PlanName      string
	StartDate     string
	EndDate       string
	DashboardLink string
}

// EnqueueSubscriptionSuccess queues the subscription-activated mail. No
// idempotency key: a plan can be re-activated any number of times.
func (p *Producer) EnqueueSubscriptionSuccess(ctx context.Context, in SubscriptionEmail) (job.Job, error) {
	params := map[string]string{
		"name":      in.Name,
		"planName":  in.PlanName,
		"startDate": in.StartDate,
		"endDate":   in.EndDate,
	}

	if in.DashboardLink != "" {
		params["dashboardLink"] = in.DashboardLink
	}

	req, err := p.emailRequest(mail.TemplateSubscriptionSuccess, in.Email, params, "", nil)

	if err != nil {
		return job.Job{}, err
	}

	return p.jobs.Create(ctx, req)
}
