package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aivent/aivent/internal/actorctx"
	"github.com/aivent/aivent/internal/domain/job"
	"github.com/aivent/aivent/internal/domain/notificationsdelivery"
	"github.com/aivent/aivent/internal/jobs"
	"github.com/aivent/aivent/internal/mail"
	"github.com/aivent/aivent/internal/notifications"
)

// ProcessOne claims and runs a single job. The bool reports whether a job was
// claimed at all; execution failures are absorbed into the job's retry state
// and never bubble up, so a bad job cannot stall the loop.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)

	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}

	w.metrics.IncClaimed()

	if w.prom != nil {
		w.prom.JobsInFlight.Inc()
		defer w.prom.JobsInFlight.Dec()
	}

	start := time.Now()
	execErr := w.execute(ctx, j)
	elapsed := time.Since(start)

	w.metrics.ObserveDuration(elapsed)

	if execErr != nil {
		result := w.handleFailure(ctx, j, execErr)
		w.observeResult(j.Type, result, elapsed)
		return true, nil
	}

	if err := w.repo.MarkDone(ctx, j.ID); err != nil {
		// job ran but its terminal state didn't stick; dead-letter it so an
		// operator sees it rather than letting the janitor rerun a sent mail
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		w.metrics.IncFailed()
		w.observeResult(j.Type, "failed", elapsed)
		return true, err
	}

	w.metrics.IncDone()
	w.observeResult(j.Type, "done", elapsed)

	w.log.Info("job done",
		"job_id", j.ID,
		"job_type", j.Type,
		"attempts", j.Attempts,
		"duration_ms", elapsed.Milliseconds(),
	)

	return true, nil
}

func (w *Worker) observeResult(jobType, result string, elapsed time.Duration) {
	if w.prom == nil {
		return
	}
	w.prom.JobResults.WithLabelValues(jobType, result).Inc()
	w.prom.JobDuration.WithLabelValues(jobType, result).Observe(elapsed.Seconds())
}

func (w *Worker) execute(ctx context.Context, j job.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job %s: %v", j.ID, r)
		}
	}()

	if j.UserID != nil {
		ctx = actorctx.WithUserID(ctx, *j.UserID)
	}

	switch j.Type {
	case jobs.TypeEmailSend:
		return w.sendEmail(ctx, j)
	default:
		return jobs.ErrInvalidJobType
	}
}

func (w *Worker) sendEmail(ctx context.Context, j job.Job) error {
	p, err := jobs.DecodeEmailPayload(j)
	if err != nil {
		return err
	}

	subject, html, err := mail.Render(p.TemplateID, p.Params)
	if err != nil {
		return err
	}

	// Delivery slot is keyed by the logical notification, not the job run,
	// so a retry of a job that already reached the provider is a no-op.
	kind := string(p.TemplateID)
	ref := j.ID

	if j.IdempotencyKey != nil {
		ref = *j.IdempotencyKey
	}

	err = w.deliveries.TryStart(ctx, kind, ref)

	if err != nil {
		if errors.Is(err, notificationsdelivery.ErrAlreadySent) {
			w.log.Info("skipping duplicate send", "job_id", j.ID, "kind", kind, "ref", ref)
			return nil
		}
		return err
	}

	if err := w.notifier.Send(ctx, notifications.Email{To: p.To, Subject: subject, HTML: html}); err != nil {
		_ = w.deliveries.MarkFailed(ctx, kind, ref)
		return err
	}

	return w.deliveries.MarkSent(ctx, kind, ref)
}

// isPermanent reports errors no amount of retrying can fix.
func isPermanent(err error) bool {
	return errors.Is(err, jobs.ErrInvalidJobType) ||
		errors.Is(err, jobs.ErrInvalidJobPayload) ||
		errors.Is(err, mail.ErrUnknownTemplate)
}

// handleFailure routes a failed execution to the dead-letter table or back to
// pending with backoff, and returns the metric label for the outcome.
func (w *Worker) handleFailure(ctx context.Context, j job.Job, cause error) string {
	if isPermanent(cause) {
		if err := w.repo.MarkFailed(ctx, j.ID, cause.Error()); err != nil {
			w.log.Error("mark failed error", "job_id", j.ID, "err", err)
		}

		w.metrics.IncFailed()
		w.metrics.IncDeadLettered()
		w.log.Error("job dead-lettered", "job_id", j.ID, "job_type", j.Type, "err", cause)
		return "failed"
	}

	attempts := j.Attempts + 1

	if attempts >= j.MaxAttempts {
		if err := w.repo.MarkFailed(ctx, j.ID, cause.Error()); err != nil {
			w.log.Error("mark failed error", "job_id", j.ID, "err", err)
		}

		w.metrics.IncFailed()
		w.metrics.IncDeadLettered()
		w.log.Error("job exhausted retries",
			"job_id", j.ID,
			"job_type", j.Type,
			"attempts", attempts,
			"err", cause,
		)
		return "failed"
	}

	delay := ExponentialBackoff(j.Attempts)
	runAt := time.Now().UTC().Add(delay)

	if err := w.repo.Reschedule(ctx, j.ID, runAt, cause.Error()); err != nil {
		w.log.Error("reschedule error", "job_id", j.ID, "err", err)
	}

	w.metrics.IncRetried()
	w.log.Warn("job retry scheduled",
		"job_id", j.ID,
		"job_type", j.Type,
		"attempt", attempts,
		"delay_ms", delay.Milliseconds(),
		"err", cause,
	)
	return "retry"
}
