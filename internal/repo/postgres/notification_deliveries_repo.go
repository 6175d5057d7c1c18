package postgres

import (
	"context"
	"errors"

	"github.com/aivent/aivent/internal/domain/notificationsdelivery"
	"github.com/aivent/aivent/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationDeliveriesRepo guards the provider call itself: one row per
// (kind, ref), claimed before sending and settled after. Job-level
// idempotency keys stop duplicate enqueues; this stops duplicate sends when a
// claimed job dies between the provider call and MarkDone.
type NotificationDeliveriesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewNotificationDeliveriesRepo(pool *pgxpool.Pool, prom *observability.Prom) *NotificationDeliveriesRepo {
	return &NotificationDeliveriesRepo{pool: pool, prom: prom}
}

func (r *NotificationDeliveriesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// TryStart claims the delivery slot. Exactly one caller wins the insert; a
// loser learns whether the winner already finished (ErrAlreadySent) or is
// still in flight (ErrInProgress).
func (r *NotificationDeliveriesRepo) TryStart(ctx context.Context, kind, refID string) error {
	op := "deliveries.try_start"

	var inserted bool

	err := r.observe(op, func() error {
		tag, execErr := r.pool.Exec(ctx, `
			INSERT INTO notification_deliveries (id, kind, ref_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, 'sending', NOW(), NOW())
			ON CONFLICT (kind, ref_id) DO NOTHING
		`, uuid.NewString(), kind, refID)
		if execErr != nil {
			return execErr
		}
		inserted = tag.RowsAffected() == 1
		return nil
	})

	if err != nil {
		return err
	}

	if inserted {
		return nil
	}

	// Lost the insert race, or a previous attempt already holds the slot.
	var status string

	err = r.observe("deliveries.try_start.check", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT status FROM notification_deliveries
			WHERE kind = $1 AND ref_id = $2
		`, kind, refID).Scan(&status)
	})

	if err != nil {
		return err
	}

	if status == "sent" {
		return notificationsdelivery.ErrAlreadySent
	}

	// A 'failed' row is free for the next attempt right away. A 'sending'
	// row is only reclaimable once stale, i.e. the previous holder crashed
	// between claiming and settling.
	var reclaimed bool

	err = r.observe("deliveries.try_start.reclaim", func() error {
		tag, execErr := r.pool.Exec(ctx, `
			UPDATE notification_deliveries
			SET status = 'sending', updated_at = NOW()
			WHERE kind = $1 AND ref_id = $2
			  AND (status = 'failed'
			       OR (status = 'sending' AND updated_at < NOW() - INTERVAL '30 seconds'))
		`, kind, refID)
		if execErr != nil {
			return execErr
		}
		reclaimed = tag.RowsAffected() == 1
		return nil
	})

	if err != nil {
		return err
	}

	if reclaimed {
		return nil
	}

	return notificationsdelivery.ErrInProgress
}

func (r *NotificationDeliveriesRepo) MarkSent(ctx context.Context, kind, refID string) error {
	op := "deliveries.mark_sent"

	return r.observe(op, func() error {
		tag, err := r.pool.Exec(ctx, `
			UPDATE notification_deliveries
			SET status = 'sent', updated_at = NOW()
			WHERE kind = $1 AND ref_id = $2
		`, kind, refID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errors.New("delivery row missing")
		}
		return nil
	})
}

// MarkFailed releases the slot so the next job attempt can claim it again.
func (r *NotificationDeliveriesRepo) MarkFailed(ctx context.Context, kind, refID string) error {
	op := "deliveries.mark_failed"

	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE notification_deliveries
			SET status = 'failed', updated_at = NOW()
			WHERE kind = $1 AND ref_id = $2
		`, kind, refID)
		return err
	})
}
