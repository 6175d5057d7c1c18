package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aivent/aivent/internal/domain/job"
	"github.com/aivent/aivent/internal/observability"
	"github.com/aivent/aivent/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrJobNotFailed = errors.New("job is not failed")

const jobColumns = `id, type, payload, status, attempts, max_attempts,
	run_at, locked_at, locked_by, last_error, idempotency_key, user_id,
	created_at, updated_at`

type JobsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewJobsRepo(pool *pgxpool.Pool, prom *observability.Prom) *JobsRepo {
	return &JobsRepo{pool: pool, prom: prom}
}

func (r *JobsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

func scanJob(row pgx.Row) (job.Job, error) {
	var j job.Job
	var status string

	err := row.Scan(
		&j.ID, &j.Type, &j.Payload, &status, &j.Attempts, &j.MaxAttempts,
		&j.RunAt, &j.LockedAt, &j.LockedBy, &j.LastError, &j.IdempotencyKey, &j.UserID,
		&j.CreatedAt, &j.UpdatedAt,
	)

	if err != nil {
		return job.Job{}, err
	}

	j.Status = job.Status(status)
	return j, nil
}

func (r *JobsRepo) insert(ctx context.Context, exec func(context.Context, string, ...any) (pgconn.CommandTag, error), j job.Job) error {
	_, err := exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, j.ID, j.Type, j.Payload, string(j.Status), j.Attempts, j.MaxAttempts,
		j.RunAt, j.LockedAt, j.LockedBy, j.LastError, j.IdempotencyKey, j.UserID,
		j.CreatedAt, j.UpdatedAt)
	return err
}

func (r *JobsRepo) Create(ctx context.Context, req job.CreateRequest) (job.Job, error) {
	j := job.New(req)
	op := "jobs.create"

	err := r.observe(op, func() error {
		return r.insert(ctx, r.pool.Exec, j)
	})

	if err != nil {
		return job.Job{}, err
	}

	return j, nil
}

func (r *JobsRepo) CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error) {
	j := job.New(req)
	op := "jobs.create_tx"

	err := r.observe(op, func() error {
		return r.insert(ctx, tx.Exec, j)
	})

	if err != nil {
		return job.Job{}, err
	}
	return j, nil
}

// MarkFailed is the dead-letter transition: terminal, never auto-retried,
// but the row stays around for inspection and manual requeue.
func (r *JobsRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	var tag pgconn.CommandTag
	var err error
	op := "jobs.mark_failed"

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `
			UPDATE jobs
			SET status = 'failed',
			    locked_at = NULL,
			    locked_by = NULL,
			    last_error = $2,
			    updated_at = NOW()
			WHERE id = $1
		`, id, errMsg)
		return err
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

func (r *JobsRepo) MarkDone(ctx context.Context, id string) error {
	var tag pgconn.CommandTag
	var err error
	op := "jobs.mark_done"

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `
			UPDATE jobs
			SET status = 'done',
			    locked_at = NULL,
			    locked_by = NULL,
			    last_error = NULL,
			    updated_at = NOW()
			WHERE id = $1
		`, id)
		return err
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// Reschedule puts a transiently-failed job back in line with its next run
// time pushed out by the caller's backoff.
func (r *JobsRepo) Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	var tag pgconn.CommandTag
	var err error
	op := "jobs.reschedule"

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `
			UPDATE jobs
			SET status = 'pending',
			    attempts = attempts + 1,
			    run_at = $2,
			    locked_at = NULL,
			    locked_by = NULL,
			    last_error = $3,
			    updated_at = NOW()
			WHERE id = $1
		`, id, runAt, errMsg)
		return err
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// ClaimNext hands one runnable job to a worker. Single statement with
// SKIP LOCKED, so concurrent workers never double-claim and never queue up
// behind each other.
func (r *JobsRepo) ClaimNext(ctx context.Context, workerID string) (job.Job, error) {
	var j job.Job
	var err error
	op := "jobs.claim_next"

	err = r.observe(op, func() error {
		var scanErr error
		j, scanErr = scanJob(r.pool.QueryRow(ctx, `
			WITH next AS (
				SELECT id
				FROM jobs
				WHERE status = 'pending'
				  AND run_at <= NOW()
				  AND attempts < max_attempts
				ORDER BY run_at ASC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			UPDATE jobs
			SET status = 'processing',
			    locked_at = NOW(),
			    locked_by = $1,
			    updated_at = NOW()
			WHERE id = (SELECT id FROM next)
			RETURNING `+jobColumns,
			workerID))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound // queue is drained
		}
		return job.Job{}, err
	}

	return j, nil
}

func (r *JobsRepo) GetByIdempotencyKey(ctx context.Context, key string) (job.Job, error) {
	var j job.Job
	var err error
	op := "jobs.get_by_idempotency_key"

	err = r.observe(op, func() error {
		var scanErr error
		j, scanErr = scanJob(r.pool.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, key))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}

	return j, nil
}

// RequeueStaleProcessing returns jobs whose worker died mid-flight to the
// pending pool once their lock is older than lockTTL.
func (r *JobsRepo) RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error) {
	secs := int64(lockTTL.Seconds())
	if secs <= 0 {
		secs = 30
	}

	var rows int64
	op := "jobs.requeue_stale"

	err := r.observe(op, func() error {
		tag, execErr := r.pool.Exec(ctx, `
			UPDATE jobs
			SET status = 'pending',
			    locked_at = NULL,
			    locked_by = NULL,
			    updated_at = NOW()
			WHERE status = 'processing'
			  AND locked_at IS NOT NULL
			  AND locked_at < NOW() - ($1 * INTERVAL '1 second')
		`, secs)

		if execErr != nil {
			return execErr
		}
		rows = tag.RowsAffected()
		return nil
	})

	return rows, err
}

// Admin ops endpoints

func (r *JobsRepo) ListCursor(
	ctx context.Context,
	status *string,
	limit int,
	afterUpdatedAt time.Time,
	afterID string,
) (items []job.Job, nextCursor *string, hasMore bool, err error) {
	op := "jobs.admin.list_cursor"

	base := `SELECT ` + jobColumns + ` FROM jobs`

	var (
		conds   []string
		args    []any
		argsPos = 1
	)

	if status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", argsPos))
		args = append(args, *status)
		argsPos++
	}

	// DESC keyset: fetch rows "older" than cursor
	conds = append(conds, fmt.Sprintf("(updated_at, id) < ($%d, $%d)", argsPos, argsPos+1))
	args = append(args, afterUpdatedAt, afterID)
	argsPos += 2

	q := base
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}

	limitPlusOne := limit + 1
	q += fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", argsPos)
	args = append(args, limitPlusOne)

	var rows pgx.Rows

	err = r.observe(op, func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, q, args...)
		return qerr
	})
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()

	out := make([]job.Job, 0, limit)

	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, nil, false, scanErr
		}
		out = append(out, j)
	}

	if rows.Err() != nil {
		return nil, nil, false, rows.Err()
	}

	if len(out) > limit {
		hasMore = true
		out = out[:limit]
		last := out[len(out)-1]

		cur, encErr := utils.EncodeJobCursor(last.UpdatedAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}

	return out, nextCursor, hasMore, nil
}

func (r *JobsRepo) GetByID(ctx context.Context, id string) (job.Job, error) {
	var j job.Job
	var err error
	op := "jobs.admin.get_by_id"

	err = r.observe(op, func() error {
		var scanErr error
		j, scanErr = scanJob(r.pool.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}

	return j, nil
}

// Retry requeues one dead-lettered job.
func (r *JobsRepo) Retry(ctx context.Context, id string) error {
	var status string
	var err error
	op := "jobs.admin.retry.check_status"

	err = r.observe(op, func() error {
		return r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.ErrJobNotFound
		}
		return err
	}

	if status != "failed" {
		return ErrJobNotFailed
	}

	requeueOp := "jobs.admin.retry.requeue"

	return r.observe(requeueOp, func() error {
		_, e := r.pool.Exec(ctx, `
			UPDATE jobs
			SET status = 'pending',
			    attempts = 0,
			    run_at = NOW(),
			    locked_at = NULL,
			    locked_by = NULL,
			    last_error = NULL,
			    updated_at = NOW()
			WHERE id = $1
		`, id)
		return e
	})
}

// RetryManyFailed requeues a bounded batch of dead letters, newest first.
func (r *JobsRepo) RetryManyFailed(ctx context.Context, limit int) (int64, error) {
	var tag pgconn.CommandTag
	var err error
	op := "jobs.admin.retry_many_failed"

	if limit <= 0 {
		limit = 50
	}

	if limit > 500 {
		limit = 500
	}

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `
			WITH picked AS (
				SELECT id
				FROM jobs
				WHERE status = 'failed'
				ORDER BY updated_at DESC
				LIMIT $1
			)
			UPDATE jobs
			SET status = 'pending',
			    attempts = 0,
			    run_at = NOW(),
			    locked_at = NULL,
			    locked_by = NULL,
			    last_error = NULL,
			    updated_at = NOW()
			WHERE id IN (SELECT id FROM picked)
		`, limit)
		return err
	})

	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}
