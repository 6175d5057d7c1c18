package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/aivent/aivent/internal/domain/event"
	"github.com/aivent/aivent/internal/domain/registration"
	"github.com/aivent/aivent/internal/observability"
	"github.com/aivent/aivent/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const registrationColumns = `id, event_id, user_id, attendee_name, attendee_email,
	qr_code, status, checked_in, checked_in_at, created_at, updated_at`

type RegistrationRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewRegistrationsRepo(pool *pgxpool.Pool, prom *observability.Prom) *RegistrationRepo {
	return &RegistrationRepo{
		pool: pool,
		prom: prom,
	}
}

func (repo *RegistrationRepo) observe(op string, fn func() error) error {
	if repo.prom != nil {

		return repo.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (repo *RegistrationRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return repo.pool.BeginTx(ctx, pgx.TxOptions{})
}

func scanRegistration(row pgx.Row) (registration.Registration, error) {
	var r registration.Registration
	var status string

	err := row.Scan(
		&r.ID, &r.EventID, &r.UserID, &r.AttendeeName, &r.AttendeeEmail,
		&r.QRCode, &status, &r.CheckedIn, &r.CheckedInAt, &r.CreatedAt, &r.UpdatedAt,
	)

	if err != nil {
		return registration.Registration{}, err
	}

	r.Status = registration.Status(status)
	return r, nil
}

// CreateTx reserves one seat and inserts the registration as a single atomic
// unit relative to concurrent registrations for the same event.
//
// The seat is taken by a conditional increment: the UPDATE only matches while
// registration_count < capacity, so two racing requests can never both pass a
// stale capacity check. Per-user uniqueness rides on the partial unique index
// over (event_id, user_id) WHERE status = 'confirmed'; a violation rolls the
// whole tx back, which also undoes the counter increment.
func (repo *RegistrationRepo) CreateTx(ctx context.Context, tx pgx.Tx, req registration.CreateRegistrationRequest, qrCode string) (reg registration.Registration, evt event.Event, err error) {
	// 1) conditional seat reservation on the event row
	err = repo.observe("registrations.create_tx.reserve_seat", func() error {
		var scanErr error
		evt, scanErr = scanEvent(tx.QueryRow(ctx, `
			UPDATE events
			SET registration_count = registration_count + 1,
			    updated_at = NOW()
			WHERE id = $1
			  AND registration_count < capacity
			RETURNING `+eventColumns,
			req.EventID))
		return scanErr
	})

	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return
		}

		// No row matched: either the event is full or it does not exist.
		var exists bool

		err = repo.observe("registrations.create_tx.exists_check", func() error {
			return tx.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM events WHERE id = $1)`, req.EventID,
			).Scan(&exists)
		})

		if err != nil {
			return
		}

		if exists {
			err = registration.ErrEventFull
		} else {
			err = event.ErrNotFound
		}
		return
	}

	// 2) insert the registration row
	reg = registration.NewFromCreateRequest(req, qrCode)

	err = repo.observe("registrations.create_tx.insert", func() error {
		_, e := tx.Exec(ctx, `
			INSERT INTO registrations (`+registrationColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, reg.ID, reg.EventID, reg.UserID, reg.AttendeeName, reg.AttendeeEmail,
			reg.QRCode, string(reg.Status), reg.CheckedIn, reg.CheckedInAt,
			reg.CreatedAt, reg.UpdatedAt)
		return e
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "registrations_event_user_confirmed_uniq" {
			// caller rolls the tx back, which also returns the seat
			err = registration.ErrAlreadyRegistered
			return
		}
		return
	}

	return
}

// CheckInByQR flips checked_in exactly once for the given token.
//
// Authorization is checked against a plain read first so the caller gets 404
// vs 403 right, but the state transition itself is one conditional UPDATE:
// of N concurrent scans of the same badge, exactly one matches the
// checked_in = FALSE precondition.
func (repo *RegistrationRepo) CheckInByQR(ctx context.Context, qrCode string, organizerID string) (attendeeName string, err error) {
	var (
		status      string
		checkedIn   bool
		eventOwner  string
	)

	err = repo.observe("registrations.check_in.lookup", func() error {
		return repo.pool.QueryRow(ctx, `
			SELECT r.attendee_name, r.status, r.checked_in, e.organizer_id
			FROM registrations r
			JOIN events e ON e.id = r.event_id
			WHERE r.qr_code = $1
		`, qrCode).Scan(&attendeeName, &status, &checkedIn, &eventOwner)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = registration.ErrNotFound
		}
		return "", err
	}

	if eventOwner != organizerID {
		return "", registration.ErrNotAuthorized
	}

	if registration.Status(status) != registration.StatusConfirmed {
		// a cancelled ticket is not a valid token at the door
		return "", registration.ErrNotFound
	}

	if checkedIn {
		return "", registration.ErrAlreadyCheckedIn
	}

	var affected int64

	err = repo.observe("registrations.check_in.flip", func() error {
		tag, execErr := repo.pool.Exec(ctx, `
			UPDATE registrations
			SET checked_in = TRUE,
			    checked_in_at = NOW(),
			    updated_at = NOW()
			WHERE qr_code = $1
			  AND checked_in = FALSE
			  AND status = 'confirmed'
		`, qrCode)
		if execErr != nil {
			return execErr
		}
		affected = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return "", err
	}

	if affected == 0 {
		// lost the race against a concurrent scan of the same badge
		return "", registration.ErrAlreadyCheckedIn
	}

	return attendeeName, nil
}

// CancelTx moves a confirmed, not-yet-checked-in registration to cancelled.
// The preconditions and the transition are the same UPDATE, so a duplicate
// cancel can never decrement the seat counter twice, and a ticket that was
// already scanned at the door can never release its seat.
func (repo *RegistrationRepo) CancelTx(ctx context.Context, tx pgx.Tx, registrationID string) error {
	var affected int64

	err := repo.observe("registrations.cancel_tx", func() error {
		tag, execErr := tx.Exec(ctx, `
			UPDATE registrations
			SET status = 'cancelled',
			    updated_at = NOW()
			WHERE id = $1
			  AND status = 'confirmed'
			  AND checked_in = FALSE
		`, registrationID)
		if execErr != nil {
			return execErr
		}
		affected = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return err
	}

	if affected == 1 {
		return nil
	}

	// Nothing transitioned: missing row, double cancel, or a ticket that was
	// already used at the door.
	var status string
	var checkedIn bool

	err = repo.observe("registrations.cancel_tx.state_check", func() error {
		return tx.QueryRow(ctx,
			`SELECT status, checked_in FROM registrations WHERE id = $1`, registrationID,
		).Scan(&status, &checkedIn)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registration.ErrNotFound
		}
		return err
	}

	if checkedIn {
		return registration.ErrAlreadyCheckedIn
	}

	return registration.ErrAlreadyCancelled
}

func (repo *RegistrationRepo) GetByID(ctx context.Context, registrationID string) (registration.Registration, error) {
	var r registration.Registration
	var err error

	err = repo.observe("registrations.get_by_id", func() error {
		var scanErr error
		r, scanErr = scanRegistration(repo.pool.QueryRow(ctx,
			`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`,
			registrationID))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registration.Registration{}, registration.ErrNotFound
		}
		return registration.Registration{}, err
	}

	return r, nil
}

// GetConfirmed returns the caller's live registration for an event, if any.
// At most one row can match thanks to the partial unique index.
func (repo *RegistrationRepo) GetConfirmed(ctx context.Context, eventID, userID string) (registration.Registration, error) {
	var r registration.Registration
	var err error

	err = repo.observe("registrations.get_confirmed", func() error {
		var scanErr error
		r, scanErr = scanRegistration(repo.pool.QueryRow(ctx, `
			SELECT `+registrationColumns+`
			FROM registrations
			WHERE event_id = $1 AND user_id = $2 AND status = 'confirmed'
		`, eventID, userID))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registration.Registration{}, registration.ErrNotFound
		}
		return registration.Registration{}, err
	}

	return r, nil
}

// ListConfirmedByEventTx feeds the deletion fan-out. Callers must hold the
// event row lock in the same tx so the list cannot grow underneath them.
func (repo *RegistrationRepo) ListConfirmedByEventTx(ctx context.Context, tx pgx.Tx, eventID string) (regs []registration.Registration, err error) {
	var rows pgx.Rows

	err = repo.observe("registrations.list_confirmed_by_event", func() error {
		var qerr error
		rows, qerr = tx.Query(ctx, `
			SELECT `+registrationColumns+`
			FROM registrations
			WHERE event_id = $1 AND status = 'confirmed'
			ORDER BY created_at ASC, id ASC
		`, eventID)
		return qerr
	})

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	regs = make([]registration.Registration, 0)

	for rows.Next() {
		r, scanErr := scanRegistration(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		regs = append(regs, r)
	}

	if rows.Err() != nil {
		if repo.prom != nil {
			repo.prom.DbErrorsTotal.WithLabelValues("registrations.list_confirmed_by_event", "rows_err").Inc()
		}
		return nil, rows.Err()
	}

	return regs, nil
}

// DeleteAllForEventTx removes every registration row of an event as part of
// the deletion cascade.
func (repo *RegistrationRepo) DeleteAllForEventTx(ctx context.Context, tx pgx.Tx, eventID string) (int64, error) {
	var affected int64

	err := repo.observe("registrations.delete_all_for_event", func() error {
		tag, execErr := tx.Exec(ctx,
			`DELETE FROM registrations WHERE event_id = $1`, eventID)
		if execErr != nil {
			return execErr
		}
		affected = tag.RowsAffected()
		return nil
	})

	return affected, err
}

// ListByUserCursor pages through the caller's tickets, newest first.
func (repo *RegistrationRepo) ListByUserCursor(
	ctx context.Context,
	userID string,
	limit int,
	afterCreatedAt time.Time,
	afterID string,
) (items []registration.Registration, nextCursor *string, hasMore bool, err error) {
	op := "registrations.list_by_user_cursor"

	q := `
		SELECT ` + registrationColumns + `
		FROM registrations
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`
	limitPlusOne := limit + 1

	var rows pgx.Rows
	err = repo.observe(op, func() error {
		var qerr error
		rows, qerr = repo.pool.Query(ctx, q, userID, afterCreatedAt, afterID, limitPlusOne)
		return qerr
	})
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()

	out := make([]registration.Registration, 0, limit)

	for rows.Next() {
		r, scanErr := scanRegistration(rows)
		if scanErr != nil {
			return nil, nil, false, scanErr
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, nil, false, rows.Err()
	}

	if len(out) > limit {
		hasMore = true
		out = out[:limit]
		last := out[len(out)-1]
		cur, encErr := utils.EncodeRegistrationCursor(last.CreatedAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}

	return out, nextCursor, hasMore, nil
}
