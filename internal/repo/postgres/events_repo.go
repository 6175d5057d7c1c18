package postgres

import (
	"context"
	"errors"

	"github.com/aivent/aivent/internal/domain/event"
	"github.com/aivent/aivent/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = `id, organizer_id, title, venue, capacity, registration_count,
	ticket_type, ticket_price, start_at, end_at, created_at, updated_at`

type EventsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

// constructor function

func NewEventsRepo(pool *pgxpool.Pool, prom *observability.Prom) *EventsRepo {
	return &EventsRepo{pool: pool, prom: prom}
}

func (r *EventsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanEvent(row pgx.Row) (event.Event, error) {
	var e event.Event
	var ticketType string

	err := row.Scan(
		&e.ID, &e.OrganizerID, &e.Title, &e.Venue, &e.Capacity, &e.RegistrationCount,
		&ticketType, &e.TicketPrice, &e.StartAt, &e.EndAt, &e.CreatedAt, &e.UpdatedAt,
	)

	if err != nil {
		return event.Event{}, err
	}

	e.TicketType = event.TicketType(ticketType)
	return e, nil
}

// Insert stores an event reference row. Event metadata is owned by an external
// service; this is how its rows land in the core (and how tests seed them).
func (r *EventsRepo) Insert(ctx context.Context, e event.Event) error {
	op := "events.insert"

	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO events (`+eventColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, e.ID, e.OrganizerID, e.Title, e.Venue, e.Capacity, e.RegistrationCount,
			string(e.TicketType), e.TicketPrice, e.StartAt, e.EndAt, e.CreatedAt, e.UpdatedAt)
		return err
	})
}

func (r *EventsRepo) GetByID(ctx context.Context, id string) (event.Event, error) {
	var e event.Event
	var err error

	op := "events.get_by_id"

	err = r.observe(op, func() error {
		var scanErr error
		e, scanErr = scanEvent(r.pool.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event.Event{}, event.ErrNotFound
		}
		return event.Event{}, err
	}

	return e, nil
}

// GetByIDForUpdateTx loads and row-locks the event inside tx. Event deletion
// takes this lock first so registrations cannot slip in between the fan-out
// read and the row deletes.
func (r *EventsRepo) GetByIDForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (event.Event, error) {
	var e event.Event
	var err error

	op := "events.get_for_update"

	err = r.observe(op, func() error {
		var scanErr error
		e, scanErr = scanEvent(tx.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event.Event{}, event.ErrNotFound
		}
		return event.Event{}, err
	}

	return e, nil
}

// DecrementCountTx takes one seat back. GREATEST keeps the counter at zero
// even if a stray double-decrement ever got past the status guards.
func (r *EventsRepo) DecrementCountTx(ctx context.Context, tx pgx.Tx, id string) error {
	op := "events.decrement_count"

	var affected int64

	err := r.observe(op, func() error {
		tag, execErr := tx.Exec(ctx, `
			UPDATE events
			SET registration_count = GREATEST(registration_count - 1, 0),
			    updated_at = NOW()
			WHERE id = $1
		`, id)
		if execErr != nil {
			return execErr
		}
		affected = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return err
	}

	if affected == 0 {
		return event.ErrNotFound
	}

	return nil
}

func (r *EventsRepo) DeleteTx(ctx context.Context, tx pgx.Tx, id string) error {
	op := "events.delete"

	var affected int64

	err := r.observe(op, func() error {
		tag, execErr := tx.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
		if execErr != nil {
			return execErr
		}
		affected = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return err
	}

	if affected == 0 {
		return event.ErrNotFound
	}

	return nil
}
