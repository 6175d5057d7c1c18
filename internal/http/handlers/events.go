package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aivent/aivent/internal/cache"
	"github.com/aivent/aivent/internal/config"
	"github.com/aivent/aivent/internal/domain/event"
	"github.com/aivent/aivent/internal/domain/job"
	"github.com/aivent/aivent/internal/domain/registration"
	"github.com/aivent/aivent/internal/http/middlewares"
	"github.com/aivent/aivent/internal/repo/postgres"
	"github.com/aivent/aivent/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

type EventsRepository interface {
	GetByID(ctx context.Context, id string) (event.Event, error)
	GetByIDForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (event.Event, error)
	DeleteTx(ctx context.Context, tx pgx.Tx, id string) error
}

// RegistrationsCascade is the slice of the registrations repo the deletion
// fan-out needs.
type RegistrationsCascade interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	ListConfirmedByEventTx(ctx context.Context, tx pgx.Tx, eventID string) ([]registration.Registration, error)
	DeleteAllForEventTx(ctx context.Context, tx pgx.Tx, eventID string) (int64, error)
}

type CancelEnqueuer interface {
	EnqueueEventCancelledTx(ctx context.Context, tx pgx.Tx, reg registration.Registration, evt event.Event) (job.Job, error)
}

type EventsHandler struct {
	repo     EventsRepository
	regs     RegistrationsCascade
	producer CancelEnqueuer
	cache    *cache.Cache
	nudge    Nudger
}

func NewEventsHandler(repo EventsRepository, regs RegistrationsCascade, producer CancelEnqueuer, c *cache.Cache) *EventsHandler {
	return &EventsHandler{
		repo:     repo,
		regs:     regs,
		producer: producer,
		cache:    c,
	}
}

func (h *EventsHandler) WithNudge(n Nudger) *EventsHandler {
	h.nudge = n
	return h
}

// GET /v1/events/:id
func (h *EventsHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "event id must be a valid UUID", nil)
		return
	}

	cacheKey := "event:" + id

	if h.cache != nil {
		if v, ok := h.cache.Get(cacheKey); ok {
			if evt, ok := v.(event.Event); ok {
				RespondJSONWithETag(ctx, http.StatusOK, gin.H{
					"event":     evt,
					"seatsLeft": evt.SeatsLeft(),
				})
				return
			}
		}
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	evt, err := h.repo.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			RespondNotFound(ctx, "Event not found")
			return
		}

		RespondInternal(ctx, "Could not fetch event")
		return
	}

	if h.cache != nil {
		h.cache.Set(cacheKey, evt)
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"event":     evt,
		"seatsLeft": evt.SeatsLeft(),
	})
}

// DELETE /v1/events/:id
//
// One transaction end to end: lock the event row, enqueue one cancellation
// mail per confirmed registration, drop the registrations, drop the event.
// Registration requests serialize behind the row lock, so nobody can slip
// into the event between the fan-out read and the deletes. Any failure rolls
// everything back: no attendee is dropped and no mail is half-sent.
func (h *EventsHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "event id must be a valid UUID", nil)
		return
	}

	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	role, _ := middlewares.RoleFromContext(ctx)

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	tx, err := h.regs.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not delete event")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	evt, err := h.repo.GetByIDForUpdateTx(cctx, tx, id)

	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			RespondNotFound(ctx, "Event not found")
			return
		}

		RespondInternal(ctx, "Could not delete event")
		return
	}

	if role != "admin" && evt.OrganizerID != userID {
		RespondForbidden(ctx, "Only the event organizer can delete this event")
		return
	}

	regs, err := h.regs.ListConfirmedByEventTx(cctx, tx, id)

	if err != nil {
		RespondInternal(ctx, "Could not delete event")
		return
	}

	for _, reg := range regs {
		_, err := h.producer.EnqueueEventCancelledTx(cctx, tx, reg, evt)

		if err != nil && !postgres.IsUniqueViolation(err) {
			RespondInternal(ctx, "Could not delete event")
			slog.Default().ErrorContext(cctx, "enqueue cancellation failed",
				"event_id", id, "registration_id", reg.ID, "err", err)
			return
		}
	}

	removed, err := h.regs.DeleteAllForEventTx(cctx, tx, id)

	if err != nil {
		RespondInternal(ctx, "Could not delete event")
		return
	}

	if err := h.repo.DeleteTx(cctx, tx, id); err != nil {
		RespondInternal(ctx, "Could not delete event")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		RespondInternal(ctx, "Could not delete event")
		return
	}

	if h.cache != nil {
		h.cache.Delete("event:" + id)
	}

	if h.nudge != nil {
		if err := h.nudge.Nudge(cctx); err != nil {
			slog.Default().WarnContext(cctx, "worker nudge failed", "err", err)
		}
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success":              true,
		"id":                   id,
		"registrationsRemoved": removed,
		"notificationsQueued":  len(regs),
	})
}
