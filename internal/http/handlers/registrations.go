package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

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

type RegistrationsRepository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, req registration.CreateRegistrationRequest, qrCode string) (registration.Registration, event.Event, error)
	CheckInByQR(ctx context.Context, qrCode, organizerID string) (attendeeName string, err error)
	CancelTx(ctx context.Context, tx pgx.Tx, registrationID string) error
	GetByID(ctx context.Context, registrationID string) (registration.Registration, error)
	GetConfirmed(ctx context.Context, eventID, userID string) (registration.Registration, error)
	ListByUserCursor(ctx context.Context, userID string, limit int, afterCreatedAt time.Time, afterID string) ([]registration.Registration, *string, bool, error)
}

type EventsReader interface {
	GetByID(ctx context.Context, id string) (event.Event, error)
	DecrementCountTx(ctx context.Context, tx pgx.Tx, id string) error
}

// MailEnqueuer is the slice of the producer the registration path needs.
type MailEnqueuer interface {
	EnqueueRegistrationAcceptedTx(ctx context.Context, tx pgx.Tx, reg registration.Registration, evt event.Event) (job.Job, error)
}

type QRIssuer interface {
	Issue() (string, error)
}

// Nudger wakes the worker after a commit. Optional and best-effort.
type Nudger interface {
	Nudge(ctx context.Context) error
}

type RegistrationsHandler struct {
	repo     RegistrationsRepository
	events   EventsReader
	producer MailEnqueuer
	qr       QRIssuer
	nudge    Nudger
}

func NewRegistrationsHandler(repo RegistrationsRepository, events EventsReader, producer MailEnqueuer, qr QRIssuer) *RegistrationsHandler {
	return &RegistrationsHandler{
		repo:     repo,
		events:   events,
		producer: producer,
		qr:       qr,
	}
}

func (h *RegistrationsHandler) WithNudge(n Nudger) *RegistrationsHandler {
	h.nudge = n
	return h
}

func (h *RegistrationsHandler) nudgeWorker(ctx context.Context) {
	if h.nudge == nil {
		return
	}
	if err := h.nudge.Nudge(ctx); err != nil {
		slog.Default().WarnContext(ctx, "worker nudge failed", "err", err)
	}
}

// POST /v1/registrations
func (h *RegistrationsHandler) Register(ctx *gin.Context) {
	var req registration.CreateRegistrationRequest

	if !BindJSON(ctx, &req) {
		return
	}

	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	req.UserID = userID

	// issue the ticket token up front: if randomness is unavailable the
	// registration must fail before anything touches storage
	qrCode, err := h.qr.Issue()

	if err != nil {
		RespondInternal(ctx, "Could not register for event")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	tx, err := h.repo.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not register for event")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	reg, evt, err := h.repo.CreateTx(cctx, tx, req, qrCode)

	if err != nil {
		switch {
		case errors.Is(err, registration.ErrAlreadyRegistered):
			RespondError(ctx, http.StatusBadRequest, "already_registered", "You are already registered for this event", nil)
		case errors.Is(err, registration.ErrEventFull):
			RespondConflict(ctx, "event_full", "This event is already at full capacity")
		case errors.Is(err, event.ErrNotFound):
			RespondNotFound(ctx, "Event not found")
		default:
			RespondInternal(ctx, "Could not register for event")
			slog.Default().ErrorContext(cctx, "registration create failed", "err", err)
		}
		return
	}

	// confirmation mail commits iff the registration does
	_, err = h.producer.EnqueueRegistrationAcceptedTx(cctx, tx, reg, evt)

	if err != nil && !postgres.IsUniqueViolation(err) {
		RespondInternal(ctx, "Could not register for event")
		slog.Default().ErrorContext(cctx, "enqueue confirmation failed", "err", err)
		return
	}

	if err := tx.Commit(cctx); err != nil {
		RespondInternal(ctx, "Could not register for event")
		slog.Default().ErrorContext(cctx, "registration commit failed", "err", err)
		return
	}

	h.nudgeWorker(cctx)

	ctx.JSON(http.StatusCreated, reg)
}

type checkInRequest struct {
	QRCode string `json:"qrCode" binding:"required"`
}

// POST /v1/check-in
func (h *RegistrationsHandler) CheckIn(ctx *gin.Context) {
	var req checkInRequest

	if !BindJSON(ctx, &req) {
		return
	}

	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	attendeeName, err := h.repo.CheckInByQR(cctx, req.QRCode, userID)

	if err != nil {
		switch {
		case errors.Is(err, registration.ErrNotFound):
			RespondNotFound(ctx, "Registration not found")
		case errors.Is(err, registration.ErrNotAuthorized):
			RespondForbidden(ctx, "Only the event organizer can check attendees in")
		case errors.Is(err, registration.ErrAlreadyCheckedIn):
			RespondError(ctx, http.StatusBadRequest, "already_checked_in", "This ticket has already been used", nil)
		default:
			RespondInternal(ctx, "Could not check in")
			slog.Default().ErrorContext(cctx, "check-in failed", "err", err)
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success":      true,
		"attendeeName": attendeeName,
	})
}

// POST /v1/registrations/:id/cancel
func (h *RegistrationsHandler) Cancel(ctx *gin.Context) {
	regID := ctx.Param("id")

	if !utils.IsUUID(regID) {
		RespondBadRequest(ctx, "registration id must be a valid UUID", nil)
		return
	}

	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	role, _ := middlewares.RoleFromContext(ctx)

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	reg, err := h.repo.GetByID(cctx, regID)

	if err != nil {
		if errors.Is(err, registration.ErrNotFound) {
			RespondNotFound(ctx, "Registration not found")
			return
		}

		RespondInternal(ctx, "Could not cancel registration")
		return
	}

	if role != "admin" && reg.UserID != userID {
		// the event organizer may also cancel attendees
		evt, evtErr := h.events.GetByID(cctx, reg.EventID)

		if evtErr != nil || evt.OrganizerID != userID {
			RespondForbidden(ctx, "You can only cancel your own registration")
			return
		}
	}

	tx, err := h.repo.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not cancel registration")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	err = h.repo.CancelTx(cctx, tx, regID)

	if err != nil {
		switch {
		case errors.Is(err, registration.ErrAlreadyCancelled):
			RespondError(ctx, http.StatusBadRequest, "already_cancelled", "This registration is already cancelled", nil)
		case errors.Is(err, registration.ErrAlreadyCheckedIn):
			RespondConflict(ctx, "already_checked_in", "This ticket was already used for check-in and can no longer be cancelled")
		case errors.Is(err, registration.ErrNotFound):
			RespondNotFound(ctx, "Registration not found")
		default:
			RespondInternal(ctx, "Could not cancel registration")
			slog.Default().ErrorContext(cctx, "cancel failed", "err", err)
		}
		return
	}

	// the status precondition above makes this decrement run at most once
	if err := h.events.DecrementCountTx(cctx, tx, reg.EventID); err != nil && !errors.Is(err, event.ErrNotFound) {
		RespondInternal(ctx, "Could not cancel registration")
		slog.Default().ErrorContext(cctx, "seat release failed", "err", err)
		return
	}

	if err := tx.Commit(cctx); err != nil {
		RespondInternal(ctx, "Could not cancel registration")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"id":      regID,
		"status":  registration.StatusCancelled,
	})
}

// GET /v1/events/:id/registrations/me
func (h *RegistrationsHandler) CheckStatus(ctx *gin.Context) {
	eventID := ctx.Param("id")

	if !utils.IsUUID(eventID) {
		RespondBadRequest(ctx, "event id must be a valid UUID", nil)
		return
	}

	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	reg, err := h.repo.GetConfirmed(cctx, eventID, userID)

	if err != nil {
		if errors.Is(err, registration.ErrNotFound) {
			ctx.JSON(http.StatusOK, gin.H{
				"registered":   false,
				"registration": nil,
			})
			return
		}

		RespondInternal(ctx, "Could not check registration status")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"registered":   true,
		"registration": reg,
	})
}

// GET /v1/users/me/registrations
func (h *RegistrationsHandler) MyTickets(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	limit := parseIntDefault(ctx.Query("limit"), 20)

	if limit < 1 || limit > 100 {
		RespondBadRequest(ctx, "limit must be between 1 and 100", nil)
		return
	}

	// DESC first-page sentinel: "far future" + max UUID
	afterCreatedAt := time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
	afterID := "ffffffff-ffff-ffff-ffff-ffffffffffff"

	if cursor := ctx.Query("cursor"); cursor != "" {
		cur, err := utils.DecodeRegistrationCursor(cursor)

		if err != nil {
			RespondBadRequest(ctx, "cursor is invalid", nil)
			return
		}

		afterCreatedAt = cur.CreatedAt
		afterID = cur.ID
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, next, hasMore, err := h.repo.ListByUserCursor(cctx, userID, limit, afterCreatedAt, afterID)

	if err != nil {
		RespondInternal(ctx, "Could not list registrations")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"limit":      limit,
		"count":      len(items),
		"items":      items,
		"hasMore":    hasMore,
		"nextCursor": next,
	})
}
