package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aivent/aivent/internal/config"
	"github.com/aivent/aivent/internal/domain/job"
	"github.com/aivent/aivent/internal/http/middlewares"
	"github.com/aivent/aivent/internal/repo/postgres"
	"github.com/aivent/aivent/internal/utils"
	"github.com/gin-gonic/gin"
)

type AdminJobsRepo interface {
	ListCursor(
		ctx context.Context,
		status *string,
		limit int,
		afterUpdatedAt time.Time,
		afterID string,
	) (items []job.Job, nextCursor *string, hasMore bool, err error)
	GetByID(ctx context.Context, id string) (job.Job, error)
	Retry(ctx context.Context, id string) error
	RetryManyFailed(ctx context.Context, limit int) (int64, error)
}

// AdminJobsHandler exposes the queue for operators: dead letters stay
// inspectable and manually retryable.
type AdminJobsHandler struct {
	repo AdminJobsRepo
}

func NewAdminJobsHandler(repo AdminJobsRepo) *AdminJobsHandler {
	return &AdminJobsHandler{
		repo: repo,
	}
}

// GET /v1/admin/jobs?status=failed&limit=50&cursor=...
func (h *AdminJobsHandler) List(ctx *gin.Context) {
	limit := parseIntDefault(ctx.Query("limit"), 20)
	if limit < 1 || limit > 100 {
		RespondBadRequest(ctx, "limit must be between 1 and 100", nil)
		return
	}

	var statusPtr *string
	if s := ctx.Query("status"); s != "" {
		statusPtr = &s
	}

	cursor := ctx.Query("cursor")

	// DESC first-page sentinel: "far future" + max UUID
	afterUpdatedAt := time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
	afterID := "ffffffff-ffff-ffff-ffff-ffffffffffff"

	if cursor != "" {
		cur, err := utils.DecodeJobCursor(cursor)
		if err != nil {
			RespondBadRequest(ctx, "cursor is invalid", nil)
			return
		}
		afterUpdatedAt = cur.UpdatedAt
		afterID = cur.ID
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, next, hasMore, err := h.repo.ListCursor(cctx, statusPtr, limit, afterUpdatedAt, afterID)
	if err != nil {
		RespondInternal(ctx, "Could not list jobs")
		return
	}

	resp := gin.H{
		"limit":      limit,
		"count":      len(items),
		"items":      items,
		"hasMore":    hasMore,
		"nextCursor": next,
	}

	RespondJSONWithETag(ctx, http.StatusOK, resp)
}

// GET /v1/admin/jobs/:id
func (h *AdminJobsHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxJobID, id)

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "job id must be a valid UUID", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	j, err := h.repo.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			RespondNotFound(ctx, "Job not found")
			return
		}

		RespondInternal(ctx, "Could not fetch job")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, j)
}

// POST /v1/admin/jobs/:id/retry
func (h *AdminJobsHandler) Retry(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxJobID, id)

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "job id must be a valid UUID", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	err := h.repo.Retry(cctx, id)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			RespondNotFound(ctx, "Job not found")
		case errors.Is(err, postgres.ErrJobNotFailed):
			RespondConflict(ctx, "job_not_failed", "Only failed jobs can be retried")
		default:
			RespondInternal(ctx, "Could not retry job")
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"jobId":  id,
		"status": "pending",
	})
}

// POST /v1/admin/jobs/reprocess-dead?limit=50
func (h *AdminJobsHandler) ReprocessDead(ctx *gin.Context) {
	limit := 50

	if limitStr := ctx.Query("limit"); limitStr != "" {
		n := parseIntDefault(limitStr, -1)

		if n < 1 {
			RespondBadRequest(ctx, "limit must be a positive number", nil)
			return
		}

		limit = n
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	n, err := h.repo.RetryManyFailed(cctx, limit)

	if err != nil {
		RespondInternal(ctx, "Could not reprocess dead jobs")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"requeued": n,
	})
}
