package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/aivent/aivent/internal/config"
	"github.com/aivent/aivent/internal/domain/job"
	"github.com/aivent/aivent/internal/jobs"
	"github.com/gin-gonic/gin"
)

type SubscriptionEnqueuer interface {
	EnqueueSubscriptionSuccess(ctx context.Context, in jobs.SubscriptionEmail) (job.Job, error)
}

// SubscriptionsHandler queues the plan-activated mail. Billing lives in a
// separate system; it calls this once a plan flips to active.
type SubscriptionsHandler struct {
	producer SubscriptionEnqueuer
	nudge    Nudger
}

func NewSubscriptionsHandler(producer SubscriptionEnqueuer) *SubscriptionsHandler {
	return &SubscriptionsHandler{producer: producer}
}

func (h *SubscriptionsHandler) WithNudge(n Nudger) *SubscriptionsHandler {
	h.nudge = n
	return h
}

type subscriptionNotificationRequest struct {
	Email         string `json:"email" binding:"required,email"`
	Name          string `json:"name" binding:"required,min=1,max=120"`
	PlanName      string `json:"planName" binding:"required,min=1,max=60"`
	StartDate     string `json:"startDate" binding:"required"`
	EndDate       string `json:"endDate" binding:"required"`
	DashboardLink string `json:"dashboardLink" binding:"omitempty,url"`
}

// POST /v1/admin/notifications/subscription
func (h *SubscriptionsHandler) Notify(ctx *gin.Context) {
	var req subscriptionNotificationRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	j, err := h.producer.EnqueueSubscriptionSuccess(cctx, jobs.SubscriptionEmail{
		Email:         req.Email,
		Name:          req.Name,
		PlanName:      req.PlanName,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		DashboardLink: req.DashboardLink,
	})

	if err != nil {
		RespondInternal(ctx, "Could not queue subscription notification")
		return
	}

	if h.nudge != nil {
		_ = h.nudge.Nudge(cctx)
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"jobId":  j.ID,
		"status": j.Status,
	})
}
