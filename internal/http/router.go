package http

import (
	"log/slog"
	"time"

	"github.com/aivent/aivent/internal/auth"
	"github.com/aivent/aivent/internal/cache"
	"github.com/aivent/aivent/internal/config"
	"github.com/aivent/aivent/internal/http/handlers"
	"github.com/aivent/aivent/internal/http/middlewares"
	"github.com/aivent/aivent/internal/jobs"
	"github.com/aivent/aivent/internal/observability"
	"github.com/aivent/aivent/internal/qr"
	"github.com/aivent/aivent/internal/queue/redisclient"
	"github.com/aivent/aivent/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Deps struct {
	Cfg      config.Config
	Log      *slog.Logger
	Pool     *pgxpool.Pool
	Prom     *observability.Prom
	Registry *prometheus.Registry
	JWT      *auth.Manager
	Nudge    *redisclient.Client // optional
}

func NewRouter(d Deps) *gin.Engine {
	if d.Cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("aivent-api"))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware([]string{"http://localhost:3000"}))
	r.Use(middlewares.MaxBodyBytes(1 << 20))
	r.Use(middlewares.RequireJSON())

	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	// infra endpoints live outside /v1
	health := handlers.NewHealthHandler(d.Pool)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)

	if d.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	// repos and collaborators
	eventsRepo := postgres.NewEventsRepo(d.Pool, d.Prom)
	registrationsRepo := postgres.NewRegistrationsRepo(d.Pool, d.Prom)
	jobsRepo := postgres.NewJobsRepo(d.Pool, d.Prom)
	producer := jobs.NewProducer(jobsRepo, d.Cfg.JobMaxAttempts)
	eventCache := cache.New(5 * time.Second)

	registrationsHandler := handlers.NewRegistrationsHandler(registrationsRepo, eventsRepo, producer, qr.NewGenerator())
	eventsHandler := handlers.NewEventsHandler(eventsRepo, registrationsRepo, producer, eventCache)
	adminJobsHandler := handlers.NewAdminJobsHandler(jobsRepo)
	subscriptionsHandler := handlers.NewSubscriptionsHandler(producer)

	if d.Nudge != nil {
		registrationsHandler.WithNudge(d.Nudge)
		eventsHandler.WithNudge(d.Nudge)
		subscriptionsHandler.WithNudge(d.Nudge)
	}

	authMw := middlewares.NewAuthMiddleware(d.JWT)
	limiter := middlewares.NewRateLimiter(d.Cfg.RateLimitBurst, time.Minute)

	v1 := r.Group("/v1")
	v1.Use(limiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP))

	// public reads
	v1.GET("/events/:id", eventsHandler.GetByID)

	authed := v1.Group("")
	authed.Use(authMw.RequireAuth())

	authed.POST("/registrations", registrationsHandler.Register)
	authed.POST("/registrations/:id/cancel", registrationsHandler.Cancel)
	authed.POST("/check-in", registrationsHandler.CheckIn)
	authed.GET("/events/:id/registrations/me", registrationsHandler.CheckStatus)
	authed.GET("/users/me/registrations", registrationsHandler.MyTickets)
	authed.DELETE("/events/:id", eventsHandler.Delete)

	admin := authed.Group("/admin")
	admin.Use(authMw.RequireRole("admin"))

	admin.GET("/jobs", adminJobsHandler.List)
	admin.GET("/jobs/:id", adminJobsHandler.GetByID)
	admin.POST("/jobs/:id/retry", adminJobsHandler.Retry)
	admin.POST("/jobs/reprocess-dead", adminJobsHandler.ReprocessDead)
	admin.POST("/notifications/subscription", subscriptionsHandler.Notify)

	return r
}
