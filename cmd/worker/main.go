package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aivent/aivent/internal/config"
	"github.com/aivent/aivent/internal/db"
	"github.com/aivent/aivent/internal/notifications"
	"github.com/aivent/aivent/internal/observability"
	"github.com/aivent/aivent/internal/queue/redisclient"
	"github.com/aivent/aivent/internal/queue/worker"
	"github.com/aivent/aivent/internal/repo/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	registry := prometheus.NewRegistry()
	prom := observability.NewProm(registry)

	jobsRepo := postgres.NewJobsRepo(pool, prom)
	deliveriesRepo := postgres.NewNotificationDeliveriesRepo(pool, prom)

	notifier := notifications.NewProtectedNotifier(
		notifications.NewLogNotifier(),
		notifications.ProtectedNotifierConfig{
			Timeout:          cfg.NotifierTimeout,
			FailureThreshold: cfg.NotifierFailureThreshold,
			Cooldown:         cfg.NotifierCooldown,
		},
	)

	w := worker.New(worker.Config{
		PollInterval: cfg.WorkerPollInterval,
		Concurrency:  cfg.WorkerConcurrency,
		LockTTL:      cfg.WorkerLockTTL,
	}, jobsRepo, deliveriesRepo, notifier, log).WithProm(prom)

	if cfg.RedisAddr != "" {
		nudge := redisclient.New(redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		pingCtx, cancel := config.WithTimeout(2 * time.Second)
		if err := nudge.Ping(pingCtx); err != nil {
			log.Warn("redis unreachable, falling back to polling", "err", err)
			_ = nudge.Close()
		} else {
			w.WithNudge(nudge)
			defer func() { _ = nudge.Close() }()
		}
		cancel()
	}

	// probe + metrics surface
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", w.HealthHandler())

	probeSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WorkerPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("worker probes listening", "port", cfg.WorkerPort)

		err := probeSrv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("probe server failed", "err", err)
		}
	}()

	log.Info("worker starting",
		"concurrency", cfg.WorkerConcurrency,
		"poll_interval", cfg.WorkerPollInterval.String(),
	)

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()
	_ = probeSrv.Shutdown(shutdownCtx)

	log.Info("worker shutdown complete")
}
