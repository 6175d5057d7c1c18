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

	"github.com/aivent/aivent/internal/auth"
	"github.com/aivent/aivent/internal/config"
	"github.com/aivent/aivent/internal/db"
	httpx "github.com/aivent/aivent/internal/http"
	"github.com/aivent/aivent/internal/observability"
	"github.com/aivent/aivent/internal/queue/redisclient"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "aivent-api", cfg.OTLPEndpoint)

	if err != nil {
		log.Warn("tracing disabled", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := config.WithTimeout(3 * time.Second)
			defer cancel()
			_ = shutdownTracer(shutdownCtx)
		}()
	}

	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	registry := prometheus.NewRegistry()
	prom := observability.NewProm(registry)

	jwt := auth.NewManager(cfg.JWTSecret, 15*time.Minute)

	var nudge *redisclient.Client

	if cfg.RedisAddr != "" {
		nudge = redisclient.New(redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		pingCtx, cancel := config.WithTimeout(2 * time.Second)
		if err := nudge.Ping(pingCtx); err != nil {
			log.Warn("redis unreachable, worker nudges disabled", "err", err)
			_ = nudge.Close()
			nudge = nil
		}
		cancel()

		if nudge != nil {
			defer func() { _ = nudge.Close() }()
		}
	}

	router := httpx.NewRouter(httpx.Deps{
		Cfg:      cfg,
		Log:      log,
		Pool:     pool,
		Prom:     prom,
		Registry: registry,
		JWT:      jwt,
		Nudge:    nudge,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env)

		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("server shutting down")

	shutdownCtx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
		return
	}

	log.Info("shutdown complete")
}
