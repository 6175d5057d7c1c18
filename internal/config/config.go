package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env   string
	Port  int
	DBURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string

	// worker tuning
	WorkerPort         int
	WorkerPollInterval time.Duration
	WorkerConcurrency  int
	WorkerLockTTL      time.Duration
	JobMaxAttempts     int

	// outbound mail protection
	NotifierTimeout          time.Duration
	NotifierFailureThreshold int
	NotifierCooldown         time.Duration

	RateLimitBurst int

	OTLPEndpoint string
}

func Load() Config {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	return Config{
		Env:   getEnv("APP_ENV", "dev"),
		Port:  getEnvInt("PORT", 8080),
		DBURL: buildDBURL(),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),

		WorkerPort:         getEnvInt("WORKER_PORT", 8081),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL_MS", 1000) * time.Millisecond,
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerLockTTL:      getEnvDuration("WORKER_LOCK_TTL_S", 60) * time.Second,
		JobMaxAttempts:     getEnvInt("JOB_MAX_ATTEMPTS", 5),

		NotifierTimeout:          getEnvDuration("NOTIFIER_TIMEOUT_MS", 3000) * time.Millisecond,
		NotifierFailureThreshold: getEnvInt("NOTIFIER_FAILURE_THRESHOLD", 3),
		NotifierCooldown:         getEnvDuration("NOTIFIER_COOLDOWN_S", 15) * time.Second,

		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func buildDBURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "aivent")
	pass := getEnv("DB_PASSWORD", "aivent")
	name := getEnv("DB_NAME", "aivent")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvDuration(key string, fallback int64) time.Duration {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.ParseInt(v, 10, 64)

		if err != nil {
			fmt.Println(err)
			return time.Duration(fallback)
		}

		return time.Duration(num)
	}
	return time.Duration(fallback)
}
