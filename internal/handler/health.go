package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Version is reported by the readiness probe. Overridden at build time with
// -ldflags "-X .../internal/handler.Version=...".
var Version = "dev"

type HealthHandler struct {
	pool    *pgxpool.Pool
	rdb     *redis.Client
	models  func() []string
	startAt time.Time
}

// NewHealthHandler builds the probe handler. pool is nil when runs are kept
// in memory; rdb is nil when caching is disabled.
func NewHealthHandler(pool *pgxpool.Pool, rdb *redis.Client, models func() []string) *HealthHandler {
	return &HealthHandler{
		pool:    pool,
		rdb:     rdb,
		models:  models,
		startAt: time.Now(),
	}
}

// Live handles GET /health/live (liveness probe).
func (h *HealthHandler) Live(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready handles GET /health/ready: readiness with dependency checks. The
// database is required when configured; Redis only degrades the status.
func (h *HealthHandler) Ready(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	overallStatus := "healthy"

	db := checkDB(ctx, h.pool)
	if db["status"] == "down" {
		overallStatus = "unhealthy"
	}
	cache := checkRedis(ctx, h.rdb)
	if cache["status"] == "down" && overallStatus == "healthy" {
		overallStatus = "degraded"
	}

	var models []string
	if h.models != nil {
		models = h.models()
	}

	resp := fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": db,
			"redis":    cache,
		},
		"models":         models,
		"uptime_seconds": int(time.Since(h.startAt).Seconds()),
		"version":        Version,
	}

	status := fiber.StatusOK
	if overallStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(resp)
}

func checkDB(ctx context.Context, pool *pgxpool.Pool) fiber.Map {
	if pool == nil {
		return fiber.Map{"status": "memory"}
	}

	start := time.Now()
	err := pool.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return fiber.Map{
			"status":     "down",
			"latency_ms": latency,
			"error":      "connection failed",
		}
	}
	return fiber.Map{
		"status":     "up",
		"latency_ms": latency,
	}
}

func checkRedis(ctx context.Context, rdb *redis.Client) fiber.Map {
	if rdb == nil {
		return fiber.Map{"status": "disabled"}
	}

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return fiber.Map{
			"status":     "down",
			"latency_ms": latency,
			"error":      "connection failed",
		}
	}
	return fiber.Map{
		"status":     "up",
		"latency_ms": latency,
	}
}
