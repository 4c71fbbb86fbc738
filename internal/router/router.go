package router

import (
	"github.com/gofiber/fiber/v3"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/handler"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/middleware"
)

// Handlers holds all handler instances needed by the router.
type Handlers struct {
	Health     *handler.HealthHandler
	Moderation *handler.ModerationHandler
	Ratings    *handler.RatingsHandler
	Stats      *handler.StatsHandler
}

// Setup configures the middleware stack and all API routes on the given Fiber
// app. The returned func stops the rate limiters' background sweeps.
func Setup(app *fiber.App, h *Handlers, corsOrigins []string) func() {
	// Middleware stack (order matters)
	app.Use(recoverer.New())
	app.Use(middleware.NewRequestLogger())
	app.Use(middleware.NewCORS(corsOrigins))
	app.Use(handler.MetricsMiddleware())

	// Probes and metrics (outside /api, not rate limited)
	app.Get("/health/live", h.Health.Live)
	app.Get("/health/ready", h.Health.Ready)
	app.Get("/metrics", handler.MetricsHandler())

	moderateRL := middleware.NewModerationRateLimiter()
	readRL := middleware.NewReadRateLimiter()
	evaluateRL := middleware.NewEvaluateRateLimiter()

	api := app.Group("/api")

	// Moderation routes
	books := api.Group("/books/:bookId/moderation")
	books.Post("", moderateRL.Handler(), h.Moderation.Submit)
	books.Get("", readRL.Handler(), h.Moderation.List)
	books.Get("/:model", readRL.Handler(), h.Moderation.Get)
	books.Get("/:model/verdict", readRL.Handler(), h.Moderation.Verdict)

	// Rating vocabulary and pure decisions
	api.Get("/ratings", readRL.Handler(), h.Ratings.List)
	api.Post("/ratings/evaluate", evaluateRL.Handler(), h.Ratings.Evaluate)

	// Stats routes
	api.Get("/stats", readRL.Handler(), h.Stats.GetStats)

	return func() {
		moderateRL.Close()
		readRL.Close()
		evaluateRL.Close()
	}
}
