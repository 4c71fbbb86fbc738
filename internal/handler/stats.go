package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/middleware"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/service"
)

type StatsHandler struct {
	registry *service.RunRegistry
}

func NewStatsHandler(registry *service.RunRegistry) *StatsHandler {
	return &StatsHandler{registry: registry}
}

// GetStats handles GET /api/stats
func (h *StatsHandler) GetStats(c fiber.Ctx) error {
	stats, err := h.registry.Stats(c.Context())
	if err != nil {
		middleware.Logger.Error().Err(err).Msg("stats query failed")
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch statistics")
	}

	var passed, failed int64
	for _, s := range stats {
		passed += s.Passed
		failed += s.Failed
	}
	return c.JSON(fiber.Map{
		"models": stats,
		"totals": fiber.Map{
			"runs":   passed + failed,
			"passed": passed,
			"failed": failed,
		},
	})
}
