package handler

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/engine"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/middleware"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

type RatingsHandler struct {
	policy     engine.Policy
	normalizer engine.Normalizer
}

func NewRatingsHandler(policy engine.Policy, normalizer engine.Normalizer) *RatingsHandler {
	return &RatingsHandler{policy: policy, normalizer: normalizer}
}

type tierInfo struct {
	Rating model.AgeRating `json:"rating"`
	Label  string          `json:"label"`
	Tier   int             `json:"tier"`
	// Limit is the score at which content is too strong for this tier. Nil
	// means anything passes.
	Limit *float64 `json:"limit"`
}

// List handles GET /api/ratings
func (h *RatingsHandler) List(c fiber.Ctx) error {
	tiers := make([]tierInfo, 0, len(model.Ratings))
	for _, r := range model.Ratings {
		info := tierInfo{Rating: r, Label: r.Label(), Tier: int(r)}
		if limit, ok := h.policy.Limit(r); ok {
			info.Limit = &limit
		}
		tiers = append(tiers, info)
	}
	return c.JSON(fiber.Map{
		"tiers":      tiers,
		"categories": model.Categories,
	})
}

type evaluateBody struct {
	Scores map[string]any  `json:"scores"`
	Rating json.RawMessage `json:"rating"`
}

// Evaluate handles POST /api/ratings/evaluate. It decides a score set against
// a tier without calling any provider.
func (h *RatingsHandler) Evaluate(c fiber.Ctx) error {
	var body evaluateBody
	if err := c.Bind().JSON(&body); err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_BODY", "Invalid request body")
	}
	if body.Scores == nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", "scores is required")
	}
	if len(body.Rating) == 0 || string(body.Rating) == "null" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", "rating is required")
	}
	var rating model.AgeRating
	if err := json.Unmarshal(body.Rating, &rating); err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", "rating must be one of EVERYONE, TEEN, MATURE, ADULT")
	}

	scores, err := h.normalizer.Normalize(body.Scores)
	if err != nil {
		if errors.Is(err, model.ErrUnknownCategoryScore) {
			return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_SCORES", err.Error())
		}
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to evaluate scores")
	}

	wouldPass := make(map[model.AgeRating]bool, len(model.Ratings))
	for _, r := range model.Ratings {
		wouldPass[r] = h.policy.WouldPass(scores, r)
	}

	return c.JSON(fiber.Map{
		"decision":      h.policy.Decide(scores, rating),
		"minimumRating": h.policy.MinimumRating(scores),
		"wouldPass":     wouldPass,
		"scores":        scores,
	})
}
