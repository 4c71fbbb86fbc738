package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/middleware"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/service"
)

type ModerationHandler struct {
	svc    *service.ModerationService
	worker *service.RecheckWorker
}

// NewModerationHandler builds the moderation endpoints. worker may be nil, in
// which case async submissions are refused.
func NewModerationHandler(svc *service.ModerationService, worker *service.RecheckWorker) *ModerationHandler {
	return &ModerationHandler{svc: svc, worker: worker}
}

// moderateBody is the POST payload. Rating stays raw so a missing or bad tier
// gets a field error instead of a generic body error.
type moderateBody struct {
	Model   string              `json:"model"`
	Rating  json.RawMessage     `json:"rating"`
	Book    model.BookContent   `json:"book"`
	Options model.SelectOptions `json:"options"`
}

// Submit handles POST /api/books/:bookId/moderation
func (h *ModerationHandler) Submit(c fiber.Ctx) error {
	bookID, errMsg := middleware.ValidateBookID(c.Params("bookId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	var body moderateBody
	if err := c.Bind().JSON(&body); err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_BODY", "Invalid request body")
	}

	modelName, errMsg := middleware.ValidateModel(body.Model)
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}
	if !h.svc.HasModel(modelName) {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "UNKNOWN_MODEL", "model is not configured on this server")
	}

	if len(body.Rating) == 0 || string(body.Rating) == "null" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", "rating is required")
	}
	var rating model.AgeRating
	if err := json.Unmarshal(body.Rating, &rating); err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", "rating must be one of EVERYONE, TEEN, MATURE, ADULT")
	}

	if errMsg := middleware.ValidateBook(body.Book); errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}
	if errMsg := middleware.ValidateSelectOptions(body.Options); errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	req := service.ModerateRequest{
		BookID:  bookID,
		Model:   modelName,
		Rating:  rating,
		Book:    body.Book,
		Options: body.Options,
	}

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if h.worker == nil {
			return middleware.ErrorResponse(c, fiber.StatusServiceUnavailable, "ASYNC_DISABLED", "Asynchronous re-checks are not enabled")
		}
		merged := h.worker.Enqueue(req)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"bookId":    bookID,
			"model":     modelName,
			"queued":    true,
			"coalesced": merged,
		})
	}

	res, err := h.svc.Moderate(c.Context(), req)
	if err != nil {
		return moderationError(c, err)
	}
	return c.JSON(res)
}

// List handles GET /api/books/:bookId/moderation
func (h *ModerationHandler) List(c fiber.Ctx) error {
	bookID, errMsg := middleware.ValidateBookID(c.Params("bookId"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	runs, err := h.svc.Compare(c.Context(), bookID)
	if err != nil {
		return moderationError(c, err)
	}
	return c.JSON(fiber.Map{
		"bookId": bookID,
		"runs":   runs,
	})
}

// Get handles GET /api/books/:bookId/moderation/:model
func (h *ModerationHandler) Get(c fiber.Ctx) error {
	bookID, modelName, ok := h.runKey(c)
	if !ok {
		return nil
	}

	run, err := h.svc.Registry().Get(c.Context(), bookID, modelName)
	if err != nil {
		return moderationError(c, err)
	}
	return c.JSON(run)
}

// Verdict handles GET /api/books/:bookId/moderation/:model/verdict?rating=
func (h *ModerationHandler) Verdict(c fiber.Ctx) error {
	bookID, modelName, ok := h.runKey(c)
	if !ok {
		return nil
	}

	var rating *model.AgeRating
	if raw := c.Query("rating"); raw != "" {
		r, errMsg := middleware.ValidateRating(raw)
		if errMsg != "" {
			return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
		}
		rating = &r
	}

	report, err := h.svc.Verdict(c.Context(), bookID, modelName, rating)
	if err != nil {
		return moderationError(c, err)
	}
	return c.JSON(report)
}

// runKey validates the :bookId and :model params, writing the error response
// itself when they are invalid.
func (h *ModerationHandler) runKey(c fiber.Ctx) (string, string, bool) {
	bookID, errMsg := middleware.ValidateBookID(c.Params("bookId"))
	if errMsg != "" {
		_ = middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
		return "", "", false
	}
	modelName, errMsg := middleware.ValidateModel(c.Params("model"))
	if errMsg != "" {
		_ = middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
		return "", "", false
	}
	return bookID, modelName, true
}

// moderationError maps pipeline errors onto the API error envelope.
func moderationError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrRunNotFound):
		return middleware.ErrorResponse(c, fiber.StatusNotFound, "NOT_CHECKED", "This book has not been checked by this model")
	case errors.Is(err, model.ErrUnknownModel):
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "UNKNOWN_MODEL", "model is not configured on this server")
	case errors.Is(err, model.ErrNothingToModerate):
		return middleware.ErrorResponse(c, fiber.StatusUnprocessableEntity, "NOTHING_TO_MODERATE", "The request selected no content to check")
	case errors.Is(err, model.ErrStaleRun):
		return middleware.ErrorResponse(c, fiber.StatusConflict, "STALE_RUN", "A newer check for this model was recorded first")
	case errors.Is(err, model.ErrMalformedProviderResponse), errors.Is(err, model.ErrUnknownCategoryScore):
		return middleware.ErrorResponse(c, fiber.StatusBadGateway, "PROVIDER_MALFORMED", "The moderation provider returned an unusable response")
	case errors.Is(err, model.ErrProviderUnavailable):
		return middleware.ErrorResponse(c, fiber.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "The moderation provider is unavailable, retry later")
	case errors.Is(err, context.DeadlineExceeded):
		return middleware.ErrorResponse(c, fiber.StatusGatewayTimeout, "TIMEOUT", "The check did not finish in time")
	default:
		log := middleware.Component("moderation-api")
		log.Error().Err(err).Msg("moderation request failed")
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process moderation request")
	}
}
