package middleware

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

// Field length limits matching database schema and provider constraints.
const (
	MaxBookIDLen      = 64
	MaxModelLen       = 64
	MaxTitleLen       = 512
	MaxDescriptionLen = 20_000
	MaxChapters       = 2_000
	MaxChapterIDs     = 2_000
	MaxChapterTextLen = 500_000
	MaxImagesPerBook  = 5_000
	MaxImageRefLen    = 8 << 20 // data URIs are allowed
)

var (
	// bookIDRe matches opaque book ids: alphanumeric, dash, underscore.
	bookIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	// modelRe matches provider model names such as "omni-moderation-latest"
	// or "ft:gpt-4o:org".
	modelRe = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)
)

// ErrorResponse is a helper that returns a standard API error response.
func ErrorResponse(c fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

// ValidateBookID checks that a book id is well-formed and within DB limits.
func ValidateBookID(id string) (string, string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "bookId is required"
	}
	if len(id) > MaxBookIDLen {
		return "", fmt.Sprintf("bookId must be at most %d characters", MaxBookIDLen)
	}
	if !bookIDRe.MatchString(id) {
		return "", "bookId contains invalid characters"
	}
	return id, ""
}

// ValidateModel checks the shape of a model name. Whether it is configured is
// up to the caller.
func ValidateModel(name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "model is required"
	}
	if len(name) > MaxModelLen {
		return "", fmt.Sprintf("model must be at most %d characters", MaxModelLen)
	}
	if !modelRe.MatchString(name) {
		return "", "model contains invalid characters"
	}
	return name, ""
}

// ValidateRating parses an age rating from a query or path value.
func ValidateRating(raw string) (model.AgeRating, string) {
	if strings.TrimSpace(raw) == "" {
		return 0, "rating is required"
	}
	r, err := model.ParseAgeRating(raw)
	if err != nil {
		return 0, "rating must be one of EVERYONE, TEEN, MATURE, ADULT"
	}
	return r, ""
}

// ValidateBook enforces size limits on submitted book content.
func ValidateBook(book model.BookContent) string {
	if len(book.Title) > MaxTitleLen {
		return fmt.Sprintf("title must be at most %d characters", MaxTitleLen)
	}
	if len(book.Description) > MaxDescriptionLen {
		return fmt.Sprintf("description must be at most %d characters", MaxDescriptionLen)
	}
	if len(book.CoverImage) > MaxImageRefLen {
		return "coverImage is too large"
	}
	if len(book.Chapters) > MaxChapters {
		return fmt.Sprintf("at most %d chapters may be submitted", MaxChapters)
	}

	images := len(book.ChapterImages)
	for _, ch := range book.Chapters {
		if ch.Chapter < 0 {
			return "chapter numbers must not be negative"
		}
		if len(ch.Content.Text) > MaxChapterTextLen {
			return fmt.Sprintf("chapter %d exceeds %d characters", ch.Chapter, MaxChapterTextLen)
		}
		images += len(ch.Content.Images)
		for _, img := range ch.Content.Images {
			if len(img) > MaxImageRefLen {
				return fmt.Sprintf("chapter %d has an image that is too large", ch.Chapter)
			}
		}
	}
	if images > MaxImagesPerBook {
		return fmt.Sprintf("at most %d images may be submitted", MaxImagesPerBook)
	}
	return ""
}

// ValidateSelectOptions enforces limits on a chapter selection.
func ValidateSelectOptions(opts model.SelectOptions) string {
	if len(opts.ChapterIDs) > MaxChapterIDs {
		return fmt.Sprintf("at most %d chapterIds may be given", MaxChapterIDs)
	}
	return ""
}
