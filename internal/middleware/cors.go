package middleware

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
)

// NewCORS returns a CORS middleware for the BookGuard API. An empty list or
// a "*" entry allows every origin.
func NewCORS(origins []string) fiber.Handler {
	allow := origins
	for _, o := range origins {
		if o == "*" {
			allow = nil
			break
		}
	}
	if len(allow) == 0 {
		allow = []string{"*"}
	}

	return cors.New(cors.Config{
		AllowOrigins: allow,
		AllowMethods: []string{
			fiber.MethodGet,
			fiber.MethodPost,
			fiber.MethodOptions,
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"X-Client-ID",
		},
		ExposeHeaders: []string{
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"Retry-After",
		},
		MaxAge: 86400,
	})
}
