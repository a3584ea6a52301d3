package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/drivebox/backend/pkg/logger"
)

// RequestLogger logs one line per request with method, path, status and
// latency, tagging the user when one is authenticated.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := map[string]interface{}{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.IP(),
		}
		if user := GetCurrentUser(c); user != nil {
			logger.InfoWithUser(user.ID.String(), "http_request", fields)
		} else {
			logger.Info("http_request", fields)
		}
		return err
	}
}
