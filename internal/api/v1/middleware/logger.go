package middleware

import (
	"time"

	log "github.com/edulution-io/installer/internal/logger"

	fiber "github.com/gofiber/fiber/v2"
)

// StatusFunc reports the current job status for request logs.
type StatusFunc func() string

// Logger returns a middleware that logs HTTP requests together with the job
// state they were served under.
func Logger(status StatusFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Continue chain
		err := c.Next()

		// After request
		stop := time.Now()
		latency := stop.Sub(start)

		fields := map[string]interface{}{
			"timestamp": stop.Format("2006/01/02 - 15:04:05"),
			"status":    c.Response().StatusCode(),
			"latency":   latency,
			"ip":        c.IP(),
			"method":    c.Method(),
			"path":      c.Path(),
		}
		if status != nil {
			fields["job_status"] = status()
		}
		log.InfoWithFields("Request", fields)

		return err
	}
}
