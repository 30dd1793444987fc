package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RegisterHealthRoutes adds a readiness endpoint that round-trips the configured
// stores. A store that fails its ping is redialed on the next request.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		stores := fiber.Map{}
		healthy := true
		if d.Redis != nil {
			status := "ok"
			if err := d.Redis.Check(ctx); err != nil {
				status = err.Error()
			}
			stores[d.Redis.Name()] = status
			healthy = healthy && status == "ok"
		}
		if d.DB != nil {
			status := "ok"
			if err := d.DB.Check(ctx); err != nil {
				status = err.Error()
			}
			stores[d.DB.Name()] = status
			healthy = healthy && status == "ok"
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status":    stores,
			"backend":   d.Cfg.StoreBackend,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
