package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/config"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/handler"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	JobHandler      *handler.JobHandler
	StreamHandler   *handler.JobStreamHandler
	FollowUpHandler *handler.FollowUpHandler
	HealthProbes    map[string]handler.Probe
	Metrics         fiber.Handler
	JWTMiddleware   fiber.Handler
	RoleGuard       fiber.Handler
	FollowUpLimiter fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	if deps.Metrics != nil {
		app.Get("/metrics", deps.Metrics)
	}

	guards := make([]fiber.Handler, 0, 2)
	if deps.JWTMiddleware != nil {
		guards = append(guards, deps.JWTMiddleware)
	}
	if deps.RoleGuard != nil {
		guards = append(guards, deps.RoleGuard)
	}
	passthrough := func(c *fiber.Ctx) error { return c.Next() }
	if len(guards) == 0 {
		guards = append(guards, passthrough)
	}

	jobs := api.Group("/jobs", guards...)

	if deps.JobHandler != nil {
		deps.JobHandler.Register(jobs)
	}
	if deps.StreamHandler != nil {
		deps.StreamHandler.Register(jobs)
	}
	if deps.FollowUpHandler != nil {
		if deps.FollowUpLimiter != nil {
			deps.FollowUpHandler.Register(jobs, deps.FollowUpLimiter)
		} else {
			deps.FollowUpHandler.Register(jobs)
		}
	}
}
