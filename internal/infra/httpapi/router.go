package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"standup_attendance_service/internal/app"
)

// NewRouter assembles the fiber application: the operator entry points behind
// the auth middleware, plus the read-only watch/records surfaces.
func NewRouter(svc app.SessionService, changes ChangeSource, jwtSecret string, log *logrus.Logger) *fiber.App {
	fiberApp := fiber.New(fiber.Config{
		AppName:      "standup-attendance-service",
		ErrorHandler: jsonErrorHandler,
	})

	h := NewSessionHandlers(svc, changes, log)
	auth := NewAuthMiddleware(jwtSecret)

	sessions := fiberApp.Group("/api/sessions/:key", auth)
	sessions.Post("/schedule", h.Schedule)
	sessions.Post("/activate", h.Activate)
	sessions.Get("/", h.Query)
	sessions.Put("/marks/:participantID", h.SetMark)
	sessions.Post("/stop", h.Stop)
	sessions.Get("/records", h.Records)
	sessions.Get("/watch", h.Watch)

	return fiberApp
}

func jsonErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
