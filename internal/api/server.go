// Package api exposes the redaction service over HTTP.
package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// Config controls the HTTP server.
type Config struct {
	BodyLimitMB int
}

// NewApp builds the fiber application with middleware and routes.
func NewApp(svc Redactor, cfg Config, logger *slog.Logger) *fiber.App {
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.BodyLimitMB
	if limit <= 0 {
		limit = 1024
	}
	app := fiber.New(fiber.Config{
		AppName:               "obscura",
		BodyLimit:             limit * 1024 * 1024,
		ErrorHandler:          ErrorHandler(logger),
		DisableStartupMessage: true,
	})

	app.Use(RequestIDMiddleware())
	app.Use(LoggerMiddleware(logger))

	SetupRoutes(app, NewHandler(svc, logger))
	return app
}

func SetupRoutes(app *fiber.App, h *Handler) {
	app.Get("/health", h.Health)

	app.Post("/blur-eyes-in-pictures", h.BlurEyesInPictures)
	app.Post("/blur-faces-in-pictures", h.BlurFacesInPictures)
	app.Post("/blur-specific-person-in-pictures", h.BlurPersonInPictures)

	app.Post("/blur-eyes", h.BlurEyes)
	app.Post("/blur-faces", h.BlurFaces)
	app.Post("/blur-person", h.BlurPerson)

	app.Post("/redact-pdf", h.RedactPDF)

	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "route not found: "+c.Method()+" "+c.Path())
	})
}
