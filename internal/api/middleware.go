package api

import (
	"log/slog"
	"time"

	"github.com/andresmejia3/obscura/internal/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware tags every request with the client's X-Request-ID or a new UUID.
func RequestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.New().String()
		}
		c.Set(RequestIDHeader, requestID)
		c.SetUserContext(logger.ContextWithRequestID(c.UserContext(), requestID))
		c.Locals("request_id", requestID)
		return c.Next()
	}
}

// GetRequestID returns the request ID stored by RequestIDMiddleware.
func GetRequestID(c *fiber.Ctx) string {
	if requestID, ok := c.Locals("request_id").(string); ok {
		return requestID
	}
	return ""
}

// LoggerMiddleware writes one structured line per finished request.
func LoggerMiddleware(base *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		log := logger.FromContext(c.UserContext(), base)
		log.Debug("Request started", "method", c.Method(), "path", c.Path(), "ip", c.IP())

		err := c.Next()
		if err != nil {
			// Let the error handler set the status before it is logged.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				c.Status(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}
		log.Log(c.UserContext(), level, "Request completed",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency", time.Since(start).String(),
			"bytes", len(c.Response().Body()),
		)
		return nil
	}
}

// ErrorHandler renders every error in the JSON envelope.
func ErrorHandler(base *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, code := StatusFor(err)
		if status >= 500 {
			logger.FromContext(c.UserContext(), base).Error("Request failed", "code", code, "error", err)
		}
		return ErrorResponse(c, status, code, err.Error(), nil)
	}
}
