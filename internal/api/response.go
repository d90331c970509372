package api

import (
	"context"
	"errors"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/gofiber/fiber/v2"
)

type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeTooLarge      = "PAYLOAD_TOO_LARGE"
	ErrCodeCanceled      = "REQUEST_CANCELED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

func SuccessResponse(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusOK).JSON(Response{
		Success: true,
		Data:    data,
	})
}

func ErrorResponse(c *fiber.Ctx, statusCode int, code, message string, details any) error {
	return c.Status(statusCode).JSON(Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// StatusFor maps an error to its HTTP status and envelope code.
func StatusFor(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		switch fe.Code {
		case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
			return fe.Code, ErrCodeNotFound
		case fiber.StatusRequestEntityTooLarge:
			return fe.Code, ErrCodeTooLarge
		case fiber.StatusBadRequest:
			return fe.Code, ErrCodeBadRequest
		}
		return fe.Code, ErrCodeInternalError
	}
	if errors.Is(err, context.Canceled) {
		return 499, ErrCodeCanceled
	}

	kind := apperr.KindOf(err)
	switch kind {
	case apperr.MissingInput:
		return fiber.StatusBadRequest, kind.String()
	case apperr.SourceUnavailable:
		if apperr.IsRemote(err) {
			return fiber.StatusBadGateway, kind.String()
		}
		return fiber.StatusBadRequest, kind.String()
	case apperr.DecodeFailure:
		return fiber.StatusUnprocessableEntity, kind.String()
	case apperr.ModelFailure, apperr.EncodeFailure:
		return fiber.StatusInternalServerError, kind.String()
	}
	return fiber.StatusInternalServerError, ErrCodeInternalError
}
