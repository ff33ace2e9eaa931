package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"biasaudit/internal/http/middleware"
	"biasaudit/internal/quota"
	"biasaudit/internal/service"
)

// retryAfterSeconds is advertised on 503 responses from the analysis endpoint.
const retryAfterSeconds = "30"

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "INVALID_ID", "NOT_FOUND", "INTERNAL_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

// writeServiceError maps service errors to their HTTP form. Only validation and quota
// messages are echoed; everything else gets a fixed message.
func writeServiceError(c *fiber.Ctx, err error) error {
	var (
		validation *service.ValidationError
		exceeded   *quota.ExceededError
		external   *service.ExternalServiceError
	)

	switch {
	case errors.As(err, &validation):
		if validation.Field == "id" {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", validation.Error())
	case errors.Is(err, service.ErrUnsupportedFileType):
		return writeError(c, fiber.StatusBadRequest, "UNSUPPORTED_FILE_TYPE", "unsupported file type; upload PDF, DOCX or plain text")
	case errors.Is(err, service.ErrExtraction):
		return writeError(c, fiber.StatusBadRequest, "EXTRACTION_FAILED", "no text could be extracted from the file")
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "scan not found")
	case errors.Is(err, service.ErrForbidden):
		return writeError(c, fiber.StatusForbidden, "FORBIDDEN", "scan belongs to another account")
	case errors.As(err, &exceeded):
		return writeError(c, fiber.StatusForbidden, "QUOTA_EXCEEDED", exceeded.Error())
	case errors.As(err, &external):
		if external.Retriable {
			c.Set(fiber.HeaderRetryAfter, retryAfterSeconds)
		}
		return writeError(c, fiber.StatusServiceUnavailable, "AI_UNAVAILABLE", "analysis service unavailable, retry later")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusUnauthorized:
			return writeError(c, status, "UNAUTHORIZED", "authentication required")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "PAYLOAD_TOO_LARGE", "request body too large")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
