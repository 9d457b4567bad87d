package api

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"securevault/internal/server/service"
)

// errorBody is the envelope for every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    service.Code   `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func statusFor(code service.Code) int {
	switch code {
	case service.CodeProhibitedExtension,
		service.CodeProhibitedArchiveMember,
		service.CodeCorruptArchive,
		service.CodeArchiveLimitExceeded,
		service.CodeQuotaExceeded:
		return http.StatusUnprocessableEntity
	case service.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeForbidden:
		return http.StatusForbidden
	case service.CodeValidation:
		return http.StatusBadRequest
	case service.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
// Untyped errors become STORAGE_FAILURE and their text is only logged.
func mapServiceError(c echo.Context, err error) error {
	typed, ok := service.AsError(err)
	if !ok {
		slog.Error("unexpected handler error", "path", c.Path(), "error", err)
		return writeError(c, http.StatusInternalServerError, service.CodeStorageFailure, "internal server error")
	}
	return c.JSON(statusFor(typed.Code), errorBody{Error: errorDetail{
		Code:    typed.Code,
		Message: typed.Message,
		Details: typed.Details,
	}})
}

func writeError(c echo.Context, status int, code service.Code, message string) error {
	return c.JSON(status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func badRequest(c echo.Context, message string) error {
	return writeError(c, http.StatusBadRequest, service.CodeValidation, message)
}
