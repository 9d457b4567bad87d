package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"securevault/internal/server/service"
)

// HealthChecker reports whether the metadata store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the SecureVault API.
type Handler struct {
	svc    *service.Service
	health HealthChecker
}

// NewHandler creates a new handler with the given service dependency.
func NewHandler(svc *service.Service, health HealthChecker) *Handler {
	return &Handler{svc: svc, health: health}
}

// principal returns the authenticated caller. Routes using it are always
// behind the identity middleware.
func principal(c echo.Context) service.Principal {
	p, _ := principalFrom(c)
	return p
}

// HandleUpload handles POST /api/files.
// Accepts a multipart form with a "file" field.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required (use form field 'file')")
	}

	src, err := fileHeader.Open()
	if err != nil {
		slog.Error("failed to open multipart file", "error", err)
		return writeError(c, http.StatusInternalServerError, service.CodeStorageFailure, "failed to read uploaded file")
	}
	defer src.Close()

	rec, err := h.svc.AdmitUpload(c.Request().Context(), principal(c), fileHeader.Filename, fileHeader.Size, src)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, newFileResponse(rec))
}

// HandleListFiles handles GET /api/files.
// Returns the caller's files, newest first, with their storage summary.
func (h *Handler) HandleListFiles(c echo.Context) error {
	ctx := c.Request().Context()
	p := principal(c)

	files, err := h.svc.ListFiles(ctx, p)
	if err != nil {
		return mapServiceError(c, err)
	}
	info, err := h.svc.StorageInfo(ctx, p)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"files":   newFileResponses(files),
		"storage": info,
	})
}

// HandleDownload handles GET /api/files/:id/download.
func (h *Handler) HandleDownload(c echo.Context) error {
	rec, rc, err := h.svc.OpenFile(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", rec.DisplayName))
	c.Response().Header().Set(echo.HeaderContentLength, fmt.Sprint(rec.SizeBytes))
	return c.Stream(http.StatusOK, rec.MimeType, rc)
}

// HandleDelete handles DELETE /api/files/:id and DELETE /api/admin/files/:id.
func (h *Handler) HandleDelete(c echo.Context) error {
	if err := h.svc.DeleteFile(c.Request().Context(), principal(c), c.Param("id")); err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "file deleted successfully",
	})
}

// HandleStorage handles GET /api/storage.
func (h *Handler) HandleStorage(c echo.Context) error {
	info, err := h.svc.StorageInfo(c.Request().Context(), principal(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

type registerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// HandleRegister handles POST /api/register.
// Records the token's principal with zero usage.
func (h *Handler) HandleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	p := principal(c)
	u, err := h.svc.RegisterUser(c.Request().Context(), p, service.UserInput{ID: p.ID, Name: req.Name, Email: req.Email})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, newUserResponse(u, nil))
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.health.HealthCheck(c.Request().Context()); err != nil {
		slog.Warn("health check failed", "error", err)
		status = "degraded"
		dbStatus = "unavailable"
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}
