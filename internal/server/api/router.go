package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"securevault/internal/server/config"
	"securevault/internal/server/service"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, identity *Identity, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())
	e.Use(Metrics())

	// Rate limiter on upload endpoint only
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	e.Server.RegisterOnShutdown(uploadLimiter.Stop)

	// Multipart framing on top of the file itself
	bodyLimit := middleware.BodyLimit(fmt.Sprintf("%dK", cfg.MaxFileSize/1024+1024))

	e.GET("/health", handler.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api", identity.Middleware())
	api.POST("/register", handler.HandleRegister)
	api.GET("/storage", handler.HandleStorage)

	files := api.Group("/files")
	files.POST("", handler.HandleUpload, uploadLimiter.Middleware(), bodyLimit)
	files.GET("", handler.HandleListFiles)
	files.GET("/:id/download", handler.HandleDownload)
	files.DELETE("/:id", handler.HandleDelete)

	admin := api.Group("/admin", RequireAdmin())
	admin.GET("/users", handler.HandleListUsers)
	admin.POST("/users", handler.HandleCreateUser)
	admin.PUT("/users/:id/limit", handler.HandleSetUserLimit)
	admin.GET("/users/:id/storage", handler.HandleUserStorage)
	admin.POST("/users/:id/groups", handler.HandleAddUserToGroup)
	admin.DELETE("/users/:id/groups/:group", handler.HandleRemoveUserFromGroup)

	admin.GET("/groups", handler.HandleListGroups)
	admin.POST("/groups", handler.HandleCreateGroup)
	admin.GET("/groups/:id", handler.HandleGetGroup)
	admin.PUT("/groups/:id", handler.HandleUpdateGroup)
	admin.PUT("/groups/:id/limit", handler.HandleSetGroupLimit)
	admin.DELETE("/groups/:id", handler.HandleDeleteGroup)

	admin.GET("/extensions", handler.HandleListRules)
	admin.PUT("/extensions", handler.HandleSetRule)
	admin.DELETE("/extensions/:id", handler.HandleDeleteRule)

	admin.GET("/settings", handler.HandleListSettings)
	admin.GET("/settings/default-limit", handler.HandleGetDefaultLimit)
	admin.PUT("/settings/default-limit", handler.HandleSetDefaultLimit)
	admin.GET("/settings/:key", handler.HandleGetSetting)
	admin.PUT("/settings/:key", handler.HandleUpdateSetting)

	admin.GET("/files", handler.HandleListAllFiles)
	admin.DELETE("/files/:id", handler.HandleDelete)

	return e
}

// errorHandler renders echo's own errors (unknown route, body limit, ...)
// in the API error envelope.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		message = http.StatusText(status)
		if m, ok := he.Message.(string); ok {
			message = m
		}
	}

	code := service.CodeStorageFailure
	switch status {
	case http.StatusNotFound:
		code = service.CodeNotFound
	case http.StatusRequestEntityTooLarge:
		code = service.CodeFileTooLarge
	case http.StatusMethodNotAllowed, http.StatusBadRequest:
		code = service.CodeValidation
	}

	if err := writeError(c, status, code, message); err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}
