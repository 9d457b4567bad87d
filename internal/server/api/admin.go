package api

import (
	"encoding/json"
	"math"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"securevault/internal/server/service"
)

// maxDefaultLimitMB bounds storage_limit_mb on the default limit endpoint.
const maxDefaultLimitMB = 10000

type createUserRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type limitRequest struct {
	// StorageLimit is in bytes; null or 0 clears it.
	StorageLimit *int64 `json:"storage_limit"`
}

type membershipRequest struct {
	GroupID string `json:"group_id"`
}

type groupRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	StorageLimit *int64 `json:"storage_limit"`
}

type ruleRequest struct {
	Extension    string `json:"extension"`
	IsProhibited *bool  `json:"is_prohibited"`
	Description  string `json:"description"`
}

type defaultLimitRequest struct {
	StorageLimitMB *int64 `json:"storage_limit_mb"`
	Bytes          *int64 `json:"bytes"`
}

type settingRequest struct {
	Value       json.RawMessage `json:"value"`
	Description string          `json:"description"`
}

// HandleListUsers handles GET /api/admin/users.
func (h *Handler) HandleListUsers(c echo.Context) error {
	views, err := h.svc.ListUsers(c.Request().Context(), principal(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"users": newUserResponses(views)})
}

// HandleCreateUser handles POST /api/admin/users.
func (h *Handler) HandleCreateUser(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	u, err := h.svc.RegisterUser(c.Request().Context(), principal(c), service.UserInput(req))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, newUserResponse(u, nil))
}

// HandleSetUserLimit handles PUT /api/admin/users/:id/limit.
func (h *Handler) HandleSetUserLimit(c echo.Context) error {
	var req limitRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	u, err := h.svc.SetUserLimit(c.Request().Context(), principal(c), c.Param("id"), req.StorageLimit)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newUserResponse(u, nil))
}

// HandleUserStorage handles GET /api/admin/users/:id/storage.
func (h *Handler) HandleUserStorage(c echo.Context) error {
	info, err := h.svc.UserStorageInfo(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleAddUserToGroup handles POST /api/admin/users/:id/groups.
func (h *Handler) HandleAddUserToGroup(c echo.Context) error {
	var req membershipRequest
	if err := c.Bind(&req); err != nil || req.GroupID == "" {
		return badRequest(c, "group_id is required")
	}
	if err := h.svc.AddUserToGroup(c.Request().Context(), principal(c), c.Param("id"), req.GroupID); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "user added to group"})
}

// HandleRemoveUserFromGroup handles DELETE /api/admin/users/:id/groups/:group.
func (h *Handler) HandleRemoveUserFromGroup(c echo.Context) error {
	if err := h.svc.RemoveUserFromGroup(c.Request().Context(), principal(c), c.Param("id"), c.Param("group")); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "user removed from group"})
}

// HandleListGroups handles GET /api/admin/groups.
func (h *Handler) HandleListGroups(c echo.Context) error {
	groups, err := h.svc.ListGroups(c.Request().Context(), principal(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"groups": newGroupResponses(groups)})
}

// HandleCreateGroup handles POST /api/admin/groups.
func (h *Handler) HandleCreateGroup(c echo.Context) error {
	var req groupRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	g, err := h.svc.CreateGroup(c.Request().Context(), principal(c), service.GroupInput{
		Name:        req.Name,
		Description: req.Description,
		Limit:       req.StorageLimit,
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, newGroupResponse(g))
}

// HandleGetGroup handles GET /api/admin/groups/:id.
func (h *Handler) HandleGetGroup(c echo.Context) error {
	g, err := h.svc.GetGroup(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newGroupResponse(g))
}

// HandleUpdateGroup handles PUT /api/admin/groups/:id.
func (h *Handler) HandleUpdateGroup(c echo.Context) error {
	var req groupRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	g, err := h.svc.UpdateGroup(c.Request().Context(), principal(c), c.Param("id"), service.GroupInput{
		Name:        req.Name,
		Description: req.Description,
		Limit:       req.StorageLimit,
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newGroupResponse(g))
}

// HandleSetGroupLimit handles PUT /api/admin/groups/:id/limit.
func (h *Handler) HandleSetGroupLimit(c echo.Context) error {
	var req limitRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	g, err := h.svc.SetGroupLimit(c.Request().Context(), principal(c), c.Param("id"), req.StorageLimit)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newGroupResponse(g))
}

// HandleDeleteGroup handles DELETE /api/admin/groups/:id.
func (h *Handler) HandleDeleteGroup(c echo.Context) error {
	if err := h.svc.DeleteGroup(c.Request().Context(), principal(c), c.Param("id")); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "group deleted"})
}

// HandleListRules handles GET /api/admin/extensions.
func (h *Handler) HandleListRules(c echo.Context) error {
	rules, err := h.svc.ListExtensionRules(c.Request().Context(), principal(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	out := make([]ruleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, newRuleResponse(r))
	}
	return c.JSON(http.StatusOK, echo.Map{"rules": out})
}

// HandleSetRule handles PUT /api/admin/extensions.
func (h *Handler) HandleSetRule(c echo.Context) error {
	var req ruleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	prohibited := true
	if req.IsProhibited != nil {
		prohibited = *req.IsProhibited
	}
	rule, err := h.svc.SetExtensionRule(c.Request().Context(), principal(c), req.Extension, prohibited, req.Description)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newRuleResponse(rule))
}

// HandleDeleteRule handles DELETE /api/admin/extensions/:id.
func (h *Handler) HandleDeleteRule(c echo.Context) error {
	if err := h.svc.DeleteExtensionRule(c.Request().Context(), principal(c), c.Param("id")); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "extension rule deleted"})
}

// HandleListSettings handles GET /api/admin/settings.
func (h *Handler) HandleListSettings(c echo.Context) error {
	list, err := h.svc.ListSettings(c.Request().Context(), principal(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	out := make([]settingResponse, 0, len(list))
	for _, s := range list {
		out = append(out, settingResponse{
			Key:         s.Key,
			Value:       s.Value,
			Type:        s.Type,
			Description: s.Description,
			UpdatedAt:   s.UpdatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"settings": out})
}

// HandleGetSetting handles GET /api/admin/settings/:key.
func (h *Handler) HandleGetSetting(c echo.Context) error {
	key := c.Param("key")
	v, err := h.svc.Setting(c.Request().Context(), principal(c), key)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"key": key, "value": v})
}

// HandleUpdateSetting handles PUT /api/admin/settings/:key.
func (h *Handler) HandleUpdateSetting(c echo.Context) error {
	var req settingRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	key := c.Param("key")
	ctx := c.Request().Context()
	if err := h.svc.UpdateSetting(ctx, principal(c), key, req.Value, req.Description); err != nil {
		return mapServiceError(c, err)
	}
	v, err := h.svc.Setting(ctx, principal(c), key)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"key": key, "value": v})
}

// HandleGetDefaultLimit handles GET /api/admin/settings/default-limit.
func (h *Handler) HandleGetDefaultLimit(c echo.Context) error {
	v, err := h.svc.DefaultLimit(c.Request().Context(), principal(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, defaultLimitBody(v))
}

// HandleSetDefaultLimit handles PUT /api/admin/settings/default-limit.
// The body carries either storage_limit_mb (1-10000) or bytes.
func (h *Handler) HandleSetDefaultLimit(c echo.Context) error {
	var req defaultLimitRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	var bytes int64
	switch {
	case req.StorageLimitMB != nil:
		mb := *req.StorageLimitMB
		if mb < 1 || mb > maxDefaultLimitMB {
			return badRequest(c, "storage_limit_mb must be between 1 and 10000")
		}
		bytes = mb << 20
	case req.Bytes != nil:
		bytes = *req.Bytes
	default:
		return badRequest(c, "storage_limit_mb or bytes is required")
	}

	if err := h.svc.SetDefaultLimit(c.Request().Context(), principal(c), bytes); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, defaultLimitBody(bytes))
}

func defaultLimitBody(bytes int64) echo.Map {
	return echo.Map{
		"bytes":                    bytes,
		"default_storage_limit_mb": math.Round(float64(bytes)/(1<<20)*100) / 100,
		"formatted":                humanize.IBytes(uint64(bytes)),
	}
}

// HandleListAllFiles handles GET /api/admin/files.
func (h *Handler) HandleListAllFiles(c echo.Context) error {
	files, err := h.svc.ListAllFiles(c.Request().Context(), principal(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"files": newFileResponses(files)})
}
