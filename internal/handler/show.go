package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dreamteamprod/digiscript-live/internal/model"
	"github.com/dreamteamprod/digiscript-live/internal/repository"
)

// ShowHandler serves shows and their role grants.
type ShowHandler struct {
	Shows *repository.ShowRepo
	Roles *repository.RoleRepo
}

func NewShowHandler(shows *repository.ShowRepo, roles *repository.RoleRepo) *ShowHandler {
	if shows == nil || roles == nil {
		panic("nil repository passed to NewShowHandler")
	}
	return &ShowHandler{Shows: shows, Roles: roles}
}

// Create handles POST /v1/shows.
func (h *ShowHandler) Create(c echo.Context) error {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		return badRequest(c, "name is required")
	}
	show, err := h.Shows.Create(c.Request().Context(), name)
	if err != nil {
		return fail(c, err, "failed to create show")
	}
	return c.JSON(http.StatusCreated, show)
}

// List handles GET /v1/shows.
func (h *ShowHandler) List(c echo.Context) error {
	shows, err := h.Shows.List(c.Request().Context())
	if err != nil {
		return fail(c, err, "failed to list shows")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": shows})
}

// Get handles GET /v1/shows/:id.
func (h *ShowHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	show, err := h.Shows.GetByID(c.Request().Context(), id)
	if err != nil {
		return fail(c, err, "failed to load show")
	}
	return c.JSON(http.StatusOK, show)
}

// Grant handles PUT /v1/shows/:id/roles. Bits are added to the user's
// existing mask.
func (h *ShowHandler) Grant(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	var body struct {
		UserID uint64   `json:"user_id"`
		Roles  []string `json:"roles"`
	}
	if err := c.Bind(&body); err != nil || body.UserID == 0 {
		return badRequest(c, "user_id and roles are required")
	}
	var mask uint8
	for _, r := range body.Roles {
		switch strings.ToLower(r) {
		case "read":
			mask |= model.RoleRead
		case "write":
			mask |= model.RoleWrite
		case "execute":
			mask |= model.RoleExecute
		default:
			return badRequest(c, "unknown role "+r)
		}
	}
	if mask == 0 {
		return badRequest(c, "user_id and roles are required")
	}
	ctx := c.Request().Context()
	if _, err := h.Shows.GetByID(ctx, id); err != nil {
		return fail(c, err, "failed to load show")
	}
	if err := h.Roles.Grant(ctx, body.UserID, id, mask); err != nil {
		return fail(c, err, "failed to grant role")
	}
	total, err := h.Roles.Mask(ctx, body.UserID, id)
	if err != nil {
		return fail(c, err, "failed to load role")
	}
	return c.JSON(http.StatusOK, model.ShowRole{UserID: body.UserID, ShowID: id, RoleMask: total})
}

// ListRoles handles GET /v1/shows/:id/roles.
func (h *ShowHandler) ListRoles(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	roles, err := h.Roles.ListForShow(c.Request().Context(), id)
	if err != nil {
		return fail(c, err, "failed to list roles")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": roles})
}
