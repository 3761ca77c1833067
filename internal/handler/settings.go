package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dreamteamprod/digiscript-live/internal/broadcast"
	"github.com/dreamteamprod/digiscript-live/internal/config"
	"github.com/dreamteamprod/digiscript-live/internal/middleware"
	"github.com/dreamteamprod/digiscript-live/internal/model"
	"github.com/dreamteamprod/digiscript-live/internal/repository"
	"github.com/dreamteamprod/digiscript-live/internal/service"
)

// SettingsHandler serves the runtime settings and per-user overrides.
type SettingsHandler struct {
	Settings  *config.Settings
	Shows     *repository.ShowRepo
	Overrides *repository.OverrideRepo
	Hub       *broadcast.Hub
}

func NewSettingsHandler(settings *config.Settings, shows *repository.ShowRepo, overrides *repository.OverrideRepo, hub *broadcast.Hub) *SettingsHandler {
	return &SettingsHandler{Settings: settings, Shows: shows, Overrides: overrides, Hub: hub}
}

// Get handles GET /v1/settings.
func (h *SettingsHandler) Get(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Settings.Snapshot())
}

// Patch handles PATCH /v1/settings. Absent fields keep their value; a
// current_show_id of 0 clears the current show.
func (h *SettingsHandler) Patch(c echo.Context) error {
	var body struct {
		CurrentShowID          *uint64 `json:"current_show_id"`
		DebugMode              *bool   `json:"debug_mode"`
		IntervalDefaultSeconds *int64  `json:"interval_default_seconds"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx := c.Request().Context()
	next, err := h.Settings.Update(ctx, func(v *config.SettingsValues) error {
		if body.CurrentShowID != nil {
			if *body.CurrentShowID == 0 {
				v.CurrentShowID = nil
			} else {
				if _, err := h.Shows.GetByID(ctx, *body.CurrentShowID); err != nil {
					return err
				}
				id := *body.CurrentShowID
				v.CurrentShowID = &id
			}
		}
		if body.DebugMode != nil {
			v.DebugMode = *body.DebugMode
		}
		if body.IntervalDefaultSeconds != nil {
			v.IntervalDefaultSeconds = *body.IntervalDefaultSeconds
		}
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "unknown show"})
	}
	if err != nil {
		return fail(c, err, "failed to update settings")
	}
	if h.Hub != nil {
		_, _ = h.Hub.Broadcast(ctx, broadcast.Event{EventType: service.OpSettings, EventName: service.EvSettingsChanged, Payload: next})
	}
	return c.JSON(http.StatusOK, next)
}

// ListOverrides handles GET /v1/me/overrides?settings_type=.
func (h *SettingsHandler) ListOverrides(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.Overrides.ListForUser(c.Request().Context(), uid, strings.TrimSpace(c.QueryParam("settings_type")))
	if err != nil {
		return fail(c, err, "failed to list overrides")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// PutOverride handles PUT /v1/me/overrides.
func (h *SettingsHandler) PutOverride(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		SettingsType string          `json:"settings_type"`
		RefID        uint64          `json:"ref_id"`
		Settings     json.RawMessage `json:"settings"`
	}
	if err := c.Bind(&body); err != nil || body.SettingsType == "" || body.RefID == 0 || len(body.Settings) == 0 {
		return badRequest(c, "settings_type, ref_id and settings are required")
	}
	out, err := h.Overrides.Upsert(c.Request().Context(), model.UserOverride{
		UserID:       uid,
		SettingsType: body.SettingsType,
		RefID:        body.RefID,
		Settings:     string(body.Settings),
	})
	if err != nil {
		return fail(c, err, "failed to save override")
	}
	return c.JSON(http.StatusOK, out)
}
