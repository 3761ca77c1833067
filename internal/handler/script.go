package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dreamteamprod/digiscript-live/internal/middleware"
	"github.com/dreamteamprod/digiscript-live/internal/model"
	"github.com/dreamteamprod/digiscript-live/internal/service"
)

// ScriptHandler serves a show's script and its revisions. Every route is
// mounted under /v1/shows/:id.
type ScriptHandler struct {
	Scripts *service.Scripts
}

func NewScriptHandler(scripts *service.Scripts) *ScriptHandler {
	return &ScriptHandler{Scripts: scripts}
}

func callerID(c echo.Context) *uint64 {
	if id, ok := middleware.UserID(c); ok {
		return &id
	}
	return nil
}

// showAndRevision parses :id and :rev.
func showAndRevision(c echo.Context) (uint64, uint64, bool) {
	showID, ok := pathID(c, "id")
	if !ok {
		return 0, 0, false
	}
	revID, ok := pathID(c, "rev")
	return showID, revID, ok
}

// Get handles GET /script.
func (h *ScriptHandler) Get(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	script, err := h.Scripts.Script(c.Request().Context(), showID)
	if err != nil {
		return fail(c, err, "failed to load script")
	}
	return c.JSON(http.StatusOK, script)
}

// Create handles POST /script.
func (h *ScriptHandler) Create(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	script, err := h.Scripts.CreateScript(c.Request().Context(), showID)
	if err != nil {
		return fail(c, err, "failed to create script")
	}
	return c.JSON(http.StatusCreated, script)
}

// CreateRevision handles POST /script/revisions. The body carries the full
// line content of the new revision.
func (h *ScriptHandler) CreateRevision(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	var body struct {
		Description string              `json:"description"`
		Lines       []model.LineContent `json:"lines"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	rev, err := h.Scripts.CreateRevision(c.Request().Context(), showID, body.Lines, body.Description, callerID(c))
	if err != nil {
		return fail(c, err, "failed to create revision")
	}
	return c.JSON(http.StatusCreated, rev)
}

// ListRevisions handles GET /script/revisions.
func (h *ScriptHandler) ListRevisions(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	revs, err := h.Scripts.ListRevisions(c.Request().Context(), showID)
	if err != nil {
		return fail(c, err, "failed to list revisions")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": revs})
}

// Chain handles GET /script/chain: the revisions from the root to the
// current revision.
func (h *ScriptHandler) Chain(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	seq, err := h.Scripts.Chain(c.Request().Context(), showID)
	if err != nil {
		return fail(c, err, "failed to load chain")
	}
	chain := []model.ScriptRevision{}
	for rev, err := range seq {
		if err != nil {
			return fail(c, err, "revision chain is broken")
		}
		chain = append(chain, rev)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": chain})
}

// SetCurrent handles PUT /script/current.
func (h *ScriptHandler) SetCurrent(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	var body struct {
		RevisionID uint64 `json:"revision_id"`
	}
	if err := c.Bind(&body); err != nil || body.RevisionID == 0 {
		return badRequest(c, "revision_id is required")
	}
	if err := h.Scripts.SetCurrentRevision(c.Request().Context(), showID, body.RevisionID); err != nil {
		return fail(c, err, "failed to set current revision")
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteRevision handles DELETE /script/revisions/:rev.
func (h *ScriptHandler) DeleteRevision(c echo.Context) error {
	showID, revID, ok := showAndRevision(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	if err := h.Scripts.DeleteRevision(c.Request().Context(), showID, revID, callerID(c)); err != nil {
		return fail(c, err, "failed to delete revision")
	}
	return c.NoContent(http.StatusNoContent)
}

// Repair handles POST /script/repair.
func (h *ScriptHandler) Repair(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	report, err := h.Scripts.RepairOrphans(c.Request().Context(), showID, callerID(c))
	if err != nil {
		return fail(c, err, "failed to repair revisions")
	}
	return c.JSON(http.StatusOK, report)
}

// Lines handles GET /script/revisions/:rev/lines.
func (h *ScriptHandler) Lines(c echo.Context) error {
	showID, revID, ok := showAndRevision(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	lines, err := h.Scripts.Lines(c.Request().Context(), showID, revID)
	if err != nil {
		return fail(c, err, "failed to load lines")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": lines})
}

// Compressed handles GET /script/revisions/:rev/compressed. The blob only
// changes when a line of the revision is deleted.
func (h *ScriptHandler) Compressed(c echo.Context) error {
	showID, revID, ok := showAndRevision(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	blob, err := h.Scripts.CompressedContent(c.Request().Context(), showID, revID)
	if err != nil {
		return fail(c, err, "failed to load revision content")
	}
	return c.JSON(http.StatusOK, echo.Map{"revision_id": revID, "content": blob})
}

// DeleteLine handles DELETE /script/revisions/:rev/lines/:line.
func (h *ScriptHandler) DeleteLine(c echo.Context) error {
	showID, revID, ok := showAndRevision(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	lineID, ok := pathID(c, "line")
	if !ok {
		return badRequest(c, "invalid line id")
	}
	if err := h.Scripts.DeleteLine(c.Request().Context(), showID, revID, lineID); err != nil {
		return fail(c, err, "failed to delete line")
	}
	return c.NoContent(http.StatusNoContent)
}
