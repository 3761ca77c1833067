package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dreamteamprod/digiscript-live/internal/model"
	"github.com/dreamteamprod/digiscript-live/internal/service"
)

// CueHandler serves cue types, cues and their placement on lines.
type CueHandler struct {
	Scripts *service.Scripts
}

func NewCueHandler(scripts *service.Scripts) *CueHandler {
	return &CueHandler{Scripts: scripts}
}

type placementReq struct {
	RevisionID uint64 `json:"revision_id" query:"revision_id"`
	LineID     uint64 `json:"line_id" query:"line_id"`
}

// ListTypes handles GET /cue-types.
func (h *CueHandler) ListTypes(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	types, err := h.Scripts.CueTypes(c.Request().Context(), showID)
	if err != nil {
		return fail(c, err, "failed to list cue types")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": types})
}

// CreateType handles POST /cue-types.
func (h *CueHandler) CreateType(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	var body model.CueType
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	body.ID, body.ShowID = 0, showID
	body.Prefix = strings.TrimSpace(body.Prefix)
	if body.Prefix == "" {
		return badRequest(c, "prefix is required")
	}
	ct, err := h.Scripts.CreateCueType(c.Request().Context(), body)
	if err != nil {
		return fail(c, err, "failed to create cue type")
	}
	return c.JSON(http.StatusCreated, ct)
}

// DeleteType handles DELETE /cue-types/:type. Cues of the type and user
// overrides of it go with it.
func (h *CueHandler) DeleteType(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	typeID, ok := pathID(c, "type")
	if !ok {
		return badRequest(c, "invalid cue type id")
	}
	if err := h.Scripts.DeleteCueType(c.Request().Context(), showID, typeID, callerID(c)); err != nil {
		return fail(c, err, "failed to delete cue type")
	}
	return c.NoContent(http.StatusNoContent)
}

// List handles GET /script/revisions/:rev/cues.
func (h *CueHandler) List(c echo.Context) error {
	showID, revID, ok := showAndRevision(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	cues, err := h.Scripts.Cues(c.Request().Context(), showID, revID)
	if err != nil {
		return fail(c, err, "failed to list cues")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": cues})
}

// Create handles POST /cues: a new cue placed on one line.
func (h *CueHandler) Create(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	var body struct {
		CueTypeID uint64 `json:"cue_type_id"`
		Ident     string `json:"ident"`
		placementReq
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.CueTypeID == 0 || body.RevisionID == 0 || body.LineID == 0 {
		return badRequest(c, "cue_type_id, revision_id and line_id are required")
	}
	cue, err := h.Scripts.CreateCue(c.Request().Context(), showID, body.CueTypeID, strings.TrimSpace(body.Ident), body.RevisionID, body.LineID)
	if err != nil {
		return fail(c, err, "failed to create cue")
	}
	return c.JSON(http.StatusCreated, cue)
}

// Update handles PUT /cues/:cue.
func (h *CueHandler) Update(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	cueID, ok := pathID(c, "cue")
	if !ok {
		return badRequest(c, "invalid cue id")
	}
	var body model.Cue
	if err := c.Bind(&body); err != nil || body.CueTypeID == 0 {
		return badRequest(c, "cue_type_id is required")
	}
	body.ID = cueID
	if err := h.Scripts.UpdateCue(c.Request().Context(), showID, body); err != nil {
		return fail(c, err, "failed to update cue")
	}
	return c.JSON(http.StatusOK, body)
}

// Associate handles POST /cues/:cue/placements.
func (h *CueHandler) Associate(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	cueID, ok := pathID(c, "cue")
	if !ok {
		return badRequest(c, "invalid cue id")
	}
	var body placementReq
	if err := c.Bind(&body); err != nil || body.RevisionID == 0 || body.LineID == 0 {
		return badRequest(c, "revision_id and line_id are required")
	}
	if err := h.Scripts.Associate(c.Request().Context(), showID, body.RevisionID, body.LineID, cueID); err != nil {
		return fail(c, err, "failed to place cue")
	}
	return c.NoContent(http.StatusNoContent)
}

// Disassociate handles DELETE /cues/:cue/placements with the placement in
// the query string. The response says whether the cue itself was deleted.
func (h *CueHandler) Disassociate(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	cueID, ok := pathID(c, "cue")
	if !ok {
		return badRequest(c, "invalid cue id")
	}
	var body placementReq
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &body); err != nil || body.RevisionID == 0 || body.LineID == 0 {
		return badRequest(c, "revision_id and line_id are required")
	}
	deleted, err := h.Scripts.Disassociate(c.Request().Context(), showID, body.RevisionID, body.LineID, cueID)
	if err != nil {
		return fail(c, err, "failed to remove cue placement")
	}
	return c.JSON(http.StatusOK, echo.Map{"cue_deleted": deleted})
}
