package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dreamteamprod/digiscript-live/internal/middleware"
	"github.com/dreamteamprod/digiscript-live/internal/model"
	"github.com/dreamteamprod/digiscript-live/internal/repository"
	"github.com/dreamteamprod/digiscript-live/internal/service"
)

// LiveHandler drives the live state of a show: editor lock, sessions,
// intervals and the live position.
type LiveHandler struct {
	Live *service.LiveController
}

func NewLiveHandler(live *service.LiveController) *LiveHandler {
	return &LiveHandler{Live: live}
}

type clientReq struct {
	ClientID string `json:"client_id"`
}

// session loads :sid and checks it belongs to show :id.
func (h *LiveHandler) session(c echo.Context) (*model.ShowSession, error) {
	showID, ok := pathID(c, "id")
	if !ok {
		return nil, badRequest(c, "invalid show id")
	}
	sid, ok := pathID(c, "sid")
	if !ok {
		return nil, badRequest(c, "invalid session id")
	}
	sess, err := h.Live.Session(c.Request().Context(), sid)
	if err == nil && sess.ShowID != showID {
		err = repository.ErrNotFound
	}
	if err != nil {
		return nil, fail(c, err, "failed to load session")
	}
	return sess, nil
}

// ownClient checks that clientID is a connection of the caller following
// the show. A client acts only through its own connections, whatever its
// roles, so nobody can release or take over another client's editor lock.
func (h *LiveHandler) ownClient(c echo.Context, showID uint64, clientID string) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return repository.ErrForbidden
	}
	conn, err := h.Live.Connection(c.Request().Context(), clientID)
	if err != nil {
		return err
	}
	if conn.ShowID != showID || conn.UserID == nil || *conn.UserID != uid {
		return fmt.Errorf("%w: client %s is not a connection of the caller", repository.ErrForbidden, clientID)
	}
	return nil
}

// State handles GET /live.
func (h *LiveHandler) State(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	st, err := h.Live.State(c.Request().Context(), showID)
	if err != nil {
		return fail(c, err, "failed to load live state")
	}
	return c.JSON(http.StatusOK, st)
}

// AcquireEditor handles POST /editor for one of the caller's connections.
func (h *LiveHandler) AcquireEditor(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	var body clientReq
	if err := c.Bind(&body); err != nil || strings.TrimSpace(body.ClientID) == "" {
		return badRequest(c, "client_id is required")
	}
	if err := h.ownClient(c, showID, body.ClientID); err != nil {
		return fail(c, err, "failed to acquire editor lock")
	}
	if err := h.Live.AcquireEditorLock(c.Request().Context(), showID, body.ClientID); err != nil {
		return fail(c, err, "failed to acquire editor lock")
	}
	return c.JSON(http.StatusOK, echo.Map{"editor_client_id": body.ClientID})
}

// ReleaseEditor handles DELETE /editor?client_id=.
func (h *LiveHandler) ReleaseEditor(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	clientID := strings.TrimSpace(c.QueryParam("client_id"))
	if clientID == "" {
		return badRequest(c, "client_id is required")
	}
	if err := h.ownClient(c, showID, clientID); err != nil {
		return fail(c, err, "failed to release editor lock")
	}
	if err := h.Live.ReleaseEditorLock(c.Request().Context(), showID, clientID); err != nil {
		return fail(c, err, "failed to release editor lock")
	}
	return c.NoContent(http.StatusNoContent)
}

// Start handles POST /sessions. With a client_id that client starts the
// session and takes the editor lock.
func (h *LiveHandler) Start(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	var body clientReq
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	var clientID *string
	if id := strings.TrimSpace(body.ClientID); id != "" {
		if err := h.ownClient(c, showID, id); err != nil {
			return fail(c, err, "failed to start session")
		}
		clientID = &id
	}
	sess, err := h.Live.StartSession(c.Request().Context(), showID, clientID, callerID(c))
	if err != nil {
		return fail(c, err, "failed to start session")
	}
	return c.JSON(http.StatusCreated, sess)
}

// Stop handles POST /sessions/:sid/stop.
func (h *LiveHandler) Stop(c echo.Context) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}
	ended, err := h.Live.StopSession(c.Request().Context(), sess.ID)
	if err != nil {
		return fail(c, err, "failed to stop session")
	}
	return c.JSON(http.StatusOK, ended)
}

// List handles GET /sessions.
func (h *LiveHandler) List(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid show id")
	}
	sessions, err := h.Live.Sessions(c.Request().Context(), showID)
	if err != nil {
		return fail(c, err, "failed to list sessions")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": sessions})
}

// Position handles PUT /sessions/:sid/position.
func (h *LiveHandler) Position(c echo.Context) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}
	var body struct {
		LineRef  string `json:"line_ref"`
		ClientID string `json:"client_id"`
	}
	if err := c.Bind(&body); err != nil || body.LineRef == "" || body.ClientID == "" {
		return badRequest(c, "line_ref and client_id are required")
	}
	if err := h.ownClient(c, sess.ShowID, body.ClientID); err != nil {
		return fail(c, err, "failed to update position")
	}
	if err := h.Live.UpdatePosition(c.Request().Context(), sess.ID, body.LineRef, body.ClientID); err != nil {
		return fail(c, err, "failed to update position")
	}
	return c.NoContent(http.StatusNoContent)
}

// BeginInterval handles POST /sessions/:sid/intervals.
func (h *LiveHandler) BeginInterval(c echo.Context) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}
	var body struct {
		ActID *uint64 `json:"act_id"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	iv, err := h.Live.BeginInterval(c.Request().Context(), sess.ID, body.ActID)
	if err != nil {
		return fail(c, err, "failed to begin interval")
	}
	return c.JSON(http.StatusCreated, iv)
}

// Intervals handles GET /sessions/:sid/intervals.
func (h *LiveHandler) Intervals(c echo.Context) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}
	ivs, err := h.Live.Intervals(c.Request().Context(), sess.ID)
	if err != nil {
		return fail(c, err, "failed to list intervals")
	}
	return c.JSON(http.StatusOK, echo.Map{"items": ivs})
}

// EndInterval handles POST /sessions/:sid/intervals/:iv/end.
func (h *LiveHandler) EndInterval(c echo.Context) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}
	ivID, ok := pathID(c, "iv")
	if !ok {
		return badRequest(c, "invalid interval id")
	}
	ctx := c.Request().Context()
	iv, err := h.Live.Interval(ctx, ivID)
	if err == nil && iv.SessionID != sess.ID {
		err = repository.ErrNotFound
	}
	if err != nil {
		return fail(c, err, "failed to load interval")
	}
	report, err := h.Live.EndInterval(ctx, ivID)
	if err != nil {
		return fail(c, err, "failed to end interval")
	}
	return c.JSON(http.StatusOK, report)
}
