package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/dreamteamprod/digiscript-live/internal/broadcast"
	"github.com/dreamteamprod/digiscript-live/internal/model"
	"github.com/dreamteamprod/digiscript-live/internal/repository"
	"github.com/dreamteamprod/digiscript-live/internal/service"
	"github.com/dreamteamprod/digiscript-live/internal/utils"
)

// Inbound frame types.
const (
	FramePosition      = "POSITION"
	FrameAcquireEditor = "ACQUIRE_EDITOR"
	FrameReleaseEditor = "RELEASE_EDITOR"
)

// Envelope names of frames sent only to the connection they concern.
const (
	EvClientHello = "CLIENT_HELLO"
	EvReply       = "REPLY"
)

const (
	maxFrameBytes = 64 << 10
	writeWait     = 10 * time.Second
)

var errBadFrame = errors.New("bad frame")

// wsFrame is a client to server message.
type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

type wsReply struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

type wsHello struct {
	ClientID string `json:"client_id"`
	ShowID   uint64 `json:"show_id"`
}

// WSHandler serves GET /v1/ws?show_id=&token=. Each connection is a
// connection record in the database and a hub client; its writer goroutine
// owns every write to the socket.
type WSHandler struct {
	Secret    string
	Roles     *repository.RoleRepo
	Live      *service.LiveController
	Hub       *broadcast.Hub
	Ping      time.Duration
	Tolerance time.Duration
	Log       *slog.Logger

	upgrader websocket.Upgrader
}

func NewWSHandler(secret string, roles *repository.RoleRepo, live *service.LiveController, hub *broadcast.Hub,
	ping, tolerance time.Duration, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		Secret:    secret,
		Roles:     roles,
		Live:      live,
		Hub:       hub,
		Ping:      ping,
		Tolerance: tolerance,
		Log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Serve authenticates the request with the token query parameter, checks
// read access to the show and upgrades.
func (h *WSHandler) Serve(c echo.Context) error {
	showID, err := strconv.ParseUint(c.QueryParam("show_id"), 10, 64)
	if err != nil || showID == 0 {
		return badRequest(c, "show_id is required")
	}
	claims, err := utils.ParseAccessToken(h.Secret, c.QueryParam("token"))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	}
	uid, err := claims.UserID()
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
	}
	if !claims.Admin {
		ok, err := h.Roles.HasRole(c.Request().Context(), uid, showID, model.RoleRead)
		if err != nil {
			return fail(c, err, "failed to check role")
		}
		if !ok {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		}
	}

	// Connection records outlive the request context once hijacked.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	id := uuid.NewString()
	if err := h.Live.Connect(ctx, model.Connection{InternalID: id, ShowID: showID, UserID: &uid, RemoteIP: c.RealIP()}); err != nil {
		return fail(c, err, "failed to register connection")
	}
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.drop(id)
		return nil
	}

	client := broadcast.NewClient(id, showID, broadcast.DefaultBuffer)
	h.Hub.Register(client)
	replies := make(chan broadcast.Event, 16)
	replies <- broadcast.Event{EventType: EvClientHello, EventName: EvClientHello, Payload: wsHello{ClientID: id, ShowID: showID}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(ctx, conn, client, replies)
	}()
	h.Log.Info("websocket connected", "client", id, "show_id", showID, "user_id", uid)

	h.readLoop(ctx, conn, client, replies)

	h.Hub.Unregister(id)
	<-done
	_ = conn.Close()
	h.drop(id)
	h.Log.Info("websocket disconnected", "client", id, "show_id", showID)
	return nil
}

// drop removes the connection record, releasing its editor lock.
func (h *WSHandler) drop(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Live.Disconnect(ctx, id); err != nil {
		h.Log.Error("disconnect client", "client", id, "err", err)
	}
}

// writeLoop drains hub messages and replies to the socket and pings the
// client. It returns once the client is unregistered or a write fails.
func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *broadcast.Client, replies <-chan broadcast.Event) {
	ticker := time.NewTicker(h.Ping)
	defer ticker.Stop()
	defer conn.Close()
	defer h.Hub.Unregister(client.ID)
	for {
		select {
		case <-client.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case ev := <-replies:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
			now := time.Now()
			if err := h.Live.Touch(ctx, client.ID, &now, nil); err != nil {
				h.Log.Debug("record ping", "client", client.ID, "err", err)
			}
		}
	}
}

// readLoop handles inbound frames until the socket fails.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *broadcast.Client, replies chan<- broadcast.Event) {
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.Tolerance))
	conn.SetPongHandler(func(string) error {
		now := time.Now()
		if err := h.Live.Touch(ctx, client.ID, nil, &now); err != nil {
			h.Log.Debug("record pong", "client", client.ID, "err", err)
		}
		return conn.SetReadDeadline(now.Add(h.Tolerance))
	})
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			var (
				syntaxErr *json.SyntaxError
				typeErr   *json.UnmarshalTypeError
			)
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				h.reply(client, replies, frame.RequestID, fmt.Errorf("%w: invalid json", errBadFrame))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Log.Debug("websocket read", "client", client.ID, "err", err)
			}
			return
		}
		h.reply(client, replies, frame.RequestID, h.dispatch(ctx, client, frame))
	}
}

func (h *WSHandler) dispatch(ctx context.Context, client *broadcast.Client, frame wsFrame) error {
	switch frame.Type {
	case FramePosition:
		var p struct {
			SessionID uint64 `json:"session_id"`
			LineRef   string `json:"line_ref"`
		}
		if err := json.Unmarshal(frame.Payload, &p); err != nil || p.SessionID == 0 || p.LineRef == "" {
			return fmt.Errorf("%w: session_id and line_ref are required", errBadFrame)
		}
		sess, err := h.Live.Session(ctx, p.SessionID)
		if err != nil {
			return err
		}
		if sess.ShowID != client.ShowID {
			return repository.ErrNotFound
		}
		return h.Live.UpdatePosition(ctx, p.SessionID, p.LineRef, client.ID)
	case FrameAcquireEditor:
		return h.Live.AcquireEditorLock(ctx, client.ShowID, client.ID)
	case FrameReleaseEditor:
		return h.Live.ReleaseEditorLock(ctx, client.ShowID, client.ID)
	default:
		return fmt.Errorf("%w: unsupported type %q", errBadFrame, frame.Type)
	}
}

// reply queues the outcome of a frame for the writer. Replies to a client
// that is going away are dropped.
func (h *WSHandler) reply(client *broadcast.Client, replies chan<- broadcast.Event, requestID string, err error) {
	r := wsReply{RequestID: requestID, OK: err == nil}
	if err != nil {
		r.Error = err.Error()
		if !errors.Is(err, errBadFrame) && (statusOf(err) == http.StatusInternalServerError || structural(err)) {
			h.Log.Error("websocket frame failed", "client", client.ID, "err", err)
		}
	}
	select {
	case replies <- broadcast.Event{EventType: EvReply, EventName: EvReply, Payload: r}:
	case <-client.Done():
	}
}
