package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/dreamteamprod/digiscript-live/internal/handler"
	"github.com/dreamteamprod/digiscript-live/internal/model"
	"github.com/dreamteamprod/digiscript-live/internal/service"
)

type envelope struct {
	EventType string          `json:"event_type"`
	EventName string          `json:"event_name"`
	Payload   json.RawMessage `json:"payload"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func dial(t *testing.T, ts *httptest.Server, showID uint64, token string) *wsClient {
	t.Helper()
	url := fmt.Sprintf("ws%s/v1/ws?show_id=%d&token=%s", strings.TrimPrefix(ts.URL, "http"), showID, token)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &wsClient{t: t, conn: conn}
	hello := c.next()
	require.Equal(t, handler.EvClientHello, hello.EventName)
	var p struct {
		ClientID string `json:"client_id"`
	}
	require.NoError(t, json.Unmarshal(hello.Payload, &p))
	c.id = p.ClientID
	return c
}

func (c *wsClient) next() envelope {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev envelope
	require.NoError(c.t, c.conn.ReadJSON(&ev))
	return ev
}

// until reads envelopes until one named name arrives.
func (c *wsClient) until(name string) envelope {
	c.t.Helper()
	for {
		if ev := c.next(); ev.EventName == name {
			return ev
		}
	}
}

func (c *wsClient) send(typ, requestID string, payload any) {
	c.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"type": typ, "request_id": requestID, "payload": json.RawMessage(raw)}))
}

type reply struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
}

func (c *wsClient) reply() reply {
	c.t.Helper()
	var r reply
	require.NoError(c.t, json.Unmarshal(c.until(handler.EvReply).Payload, &r))
	return r
}

func TestWebsocket_EditorLockAndPosition(t *testing.T) {
	s := newServer(t)
	token := s.register("sm@example.com").Access.Token
	showID, _, _ := setupShow(t, s, token)
	ts := httptest.NewServer(s.e)
	defer ts.Close()

	a := dial(t, ts, showID, token)
	b := dial(t, ts, showID, token)

	a.send(handler.FrameAcquireEditor, "1", nil)
	require.Equal(t, reply{RequestID: "1", OK: true}, a.reply())
	b.until(service.EvEditorAcquired)

	b.send(handler.FrameAcquireEditor, "2", nil)
	r := b.reply()
	require.False(t, r.OK)
	require.Contains(t, r.Error, "editor")

	var sess model.ShowSession
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, fmt.Sprintf("/v1/shows/%d/sessions", showID), token,
		map[string]string{"client_id": a.id}, &sess))
	b.until(service.EvStartShow)

	b.send(handler.FramePosition, "3", map[string]any{"session_id": sess.ID, "line_ref": "page:1/line:0"})
	require.True(t, b.reply().OK)
	moved := a.until(service.EvPositionChanged)
	var pos struct {
		LineRef  string `json:"line_ref"`
		ClientID string `json:"client_id"`
	}
	require.NoError(t, json.Unmarshal(moved.Payload, &pos))
	require.Equal(t, "page:1/line:0", pos.LineRef)
	require.Equal(t, b.id, pos.ClientID)

	b.send("DANCE", "4", nil)
	require.False(t, b.reply().OK)

	// Closing the editor's socket releases the lock for everyone else.
	require.NoError(t, a.conn.Close())
	b.until(service.EvEditorReleased)
	require.Eventually(t, func() bool {
		st, err := s.live.State(t.Context(), showID)
		return err == nil && st.EditorID == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWebsocket_RejectsBadToken(t *testing.T) {
	s := newServer(t)
	ts := httptest.NewServer(s.e)
	defer ts.Close()

	url := fmt.Sprintf("ws%s/v1/ws?show_id=1&token=nope", strings.TrimPrefix(ts.URL, "http"))
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
