package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatLine(t *testing.T) {
	sid, rid := uint64(4), uint64(9)
	line := FormatLine(ShowEvent{
		Kind:       KindSessionStopped,
		ShowID:     2,
		SessionID:  &sid,
		RevisionID: &rid,
		ClientID:   "abc",
		Detail:     "stopped by stage manager",
		OccurredAt: time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC),
	})
	require.Equal(t,
		"[2026-05-01T20:00:00Z] session.stopped | show_id=2 | session_id=4 | revision_id=9 | client=abc | \"stopped by stage manager\"\n",
		line)
}

func TestHandleMessage_AppendsLines(t *testing.T) {
	c := &Consumer{LogPath: filepath.Join(t.TempDir(), "logs", "events.log")}
	for _, kind := range []string{KindRevisionCreated, KindCueTypeDeleted} {
		body, err := json.Marshal(ShowEvent{Kind: kind, ShowID: 1, OccurredAt: time.Now()})
		require.NoError(t, err)
		require.NoError(t, c.handleMessage(body))
	}
	raw, err := os.ReadFile(c.LogPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], KindCueTypeDeleted)
}

func TestHandleMessage_RejectsBadBodies(t *testing.T) {
	c := &Consumer{LogPath: filepath.Join(t.TempDir(), "events.log")}
	require.Error(t, c.handleMessage([]byte("{")))
	require.Error(t, c.handleMessage([]byte(`{"show_id":1}`)))
	_, err := os.Stat(c.LogPath)
	require.True(t, os.IsNotExist(err))
}
