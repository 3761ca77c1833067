package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dreamteamprod/digiscript-live/internal/broadcast"
	"github.com/dreamteamprod/digiscript-live/internal/config"
	"github.com/dreamteamprod/digiscript-live/internal/lockreg"
	"github.com/dreamteamprod/digiscript-live/internal/model"
	"github.com/dreamteamprod/digiscript-live/internal/queue"
	"github.com/dreamteamprod/digiscript-live/internal/repository"
	"github.com/dreamteamprod/digiscript-live/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []queue.ShowEvent
}

func (r *recorder) Publish(_ context.Context, ev queue.ShowEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

type env struct {
	hub      *broadcast.Hub
	events   *recorder
	conns    *repository.ConnectionRepo
	scripts  *Scripts
	live     *LiveController
	settings *config.Settings
	show     *model.Show
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db := testutil.OpenDB(t)
	log := testutil.Logger()
	locks := lockreg.New()

	shows := repository.NewShowRepo(db)
	scriptRepo := repository.NewScriptRepo(db, log)
	cueRepo := repository.NewCueRepo(db)
	e := &env{
		hub:      broadcast.NewHub(log),
		events:   &recorder{},
		conns:    repository.NewConnectionRepo(db),
		settings: config.NewSettings(locks, config.SettingsValues{IntervalDefaultSeconds: 600}),
	}
	e.scripts = NewScripts(shows, scriptRepo, cueRepo, locks, e.hub, e.events, log)
	e.live = NewLiveController(db, shows, scriptRepo, repository.NewShowSessionRepo(db), e.conns, locks, e.settings, e.hub, e.events, log)

	var err error
	e.show, err = shows.Create(ctx, "Macbeth")
	require.NoError(t, err)
	return e
}

// withScript gives the show a script with one revision.
func (e *env) withScript(t *testing.T) *model.ScriptRevision {
	t.Helper()
	ctx := context.Background()
	_, err := e.scripts.CreateScript(ctx, e.show.ID)
	require.NoError(t, err)
	rev, err := e.scripts.CreateRevision(ctx, e.show.ID, []model.LineContent{
		{LineType: model.LineDialogue, Parts: []model.PartContent{{LineText: "When shall we three meet again"}}},
	}, "first draft", nil)
	require.NoError(t, err)
	return rev
}

// client connects a realtime client and registers it with the hub.
func (e *env) client(t *testing.T) *broadcast.Client {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, e.live.Connect(context.Background(), model.Connection{InternalID: id, ShowID: e.show.ID, RemoteIP: "127.0.0.1"}))
	c := broadcast.NewClient(id, e.show.ID, 64)
	e.hub.Register(c)
	return c
}

// drain returns the event names queued for c.
func drain(t *testing.T, c *broadcast.Client) []string {
	t.Helper()
	var names []string
	for {
		select {
		case raw := <-c.Send():
			var ev broadcast.Event
			require.NoError(t, json.Unmarshal(raw, &ev))
			names = append(names, ev.EventName)
		default:
			return names
		}
	}
}
