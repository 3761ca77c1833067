package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dreamteamprod/digiscript-live/internal/broadcast"
	"github.com/dreamteamprod/digiscript-live/internal/config"
	"github.com/dreamteamprod/digiscript-live/internal/handler"
	"github.com/dreamteamprod/digiscript-live/internal/lockreg"
	"github.com/dreamteamprod/digiscript-live/internal/logging"
	"github.com/dreamteamprod/digiscript-live/internal/middleware"
	"github.com/dreamteamprod/digiscript-live/internal/model"
	"github.com/dreamteamprod/digiscript-live/internal/repository"
	"github.com/dreamteamprod/digiscript-live/internal/router"
	"github.com/dreamteamprod/digiscript-live/internal/service"
	"github.com/dreamteamprod/digiscript-live/internal/testutil"
)

const secret = "test-secret"

type server struct {
	t    *testing.T
	e    *echo.Echo
	hub  *broadcast.Hub
	live *service.LiveController
	logs *lockedBuffer
}

// lockedBuffer collects handler log output; websocket handlers write to it
// from server goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newServer wires the API the way main does, on a fresh SQLite database
// and without Redis or RabbitMQ.
func newServer(t *testing.T) *server {
	t.Helper()
	db := testutil.OpenDB(t)
	log := testutil.Logger()
	cfg := config.Config{JWTSecret: secret, AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour, BcryptCost: bcrypt.MinCost}

	shows := repository.NewShowRepo(db)
	scripts := repository.NewScriptRepo(db, log)
	cues := repository.NewCueRepo(db)
	overrides := repository.NewOverrideRepo(db)
	cues.OnCueTypeDelete(overrides.CueTypeCleanup)
	roles := repository.NewRoleRepo(db)
	locks := lockreg.New()
	settings := config.NewSettings(locks, config.SettingsValues{})
	hub := broadcast.NewHub(log)
	scriptSvc := service.NewScripts(shows, scripts, cues, locks, hub, nil, log)
	live := service.NewLiveController(db, shows, scripts, repository.NewShowSessionRepo(db),
		repository.NewConnectionRepo(db), locks, settings, hub, nil, log)

	logs := &lockedBuffer{}
	e := echo.New()
	e.Use(logging.Inject(logging.New("debug", "text", logs)))
	limit := middleware.NewTokenBucket(config.RateLimitConfig{}, nil)
	cache := middleware.NewRedisCache(config.CacheConfig{}, nil)
	evict := middleware.NewCacheEvictor(config.CacheConfig{}, nil)
	router.RegisterRoutes(e, db, handler.NewWSHandler(secret, roles, live, hub, time.Hour, time.Hour, log))
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db)), secret, limit)
	router.RegisterSettings(e, handler.NewSettingsHandler(settings, shows, overrides, hub), secret, limit)
	router.RegisterShows(e, router.ShowHandlers{
		Shows:   handler.NewShowHandler(shows, roles),
		Scripts: handler.NewScriptHandler(scriptSvc),
		Cues:    handler.NewCueHandler(scriptSvc),
		Live:    handler.NewLiveHandler(live),
	}, roles, secret, limit, cache, evict)
	return &server{t: t, e: e, hub: hub, live: live, logs: logs}
}

// connect records a realtime connection of userID following showID, as
// the websocket endpoint does on upgrade.
func (s *server) connect(showID, userID uint64, clientID string) {
	s.t.Helper()
	require.NoError(s.t, s.live.Connect(context.Background(),
		model.Connection{InternalID: clientID, ShowID: showID, UserID: &userID, RemoteIP: "127.0.0.1"}))
}

// do sends a JSON request and decodes a JSON response into out when set.
func (s *server) do(method, path, token string, body any, out any) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

type authResp struct {
	User struct {
		ID      uint64 `json:"id"`
		IsAdmin bool   `json:"is_admin"`
	} `json:"user"`
	Access struct {
		Token string `json:"token"`
	} `json:"access"`
	Refresh struct {
		Token string `json:"token"`
	} `json:"refresh"`
}

func (s *server) register(email string) authResp {
	s.t.Helper()
	var out authResp
	code := s.do(http.MethodPost, "/v1/auth/register", "", map[string]string{"email": email, "password": "password123"}, &out)
	require.Equal(s.t, http.StatusCreated, code)
	return out
}
