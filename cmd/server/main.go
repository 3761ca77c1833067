package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/dreamteamprod/digiscript-live/internal/broadcast"
	"github.com/dreamteamprod/digiscript-live/internal/config"
	"github.com/dreamteamprod/digiscript-live/internal/database"
	"github.com/dreamteamprod/digiscript-live/internal/handler"
	"github.com/dreamteamprod/digiscript-live/internal/lockreg"
	"github.com/dreamteamprod/digiscript-live/internal/logging"
	"github.com/dreamteamprod/digiscript-live/internal/middleware"
	"github.com/dreamteamprod/digiscript-live/internal/queue"
	"github.com/dreamteamprod/digiscript-live/internal/repository"
	"github.com/dreamteamprod/digiscript-live/internal/router"
	"github.com/dreamteamprod/digiscript-live/internal/service"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.Options{
		Driver: database.Dialect(cfg.DBDriver),
		User:   cfg.DBUser,
		Pass:   cfg.DBPass,
		Host:   cfg.DBHost,
		Port:   cfg.DBPort,
		Name:   cfg.DBName,
		Path:   cfg.SQLitePath,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	shows := repository.NewShowRepo(db)
	scripts := repository.NewScriptRepo(db, log)
	cues := repository.NewCueRepo(db)
	overrides := repository.NewOverrideRepo(db)
	cues.OnCueTypeDelete(overrides.CueTypeCleanup)
	conns := repository.NewConnectionRepo(db)
	sessions := repository.NewShowSessionRepo(db)
	roles := repository.NewRoleRepo(db)
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)

	err = database.Migrate(ctx, db, database.Dialect(cfg.DBDriver), log, database.Migration{
		Name: "0003_repair_orphaned_revisions",
		Run: func(ctx context.Context, tx *sql.Tx) error {
			return scripts.RepairAllOrphansTx(ctx, tx)
		},
	})
	if err != nil {
		return err
	}
	// Connection records of a previous process are meaningless now.
	if n, err := conns.DeleteAll(ctx); err != nil {
		return err
	} else if n > 0 {
		log.Info("stale connections cleared", "count", n)
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.EventsEnabled {
		events = &service.AMQPPublisher{URL: cfg.RabbitURL, Timeout: 5 * time.Second, Log: log}
		consumer := &queue.Consumer{URL: cfg.RabbitURL, LogPath: cfg.EventsLogPath, Log: log}
		go consumer.Run(ctx)
	}

	locks := lockreg.New()
	settings := config.NewSettings(locks, config.SettingsValues{})
	hub := broadcast.NewHub(log)
	scriptSvc := service.NewScripts(shows, scripts, cues, locks, hub, events, log)
	live := service.NewLiveController(db, shows, scripts, sessions, conns, locks, settings, hub, events, log)
	reaper := service.NewReaper(live, conns, hub, cfg.PongTolerance, cfg.ReaperInterval, log)
	go reaper.Run(ctx)

	rdb := config.NewRedisClient(ctx, log)
	if rdb != nil {
		defer rdb.Close()
	}
	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	cacheCfg := config.LoadCacheConfig()
	cache := middleware.NewRedisCache(cacheCfg, rdb)
	evict := middleware.NewCacheEvictor(cacheCfg, rdb)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(logging.RequestLogger(log))
	e.Use(logging.Inject(log))

	router.RegisterRoutes(e, db, handler.NewWSHandler(cfg.JWTSecret, roles, live, hub, cfg.PingInterval, cfg.PongTolerance, log))
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens), cfg.JWTSecret, limit)
	router.RegisterSettings(e, handler.NewSettingsHandler(settings, shows, overrides, hub), cfg.JWTSecret, limit)
	router.RegisterShows(e, router.ShowHandlers{
		Shows:   handler.NewShowHandler(shows, roles),
		Scripts: handler.NewScriptHandler(scriptSvc),
		Cues:    handler.NewCueHandler(scriptSvc),
		Live:    handler.NewLiveHandler(live),
	}, roles, cfg.JWTSecret, limit, cache, evict)

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Addr(), "env", cfg.Env, "db", cfg.DBDriver)
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	for _, id := range hub.Clients() {
		hub.Disconnect(id)
	}
	return e.Shutdown(shutdownCtx)
}
