package router

import (
	"github.com/labstack/echo/v4"

	"github.com/dreamteamprod/digiscript-live/internal/handler"
	"github.com/dreamteamprod/digiscript-live/internal/middleware"
	"github.com/dreamteamprod/digiscript-live/internal/model"
)

// ShowHandlers groups the handlers mounted under /v1/shows.
type ShowHandlers struct {
	Shows   *handler.ShowHandler
	Scripts *handler.ScriptHandler
	Cues    *handler.CueHandler
	Live    *handler.LiveHandler
}

// RegisterShows registers show-scoped endpoints. Reads need the read role
// on the show, script and cue edits the write role and live control the
// execute role; administrators pass every check. cache fronts the
// compressed revision content; evict wraps the routes that change it.
func RegisterShows(e *echo.Echo, h ShowHandlers, roles middleware.RoleChecker, jwtSecret string, limit, cache, evict echo.MiddlewareFunc) {
	g := e.Group("/v1/shows", middleware.JWTAuth(jwtSecret), limit)
	g.GET("", h.Shows.List)
	g.POST("", h.Shows.Create, middleware.RequireAdmin())

	read := middleware.RequireShowRole(roles, model.RoleRead)
	write := middleware.RequireShowRole(roles, model.RoleWrite)
	execute := middleware.RequireShowRole(roles, model.RoleExecute)

	s := g.Group("/:id")
	s.GET("", h.Shows.Get, read)
	s.GET("/roles", h.Shows.ListRoles, middleware.RequireAdmin())
	s.PUT("/roles", h.Shows.Grant, middleware.RequireAdmin())

	// ---- Script and revisions ----
	s.GET("/script", h.Scripts.Get, read)
	s.POST("/script", h.Scripts.Create, write)
	s.GET("/script/revisions", h.Scripts.ListRevisions, read)
	s.POST("/script/revisions", h.Scripts.CreateRevision, write)
	s.DELETE("/script/revisions/:rev", h.Scripts.DeleteRevision, write, evict)
	s.GET("/script/revisions/:rev/lines", h.Scripts.Lines, read)
	s.DELETE("/script/revisions/:rev/lines/:line", h.Scripts.DeleteLine, write, evict)
	s.GET("/script/revisions/:rev/compressed", h.Scripts.Compressed, read, cache)
	s.GET("/script/revisions/:rev/cues", h.Cues.List, read)
	s.GET("/script/chain", h.Scripts.Chain, read)
	s.PUT("/script/current", h.Scripts.SetCurrent, write)
	s.POST("/script/repair", h.Scripts.Repair, write)

	// ---- Cues ----
	s.GET("/cue-types", h.Cues.ListTypes, read)
	s.POST("/cue-types", h.Cues.CreateType, write)
	s.DELETE("/cue-types/:type", h.Cues.DeleteType, write)
	s.POST("/cues", h.Cues.Create, write)
	s.PUT("/cues/:cue", h.Cues.Update, write)
	s.POST("/cues/:cue/placements", h.Cues.Associate, write)
	s.DELETE("/cues/:cue/placements", h.Cues.Disassociate, write)

	// ---- Live ----
	s.GET("/live", h.Live.State, read)
	s.POST("/editor", h.Live.AcquireEditor, write)
	s.DELETE("/editor", h.Live.ReleaseEditor, write)
	s.GET("/sessions", h.Live.List, read)
	s.POST("/sessions", h.Live.Start, execute)
	s.POST("/sessions/:sid/stop", h.Live.Stop, execute)
	s.PUT("/sessions/:sid/position", h.Live.Position, execute)
	s.GET("/sessions/:sid/intervals", h.Live.Intervals, read)
	s.POST("/sessions/:sid/intervals", h.Live.BeginInterval, execute)
	s.POST("/sessions/:sid/intervals/:iv/end", h.Live.EndInterval, execute)
}
