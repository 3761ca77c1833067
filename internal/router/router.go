package router

import (
	"database/sql"

	"github.com/labstack/echo/v4"

	"github.com/dreamteamprod/digiscript-live/internal/handler"
	"github.com/dreamteamprod/digiscript-live/internal/middleware"
)

// RegisterRoutes registers unauthenticated routes: the health check and
// the websocket endpoint, which authenticates with its token parameter.
func RegisterRoutes(e *echo.Echo, db *sql.DB, ws *handler.WSHandler) {
	e.GET("/healthz", handler.Health(db))
	e.GET("/v1/ws", ws.Serve)
}

// RegisterAuth registers token issuance under /v1/auth and the
// authenticated account routes under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth", limit)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret), limit)
	auth.GET("/me", a.Me)
	auth.POST("/logout", a.Logout)
}

// RegisterSettings registers the runtime settings and the caller's
// display overrides. Changing settings requires an administrator.
func RegisterSettings(e *echo.Echo, s *handler.SettingsHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret), limit)
	g.GET("/settings", s.Get)
	g.PATCH("/settings", s.Patch, middleware.RequireAdmin())
	g.GET("/me/overrides", s.ListOverrides)
	g.PUT("/me/overrides", s.PutOverride)
}
