package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dreamteamprod/digiscript-live/internal/repository"
)

// RequireAdmin rejects callers that are not administrators.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !IsAdmin(c) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}

// RoleChecker resolves whether a user holds role bits on a show.
// *repository.RoleRepo satisfies it.
type RoleChecker interface {
	HasRole(ctx context.Context, userID, showID uint64, want uint8) (bool, error)
}

// RequireShowRole rejects callers lacking every bit of want on the show
// named by the :id path parameter. Administrators always pass.
func RequireShowRole(roles RoleChecker, want uint8) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if IsAdmin(c) {
				return next(c)
			}
			uid, ok := UserID(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			showID, err := strconv.ParseUint(c.Param("id"), 10, 64)
			if err != nil || showID == 0 {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
			}
			allowed, err := roles.HasRole(c.Request().Context(), uid, showID, want)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to check role"})
			}
			if !allowed {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}

var _ RoleChecker = (*repository.RoleRepo)(nil)
