package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// UserID returns the authenticated user id stored by JWTAuth.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(CtxUserID).(uint64)
	return id, ok && id != 0
}

// IsAdmin reports whether the authenticated user is an administrator.
func IsAdmin(c echo.Context) bool {
	v, _ := c.Get(CtxIsAdmin).(bool)
	return v
}

// identity is the caller's id as a key component; "anon" before auth.
func identity(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
