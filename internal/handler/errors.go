package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dreamteamprod/digiscript-live/internal/config"
	"github.com/dreamteamprod/digiscript-live/internal/logging"
	"github.com/dreamteamprod/digiscript-live/internal/repository"
)

// statusOf maps a domain error to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrEditorConflict),
		errors.Is(err, repository.ErrIntervalConflict),
		errors.Is(err, repository.ErrSessionActive),
		errors.Is(err, repository.ErrSessionEnded),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrEmailExists):
		return http.StatusConflict
	case errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrIntegrity),
		errors.Is(err, repository.ErrNoScript),
		errors.Is(err, config.ErrInvalidSettings):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// structural reports errors that point at damaged data rather than a bad
// request. They are logged whatever status they map to.
func structural(err error) bool {
	return errors.Is(err, repository.ErrIntegrity) ||
		errors.Is(err, repository.ErrChainBroken) ||
		errors.Is(err, repository.ErrDecode)
}

// fail writes err as a JSON error. Server errors hide their cause behind
// msg; domain errors carry their own message.
func fail(c echo.Context, err error, msg string) error {
	status := statusOf(err)
	if status == http.StatusInternalServerError || structural(err) {
		logging.From(c).Error(msg, "err", err, "status", status,
			"method", c.Request().Method, "route", c.Path())
	}
	if status == http.StatusInternalServerError {
		return c.JSON(status, echo.Map{"error": msg})
	}
	return c.JSON(status, echo.Map{"error": err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// pathID parses a positive integer path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}
