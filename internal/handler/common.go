// Package handler exposes the HTTP handlers of the booking API. Handlers
// only parse requests and shape responses; every rule lives in the service
// layer and reaches the client through writeError.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/tkaykim/moveit-sub006/internal/middleware"
	"github.com/tkaykim/moveit-sub006/internal/recurrence"
	"github.com/tkaykim/moveit-sub006/internal/repository"
	"github.com/tkaykim/moveit-sub006/internal/service"
)

// statusOf maps a service failure to its HTTP status.
func statusOf(err error) int {
	if service.ReasonOf(err) == service.ReasonInvalidTransition {
		return http.StatusConflict
	}
	switch service.KindOf(err) {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindEligibility, service.KindForbidden:
		return http.StatusForbidden
	case service.KindCapacity, service.KindEntitlement, service.KindDuplicate:
		return http.StatusConflict
	case service.KindConflict:
		return http.StatusServiceUnavailable
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error", "reason"}. Unclassified errors are
// logged and hidden behind a generic message.
func writeError(c echo.Context, err error) error {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"path":       c.Path(),
			"request_id": c.Get("request_id"),
		}).WithError(err).Error("request failed")
		return c.JSON(status, echo.Map{"error": "internal error"})
	}

	body := echo.Map{"error": err.Error()}
	var se *service.Error
	if errors.As(err, &se) {
		body["error"] = se.Msg
		body["reason"] = se.Reason
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		body["error"] = "not found"
	case errors.Is(err, repository.ErrForbidden):
		body["error"] = "forbidden"
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "reason": service.ReasonInvalidInput})
}

// currentUser returns the authenticated caller or writes a 401.
func currentUser(c echo.Context) (uint64, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		_ = c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return id, ok
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		_ = badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// civilDate parses an optional YYYY-MM-DD value. Empty input yields the
// zero time.
func civilDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return recurrence.ParseDate(s)
}

// Health reports liveness for load balancers.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
