// Package router mounts the handlers on an echo instance. Public browse
// routes are unauthenticated and cacheable; customer and admin routes sit
// behind JWTAuth, a role check and the rate limiter.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/tkaykim/moveit-sub006/internal/handler"
)

// RegisterRoutes registers routes that need no authentication beyond the
// public API, currently the health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterPublic registers the browse API. cache wraps every route; pass a
// pass-through middleware to disable caching.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, cache echo.MiddlewareFunc) {
	g := e.Group("/v1", cache)
	g.GET("/academies/:id/sessions", p.ListSessions)
	g.GET("/academies/:id/classes", p.ListClasses)
	g.GET("/academies/:id/tickets", p.ListTickets)
	// availability changes with every booking, so the cache TTL bounds how
	// stale the seat count can be
	g.GET("/sessions/:id", p.GetSession)
}
