package router

import (
	"github.com/labstack/echo/v4"

	"github.com/tkaykim/moveit-sub006/internal/handler"
	"github.com/tkaykim/moveit-sub006/internal/middleware"
)

// RegisterCustomer registers the booking API under /v1. All routes require
// a valid JWT with the CUSTOMER role. limiter runs after authentication so
// that per-user keys are available.
func RegisterCustomer(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleCustomer),
		limiter,
	)
	g.POST("/bookings", h.Book)
	g.GET("/bookings/:id", h.Get)
	g.DELETE("/bookings/:id", h.Cancel)
	g.GET("/my-bookings", h.ListMine)
	g.GET("/my-tickets", h.MyTickets)
	g.GET("/sessions/:id/usable-tickets", h.UsableTickets)
	g.POST("/extension-requests", h.RequestExtension)
	g.GET("/my-extension-requests", h.MyExtensionRequests)
}
