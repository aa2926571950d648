package router

import (
	"github.com/labstack/echo/v4"

	"github.com/tkaykim/moveit-sub006/internal/handler"
	"github.com/tkaykim/moveit-sub006/internal/middleware"
)

// RegisterAdmin registers academy administration under /v1/admin. Routes
// require the ACADEMY_ADMIN role; ownership of the targeted academy is
// checked in the handler.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleAcademyAdmin),
		limiter,
	)

	// ---- Academies ----
	g.POST("/academies", h.CreateAcademy)
	g.GET("/academies/:id/templates", h.ListClasses)
	g.POST("/academies/:id/templates", h.CreateClass)
	g.GET("/academies/:id/tickets", h.ListTickets)
	g.POST("/academies/:id/tickets", h.CreateTicket)
	g.POST("/academies/:id/issue", h.IssueTicket)

	// ---- Schedules ----
	g.POST("/templates/:id/schedules", h.Schedule)
	g.GET("/templates/:id/sessions", h.ListClassSessions)
	g.PUT("/schedules/:id", h.Reschedule)
	g.POST("/schedules/:id/materialize", h.Materialize)

	// ---- Sessions ----
	g.POST("/sessions/:id/cancel", h.CancelSession)
	g.POST("/sessions/:id/substitute", h.Substitute)
	g.GET("/sessions/:id/bookings", h.Roster)

	// ---- Entitlements ----
	g.POST("/user-tickets/:id/extend", h.ExtendTicket)
	g.POST("/user-tickets/:id/revoke", h.RevokeTicket)
	g.GET("/academies/:id/extension-requests", h.ListExtensionRequests)
	g.POST("/extension-requests/:id/approve", h.ApproveExtension)
	g.POST("/extension-requests/:id/reject", h.RejectExtension)

	// ---- Bookings ----
	g.POST("/bookings/:id/complete", h.CompleteBooking)
	g.POST("/bookings/:id/cancel", h.CancelBooking)
}
