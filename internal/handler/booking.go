package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tkaykim/moveit-sub006/internal/service"
)

// BookingHandler serves the customer API. Routes are mounted behind
// JWTAuth and the CUSTOMER role; the caller is always the subject of the
// token, never a body field.
type BookingHandler struct {
	Coordinator *service.BookingCoordinator
	Ledger      *service.EntitlementLedger
}

// NewBookingHandler panics if a service is missing.
func NewBookingHandler(coord *service.BookingCoordinator, ledger *service.EntitlementLedger) *BookingHandler {
	if coord == nil || ledger == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{Coordinator: coord, Ledger: ledger}
}

// Book handles POST /v1/bookings with {"session_id", "user_ticket_id"}.
// Without user_ticket_id the best usable ticket is picked. Returns 201 with
// the confirmed booking.
func (h *BookingHandler) Book(c echo.Context) error {
	userID, ok := currentUser(c)
	if !ok {
		return nil
	}
	var req service.BookRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.UserID = userID
	b, err := h.Coordinator.Book(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// Cancel handles DELETE /v1/bookings/:id. The unit goes back to the
// ticket and the seat is freed.
func (h *BookingHandler) Cancel(c echo.Context) error {
	userID, ok := currentUser(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	b, err := h.Coordinator.CancelForUser(c.Request().Context(), id, userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Get handles GET /v1/bookings/:id. Other users' bookings are not found.
func (h *BookingHandler) Get(c echo.Context) error {
	userID, ok := currentUser(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	b, err := h.Coordinator.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if b.UserID != userID {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found", "reason": service.ReasonBookingNotFound})
	}
	return c.JSON(http.StatusOK, b)
}

// ListMine handles GET /v1/my-bookings.
func (h *BookingHandler) ListMine(c echo.Context) error {
	userID, ok := currentUser(c)
	if !ok {
		return nil
	}
	items, err := h.Coordinator.ListForUser(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// MyTickets handles GET /v1/my-tickets. Statuses are reported with lazy
// expiry applied.
func (h *BookingHandler) MyTickets(c echo.Context) error {
	userID, ok := currentUser(c)
	if !ok {
		return nil
	}
	items, err := h.Ledger.ListForUser(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// UsableTickets handles GET /v1/sessions/:id/usable-tickets: the caller's
// tickets that could pay for the session, best first.
func (h *BookingHandler) UsableTickets(c echo.Context) error {
	userID, ok := currentUser(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	items, err := h.Coordinator.UsableFor(c.Request().Context(), userID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// RequestExtension handles POST /v1/extension-requests. The body names the
// ticket, request_type EXTENSION with extension_days or PAUSE with
// absent_start_date and absent_end_date, and a reason. Returns 201 with the
// PENDING request.
func (h *BookingHandler) RequestExtension(c echo.Context) error {
	userID, ok := currentUser(c)
	if !ok {
		return nil
	}
	var in service.ExtensionInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	in.UserID = userID
	req, err := h.Ledger.RequestExtension(c.Request().Context(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, req)
}

// MyExtensionRequests handles GET /v1/my-extension-requests.
func (h *BookingHandler) MyExtensionRequests(c echo.Context) error {
	userID, ok := currentUser(c)
	if !ok {
		return nil
	}
	items, err := h.Ledger.ListMyExtensionRequests(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
