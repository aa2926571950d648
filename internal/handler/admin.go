package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tkaykim/moveit-sub006/internal/model"
	"github.com/tkaykim/moveit-sub006/internal/recurrence"
	"github.com/tkaykim/moveit-sub006/internal/repository"
	"github.com/tkaykim/moveit-sub006/internal/service"
)

// AdminHandler serves the academy administration API. Every route acts on
// one academy's resources and checks that the caller owns that academy
// before touching them.
type AdminHandler struct {
	Academies   *repository.AcademyRepo
	Catalog     *service.SessionCatalog
	Ledger      *service.EntitlementLedger
	Coordinator *service.BookingCoordinator
}

// NewAdminHandler panics if a dependency is missing.
func NewAdminHandler(academies *repository.AcademyRepo, catalog *service.SessionCatalog, ledger *service.EntitlementLedger, coord *service.BookingCoordinator) *AdminHandler {
	if academies == nil || catalog == nil || ledger == nil || coord == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Academies: academies, Catalog: catalog, Ledger: ledger, Coordinator: coord}
}

// owns returns nil when the caller administers the academy.
func (h *AdminHandler) owns(ctx context.Context, c echo.Context, academyID uint64) error {
	userID, ok := currentUser(c)
	if !ok {
		return errResponded
	}
	return h.Academies.CheckOwner(ctx, academyID, userID)
}

// errResponded marks that a helper already wrote the response.
var errResponded = errors.New("response written")

func fail(c echo.Context, err error) error {
	if errors.Is(err, errResponded) {
		return nil
	}
	return writeError(c, err)
}

// academyFromPath parses :id and checks ownership of that academy.
func (h *AdminHandler) academyFromPath(c echo.Context) (uint64, error) {
	id, ok := pathID(c, "id")
	if !ok {
		return 0, errResponded
	}
	return id, h.owns(c.Request().Context(), c, id)
}

func (h *AdminHandler) ownedTemplate(c echo.Context) (*model.ClassTemplate, error) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, errResponded
	}
	ctx := c.Request().Context()
	tpl, err := h.Catalog.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	return tpl, h.owns(ctx, c, tpl.AcademyID)
}

func (h *AdminHandler) ownedRule(c echo.Context) (*model.RecurrenceRule, error) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, errResponded
	}
	ctx := c.Request().Context()
	rule, err := h.Catalog.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	tpl, err := h.Catalog.GetTemplate(ctx, rule.TemplateID)
	if err != nil {
		return nil, err
	}
	return rule, h.owns(ctx, c, tpl.AcademyID)
}

func (h *AdminHandler) ownedSession(c echo.Context) (*model.SessionInstance, error) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, errResponded
	}
	ctx := c.Request().Context()
	s, err := h.Catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s, h.owns(ctx, c, s.AcademyID)
}

func (h *AdminHandler) ownedUserTicket(c echo.Context) (*model.UserTicket, error) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, errResponded
	}
	ctx := c.Request().Context()
	ut, err := h.Ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return ut, h.owns(ctx, c, ut.AcademyID)
}

func (h *AdminHandler) ownedBooking(c echo.Context) (*model.Booking, error) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, errResponded
	}
	ctx := c.Request().Context()
	b, err := h.Coordinator.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return b, h.owns(ctx, c, b.AcademyID)
}

// CreateAcademy handles POST /v1/admin/academies. The caller becomes the
// owner.
func (h *AdminHandler) CreateAcademy(c echo.Context) error {
	userID, ok := currentUser(c)
	if !ok {
		return nil
	}
	var body struct {
		Name             string `json:"name"`
		MaxExtensionDays *int   `json:"max_extension_days"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		return badRequest(c, "name is required")
	}
	if body.MaxExtensionDays != nil && *body.MaxExtensionDays < 0 {
		return badRequest(c, "max_extension_days must not be negative")
	}
	a := &model.Academy{Name: body.Name, OwnerID: userID, MaxExtensionDays: body.MaxExtensionDays}
	if err := h.Academies.Create(c.Request().Context(), a); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

// CreateClass handles POST /v1/admin/academies/:id/templates.
func (h *AdminHandler) CreateClass(c echo.Context) error {
	academyID, err := h.academyFromPath(c)
	if err != nil {
		return fail(c, err)
	}
	var tpl model.ClassTemplate
	if err := c.Bind(&tpl); err != nil {
		return badRequest(c, "invalid request body")
	}
	tpl.ID = 0
	tpl.AcademyID = academyID
	if err := h.Catalog.CreateTemplate(c.Request().Context(), &tpl); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, tpl)
}

// ListClasses handles GET /v1/admin/academies/:id/templates.
func (h *AdminHandler) ListClasses(c echo.Context) error {
	academyID, err := h.academyFromPath(c)
	if err != nil {
		return fail(c, err)
	}
	items, err := h.Catalog.ListTemplates(c.Request().Context(), academyID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// CreateTicket handles POST /v1/admin/academies/:id/tickets.
func (h *AdminHandler) CreateTicket(c echo.Context) error {
	academyID, err := h.academyFromPath(c)
	if err != nil {
		return fail(c, err)
	}
	var t model.Ticket
	if err := c.Bind(&t); err != nil {
		return badRequest(c, "invalid request body")
	}
	t.ID = 0
	t.AcademyID = academyID
	if err := h.Ledger.CreateTicket(c.Request().Context(), &t); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

// ListTickets handles GET /v1/admin/academies/:id/tickets, hidden tickets
// included.
func (h *AdminHandler) ListTickets(c echo.Context) error {
	academyID, err := h.academyFromPath(c)
	if err != nil {
		return fail(c, err)
	}
	items, err := h.Ledger.ListTickets(c.Request().Context(), academyID, false)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// IssueTicket handles POST /v1/admin/academies/:id/issue, the
// manual counterpart of the payment consumer. Without an idempotency key
// every request issues a new ticket. A missing amount is the ticket price.
func (h *AdminHandler) IssueTicket(c echo.Context) error {
	academyID, err := h.academyFromPath(c)
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		IdempotencyKey string           `json:"idempotency_key"`
		UserID         uint64           `json:"user_id"`
		TicketID       uint64           `json:"ticket_id"`
		Amount         *decimal.Decimal `json:"amount"`
		PaidAt         *time.Time       `json:"paid_at"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	req := service.IssueRequest{
		IdempotencyKey: strings.TrimSpace(body.IdempotencyKey),
		UserID:         body.UserID,
		TicketID:       body.TicketID,
		AcademyID:      academyID,
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = "manual-" + uuid.NewString()
	}
	if body.PaidAt != nil {
		req.PaidAt = *body.PaidAt
	}
	if body.Amount != nil {
		req.Amount = *body.Amount
	} else {
		req.AtListPrice = true
	}
	ut, err := h.Ledger.Issue(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, ut)
}

// ruleBody is the wire form of a recurrence rule; dates are YYYY-MM-DD.
type ruleBody struct {
	StartDate       string         `json:"start_date"`
	EndDate         string         `json:"end_date"`
	DaysOfWeek      []time.Weekday `json:"days_of_week"`
	IntervalWeeks   int            `json:"interval_weeks"`
	TimeOfDay       string         `json:"time_of_day"`
	DurationMinutes int            `json:"duration_minutes"`
	Timezone        string         `json:"timezone"`
}

func (b ruleBody) rule() (*model.RecurrenceRule, error) {
	start, err := recurrence.ParseDate(b.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := recurrence.ParseDate(b.EndDate)
	if err != nil {
		return nil, err
	}
	interval := b.IntervalWeeks
	if interval == 0 {
		interval = 1
	}
	return &model.RecurrenceRule{
		StartDate:       start,
		EndDate:         end,
		DaysOfWeek:      b.DaysOfWeek,
		IntervalWeeks:   interval,
		TimeOfDay:       b.TimeOfDay,
		DurationMinutes: b.DurationMinutes,
		Timezone:        b.Timezone,
	}, nil
}

func bindRule(c echo.Context) (*model.RecurrenceRule, error) {
	var body ruleBody
	if err := c.Bind(&body); err != nil {
		_ = badRequest(c, "invalid request body")
		return nil, errResponded
	}
	rule, err := body.rule()
	if err != nil {
		_ = badRequest(c, err.Error())
		return nil, errResponded
	}
	return rule, nil
}

// Schedule handles POST /v1/admin/templates/:id/schedules: stores a rule
// for the class and materializes all of its sessions.
func (h *AdminHandler) Schedule(c echo.Context) error {
	tpl, err := h.ownedTemplate(c)
	if err != nil {
		return fail(c, err)
	}
	rule, err := bindRule(c)
	if err != nil {
		return fail(c, err)
	}
	res, err := h.Catalog.Schedule(c.Request().Context(), tpl.ID, rule)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"rule": rule, "created": res.Created, "skipped": res.Skipped})
}

// ListClassSessions handles GET /v1/admin/templates/:id/sessions.
func (h *AdminHandler) ListClassSessions(c echo.Context) error {
	tpl, err := h.ownedTemplate(c)
	if err != nil {
		return fail(c, err)
	}
	items, err := h.Catalog.ListByTemplate(c.Request().Context(), tpl.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Reschedule handles PUT /v1/admin/schedules/:id. The rule is replaced by
// a new one; future sessions the new rule drops are canceled along with
// their bookings.
func (h *AdminHandler) Reschedule(c echo.Context) error {
	old, err := h.ownedRule(c)
	if err != nil {
		return fail(c, err)
	}
	next, err := bindRule(c)
	if err != nil {
		return fail(c, err)
	}
	res, err := h.Coordinator.Reschedule(c.Request().Context(), old.ID, next)
	if err != nil && res == nil {
		return writeError(c, err)
	}
	return partial(c, res, err)
}

// Materialize handles POST /v1/admin/schedules/:id/materialize with an
// optional {"from", "to"} range. Already existing sessions are skipped.
func (h *AdminHandler) Materialize(c echo.Context) error {
	rule, err := h.ownedRule(c)
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	var rng service.DateRange
	if rng.From, err = civilDate(body.From); err != nil {
		return badRequest(c, "from must be YYYY-MM-DD")
	}
	if rng.To, err = civilDate(body.To); err != nil {
		return badRequest(c, "to must be YYYY-MM-DD")
	}
	res, err := h.Catalog.MaterializeRule(c.Request().Context(), rule.ID, rng)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// CancelSession handles POST /v1/admin/sessions/:id/cancel with an
// optional {"reason"}. Every confirmed booking is cancelled and refunded.
func (h *AdminHandler) CancelSession(c echo.Context) error {
	s, err := h.ownedSession(c)
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.Coordinator.CancelSession(c.Request().Context(), s.ID, body.Reason)
	if err != nil && res == nil {
		return writeError(c, err)
	}
	return partial(c, res, err)
}

// partial writes a cascade result. When some steps failed the result is
// still returned, with status 207 and the joined failure.
func partial(c echo.Context, res any, err error) error {
	if err == nil {
		return c.JSON(http.StatusOK, res)
	}
	logrus.WithField("path", c.Path()).WithError(err).Warn("cascade finished with failures")
	return c.JSON(http.StatusMultiStatus, echo.Map{"result": res, "error": err.Error()})
}

// Substitute handles POST /v1/admin/sessions/:id/substitute with
// {"instructor_id"}; null clears the substitute.
func (h *AdminHandler) Substitute(c echo.Context) error {
	s, err := h.ownedSession(c)
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		InstructorID *uint64 `json:"instructor_id"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	out, err := h.Catalog.Substitute(c.Request().Context(), s.ID, body.InstructorID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// Roster handles GET /v1/admin/sessions/:id/bookings?status=. Status
// defaults to CONFIRMED.
func (h *AdminHandler) Roster(c echo.Context) error {
	s, err := h.ownedSession(c)
	if err != nil {
		return fail(c, err)
	}
	status := model.BookingStatus(strings.ToUpper(strings.TrimSpace(c.QueryParam("status"))))
	switch status {
	case "":
		status = model.BookingConfirmed
	case model.BookingConfirmed, model.BookingCancelled, model.BookingCompleted:
	default:
		return badRequest(c, "unknown booking status")
	}
	items, err := h.Coordinator.ListForSession(c.Request().Context(), s.ID, status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// ExtendTicket handles POST /v1/admin/user-tickets/:id/extend with either
// {"new_expiry_date"} or {"extend_by_days"}.
func (h *AdminHandler) ExtendTicket(c echo.Context) error {
	ut, err := h.ownedUserTicket(c)
	if err != nil {
		return fail(c, err)
	}
	var req service.ExtendRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.UserTicketID = ut.ID
	out, err := h.Ledger.Extend(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// RevokeTicket handles POST /v1/admin/user-tickets/:id/revoke.
func (h *AdminHandler) RevokeTicket(c echo.Context) error {
	ut, err := h.ownedUserTicket(c)
	if err != nil {
		return fail(c, err)
	}
	ctx := c.Request().Context()
	if err := h.Ledger.Revoke(ctx, ut.ID); err != nil {
		return writeError(c, err)
	}
	out, err := h.Ledger.Get(ctx, ut.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminHandler) ownedExtensionRequest(c echo.Context) (*model.ExtensionRequest, error) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, errResponded
	}
	ctx := c.Request().Context()
	req, err := h.Ledger.GetExtensionRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return req, h.owns(ctx, c, req.AcademyID)
}

// ListExtensionRequests handles
// GET /v1/admin/academies/:id/extension-requests?status=. Without a status
// every request is listed.
func (h *AdminHandler) ListExtensionRequests(c echo.Context) error {
	academyID, err := h.academyFromPath(c)
	if err != nil {
		return fail(c, err)
	}
	status := model.ExtensionRequestStatus(strings.ToUpper(strings.TrimSpace(c.QueryParam("status"))))
	switch status {
	case "", model.ExtensionPending, model.ExtensionApproved, model.ExtensionRejected:
	default:
		return badRequest(c, "unknown request status")
	}
	items, err := h.Ledger.ListExtensionRequests(c.Request().Context(), academyID, status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// ApproveExtension handles POST /v1/admin/extension-requests/:id/approve.
// The response carries the request, the extended ticket and, for a pause,
// the bookings cancelled inside the absence.
func (h *AdminHandler) ApproveExtension(c echo.Context) error {
	req, err := h.ownedExtensionRequest(c)
	if err != nil {
		return fail(c, err)
	}
	adminID, _ := currentUser(c)
	res, err := h.Coordinator.ApproveExtension(c.Request().Context(), req.ID, adminID)
	if err != nil && res == nil {
		return writeError(c, err)
	}
	return partial(c, res, err)
}

// RejectExtension handles POST /v1/admin/extension-requests/:id/reject
// with {"reject_reason"}.
func (h *AdminHandler) RejectExtension(c echo.Context) error {
	req, err := h.ownedExtensionRequest(c)
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		RejectReason string `json:"reject_reason"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	adminID, _ := currentUser(c)
	out, err := h.Ledger.RejectExtension(c.Request().Context(), req.ID, adminID, body.RejectReason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// CompleteBooking handles POST /v1/admin/bookings/:id/complete.
func (h *AdminHandler) CompleteBooking(c echo.Context) error {
	b, err := h.ownedBooking(c)
	if err != nil {
		return fail(c, err)
	}
	out, err := h.Coordinator.Complete(c.Request().Context(), b.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// CancelBooking handles POST /v1/admin/bookings/:id/cancel, an academy-side
// cancellation with the same refund as a customer's.
func (h *AdminHandler) CancelBooking(c echo.Context) error {
	b, err := h.ownedBooking(c)
	if err != nil {
		return fail(c, err)
	}
	out, err := h.Coordinator.Cancel(c.Request().Context(), b.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
