package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tkaykim/moveit-sub006/internal/model"
	"github.com/tkaykim/moveit-sub006/internal/recurrence"
	"github.com/tkaykim/moveit-sub006/internal/service"
)

// defaultWindowDays is the session listing window when no end date is given.
const defaultWindowDays = 14

// PublicHandler serves the unauthenticated browse API: an academy's
// timetable, its classes and the tickets it sells.
type PublicHandler struct {
	Catalog  *service.SessionCatalog
	Ledger   *service.EntitlementLedger
	Location *time.Location
	Now      func() time.Time
}

// NewPublicHandler panics if a service is missing.
func NewPublicHandler(catalog *service.SessionCatalog, ledger *service.EntitlementLedger, loc *time.Location) *PublicHandler {
	if catalog == nil || ledger == nil {
		panic("nil service passed to NewPublicHandler")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &PublicHandler{Catalog: catalog, Ledger: ledger, Location: loc, Now: time.Now}
}

// PublicSession is a session as shown on the timetable.
type PublicSession struct {
	ID                     uint64    `json:"id"`
	TemplateID             uint64    `json:"template_id"`
	StartsAt               time.Time `json:"starts_at"`
	EndsAt                 time.Time `json:"ends_at"`
	Capacity               int       `json:"capacity"`
	Available              int       `json:"available"`
	Canceled               bool      `json:"canceled"`
	CancelReason           *string   `json:"cancel_reason,omitempty"`
	SubstituteInstructorID *uint64   `json:"substitute_instructor_id,omitempty"`
}

func toPublicSession(s model.SessionInstance) PublicSession {
	return PublicSession{
		ID:                     s.ID,
		TemplateID:             s.TemplateID,
		StartsAt:               s.StartsAt,
		EndsAt:                 s.EndsAt,
		Capacity:               s.Capacity,
		Available:              s.Available(),
		Canceled:               s.Canceled,
		CancelReason:           s.CancelReason,
		SubstituteInstructorID: s.SubstituteInstructorID,
	}
}

// midnight returns the instant a civil date begins in loc.
func midnight(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// ListSessions handles GET /v1/academies/:id/sessions?from=&to=. Dates are
// inclusive civil dates in the academy time zone; from defaults to today
// and to to two weeks later.
func (h *PublicHandler) ListSessions(c echo.Context) error {
	academyID, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	from, err := civilDate(c.QueryParam("from"))
	if err != nil {
		return badRequest(c, "from must be YYYY-MM-DD")
	}
	to, err := civilDate(c.QueryParam("to"))
	if err != nil {
		return badRequest(c, "to must be YYYY-MM-DD")
	}
	if from.IsZero() {
		from = recurrence.DateIn(h.Now(), h.Location)
	}
	if to.IsZero() {
		to = recurrence.AddDays(from, defaultWindowDays-1)
	}

	sessions, err := h.Catalog.ListByAcademy(c.Request().Context(), academyID,
		midnight(from, h.Location), midnight(recurrence.AddDays(to, 1), h.Location))
	if err != nil {
		return writeError(c, err)
	}
	out := make([]PublicSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toPublicSession(s))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// GetSession handles GET /v1/sessions/:id.
func (h *PublicHandler) GetSession(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	s, err := h.Catalog.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toPublicSession(*s))
}

// ListClasses handles GET /v1/academies/:id/classes.
func (h *PublicHandler) ListClasses(c echo.Context) error {
	academyID, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	tpls, err := h.Catalog.ListTemplates(c.Request().Context(), academyID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": tpls})
}

// ListTickets handles GET /v1/academies/:id/tickets. Only public tickets
// are listed.
func (h *PublicHandler) ListTickets(c echo.Context) error {
	academyID, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	tickets, err := h.Ledger.ListTickets(c.Request().Context(), academyID, true)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": tickets})
}
