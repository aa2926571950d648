package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/tkaykim/moveit-sub006/internal/model"
	"github.com/tkaykim/moveit-sub006/internal/recurrence"
	"github.com/tkaykim/moveit-sub006/internal/repository"
)

// BookingCoordinator turns a (user, session, ticket) request into a
// confirmed booking. It takes a seat, then spends the ticket, then writes
// the booking row; each later failure undoes the earlier steps so that a
// rejected request leaves no seat held and no unit spent.
type BookingCoordinator struct {
	catalog   *SessionCatalog
	ledger    *EntitlementLedger
	access    *AccessResolver
	bookings  *repository.BookingRepo
	publisher EventPublisher
	settings  Settings

	// beforeInsert runs between spending the ticket and writing the row.
	beforeInsert func(ctx context.Context, sessionID uint64)
}

// NewBookingCoordinator wires the coordinator. A nil publisher drops events.
func NewBookingCoordinator(catalog *SessionCatalog, ledger *EntitlementLedger, access *AccessResolver, bookings *repository.BookingRepo, publisher EventPublisher, settings Settings) *BookingCoordinator {
	if access == nil {
		access = NewAccessResolver()
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &BookingCoordinator{
		catalog:   catalog,
		ledger:    ledger,
		access:    access,
		bookings:  bookings,
		publisher: publisher,
		settings:  settings.withDefaults(),
	}
}

// BookRequest asks for a seat. A zero UserTicketID lets the coordinator
// pick the best usable ticket.
type BookRequest struct {
	UserID       uint64 `json:"-"`
	SessionID    uint64 `json:"session_id"`
	UserTicketID uint64 `json:"user_ticket_id,omitempty"`
}

// CancelSessionResult reports a session cancellation cascade.
type CancelSessionResult struct {
	SessionID         uint64   `json:"session_id"`
	CancelledBookings []uint64 `json:"cancelled_booking_ids"`
}

// retry runs fn again while it fails with a concurrency conflict. Any other
// error stops immediately.
func retry[T any](ctx context.Context, s Settings, op string, fn func() (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.BackoffInitial
	eb.MaxInterval = s.BackoffMax
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		logrus.WithFields(logrus.Fields{"op": op, "attempt": attempt}).WithError(err).Warn("concurrency conflict")
		return v, err
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(s.MaxAttempts))
}

// Book confirms a booking or returns the reason it was refused.
func (c *BookingCoordinator) Book(ctx context.Context, req BookRequest) (*model.Booking, error) {
	if req.UserID == 0 || req.SessionID == 0 {
		return nil, validation("user and session are required")
	}
	return retry(ctx, c.settings, "book", func() (*model.Booking, error) {
		return c.book(ctx, req)
	})
}

func (c *BookingCoordinator) book(ctx context.Context, req BookRequest) (*model.Booking, error) {
	session, err := c.catalog.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Canceled {
		return nil, newError(KindEligibility, ReasonSessionCanceled, "session %d is canceled", session.ID)
	}
	if !c.settings.Now().Before(session.StartsAt) {
		return nil, newError(KindEligibility, ReasonSessionStarted, "session %d has already started", session.ID)
	}
	tpl, err := c.catalog.GetTemplate(ctx, session.TemplateID)
	if err != nil {
		return nil, err
	}

	ut, rule, err := c.pickTicket(ctx, req, tpl, session)
	if err != nil {
		return nil, err
	}

	dup, err := c.bookings.HasActive(ctx, session.ID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("check active booking: %w", err)
	}
	if dup {
		return nil, newError(KindDuplicate, ReasonDuplicateBooking, "user %d already booked session %d", req.UserID, session.ID)
	}

	b := &model.Booking{
		SessionID:    session.ID,
		UserID:       req.UserID,
		UserTicketID: ut.ID,
		Status:       model.BookingPending,
		AcademyID:    session.AcademyID,
	}
	log := logrus.WithFields(logrus.Fields{
		"session_id":     session.ID,
		"user_id":        req.UserID,
		"user_ticket_id": ut.ID,
		"rule":           rule,
	})

	if err := c.catalog.ReserveCapacity(ctx, session.ID); err != nil {
		return nil, err
	}
	// Compensations must run even when the caller has gone away.
	undo := context.WithoutCancel(ctx)
	if err := c.ledger.consume(ctx, ut, session.StartsAt); err != nil {
		c.compensate(undo, log, session.ID, 0)
		return nil, err
	}

	if c.beforeInsert != nil {
		c.beforeInsert(ctx, session.ID)
	}
	b.Status = model.BookingConfirmed
	if err := c.bookings.Create(ctx, b); err != nil {
		c.compensate(undo, log, session.ID, ut.ID)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, newError(KindDuplicate, ReasonDuplicateBooking, "user %d already booked session %d", req.UserID, session.ID)
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	// A session canceled after the seat was taken may have listed its
	// bookings before this row existed. CancelSession marks the session
	// before listing, so this read sees the mark whenever the cascade missed
	// the row.
	current, err := c.catalog.Get(undo, session.ID)
	if err != nil || current.Canceled {
		c.withdraw(undo, log, b.ID)
		if err != nil {
			return nil, fmt.Errorf("recheck session: %w", err)
		}
		return nil, newError(KindEligibility, ReasonSessionCanceled, "session %d is canceled", session.ID)
	}

	log.WithField("booking_id", b.ID).Info("booking confirmed")
	c.publish(undo, newBookingEvent(EventBookingConfirmed, b, session.StartsAt, c.settings.Now()))
	return b, nil
}

// pickTicket loads the requested ticket or chooses the best usable one, and
// returns the rule admitting it.
func (c *BookingCoordinator) pickTicket(ctx context.Context, req BookRequest, tpl *model.ClassTemplate, session *model.SessionInstance) (*model.UserTicket, RuleKind, error) {
	if req.UserTicketID == 0 {
		list, err := c.ledger.ListUsable(ctx, req.UserID, tpl, session)
		if err != nil {
			return nil, "", err
		}
		if len(list) == 0 {
			return nil, "", newError(KindEligibility, ReasonNoUsableTicket, "user %d has no ticket usable for session %d", req.UserID, session.ID)
		}
		return &list[0].UserTicket, list[0].Rule, nil
	}
	ut, err := c.ledger.Get(ctx, req.UserTicketID)
	if err != nil {
		return nil, "", err
	}
	if ut.UserID != req.UserID {
		return nil, "", ticketNotFound(req.UserTicketID)
	}
	rule, err := c.access.Resolve(tpl, ut)
	if err != nil {
		return nil, "", err
	}
	return ut, rule, nil
}

// compensate releases the seat and, when userTicketID is set, restores the
// spent unit. Failures are logged; the original error is what the caller
// sees.
func (c *BookingCoordinator) compensate(ctx context.Context, log *logrus.Entry, sessionID, userTicketID uint64) {
	if userTicketID != 0 {
		if err := c.ledger.Restore(ctx, userTicketID); err != nil {
			log.WithError(err).Error("compensation: restore ticket failed")
		}
	}
	if err := c.catalog.ReleaseCapacity(ctx, sessionID); err != nil {
		log.WithError(err).Error("compensation: release seat failed")
	}
}

// withdraw cancels a booking that was written but cannot stand. A cascade
// that already cancelled it is not an error.
func (c *BookingCoordinator) withdraw(ctx context.Context, log *logrus.Entry, bookingID uint64) {
	_, err := retry(ctx, c.settings, "withdraw", func() (*model.Booking, error) {
		return c.cancelOnce(ctx, bookingID)
	})
	if err != nil && ReasonOf(err) != ReasonInvalidTransition {
		log.WithError(err).WithField("booking_id", bookingID).Error("compensation: withdraw booking failed")
	}
}

func (c *BookingCoordinator) publish(ctx context.Context, ev BookingEvent) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.publisher.PublishBookingEvent(ctx, ev); err != nil {
		logrus.WithFields(logrus.Fields{"event": ev.Type, "booking_id": ev.BookingID}).WithError(err).Warn("publish booking event failed")
	}
}

// Get returns a booking.
func (c *BookingCoordinator) Get(ctx context.Context, id uint64) (*model.Booking, error) {
	b, err := c.bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, ReasonBookingNotFound, "booking %d not found", id)
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// ListForUser returns a user's bookings, newest first.
func (c *BookingCoordinator) ListForUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	return c.bookings.ListByUser(ctx, userID)
}

// UsableFor lists the user's tickets that could pay for the session, best
// first. The first entry is what Book picks when no ticket is named.
func (c *BookingCoordinator) UsableFor(ctx context.Context, userID, sessionID uint64) ([]UsableTicket, error) {
	session, err := c.catalog.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	tpl, err := c.catalog.GetTemplate(ctx, session.TemplateID)
	if err != nil {
		return nil, err
	}
	return c.ledger.ListUsable(ctx, userID, tpl, session)
}

// ListForSession returns the roster of a session in the given status.
func (c *BookingCoordinator) ListForSession(ctx context.Context, sessionID uint64, status model.BookingStatus) ([]model.Booking, error) {
	if _, err := c.catalog.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.bookings.ListBySession(ctx, sessionID, status)
}

// CancelForUser cancels a booking on behalf of its owner. Another user's
// booking is reported as not found.
func (c *BookingCoordinator) CancelForUser(ctx context.Context, bookingID, userID uint64) (*model.Booking, error) {
	b, err := c.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, newError(KindNotFound, ReasonBookingNotFound, "booking %d not found", bookingID)
	}
	return c.Cancel(ctx, bookingID)
}

// Cancel moves a CONFIRMED booking to CANCELLED, returns its unit to the
// ticket and frees its seat in one transaction.
func (c *BookingCoordinator) Cancel(ctx context.Context, bookingID uint64) (*model.Booking, error) {
	b, err := retry(ctx, c.settings, "cancel", func() (*model.Booking, error) {
		return c.cancelOnce(ctx, bookingID)
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"booking_id": b.ID, "session_id": b.SessionID}).Info("booking cancelled")

	var startsAt time.Time
	if s, err := c.catalog.Get(ctx, b.SessionID); err == nil {
		startsAt = s.StartsAt
	}
	c.publish(context.WithoutCancel(ctx), newBookingEvent(EventBookingCancelled, b, startsAt, c.settings.Now()))
	return b, nil
}

func (c *BookingCoordinator) cancelOnce(ctx context.Context, bookingID uint64) (*model.Booking, error) {
	tx, err := c.bookings.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	b, err := c.bookings.GetByIDTx(ctx, tx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, ReasonBookingNotFound, "booking %d not found", bookingID)
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if b.Status != model.BookingConfirmed {
		return nil, newError(KindValidation, ReasonInvalidTransition, "booking %d is %s", b.ID, b.Status)
	}
	if err := c.bookings.TransitionTx(ctx, tx, b.ID, model.BookingConfirmed, model.BookingCancelled); err != nil {
		if errors.Is(err, repository.ErrNoChange) {
			return nil, conflict("booking %d changed while being cancelled", b.ID)
		}
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	if err := c.ledger.restoreTx(ctx, tx, b.UserTicketID); err != nil {
		return nil, err
	}
	if err := c.catalog.releaseCapacityTx(ctx, tx, b.SessionID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	b.Status = model.BookingCancelled
	return b, nil
}

// Complete marks an attended booking. The unit stays spent.
func (c *BookingCoordinator) Complete(ctx context.Context, bookingID uint64) (*model.Booking, error) {
	err := c.bookings.Transition(ctx, bookingID, model.BookingConfirmed, model.BookingCompleted)
	if err != nil && !errors.Is(err, repository.ErrNoChange) {
		return nil, fmt.Errorf("complete booking: %w", err)
	}
	b, gerr := c.Get(ctx, bookingID)
	if gerr != nil {
		return nil, gerr
	}
	if err != nil {
		return nil, newError(KindValidation, ReasonInvalidTransition, "booking %d is %s", b.ID, b.Status)
	}
	return b, nil
}

// CancelSession cancels the session and then every confirmed booking on it.
// The session stays canceled when some bookings fail; the failures are
// returned joined and a repeated call picks up the rest.
func (c *BookingCoordinator) CancelSession(ctx context.Context, sessionID uint64, reason string) (*CancelSessionResult, error) {
	if err := c.catalog.Cancel(ctx, sessionID, reason); err != nil {
		return nil, err
	}
	return c.cancelBookingsOf(ctx, sessionID)
}

func (c *BookingCoordinator) cancelBookingsOf(ctx context.Context, sessionID uint64) (*CancelSessionResult, error) {
	list, err := c.bookings.ListBySession(ctx, sessionID, model.BookingConfirmed)
	if err != nil {
		return nil, fmt.Errorf("list session bookings: %w", err)
	}
	res := &CancelSessionResult{SessionID: sessionID, CancelledBookings: []uint64{}}
	var errs []error
	for _, b := range list {
		if _, err := c.Cancel(ctx, b.ID); err != nil {
			if ReasonOf(err) == ReasonInvalidTransition {
				continue
			}
			errs = append(errs, fmt.Errorf("booking %d: %w", b.ID, err))
			continue
		}
		res.CancelledBookings = append(res.CancelledBookings, b.ID)
	}
	return res, errors.Join(errs...)
}

// RescheduleResult is a regenerated schedule with its booking cascade.
type RescheduleResult struct {
	*RegenerateResult
	CancelledBookings []uint64 `json:"cancelled_booking_ids"`
}

// Reschedule replaces a recurrence rule and cancels the bookings of every
// session the new rule no longer produces.
func (c *BookingCoordinator) Reschedule(ctx context.Context, ruleID uint64, next *model.RecurrenceRule) (*RescheduleResult, error) {
	regen, err := c.catalog.Regenerate(ctx, ruleID, next)
	if err != nil {
		return nil, err
	}
	res := &RescheduleResult{RegenerateResult: regen, CancelledBookings: []uint64{}}
	var errs []error
	for _, id := range regen.Dropped {
		r, err := c.cancelBookingsOf(ctx, id)
		if r != nil {
			res.CancelledBookings = append(res.CancelledBookings, r.CancelledBookings...)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}

// ApproveExtensionResult is an approved request with its pause cascade.
type ApproveExtensionResult struct {
	Request           *model.ExtensionRequest `json:"request"`
	Ticket            *model.UserTicket       `json:"ticket"`
	CancelledBookings []uint64                `json:"cancelled_booking_ids"`
}

// ApproveExtension approves an extension request. For a pause, the
// ticket's confirmed bookings on sessions that have not started and fall
// within the absence are cancelled as well.
func (c *BookingCoordinator) ApproveExtension(ctx context.Context, requestID, adminID uint64) (*ApproveExtensionResult, error) {
	req, ut, err := c.ledger.ApproveExtension(ctx, requestID, adminID)
	if err != nil {
		return nil, err
	}
	res := &ApproveExtensionResult{Request: req, Ticket: ut, CancelledBookings: []uint64{}}
	if req.Type != model.ExtensionPause {
		return res, nil
	}

	loc := c.settings.Location
	from := time.Date(req.AbsentStartDate.Year(), req.AbsentStartDate.Month(), req.AbsentStartDate.Day(), 0, 0, 0, 0, loc)
	end := recurrence.AddDays(*req.AbsentEndDate, 1)
	to := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
	if now := c.settings.Now(); from.Before(now) {
		from = now
	}
	list, err := c.bookings.ListByTicketBetween(ctx, req.UserTicketID, model.BookingConfirmed, from, to)
	if err != nil {
		return res, fmt.Errorf("list paused bookings: %w", err)
	}
	var errs []error
	for _, b := range list {
		if _, err := c.Cancel(ctx, b.ID); err != nil {
			if ReasonOf(err) == ReasonInvalidTransition {
				continue
			}
			errs = append(errs, fmt.Errorf("booking %d: %w", b.ID, err))
			continue
		}
		res.CancelledBookings = append(res.CancelledBookings, b.ID)
	}
	if len(res.CancelledBookings) > 0 {
		if fresh, err := c.ledger.Get(ctx, ut.ID); err == nil {
			res.Ticket = fresh
		}
	}
	return res, errors.Join(errs...)
}
