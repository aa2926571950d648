package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tkaykim/moveit-sub006/internal/model"
	"github.com/tkaykim/moveit-sub006/internal/recurrence"
	"github.com/tkaykim/moveit-sub006/internal/repository"
)

// EntitlementLedger issues user tickets and spends or restores their units.
// Expiry is lazy: a stored ACTIVE ticket whose expiry date has passed is
// reported as EXPIRED by every read, and nothing rewrites the row.
type EntitlementLedger struct {
	tickets     *repository.TicketRepo
	userTickets *repository.UserTicketRepo
	academies   *repository.AcademyRepo
	requests    *repository.ExtensionRequestRepo
	access      *AccessResolver
	settings    Settings
}

// NewEntitlementLedger wires the ledger to its repositories. access orders
// the tickets returned by ListUsable.
func NewEntitlementLedger(tickets *repository.TicketRepo, userTickets *repository.UserTicketRepo, academies *repository.AcademyRepo, requests *repository.ExtensionRequestRepo, access *AccessResolver, settings Settings) *EntitlementLedger {
	if access == nil {
		access = NewAccessResolver()
	}
	return &EntitlementLedger{
		tickets:     tickets,
		userTickets: userTickets,
		academies:   academies,
		requests:    requests,
		access:      access,
		settings:    settings.withDefaults(),
	}
}

// IssueRequest is a completed payment to turn into an owned ticket.
type IssueRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	UserID         uint64          `json:"user_id"`
	TicketID       uint64          `json:"ticket_id"`
	AcademyID      uint64          `json:"academy_id"`
	Amount         decimal.Decimal `json:"amount"`
	PaidAt         time.Time       `json:"paid_at"`
	// AtListPrice replaces Amount with the ticket's price.
	AtListPrice bool `json:"-"`
}

// ExtendRequest changes a ticket's expiry date. Exactly one of
// NewExpiryDate and ExtendByDays must be set.
type ExtendRequest struct {
	UserTicketID  uint64 `json:"-"`
	NewExpiryDate string `json:"new_expiry_date,omitempty"`
	ExtendByDays  int    `json:"extend_by_days,omitempty"`
	AllowShorten  bool   `json:"allow_shorten,omitempty"`
}

// UsableTicket is a ticket the user may spend on a given session, with the
// rule that admitted it.
type UsableTicket struct {
	model.UserTicket
	Rule RuleKind `json:"rule"`
}

func (l *EntitlementLedger) today() time.Time {
	return recurrence.DateIn(l.settings.Now(), l.settings.Location)
}

// effective applies lazy expiry to ut in place.
func (l *EntitlementLedger) effective(ut *model.UserTicket) {
	if ut.Status == model.UserTicketActive && ut.ExpiryDate != nil && l.today().After(*ut.ExpiryDate) {
		ut.Status = model.UserTicketExpired
	}
}

func ticketNotFound(id uint64) *Error {
	return newError(KindNotFound, ReasonTicketNotFound, "ticket %d not found", id)
}

// CreateTicket validates and stores a sellable ticket definition.
func (l *EntitlementLedger) CreateTicket(ctx context.Context, t *model.Ticket) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.AcademyID == 0 || t.Name == "" {
		return validation("academy and name are required")
	}
	switch t.Kind {
	case model.TicketCount:
		if t.TotalCount == nil || *t.TotalCount <= 0 {
			return validation("count tickets need a positive total count")
		}
	case model.TicketPeriod:
		if t.ValidDays == nil {
			return validation("period tickets need valid days")
		}
		t.TotalCount = nil
	default:
		return validation("unknown ticket kind %q", t.Kind)
	}
	if t.ValidDays != nil && *t.ValidDays <= 0 {
		return validation("valid days must be positive, got %d", *t.ValidDays)
	}
	if t.Price.IsNegative() {
		return validation("price must not be negative")
	}
	if err := l.tickets.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return newError(KindEligibility, ReasonCrossAcademy, "linked classes must belong to academy %d", t.AcademyID)
		}
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

// ListTickets returns the tickets an academy sells.
func (l *EntitlementLedger) ListTickets(ctx context.Context, academyID uint64, publicOnly bool) ([]model.Ticket, error) {
	return l.tickets.ListByAcademy(ctx, academyID, publicOnly)
}

// Issue creates a user ticket for a completed payment. A repeated
// idempotency key returns a DuplicateIssuance error and leaves the first
// ticket untouched.
func (l *EntitlementLedger) Issue(ctx context.Context, req IssueRequest) (*model.UserTicket, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" || req.UserID == 0 || req.TicketID == 0 {
		return nil, validation("idempotency key, user and ticket are required")
	}
	t, err := l.tickets.GetByID(ctx, req.TicketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ticketNotFound(req.TicketID)
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	if req.AcademyID != 0 && req.AcademyID != t.AcademyID {
		return nil, newError(KindEligibility, ReasonCrossAcademy,
			"ticket %d belongs to academy %d, payment names academy %d", t.ID, t.AcademyID, req.AcademyID)
	}
	if req.PaidAt.IsZero() {
		req.PaidAt = l.settings.Now()
	}
	if req.AtListPrice {
		req.Amount = t.Price
	}

	ut := &model.UserTicket{
		UserID:         req.UserID,
		TicketID:       t.ID,
		Status:         model.UserTicketActive,
		StartDate:      recurrence.DateIn(req.PaidAt, l.settings.Location),
		PurchasedAt:    req.PaidAt.UTC(),
		IdempotencyKey: req.IdempotencyKey,
		PaidAmount:     req.Amount,
	}
	switch t.Kind {
	case model.TicketCount:
		if t.TotalCount == nil {
			return nil, validation("ticket %d has no total count", t.ID)
		}
		n := *t.TotalCount
		ut.RemainingCount = &n
	case model.TicketPeriod:
		if t.ValidDays == nil {
			return nil, validation("ticket %d has no validity window", t.ID)
		}
	}
	if t.ValidDays != nil {
		exp := recurrence.AddDays(ut.StartDate, *t.ValidDays)
		ut.ExpiryDate = &exp
	}

	if !req.Amount.Equal(t.Price) {
		logrus.WithFields(logrus.Fields{
			"ticket_id":       t.ID,
			"price":           t.Price.StringFixed(2),
			"paid":            req.Amount.StringFixed(2),
			"idempotency_key": req.IdempotencyKey,
		}).Warn("paid amount differs from ticket price")
	}

	if err := l.userTickets.Create(ctx, ut); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, newError(KindDuplicate, ReasonDuplicateIssuance, "payment %q was already issued", req.IdempotencyKey)
		}
		return nil, fmt.Errorf("issue ticket: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"user_ticket_id": ut.ID,
		"user_id":        ut.UserID,
		"ticket_id":      t.ID,
		"kind":           t.Kind,
	}).Info("ticket issued")
	return l.Get(ctx, ut.ID)
}

// Get returns a user ticket with lazy expiry applied.
func (l *EntitlementLedger) Get(ctx context.Context, id uint64) (*model.UserTicket, error) {
	ut, err := l.userTickets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ticketNotFound(id)
		}
		return nil, fmt.Errorf("get user ticket: %w", err)
	}
	l.effective(ut)
	return ut, nil
}

// ListForUser returns every ticket a user owns with lazy expiry applied.
func (l *EntitlementLedger) ListForUser(ctx context.Context, userID uint64) ([]model.UserTicket, error) {
	list, err := l.userTickets.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		l.effective(&list[i])
	}
	return list, nil
}

// usable checks whether ut may pay for a session held on sessionDate.
func usable(ut *model.UserTicket, sessionDate time.Time) error {
	switch ut.Status {
	case model.UserTicketCancelled:
		return newError(KindEntitlement, ReasonCancelled, "ticket %d is cancelled", ut.ID)
	case model.UserTicketDepleted:
		return newError(KindEntitlement, ReasonExhausted, "ticket %d has no sessions left", ut.ID)
	case model.UserTicketExpired:
		return newError(KindEntitlement, ReasonExpired, "ticket %d has expired", ut.ID)
	}
	if sessionDate.Before(ut.StartDate) {
		return newError(KindEntitlement, ReasonNotYetStarted,
			"ticket %d is valid from %s", ut.ID, ut.StartDate.Format(recurrence.DateLayout))
	}
	if ut.ExpiryDate != nil && sessionDate.After(*ut.ExpiryDate) {
		return newError(KindEntitlement, ReasonExpired,
			"ticket %d expires on %s", ut.ID, ut.ExpiryDate.Format(recurrence.DateLayout))
	}
	if ut.Kind == model.TicketCount && (ut.RemainingCount == nil || *ut.RemainingCount <= 0) {
		return newError(KindEntitlement, ReasonExhausted, "ticket %d has no sessions left", ut.ID)
	}
	return nil
}

// TryConsume spends one unit of the ticket for a session starting at
// sessionTime. Period tickets are only checked.
func (l *EntitlementLedger) TryConsume(ctx context.Context, userTicketID uint64, sessionTime time.Time) error {
	ut, err := l.Get(ctx, userTicketID)
	if err != nil {
		return err
	}
	return l.consume(ctx, ut, sessionTime)
}

func (l *EntitlementLedger) consume(ctx context.Context, ut *model.UserTicket, sessionTime time.Time) error {
	if err := usable(ut, recurrence.DateIn(sessionTime, l.settings.Location)); err != nil {
		return err
	}
	if ut.Kind == model.TicketPeriod {
		return nil
	}
	err := l.userTickets.ConsumeUnit(ctx, ut.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNoChange) {
		return fmt.Errorf("consume ticket: %w", err)
	}
	// Someone else changed the row between our read and the update.
	cur, err := l.Get(ctx, ut.ID)
	if err != nil {
		return err
	}
	if err := usable(cur, recurrence.DateIn(sessionTime, l.settings.Location)); err != nil {
		return err
	}
	return conflict("ticket %d changed while being used", ut.ID)
}

// Restore gives back one unit taken by TryConsume. Period tickets and
// cancelled tickets are left unchanged.
func (l *EntitlementLedger) Restore(ctx context.Context, userTicketID uint64) error {
	ut, err := l.userTickets.GetByID(ctx, userTicketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ticketNotFound(userTicketID)
		}
		return fmt.Errorf("get user ticket: %w", err)
	}
	if ut.Kind == model.TicketPeriod {
		return nil
	}
	return restoreResult(userTicketID, l.userTickets.RestoreUnit(ctx, userTicketID))
}

// restoreTx runs inside the caller's transaction. The update's predicate
// already skips period and cancelled tickets, so no read is needed.
func (l *EntitlementLedger) restoreTx(ctx context.Context, tx *sql.Tx, userTicketID uint64) error {
	return restoreResult(userTicketID, l.userTickets.RestoreUnitTx(ctx, tx, userTicketID))
}

func restoreResult(id uint64, err error) error {
	if errors.Is(err, repository.ErrNoChange) {
		logrus.WithField("user_ticket_id", id).Debug("restore skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore ticket: %w", err)
	}
	return nil
}

// Extend moves a ticket's expiry date. Moving it earlier needs
// AllowShorten, and the academy's maximum extension applies when set.
func (l *EntitlementLedger) Extend(ctx context.Context, req ExtendRequest) (*model.UserTicket, error) {
	byDate := strings.TrimSpace(req.NewExpiryDate) != ""
	if byDate == (req.ExtendByDays != 0) {
		return nil, validation("give exactly one of new_expiry_date and extend_by_days")
	}
	ut, err := l.Get(ctx, req.UserTicketID)
	if err != nil {
		return nil, err
	}
	switch ut.Status {
	case model.UserTicketCancelled:
		return nil, newError(KindEntitlement, ReasonCancelled, "ticket %d is cancelled", ut.ID)
	case model.UserTicketExpired:
		return nil, newError(KindEntitlement, ReasonExpired, "ticket %d has expired", ut.ID)
	}

	var next time.Time
	if byDate {
		next, err = recurrence.ParseDate(req.NewExpiryDate)
		if err != nil {
			return nil, wrapValidation(err, "invalid expiry date")
		}
	} else {
		if req.ExtendByDays < 0 {
			return nil, validation("extend_by_days must be positive, got %d", req.ExtendByDays)
		}
		if ut.ExpiryDate == nil {
			return nil, validation("ticket %d has no expiry date to extend", ut.ID)
		}
		next = recurrence.AddDays(*ut.ExpiryDate, req.ExtendByDays)
	}

	shortens := ut.ExpiryDate == nil || next.Before(*ut.ExpiryDate)
	if shortens && !req.AllowShorten {
		return nil, validation("new expiry %s would shorten ticket %d", next.Format(recurrence.DateLayout), ut.ID)
	}
	if next.Before(ut.StartDate) {
		return nil, validation("new expiry %s is before the start date", next.Format(recurrence.DateLayout))
	}
	if ut.ExpiryDate != nil && !shortens {
		if err := l.checkExtensionCap(ctx, ut, next); err != nil {
			return nil, err
		}
	}

	if err := l.userTickets.SetExpiry(ctx, ut.ID, ut.ExpiryDate, next); err != nil {
		if errors.Is(err, repository.ErrNoChange) {
			return nil, conflict("ticket %d changed while being extended", ut.ID)
		}
		return nil, fmt.Errorf("extend ticket: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"user_ticket_id": ut.ID,
		"expiry_date":    next.Format(recurrence.DateLayout),
	}).Info("ticket expiry changed")
	return l.Get(ctx, ut.ID)
}

func (l *EntitlementLedger) checkExtensionCap(ctx context.Context, ut *model.UserTicket, next time.Time) error {
	return l.checkExtensionDays(ctx, ut.AcademyID, int(next.Sub(*ut.ExpiryDate).Hours()/24))
}

func (l *EntitlementLedger) checkExtensionDays(ctx context.Context, academyID uint64, days int) error {
	a, err := l.academies.GetByID(ctx, academyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newError(KindNotFound, ReasonAcademyNotFound, "academy %d not found", academyID)
		}
		return fmt.Errorf("get academy: %w", err)
	}
	if a.MaxExtensionDays != nil && days > *a.MaxExtensionDays {
		return validation("extension of %d days exceeds the academy limit of %d", days, *a.MaxExtensionDays)
	}
	return nil
}

// Revoke cancels an ACTIVE or DEPLETED ticket, typically after a refund.
func (l *EntitlementLedger) Revoke(ctx context.Context, userTicketID uint64) error {
	err := l.userTickets.Revoke(ctx, userTicketID)
	if err == nil {
		logrus.WithField("user_ticket_id", userTicketID).Info("ticket revoked")
		return nil
	}
	if !errors.Is(err, repository.ErrNoChange) {
		return fmt.Errorf("revoke ticket: %w", err)
	}
	if _, err := l.Get(ctx, userTicketID); err != nil {
		return err
	}
	return newError(KindValidation, ReasonInvalidTransition, "ticket %d is already cancelled", userTicketID)
}

// ListUsable returns the user's tickets that could pay for the session,
// best first: by admitting rule, then by earliest expiry.
func (l *EntitlementLedger) ListUsable(ctx context.Context, userID uint64, tpl *model.ClassTemplate, session *model.SessionInstance) ([]UsableTicket, error) {
	owned, err := l.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sessionDate := recurrence.DateIn(session.StartsAt, l.settings.Location)
	out := []UsableTicket{}
	for _, ut := range owned {
		if usable(&ut, sessionDate) != nil {
			continue
		}
		rule, err := l.access.Resolve(tpl, &ut)
		if err != nil {
			continue
		}
		out = append(out, UsableTicket{UserTicket: ut, Rule: rule})
	}
	rank := map[RuleKind]int{}
	for i, r := range l.access.rules {
		rank[r.Kind()] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if rank[a.Rule] != rank[b.Rule] {
			return rank[a.Rule] < rank[b.Rule]
		}
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate == nil:
		case a.ExpiryDate == nil:
			return false
		case b.ExpiryDate == nil:
			return true
		case !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		}
		return a.ID < b.ID
	})
	return out, nil
}
