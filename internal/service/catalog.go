package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tkaykim/moveit-sub006/internal/model"
	"github.com/tkaykim/moveit-sub006/internal/recurrence"
	"github.com/tkaykim/moveit-sub006/internal/repository"
)

// SessionCatalog owns class templates, their recurrence rules and the
// materialized session instances, including each instance's seat counter.
type SessionCatalog struct {
	templates *repository.TemplateRepo
	rules     *repository.RuleRepo
	sessions  *repository.SessionRepo
	settings  Settings
}

// NewSessionCatalog wires the catalog to its repositories.
func NewSessionCatalog(templates *repository.TemplateRepo, rules *repository.RuleRepo, sessions *repository.SessionRepo, settings Settings) *SessionCatalog {
	return &SessionCatalog{templates: templates, rules: rules, sessions: sessions, settings: settings.withDefaults()}
}

// DateRange bounds a materialization by inclusive civil dates. Zero bounds
// are open. Starts at or before After are skipped when After is set.
type DateRange struct {
	From  time.Time
	To    time.Time
	After time.Time
}

// MaterializeResult reports what a materialization wrote.
type MaterializeResult struct {
	Created []model.SessionInstance `json:"created"`
	Skipped int                     `json:"skipped"`
}

// RegenerateResult is the outcome of replacing a rule.
type RegenerateResult struct {
	Rule        *model.RecurrenceRule `json:"rule"`
	Dropped     []uint64              `json:"dropped_session_ids"`
	Materialize *MaterializeResult    `json:"materialized"`
}

// CreateTemplate validates and stores a class template with its linked
// ticket set.
func (c *SessionCatalog) CreateTemplate(ctx context.Context, tpl *model.ClassTemplate) error {
	tpl.Title = strings.TrimSpace(tpl.Title)
	if tpl.AcademyID == 0 || tpl.Title == "" {
		return validation("academy and title are required")
	}
	if tpl.Capacity <= 0 {
		return validation("capacity must be positive, got %d", tpl.Capacity)
	}
	if err := c.templates.Create(ctx, tpl); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return newError(KindEligibility, ReasonCrossAcademy, "linked tickets must belong to academy %d", tpl.AcademyID)
		}
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// GetTemplate returns a template with its linked tickets.
func (c *SessionCatalog) GetTemplate(ctx context.Context, id uint64) (*model.ClassTemplate, error) {
	tpl, err := c.templates.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, ReasonTemplateNotFound, "template %d not found", id)
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}

// ListTemplates returns an academy's templates.
func (c *SessionCatalog) ListTemplates(ctx context.Context, academyID uint64) ([]model.ClassTemplate, error) {
	return c.templates.ListByAcademy(ctx, academyID)
}

// GetRule returns a stored recurrence rule.
func (c *SessionCatalog) GetRule(ctx context.Context, id uint64) (*model.RecurrenceRule, error) {
	rule, err := c.rules.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, ReasonRuleNotFound, "rule %d not found", id)
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

func (c *SessionCatalog) prepareRule(rule *model.RecurrenceRule) error {
	if strings.TrimSpace(rule.Timezone) == "" {
		rule.Timezone = c.settings.Location.String()
	}
	if rule.DurationMinutes <= 0 {
		return validation("duration must be positive, got %d minutes", rule.DurationMinutes)
	}
	if rule.StartDate.IsZero() || rule.EndDate.IsZero() {
		return validation("start and end dates are required")
	}
	if _, err := recurrence.Expand(model.RecurrenceRule{
		IntervalWeeks: rule.IntervalWeeks,
		TimeOfDay:     rule.TimeOfDay,
		Timezone:      rule.Timezone,
		DaysOfWeek:    rule.DaysOfWeek,
	}); err != nil {
		return wrapValidation(err, "invalid recurrence rule")
	}
	return nil
}

// Schedule stores rule for the template and materializes its whole range.
func (c *SessionCatalog) Schedule(ctx context.Context, templateID uint64, rule *model.RecurrenceRule) (*MaterializeResult, error) {
	tpl, err := c.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	rule.TemplateID = tpl.ID
	if err := c.prepareRule(rule); err != nil {
		return nil, err
	}
	if err := c.checkSpan(*rule, DateRange{}); err != nil {
		return nil, err
	}
	if err := c.rules.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	return c.Materialize(ctx, tpl, rule, DateRange{})
}

// MaterializeRule materializes a stored rule over rng. Superseded rules are
// frozen.
func (c *SessionCatalog) MaterializeRule(ctx context.Context, ruleID uint64, rng DateRange) (*MaterializeResult, error) {
	rule, err := c.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule.SupersededBy != nil {
		return nil, validation("rule %d was replaced by rule %d", rule.ID, *rule.SupersededBy)
	}
	tpl, err := c.GetTemplate(ctx, rule.TemplateID)
	if err != nil {
		return nil, err
	}
	return c.Materialize(ctx, tpl, rule, rng)
}

// checkSpan rejects a materialization covering more days than allowed.
func (c *SessionCatalog) checkSpan(rule model.RecurrenceRule, rng DateRange) error {
	from, to := rule.StartDate, rule.EndDate
	if !rng.From.IsZero() && rng.From.After(from) {
		from = rng.From
	}
	if !rng.To.IsZero() && rng.To.Before(to) {
		to = rng.To
	}
	days := int(recurrence.AddDays(to, 0).Sub(recurrence.AddDays(from, 0)).Hours() / 24)
	if days > c.settings.MaxSpanDays {
		return validation("schedule spans %d days, at most %d allowed", days, c.settings.MaxSpanDays)
	}
	return nil
}

// Materialize expands rule, keeps the starts inside rng and inserts one
// session per start. Starts already present for the template are counted as
// skipped, so repeating a call is harmless.
func (c *SessionCatalog) Materialize(ctx context.Context, tpl *model.ClassTemplate, rule *model.RecurrenceRule, rng DateRange) (*MaterializeResult, error) {
	if err := c.checkSpan(*rule, rng); err != nil {
		return nil, err
	}
	starts, err := recurrence.Expand(*rule)
	if err != nil {
		return nil, wrapValidation(err, "invalid recurrence rule")
	}
	length := time.Duration(rule.DurationMinutes) * time.Minute

	res := &MaterializeResult{Created: []model.SessionInstance{}}
	for _, start := range starts {
		date := recurrence.DateIn(start, start.Location())
		if !rng.From.IsZero() && date.Before(rng.From) {
			continue
		}
		if !rng.To.IsZero() && date.After(rng.To) {
			continue
		}
		if !rng.After.IsZero() && !start.After(rng.After) {
			continue
		}
		s := model.SessionInstance{
			TemplateID: tpl.ID,
			AcademyID:  tpl.AcademyID,
			StartsAt:   start.UTC(),
			EndsAt:     start.Add(length).UTC(),
			HallID:     tpl.HallID,
			Capacity:   tpl.Capacity,
		}
		if rule.ID != 0 {
			id := rule.ID
			s.RuleID = &id
		}
		created, err := c.sessions.CreateIfAbsent(ctx, &s)
		if err != nil {
			return nil, fmt.Errorf("materialize %s: %w", s.StartsAt.Format(time.RFC3339), err)
		}
		if !created {
			res.Skipped++
			continue
		}
		res.Created = append(res.Created, s)
	}

	logrus.WithFields(logrus.Fields{
		"template_id": tpl.ID,
		"rule_id":     rule.ID,
		"created":     len(res.Created),
		"skipped":     res.Skipped,
	}).Info("sessions materialized")
	return res, nil
}

// Get returns a session instance.
func (c *SessionCatalog) Get(ctx context.Context, id uint64) (*model.SessionInstance, error) {
	s, err := c.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, ReasonSessionNotFound, "session %d not found", id)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// ListByAcademy returns the sessions of an academy starting in [from, to).
func (c *SessionCatalog) ListByAcademy(ctx context.Context, academyID uint64, from, to time.Time) ([]model.SessionInstance, error) {
	if !to.After(from) {
		return nil, validation("range end must be after its start")
	}
	return c.sessions.ListByAcademy(ctx, academyID, from, to)
}

// ListByTemplate returns every session of a template.
func (c *SessionCatalog) ListByTemplate(ctx context.Context, templateID uint64) ([]model.SessionInstance, error) {
	return c.sessions.ListByTemplate(ctx, templateID)
}

// Cancel flags a session as canceled. Cancelling twice is not an error.
// Bookings are left to the coordinator.
func (c *SessionCatalog) Cancel(ctx context.Context, id uint64, reason string) error {
	err := c.sessions.MarkCanceled(ctx, id, strings.TrimSpace(reason))
	switch {
	case err == nil:
		logrus.WithFields(logrus.Fields{"session_id": id, "reason": reason}).Info("session canceled")
		return nil
	case errors.Is(err, repository.ErrNoChange):
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return newError(KindNotFound, ReasonSessionNotFound, "session %d not found", id)
	default:
		return fmt.Errorf("cancel session: %w", err)
	}
}

// Substitute sets or clears the substitute instructor of an open session.
func (c *SessionCatalog) Substitute(ctx context.Context, id uint64, instructorID *uint64) (*model.SessionInstance, error) {
	err := c.sessions.SetSubstitute(ctx, id, instructorID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNoChange):
		return nil, newError(KindEligibility, ReasonSessionCanceled, "session %d is canceled", id)
	case errors.Is(err, repository.ErrNotFound):
		return nil, newError(KindNotFound, ReasonSessionNotFound, "session %d not found", id)
	default:
		return nil, fmt.Errorf("substitute instructor: %w", err)
	}
	return c.Get(ctx, id)
}

// ReserveCapacity takes one seat. When the conditional update changes
// nothing the session is re-read to report why.
func (c *SessionCatalog) ReserveCapacity(ctx context.Context, id uint64) error {
	err := c.sessions.IncrementBooked(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNoChange) {
		return fmt.Errorf("reserve seat: %w", err)
	}
	s, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Canceled {
		return newError(KindEligibility, ReasonSessionCanceled, "session %d is canceled", id)
	}
	return newError(KindCapacity, ReasonSessionFull, "session %d is full (%d/%d)", id, s.BookedCount, s.Capacity)
}

// ReleaseCapacity gives one seat back.
func (c *SessionCatalog) ReleaseCapacity(ctx context.Context, id uint64) error {
	return releaseResult(id, c.sessions.DecrementBooked(ctx, id))
}

func (c *SessionCatalog) releaseCapacityTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	return releaseResult(id, c.sessions.DecrementBookedTx(ctx, tx, id))
}

func releaseResult(id uint64, err error) error {
	if errors.Is(err, repository.ErrNoChange) {
		logrus.WithField("session_id", id).Warn("release on empty session ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}

// Regenerate replaces rule ruleID by next. Future sessions of the old rule
// move to next; those whose start next does not produce are canceled and
// returned in Dropped, and next is then materialized for starts after now.
// Past sessions are never touched.
func (c *SessionCatalog) Regenerate(ctx context.Context, ruleID uint64, next *model.RecurrenceRule) (*RegenerateResult, error) {
	old, err := c.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if old.SupersededBy != nil {
		return nil, validation("rule %d was already replaced by rule %d", old.ID, *old.SupersededBy)
	}
	tpl, err := c.GetTemplate(ctx, old.TemplateID)
	if err != nil {
		return nil, err
	}
	next.TemplateID = old.TemplateID
	if strings.TrimSpace(next.Timezone) == "" {
		next.Timezone = old.Timezone
	}
	if err := c.prepareRule(next); err != nil {
		return nil, err
	}
	now := c.settings.Now()
	if err := c.checkSpan(*next, DateRange{From: recurrence.DateIn(now, c.settings.Location)}); err != nil {
		return nil, err
	}
	starts, err := recurrence.Expand(*next)
	if err != nil {
		return nil, wrapValidation(err, "invalid recurrence rule")
	}
	keep := make(map[int64]bool, len(starts))
	for _, s := range starts {
		keep[s.Unix()] = true
	}

	tx, err := c.rules.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := c.rules.CreateTx(ctx, tx, next); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	if err := c.rules.SupersedeTx(ctx, tx, old.ID, next.ID); err != nil {
		if errors.Is(err, repository.ErrNoChange) {
			return nil, conflict("rule %d was replaced concurrently", old.ID)
		}
		return nil, fmt.Errorf("supersede rule: %w", err)
	}
	if _, err := c.sessions.RetagFutureTx(ctx, tx, old.ID, next.ID, now); err != nil {
		return nil, fmt.Errorf("retag future sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	future, err := c.sessions.ListFutureByRule(ctx, next.ID, now)
	if err != nil {
		return nil, fmt.Errorf("list future sessions: %w", err)
	}
	res := &RegenerateResult{Rule: next, Dropped: []uint64{}}
	for _, s := range future {
		if keep[s.StartsAt.Unix()] {
			continue
		}
		if err := c.Cancel(ctx, s.ID, "schedule changed"); err != nil {
			return nil, err
		}
		res.Dropped = append(res.Dropped, s.ID)
	}

	res.Materialize, err = c.Materialize(ctx, tpl, next, DateRange{After: now})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"old_rule_id": old.ID,
		"new_rule_id": next.ID,
		"dropped":     len(res.Dropped),
	}).Info("schedule regenerated")
	return res, nil
}
