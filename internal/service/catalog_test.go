package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkaykim/moveit-sub006/internal/model"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func marchRule(days ...time.Weekday) *model.RecurrenceRule {
	return &model.RecurrenceRule{
		StartDate:       day(2026, 3, 2),
		EndDate:         day(2026, 3, 31),
		DaysOfWeek:      days,
		IntervalWeeks:   1,
		TimeOfDay:       "19:00",
		DurationMinutes: 60,
	}
}

func TestScheduleMaterializesWholeRangeOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.template(t, 5)

	rule := marchRule(time.Monday, time.Wednesday)
	res, err := env.catalog.Schedule(ctx, tpl.ID, rule)
	require.NoError(t, err)
	require.Len(t, res.Created, 9)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, "Asia/Seoul", rule.Timezone)

	first := res.Created[0]
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), first.StartsAt)
	assert.Equal(t, first.StartsAt.Add(time.Hour), first.EndsAt)
	assert.Equal(t, 5, first.Capacity)
	require.NotNil(t, first.RuleID)
	assert.Equal(t, rule.ID, *first.RuleID)

	again, err := env.catalog.MaterializeRule(ctx, rule.ID, DateRange{})
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Equal(t, 9, again.Skipped)

	all, err := env.catalog.ListByTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Len(t, all, 9)
}

func TestMaterializeFiltersByRange(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.template(t, 5)
	rule := marchRule(time.Monday, time.Wednesday)
	rule.Timezone = "Asia/Seoul"

	res, err := env.catalog.Materialize(context.Background(), tpl, rule, DateRange{From: day(2026, 3, 10), To: day(2026, 3, 16)})
	require.NoError(t, err)
	require.Len(t, res.Created, 2)
	assert.Equal(t, time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC), res.Created[0].StartsAt)
	assert.Equal(t, time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC), res.Created[1].StartsAt)
	assert.Nil(t, res.Created[0].RuleID)
}

func TestScheduleRejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *model.RecurrenceRule)
	}{
		{"zero interval", func(r *model.RecurrenceRule) { r.IntervalWeeks = 0 }},
		{"malformed time", func(r *model.RecurrenceRule) { r.TimeOfDay = "7pm" }},
		{"unknown zone", func(r *model.RecurrenceRule) { r.Timezone = "Mars/Olympus" }},
		{"zero duration", func(r *model.RecurrenceRule) { r.DurationMinutes = 0 }},
		{"bad weekday", func(r *model.RecurrenceRule) { r.DaysOfWeek = []time.Weekday{9} }},
		{"span too long", func(r *model.RecurrenceRule) { r.EndDate = day(2028, 1, 1) }},
	}
	env := newTestEnv(t)
	tpl := env.template(t, 5)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := marchRule(time.Monday)
			tt.mutate(rule)
			_, err := env.catalog.Schedule(context.Background(), tpl.ID, rule)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
	sessions, err := env.catalog.ListByTemplate(context.Background(), tpl.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestScheduleUnknownTemplate(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.catalog.Schedule(context.Background(), 999, marchRule(time.Monday))
	assert.Equal(t, ReasonTemplateNotFound, ReasonOf(err))
}

func TestCreateTemplateRejectsForeignTickets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	other := &model.Academy{Name: "Other", OwnerID: 2}
	require.NoError(t, env.ledger.academies.Create(ctx, other))
	foreign := &model.Ticket{AcademyID: other.ID, Name: "foreign", Kind: model.TicketCount, TotalCount: intp(1)}
	require.NoError(t, env.ledger.CreateTicket(ctx, foreign))

	tpl := &model.ClassTemplate{AcademyID: env.academy.ID, Title: "Jazz", Capacity: 4, LinkedTicketIDs: []uint64{foreign.ID}}
	err := env.catalog.CreateTemplate(ctx, tpl)
	require.ErrorIs(t, err, ErrCrossAcademy)
}

func TestCancelAndSubstitute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.template(t, 5)
	s := env.session(t, tpl, 2026, 3, 2, 19)

	sub := uint64(77)
	got, err := env.catalog.Substitute(ctx, s.ID, &sub)
	require.NoError(t, err)
	require.NotNil(t, got.SubstituteInstructorID)
	assert.Equal(t, sub, *got.SubstituteInstructorID)

	require.NoError(t, env.catalog.Cancel(ctx, s.ID, "instructor sick"))
	require.NoError(t, env.catalog.Cancel(ctx, s.ID, "again"))

	got, err = env.catalog.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Canceled)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "instructor sick", *got.CancelReason)

	_, err = env.catalog.Substitute(ctx, s.ID, nil)
	require.ErrorIs(t, err, ErrSessionCanceled)

	err = env.catalog.Cancel(ctx, 999, "x")
	assert.Equal(t, ReasonSessionNotFound, ReasonOf(err))
}

func TestReserveCapacityReportsReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.template(t, 1)
	full := env.session(t, tpl, 2026, 3, 2, 19)
	canceled := env.session(t, tpl, 2026, 3, 3, 19)

	require.NoError(t, env.catalog.ReserveCapacity(ctx, full.ID))
	require.ErrorIs(t, env.catalog.ReserveCapacity(ctx, full.ID), ErrSessionFull)

	require.NoError(t, env.catalog.Cancel(ctx, canceled.ID, ""))
	require.ErrorIs(t, env.catalog.ReserveCapacity(ctx, canceled.ID), ErrSessionCanceled)

	assert.Equal(t, KindNotFound, KindOf(env.catalog.ReserveCapacity(ctx, 999)))

	require.NoError(t, env.catalog.ReleaseCapacity(ctx, full.ID))
	require.NoError(t, env.catalog.ReleaseCapacity(ctx, full.ID))
	assert.Equal(t, 0, env.bookedCount(t, full.ID))
}

func TestRegenerateDropsOnlyFutureMismatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.template(t, 5)

	old := marchRule(time.Monday, time.Wednesday)
	_, err := env.catalog.Schedule(ctx, tpl.ID, old)
	require.NoError(t, err)

	env.clock.Set(time.Date(2026, 3, 10, 12, 0, 0, 0, env.loc))
	res, err := env.coord.Reschedule(ctx, old.ID, marchRule(time.Monday))
	require.NoError(t, err)
	assert.Len(t, res.Dropped, 3) // Wednesdays 11, 18 and 25
	assert.Empty(t, res.Materialize.Created)
	assert.Equal(t, 3, res.Materialize.Skipped)
	assert.Empty(t, res.CancelledBookings)

	all, err := env.catalog.ListByTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	canceled := 0
	for _, s := range all {
		if s.Canceled {
			canceled++
			assert.Equal(t, time.Wednesday, s.StartsAt.In(env.loc).Weekday())
			assert.True(t, s.StartsAt.After(env.clock.Now()))
		}
	}
	assert.Equal(t, 3, canceled)

	stored, err := env.catalog.GetRule(ctx, old.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SupersededBy)
	assert.Equal(t, res.Rule.ID, *stored.SupersededBy)

	_, err = env.catalog.Regenerate(ctx, old.ID, marchRule(time.Friday))
	assert.Equal(t, KindValidation, KindOf(err))
	_, err = env.catalog.MaterializeRule(ctx, old.ID, DateRange{})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestRegenerateAddsNewFutureSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.template(t, 5)
	old := marchRule(time.Monday)
	_, err := env.catalog.Schedule(ctx, tpl.ID, old)
	require.NoError(t, err)

	env.clock.Set(time.Date(2026, 3, 20, 12, 0, 0, 0, env.loc))
	res, err := env.catalog.Regenerate(ctx, old.ID, marchRule(time.Monday, time.Friday))
	require.NoError(t, err)
	assert.Empty(t, res.Dropped)
	// Fridays 20 and 27; 19:00 on the 20th is still ahead of the clock.
	require.Len(t, res.Materialize.Created, 2)
	assert.Equal(t, time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC), res.Materialize.Created[0].StartsAt)
	assert.Equal(t, time.Date(2026, 3, 27, 10, 0, 0, 0, time.UTC), res.Materialize.Created[1].StartsAt)
	assert.Equal(t, 2, res.Materialize.Skipped) // Mondays 23 and 30
}

func TestRescheduleTwiceFollowsKeptSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.template(t, 5)
	first := marchRule(time.Monday)
	_, err := env.catalog.Schedule(ctx, tpl.ID, first)
	require.NoError(t, err)

	env.clock.Set(time.Date(2026, 3, 10, 12, 0, 0, 0, env.loc))
	second, err := env.coord.Reschedule(ctx, first.ID, marchRule(time.Monday, time.Wednesday))
	require.NoError(t, err)
	assert.Empty(t, second.Dropped)
	assert.Len(t, second.Materialize.Created, 3) // Wednesdays 11, 18 and 25

	all, err := env.catalog.ListByTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	var monday16 *model.SessionInstance
	for i := range all {
		if all[i].StartsAt.Equal(time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)) {
			monday16 = &all[i]
		}
	}
	require.NotNil(t, monday16)
	require.NotNil(t, monday16.RuleID)
	assert.Equal(t, second.Rule.ID, *monday16.RuleID)

	ut := env.issue(t, 42, env.countTicket(t, 5))
	b, err := env.coord.Book(ctx, BookRequest{UserID: 42, SessionID: monday16.ID, UserTicketID: ut.ID})
	require.NoError(t, err)

	third, err := env.coord.Reschedule(ctx, second.Rule.ID, marchRule(time.Wednesday))
	require.NoError(t, err)
	assert.Len(t, third.Dropped, 3) // Mondays 16, 23 and 30
	assert.Equal(t, []uint64{b.ID}, third.CancelledBookings)
	assert.Empty(t, third.Materialize.Created)

	all, err = env.catalog.ListByTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	for _, s := range all {
		if s.Canceled || !s.StartsAt.After(env.clock.Now()) {
			continue
		}
		assert.Equal(t, time.Wednesday, s.StartsAt.In(env.loc).Weekday(), "session %d", s.ID)
		assert.Equal(t, third.Rule.ID, *s.RuleID)
	}
	n, _ := env.remaining(t, ut.ID)
	assert.Equal(t, 5, n)
}
