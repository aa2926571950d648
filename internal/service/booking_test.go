package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tkaykim/moveit-sub006/internal/model"
)

func TestBookConfirmsAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.template(t, 5)
	s := env.session(t, tpl, 2026, 3, 2, 19)
	ut := env.issue(t, 42, env.countTicket(t, 10))

	b, err := env.coord.Book(ctx, BookRequest{UserID: 42, SessionID: s.ID, UserTicketID: ut.ID})
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, b.Status)
	assert.Equal(t, env.academy.ID, b.AcademyID)
	assert.Equal(t, 1, env.bookedCount(t, s.ID))
	n, _ := env.remaining(t, ut.ID)
	assert.Equal(t, 9, n)

	env.pub.AssertCalled(t, "PublishBookingEvent", mock.Anything, mock.MatchedBy(func(ev BookingEvent) bool {
		return ev.Type == EventBookingConfirmed && ev.BookingID == b.ID && ev.EventID != "" && ev.SessionStartsAt.Equal(s.StartsAt)
	}))

	mine, err := env.coord.ListForUser(ctx, 42)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)
}

func TestBookNeverOverbooks(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.template(t, 3)
	s := env.session(t, tpl, 2026, 3, 2, 19)
	tk := env.countTicket(t, 10)

	const users = 8
	tickets := make([]*model.UserTicket, users)
	for i := range tickets {
		tickets[i] = env.issue(t, uint64(100+i), tk)
	}

	errs := make([]error, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.coord.Book(context.Background(), BookRequest{UserID: uint64(100 + i), SessionID: s.ID, UserTicketID: tickets[i].ID})
		}(i)
	}
	wg.Wait()

	ok := 0
	for i, err := range errs {
		n, _ := env.remaining(t, tickets[i].ID)
		if err == nil {
			ok++
			assert.Equal(t, 9, n)
			continue
		}
		require.ErrorIs(t, err, ErrSessionFull)
		assert.Equal(t, 10, n, "a rejected booking must not spend a unit")
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 3, env.bookedCount(t, s.ID))
}

func TestBookTwoSessionsRaceForLastUnit(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.template(t, 5)
	first := env.session(t, tpl, 2026, 3, 2, 19)
	second := env.session(t, tpl, 2026, 3, 4, 19)
	ut := env.issue(t, 42, env.countTicket(t, 1))

	sessions := []uint64{first.ID, second.ID}
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.coord.Book(context.Background(), BookRequest{UserID: 42, SessionID: sessions[i], UserTicketID: ut.ID})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, ErrExhausted)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, env.bookedCount(t, first.ID)+env.bookedCount(t, second.ID))
	n, status := env.remaining(t, ut.ID)
	assert.Equal(t, 0, n)
	assert.Equal(t, model.UserTicketDepleted, status)
}

func TestBookRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tk := env.countTicket(t, 10)
	tpl := env.template(t, 5)
	groupTpl := env.template(t, 5, func(c *model.ClassTemplate) { c.AccessGroup = strp("advanced") })

	open := env.session(t, tpl, 2026, 3, 2, 19)
	canceled := env.session(t, tpl, 2026, 3, 3, 19)
	require.NoError(t, env.catalog.Cancel(ctx, canceled.ID, "holiday"))
	started := env.session(t, tpl, 2026, 2, 20, 8)
	advanced := env.session(t, groupTpl, 2026, 3, 2, 21)

	mine := env.issue(t, 42, tk)
	theirs := env.issue(t, 7, tk)

	other := &model.Academy{Name: "Other", OwnerID: 2}
	require.NoError(t, env.ledger.academies.Create(ctx, other))
	foreignTk := &model.Ticket{AcademyID: other.ID, Name: "foreign", Kind: model.TicketCount, TotalCount: intp(3), IsOnSale: true, IsPublic: true}
	require.NoError(t, env.ledger.CreateTicket(ctx, foreignTk))
	foreign := env.issue(t, 42, foreignTk)

	tests := []struct {
		name    string
		req     BookRequest
		reason  Reason
		session uint64
	}{
		{"missing session", BookRequest{UserID: 42, SessionID: 999, UserTicketID: mine.ID}, ReasonSessionNotFound, 0},
		{"canceled session", BookRequest{UserID: 42, SessionID: canceled.ID, UserTicketID: mine.ID}, ReasonSessionCanceled, canceled.ID},
		{"started session", BookRequest{UserID: 42, SessionID: started.ID, UserTicketID: mine.ID}, ReasonSessionStarted, started.ID},
		{"someone else's ticket", BookRequest{UserID: 42, SessionID: open.ID, UserTicketID: theirs.ID}, ReasonTicketNotFound, open.ID},
		{"cross academy ticket", BookRequest{UserID: 42, SessionID: open.ID, UserTicketID: foreign.ID}, ReasonCrossAcademy, open.ID},
		{"ineligible ticket", BookRequest{UserID: 42, SessionID: advanced.ID, UserTicketID: mine.ID}, ReasonIneligible, advanced.ID},
		{"no usable ticket", BookRequest{UserID: 42, SessionID: advanced.ID}, ReasonNoUsableTicket, advanced.ID},
		{"missing user", BookRequest{SessionID: open.ID}, ReasonInvalidInput, open.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.coord.Book(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.reason, ReasonOf(err))
			if tt.session != 0 {
				assert.Equal(t, 0, env.bookedCount(t, tt.session))
			}
		})
	}
	n, _ := env.remaining(t, mine.ID)
	assert.Equal(t, 10, n)
}

func TestBookDuplicateIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.template(t, 5)
	s := env.session(t, tpl, 2026, 3, 2, 19)
	ut := env.issue(t, 42, env.countTicket(t, 10))

	_, err := env.coord.Book(ctx, BookRequest{UserID: 42, SessionID: s.ID, UserTicketID: ut.ID})
	require.NoError(t, err)
	_, err = env.coord.Book(ctx, BookRequest{UserID: 42, SessionID: s.ID, UserTicketID: ut.ID})
	require.ErrorIs(t, err, ErrDuplicateBooking)

	assert.Equal(t, 1, env.bookedCount(t, s.ID))
	n, _ := env.remaining(t, ut.ID)
	assert.Equal(t, 9, n)
}

func TestBookAutoSelectsBestTicket(t *testing.T) {
	env := newTestEnv(t)
	linked := env.countTicket(t, 5)
	tpl := env.template(t, 5, func(c *model.ClassTemplate) { c.LinkedTicketIDs = []uint64{linked.ID} })
	s := env.session(t, tpl, 2026, 3, 2, 19)
	env.issue(t, 42, env.countTicket(t, 5))
	want := env.issue(t, 42, linked)

	b, err := env.coord.Book(context.Background(), BookRequest{UserID: 42, SessionID: s.ID})
	require.NoError(t, err)
	assert.Equal(t, want.ID, b.UserTicketID)
}

func TestBookWithPeriodTicketSpendsNothing(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.template(t, 5)
	s := env.session(t, tpl, 2026, 3, 2, 19)
	ut := env.issue(t, 42, env.periodTicket(t, 30))

	_, err := env.coord.Book(context.Background(), BookRequest{UserID: 42, SessionID: s.ID, UserTicketID: ut.ID})
	require.NoError(t, err)
	n, status := env.remaining(t, ut.ID)
	assert.Equal(t, -1, n)
	assert.Equal(t, model.UserTicketActive, status)

	late := env.session(t, tpl, 2026, 3, 23, 19)
	_, err = env.coord.Book(context.Background(), BookRequest{UserID: 42, SessionID: late.ID, UserTicketID: ut.ID})
	require.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, 0, env.bookedCount(t, late.ID))
}

func TestCancelRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.template(t, 5)
	s := env.session(t, tpl, 2026, 3, 2, 19)
	ut := env.issue(t, 42, env.countTicket(t, 1))

	b, err := env.coord.Book(ctx, BookRequest{UserID: 42, SessionID: s.ID, UserTicketID: ut.ID})
	require.NoError(t, err)
	_, status := env.remaining(t, ut.ID)
	assert.Equal(t, model.UserTicketDepleted, status)

	_, err = env.coord.CancelForUser(ctx, b.ID, 7)
	assert.Equal(t, ReasonBookingNotFound, ReasonOf(err))

	cancelled, err := env.coord.CancelForUser(ctx, b.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, cancelled.Status)
	n, status := env.remaining(t, ut.ID)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.UserTicketActive, status)
	assert.Equal(t, 0, env.bookedCount(t, s.ID))

	_, err = env.coord.Cancel(ctx, b.ID)
	assert.Equal(t, ReasonInvalidTransition, ReasonOf(err))

	env.pub.AssertCalled(t, "PublishBookingEvent", mock.Anything, mock.MatchedBy(func(ev BookingEvent) bool {
		return ev.Type == EventBookingCancelled && ev.BookingID == b.ID
	}))

	again, err := env.coord.Book(ctx, BookRequest{UserID: 42, SessionID: s.ID, UserTicketID: ut.ID})
	require.NoError(t, err)
	assert.NotEqual(t, b.ID, again.ID)
}

func TestCompleteKeepsUnitSpent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.template(t, 5)
	s := env.session(t, tpl, 2026, 3, 2, 19)
	ut := env.issue(t, 42, env.countTicket(t, 3))

	b, err := env.coord.Book(ctx, BookRequest{UserID: 42, SessionID: s.ID, UserTicketID: ut.ID})
	require.NoError(t, err)
	done, err := env.coord.Complete(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCompleted, done.Status)

	_, err = env.coord.Complete(ctx, b.ID)
	assert.Equal(t, ReasonInvalidTransition, ReasonOf(err))
	_, err = env.coord.Cancel(ctx, b.ID)
	assert.Equal(t, ReasonInvalidTransition, ReasonOf(err))
	_, err = env.coord.Complete(ctx, 999)
	assert.Equal(t, ReasonBookingNotFound, ReasonOf(err))

	n, _ := env.remaining(t, ut.ID)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, env.bookedCount(t, s.ID))

	_, err = env.coord.Book(ctx, BookRequest{UserID: 42, SessionID: s.ID, UserTicketID: ut.ID})
	require.ErrorIs(t, err, ErrDuplicateBooking)
}

func TestCancelSessionCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.template(t, 5)
	s := env.session(t, tpl, 2026, 3, 2, 19)
	tk := env.countTicket(t, 4)
	a := env.issue(t, 1, tk)
	b := env.issue(t, 2, tk)

	for _, ut := range []*model.UserTicket{a, b} {
		_, err := env.coord.Book(ctx, BookRequest{UserID: ut.UserID, SessionID: s.ID, UserTicketID: ut.ID})
		require.NoError(t, err)
	}

	res, err := env.coord.CancelSession(ctx, s.ID, "studio closed")
	require.NoError(t, err)
	assert.Len(t, res.CancelledBookings, 2)

	for _, ut := range []*model.UserTicket{a, b} {
		n, _ := env.remaining(t, ut.ID)
		assert.Equal(t, 4, n)
	}
	assert.Equal(t, 0, env.bookedCount(t, s.ID))

	_, err = env.coord.Book(ctx, BookRequest{UserID: 1, SessionID: s.ID, UserTicketID: a.ID})
	require.ErrorIs(t, err, ErrSessionCanceled)

	again, err := env.coord.CancelSession(ctx, s.ID, "studio closed")
	require.NoError(t, err)
	assert.Empty(t, again.CancelledBookings)
}

func TestBookWithdrawnWhenSessionCanceledMidway(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.template(t, 5)
	s := env.session(t, tpl, 2026, 3, 2, 19)
	ut := env.issue(t, 42, env.countTicket(t, 3))

	var cascade *CancelSessionResult
	env.coord.beforeInsert = func(ctx context.Context, sessionID uint64) {
		res, err := env.coord.CancelSession(ctx, sessionID, "studio closed")
		require.NoError(t, err)
		cascade = res
	}

	_, err := env.coord.Book(ctx, BookRequest{UserID: 42, SessionID: s.ID, UserTicketID: ut.ID})
	require.ErrorIs(t, err, ErrSessionCanceled)
	require.NotNil(t, cascade)
	assert.Empty(t, cascade.CancelledBookings)

	assert.Equal(t, 0, env.bookedCount(t, s.ID))
	n, _ := env.remaining(t, ut.ID)
	assert.Equal(t, 3, n)

	confirmed, err := env.coord.ListForSession(ctx, s.ID, model.BookingConfirmed)
	require.NoError(t, err)
	assert.Empty(t, confirmed)
	cancelled, err := env.coord.ListForSession(ctx, s.ID, model.BookingCancelled)
	require.NoError(t, err)
	assert.Len(t, cancelled, 1)
	env.pub.AssertNotCalled(t, "PublishBookingEvent", mock.Anything, mock.MatchedBy(func(ev BookingEvent) bool {
		return ev.Type == EventBookingConfirmed
	}))
}

func TestRescheduleCancelsBookingsOfDroppedSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.template(t, 5)
	rule := marchRule(time.Monday, time.Wednesday)
	res, err := env.catalog.Schedule(ctx, tpl.ID, rule)
	require.NoError(t, err)
	wednesday := res.Created[1] // Mar 4
	require.Equal(t, time.Wednesday, wednesday.StartsAt.In(env.loc).Weekday())

	ut := env.issue(t, 42, env.countTicket(t, 5))
	b, err := env.coord.Book(ctx, BookRequest{UserID: 42, SessionID: wednesday.ID, UserTicketID: ut.ID})
	require.NoError(t, err)

	out, err := env.coord.Reschedule(ctx, rule.ID, marchRule(time.Monday))
	require.NoError(t, err)
	assert.Equal(t, []uint64{b.ID}, out.CancelledBookings)
	assert.Contains(t, out.Dropped, wednesday.ID)

	n, _ := env.remaining(t, ut.ID)
	assert.Equal(t, 5, n)
}

func TestPublishFailureKeepsBooking(t *testing.T) {
	env := newTestEnv(t)
	pub := &mockPublisher{}
	pub.On("PublishBookingEvent", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	env.coord.publisher = pub

	tpl := env.template(t, 5)
	s := env.session(t, tpl, 2026, 3, 2, 19)
	ut := env.issue(t, 42, env.countTicket(t, 2))

	b, err := env.coord.Book(context.Background(), BookRequest{UserID: 42, SessionID: s.ID, UserTicketID: ut.ID})
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, b.Status)
	pub.AssertNumberOfCalls(t, "PublishBookingEvent", 1)
}

func TestRetryOnlyRetriesConflicts(t *testing.T) {
	settings := Settings{MaxAttempts: 4, BackoffInitial: time.Millisecond, BackoffMax: 2 * time.Millisecond}.withDefaults()

	calls := 0
	v, err := retry(context.Background(), settings, "test", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, conflict("busy")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = retry(context.Background(), settings, "test", func() (int, error) {
		calls++
		return 0, newError(KindCapacity, ReasonSessionFull, "full")
	})
	require.ErrorIs(t, err, ErrSessionFull)
	assert.Equal(t, 1, calls)

	calls = 0
	_, err = retry(context.Background(), settings, "test", func() (int, error) {
		calls++
		return 0, conflict("always")
	})
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 4, calls)
}
