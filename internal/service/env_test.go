package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tkaykim/moveit-sub006/internal/database"
	"github.com/tkaykim/moveit-sub006/internal/model"
	"github.com/tkaykim/moveit-sub006/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishBookingEvent(ctx context.Context, ev BookingEvent) error {
	return m.Called(ctx, ev).Error(0)
}

type testEnv struct {
	db       *sql.DB
	loc      *time.Location
	clock    *fakeClock
	academy  *model.Academy
	catalog  *SessionCatalog
	ledger   *EntitlementLedger
	coord    *BookingCoordinator
	pub      *mockPublisher
	sessions *repository.SessionRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db, database.SQLite))

	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2026, 2, 20, 9, 0, 0, 0, loc)}
	settings := Settings{
		Location:       loc,
		Now:            clock.Now,
		MaxAttempts:    5,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}

	academies := repository.NewAcademyRepo(db)
	academy := &model.Academy{Name: "Move Studio", OwnerID: 1}
	require.NoError(t, academies.Create(ctx, academy))

	pub := &mockPublisher{}
	pub.On("PublishBookingEvent", mock.Anything, mock.Anything).Return(nil).Maybe()

	access := NewAccessResolver()
	sessions := repository.NewSessionRepo(db)
	catalog := NewSessionCatalog(repository.NewTemplateRepo(db), repository.NewRuleRepo(db), sessions, settings)
	ledger := NewEntitlementLedger(repository.NewTicketRepo(db), repository.NewUserTicketRepo(db), academies, repository.NewExtensionRequestRepo(db), access, settings)
	coord := NewBookingCoordinator(catalog, ledger, access, repository.NewBookingRepo(db), pub, settings)

	return &testEnv{
		db: db, loc: loc, clock: clock, academy: academy,
		catalog: catalog, ledger: ledger, coord: coord, pub: pub, sessions: sessions,
	}
}

func intp(n int) *int { return &n }

func (e *testEnv) countTicket(t *testing.T, total int, opts ...func(*model.Ticket)) *model.Ticket {
	t.Helper()
	tk := &model.Ticket{AcademyID: e.academy.ID, Name: "count pass", Kind: model.TicketCount, TotalCount: intp(total),
		IsOnSale: true, IsPublic: true, Price: decimal.RequireFromString("100000")}
	for _, o := range opts {
		o(tk)
	}
	require.NoError(t, e.ledger.CreateTicket(context.Background(), tk))
	return tk
}

func (e *testEnv) periodTicket(t *testing.T, days int, opts ...func(*model.Ticket)) *model.Ticket {
	t.Helper()
	tk := &model.Ticket{AcademyID: e.academy.ID, Name: "monthly pass", Kind: model.TicketPeriod, ValidDays: intp(days),
		IsOnSale: true, IsPublic: true, Price: decimal.RequireFromString("150000")}
	for _, o := range opts {
		o(tk)
	}
	require.NoError(t, e.ledger.CreateTicket(context.Background(), tk))
	return tk
}

func (e *testEnv) template(t *testing.T, capacity int, opts ...func(*model.ClassTemplate)) *model.ClassTemplate {
	t.Helper()
	tpl := &model.ClassTemplate{AcademyID: e.academy.ID, Title: "Choreography", Capacity: capacity}
	for _, o := range opts {
		o(tpl)
	}
	require.NoError(t, e.catalog.CreateTemplate(context.Background(), tpl))
	return tpl
}

// session inserts one instance of tpl starting at the given local wall time.
func (e *testEnv) session(t *testing.T, tpl *model.ClassTemplate, y int, m time.Month, d, hour int) *model.SessionInstance {
	t.Helper()
	start := time.Date(y, m, d, hour, 0, 0, 0, e.loc).UTC()
	s := &model.SessionInstance{TemplateID: tpl.ID, AcademyID: tpl.AcademyID, StartsAt: start,
		EndsAt: start.Add(time.Hour), HallID: tpl.HallID, Capacity: tpl.Capacity}
	created, err := e.sessions.CreateIfAbsent(context.Background(), s)
	require.NoError(t, err)
	require.True(t, created)
	return s
}

func (e *testEnv) issue(t *testing.T, userID uint64, tk *model.Ticket) *model.UserTicket {
	t.Helper()
	ut, err := e.ledger.Issue(context.Background(), IssueRequest{
		IdempotencyKey: uuid.NewString(),
		UserID:         userID,
		TicketID:       tk.ID,
		AcademyID:      tk.AcademyID,
		Amount:         tk.Price,
		PaidAt:         e.clock.Now(),
	})
	require.NoError(t, err)
	return ut
}

func (e *testEnv) bookedCount(t *testing.T, sessionID uint64) int {
	t.Helper()
	s, err := e.catalog.Get(context.Background(), sessionID)
	require.NoError(t, err)
	return s.BookedCount
}

func (e *testEnv) remaining(t *testing.T, userTicketID uint64) (int, model.UserTicketStatus) {
	t.Helper()
	ut, err := e.ledger.Get(context.Background(), userTicketID)
	require.NoError(t, err)
	if ut.RemainingCount == nil {
		return -1, ut.Status
	}
	return *ut.RemainingCount, ut.Status
}
