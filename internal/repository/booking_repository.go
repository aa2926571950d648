package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tkaykim/moveit-sub006/internal/model"
)

// BookingRepo provides persistence for bookings. A booking occupies its
// (session, user) slot while CONFIRMED or COMPLETED; the active_slot column
// mirrors that so the unique key rejects a second live booking.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// DB exposes the underlying handle for multi-repository transactions.
func (r *BookingRepo) DB() *sql.DB { return r.db }

func activeSlot(status model.BookingStatus) any {
	if status == model.BookingConfirmed || status == model.BookingCompleted {
		return 1
	}
	return nil
}

// Create inserts a booking and populates its ID and timestamps. It returns
// ErrDuplicate when the user already holds a live booking for the session.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	now := time.Now().UTC()
	const q = `INSERT INTO bookings (session_id, user_id, user_ticket_id, status, active_slot, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, b.SessionID, b.UserID, b.UserTicketID, string(b.Status), activeSlot(b.Status),
		toDBTime(now), toDBTime(now))
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	b.CreatedAt = now.Truncate(time.Second)
	b.UpdatedAt = b.CreatedAt
	return nil
}

const bookingSelect = `SELECT b.id, b.session_id, b.user_id, b.user_ticket_id, b.status, s.academy_id, b.created_at, b.updated_at
                       FROM bookings b
                       JOIN class_sessions s ON s.id = b.session_id`

func scanBooking(row interface{ Scan(...any) error }) (*model.Booking, error) {
	var b model.Booking
	var status string
	var created, updated dbTime
	if err := row.Scan(&b.ID, &b.SessionID, &b.UserID, &b.UserTicketID, &status, &b.AcademyID, &created, &updated); err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	b.CreatedAt = created.Time
	b.UpdatedAt = updated.Time
	return &b, nil
}

// GetByID returns the booking or ErrNotFound.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	return getBooking(ctx, r.db, id)
}

// GetByIDTx is GetByID within the caller's transaction.
func (r *BookingRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Booking, error) {
	return getBooking(ctx, tx, id)
}

func getBooking(ctx context.Context, q Querier, id uint64) (*model.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, bookingSelect+` WHERE b.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Transition moves a booking from one status to another. It returns
// ErrNoChange when the booking is not in the expected status.
func (r *BookingRepo) Transition(ctx context.Context, id uint64, from, to model.BookingStatus) error {
	return transitionBooking(ctx, r.db, id, from, to)
}

// TransitionTx is Transition within the caller's transaction.
func (r *BookingRepo) TransitionTx(ctx context.Context, tx *sql.Tx, id uint64, from, to model.BookingStatus) error {
	return transitionBooking(ctx, tx, id, from, to)
}

func transitionBooking(ctx context.Context, q Querier, id uint64, from, to model.BookingStatus) error {
	res, err := q.ExecContext(ctx,
		`UPDATE bookings SET status = ?, active_slot = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), activeSlot(to), toDBTime(time.Now()), id, string(from))
	if err != nil {
		return err
	}
	return rowsChanged(res)
}

func (r *BookingRepo) list(ctx context.Context, q string, args ...any) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ListByUser returns a user's bookings, newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	return r.list(ctx, bookingSelect+` WHERE b.user_id = ? ORDER BY b.created_at DESC, b.id DESC`, userID)
}

// ListBySession returns the bookings of a session in the given status.
func (r *BookingRepo) ListBySession(ctx context.Context, sessionID uint64, status model.BookingStatus) ([]model.Booking, error) {
	return r.list(ctx, bookingSelect+` WHERE b.session_id = ? AND b.status = ? ORDER BY b.id`, sessionID, string(status))
}

// ListByTicketBetween returns the bookings paid with a user ticket whose
// session starts in [from, to) and that are in the given status.
func (r *BookingRepo) ListByTicketBetween(ctx context.Context, userTicketID uint64, status model.BookingStatus, from, to time.Time) ([]model.Booking, error) {
	return r.list(ctx, bookingSelect+` WHERE b.user_ticket_id = ? AND b.status = ? AND s.starts_at >= ? AND s.starts_at < ?
	                                    ORDER BY s.starts_at, b.id`,
		userTicketID, string(status), toDBTime(from), toDBTime(to))
}

// HasActive reports whether the user holds a live booking for the session.
func (r *BookingRepo) HasActive(ctx context.Context, sessionID, userID uint64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE session_id = ? AND user_id = ? AND active_slot = 1`,
		sessionID, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
