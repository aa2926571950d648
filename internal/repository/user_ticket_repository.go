package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tkaykim/moveit-sub006/internal/model"
)

// UserTicketRepo manages owned entitlements. remaining_count and status are
// only changed through compare-and-swap updates; reads join the ticket row
// so callers see the entitlement rules next to the owned state.
type UserTicketRepo struct {
	db *sql.DB
}

// NewUserTicketRepo returns a new UserTicketRepo bound to the given database.
func NewUserTicketRepo(db *sql.DB) *UserTicketRepo { return &UserTicketRepo{db: db} }

// Create inserts an issued ticket. A second insert with the same
// idempotency key returns ErrDuplicate.
func (r *UserTicketRepo) Create(ctx context.Context, ut *model.UserTicket) error {
	now := time.Now().UTC()
	const q = `INSERT INTO user_tickets
	           (user_id, ticket_id, status, remaining_count, start_date, expiry_date, purchased_at, idempotency_key, paid_amount, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, ut.UserID, ut.TicketID, string(ut.Status), nullInt(ut.RemainingCount),
		toDBDate(ut.StartDate), nullDBDate(ut.ExpiryDate), toDBTime(ut.PurchasedAt), ut.IdempotencyKey,
		ut.PaidAmount.StringFixed(2), toDBTime(now), toDBTime(now))
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
	ut.ID = uint64(id)
	return nil
}

const userTicketSelect = `SELECT ut.id, ut.user_id, ut.ticket_id, ut.status, ut.remaining_count, ut.start_date, ut.expiry_date,
                                 ut.purchased_at, ut.idempotency_key, ut.paid_amount,
                                 t.name, t.kind, t.academy_id, t.access_group, t.is_on_sale, t.is_public
                          FROM user_tickets ut
                          JOIN tickets t ON t.id = ut.ticket_id`

func scanUserTicket(row interface{ Scan(...any) error }) (*model.UserTicket, error) {
	var ut model.UserTicket
	var status, kind string
	var remaining sql.NullInt64
	var start, expiry, purchased dbTime
	var paid decimal.Decimal
	var group sql.NullString
	var onSale, public int
	err := row.Scan(&ut.ID, &ut.UserID, &ut.TicketID, &status, &remaining, &start, &expiry, &purchased,
		&ut.IdempotencyKey, &paid, &ut.TicketName, &kind, &ut.AcademyID, &group, &onSale, &public)
	if err != nil {
		return nil, err
	}
	ut.Status = model.UserTicketStatus(status)
	ut.Kind = model.TicketKind(kind)
	ut.RemainingCount = intPtr(remaining)
	ut.StartDate = start.Time
	ut.ExpiryDate = expiry.ptr()
	ut.PurchasedAt = purchased.Time
	ut.PaidAmount = paid
	ut.AccessGroup = strPtr(group)
	ut.IsOnSale = onSale != 0
	ut.IsPublic = public != 0
	return &ut, nil
}

// GetByID returns the owned ticket or ErrNotFound.
func (r *UserTicketRepo) GetByID(ctx context.Context, id uint64) (*model.UserTicket, error) {
	ut, err := scanUserTicket(r.db.QueryRowContext(ctx, userTicketSelect+` WHERE ut.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ut, nil
}

// GetByIdempotencyKey returns the ticket issued for a purchase, or
// ErrNotFound.
func (r *UserTicketRepo) GetByIdempotencyKey(ctx context.Context, key string) (*model.UserTicket, error) {
	ut, err := scanUserTicket(r.db.QueryRowContext(ctx, userTicketSelect+` WHERE ut.idempotency_key = ?`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ut, nil
}

// ListByUser returns every ticket owned by a user, newest first.
func (r *UserTicketRepo) ListByUser(ctx context.Context, userID uint64) ([]model.UserTicket, error) {
	rows, err := r.db.QueryContext(ctx, userTicketSelect+` WHERE ut.user_id = ? ORDER BY ut.purchased_at DESC, ut.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.UserTicket{}
	for rows.Next() {
		ut, err := scanUserTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ut)
	}
	return out, rows.Err()
}

// ConsumeUnit takes one unit from an ACTIVE count ticket. The status flips to
// DEPLETED in the same statement when the last unit is taken. It returns
// ErrNoChange when the ticket is not ACTIVE or has nothing left.
//
// status is assigned before remaining_count: MySQL evaluates SET clauses
// left to right against already-updated columns, SQLite against the old row.
func (r *UserTicketRepo) ConsumeUnit(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_tickets
		 SET status = CASE WHEN remaining_count = 1 THEN 'DEPLETED' ELSE status END,
		     remaining_count = remaining_count - 1,
		     updated_at = ?
		 WHERE id = ? AND status = 'ACTIVE' AND remaining_count > 0`,
		toDBTime(time.Now()), id)
	if err != nil {
		return err
	}
	return rowsChanged(res)
}

// RestoreUnit gives one unit back to a count ticket and reactivates it when
// it had been depleted. Cancelled and expired tickets are left alone and
// ErrNoChange is returned.
func (r *UserTicketRepo) RestoreUnit(ctx context.Context, id uint64) error {
	return restoreUnit(ctx, r.db, id)
}

// RestoreUnitTx is RestoreUnit within the caller's transaction.
func (r *UserTicketRepo) RestoreUnitTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	return restoreUnit(ctx, tx, id)
}

func restoreUnit(ctx context.Context, q Querier, id uint64) error {
	res, err := q.ExecContext(ctx,
		`UPDATE user_tickets
		 SET remaining_count = remaining_count + 1,
		     status = CASE WHEN status = 'DEPLETED' THEN 'ACTIVE' ELSE status END,
		     updated_at = ?
		 WHERE id = ? AND remaining_count IS NOT NULL AND status IN ('ACTIVE', 'DEPLETED')`,
		toDBTime(time.Now()), id)
	if err != nil {
		return err
	}
	return rowsChanged(res)
}

// SetExpiry replaces the expiry date of a ticket that is not cancelled.
// The current expiry is part of the predicate so that two concurrent
// extensions cannot both apply to the same base date.
func (r *UserTicketRepo) SetExpiry(ctx context.Context, id uint64, current *time.Time, next time.Time) error {
	q := `UPDATE user_tickets SET expiry_date = ?, updated_at = ? WHERE id = ? AND status <> 'CANCELLED'`
	args := []any{toDBDate(next), toDBTime(time.Now()), id}
	if current == nil {
		q += ` AND expiry_date IS NULL`
	} else {
		q += ` AND expiry_date = ?`
		args = append(args, toDBDate(*current))
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	return rowsChanged(res)
}

// Revoke cancels a ticket that is ACTIVE or DEPLETED.
func (r *UserTicketRepo) Revoke(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_tickets SET status = 'CANCELLED', updated_at = ? WHERE id = ? AND status IN ('ACTIVE', 'DEPLETED')`,
		toDBTime(time.Now()), id)
	if err != nil {
		return err
	}
	return rowsChanged(res)
}
