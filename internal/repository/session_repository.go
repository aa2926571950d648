package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tkaykim/moveit-sub006/internal/model"
)

// SessionRepo manages class_sessions. booked_count is never written from a
// value read earlier: every change is a single predicate-guarded UPDATE so
// concurrent bookings serialize on the row.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns a new SessionRepo bound to the given database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// DB exposes the underlying handle for multi-repository transactions.
func (r *SessionRepo) DB() *sql.DB { return r.db }

// CreateIfAbsent inserts s unless an instance with the same template and
// start time already exists. It reports whether a row was created; on
// creation the generated ID is populated.
func (r *SessionRepo) CreateIfAbsent(ctx context.Context, s *model.SessionInstance) (bool, error) {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = s.CreatedAt
	const q = `INSERT INTO class_sessions
	           (template_id, academy_id, rule_id, starts_at, ends_at, hall_id, capacity, booked_count, canceled, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, s.TemplateID, s.AcademyID, nullUint(s.RuleID), toDBTime(s.StartsAt),
		toDBTime(s.EndsAt), nullUint(s.HallID), s.Capacity, toDBTime(s.CreatedAt), toDBTime(s.UpdatedAt))
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, err
	}
	s.ID = uint64(id)
	s.BookedCount = 0
	s.Canceled = false
	return true, nil
}

const sessionColumns = `id, template_id, academy_id, rule_id, starts_at, ends_at, hall_id, capacity, booked_count,
                        canceled, cancel_reason, substitute_instructor_id, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*model.SessionInstance, error) {
	var s model.SessionInstance
	var rule, hall, substitute sql.NullInt64
	var reason sql.NullString
	var starts, ends, created, updated dbTime
	var canceled int
	err := row.Scan(&s.ID, &s.TemplateID, &s.AcademyID, &rule, &starts, &ends, &hall, &s.Capacity, &s.BookedCount,
		&canceled, &reason, &substitute, &created, &updated)
	if err != nil {
		return nil, err
	}
	s.RuleID = uintPtr(rule)
	s.HallID = uintPtr(hall)
	s.SubstituteInstructorID = uintPtr(substitute)
	s.CancelReason = strPtr(reason)
	s.Canceled = canceled != 0
	s.StartsAt = starts.Time
	s.EndsAt = ends.Time
	s.CreatedAt = created.Time
	s.UpdatedAt = updated.Time
	return &s, nil
}

func (r *SessionRepo) list(ctx context.Context, q string, args ...any) ([]model.SessionInstance, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.SessionInstance{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// GetByID returns the session or ErrNotFound.
func (r *SessionRepo) GetByID(ctx context.Context, id uint64) (*model.SessionInstance, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM class_sessions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// ListByAcademy returns sessions of an academy starting in [from, to).
func (r *SessionRepo) ListByAcademy(ctx context.Context, academyID uint64, from, to time.Time) ([]model.SessionInstance, error) {
	return r.list(ctx, `SELECT `+sessionColumns+` FROM class_sessions
	                    WHERE academy_id = ? AND starts_at >= ? AND starts_at < ? ORDER BY starts_at, id`,
		academyID, toDBTime(from), toDBTime(to))
}

// ListByTemplate returns every session of a template ordered by start.
func (r *SessionRepo) ListByTemplate(ctx context.Context, templateID uint64) ([]model.SessionInstance, error) {
	return r.list(ctx, `SELECT `+sessionColumns+` FROM class_sessions WHERE template_id = ? ORDER BY starts_at, id`, templateID)
}

// ListFutureByRule returns non-canceled sessions produced by a rule that
// start strictly after the given instant.
func (r *SessionRepo) ListFutureByRule(ctx context.Context, ruleID uint64, after time.Time) ([]model.SessionInstance, error) {
	return r.list(ctx, `SELECT `+sessionColumns+` FROM class_sessions
	                    WHERE rule_id = ? AND canceled = 0 AND starts_at > ? ORDER BY starts_at, id`,
		ruleID, toDBTime(after))
}

// RetagFutureTx moves the non-canceled sessions of oldRuleID that start
// after the given instant onto newRuleID. Past sessions keep the rule that
// produced them.
func (r *SessionRepo) RetagFutureTx(ctx context.Context, tx *sql.Tx, oldRuleID, newRuleID uint64, after time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE class_sessions SET rule_id = ?, updated_at = ? WHERE rule_id = ? AND canceled = 0 AND starts_at > ?`,
		newRuleID, toDBTime(time.Now()), oldRuleID, toDBTime(after))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkCanceled flags the session as canceled. It returns ErrNoChange when
// the session is already canceled and ErrNotFound when it does not exist.
func (r *SessionRepo) MarkCanceled(ctx context.Context, id uint64, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE class_sessions SET canceled = 1, cancel_reason = ?, updated_at = ? WHERE id = ? AND canceled = 0`,
		reason, toDBTime(time.Now()), id)
	if err != nil {
		return err
	}
	if err := rowsChanged(res); err != nil {
		return r.missingOr(ctx, id, err)
	}
	return nil
}

// SetSubstitute records a substitute instructor on a non-canceled session.
// A NULL instructor clears the override.
func (r *SessionRepo) SetSubstitute(ctx context.Context, id uint64, instructorID *uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE class_sessions SET substitute_instructor_id = ?, updated_at = ? WHERE id = ? AND canceled = 0`,
		nullUint(instructorID), toDBTime(time.Now()), id)
	if err != nil {
		return err
	}
	if err := rowsChanged(res); err != nil {
		return r.missingOr(ctx, id, err)
	}
	return nil
}

// IncrementBooked takes one seat if the session is open and not full. It
// returns ErrNoChange when the predicate fails; the caller re-reads the row
// to learn whether the session was full, canceled or missing.
func (r *SessionRepo) IncrementBooked(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE class_sessions SET booked_count = booked_count + 1, updated_at = ?
		 WHERE id = ? AND canceled = 0 AND booked_count < capacity`,
		toDBTime(time.Now()), id)
	if err != nil {
		return err
	}
	return rowsChanged(res)
}

// DecrementBooked gives one seat back, never going below zero.
func (r *SessionRepo) DecrementBooked(ctx context.Context, id uint64) error {
	return decrementBooked(ctx, r.db, id)
}

// DecrementBookedTx is DecrementBooked within the caller's transaction.
func (r *SessionRepo) DecrementBookedTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	return decrementBooked(ctx, tx, id)
}

func decrementBooked(ctx context.Context, q Querier, id uint64) error {
	res, err := q.ExecContext(ctx,
		`UPDATE class_sessions SET booked_count = booked_count - 1, updated_at = ? WHERE id = ? AND booked_count > 0`,
		toDBTime(time.Now()), id)
	if err != nil {
		return err
	}
	return rowsChanged(res)
}

// missingOr distinguishes a missing row from a failed predicate.
func (r *SessionRepo) missingOr(ctx context.Context, id uint64, err error) error {
	var exists int
	if e := r.db.QueryRowContext(ctx, `SELECT 1 FROM class_sessions WHERE id = ?`, id).Scan(&exists); e != nil {
		if errors.Is(e, sql.ErrNoRows) {
			return ErrNotFound
		}
		return e
	}
	return err
}
