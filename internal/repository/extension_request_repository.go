package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tkaykim/moveit-sub006/internal/model"
)

// ExtensionRequestRepo stores holders' extension and pause requests. A
// request leaves PENDING exactly once, through Decide.
type ExtensionRequestRepo struct {
	db *sql.DB
}

// NewExtensionRequestRepo returns a new ExtensionRequestRepo bound to the
// given database.
func NewExtensionRequestRepo(db *sql.DB) *ExtensionRequestRepo { return &ExtensionRequestRepo{db: db} }

// Create inserts a request and populates its ID.
func (r *ExtensionRequestRepo) Create(ctx context.Context, req *model.ExtensionRequest) error {
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	const q = `INSERT INTO ticket_extension_requests
	           (user_ticket_id, user_id, academy_id, request_type, extension_days, absent_start_date, absent_end_date,
	            reason, status, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, req.UserTicketID, req.UserID, req.AcademyID, string(req.Type),
		nullInt(req.ExtensionDays), nullDBDate(req.AbsentStartDate), nullDBDate(req.AbsentEndDate),
		req.Reason, string(req.Status), toDBTime(req.CreatedAt), toDBTime(now))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	req.ID = uint64(id)
	return nil
}

const extensionRequestColumns = `id, user_ticket_id, user_id, academy_id, request_type, extension_days, absent_start_date,
                                 absent_end_date, reason, status, reject_reason, processed_by, processed_at, created_at`

func scanExtensionRequest(row interface{ Scan(...any) error }) (*model.ExtensionRequest, error) {
	var req model.ExtensionRequest
	var typ, status string
	var days, processedBy sql.NullInt64
	var rejectReason sql.NullString
	var absentStart, absentEnd, processedAt, created dbTime
	err := row.Scan(&req.ID, &req.UserTicketID, &req.UserID, &req.AcademyID, &typ, &days, &absentStart,
		&absentEnd, &req.Reason, &status, &rejectReason, &processedBy, &processedAt, &created)
	if err != nil {
		return nil, err
	}
	req.Type = model.ExtensionRequestType(typ)
	req.Status = model.ExtensionRequestStatus(status)
	req.ExtensionDays = intPtr(days)
	req.AbsentStartDate = absentStart.ptr()
	req.AbsentEndDate = absentEnd.ptr()
	req.RejectReason = strPtr(rejectReason)
	req.ProcessedBy = uintPtr(processedBy)
	req.ProcessedAt = processedAt.ptr()
	req.CreatedAt = created.Time
	return &req, nil
}

// GetByID returns the request or ErrNotFound.
func (r *ExtensionRequestRepo) GetByID(ctx context.Context, id uint64) (*model.ExtensionRequest, error) {
	req, err := scanExtensionRequest(r.db.QueryRowContext(ctx,
		`SELECT `+extensionRequestColumns+` FROM ticket_extension_requests WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

func (r *ExtensionRequestRepo) list(ctx context.Context, q string, args ...any) ([]model.ExtensionRequest, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ExtensionRequest{}
	for rows.Next() {
		req, err := scanExtensionRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// ListByUser returns a holder's requests, newest first.
func (r *ExtensionRequestRepo) ListByUser(ctx context.Context, userID uint64) ([]model.ExtensionRequest, error) {
	return r.list(ctx, `SELECT `+extensionRequestColumns+` FROM ticket_extension_requests
	                    WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

// ListByAcademy returns an academy's requests, newest first. An empty
// status returns every request.
func (r *ExtensionRequestRepo) ListByAcademy(ctx context.Context, academyID uint64, status model.ExtensionRequestStatus) ([]model.ExtensionRequest, error) {
	q := `SELECT ` + extensionRequestColumns + ` FROM ticket_extension_requests WHERE academy_id = ?`
	args := []any{academyID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	return r.list(ctx, q+` ORDER BY created_at DESC, id DESC`, args...)
}

// Decide moves a PENDING request to status. It returns ErrNoChange when
// the request has already been decided and ErrNotFound when it does not
// exist.
func (r *ExtensionRequestRepo) Decide(ctx context.Context, id uint64, status model.ExtensionRequestStatus, rejectReason *string, by uint64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE ticket_extension_requests
		 SET status = ?, reject_reason = ?, processed_by = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'PENDING'`,
		string(status), nullString(rejectReason), by, toDBTime(at), toDBTime(time.Now()), id)
	if err != nil {
		return err
	}
	if err := rowsChanged(res); err != nil {
		return r.missingOr(ctx, id, err)
	}
	return nil
}

// Reopen returns an APPROVED request to PENDING when applying it failed.
func (r *ExtensionRequestRepo) Reopen(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE ticket_extension_requests
		 SET status = 'PENDING', processed_by = NULL, processed_at = NULL, updated_at = ?
		 WHERE id = ? AND status = 'APPROVED'`,
		toDBTime(time.Now()), id)
	if err != nil {
		return err
	}
	return rowsChanged(res)
}

func (r *ExtensionRequestRepo) missingOr(ctx context.Context, id uint64, err error) error {
	var exists int
	if e := r.db.QueryRowContext(ctx, `SELECT 1 FROM ticket_extension_requests WHERE id = ?`, id).Scan(&exists); e != nil {
		if errors.Is(e, sql.ErrNoRows) {
			return ErrNotFound
		}
		return e
	}
	return err
}
