package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tkaykim/moveit-sub006/internal/model"
)

// TemplateRepo provides persistence for class templates and their linked
// ticket set (the ticket_classes join).
type TemplateRepo struct {
	db *sql.DB
}

// NewTemplateRepo returns a new TemplateRepo bound to the given database.
func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

// Create inserts the template and its linked tickets in one transaction.
// Every linked ticket must belong to the template's academy, otherwise
// ErrConflict is returned and nothing is written.
func (r *TemplateRepo) Create(ctx context.Context, t *model.ClassTemplate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if len(t.LinkedTicketIDs) > 0 {
		args := []any{t.AcademyID}
		for _, id := range t.LinkedTicketIDs {
			args = append(args, id)
		}
		q := fmt.Sprintf(`SELECT COUNT(*) FROM tickets WHERE academy_id = ? AND id IN (%s)`, placeholders(len(t.LinkedTicketIDs)))
		var n int
		if err := tx.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
			return err
		}
		if n != len(t.LinkedTicketIDs) {
			return fmt.Errorf("%w: tickets [%s] are not all owned by academy %d", ErrConflict, joinIDs(t.LinkedTicketIDs), t.AcademyID)
		}
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO class_templates (academy_id, title, instructor_id, hall_id, capacity, access_group, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, t.AcademyID, t.Title, nullUint(t.InstructorID), nullUint(t.HallID),
		t.Capacity, nullString(t.AccessGroup), toDBTime(t.CreatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)

	for _, ticketID := range t.LinkedTicketIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO ticket_classes (ticket_id, template_id) VALUES (?, ?)`, ticketID, t.ID); err != nil {
			if isDuplicateKey(err) {
				continue
			}
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

const templateColumns = `id, academy_id, title, instructor_id, hall_id, capacity, access_group, created_at`

func scanTemplate(row interface{ Scan(...any) error }) (*model.ClassTemplate, error) {
	var t model.ClassTemplate
	var instructor, hall sql.NullInt64
	var group sql.NullString
	var created dbTime
	if err := row.Scan(&t.ID, &t.AcademyID, &t.Title, &instructor, &hall, &t.Capacity, &group, &created); err != nil {
		return nil, err
	}
	t.InstructorID = uintPtr(instructor)
	t.HallID = uintPtr(hall)
	t.AccessGroup = strPtr(group)
	t.CreatedAt = created.Time
	t.LinkedTicketIDs = []uint64{}
	return &t, nil
}

// GetByID returns the template with its linked ticket IDs, or ErrNotFound.
func (r *TemplateRepo) GetByID(ctx context.Context, id uint64) (*model.ClassTemplate, error) {
	t, err := scanTemplate(r.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM class_templates WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	linked, err := r.linkedTickets(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.LinkedTicketIDs = linked
	return t, nil
}

// ListByAcademy returns every template of an academy ordered by ID.
func (r *TemplateRepo) ListByAcademy(ctx context.Context, academyID uint64) ([]model.ClassTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM class_templates WHERE academy_id = ? ORDER BY id`, academyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ClassTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		linked, err := r.linkedTickets(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].LinkedTicketIDs = linked
	}
	return out, nil
}

func (r *TemplateRepo) linkedTickets(ctx context.Context, templateID uint64) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ticket_id FROM ticket_classes WHERE template_id = ? ORDER BY ticket_id`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []uint64{}
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
