package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tkaykim/moveit-sub006/internal/model"
)

// TicketRepo manages entitlement templates (tickets) and their class links.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a new TicketRepo bound to the given database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// Create inserts a ticket and links it to the given class templates. Every
// linked template must belong to the ticket's academy, otherwise
// ErrConflict is returned and nothing is written.
func (r *TicketRepo) Create(ctx context.Context, t *model.Ticket) error {
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

	if len(t.LinkedClassIDs) > 0 {
		args := []any{t.AcademyID}
		for _, id := range t.LinkedClassIDs {
			args = append(args, id)
		}
		q := fmt.Sprintf(`SELECT COUNT(*) FROM class_templates WHERE academy_id = ? AND id IN (%s)`, placeholders(len(t.LinkedClassIDs)))
		var n int
		if err := tx.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
			return err
		}
		if n != len(t.LinkedClassIDs) {
			return fmt.Errorf("%w: classes [%s] are not all owned by academy %d", ErrConflict, joinIDs(t.LinkedClassIDs), t.AcademyID)
		}
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO tickets (academy_id, name, kind, total_count, valid_days, access_group, is_on_sale, is_public, price, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, t.AcademyID, t.Name, string(t.Kind), nullInt(t.TotalCount), nullInt(t.ValidDays),
		nullString(t.AccessGroup), boolInt(t.IsOnSale), boolInt(t.IsPublic), t.Price.StringFixed(2), toDBTime(t.CreatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)

	for _, templateID := range t.LinkedClassIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO ticket_classes (ticket_id, template_id) VALUES (?, ?)`, t.ID, templateID); err != nil {
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const ticketColumns = `id, academy_id, name, kind, total_count, valid_days, access_group, is_on_sale, is_public, price, created_at`

func scanTicket(row interface{ Scan(...any) error }) (*model.Ticket, error) {
	var t model.Ticket
	var kind string
	var total, valid sql.NullInt64
	var group sql.NullString
	var onSale, public int
	var price decimal.Decimal
	var created dbTime
	if err := row.Scan(&t.ID, &t.AcademyID, &t.Name, &kind, &total, &valid, &group, &onSale, &public, &price, &created); err != nil {
		return nil, err
	}
	t.Kind = model.TicketKind(kind)
	t.TotalCount = intPtr(total)
	t.ValidDays = intPtr(valid)
	t.AccessGroup = strPtr(group)
	t.IsOnSale = onSale != 0
	t.IsPublic = public != 0
	t.Price = price
	t.CreatedAt = created.Time
	t.LinkedClassIDs = []uint64{}
	return &t, nil
}

// GetByID returns the ticket with its linked class IDs, or ErrNotFound.
func (r *TicketRepo) GetByID(ctx context.Context, id uint64) (*model.Ticket, error) {
	t, err := scanTicket(r.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	linked, err := r.linkedClasses(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.LinkedClassIDs = linked
	return t, nil
}

// ListByAcademy returns the tickets of an academy. With publicOnly set only
// public tickets currently on sale are returned.
func (r *TicketRepo) ListByAcademy(ctx context.Context, academyID uint64, publicOnly bool) ([]model.Ticket, error) {
	q := `SELECT ` + ticketColumns + ` FROM tickets WHERE academy_id = ?`
	if publicOnly {
		q += ` AND is_on_sale = 1 AND is_public = 1`
	}
	rows, err := r.db.QueryContext(ctx, q+` ORDER BY id`, academyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		linked, err := r.linkedClasses(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].LinkedClassIDs = linked
	}
	return out, nil
}

func (r *TicketRepo) linkedClasses(ctx context.Context, ticketID uint64) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT template_id FROM ticket_classes WHERE ticket_id = ? ORDER BY template_id`, ticketID)
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
