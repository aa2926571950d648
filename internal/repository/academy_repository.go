package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tkaykim/moveit-sub006/internal/model"
)

// AcademyRepo manages persistence for academies.
type AcademyRepo struct {
	db *sql.DB
}

// NewAcademyRepo returns a new AcademyRepo bound to the given database.
func NewAcademyRepo(db *sql.DB) *AcademyRepo { return &AcademyRepo{db: db} }

// Create inserts a new academy and populates its generated ID.
func (r *AcademyRepo) Create(ctx context.Context, a *model.Academy) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO academies (name, owner_id, max_extension_days, created_at) VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, a.Name, a.OwnerID, nullInt(a.MaxExtensionDays), toDBTime(a.CreatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	return nil
}

// GetByID returns the academy or ErrNotFound.
func (r *AcademyRepo) GetByID(ctx context.Context, id uint64) (*model.Academy, error) {
	const q = `SELECT id, name, owner_id, max_extension_days, created_at FROM academies WHERE id = ?`
	var a model.Academy
	var maxExt sql.NullInt64
	var created dbTime
	err := r.db.QueryRowContext(ctx, q, id).Scan(&a.ID, &a.Name, &a.OwnerID, &maxExt, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.MaxExtensionDays = intPtr(maxExt)
	a.CreatedAt = created.Time
	return &a, nil
}

// CheckOwner returns nil when ownerID administers the academy, ErrForbidden
// when someone else does and ErrNotFound when the academy does not exist.
func (r *AcademyRepo) CheckOwner(ctx context.Context, academyID, ownerID uint64) error {
	var actual uint64
	err := r.db.QueryRowContext(ctx, `SELECT owner_id FROM academies WHERE id = ?`, academyID).Scan(&actual)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if actual != ownerID {
		return ErrForbidden
	}
	return nil
}
