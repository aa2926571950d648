package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tkaykim/moveit-sub006/internal/model"
	"github.com/tkaykim/moveit-sub006/internal/recurrence"
)

// RuleRepo stores recurrence rules. Rules are append-only: an edit inserts a
// successor and marks the previous rule superseded.
type RuleRepo struct {
	db *sql.DB
}

// NewRuleRepo returns a new RuleRepo bound to the given database.
func NewRuleRepo(db *sql.DB) *RuleRepo { return &RuleRepo{db: db} }

// DB exposes the underlying handle so that callers can begin transactions
// spanning several repositories.
func (r *RuleRepo) DB() *sql.DB { return r.db }

// Create inserts a rule outside of any transaction.
func (r *RuleRepo) Create(ctx context.Context, rule *model.RecurrenceRule) error {
	return insertRule(ctx, r.db, rule)
}

// CreateTx inserts a rule within the caller's transaction.
func (r *RuleRepo) CreateTx(ctx context.Context, tx *sql.Tx, rule *model.RecurrenceRule) error {
	return insertRule(ctx, tx, rule)
}

func insertRule(ctx context.Context, q Querier, rule *model.RecurrenceRule) error {
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	const ins = `INSERT INTO recurrence_rules
	             (template_id, start_date, end_date, days_of_week, interval_weeks, time_of_day, duration_minutes, timezone, created_at)
	             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := q.ExecContext(ctx, ins, rule.TemplateID, toDBDate(rule.StartDate), toDBDate(rule.EndDate),
		recurrence.FormatDays(rule.DaysOfWeek), rule.IntervalWeeks, rule.TimeOfDay, rule.DurationMinutes,
		rule.Timezone, toDBTime(rule.CreatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rule.ID = uint64(id)
	return nil
}

// SupersedeTx records newID as the successor of oldID. It returns
// ErrNoChange when oldID has already been superseded, which makes two
// concurrent edits of the same rule mutually exclusive.
func (r *RuleRepo) SupersedeTx(ctx context.Context, tx *sql.Tx, oldID, newID uint64) error {
	res, err := tx.ExecContext(ctx, `UPDATE recurrence_rules SET superseded_by = ? WHERE id = ? AND superseded_by IS NULL`, newID, oldID)
	if err != nil {
		return err
	}
	return rowsChanged(res)
}

const ruleColumns = `id, template_id, start_date, end_date, days_of_week, interval_weeks, time_of_day, duration_minutes, timezone, superseded_by, created_at`

func scanRule(row interface{ Scan(...any) error }) (*model.RecurrenceRule, error) {
	var rule model.RecurrenceRule
	var start, end, created dbTime
	var days string
	var superseded sql.NullInt64
	err := row.Scan(&rule.ID, &rule.TemplateID, &start, &end, &days, &rule.IntervalWeeks, &rule.TimeOfDay,
		&rule.DurationMinutes, &rule.Timezone, &superseded, &created)
	if err != nil {
		return nil, err
	}
	parsed, err := recurrence.ParseDays(days)
	if err != nil {
		return nil, err
	}
	rule.DaysOfWeek = parsed
	rule.StartDate = start.Time
	rule.EndDate = end.Time
	rule.SupersededBy = uintPtr(superseded)
	rule.CreatedAt = created.Time
	return &rule, nil
}

// GetByID returns the rule or ErrNotFound.
func (r *RuleRepo) GetByID(ctx context.Context, id uint64) (*model.RecurrenceRule, error) {
	rule, err := scanRule(r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM recurrence_rules WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rule, nil
}

// ListByTemplate returns the rules of a template, oldest first, including
// superseded ones.
func (r *RuleRepo) ListByTemplate(ctx context.Context, templateID uint64) ([]model.RecurrenceRule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM recurrence_rules WHERE template_id = ? ORDER BY id`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.RecurrenceRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}
