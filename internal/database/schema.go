package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// table is one CREATE TABLE statement plus its secondary indexes. Column
// types are chosen so that the same text is valid for MySQL and SQLite;
// {{pk}} expands to the dialect's auto-increment primary key.
type table struct {
	name    string
	body    string
	indexes [][2]string // name, column list
}

var schema = []table{
	{
		name: "academies",
		body: `id {{pk}},
			name VARCHAR(200) NOT NULL,
			owner_id BIGINT UNSIGNED NOT NULL,
			max_extension_days INT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP`,
		indexes: [][2]string{{"idx_academies_owner", "owner_id"}},
	},
	{
		name: "class_templates",
		body: `id {{pk}},
			academy_id BIGINT UNSIGNED NOT NULL,
			title VARCHAR(200) NOT NULL,
			instructor_id BIGINT UNSIGNED NULL,
			hall_id BIGINT UNSIGNED NULL,
			capacity INT NOT NULL,
			access_group VARCHAR(64) NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT fk_templates_academy FOREIGN KEY (academy_id) REFERENCES academies (id),
			CONSTRAINT chk_templates_capacity CHECK (capacity > 0)`,
		indexes: [][2]string{{"idx_templates_academy", "academy_id"}},
	},
	{
		name: "recurrence_rules",
		body: `id {{pk}},
			template_id BIGINT UNSIGNED NOT NULL,
			start_date DATE NOT NULL,
			end_date DATE NOT NULL,
			days_of_week VARCHAR(20) NOT NULL,
			interval_weeks INT NOT NULL,
			time_of_day CHAR(5) NOT NULL,
			duration_minutes INT NOT NULL,
			timezone VARCHAR(64) NOT NULL,
			superseded_by BIGINT UNSIGNED NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT fk_rules_template FOREIGN KEY (template_id) REFERENCES class_templates (id),
			CONSTRAINT chk_rules_interval CHECK (interval_weeks >= 1)`,
		indexes: [][2]string{{"idx_rules_template", "template_id"}},
	},
	{
		name: "class_sessions",
		body: `id {{pk}},
			template_id BIGINT UNSIGNED NOT NULL,
			academy_id BIGINT UNSIGNED NOT NULL,
			rule_id BIGINT UNSIGNED NULL,
			starts_at DATETIME NOT NULL,
			ends_at DATETIME NOT NULL,
			hall_id BIGINT UNSIGNED NULL,
			capacity INT NOT NULL,
			booked_count INT NOT NULL DEFAULT 0,
			canceled TINYINT(1) NOT NULL DEFAULT 0,
			cancel_reason VARCHAR(255) NULL,
			substitute_instructor_id BIGINT UNSIGNED NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT uq_sessions_template_start UNIQUE (template_id, starts_at),
			CONSTRAINT fk_sessions_template FOREIGN KEY (template_id) REFERENCES class_templates (id),
			CONSTRAINT fk_sessions_rule FOREIGN KEY (rule_id) REFERENCES recurrence_rules (id),
			CONSTRAINT chk_sessions_booked CHECK (booked_count >= 0)`,
		indexes: [][2]string{
			{"idx_sessions_academy_start", "academy_id, starts_at"},
			{"idx_sessions_rule_start", "rule_id, starts_at"},
		},
	},
	{
		name: "tickets",
		body: `id {{pk}},
			academy_id BIGINT UNSIGNED NOT NULL,
			name VARCHAR(200) NOT NULL,
			kind VARCHAR(10) NOT NULL,
			total_count INT NULL,
			valid_days INT NULL,
			access_group VARCHAR(64) NULL,
			is_on_sale TINYINT(1) NOT NULL DEFAULT 1,
			is_public TINYINT(1) NOT NULL DEFAULT 1,
			price DECIMAL(12,2) NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT fk_tickets_academy FOREIGN KEY (academy_id) REFERENCES academies (id)`,
		indexes: [][2]string{{"idx_tickets_academy", "academy_id"}},
	},
	{
		name: "ticket_classes",
		body: `ticket_id BIGINT UNSIGNED NOT NULL,
			template_id BIGINT UNSIGNED NOT NULL,
			PRIMARY KEY (ticket_id, template_id),
			CONSTRAINT fk_ticket_classes_ticket FOREIGN KEY (ticket_id) REFERENCES tickets (id),
			CONSTRAINT fk_ticket_classes_template FOREIGN KEY (template_id) REFERENCES class_templates (id)`,
		indexes: [][2]string{{"idx_ticket_classes_template", "template_id"}},
	},
	{
		name: "user_tickets",
		body: `id {{pk}},
			user_id BIGINT UNSIGNED NOT NULL,
			ticket_id BIGINT UNSIGNED NOT NULL,
			status VARCHAR(16) NOT NULL,
			remaining_count INT NULL,
			start_date DATE NOT NULL,
			expiry_date DATE NULL,
			purchased_at DATETIME NOT NULL,
			idempotency_key VARCHAR(128) NOT NULL,
			paid_amount DECIMAL(12,2) NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT uq_user_tickets_idempotency UNIQUE (idempotency_key),
			CONSTRAINT fk_user_tickets_ticket FOREIGN KEY (ticket_id) REFERENCES tickets (id),
			CONSTRAINT chk_user_tickets_remaining CHECK (remaining_count IS NULL OR remaining_count >= 0)`,
		indexes: [][2]string{{"idx_user_tickets_user", "user_id, status"}},
	},
	{
		name: "ticket_extension_requests",
		body: `id {{pk}},
			user_ticket_id BIGINT UNSIGNED NOT NULL,
			user_id BIGINT UNSIGNED NOT NULL,
			academy_id BIGINT UNSIGNED NOT NULL,
			request_type VARCHAR(16) NOT NULL,
			extension_days INT NULL,
			absent_start_date DATE NULL,
			absent_end_date DATE NULL,
			reason VARCHAR(500) NOT NULL,
			status VARCHAR(16) NOT NULL,
			reject_reason VARCHAR(500) NULL,
			processed_by BIGINT UNSIGNED NULL,
			processed_at DATETIME NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT fk_extension_requests_user_ticket FOREIGN KEY (user_ticket_id) REFERENCES user_tickets (id)`,
		indexes: [][2]string{
			{"idx_extension_requests_academy", "academy_id, status"},
			{"idx_extension_requests_user", "user_id, created_at"},
		},
	},
	{
		// active_slot is 1 while a booking holds its seat and NULL otherwise;
		// NULLs never collide, so the unique key only constrains live bookings.
		name: "bookings",
		body: `id {{pk}},
			session_id BIGINT UNSIGNED NOT NULL,
			user_id BIGINT UNSIGNED NOT NULL,
			user_ticket_id BIGINT UNSIGNED NOT NULL,
			status VARCHAR(16) NOT NULL,
			active_slot TINYINT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT uq_bookings_active UNIQUE (session_id, user_id, active_slot),
			CONSTRAINT fk_bookings_session FOREIGN KEY (session_id) REFERENCES class_sessions (id),
			CONSTRAINT fk_bookings_user_ticket FOREIGN KEY (user_ticket_id) REFERENCES user_tickets (id)`,
		indexes: [][2]string{
			{"idx_bookings_user", "user_id, created_at"},
			{"idx_bookings_session_status", "session_id, status"},
		},
	},
}

// Migrate creates every table that does not exist yet. It is safe to run on
// each start-up.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for _, t := range schema {
		for _, stmt := range statements(t, dialect) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate %s: %w", t.name, err)
			}
		}
	}
	return nil
}

func statements(t table, dialect Dialect) []string {
	body := t.body
	switch dialect {
	case MySQL:
		body = strings.ReplaceAll(body, "{{pk}}", "BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY")
		// MySQL has no CREATE INDEX IF NOT EXISTS; declare keys inline
		for _, idx := range t.indexes {
			body += fmt.Sprintf(",\n\t\t\tKEY %s (%s)", idx[0], idx[1])
		}
		return []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t\t\t%s\n\t\t) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4", t.name, body)}
	default:
		body = strings.ReplaceAll(body, "{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT")
		out := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t\t\t%s\n\t\t)", t.name, body)}
		for _, idx := range t.indexes {
			out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx[0], t.name, idx[1]))
		}
		return out
	}
}
