package model

import "time"

// RecurrenceRule describes a repeating weekly pattern for a class template.
// StartDate and EndDate are civil dates; only their year, month and day are
// significant and they are interpreted in Timezone. A rule is immutable once
// sessions have been materialized from it: edits create a new rule and the
// old one records the successor in SupersededBy.
//
// Fields:
//  ID              – primary key identifier.
//  TemplateID      – class template the rule schedules.
//  StartDate       – first civil date of the pattern (week 0).
//  EndDate         – last civil date, inclusive.
//  DaysOfWeek      – weekdays on which sessions occur.
//  IntervalWeeks   – 1 for weekly, 2 for biweekly and so on.
//  TimeOfDay       – local start time formatted "HH:mm".
//  DurationMinutes – length of each session.
//  Timezone        – IANA zone name used for civil date arithmetic.
//  SupersededBy    – successor rule after an edit (nullable).
//  CreatedAt       – creation timestamp.
type RecurrenceRule struct {
	ID              uint64         `json:"id"`                      // recurrence_rules.id
	TemplateID      uint64         `json:"template_id"`             // recurrence_rules.template_id
	StartDate       time.Time      `json:"start_date"`              // recurrence_rules.start_date
	EndDate         time.Time      `json:"end_date"`                // recurrence_rules.end_date
	DaysOfWeek      []time.Weekday `json:"days_of_week"`            // recurrence_rules.days_of_week ("1,3,5")
	IntervalWeeks   int            `json:"interval_weeks"`          // recurrence_rules.interval_weeks
	TimeOfDay       string         `json:"time_of_day"`             // recurrence_rules.time_of_day
	DurationMinutes int            `json:"duration_minutes"`        // recurrence_rules.duration_minutes
	Timezone        string         `json:"timezone"`                // recurrence_rules.timezone
	SupersededBy    *uint64        `json:"superseded_by,omitempty"` // recurrence_rules.superseded_by (nullable)
	CreatedAt       time.Time      `json:"created_at"`              // recurrence_rules.created_at
}

// ClassTemplate is the academy-owned definition of a recurring class. Access
// is restricted either by AccessGroup or by an explicit set of linked
// tickets; a template with neither accepts any public ticket on sale from the
// same academy.
type ClassTemplate struct {
	ID              uint64    `json:"id"`                      // class_templates.id
	AcademyID       uint64    `json:"academy_id"`              // class_templates.academy_id
	Title           string    `json:"title"`                   // class_templates.title
	InstructorID    *uint64   `json:"instructor_id,omitempty"` // class_templates.instructor_id (nullable)
	HallID          *uint64   `json:"hall_id,omitempty"`       // class_templates.hall_id (nullable)
	Capacity        int       `json:"capacity"`                // class_templates.capacity
	AccessGroup     *string   `json:"access_group,omitempty"`  // class_templates.access_group (nullable)
	LinkedTicketIDs []uint64  `json:"linked_ticket_ids"`       // ticket_classes.ticket_id
	CreatedAt       time.Time `json:"created_at"`              // class_templates.created_at
}

// SessionInstance is one concrete occurrence of a class. Instances are never
// deleted; cancellation and instructor substitution are recorded on the row.
// BookedCount is only ever changed through predicate-guarded updates.
type SessionInstance struct {
	ID                     uint64    `json:"id"`                                 // class_sessions.id
	TemplateID             uint64    `json:"template_id"`                        // class_sessions.template_id
	AcademyID              uint64    `json:"academy_id"`                         // class_sessions.academy_id
	RuleID                 *uint64   `json:"rule_id,omitempty"`                  // class_sessions.rule_id (nullable)
	StartsAt               time.Time `json:"starts_at"`                          // class_sessions.starts_at
	EndsAt                 time.Time `json:"ends_at"`                            // class_sessions.ends_at
	HallID                 *uint64   `json:"hall_id,omitempty"`                  // class_sessions.hall_id (nullable)
	Capacity               int       `json:"capacity"`                           // class_sessions.capacity
	BookedCount            int       `json:"booked_count"`                       // class_sessions.booked_count
	Canceled               bool      `json:"canceled"`                           // class_sessions.canceled
	CancelReason           *string   `json:"cancel_reason,omitempty"`            // class_sessions.cancel_reason (nullable)
	SubstituteInstructorID *uint64   `json:"substitute_instructor_id,omitempty"` // class_sessions.substitute_instructor_id (nullable)
	CreatedAt              time.Time `json:"created_at"`                         // class_sessions.created_at
	UpdatedAt              time.Time `json:"updated_at"`                         // class_sessions.updated_at
}

// Available reports how many seats remain. Canceled sessions have none.
func (s SessionInstance) Available() int {
	if s.Canceled || s.BookedCount >= s.Capacity {
		return 0
	}
	return s.Capacity - s.BookedCount
}
