package model

import "time"

// ExtensionRequestType says how the requested days are given.
type ExtensionRequestType string

const (
	ExtensionByDays ExtensionRequestType = "EXTENSION"
	ExtensionPause  ExtensionRequestType = "PAUSE"
)

// ExtensionRequestStatus is the review state of a request.
type ExtensionRequestStatus string

const (
	ExtensionPending  ExtensionRequestStatus = "PENDING"
	ExtensionApproved ExtensionRequestStatus = "APPROVED"
	ExtensionRejected ExtensionRequestStatus = "REJECTED"
)

// ExtensionRequest is a holder's request to push a ticket's expiry date
// back, either by a number of days or by the length of an absence.
//
// Fields:
//  UserTicketID    – ticket to extend.
//  UserID          – holder who filed the request.
//  AcademyID       – academy of the ticket, copied at filing time.
//  Type            – EXTENSION or PAUSE.
//  ExtensionDays   – requested days (EXTENSION only).
//  AbsentStartDate – first day of absence (PAUSE only).
//  AbsentEndDate   – last day of absence, inclusive (PAUSE only).
//  Reason          – holder's explanation.
//  Status          – PENDING until an admin approves or rejects it.
//  RejectReason    – admin's explanation on rejection.
//  ProcessedBy     – admin who decided.
//  ProcessedAt     – decision time.
type ExtensionRequest struct {
	ID              uint64                 `json:"id"`                          // ticket_extension_requests.id
	UserTicketID    uint64                 `json:"user_ticket_id"`              // ticket_extension_requests.user_ticket_id
	UserID          uint64                 `json:"user_id"`                     // ticket_extension_requests.user_id
	AcademyID       uint64                 `json:"academy_id"`                  // ticket_extension_requests.academy_id
	Type            ExtensionRequestType   `json:"request_type"`                // ticket_extension_requests.request_type
	ExtensionDays   *int                   `json:"extension_days,omitempty"`    // ticket_extension_requests.extension_days (nullable)
	AbsentStartDate *time.Time             `json:"absent_start_date,omitempty"` // ticket_extension_requests.absent_start_date (nullable)
	AbsentEndDate   *time.Time             `json:"absent_end_date,omitempty"`   // ticket_extension_requests.absent_end_date (nullable)
	Reason          string                 `json:"reason"`                      // ticket_extension_requests.reason
	Status          ExtensionRequestStatus `json:"status"`                      // ticket_extension_requests.status
	RejectReason    *string                `json:"reject_reason,omitempty"`     // ticket_extension_requests.reject_reason (nullable)
	ProcessedBy     *uint64                `json:"processed_by,omitempty"`      // ticket_extension_requests.processed_by (nullable)
	ProcessedAt     *time.Time             `json:"processed_at,omitempty"`      // ticket_extension_requests.processed_at (nullable)
	CreatedAt       time.Time              `json:"created_at"`                  // ticket_extension_requests.created_at
}

// Days is the number of days the request adds to the expiry date. A pause
// counts both ends of the absence.
func (r *ExtensionRequest) Days() int {
	switch r.Type {
	case ExtensionByDays:
		if r.ExtensionDays != nil {
			return *r.ExtensionDays
		}
	case ExtensionPause:
		if r.AbsentStartDate != nil && r.AbsentEndDate != nil {
			return int(r.AbsentEndDate.Sub(*r.AbsentStartDate).Hours()/24) + 1
		}
	}
	return 0
}
