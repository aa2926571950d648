package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketKind distinguishes count-limited from time-window-limited tickets.
type TicketKind string

const (
	TicketCount  TicketKind = "COUNT"
	TicketPeriod TicketKind = "PERIOD"
)

// UserTicketStatus is the lifecycle state of an owned ticket.
type UserTicketStatus string

const (
	UserTicketActive    UserTicketStatus = "ACTIVE"
	UserTicketDepleted  UserTicketStatus = "DEPLETED"
	UserTicketExpired   UserTicketStatus = "EXPIRED"
	UserTicketCancelled UserTicketStatus = "CANCELLED"
)

// Ticket is the purchasable entitlement template sold by an academy. It
// defines the rules of an entitlement; owned instances are UserTickets.
//
// Fields:
//  ID             – primary key identifier.
//  AcademyID      – owning academy.
//  Name           – display name.
//  Kind           – COUNT or PERIOD.
//  TotalCount     – number of sessions granted (COUNT only).
//  ValidDays      – validity window in days. Required for PERIOD, optional
//                   expiry for COUNT.
//  AccessGroup    – coarse group label matched against class templates.
//  IsOnSale       – whether the ticket can currently be bought.
//  IsPublic       – whether the ticket is listed publicly.
//  Price          – list price.
//  LinkedClassIDs – class templates explicitly linked to the ticket.
//  CreatedAt      – creation timestamp.
type Ticket struct {
	ID             uint64          `json:"id"`                     // tickets.id
	AcademyID      uint64          `json:"academy_id"`             // tickets.academy_id
	Name           string          `json:"name"`                   // tickets.name
	Kind           TicketKind      `json:"kind"`                   // tickets.kind
	TotalCount     *int            `json:"total_count,omitempty"`  // tickets.total_count (nullable)
	ValidDays      *int            `json:"valid_days,omitempty"`   // tickets.valid_days (nullable)
	AccessGroup    *string         `json:"access_group,omitempty"` // tickets.access_group (nullable)
	IsOnSale       bool            `json:"is_on_sale"`             // tickets.is_on_sale
	IsPublic       bool            `json:"is_public"`              // tickets.is_public
	Price          decimal.Decimal `json:"price"`                  // tickets.price
	LinkedClassIDs []uint64        `json:"linked_class_ids"`       // ticket_classes.template_id
	CreatedAt      time.Time       `json:"created_at"`             // tickets.created_at
}

// UserTicket is a single user's owned instance of a Ticket. The embedded
// ticket attributes (Kind, AcademyID, AccessGroup ...) are read through a
// join and are not stored on the user_tickets row.
//
// StartDate and ExpiryDate are civil dates carried as UTC midnight.
type UserTicket struct {
	ID             uint64           `json:"id"`                        // user_tickets.id
	UserID         uint64           `json:"user_id"`                   // user_tickets.user_id
	TicketID       uint64           `json:"ticket_id"`                 // user_tickets.ticket_id
	Status         UserTicketStatus `json:"status"`                    // user_tickets.status
	RemainingCount *int             `json:"remaining_count,omitempty"` // user_tickets.remaining_count (nullable)
	StartDate      time.Time        `json:"start_date"`                // user_tickets.start_date
	ExpiryDate     *time.Time       `json:"expiry_date,omitempty"`     // user_tickets.expiry_date (nullable)
	PurchasedAt    time.Time        `json:"purchased_at"`              // user_tickets.purchased_at
	IdempotencyKey string           `json:"-"`                         // user_tickets.idempotency_key
	PaidAmount     decimal.Decimal  `json:"paid_amount"`               // user_tickets.paid_amount

	TicketName  string     `json:"ticket_name"`            // tickets.name
	Kind        TicketKind `json:"kind"`                   // tickets.kind
	AcademyID   uint64     `json:"academy_id"`             // tickets.academy_id
	AccessGroup *string    `json:"access_group,omitempty"` // tickets.access_group
	IsOnSale    bool       `json:"is_on_sale"`             // tickets.is_on_sale
	IsPublic    bool       `json:"is_public"`              // tickets.is_public
}
