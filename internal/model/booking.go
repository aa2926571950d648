package model

import "time"

// BookingStatus is the state of a booking. PENDING only exists in memory
// while an allocation is in progress.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingCompleted BookingStatus = "COMPLETED"
)

// Booking links one consumed entitlement unit to one session instance.
//
// Fields:
//  ID           – primary key identifier.
//  SessionID    – session instance being attended.
//  UserID       – attendee.
//  UserTicketID – entitlement consumed by the booking.
//  Status       – CONFIRMED, CANCELLED or COMPLETED once persisted.
//  AcademyID    – academy of the session, read through a join.
//  CreatedAt    – creation timestamp.
//  UpdatedAt    – last update timestamp.
type Booking struct {
	ID           uint64        `json:"id"`             // bookings.id
	SessionID    uint64        `json:"session_id"`     // bookings.session_id
	UserID       uint64        `json:"user_id"`        // bookings.user_id
	UserTicketID uint64        `json:"user_ticket_id"` // bookings.user_ticket_id
	Status       BookingStatus `json:"status"`         // bookings.status
	AcademyID    uint64        `json:"academy_id"`     // class_sessions.academy_id
	CreatedAt    time.Time     `json:"created_at"`     // bookings.created_at
	UpdatedAt    time.Time     `json:"updated_at"`     // bookings.updated_at
}
