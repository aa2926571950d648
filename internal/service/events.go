package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tkaykim/moveit-sub006/internal/model"
)

// Booking event types, also used as queue names.
const (
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
)

// BookingEvent is published after a booking is confirmed or cancelled. It
// carries enough for downstream consumers to notify the user without
// querying the primary database.
type BookingEvent struct {
	EventID         string    `json:"event_id"`
	Type            string    `json:"type"`
	BookingID       uint64    `json:"booking_id"`
	SessionID       uint64    `json:"session_id"`
	UserID          uint64    `json:"user_id"`
	UserTicketID    uint64    `json:"user_ticket_id"`
	AcademyID       uint64    `json:"academy_id"`
	SessionStartsAt time.Time `json:"session_starts_at"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// EventPublisher delivers booking events. Failures are logged by the
// coordinator and never undo a booking.
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, ev BookingEvent) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishBookingEvent(context.Context, BookingEvent) error { return nil }

func newBookingEvent(kind string, b *model.Booking, startsAt, at time.Time) BookingEvent {
	return BookingEvent{
		EventID:         uuid.NewString(),
		Type:            kind,
		BookingID:       b.ID,
		SessionID:       b.SessionID,
		UserID:          b.UserID,
		UserTicketID:    b.UserTicketID,
		AcademyID:       b.AcademyID,
		SessionStartsAt: startsAt.UTC(),
		OccurredAt:      at.UTC(),
	}
}
