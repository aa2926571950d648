// Package queue connects the booking service to RabbitMQ: it consumes
// completed payments to issue tickets and publishes booking events.
package queue

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentCompletedEvent is delivered by the payment gateway once a ticket
// purchase has been captured. IdempotencyKey identifies the payment and is
// reused as the issuance key, so redelivery never issues twice.
type PaymentCompletedEvent struct {
	IdempotencyKey string          `json:"idempotency_key"`
	UserID         uint64          `json:"user_id"`
	TicketID       uint64          `json:"ticket_id"`
	AcademyID      uint64          `json:"academy_id"`
	Amount         decimal.Decimal `json:"amount"`
	PaidAt         time.Time       `json:"paid_at"`
}
