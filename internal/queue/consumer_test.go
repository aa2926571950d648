package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tkaykim/moveit-sub006/internal/model"
	"github.com/tkaykim/moveit-sub006/internal/service"
)

type mockIssuer struct{ mock.Mock }

func (m *mockIssuer) Issue(ctx context.Context, req service.IssueRequest) (*model.UserTicket, error) {
	args := m.Called(ctx, req)
	ut, _ := args.Get(0).(*model.UserTicket)
	return ut, args.Error(1)
}

func paymentBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(PaymentCompletedEvent{
		IdempotencyKey: "pay-123",
		UserID:         42,
		TicketID:       7,
		AcademyID:      3,
		Amount:         decimal.RequireFromString("99000.00"),
		PaidAt:         time.Date(2026, 2, 20, 1, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return body
}

func TestHandlePayment(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		redelivered bool
		want        verdict
	}{
		{name: "issued", want: ack},
		{name: "already issued", err: service.ErrDuplicateIssuance, want: ack},
		{name: "unknown ticket", err: &service.Error{Kind: service.KindNotFound, Reason: service.ReasonTicketNotFound}, want: reject},
		{name: "cross academy", err: service.ErrCrossAcademy, want: reject},
		{name: "database down", err: errors.New("connection refused"), want: requeue},
		{name: "database down twice", err: errors.New("connection refused"), redelivered: true, want: reject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer := &mockIssuer{}
			var ut *model.UserTicket
			if tt.err == nil {
				ut = &model.UserTicket{ID: 1}
			}
			issuer.On("Issue", mock.Anything, mock.MatchedBy(func(req service.IssueRequest) bool {
				return req.IdempotencyKey == "pay-123" && req.UserID == 42 && req.TicketID == 7 &&
					req.AcademyID == 3 && req.Amount.Equal(decimal.NewFromInt(99000))
			})).Return(ut, tt.err).Once()

			c := NewPaymentConsumer("amqp://unused", "payment.completed", issuer)
			got := c.handle(context.Background(), paymentBody(t), tt.redelivered)
			assert.Equal(t, tt.want, got)
			issuer.AssertExpectations(t)
		})
	}
}

func TestHandleMalformedPayment(t *testing.T) {
	issuer := &mockIssuer{}
	c := NewPaymentConsumer("amqp://unused", "payment.completed", issuer)
	assert.Equal(t, reject, c.handle(context.Background(), []byte("{not json"), false))
	issuer.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
}

func TestEncodeEvent(t *testing.T) {
	ev := service.BookingEvent{EventID: "e-1", Type: service.EventBookingConfirmed, BookingID: 9}
	msg, err := encodeEvent(ev)
	require.NoError(t, err)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "e-1", msg.MessageId)

	var back service.BookingEvent
	require.NoError(t, json.Unmarshal(msg.Body, &back))
	assert.Equal(t, uint64(9), back.BookingID)
}
