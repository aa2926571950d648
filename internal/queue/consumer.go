package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/tkaykim/moveit-sub006/internal/model"
	"github.com/tkaykim/moveit-sub006/internal/service"
)

// Issuer turns a payment into an owned ticket.
type Issuer interface {
	Issue(ctx context.Context, req service.IssueRequest) (*model.UserTicket, error)
}

// PaymentConsumer reads completed payments from a durable queue and issues
// the purchased tickets.
type PaymentConsumer struct {
	url    string
	queue  string
	issuer Issuer
}

// NewPaymentConsumer returns a consumer for queueName on the broker at url.
func NewPaymentConsumer(url, queueName string, issuer Issuer) *PaymentConsumer {
	return &PaymentConsumer{url: url, queue: queueName, issuer: issuer}
}

// Run connects to the broker and consumes until ctx is cancelled. Lost
// connections are re-dialed with exponential backoff.
func (c *PaymentConsumer) Run(ctx context.Context) error {
	log := logrus.WithField("queue", c.queue)
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Second
	eb.MaxInterval = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			wait := eb.NextBackOff()
			log.WithError(err).Warnf("payment consumer: dial failed, retrying in %s", wait)
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
			continue
		}
		eb.Reset()

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Warn("payment consumer: loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *PaymentConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logrus.WithError(err).Warn("payment consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			switch c.handle(ctx, d.Body, d.Redelivered) {
			case ack:
				_ = d.Ack(false)
			case requeue:
				_ = d.Nack(false, true)
			default:
				_ = d.Nack(false, false)
			}
		}
	}
}

type verdict int

const (
	ack verdict = iota
	reject
	requeue
)

// handle issues the ticket for one delivery and decides its fate. Domain
// rejections are dropped; infrastructure failures get one redelivery.
func (c *PaymentConsumer) handle(ctx context.Context, body []byte, redelivered bool) verdict {
	var ev PaymentCompletedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		logrus.WithError(err).Error("payment consumer: malformed message")
		return reject
	}
	log := logrus.WithFields(logrus.Fields{
		"idempotency_key": ev.IdempotencyKey,
		"user_id":         ev.UserID,
		"ticket_id":       ev.TicketID,
	})

	ut, err := c.issuer.Issue(ctx, service.IssueRequest{
		IdempotencyKey: ev.IdempotencyKey,
		UserID:         ev.UserID,
		TicketID:       ev.TicketID,
		AcademyID:      ev.AcademyID,
		Amount:         ev.Amount,
		PaidAt:         ev.PaidAt,
	})
	switch {
	case err == nil:
		log.WithField("user_ticket_id", ut.ID).Info("payment consumer: ticket issued")
		return ack
	case errors.Is(err, service.ErrDuplicateIssuance):
		log.Info("payment consumer: payment already issued")
		return ack
	case service.KindOf(err) != "":
		log.WithError(err).Warn("payment consumer: payment rejected")
		return reject
	case redelivered:
		log.WithError(err).Error("payment consumer: issue failed again, dropping")
		return reject
	default:
		log.WithError(err).Error("payment consumer: issue failed, requeueing")
		return requeue
	}
}
