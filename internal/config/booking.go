package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// BookingConfig tunes the booking pipeline and its messaging.
type BookingConfig struct {
	MaxAttempts    uint          `env:"BOOKING_MAX_ATTEMPTS"    envDefault:"3"`
	BackoffInitial time.Duration `env:"BOOKING_BACKOFF_INITIAL" envDefault:"20ms"`
	BackoffMax     time.Duration `env:"BOOKING_BACKOFF_MAX"     envDefault:"250ms"`
	MaxSpanDays    int           `env:"SCHEDULE_MAX_SPAN_DAYS"  envDefault:"366"`

	PaymentQueue    string `env:"AMQP_PAYMENT_QUEUE"    envDefault:"payment.completed"`
	ConsumePayments bool   `env:"AMQP_CONSUME_PAYMENTS" envDefault:"true"`
	PublishEvents   bool   `env:"AMQP_BOOKING_EVENTS"   envDefault:"true"`
}

// LoadBooking parses the booking settings and rejects unusable values.
func LoadBooking() (BookingConfig, error) {
	var cfg BookingConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse booking env: %w", err)
	}
	if cfg.MaxAttempts == 0 {
		return cfg, fmt.Errorf("BOOKING_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		return cfg, fmt.Errorf("BOOKING_BACKOFF_MAX (%s) is below BOOKING_BACKOFF_INITIAL (%s)", cfg.BackoffMax, cfg.BackoffInitial)
	}
	if cfg.MaxSpanDays < 1 {
		return cfg, fmt.Errorf("SCHEDULE_MAX_SPAN_DAYS must be positive")
	}
	return cfg, nil
}
