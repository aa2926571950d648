package service

import "time"

// Settings carries the tunables shared by the catalog, the ledger and the
// booking coordinator. Zero fields fall back to the defaults below.
type Settings struct {
	// Location is the academy time zone used to derive civil dates.
	Location *time.Location
	// Now is the clock; tests replace it.
	Now func() time.Time

	MaxSpanDays    int
	MaxAttempts    uint
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

const (
	defaultMaxSpanDays    = 366
	defaultMaxAttempts    = 3
	defaultBackoffInitial = 20 * time.Millisecond
	defaultBackoffMax     = 250 * time.Millisecond
)

func (s Settings) withDefaults() Settings {
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.MaxSpanDays <= 0 {
		s.MaxSpanDays = defaultMaxSpanDays
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = defaultMaxAttempts
	}
	if s.BackoffInitial <= 0 {
		s.BackoffInitial = defaultBackoffInitial
	}
	if s.BackoffMax < s.BackoffInitial {
		s.BackoffMax = defaultBackoffMax
		if s.BackoffMax < s.BackoffInitial {
			s.BackoffMax = s.BackoffInitial
		}
	}
	return s
}
