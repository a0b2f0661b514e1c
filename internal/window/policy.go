// Package window computes a candidate's exam completion deadline.
package window

import "time"

// DefaultDays is used when configuration leaves the window unset.
const DefaultDays = 3

// Policy is the configured exam window. Zero value uses DefaultDays.
type Policy struct {
	Days int
}

func New(days int) Policy {
	if days <= 0 {
		days = DefaultDays
	}
	return Policy{Days: days}
}

func (p Policy) days() int {
	if p.Days <= 0 {
		return DefaultDays
	}
	return p.Days
}

// Expiry returns examStartAt + windowDays.
func (p Policy) Expiry(examStartAt time.Time) time.Time {
	return Expiry(examStartAt, p.days())
}

// IsExpired reports whether now is past the window that opened at examStartAt.
// A zero examStartAt means the window has not started yet.
func (p Policy) IsExpired(now, examStartAt time.Time) bool {
	if examStartAt.IsZero() {
		return false
	}
	return IsExpired(now, examStartAt, p.days())
}

// Remaining is the time left before expiry, clamped at zero.
func (p Policy) Remaining(now, examStartAt time.Time) time.Duration {
	if examStartAt.IsZero() {
		return time.Duration(p.days()) * 24 * time.Hour
	}
	d := p.Expiry(examStartAt).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func Expiry(examStartAt time.Time, windowDays int) time.Time {
	return examStartAt.Add(time.Duration(windowDays) * 24 * time.Hour)
}

func IsExpired(now, examStartAt time.Time, windowDays int) bool {
	return now.After(Expiry(examStartAt, windowDays))
}
