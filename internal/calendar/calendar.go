// Package calendar answers trading-schedule questions in exchange-local time.
//
// All predicates are pure functions over millisecond timestamps. The exchange
// offset is fixed per deployment (MOEX is UTC+3); it is configurable rather
// than hardcoded so the same code serves other venues.
package calendar

import (
	"time"

	"github.com/tde/go-alor-collector/internal/models"
)

const (
	// sessionOpenHour is the first exchange-local hour that can contain
	// history data. Hours before it are skipped without a request.
	sessionOpenHour = 9

	// lastAllowedMinute is the final accepted minute of the 23:00 hour.
	// 23:59 is excluded by exchange convention.
	lastAllowedMinute = 58
)

// Calendar evaluates trading-schedule predicates for one exchange.
type Calendar struct {
	offset time.Duration
}

// New creates a calendar with the given exchange UTC offset in hours.
func New(offsetHours int) *Calendar {
	return &Calendar{offset: time.Duration(offsetHours) * time.Hour}
}

// localTime shifts ts into exchange-local wall-clock time.
func (c *Calendar) localTime(tsMs int64) time.Time {
	return time.UnixMilli(tsMs).UTC().Add(c.offset)
}

// AllowedHistoryMinute reports whether a trade timestamp passes the
// minute-level history filter: local time in [09:00, 23:58]. The asymmetric
// one-minute-before-midnight cutoff is an exchange convention.
func (c *Calendar) AllowedHistoryMinute(tsMs int64) bool {
	if tsMs <= 0 {
		return false
	}
	local := c.localTime(tsMs)
	h := local.Hour()
	if h < sessionOpenHour {
		return false
	}
	if h < 23 {
		return true
	}
	return local.Minute() <= lastAllowedMinute
}

// SkipHour reports whether an hourly window starting at hourStartMs contains
// no tradable minutes and should not be requested at all. Independent of the
// minute filter applied to results.
func (c *Calendar) SkipHour(hourStartMs int64) bool {
	return c.localTime(hourStartMs).Hour() < sessionOpenHour
}

// WithinSession reports whether the local minute-of-day of tsMs falls in any
// configured session range, inclusive on both ends.
func (c *Calendar) WithinSession(tsMs int64, sessions []models.SessionRange) bool {
	local := c.localTime(tsMs)
	minute := local.Hour()*60 + local.Minute()
	for _, s := range sessions {
		if minute >= s.StartMinute && minute <= s.EndMinute {
			return true
		}
	}
	return false
}

// IsWeekend reports whether the exchange-local calendar day of tsMs is a
// Saturday or Sunday. Used only for working-day stepping.
func (c *Calendar) IsWeekend(tsMs int64) bool {
	switch c.localTime(tsMs).Weekday() {
	case time.Saturday, time.Sunday:
		return true
	default:
		return false
	}
}

// FormatLocal renders tsMs as "dd.MM.yyyy HH:mm" exchange-local, matching
// the operator-facing log format.
func (c *Calendar) FormatLocal(tsMs int64) string {
	return c.localTime(tsMs).Format("02.01.2006 15:04")
}
