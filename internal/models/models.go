// Package models provides the core data structures for market microstructure
// collection: normalized trades, hourly fetch windows, volume buckets and
// trading session ranges.
package models

import (
	"fmt"
	"math"
	"time"
)

// NormalizedTrade is a single trade reduced to the fields the collector
// cares about. Immutable once constructed.
type NormalizedTrade struct {
	TimestampMs int64   `json:"ts"`
	Qty         float64 `json:"qty"`
	Price       float64 `json:"price"`
}

// Valid reports whether the trade carries a finite, positive timestamp.
func (t NormalizedTrade) Valid() bool {
	return t.TimestampMs > 0 && !math.IsNaN(t.Qty) && !math.IsInf(t.Qty, 0)
}

// Time returns the trade timestamp as a UTC time.
func (t NormalizedTrade) Time() time.Time {
	return time.UnixMilli(t.TimestampMs).UTC()
}

// HourWindow is one exchange-local hour expressed as a half-open-inclusive
// millisecond range [StartMs, EndMs]. Windows covering the current hour are
// clipped to "now".
type HourWindow struct {
	StartMs int64
	EndMs   int64
}

// Contains reports whether ts falls inside the window, both ends inclusive.
func (w HourWindow) Contains(ts int64) bool {
	return ts >= w.StartMs && ts <= w.EndMs
}

// VolumeBucket is one slot of the volume distribution. RangeEnd of the
// overflow bucket is open-ended and only meaningful for display.
type VolumeBucket struct {
	RangeStart int64
	RangeEnd   int64
	Count      int
}

// SessionRange is a contiguous minute-of-day range, exchange-local,
// inclusive on both ends.
type SessionRange struct {
	StartMinute int
	EndMinute   int
}

// Validate checks that the range stays inside one day and does not invert.
func (s SessionRange) Validate() error {
	if s.StartMinute < 0 || s.EndMinute > 24*60-1 {
		return fmt.Errorf("session range [%d, %d] outside day bounds", s.StartMinute, s.EndMinute)
	}
	if s.EndMinute < s.StartMinute {
		return fmt.Errorf("session range [%d, %d] inverted", s.StartMinute, s.EndMinute)
	}
	return nil
}
