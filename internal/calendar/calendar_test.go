package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tde/go-alor-collector/internal/models"
)

// localMs builds a millisecond timestamp whose exchange-local (UTC+3)
// wall-clock reads as the given fields.
func localMs(year int, month time.Month, day, hour, min int) int64 {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC).Add(-3 * time.Hour).UnixMilli()
}

func TestAllowedHistoryMinute(t *testing.T) {
	cal := New(3)

	t.Run("boundaries", func(t *testing.T) {
		assert.True(t, cal.AllowedHistoryMinute(localMs(2024, time.March, 4, 9, 0)), "09:00 allowed")
		assert.True(t, cal.AllowedHistoryMinute(localMs(2024, time.March, 4, 23, 58)), "23:58 allowed")
		assert.False(t, cal.AllowedHistoryMinute(localMs(2024, time.March, 4, 23, 59)), "23:59 excluded")
		assert.False(t, cal.AllowedHistoryMinute(localMs(2024, time.March, 4, 8, 59)), "08:59 excluded")
	})

	t.Run("mid-session", func(t *testing.T) {
		assert.True(t, cal.AllowedHistoryMinute(localMs(2024, time.March, 4, 12, 30)))
		assert.True(t, cal.AllowedHistoryMinute(localMs(2024, time.March, 4, 22, 59)))
	})

	t.Run("overnight hours excluded", func(t *testing.T) {
		for h := 0; h < 9; h++ {
			assert.False(t, cal.AllowedHistoryMinute(localMs(2024, time.March, 4, h, 30)), "hour %d", h)
		}
	})

	t.Run("non-positive timestamp", func(t *testing.T) {
		assert.False(t, cal.AllowedHistoryMinute(0))
		assert.False(t, cal.AllowedHistoryMinute(-1))
	})
}

func TestSkipHour(t *testing.T) {
	cal := New(3)

	for h := 0; h < 24; h++ {
		got := cal.SkipHour(localMs(2024, time.March, 4, h, 0))
		if h < 9 {
			assert.True(t, got, "hour %d should be skipped", h)
		} else {
			assert.False(t, got, "hour %d should be requested", h)
		}
	}
}

func TestWithinSession(t *testing.T) {
	cal := New(3)
	sessions := []models.SessionRange{
		{StartMinute: 10 * 60, EndMinute: 14*60 - 1},    // 10:00-13:59
		{StartMinute: 14*60 + 5, EndMinute: 18*60 + 50}, // 14:05-18:50
	}

	assert.True(t, cal.WithinSession(localMs(2024, time.March, 4, 10, 0), sessions))
	assert.True(t, cal.WithinSession(localMs(2024, time.March, 4, 13, 59), sessions))
	assert.False(t, cal.WithinSession(localMs(2024, time.March, 4, 14, 0), sessions), "gap between sessions")
	assert.True(t, cal.WithinSession(localMs(2024, time.March, 4, 14, 5), sessions))
	assert.True(t, cal.WithinSession(localMs(2024, time.March, 4, 18, 50), sessions))
	assert.False(t, cal.WithinSession(localMs(2024, time.March, 4, 18, 51), sessions))
	assert.False(t, cal.WithinSession(localMs(2024, time.March, 4, 9, 59), sessions))
	assert.False(t, cal.WithinSession(localMs(2024, time.March, 4, 10, 0), nil), "no sessions configured")
}

func TestIsWeekend(t *testing.T) {
	cal := New(3)

	// 2024-03-04 is a Monday.
	assert.False(t, cal.IsWeekend(localMs(2024, time.March, 4, 12, 0)))
	assert.True(t, cal.IsWeekend(localMs(2024, time.March, 9, 12, 0)), "Saturday")
	assert.True(t, cal.IsWeekend(localMs(2024, time.March, 10, 12, 0)), "Sunday")
	assert.False(t, cal.IsWeekend(localMs(2024, time.March, 11, 12, 0)), "next Monday")
}

func TestOffsetConfigurable(t *testing.T) {
	utc := New(0)

	// 08:59 UTC is excluded for a UTC venue but would be 11:59 local for
	// the default +3 venue.
	ts := time.Date(2024, time.March, 4, 8, 59, 0, 0, time.UTC).UnixMilli()
	assert.False(t, utc.AllowedHistoryMinute(ts))
	assert.True(t, New(3).AllowedHistoryMinute(ts))
}

func TestFormatLocal(t *testing.T) {
	cal := New(3)
	ts := time.Date(2024, time.March, 4, 9, 5, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, "04.03.2024 12:05", cal.FormatLocal(ts))
}
