package codec

import (
	"time"
)

// Dates are stored as a day count from the engine epoch; times of day as a
// count of ticks since midnight.
const (
	TicksPerSecond      = 10000
	TicksPerMillisecond = TicksPerSecond / 1000
	nanosPerTick        = int64(time.Second) / TicksPerSecond
	secondsPerDay       = 24 * 60 * 60
)

// Epoch is day zero of the engine calendar.
var Epoch = time.Date(1858, time.November, 17, 0, 0, 0, 0, time.UTC)

// timeOfDayBase is the calendar date carried by decoded TIME values.
var timeOfDayBase = time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC)

// EncodeDate returns the day count of t's calendar date. The wall clock of t
// in its own location is used.
func EncodeDate(t time.Time) int32 {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int32((day.Unix() - Epoch.Unix()) / secondsPerDay)
}

// DecodeDate returns midnight UTC of the given day count.
func DecodeDate(days int32) time.Time {
	return Epoch.AddDate(0, 0, int(days))
}

// EncodeTime returns the tick count of t's time of day.
func EncodeTime(t time.Time) uint32 {
	secs := uint32(t.Hour()*3600 + t.Minute()*60 + t.Second())
	return secs*TicksPerSecond + uint32(int64(t.Nanosecond())/nanosPerTick)
}

// DecodeTime returns the time of day for a tick count, on 0000-01-01 UTC.
func DecodeTime(ticks uint32) time.Time {
	return timeOfDayBase.Add(time.Duration(int64(ticks) * nanosPerTick))
}

// DecodeTimestamp combines a day count and a tick count.
func DecodeTimestamp(days int32, ticks uint32) time.Time {
	return DecodeDate(days).Add(time.Duration(int64(ticks) * nanosPerTick))
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
	"15:04:05.999999999",
	"15:04",
}

// parseTime accepts the textual forms engines commonly hand back for date
// and time columns.
func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// textTimeLayout renders time values bound to text slots.
const textTimeLayout = "2006-01-02 15:04:05.9999"
