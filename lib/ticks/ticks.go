// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ticks

import (
	"math"
	"time"
)

// Ticks is a 64-bit timestamp counting 100-nanosecond intervals since
// 0001-01-01 00:00:00 UTC (proleptic Gregorian). Bits 0-61 carry the
// time value. Bit 63 marks a leap second (second 60) and bit 62 gives
// the leap second direction: clear for an added second, set for a
// deleted one.
//
// Arithmetic on Ticks operates on the raw 64-bit value. Mask flag bits
// with TimestampValue before adding, subtracting or scaling.
type Ticks uint64

const (
	// PerSecond is the number of ticks in one second.
	PerSecond uint64 = 10_000_000

	// PerMillisecond is the number of ticks in one millisecond.
	PerMillisecond uint64 = PerSecond / 1_000

	// PerMicrosecond is the number of ticks in one microsecond.
	PerMicrosecond uint64 = PerSecond / 1_000_000

	// PerMinute is the number of ticks in one minute.
	PerMinute uint64 = 60 * PerSecond

	// PerHour is the number of ticks in one hour.
	PerHour uint64 = 60 * PerMinute

	// PerDay is the number of ticks in one day.
	PerDay uint64 = 24 * PerHour

	// LeapSecondFlag marks a value as a leap second, i.e. second 60.
	LeapSecondFlag uint64 = 1 << 63

	// LeapSecondDirection is set for a deleted (negative) leap second
	// and clear for an added one.
	LeapSecondDirection uint64 = 1 << 62

	// ValueMask selects the time portion of a Ticks value.
	ValueMask uint64 = ^(LeapSecondFlag | LeapSecondDirection)

	// UnixBaseOffset is 1970-01-01 00:00:00 UTC expressed in ticks.
	UnixBaseOffset uint64 = 621_355_968_000_000_000
)

// unixEpochSeconds is the number of seconds between the tick epoch and
// the Unix epoch.
const unixEpochSeconds = int64(UnixBaseOffset / PerSecond)

// New wraps a raw 64-bit value, flag bits included.
func New(value uint64) Ticks { return Ticks(value) }

// TimestampValue returns the time portion of t with both leap second
// bits cleared.
func (t Ticks) TimestampValue() uint64 { return uint64(t) & ValueMask }

// FromTime converts a calendar time to ticks. Sub-100ns precision is
// truncated. Instants before the tick epoch saturate to zero and
// instants past the representable range saturate to ValueMask.
func FromTime(value time.Time) Ticks {
	seconds := value.Unix() + unixEpochSeconds
	if seconds < 0 {
		return 0
	}
	if uint64(seconds) > ValueMask/PerSecond {
		return Ticks(ValueMask)
	}
	result := uint64(seconds)*PerSecond + uint64(value.Nanosecond())/100
	if result > ValueMask {
		return Ticks(ValueMask)
	}
	return Ticks(result)
}

// ToTime converts the time portion of t to a UTC calendar time. The
// conversion is computed in signed seconds relative to the Unix epoch,
// so values before 1970 convert exactly.
func (t Ticks) ToTime() time.Time {
	value := t.TimestampValue()
	seconds := int64(value/PerSecond) - unixEpochSeconds
	nanoseconds := int64(value%PerSecond) * 100
	return time.Unix(seconds, nanoseconds).UTC()
}

// FromDuration converts an elapsed duration to a tick count. Negative
// durations yield zero.
func FromDuration(duration time.Duration) Ticks {
	if duration <= 0 {
		return 0
	}
	return Ticks(uint64(duration) / 100)
}

// ToDuration converts the time portion of t to an elapsed duration,
// saturating at the largest time.Duration.
func (t Ticks) ToDuration() time.Duration {
	value := t.TimestampValue()
	if value > math.MaxInt64/100 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(value * 100)
}

// IsLeapSecond reports whether t is flagged as a leap second.
func (t Ticks) IsLeapSecond() bool { return uint64(t)&LeapSecondFlag != 0 }

// SetLeapSecond returns a copy of t flagged as a leap second.
func (t Ticks) SetLeapSecond() Ticks { return t | Ticks(LeapSecondFlag) }

// ApplyLeapSecond flags t in place as a leap second.
func (t *Ticks) ApplyLeapSecond() { *t |= Ticks(LeapSecondFlag) }

// IsNegativeLeapSecond reports whether t is flagged as a deleted leap
// second: the flag is carried on second 58 to announce that second 59
// will be missing.
func (t Ticks) IsNegativeLeapSecond() bool {
	return t.IsLeapSecond() && uint64(t)&LeapSecondDirection != 0
}

// SetNegativeLeapSecond returns a copy of t flagged as a deleted leap
// second.
func (t Ticks) SetNegativeLeapSecond() Ticks {
	return t | Ticks(LeapSecondFlag|LeapSecondDirection)
}

// ApplyNegativeLeapSecond flags t in place as a deleted leap second.
func (t *Ticks) ApplyNegativeLeapSecond() {
	*t |= Ticks(LeapSecondFlag | LeapSecondDirection)
}

// Now returns the current time in ticks.
func Now() Ticks { return FromTime(time.Now()) }

// UTCNow returns the current UTC time in ticks. Ticks carry no zone, so
// this is the same instant as Now.
func UTCNow() Ticks { return FromTime(time.Now().UTC()) }

const (
	longLayout  = "2006-01-02 15:04:05.000000000"
	shortLayout = "15:04:05.000"
)

// String formats t as a full UTC timestamp, e.g.
// "2021-09-11 14:46:39.339127800".
func (t Ticks) String() string { return t.ToTime().Format(longLayout) }

// ShortString formats only the time of day with milliseconds, e.g.
// "14:46:39.339".
func (t Ticks) ShortString() string { return t.ToTime().Format(shortLayout) }
