// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ticks

import (
	"math"
	"testing"
	"time"
)

const referenceValue Ticks = 637669683993391278

var referenceTime = time.Date(2021, 9, 11, 14, 46, 39, 339127800, time.UTC)

func TestFromTime(t *testing.T) {
	if got := FromTime(referenceTime); got != referenceValue {
		t.Fatalf("FromTime = %d, want %d", got, referenceValue)
	}
}

func TestToTime(t *testing.T) {
	if got := referenceValue.ToTime(); !got.Equal(referenceTime) {
		t.Fatalf("ToTime = %v, want %v", got, referenceTime)
	}
}

func TestRoundTripTruncatesTo100ns(t *testing.T) {
	instants := []time.Time{
		time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2000, 2, 29, 23, 59, 59, 999999999, time.UTC),
		time.Date(2038, 1, 19, 3, 14, 8, 123456789, time.UTC),
		time.Date(1899, 12, 31, 12, 0, 0, 50, time.UTC),
		time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, instant := range instants {
		truncated := instant.Truncate(100 * time.Nanosecond)
		got := FromTime(instant).ToTime()
		if !got.Equal(truncated) {
			t.Errorf("round trip of %v = %v, want %v", instant, got, truncated)
		}
	}
}

func TestUnixBaseOffset(t *testing.T) {
	epoch := time.Unix(0, 0).UTC()
	if got := FromTime(epoch); uint64(got) != UnixBaseOffset {
		t.Fatalf("FromTime(unix epoch) = %d, want %d", got, UnixBaseOffset)
	}
	if got := Ticks(UnixBaseOffset).ToTime(); !got.Equal(epoch) {
		t.Fatalf("ToTime(UnixBaseOffset) = %v, want %v", got, epoch)
	}
}

func TestPreUnixEpochDoesNotWrap(t *testing.T) {
	value := Ticks(UnixBaseOffset - PerDay)
	want := time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC)
	if got := value.ToTime(); !got.Equal(want) {
		t.Fatalf("ToTime = %v, want %v", got, want)
	}
}

func TestFromTimeSaturates(t *testing.T) {
	beforeEpoch := time.Date(0, 12, 31, 0, 0, 0, 0, time.UTC)
	if got := FromTime(beforeEpoch); got != 0 {
		t.Errorf("FromTime(year 0) = %d, want 0", got)
	}
	farFuture := time.Date(20000, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := FromTime(farFuture); uint64(got) != ValueMask {
		t.Errorf("FromTime(year 20000) = %d, want ValueMask", got)
	}
}

func TestDurationConversions(t *testing.T) {
	if got := FromDuration(1500 * time.Millisecond); uint64(got) != 15*PerSecond/10 {
		t.Errorf("FromDuration(1.5s) = %d", got)
	}
	if got := FromDuration(-time.Second); got != 0 {
		t.Errorf("FromDuration(-1s) = %d, want 0", got)
	}
	if got := Ticks(PerSecond).ToDuration(); got != time.Second {
		t.Errorf("ToDuration(PerSecond) = %v, want 1s", got)
	}
	if got := referenceValue.ToDuration(); got != time.Duration(math.MaxInt64) {
		t.Errorf("ToDuration of a calendar value = %v, want saturation", got)
	}
}

func TestLeapSecondFlags(t *testing.T) {
	value := referenceValue
	if value.IsLeapSecond() {
		t.Fatal("reference value unexpectedly flagged as leap second")
	}

	leap := value.SetLeapSecond()
	if !leap.IsLeapSecond() {
		t.Fatal("SetLeapSecond did not set the flag")
	}
	if leap.IsNegativeLeapSecond() {
		t.Fatal("SetLeapSecond set the direction bit")
	}
	if leap.TimestampValue() != value.TimestampValue() {
		t.Fatalf("SetLeapSecond changed the time value: %d != %d", leap.TimestampValue(), value.TimestampValue())
	}
	if uint64(leap) != uint64(value)|LeapSecondFlag {
		t.Fatalf("SetLeapSecond = %#x", uint64(leap))
	}
	if leap.SetLeapSecond() != leap {
		t.Fatal("SetLeapSecond is not idempotent")
	}

	negative := value.SetNegativeLeapSecond()
	if !negative.IsNegativeLeapSecond() || !negative.IsLeapSecond() {
		t.Fatal("SetNegativeLeapSecond did not set both flags")
	}
	if uint64(negative) != uint64(value)|LeapSecondFlag|LeapSecondDirection {
		t.Fatalf("SetNegativeLeapSecond = %#x", uint64(negative))
	}
	if !negative.ToTime().Equal(referenceTime) {
		t.Fatal("flag bits leaked into ToTime")
	}

	// Setters never clear bits.
	if negative.SetLeapSecond() != negative {
		t.Fatal("SetLeapSecond cleared the direction bit")
	}
}

func TestApplyLeapSecondInPlace(t *testing.T) {
	value := referenceValue
	value.ApplyLeapSecond()
	if !value.IsLeapSecond() {
		t.Fatal("ApplyLeapSecond did not flag the value")
	}
	value.ApplyNegativeLeapSecond()
	if !value.IsNegativeLeapSecond() {
		t.Fatal("ApplyNegativeLeapSecond did not flag the value")
	}
}

func TestDirectionBitAloneIsNotNegativeLeapSecond(t *testing.T) {
	value := referenceValue | Ticks(LeapSecondDirection)
	if value.IsNegativeLeapSecond() {
		t.Fatal("direction bit without the leap second flag reported as negative leap second")
	}
}

func TestStrings(t *testing.T) {
	if got := referenceValue.String(); got != "2021-09-11 14:46:39.339127800" {
		t.Errorf("String = %q", got)
	}
	if got := referenceValue.ShortString(); got != "14:46:39.339" {
		t.Errorf("ShortString = %q", got)
	}
}

func TestPerMillisecond(t *testing.T) {
	if PerMillisecond != 10_000 {
		t.Fatalf("PerMillisecond = %d, want 10000", PerMillisecond)
	}
}
