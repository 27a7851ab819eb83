// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/bureau-foundation/sttp/lib/ticks"
)

func newTestCache() *SignalIndexCache {
	cache := NewSignalIndexCache()
	cache.addRecord(7, testSignalA, "DEVICE1", 42)
	cache.addRecord(8, testSignalB, "DEVICE1", 43)
	return cache
}

// baseTime is an arbitrary whole-second tick value used as base offset.
const baseTime = 637669683990000000

func TestCompactBinaryLength(t *testing.T) {
	offsets := &BaseTimeOffsets{baseTime, baseTime + ticks.PerMinute}

	tests := []struct {
		name         string
		offsets      *BaseTimeOffsets
		includeTime  bool
		milliseconds bool
		timeIndex    int
		timestamp    uint64
		wantLength   int
		wantOffset   bool
	}{
		{"no time", offsets, false, false, 0, baseTime + 1, 9, false},
		{"no base offset", &BaseTimeOffsets{}, true, false, 0, baseTime + 1, 17, false},
		{"nil offset table", nil, true, false, 0, baseTime + 1, 17, false},
		{"tick offset", offsets, true, false, 0, baseTime + 12345, 13, true},
		{"millisecond offset", offsets, true, true, 0, baseTime + 250*ticks.PerMillisecond, 11, true},
		{"equal to base", offsets, true, false, 0, baseTime, 17, false},
		{"before base", offsets, true, false, 0, baseTime - 1, 17, false},
		{"tick offset overflow", offsets, true, false, 0, baseTime + math.MaxUint32, 17, false},
		{"millisecond offset overflow", offsets, true, true, 0, baseTime + math.MaxUint16*ticks.PerMillisecond, 17, false},
		{"second slot", offsets, true, false, 1, baseTime + ticks.PerMinute + 10, 13, true},
		{"second slot before its base", offsets, true, false, 1, baseTime + 10, 17, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			measurement := NewCompactMeasurement(newTestCache(), test.offsets, test.includeTime, test.milliseconds)
			measurement.SetTimeIndex(test.timeIndex)
			measurement.SetTimestamp(ticks.New(test.timestamp))

			if got := measurement.BinaryLength(); got != test.wantLength {
				t.Errorf("BinaryLength = %d, want %d", got, test.wantLength)
			}
			gotOffset := measurement.CompactStateFlags()&compactBaseTimeOffset != 0
			if gotOffset != test.wantOffset {
				t.Errorf("base time offset used = %v, want %v", gotOffset, test.wantOffset)
			}
		})
	}
}

func TestCompactRoundTrip(t *testing.T) {
	offsets := &BaseTimeOffsets{baseTime, baseTime + ticks.PerMinute}
	leap := ticks.New(baseTime + 5*ticks.PerSecond).SetLeapSecond()

	tests := []struct {
		name         string
		offsets      *BaseTimeOffsets
		milliseconds bool
		timeIndex    int
		timestamp    ticks.Ticks
		flags        StateFlags
		wantLength   int
	}{
		{"absolute", &BaseTimeOffsets{}, false, 0, ticks.New(baseTime + 123), Normal, 17},
		{"tick offset", offsets, false, 0, ticks.New(baseTime + 98765), DataQualityMask, 13},
		{"millisecond offset", offsets, true, 0, ticks.New(baseTime + 1500*ticks.PerMillisecond), TimeQualityMask, 11},
		{"second slot", offsets, false, 1, ticks.New(baseTime + ticks.PerMinute + 7), SystemIssueMask | CalculatedValue, 13},
		{"leap second absolute", &BaseTimeOffsets{}, false, 0, leap, DiscardedValue, 17},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cache := newTestCache()
			source := NewCompactMeasurement(cache, test.offsets, true, test.milliseconds)
			source.SetSignalID(testSignalB)
			source.SetValue(59.987)
			source.SetTimestamp(test.timestamp)
			source.SetFlags(test.flags)
			source.SetTimeIndex(test.timeIndex)

			encoded, err := source.AppendBinary(nil)
			if err != nil {
				t.Fatalf("AppendBinary: %v", err)
			}
			if len(encoded) != test.wantLength {
				t.Fatalf("encoded length = %d, want %d", len(encoded), test.wantLength)
			}

			// Trailing bytes belong to the next measurement.
			encoded = append(encoded, 0xAA, 0xBB)

			decoded := NewCompactMeasurement(cache, test.offsets, true, test.milliseconds)
			consumed, err := decoded.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if consumed != test.wantLength {
				t.Errorf("consumed = %d, want %d", consumed, test.wantLength)
			}
			if decoded.SignalID() != testSignalB {
				t.Errorf("signal ID = %s, want %s", decoded.SignalID(), testSignalB)
			}
			if decoded.Value() != float64(float32(59.987)) {
				t.Errorf("value = %v, want %v", decoded.Value(), float64(float32(59.987)))
			}
			if decoded.Timestamp() != test.timestamp {
				t.Errorf("timestamp = %d, want %d", decoded.Timestamp(), test.timestamp)
			}
			if decoded.Flags() != test.flags {
				t.Errorf("flags = %s, want %s", decoded.Flags(), test.flags)
			}
			if decoded.TimeIndex() != test.timeIndex {
				t.Errorf("time index = %d, want %d", decoded.TimeIndex(), test.timeIndex)
			}
		})
	}
}

func TestCompactRoundTripWithoutTime(t *testing.T) {
	cache := newTestCache()
	source := NewCompactMeasurement(cache, nil, false, false)
	source.SetSignalID(testSignalA)
	source.SetValue(-1.25)
	source.SetTimestamp(ticks.New(baseTime))

	encoded, err := source.AppendBinary(nil)
	if err != nil {
		t.Fatalf("AppendBinary: %v", err)
	}
	if len(encoded) != compactFixedLength {
		t.Fatalf("encoded length = %d, want %d", len(encoded), compactFixedLength)
	}

	decoded := NewCompactMeasurement(cache, nil, false, false)
	consumed, err := decoded.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if consumed != compactFixedLength || decoded.Value() != -1.25 || decoded.Timestamp() != 0 {
		t.Fatalf("decoded %d bytes: %s", consumed, decoded)
	}
}

func TestCompactMillisecondResolutionTruncates(t *testing.T) {
	cache := newTestCache()
	offsets := &BaseTimeOffsets{baseTime, 0}
	source := NewCompactMeasurement(cache, offsets, true, true)
	source.SetSignalID(testSignalA)
	source.SetTimestamp(ticks.New(baseTime + 42*ticks.PerMillisecond + 9999))

	if got := source.TimestampC2(); got != 42 {
		t.Fatalf("TimestampC2 = %d, want 42", got)
	}

	encoded, err := source.AppendBinary(nil)
	if err != nil {
		t.Fatalf("AppendBinary: %v", err)
	}
	decoded := NewCompactMeasurement(cache, offsets, true, true)
	if _, err := decoded.Decode(encoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if want := ticks.New(baseTime + 42*ticks.PerMillisecond); decoded.Timestamp() != want {
		t.Fatalf("timestamp = %d, want %d", decoded.Timestamp(), want)
	}
}

func TestCompactDecodeShortBuffer(t *testing.T) {
	measurement := NewCompactMeasurement(newTestCache(), nil, true, false)
	for length := 0; length < compactFixedLength; length++ {
		_, err := measurement.Decode(make([]byte, length))
		if !IsDecodeError(err) {
			t.Fatalf("Decode of %d bytes = %v, want *DecodeError", length, err)
		}
	}
}

func TestCompactDecodeTruncatedTimestamp(t *testing.T) {
	cache := newTestCache()
	offsets := &BaseTimeOffsets{baseTime, 0}

	absolute := []byte{0x00, 0, 0, 0, 7, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7}
	if _, err := NewCompactMeasurement(cache, offsets, true, false).Decode(absolute); !IsDecodeError(err) {
		t.Errorf("7-byte absolute timestamp: err = %v, want *DecodeError", err)
	}

	offset := []byte{compactBaseTimeOffset, 0, 0, 0, 7, 0, 0, 0, 0, 1, 2, 3}
	if _, err := NewCompactMeasurement(cache, offsets, true, false).Decode(offset); !IsDecodeError(err) {
		t.Errorf("3-byte tick offset: err = %v, want *DecodeError", err)
	}

	milliseconds := []byte{compactBaseTimeOffset, 0, 0, 0, 7, 0, 0, 0, 0, 1}
	if _, err := NewCompactMeasurement(cache, offsets, true, true).Decode(milliseconds); !IsDecodeError(err) {
		t.Errorf("1-byte millisecond offset: err = %v, want *DecodeError", err)
	}
}

func TestCompactDecodeUnknownRuntimeID(t *testing.T) {
	buffer := []byte{0x00, 0x00, 0x00, 0x03, 0xE7, 0x3F, 0x80, 0x00, 0x00}
	measurement := NewCompactMeasurement(newTestCache(), nil, false, false)
	if _, err := measurement.Decode(buffer); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if measurement.SignalID() != uuid.Nil {
		t.Fatalf("signal ID = %s, want nil", measurement.SignalID())
	}
	if measurement.Value() != 1.0 {
		t.Fatalf("value = %v, want 1", measurement.Value())
	}
}

func TestCompactAppendBinaryUnknownSignal(t *testing.T) {
	measurement := NewCompactMeasurement(newTestCache(), nil, true, false)
	measurement.SetSignalID(testSignalC)
	if _, err := measurement.AppendBinary(nil); !errors.Is(err, ErrUnknownSignal) {
		t.Fatalf("AppendBinary = %v, want ErrUnknownSignal", err)
	}

	detached := NewCompactMeasurement(nil, nil, true, false)
	detached.SetSignalID(testSignalA)
	if _, err := detached.AppendBinary(nil); !errors.Is(err, ErrUnknownSignal) {
		t.Fatalf("AppendBinary without cache = %v, want ErrUnknownSignal", err)
	}
}

func TestCompactRuntimeID(t *testing.T) {
	measurement := NewCompactMeasurement(newTestCache(), nil, true, false)
	measurement.SetRuntimeID(8)
	if measurement.SignalID() != testSignalB {
		t.Fatalf("SetRuntimeID(8) resolved %s", measurement.SignalID())
	}
	if got := measurement.RuntimeID(); got != 8 {
		t.Fatalf("RuntimeID = %d, want 8", got)
	}
	measurement.SetSignalID(testSignalC)
	if got := measurement.RuntimeID(); got != -1 {
		t.Fatalf("RuntimeID of unknown signal = %d, want -1", got)
	}
}

func TestCompactStateFlagsTransportBits(t *testing.T) {
	measurement := NewCompactMeasurement(nil, nil, true, false)
	measurement.SetCompactStateFlags(compactTimeIndex | compactBaseTimeOffset | compactDataRange)
	if measurement.TimeIndex() != 1 {
		t.Fatalf("time index = %d, want 1", measurement.TimeIndex())
	}
	if measurement.Flags() != DataRangeMask {
		t.Fatalf("flags = %s, want data range group", measurement.Flags())
	}
	if got := measurement.CompactStateFlags(); got != compactTimeIndex|compactBaseTimeOffset|compactDataRange {
		t.Fatalf("CompactStateFlags = %#02x", got)
	}
}

func TestMeasurementString(t *testing.T) {
	measurement := NewBasicMeasurement(testSignalA, 59.98765, ticks.New(637669683993391278), AlarmHigh)
	want := "11111111-2222-3333-4444-555555555555 @ 14:46:39.339 = 59.988 (AlarmHigh)"
	if got := measurement.String(); got != want {
		t.Fatalf("String = %q, want %q", got, want)
	}
	if got := Snapshot(measurement).String(); got != want {
		t.Fatalf("Snapshot String = %q, want %q", got, want)
	}
}

func TestSnapshotOfDecodedMeasurement(t *testing.T) {
	cache := newTestCache()
	offsets := &BaseTimeOffsets{baseTime, baseTime + ticks.PerMinute}

	source := NewCompactMeasurement(cache, offsets, true, false)
	source.SetSignalID(testSignalB)
	source.SetValue(-12.5)
	source.SetTimestamp(ticks.New(baseTime + 4321))
	source.SetFlags(AlarmHigh)
	data, err := source.AppendBinary(nil)
	if err != nil {
		t.Fatalf("AppendBinary: %v", err)
	}

	decoded := NewCompactMeasurement(cache, offsets, true, false)
	if _, err := decoded.Decode(data); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	snapshot := Snapshot(decoded)
	if snapshot.SignalID() != testSignalB || snapshot.Value() != -12.5 ||
		snapshot.Timestamp() != ticks.New(baseTime+4321) || snapshot.Flags() != AlarmHigh {
		t.Fatalf("snapshot = %s, want the decoded fields of %s", snapshot, decoded)
	}
}

func TestCompactTransportBitPositions(t *testing.T) {
	offsets := &BaseTimeOffsets{baseTime, baseTime + ticks.PerMinute}
	tests := []struct {
		name      string
		timeIndex int
		timestamp uint64
		want      byte
	}{
		{"full timestamp", 0, baseTime - 1, 0x00},
		{"offset from slot 0", 0, baseTime + 10, 0x40},
		{"offset from slot 1", 1, baseTime + ticks.PerMinute + 10, 0xC0},
		{"slot 1 without offset", 1, baseTime + 10, 0x80},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			measurement := NewCompactMeasurement(newTestCache(), offsets, true, false)
			measurement.SetSignalID(testSignalA)
			measurement.SetTimeIndex(test.timeIndex)
			measurement.SetTimestamp(ticks.New(test.timestamp))
			data, err := measurement.AppendBinary(nil)
			if err != nil {
				t.Fatalf("AppendBinary: %v", err)
			}
			if got := data[0] & 0xC0; got != test.want {
				t.Errorf("transport bits = %#02x, want %#02x", got, test.want)
			}
		})
	}
}
