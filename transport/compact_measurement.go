// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/sttp/lib/ticks"
)

// BaseTimeOffsets holds the two rolling base timestamps the publisher
// announces with UpdateBaseTimes. Compact timestamps are encoded as an
// offset from the slot selected by the measurement's time index. A zero
// slot means no base time is available.
type BaseTimeOffsets [2]uint64

// compactFixedLength is flags, runtime ID and value.
const compactFixedLength = 9

const compactMeasurementName = "compact measurement"

// CompactMeasurement is the shortened wire form of a measurement: a
// runtime index resolved through a SignalIndexCache replaces the signal
// ID, a single-precision value replaces the double, and the timestamp
// is optionally delta-encoded against a base time offset.
//
// Wire layout, big-endian:
//
//	[0]     compact flags (six quality groups, base-offset bit, time-index bit)
//	[1..5)  runtime signal index, i32
//	[5..9)  value, float32
//	[9..)   timestamp when included: u16 milliseconds or u32 ticks past
//	        the base time offset, otherwise the full u64 tick value
//
// The cache and offset table are shared with the owning connection and
// are never modified through a CompactMeasurement.
type CompactMeasurement struct {
	signalID  uuid.UUID
	value     float64
	timestamp ticks.Ticks
	flags     StateFlags

	cache                    *SignalIndexCache
	baseTimeOffsets          *BaseTimeOffsets
	includeTime              bool
	useMillisecondResolution bool
	timeIndex                int

	// usingBaseTimeOffset is computed by BinaryLength when encoding and
	// read from the flags byte when decoding.
	usingBaseTimeOffset bool
}

// NewCompactMeasurement returns a measurement bound to cache and
// baseTimeOffsets. Either may be nil: a nil cache resolves nothing and
// a nil offset table behaves as two zero slots.
func NewCompactMeasurement(cache *SignalIndexCache, baseTimeOffsets *BaseTimeOffsets, includeTime, useMillisecondResolution bool) *CompactMeasurement {
	return &CompactMeasurement{
		cache:                    cache,
		baseTimeOffsets:          baseTimeOffsets,
		includeTime:              includeTime,
		useMillisecondResolution: useMillisecondResolution,
	}
}

// IncludeTime reports whether the timestamp is part of the wire form.
func (m *CompactMeasurement) IncludeTime() bool { return m.includeTime }

// TimeIndex returns the active base time slot, 0 or 1.
func (m *CompactMeasurement) TimeIndex() int { return m.timeIndex }

// SetTimeIndex selects the base time slot used for encoding. Any
// non-zero value selects slot 1.
func (m *CompactMeasurement) SetTimeIndex(index int) {
	if index != 0 {
		m.timeIndex = 1
	} else {
		m.timeIndex = 0
	}
}

func (m *CompactMeasurement) baseTimeOffset() uint64 {
	if m.baseTimeOffsets == nil {
		return 0
	}
	return m.baseTimeOffsets[m.timeIndex]
}

// BinaryLength returns the encoded size and decides whether the
// timestamp can be written as an offset from the active base time. It
// must be called before the timestamp is encoded.
func (m *CompactMeasurement) BinaryLength() int {
	m.usingBaseTimeOffset = false
	if !m.includeTime {
		return compactFixedLength
	}

	base := m.baseTimeOffset()
	value := m.timestamp.TimestampValue()
	if base > 0 && value > base {
		difference := value - base
		if m.useMillisecondResolution {
			m.usingBaseTimeOffset = difference/ticks.PerMillisecond < math.MaxUint16
		} else {
			m.usingBaseTimeOffset = difference < math.MaxUint32
		}
	}

	switch {
	case !m.usingBaseTimeOffset:
		return compactFixedLength + 8
	case m.useMillisecondResolution:
		return compactFixedLength + 2
	default:
		return compactFixedLength + 4
	}
}

// TimestampC2 returns the millisecond offset from the active base time.
func (m *CompactMeasurement) TimestampC2() uint16 {
	return uint16((m.timestamp.TimestampValue() - m.baseTimeOffset()) / ticks.PerMillisecond)
}

// TimestampC4 returns the tick offset from the active base time.
func (m *CompactMeasurement) TimestampC4() uint32 {
	return uint32(m.timestamp.TimestampValue() - m.baseTimeOffset())
}

// CompactStateFlags returns the wire flags byte: the quality group
// projection plus the time-index and base-offset bits.
func (m *CompactMeasurement) CompactStateFlags() byte {
	flags := flagsToCompact(m.flags)
	if m.timeIndex != 0 {
		flags |= compactTimeIndex
	}
	if m.usingBaseTimeOffset {
		flags |= compactBaseTimeOffset
	}
	return flags
}

// SetCompactStateFlags applies a wire flags byte: quality groups expand
// to their full masks and the two transport bits set the time index and
// base-offset state.
func (m *CompactMeasurement) SetCompactStateFlags(value byte) {
	m.flags = compactToFlags(value)
	if value&compactTimeIndex != 0 {
		m.timeIndex = 1
	} else {
		m.timeIndex = 0
	}
	m.usingBaseTimeOffset = value&compactBaseTimeOffset != 0
}

// RuntimeID returns the cache index of the measurement's signal ID, or
// -1 when the cache does not know it.
func (m *CompactMeasurement) RuntimeID() int32 {
	if m.cache == nil {
		return -1
	}
	return m.cache.SignalIndex(m.signalID)
}

// SetRuntimeID resolves signalIndex through the cache. An unknown index
// yields uuid.Nil.
func (m *CompactMeasurement) SetRuntimeID(signalIndex int32) {
	if m.cache == nil {
		m.signalID = uuid.Nil
		return
	}
	m.signalID = m.cache.SignalID(signalIndex)
}

// Decode parses one measurement from the front of buffer and returns
// the number of bytes consumed, so a caller can walk a batch of
// concatenated measurements.
func (m *CompactMeasurement) Decode(buffer []byte) (int, error) {
	if len(buffer) < compactFixedLength {
		return 0, truncated(compactMeasurementName, 0, compactFixedLength, len(buffer))
	}

	m.SetCompactStateFlags(buffer[0])
	m.SetRuntimeID(int32(binary.BigEndian.Uint32(buffer[1:5])))
	m.value = float64(math.Float32frombits(binary.BigEndian.Uint32(buffer[5:9])))
	index := compactFixedLength

	if !m.includeTime {
		return index, nil
	}

	width := 8
	if m.usingBaseTimeOffset {
		width = 4
		if m.useMillisecondResolution {
			width = 2
		}
	}
	if len(buffer)-index < width {
		return 0, truncated(compactMeasurementName, index, width, len(buffer)-index)
	}
	field := buffer[index : index+width]

	base := m.baseTimeOffset()
	switch width {
	case 2:
		// Without a base time the offset cannot be resolved; the
		// timestamp stays unset.
		if base > 0 {
			m.timestamp = ticks.New(base + uint64(binary.BigEndian.Uint16(field))*ticks.PerMillisecond)
		}
	case 4:
		if base > 0 {
			m.timestamp = ticks.New(base + uint64(binary.BigEndian.Uint32(field)))
		}
	default:
		// Only the full form can carry leap second flags.
		m.timestamp = ticks.New(binary.BigEndian.Uint64(field))
	}

	return index + width, nil
}

// AppendBinary appends the wire form of m to dst. It fails with
// ErrUnknownSignal when the signal ID has no runtime index in the cache.
func (m *CompactMeasurement) AppendBinary(dst []byte) ([]byte, error) {
	if m.cache == nil {
		return dst, ErrUnknownSignal
	}
	runtimeID, known := m.cache.signalIndices[m.signalID]
	if !known {
		return dst, ErrUnknownSignal
	}

	m.BinaryLength()
	dst = append(dst, m.CompactStateFlags())
	dst = appendUint32(dst, uint32(runtimeID))
	dst = appendUint32(dst, math.Float32bits(float32(m.value)))

	if !m.includeTime {
		return dst, nil
	}
	switch {
	case m.usingBaseTimeOffset && m.useMillisecondResolution:
		dst = binary.BigEndian.AppendUint16(dst, m.TimestampC2())
	case m.usingBaseTimeOffset:
		dst = appendUint32(dst, m.TimestampC4())
	default:
		dst = appendUint64(dst, uint64(m.timestamp))
	}
	return dst, nil
}

func (m *CompactMeasurement) SignalID() uuid.UUID { return m.signalID }

func (m *CompactMeasurement) SetSignalID(signalID uuid.UUID) { m.signalID = signalID }

func (m *CompactMeasurement) Value() float64 { return m.value }

func (m *CompactMeasurement) SetValue(value float64) { m.value = value }

func (m *CompactMeasurement) Timestamp() ticks.Ticks { return m.timestamp }

func (m *CompactMeasurement) SetTimestamp(timestamp ticks.Ticks) { m.timestamp = timestamp }

func (m *CompactMeasurement) Flags() StateFlags { return m.flags }

func (m *CompactMeasurement) SetFlags(flags StateFlags) { m.flags = flags }

func (m *CompactMeasurement) TimestampValue() uint64 { return m.timestamp.TimestampValue() }

func (m *CompactMeasurement) Time() time.Time { return m.timestamp.ToTime() }

func (m *CompactMeasurement) String() string { return formatMeasurement(m) }
