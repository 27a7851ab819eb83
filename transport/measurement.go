// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/sttp/lib/ticks"
)

// Measurement is one time-stamped value of a signal.
type Measurement interface {
	SignalID() uuid.UUID
	SetSignalID(uuid.UUID)

	Value() float64
	SetValue(float64)

	// Timestamp is the raw tick value, leap second bits included.
	Timestamp() ticks.Ticks
	SetTimestamp(ticks.Ticks)

	Flags() StateFlags
	SetFlags(StateFlags)

	// TimestampValue is the timestamp with leap second bits cleared.
	TimestampValue() uint64

	// Time converts the timestamp to UTC.
	Time() time.Time

	String() string
}

var (
	_ Measurement = (*BasicMeasurement)(nil)
	_ Measurement = (*CompactMeasurement)(nil)
)

// BasicMeasurement is a self-describing measurement that carries its
// own identity and full timestamp.
type BasicMeasurement struct {
	signalID  uuid.UUID
	value     float64
	timestamp ticks.Ticks
	flags     StateFlags
}

// NewBasicMeasurement returns a measurement with the given fields.
func NewBasicMeasurement(signalID uuid.UUID, value float64, timestamp ticks.Ticks, flags StateFlags) *BasicMeasurement {
	return &BasicMeasurement{signalID: signalID, value: value, timestamp: timestamp, flags: flags}
}

// Snapshot copies the decoded fields of any measurement into a
// BasicMeasurement that references no connection state. Handlers use it
// to retain elements delivered to NewMeasurements.
func Snapshot(m Measurement) *BasicMeasurement {
	return NewBasicMeasurement(m.SignalID(), m.Value(), m.Timestamp(), m.Flags())
}

func (m *BasicMeasurement) SignalID() uuid.UUID { return m.signalID }

func (m *BasicMeasurement) SetSignalID(signalID uuid.UUID) { m.signalID = signalID }

func (m *BasicMeasurement) Value() float64 { return m.value }

func (m *BasicMeasurement) SetValue(value float64) { m.value = value }

func (m *BasicMeasurement) Timestamp() ticks.Ticks { return m.timestamp }

func (m *BasicMeasurement) SetTimestamp(timestamp ticks.Ticks) { m.timestamp = timestamp }

func (m *BasicMeasurement) Flags() StateFlags { return m.flags }

func (m *BasicMeasurement) SetFlags(flags StateFlags) { m.flags = flags }

func (m *BasicMeasurement) TimestampValue() uint64 { return m.timestamp.TimestampValue() }

func (m *BasicMeasurement) Time() time.Time { return m.timestamp.ToTime() }

func (m *BasicMeasurement) String() string { return formatMeasurement(m) }

// formatMeasurement renders "<signal id> @ <hh:mm:ss.fff> = <value> (<flags>)".
func formatMeasurement(m Measurement) string {
	return fmt.Sprintf("%s @ %s = %.3f (%s)", m.SignalID(), m.Timestamp().ShortString(), m.Value(), m.Flags())
}
