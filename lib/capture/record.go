// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"github.com/google/uuid"

	"github.com/bureau-foundation/sttp/lib/ticks"
)

// FormatVersion is the capture format version written by this package
// and the only one Reader accepts.
const FormatVersion = 1

// Header is the first record of every capture file.
type Header struct {
	Version int `cbor:"version"`

	// Publisher is the host:port the subscriber was connected to.
	Publisher string `cbor:"publisher,omitempty"`

	// FilterExpression is the subscription filter in effect when the
	// recording started.
	FilterExpression string `cbor:"filter_expression,omitempty"`

	// Started is when the recording was created.
	Started ticks.Ticks `cbor:"started"`

	// Source identifies the software that wrote the file.
	Source string `cbor:"source,omitempty"`
}

// Batch is one delivery of measurements from the subscriber, in the
// order the publisher sent them.
type Batch struct {
	// Received is when the subscriber delivered the batch.
	Received     ticks.Ticks   `cbor:"received"`
	Measurements []Measurement `cbor:"measurements"`
}

// Measurement is the recorded form of a decoded measurement. Timestamp
// keeps the raw tick value, leap second bits included.
type Measurement struct {
	SignalID  uuid.UUID   `cbor:"signal_id"`
	Value     float64     `cbor:"value"`
	Timestamp ticks.Ticks `cbor:"timestamp"`
	Flags     uint32      `cbor:"flags"`
}
