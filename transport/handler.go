// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "github.com/bureau-foundation/sttp/lib/ticks"

// Handler receives DataSubscriber events. A subscriber holds exactly
// one Handler; SetHandler replaces it. Methods are called from the
// subscriber's background goroutines, one event at a time per
// goroutine, and must not block for long: the command channel is not
// read while a handler method runs.
//
// Embed NopHandler to implement only the events of interest.
type Handler interface {
	// StatusMessage reports informational progress.
	StatusMessage(message string)

	// ErrorMessage reports an asynchronous failure: transport errors,
	// malformed responses, publisher refusals, exhausted retries.
	ErrorMessage(message string)

	ConnectionEstablished()
	ConnectionTerminated()

	// AutoReconnected fires after the connector re-established a
	// dropped connection.
	AutoReconnected()

	// MetadataReceived delivers the (decompressed) metadata document
	// requested with RequestMetadata.
	MetadataReceived(metadata []byte)

	// SubscriptionUpdated delivers a newly installed signal index cache.
	SubscriptionUpdated(cache *SignalIndexCache)

	DataStartTime(startTime ticks.Ticks)
	ConfigurationChanged()

	// NewMeasurements delivers one decoded data packet. The slice is
	// the handler's to keep. Its elements still point at the
	// connection's signal index cache and base time offsets; a handler
	// that retains them past the callback should Snapshot them.
	NewMeasurements(measurements []Measurement)

	// ProcessingComplete fires when a historical replay finishes.
	ProcessingComplete(message string)

	NotificationReceived(notification string)
}

// NopHandler implements Handler by ignoring every event.
type NopHandler struct{}

var _ Handler = NopHandler{}

func (NopHandler) StatusMessage(string) {}
func (NopHandler) ErrorMessage(string) {}
func (NopHandler) ConnectionEstablished() {}
func (NopHandler) ConnectionTerminated() {}
func (NopHandler) AutoReconnected() {}
func (NopHandler) MetadataReceived([]byte) {}
func (NopHandler) SubscriptionUpdated(*SignalIndexCache) {}
func (NopHandler) DataStartTime(ticks.Ticks) {}
func (NopHandler) ConfigurationChanged() {}
func (NopHandler) NewMeasurements([]Measurement) {}
func (NopHandler) ProcessingComplete(string) {}
func (NopHandler) NotificationReceived(string) {}
