// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bureau-foundation/sttp/lib/capture"
	"github.com/bureau-foundation/sttp/lib/clock"
	"github.com/bureau-foundation/sttp/lib/ticks"
	"github.com/bureau-foundation/sttp/transport"
)

// subscriberHandler logs subscriber events and records measurement
// batches. Status and error messages are already logged by the
// subscriber itself.
type subscriberHandler struct {
	transport.NopHandler

	logger   *slog.Logger
	clock    clock.Clock
	recorder *capture.Recorder

	// subscriberID, if set, reports the ID the publisher assigned. It
	// is only meaningful once a signal index cache has arrived.
	subscriberID func() uuid.UUID

	batches      atomic.Uint64
	measurements atomic.Uint64
	signals      atomic.Int64

	// recordFailed limits capture write errors to one log line.
	recordFailed atomic.Bool

	completeOnce sync.Once
	complete     chan struct{}
}

func newSubscriberHandler(logger *slog.Logger, clk clock.Clock, recorder *capture.Recorder) *subscriberHandler {
	return &subscriberHandler{
		logger:   logger,
		clock:    clk,
		recorder: recorder,
		complete: make(chan struct{}),
	}
}

// processingComplete is closed when a historical replay finishes.
func (h *subscriberHandler) processingComplete() <-chan struct{} { return h.complete }

func (h *subscriberHandler) ConnectionEstablished() {
	h.logger.Info("connected to publisher")
}

func (h *subscriberHandler) ConnectionTerminated() {
	h.logger.Info("connection to publisher terminated")
}

func (h *subscriberHandler) AutoReconnected() {
	h.logger.Info("reconnected to publisher")
}

func (h *subscriberHandler) MetadataReceived(metadata []byte) {
	h.logger.Info("metadata received", "bytes", len(metadata))
}

func (h *subscriberHandler) SubscriptionUpdated(cache *transport.SignalIndexCache) {
	h.signals.Store(int64(cache.Count()))
	attrs := []any{"signals", cache.Count()}
	if h.subscriberID != nil {
		attrs = append(attrs, "subscriber_id", h.subscriberID())
	}
	h.logger.Info("subscription updated", attrs...)
}

func (h *subscriberHandler) DataStartTime(startTime ticks.Ticks) {
	h.logger.Info("data start time", "time", startTime.String())
}

func (h *subscriberHandler) ConfigurationChanged() {
	h.logger.Warn("publisher configuration changed")
}

func (h *subscriberHandler) ProcessingComplete(message string) {
	h.logger.Info("historical replay complete", "message", message)
	h.completeOnce.Do(func() { close(h.complete) })
}

func (h *subscriberHandler) NotificationReceived(notification string) {
	h.logger.Info("publisher notification", "notification", notification)
}

func (h *subscriberHandler) NewMeasurements(measurements []transport.Measurement) {
	h.batches.Add(1)
	h.measurements.Add(uint64(len(measurements)))

	if h.logger.Enabled(context.Background(), slog.LevelDebug) {
		for _, measurement := range measurements {
			h.logger.Debug("measurement", "value", measurement.String())
		}
	}

	if h.recorder == nil {
		return
	}
	if err := h.recorder.WriteBatch(captureBatch(ticks.FromTime(h.clock.Now()), measurements)); err != nil {
		if !h.recordFailed.Swap(true) {
			h.logger.Error("recording measurements failed", "error", err)
		}
	}
}

// captureBatch converts one delivery into its recorded form.
func captureBatch(received ticks.Ticks, measurements []transport.Measurement) capture.Batch {
	batch := capture.Batch{
		Received:     received,
		Measurements: make([]capture.Measurement, len(measurements)),
	}
	for i, measurement := range measurements {
		batch.Measurements[i] = capture.Measurement{
			SignalID:  measurement.SignalID(),
			Value:     measurement.Value(),
			Timestamp: measurement.Timestamp(),
			Flags:     uint32(measurement.Flags()),
		}
	}
	return batch
}

type handlerStats struct {
	Batches      uint64
	Measurements uint64
	Signals      int64
}

func (h *subscriberHandler) stats() handlerStats {
	return handlerStats{
		Batches:      h.batches.Load(),
		Measurements: h.measurements.Load(),
		Signals:      h.signals.Load(),
	}
}
