// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports subscriber activity to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	CommandChannelBytes prometheus.Counter
	DataChannelBytes    prometheus.Counter
	Measurements        prometheus.Counter
	ReconnectAttempts   prometheus.Counter
	DecodeErrors        prometheus.Counter

	// ConnectionState follows ConnectionState: 0 disconnected through
	// 4 subscribed.
	ConnectionState prometheus.Gauge
}

// NewMetrics creates the subscriber metrics and registers them with
// registerer. A collector that is already registered under the same
// name is reused, so several subscribers may share one registry.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		CommandChannelBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sttp_command_channel_bytes_total",
			Help: "Bytes received on the STTP command channel.",
		}),
		DataChannelBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sttp_data_channel_bytes_total",
			Help: "Bytes received on the STTP UDP data channel.",
		}),
		Measurements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sttp_measurements_received_total",
			Help: "Measurements decoded from data packets.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sttp_reconnect_attempts_total",
			Help: "Connection attempts made by the reconnection engine.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sttp_decode_errors_total",
			Help: "Publisher responses dropped because they could not be decoded.",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sttp_connection_state",
			Help: "Subscriber connection state: 0 disconnected, 1 connecting, 2 connected, 3 validated, 4 subscribed.",
		}),
	}

	var err error
	metrics.CommandChannelBytes, err = registerCollector(registerer, metrics.CommandChannelBytes)
	if err != nil {
		return nil, err
	}
	metrics.DataChannelBytes, err = registerCollector(registerer, metrics.DataChannelBytes)
	if err != nil {
		return nil, err
	}
	metrics.Measurements, err = registerCollector(registerer, metrics.Measurements)
	if err != nil {
		return nil, err
	}
	metrics.ReconnectAttempts, err = registerCollector(registerer, metrics.ReconnectAttempts)
	if err != nil {
		return nil, err
	}
	metrics.DecodeErrors, err = registerCollector(registerer, metrics.DecodeErrors)
	if err != nil {
		return nil, err
	}
	metrics.ConnectionState, err = registerCollector(registerer, metrics.ConnectionState)
	if err != nil {
		return nil, err
	}
	return metrics, nil
}

func registerCollector[C prometheus.Collector](registerer prometheus.Registerer, collector C) (C, error) {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, err
	}
	return collector, nil
}

func (m *Metrics) addCommandChannelBytes(n int) {
	if m != nil {
		m.CommandChannelBytes.Add(float64(n))
	}
}

func (m *Metrics) addDataChannelBytes(n int) {
	if m != nil {
		m.DataChannelBytes.Add(float64(n))
	}
}

func (m *Metrics) addMeasurements(n int) {
	if m != nil {
		m.Measurements.Add(float64(n))
	}
}

func (m *Metrics) incReconnectAttempts() {
	if m != nil {
		m.ReconnectAttempts.Inc()
	}
}

func (m *Metrics) incDecodeErrors() {
	if m != nil {
		m.DecodeErrors.Inc()
	}
}

func (m *Metrics) setConnectionState(state ConnectionState) {
	if m != nil {
		m.ConnectionState.Set(float64(state))
	}
}
