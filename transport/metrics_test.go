// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var metrics *Metrics
	metrics.addCommandChannelBytes(10)
	metrics.addDataChannelBytes(10)
	metrics.addMeasurements(3)
	metrics.incReconnectAttempts()
	metrics.incDecodeErrors()
	metrics.setConnectionState(StateSubscribed)
}

func TestMetricsShareRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := NewMetrics(registry)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	second, err := NewMetrics(registry)
	if err != nil {
		t.Fatalf("second NewMetrics on the same registry: %v", err)
	}

	first.addMeasurements(2)
	second.addMeasurements(3)
	if got := promtestutil.ToFloat64(first.Measurements); got != 5 {
		t.Errorf("shared measurement counter = %v, want 5", got)
	}

	second.setConnectionState(StateSubscribed)
	if got := promtestutil.ToFloat64(first.ConnectionState); got != 4 {
		t.Errorf("connection state = %v, want 4", got)
	}

	count, err := promtestutil.GatherAndCount(registry)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 6 {
		t.Errorf("registered metrics = %d, want 6", count)
	}
}
