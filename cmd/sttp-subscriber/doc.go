// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sttp-subscriber connects to an STTP publisher, subscribes to the
// signals selected by a filter expression, and logs what it receives.
//
// The connection is retried with exponential backoff until it succeeds
// and re-established automatically if the publisher drops it. With
// --record, every measurement batch is appended to a capture file
// (CBOR records, optionally LZ4 or zstd compressed, each with a BLAKE3
// digest); --dump prints such a file. With --metrics-address, traffic
// counters and the connection state are served for Prometheus.
//
// Settings come from a YAML file (--config, or $STTP_CONFIG); flags
// override the file. When the subscription requests a historical
// replay (subscription.start_time), the process exits once the
// publisher reports that processing is complete.
//
// Usage:
//
//	sttp-subscriber --host historian.example --port 7175 \
//	    --filter "FILTER ActiveMeasurements WHERE SignalType='FREQ'" \
//	    --record freq.sttpcap
//	sttp-subscriber --dump freq.sttpcap
package main
