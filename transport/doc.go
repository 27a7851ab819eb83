// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport implements the subscriber side of the Streaming
// Telemetry Transport Protocol (STTP): a client that connects to a
// publisher of time-series measurements, negotiates a subscription, and
// decodes the compact measurement stream.
//
// A [DataSubscriber] owns one command channel, a TCP connection either
// dialed with [DataSubscriber.Connect] or accepted in reverse mode with
// [DataSubscriber.Listen]. Commands are framed as a u32 length, a
// command byte, and a payload; responses carry a response code, the
// command being answered, and a length-prefixed payload. Data packets
// arrive on the command channel or, when the subscription asks for it,
// on a UDP data channel bound by the subscriber. Data packets on either
// channel may be AES encrypted with keys the publisher sends through
// the command channel.
//
// Measurements are decoded against a [SignalIndexCache], the mapping
// from compact runtime indices to signal IDs that the publisher sends
// after each subscribe. Timestamps are [ticks.Ticks], optionally
// carried as an offset from one of two [BaseTimeOffsets]. The publisher
// double-buffers both tables so it can rotate them while packets
// encoded against the previous one are in flight.
//
// Events reach the application through a [Handler]. Connection loss is
// handled by the subscriber's [SubscriberConnector], which retries with
// exponential backoff and guarantees a single reconnection at a time.
//
// [Listener] and [Dialer] abstract the command channel socket so tests
// can substitute in-process connections. [Metrics] exports traffic
// counters and the connection state to Prometheus.
package transport
