// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration of sttp-subscriber.
//
// Configuration comes from a single file named by the STTP_CONFIG
// environment variable (via [Load]) or a --config flag (via
// [LoadFile]). There is no search path. Fields the file omits keep the
// values of [Default], which match the transport package defaults.
// Unknown keys are rejected so typos surface at startup.
//
// Durations are Go duration strings ("1s", "250ms"). The capture path
// expands ${HOME} and ${VAR:-default}; no other field reads the
// environment.
//
//	publisher:
//	  host: historian.example
//	  port: 7175
//	subscription:
//	  filter_expression: FILTER ActiveMeasurements WHERE SignalType = 'FREQ'
//	capture:
//	  path: ${HOME}/captures/freq.sttpcap
//	  compression: zstd
//
// [Config.TransportConfig] and [Config.SubscriptionInfo] map the file
// onto the transport package's option structs.
package config
