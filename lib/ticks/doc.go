// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ticks implements the STTP timestamp: a 64-bit count of
// 100-nanosecond intervals since 0001-01-01 UTC with two high bits
// reserved for leap second signalling.
//
// A Ticks value is a plain integer. Conversions to and from time.Time
// and time.Duration are total functions: out-of-range inputs saturate
// instead of wrapping.
package ticks
