// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that wait or measure elapsed time take a Clock instead of
// calling the time package: the reconnection backoff, the metadata
// round-trip timer, the missing-cache warning throttle, and the CLI's
// statistics ticker. Production code passes Real(). Tests pass Fake()
// and move time with Advance, using WaitForTimers to make sure the
// goroutine under test has started waiting first:
//
//	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	connector := transport.NewSubscriberConnector(..., fakeClock, logger)
//	go connector.Connect(subscriber)
//	fakeClock.WaitForTimers(1)
//	fakeClock.Advance(time.Second)
package clock
