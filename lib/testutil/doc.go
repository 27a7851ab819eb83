// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides channel helpers for tests of concurrent
// code.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap a select
// with a wall-clock timeout so a broken test fails instead of hanging.
// They are the only place tests wait on real time; everything else
// runs on a fake clock. [RequireEmpty] asserts that nothing was sent.
//
// All helpers call t.Fatalf on failure.
package testutil
