// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for --version output.
//
// [GitCommit], [GitDirty] and [BuildTime] are injected with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/sttp/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// They read "unknown" in development builds and tests. The version
// number itself is transport.LibraryVersion, the value sent to
// publishers in the subscribe request's assemblyInfo.
package version
