// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"io"
	"runtime"

	"github.com/bureau-foundation/sttp/transport"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty is "true" when the build had uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)

// Info returns the one-line --version string: the library version the
// subscriber announces to publishers, then the build identity.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", transport.LibraryVersion, GitCommit, dirty, BuildTime)
}

// Full returns Info plus the library source, Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Library: %s, updated %s\n  Go: %s\n  Platform: %s/%s",
		Info(), transport.LibrarySource, transport.LibraryUpdatedOn,
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Print writes "<binary> <Full()>" to w.
func Print(w io.Writer, binary string) {
	fmt.Fprintf(w, "%s %s\n", binary, Full())
}
