// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/sttp/lib/capture"
	"github.com/bureau-foundation/sttp/transport"
)

// dumpCapture prints the capture file at path to w, one measurement per
// line. A corrupt tail is reported after everything readable before it
// has been printed.
func dumpCapture(path string, w io.Writer) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, err := capture.NewReader(file)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	out := bufio.NewWriter(w)
	defer out.Flush()

	header := reader.Header()
	fmt.Fprintf(out, "# publisher %s, started %s\n", header.Publisher, header.Started)
	if header.FilterExpression != "" {
		fmt.Fprintf(out, "# filter %s\n", header.FilterExpression)
	}
	if header.Source != "" {
		fmt.Fprintf(out, "# recorded by %s\n", header.Source)
	}

	var batches, measurements int
	for {
		batch, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintf(out, "# %d batches, %d measurements before error\n", batches, measurements)
			return fmt.Errorf("%s: %w", path, err)
		}
		batches++
		for _, measurement := range batch.Measurements {
			measurements++
			leap := ""
			if measurement.Timestamp.IsLeapSecond() {
				leap = " leap"
			}
			fmt.Fprintf(out, "%s %s %s%s %g %s\n",
				batch.Received.ShortString(),
				measurement.SignalID,
				measurement.Timestamp,
				leap,
				measurement.Value,
				transport.StateFlags(measurement.Flags),
			)
		}
	}
	fmt.Fprintf(out, "# %d batches, %d measurements\n", batches, measurements)
	return nil
}
