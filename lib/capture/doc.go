// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture records received measurements to a file and reads
// them back.
//
// A capture file is the 8-byte magic "STTPCAP\x01" followed by frames.
// Each frame holds one CBOR record (encoded with lib/codec): first a
// [Header], then one [Batch] per delivery from the subscriber. Frame
// payloads are compressed with LZ4 or zstd when that makes them smaller,
// and every frame carries a keyed BLAKE3 digest of its uncompressed
// payload so a reader detects corruption frame by frame instead of
// silently decoding garbage.
//
// Frames are independent. A file cut short by a crash is readable up
// to the last complete frame; [Reader.Next] then reports [ErrCorrupt].
//
//	recorder, err := capture.Create(path, capture.RecorderOptions{Compression: capture.CompressionLZ4})
//	err = recorder.WriteBatch(batch)
//	err = recorder.Close()
//
//	reader, err := capture.NewReader(file)
//	for {
//	    batch, err := reader.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
package capture
