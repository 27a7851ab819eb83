// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/sttp/lib/codec"
)

// Reader reads the batches of a capture stream in order.
type Reader struct {
	reader *bufio.Reader
	header Header
	// offset is the stream position of the next frame.
	offset int64
}

// NewReader checks the magic and reads the header record.
func NewReader(r io.Reader) (*Reader, error) {
	reader := &Reader{reader: bufio.NewReaderSize(r, 256*1024)}

	var prefix [len(magic)]byte
	if _, err := io.ReadFull(reader.reader, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotCapture
		}
		return nil, err
	}
	if !bytes.Equal(prefix[:], magic[:]) {
		return nil, ErrNotCapture
	}
	reader.offset = int64(len(magic))

	kind, payload, err := reader.readFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header record", ErrCorrupt)
		}
		return nil, err
	}
	if kind != frameHeader {
		return nil, fmt.Errorf("%w: first record has kind %d, want header", ErrCorrupt, kind)
	}
	if err := codec.Unmarshal(payload, &reader.header); err != nil {
		return nil, fmt.Errorf("%w: decoding header: %v", ErrCorrupt, err)
	}
	if reader.header.Version != FormatVersion {
		return nil, fmt.Errorf("capture format version %d is not supported (want %d)", reader.header.Version, FormatVersion)
	}
	return reader, nil
}

// Header returns the header record.
func (r *Reader) Header() Header { return r.header }

// Next returns the next batch, or io.EOF at the end of the stream.
// Records of kinds this version does not know are skipped.
func (r *Reader) Next() (Batch, error) {
	for {
		offset := r.offset
		kind, payload, err := r.readFrame()
		if err != nil {
			return Batch{}, err
		}
		if kind != frameBatch {
			continue
		}
		var batch Batch
		if err := codec.Unmarshal(payload, &batch); err != nil {
			return Batch{}, fmt.Errorf("%w: decoding batch at offset %d: %v", ErrCorrupt, offset, err)
		}
		return batch, nil
	}
}

// readFrame reads and verifies one frame. A clean end of stream before
// the frame header returns io.EOF.
func (r *Reader) readFrame() (frameKind, []byte, error) {
	offset := r.offset

	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r.reader, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("%w: truncated frame header at offset %d", ErrCorrupt, offset)
		}
		return 0, nil, err
	}
	info, err := parseFrameInfo(header)
	if err != nil {
		return 0, nil, fmt.Errorf("frame at offset %d: %w", offset, err)
	}

	stored := make([]byte, info.storedSize)
	if _, err := io.ReadFull(r.reader, stored); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("%w: truncated payload at offset %d", ErrCorrupt, offset)
		}
		return 0, nil, err
	}
	r.offset += int64(frameHeaderSize) + int64(info.storedSize)

	payload, err := decompress(stored, info.compression, int(info.uncompressedSize))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: frame at offset %d: %v", ErrCorrupt, offset, err)
	}
	if digestPayload(payload) != info.digest {
		return 0, nil, fmt.Errorf("%w: digest mismatch at offset %d", ErrCorrupt, offset)
	}
	return info.kind, payload, nil
}
