// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// magic opens every capture file.
var magic = [8]byte{'S', 'T', 'T', 'P', 'C', 'A', 'P', 0x01}

// frameKind tags the record a frame carries.
type frameKind uint8

const (
	frameHeader frameKind = 1
	frameBatch  frameKind = 2
)

// A frame is
//
//	u8 kind | u8 compression | u32 uncompressed size | u32 stored size |
//	32-byte digest of the uncompressed payload | stored payload
//
// with big-endian sizes. The payload is one CBOR record.
const frameHeaderSize = 1 + 1 + 4 + 4 + len(Digest{})

// maxFrameSize bounds either payload size a reader will allocate.
const maxFrameSize = 64 << 20

var (
	// ErrNotCapture is returned for input that does not start with the
	// capture file magic.
	ErrNotCapture = errors.New("not a capture file")

	// ErrCorrupt is returned for a frame that is truncated, oversized,
	// fails to decompress, or does not match its digest.
	ErrCorrupt = errors.New("corrupt capture frame")

	// ErrClosed is returned by a Recorder after Close.
	ErrClosed = errors.New("capture recorder is closed")
)

type frameInfo struct {
	kind             frameKind
	compression      Compression
	uncompressedSize uint32
	storedSize       uint32
	digest           Digest
}

func (f frameInfo) appendTo(dst []byte) []byte {
	dst = append(dst, byte(f.kind), byte(f.compression))
	dst = binary.BigEndian.AppendUint32(dst, f.uncompressedSize)
	dst = binary.BigEndian.AppendUint32(dst, f.storedSize)
	return append(dst, f.digest[:]...)
}

func parseFrameInfo(header []byte) (frameInfo, error) {
	info := frameInfo{
		kind:             frameKind(header[0]),
		compression:      Compression(header[1]),
		uncompressedSize: binary.BigEndian.Uint32(header[2:6]),
		storedSize:       binary.BigEndian.Uint32(header[6:10]),
	}
	copy(info.digest[:], header[10:frameHeaderSize])
	if info.uncompressedSize > maxFrameSize || info.storedSize > maxFrameSize {
		return info, fmt.Errorf("%w: frame of %d bytes (%d stored) exceeds %d",
			ErrCorrupt, info.uncompressedSize, info.storedSize, maxFrameSize)
	}
	return info, nil
}
