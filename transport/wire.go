// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// wireReader is a bounds-checked big-endian cursor over a received
// buffer. The first failed read records a DecodeError and every later
// read becomes a no-op returning zero values, so decoders can read a
// whole structure and check err once.
type wireReader struct {
	what   string
	buffer []byte
	offset int
	err    error
}

func newWireReader(what string, buffer []byte) *wireReader {
	return &wireReader{what: what, buffer: buffer}
}

func (r *wireReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buffer)-r.offset < n {
		r.err = truncated(r.what, r.offset, n, len(r.buffer)-r.offset)
		return nil
	}
	slice := r.buffer[r.offset : r.offset+n]
	r.offset += n
	return slice
}

func (r *wireReader) uint8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *wireReader) uint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *wireReader) int32() int32 { return int32(r.uint32()) }

func (r *wireReader) uint64() uint64 {
	if b := r.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *wireReader) int64() int64 { return int64(r.uint64()) }

func (r *wireReader) uuid() uuid.UUID {
	var id uuid.UUID
	if b := r.take(16); b != nil {
		copy(id[:], b)
	}
	return id
}

// lengthPrefixed reads a u32 length followed by that many bytes.
func (r *wireReader) lengthPrefixed() []byte {
	length := r.uint32()
	if r.err != nil {
		return nil
	}
	if uint64(length) > uint64(len(r.buffer)-r.offset) {
		r.err = truncated(r.what, r.offset, int(min(uint64(length), uint64(maxPacketSize))), len(r.buffer)-r.offset)
		return nil
	}
	return r.take(int(length))
}

func (r *wireReader) remaining() []byte {
	if r.err != nil {
		return nil
	}
	rest := r.buffer[r.offset:]
	r.offset = len(r.buffer)
	return rest
}

// fail records a structural error at the current offset.
func (r *wireReader) fail(cause error) {
	if r.err == nil {
		r.err = &DecodeError{What: r.what, Offset: r.offset, Err: cause}
	}
}

func putUint32(dst []byte, value uint32) { binary.BigEndian.PutUint32(dst, value) }

func appendUint32(dst []byte, value uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, value)
}

func appendUint64(dst []byte, value uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, value)
}

func appendLengthPrefixed(dst []byte, payload []byte) []byte {
	dst = appendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}
