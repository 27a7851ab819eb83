// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"
)

// SignalIndexCache maps the 32-bit runtime signal indices a publisher
// assigns for one subscription to full measurement identities: a
// 128-bit signal ID, a source label, and a numeric key. It also
// provides the reverse lookup from signal ID to runtime index.
//
// A cache is built once, by Decode or by a test fixture, and is then
// read-only. The publisher replaces caches wholesale; they are never
// patched. Lookups are safe for concurrent use after construction.
type SignalIndexCache struct {
	// reference maps a runtime index to its slot in the parallel
	// record slices.
	reference map[int32]int
	signalIDs []uuid.UUID
	sources   []string
	ids       []uint64

	// signalIndices is the reverse map from signal ID to runtime index.
	signalIndices map[uuid.UUID]int32
}

// NewSignalIndexCache returns an empty cache.
func NewSignalIndexCache() *SignalIndexCache {
	return &SignalIndexCache{
		reference:     make(map[int32]int),
		signalIndices: make(map[uuid.UUID]int32),
	}
}

// addRecord registers one record. A repeated runtime index replaces the
// earlier record in place, so every slot stays reachable.
func (c *SignalIndexCache) addRecord(signalIndex int32, signalID uuid.UUID, source string, id uint64) {
	if slot, exists := c.reference[signalIndex]; exists {
		previous := c.signalIDs[slot]
		c.signalIDs[slot] = signalID
		c.sources[slot] = source
		c.ids[slot] = id
		if c.signalIndices[previous] == signalIndex {
			delete(c.signalIndices, previous)
			// The displaced ID may still be registered under another index.
			for otherIndex, otherSlot := range c.reference {
				if c.signalIDs[otherSlot] == previous {
					c.signalIndices[previous] = otherIndex
					break
				}
			}
		}
	} else {
		c.reference[signalIndex] = len(c.signalIDs)
		c.signalIDs = append(c.signalIDs, signalID)
		c.sources = append(c.sources, source)
		c.ids = append(c.ids, id)
	}
	c.signalIndices[signalID] = signalIndex
}

// Contains reports whether signalIndex has a record.
func (c *SignalIndexCache) Contains(signalIndex int32) bool {
	_, ok := c.reference[signalIndex]
	return ok
}

// SignalID returns the signal ID for signalIndex, or uuid.Nil.
func (c *SignalIndexCache) SignalID(signalIndex int32) uuid.UUID {
	if slot, ok := c.reference[signalIndex]; ok {
		return c.signalIDs[slot]
	}
	return uuid.Nil
}

// SignalIDs returns the distinct signal IDs in the cache, in record
// order.
func (c *SignalIndexCache) SignalIDs() []uuid.UUID {
	result := make([]uuid.UUID, 0, len(c.signalIndices))
	seen := make(map[uuid.UUID]struct{}, len(c.signalIndices))
	for _, signalID := range c.signalIDs {
		if _, duplicate := seen[signalID]; duplicate {
			continue
		}
		seen[signalID] = struct{}{}
		result = append(result, signalID)
	}
	return result
}

// Source returns the source label for signalIndex, or "".
func (c *SignalIndexCache) Source(signalIndex int32) string {
	if slot, ok := c.reference[signalIndex]; ok {
		return c.sources[slot]
	}
	return ""
}

// ID returns the numeric key for signalIndex, or math.MaxUint64.
func (c *SignalIndexCache) ID(signalIndex int32) uint64 {
	if slot, ok := c.reference[signalIndex]; ok {
		return c.ids[slot]
	}
	return math.MaxUint64
}

// Record returns the full record for signalIndex. found is false, and
// the other results are zero values, when the index is absent.
func (c *SignalIndexCache) Record(signalIndex int32) (signalID uuid.UUID, source string, id uint64, found bool) {
	slot, ok := c.reference[signalIndex]
	if !ok {
		return uuid.Nil, "", 0, false
	}
	return c.signalIDs[slot], c.sources[slot], c.ids[slot], true
}

// SignalIndex returns the runtime index for signalID, or -1.
func (c *SignalIndexCache) SignalIndex(signalID uuid.UUID) int32 {
	if signalIndex, ok := c.signalIndices[signalID]; ok {
		return signalIndex
	}
	return -1
}

// Count returns the number of distinct signal IDs in the cache.
func (c *SignalIndexCache) Count() int { return len(c.signalIndices) }

const signalIndexCacheName = "signal index cache"

// Decode parses a cache sent by the publisher into c, which should be
// empty, and returns the subscriber ID carried in the header.
//
// Layout, big-endian:
//
//	u32  declared length (the buffer must be at least this long)
//	16   subscriber ID
//	u32  record count
//	per record: i32 signal index, 16-byte signal ID,
//	            u32 source length, UTF-8 source, u64 numeric key
//
// Truncation and invalid UTF-8 fail with a *DecodeError. Duplicate
// runtime indices do not: the later record wins.
func (c *SignalIndexCache) Decode(buffer []byte) (uuid.UUID, error) {
	reader := newWireReader(signalIndexCacheName, buffer)

	declared := reader.uint32()
	if reader.err != nil {
		return uuid.Nil, reader.err
	}
	if uint64(len(buffer)) < uint64(declared) {
		return uuid.Nil, truncated(signalIndexCacheName, 0, int(min(uint64(declared), math.MaxInt32)), len(buffer))
	}

	subscriberID := reader.uuid()
	count := reader.uint32()
	if reader.err != nil {
		return uuid.Nil, reader.err
	}

	// A record is at least 32 bytes; reject counts the buffer cannot
	// hold before allocating for them.
	if uint64(count)*32 > uint64(len(buffer)-reader.offset) {
		return uuid.Nil, truncated(signalIndexCacheName, reader.offset, int(min(uint64(count)*32, math.MaxInt32)), len(buffer)-reader.offset)
	}

	for range count {
		signalIndex := reader.int32()
		signalID := reader.uuid()
		source := reader.lengthPrefixed()
		if reader.err == nil && !utf8.Valid(source) {
			reader.fail(errors.New("source label is not valid UTF-8"))
		}
		id := reader.uint64()
		if reader.err != nil {
			return uuid.Nil, reader.err
		}
		c.addRecord(signalIndex, signalID, string(source), id)
	}

	return subscriberID, nil
}

// Encode produces the wire form Decode accepts. Records are written in
// slot order with their current runtime indices.
func (c *SignalIndexCache) Encode(subscriberID uuid.UUID) []byte {
	indices := make([]int32, len(c.signalIDs))
	for signalIndex, slot := range c.reference {
		indices[slot] = signalIndex
	}

	buffer := make([]byte, 4, 24+len(c.signalIDs)*40)
	buffer = append(buffer, subscriberID[:]...)
	buffer = appendUint32(buffer, uint32(len(c.signalIDs)))
	for slot, signalID := range c.signalIDs {
		buffer = appendUint32(buffer, uint32(indices[slot]))
		buffer = append(buffer, signalID[:]...)
		buffer = appendLengthPrefixed(buffer, []byte(c.sources[slot]))
		buffer = appendUint64(buffer, c.ids[slot])
	}
	putUint32(buffer[:4], uint32(len(buffer)))
	return buffer
}
