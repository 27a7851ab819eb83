// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by every on-disk
// record the subscriber writes.
//
// Encoding is deterministic (sorted map keys, smallest integer forms,
// no indefinite lengths), which lets content digests be computed over
// the encoded bytes. Decoding ignores unknown fields, and any-typed
// targets decode maps as map[string]any.
//
//	data, err := codec.Marshal(record)
//	err = codec.Unmarshal(data, &record)
//
// Types use `cbor` struct tags. Types implementing
// encoding.TextMarshaler, such as uuid.UUID, are written as CBOR text
// strings.
package codec
