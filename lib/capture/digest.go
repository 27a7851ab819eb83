// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Digest is the keyed BLAKE3 hash of a frame's uncompressed payload.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// frameDomainKey separates capture digests from any other BLAKE3 use
// of the same bytes. ASCII "sttp.capture.frame", zero padded. Changing
// it invalidates every existing capture file.
var frameDomainKey = [32]byte{
	's', 't', 't', 'p', '.', 'c', 'a', 'p', 't', 'u', 'r', 'e', '.',
	'f', 'r', 'a', 'm', 'e',
}

func digestPayload(payload []byte) Digest {
	hasher, err := blake3.NewKeyed(frameDomainKey[:])
	if err != nil {
		panic("capture: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)
	var digest Digest
	hasher.Sum(digest[:0])
	return digest
}
