// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

type sampleRecord struct {
	SignalID uuid.UUID `cbor:"signal_id"`
	Source   string    `cbor:"source,omitempty"`
	Value    float64   `cbor:"value"`
	Flags    uint32    `cbor:"flags"`
}

var sampleSignal = uuid.MustParse("0f5b2c1e-9d8a-4b7c-a6e5-d4c3b2a19080")

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleRecord{SignalID: sampleSignal, Source: "PMU-7", Value: 59.981, Flags: 0x8000}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	values := map[string]any{"zeta": 1, "alpha": "a", "mid": []int{1, 2}}

	first, err := Marshal(values)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(values)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding violated: %x != %x", first, again)
		}
	}
}

func TestUUIDEncodedAsText(t *testing.T) {
	data, err := Marshal(sampleSignal)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	// Major type 3 (text string), 36 bytes: 0x78 0x24.
	if len(data) != 38 || data[0] != 0x78 || data[1] != 36 {
		t.Fatalf("encoded UUID = %x, want a 36-byte text string", data)
	}
	if string(data[2:]) != sampleSignal.String() {
		t.Errorf("encoded text = %q", data[2:])
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	type newer struct {
		SignalID uuid.UUID `cbor:"signal_id"`
		Value    float64   `cbor:"value"`
		Quality  string    `cbor:"quality"`
	}
	data, err := Marshal(newer{SignalID: sampleSignal, Value: 1.5, Quality: "good"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.SignalID != sampleSignal || decoded.Value != 1.5 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestAnyMapsUseStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"note": map[string]any{"kind": "future"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type %T, want map[string]any", decoded)
	}
	if _, ok := outer["note"].(map[string]any); !ok {
		t.Errorf("nested type %T, want map[string]any", outer["note"])
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var record sampleRecord
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &record); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func BenchmarkMarshal(b *testing.B) {
	record := sampleRecord{SignalID: sampleSignal, Value: 59.981}

	b.ReportAllocs()
	for b.Loop() {
		Marshal(record)
	}
}
