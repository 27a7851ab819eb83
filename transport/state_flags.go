// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"math/bits"
	"strings"
)

// StateFlags is the 32-bit set of quality and alarm conditions attached
// to a measurement. The zero value is Normal.
type StateFlags uint32

const (
	Normal StateFlags = 0

	BadData            StateFlags = 0x00000001
	SuspectData        StateFlags = 0x00000002
	OverRangeError     StateFlags = 0x00000004
	UnderRangeError    StateFlags = 0x00000008
	AlarmHigh          StateFlags = 0x00000010
	AlarmLow           StateFlags = 0x00000020
	WarningHigh        StateFlags = 0x00000040
	WarningLow         StateFlags = 0x00000080
	FlatlineAlarm      StateFlags = 0x00000100
	ComparisonAlarm    StateFlags = 0x00000200
	ROCAlarm           StateFlags = 0x00000400
	ReceivedAsBad      StateFlags = 0x00000800
	CalculatedValue    StateFlags = 0x00001000
	CalculationError   StateFlags = 0x00002000
	CalculationWarning StateFlags = 0x00004000
	ReservedQuality    StateFlags = 0x00008000
	BadTime            StateFlags = 0x00010000
	SuspectTime        StateFlags = 0x00020000
	LateTimeAlarm      StateFlags = 0x00040000
	FutureTimeAlarm    StateFlags = 0x00080000
	UpSampled          StateFlags = 0x00100000
	DownSampled        StateFlags = 0x00200000
	DiscardedValue     StateFlags = 0x00400000
	ReservedTime       StateFlags = 0x00800000
	UserDefinedFlag1   StateFlags = 0x01000000
	UserDefinedFlag2   StateFlags = 0x02000000
	UserDefinedFlag3   StateFlags = 0x04000000
	UserDefinedFlag4   StateFlags = 0x08000000
	UserDefinedFlag5   StateFlags = 0x10000000
	SystemError        StateFlags = 0x20000000
	SystemWarning      StateFlags = 0x40000000
	MeasurementError   StateFlags = 0x80000000
)

// Has reports whether every bit of mask is set in f.
func (f StateFlags) Has(mask StateFlags) bool { return f&mask == mask }

// Intersects reports whether f and mask share any bit.
func (f StateFlags) Intersects(mask StateFlags) bool { return f&mask != 0 }

// Union returns f with the bits of other added.
func (f StateFlags) Union(other StateFlags) StateFlags { return f | other }

// Intersect returns the bits common to f and other.
func (f StateFlags) Intersect(other StateFlags) StateFlags { return f & other }

var stateFlagNames = [32]string{
	"BadData", "SuspectData", "OverRangeError", "UnderRangeError",
	"AlarmHigh", "AlarmLow", "WarningHigh", "WarningLow",
	"FlatlineAlarm", "ComparisonAlarm", "ROCAlarm", "ReceivedAsBad",
	"CalculatedValue", "CalculationError", "CalculationWarning", "ReservedQuality",
	"BadTime", "SuspectTime", "LateTimeAlarm", "FutureTimeAlarm",
	"UpSampled", "DownSampled", "DiscardedValue", "ReservedTime",
	"UserDefinedFlag1", "UserDefinedFlag2", "UserDefinedFlag3", "UserDefinedFlag4",
	"UserDefinedFlag5", "SystemError", "SystemWarning", "MeasurementError",
}

// String renders the set flag names joined by "|", or "Normal".
func (f StateFlags) String() string {
	if f == Normal {
		return "Normal"
	}
	names := make([]string, 0, bits.OnesCount32(uint32(f)))
	for remaining := uint32(f); remaining != 0; remaining &= remaining - 1 {
		names = append(names, stateFlagNames[bits.TrailingZeros32(remaining)])
	}
	return strings.Join(names, "|")
}

// GoString supports %#v.
func (f StateFlags) GoString() string { return fmt.Sprintf("StateFlags(0x%08X)", uint32(f)) }

// Compact flag bits: the low six carry quality groups, the high two
// carry per-measurement transport state.
const (
	compactDataRange       byte = 0x01
	compactDataQuality     byte = 0x02
	compactTimeQuality     byte = 0x04
	compactSystemIssue     byte = 0x08
	compactCalculatedValue byte = 0x10
	compactDiscardedValue  byte = 0x20
	compactBaseTimeOffset  byte = 0x40
	compactTimeIndex       byte = 0x80

	compactGroupMask = compactDataRange | compactDataQuality | compactTimeQuality |
		compactSystemIssue | compactCalculatedValue | compactDiscardedValue
)

// Quality groups. Each compact bit stands for its whole group.
const (
	DataRangeMask = OverRangeError | UnderRangeError | AlarmHigh | AlarmLow |
		WarningHigh | WarningLow
	DataQualityMask = BadData | SuspectData | FlatlineAlarm | ComparisonAlarm |
		ROCAlarm | ReceivedAsBad | CalculationError | CalculationWarning | ReservedQuality
	TimeQualityMask = BadTime | SuspectTime | LateTimeAlarm | FutureTimeAlarm |
		UpSampled | DownSampled | ReservedTime
	SystemIssueMask     = SystemError | SystemWarning | MeasurementError
	CalculatedValueMask = CalculatedValue
	DiscardedValueMask  = DiscardedValue
)

var compactGroups = [...]struct {
	mask StateFlags
	bit  byte
}{
	{DataRangeMask, compactDataRange},
	{DataQualityMask, compactDataQuality},
	{TimeQualityMask, compactTimeQuality},
	{SystemIssueMask, compactSystemIssue},
	{CalculatedValueMask, compactCalculatedValue},
	{DiscardedValueMask, compactDiscardedValue},
}

// flagsToCompact projects full flags onto the six compact group bits.
// User-defined flags have no group and are dropped.
func flagsToCompact(flags StateFlags) byte {
	var compact byte
	for _, group := range compactGroups {
		if flags.Intersects(group.mask) {
			compact |= group.bit
		}
	}
	return compact
}

// compactToFlags expands each set group bit into the whole group mask.
// The two transport bits are ignored.
func compactToFlags(compact byte) StateFlags {
	var flags StateFlags
	for _, group := range compactGroups {
		if compact&group.bit != 0 {
			flags |= group.mask
		}
	}
	return flags
}
