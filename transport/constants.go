// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "fmt"

// Library identification sent to the publisher in the assemblyInfo
// block of every subscribe request. This is the version of this client
// library, not the STTP protocol version.
const (
	LibrarySource    = "STTP Go Library"
	LibraryVersion   = "0.1.0"
	LibraryUpdatedOn = "2026-10-19"
)

// ServerCommand is a command code sent from subscriber to publisher on
// the command channel.
//
// Command and response codes travel on different paths but occupy
// disjoint ranges so a wire capture can be read without context.
type ServerCommand uint8

const (
	CommandConnect                       ServerCommand = 0x00
	CommandMetadataRefresh               ServerCommand = 0x01
	CommandSubscribe                     ServerCommand = 0x02
	CommandUnsubscribe                   ServerCommand = 0x03
	CommandRotateCipherKeys              ServerCommand = 0x04
	CommandUpdateProcessingInterval      ServerCommand = 0x05
	CommandDefineOperationalModes        ServerCommand = 0x06
	CommandConfirmNotification           ServerCommand = 0x07
	CommandConfirmBufferBlock            ServerCommand = 0x08
	CommandConfirmUpdateBaseTimes        ServerCommand = 0x09
	CommandConfirmUpdateSignalIndexCache ServerCommand = 0x0A
	CommandConfirmUpdateCipherKeys       ServerCommand = 0x0B
	CommandGetPrimaryMetadataSchema      ServerCommand = 0x0C
	CommandGetSignalSelectionSchema      ServerCommand = 0x0D

	// CommandUserCommand00 through CommandUserCommand15 are reserved
	// for application-defined commands.
	CommandUserCommand00 ServerCommand = 0xD0
	CommandUserCommand15 ServerCommand = 0xDF
)

// IsUserCommand reports whether c falls in the application-defined
// command range.
func (c ServerCommand) IsUserCommand() bool {
	return c >= CommandUserCommand00 && c <= CommandUserCommand15
}

var serverCommandNames = map[ServerCommand]string{
	CommandConnect:                       "Connect",
	CommandMetadataRefresh:               "MetadataRefresh",
	CommandSubscribe:                     "Subscribe",
	CommandUnsubscribe:                   "Unsubscribe",
	CommandRotateCipherKeys:              "RotateCipherKeys",
	CommandUpdateProcessingInterval:      "UpdateProcessingInterval",
	CommandDefineOperationalModes:        "DefineOperationalModes",
	CommandConfirmNotification:           "ConfirmNotification",
	CommandConfirmBufferBlock:            "ConfirmBufferBlock",
	CommandConfirmUpdateBaseTimes:        "ConfirmUpdateBaseTimes",
	CommandConfirmUpdateSignalIndexCache: "ConfirmUpdateSignalIndexCache",
	CommandConfirmUpdateCipherKeys:       "ConfirmUpdateCipherKeys",
	CommandGetPrimaryMetadataSchema:      "GetPrimaryMetadataSchema",
	CommandGetSignalSelectionSchema:      "GetSignalSelectionSchema",
}

func (c ServerCommand) String() string {
	if name, ok := serverCommandNames[c]; ok {
		return name
	}
	if c.IsUserCommand() {
		return fmt.Sprintf("UserCommand%02d", uint8(c-CommandUserCommand00))
	}
	return fmt.Sprintf("ServerCommand(0x%02X)", uint8(c))
}

// ServerResponse is a response code sent from publisher to subscriber.
type ServerResponse uint8

const (
	ResponseSucceeded              ServerResponse = 0x80
	ResponseFailed                 ServerResponse = 0x81
	ResponseDataPacket             ServerResponse = 0x82
	ResponseUpdateSignalIndexCache ServerResponse = 0x83
	ResponseUpdateBaseTimes        ServerResponse = 0x84
	ResponseUpdateCipherKeys       ServerResponse = 0x85
	ResponseDataStartTime          ServerResponse = 0x86
	ResponseProcessingComplete     ServerResponse = 0x87
	ResponseBufferBlock            ServerResponse = 0x88
	ResponseNotify                 ServerResponse = 0x89
	ResponseConfigurationChanged   ServerResponse = 0x8A

	ResponseUserResponse00 ServerResponse = 0xE0
	ResponseUserResponse15 ServerResponse = 0xEF

	// ResponseNoOP is a keep-alive the publisher sends on an idle
	// command channel.
	ResponseNoOP ServerResponse = 0xFF
)

// IsUserResponse reports whether r falls in the application-defined
// response range.
func (r ServerResponse) IsUserResponse() bool {
	return r >= ResponseUserResponse00 && r <= ResponseUserResponse15
}

var serverResponseNames = map[ServerResponse]string{
	ResponseSucceeded:              "Succeeded",
	ResponseFailed:                 "Failed",
	ResponseDataPacket:             "DataPacket",
	ResponseUpdateSignalIndexCache: "UpdateSignalIndexCache",
	ResponseUpdateBaseTimes:        "UpdateBaseTimes",
	ResponseUpdateCipherKeys:       "UpdateCipherKeys",
	ResponseDataStartTime:          "DataStartTime",
	ResponseProcessingComplete:     "ProcessingComplete",
	ResponseBufferBlock:            "BufferBlock",
	ResponseNotify:                 "Notify",
	ResponseConfigurationChanged:   "ConfigurationChanged",
	ResponseNoOP:                   "NoOP",
}

func (r ServerResponse) String() string {
	if name, ok := serverResponseNames[r]; ok {
		return name
	}
	if r.IsUserResponse() {
		return fmt.Sprintf("UserResponse%02d", uint8(r-ResponseUserResponse00))
	}
	return fmt.Sprintf("ServerResponse(0x%02X)", uint8(r))
}

// DataPacketFlags describes the content of a DataPacket response and is
// also the leading byte of a subscribe request.
type DataPacketFlags uint8

const (
	DataPacketNoFlags     DataPacketFlags = 0x00
	DataPacketCompact     DataPacketFlags = 0x02
	DataPacketCipherIndex DataPacketFlags = 0x04
	DataPacketCompressed  DataPacketFlags = 0x08
	DataPacketCacheIndex  DataPacketFlags = 0x10
)

// OperationalModes is the session-wide mode word sent with
// DefineOperationalModes immediately after the command channel opens.
type OperationalModes uint32

const (
	// OperationalModesVersionMask selects the protocol version bits.
	OperationalModesVersionMask OperationalModes = 0x0000001F

	OperationalModesCompressionModeMask OperationalModes = 0x000000E0
	OperationalModesEncodingMask        OperationalModes = 0x00000300

	OperationalModesReceiveExternalMetadata  OperationalModes = 0x02000000
	OperationalModesReceiveInternalMetadata  OperationalModes = 0x04000000
	OperationalModesCompressPayloadData      OperationalModes = 0x20000000
	OperationalModesCompressSignalIndexCache OperationalModes = 0x40000000
	OperationalModesCompressMetadata         OperationalModes = 0x80000000
	OperationalModesNoFlags                  OperationalModes = 0x00000000
)

// OperationalEncoding selects the string encoding for the session.
// Only UTF-8 is supported by this implementation.
type OperationalEncoding uint32

const (
	EncodingUTF16LE OperationalEncoding = 0x00000000
	EncodingUTF16BE OperationalEncoding = 0x00000100
	EncodingUTF8    OperationalEncoding = 0x00000200
)

func (e OperationalEncoding) String() string {
	switch e {
	case EncodingUTF16LE:
		return "UTF16LE"
	case EncodingUTF16BE:
		return "UTF16BE"
	case EncodingUTF8:
		return "UTF8"
	default:
		return fmt.Sprintf("OperationalEncoding(0x%X)", uint32(e))
	}
}

// CompressionModes selects the payload compression algorithms offered
// to the publisher.
type CompressionModes uint32

const (
	CompressionModeNone CompressionModes = 0x00
	CompressionModeGZip CompressionModes = 0x20
	CompressionModeTSSC CompressionModes = 0x40
)

// ConnectStatus is the outcome of a connector-driven connection
// attempt.
type ConnectStatus int

const (
	ConnectSuccess ConnectStatus = iota
	ConnectFailed
	ConnectCanceled
)

func (s ConnectStatus) String() string {
	switch s {
	case ConnectSuccess:
		return "success"
	case ConnectFailed:
		return "failed"
	case ConnectCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("ConnectStatus(%d)", int(s))
	}
}

// Wire framing sizes.
const (
	// payloadHeaderSize is the u32 length prefix in front of every
	// command-channel packet.
	payloadHeaderSize = 4

	// responseHeaderSize is response code, command code and u32
	// payload length.
	responseHeaderSize = 6

	// maxPacketSize bounds a single inbound packet. Anything larger is
	// treated as a framing error.
	maxPacketSize = 32 * 1024 * 1024

	// maxDatagramSize is the read buffer for the UDP data channel.
	maxDatagramSize = 65535
)
