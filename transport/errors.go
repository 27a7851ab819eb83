// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
)

// Usage errors returned synchronously by DataSubscriber operations.
// None of them change subscriber state.
var (
	ErrAlreadyConnected    = errors.New("subscriber is already connected; disconnect first")
	ErrListening           = errors.New("subscriber is listening for connections; direct connections disallowed")
	ErrNotConnected        = errors.New("subscriber is not connected")
	ErrNotValidated        = errors.New("subscriber connection is not validated")
	ErrDisposed            = errors.New("subscriber has been disposed")
	ErrUnsupportedEncoding = errors.New("only UTF-8 string encoding is supported")
	ErrInvalidUserCommand  = errors.New("user command must be in range 0xD0-0xDF")
)

// ErrUnknownSignal is returned when encoding a measurement whose signal
// ID is absent from the signal index cache.
var ErrUnknownSignal = errors.New("signal ID not found in signal index cache")

// DecodeError reports malformed wire data. Callers can use errors.As to
// extract the structured information:
//
//	var decodeErr *DecodeError
//	if errors.As(err, &decodeErr) {
//	    logger.Warn("dropping frame", "what", decodeErr.What, "offset", decodeErr.Offset)
//	}
type DecodeError struct {
	// What names the structure being decoded, e.g. "signal index cache".
	What string

	// Offset is the byte offset within the input where decoding failed.
	Offset int

	// Need and Have are the byte counts required and available when the
	// failure is a truncation. Both are zero otherwise.
	Need int
	Have int

	// Err is the underlying cause, if any.
	Err error
}

func (e *DecodeError) Error() string {
	if e.Need > 0 {
		return fmt.Sprintf("decoding %s: need %d bytes at offset %d, have %d", e.What, e.Need, e.Offset, e.Have)
	}
	if e.Err != nil {
		return fmt.Sprintf("decoding %s at offset %d: %v", e.What, e.Offset, e.Err)
	}
	return fmt.Sprintf("decoding %s at offset %d: malformed input", e.What, e.Offset)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}

// truncated builds a DecodeError for a buffer shorter than required.
func truncated(what string, offset, need, have int) *DecodeError {
	return &DecodeError{What: what, Offset: offset, Need: need, Have: have}
}
