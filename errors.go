// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationFailed is returned by [Conn.Connect] when the server does not accept the
	// password. The more specific [ErrWrongPassword] and [ErrUnexpectedResponseID] both match it.
	ErrAuthenticationFailed = errors.New("rcon: authentication failed")

	// ErrWrongPassword indicates the server answered the authorization request with ID -1.
	ErrWrongPassword = fmt.Errorf("%w: wrong password", ErrAuthenticationFailed)

	// ErrUnexpectedResponseID indicates the server answered the authorization request with an ID
	// that is neither the request's nor -1.
	ErrUnexpectedResponseID = fmt.Errorf("%w: unexpected response id", ErrAuthenticationFailed)

	// ErrAuthenticationRequired is returned when a command is sent before authorization succeeded.
	ErrAuthenticationRequired = errors.New("rcon: authentication required before sending commands")

	// ErrMalformedPacket is matched by every [*MalformedPacketError].
	ErrMalformedPacket = errors.New("rcon: malformed packet")

	// ErrPacketTooLarge is returned when encoding a packet whose size exceeds [MaximumPacketSize].
	ErrPacketTooLarge = errors.New("rcon: packet too large")

	// ErrConnClosed is returned when a [Conn] is used after [Conn.Disconnect].
	ErrConnClosed = errors.New("rcon: connection closed")

	// ErrAlreadyConnected is returned when connecting a [Conn] that already has a transport.
	ErrAlreadyConnected = errors.New("rcon: already connected")
)

// MalformedPacketError reports a framing violation. The stream it came from cannot be trusted
// afterwards.
type MalformedPacketError struct {
	// Raw holds the offending bytes for diagnostics.
	Raw []byte

	// Reason describes which check failed.
	Reason string
}

func malformed(raw []byte, reason string) *MalformedPacketError {
	return &MalformedPacketError{Raw: append([]byte(nil), raw...), Reason: reason}
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("%s: %s [%s]", ErrMalformedPacket, e.Reason, hex.EncodeToString(e.Raw))
}

// Is reports whether target is [ErrMalformedPacket].
func (e *MalformedPacketError) Is(target error) bool {
	return target == ErrMalformedPacket
}

// TransportError wraps a failure of the underlying connection.
type TransportError struct {
	// Op is the operation that failed: "dial", "write", "read" or "close".
	Op string

	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rcon: %s: %s", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
