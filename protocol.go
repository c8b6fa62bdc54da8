// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"bytes"
	"encoding/binary"
	"io"
)

// WrapperSize is the cumulative size of non-body bytes that contribute to calculation of the packet
// size that precedes a binary packet. Eight bytes are accounted for by the packet ID and type,
// while two bytes are accounted for by the null byte termination of the body and packet. The packet
// size itself is not included in the size calculation.
const WrapperSize = 8 + 2

// MaximumPacketSize is the largest value allowed for the packet size that precedes binary packets.
// This value is outlined in the protocol.
const MaximumPacketSize = 4096

// headerSize is the number of bytes preceding the body of an encoded packet: size, ID and type.
const headerSize = 12

const (
	// PacketTypeAuth represents a client authorization request packet. It indicates that the body
	// will contain the server password.
	PacketTypeAuth = 3

	// PacketTypeAuthResponse represents a server authorization response packet. If authorization
	// failed, the packet ID will have a value of -1 rather than that of the matching client request
	// packet.
	PacketTypeAuthResponse = 2

	// PacketTypeExecCommand represents a client request packet that contains a command to be executed
	// by the server. It shares its value with [PacketTypeAuthResponse].
	PacketTypeExecCommand = 2

	// PacketTypeResponseValue represents a server response packet that contains the output of a
	// server command initiated by a [PacketTypeExecCommand] client request packet.
	PacketTypeResponseValue = 0
)

// Packet is a singular RCON protocol packet, either as a request from a client or a response from
// a server.
type Packet struct {
	// ID is chosen by the client and echoed by the server, which is what lets a [Conn] correlate
	// responses with requests. The one exception is a failed authorization, which the server
	// answers with an ID of -1.
	ID int32

	// Type indicates the purpose of the packet. Its value should always be one of [PacketTypeAuth],
	// [PacketTypeAuthResponse], [PacketTypeExecCommand], or [PacketTypeResponseValue].
	Type int32

	// Body holds the password, the command, or the command output depending on the packet type. It
	// never includes the null terminators present on the wire, and may be empty.
	Body []byte
}

// Length returns the value of the size field that precedes the packet on the wire.
func (p Packet) Length() int32 {
	return int32(len(p.Body) + WrapperSize)
}

// Encode builds the wire frame for a packet with the provided ID, type and body. It performs no
// size validation; use [Packet.MarshalBinary] where the protocol maximum must be enforced.
func Encode(id, typ int32, body string) []byte {
	b := make([]byte, headerSize+len(body)+2)
	binary.LittleEndian.PutUint32(b[0:4], uint32(WrapperSize+len(body)))
	binary.LittleEndian.PutUint32(b[4:8], uint32(id))
	binary.LittleEndian.PutUint32(b[8:12], uint32(typ))
	copy(b[headerSize:], body)
	// The two trailing bytes are already zero.
	return b
}

// Decode parses b, which must hold exactly one complete frame including its size field. Any
// framing violation is reported as a [*MalformedPacketError].
func Decode(b []byte) (*Packet, error) {
	if len(b) < headerSize+2 {
		return nil, malformed(b, "packet too short")
	}

	size := int32(binary.LittleEndian.Uint32(b[0:4]))
	if size < WrapperSize || len(b) != 4+int(size) {
		return nil, malformed(b, "size field does not match packet length")
	}
	if b[len(b)-2] != 0 || b[len(b)-1] != 0 {
		return nil, malformed(b, "packet incorrectly terminated")
	}

	p := &Packet{
		ID:   int32(binary.LittleEndian.Uint32(b[4:8])),
		Type: int32(binary.LittleEndian.Uint32(b[8:12])),
		Body: make([]byte, len(b)-headerSize-2),
	}
	copy(p.Body, b[headerSize:len(b)-2])
	return p, nil
}

// MarshalBinary encodes the receiving [Packet] into binary form and returns the result. This
// satisfies the [encoding.BinaryMarshaler] interface.
func (p Packet) MarshalBinary() ([]byte, error) {
	if p.Length() > MaximumPacketSize {
		return nil, ErrPacketTooLarge
	}
	return Encode(p.ID, p.Type, string(p.Body)), nil
}

// WriteTo writes a binary representation of the packet to [io.Writer] w. This method satisfies the
// [io.WriterTo] interface.
func (p Packet) WriteTo(w io.Writer) (int64, error) {
	bs, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(bs)

	return int64(n), err
}

// UnmarshalBinary decodes the binary encoded packet b into the receiving [Packet]. Trailing bytes
// after the frame are an error. This satisfies the [encoding.BinaryUnmarshaler] interface.
func (p *Packet) UnmarshalBinary(b []byte) error {
	decoded, err := Decode(b)
	if err != nil {
		return err
	}
	*p = *decoded
	return nil
}

// ReadFrom reads exactly one binary packet from r into the receiving [Packet] instance, never
// consuming bytes beyond the end of that packet. This method satisfies the [io.ReaderFrom]
// interface.
func (p *Packet) ReadFrom(r io.Reader) (int64, error) {
	frame, n, err := readFrame(r, DefaultMaxFrameSize)
	if err != nil {
		return n, err
	}
	return n, p.UnmarshalBinary(frame)
}

// EqualTo determines if the provided Packet content matches the receiving Packet content.
func (p Packet) EqualTo(p2 Packet) bool {
	switch {
	case p.ID != p2.ID:
		return false
	case p.Type != p2.Type:
		return false
	case !bytes.Equal(p.Body, p2.Body):
		return false
	}
	return true
}

// Clone returns a deep copy of the receiving packet.
func (p Packet) Clone() Packet {
	p2 := p
	if p.Body != nil {
		p2.Body = bytes.Clone(p.Body)
	}
	return p2
}
