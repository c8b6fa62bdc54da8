// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	rcon "github.com/schultz-is/rconmux"
)

func TestFrameReader(t *testing.T) {
	t.Run(
		"coalesced frames",
		func(t *testing.T) {
			var stream []byte
			stream = append(stream, rcon.Encode(1, rcon.PacketTypeResponseValue, "first")...)
			stream = append(stream, rcon.Encode(2, rcon.PacketTypeResponseValue, "")...)
			stream = append(stream, rcon.Encode(3, rcon.PacketTypeAuthResponse, "third")...)

			fr := rcon.NewFrameReader(bytes.NewReader(stream))
			for i, want := range []string{"first", "", "third"} {
				p, err := fr.Next()
				if err != nil {
					t.Fatalf("Next() failed on packet %d: %s", i, err)
				}
				if p.ID != int32(i+1) || string(p.Body) != want {
					t.Fatalf("Next() = %#v, want ID %d body %q", p, i+1, want)
				}
			}

			_, err := fr.Next()
			if !errors.Is(err, io.EOF) {
				t.Fatalf("Next() at end of stream returned %v, want io.EOF", err)
			}
		},
	)

	t.Run(
		"split frames",
		func(t *testing.T) {
			frame := rcon.Encode(9, rcon.PacketTypeResponseValue, "one byte at a time")
			fr := rcon.NewFrameReader(iotest.OneByteReader(bytes.NewReader(frame)))

			p, err := fr.Next()
			if err != nil {
				t.Fatalf("Next() failed: %s", err)
			}
			if p.ID != 9 || string(p.Body) != "one byte at a time" {
				t.Fatalf("Next() = %#v", p)
			}
		},
	)

	t.Run(
		"stream ends mid frame",
		func(t *testing.T) {
			frame := rcon.Encode(9, rcon.PacketTypeResponseValue, "cut short")
			fr := rcon.NewFrameReader(bytes.NewReader(frame[:len(frame)-3]))

			_, err := fr.Next()
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Fatalf("Next() returned %v, want io.ErrUnexpectedEOF", err)
			}
		},
	)

	t.Run(
		"oversized size field",
		func(t *testing.T) {
			fr := rcon.NewFrameReader(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0x7f}))

			_, err := fr.Next()
			if !errors.Is(err, rcon.ErrMalformedPacket) {
				t.Fatalf("Next() returned %v, want ErrMalformedPacket", err)
			}
		},
	)

	t.Run(
		"frames beyond the protocol maximum",
		func(t *testing.T) {
			body := strings.Repeat("x", 5000)
			fr := rcon.NewFrameReader(bytes.NewReader(rcon.Encode(3, rcon.PacketTypeResponseValue, body)))

			p, err := fr.Next()
			if err != nil {
				t.Fatalf("Next() failed: %s", err)
			}
			if string(p.Body) != body {
				t.Fatalf("Next() returned a %d byte body, want %d", len(p.Body), len(body))
			}
		},
	)

	t.Run(
		"custom size limit",
		func(t *testing.T) {
			frame := rcon.Encode(3, rcon.PacketTypeResponseValue, strings.Repeat("x", 100))
			fr := rcon.NewFrameReaderSize(bytes.NewReader(frame), 64)

			_, err := fr.Next()
			if !errors.Is(err, rcon.ErrMalformedPacket) {
				t.Fatalf("Next() returned %v, want ErrMalformedPacket", err)
			}
		},
	)
}
