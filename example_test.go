// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"

	rcon "github.com/schultz-is/rconmux"
)

func ExampleEncode() {
	b := rcon.Encode(42, rcon.PacketTypeExecCommand, "info")

	fmt.Printf("%0x\n", b)

	// Output:
	// 0e0000002a00000002000000696e666f0000
}

func ExampleDecode() {
	bs, err := hex.DecodeString("0e0000002a00000000000000706f6e670000")
	if err != nil {
		log.Fatal(err)
	}

	p, err := rcon.Decode(bs)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("id=%d type=%d length=%d body=%q\n", p.ID, p.Type, p.Length(), p.Body)

	// Output:
	// id=42 type=0 length=14 body="pong"
}

func ExamplePacket_WriteTo() {
	var buf bytes.Buffer

	p := rcon.Packet{
		ID:   42,
		Type: rcon.PacketTypeExecCommand,
		Body: []byte("info"),
	}
	n, err := p.WriteTo(&buf)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Wrote %d bytes: %0x\n", n, buf.Bytes())

	// Output:
	// Wrote 18 bytes: 0e0000002a00000002000000696e666f0000
}

func ExampleFrameReader() {
	var stream bytes.Buffer
	stream.Write(rcon.Encode(1, rcon.PacketTypeResponseValue, "first"))
	stream.Write(rcon.Encode(2, rcon.PacketTypeResponseValue, "second"))

	fr := rcon.NewFrameReader(&stream)
	for range 2 {
		p, err := fr.Next()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%d: %s\n", p.ID, p.Body)
	}

	// Output:
	// 1: first
	// 2: second
}

func ExampleConn_Exec() {
	c := rcon.NewConn("192.0.2.1", 27015, "super secret password", rcon.ConnConfig{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
	})
	defer c.Disconnect()

	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		log.Fatal(err)
	}

	result, err := c.Exec(ctx, "status")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(result)
}
