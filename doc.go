// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

/*
Package rcon provides mechanisms for interacting with the Source RCON protocol as described by
Valve Software at https://developer.valvesoftware.com/wiki/Source_RCON_Protocol.

A [Conn] authorizes once and then multiplexes any number of concurrent commands over a single
connection, matching each response to its request by packet ID:

	c := rcon.NewConn("192.0.2.1", 27015, "password", rcon.ConnConfig{})
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()

	out, err := c.Exec(ctx, "status")

Responses that the server splits across several packets are not reassembled; each request
receives the first packet carrying its ID.
*/
package rcon
