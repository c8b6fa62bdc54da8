// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// authQueueSize bounds the packets buffered for an in-flight authorization. Source servers send an
// empty response value ahead of the auth response, so more than one packet may arrive.
const authQueueSize = 4

// Conn is an RCON connection to a single server. Any number of goroutines may call [Conn.Send]
// concurrently once [Conn.Connect] has returned: every request carries its own ID and responses
// are matched on that ID alone, so the server is free to answer out of order.
//
// A Conn is not reusable. Once [Conn.Disconnect] has been called, or the connection has failed,
// create a new one.
type Conn struct {
	host     string
	port     int
	password string

	timeout                time.Duration
	maxFrameSize           int32
	logger                 *slog.Logger
	logOutboundAuthPackets bool
	dial                   func(ctx context.Context, network, addr string) (net.Conn, error)

	authenticated atomic.Bool
	closed        atomic.Bool

	// mu guards nextID, pending, authCh, conn and err.
	mu      sync.Mutex
	nextID  int32
	pending map[int32]chan Packet

	// authCh receives packets that match no pending request while an authorization is in flight,
	// which is how the -1 wrong password sentinel reaches the handshake.
	authCh chan Packet

	conn net.Conn
	err  error

	// wmu serializes writes so frames from concurrent requests never interleave.
	wmu sync.Mutex

	// done is closed when the read loop stops; err then holds the reason.
	done     chan struct{}
	doneOnce sync.Once
}

// NewConn creates a [Conn] for the server at host and port that authorizes with password. No
// network activity happens until [Conn.Connect] is called.
func NewConn(host string, port int, password string, config ConnConfig) *Conn {
	c := &Conn{
		host:                   host,
		port:                   port,
		password:               password,
		timeout:                config.Timeout,
		maxFrameSize:           config.MaxFrameSize,
		logOutboundAuthPackets: config.LogOutboundAuthPackets,
		dial:                   config.Dial,
		pending:                make(map[int32]chan Packet),
		done:                   make(chan struct{}),
	}
	if config.Logger != nil {
		c.logger = config.Logger.With(slog.String("conn", uuid.NewString()))
	}
	if c.dial == nil {
		var d net.Dialer
		c.dial = d.DialContext
	}
	if config.StartingID != nil {
		c.nextID = *config.StartingID
	} else {
		c.nextID = int32(rand.Uint32())
	}
	return c
}

// Addr returns the host:port address the connection dials.
func (c *Conn) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Authenticated reports whether the server has accepted the password.
func (c *Conn) Authenticated() bool {
	return c.authenticated.Load()
}

// Connect dials the server over TCP and authorizes with the configured password. It returns nil
// only once the server has accepted the password. Dial and socket failures are reported as a
// [*TransportError]; a rejected password as an error matching [ErrAuthenticationFailed].
//
// An empty response value carrying the authorization request's ID is not taken as the answer,
// since Source servers send one ahead of the actual auth response. A server that sends only that
// packet leaves Connect waiting until ctx or [ConnConfig.Timeout] ends it.
func (c *Conn) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	nc, err := c.dial(ctx, "tcp", c.Addr())
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	return c.ConnectConn(ctx, nc)
}

// ConnectConn is like [Conn.Connect] but uses the caller-supplied nc as its transport instead of
// dialing. Once provided, nc should not be used outside of the Conn. It is closed if authorization
// fails, or if the Conn is already connected, in which case [ErrAlreadyConnected] is returned.
func (c *Conn) ConnectConn(ctx context.Context, nc net.Conn) error {
	if c.closed.Load() {
		_ = nc.Close()
		return ErrConnClosed
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		_ = nc.Close()
		return ErrAlreadyConnected
	}
	c.conn = nc
	c.mu.Unlock()

	c.log(ctx, slog.LevelInfo, "connected to server, authenticating", slog.String("addr", nc.RemoteAddr().String()))
	go c.readLoop(nc)

	err := c.authenticate(ctx)
	if err != nil {
		c.log(ctx, slog.LevelWarn, "authentication failed", slog.String("error", err.Error()))
		c.closed.Store(true)
		_ = nc.Close()
		return err
	}

	c.log(ctx, slog.LevelInfo, "authentication successful")
	return nil
}

// Disconnect closes the underlying connection. Requests still waiting for a response return
// [ErrConnClosed].
func (c *Conn) Disconnect() error {
	c.closed.Store(true)

	c.mu.Lock()
	nc := c.conn
	c.mu.Unlock()

	if nc == nil {
		return nil
	}
	if err := nc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

// Send executes command on the server and returns the response packet with the same ID. Without a
// successful [Conn.Connect] it returns [ErrAuthenticationRequired] and writes nothing.
//
// Send waits for as long as ctx allows, bounded by [ConnConfig.Timeout] when that is set. The
// server sending no response at all therefore blocks Send indefinitely under the defaults.
func (c *Conn) Send(ctx context.Context, command string) (*Packet, error) {
	if !c.authenticated.Load() {
		return nil, ErrAuthenticationRequired
	}
	if c.closed.Load() {
		return nil, ErrConnClosed
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id, ch := c.register(false)
	if err := c.write(ctx, id, PacketTypeExecCommand, command); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case p := <-ch:
		return &p, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		// The read loop dispatches before it stops, so a response may already be waiting.
		select {
		case p := <-ch:
			return &p, nil
		default:
			return nil, c.readErr()
		}
	}
}

// Exec executes command on the server and returns the response body as text.
func (c *Conn) Exec(ctx context.Context, command string) (string, error) {
	p, err := c.Send(ctx, command)
	if err != nil {
		return "", err
	}
	return string(p.Body), nil
}

// authenticate performs the authorization handshake. The server answers with the request's ID on
// success and with ID -1 when the password is wrong.
func (c *Conn) authenticate(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id, ch := c.register(true)
	defer func() {
		c.forget(id)
		c.mu.Lock()
		c.authCh = nil
		c.mu.Unlock()
	}()

	if err := c.write(ctx, id, PacketTypeAuth, c.password); err != nil {
		return err
	}

	for {
		var p Packet
		select {
		case p = <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			select {
			case p = <-ch:
			default:
				return c.readErr()
			}
		}

		switch {
		case p.ID == id && p.Type == PacketTypeResponseValue && len(p.Body) == 0:
			// Source servers precede the auth response with an empty response value.
			continue

		case p.ID == id:
			c.authenticated.Store(true)
			return nil

		case p.ID == -1:
			return ErrWrongPassword

		default:
			return fmt.Errorf("%w: got %d, want %d", ErrUnexpectedResponseID, p.ID, id)
		}
	}
}

// register allocates the next request ID and the channel its response is delivered on. IDs wrap
// around at the int32 boundary, skipping -1 and any ID still awaiting a response.
func (c *Conn) register(auth bool) (int32, chan Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var id int32
	for {
		id = c.nextID
		c.nextID++
		if _, busy := c.pending[id]; id != -1 && !busy {
			break
		}
	}

	ch := make(chan Packet, 1)
	if auth {
		ch = make(chan Packet, authQueueSize)
		c.authCh = ch
	}
	c.pending[id] = ch
	return id, ch
}

// forget removes the pending entry for id, if it is still present.
func (c *Conn) forget(id int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Conn) write(ctx context.Context, id, typ int32, body string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.mu.Lock()
	nc := c.conn
	c.mu.Unlock()
	if nc == nil {
		return ErrAuthenticationRequired
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetWriteDeadline(deadline)
		defer nc.SetWriteDeadline(time.Time{})
	}

	c.logPacket(ctx, "sending packet", id, typ, body)
	if _, err := nc.Write(Encode(id, typ, body)); err != nil {
		if c.closed.Load() {
			return ErrConnClosed
		}
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// readLoop decodes every inbound packet and hands it to the request waiting on its ID. It runs for
// the lifetime of the connection and stops at the first read or framing error.
func (c *Conn) readLoop(nc net.Conn) {
	ctx := context.Background()
	fr := NewFrameReaderSize(nc, c.maxFrameSize)
	for {
		p, err := fr.Next()
		if err != nil {
			c.stop(err)
			return
		}
		c.logPacket(ctx, "received packet", p.ID, p.Type, string(p.Body))
		c.dispatch(ctx, *p)
	}
}

// dispatch delivers p to the handler registered for its ID and removes that handler. Packets
// matching no handler go to an in-flight authorization if there is one, and are dropped otherwise.
func (c *Conn) dispatch(ctx context.Context, p Packet) {
	c.mu.Lock()
	ch, ok := c.pending[p.ID]
	if ok {
		delete(c.pending, p.ID)
	} else {
		ch = c.authCh
	}
	c.mu.Unlock()

	if ch == nil {
		c.log(ctx, slog.LevelDebug, "dropping unsolicited packet", slog.Int("id", int(p.ID)))
		return
	}

	select {
	case ch <- p:
	default:
		c.log(ctx, slog.LevelDebug, "dropping packet for full handler", slog.Int("id", int(p.ID)))
	}
}

// stop records why the read loop ended and wakes every waiting request. Pending entries are left
// in place.
func (c *Conn) stop(err error) {
	var mpe *MalformedPacketError
	switch {
	case c.closed.Load():
		err = ErrConnClosed
	case errors.As(err, &mpe):
	default:
		err = &TransportError{Op: "read", Err: err}
	}

	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})

	if !errors.Is(err, ErrConnClosed) {
		c.log(context.Background(), slog.LevelError, "connection failed", slog.String("error", err.Error()))
	}
}

func (c *Conn) readErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) log(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	if c.logger == nil {
		return
	}
	c.logger.LogAttrs(ctx, level, msg, attrs...)
}

// logPacket sends a debug record containing the hex encoded packet to the connection's logger. When
// the logger is nil or is not level set for debug records, this function is essentially a NOP. If
// the packet is an authorization packet, its body and length are obfuscated to prevent leaking a
// plaintext password into logs.
func (c *Conn) logPacket(ctx context.Context, logMsg string, id, typ int32, body string) {
	if c.logger == nil || !c.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}

	if typ == PacketTypeAuth && !c.logOutboundAuthPackets {
		body = "xxxxx"
	}

	c.logger.LogAttrs(ctx, slog.LevelDebug, logMsg,
		slog.Int("id", int(id)),
		slog.String("packet", hex.EncodeToString(Encode(id, typ, body))),
	)
}

// ConnConfig contains settings to control [Conn] instances.
type ConnConfig struct {
	// Timeout limits how long authorization and each request may wait for a response. A value of
	// zero means no limit beyond the caller's context.
	Timeout time.Duration

	// MaxFrameSize caps the size field accepted on inbound packets. Larger packets are treated as
	// malformed and end the connection. A value of zero means [DefaultMaxFrameSize].
	MaxFrameSize int32

	// StartingID, when set, is the first request ID used. When nil a random value is used.
	StartingID *int32

	// Logger receives log entries from a connection.
	Logger *slog.Logger

	// LogOutboundAuthPackets is a flag that must be explicitly enabled when the connection is
	// created. This field enables debug logging to include outbound authorization request packets,
	// exposing server passwords in plaintext. When this field is false (the default value,)
	// outbound authorization packets will be sanitized to hide both the password text and packet
	// length.
	//
	// WARNING: Only enable this flag if you are aware of the implications and are willing to accept
	// the risks!
	LogOutboundAuthPackets bool

	// Dial opens the transport for [Conn.Connect]. It defaults to [net.Dialer.DialContext].
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}
