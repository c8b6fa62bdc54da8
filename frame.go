// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

// DefaultMaxFrameSize is the largest size field a [FrameReader] accepts unless told otherwise.
// Servers are not bound by [MaximumPacketSize] in practice, so it only guards against a corrupt
// size field causing a huge allocation.
const DefaultMaxFrameSize = 1 << 20

// FrameReader splits a byte stream into RCON packets. TCP does not preserve message boundaries, so
// a single read may return part of a packet or several packets at once; FrameReader uses the size
// field of each packet to hand exactly one complete frame at a time to [Decode].
type FrameReader struct {
	r       *bufio.Reader
	maxSize int32
}

// NewFrameReader returns a [FrameReader] that reads packets from r, accepting size fields up to
// [DefaultMaxFrameSize]. The FrameReader buffers r, so r should not be read from by anything else
// afterwards.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderSize(r, DefaultMaxFrameSize)
}

// NewFrameReaderSize is like [NewFrameReader] but accepts size fields up to maxSize. A maxSize
// below [WrapperSize] is replaced by [DefaultMaxFrameSize].
func NewFrameReaderSize(r io.Reader, maxSize int32) *FrameReader {
	if maxSize < WrapperSize {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameReader{
		r:       bufio.NewReaderSize(r, 4+MaximumPacketSize+WrapperSize),
		maxSize: maxSize,
	}
}

// Next blocks until the next complete packet is available and returns it. An [io.EOF] error is
// only returned when the stream ends cleanly between two packets.
func (fr *FrameReader) Next() (*Packet, error) {
	frame, _, err := readFrame(fr.r, fr.maxSize)
	if err != nil {
		return nil, err
	}
	return Decode(frame)
}

// readFrame reads one size-prefixed frame from r without reading past its end. The returned frame
// includes the size field. Size fields above maxSize are reported as malformed.
func readFrame(r io.Reader, maxSize int32) ([]byte, int64, error) {
	var head [4]byte
	n, err := io.ReadFull(r, head[:])
	if err != nil {
		return nil, int64(n), err
	}

	size := int32(binary.LittleEndian.Uint32(head[:]))
	switch {
	case size < WrapperSize:
		return nil, int64(n), malformed(head[:], "packet too small")
	case size > maxSize:
		return nil, int64(n), malformed(head[:], "packet too large")
	}

	frame := make([]byte, 4+int(size))
	copy(frame, head[:])
	m, err := io.ReadFull(r, frame[4:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, int64(n + m), err
	}

	return frame, int64(n + m), nil
}
