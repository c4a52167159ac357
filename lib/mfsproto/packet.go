// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package mfsproto implements the wire codec shared by every TCP
// connection in the system: packet framing, the big-endian integer
// and length-prefixed string encodings, and the dual-width attribute
// record (§4.1, §6). It plays the role the teacher's lib/binstruct
// plays for btrfs's on-disk node format: a small, reusable layer that
// every higher-level protocol handler builds its request/reply
// structs on top of.
package mfsproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Type identifies a packet's payload shape; it is the first 4 bytes
// of every packet on the wire.
type Type uint32

const (
	// ANTOAN_NOP is the keepalive sent every second when a
	// connection's output queue is empty (§6).
	ANTOAN_NOP Type = 0
	// ANTOAN_UNKNOWN_COMMAND is the generic reply to a packet type
	// the receiver does not recognize (§6).
	ANTOAN_UNKNOWN_COMMAND Type = 1
	// ANTOAN_BAD_COMMAND_SIZE replies to a packet whose declared
	// length does not match what the handler for Type expects.
	ANTOAN_BAD_COMMAND_SIZE Type = 2
)

// Direction distinguishes the caps and packet-type space of a
// connection's two ends, since the same numeric Type can legitimately
// mean different things depending which way it travels (§9 Open
// Questions: "clarify whether dispatch must be connection-direction-
// aware... keep it explicit").
type Direction uint8

const (
	// ClientToMaster is a FUSE client's connection to the metadata
	// server.
	ClientToMaster Direction = iota
	// MasterToClient is the metadata server's replies to a FUSE
	// client, and its unsolicited notifications.
	MasterToClient
	// ChunkserverToMaster is a chunk server's registration and
	// status-reporting connection to the metadata server.
	ChunkserverToMaster
	// MasterToChunkserver carries chunk operation commands from the
	// metadata server to a chunk server.
	MasterToChunkserver
	// ClientToChunkserver carries chunk read/write traffic directly
	// between a FUSE client and a chunk server.
	ClientToChunkserver
	// ChunkserverToChunkserver carries inter-chunkserver replication
	// traffic.
	ChunkserverToChunkserver
)

// MaxPacketSize returns the largest payload length (not counting the
// 8-byte type+length header) this connection direction will accept.
// A declared length exceeding this closes the connection (§4.1).
func (d Direction) MaxPacketSize() uint32 {
	switch d {
	case ClientToChunkserver, ChunkserverToChunkserver:
		// Chunk data traffic: header plus up to one 64 KiB block
		// plus its CRC and bookkeeping, with generous headroom.
		return 100 * 1024
	case MasterToChunkserver, ChunkserverToMaster:
		// Chunk metadata operations: batched chunk lists, never
		// raw chunk data.
		return 4 * 1024 * 1024
	default:
		// Client<->master metadata traffic: the largest payload is
		// a directory listing or a large batch reply.
		return 10 * 1024 * 1024
	}
}

const headerSize = 8 // type:u32be, length:u32be

// ErrPacketTooBig is returned by ReadPacket when a peer declares a
// payload length exceeding the connection's direction cap; the
// connection must be closed (§4.1).
type ErrPacketTooBig struct {
	Type      Type
	Length    uint32
	Direction Direction
}

func (e *ErrPacketTooBig) Error() string {
	return fmt.Sprintf("packet type %d declares length %d exceeding %s cap of %d",
		e.Type, e.Length, e.Direction, e.Direction.MaxPacketSize())
}

func (d Direction) String() string {
	switch d {
	case ClientToMaster:
		return "client->master"
	case MasterToClient:
		return "master->client"
	case ChunkserverToMaster:
		return "chunkserver->master"
	case MasterToChunkserver:
		return "master->chunkserver"
	case ClientToChunkserver:
		return "client->chunkserver"
	case ChunkserverToChunkserver:
		return "chunkserver->chunkserver"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Reader reads one packet at a time off of an underlying stream
// connection, enforcing the direction's per-connection size cap.
type Reader struct {
	r   io.Reader
	dir Direction
	hdr [headerSize]byte
}

// NewReader wraps r, interpreting its stream as packets arriving in
// direction dir.
func NewReader(r io.Reader, dir Direction) *Reader {
	return &Reader{r: r, dir: dir}
}

// ReadPacket reads one full packet's type and payload. A length
// exceeding the direction's cap, or a short read on either the header
// or the payload, returns a non-nil error; per §4.1 the caller must
// close the connection in that case rather than try to resynchronize.
func (r *Reader) ReadPacket() (Type, []byte, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		return 0, nil, fmt.Errorf("mfsproto: reading packet header: %w", err)
	}
	typ := Type(binary.BigEndian.Uint32(r.hdr[0:4]))
	length := binary.BigEndian.Uint32(r.hdr[4:8])
	if length > r.dir.MaxPacketSize() {
		return typ, nil, &ErrPacketTooBig{Type: typ, Length: length, Direction: r.dir}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return typ, nil, fmt.Errorf("mfsproto: reading packet payload (type=%d length=%d): %w", typ, length, err)
	}
	return typ, payload, nil
}

// Writer frames outgoing payloads as packets.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for writing framed packets.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WritePacket frames and writes one packet. It does not enforce a
// size cap on the write side; callers are expected to never build a
// reply larger than what they themselves would accept as a reader.
func (w *Writer) WritePacket(typ Type, payload []byte) error {
	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(typ))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("mfsproto: writing packet header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.w.Write(payload); err != nil {
			return fmt.Errorf("mfsproto: writing packet payload: %w", err)
		}
	}
	return nil
}

// WriteNop writes a bare ANTOAN_NOP keepalive packet.
func (w *Writer) WriteNop() error {
	return w.WritePacket(ANTOAN_NOP, nil)
}

// WriteUnknownCommand replies to an unrecognized packet type; per
// §4.1 the connection continues afterward.
func (w *Writer) WriteUnknownCommand(badType Type) error {
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], uint32(badType))
	return w.WritePacket(ANTOAN_UNKNOWN_COMMAND, payload[:])
}
