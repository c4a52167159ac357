// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mfsproto

import (
	"encoding/binary"
	"fmt"
)

// Field length limits (§4.1): names are short path components, paths
// are full POSIX paths, data is an arbitrary length-prefixed blob
// (directory listings, xattr values, …).
const (
	MaxNameLen = 255
	MaxPathLen = 1024
)

// PutU8/PutU16/PutU32/PutU64 append a big-endian integer to buf,
// returning the extended slice. They exist alongside binstruct's
// typed U8/U16be/... so that callers assembling a reply by hand (most
// handlers, which have a handful of scalar fields rather than a
// single fixed-layout record) don't need to round-trip through
// reflection for each field.
func PutU8(buf []byte, v uint8) []byte {
	return append(buf, v)
}

func PutU16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func PutU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func PutU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// GetU8/GetU16/GetU32/GetU64 read a big-endian integer off the front
// of data, returning the value and the remaining bytes. A short read
// returns an error; per §4.1 that is a connection-killing condition
// at the caller.
func GetU8(data []byte) (uint8, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("mfsproto: short read: need 1 byte, have %d", len(data))
	}
	return data[0], data[1:], nil
}

func GetU16(data []byte) (uint16, []byte, error) {
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("mfsproto: short read: need 2 bytes, have %d", len(data))
	}
	return binary.BigEndian.Uint16(data[:2]), data[2:], nil
}

func GetU32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("mfsproto: short read: need 4 bytes, have %d", len(data))
	}
	return binary.BigEndian.Uint32(data[:4]), data[4:], nil
}

func GetU64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("mfsproto: short read: need 8 bytes, have %d", len(data))
	}
	return binary.BigEndian.Uint64(data[:8]), data[8:], nil
}

// PutName appends a u8-length-prefixed name (a single path component,
// ≤255 bytes). It panics if name is too long; callers validate length
// before ever reaching the wire layer, the same way the teacher's
// binstruct panics on a static-size mismatch rather than returning an
// error for what is always a programmer mistake.
func PutName(buf []byte, name string) []byte {
	if len(name) > MaxNameLen {
		panic(fmt.Sprintf("mfsproto: name %q exceeds %d bytes", name, MaxNameLen))
	}
	buf = PutU8(buf, uint8(len(name)))
	return append(buf, name...)
}

// GetName reads a u8-length-prefixed name off the front of data.
func GetName(data []byte) (string, []byte, error) {
	n, rest, err := GetU8(data)
	if err != nil {
		return "", nil, fmt.Errorf("mfsproto: reading name length: %w", err)
	}
	if len(rest) < int(n) {
		return "", nil, fmt.Errorf("mfsproto: short read: name declares %d bytes, have %d", n, len(rest))
	}
	return string(rest[:n]), rest[n:], nil
}

// PutPath appends a u32-length-prefixed path (≤1024 bytes).
func PutPath(buf []byte, path string) []byte {
	if len(path) > MaxPathLen {
		panic(fmt.Sprintf("mfsproto: path %q exceeds %d bytes", path, MaxPathLen))
	}
	buf = PutU32(buf, uint32(len(path)))
	return append(buf, path...)
}

// GetPath reads a u32-length-prefixed path off the front of data.
func GetPath(data []byte) (string, []byte, error) {
	n, rest, err := GetU32(data)
	if err != nil {
		return "", nil, fmt.Errorf("mfsproto: reading path length: %w", err)
	}
	if n > MaxPathLen {
		return "", nil, fmt.Errorf("mfsproto: path length %d exceeds %d", n, MaxPathLen)
	}
	if uint32(len(rest)) < n {
		return "", nil, fmt.Errorf("mfsproto: short read: path declares %d bytes, have %d", n, len(rest))
	}
	return string(rest[:n]), rest[n:], nil
}

// PutData appends a u32-length-prefixed arbitrary byte blob (xattr
// values, directory listing chunks, …).
func PutData(buf []byte, data []byte) []byte {
	buf = PutU32(buf, uint32(len(data)))
	return append(buf, data...)
}

// GetData reads a u32-length-prefixed byte blob off the front of
// data, returning a copy so the caller may retain it past the
// lifetime of the packet buffer it came from.
func GetData(data []byte) ([]byte, []byte, error) {
	n, rest, err := GetU32(data)
	if err != nil {
		return nil, nil, fmt.Errorf("mfsproto: reading data length: %w", err)
	}
	if uint32(len(rest)) < n {
		return nil, nil, fmt.Errorf("mfsproto: short read: data declares %d bytes, have %d", n, len(rest))
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}
