// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chunkfile

import (
	"encoding/binary"
	"fmt"

	"github.com/moosefs/moosefs-sub003/lib/mfserr"
)

// headerFixedSize is the length of the non-padding portion of the
// header: 7-byte signature + 1-byte format digit + 8-byte chunk id +
// 4-byte version.
const headerFixedSize = len(Signature) + 1 + 8 + 4

// Header is the fixed-layout prefix of a chunk file (§5.1). The
// remainder of the header region (up to HeaderSizeSmall or
// HeaderSizeLarge bytes) is zero padding reserved for future use, the
// same way the original tool leaves it untouched.
type Header struct {
	Format  FormatVersion
	ChunkID uint64
	Version uint32
}

// ErrBadHeader is returned when a header's signature or format digit
// doesn't match what this package understands.
var ErrBadHeader = mfserr.New(mfserr.StatusEINVAL, "chunkfile: bad header")

// DecodeHeader parses a header from the first headerFixedSize bytes
// of buf. buf must be at least headerFixedSize bytes (callers
// typically pass the whole HeaderSizeSmall/HeaderSizeLarge region).
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerFixedSize {
		return Header{}, fmt.Errorf("chunkfile.DecodeHeader: short buffer (%d bytes)", len(buf))
	}
	if string(buf[:len(Signature)]) != Signature {
		return Header{}, fmt.Errorf("chunkfile.DecodeHeader: %w: bad signature", ErrBadHeader)
	}
	format := FormatVersion(buf[len(Signature)])
	if !format.Valid() {
		return Header{}, fmt.Errorf("chunkfile.DecodeHeader: %w: format digit %q", ErrBadHeader, format)
	}
	off := len(Signature) + 1
	chunkID := binary.BigEndian.Uint64(buf[off:])
	version := binary.BigEndian.Uint32(buf[off+8:])
	return Header{Format: format, ChunkID: chunkID, Version: version}, nil
}

// EncodeHeader writes h into a freshly zeroed buffer of hdrSize
// bytes (HeaderSizeSmall or HeaderSizeLarge), padding with zeros.
func EncodeHeader(h Header, hdrSize int64) []byte {
	buf := make([]byte, hdrSize)
	copy(buf, Signature)
	buf[len(Signature)] = byte(h.Format)
	off := len(Signature) + 1
	binary.BigEndian.PutUint64(buf[off:], h.ChunkID)
	binary.BigEndian.PutUint32(buf[off+8:], h.Version)
	return buf
}
