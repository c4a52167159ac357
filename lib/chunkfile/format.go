// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package chunkfile implements the on-disk chunk file format used by
// chunk servers (§5): a fixed-size header, a 1024-entry per-64KiB-block
// CRC table, and up to 1024 data blocks. It also provides the
// scan/verify/repair/rename operations that cmd/mfschunktool exposes,
// adapted from the teacher's per-block checksum-run idiom
// (lib/btrfs/btrfssum, now folded into this package) and grounded on
// original_source/mfschunkserver/mfschunktool.c for the exact wire
// layout and repair semantics.
package chunkfile

import (
	"fmt"

	"github.com/moosefs/moosefs-sub003/lib/mfserr"
)

const (
	// BlockSize is the size of one data block (§5.1): chunks are
	// divided into 1024 of these, giving the 64 MiB chunk size.
	BlockSize = 64 * 1024

	// BlocksPerChunk is the maximum number of data blocks in a chunk.
	BlocksPerChunk = 1024

	// MaxChunkSize is the full 64 MiB a chunk can hold.
	MaxChunkSize = BlockSize * BlocksPerChunk

	// CRCTableSize is the size in bytes of the per-block CRC table: one
	// uint32 per possible block.
	CRCTableSize = BlocksPerChunk * 4

	// HeaderSizeSmall and HeaderSizeLarge are the two historical
	// header sizes a chunk file may use; the actual size in use is
	// derived from the file's length (see HeaderSizeFor).
	HeaderSizeSmall = 1024
	HeaderSizeLarge = 4096

	// blockSizeMask keeps an offset's position within its BlockSize
	// block, mirroring MFSBLOCKMASK's use in the original scan tool.
	blockSizeMask = uint64(BlockSize - 1)
)

// Signature is the fixed 7-byte magic prefixing every chunk file
// header: "MFSC 1.", followed by a one-digit format version.
const Signature = "MFSC 1."

// FormatVersion distinguishes the two on-disk header sub-formats.
type FormatVersion byte

const (
	// FormatLegacy is chunk format "1.0": unwritten trailing blocks
	// have a zero CRC entry, which must be reconstructed as the CRC of
	// an all-zero block during verification.
	FormatLegacy FormatVersion = '0'
	// FormatSparse is chunk format "1.1": unwritten trailing blocks
	// keep an explicit zero-block CRC already stored in the table
	// (§5.1 "empty block tracking"), so a zero entry is only ever seen
	// for blocks genuinely never written.
	FormatSparse FormatVersion = '1'
)

func (v FormatVersion) Valid() bool { return v == FormatLegacy || v == FormatSparse }

// HeaderSizeFor derives the header size from a chunk file's total
// length, mirroring mschunktool.c's `(filesize - CHUNKCRCSIZE) &
// MFSBLOCKMASK` computation, and validates that it is one of the two
// legal sizes.
func HeaderSizeFor(fileSize int64) (int64, error) {
	if fileSize < CRCTableSize {
		return 0, fmt.Errorf("chunkfile: file too small (%d bytes)", fileSize)
	}
	hdrSize := (uint64(fileSize) - CRCTableSize) & blockSizeMask
	if hdrSize != HeaderSizeSmall && hdrSize != HeaderSizeLarge {
		return 0, fmt.Errorf("chunkfile: %w: unexpected header size %d", mfserr.New(mfserr.StatusEINVAL, "chunkfile.HeaderSizeFor"), hdrSize)
	}
	return int64(hdrSize), nil
}
