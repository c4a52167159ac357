// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chunkfile

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/moosefs/moosefs-sub003/lib/crc32x"
	"github.com/moosefs/moosefs-sub003/lib/diskio"
)

// syncer is implemented by diskio.File backends that can flush
// writes to stable storage (*os.File via diskio.OSFile does); it is
// checked for with a type assertion since diskio.File itself doesn't
// require it (in-memory test fakes have nothing to sync).
type syncer interface {
	Fd() uintptr
}

func fsync(f any) {
	if s, ok := f.(syncer); ok {
		_ = unix.Fsync(int(s.Fd()))
	}
}

// Result is the bitmask of outcomes from Check/Repair, matching the
// original tool's exit-status bits one-for-one (§5.4, §6):
//
//	1  name didn't match "chunk_...mfs", or the header didn't match
//	   the expected chunk id/version, and was not fixed
//	2  one or more block CRCs didn't match the header's CRC table
//	4  the header was rewritten (chunk id/version/signature fixed)
//	8  the CRC table was rewritten
//	16 fatal I/O or format error; Check/Repair could not complete
type Result uint8

const (
	ResultNameWrong   Result = 1
	ResultCRCError    Result = 2
	ResultHeaderFixed Result = 4
	ResultCRCFixed    Result = 8
	ResultFatal       Result = 16
	// ResultDuplicateID flags a chunk id already seen at a different
	// path during this run of ScanTree (or a sibling ScanTree call
	// sharing the same ScanOptions.Dupes cache) — two copies of a
	// chunk id coexisting outside of the master's own replication
	// bookkeeping, e.g. from a disk moved between chunk servers
	// without being re-registered.
	ResultDuplicateID Result = 32
)

func (r Result) String() string {
	if r == 0 {
		return "OK"
	}
	var parts []string
	if r&ResultNameWrong != 0 {
		parts = append(parts, "NAME")
	}
	if r&ResultCRCError != 0 {
		parts = append(parts, "CRC")
	}
	if r&ResultHeaderFixed != 0 {
		parts = append(parts, "HEADER-FIXED")
	}
	if r&ResultCRCFixed != 0 {
		parts = append(parts, "CRC-FIXED")
	}
	if r&ResultDuplicateID != 0 {
		parts = append(parts, "DUPLICATE-ID")
	}
	if r&ResultFatal != 0 {
		parts = append(parts, "FATAL")
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "|" + p
	}
	return out
}

// Options controls how Check behaves, mirroring mfschunktool's -f/-r/-e flags.
type Options struct {
	// Fast checks only the header and the last written data block,
	// instead of every block (-f).
	Fast bool
	// Repair rewrites a bad header and/or CRC table in place (-r).
	Repair bool
	// ForceEmptyCheck additionally validates the zero-block CRC of
	// the first never-written block in a FormatLegacy chunk, even
	// though that block has no corresponding data (-e).
	ForceEmptyCheck bool
}

// File wraps a diskio.File holding one chunk, providing the header,
// CRC table, and data block accessors that Check/Repair build on.
type File struct {
	f diskio.File[int64]
}

func Open(f diskio.File[int64]) *File {
	return &File{f: f}
}

func (c *File) headerAndCRCSize() (hdrSize int64, err error) {
	return HeaderSizeFor(c.f.Size())
}

func (c *File) readHeaderRegion(hdrSize int64) ([]byte, error) {
	buf := make([]byte, hdrSize)
	if _, err := c.f.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("chunkfile: reading header: %w", err)
	}
	return buf, nil
}

func (c *File) readCRCTable(hdrSize int64) ([BlocksPerChunk]uint32, error) {
	var table [BlocksPerChunk]uint32
	buf := make([]byte, CRCTableSize)
	if _, err := c.f.ReadAt(buf, hdrSize); err != nil {
		return table, fmt.Errorf("chunkfile: reading crc table: %w", err)
	}
	for i := range table {
		table[i] = binary.BigEndian.Uint32(buf[i*4:])
	}
	return table, nil
}

func (c *File) writeCRCTable(hdrSize int64, table [BlocksPerChunk]uint32) error {
	buf := make([]byte, CRCTableSize)
	for i, v := range table {
		binary.BigEndian.PutUint32(buf[i*4:], v)
	}
	if _, err := c.f.WriteAt(buf, hdrSize); err != nil {
		return fmt.Errorf("chunkfile: writing crc table: %w", err)
	}
	return nil
}

func (c *File) readBlock(dataOffset int64, index int) ([]byte, int, error) {
	buf := make([]byte, BlockSize)
	n, err := c.f.ReadAt(buf, dataOffset+int64(index)*BlockSize)
	if n == BlockSize {
		return buf, n, nil
	}
	return buf, n, err
}

// zeroBlockCRC is the CRC32 of one all-zero BlockSize buffer,
// computed once and reused wherever an unwritten block's expected
// checksum is needed — the same "mycrc32_zeroblock" shortcut the
// original tool takes rather than hashing a zero buffer every time.
var zeroBlockCRC = crc32x.Checksum(0, make([]byte, BlockSize))

// Check validates a chunk file's header against the expected
// (chunkID, version) and its CRC table against its data blocks, per
// §5.4. If opts.Repair is set, a bad header or CRC table is rewritten
// in place and the corresponding Result*Fixed bit is set instead of
// the error bit.
func (c *File) Check(chunkID uint64, version uint32, opts Options) (Result, error) {
	hdrSize, err := c.headerAndCRCSize()
	if err != nil {
		return ResultFatal, err
	}

	hdrBuf, err := c.readHeaderRegion(hdrSize)
	if err != nil {
		return ResultFatal, err
	}
	hdr, err := DecodeHeader(hdrBuf)
	var result Result
	hdrBad := false
	if err != nil {
		hdr = Header{Format: FormatLegacy}
		hdrBad = true
	}
	if hdr.ChunkID != chunkID || hdr.Version != version {
		hdr.ChunkID = chunkID
		hdr.Version = version
		hdrBad = true
	}

	if hdrBad && opts.Repair {
		newHdr := EncodeHeader(hdr, hdrSize)
		if _, err := c.f.WriteAt(newHdr, 0); err != nil {
			return ResultFatal, fmt.Errorf("chunkfile: rewriting header: %w", err)
		}
		fsync(c.f)
		result |= ResultHeaderFixed
	} else if hdrBad {
		result |= ResultNameWrong
	}

	table, err := c.readCRCTable(hdrSize)
	if err != nil {
		return ResultFatal, err
	}

	dataOffset := hdrSize + CRCTableSize
	totalSize := c.f.Size()
	numBlocks := int((totalSize - dataOffset) / BlockSize)
	if numBlocks < 0 || numBlocks > BlocksPerChunk || (totalSize-dataOffset)%BlockSize != 0 {
		return result | ResultFatal, fmt.Errorf("chunkfile: wrong data size (%d bytes past header+crc)", totalSize-dataOffset)
	}

	crcChanged := false
	if opts.Fast && !opts.Repair {
		if numBlocks > 0 {
			buf, n, err := c.readBlock(dataOffset, numBlocks-1)
			if err != nil || n != BlockSize {
				return result | ResultFatal, fmt.Errorf("chunkfile: reading last data block: %w", err)
			}
			got := crc32x.Checksum(0, buf)
			if table[numBlocks-1] != got {
				result |= ResultCRCError
			}
		}
		if opts.ForceEmptyCheck && hdr.Format == FormatLegacy && numBlocks < BlocksPerChunk {
			next := table[numBlocks]
			if next != zeroBlockCRC && next != 0 {
				result |= ResultCRCError
			}
		}
	} else {
		for i := 0; i < BlocksPerChunk; i++ {
			var got uint32
			if i < numBlocks {
				buf, n, err := c.readBlock(dataOffset, i)
				if err != nil || n != BlockSize {
					return result | ResultFatal, fmt.Errorf("chunkfile: reading data block %d: %w", i, err)
				}
				got = crc32x.Checksum(0, buf)
			} else {
				got = zeroBlockCRC
				if hdr.Format == FormatLegacy && table[i] == 0 {
					got = 0
				}
			}
			if table[i] != got {
				result |= ResultCRCError
				table[i] = got
				crcChanged = true
			}
		}
		if crcChanged && opts.Repair {
			if err := c.writeCRCTable(hdrSize, table); err != nil {
				return result | ResultFatal, err
			}
			fsync(c.f)
			result |= ResultCRCFixed
			result &^= ResultCRCError
		}
	}

	return result, nil
}
