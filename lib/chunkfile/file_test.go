// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chunkfile_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosefs/moosefs-sub003/lib/chunkfile"
	"github.com/moosefs/moosefs-sub003/lib/crc32x"
)

// memFile is a minimal in-memory diskio.File[int64], sized for tests
// that need to exercise Check/Repair without touching a real disk.
type memFile struct {
	buf []byte
}

func newMemFile(size int) *memFile { return &memFile{buf: make([]byte, size)} }

func (m *memFile) Name() string { return "mem" }
func (m *memFile) Size() int64  { return int64(len(m.buf)) }
func (m *memFile) Close() error { return nil }

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.buf[off:])
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	need := int(off) + len(p)
	if need > len(m.buf) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[off:], p)
	return n, nil
}

// buildChunk lays out a complete FormatSparse chunk file with a
// correct header and CRC table (unwritten blocks carry the zero-block
// CRC), for tests to then corrupt.
func buildChunk(t *testing.T, chunkID uint64, version uint32, blocks [][]byte) *memFile {
	t.Helper()
	hdrSize := int64(chunkfile.HeaderSizeSmall)
	total := hdrSize + chunkfile.CRCTableSize + int64(len(blocks))*chunkfile.BlockSize
	mf := newMemFile(int(total))

	hdr := chunkfile.Header{Format: chunkfile.FormatSparse, ChunkID: chunkID, Version: version}
	hdrBuf := chunkfile.EncodeHeader(hdr, hdrSize)
	_, err := mf.WriteAt(hdrBuf, 0)
	require.NoError(t, err)

	crcBuf := make([]byte, chunkfile.CRCTableSize)
	for i, b := range blocks {
		full := make([]byte, chunkfile.BlockSize)
		copy(full, b)
		binary.BigEndian.PutUint32(crcBuf[i*4:], crc32x.Checksum(0, full))
		_, err := mf.WriteAt(full, hdrSize+chunkfile.CRCTableSize+int64(i)*chunkfile.BlockSize)
		require.NoError(t, err)
	}
	zeroCRC := crc32x.Checksum(0, make([]byte, chunkfile.BlockSize))
	for i := len(blocks); i < chunkfile.BlocksPerChunk; i++ {
		binary.BigEndian.PutUint32(crcBuf[i*4:], zeroCRC)
	}
	_, err = mf.WriteAt(crcBuf, hdrSize)
	require.NoError(t, err)
	return mf
}

func TestCheckCleanChunk(t *testing.T) {
	t.Parallel()
	blocks := [][]byte{[]byte("hello world"), []byte("second block")}
	mf := buildChunk(t, 42, 1, blocks)

	cf := chunkfile.Open(mf)
	result, err := cf.Check(42, 1, chunkfile.Options{})
	require.NoError(t, err)
	assert.Equal(t, chunkfile.Result(0), result)
}

func TestCheckDetectsCRCMismatch(t *testing.T) {
	t.Parallel()
	blocks := [][]byte{[]byte("hello world"), []byte("second block")}
	mf := buildChunk(t, 42, 1, blocks)

	// corrupt the second data block without updating its CRC entry.
	hdrSize := int64(chunkfile.HeaderSizeSmall)
	dataOff := hdrSize + chunkfile.CRCTableSize + chunkfile.BlockSize
	_, err := mf.WriteAt([]byte("TAMPERED!!!!"), dataOff)
	require.NoError(t, err)

	cf := chunkfile.Open(mf)
	result, err := cf.Check(42, 1, chunkfile.Options{})
	require.NoError(t, err)
	assert.NotZero(t, result&chunkfile.ResultCRCError)
}

func TestCheckRepairFixesCRC(t *testing.T) {
	t.Parallel()
	blocks := [][]byte{[]byte("hello world"), []byte("second block")}
	mf := buildChunk(t, 42, 1, blocks)

	hdrSize := int64(chunkfile.HeaderSizeSmall)
	dataOff := hdrSize + chunkfile.CRCTableSize + chunkfile.BlockSize
	_, err := mf.WriteAt([]byte("TAMPERED!!!!"), dataOff)
	require.NoError(t, err)

	cf := chunkfile.Open(mf)
	result, err := cf.Check(42, 1, chunkfile.Options{Repair: true})
	require.NoError(t, err)
	assert.NotZero(t, result&chunkfile.ResultCRCFixed)
	assert.Zero(t, result&chunkfile.ResultCRCError)

	result2, err := cf.Check(42, 1, chunkfile.Options{})
	require.NoError(t, err)
	assert.Equal(t, chunkfile.Result(0), result2)
}

func TestCheckDetectsHeaderMismatch(t *testing.T) {
	t.Parallel()
	mf := buildChunk(t, 42, 1, nil)

	cf := chunkfile.Open(mf)
	result, err := cf.Check(99, 2, chunkfile.Options{Repair: true})
	require.NoError(t, err)
	assert.NotZero(t, result&chunkfile.ResultHeaderFixed)

	result2, err := cf.Check(99, 2, chunkfile.Options{})
	require.NoError(t, err)
	assert.Equal(t, chunkfile.Result(0), result2)
}

func TestCheckFastModeOnlyChecksLastBlock(t *testing.T) {
	t.Parallel()
	blocks := [][]byte{[]byte("good"), []byte("good2")}
	mf := buildChunk(t, 7, 1, blocks)

	hdrSize := int64(chunkfile.HeaderSizeSmall)
	// tamper the first block's CRC entry only; fast mode shouldn't see it.
	crcOff := hdrSize
	var corrupt [4]byte
	binary.BigEndian.PutUint32(corrupt[:], 0xFFFFFFFF)
	_, err := mf.WriteAt(corrupt[:], crcOff)
	require.NoError(t, err)

	cf := chunkfile.Open(mf)
	result, err := cf.Check(7, 1, chunkfile.Options{Fast: true})
	require.NoError(t, err)
	assert.Zero(t, result&chunkfile.ResultCRCError)

	result2, err := cf.Check(7, 1, chunkfile.Options{Fast: false})
	require.NoError(t, err)
	assert.NotZero(t, result2&chunkfile.ResultCRCError)
}

func TestResultString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "OK", chunkfile.Result(0).String())
	assert.Equal(t, "CRC|CRC-FIXED", (chunkfile.ResultCRCError | chunkfile.ResultCRCFixed).String())
	assert.Equal(t, "DUPLICATE-ID", chunkfile.ResultDuplicateID.String())
}
