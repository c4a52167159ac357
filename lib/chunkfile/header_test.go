// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chunkfile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosefs/moosefs-sub003/lib/chunkfile"
)

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	h := chunkfile.Header{Format: chunkfile.FormatSparse, ChunkID: 0xDEADBEEFCAFEBABE, Version: 0x12345678}
	buf := chunkfile.EncodeHeader(h, chunkfile.HeaderSizeSmall)
	assert.Len(t, buf, chunkfile.HeaderSizeSmall)

	got, err := chunkfile.DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestHeaderBadSignature(t *testing.T) {
	t.Parallel()
	buf := make([]byte, chunkfile.HeaderSizeSmall)
	copy(buf, "garbage")
	_, err := chunkfile.DecodeHeader(buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, chunkfile.ErrBadHeader)
}

func TestHeaderBadFormatDigit(t *testing.T) {
	t.Parallel()
	h := chunkfile.Header{Format: '9', ChunkID: 1, Version: 1}
	buf := chunkfile.EncodeHeader(h, chunkfile.HeaderSizeSmall)
	_, err := chunkfile.DecodeHeader(buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, chunkfile.ErrBadHeader)
}

func TestHeaderSizeFor(t *testing.T) {
	t.Parallel()
	size, err := chunkfile.HeaderSizeFor(chunkfile.HeaderSizeSmall + chunkfile.CRCTableSize)
	require.NoError(t, err)
	assert.Equal(t, int64(chunkfile.HeaderSizeSmall), size)

	size, err = chunkfile.HeaderSizeFor(chunkfile.HeaderSizeLarge + chunkfile.CRCTableSize + 3*chunkfile.BlockSize)
	require.NoError(t, err)
	assert.Equal(t, int64(chunkfile.HeaderSizeLarge), size)

	_, err = chunkfile.HeaderSizeFor(chunkfile.CRCTableSize + 17)
	require.Error(t, err)
}
