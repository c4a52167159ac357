// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mfsproto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosefs/moosefs-sub003/lib/mfsproto"
)

func TestAttrRoundTripLegacyFile(t *testing.T) {
	t.Parallel()
	in := mfsproto.Attr{
		Flags:    1,
		TypeMode: mfsproto.PackTypeMode(mfsproto.TypeFile, 0644),
		UID:      1000,
		GID:      1000,
		ATime:    1700000000,
		MTime:    1700000001,
		CTime:    1700000002,
		NLink:    1,
		Length:   123456789,
	}
	buf, err := mfsproto.EncodeAttr(nil, in)
	require.NoError(t, err)
	assert.Len(t, buf, mfsproto.AttrSizeLegacy)

	out, rest, err := mfsproto.DecodeAttr(buf, true)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, in, out)
}

func TestAttrRoundTripCurrentDevice(t *testing.T) {
	t.Parallel()
	in := mfsproto.Attr{
		Flags:      0,
		TypeMode:   mfsproto.PackTypeMode(mfsproto.TypeBlockDev, 0600),
		UID:        0,
		GID:        0,
		ATime:      1,
		MTime:      2,
		CTime:      3,
		NLink:      1,
		RdevMaj:    8,
		RdevMin:    1,
		WinAttr:    0x20,
		HasWinAttr: true,
	}
	buf, err := mfsproto.EncodeAttr(nil, in)
	require.NoError(t, err)
	assert.Len(t, buf, mfsproto.AttrSizeCurrent)

	out, rest, err := mfsproto.DecodeAttr(buf, false)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, in, out)
}

func TestTypeModePackUnpack(t *testing.T) {
	t.Parallel()
	tm := mfsproto.PackTypeMode(mfsproto.TypeDir, 0755)
	typ, perm := mfsproto.UnpackTypeMode(tm)
	assert.Equal(t, mfsproto.TypeDir, typ)
	assert.Equal(t, uint16(0755), perm)
}
