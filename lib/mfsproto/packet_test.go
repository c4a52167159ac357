// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mfsproto_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosefs/moosefs-sub003/lib/mfsproto"
)

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := mfsproto.NewWriter(&buf)
	require.NoError(t, w.WritePacket(mfsproto.Type(500), []byte("hello")))
	require.NoError(t, w.WriteNop())

	r := mfsproto.NewReader(&buf, mfsproto.ClientToMaster)
	typ, payload, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, mfsproto.Type(500), typ)
	assert.Equal(t, []byte("hello"), payload)

	typ, payload, err = r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, mfsproto.ANTOAN_NOP, typ)
	assert.Empty(t, payload)
}

func TestReadPacketTooBig(t *testing.T) {
	t.Parallel()
	var hdr [8]byte
	hdr[3] = 1 // type = 1
	// length far beyond the client<->master cap
	hdr[4] = 0xFF
	hdr[5] = 0xFF
	hdr[6] = 0xFF
	hdr[7] = 0xFF
	r := mfsproto.NewReader(bytes.NewReader(hdr[:]), mfsproto.ClientToMaster)
	_, _, err := r.ReadPacket()
	require.Error(t, err)
	var tooBig *mfsproto.ErrPacketTooBig
	require.ErrorAs(t, err, &tooBig)
}

func TestReadPacketShortPayload(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := mfsproto.NewWriter(&buf)
	require.NoError(t, w.WritePacket(1, []byte("abcdef")))
	truncated := buf.Bytes()[:10] // header + 2 of 6 payload bytes
	r := mfsproto.NewReader(bytes.NewReader(truncated), mfsproto.ClientToMaster)
	_, _, err := r.ReadPacket()
	require.Error(t, err)
}

func TestWriteUnknownCommand(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := mfsproto.NewWriter(&buf)
	require.NoError(t, w.WriteUnknownCommand(mfsproto.Type(9999)))

	r := mfsproto.NewReader(&buf, mfsproto.MasterToClient)
	typ, payload, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, mfsproto.ANTOAN_UNKNOWN_COMMAND, typ)
	got, _, err := mfsproto.GetU32(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(9999), got)
}

func TestDirectionCaps(t *testing.T) {
	t.Parallel()
	assert.Less(t, mfsproto.ChunkserverToMaster.MaxPacketSize(), mfsproto.ClientToMaster.MaxPacketSize())
	assert.NotEmpty(t, mfsproto.ClientToMaster.String())
}
