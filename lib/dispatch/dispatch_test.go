// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosefs/moosefs-sub003/lib/advlock"
	"github.com/moosefs/moosefs-sub003/lib/chunkindex"
	"github.com/moosefs/moosefs-sub003/lib/dispatch"
	"github.com/moosefs/moosefs-sub003/lib/metadata"
	"github.com/moosefs/moosefs-sub003/lib/mfserr"
	"github.com/moosefs/moosefs-sub003/lib/mfsproto"
	"github.com/moosefs/moosefs-sub003/lib/openfiles"
	"github.com/moosefs/moosefs-sub003/lib/session"
	"github.com/moosefs/moosefs-sub003/lib/storageclass"
)

func newDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	sclasses := storageclass.NewRegistry(nil)
	require.NoError(t, sclasses.Create(3, "fast", false, "2*"))

	d := &dispatch.Dispatcher{
		Sessions: session.NewTable(nil, time.Hour, time.Now()),
		Open:     openfiles.NewTable(nil),
		Flock:    advlock.NewFlockTable(advlock.FlockModeLinux, nil, nil, nil),
		Posix:    advlock.NewPosixTable(nil, nil, nil),
		Graph:    metadata.NewGraph(sclasses, metadata.NewQuotaTable(nil), nil, nil, nil),
		XAttrs:   metadata.NewXAttrStore(nil),
		Chunks:   chunkindex.NewIndex(1, nil, nil),
		SClasses: sclasses,
	}
	return dispatch.NewDispatcher(d)
}

func registerConn(t *testing.T, d *dispatch.Dispatcher) *dispatch.Conn {
	t.Helper()
	c := &dispatch.Conn{}
	buf := mfsproto.PutU32(nil, 1) // msgid
	buf = mfsproto.PutU32(buf, 0x3005D) // version 3.0.93
	buf = mfsproto.PutU32(buf, metadata.RootInode)
	buf = mfsproto.PutU8(buf, 0)  // sesflags
	buf = mfsproto.PutU16(buf, 0) // umask
	buf = mfsproto.PutU32(buf, 0) // rootuid
	buf = mfsproto.PutU32(buf, 0) // rootgid
	buf = mfsproto.PutU32(buf, 0) // mapalluid
	buf = mfsproto.PutU32(buf, 0) // mapallgid
	buf = mfsproto.PutU32(buf, 0xFFFFFFFF) // sclassgroups: all
	buf = mfsproto.PutU32(buf, 0)          // mintrash
	buf = mfsproto.PutU32(buf, 1<<20)       // maxtrash
	buf = mfsproto.PutU32(buf, 0)          // disables
	buf = mfsproto.PutU32(buf, 0x7F000001) // peer ip
	buf = mfsproto.PutData(buf, []byte("test-mount"))

	typ, reply, err := d.Dispatch(c, mfsproto.CLTOMA_FUSE_REGISTER, buf)
	require.NoError(t, err)
	assert.Equal(t, mfsproto.MATOCL_FUSE_REGISTER, typ)
	assert.Equal(t, dispatch.Mount, c.Registered)
	assert.NotZero(t, c.SessionID)

	msgID, rest, err := mfsproto.GetU32(reply)
	require.NoError(t, err)
	assert.EqualValues(t, 1, msgID)
	sessID, _, err := mfsproto.GetU32(rest)
	require.NoError(t, err)
	assert.Equal(t, c.SessionID, sessID)
	return c
}

func ugidPayload(inode, uid, gid uint32) []byte {
	buf := mfsproto.PutU32(nil, inode)
	buf = mfsproto.PutU32(buf, uid)
	buf = mfsproto.PutU32(buf, gid)
	return buf
}

func TestDispatchRejectsUnregisteredMountOps(t *testing.T) {
	d := newDispatcher(t)
	c := &dispatch.Conn{}
	_, _, err := d.Dispatch(c, mfsproto.CLTOMA_FUSE_GETATTR, mfsproto.PutU32(mfsproto.PutU32(nil, 1), metadata.RootInode))
	var kill *dispatch.ErrKillConnection
	require.ErrorAs(t, err, &kill)
}

func TestDispatchRegisterThenMkdirCreateLookupGetattrSetattrUnlink(t *testing.T) {
	d := newDispatcher(t)
	c := registerConn(t, d)

	// MKDIR /d
	req := mfsproto.PutU32(nil, 2) // msgid
	req = mfsproto.PutU32(req, metadata.RootInode)
	req = mfsproto.PutName(req, "d")
	req = mfsproto.PutU32(req, 0755)
	req = mfsproto.PutU16(req, 0)
	req = append(req, ugidPayload(0, 0, 0)[4:]...) // uid, gid only (no extra inode field)
	typ, reply, err := d.Dispatch(c, mfsproto.CLTOMA_FUSE_MKDIR, req)
	require.NoError(t, err)
	assert.Equal(t, mfsproto.MATOCL_FUSE_MKDIR, typ)
	_, rest, err := mfsproto.GetU32(reply)
	require.NoError(t, err)
	dirID, _, err := mfsproto.GetU32(rest)
	require.NoError(t, err)
	assert.NotZero(t, dirID)

	// CREATE /d/f
	req = mfsproto.PutU32(nil, 3)
	req = mfsproto.PutU32(req, dirID)
	req = mfsproto.PutName(req, "f")
	req = mfsproto.PutU32(req, 0644)
	req = mfsproto.PutU16(req, 0)
	req = append(req, ugidPayload(0, 0, 0)[4:]...)
	typ, reply, err = d.Dispatch(c, mfsproto.CLTOMA_FUSE_CREATE, req)
	require.NoError(t, err)
	assert.Equal(t, mfsproto.MATOCL_FUSE_CREATE, typ)
	_, rest, err = mfsproto.GetU32(reply)
	require.NoError(t, err)
	fileID, _, err := mfsproto.GetU32(rest)
	require.NoError(t, err)
	assert.NotZero(t, fileID)

	// LOOKUP d/f
	req = mfsproto.PutU32(nil, 4)
	req = mfsproto.PutU32(req, dirID)
	req = mfsproto.PutName(req, "f")
	req = append(req, ugidPayload(0, 0, 0)[4:]...)
	typ, reply, err = d.Dispatch(c, mfsproto.CLTOMA_FUSE_LOOKUP, req)
	require.NoError(t, err)
	assert.Equal(t, mfsproto.MATOCL_FUSE_LOOKUP, typ)
	_, rest, err = mfsproto.GetU32(reply)
	require.NoError(t, err)
	lookedUp, _, err := mfsproto.GetU32(rest)
	require.NoError(t, err)
	assert.Equal(t, fileID, lookedUp)

	// GETATTR
	req = mfsproto.PutU32(nil, 5)
	req = mfsproto.PutU32(req, fileID)
	typ, reply, err = d.Dispatch(c, mfsproto.CLTOMA_FUSE_GETATTR, req)
	require.NoError(t, err)
	assert.Equal(t, mfsproto.MATOCL_FUSE_GETATTR, typ)
	require.NotEmpty(t, reply)

	// SETATTR: chmod to 0600
	req = mfsproto.PutU32(nil, 6)
	req = mfsproto.PutU32(req, fileID)
	req = mfsproto.PutU32(req, 0600)
	req = mfsproto.PutU32(req, 0)
	req = mfsproto.PutU32(req, 0)
	req = mfsproto.PutU32(req, 0)
	req = mfsproto.PutU32(req, 0)
	req = mfsproto.PutU8(req, 0)
	req = mfsproto.PutU8(req, 0)
	typ, _, err = d.Dispatch(c, mfsproto.CLTOMA_FUSE_SETATTR, req)
	require.NoError(t, err)
	assert.Equal(t, mfsproto.MATOCL_FUSE_SETATTR, typ)

	n, err := d.Graph.GetInode(fileID)
	require.NoError(t, err)
	assert.EqualValues(t, 0600, n.Perm)

	// UNLINK d/f
	req = mfsproto.PutU32(nil, 7)
	req = mfsproto.PutU32(req, dirID)
	req = mfsproto.PutName(req, "f")
	typ, reply, err = d.Dispatch(c, mfsproto.CLTOMA_FUSE_UNLINK, req)
	require.NoError(t, err)
	assert.Equal(t, mfsproto.MATOCL_FUSE_UNLINK, typ)
	_, status, err := mfsproto.GetU32(reply)
	require.NoError(t, err)
	assert.EqualValues(t, mfserr.StatusOK, status[0])

	_, err = d.Graph.Lookup(dirID, "f")
	assert.Error(t, err)
}

func TestDispatchSetTrashRetentionEnforcesSessionBounds(t *testing.T) {
	d := newDispatcher(t)
	c := registerConn(t, d)
	fileID, err := d.Graph.Create(metadata.CreateParams{Parent: metadata.RootInode, Name: "f", Type: mfsproto.TypeFile, Perm: 0644, Now: 1})
	require.NoError(t, err)

	req := mfsproto.PutU32(nil, 10)
	req = mfsproto.PutU32(req, fileID)
	req = mfsproto.PutU32(req, 1<<30) // far above the session's maxtrash
	req = mfsproto.PutU8(req, uint8(session.SModeSet))
	typ, reply, err := d.Dispatch(c, mfsproto.CLTOMA_FUSE_SETTRASHRETENTION, req)
	require.NoError(t, err)
	assert.Equal(t, mfsproto.MATOCL_FUSE_SETTRASHRETENTION, typ)
	_, rest, err := mfsproto.GetU32(reply)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.NotEqual(t, mfserr.StatusOK, mfserr.Status(rest[0]))

	req = mfsproto.PutU32(nil, 11)
	req = mfsproto.PutU32(req, fileID)
	req = mfsproto.PutU32(req, 3600)
	req = mfsproto.PutU8(req, uint8(session.SModeSet))
	typ, reply, err = d.Dispatch(c, mfsproto.CLTOMA_FUSE_SETTRASHRETENTION, req)
	require.NoError(t, err)
	assert.Equal(t, mfsproto.MATOCL_FUSE_SETTRASHRETENTION, typ)
	_, rest, err = mfsproto.GetU32(reply)
	require.NoError(t, err)
	hours, _, err := mfsproto.GetU32(rest)
	require.NoError(t, err)
	assert.EqualValues(t, 3600, hours)
}

func TestDispatchSetSClassWithGroupPermissionApplies(t *testing.T) {
	d := newDispatcher(t)
	c := registerConn(t, d)
	fileID, err := d.Graph.Create(metadata.CreateParams{Parent: metadata.RootInode, Name: "f", Type: mfsproto.TypeFile, Perm: 0644, Now: 1})
	require.NoError(t, err)

	req := mfsproto.PutU32(nil, 20)
	req = mfsproto.PutU32(req, fileID)
	req = mfsproto.PutU8(req, 0)
	req = mfsproto.PutU8(req, 3)
	req = mfsproto.PutU8(req, uint8(session.SModeSet))
	typ, reply, err := d.Dispatch(c, mfsproto.CLTOMA_FUSE_SETSCLASS, req)
	require.NoError(t, err)
	assert.Equal(t, mfsproto.MATOCL_FUSE_SETSCLASS, typ)
	_, rest, err := mfsproto.GetU32(reply)
	require.NoError(t, err)
	class, _, err := mfsproto.GetU8(rest)
	require.NoError(t, err)
	assert.EqualValues(t, 3, class)

	n, err := d.Graph.GetInode(fileID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n.SClassID)
}

func TestDispatchSetEAttrThenGetEAttrReportsHistogram(t *testing.T) {
	d := newDispatcher(t)
	c := registerConn(t, d)
	fileID, err := d.Graph.Create(metadata.CreateParams{Parent: metadata.RootInode, Name: "f", Type: mfsproto.TypeFile, Perm: 0644, Now: 1})
	require.NoError(t, err)

	req := mfsproto.PutU32(nil, 30)
	req = mfsproto.PutU32(req, fileID)
	req = mfsproto.PutU32(req, 0) // uid
	req = mfsproto.PutU8(req, uint8(metadata.EAttrNoOwner))
	req = mfsproto.PutU8(req, uint8(session.SModeSet))
	typ, reply, err := d.Dispatch(c, mfsproto.CLTOMA_FUSE_SETEATTR, req)
	require.NoError(t, err)
	assert.Equal(t, mfsproto.MATOCL_FUSE_SETEATTR, typ)
	_, rest, err := mfsproto.GetU32(reply)
	require.NoError(t, err)
	changed, rest, err := mfsproto.GetU32(rest)
	require.NoError(t, err)
	assert.EqualValues(t, 1, changed)
	notChanged, rest, err := mfsproto.GetU32(rest)
	require.NoError(t, err)
	assert.Zero(t, notChanged)
	notPermitted, _, err := mfsproto.GetU32(rest)
	require.NoError(t, err)
	assert.Zero(t, notPermitted)

	n, err := d.Graph.GetInode(fileID)
	require.NoError(t, err)
	assert.Equal(t, metadata.EAttrNoOwner, n.EAttr)

	req = mfsproto.PutU32(nil, 31)
	req = mfsproto.PutU32(req, fileID)
	req = mfsproto.PutU8(req, 0) // gmode
	typ, reply, err = d.Dispatch(c, mfsproto.CLTOMA_FUSE_GETEATTR, req)
	require.NoError(t, err)
	assert.Equal(t, mfsproto.MATOCL_FUSE_GETEATTR, typ)
	_, rest, err = mfsproto.GetU32(reply)
	require.NoError(t, err)
	fn, rest, err := mfsproto.GetU8(rest)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fn, "the file bucket gets the one-entry histogram for a non-directory inode")
	dn, rest, err := mfsproto.GetU8(rest)
	require.NoError(t, err)
	assert.Zero(t, dn)
	eattrVal, rest, err := mfsproto.GetU8(rest)
	require.NoError(t, err)
	assert.EqualValues(t, metadata.EAttrNoOwner, eattrVal)
	count, _, err := mfsproto.GetU32(rest)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestDispatchFlockSecondExclusiveWaitsThenHolderUnlocks(t *testing.T) {
	d := newDispatcher(t)
	c := registerConn(t, d)
	fileID, err := d.Graph.Create(metadata.CreateParams{Parent: metadata.RootInode, Name: "f", Type: mfsproto.TypeFile, Perm: 0644, Now: 1})
	require.NoError(t, err)
	d.Open.Open(c.SessionID, fileID)

	buildFlock := func(msgID, reqID uint32, owner uint64, op advlock.FlockOp) []byte {
		buf := mfsproto.PutU32(nil, fileID)
		buf = mfsproto.PutU32(buf, reqID)
		buf = mfsproto.PutU64(buf, owner)
		buf = mfsproto.PutU8(buf, uint8(op))
		return append(mfsproto.PutU32(nil, msgID), buf...)
	}

	typ, reply, err := d.Dispatch(c, mfsproto.CLTOMA_FUSE_FLOCK, buildFlock(1, 1, 0xA, advlock.FlockLockExclusive))
	require.NoError(t, err)
	assert.Equal(t, mfsproto.MATOCL_FUSE_FLOCK, typ)
	_, rest, err := mfsproto.GetU32(reply)
	require.NoError(t, err)
	assert.EqualValues(t, mfserr.StatusOK, rest[0])

	typ, reply, err = d.Dispatch(c, mfsproto.CLTOMA_FUSE_FLOCK, buildFlock(2, 2, 0xB, advlock.FlockLockExclusive))
	require.NoError(t, err)
	assert.Equal(t, mfsproto.Type(0), typ)
	assert.Nil(t, reply)

	typ, reply, err = d.Dispatch(c, mfsproto.CLTOMA_FUSE_FLOCK, buildFlock(3, 1, 0xA, advlock.FlockUnlock))
	require.NoError(t, err)
	assert.Equal(t, mfsproto.MATOCL_FUSE_FLOCK, typ)
	_, rest, err = mfsproto.GetU32(reply)
	require.NoError(t, err)
	assert.EqualValues(t, mfserr.StatusOK, rest[0])
}
