// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatch

import (
	"github.com/moosefs/moosefs-sub003/lib/mfsproto"
	"github.com/moosefs/moosefs-sub003/lib/session"
)

func init() {
	register(mfsproto.CLTOMA_FUSE_REGISTER, Unregistered, handleRegister)
}

// handleRegister implements the REGISTER_NEWSESSION path of
// matoclserv_fuse_register. The original's wire format leads with a
// 64-byte magic blob, an rcode byte selecting among
// GETRANDOM/NEWSESSION/RECONNECT/NEWMETASESSION/CLOSESESSION, and
// (for a real mount) a client-supplied export path that the server
// resolves against exports.cfg via exports_check — none of which this
// module implements (there is no lib/exports; no on-disk export-list
// parser was retrieved). This handler instead takes the session
// parameters directly off the wire, as if exports_check had already
// resolved them, and only ever creates a brand new session — the
// RECONNECT/NEWMETASESSION/CLOSESESSION rcodes and the
// password-challenge round trip are not reproduced. This is the
// biggest single scope cut in this package; see DESIGN.md.
func handleRegister(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	version, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_REGISTER, Reason: err.Error()}
	}
	rootInode, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_REGISTER, Reason: err.Error()}
	}
	sesflags, data, err := mfsproto.GetU8(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_REGISTER, Reason: err.Error()}
	}
	umask, data, err := mfsproto.GetU16(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_REGISTER, Reason: err.Error()}
	}
	rootUID, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_REGISTER, Reason: err.Error()}
	}
	rootGID, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_REGISTER, Reason: err.Error()}
	}
	mapAllUID, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_REGISTER, Reason: err.Error()}
	}
	mapAllGID, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_REGISTER, Reason: err.Error()}
	}
	sclassGroups, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_REGISTER, Reason: err.Error()}
	}
	minTrash, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_REGISTER, Reason: err.Error()}
	}
	maxTrash, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_REGISTER, Reason: err.Error()}
	}
	disables, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_REGISTER, Reason: err.Error()}
	}
	peerIP, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_REGISTER, Reason: err.Error()}
	}
	info, _, err := mfsproto.GetData(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_REGISTER, Reason: err.Error()}
	}

	p := session.Params{
		RootInode:         rootInode,
		Flags:             session.Flags(sesflags),
		Umask:             umask,
		RootUID:           rootUID,
		RootGID:           rootGID,
		MapAllUID:         mapAllUID,
		MapAllGID:         mapAllGID,
		SClassGroups:      sclassGroups,
		MinTrashRetention: minTrash,
		MaxTrashRetention: maxTrash,
		Disables:          disables,
		PeerIP:            peerIP,
		Info:              info,
	}
	sess := d.Sessions.Create(p)
	if err := d.Sessions.Attach(sess.ID, peerIP, version); err != nil {
		return errStatusReply(mfsproto.MATOCL_FUSE_REGISTER, msgID, err)
	}
	c.Registered = Mount
	c.SessionID = sess.ID
	c.Version = version

	buf := mfsproto.PutU32(nil, msgID)
	buf = mfsproto.PutU32(buf, sess.ID)
	buf = mfsproto.PutU8(buf, sesflags)
	buf = mfsproto.PutU32(buf, rootUID)
	buf = mfsproto.PutU32(buf, rootGID)
	buf = mfsproto.PutU32(buf, mapAllUID)
	buf = mfsproto.PutU32(buf, mapAllGID)
	buf = mfsproto.PutU32(buf, minTrash)
	buf = mfsproto.PutU32(buf, maxTrash)
	buf = mfsproto.PutU32(buf, disables)
	return mfsproto.MATOCL_FUSE_REGISTER, buf, nil
}
