// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatch

import (
	"github.com/moosefs/moosefs-sub003/lib/advlock"
	"github.com/moosefs/moosefs-sub003/lib/mfserr"
	"github.com/moosefs/moosefs-sub003/lib/mfsproto"
)

func init() {
	register(mfsproto.CLTOMA_FUSE_FLOCK, Mount, handleFlock)
	register(mfsproto.CLTOMA_FUSE_POSIX_LOCK, Mount, handlePosixLock)
}

// handleFlock implements matoclserv_fuse_flock's request side: decode
// "msgid:u32, inode:u32, reqid:u32, owner:u64, op:u8" and hand it to
// FlockTable.Cmd. A StatusWaiting result means the lock was enqueued —
// Cmd's Notifier callback delivers the eventual reply asynchronously,
// the same way the original never builds a packet for this call when
// eptr's lock request blocks; Dispatch's "nil payload, nil error"
// convention signals that to the caller here.
func handleFlock(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_FLOCK, Reason: err.Error()}
	}
	reqID, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_FLOCK, Reason: err.Error()}
	}
	owner, data, err := mfsproto.GetU64(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_FLOCK, Reason: err.Error()}
	}
	op, _, err := mfsproto.GetU8(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_FLOCK, Reason: err.Error()}
	}
	status := d.Flock.Cmd(c.SessionID, msgID, reqID, inode, owner, advlock.FlockOp(op))
	if status == mfserr.StatusWaiting {
		return 0, nil, nil
	}
	return statusReply(mfsproto.MATOCL_FUSE_FLOCK, msgID, status)
}

// handlePosixLock implements matoclserv_fuse_posixlock's request
// side: decode "msgid:u32, inode:u32, reqid:u32, owner:u64, pid:u32,
// cmd:u8, type:u8, start:u64, end:u64" and hand it to PosixTable.Cmd.
// Like handleFlock, a StatusWaiting result sends no immediate reply.
// For PosixCmdGet the returned range fields describe the conflicting
// lock (fcntl F_GETLK semantics); for Set/Try/Int they echo the
// caller's own request back, matching Cmd's own documented contract.
func handlePosixLock(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_POSIX_LOCK, Reason: err.Error()}
	}
	reqID, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_POSIX_LOCK, Reason: err.Error()}
	}
	owner, data, err := mfsproto.GetU64(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_POSIX_LOCK, Reason: err.Error()}
	}
	pid, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_POSIX_LOCK, Reason: err.Error()}
	}
	cmd, data, err := mfsproto.GetU8(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_POSIX_LOCK, Reason: err.Error()}
	}
	rtype, data, err := mfsproto.GetU8(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_POSIX_LOCK, Reason: err.Error()}
	}
	start, data, err := mfsproto.GetU64(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_POSIX_LOCK, Reason: err.Error()}
	}
	end, _, err := mfsproto.GetU64(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_POSIX_LOCK, Reason: err.Error()}
	}
	status, outType, outStart, outEnd, outPid := d.Posix.Cmd(
		c.SessionID, msgID, reqID, inode, owner,
		advlock.PosixCmd(cmd), advlock.RangeType(rtype), start, end, pid,
	)
	if status == mfserr.StatusWaiting {
		return 0, nil, nil
	}
	buf := mfsproto.PutU32(nil, msgID)
	buf = mfsproto.PutU8(buf, uint8(status))
	buf = mfsproto.PutU8(buf, uint8(outType))
	buf = mfsproto.PutU64(buf, outStart)
	buf = mfsproto.PutU64(buf, outEnd)
	buf = mfsproto.PutU32(buf, outPid)
	return mfsproto.MATOCL_FUSE_POSIX_LOCK, buf, nil
}
