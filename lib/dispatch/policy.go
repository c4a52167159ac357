// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatch

import (
	"github.com/moosefs/moosefs-sub003/lib/mfserr"
	"github.com/moosefs/moosefs-sub003/lib/mfsproto"
	"github.com/moosefs/moosefs-sub003/lib/metadata"
	"github.com/moosefs/moosefs-sub003/lib/session"
)

func init() {
	register(mfsproto.CLTOMA_FUSE_GETTRASHRETENTION, Mount, handleGetTrashRetention)
	register(mfsproto.CLTOMA_FUSE_SETTRASHRETENTION, Mount, handleSetTrashRetention)
	register(mfsproto.CLTOMA_FUSE_GETSCLASS, Mount, handleGetSClass)
	register(mfsproto.CLTOMA_FUSE_SETSCLASS, Mount, handleSetSClass)
	register(mfsproto.CLTOMA_FUSE_GETEATTR, Mount, handleGetEAttr)
	register(mfsproto.CLTOMA_FUSE_SETEATTR, Mount, handleSetEAttr)
	register(mfsproto.CLTOMA_FUSE_GETXATTR, Mount, handleGetXAttr)
	register(mfsproto.CLTOMA_FUSE_SETXATTR, Mount, handleSetXAttr)
}

// handleGetTrashRetention implements fs_gettrashtime/
// matoclserv_fuse_gettrashtime, reporting the single inode's current
// hour count. The original can additionally recurse a whole subtree
// and return a histogram of (hours -> count); this handler only ever
// reports the one inode's own value, matching the single-inode scope
// Graph.SetTrashRetention already committed to.
func handleGetTrashRetention(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, _, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_GETTRASHRETENTION, Reason: err.Error()}
	}
	n, err := d.Graph.GetInode(inode)
	if err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_GETTRASHRETENTION, msgID, mfserr.ToStatus(err))
	}
	buf := mfsproto.PutU32(nil, msgID)
	buf = mfsproto.PutU32(buf, uint32(n.TrashRetentionHours))
	return mfsproto.MATOCL_FUSE_GETTRASHRETENTION, buf, nil
}

// handleSetTrashRetention implements fs_settrashtime/
// matoclserv_fuse_settrashtime: check_trashretention's session-bound
// [min,max] policy (session.CheckTrashRetention) gates the value
// before it reaches Graph.SetTrashRetention.
func handleSetTrashRetention(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETTRASHRETENTION, Reason: err.Error()}
	}
	hours, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETTRASHRETENTION, Reason: err.Error()}
	}
	smode, _, err := mfsproto.GetU8(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETTRASHRETENTION, Reason: err.Error()}
	}
	sm := session.SMode(smode)
	if err := d.Sessions.CheckTrashRetention(c.SessionID, sm, hours); err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_SETTRASHRETENTION, msgID, mfserr.ToStatus(err))
	}
	if err := d.Graph.SetTrashRetention(inode, 0, uint16(hours), sm); err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_SETTRASHRETENTION, msgID, mfserr.ToStatus(err))
	}
	n, err := d.Graph.GetInode(inode)
	if err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_SETTRASHRETENTION, msgID, mfserr.ToStatus(err))
	}
	buf := mfsproto.PutU32(nil, msgID)
	buf = mfsproto.PutU32(buf, uint32(n.TrashRetentionHours))
	return mfsproto.MATOCL_FUSE_SETTRASHRETENTION, buf, nil
}

// handleGetSClass implements fs_getsclass/matoclserv_fuse_getsclass,
// single-inode only (§ handleGetTrashRetention).
func handleGetSClass(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, _, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_GETSCLASS, Reason: err.Error()}
	}
	n, err := d.Graph.GetInode(inode)
	if err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_GETSCLASS, msgID, mfserr.ToStatus(err))
	}
	buf := mfsproto.PutU32(nil, msgID)
	buf = mfsproto.PutU8(buf, n.SClassID)
	return mfsproto.MATOCL_FUSE_GETSCLASS, buf, nil
}

// handleSetSClass implements fs_setsclass/matoclserv_fuse_setsclass:
// session.CheckStorageClass enforces check_sclass's export-group
// permission and the destination class's existence/admin-only bit
// before Graph.SetSClass applies the change.
func handleSetSClass(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETSCLASS, Reason: err.Error()}
	}
	srcClass, data, err := mfsproto.GetU8(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETSCLASS, Reason: err.Error()}
	}
	dstClass, data, err := mfsproto.GetU8(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETSCLASS, Reason: err.Error()}
	}
	smode, _, err := mfsproto.GetU8(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETSCLASS, Reason: err.Error()}
	}
	sm := session.SMode(smode)
	if err := d.Sessions.CheckStorageClass(c.SessionID, sm, dstClass, d.SClasses); err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_SETSCLASS, msgID, mfserr.ToStatus(err))
	}
	if err := d.Graph.SetSClass(inode, 0, srcClass, dstClass, sm); err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_SETSCLASS, msgID, mfserr.ToStatus(err))
	}
	n, err := d.Graph.GetInode(inode)
	if err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_SETSCLASS, msgID, mfserr.ToStatus(err))
	}
	buf := mfsproto.PutU32(nil, msgID)
	buf = mfsproto.PutU8(buf, n.SClassID)
	return mfsproto.MATOCL_FUSE_SETSCLASS, buf, nil
}

// handleGetXAttr implements fs_getxattr/matoclserv_fuse_getxattr for
// a single named attribute. The original's mode byte additionally
// selects a "list all names" variant (XATTR_GMODE_LIST) when name is
// empty; not reproduced — this handler always looks up exactly the
// name given.
func handleGetXAttr(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_GETXATTR, Reason: err.Error()}
	}
	name, _, err := mfsproto.GetName(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_GETXATTR, Reason: err.Error()}
	}
	value, ok := d.XAttrs.GetXAttr(inode, name)
	if !ok {
		return statusReply(mfsproto.MATOCL_FUSE_GETXATTR, msgID, mfserr.StatusENOENT)
	}
	buf := mfsproto.PutU32(nil, msgID)
	buf = mfsproto.PutData(buf, value)
	return mfsproto.MATOCL_FUSE_GETXATTR, buf, nil
}

// handleSetXAttr implements fs_setxattr/matoclserv_fuse_setxattr.
func handleSetXAttr(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETXATTR, Reason: err.Error()}
	}
	name, data, err := mfsproto.GetName(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETXATTR, Reason: err.Error()}
	}
	value, data, err := mfsproto.GetData(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETXATTR, Reason: err.Error()}
	}
	mode, _, err := mfsproto.GetU8(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETXATTR, Reason: err.Error()}
	}
	if err := d.XAttrs.SetXAttr(inode, name, value, mode); err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_SETXATTR, msgID, mfserr.ToStatus(err))
	}
	return statusReply(mfsproto.MATOCL_FUSE_SETXATTR, msgID, mfserr.StatusOK)
}

// handleGetEAttr implements fs_geteattr/matoclserv_fuse_geteattr,
// single-inode only (§ handleGetTrashRetention): the original returns
// a histogram of (eattr value -> count) across every file and every
// directory in a subtree; this handler reports just the one inode's
// own eattr value as a single-entry histogram in the file or
// directory bucket, whichever TypeMode puts it in.
func handleGetEAttr(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_GETEATTR, Reason: err.Error()}
	}
	_, _, err = mfsproto.GetU8(data) // gmode: subtree recursion selector, unused at single-inode scope
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_GETEATTR, Reason: err.Error()}
	}
	n, err := d.Graph.GetInode(inode)
	if err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_GETEATTR, msgID, mfserr.ToStatus(err))
	}
	buf := mfsproto.PutU32(nil, msgID)
	var fn, dn uint8
	if n.EAttr != 0 {
		if n.Type == mfsproto.TypeDir {
			dn = 1
		} else {
			fn = 1
		}
	}
	buf = mfsproto.PutU8(buf, fn)
	buf = mfsproto.PutU8(buf, dn)
	if fn == 1 {
		buf = mfsproto.PutU8(buf, uint8(n.EAttr))
		buf = mfsproto.PutU32(buf, 1)
	}
	if dn == 1 {
		buf = mfsproto.PutU8(buf, uint8(n.EAttr))
		buf = mfsproto.PutU32(buf, 1)
	}
	return mfsproto.MATOCL_FUSE_GETEATTR, buf, nil
}

// handleSetEAttr implements fs_seteattr/matoclserv_fuse_seteattr.
// smode reuses session.SMode's Set/Increase/Decrease directions,
// reinterpreted as overwrite/add-bits/clear-bits (Graph.SetEAttr);
// Exchange is rejected the same way Graph.SetEAttr rejects it.
func handleSetEAttr(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETEATTR, Reason: err.Error()}
	}
	sess, err := d.session(c)
	if err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_SETEATTR, msgID, mfserr.ToStatus(err))
	}
	uidRaw, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETEATTR, Reason: err.Error()}
	}
	uid, _ := sess.UgidRemap(uidRaw, 0)
	eattr, data, err := mfsproto.GetU8(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETEATTR, Reason: err.Error()}
	}
	smode, _, err := mfsproto.GetU8(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETEATTR, Reason: err.Error()}
	}
	if err := d.Graph.SetEAttr(inode, uid, metadata.EAttr(eattr), session.SMode(smode)); err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_SETEATTR, msgID, mfserr.ToStatus(err))
	}
	buf := mfsproto.PutU32(nil, msgID)
	buf = mfsproto.PutU32(buf, 1) // changed
	buf = mfsproto.PutU32(buf, 0) // notchanged
	buf = mfsproto.PutU32(buf, 0) // notpermitted
	return mfsproto.MATOCL_FUSE_SETEATTR, buf, nil
}
