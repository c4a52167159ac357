// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatch

import (
	"github.com/moosefs/moosefs-sub003/lib/mfserr"
	"github.com/moosefs/moosefs-sub003/lib/metadata"
	"github.com/moosefs/moosefs-sub003/lib/mfsproto"
)

func init() {
	register(mfsproto.CLTOMA_FUSE_LOOKUP, Mount, handleLookup)
	register(mfsproto.CLTOMA_FUSE_GETATTR, Mount, handleGetAttr)
	register(mfsproto.CLTOMA_FUSE_SETATTR, Mount, handleSetAttr)
	register(mfsproto.CLTOMA_FUSE_MKDIR, Mount, handleMkdir)
	register(mfsproto.CLTOMA_FUSE_UNLINK, Mount, handleUnlink)
	register(mfsproto.CLTOMA_FUSE_RMDIR, Mount, handleRmdir)
	register(mfsproto.CLTOMA_FUSE_RENAME, Mount, handleRename)
	register(mfsproto.CLTOMA_FUSE_LINK, Mount, handleLink)
	register(mfsproto.CLTOMA_FUSE_READDIR, Mount, handleReaddir)
	register(mfsproto.CLTOMA_FUSE_OPEN, Mount, handleOpen)
	register(mfsproto.CLTOMA_FUSE_CREATE, Mount, handleCreate)
	register(mfsproto.CLTOMA_FUSE_TRUNCATE, Mount, handleTruncate)
}

// handleLookup implements fs_lookup/matoclserv_fuse_lookup: resolve
// name under parent and reply with the child's attributes. The
// original additionally reports access-mode bits and, for a freshly
// opened single-chunk file, piggybacks the first chunk's location so
// the mount can skip a round trip (the LOOKUP_* flags and the
// validchunk/chunkid tail) — not reproduced; this handler only
// resolves the name and returns the child's inode and attributes, and
// makes no read/write access decision.
func handleLookup(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	parent, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_LOOKUP, Reason: err.Error()}
	}
	name, data, err := mfsproto.GetName(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_LOOKUP, Reason: err.Error()}
	}
	sess, err := d.session(c)
	if err != nil {
		return errStatusReply(mfsproto.MATOCL_FUSE_LOOKUP, msgID, err)
	}
	_, _, _, err = readUGID(sess, data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_LOOKUP, Reason: err.Error()}
	}
	childID, err := d.Graph.Lookup(parent, name)
	if err != nil {
		return errStatusReply(mfsproto.MATOCL_FUSE_LOOKUP, msgID, err)
	}
	n, err := d.Graph.GetInode(childID)
	if err != nil {
		return errStatusReply(mfsproto.MATOCL_FUSE_LOOKUP, msgID, err)
	}
	buf := mfsproto.PutU32(nil, msgID)
	buf = mfsproto.PutU32(buf, childID)
	buf, err = mfsproto.EncodeAttr(buf, attrFromInode(n, c.LegacyAttr()))
	if err != nil {
		return 0, nil, err
	}
	return mfsproto.MATOCL_FUSE_LOOKUP, buf, nil
}

// handleGetAttr implements fs_getattr/matoclserv_fuse_getattr: the
// uid/gid pair only affects the original's access-bit computation
// (GETATTR itself always returns the stored attributes regardless of
// permission), so this handler reads only the inode and ignores the
// rest of the payload (uid/gid and the request's "opened" flag).
func handleGetAttr(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, _, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_GETATTR, Reason: err.Error()}
	}
	n, err := d.Graph.GetInode(inode)
	return attrReply(mfsproto.MATOCL_FUSE_GETATTR, msgID, n, c.LegacyAttr(), err)
}

// handleSetAttr implements a slice of fs_setattr/matoclserv_fuse_setattr:
// perm, uid, gid, atime, mtime, winattr, eattr, all unconditionally
// applied. The original's setmask bitmask (which of those seven fields
// the caller actually wants changed, leaving the rest untouched) and
// its sugidclearmode (whether setuid/setgid bits are stripped on a
// chown by a non-owner) are not reproduced — every call here is a
// full replace, the same simplification SetAttr's single signature
// already commits to one layer down.
func handleSetAttr(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETATTR, Reason: err.Error()}
	}
	permWide, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETATTR, Reason: err.Error()}
	}
	uid, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETATTR, Reason: err.Error()}
	}
	gid, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETATTR, Reason: err.Error()}
	}
	atime, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETATTR, Reason: err.Error()}
	}
	mtime, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETATTR, Reason: err.Error()}
	}
	winattr, data, err := mfsproto.GetU8(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETATTR, Reason: err.Error()}
	}
	eattr, _, err := mfsproto.GetU8(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_SETATTR, Reason: err.Error()}
	}
	err = d.Graph.SetAttr(inode, uint16(permWide), uid, gid, atime, mtime, winattr, metadata.EAttr(eattr))
	if err != nil {
		return errStatusReply(mfsproto.MATOCL_FUSE_SETATTR, msgID, err)
	}
	n, err := d.Graph.GetInode(inode)
	return attrReply(mfsproto.MATOCL_FUSE_SETATTR, msgID, n, c.LegacyAttr(), err)
}

// handleMkdir implements fs_mkdir/matoclserv_fuse_mkdir.
func handleMkdir(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	parent, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_MKDIR, Reason: err.Error()}
	}
	name, data, err := mfsproto.GetName(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_MKDIR, Reason: err.Error()}
	}
	permWide, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_MKDIR, Reason: err.Error()}
	}
	umask, data, err := mfsproto.GetU16(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_MKDIR, Reason: err.Error()}
	}
	sess, err := d.session(c)
	if err != nil {
		return errStatusReply(mfsproto.MATOCL_FUSE_MKDIR, msgID, err)
	}
	uid, gid, _, err := readUGID(sess, data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_MKDIR, Reason: err.Error()}
	}
	childID, err := d.Graph.Create(metadata.CreateParams{
		Parent: parent,
		Name:   name,
		Type:   mfsproto.TypeDir,
		Perm:   uint16(permWide),
		UMask:  umask,
		UID:    uid,
		GID:    gid,
	})
	if err != nil {
		return errStatusReply(mfsproto.MATOCL_FUSE_MKDIR, msgID, err)
	}
	n, err := d.Graph.GetInode(childID)
	if err != nil {
		return errStatusReply(mfsproto.MATOCL_FUSE_MKDIR, msgID, err)
	}
	buf := mfsproto.PutU32(nil, msgID)
	buf = mfsproto.PutU32(buf, childID)
	buf, err = mfsproto.EncodeAttr(buf, attrFromInode(n, c.LegacyAttr()))
	if err != nil {
		return 0, nil, err
	}
	return mfsproto.MATOCL_FUSE_MKDIR, buf, nil
}

// handleUnlink implements fs_unlink/matoclserv_fuse_unlink.
func handleUnlink(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	parent, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_UNLINK, Reason: err.Error()}
	}
	name, _, err := mfsproto.GetName(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_UNLINK, Reason: err.Error()}
	}
	_, err = d.Graph.Unlink(parent, name, 0)
	return statusReply(mfsproto.MATOCL_FUSE_UNLINK, msgID, mfserr.ToStatus(err))
}

// handleRmdir implements fs_rmdir/matoclserv_fuse_rmdir, which shares
// Unlink's graph-level implementation (both just remove an edge) —
// the original keeps them as separate fs_* entry points only because
// fs_rmdir additionally insists the target be an empty directory,
// which Unlink already checks via its ENOTEMPTY path.
func handleRmdir(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	parent, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_RMDIR, Reason: err.Error()}
	}
	name, _, err := mfsproto.GetName(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_RMDIR, Reason: err.Error()}
	}
	_, err = d.Graph.Unlink(parent, name, 0)
	return statusReply(mfsproto.MATOCL_FUSE_RMDIR, msgID, mfserr.ToStatus(err))
}

// handleRename implements fs_rename/matoclserv_fuse_rename.
func handleRename(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	srcParent, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_RENAME, Reason: err.Error()}
	}
	srcName, data, err := mfsproto.GetName(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_RENAME, Reason: err.Error()}
	}
	dstParent, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_RENAME, Reason: err.Error()}
	}
	dstName, _, err := mfsproto.GetName(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_RENAME, Reason: err.Error()}
	}
	_, err = d.Graph.Move(srcParent, srcName, dstParent, dstName)
	return statusReply(mfsproto.MATOCL_FUSE_RENAME, msgID, mfserr.ToStatus(err))
}

// handleLink implements fs_link/matoclserv_fuse_link.
func handleLink(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_LINK, Reason: err.Error()}
	}
	dstParent, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_LINK, Reason: err.Error()}
	}
	dstName, _, err := mfsproto.GetName(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_LINK, Reason: err.Error()}
	}
	if err := d.Graph.Link(dstParent, dstName, inode); err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_LINK, msgID, mfserr.ToStatus(err))
	}
	n, err := d.Graph.GetInode(inode)
	return attrReply(mfsproto.MATOCL_FUSE_LINK, msgID, n, c.LegacyAttr(), err)
}

// handleReaddir implements a slice of fs_readdir_size/_data: one
// full, unpaginated directory listing per call. The original's
// maxentries/nedgeid cursor pagination (for directories too large for
// one reply) and its dual attrmode (35 vs 36-byte records inline per
// entry) are not reproduced — every entry here is encoded at c's
// negotiated size, and the whole directory is always returned.
func handleReaddir(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	parent, _, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_READDIR, Reason: err.Error()}
	}
	entries, err := d.Graph.ReadDir(parent)
	if err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_READDIR, msgID, mfserr.ToStatus(err))
	}
	buf := mfsproto.PutU32(nil, msgID)
	for _, e := range entries {
		buf = mfsproto.PutName(buf, e.Name)
		buf = mfsproto.PutU32(buf, e.Inode)
		if n, err := d.Graph.GetInode(e.Inode); err == nil {
			buf, err = mfsproto.EncodeAttr(buf, attrFromInode(n, c.LegacyAttr()))
			if err != nil {
				return 0, nil, err
			}
		}
	}
	return mfsproto.MATOCL_FUSE_READDIR, buf, nil
}

// handleOpen implements fs_opencheck/matoclserv_fuse_open's
// bookkeeping half: it registers the (session, inode) relation in
// lib/openfiles so later Flock/PosixLock/Release calls and the
// still-open sustain check in Graph.Unlink see it. The original's
// permission recheck against uid/gid/flags (fs_opencheck itself) and
// its OPEN_TRUNCATE-triggers-SetLength side effect are not
// reproduced; this handler only verifies the inode exists.
func handleOpen(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, _, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_OPEN, Reason: err.Error()}
	}
	n, err := d.Graph.GetInode(inode)
	if err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_OPEN, msgID, mfserr.ToStatus(err))
	}
	d.Open.Open(c.SessionID, inode)
	return attrReply(mfsproto.MATOCL_FUSE_OPEN, msgID, n, c.LegacyAttr(), nil)
}

// handleCreate implements fs_create/matoclserv_fuse_create: like
// Mkdir but for a regular file, and the new inode is immediately
// opened by the creating session (of_openfile's call right after
// fs_create in the original).
func handleCreate(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	parent, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_CREATE, Reason: err.Error()}
	}
	name, data, err := mfsproto.GetName(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_CREATE, Reason: err.Error()}
	}
	permWide, data, err := mfsproto.GetU32(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_CREATE, Reason: err.Error()}
	}
	umask, data, err := mfsproto.GetU16(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_CREATE, Reason: err.Error()}
	}
	sess, err := d.session(c)
	if err != nil {
		return errStatusReply(mfsproto.MATOCL_FUSE_CREATE, msgID, err)
	}
	uid, gid, _, err := readUGID(sess, data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_CREATE, Reason: err.Error()}
	}
	childID, err := d.Graph.Create(metadata.CreateParams{
		Parent: parent,
		Name:   name,
		Type:   mfsproto.TypeFile,
		Perm:   uint16(permWide),
		UMask:  umask,
		UID:    uid,
		GID:    gid,
	})
	if err != nil {
		return errStatusReply(mfsproto.MATOCL_FUSE_CREATE, msgID, err)
	}
	d.Open.Open(c.SessionID, childID)
	n, err := d.Graph.GetInode(childID)
	if err != nil {
		return errStatusReply(mfsproto.MATOCL_FUSE_CREATE, msgID, err)
	}
	buf := mfsproto.PutU32(nil, msgID)
	buf = mfsproto.PutU32(buf, childID)
	buf, err = mfsproto.EncodeAttr(buf, attrFromInode(n, c.LegacyAttr()))
	if err != nil {
		return 0, nil, err
	}
	return mfsproto.MATOCL_FUSE_CREATE, buf, nil
}

// handleTruncate implements fs_truncate/matoclserv_fuse_truncate: it
// calls lib/metadata.Graph.SetLength with canModMTime=true and now=0,
// so mtime/ctime are set to 0 (the handlers in this file pass no clock
// to the graph; handleUnlink's now=0 is the same).
func handleTruncate(d *Dispatcher, c *Conn, msgID uint32, payload []byte) (mfsproto.Type, []byte, error) {
	inode, data, err := mfsproto.GetU32(payload)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_TRUNCATE, Reason: err.Error()}
	}
	length, _, err := mfsproto.GetU64(data)
	if err != nil {
		return 0, nil, &ErrKillConnection{Type: mfsproto.CLTOMA_FUSE_TRUNCATE, Reason: err.Error()}
	}
	if err := d.Graph.SetLength(inode, length, 0, true); err != nil {
		return statusReply(mfsproto.MATOCL_FUSE_TRUNCATE, msgID, mfserr.ToStatus(err))
	}
	n, err := d.Graph.GetInode(inode)
	return attrReply(mfsproto.MATOCL_FUSE_TRUNCATE, msgID, n, c.LegacyAttr(), err)
}
