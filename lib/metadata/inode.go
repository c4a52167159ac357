// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"github.com/moosefs/moosefs-sub003/lib/fmtutil"
	"github.com/moosefs/moosefs-sub003/lib/mfsproto"
)

// RootInode is the filesystem root's fixed id (§3 "Root has id 1").
const RootInode uint32 = 1

// EAttr bits, extended-attribute flags carried per inode (§3).
type EAttr uint8

const (
	EAttrNoOwner     EAttr = 1 << 0
	EAttrNoACache    EAttr = 1 << 1
	EAttrNoECache    EAttr = 1 << 2
	EAttrNoDataCache EAttr = 1 << 3
	EAttrSnapshot    EAttr = 1 << 4
)

var eAttrNames = []string{"noowner", "noacache", "noecache", "nodatacache", "snapshot"}

// String renders the set bits by name for logging (GETEATTR/SETEATTR
// tracing), e.g. "noowner|snapshot" or "none".
func (a EAttr) String() string {
	return fmtutil.BitfieldString(uint8(a), eAttrNames, fmtutil.HexNone)
}

// Inode is one filesystem object (§3 "Inode"). Which fields are
// meaningful depends on Type: Length/Chunks for TypeFile, RDev for
// block/char devices, SymlinkTarget for TypeSymlink.
type Inode struct {
	ID uint32

	Type    mfsproto.ModeType
	Perm    uint16 // 12-bit POSIX permission bits
	WinAttr uint8
	UID     uint32
	GID     uint32
	ATime   uint32
	MTime   uint32
	CTime   uint32

	TrashRetentionHours uint16
	SClassID            uint8
	EAttr               EAttr
	NLink               uint32

	Length        uint64
	RDev          uint32
	SymlinkTarget []byte
	// Chunks is a dense array indexed by chunk index; 0 means
	// "hole" (§3 "Chunk (master view)").
	Chunks []uint64
}

// TypeMode packs Type and Perm into the wire type_mode field via
// mfsproto.PackTypeMode.
func (n *Inode) TypeMode() uint16 {
	return mfsproto.PackTypeMode(n.Type, n.Perm)
}

func (n *Inode) clone() *Inode {
	cp := *n
	if n.SymlinkTarget != nil {
		cp.SymlinkTarget = append([]byte(nil), n.SymlinkTarget...)
	}
	if n.Chunks != nil {
		cp.Chunks = append([]uint64(nil), n.Chunks...)
	}
	return &cp
}

// Edge is a directed, named parent→child relation (§3 "Edge"). A
// Parent of 0 means the child is parked in the trash or sustained
// bucket rather than attached anywhere in the directory tree.
type Edge struct {
	ID     uint64
	Parent uint32
	Child  uint32
	Name   string
}

// DirEntry is one entry as returned by Graph.ReadDir.
type DirEntry struct {
	EdgeID uint64
	Name   string
	Inode  uint32
}
