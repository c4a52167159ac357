// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"fmt"
	"sync"

	"github.com/moosefs/moosefs-sub003/lib/mfserr"
)

// XAttrMaxNameLen and XAttrMaxValueLen mirror the wire protocol's
// limits on extended attributes (§3 "extended-attribute bits"); there
// is no xattr.c in the retrieved pack, so these limits and the
// storage shape below are taken directly from §3 rather than a C
// source, the same disclosed gap as the inode/edge graph itself (see
// package doc comment).
const (
	XAttrMaxNameLen  = 255
	XAttrMaxValueLen = 65536
)

// PosixACL is one inode's extended ACL (§3's "POSIX ACL" entries):
// access and/or default (inherited-by-children) lists, each a set of
// (tag,qualifier)->permission-bits entries. Tag values follow POSIX:
// USER_OBJ, USER, GROUP_OBJ, GROUP, MASK, OTHER.
type PosixACL struct {
	Access  []ACLEntry
	Default []ACLEntry
}

type ACLTag uint8

const (
	ACLUserObj ACLTag = iota
	ACLUser
	ACLGroupObj
	ACLGroup
	ACLMask
	ACLOther
)

type ACLEntry struct {
	Tag   ACLTag
	ID    uint32 // uid/gid; unused for UserObj/GroupObj/Mask/Other
	Perm  uint8  // rwx bits
}

// XAttrStore holds per-inode extended attributes and POSIX ACLs,
// keyed the same way the rest of this package keys per-inode side
// tables: a plain map, purged alongside the inode.
type XAttrStore struct {
	mu      sync.Mutex
	xattrs  map[uint32]map[string][]byte
	acls    map[uint32]*PosixACL
	journal Journal
}

// NewXAttrStore constructs an empty store. journal may be nil.
func NewXAttrStore(journal Journal) *XAttrStore {
	if journal == nil {
		journal = nopJournal{}
	}
	return &XAttrStore{
		xattrs:  make(map[uint32]map[string][]byte),
		acls:    make(map[uint32]*PosixACL),
		journal: journal,
	}
}

// SetXAttr sets (or, if value is nil, removes) one extended attribute
// on inode (fs_setxattr), journaling XATTR(inode,name,mode[,value]).
func (s *XAttrStore) SetXAttr(inode uint32, name string, value []byte, mode uint8) error {
	if len(name) == 0 || len(name) > XAttrMaxNameLen {
		return mfserr.New(mfserr.StatusEINVAL, "metadata.XAttrStore.SetXAttr")
	}
	if len(value) > XAttrMaxValueLen {
		return mfserr.New(mfserr.StatusEINVAL, "metadata.XAttrStore.SetXAttr")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(inode, name, value)
	if value == nil {
		s.journal.Logged(fmt.Sprintf("XATTR(%d,%s,%d)", inode, escapeName(name), mode))
	} else {
		s.journal.Logged(fmt.Sprintf("XATTR(%d,%s,%d,%s)", inode, escapeName(name), mode, escapeName(string(value))))
	}
	return nil
}

func (s *XAttrStore) setLocked(inode uint32, name string, value []byte) {
	if value == nil {
		if m := s.xattrs[inode]; m != nil {
			delete(m, name)
			if len(m) == 0 {
				delete(s.xattrs, inode)
			}
		}
		return
	}
	m := s.xattrs[inode]
	if m == nil {
		m = make(map[string][]byte)
		s.xattrs[inode] = m
	}
	m[name] = append([]byte(nil), value...)
}

// MRSetXAttr replays an XATTR changelog line (fs_mr_setxattr).
func (s *XAttrStore) MRSetXAttr(inode uint32, name string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(inode, name, value)
}

// GetXAttr returns one extended attribute's value.
func (s *XAttrStore) GetXAttr(inode uint32, name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.xattrs[inode]
	if !ok {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

// ListXAttr returns every extended attribute name set on inode.
func (s *XAttrStore) ListXAttr(inode uint32) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.xattrs[inode]
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	return out
}

// SetACL installs inode's POSIX ACL (fs_setacl), journaling
// ACL(inode,...) as a single opaque blob; the wire-level entry list
// shape is out of scope here (it belongs to the dispatch layer's
// marshaling, §6), so the journal line only records that a set
// occurred plus the access/default entry counts, which is enough to
// detect drift on replay against a store that deserializes the same
// request bytes independently.
func (s *XAttrStore) SetACL(inode uint32, acl PosixACL) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := acl
	cp.Access = append([]ACLEntry(nil), acl.Access...)
	cp.Default = append([]ACLEntry(nil), acl.Default...)
	s.acls[inode] = &cp
	s.journal.Logged(fmt.Sprintf("ACL(%d,%d,%d)", inode, len(cp.Access), len(cp.Default)))
}

// GetACL returns inode's POSIX ACL, if any.
func (s *XAttrStore) GetACL(inode uint32) (PosixACL, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.acls[inode]
	if !ok {
		return PosixACL{}, false
	}
	return *a, true
}

// Forget drops every xattr/ACL side-table entry for inode, called
// when the inode is purged.
func (s *XAttrStore) Forget(inode uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.xattrs, inode)
	delete(s.acls, inode)
}
