// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package openfiles

import (
	"fmt"
	"sort"
	"sync"

	"github.com/moosefs/moosefs-sub003/lib/containers"
	"github.com/moosefs/moosefs-sub003/lib/mfserr"
)

// Journal receives one call per journaled mutation (ACQUIRE/RELEASE),
// the same convention lib/session and lib/storageclass use.
type Journal interface {
	Logged(desc string)
}

type nopJournal struct{}

func (nopJournal) Logged(string) {}

// Relation is one (session, inode) open-file pair, as returned by
// ListAll (of_lsof with sessionid==0).
type Relation struct {
	SessionID uint32
	Inode     uint32
}

// Table is the open-file relation table. Safe for concurrent use.
//
// OnClose, if set, is called whenever a relation is torn down —
// whether by Sync reconciling a disappeared inode, SessionRemoved, or
// MRRelease — mirroring of_delnode's calls into flock_file_closed and
// posix_lock_file_closed so that a session's advisory locks are
// released in step with its open-file handles. It is left as a hook
// rather than a direct dependency because this package is built ahead
// of the lock tables it will eventually notify.
type Table struct {
	mu        sync.Mutex
	bySession map[uint32]containers.Set[uint32]
	byInode   map[uint32]containers.Set[uint32]
	journal   Journal

	OnClose func(sessionID, inode uint32)
}

// NewTable constructs an empty table.
func NewTable(journal Journal) *Table {
	if journal == nil {
		journal = nopJournal{}
	}
	return &Table{
		bySession: make(map[uint32]containers.Set[uint32]),
		byInode:   make(map[uint32]containers.Set[uint32]),
		journal:   journal,
	}
}

// newRelation links sessionID and inode in both directions
// (of_newnode). Caller holds t.mu.
func (t *Table) newRelation(sessionID, inode uint32) {
	if t.bySession[sessionID] == nil {
		t.bySession[sessionID] = containers.NewSet[uint32]()
	}
	t.bySession[sessionID].Insert(inode)
	if t.byInode[inode] == nil {
		t.byInode[inode] = containers.NewSet[uint32]()
	}
	t.byInode[inode].Insert(sessionID)
}

// delRelation unlinks sessionID and inode (of_delnode), invoking
// OnClose and pruning now-empty sets. Caller holds t.mu.
func (t *Table) delRelation(sessionID, inode uint32) {
	if set, ok := t.bySession[sessionID]; ok {
		set.Delete(inode)
		if len(set) == 0 {
			delete(t.bySession, sessionID)
		}
	}
	if set, ok := t.byInode[inode]; ok {
		set.Delete(sessionID)
		if len(set) == 0 {
			delete(t.byInode, inode)
		}
	}
	if t.OnClose != nil {
		t.OnClose(sessionID, inode)
	}
}

// CheckNode reports whether sessionID currently has inode open
// (of_checknode).
func (t *Table) CheckNode(sessionID, inode uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byInode[inode].Has(sessionID)
}

// Open records that sessionID has inode open, journaling an ACQUIRE
// entry unless the relation already exists (of_openfile).
func (t *Table) Open(sessionID, inode uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byInode[inode].Has(sessionID) {
		return
	}
	t.journal.Logged(fmt.Sprintf("ACQUIRE(%d,%d)", sessionID, inode))
	t.newRelation(sessionID, inode)
}

// Sync reconciles a reconnecting session's open-file set against the
// list of inodes it reports still having open (of_sync): inodes the
// table has but the client no longer lists are released (RELEASE),
// and inodes the client lists that the table doesn't have yet are
// acquired (ACQUIRE). inodes is sorted in place, matching the
// original's qsort-then-bisect reconciliation, though the Go side
// does the set comparison with containers.Set rather than a sorted
// array and bitmask.
func (t *Table) Sync(sessionID uint32, inodes []uint32) {
	sort.Slice(inodes, func(i, j int) bool { return inodes[i] < inodes[j] })

	t.mu.Lock()
	defer t.mu.Unlock()

	want := containers.NewSet(inodes...)

	if have, ok := t.bySession[sessionID]; ok {
		var stale []uint32
		for inode := range have {
			if !want.Has(inode) {
				stale = append(stale, inode)
			}
		}
		for _, inode := range stale {
			t.journal.Logged(fmt.Sprintf("RELEASE(%d,%d)", sessionID, inode))
			t.delRelation(sessionID, inode)
		}
	}

	have := t.bySession[sessionID]
	for inode := range want {
		if !have.Has(inode) {
			t.journal.Logged(fmt.Sprintf("ACQUIRE(%d,%d)", sessionID, inode))
			t.newRelation(sessionID, inode)
		}
	}
}

// SessionRemoved tears down every relation belonging to sessionID
// without journaling (of_session_removed): the session's own removal
// is what the changelog records, not each file it had open.
func (t *Table) SessionRemoved(sessionID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	have := t.bySession[sessionID]
	if len(have) == 0 {
		return
	}
	inodes := make([]uint32, 0, len(have))
	for inode := range have {
		inodes = append(inodes, inode)
	}
	for _, inode := range inodes {
		t.delRelation(sessionID, inode)
	}
}

// IsFileOpen reports whether any session has inode open
// (of_isfileopen).
func (t *Table) IsFileOpen(inode uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byInode[inode]) > 0
}

// IsFileOpenedBySession reports whether sessionID has inode open
// (of_isfileopened_by_session — same relation as CheckNode, kept as a
// separate method because the original exposes both names for the
// same lookup from two different callers).
func (t *Table) IsFileOpenedBySession(inode, sessionID uint32) bool {
	return t.CheckNode(sessionID, inode)
}

// NumOpenFiles counts how many inodes sessionID currently has open
// (of_noofopenedfiles).
func (t *Table) NumOpenFiles(sessionID uint32) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint32(len(t.bySession[sessionID]))
}

// List returns the sorted set of inodes sessionID has open
// (of_lsof with a nonzero sessionid).
func (t *Table) List(sessionID uint32) []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	have := t.bySession[sessionID]
	out := make([]uint32, 0, len(have))
	for inode := range have {
		out = append(out, inode)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ListAll returns every (session, inode) relation in the table
// (of_lsof with sessionid==0), sorted by session then inode.
func (t *Table) ListAll() []Relation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Relation, 0)
	for sessionID, inodes := range t.bySession {
		for inode := range inodes {
			out = append(out, Relation{SessionID: sessionID, Inode: inode})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].Inode < out[j].Inode
	})
	return out
}

// MRAcquire replays a changelog ACQUIRE entry during metadata restore
// (of_mr_acquire), failing if the relation already exists.
func (t *Table) MRAcquire(sessionID, inode uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byInode[inode].Has(sessionID) {
		return mfserr.New(mfserr.StatusEINVAL, "openfiles.MRAcquire")
	}
	t.newRelation(sessionID, inode)
	return nil
}

// MRRelease replays a changelog RELEASE entry during metadata restore
// (of_mr_release), failing if the relation doesn't exist.
func (t *Table) MRRelease(sessionID, inode uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.byInode[inode].Has(sessionID) {
		return mfserr.New(mfserr.StatusEINVAL, "openfiles.MRRelease")
	}
	t.delRelation(sessionID, inode)
	return nil
}
