// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"fmt"
	"sync"

	"github.com/moosefs/moosefs-sub003/lib/mfserr"
)

// QuotaFlag selects which limits of a QuotaEntry are active
// (do_quota's flags argument).
type QuotaFlag uint8

const (
	QuotaSInodes QuotaFlag = 1 << iota
	QuotaHInodes
	QuotaSLength
	QuotaHLength
	QuotaSSize
	QuotaHSize
	QuotaSRealSize
	QuotaHRealSize
)

// QuotaGraceSeconds is the default grace window after a soft limit is
// first exceeded before it is enforced as if it were a hard limit
// (§4 "soft limits trigger a grace period").
const QuotaGraceSeconds = 7 * 24 * 3600

// QuotaEntry is one inode's quota configuration and live usage (§4
// "per-inode soft/hard limits on inodes, length, size, realsize").
type QuotaEntry struct {
	Flags QuotaFlag

	SInodes, HInodes                 uint32
	SLength, HLength                 uint64
	SSize, HSize                     uint64
	SRealSize, HRealSize             uint64

	// Usage, maintained by Charge.
	Inodes   uint32
	Length   uint64
	Size     uint64
	RealSize uint64

	// Exceeded records that a soft limit is currently over budget;
	// Stimestamp is when it first went over, and TimeLimit
	// (Stimestamp+grace) is when it starts being enforced as hard.
	Exceeded   bool
	Stimestamp uint32
	TimeLimit  uint32
}

// QuotaTable tracks QuotaEntry per inode (fs_quota's per-node list,
// one entry per directory with a quota attached, flattened to a map
// the same way the rest of this package replaces fixed hash tables).
type QuotaTable struct {
	mu      sync.Mutex
	entries map[uint32]*QuotaEntry
	journal Journal
}

// NewQuotaTable constructs an empty table. journal may be nil.
func NewQuotaTable(journal Journal) *QuotaTable {
	if journal == nil {
		journal = nopJournal{}
	}
	return &QuotaTable{entries: make(map[uint32]*QuotaEntry), journal: journal}
}

// Set installs or replaces inode's quota limits (fs_setquota /
// do_quota), journaling QUOTA(inode,exceeded,flags,stimestamp,
// sinodes,hinodes,slength,hlength,ssize,hsize,srealsize,hrealsize,
// timelimit).
func (t *QuotaTable) Set(inode uint32, e QuotaEntry, now uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(inode, e)
	t.journal.Logged(fmt.Sprintf("QUOTA(%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d)",
		inode, bti(e.Exceeded), uint8(e.Flags), e.Stimestamp,
		e.SInodes, e.HInodes, e.SLength, e.HLength, e.SSize, e.HSize, e.SRealSize, e.HRealSize, e.TimeLimit))
	return nil
}

// MRQuota replays a QUOTA changelog line (fs_mr_quota).
func (t *QuotaTable) MRQuota(inode uint32, e QuotaEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(inode, e)
	return nil
}

func (t *QuotaTable) setLocked(inode uint32, e QuotaEntry) {
	if e.Flags == 0 {
		delete(t.entries, inode)
		return
	}
	cur := t.entries[inode]
	if cur != nil {
		e.Inodes, e.Length, e.Size, e.RealSize = cur.Inodes, cur.Length, cur.Size, cur.RealSize
	}
	ne := e
	t.entries[inode] = &ne
}

func bti(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Forget drops inode's quota entry, called when the inode is purged.
func (t *QuotaTable) Forget(inode uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, inode)
}

// Get returns a copy of inode's quota entry, if any.
func (t *QuotaTable) Get(inode uint32) (QuotaEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[inode]
	if !ok {
		return QuotaEntry{}, false
	}
	return *e, true
}

// Charge applies a usage delta to inode's quota entry (if any) and
// reports whether any hard limit is now exceeded, or any soft limit's
// grace period has elapsed as of now — the enforcement hook called
// before a create/write is allowed to commit (§4 "enforcement on
// create/write returns QUOTA status").
func (t *QuotaTable) Charge(inode uint32, deltaInodes int64, deltaLength, deltaSize, deltaRealSize int64, now uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[inode]
	if !ok {
		return nil
	}
	e.Inodes = addClamp(e.Inodes, deltaInodes)
	e.Length = addClamp64(e.Length, deltaLength)
	e.Size = addClamp64(e.Size, deltaSize)
	e.RealSize = addClamp64(e.RealSize, deltaRealSize)

	over := false
	if e.Flags&QuotaHInodes != 0 && e.Inodes > e.HInodes {
		over = true
	}
	if e.Flags&QuotaHLength != 0 && e.Length > e.HLength {
		over = true
	}
	if e.Flags&QuotaHSize != 0 && e.Size > e.HSize {
		over = true
	}
	if e.Flags&QuotaHRealSize != 0 && e.RealSize > e.HRealSize {
		over = true
	}
	if over {
		return mfserr.New(mfserr.StatusQuota, "metadata.QuotaTable.Charge")
	}

	soft := (e.Flags&QuotaSInodes != 0 && e.Inodes > e.SInodes) ||
		(e.Flags&QuotaSLength != 0 && e.Length > e.SLength) ||
		(e.Flags&QuotaSSize != 0 && e.Size > e.SSize) ||
		(e.Flags&QuotaSRealSize != 0 && e.RealSize > e.SRealSize)

	switch {
	case soft && !e.Exceeded:
		e.Exceeded = true
		e.Stimestamp = now
		e.TimeLimit = now + QuotaGraceSeconds
	case !soft:
		e.Exceeded = false
		e.Stimestamp = 0
		e.TimeLimit = 0
	case soft && e.Exceeded && now >= e.TimeLimit:
		return mfserr.New(mfserr.StatusQuota, "metadata.QuotaTable.Charge")
	}
	return nil
}

func addClamp(v uint32, delta int64) uint32 {
	r := int64(v) + delta
	if r < 0 {
		return 0
	}
	return uint32(r)
}

func addClamp64(v uint64, delta int64) uint64 {
	r := int64(v) + delta
	if r < 0 {
		return 0
	}
	return uint64(r)
}
