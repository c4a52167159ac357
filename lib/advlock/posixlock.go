// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package advlock

import (
	"fmt"
	"sync"

	"github.com/moosefs/moosefs-sub003/lib/containers"
	"github.com/moosefs/moosefs-sub003/lib/mfserr"
)

// RangeType is a byte-range lock's mode (POSIX_LOCK_* in the wire
// protocol).
type RangeType uint8

const (
	RangeUnlock RangeType = 0
	RangeRead   RangeType = 1
	RangeWrite  RangeType = 2
)

// PosixCmd is the operation a POSIXLOCK request carries
// (POSIX_LOCK_CMD_*).
type PosixCmd uint8

const (
	PosixCmdGet PosixCmd = 0
	PosixCmdSet PosixCmd = 1
	PosixCmdTry PosixCmd = 2
	PosixCmdInt PosixCmd = 3
)

// rangeSeg is one closed-open [Start,End) segment of a holder's lock,
// ordered by Start within an alock.Ranges slice the way the original
// keeps its range list sorted by construction.
type rangeSeg struct {
	start, end uint64
	rtype      RangeType
}

// applyRange folds a new [start,end) lock of the given type into an
// existing sorted, non-overlapping range list, splitting, truncating,
// merging, or dropping existing segments as needed
// (posix_lock_apply_range). rtype==RangeUnlock removes overlap without
// inserting anything.
//
// This is a direct translation of the original's 7-case splice
// algorithm (see original_source/mfsmaster/posixlocks.c, whose
// MFSTEST harness exercises these same cases against a visual ASCII
// rendering of the range list).
func applyRange(ranges []rangeSeg, rtype RangeType, start, end uint64) []rangeSeg {
	out := make([]rangeSeg, 0, len(ranges)+1)
	added := false
	i := 0
	for i < len(ranges) {
		r := ranges[i]
		switch {
		case r.end < start:
			// case 1: r is entirely before the new range.
			out = append(out, r)
			i++
		case r.start > end:
			// case 2: r is entirely after the new range.
			if !added && rtype != RangeUnlock {
				out = append(out, rangeSeg{start, end, rtype})
				added = true
			}
			return append(out, ranges[i:]...)
		case start <= r.start && end >= r.end:
			// case 3: the new range fully covers r; drop it.
			i++
		case r.start < start && r.end <= end:
			// case 4: r overlaps the new range's left edge.
			if r.rtype == rtype {
				start = r.start
				i++
			} else {
				out = append(out, rangeSeg{r.start, start, r.rtype})
				i++
			}
		case r.start >= start && r.end > end:
			// case 5: r overlaps the new range's right edge.
			if r.rtype == rtype {
				out = append(out, rangeSeg{start, r.end, rtype})
			} else {
				if !added && rtype != RangeUnlock {
					out = append(out, rangeSeg{start, end, rtype})
				}
				out = append(out, rangeSeg{end, r.end, r.rtype})
			}
			added = true
			return append(out, ranges[i+1:]...)
		default:
			// case 6: the new range splits r in two.
			if r.rtype != rtype {
				out = append(out, rangeSeg{r.start, start, r.rtype})
				if rtype != RangeUnlock {
					out = append(out, rangeSeg{start, end, rtype})
				}
				out = append(out, rangeSeg{end, r.end, r.rtype})
			} else {
				out = append(out, r)
			}
			added = true
			return append(out, ranges[i+1:]...)
		}
	}
	if !added && rtype != RangeUnlock {
		out = append(out, rangeSeg{start, end, rtype})
	}
	return out
}

// testWlock reports whether any segment of ranges conflicts with a
// lock of *rtype on [*start,*end); if so it rewrites the three
// pointers with the offending segment's own extent and type
// (posix_lock_test_wlock).
func testWlock(ranges []rangeSeg, rtype *RangeType, start, end *uint64) bool {
	for _, r := range ranges {
		if *rtype == RangeWrite || r.rtype == RangeWrite {
			if *end > r.start && *start < r.end {
				*rtype = r.rtype
				*start = r.start
				*end = r.end
				return true
			}
		}
	}
	return false
}

type alock struct {
	owner     uint64
	sessionID uint32
	pid       uint32
	ranges    []rangeSeg
}

type posixWaiter struct {
	owner               uint64
	sessionID, pid      uint32
	msgID, reqID        uint32
	start, end          uint64
	rtype               RangeType
	elem                *containers.LinkedListEntry[*posixWaiter]
}

type posixInode struct {
	inode   uint32
	active  []*alock
	waiting containers.LinkedList[*posixWaiter]
}

// PosixTable arbitrates POSIX fcntl byte-range locks across inodes.
// Safe for concurrent use.
type PosixTable struct {
	mu      sync.Mutex
	byInode map[uint32]*posixInode
	open    OpenChecker
	journal Journal
	notify  Notifier
}

// NewPosixTable constructs an empty table.
func NewPosixTable(open OpenChecker, journal Journal, notify Notifier) *PosixTable {
	if journal == nil {
		journal = nopJournal{}
	}
	if notify == nil {
		notify = nopNotifier{}
	}
	return &PosixTable{
		byInode: make(map[uint32]*posixInode),
		open:    open,
		journal: journal,
		notify:  notify,
	}
}

func (t *PosixTable) inodeOf(inode uint32, create bool) *posixInode {
	il, ok := t.byInode[inode]
	if !ok && create {
		il = &posixInode{inode: inode}
		t.byInode[inode] = il
	}
	return il
}

func (t *PosixTable) pruneIfEmpty(il *posixInode) {
	if len(il.active) == 0 && il.waiting.IsEmpty() {
		delete(t.byInode, il.inode)
	}
}

// getOffensiveLock finds another holder's segment that conflicts with
// (rtype,start,end), rewriting them with the offending extent and
// reporting the owning pid (0 if it belongs to a different session)
// (posix_lock_get_offensive_lock).
func getOffensiveLock(il *posixInode, sessionID uint32, owner uint64, rtype *RangeType, start, end *uint64, pid *uint32) bool {
	for _, al := range il.active {
		if al.owner == owner && al.sessionID == sessionID {
			continue
		}
		if testWlock(al.ranges, rtype, start, end) {
			if sessionID == al.sessionID {
				*pid = al.pid
			} else {
				*pid = 0
			}
			return true
		}
	}
	return false
}

// findOffensiveLock is getOffensiveLock without the out-params, used
// where only the yes/no answer matters (posix_lock_find_offensive_lock).
func findOffensiveLock(il *posixInode, sessionID uint32, owner uint64, rtype RangeType, start, end uint64) bool {
	for _, al := range il.active {
		if al.owner == owner && al.sessionID == sessionID {
			continue
		}
		rt, s, e := rtype, start, end
		if testWlock(al.ranges, &rt, &s, &e) {
			return true
		}
	}
	return false
}

func (t *PosixTable) applyLockDo(il *posixInode, sessionID uint32, owner uint64, rtype RangeType, start, end uint64, pid uint32) {
	for i, al := range il.active {
		if al.owner == owner && al.sessionID == sessionID {
			al.ranges = applyRange(al.ranges, rtype, start, end)
			if len(al.ranges) == 0 {
				il.active = append(il.active[:i], il.active[i+1:]...)
			}
			return
		}
	}
	if rtype == RangeUnlock {
		return
	}
	al := &alock{owner: owner, sessionID: sessionID, pid: pid}
	al.ranges = applyRange(al.ranges, rtype, start, end)
	il.active = append(il.active, al)
}

func (t *PosixTable) applyLock(il *posixInode, sessionID uint32, owner uint64, rtype RangeType, start, end uint64, pid uint32) {
	c := byte('U')
	switch rtype {
	case RangeRead:
		c = 'R'
	case RangeWrite:
		c = 'W'
	}
	t.journal.Logged(fmt.Sprintf("POSIXLOCK(%d,%d,%d,%c,%d,%d,%d)", il.inode, sessionID, owner, c, start, end, pid))
	t.applyLockDo(il, sessionID, owner, rtype, start, end, pid)
}

func (t *PosixTable) appendLock(il *posixInode, sessionID, msgID, reqID uint32, owner uint64, rtype RangeType, start, end uint64, pid uint32) {
	w := &posixWaiter{owner: owner, sessionID: sessionID, pid: pid, msgID: msgID, reqID: reqID, start: start, end: end, rtype: rtype}
	w.elem = &containers.LinkedListEntry[*posixWaiter]{Value: w}
	il.waiting.Store(w.elem)
}

func (t *PosixTable) removeWaiter(il *posixInode, w *posixWaiter) {
	il.waiting.Delete(w.elem)
}

func (t *PosixTable) interrupt(il *posixInode, sessionID, reqID uint32) {
	for e := il.waiting.Oldest; e != nil; e = e.Newer {
		w := e.Value
		if w.sessionID == sessionID && w.reqID == reqID {
			t.notify.WakeUp(sessionID, w.msgID, uint8(mfserr.StatusEINTR))
			t.removeWaiter(il, w)
			return
		}
	}
}

// checkWaiting grants every still-waiting request whose range no
// longer conflicts with the active set, in FIFO order
// (posix_lock_check_waiting).
func (t *PosixTable) checkWaiting(il *posixInode) {
	if len(il.active) == 0 && il.waiting.IsEmpty() {
		delete(t.byInode, il.inode)
		return
	}
	for e := il.waiting.Oldest; e != nil; {
		next := e.Newer
		w := e.Value
		if !findOffensiveLock(il, w.sessionID, w.owner, w.rtype, w.start, w.end) {
			t.applyLock(il, w.sessionID, w.owner, w.rtype, w.start, w.end, w.pid)
			t.notify.WakeUp(w.sessionID, w.msgID, uint8(mfserr.StatusOK))
			t.removeWaiter(il, w)
		}
		e = next
	}
}

// Cmd processes one POSIX lock request (posix_lock_cmd). For
// PosixCmdGet it returns the conflicting lock's extent (or
// RangeUnlock/0/0/0 if none); for the other commands it returns the
// request's own rtype/start/end/pid unchanged.
func (t *PosixTable) Cmd(sessionID, msgID, reqID, inode uint32, owner uint64, cmd PosixCmd, rtype RangeType, start, end uint64, pid uint32) (status mfserr.Status, outType RangeType, outStart, outEnd uint64, outPid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if (cmd == PosixCmdSet || cmd == PosixCmdTry) && rtype != RangeUnlock {
		if t.open != nil && !t.open.CheckNode(sessionID, inode) {
			return mfserr.StatusNotOpened, rtype, start, end, pid
		}
	}

	il := t.inodeOf(inode, false)

	if cmd == PosixCmdInt {
		if il == nil {
			return mfserr.StatusOK, rtype, start, end, pid
		}
		t.interrupt(il, sessionID, reqID)
		return mfserr.StatusOK, rtype, start, end, pid
	}

	if cmd == PosixCmdGet {
		if il != nil && rtype != RangeUnlock {
			ot, os, oe, op := rtype, start, end, pid
			if getOffensiveLock(il, sessionID, owner, &ot, &os, &oe, &op) {
				return mfserr.StatusOK, ot, os, oe, op
			}
		}
		return mfserr.StatusOK, RangeUnlock, 0, 0, 0
	}

	if il != nil && rtype != RangeUnlock {
		if findOffensiveLock(il, sessionID, owner, rtype, start, end) {
			if cmd == PosixCmdTry {
				return mfserr.StatusEAGAIN, rtype, start, end, pid
			}
			t.appendLock(il, sessionID, msgID, reqID, owner, rtype, start, end, pid)
			return mfserr.StatusWaiting, rtype, start, end, pid
		}
	}

	if rtype == RangeUnlock {
		if il == nil {
			return mfserr.StatusOK, rtype, start, end, pid
		}
		t.applyLock(il, sessionID, owner, rtype, start, end, pid)
		t.checkWaiting(il)
		return mfserr.StatusOK, rtype, start, end, pid
	}

	if il == nil {
		il = t.inodeOf(inode, true)
	}
	if findOffensiveLock(il, sessionID, owner, rtype, start, end) {
		t.appendLock(il, sessionID, msgID, reqID, owner, rtype, start, end, pid)
		return mfserr.StatusWaiting, rtype, start, end, pid
	}
	t.applyLock(il, sessionID, owner, rtype, start, end, pid)
	t.checkWaiting(il)
	return mfserr.StatusOK, rtype, start, end, pid
}

// FileClosed releases every range sessionID holds on inode, mirroring
// posix_lock_file_closed: waiting requests from sessionID are simply
// dropped (no wake — the session is gone), active ranges are unlocked
// via an UNLCK-over-everything apply, and the waiting queue is then
// reconsidered.
func (t *PosixTable) FileClosed(sessionID, inode uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	il, ok := t.byInode[inode]
	if !ok {
		return
	}

	for e := il.waiting.Oldest; e != nil; {
		next := e.Newer
		w := e.Value
		if w.sessionID == sessionID {
			t.removeWaiter(il, w)
		}
		e = next
	}

	changed := false
	for i := 0; i < len(il.active); {
		al := il.active[i]
		if al.sessionID == sessionID {
			al.ranges = applyRange(al.ranges, RangeUnlock, 0, ^uint64(0))
			il.active = append(il.active[:i], il.active[i+1:]...)
			changed = true
		} else {
			i++
		}
	}

	if changed {
		t.checkWaiting(il)
	} else if len(il.active) == 0 && il.waiting.IsEmpty() {
		delete(t.byInode, il.inode)
	}
}

// PosixRecord is one held range, as returned by List/ListAll
// (posix_lock_list).
type PosixRecord struct {
	Inode     uint32
	SessionID uint32
	Owner     uint64
	PID       uint32
	Start, End uint64
	Shared    bool
}

// List returns every active range on inode.
func (t *PosixTable) List(inode uint32) []PosixRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	il, ok := t.byInode[inode]
	if !ok {
		return nil
	}
	var out []PosixRecord
	for _, al := range il.active {
		for _, r := range al.ranges {
			out = append(out, PosixRecord{Inode: inode, SessionID: al.sessionID, Owner: al.owner, PID: al.pid, Start: r.start, End: r.end, Shared: r.rtype == RangeRead})
		}
	}
	return out
}

// ListAll returns every active range across every inode.
func (t *PosixTable) ListAll() []PosixRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PosixRecord
	for inode, il := range t.byInode {
		for _, al := range il.active {
			for _, r := range al.ranges {
				out = append(out, PosixRecord{Inode: inode, SessionID: al.sessionID, Owner: al.owner, PID: al.pid, Start: r.start, End: r.end, Shared: r.rtype == RangeRead})
			}
		}
	}
	return out
}

// MRChange replays a changelog POSIXLOCK entry during metadata
// restore (posix_lock_mr_change). cmd 'U'/'u' unlocks [start,end);
// 'R'/'r'/'S'/'s' takes a read lock; 'W'/'w'/'E'/'e' a write lock.
func (t *PosixTable) MRChange(inode, sessionID uint32, owner uint64, cmd byte, start, end uint64, pid uint32) mfserr.Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	var rtype RangeType
	var il *posixInode
	switch cmd {
	case 'U', 'u':
		var ok bool
		il, ok = t.byInode[inode]
		if !ok {
			return mfserr.StatusMismatch
		}
		rtype = RangeUnlock
	case 'R', 'r', 'S', 's':
		il = t.inodeOf(inode, true)
		rtype = RangeRead
	case 'W', 'w', 'E', 'e':
		il = t.inodeOf(inode, true)
		rtype = RangeWrite
	default:
		return mfserr.StatusEINVAL
	}

	if rtype != RangeUnlock && findOffensiveLock(il, sessionID, owner, rtype, start, end) {
		return mfserr.StatusMismatch
	}
	t.applyLockDo(il, sessionID, owner, rtype, start, end, pid)
	t.pruneIfEmpty(il)
	return mfserr.StatusOK
}
