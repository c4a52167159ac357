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

// FlockMode selects which of the three observed kernel scheduling
// personalities govern reader/writer queueing (FlocksMode in the
// original — configurable because real kernels disagree).
type FlockMode uint8

const (
	FlockModeCorrect FlockMode = iota // classic readers/writers: a waiting lock of any kind blocks new readers
	FlockModeBSD                      // FreeBSD/OSX: only the leading run of waiting readers is woken together
	FlockModeLinux                    // Linux: every waiting reader is woken, not just the leading run
)

// FlockOp is one of the flock operations a client's LOCK/FLOCK request
// can carry (FLOCK_* in the wire protocol).
type FlockOp uint8

const (
	FlockUnlock       FlockOp = 0
	FlockTryShared    FlockOp = 1
	FlockLockShared   FlockOp = 2
	FlockTryExclusive FlockOp = 3
	FlockLockExclusive FlockOp = 4
	FlockInterrupt    FlockOp = 5
	FlockRelease      FlockOp = 6
)

type lockType uint8

const (
	ltypeReader lockType = 0
	ltypeWriter lockType = 1
)

type lockState uint8

const (
	stateWaiting lockState = 0
	stateActive  lockState = 1
)

// waiter is one pending request attached to a waiting (or, briefly,
// an about-to-be-woken) lock — flock_lock_append_req lets several
// requests coalesce onto the same lock if they share a reqid (e.g. a
// retransmission).
type waiter struct {
	msgID, reqID uint32
}

type flockLock struct {
	owner     uint64
	sessionID uint32
	state     lockState
	ltype     lockType
	waiters   []waiter

	parent *flockInode
	elem   *containers.LinkedListEntry[*flockLock] // set only while state==stateWaiting
}

type flockInode struct {
	inode   uint32
	active  []*flockLock
	waiting containers.LinkedList[*flockLock]
}

// FlockTable arbitrates BSD-style whole-file locks across inodes.
// Safe for concurrent use.
type FlockTable struct {
	mu      sync.Mutex
	mode    FlockMode
	byInode map[uint32]*flockInode
	open    OpenChecker
	journal Journal
	notify  Notifier
}

// NewFlockTable constructs an empty table. open is consulted before
// granting any lock other than unlock/release/interrupt
// (of_checknode's gate in flock_locks_cmd).
func NewFlockTable(mode FlockMode, open OpenChecker, journal Journal, notify Notifier) *FlockTable {
	if journal == nil {
		journal = nopJournal{}
	}
	if notify == nil {
		notify = nopNotifier{}
	}
	return &FlockTable{
		mode:    mode,
		byInode: make(map[uint32]*flockInode),
		open:    open,
		journal: journal,
		notify:  notify,
	}
}

func (t *FlockTable) conflicts(il *flockInode, ltype lockType) bool {
	if ltype == ltypeReader {
		if len(il.active) > 0 && il.active[0].ltype == ltypeWriter {
			return true
		}
		if t.mode == FlockModeCorrect && !il.waiting.IsEmpty() {
			return true
		}
		return false
	}
	return len(il.active) > 0
}

func (t *FlockTable) journalActive(l *flockLock) {
	c := byte('R')
	if l.ltype == ltypeWriter {
		c = 'W'
	}
	t.journal.Logged(fmt.Sprintf("FLOCK(%d,%d,%d,%c)", l.parent.inode, l.sessionID, l.owner, c))
}

func (t *FlockTable) attachWaiting(l *flockLock) {
	l.state = stateWaiting
	l.elem = &containers.LinkedListEntry[*flockLock]{Value: l}
	l.parent.waiting.Store(l.elem)
}

func (t *FlockTable) attachActive(l *flockLock) {
	l.state = stateActive
	l.parent.active = append(l.parent.active, l)
	t.journalActive(l)
}

func (t *FlockTable) detach(l *flockLock) {
	if l.state == stateWaiting {
		l.parent.waiting.Delete(l.elem)
		l.elem = nil
		return
	}
	active := l.parent.active
	for i, o := range active {
		if o == l {
			l.parent.active = append(active[:i], active[i+1:]...)
			return
		}
	}
}

func (t *FlockTable) wakeUpOne(l *flockLock, reqID uint32, status mfserr.Status) {
	kept := l.waiters[:0]
	for _, w := range l.waiters {
		if w.reqID == reqID {
			t.notify.WakeUp(l.sessionID, w.msgID, uint8(status))
		} else {
			kept = append(kept, w)
		}
	}
	l.waiters = kept
}

func (t *FlockTable) wakeUpAll(l *flockLock, status mfserr.Status) {
	for _, w := range l.waiters {
		t.notify.WakeUp(l.sessionID, w.msgID, uint8(status))
	}
	l.waiters = nil
}

func (t *FlockTable) appendReq(l *flockLock, msgID, reqID uint32) {
	for i, w := range l.waiters {
		if w.reqID == reqID {
			l.waiters[i].msgID = msgID
			return
		}
	}
	l.waiters = append(l.waiters, waiter{msgID: msgID, reqID: reqID})
}

// removeLock detaches l from its inode and, if it had been active,
// journals the release (flock_lock_remove).
func (t *FlockTable) removeLock(l *flockLock) {
	if l.state == stateActive {
		t.journal.Logged(fmt.Sprintf("FLOCK(%d,%d,%d,U)", l.parent.inode, l.sessionID, l.owner))
	}
	t.detach(l)
}

// unlock removes an active lock, then promotes whatever in the
// waiting queue can now run (flock_lock_unlock).
func (t *FlockTable) unlock(il *flockInode, l *flockLock) {
	t.removeLock(l)
	if len(il.active) == 0 && !il.waiting.IsEmpty() {
		t.checkWaiting(il)
	}
}

// checkWaiting promotes the leading writer (if the inode just went
// idle) and then as many readers as FlockMode allows
// (flock_lock_check_waiting).
func (t *FlockTable) checkWaiting(il *flockInode) {
	head := il.waiting.Oldest
	if head == nil {
		return
	}
	l := head.Value
	if len(il.active) == 0 && l.ltype == ltypeWriter {
		t.detach(l)
		t.attachActive(l)
		t.wakeUpAll(l, mfserr.StatusOK)
	}
	if len(il.active) == 0 || il.active[0].ltype == ltypeReader {
		if t.mode == FlockModeLinux {
			for e := il.waiting.Oldest; e != nil; {
				next := e.Newer
				if e.Value.ltype == ltypeReader {
					l := e.Value
					t.detach(l)
					t.attachActive(l)
					t.wakeUpAll(l, mfserr.StatusOK)
				}
				e = next
			}
		} else {
			for {
				e := il.waiting.Oldest
				if e == nil || e.Value.ltype != ltypeReader {
					break
				}
				l := e.Value
				t.detach(l)
				t.attachActive(l)
				t.wakeUpAll(l, mfserr.StatusOK)
			}
		}
	}
}

func (t *FlockTable) newLock(il *flockInode, ltype lockType, sessionID uint32, msgID, reqID uint32, owner uint64) mfserr.Status {
	l := &flockLock{owner: owner, sessionID: sessionID, ltype: ltype, parent: il}
	if t.conflicts(il, ltype) {
		t.attachWaiting(l)
		t.appendReq(l, msgID, reqID)
		return mfserr.StatusWaiting
	}
	t.attachActive(l)
	return mfserr.StatusOK
}

func (t *FlockTable) inodeOf(inode uint32, create bool) *flockInode {
	il, ok := t.byInode[inode]
	if !ok && create {
		il = &flockInode{inode: inode}
		t.byInode[inode] = il
	}
	return il
}

func (t *FlockTable) pruneIfEmpty(il *flockInode) {
	if len(il.active) == 0 && il.waiting.IsEmpty() {
		delete(t.byInode, il.inode)
	}
}

// Cmd processes one flock request (flock_locks_cmd), returning the
// status to reply with: StatusOK, StatusWaiting (queued — a later
// Notifier.WakeUp delivers the real outcome), or an error status.
func (t *FlockTable) Cmd(sessionID, msgID, reqID, inode uint32, owner uint64, op FlockOp) mfserr.Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	if op != FlockInterrupt && op != FlockRelease && t.open != nil && !t.open.CheckNode(sessionID, inode) {
		return mfserr.StatusNotOpened
	}

	il := t.inodeOf(inode, false)
	if il == nil {
		if op == FlockUnlock || op == FlockInterrupt || op == FlockRelease {
			return mfserr.StatusOK
		}
		il = t.inodeOf(inode, true)
	}

	if op == FlockInterrupt {
		for e := il.waiting.Oldest; e != nil; {
			next := e.Newer
			l := e.Value
			if l.sessionID == sessionID && l.owner == owner {
				t.wakeUpOne(l, reqID, mfserr.StatusEINTR)
				if len(l.waiters) == 0 {
					t.removeLock(l)
				}
			}
			e = next
		}
		return mfserr.StatusOK
	}

	for _, l := range il.active {
		if l.sessionID != sessionID || l.owner != owner {
			continue
		}
		switch op {
		case FlockUnlock, FlockRelease:
			t.unlock(il, l)
			t.pruneIfEmpty(il)
			return mfserr.StatusOK
		case FlockTryShared:
			if l.ltype == ltypeReader {
				return mfserr.StatusOK
			}
			l.ltype = ltypeReader
			t.checkWaiting(il)
			return mfserr.StatusOK
		case FlockLockShared:
			if l.ltype == ltypeReader {
				return mfserr.StatusOK
			}
			t.unlock(il, l)
			return t.newLock(il, ltypeReader, sessionID, msgID, reqID, owner)
		case FlockTryExclusive:
			if l.ltype == ltypeWriter {
				return mfserr.StatusOK
			}
			if len(il.active) == 1 {
				l.ltype = ltypeWriter
				return mfserr.StatusOK
			}
			return mfserr.StatusEAGAIN
		case FlockLockExclusive:
			if l.ltype == ltypeWriter {
				return mfserr.StatusOK
			}
			t.unlock(il, l)
			return t.newLock(il, ltypeWriter, sessionID, msgID, reqID, owner)
		}
		return mfserr.StatusEINVAL
	}

	for e := il.waiting.Oldest; e != nil; e = e.Newer {
		l := e.Value
		if l.sessionID != sessionID || l.owner != owner {
			continue
		}
		switch op {
		case FlockRelease:
			t.wakeUpAll(l, mfserr.StatusECANCELED)
			t.removeLock(l)
			return mfserr.StatusOK
		case FlockUnlock:
			if t.mode == FlockModeCorrect {
				t.wakeUpAll(l, mfserr.StatusECANCELED)
				t.removeLock(l)
			}
			return mfserr.StatusOK
		case FlockTryShared, FlockTryExclusive:
			return mfserr.StatusEAGAIN
		case FlockLockShared:
			if l.ltype == ltypeReader {
				t.appendReq(l, msgID, reqID)
				return mfserr.StatusWaiting
			}
			t.wakeUpAll(l, mfserr.StatusECANCELED)
			l.ltype = ltypeReader
			t.appendReq(l, msgID, reqID)
			return mfserr.StatusWaiting
		case FlockLockExclusive:
			if l.ltype == ltypeWriter {
				t.appendReq(l, msgID, reqID)
				return mfserr.StatusWaiting
			}
			t.wakeUpAll(l, mfserr.StatusECANCELED)
			l.ltype = ltypeWriter
			t.appendReq(l, msgID, reqID)
			return mfserr.StatusWaiting
		}
		return mfserr.StatusEINVAL
	}

	if op == FlockUnlock || op == FlockRelease {
		return mfserr.StatusOK
	}
	ltype := ltypeWriter
	if op == FlockTryShared || op == FlockLockShared {
		ltype = ltypeReader
	}
	if op == FlockTryShared || op == FlockTryExclusive {
		if t.conflicts(il, ltype) {
			return mfserr.StatusEAGAIN
		}
	}
	return t.newLock(il, ltype, sessionID, msgID, reqID, owner)
}

// FileClosed tears down every lock sessionID holds (active or
// waiting) on inode, without waking waiters first — the session that
// owned them is already gone (flock_file_closed). lib/openfiles wires
// this in as an OnClose hook.
func (t *FlockTable) FileClosed(sessionID, inode uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	il, ok := t.byInode[inode]
	if !ok {
		return
	}
	for e := il.waiting.Oldest; e != nil; {
		next := e.Newer
		l := e.Value
		if l.sessionID == sessionID {
			t.removeLock(l)
		}
		e = next
	}
	active := append([]*flockLock(nil), il.active...)
	for _, l := range active {
		if l.sessionID == sessionID {
			t.unlock(il, l)
		}
	}
	t.pruneIfEmpty(il)
}

// FlockRecord is one active lock, as returned by List/ListAll
// (flock_list).
type FlockRecord struct {
	Inode     uint32
	SessionID uint32
	Owner     uint64
	Shared    bool
}

// List returns every active lock on inode.
func (t *FlockTable) List(inode uint32) []FlockRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	il, ok := t.byInode[inode]
	if !ok {
		return nil
	}
	out := make([]FlockRecord, 0, len(il.active))
	for _, l := range il.active {
		out = append(out, FlockRecord{Inode: inode, SessionID: l.sessionID, Owner: l.owner, Shared: l.ltype == ltypeReader})
	}
	return out
}

// ListAll returns every active lock across every inode.
func (t *FlockTable) ListAll() []FlockRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []FlockRecord
	for inode, il := range t.byInode {
		for _, l := range il.active {
			out = append(out, FlockRecord{Inode: inode, SessionID: l.sessionID, Owner: l.owner, Shared: l.ltype == ltypeReader})
		}
	}
	return out
}

// MRChange replays a changelog FLOCK entry during metadata restore
// (flock_mr_change). cmd is 'U'/'u' to release every lock the
// session+owner holds, 'R'/'r'/'S'/'s' for a shared lock, or
// 'W'/'w'/'E'/'e' for an exclusive one.
func (t *FlockTable) MRChange(inode uint32, sessionID uint32, owner uint64, cmd byte) mfserr.Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cmd == 'U' || cmd == 'u' {
		il, ok := t.byInode[inode]
		if !ok {
			return mfserr.StatusMismatch
		}
		active := append([]*flockLock(nil), il.active...)
		for _, l := range active {
			if l.sessionID == sessionID && l.owner == owner {
				t.detach(l)
			}
		}
		t.pruneIfEmpty(il)
		return mfserr.StatusOK
	}

	var ltype lockType
	switch cmd {
	case 'R', 'r', 'S', 's':
		ltype = ltypeReader
	case 'W', 'w', 'E', 'e':
		ltype = ltypeWriter
	default:
		return mfserr.StatusEINVAL
	}

	il := t.inodeOf(inode, true)
	if len(il.active) > 0 && (il.active[0].ltype == ltypeWriter || ltype == ltypeWriter) {
		return mfserr.StatusMismatch
	}
	l := &flockLock{owner: owner, sessionID: sessionID, ltype: ltype, parent: il, state: stateActive}
	il.active = append(il.active, l)
	return mfserr.StatusOK
}
