// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package advlock implements the two kinds of advisory locking a
// mounted export can ask the master to arbitrate (§4.8): BSD-style
// whole-file flock, and POSIX fcntl byte-range locks. Both grant a
// lock immediately when nothing conflicts, queue the requester FIFO
// when something does, and replay releases when a session's open
// files are torn down.
//
// Grounded on original_source/mfsmaster/flocklocks.c and
// original_source/mfsmaster/posixlocks.c. Both C files keep one
// fixed 1024-bucket inode hash (FLOCK_INODE_HASHSIZE /
// POSIX_LOCK_INODE_HASHSIZE) of intrusive doubly-linked lists; this
// package replaces the hash with a plain map[uint32]*inode record
// (the teacher's lib/storageclass/lib/session precedent for "Go map
// instead of fixed hash chain") and replaces the waiting queue's
// manual prev/next bookkeeping with the teacher's
// lib/containers.LinkedList[T] FIFO idiom, since both tables process
// waiters oldest-first exactly the way LinkedList's Oldest/Newest
// naming models.
//
// Where the original calls directly into matoclserv to deliver a
// deferred reply once a queued lock is granted, this package takes a
// Notifier callback instead — the wire dispatch this would route
// through (lib/dispatch, §4.11) isn't this package's concern.
package advlock

// Notifier delivers a deferred reply for a request that was queued
// (mfserr.StatusWaiting) and has now resolved, mirroring
// matoclserv_fuse_flock_wake_up / matoclserv_fuse_posix_lock_wake_up.
type Notifier interface {
	WakeUp(sessionID, msgID uint32, status uint8)
}

// OpenChecker reports whether a session has an inode open
// (of_checknode); satisfied by *lib/openfiles.Table. Locking
// operations other than unlock/release/interrupt require the file to
// already be open.
type OpenChecker interface {
	CheckNode(sessionID, inode uint32) bool
}

// Journal receives one call per journaled lock-state change, the same
// convention as lib/session and lib/openfiles.
type Journal interface {
	Logged(desc string)
}

type nopJournal struct{}

func (nopJournal) Logged(string) {}

type nopNotifier struct{}

func (nopNotifier) WakeUp(uint32, uint32, uint8) {}
