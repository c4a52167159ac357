// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package chunkindex implements the master's in-memory chunk table
// (§4.10): one entry per chunk id, tracking its current version, write
// lock, and the set of chunk servers presently holding a copy.
//
// original_source/mfsmaster/chunks.c — the file that would own this
// table in the original — isn't present in the retrieved sources; the
// only surviving view of its behavior is through its callers in
// matoclserv.c (matoclserv_fuse_write_chunk_common,
// matoclserv_chunk_unlocked, matoclserv_timeout_waiting_ops,
// matoclserv_chunk_status) and through the chunk-table opcodes
// (CHUNKADD, CHUNKDEL, SETVERSION, INCVERSION, NEXTCHUNKID, UNLOCK) in
// restore.c, both read in full. Entry shape, version-bump-on-open, the
// 30-second (CHUNK_WAIT_TIMEOUT) locked/busy waiter queue, and the
// goal×copies reconciliation on server report are all taken from
// those call sites and from §4.10 directly.
//
// Structurally this package continues the lib/advlock precedent: a
// plain map keyed by id instead of the original's fixed hash table,
// and a Notifier callback in place of a direct call back into
// matoclserv's connection table. The lwchunks waiter list only needs
// append, removal of one request by id (Cancel), and a full sweep on
// timeout (ExpireWaiters), so the FIFO here stays a plain per-chunk
// slice rather than lib/containers.LinkedList.
package chunkindex

// ChunkID is the 64-bit chunk identifier allocated by Create.
type ChunkID = uint64

// ServerID identifies a registered chunk server (the csdb entry a
// connection was matched to), opaque to this package.
type ServerID = uint32

// Entry is one row of the chunk table.
type Entry struct {
	ID       ChunkID
	Version  uint32
	LockedTo int64 // unix seconds; 0 means not locked
	Goal     uint8 // storage-class id governing the copy count (§4.4)
	Copies   map[ServerID]uint32 // server -> the version that server reports having
}

func (e *Entry) validCopies() int {
	n := 0
	for _, v := range e.Copies {
		if v == e.Version {
			n++
		}
	}
	return n
}

// Notifier delivers a deferred reply once a request that was queued
// behind a locked/busy chunk can now proceed, mirroring
// matoclserv_chunk_unlocked waking the lwchunks FIFO for a given
// chunk id.
type Notifier interface {
	ChunkUnlocked(chunkID ChunkID)
}

// Journal receives one call per journaled chunk-table mutation, the
// same convention used by every other package in this module.
type Journal interface {
	Logged(desc string)
}

type nopJournal struct{}

func (nopJournal) Logged(string) {}

type nopNotifier struct{}

func (nopNotifier) ChunkUnlocked(ChunkID) {}
