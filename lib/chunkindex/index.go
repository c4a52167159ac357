// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chunkindex

import (
	"fmt"
	"sync"

	"github.com/moosefs/moosefs-sub003/lib/mfserr"
)

// WaitTimeoutSeconds bounds how long a caller may sit behind a locked
// or busy chunk before giving up (CHUNK_WAIT_TIMEOUT in
// matoclserv_timeout_waiting_ops).
const WaitTimeoutSeconds = 30

// waiter is one request parked behind a locked or busy chunk
// (lwchunks in the original), FIFO per chunk id.
type waiter struct {
	id       uint64
	queuedAt int64
}

// Index is the master's chunk table. Safe for concurrent use.
type Index struct {
	mu      sync.Mutex
	chunks  map[ChunkID]*Entry
	nextID  ChunkID
	waiters map[ChunkID][]waiter
	nextReq uint64

	journal Journal
	notify  Notifier
	matrix  Matrix
}

// NewIndex constructs an empty chunk table. firstID seeds the id
// allocator (NEXTCHUNKID replay advances it further).
func NewIndex(firstID ChunkID, journal Journal, notify Notifier) *Index {
	if journal == nil {
		journal = nopJournal{}
	}
	if notify == nil {
		notify = nopNotifier{}
	}
	if firstID == 0 {
		firstID = 1
	}
	return &Index{
		chunks:  make(map[ChunkID]*Entry),
		nextID:  firstID,
		waiters: make(map[ChunkID][]waiter),
		journal: journal,
		notify:  notify,
	}
}

// Matrix returns the goal×copies reconciliation counters accumulated
// by ServerReport.
func (idx *Index) Matrix() Matrix {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.matrix
}

// Create allocates a fresh chunk id and version 1, journals CHUNKADD,
// and registers the chunk as not-yet-replicated anywhere (fs_writechunk
// allocating a brand-new chunk for a newly-extended file).
func (idx *Index) Create(goal uint8) (ChunkID, uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	id := idx.nextID
	idx.nextID++
	e := &Entry{ID: id, Version: 1, Goal: goal, Copies: make(map[ServerID]uint32)}
	idx.chunks[id] = e
	idx.matrix.add(e.Goal, 0)
	idx.journal.Logged(fmt.Sprintf("CHUNKADD(%d,%d,%d)", id, e.Version, e.LockedTo))
	return id, e.Version
}

// MRChunkAdd replays a CHUNKADD entry during restore, recreating the
// row unconditionally (used both for genuinely new chunks and to
// rebuild the table from an image that predates a richer CHNK
// section).
func (idx *Index) MRChunkAdd(id ChunkID, version uint32, lockedTo int64) mfserr.Status {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if e, ok := idx.chunks[id]; ok {
		idx.matrix.remove(e.Goal, e.validCopies())
		e.Version = version
		e.LockedTo = lockedTo
		idx.matrix.add(e.Goal, e.validCopies())
		return mfserr.StatusOK
	}
	e := &Entry{ID: id, Version: version, LockedTo: lockedTo, Copies: make(map[ServerID]uint32)}
	idx.chunks[id] = e
	idx.matrix.add(e.Goal, 0)
	if id >= idx.nextID {
		idx.nextID = id + 1
	}
	return mfserr.StatusOK
}

// Delete removes a chunk from the table (fs_truncate dropping a file's
// last chunk, or purge freeing every chunk of a deleted file),
// journaling CHUNKDEL.
func (idx *Index) Delete(id ChunkID) mfserr.Status {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.chunks[id]
	if !ok {
		return mfserr.StatusNoChunks
	}
	idx.matrix.remove(e.Goal, e.validCopies())
	delete(idx.chunks, id)
	idx.journal.Logged(fmt.Sprintf("CHUNKDEL(%d,%d)", id, e.Version))
	return mfserr.StatusOK
}

// MRChunkDel replays CHUNKDEL, requiring the version to match the
// live entry (the same live/replay mismatch convention used
// throughout this module).
func (idx *Index) MRChunkDel(id ChunkID, version uint32) mfserr.Status {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.chunks[id]
	if !ok || e.Version != version {
		return mfserr.StatusMismatch
	}
	idx.matrix.remove(e.Goal, e.validCopies())
	delete(idx.chunks, id)
	return mfserr.StatusOK
}

// Get returns a copy of the chunk's current row.
func (idx *Index) Get(id ChunkID) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.chunks[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// OpenForWrite bumps the chunk's version and locks it until now+ttl
// seconds, returning the new version and StatusOK, or
// mfserr.StatusChunkBusy (matoclserv_fuse_write_chunk_common folds
// MFS_ERROR_LOCKED into a queued wait) if the chunk is already locked
// by another write.
func (idx *Index) OpenForWrite(id ChunkID, now int64, ttlSeconds int64) (uint32, mfserr.Status) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.chunks[id]
	if !ok {
		return 0, mfserr.StatusNoChunks
	}
	if e.LockedTo > now {
		return 0, mfserr.StatusChunkBusy
	}
	e.Version++
	e.LockedTo = now + ttlSeconds
	idx.journal.Logged(fmt.Sprintf("SETVERSION(%d,%d)", e.ID, e.Version))
	return e.Version, mfserr.StatusOK
}

// MRSetVersion replays SETVERSION.
func (idx *Index) MRSetVersion(id ChunkID, version uint32) mfserr.Status {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.chunks[id]
	if !ok {
		return mfserr.StatusNoChunks
	}
	e.Version = version
	return mfserr.StatusOK
}

// MRIncVersion replays the deprecated INCVERSION opcode (superseded by
// SETVERSION since 1.7.25, kept only so older changelogs still
// restore).
func (idx *Index) MRIncVersion(id ChunkID) mfserr.Status {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.chunks[id]
	if !ok {
		return mfserr.StatusNoChunks
	}
	e.Version++
	return mfserr.StatusOK
}

// EndWrite releases a chunk's write lock (fs_writeend / UNLOCK), then
// makes one Notifier.ChunkUnlocked call for the chunk. Requests parked
// by Enqueue stay queued until Cancel or ExpireWaiters removes them.
func (idx *Index) EndWrite(id ChunkID) mfserr.Status {
	idx.mu.Lock()
	e, ok := idx.chunks[id]
	if !ok {
		idx.mu.Unlock()
		return mfserr.StatusNoChunks
	}
	e.LockedTo = 0
	idx.journal.Logged(fmt.Sprintf("UNLOCK(%d)", id))
	idx.mu.Unlock()

	idx.notify.ChunkUnlocked(id)
	return mfserr.StatusOK
}

// MRUnlock replays UNLOCK.
func (idx *Index) MRUnlock(id ChunkID) mfserr.Status {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.chunks[id]
	if !ok {
		return mfserr.StatusNoChunks
	}
	e.LockedTo = 0
	return mfserr.StatusOK
}

// NextChunkID returns the id the next Create call will hand out,
// mirroring the NEXTCHUNKID opcode's role of recording the allocator's
// watermark so a restarted master resumes past it.
func (idx *Index) NextChunkID() ChunkID {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.nextID
}

// MRNextChunkID replays NEXTCHUNKID, advancing the allocator watermark
// without allocating anything.
func (idx *Index) MRNextChunkID(id ChunkID) mfserr.Status {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if id < idx.nextID {
		return mfserr.StatusMismatch
	}
	idx.nextID = id
	return mfserr.StatusOK
}

// Enqueue parks a caller behind a chunk that OpenForWrite (or a read)
// reported busy, returning a request id to later Cancel or match
// against a ChunkUnlocked notification. Mirrors lwchunks linking onto
// the per-chunk-id hash bucket.
func (idx *Index) Enqueue(id ChunkID, now int64) uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.nextReq++
	req := idx.nextReq
	idx.waiters[id] = append(idx.waiters[id], waiter{id: req, queuedAt: now})
	return req
}

// Cancel removes a single queued request, e.g. once its wait has been
// serviced or the connection went away.
func (idx *Index) Cancel(id ChunkID, req uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ws := idx.waiters[id]
	for i, w := range ws {
		if w.id == req {
			idx.waiters[id] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(idx.waiters[id]) == 0 {
		delete(idx.waiters, id)
	}
}

// ExpireWaiters drops every queued request older than WaitTimeoutSeconds
// as of now, returning their request ids so the caller can reply
// ETIMEDOUT to each (matoclserv_timeout_waiting_ops). Call this
// periodically from the dispatch loop's idle tick.
func (idx *Index) ExpireWaiters(now int64) []uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var expired []uint64
	for id, ws := range idx.waiters {
		kept := ws[:0]
		for _, w := range ws {
			if w.queuedAt+WaitTimeoutSeconds < now {
				expired = append(expired, w.id)
			} else {
				kept = append(kept, w)
			}
		}
		if len(kept) == 0 {
			delete(idx.waiters, id)
		} else {
			idx.waiters[id] = kept
		}
	}
	return expired
}
