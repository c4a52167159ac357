// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chunkindex

import "sort"

// ReportAction tells the caller what follow-up work a ServerReport
// call triggered, so it can hand the job to the replicator /
// deletion queue (both out of scope here — this package only keeps
// the table of record straight).
type ReportAction uint8

const (
	ActionNone ReportAction = iota
	// ActionDeleteStale means the reporting server's copy is a
	// stale version and should be deleted from that server.
	ActionDeleteStale
	// ActionReplicate means the chunk now has fewer valid copies
	// than its goal calls for and a replication job should be
	// scheduled.
	ActionReplicate
)

// ServerReport reconciles one chunk server's view of a chunk
// (version, or "absent" via present=false for a chunk it no longer has)
// against the table of record, mirroring the update matoclserv does
// on every CSTOAN chunk-status packet before calling
// matoclserv_chunk_status.
func (idx *Index) ServerReport(server ServerID, id ChunkID, version uint32, present bool) ReportAction {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.chunks[id]
	if !ok {
		if present {
			// Server has a chunk the master doesn't know
			// about (e.g. from a deleted file); tell it to
			// drop it.
			return ActionDeleteStale
		}
		return ActionNone
	}

	idx.matrix.remove(e.Goal, e.validCopies())
	defer func() { idx.matrix.add(e.Goal, e.validCopies()) }()

	if !present {
		delete(e.Copies, server)
		if e.validCopies() < int(e.Goal) {
			return ActionReplicate
		}
		return ActionNone
	}

	if version != e.Version {
		// Diverging version: this server's copy is stale (or,
		// rarely, ahead — either way it can't serve reads for
		// the current version) and gets deleted; the table
		// still doesn't count it.
		delete(e.Copies, server)
		return ActionDeleteStale
	}

	e.Copies[server] = version
	if e.validCopies() < int(e.Goal) {
		return ActionReplicate
	}
	return ActionNone
}

// ServerGone drops every copy a disconnected chunk server was
// reported to hold, folding each affected chunk's matrix cell and
// reporting which ones now need replication.
func (idx *Index) ServerGone(server ServerID) []ChunkID {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var needReplication []ChunkID
	for id, e := range idx.chunks {
		if _, had := e.Copies[server]; !had {
			continue
		}
		idx.matrix.remove(e.Goal, e.validCopies())
		delete(e.Copies, server)
		idx.matrix.add(e.Goal, e.validCopies())
		if e.validCopies() < int(e.Goal) {
			needReplication = append(needReplication, id)
		}
	}
	return needReplication
}

// VersionAndServers returns a chunk's current version and the list of
// servers presently holding a valid (matching-version) copy, sorted
// by id — get_version_and_csdata's core job, minus the
// protocol-version-dependent wire encoding of cs_data left to the
// caller (§4.11 decides that).
func (idx *Index) VersionAndServers(id ChunkID) (version uint32, servers []ServerID, ok bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.chunks[id]
	if !ok {
		return 0, nil, false
	}
	for s, v := range e.Copies {
		if v == e.Version {
			servers = append(servers, s)
		}
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i] < servers[j] })
	return e.Version, servers, true
}
