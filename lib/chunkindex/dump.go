// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chunkindex

import (
	"io"
	"sort"

	"git.lukeshu.com/go/lowmemjson"
)

// chunkDump is the wire shape for one chunk row in an index dump (the
// human-readable sibling of the binary metadata image, mirroring
// storageclass.Registry's and session.Table's own DumpJSON).
type chunkDump struct {
	ID       ChunkID           `json:"id"`
	Version  uint32            `json:"version"`
	LockedTo int64             `json:"locked_to"`
	Goal     uint8             `json:"goal"`
	Copies   map[ServerID]uint32 `json:"copies"`
}

// DumpJSON writes the full chunk table to w as a JSON array ordered by
// id, for the metadata dump/info path (§4.4, §4.9).
func (idx *Index) DumpJSON(w io.Writer) error {
	idx.mu.Lock()
	dumps := make([]chunkDump, 0, len(idx.chunks))
	for _, e := range idx.chunks {
		dumps = append(dumps, chunkDump{
			ID:       e.ID,
			Version:  e.Version,
			LockedTo: e.LockedTo,
			Goal:     e.Goal,
			Copies:   e.Copies,
		})
	}
	idx.mu.Unlock()

	sort.Slice(dumps, func(i, j int) bool { return dumps[i].ID < dumps[j].ID })
	return lowmemjson.Encode(w, dumps)
}
