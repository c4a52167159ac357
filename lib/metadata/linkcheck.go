// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import "fmt"

// LinkMismatch reports one inode whose NLink disagrees with the
// number of edges actually pointing at it (§8 "Link accounting").
type LinkMismatch struct {
	Inode      uint32
	NLink      uint32
	EdgeCount  uint32
}

func (m LinkMismatch) String() string {
	return fmt.Sprintf("inode %d: nlink=%d but %d edge(s) reference it", m.Inode, m.NLink, m.EdgeCount)
}

// CheckLinkAccounting walks every edge (tree, trash, and sustained)
// and tallies how many point at each inode, then compares that tally
// against the inode's own NLink field, returning every inode where
// they disagree.
//
// This plays the role btrfscheck's Want/Have graph callbacks play for
// btrfs — there, a checker walks the on-disk B-tree accumulating
// "have" counts against items it "wants" to reconcile a possibly
// corrupt tree; here the graph is always fully in memory and
// internally consistent by construction, so the want/have pattern
// collapses to a single counting pass with no separate reconciliation
// phase. It still runs with the same intent: catching an invariant
// violation with one call rather than it first showing up as garbled
// behavior somewhere in a directory listing.
func (g *Graph) CheckLinkAccounting() []LinkMismatch {
	g.mu.Lock()
	defer g.mu.Unlock()

	counts := make(map[uint32]uint32, len(g.inodes))
	for _, e := range g.edgeByID {
		counts[e.Child]++
	}
	for id := range g.trash {
		counts[id]++
	}
	for id := range g.sustained {
		counts[id]++
	}

	var mismatches []LinkMismatch
	for id, n := range g.inodes {
		if id == RootInode {
			// The root has no incoming edge by construction (nothing
			// is its parent), so its NLink of 1 is definitionally
			// exempt from the edge-count tally.
			continue
		}
		if n.NLink != counts[id] {
			mismatches = append(mismatches, LinkMismatch{Inode: id, NLink: n.NLink, EdgeCount: counts[id]})
		}
	}
	return mismatches
}
