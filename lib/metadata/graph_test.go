// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosefs/moosefs-sub003/lib/metadata"
	"github.com/moosefs/moosefs-sub003/lib/mfsproto"
	"github.com/moosefs/moosefs-sub003/lib/session"
)

func newGraph(t *testing.T) (*metadata.Graph, *metadata.RecordingJournal) {
	t.Helper()
	j := &metadata.RecordingJournal{}
	g := metadata.NewGraph(nil, metadata.NewQuotaTable(nil), nil, nil, j)
	return g, j
}

func mkdir(t *testing.T, g *metadata.Graph, parent uint32, name string) uint32 {
	t.Helper()
	id, err := g.Create(metadata.CreateParams{Parent: parent, Name: name, Type: mfsproto.TypeDir, Perm: 0755, UID: 0, GID: 0, Now: 1})
	require.NoError(t, err)
	return id
}

func TestGraphCreateWriteCloseScenario(t *testing.T) {
	// "Create /a/b/c (mkdir, mkdir, create); write 10 bytes; close."
	g, j := newGraph(t)

	a := mkdir(t, g, metadata.RootInode, "a")
	b := mkdir(t, g, a, "b")
	c, err := g.Create(metadata.CreateParams{Parent: b, Name: "c", Type: mfsproto.TypeFile, Perm: 0644, Now: 1})
	require.NoError(t, err)

	require.NoError(t, g.SetChunk(c, 0, 0xAAAA))
	require.NoError(t, g.SetLength(c, 10, 2, true))

	n, err := g.GetInode(c)
	require.NoError(t, err)
	assert.EqualValues(t, 10, n.Length)
	chunk, err := g.ChunkAt(c, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0xAAAA, chunk)

	creates := 0
	lengths := 0
	for _, l := range j.Lines {
		if len(l) >= 6 && l[:6] == "CREATE" {
			creates++
		}
		if len(l) >= 6 && l[:6] == "LENGTH" {
			lengths++
		}
	}
	assert.Equal(t, 3, creates)
	assert.Equal(t, 1, lengths)
}

func TestGraphUnlinkWithTwoHardLinksKeepsInode(t *testing.T) {
	// "Unlink a file with two hard links. Expect: one UNLINK entry;
	// inode persists with nlink=1; no FREEINODE."
	g, j := newGraph(t)

	f, err := g.Create(metadata.CreateParams{Parent: metadata.RootInode, Name: "f1", Type: mfsproto.TypeFile, Perm: 0644, Now: 1})
	require.NoError(t, err)
	require.NoError(t, g.Link(metadata.RootInode, "f2", f))

	j.Lines = nil
	_, err = g.Unlink(metadata.RootInode, "f1", 2)
	require.NoError(t, err)

	require.Len(t, j.Lines, 1)
	assert.Contains(t, j.Lines[0], "UNLINK(")

	n, err := g.GetInode(f)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n.NLink)
}

func TestGraphUnlinkLastLinkWithoutTrashPurgesImmediately(t *testing.T) {
	g, _ := newGraph(t)
	f, err := g.Create(metadata.CreateParams{Parent: metadata.RootInode, Name: "f", Type: mfsproto.TypeFile, Perm: 0644, Now: 1})
	require.NoError(t, err)

	_, err = g.Unlink(metadata.RootInode, "f", 2)
	require.NoError(t, err)

	_, err = g.GetInode(f)
	assert.Error(t, err)
}

func TestGraphEmptyTrashWithNothingParkedIsNoop(t *testing.T) {
	g, _ := newGraph(t)
	freed, sustained := g.EmptyTrash(1000000)
	assert.EqualValues(t, 0, freed)
	assert.EqualValues(t, 0, sustained)
}

func TestGraphMoveRenamesEdge(t *testing.T) {
	g, j := newGraph(t)
	a := mkdir(t, g, metadata.RootInode, "a")
	b := mkdir(t, g, metadata.RootInode, "b")
	f, err := g.Create(metadata.CreateParams{Parent: a, Name: "f", Type: mfsproto.TypeFile, Perm: 0644, Now: 1})
	require.NoError(t, err)

	j.Lines = nil
	got, err := g.Move(a, "f", b, "g")
	require.NoError(t, err)
	assert.Equal(t, f, got)

	_, err = g.Lookup(a, "f")
	assert.Error(t, err)
	id, err := g.Lookup(b, "g")
	require.NoError(t, err)
	assert.Equal(t, f, id)
	assert.Contains(t, j.Lines[0], "MOVE(")
}

func TestGraphLookupMissingNameFails(t *testing.T) {
	g, _ := newGraph(t)
	_, err := g.Lookup(metadata.RootInode, "nope")
	assert.Error(t, err)
}

func TestGraphReadDirListsChildren(t *testing.T) {
	g, _ := newGraph(t)
	mkdir(t, g, metadata.RootInode, "a")
	mkdir(t, g, metadata.RootInode, "b")
	entries, err := g.ReadDir(metadata.RootInode)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestGraphMRCreateRejectsDuplicateInode(t *testing.T) {
	g, _ := newGraph(t)
	p := metadata.CreateParams{Parent: metadata.RootInode, Name: "x", Type: mfsproto.TypeFile, Perm: 0644, Now: 1}
	require.NoError(t, g.MRCreate(p, 5))
	err := g.MRCreate(metadata.CreateParams{Parent: metadata.RootInode, Name: "y", Type: mfsproto.TypeFile, Perm: 0644, Now: 1}, 5)
	assert.Error(t, err)
}

func TestGraphSetSClassSetAndExchange(t *testing.T) {
	g, j := newGraph(t)
	id := mkdir(t, g, metadata.RootInode, "d")

	require.NoError(t, g.SetSClass(id, 0, 0, 3, session.SModeSet))
	n, err := g.GetInode(id)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n.SClassID)

	// Exchange only takes effect when the current class matches src.
	require.NoError(t, g.SetSClass(id, 0, 9, 4, session.SModeExchange))
	n, _ = g.GetInode(id)
	assert.EqualValues(t, 3, n.SClassID, "exchange against the wrong src leaves the class untouched")

	require.NoError(t, g.SetSClass(id, 0, 3, 4, session.SModeExchange))
	n, _ = g.GetInode(id)
	assert.EqualValues(t, 4, n.SClassID)

	assert.Contains(t, j.Lines[len(j.Lines)-1], "SETSCLASS(")
}

func TestGraphMRSetSClassMatchesLiveReplay(t *testing.T) {
	live, j := newGraph(t)
	id := mkdir(t, live, metadata.RootInode, "d")
	require.NoError(t, live.SetSClass(id, 0, 0, 3, session.SModeSet))

	replica, _ := newGraph(t)
	require.NoError(t, replica.MRCreate(metadata.CreateParams{Parent: metadata.RootInode, Name: "d", Type: mfsproto.TypeDir, Perm: 0755, Now: 1}, id))
	require.NoError(t, replica.MRSetSClass(id, 0, 3, session.SModeSet))

	n, err := replica.GetInode(id)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n.SClassID)
	_ = j
}

func TestGraphSetTrashRetentionIncreaseDecrease(t *testing.T) {
	g, _ := newGraph(t)
	id := mkdir(t, g, metadata.RootInode, "d")

	require.NoError(t, g.SetTrashRetention(id, 0, 24, session.SModeSet))
	n, _ := g.GetInode(id)
	assert.EqualValues(t, 24, n.TrashRetentionHours)

	require.NoError(t, g.SetTrashRetention(id, 0, 12, session.SModeIncrease))
	n, _ = g.GetInode(id)
	assert.EqualValues(t, 24, n.TrashRetentionHours, "increase with a smaller value is a no-op")

	require.NoError(t, g.SetTrashRetention(id, 0, 48, session.SModeIncrease))
	n, _ = g.GetInode(id)
	assert.EqualValues(t, 48, n.TrashRetentionHours)

	require.NoError(t, g.SetTrashRetention(id, 0, 1, session.SModeDecrease))
	n, _ = g.GetInode(id)
	assert.EqualValues(t, 1, n.TrashRetentionHours)
}

func TestGraphSetEAttrSetIncreaseDecrease(t *testing.T) {
	g, j := newGraph(t)
	id := mkdir(t, g, metadata.RootInode, "d")

	require.NoError(t, g.SetEAttr(id, 0, metadata.EAttrNoOwner, session.SModeSet))
	n, err := g.GetInode(id)
	require.NoError(t, err)
	assert.Equal(t, metadata.EAttrNoOwner, n.EAttr)

	require.NoError(t, g.SetEAttr(id, 0, metadata.EAttrSnapshot, session.SModeIncrease))
	n, _ = g.GetInode(id)
	assert.Equal(t, metadata.EAttrNoOwner|metadata.EAttrSnapshot, n.EAttr, "increase ORs bits in without clearing existing ones")

	require.NoError(t, g.SetEAttr(id, 0, metadata.EAttrNoOwner, session.SModeDecrease))
	n, _ = g.GetInode(id)
	assert.Equal(t, metadata.EAttrSnapshot, n.EAttr, "decrease clears only the named bits")

	assert.Error(t, g.SetEAttr(id, 0, metadata.EAttrSnapshot, session.SModeExchange), "exchange has no meaning for a flag bitmask")

	assert.Contains(t, j.Lines[len(j.Lines)-1], "SETEATTR(")
}

func TestGraphMRSetEAttrMatchesLiveReplay(t *testing.T) {
	live, _ := newGraph(t)
	id := mkdir(t, live, metadata.RootInode, "d")
	require.NoError(t, live.SetEAttr(id, 0, metadata.EAttrNoACache, session.SModeSet))

	replica, _ := newGraph(t)
	require.NoError(t, replica.MRCreate(metadata.CreateParams{Parent: metadata.RootInode, Name: "d", Type: mfsproto.TypeDir, Perm: 0755, Now: 1}, id))
	require.NoError(t, replica.MRSetEAttr(id, metadata.EAttrNoACache, session.SModeSet))

	n, err := replica.GetInode(id)
	require.NoError(t, err)
	assert.Equal(t, metadata.EAttrNoACache, n.EAttr)
}
