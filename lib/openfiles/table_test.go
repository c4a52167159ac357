// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package openfiles_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosefs/moosefs-sub003/lib/openfiles"
)

type recordingJournal struct {
	entries []string
}

func (j *recordingJournal) Logged(desc string) {
	j.entries = append(j.entries, desc)
}

func TestOpenJournalsAcquireOnce(t *testing.T) {
	t.Parallel()
	j := &recordingJournal{}
	tbl := openfiles.NewTable(j)

	tbl.Open(1, 100)
	tbl.Open(1, 100)
	require.Len(t, j.entries, 1)
	assert.Equal(t, "ACQUIRE(1,100)", j.entries[0])
	assert.True(t, tbl.CheckNode(1, 100))
}

func TestCheckNodeUnknown(t *testing.T) {
	t.Parallel()
	tbl := openfiles.NewTable(nil)
	assert.False(t, tbl.CheckNode(1, 100))
	assert.False(t, tbl.IsFileOpen(100))
}

func TestSyncAcquiresAndReleases(t *testing.T) {
	t.Parallel()
	j := &recordingJournal{}
	tbl := openfiles.NewTable(j)

	tbl.Open(1, 10)
	tbl.Open(1, 20)
	j.entries = nil

	tbl.Sync(1, []uint32{20, 30})
	assert.ElementsMatch(t, []string{"RELEASE(1,10)", "ACQUIRE(1,30)"}, j.entries)

	assert.False(t, tbl.CheckNode(1, 10))
	assert.True(t, tbl.CheckNode(1, 20))
	assert.True(t, tbl.CheckNode(1, 30))
	assert.Equal(t, []uint32{20, 30}, tbl.List(1))
}

func TestSyncNoopWhenUnchanged(t *testing.T) {
	t.Parallel()
	j := &recordingJournal{}
	tbl := openfiles.NewTable(j)
	tbl.Open(1, 10)
	j.entries = nil

	tbl.Sync(1, []uint32{10})
	assert.Empty(t, j.entries)
}

func TestSessionRemovedDropsAllRelationsNoJournal(t *testing.T) {
	t.Parallel()
	j := &recordingJournal{}
	tbl := openfiles.NewTable(j)
	tbl.Open(1, 10)
	tbl.Open(1, 20)
	tbl.Open(2, 10)
	j.entries = nil

	tbl.SessionRemoved(1)
	assert.Empty(t, j.entries)
	assert.False(t, tbl.CheckNode(1, 10))
	assert.False(t, tbl.CheckNode(1, 20))
	assert.True(t, tbl.CheckNode(2, 10))
	assert.Equal(t, uint32(0), tbl.NumOpenFiles(1))
}

func TestOnCloseCalledOnRelease(t *testing.T) {
	t.Parallel()
	tbl := openfiles.NewTable(nil)
	var closed []openfiles.Relation
	tbl.OnClose = func(sessionID, inode uint32) {
		closed = append(closed, openfiles.Relation{SessionID: sessionID, Inode: inode})
	}

	tbl.Open(1, 10)
	tbl.Sync(1, nil)
	require.Len(t, closed, 1)
	assert.Equal(t, openfiles.Relation{SessionID: 1, Inode: 10}, closed[0])
}

func TestIsFileOpenAndOpenedBySession(t *testing.T) {
	t.Parallel()
	tbl := openfiles.NewTable(nil)
	tbl.Open(1, 10)
	tbl.Open(2, 10)

	assert.True(t, tbl.IsFileOpen(10))
	assert.True(t, tbl.IsFileOpenedBySession(10, 1))
	assert.False(t, tbl.IsFileOpenedBySession(10, 3))
}

func TestListAllSortedBySessionThenInode(t *testing.T) {
	t.Parallel()
	tbl := openfiles.NewTable(nil)
	tbl.Open(2, 5)
	tbl.Open(1, 20)
	tbl.Open(1, 10)

	got := tbl.ListAll()
	want := []openfiles.Relation{
		{SessionID: 1, Inode: 10},
		{SessionID: 1, Inode: 20},
		{SessionID: 2, Inode: 5},
	}
	assert.Equal(t, want, got)
}

func TestMRAcquireAndMRReleaseRejectMismatches(t *testing.T) {
	t.Parallel()
	tbl := openfiles.NewTable(nil)

	require.NoError(t, tbl.MRAcquire(1, 10))
	err := tbl.MRAcquire(1, 10)
	require.Error(t, err)

	require.NoError(t, tbl.MRRelease(1, 10))
	err = tbl.MRRelease(1, 10)
	require.Error(t, err)
}

func TestNumOpenFiles(t *testing.T) {
	t.Parallel()
	tbl := openfiles.NewTable(nil)
	tbl.Open(1, 10)
	tbl.Open(1, 20)
	assert.Equal(t, uint32(2), tbl.NumOpenFiles(1))
	assert.Equal(t, uint32(0), tbl.NumOpenFiles(99))
}
