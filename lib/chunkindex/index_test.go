// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chunkindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosefs/moosefs-sub003/lib/chunkindex"
	"github.com/moosefs/moosefs-sub003/lib/mfserr"
)

type recordingJournal struct{ lines []string }

func (j *recordingJournal) Logged(s string) { j.lines = append(j.lines, s) }

type recordingNotifier struct{ unlocked []chunkindex.ChunkID }

func (n *recordingNotifier) ChunkUnlocked(id chunkindex.ChunkID) { n.unlocked = append(n.unlocked, id) }

func TestCreateAllocatesSequentialIDsAndJournalsChunkAdd(t *testing.T) {
	j := &recordingJournal{}
	idx := chunkindex.NewIndex(0, j, nil)

	id1, v1 := idx.Create(3)
	id2, v2 := idx.Create(3)

	assert.EqualValues(t, 1, id1)
	assert.EqualValues(t, 2, id2)
	assert.EqualValues(t, 1, v1)
	assert.EqualValues(t, 1, v2)
	assert.Equal(t, []string{"CHUNKADD(1,1,0)", "CHUNKADD(2,1,0)"}, j.lines)
}

func TestOpenForWriteBumpsVersionAndLocks(t *testing.T) {
	idx := chunkindex.NewIndex(0, nil, nil)
	id, _ := idx.Create(1)

	v, status := idx.OpenForWrite(id, 1000, 60)
	require.Equal(t, mfserr.StatusOK, status)
	assert.EqualValues(t, 2, v)

	_, status = idx.OpenForWrite(id, 1010, 60)
	assert.Equal(t, mfserr.StatusChunkBusy, status)

	_, status = idx.OpenForWrite(id, 1070, 60)
	assert.Equal(t, mfserr.StatusOK, status)
}

func TestEndWriteUnlocksAndNotifies(t *testing.T) {
	n := &recordingNotifier{}
	idx := chunkindex.NewIndex(0, nil, n)
	id, _ := idx.Create(1)
	_, status := idx.OpenForWrite(id, 1000, 60)
	require.Equal(t, mfserr.StatusOK, status)

	require.Equal(t, mfserr.StatusOK, idx.EndWrite(id))
	assert.Equal(t, []chunkindex.ChunkID{id}, n.unlocked)

	v, status := idx.OpenForWrite(id, 1001, 60)
	assert.Equal(t, mfserr.StatusOK, status)
	assert.EqualValues(t, 3, v)
}

func TestDeleteRemovesChunkAndMRDeleteRejectsVersionMismatch(t *testing.T) {
	idx := chunkindex.NewIndex(0, nil, nil)
	id, v := idx.Create(1)

	assert.Equal(t, mfserr.StatusMismatch, idx.MRChunkDel(id, v+1))
	assert.Equal(t, mfserr.StatusOK, idx.Delete(id))
	_, ok := idx.Get(id)
	assert.False(t, ok)
}

func TestNextChunkIDReplayAdvancesWatermarkOnly(t *testing.T) {
	idx := chunkindex.NewIndex(0, nil, nil)
	assert.EqualValues(t, 1, idx.NextChunkID())

	require.Equal(t, mfserr.StatusOK, idx.MRNextChunkID(100))
	assert.EqualValues(t, 100, idx.NextChunkID())

	assert.Equal(t, mfserr.StatusMismatch, idx.MRNextChunkID(50))
}

func TestEnqueueAndExpireWaiters(t *testing.T) {
	idx := chunkindex.NewIndex(0, nil, nil)
	id, _ := idx.Create(1)

	req := idx.Enqueue(id, 1000)
	assert.Empty(t, idx.ExpireWaiters(1010))

	expired := idx.ExpireWaiters(1000 + chunkindex.WaitTimeoutSeconds + 1)
	assert.Equal(t, []uint64{req}, expired)
	assert.Empty(t, idx.ExpireWaiters(2000))
}

func TestCancelRemovesOnlyThatWaiter(t *testing.T) {
	idx := chunkindex.NewIndex(0, nil, nil)
	id, _ := idx.Create(1)

	r1 := idx.Enqueue(id, 1000)
	r2 := idx.Enqueue(id, 1000)
	idx.Cancel(id, r1)

	expired := idx.ExpireWaiters(1000 + chunkindex.WaitTimeoutSeconds + 1)
	assert.Equal(t, []uint64{r2}, expired)
}
