// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package advlock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosefs/moosefs-sub003/lib/advlock"
	"github.com/moosefs/moosefs-sub003/lib/mfserr"
)

type allOpenChecker struct{}

func (allOpenChecker) CheckNode(uint32, uint32) bool { return true }

type recordingJournal struct {
	entries []string
}

func (j *recordingJournal) Logged(desc string) { j.entries = append(j.entries, desc) }

type recordingNotifier struct {
	calls []uint8
}

func (n *recordingNotifier) WakeUp(sessionID, msgID uint32, status uint8) {
	n.calls = append(n.calls, status)
}

func TestFlockExclusiveExcludesExclusive(t *testing.T) {
	t.Parallel()
	tbl := advlock.NewFlockTable(advlock.FlockModeLinux, allOpenChecker{}, nil, nil)

	status := tbl.Cmd(1, 10, 1, 100, 0xAAAA, advlock.FlockLockExclusive)
	assert.Equal(t, mfserr.StatusOK, status)

	status = tbl.Cmd(2, 11, 1, 100, 0xBBBB, advlock.FlockLockExclusive)
	assert.Equal(t, mfserr.StatusWaiting, status)
}

func TestFlockSharedAllowsSharedExcludesExclusive(t *testing.T) {
	t.Parallel()
	tbl := advlock.NewFlockTable(advlock.FlockModeLinux, allOpenChecker{}, nil, nil)

	require.Equal(t, mfserr.StatusOK, tbl.Cmd(1, 10, 1, 100, 0xAAAA, advlock.FlockLockShared))
	require.Equal(t, mfserr.StatusOK, tbl.Cmd(2, 11, 1, 100, 0xBBBB, advlock.FlockLockShared))
	assert.Equal(t, mfserr.StatusWaiting, tbl.Cmd(3, 12, 1, 100, 0xCCCC, advlock.FlockLockExclusive))
}

func TestFlockUnlockWakesWaitingExclusive(t *testing.T) {
	t.Parallel()
	n := &recordingNotifier{}
	tbl := advlock.NewFlockTable(advlock.FlockModeLinux, allOpenChecker{}, nil, n)

	require.Equal(t, mfserr.StatusOK, tbl.Cmd(1, 10, 1, 100, 0xAAAA, advlock.FlockLockExclusive))
	require.Equal(t, mfserr.StatusWaiting, tbl.Cmd(2, 11, 1, 100, 0xBBBB, advlock.FlockLockExclusive))

	require.Equal(t, mfserr.StatusOK, tbl.Cmd(1, 12, 2, 100, 0xAAAA, advlock.FlockUnlock))
	require.Len(t, n.calls, 1)
	assert.Equal(t, uint8(mfserr.StatusOK), n.calls[0])

	require.Len(t, tbl.List(100), 1)
	assert.Equal(t, uint32(2), tbl.List(100)[0].SessionID)
}

func TestFlockNilOpenCheckerSkipsGate(t *testing.T) {
	t.Parallel()
	tbl := advlock.NewFlockTable(advlock.FlockModeLinux, nil, nil, nil)
	status := tbl.Cmd(1, 10, 1, 100, 0xAAAA, advlock.FlockLockExclusive)
	assert.Equal(t, mfserr.StatusOK, status) // nil OpenChecker: gate skipped
}

func TestFlockNotOpenedRejected(t *testing.T) {
	t.Parallel()
	tbl := advlock.NewFlockTable(advlock.FlockModeLinux, closedChecker{}, nil, nil)
	status := tbl.Cmd(1, 10, 1, 100, 0xAAAA, advlock.FlockLockExclusive)
	assert.Equal(t, mfserr.StatusNotOpened, status)
}

type closedChecker struct{}

func (closedChecker) CheckNode(uint32, uint32) bool { return false }

func TestFlockInterruptCancelsWaiter(t *testing.T) {
	t.Parallel()
	n := &recordingNotifier{}
	tbl := advlock.NewFlockTable(advlock.FlockModeLinux, allOpenChecker{}, nil, n)

	require.Equal(t, mfserr.StatusOK, tbl.Cmd(1, 10, 1, 100, 0xAAAA, advlock.FlockLockExclusive))
	require.Equal(t, mfserr.StatusWaiting, tbl.Cmd(2, 11, 5, 100, 0xBBBB, advlock.FlockLockExclusive))

	require.Equal(t, mfserr.StatusOK, tbl.Cmd(2, 0, 5, 100, 0xBBBB, advlock.FlockInterrupt))
	require.Len(t, n.calls, 1)
	assert.Equal(t, uint8(mfserr.StatusEINTR), n.calls[0])
}

func TestFlockFileClosedReleasesAndPromotes(t *testing.T) {
	t.Parallel()
	j := &recordingJournal{}
	n := &recordingNotifier{}
	tbl := advlock.NewFlockTable(advlock.FlockModeLinux, allOpenChecker{}, j, n)

	require.Equal(t, mfserr.StatusOK, tbl.Cmd(1, 10, 1, 100, 0xAAAA, advlock.FlockLockExclusive))
	require.Equal(t, mfserr.StatusWaiting, tbl.Cmd(2, 11, 1, 100, 0xBBBB, advlock.FlockLockExclusive))

	tbl.FileClosed(1, 100)
	require.Len(t, tbl.List(100), 1)
	assert.Equal(t, uint32(2), tbl.List(100)[0].SessionID)
	assert.Equal(t, []uint8{uint8(mfserr.StatusOK)}, n.calls)
}
