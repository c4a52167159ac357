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

func TestPosixLockNonOverlappingRangesBothGrant(t *testing.T) {
	t.Parallel()
	tbl := advlock.NewPosixTable(allOpenChecker{}, nil, nil)

	status, _, _, _, _ := tbl.Cmd(1, 10, 1, 100, 0xAAAA, advlock.PosixCmdSet, advlock.RangeWrite, 0, 10, 1)
	require.Equal(t, mfserr.StatusOK, status)

	status, _, _, _, _ = tbl.Cmd(2, 11, 1, 100, 0xBBBB, advlock.PosixCmdSet, advlock.RangeWrite, 10, 20, 2)
	assert.Equal(t, mfserr.StatusOK, status)
}

func TestPosixLockOverlappingWriteLocksConflict(t *testing.T) {
	t.Parallel()
	tbl := advlock.NewPosixTable(allOpenChecker{}, nil, nil)

	status, _, _, _, _ := tbl.Cmd(1, 10, 1, 100, 0xAAAA, advlock.PosixCmdSet, advlock.RangeWrite, 0, 10, 1)
	require.Equal(t, mfserr.StatusOK, status)

	status, _, _, _, _ = tbl.Cmd(2, 11, 1, 100, 0xBBBB, advlock.PosixCmdTry, advlock.RangeWrite, 5, 15, 2)
	assert.Equal(t, mfserr.StatusEAGAIN, status)

	status, _, _, _, _ = tbl.Cmd(2, 12, 1, 100, 0xBBBB, advlock.PosixCmdSet, advlock.RangeWrite, 5, 15, 2)
	assert.Equal(t, mfserr.StatusWaiting, status)
}

func TestPosixLockSharedRangesCoexist(t *testing.T) {
	t.Parallel()
	tbl := advlock.NewPosixTable(allOpenChecker{}, nil, nil)

	status, _, _, _, _ := tbl.Cmd(1, 10, 1, 100, 0xAAAA, advlock.PosixCmdSet, advlock.RangeRead, 0, 10, 1)
	require.Equal(t, mfserr.StatusOK, status)
	status, _, _, _, _ = tbl.Cmd(2, 11, 1, 100, 0xBBBB, advlock.PosixCmdSet, advlock.RangeRead, 5, 15, 2)
	assert.Equal(t, mfserr.StatusOK, status)
}

func TestPosixLockGetReportsConflict(t *testing.T) {
	t.Parallel()
	tbl := advlock.NewPosixTable(allOpenChecker{}, nil, nil)

	status, _, _, _, _ := tbl.Cmd(1, 10, 1, 100, 0xAAAA, advlock.PosixCmdSet, advlock.RangeWrite, 0, 10, 7)
	require.Equal(t, mfserr.StatusOK, status)

	status, rtype, start, end, pid := tbl.Cmd(2, 11, 1, 100, 0xBBBB, advlock.PosixCmdGet, advlock.RangeWrite, 0, 10, 0)
	assert.Equal(t, mfserr.StatusOK, status)
	assert.Equal(t, advlock.RangeWrite, rtype)
	assert.Equal(t, uint64(0), start)
	assert.Equal(t, uint64(10), end)
	assert.Equal(t, uint32(0), pid) // different session: pid not reported

	status, rtype, _, _, pid = tbl.Cmd(1, 12, 1, 100, 0xAAAA, advlock.PosixCmdGet, advlock.RangeWrite, 0, 10, 0)
	assert.Equal(t, mfserr.StatusOK, status)
	assert.Equal(t, advlock.RangeUnlock, rtype) // same owner: no self-conflict
	assert.Equal(t, uint32(0), pid)
}

func TestPosixLockUnlockWakesWaitingRange(t *testing.T) {
	t.Parallel()
	n := &recordingNotifier{}
	tbl := advlock.NewPosixTable(allOpenChecker{}, nil, n)

	status, _, _, _, _ := tbl.Cmd(1, 10, 1, 100, 0xAAAA, advlock.PosixCmdSet, advlock.RangeWrite, 0, 10, 1)
	require.Equal(t, mfserr.StatusOK, status)
	status, _, _, _, _ = tbl.Cmd(2, 11, 1, 100, 0xBBBB, advlock.PosixCmdSet, advlock.RangeWrite, 0, 10, 2)
	require.Equal(t, mfserr.StatusWaiting, status)

	status, _, _, _, _ = tbl.Cmd(1, 12, 1, 100, 0xAAAA, advlock.PosixCmdSet, advlock.RangeUnlock, 0, 10, 1)
	require.Equal(t, mfserr.StatusOK, status)
	require.Len(t, n.calls, 1)
	assert.Equal(t, uint8(mfserr.StatusOK), n.calls[0])

	require.Len(t, tbl.List(100), 1)
	assert.Equal(t, uint32(2), tbl.List(100)[0].SessionID)
}

func TestPosixLockFileClosedReleasesSessionRanges(t *testing.T) {
	t.Parallel()
	tbl := advlock.NewPosixTable(allOpenChecker{}, nil, nil)

	status, _, _, _, _ := tbl.Cmd(1, 10, 1, 100, 0xAAAA, advlock.PosixCmdSet, advlock.RangeWrite, 0, 10, 1)
	require.Equal(t, mfserr.StatusOK, status)

	tbl.FileClosed(1, 100)
	assert.Empty(t, tbl.List(100))

	status, _, _, _, _ = tbl.Cmd(2, 11, 1, 100, 0xBBBB, advlock.PosixCmdSet, advlock.RangeWrite, 0, 10, 2)
	assert.Equal(t, mfserr.StatusOK, status)
}

func TestPosixLockMRChangeRejectsConflict(t *testing.T) {
	t.Parallel()
	tbl := advlock.NewPosixTable(nil, nil, nil)

	require.Equal(t, mfserr.StatusOK, tbl.MRChange(100, 1, 0xAAAA, 'W', 0, 10, 1))
	err := tbl.MRChange(100, 2, 0xBBBB, 'W', 5, 15, 2)
	assert.Equal(t, mfserr.StatusMismatch, err)

	require.Equal(t, mfserr.StatusOK, tbl.MRChange(100, 1, 0xAAAA, 'U', 0, 10, 1))
	assert.Empty(t, tbl.List(100))
}
