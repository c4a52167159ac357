// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosefs/moosefs-sub003/lib/metadata"
	"github.com/moosefs/moosefs-sub003/lib/mfserr"
)

func TestPatternAddRejectsEmptyGlob(t *testing.T) {
	tab := metadata.NewPatternTable(nil)
	err := tab.Add(metadata.Pattern{EUID: metadata.PatternAnyID, EGID: metadata.PatternAnyID})
	require.Error(t, err)
	assert.Equal(t, mfserr.StatusEINVAL, mfserr.ToStatus(err))
}

func TestPatternAddRejectsDuplicate(t *testing.T) {
	tab := metadata.NewPatternTable(nil)
	p := metadata.Pattern{Glob: "*.tmp", EUID: metadata.PatternAnyID, EGID: metadata.PatternAnyID}
	require.NoError(t, tab.Add(p))
	err := tab.Add(p)
	require.Error(t, err)
	assert.Equal(t, mfserr.StatusPatternExists, mfserr.ToStatus(err))
}

func TestPatternAddRejectsConflictingEAttrMask(t *testing.T) {
	tab := metadata.NewPatternTable(nil)
	p := metadata.Pattern{
		Glob: "*.tmp", EUID: metadata.PatternAnyID, EGID: metadata.PatternAnyID,
		OMask: metadata.PatternOMaskEAttr, SetEAttr: metadata.EAttrNoOwner, ClrEAttr: metadata.EAttrNoOwner,
	}
	err := tab.Add(p)
	require.Error(t, err)
	assert.Equal(t, mfserr.StatusEINVAL, mfserr.ToStatus(err))
}

func TestPatternDeleteUnknownFails(t *testing.T) {
	tab := metadata.NewPatternTable(nil)
	err := tab.Delete("*.tmp", metadata.PatternAnyID, metadata.PatternAnyID)
	require.Error(t, err)
	assert.Equal(t, mfserr.StatusNoSuchPattern, mfserr.ToStatus(err))
}

func TestPatternFindMatchingPicksHighestPriority(t *testing.T) {
	tab := metadata.NewPatternTable(nil)
	require.NoError(t, tab.Add(metadata.Pattern{
		Glob: "*.tmp", EUID: metadata.PatternAnyID, EGID: metadata.PatternAnyID,
		Priority: 1, OMask: metadata.PatternOMaskSClass, SClassID: 1,
	}))
	require.NoError(t, tab.Add(metadata.Pattern{
		Glob: "*.tmp", EUID: metadata.PatternAnyID, EGID: metadata.PatternAnyID,
		Priority: 9, OMask: metadata.PatternOMaskSClass, SClassID: 2,
	}))

	omask, scid, _, _, _, ok := tab.FindMatching(0, []uint32{0}, "foo.tmp")
	require.True(t, ok)
	assert.Equal(t, metadata.PatternOMaskSClass, omask)
	assert.EqualValues(t, 2, scid)
}

func TestPatternFindMatchingFiltersByUID(t *testing.T) {
	tab := metadata.NewPatternTable(nil)
	require.NoError(t, tab.Add(metadata.Pattern{
		Glob: "*.log", EUID: 42, EGID: metadata.PatternAnyID, OMask: metadata.PatternOMaskSClass, SClassID: 3,
	}))

	_, _, _, _, _, ok := tab.FindMatching(7, []uint32{0}, "x.log")
	assert.False(t, ok)

	_, scid, _, _, _, ok := tab.FindMatching(42, []uint32{0}, "x.log")
	require.True(t, ok)
	assert.EqualValues(t, 3, scid)
}

func TestPatternDeleteInvalidatesAllMatchesInvalidateForFutureLookups(t *testing.T) {
	tab := metadata.NewPatternTable(nil)
	p := metadata.Pattern{Glob: "*.bak", EUID: metadata.PatternAnyID, EGID: metadata.PatternAnyID, OMask: metadata.PatternOMaskSClass, SClassID: 1}
	require.NoError(t, tab.Add(p))
	require.NoError(t, tab.Delete("*.bak", metadata.PatternAnyID, metadata.PatternAnyID))

	_, _, _, _, _, ok := tab.FindMatching(0, []uint32{0}, "x.bak")
	assert.False(t, ok)
	assert.Empty(t, tab.List())
}

func TestPatternSClassDeletedInvalidatesDependents(t *testing.T) {
	tab := metadata.NewPatternTable(nil)
	require.NoError(t, tab.Add(metadata.Pattern{Glob: "*.x", EUID: metadata.PatternAnyID, EGID: metadata.PatternAnyID, OMask: metadata.PatternOMaskSClass, SClassID: 5}))
	tab.SClassDeleted(5)
	assert.Empty(t, tab.List())
}
