// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosefs/moosefs-sub003/lib/mfserr"
	"github.com/moosefs/moosefs-sub003/lib/metadata"
)

func TestQuotaChargeWithinLimitsSucceeds(t *testing.T) {
	q := metadata.NewQuotaTable(nil)
	require.NoError(t, q.Set(10, metadata.QuotaEntry{
		Flags: metadata.QuotaHInodes, HInodes: 100,
	}, 1))

	require.NoError(t, q.Charge(10, 5, 0, 0, 0, 1))
	e, ok := q.Get(10)
	require.True(t, ok)
	assert.EqualValues(t, 5, e.Inodes)
}

func TestQuotaChargeOverHardLimitFails(t *testing.T) {
	q := metadata.NewQuotaTable(nil)
	require.NoError(t, q.Set(10, metadata.QuotaEntry{
		Flags: metadata.QuotaHInodes, HInodes: 3,
	}, 1))

	err := q.Charge(10, 4, 0, 0, 0, 1)
	require.Error(t, err)
	assert.Equal(t, mfserr.StatusQuota, mfserr.ToStatus(err))
}

func TestQuotaSoftLimitGrantsGraceThenEnforces(t *testing.T) {
	q := metadata.NewQuotaTable(nil)
	require.NoError(t, q.Set(10, metadata.QuotaEntry{
		Flags: metadata.QuotaSInodes, SInodes: 2,
	}, 1))

	require.NoError(t, q.Charge(10, 3, 0, 0, 0, 1000))
	e, ok := q.Get(10)
	require.True(t, ok)
	assert.True(t, e.Exceeded)
	assert.EqualValues(t, 1000, e.Stimestamp)

	require.NoError(t, q.Charge(10, 0, 0, 0, 0, 1000+metadata.QuotaGraceSeconds-1))

	err := q.Charge(10, 0, 0, 0, 0, 1000+metadata.QuotaGraceSeconds+1)
	require.Error(t, err)
	assert.Equal(t, mfserr.StatusQuota, mfserr.ToStatus(err))
}

func TestQuotaUnconfiguredInodeChargeIsNoop(t *testing.T) {
	q := metadata.NewQuotaTable(nil)
	assert.NoError(t, q.Charge(999, 100, 0, 0, 0, 1))
}

func TestQuotaForgetRemovesEntry(t *testing.T) {
	q := metadata.NewQuotaTable(nil)
	require.NoError(t, q.Set(10, metadata.QuotaEntry{Flags: metadata.QuotaHInodes, HInodes: 1}, 1))
	q.Forget(10)
	_, ok := q.Get(10)
	assert.False(t, ok)
}
