// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chunkindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/moosefs/moosefs-sub003/lib/chunkindex"
)

func TestMatrixTracksGoalVsValidCopies(t *testing.T) {
	idx := chunkindex.NewIndex(0, nil, nil)
	id, _ := idx.Create(2)

	m := idx.Matrix()
	assert.EqualValues(t, 1, m.Goal[2][0])

	idx.ServerReport(10, id, 1, true)
	m = idx.Matrix()
	assert.EqualValues(t, 0, m.Goal[2][0])
	assert.EqualValues(t, 1, m.Goal[2][1])

	idx.ServerReport(11, id, 1, true)
	m = idx.Matrix()
	assert.EqualValues(t, 0, m.Goal[2][1])
	assert.EqualValues(t, 1, m.Goal[2][2])
}

func TestMatrixClampsCopyCountToLastBucket(t *testing.T) {
	idx := chunkindex.NewIndex(0, nil, nil)
	id, _ := idx.Create(1)
	for s := chunkindex.ServerID(0); s < 20; s++ {
		idx.ServerReport(s, id, 1, true)
	}
	m := idx.Matrix()
	assert.EqualValues(t, 1, m.Goal[1][10])
}
