// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chunkindex_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosefs/moosefs-sub003/lib/chunkindex"
)

func TestIndexDumpJSONOrderedByID(t *testing.T) {
	idx := chunkindex.NewIndex(0, nil, nil)
	id1, _ := idx.Create(2)
	id2, _ := idx.Create(3)

	var buf bytes.Buffer
	require.NoError(t, idx.DumpJSON(&buf))
	out := buf.String()

	lo, hi := id1, id2
	if lo > hi {
		lo, hi = hi, lo
	}
	loPos := bytes.Index(buf.Bytes(), []byte(fmt.Sprintf(`"id":%d`, lo)))
	hiPos := bytes.Index(buf.Bytes(), []byte(fmt.Sprintf(`"id":%d`, hi)))
	require.GreaterOrEqual(t, loPos, 0)
	require.GreaterOrEqual(t, hiPos, 0)
	assert.Less(t, loPos, hiPos, "dump must be ordered by ascending id")
}
