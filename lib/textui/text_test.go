// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/moosefs/moosefs-sub003/lib/textui"
)

// chunkOff is a stand-in for a typed on-disk offset, exercising
// Humanized/Portion against a ~uint64 defined type rather than a bare
// int, the way a chunk byte offset would be formatted in the scanner.
type chunkOff uint64

func TestFprintf(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	textui.Fprintf(&out, "%d", 12345)
	assert.Equal(t, "12,345", out.String())
}

func TestHumanized(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "12,345", fmt.Sprint(textui.Humanized(12345)))
	assert.Equal(t, "12,345  ", fmt.Sprintf("%-8d", textui.Humanized(12345)))

	off := chunkOff(345243543)
	assert.Equal(t, "345243543", fmt.Sprintf("%d", textui.Humanized(off)))
	assert.Equal(t, "345,243,543", fmt.Sprintf("%d", textui.Humanized(uint64(off))))
}

func TestPortion(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "100% (0/0)", fmt.Sprint(textui.Portion[int]{}))
	assert.Equal(t, "0% (1/12,345)", fmt.Sprint(textui.Portion[int]{N: 1, D: 12345}))
	assert.Equal(t, "100% (0/0)", fmt.Sprint(textui.Portion[chunkOff]{}))
	assert.Equal(t, "0% (1/12,345)", fmt.Sprint(textui.Portion[chunkOff]{N: 1, D: 12345}))
}
