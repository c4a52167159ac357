// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chunkindex

// matrixDim is the size of each axis of the goal×copies matrix: goals
// (or, for the EC matrix, the "4+n"/"8+n" grouping) 0..9 plus a
// catch-all "10 or more" bucket, and the same for valid-copy counts.
const matrixDim = 11

// Matrix tracks, for every (goal, valid-copy-count) pair, how many
// chunks currently sit there — the counters behind the CHUNKS_MATRIX
// info command (matoclserv_chunks_matrix) and the EC variant kept
// alongside it. Both axes saturate at matrixDim-1.
type Matrix struct {
	Goal [matrixDim][matrixDim]uint64
	EC   [matrixDim][matrixDim]uint64
}

func clampAxis(n int) int {
	if n < 0 {
		return 0
	}
	if n >= matrixDim {
		return matrixDim - 1
	}
	return n
}

// add increments the cell for a chunk with the given goal and valid
// copy count. Goal ids above 9 (simple goals only run 1..9) are EC
// classes and land in the EC matrix instead.
func (m *Matrix) add(goal uint8, copies int) {
	g, c := clampAxis(int(goal)), clampAxis(copies)
	if goal >= 1 && goal <= 9 {
		m.Goal[g][c]++
	} else {
		m.EC[g][c]++
	}
}

// remove decrements the cell a chunk is leaving, e.g. before its goal
// or copy count changes or it's deleted outright.
func (m *Matrix) remove(goal uint8, copies int) {
	g, c := clampAxis(int(goal)), clampAxis(copies)
	if goal >= 1 && goal <= 9 {
		if m.Goal[g][c] > 0 {
			m.Goal[g][c]--
		}
	} else {
		if m.EC[g][c] > 0 {
			m.EC[g][c]--
		}
	}
}
