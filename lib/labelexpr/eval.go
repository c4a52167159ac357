// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package labelexpr

// maxEvalStack bounds the evaluator's stack depth (§4.3: "executes
// the RPN against an 8-stack; overflow ... returns false").
const maxEvalStack = 8

// Matches evaluates prog against a chunk server's label mask (bit N
// set means the server carries label 'A'+N). A malformed program —
// one whose opcodes overflow the 8-entry stack, reference an invalid
// SYM value, or don't reduce to exactly one value — is treated as a
// non-match rather than an error, per §4.3.
func (prog Program) Matches(mask uint32) bool {
	var stack [maxEvalStack]bool
	sp := 0

	push := func(v bool) bool {
		if sp >= maxEvalStack {
			return false
		}
		stack[sp] = v
		sp++
		return true
	}

	for _, b := range prog {
		op, value := unpackOp(b)
		switch op {
		case opSym:
			var v bool
			switch {
			case value == symAny:
				v = true
			case value < 26:
				v = mask&(1<<value) != 0
			default:
				return false
			}
			if !push(v) {
				return false
			}
		case opNot:
			if sp < 1 {
				return false
			}
			stack[sp-1] = !stack[sp-1]
		case opAnd, opOr:
			n := int(value)
			if n == 0 || sp < n {
				return false
			}
			result := stack[sp-n]
			for i := sp - n + 1; i < sp; i++ {
				if op == opAnd {
					result = result && stack[i]
				} else {
					result = result || stack[i]
				}
			}
			sp -= n
			if !push(result) {
				return false
			}
		default:
			return false
		}
	}
	if sp != 1 {
		return false
	}
	return stack[0]
}
