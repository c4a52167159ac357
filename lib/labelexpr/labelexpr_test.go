// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package labelexpr_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosefs/moosefs-sub003/lib/labelexpr"
)

func bit(letters ...byte) uint32 {
	var mask uint32
	for _, l := range letters {
		mask |= 1 << (l - 'A')
	}
	return mask
}

func TestMatchesOr(t *testing.T) {
	t.Parallel()
	prog, err := labelexpr.Parse("A+B")
	require.NoError(t, err)

	assert.True(t, prog.Matches(bit('A')))
	assert.True(t, prog.Matches(bit('B')))
	assert.True(t, prog.Matches(bit('A', 'B')))
	assert.False(t, prog.Matches(bit('C')))
	assert.False(t, prog.Matches(0))
}

func TestMatchesAndJuxtaposition(t *testing.T) {
	t.Parallel()
	prog, err := labelexpr.Parse("AB")
	require.NoError(t, err)
	assert.True(t, prog.Matches(bit('A', 'B')))
	assert.False(t, prog.Matches(bit('A')))
	assert.False(t, prog.Matches(bit('B')))
}

func TestMatchesAndOperators(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{"A&B", "A&&B"} {
		prog, err := labelexpr.Parse(expr)
		require.NoError(t, err, expr)
		assert.True(t, prog.Matches(bit('A', 'B')), expr)
		assert.False(t, prog.Matches(bit('A')), expr)
	}
}

func TestMatchesNot(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{"-A", "~A", "!A"} {
		prog, err := labelexpr.Parse(expr)
		require.NoError(t, err, expr)
		assert.False(t, prog.Matches(bit('A')), expr)
		assert.True(t, prog.Matches(bit('B')), expr)
	}
}

func TestMatchesAny(t *testing.T) {
	t.Parallel()
	prog, err := labelexpr.Parse("*")
	require.NoError(t, err)
	assert.True(t, prog.Matches(0))
	assert.True(t, prog.Matches(bit('Z')))
}

func TestMatchesParensAndPrecedence(t *testing.T) {
	t.Parallel()
	// A(B+C) == A AND (B OR C)
	prog, err := labelexpr.Parse("A(B+C)")
	require.NoError(t, err)
	assert.True(t, prog.Matches(bit('A', 'B')))
	assert.True(t, prog.Matches(bit('A', 'C')))
	assert.False(t, prog.Matches(bit('A')))
	assert.False(t, prog.Matches(bit('B', 'C')))

	// Without parens, AND binds tighter than OR: A B+C == (AB)+C
	prog2, err := labelexpr.Parse("AB+C")
	require.NoError(t, err)
	assert.True(t, prog2.Matches(bit('A', 'B')))
	assert.True(t, prog2.Matches(bit('C')))
	assert.False(t, prog2.Matches(bit('A')))
}

func TestMatchesBrackets(t *testing.T) {
	t.Parallel()
	prog, err := labelexpr.Parse("[A+B]C")
	require.NoError(t, err)
	assert.True(t, prog.Matches(bit('A', 'C')))
	assert.True(t, prog.Matches(bit('B', 'C')))
	assert.False(t, prog.Matches(bit('A', 'B')))
}

func TestParseErrorUnmatchedParen(t *testing.T) {
	t.Parallel()
	_, err := labelexpr.Parse("(A+B")
	require.Error(t, err)
}

func TestParseErrorEmpty(t *testing.T) {
	t.Parallel()
	_, err := labelexpr.Parse("")
	require.Error(t, err)
}

func TestRoundTripSimple(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{"A", "A+B", "AB", "A(B+C)", "-A", "*", "A+B+C+D"} {
		prog, err := labelexpr.Parse(expr)
		require.NoError(t, err, expr)

		printed := prog.String()
		reprog, err := labelexpr.Parse(printed)
		require.NoError(t, err, "re-parsing %q (from %q)", printed, expr)
		assert.Equal(t, []byte(prog), []byte(reprog), "round-trip mismatch for %q -> %q", expr, printed)
	}
}

// TestRoundTripWideFanout exercises the arity-chaining path (§4.3)
// by building an OR of more than 63 terms, which must compile to a
// chain of OR opcodes and still round-trip byte-for-byte.
func TestRoundTripWideFanout(t *testing.T) {
	t.Parallel()
	var letters []string
	for i := 0; i < 26; i++ {
		// repeat the alphabet multiple times (allowed: the grammar
		// doesn't require distinct labels in an OR chain) to exceed
		// the 63-term saturation point.
		letters = append(letters, string(rune('A'+i)))
	}
	expr := strings.Join(append(append(letters, letters...), letters...), "+")

	prog, err := labelexpr.Parse(expr)
	require.NoError(t, err)

	printed := prog.String()
	reprog, err := labelexpr.Parse(printed)
	require.NoError(t, err)
	assert.Equal(t, []byte(prog), []byte(reprog))
}

func TestProgramTooBig(t *testing.T) {
	t.Parallel()
	// Each letter compiles to one byte, well past the 128-byte cap
	// before any folding opcodes are even added.
	var b strings.Builder
	for i := 0; i < 200; i++ {
		if i > 0 {
			b.WriteByte('+')
		}
		b.WriteByte('A' + byte(i%26))
	}
	_, err := labelexpr.Parse(b.String())
	require.Error(t, err)
	assert.ErrorIs(t, err, labelexpr.ErrProgramTooBig)
}
