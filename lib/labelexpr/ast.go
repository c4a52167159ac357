// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package labelexpr implements the label-expression language (§4.3):
// a boolean formula over chunk-server labels `A`-`Z`, parsed into an
// AST, compiled to a compact RPN byte program, and evaluated against
// a chunk server's label mask. Its lexer/parser/AST/eval split
// mirrors the shape of a hand-written recursive-descent query-
// language frontend; no package in the teacher repo parses a textual
// grammar, so this one is grounded on the "internal/querylang"
// pattern instead: Lexer -> token stream -> recursive-descent parser
// -> Node AST -> RPN Program, which Program.Matches evaluates on a
// small fixed-size stack.
package labelexpr

import (
	"strings"
)

// Node is the marker interface for AST nodes. The method is
// unexported so only this package can produce new node kinds.
type Node interface {
	node()
	String() string
}

// Or is logical OR of two or more terms (grammar: S '+' M | S '|' M |
// S '||' M).
type Or struct {
	Terms []Node
}

func (*Or) node() {}

func (o *Or) String() string {
	parts := make([]string, len(o.Terms))
	for i, t := range o.Terms {
		parts[i] = parenthesize(t, precOr)
	}
	return strings.Join(parts, "+")
}

// And is logical AND (intersection) of two or more terms (grammar:
// M '*' L | M '&' L | M '&&' L | M L).
type And struct {
	Terms []Node
}

func (*And) node() {}

func (a *And) String() string {
	parts := make([]string, len(a.Terms))
	for i, t := range a.Terms {
		parts[i] = parenthesize(t, precAnd)
	}
	return strings.Join(parts, "")
}

// Not is logical negation (grammar: '-' L | '~' L | '!' L).
type Not struct {
	Term Node
}

func (*Not) node() {}

func (n *Not) String() string {
	return "-" + parenthesize(n.Term, precNot)
}

// Sym is a single chunk-server label letter `A`-`Z`, stored 0-25.
type Sym struct {
	Letter uint8
}

func (Sym) node() {}

func (s Sym) String() string {
	return string(rune('A' + s.Letter))
}

// Any is the wildcard label expression `*`, matching any server
// regardless of label.
type Any struct{}

func (Any) node() {}

func (Any) String() string { return "*" }

// precedence levels, lowest-binds-loosest first; used by the pretty
// printer to decide when a child needs parentheses.
const (
	precOr = iota
	precAnd
	precNot
	precAtom
)

func precOf(n Node) int {
	switch n.(type) {
	case *Or:
		return precOr
	case *And:
		return precAnd
	case *Not:
		return precNot
	default:
		return precAtom
	}
}

func parenthesize(n Node, parentPrec int) string {
	if precOf(n) < parentPrec {
		return "(" + n.String() + ")"
	}
	return n.String()
}

// flattenOr merges a/b into a single Or, absorbing nested Ors the way
// the source's RPN compiler would rather than nesting them, so that a
// chain of '+' produces one N-ary opcode instead of a binary tree
// (§4.3: "Multi-operand AND/OR opcodes carry arity").
func flattenOr(a, b Node) *Or {
	var terms []Node
	if o, ok := a.(*Or); ok {
		terms = append(terms, o.Terms...)
	} else {
		terms = append(terms, a)
	}
	if o, ok := b.(*Or); ok {
		terms = append(terms, o.Terms...)
	} else {
		terms = append(terms, b)
	}
	return &Or{Terms: terms}
}

func flattenAnd(a, b Node) *And {
	var terms []Node
	if x, ok := a.(*And); ok {
		terms = append(terms, x.Terms...)
	} else {
		terms = append(terms, a)
	}
	if x, ok := b.(*And); ok {
		terms = append(terms, x.Terms...)
	} else {
		terms = append(terms, b)
	}
	return &And{Terms: terms}
}
