// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package storageclass implements the storage-class registry (§4.4):
// named redundancy policies that compile down to label-expression
// programs (lib/labelexpr), plus the copy-count / erasure-coding /
// uniqueness-mask grammar a class's specification string is parsed
// from (§4.3's T non-terminal). It is grounded on the teacher's
// lib/btrfs/btrfsvol chunk-mapping registry for the "fixed-capacity
// table of typed records, looked up and mutated by id" shape, and on
// original_source/mfsmaster/patterns.c for the per-mutation
// journaling idiom it shares with lib/metadata's pattern table.
package storageclass

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/moosefs/moosefs-sub003/lib/labelexpr"
	"github.com/moosefs/moosefs-sub003/lib/mfserr"
)

// CopyGroup is one "[digit] E" term of a goal-style copy
// specification: Count copies of the chunk, each placed to satisfy
// Expr.
type CopyGroup struct {
	Count uint8
	Expr  labelexpr.Program
	// Src is the E sub-expression's original text, kept for Info/list
	// rendering without re-deriving it from the compiled program.
	Src string
}

// GoalSpec is a classic replication goal: one or more CopyGroups,
// whose counts must sum to at most 9 (§4.3).
type GoalSpec struct {
	Groups []CopyGroup
}

func (g GoalSpec) copies() int {
	n := 0
	for _, grp := range g.Groups {
		n += int(grp.Count)
	}
	return n
}

func (g GoalSpec) String() string {
	parts := make([]string, len(g.Groups))
	for i, grp := range g.Groups {
		if grp.Count == 1 {
			parts[i] = grp.Src
		} else {
			parts[i] = fmt.Sprintf("%d%s", grp.Count, grp.Src)
		}
	}
	return strings.Join(parts, ",")
}

// ECSpec is an erasure-coded goal: Kind is '@' or '=' (the two marker
// forms in §4.3); DataShards is 4 or 8; ParityShards is the digit
// following "4+"/"8+"; Exprs holds up to two optional placement label
// expressions for the data and parity groups.
type ECSpec struct {
	Kind         byte
	DataShards   uint8
	ParityShards uint8
	Exprs        []CopyGroup
}

func (e ECSpec) String() string {
	var b strings.Builder
	b.WriteByte(e.Kind)
	fmt.Fprintf(&b, "%d+%d", e.DataShards, e.ParityShards)
	for _, g := range e.Exprs {
		b.WriteByte(',')
		b.WriteString(g.Src)
	}
	return b.String()
}

// Uniqueness constrains which copies may share a physical location
// (§4.3's `/U` suffix): by IP, by rack, or by a custom label range.
type Uniqueness struct {
	Mode string // "", "IP", "RACK", or "RANGE"
	Lo   uint8  // valid when Mode == "RANGE": 0-25
	Hi   uint8
}

func (u Uniqueness) String() string {
	switch u.Mode {
	case "":
		return ""
	case "RANGE":
		return "/" + string(rune('A'+u.Lo)) + "-" + string(rune('A'+u.Hi))
	default:
		return "/" + u.Mode
	}
}

// LabelsMode is the `:D` suffix selecting how strictly a class's
// label expressions must be satisfiable (§4.3).
type LabelsMode uint8

const (
	LabelsStd LabelsMode = iota
	LabelsLoose
	LabelsStrict
)

func (d LabelsMode) String() string {
	switch d {
	case LabelsLoose:
		return "LOOSE"
	case LabelsStrict:
		return "STRICT"
	default:
		return "STD"
	}
}

// Spec is a fully parsed class specification (the grammar's T
// non-terminal): either "-" (delete/empty marker), a GoalSpec, or an
// ECSpec, with an optional uniqueness mask and labels mode.
type Spec struct {
	Empty      bool // true for the bare "-" form
	Goal       *GoalSpec
	EC         *ECSpec
	Uniqueness Uniqueness
	LabelsMode LabelsMode
	hasMode    bool
}

func (s Spec) String() string {
	if s.Empty {
		return "-"
	}
	var b strings.Builder
	if s.Goal != nil {
		b.WriteString(s.Goal.String())
	} else {
		b.WriteString(s.EC.String())
	}
	b.WriteString(s.Uniqueness.String())
	if s.hasMode {
		b.WriteByte(':')
		b.WriteString(s.LabelsMode.String())
	}
	return b.String()
}

func invalid(op, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, mfserr.New(mfserr.StatusEINVAL, op), fmt.Sprintf(format, args...))
}

// ParseSpec parses a class specification string per §4.3's T grammar.
func ParseSpec(s string) (Spec, error) {
	const op = "storageclass.ParseSpec"
	s = strings.TrimSpace(s)
	if s == "-" {
		return Spec{Empty: true}, nil
	}
	if s == "" {
		return Spec{}, invalid(op, "empty specification")
	}

	body, suffix := s, ""
	if i := strings.IndexAny(s, "/:"); i >= 0 {
		body, suffix = s[:i], s[i:]
	}

	var spec Spec
	if body[0] == '@' || body[0] == '=' {
		ec, err := parseEC(op, body)
		if err != nil {
			return Spec{}, err
		}
		spec.EC = &ec
	} else {
		goal, err := parseGoal(op, body)
		if err != nil {
			return Spec{}, err
		}
		spec.Goal = &goal
	}

	for len(suffix) > 0 {
		switch suffix[0] {
		case '/':
			rest := suffix[1:]
			end := len(rest)
			if i := strings.IndexByte(rest, ':'); i >= 0 {
				end = i
			}
			u, err := parseUniqueness(op, rest[:end])
			if err != nil {
				return Spec{}, err
			}
			spec.Uniqueness = u
			suffix = rest[end:]
		case ':':
			rest := suffix[1:]
			mode, err := parseLabelsMode(op, rest)
			if err != nil {
				return Spec{}, err
			}
			spec.LabelsMode = mode
			spec.hasMode = true
			suffix = ""
		default:
			return Spec{}, invalid(op, "unexpected suffix %q", suffix)
		}
	}

	return spec, nil
}

func parseGoal(op, body string) (GoalSpec, error) {
	var goal GoalSpec
	for _, term := range splitTopLevel(body, ',') {
		grp, err := parseCopyGroup(op, term)
		if err != nil {
			return GoalSpec{}, err
		}
		goal.Groups = append(goal.Groups, grp)
	}
	if goal.copies() > 9 {
		return GoalSpec{}, invalid(op, "more than 9 copies requested (%d)", goal.copies())
	}
	if goal.copies() == 0 {
		return GoalSpec{}, invalid(op, "no copies specified")
	}
	return goal, nil
}

func parseCopyGroup(op, term string) (CopyGroup, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return CopyGroup{}, invalid(op, "empty copy term")
	}
	i := 0
	for i < len(term) && term[i] >= '0' && term[i] <= '9' {
		i++
	}
	count := uint8(1)
	if i > 0 {
		n, err := strconv.Atoi(term[:i])
		if err != nil || n < 1 || n > 9 {
			return CopyGroup{}, invalid(op, "invalid copy count %q", term[:i])
		}
		count = uint8(n)
	}
	exprSrc := term[i:]
	if exprSrc == "" {
		exprSrc = "*"
	}
	prog, err := labelexpr.Parse(exprSrc)
	if err != nil {
		return CopyGroup{}, fmt.Errorf("%s: %w", op, err)
	}
	return CopyGroup{Count: count, Expr: prog, Src: exprSrc}, nil
}

func parseEC(op, body string) (ECSpec, error) {
	kind := body[0]
	rest := body[1:]
	var dataShards uint8
	switch {
	case strings.HasPrefix(rest, "4+"):
		dataShards = 4
		rest = rest[2:]
	case strings.HasPrefix(rest, "8+"):
		dataShards = 8
		rest = rest[2:]
	default:
		return ECSpec{}, invalid(op, "EC mode requests other than {4+, 8+}: %q", body)
	}

	terms := splitTopLevel(rest, ',')
	if len(terms) == 0 || terms[0] == "" {
		return ECSpec{}, invalid(op, "missing parity digit in EC spec %q", body)
	}
	n, err := strconv.Atoi(terms[0])
	if err != nil || n < 1 || n > 9 {
		return ECSpec{}, invalid(op, "invalid EC parity digit %q", terms[0])
	}

	ec := ECSpec{Kind: kind, DataShards: dataShards, ParityShards: uint8(n)}
	for _, t := range terms[1:] {
		grp, err := parseCopyGroup(op, "1"+t)
		if err != nil {
			return ECSpec{}, err
		}
		ec.Exprs = append(ec.Exprs, grp)
	}
	if len(ec.Exprs) > 2 {
		return ECSpec{}, invalid(op, "EC spec allows at most two placement expressions")
	}
	return ec, nil
}

func parseUniqueness(op, s string) (Uniqueness, error) {
	switch s {
	case "IP":
		return Uniqueness{Mode: "IP"}, nil
	case "RACK":
		return Uniqueness{Mode: "RACK"}, nil
	}
	if len(s) == 3 && s[1] == '-' {
		lo, hi := s[0], s[2]
		if lo < 'A' || lo > 'Z' || hi < 'A' || hi > 'Z' {
			return Uniqueness{}, invalid(op, "invalid uniqueness range %q", s)
		}
		if hi < lo {
			return Uniqueness{}, invalid(op, "uniqueness range inverted: %q", s)
		}
		return Uniqueness{Mode: "RANGE", Lo: lo - 'A', Hi: hi - 'A'}, nil
	}
	return Uniqueness{}, invalid(op, "invalid uniqueness mask %q", s)
}

func parseLabelsMode(op, s string) (LabelsMode, error) {
	switch s {
	case "STD":
		return LabelsStd, nil
	case "LOOSE":
		return LabelsLoose, nil
	case "STRICT":
		return LabelsStrict, nil
	default:
		return 0, invalid(op, "invalid labels mode %q", s)
	}
}

// splitTopLevel splits s on sep, ignoring occurrences nested inside
// '(' ')' or '[' ']' pairs — E sub-expressions may contain grouping
// but never a comma of their own (§4.3's labelexpr grammar has no
// comma), so this is sufficient to separate C's comma list.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
