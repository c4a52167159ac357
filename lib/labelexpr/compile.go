// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package labelexpr

// Program is a compiled RPN byte program (§4.3). Each instruction
// byte packs a 2-bit opcode type into the top bits and a 6-bit value
// into the bottom bits:
//
//	00 SYM   value 0-25 = letter A-Z, value 63 = the '*' wildcard
//	01 AND   value 1-63 = arity (operands to pop and AND together)
//	10 OR    value 1-63 = arity
//	11 NOT   value unused
//
// An AND/OR node with more than 63 terms is compiled to a chain of
// opcodes, each combining up to 63 stack values, so that arity always
// fits the 6-bit field (§4.3 "saturating at 63 with chained opcodes
// beyond that").
type Program []byte

const (
	MaxProgramSize = 128

	opSym uint8 = 0
	opAnd uint8 = 1
	opOr  uint8 = 2
	opNot uint8 = 3

	symAny = 63
)

func packOp(op uint8, value uint8) byte {
	return byte(op)<<6 | (value & 0x3F)
}

func unpackOp(b byte) (op uint8, value uint8) {
	return uint8(b >> 6), b & 0x3F
}

// Compile compiles an AST produced by ParseExpr into an RPN Program,
// failing with ErrProgramTooBig if the encoding would exceed
// MaxProgramSize bytes.
func Compile(n Node) (Program, error) {
	var prog Program
	prog = emit(prog, n)
	if len(prog) > MaxProgramSize {
		return nil, ErrProgramTooBig
	}
	return prog, nil
}

func emit(prog Program, n Node) Program {
	switch x := n.(type) {
	case Any:
		return append(prog, packOp(opSym, symAny))
	case Sym:
		return append(prog, packOp(opSym, x.Letter))
	case *Not:
		prog = emit(prog, x.Term)
		return append(prog, packOp(opNot, 0))
	case *And:
		return emitVariadic(prog, opAnd, x.Terms)
	case *Or:
		return emitVariadic(prog, opOr, x.Terms)
	default:
		panic("labelexpr: unknown node type in emit")
	}
}

// emitVariadic emits terms in order, then chains AND/OR opcodes of
// arity <=63 to fold them all down to a single stack value.
func emitVariadic(prog Program, op uint8, terms []Node) Program {
	for _, t := range terms {
		prog = emit(prog, t)
	}
	remaining := len(terms)
	for remaining > 1 {
		n := remaining
		if n > 63 {
			n = 63
		}
		prog = append(prog, packOp(op, uint8(n)))
		remaining = remaining - n + 1
	}
	return prog
}

// Decompile rebuilds an AST from a Program, the inverse of Compile.
// It is used by both the pretty printer and by round-trip tests
// (§8 "Label-program round-trip").
func Decompile(prog Program) (Node, error) {
	var stack []Node
	for i := 0; i < len(prog); i++ {
		op, value := unpackOp(prog[i])
		switch op {
		case opSym:
			if value == symAny {
				stack = append(stack, Any{})
			} else if value < 26 {
				stack = append(stack, Sym{Letter: value})
			} else {
				return nil, parseErrf(i, "invalid SYM value %d", value)
			}
		case opNot:
			if len(stack) < 1 {
				return nil, parseErrf(i, "NOT with empty stack")
			}
			top := stack[len(stack)-1]
			stack[len(stack)-1] = &Not{Term: top}
		case opAnd, opOr:
			n := int(value)
			if n == 0 || len(stack) < n {
				return nil, parseErrf(i, "arity %d exceeds stack depth %d", n, len(stack))
			}
			operands := append([]Node(nil), stack[len(stack)-n:]...)
			stack = stack[:len(stack)-n]
			var folded Node
			if op == opAnd {
				folded = &And{Terms: operands}
			} else {
				folded = &Or{Terms: operands}
			}
			stack = append(stack, folded)
		default:
			return nil, parseErrf(i, "invalid opcode")
		}
	}
	if len(stack) != 1 {
		return nil, parseErrf(len(prog), "program does not reduce to a single expression")
	}
	return stack[0], nil
}

// String renders prog back to its canonical infix form.
func (prog Program) String() string {
	n, err := Decompile(prog)
	if err != nil {
		return "<invalid program>"
	}
	return n.String()
}
