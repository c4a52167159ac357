// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package labelexpr

import (
	"fmt"

	"github.com/moosefs/moosefs-sub003/lib/mfserr"
)

// ParseError wraps a syntax problem at a byte offset into the source
// expression; all parse failures surface to callers as EINVAL (§4.3).
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("labelexpr: %s at offset %d", e.Msg, e.Pos)
}

func (e *ParseError) Unwrap() error {
	return mfserr.New(mfserr.StatusEINVAL, "labelexpr.Parse")
}

func parseErrf(pos int, format string, args ...any) error {
	return &ParseError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// ErrProgramTooBig is returned by Compile when the RPN encoding of an
// expression would exceed the 128-byte program cap (§4.3).
var ErrProgramTooBig = mfserr.New(mfserr.StatusEINVAL, "labelexpr.Compile: program exceeds 128 bytes")
