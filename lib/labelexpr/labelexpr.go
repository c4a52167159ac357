// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package labelexpr

// Parse parses and compiles a label expression in one step; it is the
// entry point storage-class registration (§4.4) calls for each `E`
// sub-expression of a copy specification.
func Parse(input string) (Program, error) {
	n, err := ParseExpr(input)
	if err != nil {
		return nil, err
	}
	return Compile(n)
}
