// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chunkfile

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// NameLen is the length of a well-formed chunk file name:
// "chunk_XXXXXXXXXXXXXXXX_YYYYYYYY.mfs" (16 hex chunk-id digits, 8
// hex version digits).
const NameLen = 35

// FormatName renders the canonical chunk file name for (chunkID,
// version), matching the original tool's
// "chunk_%016"PRIX64"_%08"PRIX32".mfs" format exactly.
func FormatName(chunkID uint64, version uint32) string {
	return fmt.Sprintf("chunk_%016X_%08X.mfs", chunkID, version)
}

// ParseName parses a chunk file's base name (not a full path) into
// its chunk id and version, or reports an error if name doesn't match
// the fixed "chunk_XXXX..._YYYY....mfs" shape.
func ParseName(name string) (chunkID uint64, version uint32, err error) {
	if len(name) != NameLen {
		return 0, 0, fmt.Errorf("chunkfile.ParseName: %q: wrong length", name)
	}
	if name[:6] != "chunk_" || name[22] != '_' || name[31:] != ".mfs" {
		return 0, 0, fmt.Errorf("chunkfile.ParseName: %q: wrong shape", name)
	}
	id, err := strconv.ParseUint(name[6:22], 16, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("chunkfile.ParseName: %q: bad chunk id: %w", name, err)
	}
	ver, err := strconv.ParseUint(name[23:31], 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("chunkfile.ParseName: %q: bad version: %w", name, err)
	}
	return id, uint32(ver), nil
}

// ParsePath is ParseName applied to the base name of a full path.
func ParsePath(path string) (chunkID uint64, version uint32, err error) {
	return ParseName(filepath.Base(path))
}
