// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mfsproto

// ModeType is the inode-type nibble packed into the top 4 bits of an
// attribute record's type_mode field (§6, §9 "bit-packed
// attributes"); the low 12 bits are POSIX permission bits. Keeping a
// single typed accessor here, rather than open-coding the >>12 shift
// at every call site, is the pattern §9 calls out explicitly.
type ModeType uint8

const (
	TypeFile ModeType = 1
	TypeDir  ModeType = 2
	// TypeSymlink is a symbolic link.
	TypeSymlink ModeType = 3
	TypeFifo    ModeType = 4
	TypeBlockDev ModeType = 5
	TypeCharDev  ModeType = 6
	TypeSocket   ModeType = 7
	// TypeTrash and TypeSustained are the pseudo-types used for
	// entries parked in the trash and sustained holding areas
	// (glossary: "Trash / sustained").
	TypeTrash     ModeType = 8
	TypeSustained ModeType = 9
)

// PackTypeMode combines an inode type and a 12-bit permission field
// into the wire type_mode value.
func PackTypeMode(t ModeType, perm uint16) uint16 {
	return uint16(t)<<12 | (perm & 0x0FFF)
}

// UnpackTypeMode splits a wire type_mode value into its type and
// permission components.
func UnpackTypeMode(typeMode uint16) (ModeType, uint16) {
	return ModeType(typeMode >> 12), typeMode & 0x0FFF
}
