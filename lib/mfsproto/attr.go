// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mfsproto

import (
	"github.com/moosefs/moosefs-sub003/lib/binstruct"
)

// AttrRecordSize is the two wire sizes an attribute record can take;
// the server remembers which one it negotiated per client (§4.1,
// §6). Current clients get AttrSizeCurrent; legacy ones that never
// negotiated the winattr byte get AttrSizeLegacy.
const (
	AttrSizeLegacy  = 35
	AttrSizeCurrent = 36
)

// attrCommon is the fixed 27-byte prefix shared by both attribute
// record wire sizes: flags:u8, type_mode:u16, uid:u32, gid:u32,
// atime:u32, mtime:u32, ctime:u32, nlink:u32 (§6).
type attrCommon struct {
	Flags    binstruct.U8   `bin:"off=0,siz=1"`
	TypeMode binstruct.U16be `bin:"off=1,siz=2"`
	UID      binstruct.U32be `bin:"off=3,siz=4"`
	GID      binstruct.U32be `bin:"off=7,siz=4"`
	ATime    binstruct.U32be `bin:"off=11,siz=4"`
	MTime    binstruct.U32be `bin:"off=15,siz=4"`
	CTime    binstruct.U32be `bin:"off=19,siz=4"`
	NLink    binstruct.U32be `bin:"off=23,siz=4"`
}

// attrLegacy is the 35-byte attribute record: attrCommon plus an
// 8-byte union of either a regular file's length or a device's
// major/minor/pad.
type attrLegacy struct {
	Common attrCommon `bin:"off=0,siz=27"`
	Union  [8]byte    `bin:"off=27,siz=8"`

	_ binstruct.End `bin:"off=35"`
}

// attrCurrent is the 36-byte attribute record: attrLegacy plus a
// trailing winattr byte (§6).
type attrCurrent struct {
	Common  attrCommon   `bin:"off=0,siz=27"`
	Union   [8]byte      `bin:"off=27,siz=8"`
	WinAttr binstruct.U8 `bin:"off=35,siz=1"`

	_ binstruct.End `bin:"off=36"`
}

// Attr is the decoded, wire-size-independent form of an attribute
// record. Union holds either Length (for regular files, symlinks,
// directories) or Rdev (for device special files); which is valid is
// determined by the file type bits in TypeMode, the same way the
// source multiplexes the union by inode type rather than by a
// discriminant byte on the wire.
type Attr struct {
	Flags    uint8
	TypeMode uint16
	UID      uint32
	GID      uint32
	ATime    uint32
	MTime    uint32
	CTime    uint32
	NLink    uint32
	Length   uint64
	RdevMaj  uint16
	RdevMin  uint16
	WinAttr  uint8
	// HasWinAttr records whether this Attr was decoded from (or
	// should be encoded as) a 36-byte record; see Size.
	HasWinAttr bool
}

// Size returns AttrSizeCurrent if a.HasWinAttr, else AttrSizeLegacy.
func (a Attr) Size() int {
	if a.HasWinAttr {
		return AttrSizeCurrent
	}
	return AttrSizeLegacy
}

func fromCommon(c attrCommon) Attr {
	return Attr{
		Flags:    uint8(c.Flags),
		TypeMode: uint16(c.TypeMode),
		UID:      uint32(c.UID),
		GID:      uint32(c.GID),
		ATime:    uint32(c.ATime),
		MTime:    uint32(c.MTime),
		CTime:    uint32(c.CTime),
		NLink:    uint32(c.NLink),
	}
}

func toCommon(a Attr) attrCommon {
	return attrCommon{
		Flags:    binstruct.U8(a.Flags),
		TypeMode: binstruct.U16be(a.TypeMode),
		UID:      binstruct.U32be(a.UID),
		GID:      binstruct.U32be(a.GID),
		ATime:    binstruct.U32be(a.ATime),
		MTime:    binstruct.U32be(a.MTime),
		CTime:    binstruct.U32be(a.CTime),
		NLink:    binstruct.U32be(a.NLink),
	}
}

func unionToAttr(a *Attr, union [8]byte) {
	// Length occupies all 8 bytes, big-endian; Rdev occupies the
	// first 4 (major:u16, minor:u16), the remaining 4 are padding.
	// a.TypeMode must already be populated (from the common prefix)
	// before this call, since it decides which interpretation the
	// union gets.
	if isDeviceTypeMode(a.TypeMode) {
		a.RdevMaj = uint16(union[0])<<8 | uint16(union[1])
		a.RdevMin = uint16(union[2])<<8 | uint16(union[3])
		return
	}
	a.Length = uint64(union[0])<<56 | uint64(union[1])<<48 | uint64(union[2])<<40 | uint64(union[3])<<32 |
		uint64(union[4])<<24 | uint64(union[5])<<16 | uint64(union[6])<<8 | uint64(union[7])
}

func unionFromAttr(a Attr) [8]byte {
	var union [8]byte
	if isDeviceTypeMode(a.TypeMode) {
		union[0] = byte(a.RdevMaj >> 8)
		union[1] = byte(a.RdevMaj)
		union[2] = byte(a.RdevMin >> 8)
		union[3] = byte(a.RdevMin)
		return union
	}
	union[0] = byte(a.Length >> 56)
	union[1] = byte(a.Length >> 48)
	union[2] = byte(a.Length >> 40)
	union[3] = byte(a.Length >> 32)
	union[4] = byte(a.Length >> 24)
	union[5] = byte(a.Length >> 16)
	union[6] = byte(a.Length >> 8)
	union[7] = byte(a.Length)
	return union
}

// isDeviceTypeMode reports whether the inode-type nibble packed into
// typeMode's top bits (the bit-packed attribute pattern flagged in
// §9) denotes a block or character device, the only types whose attr
// union holds Rdev rather than Length.
func isDeviceTypeMode(typeMode uint16) bool {
	switch ModeType(typeMode >> 12) {
	case TypeBlockDev, TypeCharDev:
		return true
	default:
		return false
	}
}

// DecodeAttr decodes an attribute record of either wire size off the
// front of data, returning the remaining bytes. legacy selects which
// of the two wire sizes this connection has negotiated (§4.1: "the
// server remembers which per client").
func DecodeAttr(data []byte, legacy bool) (Attr, []byte, error) {
	if legacy {
		var rec attrLegacy
		n, err := binstruct.Unmarshal(data, &rec)
		if err != nil {
			return Attr{}, nil, err
		}
		a := fromCommon(rec.Common)
		unionToAttr(&a, rec.Union)
		return a, data[n:], nil
	}
	var rec attrCurrent
	n, err := binstruct.Unmarshal(data, &rec)
	if err != nil {
		return Attr{}, nil, err
	}
	a := fromCommon(rec.Common)
	unionToAttr(&a, rec.Union)
	a.WinAttr = uint8(rec.WinAttr)
	a.HasWinAttr = true
	return a, data[n:], nil
}

// EncodeAttr appends a's wire encoding to buf, at the size selected
// by a.HasWinAttr.
func EncodeAttr(buf []byte, a Attr) ([]byte, error) {
	if !a.HasWinAttr {
		rec := attrLegacy{Common: toCommon(a), Union: unionFromAttr(a)}
		bs, err := binstruct.Marshal(rec)
		if err != nil {
			return buf, err
		}
		return append(buf, bs...), nil
	}
	rec := attrCurrent{Common: toCommon(a), Union: unionFromAttr(a), WinAttr: binstruct.U8(a.WinAttr)}
	bs, err := binstruct.Marshal(rec)
	if err != nil {
		return buf, err
	}
	return append(buf, bs...), nil
}
