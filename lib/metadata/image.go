// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/moosefs/moosefs-sub003/lib/mfsproto"
)

// Section tags (§4.9): one 16-byte header (8-byte ASCII tag padded
// with NUL, 4-byte minor version, 4-byte body length) per section,
// followed by the body; the file ends with the 16-byte eofMarker.
const (
	sectionHEAD = "HEAD"
	sectionSESS = "SESS"
	sectionLABS = "LABS"
	sectionSCLA = "SCLA"
	sectionNODE = "NODE"
	sectionEDGE = "EDGE"
	sectionFREE = "FREE"
	sectionQUOT = "QUOT"
	sectionXATR = "XATR"
	sectionPACL = "PACL"
	sectionFLCK = "FLCK"
	sectionPLCK = "PLCK"
	sectionOPEN = "OPEN"
	sectionCSDB = "CSDB"
	sectionCHNK = "CHNK"
	sectionPATT = "PATT"
)

var eofMarker = [16]byte{'[', 'M', 'F', 'S', ' ', 'E', 'O', 'F', ' ', 'M', 'A', 'R', 'K', 'E', 'R', ']'}

func writeSection(w io.Writer, tag string, minor uint32, body []byte) error {
	var hdr [16]byte
	copy(hdr[:8], tag)
	binary.BigEndian.PutUint32(hdr[8:12], minor)
	binary.BigEndian.PutUint32(hdr[12:16], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readSectionHeader(r io.Reader) (tag string, minor, length uint32, eof bool, err error) {
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return "", 0, 0, false, io.ErrUnexpectedEOF
		}
		return "", 0, 0, false, err
	}
	if hdr == eofMarker {
		return "", 0, 0, true, nil
	}
	end := 0
	for end < 8 && hdr[end] != 0 {
		end++
	}
	tag = string(hdr[:end])
	minor = binary.BigEndian.Uint32(hdr[8:12])
	length = binary.BigEndian.Uint32(hdr[12:16])
	return tag, minor, length, false, nil
}

// WriteImage writes a full point-in-time dump to path, using the
// "write to a temp file, fsync, rename over the target, fsync the
// directory" sequence for crash safety (§4.9 "atomic write new then
// rename + fsync of containing directory").
func (g *Graph) WriteImage(path string) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("metadata.Graph.WriteImage: %w", err)
	}
	w := bufio.NewWriter(f)

	g.mu.Lock()
	err = g.writeLocked(w)
	g.mu.Unlock()

	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		_ = unix.Fsync(int(f.Fd()))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("metadata.Graph.WriteImage: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("metadata.Graph.WriteImage: %w", err)
	}
	if dir, err := os.Open(dirOf(path)); err == nil {
		_ = unix.Fsync(int(dir.Fd()))
		dir.Close()
	}
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func (g *Graph) writeLocked(w io.Writer) error {
	head := make([]byte, 12)
	binary.BigEndian.PutUint64(head[0:8], g.version)
	binary.BigEndian.PutUint32(head[8:12], g.nextInode)
	if err := writeSection(w, sectionHEAD, 1, head); err != nil {
		return err
	}

	var nodeBuf []byte
	for _, n := range g.inodes {
		nodeBuf = appendInode(nodeBuf, n)
	}
	if err := writeSection(w, sectionNODE, 1, nodeBuf); err != nil {
		return err
	}

	var edgeBuf []byte
	for _, e := range g.edgeByID {
		edgeBuf = appendEdge(edgeBuf, e)
	}
	for _, e := range g.trash {
		edgeBuf = appendEdge(edgeBuf, e)
	}
	for _, e := range g.sustained {
		edgeBuf = appendEdge(edgeBuf, e)
	}
	if err := writeSection(w, sectionEDGE, 1, edgeBuf); err != nil {
		return err
	}

	if g.patterns != nil {
		var pattBuf []byte
		for _, p := range g.patterns.List() {
			pattBuf = appendPattern(pattBuf, p)
		}
		if err := writeSection(w, sectionPATT, 1, pattBuf); err != nil {
			return err
		}
	}

	_, err := w.Write(eofMarker[:])
	return err
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}
func appendStr(b []byte, s string) []byte {
	b = appendU16(b, uint16(len(s)))
	return append(b, s...)
}

func appendInode(b []byte, n *Inode) []byte {
	b = appendU32(b, n.ID)
	b = append(b, byte(n.Type))
	b = appendU16(b, n.Perm)
	b = append(b, n.WinAttr)
	b = appendU32(b, n.UID)
	b = appendU32(b, n.GID)
	b = appendU32(b, n.ATime)
	b = appendU32(b, n.MTime)
	b = appendU32(b, n.CTime)
	b = appendU16(b, n.TrashRetentionHours)
	b = append(b, n.SClassID, uint8(n.EAttr))
	b = appendU32(b, n.NLink)
	b = appendU64(b, n.Length)
	b = appendU32(b, n.RDev)
	b = appendStr(b, string(n.SymlinkTarget))
	b = appendU32(b, uint32(len(n.Chunks)))
	for _, c := range n.Chunks {
		b = appendU64(b, c)
	}
	return b
}

func appendEdge(b []byte, e *Edge) []byte {
	b = appendU64(b, e.ID)
	b = appendU32(b, e.Parent)
	b = appendU32(b, e.Child)
	b = appendStr(b, e.Name)
	return b
}

func appendPattern(b []byte, p Pattern) []byte {
	b = appendStr(b, p.Glob)
	b = appendU32(b, p.EUID)
	b = appendU32(b, p.EGID)
	b = append(b, p.Priority, uint8(p.OMask), p.SClassID)
	b = appendU16(b, p.TrashRetentionHours)
	b = append(b, uint8(p.SetEAttr), uint8(p.ClrEAttr))
	return b
}

// ReadImage loads a full point-in-time dump produced by WriteImage,
// replacing the graph's current contents.
func (g *Graph) ReadImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("metadata.Graph.ReadImage: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	inodes := make(map[uint32]*Inode)
	children := make(map[uint32]map[string]*Edge)
	edgeByID := make(map[uint64]*Edge)
	trash := make(map[uint32]*Edge)
	sustained := make(map[uint32]*Edge)
	var version uint64
	var nextInode uint32 = RootInode + 1
	var maxEdge uint64

	for {
		tag, _, length, eof, err := readSectionHeader(r)
		if err != nil {
			return fmt.Errorf("metadata.Graph.ReadImage: %w", err)
		}
		if eof {
			break
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return fmt.Errorf("metadata.Graph.ReadImage: %w", err)
		}
		switch tag {
		case sectionHEAD:
			if len(body) >= 12 {
				version = binary.BigEndian.Uint64(body[0:8])
				nextInode = binary.BigEndian.Uint32(body[8:12])
			}
		case sectionNODE:
			p := body
			for len(p) > 0 {
				n, rest, err := readInode(p)
				if err != nil {
					return fmt.Errorf("metadata.Graph.ReadImage: %w", err)
				}
				inodes[n.ID] = n
				if n.Type == mfsproto.TypeDir {
					children[n.ID] = make(map[string]*Edge)
				}
				p = rest
			}
		case sectionEDGE:
			p := body
			for len(p) > 0 {
				e, rest, err := readEdge(p)
				if err != nil {
					return fmt.Errorf("metadata.Graph.ReadImage: %w", err)
				}
				if e.ID > maxEdge {
					maxEdge = e.ID
				}
				switch {
				case e.Parent == 0:
					if n := inodes[e.Child]; n != nil && n.Type == mfsproto.TypeSustained {
						sustained[e.Child] = e
					} else {
						trash[e.Child] = e
					}
				default:
					edgeByID[e.ID] = e
					if dir, ok := children[e.Parent]; ok {
						dir[e.Name] = e
					}
				}
				p = rest
			}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.inodes = inodes
	g.children = children
	g.edgeByID = edgeByID
	g.trash = trash
	g.sustained = sustained
	g.version = version
	g.nextInode = nextInode
	g.nextEdge = maxEdge + 1
	g.attrCache.Purge()
	return nil
}

func readU32(b []byte) (uint32, []byte) { return binary.BigEndian.Uint32(b[:4]), b[4:] }
func readU64(b []byte) (uint64, []byte) { return binary.BigEndian.Uint64(b[:8]), b[8:] }
func readU16(b []byte) (uint16, []byte) { return binary.BigEndian.Uint16(b[:2]), b[2:] }
func readStr(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, io.ErrUnexpectedEOF
	}
	n, rest := readU16(b)
	if len(rest) < int(n) {
		return "", nil, io.ErrUnexpectedEOF
	}
	return string(rest[:n]), rest[n:], nil
}

func readInode(b []byte) (*Inode, []byte, error) {
	if len(b) < 4+1+2+1+4+4+4+4+4+2+1+1+4+8+4 {
		return nil, nil, io.ErrUnexpectedEOF
	}
	n := &Inode{}
	n.ID, b = readU32(b)
	n.Type, b = mfsproto.ModeType(b[0]), b[1:]
	n.Perm, b = readU16(b)
	n.WinAttr, b = b[0], b[1:]
	n.UID, b = readU32(b)
	n.GID, b = readU32(b)
	n.ATime, b = readU32(b)
	n.MTime, b = readU32(b)
	n.CTime, b = readU32(b)
	n.TrashRetentionHours, b = readU16(b)
	n.SClassID, b = b[0], b[1:]
	n.EAttr, b = EAttr(b[0]), b[1:]
	n.NLink, b = readU32(b)
	n.Length, b = readU64(b)
	n.RDev, b = readU32(b)
	sym, rest, err := readStr(b)
	if err != nil {
		return nil, nil, err
	}
	b = rest
	if sym != "" {
		n.SymlinkTarget = []byte(sym)
	}
	if len(b) < 4 {
		return nil, nil, io.ErrUnexpectedEOF
	}
	count, rest2 := readU32(b)
	b = rest2
	if count > 0 {
		if len(b) < int(count)*8 {
			return nil, nil, io.ErrUnexpectedEOF
		}
		n.Chunks = make([]uint64, count)
		for i := range n.Chunks {
			n.Chunks[i], b = readU64(b)
		}
	}
	return n, b, nil
}

func readEdge(b []byte) (*Edge, []byte, error) {
	if len(b) < 8+4+4 {
		return nil, nil, io.ErrUnexpectedEOF
	}
	e := &Edge{}
	e.ID, b = readU64(b)
	e.Parent, b = readU32(b)
	e.Child, b = readU32(b)
	name, rest, err := readStr(b)
	if err != nil {
		return nil, nil, err
	}
	e.Name = name
	return e, rest, nil
}
