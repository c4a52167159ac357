// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"io"
	"sort"

	"git.lukeshu.com/go/lowmemjson"

	"github.com/moosefs/moosefs-sub003/lib/jsonutil"
)

// infoBlob is the client-supplied mount "info" string (§4.1
// CLTOMA_FUSE_REGISTER's trailing blob): arbitrary bytes, not
// necessarily valid UTF-8, so it's dumped as a hex string rather than
// a JSON string literal.
type infoBlob []byte

var (
	_ lowmemjson.Encodable = infoBlob(nil)
	_ lowmemjson.Decodable = (*infoBlob)(nil)
)

func (b infoBlob) EncodeJSON(w io.Writer) error {
	return jsonutil.EncodeHexString(w, []byte(b))
}

func (b *infoBlob) DecodeJSON(r io.RuneScanner) error {
	var buf []byte
	bw := byteSliceWriter{&buf}
	if err := jsonutil.DecodeHexString(r, bw); err != nil {
		return err
	}
	*b = buf
	return nil
}

type byteSliceWriter struct{ buf *[]byte }

func (w byteSliceWriter) WriteByte(c byte) error {
	*w.buf = append(*w.buf, c)
	return nil
}

// sessionDump is the wire shape for one session row in a table dump
// (the human-readable sibling of the binary metadata image, used by
// the `mfsmaster -d` / info tooling, mirroring storageclass.Registry's
// own DumpJSON).
type sessionDump struct {
	ID         uint32   `json:"id"`
	RootInode  uint32   `json:"root_inode"`
	Flags      Flags    `json:"flags"`
	RootUID    uint32   `json:"root_uid"`
	RootGID    uint32   `json:"root_gid"`
	MapAllUID  uint32   `json:"mapall_uid"`
	MapAllGID  uint32   `json:"mapall_gid"`
	InfoPeerIP uint32   `json:"peer_ip"`
	NSocks     uint32   `json:"nsocks"`
	Info       infoBlob `json:"info"`
}

// DumpJSON writes the full session table to w as a JSON array ordered
// by id, for the metadata dump/info path (§4.1, §4.9).
func (t *Table) DumpJSON(w io.Writer) error {
	sessions := t.List()
	dumps := make([]sessionDump, 0, len(sessions))
	for _, s := range sessions {
		dumps = append(dumps, sessionDump{
			ID:         s.ID,
			RootInode:  s.RootInode,
			Flags:      s.Flags,
			RootUID:    s.RootUID,
			RootGID:    s.RootGID,
			MapAllUID:  s.MapAllUID,
			MapAllGID:  s.MapAllGID,
			InfoPeerIP: s.InfoPeerIP,
			NSocks:     s.NSocks,
			Info:       infoBlob(s.Info),
		})
	}
	sort.Slice(dumps, func(i, j int) bool { return dumps[i].ID < dumps[j].ID })
	return lowmemjson.Encode(w, dumps)
}
