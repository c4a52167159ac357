// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package openfiles implements the open-file relation table (§4.7):
// which (session, inode) pairs currently hold a file open, maintained
// across the lifetime of a session's mount and reconciled whenever a
// client reconnects and re-announces the inodes it still has open.
//
// Grounded on original_source/mfsmaster/openfiles.c, which keeps two
// fixed-size hash chains (OF_SESSION_HASHSIZE=4096,
// OF_INODE_HASHSIZE=65536) over one shared slab of relation nodes so
// either direction — "what does this session have open" and "who has
// this inode open" — can be walked without a scan. The teacher's
// lib/containers.Set[T] (its sibling package's generic unordered-set
// idiom) is the natural replacement for each chain: this package keeps
// one map[uint32]containers.Set[uint32] per direction instead of
// open-coding the bucket arithmetic and intrusive prev/next pointers
// the C file needs to run without a garbage collector.
package openfiles
