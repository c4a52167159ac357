// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chunkfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"git.lukeshu.com/go/typedsync"
	"github.com/datawire/dlib/dlog"

	"github.com/moosefs/moosefs-sub003/lib/diskio"
	"github.com/moosefs/moosefs-sub003/lib/textui"
)

// ScanOptions extends Options with the tree-walking behaviors of the
// offline scanner (§4.5): fixing a mis-named chunk file from its
// header, and quarantining damaged chunks into a separate directory.
type ScanOptions struct {
	Options
	// FixName renames a file whose name doesn't parse as
	// "chunk_XXXX..._YYYY....mfs" using the (chunk id, version) found
	// in its header, instead of just flagging ResultNameWrong.
	FixName bool
	// DamagedDir, if non-empty, is where any chunk left with a
	// nonzero, unrepaired Result is moved to, named by its canonical
	// chunk_XXXX_YYYY.mfs name.
	DamagedDir string
	// Verbose prints "OK" for files with a zero result, matching -x.
	Verbose bool
	// Dupes, if non-nil, is a chunk-id -> first-seen-path cache shared
	// across every ScanTree call in this run (one data directory per
	// call, scanned concurrently by the caller). It is what lets the
	// scanner catch a chunk id that exists under two data directories
	// at once, a condition no single tree walk could see on its own.
	// Safe for concurrent use by design: the caller scans multiple
	// trees in parallel goroutines against the same *Dupes.
	Dupes *typedsync.Map[uint64, string]
}

// ScanStats is the live counter shown on the scanner's progress line.
type ScanStats struct {
	Scanned uint64
	Damaged uint64
}

func (s ScanStats) String() string {
	return textui.Sprintf("objects scanned: %v (damaged: %v)", textui.Humanized(s.Scanned), textui.Humanized(s.Damaged))
}

// diskLock acquires the directory's non-blocking ".lock" file, the
// same mutual-exclusion mechanism a running chunk server uses to
// claim ownership of its data directories; if the lock is already
// held, the caller must not scan that tree.
func diskLock(dir string) (unlockFn func() error, err error) {
	path := filepath.Join(dir, ".lock")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, fmt.Errorf("chunkfile: opening lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("chunkfile: %s: disk is in active use by a chunk server", dir)
	}
	return func() error {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return f.Close()
	}, nil
}

func skipName(name string) bool {
	switch name {
	case ".", "..", ".lock", ".metaid", ".chunkdb":
		return true
	}
	return false
}

// ScanTree recursively scans root (a chunk server data directory, or
// a bare file), checking/repairing every chunk file it finds, per
// §4.5. The directory-level lock is acquired once per directory
// visited and released before descending out of it.
func ScanTree(ctx context.Context, root string, opts ScanOptions) (Result, error) {
	var scanned, damaged uint64
	progress := textui.NewProgress[ScanStats](ctx, dlog.LogLevelInfo, textui.Tunable(1*time.Second))
	defer progress.Done()
	report := func() {
		progress.Set(ScanStats{
			Scanned: atomic.LoadUint64(&scanned),
			Damaged: atomic.LoadUint64(&damaged),
		})
	}

	var walk func(path string) Result
	walk = func(path string) Result {
		st, err := os.Stat(path)
		if err != nil {
			dlog.Errorf(ctx, "chunkfile: %s: cannot stat: %v", path, err)
			return ResultFatal
		}

		if st.IsDir() {
			unlock, err := diskLock(path)
			if err != nil {
				dlog.Error(ctx, err)
				return ResultFatal
			}
			defer unlock()

			entries, err := os.ReadDir(path)
			if err != nil {
				dlog.Errorf(ctx, "chunkfile: %s: cannot list directory: %v", path, err)
				return ResultFatal
			}
			var acc Result
			for _, e := range entries {
				if skipName(e.Name()) {
					continue
				}
				acc |= walk(filepath.Join(path, e.Name()))
			}
			return acc
		}

		result := scanFile(ctx, path, opts)
		atomic.AddUint64(&scanned, 1)
		if result != 0 {
			atomic.AddUint64(&damaged, 1)
		}
		report()
		if result == 0 && opts.Verbose {
			dlog.Infof(ctx, "%s: OK", path)
		}
		return result
	}

	result := walk(root)
	return result, nil
}

// scanFile runs Check/Repair against a single chunk file and handles
// name-fixing and damaged-directory quarantine around it.
func scanFile(ctx context.Context, path string, opts ScanOptions) Result {
	chunkID, version, nameErr := ParsePath(path)

	f, err := os.OpenFile(path, osOpenFlag(opts.Repair), 0)
	if err != nil {
		dlog.Errorf(ctx, "chunkfile: %s: cannot open: %v", path, err)
		return ResultFatal
	}
	defer f.Close()
	cf := Open(&diskio.OSFile[int64]{File: f})

	var result Result
	curPath := path
	if nameErr != nil {
		result |= ResultNameWrong
		if opts.FixName {
			newPath, err := fixNameFromHeader(cf, path)
			if err != nil {
				dlog.Errorf(ctx, "chunkfile: %s: cannot recover name from header: %v", path, err)
				return result | ResultFatal
			}
			chunkID, version, _ = ParsePath(newPath)
			curPath = newPath
			result &^= ResultNameWrong
		} else {
			dlog.Warnf(ctx, "chunkfile: %s: wrong chunk name format (skipping header check)", path)
			// Compare the header against itself, so Check neither
			// flags nor rewrites it.
			if hdrSize, err := cf.headerAndCRCSize(); err == nil {
				if hdrBuf, err := cf.readHeaderRegion(hdrSize); err == nil {
					if hdr, err := DecodeHeader(hdrBuf); err == nil {
						chunkID, version = hdr.ChunkID, hdr.Version
					}
				}
			}
		}
	}

	checkResult, err := cf.Check(chunkID, version, opts.Options)
	if err != nil {
		dlog.Errorf(ctx, "chunkfile: %s: %v", curPath, err)
		return result | checkResult | ResultFatal
	}
	result |= checkResult

	if opts.Dupes != nil && nameErr == nil {
		if firstPath, loaded := opts.Dupes.LoadOrStore(chunkID, curPath); loaded && firstPath != curPath {
			dlog.Errorf(ctx, "chunkfile: %s: chunk id %d already seen at %s", curPath, chunkID, firstPath)
			result |= ResultDuplicateID
		}
	}

	if result != 0 && result&^(ResultHeaderFixed|ResultCRCFixed) == 0 {
		// every flagged problem was fixed in place; nothing left to quarantine
		return result
	}
	if result != 0 && opts.DamagedDir != "" {
		if err := quarantine(curPath, opts.DamagedDir, chunkID, version); err != nil {
			dlog.Errorf(ctx, "chunkfile: %s: cannot quarantine: %v", curPath, err)
		}
	}
	return result
}

func osOpenFlag(repair bool) int {
	if repair {
		return os.O_RDWR
	}
	return os.O_RDONLY
}

// fixNameFromHeader reads a chunk's header to recover its (id,
// version) and renames the file to the canonical name, mirroring
// chunk_repair's MODE_NAME branch.
func fixNameFromHeader(cf *File, path string) (string, error) {
	hdrSize, err := cf.headerAndCRCSize()
	if err != nil {
		return "", err
	}
	hdrBuf, err := cf.readHeaderRegion(hdrSize)
	if err != nil {
		return "", err
	}
	hdr, err := DecodeHeader(hdrBuf)
	if err != nil {
		return "", err
	}
	newName := FormatName(hdr.ChunkID, hdr.Version)
	newPath := filepath.Join(filepath.Dir(path), newName)
	if err := os.Rename(path, newPath); err != nil {
		return "", err
	}
	return newPath, nil
}

// quarantine moves a damaged chunk into dir, falling back to a
// buffered copy-then-delete when the rename crosses filesystems
// (§4.5 "falls back to copy-delete using a 64 KiB buffer").
func quarantine(path, dir string, chunkID uint64, version uint32) error {
	dst := filepath.Join(dir, FormatName(chunkID, version))
	err := os.Rename(path, dst)
	if err == nil {
		return nil
	}
	linkErr, ok := err.(*os.LinkError)
	if !ok || linkErr.Err != unix.EXDEV {
		return err
	}
	return copyThenRemove(path, dst)
}

func copyThenRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return err
	}
	buf := make([]byte, BlockSize)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
