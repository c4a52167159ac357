// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command mfschunktool scans, verifies, and optionally repairs chunk
// files in a chunk server's data directories, per §4.5/§6. It is the
// offline counterpart to the chunk server's own background checker:
// it must not be run against a data directory a chunk server is
// actively using, which is why lib/chunkfile.ScanTree takes the same
// per-directory ".lock" flock the chunk server holds.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"git.lukeshu.com/go/typedsync"
	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/moosefs/moosefs-sub003/lib/chunkfile"
)

type logLevelFlag struct {
	logrus.Level
}

func (lvl *logLevelFlag) Type() string { return "loglevel" }
func (lvl *logLevelFlag) Set(str string) error {
	var err error
	lvl.Level, err = logrus.ParseLevel(str)
	return err
}

var _ pflag.Value = (*logLevelFlag)(nil)

// exitError carries the scan result bitmask (§4.5, §6) out of RunE as
// the process exit status, without printing a stack trace for what is
// an expected, not exceptional, outcome.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return "one or more chunks reported a problem" }

func main() {
	logLvl := logLevelFlag{Level: logrus.InfoLevel}

	var fastFlag, repairFlag, fixNameFlag, emptyFlag, verboseFlag bool
	var damagedDirFlag string

	cmd := &cobra.Command{
		Use:   "mfschunktool [flags] chunk_file|mfs_hdd_path ...",
		Short: "Scan, verify, and repair MooseFS chunk files",

		Args: cobra.MinimumNArgs(1),

		SilenceErrors: true,
		SilenceUsage:  true,

		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetLevel(logLvl.Level)
			ctx := dlog.WithLogger(cmd.Context(), dlog.WrapLogrus(logger))

			if damagedDirFlag != "" {
				dir, err := filepath.Abs(damagedDirFlag)
				if err != nil {
					return errors.Wrapf(err, "%s: cannot resolve damaged-dir", damagedDirFlag)
				}
				st, err := os.Stat(dir)
				if err != nil {
					return errors.Wrapf(err, "%s: stat error", dir)
				}
				if !st.IsDir() {
					return errors.Errorf("%s: not a directory", dir)
				}
				damagedDirFlag = dir
			}

			opts := chunkfile.ScanOptions{
				Options: chunkfile.Options{
					Fast:            fastFlag,
					Repair:          repairFlag,
					ForceEmptyCheck: emptyFlag,
				},
				FixName:    fixNameFlag,
				DamagedDir: damagedDirFlag,
				Verbose:    verboseFlag,
				// Shared across every data directory named on the
				// command line, scanned concurrently below, so a
				// chunk id duplicated between two disks is caught
				// regardless of which directory's goroutine sees it
				// second.
				Dupes: &typedsync.Map[uint64, string]{},
			}

			grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
				EnableSignalHandling: true,
			})
			var mu sync.Mutex
			var result chunkfile.Result
			for i, arg := range args {
				arg := arg
				grp.Go(fmt.Sprintf("scan-%d", i), func(ctx context.Context) error {
					path, err := filepath.Abs(arg)
					if err != nil {
						dlog.Errorf(ctx, "%s: realpath error: %v", arg, err)
						mu.Lock()
						result |= chunkfile.ResultFatal
						mu.Unlock()
						return nil
					}
					r, err := chunkfile.ScanTree(ctx, path, opts)
					if err != nil {
						dlog.Errorf(ctx, "%s: %v", path, err)
					}
					mu.Lock()
					result |= r
					mu.Unlock()
					return nil
				})
			}
			if err := grp.Wait(); err != nil {
				return err
			}
			if result != 0 {
				return &exitError{code: int(result)}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&fastFlag, "fast", "f", false, "fast check (check only header and crc of last data block)")
	cmd.Flags().BoolVarP(&repairFlag, "repair", "r", false, "repair (fix header info from file name and recalculate crc)")
	cmd.Flags().BoolVarP(&fixNameFlag, "fix-name", "n", false, "when file name is wrong then try to fix it using header")
	cmd.Flags().BoolVarP(&emptyFlag, "empty", "e", false, "force checking crc values for non existing blocks in chunks 1.0")
	cmd.Flags().BoolVarP(&verboseFlag, "verbose", "x", false, "print 'OK' for good files")
	cmd.Flags().StringVarP(&damagedDirFlag, "damaged-dir", "m", "", "move all damaged chunks to given `directory` for future processing")
	cmd.Flags().Var(&logLvl, "verbosity", "set the verbosity")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Stderr.WriteString(cmd.CommandPath() + ": error: " + errors.Cause(err).Error() + "\n")
		os.Exit(1)
	}
}
