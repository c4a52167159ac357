// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/moosefs/moosefs-sub003/lib/mfserr"
)

// PatternOMask selects which fields of a Pattern apply on a match
// (patterns.c's omask, PATTERN_OMASK_*).
type PatternOMask uint8

const (
	PatternOMaskSClass         PatternOMask = 1 << 0
	PatternOMaskTrashRetention PatternOMask = 1 << 1
	PatternOMaskEAttr          PatternOMask = 1 << 2
)

// PatternAnyID is the euid/egid wildcard (patterns.c's PATTERN_EUGID_ANY).
const PatternAnyID uint32 = 0xFFFFFFFF

// PatternsMax is the hard cap on the pattern table's size
// (patterns.c's PATTERNS_MAX).
const PatternsMax = 1024

// Pattern is one glob-match override rule (patterns.c's struct
// patternlist): newly created inodes whose name matches Glob, and
// whose creator's uid/gid pass the EUID/EGID filter, have SClassID /
// TrashRetentionHours / eattr bits applied per OMask.
type Pattern struct {
	Glob     string
	EUID     uint32
	EGID     uint32
	Priority uint8
	OMask    PatternOMask

	SClassID            uint8
	TrashRetentionHours uint16
	SetEAttr            EAttr
	ClrEAttr            EAttr

	valid bool
}

// PatternTable is the sorted, priority-ordered set of active patterns
// (patterns.c's patterntab / patternshead, flattened to a slice since
// Go has no convenient intrusive list idiom; sorted freshly on every
// mutation the same way patterns_have_changed re-sorts on demand).
type PatternTable struct {
	mu       sync.Mutex
	entries  []*Pattern
	journal  Journal
}

// NewPatternTable constructs an empty table. journal may be nil.
func NewPatternTable(journal Journal) *PatternTable {
	if journal == nil {
		journal = nopJournal{}
	}
	return &PatternTable{journal: journal}
}

// patternsCompare orders the table the way patterns_compare does:
// valid descending (dead entries sink to the bottom), priority
// descending, scid ascending, glob string ascending.
func patternsCompare(a, b *Pattern) bool {
	if a.valid != b.valid {
		return a.valid
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.SClassID != b.SClassID {
		return a.SClassID < b.SClassID
	}
	return a.Glob < b.Glob
}

func (t *PatternTable) resort() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		return patternsCompare(t.entries[i], t.entries[j])
	})
}

func validateEAttrMask(mask PatternOMask, set, clr EAttr) error {
	if mask&PatternOMaskEAttr != 0 && set&clr != 0 {
		return mfserr.New(mfserr.StatusEINVAL, "metadata.PatternTable.Add")
	}
	return nil
}

func (t *PatternTable) findExact(glob string, euid, egid uint32) *Pattern {
	for _, p := range t.entries {
		if p.valid && p.Glob == glob && p.EUID == euid && p.EGID == egid {
			return p
		}
	}
	return nil
}

// Add installs a new pattern (patterns_univ_add / patterns_add /
// patterns_mr_add). It is an error for glob to be empty, for the
// (glob,euid,egid) triple to already exist, for the eattr set/clear
// masks to overlap, or for the table to already hold PatternsMax
// entries.
func (t *PatternTable) Add(p Pattern) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Glob == "" {
		return mfserr.New(mfserr.StatusEINVAL, "metadata.PatternTable.Add")
	}
	if err := validateEAttrMask(p.OMask, p.SetEAttr, p.ClrEAttr); err != nil {
		return err
	}
	if t.findExact(p.Glob, p.EUID, p.EGID) != nil {
		return mfserr.New(mfserr.StatusPatternExists, "metadata.PatternTable.Add")
	}
	if len(t.entries) >= PatternsMax {
		return mfserr.New(mfserr.StatusPatternLimitReached, "metadata.PatternTable.Add")
	}
	np := p
	np.valid = true
	t.entries = append(t.entries, &np)
	t.resort()
	t.journal.Logged(fmt.Sprintf("PATADD(%s,%d,%d,%d,%d,%d,%d,%d,%d)",
		escapeName(p.Glob), p.EUID, p.EGID, p.Priority, uint8(p.OMask),
		p.SClassID, p.TrashRetentionHours, uint8(p.SetEAttr), uint8(p.ClrEAttr)))
	return nil
}

// MRAdd replays a PATADD changelog line (patterns_mr_add).
func (t *PatternTable) MRAdd(p Pattern) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Glob == "" || validateEAttrMask(p.OMask, p.SetEAttr, p.ClrEAttr) != nil {
		return mfserr.New(mfserr.StatusMismatch, "metadata.PatternTable.MRAdd")
	}
	if t.findExact(p.Glob, p.EUID, p.EGID) != nil {
		return mfserr.New(mfserr.StatusMismatch, "metadata.PatternTable.MRAdd")
	}
	np := p
	np.valid = true
	t.entries = append(t.entries, &np)
	t.resort()
	return nil
}

// Delete invalidates every pattern matching the (glob,euid,egid)
// triple exactly (patterns_univ_delete / patterns_delete /
// patterns_mr_delete — historically more than one entry can share a
// triple, so delete removes all of them, not just the first).
func (t *PatternTable) Delete(glob string, euid, egid uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	found := false
	for _, p := range t.entries {
		if p.valid && p.Glob == glob && p.EUID == euid && p.EGID == egid {
			p.valid = false
			found = true
		}
	}
	if !found {
		return mfserr.New(mfserr.StatusNoSuchPattern, "metadata.PatternTable.Delete")
	}
	t.resort()
	t.journal.Logged(fmt.Sprintf("PATDEL(%s,%d,%d)", escapeName(glob), euid, egid))
	return nil
}

// MRDelete replays a PATDEL changelog line (patterns_mr_delete).
func (t *PatternTable) MRDelete(glob string, euid, egid uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	found := false
	for _, p := range t.entries {
		if p.valid && p.Glob == glob && p.EUID == euid && p.EGID == egid {
			p.valid = false
			found = true
		}
	}
	if !found {
		return mfserr.New(mfserr.StatusMismatch, "metadata.PatternTable.MRDelete")
	}
	t.resort()
	return nil
}

// SClassDeleted invalidates every pattern that applies the
// now-deleted storage class (patterns_sclass_delete), called from
// the storage-class registry's delete path.
func (t *PatternTable) SClassDeleted(scid uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := false
	for _, p := range t.entries {
		if p.valid && p.OMask&PatternOMaskSClass != 0 && p.SClassID == scid {
			p.valid = false
			changed = true
		}
	}
	if changed {
		t.resort()
	}
}

func checkUGID(p *Pattern, uid uint32, gids []uint32) bool {
	if p.EUID != PatternAnyID && p.EUID != uid {
		return false
	}
	if p.EGID == PatternAnyID {
		return true
	}
	for _, g := range gids {
		if g == p.EGID {
			return true
		}
	}
	return false
}

// FindMatching returns the first (highest-priority, then lowest scid,
// then lexicographically-first glob) valid pattern whose uid/gid
// filter passes and whose glob matches name (patterns_find_matching's
// first-match-wins linear scan over the sorted, valid prefix).
func (t *PatternTable) FindMatching(uid uint32, gids []uint32, name string) (omask PatternOMask, scid uint8, trashRetention uint16, setEAttr, clrEAttr uint8, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.entries {
		if !p.valid {
			break
		}
		if !checkUGID(p, uid, gids) {
			continue
		}
		matched, err := filepath.Match(p.Glob, name)
		if err != nil || !matched {
			continue
		}
		return p.OMask, p.SClassID, p.TrashRetentionHours, uint8(p.SetEAttr), uint8(p.ClrEAttr), true
	}
	return 0, 0, 0, 0, 0, false
}

// List returns a snapshot of every valid pattern, in table order.
func (t *PatternTable) List() []Pattern {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Pattern, 0, len(t.entries))
	for _, p := range t.entries {
		if p.valid {
			out = append(out, *p)
		}
	}
	return out
}
