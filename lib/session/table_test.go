// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosefs/moosefs-sub003/lib/session"
	"github.com/moosefs/moosefs-sub003/lib/storageclass"
)

type recordingJournal struct {
	entries []string
}

func (j *recordingJournal) Logged(desc string) {
	j.entries = append(j.entries, desc)
}

func baseParams() session.Params {
	return session.Params{
		ExportsChecksum:   0x1234,
		RootInode:         1,
		Flags:             session.FlagReadOnly,
		MinTrashRetention: 3600,
		MaxTrashRetention: 86400,
		SClassGroups:      1 << 3,
		PeerIP:            0x7F000001,
	}
}

func TestTableCreateJournalsSesAdd(t *testing.T) {
	t.Parallel()
	j := &recordingJournal{}
	tbl := session.NewTable(j, time.Hour, time.Now())

	s := tbl.Create(baseParams())
	require.NotZero(t, s.ID)
	require.Len(t, j.entries, 1)
	assert.Contains(t, j.entries[0], "SESADD(")
}

func TestTableCreateStripsMetaRestoreFlag(t *testing.T) {
	t.Parallel()
	tbl := session.NewTable(nil, time.Hour, time.Now())
	p := baseParams()
	p.Flags |= session.FlagMetaRestore
	s := tbl.Create(p)
	assert.False(t, s.Flags.Has(session.FlagMetaRestore))
}

func TestTableFindRejectsReservedIDs(t *testing.T) {
	t.Parallel()
	tbl := session.NewTable(nil, time.Hour, time.Now())
	s := tbl.Create(baseParams())

	_, ok := tbl.Find(s.ID)
	assert.True(t, ok)
	_, ok = tbl.Find(0)
	assert.False(t, ok)
	_, ok = tbl.Find(0x80000000)
	assert.False(t, ok)
}

func TestTableChangeNoopWhenUnchanged(t *testing.T) {
	t.Parallel()
	j := &recordingJournal{}
	tbl := session.NewTable(j, time.Hour, time.Now())
	s := tbl.Create(baseParams())
	j.entries = nil

	changed, err := tbl.Change(s.ID, baseParams())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, j.entries)
}

func TestTableChangeJournalsSesChanged(t *testing.T) {
	t.Parallel()
	j := &recordingJournal{}
	tbl := session.NewTable(j, time.Hour, time.Now())
	s := tbl.Create(baseParams())
	j.entries = nil

	p := baseParams()
	p.RootInode = 2
	changed, err := tbl.Change(s.ID, p)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, j.entries, 1)
	assert.Contains(t, j.entries[0], "SESCHANGED(")
}

func TestTableAttachReconnectJournalsSesConnected(t *testing.T) {
	t.Parallel()
	j := &recordingJournal{}
	tbl := session.NewTable(j, time.Hour, time.Now())
	s := tbl.Create(baseParams())

	now := time.Now()
	require.NoError(t, tbl.Disconnect(s.ID, now))
	j.entries = nil

	require.NoError(t, tbl.Attach(s.ID, 0x0A000001, 1))
	require.Len(t, j.entries, 1)
	assert.Contains(t, j.entries[0], "SESCONNECTED(")

	got, _ := tbl.Find(s.ID)
	assert.True(t, got.Disconnected.IsZero())
	assert.Equal(t, uint32(1), got.NSocks)
}

func TestTableDisconnectStartsSustainCountdown(t *testing.T) {
	t.Parallel()
	j := &recordingJournal{}
	tbl := session.NewTable(j, time.Hour, time.Now())
	s := tbl.Create(baseParams())
	require.NoError(t, tbl.Attach(s.ID, 0, 0))
	j.entries = nil

	now := time.Now()
	require.NoError(t, tbl.Disconnect(s.ID, now))
	got, _ := tbl.Find(s.ID)
	assert.Equal(t, now, got.Disconnected)
	assert.Contains(t, j.entries[0], "SESDISCONNECTED(")
}

func TestTableReapRemovesExpiredSessions(t *testing.T) {
	t.Parallel()
	j := &recordingJournal{}
	start := time.Now()
	tbl := session.NewTable(j, time.Minute, start)
	s := tbl.Create(baseParams())

	disc := start.Add(10 * time.Minute)
	require.NoError(t, tbl.Disconnect(s.ID, disc))
	j.entries = nil

	// before sustain elapses: still present.
	removed := tbl.Reap(disc.Add(30 * time.Second))
	assert.Empty(t, removed)
	_, ok := tbl.Find(s.ID)
	assert.True(t, ok)

	// after sustain elapses: reaped with a SESDEL entry.
	removed = tbl.Reap(disc.Add(2 * time.Minute))
	assert.Equal(t, []uint32{s.ID}, removed)
	_, ok = tbl.Find(s.ID)
	assert.False(t, ok)
	assert.Contains(t, j.entries[0], "SESDEL(")
}

func TestTableReapNoopDuringStartupGrace(t *testing.T) {
	t.Parallel()
	start := time.Now()
	tbl := session.NewTable(nil, time.Minute, start)
	s := tbl.Create(baseParams())
	require.NoError(t, tbl.Disconnect(s.ID, start))

	removed := tbl.Reap(start.Add(10 * time.Second))
	assert.Empty(t, removed)
}

func TestTableForceRemove(t *testing.T) {
	t.Parallel()
	j := &recordingJournal{}
	tbl := session.NewTable(j, time.Hour, time.Now())
	s := tbl.Create(baseParams())
	j.entries = nil

	require.NoError(t, tbl.ForceRemove(s.ID))
	_, ok := tbl.Find(s.ID)
	assert.False(t, ok)
	assert.Contains(t, j.entries[0], "SESDEL(")

	err := tbl.ForceRemove(s.ID)
	assert.Error(t, err)
}

func TestCheckTrashRetentionBounds(t *testing.T) {
	t.Parallel()
	tbl := session.NewTable(nil, time.Hour, time.Now())
	s := tbl.Create(baseParams())

	assert.NoError(t, tbl.CheckTrashRetention(s.ID, session.SModeSet, 7200))
	assert.Error(t, tbl.CheckTrashRetention(s.ID, session.SModeSet, 100))
	assert.Error(t, tbl.CheckTrashRetention(s.ID, session.SModeSet, 1000000))

	assert.NoError(t, tbl.CheckTrashRetention(s.ID, session.SModeIncrease, 50000))
	assert.Error(t, tbl.CheckTrashRetention(s.ID, session.SModeIncrease, 1000000))

	assert.NoError(t, tbl.CheckTrashRetention(s.ID, session.SModeDecrease, 50000))
	assert.Error(t, tbl.CheckTrashRetention(s.ID, session.SModeDecrease, 100))
}

func TestCheckStorageClassUsesExportGroup(t *testing.T) {
	t.Parallel()
	tbl := session.NewTable(nil, time.Hour, time.Now())
	p := baseParams()
	p.SClassGroups = 1 << 5
	s := tbl.Create(p)

	reg := storageclass.NewRegistry(nil)
	require.NoError(t, reg.Create(20, "gold", false, "3A+B"))
	require.NoError(t, reg.Change(20, storageclass.ChangeExportGroup, "", false, "", 5))

	assert.NoError(t, tbl.CheckStorageClass(s.ID, session.SModeSet, 20, reg))
	assert.NoError(t, tbl.CheckStorageClass(s.ID, session.SModeExchange, 20, reg))
	assert.Error(t, tbl.CheckStorageClass(s.ID, session.SModeIncrease, 20, reg))
	assert.Error(t, tbl.CheckStorageClass(s.ID, session.SModeDecrease, 20, reg))

	require.NoError(t, reg.Change(20, storageclass.ChangeExportGroup, "", false, "", 6))
	assert.Error(t, tbl.CheckStorageClass(s.ID, session.SModeSet, 20, reg))
}

func TestStatsIncAddAndRotate(t *testing.T) {
	t.Parallel()
	tbl := session.NewTable(nil, time.Hour, time.Now())
	s := tbl.Create(baseParams())

	tbl.IncStats(s.ID, session.OpLookup)
	tbl.IncStats(s.ID, session.OpLookup)
	tbl.AddStats(s.ID, session.OpWrite, 4096)

	cur, last := tbl.Stats(s.ID, session.OpLookup)
	assert.Equal(t, uint32(2), cur)
	assert.Equal(t, uint32(0), last)

	tbl.RotateHour()
	cur, last = tbl.Stats(s.ID, session.OpLookup)
	assert.Equal(t, uint32(0), cur)
	assert.Equal(t, uint32(2), last)

	curW, _ := tbl.Stats(s.ID, session.OpWrite)
	assert.Equal(t, uint32(0), curW) // rotated away too
}

func TestUgidRemap(t *testing.T) {
	t.Parallel()
	p := baseParams()
	p.RootUID, p.RootGID = 100, 200
	p.MapAllUID, p.MapAllGID = 65534, 65534
	p.Flags |= session.FlagMapAll
	s := &session.Session{Params: p}

	uid, gid := s.UgidRemap(0, 0)
	assert.Equal(t, uint32(100), uid)
	assert.Equal(t, uint32(200), gid)

	uid, gid = s.UgidRemap(1000, 1000)
	assert.Equal(t, uint32(65534), uid)
	assert.Equal(t, uint32(65534), gid)
}

func TestSModeDirectionAndRecursive(t *testing.T) {
	t.Parallel()
	rset := session.SModeSet | 0x04
	assert.Equal(t, session.SModeSet, rset.Direction())
	assert.True(t, rset.Recursive())
	assert.False(t, session.SModeExchange.Recursive())
}

func TestOpString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "LOOKUP", session.OpLookup.String())
	assert.Equal(t, "META", session.OpMeta.String())
}

func TestClampSustainTime(t *testing.T) {
	t.Parallel()
	assert.Equal(t, session.MinSustainTime, session.ClampSustainTime(10*time.Second))
	assert.Equal(t, session.MaxSustainTime, session.ClampSustainTime(30*24*time.Hour))
	assert.Equal(t, 2*time.Hour, session.ClampSustainTime(2*time.Hour))
}
