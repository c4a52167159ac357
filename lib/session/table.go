// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/moosefs/moosefs-sub003/lib/mfserr"
	"github.com/moosefs/moosefs-sub003/lib/storageclass"
)

// Journal receives one call per successful mutation, the same
// validate-then-journal convention as storageclass.Journal.
type Journal interface {
	Logged(desc string)
}

type nopJournal struct{}

func (nopJournal) Logged(string) {}

// Params is the set of export/mount parameters a client presents when
// establishing or re-validating a session (§4.6).
type Params struct {
	ExportsChecksum      uint64
	RootInode            uint32
	Flags                Flags
	Umask                uint16
	RootUID, RootGID     uint32
	MapAllUID, MapAllGID uint32
	// SClassGroups is the storage-class-group bitmask (§4.4): bit N
	// set means the session may set/exchange a class whose
	// ExportGroup is N.
	SClassGroups      uint32
	MinTrashRetention uint32
	MaxTrashRetention uint32
	Disables          uint32
	PeerIP            uint32
	Info              []byte
}

func (p Params) equal(o Params) bool {
	if p.ExportsChecksum != o.ExportsChecksum || p.RootInode != o.RootInode ||
		p.Flags != o.Flags || p.Umask != o.Umask ||
		p.RootUID != o.RootUID || p.RootGID != o.RootGID ||
		p.MapAllUID != o.MapAllUID || p.MapAllGID != o.MapAllGID ||
		p.SClassGroups != o.SClassGroups ||
		p.MinTrashRetention != o.MinTrashRetention || p.MaxTrashRetention != o.MaxTrashRetention ||
		p.Disables != o.Disables || p.PeerIP != o.PeerIP {
		return false
	}
	if len(p.Info) != len(o.Info) {
		return false
	}
	for i := range p.Info {
		if p.Info[i] != o.Info[i] {
			return false
		}
	}
	return true
}

// opCounter is one operation's current/last hour and minute tallies
// (chouropstats/lhouropstats/cminopstats/lminopstats).
type opCounter struct {
	curHour, lastHour uint32
	curMin, lastMin   uint32
}

// Session is one entry of the table (§4.6).
type Session struct {
	ID uint32
	Params

	Closed       bool
	Disconnected time.Time // zero value means "connected"
	NSocks       uint32
	InfoPeerIP   uint32
	InfoVersion  uint32

	stats [NumOps]opCounter
}

// Connected reports whether the session currently has at least one
// live connection.
func (s *Session) Connected() bool { return s.NSocks > 0 }

// IsRootRemapped reports whether uid 0 is remapped away from root on
// this export, mirroring sessions_is_root_remapped.
func (s *Session) IsRootRemapped() bool { return s.RootUID != 0 }

// UgidRemap applies the session's root/map-all uid/gid substitution,
// mirroring sessions_ugid_remap.
func (s *Session) UgidRemap(uid, gid uint32) (uint32, uint32) {
	if uid == 0 {
		return s.RootUID, s.RootGID
	}
	if s.Flags.Has(FlagMapAll) {
		return s.MapAllUID, s.MapAllGID
	}
	return uid, gid
}

// Table is the in-memory session registry. Safe for concurrent use.
type Table struct {
	mu          sync.Mutex
	sessions    map[uint32]*Session
	nextID      uint32
	sustainTime time.Duration
	startTime   time.Time
	journal     Journal
}

// NewTable constructs an empty table. sustain is clamped via
// ClampSustainTime; startTime anchors FirstCheckDelay for Reap.
func NewTable(journal Journal, sustain time.Duration, startTime time.Time) *Table {
	if journal == nil {
		journal = nopJournal{}
	}
	return &Table{
		sessions:    make(map[uint32]*Session),
		nextID:      1,
		sustainTime: ClampSustainTime(sustain),
		startTime:   startTime,
		journal:     journal,
	}
}

func notFound(op string, id uint32) error {
	return fmt.Errorf("%s: %w: session %d not found", op, mfserr.New(mfserr.StatusEPERM, op), id)
}

// allocID mirrors sessions_create_session's wraparound id allocator:
// ids run 1..0x7FFFFFFF, skipping 0 and the high bit.
func (t *Table) allocID() uint32 {
	t.nextID &= 0x7FFFFFFF
	id := t.nextID
	t.nextID++
	if t.nextID >= 0x80000000 {
		t.nextID = 1
	}
	return id
}

// Create registers a brand-new session (sessions_create_session /
// SESADD), returning its freshly assigned id.
func (t *Table) Create(p Params) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	p.Flags &^= FlagMetaRestore
	s := &Session{ID: t.allocID(), Params: p}
	t.sessions[s.ID] = s
	t.journal.Logged(fmt.Sprintf("SESADD(#%d,%d,%d,0%03o,%d,%d,%d,%d,0x%04X,%d,%d,0x%08X,%d,%s):%d",
		p.ExportsChecksum, p.RootInode, uint8(p.Flags), p.Umask, p.RootUID, p.RootGID,
		p.MapAllUID, p.MapAllGID, p.SClassGroups, p.MinTrashRetention, p.MaxTrashRetention,
		p.Disables, p.PeerIP, escapeInfo(p.Info), s.ID))
	return s
}

// CreateWithID installs a session under an already-assigned id, for
// metadata-restore replay (sessions_mr_sesadd) where the id comes from
// the changelog rather than being freshly allocated.
func (t *Table) CreateWithID(id uint32, p Params) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.sessions[id]; exists {
		return fmt.Errorf("session.CreateWithID: %w: session %d already exists", mfserr.New(mfserr.StatusEINVAL, "session.CreateWithID"), id)
	}
	p.Flags &^= FlagMetaRestore
	t.sessions[id] = &Session{ID: id, Params: p}
	return nil
}

// Find looks up a session by id, rejecting id 0 and ids with the high
// bit set the same way sessions_find_session does.
func (t *Table) Find(id uint32) (*Session, bool) {
	if id == 0 || id >= 0x80000000 {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Change re-validates an existing session's parameters
// (sessions_change_session): if nothing differs, it is a no-op and
// reports changed=false; otherwise the fields are overwritten and a
// SESCHANGED entry is journaled.
func (t *Table) Change(id uint32, p Params) (changed bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return false, notFound("session.Change", id)
	}
	if s.Params.equal(p) {
		return false, nil
	}
	p.Flags &^= FlagMetaRestore
	s.Params = p
	t.journal.Logged(fmt.Sprintf("SESCHANGED(%d,#%d,%d,0%03o,%d,%d,%d,%d,0x%04X,%d,%d,0x%08X,%d,%s)",
		id, p.ExportsChecksum, p.RootInode, uint8(p.Flags), p.Umask, p.RootUID, p.RootGID,
		p.MapAllUID, p.MapAllGID, p.SClassGroups, p.MinTrashRetention, p.MaxTrashRetention,
		p.Disables, p.PeerIP, escapeInfo(p.Info)))
	return true, nil
}

// Attach marks a session connected (sessions_attach_session): one
// more live socket, and if it had been sitting disconnected, a
// SESCONNECTED entry is journaled.
func (t *Table) Attach(id uint32, peerIP uint32, version uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return notFound("session.Attach", id)
	}
	s.Closed = false
	s.NSocks++
	s.InfoPeerIP = peerIP
	s.InfoVersion = version
	if !s.Disconnected.IsZero() {
		s.Disconnected = time.Time{}
		t.journal.Logged(fmt.Sprintf("SESCONNECTED(%d)", id))
	}
	return nil
}

// Close marks a session's last remaining socket as about to go away
// (sessions_close_session): the session itself isn't removed until
// Disconnect then Reap run.
func (t *Table) Close(id uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return notFound("session.Close", id)
	}
	if s.NSocks == 1 {
		s.Closed = true
	}
	return nil
}

// Disconnect drops one socket (sessions_disconnection); once the
// count reaches zero the session starts its sustain countdown and a
// SESDISCONNECTED entry is journaled.
func (t *Table) Disconnect(id uint32, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return notFound("session.Disconnect", id)
	}
	if s.NSocks > 0 {
		s.NSocks--
	}
	if s.NSocks == 0 {
		s.Disconnected = now
		t.journal.Logged(fmt.Sprintf("SESDISCONNECTED(%d)", id))
	}
	return nil
}

// Reap removes every session that is closed or has outlived the
// sustain period with no active sockets (sessions_check), journaling
// one SESDEL per removal. It is a no-op until FirstCheckDelay has
// elapsed since the table's startTime, mirroring the startup grace
// window.
func (t *Table) Reap(now time.Time) []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Before(t.startTime.Add(FirstCheckDelay)) {
		return nil
	}
	var removed []uint32
	for id, s := range t.sessions {
		if s.NSocks != 0 {
			continue
		}
		if !s.Closed && (s.Disconnected.IsZero() || now.Before(s.Disconnected.Add(t.sustainTime))) {
			continue
		}
		delete(t.sessions, id)
		removed = append(removed, id)
		t.journal.Logged(fmt.Sprintf("SESDEL(%d)", id))
	}
	return removed
}

// ForceRemove removes a session unconditionally, for the
// administrative "mfssessions -r" path (sessions_force_remove).
func (t *Table) ForceRemove(id uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[id]; !ok {
		return notFound("session.ForceRemove", id)
	}
	delete(t.sessions, id)
	t.journal.Logged(fmt.Sprintf("SESDEL(%d)", id))
	return nil
}

// List returns a snapshot of every session, for introspection
// (sessions_info).
func (t *Table) List() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	return out
}

// CheckTrashRetention enforces check_trashretention's [min,max]
// bounds for the given direction of change (§4.6).
func (t *Table) CheckTrashRetention(id uint32, sm SMode, value uint32) error {
	s, ok := t.Find(id)
	if !ok {
		return notFound("session.CheckTrashRetention", id)
	}
	switch sm.Direction() {
	case SModeSet, SModeExchange:
		if value < s.MinTrashRetention || value > s.MaxTrashRetention {
			return mfserr.New(mfserr.StatusEPERM, "session.CheckTrashRetention")
		}
	case SModeIncrease:
		if value > s.MaxTrashRetention {
			return mfserr.New(mfserr.StatusEPERM, "session.CheckTrashRetention")
		}
	case SModeDecrease:
		if value < s.MinTrashRetention {
			return mfserr.New(mfserr.StatusEPERM, "session.CheckTrashRetention")
		}
	}
	return nil
}

// CheckStorageClass enforces check_sclass (§4.4, §4.6): SET/EXCHANGE
// require the class's export group to be in the session's group
// bitmask; INCREASE/DECREASE have no meaning for a named class and
// are always rejected, matching the original's unconditional EPERM
// for those two directions.
func (t *Table) CheckStorageClass(id uint32, sm SMode, classID uint8, registry *storageclass.Registry) error {
	s, ok := t.Find(id)
	if !ok {
		return notFound("session.CheckStorageClass", id)
	}
	switch sm.Direction() {
	case SModeSet, SModeExchange:
		return registry.CheckSessionPermission(s.SClassGroups, classID)
	default:
		return mfserr.New(mfserr.StatusEPERM, "session.CheckStorageClass")
	}
}

// IncStats bumps one operation's current-hour and current-minute
// counters by 1 (sessions_inc_stats).
func (t *Table) IncStats(id uint32, op Op) {
	t.AddStats(id, op, 1)
}

// AddStats bumps one operation's counters by value
// (sessions_add_stats), used for byte-counted ops like read/write.
func (t *Table) AddStats(id uint32, op Op, value uint64) {
	if int(op) >= NumOps {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return
	}
	s.stats[op].curHour += uint32(value)
	s.stats[op].curMin += uint32(value)
}

// Stats returns the (current-hour, last-hour) counter pair for op, or
// (0,0) if id is unknown — mirroring sessions_datafill's read path.
func (t *Table) Stats(id uint32, op Op) (curHour, lastHour uint32) {
	if int(op) >= NumOps {
		return 0, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return 0, 0
	}
	return s.stats[op].curHour, s.stats[op].lastHour
}

// RotateHour shifts every session's current-hour counters into
// last-hour and zeroes the current bucket (sessions_statsmove), meant
// to be called once an hour by the master's scheduler.
func (t *Table) RotateHour() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.sessions {
		for i := range s.stats {
			s.stats[i].lastHour = s.stats[i].curHour
			s.stats[i].curHour = 0
		}
	}
}

// RotateMinute shifts every session's current-minute counters into
// last-minute (sessions_infostats_shift), called once a minute.
func (t *Table) RotateMinute() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.sessions {
		for i := range s.stats {
			s.stats[i].lastMin = s.stats[i].curMin
			s.stats[i].curMin = 0
		}
	}
}

// escapeInfo renders a session's mount-info string into the
// changelog's %-escaped form (§4.9), the same convention as
// lib/metadata's escapeName — '%', control bytes and bytes at or above
// 0x7F are hex-escaped so the changelog stays one line per entry. An
// empty string is rendered as "-".
func escapeInfo(info []byte) string {
	if len(info) == 0 {
		return "-"
	}
	out := make([]byte, 0, len(info))
	for _, b := range info {
		if b == '%' || b < 0x20 || b >= 0x7F {
			out = append(out, fmt.Sprintf("%%%02X", b)...)
		} else {
			out = append(out, b)
		}
	}
	return string(out)
}
