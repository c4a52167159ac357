// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package storageclass

import (
	"fmt"
	"sync"

	"github.com/moosefs/moosefs-sub003/lib/mfserr"
)

// MaxClasses is the size of the class table (§4.4): ids 1-9 are
// reserved for "simple goals" (back-compat with the numeric goal N
// of older MooseFS releases), leaving 10-255 for named classes.
const (
	MaxClasses      = 256
	MinSimpleGoalID = 1
	MaxSimpleGoalID = 9
)

// Class is one entry of the registry: a name, its parsed copy
// specification, an admin-only flag (§4.4: classes above the simple
// goal range may be restricted to the admin export group), and a
// reference count of inodes currently using it.
type Class struct {
	ID        uint8
	Name      string
	AdminOnly bool
	Spec      Spec

	// ExportGroup is which bit (0-31) of a session's 32-bit
	// storage-class-group bitmask (§4.4, §4.6) must be set to
	// set/exchange this class; it defaults to group 0 for newly created
	// classes.
	ExportGroup uint8

	refs uint32
}

// InUse reports whether any inode currently references the class.
func (c Class) InUse() bool { return c.refs > 0 }

// Journal receives one call per successful mutation, mirroring
// original_source/mfsmaster/patterns.c's changelog-then-apply
// ordering: Registry calls Journal strictly after validating a
// mutation but the caller is expected to have already durably
// appended it to the metadata changelog (§4.9) before the in-memory
// table is considered authoritative — Registry itself does not own
// changelog I/O, only the validated state transition.
type Journal interface {
	// Logged is called with a human-readable description of the
	// mutation (the same text that is echoed to metaloggers), once
	// per successful Create/Change/Delete/Duplicate/Rename.
	Logged(desc string)
}

type nopJournal struct{}

func (nopJournal) Logged(string) {}

// Registry is the in-memory storage-class table. It is safe for
// concurrent use; callers needing changelog atomicity should hold
// their own external lock across a validate-then-journal sequence if
// they need to guarantee journal ordering across goroutines (the
// registry itself only guarantees its own table stays consistent).
type Registry struct {
	mu      sync.Mutex
	classes [MaxClasses]*Class
	byName  map[string]uint8
	journal Journal
}

// NewRegistry constructs an empty registry with the 9 simple-goal
// classes pre-populated, class N (named "N") holding the spec "N*" —
// N copies on any server — matching classic
// MooseFS's numeric goal back-compat (§4.4).
func NewRegistry(journal Journal) *Registry {
	if journal == nil {
		journal = nopJournal{}
	}
	r := &Registry{
		byName:  make(map[string]uint8),
		journal: journal,
	}
	for id := uint8(MinSimpleGoalID); id <= MaxSimpleGoalID; id++ {
		name := fmt.Sprintf("%d", id)
		spec, _ := ParseSpec(fmt.Sprintf("%d*", id))
		c := &Class{ID: id, Name: name, Spec: spec}
		r.classes[id] = c
		r.byName[name] = id
	}
	return r
}

func notFound(op string, id uint8) error {
	return fmt.Errorf("%s: %w: class %d not found", op, mfserr.New(mfserr.StatusNoSuchClass, op), id)
}

// Create registers a new class. Fails with EINVAL if id is 0, if id is
// taken, or if name is already in use by another id; a specification
// that fails to parse returns ParseSpec's error.
func (r *Registry) Create(id uint8, name string, adminOnly bool, specText string) error {
	const op = "storageclass.Create"
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == 0 {
		return invalid(op, "class id 0 is reserved")
	}
	if r.classes[id] != nil {
		return fmt.Errorf("%s: %w: class %d already exists", op, mfserr.New(mfserr.StatusEINVAL, op), id)
	}
	if other, ok := r.byName[name]; ok {
		return fmt.Errorf("%s: %w: name %q already used by class %d", op, mfserr.New(mfserr.StatusEINVAL, op), name, other)
	}
	spec, err := ParseSpec(specText)
	if err != nil {
		return err
	}

	r.classes[id] = &Class{ID: id, Name: name, AdminOnly: adminOnly, Spec: spec}
	r.byName[name] = id
	r.journal.Logged(fmt.Sprintf("CSCREATE(%d,%s,%v,%s)", id, name, adminOnly, spec))
	return nil
}

// ChangeMask selects which fields of a class Change mutates.
type ChangeMask uint8

const (
	ChangeName ChangeMask = 1 << iota
	ChangeAdminOnly
	ChangeSpec
	ChangeExportGroup
)

// Change mutates select fields of an existing class. A session may
// only retarget a class's spec to reference export groups within its
// own storage-class-group bitmask (§4.4); callers enforce that check
// before calling Change and pass the parsed result in via specText.
func (r *Registry) Change(id uint8, mask ChangeMask, name string, adminOnly bool, specText string, exportGroup uint8) error {
	const op = "storageclass.Change"
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.classes[id]
	if c == nil {
		return notFound(op, id)
	}

	var newSpec Spec
	if mask&ChangeSpec != 0 {
		var err error
		newSpec, err = ParseSpec(specText)
		if err != nil {
			return err
		}
	}
	if mask&ChangeName != 0 && name != c.Name {
		if other, ok := r.byName[name]; ok && other != id {
			return fmt.Errorf("%s: %w: name %q already used by class %d", op, mfserr.New(mfserr.StatusEINVAL, op), name, other)
		}
	}

	if mask&ChangeName != 0 {
		delete(r.byName, c.Name)
		c.Name = name
		r.byName[name] = id
	}
	if mask&ChangeAdminOnly != 0 {
		c.AdminOnly = adminOnly
	}
	if mask&ChangeSpec != 0 {
		c.Spec = newSpec
	}
	if mask&ChangeExportGroup != 0 {
		c.ExportGroup = exportGroup
	}

	r.journal.Logged(fmt.Sprintf("CSCHANGE(%d,%d)", id, mask))
	return nil
}

// ErrClassInUse is returned by Delete when inodes still reference the
// class (§4.4: "delete fails with CLASSINUSE").
var ErrClassInUse = mfserr.New(mfserr.StatusClassInUse, "storageclass.Delete: class in use")

// Delete removes a class. Fails with ErrClassInUse if any inode still
// references it, and refuses to remove the reserved simple-goal ids.
func (r *Registry) Delete(id uint8) error {
	const op = "storageclass.Delete"
	r.mu.Lock()
	defer r.mu.Unlock()

	if id >= MinSimpleGoalID && id <= MaxSimpleGoalID {
		return invalid(op, "class %d is a reserved simple goal and cannot be deleted", id)
	}
	c := r.classes[id]
	if c == nil {
		return notFound(op, id)
	}
	if c.InUse() {
		return fmt.Errorf("%s: %w", op, ErrClassInUse)
	}

	delete(r.byName, c.Name)
	r.classes[id] = nil
	r.journal.Logged(fmt.Sprintf("CSDELETE(%d)", id))
	return nil
}

// Duplicate copies src's spec and admin-only flag into a new class
// dst, under the given name.
func (r *Registry) Duplicate(src, dst uint8, dstName string) error {
	const op = "storageclass.Duplicate"
	r.mu.Lock()
	defer r.mu.Unlock()

	srcClass := r.classes[src]
	if srcClass == nil {
		return notFound(op, src)
	}
	if r.classes[dst] != nil {
		return fmt.Errorf("%s: %w: class %d already exists", op, mfserr.New(mfserr.StatusEINVAL, op), dst)
	}
	if other, ok := r.byName[dstName]; ok {
		return fmt.Errorf("%s: %w: name %q already used by class %d", op, mfserr.New(mfserr.StatusEINVAL, op), dstName, other)
	}

	r.classes[dst] = &Class{
		ID:          dst,
		Name:        dstName,
		AdminOnly:   srcClass.AdminOnly,
		Spec:        srcClass.Spec,
		ExportGroup: srcClass.ExportGroup,
	}
	r.byName[dstName] = dst
	r.journal.Logged(fmt.Sprintf("CSDUPLICATE(%d,%d,%s)", src, dst, dstName))
	return nil
}

// Rename changes only a class's name, keeping its id and spec.
func (r *Registry) Rename(id uint8, newName string) error {
	const op = "storageclass.Rename"
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.classes[id]
	if c == nil {
		return notFound(op, id)
	}
	if other, ok := r.byName[newName]; ok && other != id {
		return fmt.Errorf("%s: %w: name %q already used by class %d", op, mfserr.New(mfserr.StatusEINVAL, op), newName, other)
	}

	delete(r.byName, c.Name)
	oldName := c.Name
	c.Name = newName
	r.byName[newName] = id
	r.journal.Logged(fmt.Sprintf("CSRENAME(%d,%s,%s)", id, oldName, newName))
	return nil
}

// Info returns a copy of the class registered under id.
func (r *Registry) Info(id uint8) (Class, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.classes[id]
	if c == nil {
		return Class{}, notFound("storageclass.Info", id)
	}
	return *c, nil
}

// Lookup resolves a class by name, as accepted on the wire by legacy
// numeric-goal callers and by name-based clients alike.
func (r *Registry) Lookup(name string) (Class, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	if !ok {
		return Class{}, fmt.Errorf("storageclass.Lookup: %w: no class named %q", mfserr.New(mfserr.StatusNoSuchClass, "storageclass.Lookup"), name)
	}
	return *r.classes[id], nil
}

// List returns every registered class, ordered by id.
func (r *Registry) List() []Class {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Class, 0, MaxClasses)
	for _, c := range r.classes {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// Acquire and Release adjust a class's inode reference count; the
// metadata inode table (§4.9) calls these on node creation/deletion
// and on class reassignment so that Delete can enforce CLASSINUSE.
func (r *Registry) Acquire(id uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.classes[id]
	if c == nil {
		return notFound("storageclass.Acquire", id)
	}
	c.refs++
	return nil
}

func (r *Registry) Release(id uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.classes[id]
	if c == nil {
		return notFound("storageclass.Release", id)
	}
	if c.refs > 0 {
		c.refs--
	}
	return nil
}

// CheckGroupPermission reports whether a session may set/exchange a
// class given its storage-class-group bitmask (§4.4): the bit
// corresponding to the class's export group must be set, unless the
// caller is root/admin (groupMask == AllGroups).
const AllGroups uint32 = 0xFFFFFFFF

func CheckGroupPermission(groupMask uint32, exportGroup uint8) error {
	if groupMask == AllGroups {
		return nil
	}
	if exportGroup >= 32 || groupMask&(1<<exportGroup) == 0 {
		return mfserr.New(mfserr.StatusEPERM, "storageclass.CheckGroupPermission")
	}
	return nil
}

// CheckSessionPermission looks up id and checks groupMask against its
// ExportGroup, for sessions_check_sclass's SMODE_SET/SMODE_EXCHANGE
// case (§4.6): setting or exchanging a class requires the session's
// storage-class-group bitmask to include that class's export group.
func (r *Registry) CheckSessionPermission(groupMask uint32, id uint8) error {
	r.mu.Lock()
	c := r.classes[id]
	r.mu.Unlock()
	if c == nil {
		return notFound("storageclass.CheckSessionPermission", id)
	}
	return CheckGroupPermission(groupMask, c.ExportGroup)
}
