// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ppi implements the PEIM-to-PEIM Interface (PPI) database, a
// GUID indexed registry of interfaces with install, reinstall, locate and
// notification services.
//
// Installed interfaces are kept in an append-only arena, handles are stable
// indexes which are never reused.
package ppi

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/usbarmory/go-pei/uefi"
)

// Flags represents EFI_PEI_PPI_DESCRIPTOR flags.
type Flags uint32

// EFI_PEI_PPI_DESCRIPTOR flags
const (
	FlagPic            Flags = 0x00000001
	FlagPpi            Flags = 0x00000010
	FlagNotifyCallback Flags = 0x00000020
	FlagNotifyDispatch Flags = 0x00000040
	FlagNotifyTypes    Flags = 0x00000060
	FlagTerminateList  Flags = 0x80000000
)

// DefaultMax is the default capacity of each database list.
const DefaultMax = 64

// Handle identifies an installed interface record.
type Handle int

// Descriptor represents a PPI descriptor (EFI_PEI_PPI_DESCRIPTOR).
type Descriptor struct {
	Flags Flags
	GUID  uefi.GUID

	// Interface is the opaque PPI
	Interface any

	// Address is the physical address of the interface, when the PPI is
	// backed by memory
	Address uint64
}

// Relocatable is implemented by interfaces holding physical addresses which
// must follow a memory transition.
type Relocatable interface {
	Rebase(oldBase uint64, oldSize uint64, newBase uint64)
}

// NotifyFunc is invoked when a PPI matching a notification is installed.
type NotifyFunc[S any] func(services S, n *Notify[S], d *Descriptor) error

// Notify represents a notification descriptor
// (EFI_PEI_NOTIFY_DESCRIPTOR).
type Notify[S any] struct {
	Flags  Flags
	GUID   uefi.GUID
	Notify NotifyFunc[S]

	// Address is the physical address of the descriptor, when backed by
	// memory
	Address uint64
}

type pending[S any] struct {
	notify *Notify[S]
	ppi    *Descriptor
}

// Database represents a PPI database, S is the type of the services table
// handed to notification functions.
type Database[S any] struct {
	// MaxPpi is the interface arena capacity
	MaxPpi int
	// MaxNotify is the notification list capacity
	MaxNotify int

	// Services returns the current services table for notifications
	Services func() S

	// Log receives database diagnostics
	Log logr.Logger

	entries  []*Descriptor
	index    map[*Descriptor]Handle
	notifies []*Notify[S]
	queue    []pending[S]
}

// NewDatabase returns an empty PPI database with default capacities.
func NewDatabase[S any](services func() S) *Database[S] {
	return &Database[S]{
		MaxPpi:    DefaultMax,
		MaxNotify: DefaultMax,
		Services:  services,
		index:     make(map[*Descriptor]Handle),
	}
}

func checkList(n int, flags func(i int) Flags, want Flags) error {
	if n == 0 {
		return fmt.Errorf("%w: empty descriptor list", uefi.ErrInvalidParameter)
	}

	for i := 0; i < n; i++ {
		f := flags(i)

		if f&want == 0 {
			return fmt.Errorf("%w: descriptor %d flags %#x", uefi.ErrInvalidParameter, i, uint32(f))
		}

		if (f&FlagTerminateList != 0) != (i == n-1) {
			return fmt.Errorf("%w: misplaced list terminator", uefi.ErrInvalidParameter)
		}
	}

	return nil
}

// Install appends a list of interface descriptors to the database, the last
// descriptor must carry FlagTerminateList. The list is validated as a whole
// before any descriptor is installed.
//
// Matching callback notifications are invoked before Install returns,
// matching dispatch notifications are queued.
func (db *Database[S]) Install(list ...*Descriptor) (handles []Handle, err error) {
	if err = checkList(len(list), func(i int) Flags { return list[i].Flags }, FlagPpi); err != nil {
		return
	}

	if len(db.entries)+len(list) > db.MaxPpi {
		return nil, uefi.ErrOutOfResources
	}

	seen := make(map[*Descriptor]bool, len(list))

	for _, d := range list {
		if _, ok := db.index[d]; ok || seen[d] {
			return nil, fmt.Errorf("%w: descriptor for %s already installed", uefi.ErrInvalidParameter, d.GUID)
		}

		seen[d] = true
	}

	start := len(db.entries)

	for _, d := range list {
		h := Handle(len(db.entries))
		db.entries = append(db.entries, d)
		db.index[d] = h
		handles = append(handles, h)

		db.Log.V(1).Info("install PPI", "guid", d.GUID, "handle", h)
	}

	db.signal(db.entries[start:])

	return
}

// Reinstall replaces an installed descriptor with a new one, the record
// keeps its handle and position.
func (db *Database[S]) Reinstall(old *Descriptor, d *Descriptor) (h Handle, err error) {
	var ok bool

	if old == nil || d == nil || d.Flags&FlagPpi == 0 {
		return 0, uefi.ErrInvalidParameter
	}

	if h, ok = db.index[old]; !ok {
		return 0, uefi.ErrNotFound
	}

	return h, db.ReinstallHandle(h, d)
}

// ReinstallHandle replaces the descriptor of an installed record.
func (db *Database[S]) ReinstallHandle(h Handle, d *Descriptor) error {
	if d == nil || d.Flags&FlagPpi == 0 {
		return uefi.ErrInvalidParameter
	}

	if h < 0 || int(h) >= len(db.entries) {
		return uefi.ErrNotFound
	}

	if o, ok := db.index[d]; ok && o != h {
		return fmt.Errorf("%w: descriptor installed as %d", uefi.ErrInvalidParameter, o)
	}

	delete(db.index, db.entries[h])
	db.entries[h] = d
	db.index[d] = h

	db.Log.V(1).Info("reinstall PPI", "guid", d.GUID, "handle", h)

	db.signal([]*Descriptor{d})

	return nil
}

// Locate returns the instance-th (0-based) installed descriptor matching
// the argument GUID, in installation order.
func (db *Database[S]) Locate(guid uefi.GUID, instance int) (*Descriptor, error) {
	for _, d := range db.entries {
		if d.GUID != guid {
			continue
		}

		if instance == 0 {
			return d, nil
		}

		instance--
	}

	return nil, uefi.ErrNotFound
}

// Handle returns the handle of an installed descriptor.
func (db *Database[S]) Handle(d *Descriptor) (h Handle, ok bool) {
	h, ok = db.index[d]
	return
}

// Get returns the descriptor of an installed record.
func (db *Database[S]) Get(h Handle) (*Descriptor, error) {
	if h < 0 || int(h) >= len(db.entries) {
		return nil, uefi.ErrNotFound
	}

	return db.entries[h], nil
}

// Len returns the number of installed records.
func (db *Database[S]) Len() int {
	return len(db.entries)
}

// Entries returns the installed descriptors in installation order.
func (db *Database[S]) Entries() []*Descriptor {
	return append([]*Descriptor(nil), db.entries...)
}

// Notifications returns the registered notification descriptors in
// registration order.
func (db *Database[S]) Notifications() []*Notify[S] {
	return append([]*Notify[S](nil), db.notifies...)
}

// ConvertPointers rebases every descriptor address falling within
// [oldBase, oldBase+oldSize) to the new base, interfaces implementing
// Relocatable are rebased as well.
func (db *Database[S]) ConvertPointers(oldBase uint64, oldSize uint64, newBase uint64) {
	rebase := func(addr *uint64) {
		if *addr >= oldBase && *addr-oldBase < oldSize {
			*addr = *addr - oldBase + newBase
		}
	}

	for _, d := range db.entries {
		rebase(&d.Address)

		if r, ok := d.Interface.(Relocatable); ok {
			r.Rebase(oldBase, oldSize, newBase)
		}
	}

	for _, n := range db.notifies {
		rebase(&n.Address)
	}
}

var errNoNotify = errors.New("notification without function")
