// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hob

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/u-root/uio/uio"

	"github.com/usbarmory/go-pei/mem"
	"github.com/usbarmory/go-pei/uefi"
)

// ErrNoHeap is returned when a HOB list cannot be created in the supplied
// memory range, boot cannot continue without one.
var ErrNoHeap = errors.New("no memory for HOB list")

// List represents a HOB list rooted at its PHIT record.
//
// All allocator state is kept in the PHIT fields in memory, a List value
// holds no other state, therefore a byte copy of the list is a complete copy
// of the allocator.
type List struct {
	// Log receives allocator diagnostics
	Log logr.Logger

	space *mem.Space
	phit  uint64
}

// Create initializes a HOB list at the argument base address, covering size
// bytes of memory. The list is made of a PHIT record followed by the
// end-of-list marker.
func Create(space *mem.Space, base uint64, size uint64, bootMode uint32) (l *List, err error) {
	if size < HandoffSize+HeaderSize || base+size < base {
		return nil, fmt.Errorf("%w (%#x bytes at %#x)", ErrNoHeap, size, base)
	}

	if !space.Contains(base, int(size)) {
		return nil, fmt.Errorf("%w (%#x-%#x unmapped)", ErrNoHeap, base, base+size)
	}

	l = &List{
		space: space,
		phit:  base,
	}

	end := base + HandoffSize

	h := &Handoff{
		Version:             HandoffVersion,
		BootMode:            bootMode,
		EfiMemoryTop:        base + size,
		EfiMemoryBottom:     base,
		EfiFreeMemoryTop:    base + size,
		EfiFreeMemoryBottom: end + HeaderSize,
		EfiEndOfHobList:     end,
	}

	if err = l.writeRecord(base, h, HandoffSize); err != nil {
		return nil, err
	}

	if err = l.writeEnd(end); err != nil {
		return nil, err
	}

	return
}

// Attach returns the HOB list whose PHIT record is located at the argument
// address.
func Attach(space *mem.Space, phit uint64) (l *List, err error) {
	var hdr *Header

	l = &List{
		space: space,
		phit:  phit,
	}

	if hdr, err = l.header(phit); err != nil {
		return nil, err
	}

	if hdr.Type != HandoffInfo || hdr.Length != HandoffSize {
		return nil, fmt.Errorf("no PHIT record at %#x", phit)
	}

	return
}

// Address returns the physical address of the PHIT record.
func (l *List) Address() uint64 {
	return l.phit
}

// Space returns the memory space holding the list.
func (l *List) Space() *mem.Space {
	return l.space
}

// Handoff returns the current PHIT record.
func (l *List) Handoff() (h *Handoff, err error) {
	var buf []byte

	if buf, err = l.space.Read(l.phit+HeaderSize, HandoffSize-HeaderSize); err != nil {
		return
	}

	h = &Handoff{}
	err = h.Unmarshal(uio.NewLittleEndianBuffer(buf))

	return
}

// SetHandoff overwrites the PHIT record fields.
func (l *List) SetHandoff(h *Handoff) error {
	return l.space.Write(l.phit+HeaderSize, uio.ToLittleEndian(h))
}

// BootMode returns the boot mode recorded in the PHIT.
func (l *List) BootMode() (uint32, error) {
	h, err := l.Handoff()

	if err != nil {
		return 0, err
	}

	return h.BootMode, nil
}

// SetBootMode updates the boot mode recorded in the PHIT.
func (l *List) SetBootMode(mode uint32) (err error) {
	var h *Handoff

	if h, err = l.Handoff(); err != nil {
		return
	}

	h.BootMode = mode

	return l.SetHandoff(h)
}

// Used returns the number of bytes in use at the bottom of the heap, from
// the PHIT record to the free memory bottom.
func (l *List) Used() (uint64, error) {
	h, err := l.Handoff()

	if err != nil {
		return 0, err
	}

	return h.EfiFreeMemoryBottom - l.phit, nil
}

func (l *List) header(addr uint64) (hdr *Header, err error) {
	var buf []byte

	if buf, err = l.space.Read(addr, HeaderSize); err != nil {
		return
	}

	hdr = &Header{}
	err = hdr.Unmarshal(uio.NewLittleEndianBuffer(buf))

	return
}

func (l *List) writeRecord(addr uint64, p Payload, length int) error {
	w := uio.NewLittleEndianBuffer(nil)

	hdr := &Header{
		Type:   p.Type(),
		Length: uint16(length),
	}

	hdr.Marshal(w)
	p.Marshal(w)

	if err := w.Error(); err != nil {
		return err
	}

	if w.Len() > length {
		return fmt.Errorf("%s payload exceeds record length", p.Type())
	}

	return l.space.Write(addr, w.Data())
}

func (l *List) writeEnd(addr uint64) error {
	hdr := &Header{
		Type:   EndOfHobList,
		Length: HeaderSize,
	}

	return l.space.Write(addr, uio.ToLittleEndian(hdr))
}

// CreateHob appends a record of the argument type and length (including the
// generic header) at the end of the list, the length is rounded up to 8
// bytes. The returned address points to the new record header.
func (l *List) CreateHob(t Type, length int) (addr uint64, err error) {
	var h *Handoff

	if length < HeaderSize || length > MaxLength {
		return 0, uefi.ErrInvalidParameter
	}

	length = (length + 7) &^ 7

	if length > MaxLength {
		return 0, uefi.ErrInvalidParameter
	}

	if h, err = l.Handoff(); err != nil {
		return
	}

	if h.Free() < uint64(length) {
		l.Log.V(1).Info("CreateHob failed", "type", t, "length", length, "free", h.Free())
		return 0, uefi.ErrOutOfResources
	}

	addr = h.EfiEndOfHobList
	end := addr + uint64(length)

	hdr := &Header{
		Type:   t,
		Length: uint16(length),
	}

	if err = l.space.Fill(addr, length, 0); err != nil {
		return
	}

	if err = l.space.Write(addr, uio.ToLittleEndian(hdr)); err != nil {
		return
	}

	if err = l.writeEnd(end); err != nil {
		return
	}

	h.EfiEndOfHobList = end
	h.EfiFreeMemoryBottom = end + HeaderSize

	err = l.SetHandoff(h)

	return
}

// Add appends a record holding the argument payload.
func (l *List) Add(p Payload) (addr uint64, err error) {
	body := uio.ToLittleEndian(p)

	if addr, err = l.CreateHob(p.Type(), HeaderSize+len(body)); err != nil {
		return
	}

	err = l.space.Write(addr+HeaderSize, body)

	return
}

// AllocatePages carves pages of memory from the top of the free region and
// records the allocation with a memory allocation HOB.
//
// The request fails with uefi.ErrOutOfResources, leaving the list untouched,
// when the pages and the memory allocation HOB do not fit between the free
// memory boundaries.
func (l *List) AllocatePages(t uefi.MemoryType, pages uint64) (addr uint64, err error) {
	var h *Handoff

	if pages == 0 || !t.Allocatable() {
		return 0, uefi.ErrInvalidParameter
	}

	if h, err = l.Handoff(); err != nil {
		return
	}

	size := uefi.PagesToSize(pages)
	top := uefi.AlignDown(h.EfiFreeMemoryTop)

	if size/uefi.PageSize != pages || top < h.EfiFreeMemoryBottom ||
		top-h.EfiFreeMemoryBottom < size+MemoryAllocationSize || size+MemoryAllocationSize < size {
		l.Log.Info("AllocatePages failed",
			"pages", pages,
			"available", uefi.SizeToPages(h.Free()))
		return 0, uefi.ErrOutOfResources
	}

	addr = top - size
	h.EfiFreeMemoryTop = addr

	if err = l.SetHandoff(h); err != nil {
		return
	}

	_, err = l.Add(&Allocation{
		Base:       addr,
		Length:     size,
		MemoryType: t,
	})

	return
}

// AllocatePool allocates size bytes from the bottom of the free region,
// wrapped in a memory pool HOB. The returned address points to the
// allocation, past the record header.
//
// Pool allocations are meant to be small, requests which cannot be described
// by a 16-bit HOB length must use AllocatePages instead.
func (l *List) AllocatePool(size int) (addr uint64, err error) {
	if size < 0 || (HeaderSize+size+7)&^7 > MaxLength {
		l.Log.Info("AllocatePool request too large, use AllocatePages", "size", size)
		return 0, uefi.ErrOutOfResources
	}

	if addr, err = l.CreateHob(MemoryPool, HeaderSize+size); err != nil {
		return
	}

	return addr + HeaderSize, nil
}

// Bytes returns the serialized HOB chain, from the PHIT record through the
// end-of-list marker.
func (l *List) Bytes() ([]byte, error) {
	h, err := l.Handoff()

	if err != nil {
		return nil, err
	}

	return l.space.Read(l.phit, int(h.EfiEndOfHobList+HeaderSize-l.phit))
}
