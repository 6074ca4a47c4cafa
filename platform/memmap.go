// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package platform

import (
	"sort"

	"github.com/usbarmory/go-pei/hob"
	"github.com/usbarmory/go-pei/uefi"
)

type span struct {
	base   uint64
	length uint64
	t      uefi.MemoryType
}

// allocations returns the permanent memory allocations recorded in the HOB
// list, the in use HOB list area included.
func allocations(l *hob.List) (spans []span, err error) {
	h, err := l.Handoff()

	if err != nil {
		return
	}

	spans = append(spans, span{h.EfiMemoryBottom, h.EfiFreeMemoryBottom - h.EfiMemoryBottom, uefi.EfiBootServicesData})

	err = l.Walk(func(r *hob.Record) bool {
		if r.Type != hob.MemoryAllocation && r.Type != hob.Stack {
			return true
		}

		p, err := r.Payload()

		if err != nil {
			return true
		}

		var a *hob.Allocation

		switch v := p.(type) {
		case *hob.Allocation:
			a = v
		case *hob.StackAllocation:
			a = &v.Allocation
		}

		spans = append(spans, span{a.Base, a.Length, a.MemoryType})

		return true
	})

	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].base < spans[j].base
	})

	return
}

func memoryDescriptor(s span, attr uint64) *uefi.MemoryDescriptor {
	return &uefi.MemoryDescriptor{
		Type:          uint32(s.t),
		PhysicalStart: s.base,
		VirtualStart:  s.base,
		NumberOfPages: uefi.SizeToPages(s.length),
		Attribute:     attr,
	}
}

// fill describes the range [base, end) with the argument allocations,
// unallocated pages are reported as conventional memory.
func fill(base uint64, end uint64, spans []span, attr uint64) (d []*uefi.MemoryDescriptor) {
	cursor := base

	for _, s := range spans {
		start := s.base &^ (uefi.PageSize - 1)
		stop := s.base + s.length

		if stop <= cursor || start >= end {
			continue
		}

		if start < cursor {
			start = cursor
		}

		if stop > end {
			stop = end
		}

		if start > cursor {
			d = append(d, memoryDescriptor(span{cursor, start - cursor, uefi.EfiConventionalMemory}, attr))
		}

		s.base = start
		s.length = stop - start
		d = append(d, memoryDescriptor(s, attr))

		cursor = start + uefi.SizeToPages(s.length)*uefi.PageSize
	}

	if cursor < end {
		d = append(d, memoryDescriptor(span{cursor, end - cursor, uefi.EfiConventionalMemory}, attr))
	}

	return
}

// MemoryMap returns the board memory map as seen at the DXE IPL hand-off.
func (b *Board) MemoryMap() (m *uefi.MemoryMap, err error) {
	b.Lock()
	defer b.Unlock()

	return b.memoryMap()
}

func (b *Board) memoryMap() (m *uefi.MemoryMap, err error) {
	if b.HobList == nil {
		return nil, ErrNotBooted
	}

	spans, err := allocations(b.HobList)

	if err != nil {
		return
	}

	stride := uint64(b.Config.DescriptorSize)

	if stride == 0 {
		stride = uint64(uefi.DescriptorSize)
	}

	m = &uefi.MemoryMap{
		DescriptorSize:    stride,
		DescriptorVersion: uefi.DescriptorVersion,
	}

	dram := b.Config.Dram
	rt := b.Config.Runtime
	flash := b.Config.Flash
	rtAttr := uint64(uefi.EFI_MEMORY_WB | uefi.EFI_MEMORY_RUNTIME)

	regions := [][]*uefi.MemoryDescriptor{
		fill(uint64(dram.Base), dram.End(), spans, uefi.EFI_MEMORY_WB),
		{
			memoryDescriptor(span{uint64(rt.Base), runtimeDriverOffset, uefi.EfiRuntimeServicesData}, rtAttr),
			memoryDescriptor(span{uint64(rt.Base) + runtimeDriverOffset, runtimeCodeEnd - runtimeDriverOffset, uefi.EfiRuntimeServicesCode}, rtAttr),
			memoryDescriptor(span{uint64(rt.Base) + runtimeCodeEnd, uint64(rt.Size) - runtimeCodeEnd, uefi.EfiRuntimeServicesData}, rtAttr),
		},
		{
			memoryDescriptor(span{uint64(flash.Base), uint64(flash.Size), uefi.EfiMemoryMappedIO}, uefi.EFI_MEMORY_UC),
		},
	}

	for _, d := range regions {
		m.Descriptors = append(m.Descriptors, d...)
	}

	sort.SliceStable(m.Descriptors, func(i, j int) bool {
		return m.Descriptors[i].PhysicalStart < m.Descriptors[j].PhysicalStart
	})

	return
}

// virtualAddressMap returns the memory map with runtime descriptors mapped
// at the configured virtual base.
func (b *Board) virtualAddressMap() (m *uefi.MemoryMap, err error) {
	if m, err = b.memoryMap(); err != nil {
		return
	}

	for _, d := range m.Descriptors {
		if d.Runtime() {
			d.VirtualStart = uint64(b.Config.VirtualBase) + d.PhysicalStart - uint64(b.Config.Runtime.Base)
		}
	}

	return
}
