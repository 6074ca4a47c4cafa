// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package runtimedxe

import (
	"github.com/google/btree"

	"github.com/usbarmory/go-pei/uefi"
)

const btreeDegree = 8

func lessDescriptor(a, b *uefi.MemoryDescriptor) bool {
	return a.PhysicalStart < b.PhysicalStart
}

// stash indexes the runtime descriptors of the argument map, on duplicate
// physical start addresses the first descriptor wins.
func (r *Runtime) stash(m *uefi.MemoryMap) {
	index := btree.NewG(btreeDegree, lessDescriptor)

	for _, d := range m.Descriptors {
		if !d.Runtime() {
			continue
		}

		if _, ok := index.Get(d); ok {
			continue
		}

		index.ReplaceOrInsert(d)
	}

	r.virtualMap = index
}

func (r *Runtime) clear() {
	r.virtualMap = nil
	r.MemoryDescriptorSize = 0
	r.MemoryDescriptorVersion = 0
}

// ConvertPointer converts the physical address pointed by addr to its
// virtual address according to the map being applied, it is only
// available while SetVirtualAddressMap() is in progress.
func (r *Runtime) ConvertPointer(disposition uint64, addr *uint64) (err error) {
	if addr == nil {
		return uefi.ErrInvalidParameter
	}

	if *addr == 0 {
		if disposition&EFI_OPTIONAL_POINTER != 0 {
			return nil
		}

		return uefi.ErrInvalidParameter
	}

	if r.virtualMap == nil {
		return uefi.ErrNotFound
	}

	var found *uefi.MemoryDescriptor

	r.virtualMap.DescendLessOrEqual(&uefi.MemoryDescriptor{PhysicalStart: *addr}, func(d *uefi.MemoryDescriptor) bool {
		if d.Contains(*addr) {
			found = d
		}

		return false
	})

	if found == nil {
		return uefi.ErrNotFound
	}

	*addr = *addr - found.PhysicalStart + found.VirtualStart

	return nil
}
