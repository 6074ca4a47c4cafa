// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hob

import (
	"github.com/usbarmory/go-pei/uefi"
)

// BuildResourceDescriptor appends a resource descriptor HOB.
func (l *List) BuildResourceDescriptor(resourceType uint32, attribute uint32, start uint64, length uint64) error {
	_, err := l.Add(&Resource{
		ResourceType:      resourceType,
		ResourceAttribute: attribute,
		PhysicalStart:     start,
		ResourceLength:    length,
	})

	return err
}

// BuildGuidHob appends a GUID extension HOB with size bytes of zeroed data
// and returns the data address.
func (l *List) BuildGuidHob(name uefi.GUID, size int) (addr uint64, err error) {
	if addr, err = l.Add(&Guid{Name: name, Data: make([]byte, size)}); err != nil {
		return
	}

	return addr + GuidExtensionSize, nil
}

// BuildGuidDataHob appends a GUID extension HOB holding a copy of data.
func (l *List) BuildGuidDataHob(name uefi.GUID, data []byte) (addr uint64, err error) {
	if addr, err = l.Add(&Guid{Name: name, Data: data}); err != nil {
		return
	}

	return addr + GuidExtensionSize, nil
}

// BuildCpuHob appends a CPU HOB.
func (l *List) BuildCpuHob(memorySpaceBits uint8, ioSpaceBits uint8) error {
	_, err := l.Add(&Processor{
		SizeOfMemorySpace: memorySpaceBits,
		SizeOfIoSpace:     ioSpaceBits,
	})

	return err
}

// BuildStackHob appends a Stack HOB describing the boot phase stack.
func (l *List) BuildStackHob(base uint64, length uint64) error {
	_, err := l.Add(&StackAllocation{
		Allocation{
			Name:       HobMemoryAllocStackGuid,
			Base:       base,
			Length:     length,
			MemoryType: uefi.EfiBootServicesData,
		},
	})

	return err
}

// BuildFvHob appends a firmware volume HOB.
func (l *List) BuildFvHob(base uint64, length uint64, fvName uefi.GUID, fileName uefi.GUID) error {
	_, err := l.Add(&Volume{
		Base:     base,
		Length:   length,
		FvName:   fvName,
		FileName: fileName,
	})

	return err
}

// BuildMemoryAllocationHob appends a memory allocation HOB for memory
// allocated by other means than AllocatePages.
func (l *List) BuildMemoryAllocationHob(base uint64, length uint64, t uefi.MemoryType) error {
	_, err := l.Add(&Allocation{
		Base:       base,
		Length:     length,
		MemoryType: t,
	})

	return err
}
