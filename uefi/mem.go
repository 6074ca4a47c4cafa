// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"encoding/binary"
	"fmt"

	"github.com/u-root/u-root/pkg/boot/bzimage"
)

// Advanced Configuration and Power Interface Specification (ACPI)
// Version 6.0 - Table 15-312 Address Range Types12
const AddressRangePersistentMemory = 7

// EFI_MEMORY_DESCRIPTOR_VERSION
const DescriptorVersion = 1

// EFI memory attributes
const (
	EFI_MEMORY_UC      = 0x0000000000000001
	EFI_MEMORY_WC      = 0x0000000000000002
	EFI_MEMORY_WT      = 0x0000000000000004
	EFI_MEMORY_WB      = 0x0000000000000008
	EFI_MEMORY_XP      = 0x0000000000004000
	EFI_MEMORY_RUNTIME = 0x8000000000000000
)

// MemoryDescriptor represents an EFI Memory Descriptor
type MemoryDescriptor struct {
	Type          uint32
	_             uint32
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

// DescriptorSize is the natural size of a MemoryDescriptor, memory maps may
// use a larger stride.
var DescriptorSize = binary.Size(MemoryDescriptor{})

// PhysicalEnd returns the descriptor physical end address.
func (d *MemoryDescriptor) PhysicalEnd() uint64 {
	return d.PhysicalStart + d.NumberOfPages*PageSize
}

// Size returns the descriptor size.
func (d *MemoryDescriptor) Size() int {
	return int(d.NumberOfPages * PageSize)
}

// Runtime reports whether the descriptor carries the EFI_MEMORY_RUNTIME
// attribute.
func (d *MemoryDescriptor) Runtime() bool {
	return d.Attribute&EFI_MEMORY_RUNTIME == EFI_MEMORY_RUNTIME
}

// Contains reports whether the physical address falls within the
// descriptor.
func (d *MemoryDescriptor) Contains(addr uint64) bool {
	return addr >= d.PhysicalStart && addr < d.PhysicalEnd()
}

// E820 converts an EFI Memory Map entry to an x86 E820 one suitable for use
// after exiting EFI Boot Services.
func (d *MemoryDescriptor) E820() (bzimage.E820Entry, error) {
	e := bzimage.E820Entry{
		Addr: d.PhysicalStart,
		Size: d.NumberOfPages * PageSize,
	}

	// Unified Extensible Firmware Interface (UEFI) Specification
	// Version 2.10 - Table 7.10: Memory Type Usage after ExitBootServices()
	switch MemoryType(d.Type) {
	case EfiLoaderCode, EfiLoaderData, EfiBootServicesCode, EfiBootServicesData, EfiConventionalMemory:
		e.MemType = bzimage.RAM
	case EfiPersistentMemory:
		e.MemType = AddressRangePersistentMemory
	case EfiACPIReclaimMemory:
		e.MemType = bzimage.ACPI
	case EfiACPIMemoryNVS:
		e.MemType = bzimage.NVS
	default:
		e.MemType = bzimage.Reserved
	}

	return e, nil
}

// MemoryMap represents an EFI Memory Map
type MemoryMap struct {
	Descriptors       []*MemoryDescriptor
	DescriptorSize    uint64
	DescriptorVersion uint32
}

// Bytes returns the memory map serialized with the map descriptor stride.
func (m *MemoryMap) Bytes() (buf []byte, err error) {
	stride := int(m.DescriptorSize)

	if stride < DescriptorSize {
		return nil, fmt.Errorf("descriptor size %d below %d", stride, DescriptorSize)
	}

	buf = make([]byte, stride*len(m.Descriptors))

	for i, d := range m.Descriptors {
		var b []byte

		if b, err = marshalBinary(d); err != nil {
			return
		}

		copy(buf[i*stride:], b)
	}

	return
}

// ParseMemoryMap decodes a memory map of mapSize bytes, indexing descriptors
// by the argument stride.
func ParseMemoryMap(buf []byte, mapSize uint64, stride uint64, version uint32) (m *MemoryMap, err error) {
	if stride < uint64(DescriptorSize) || mapSize > uint64(len(buf)) {
		return nil, ErrInvalidParameter
	}

	m = &MemoryMap{
		DescriptorSize:    stride,
		DescriptorVersion: version,
	}

	for off := uint64(0); off+stride <= mapSize; off += stride {
		d := &MemoryDescriptor{}

		if err = unmarshalBinary(buf[off:off+stride], d); err != nil {
			return nil, err
		}

		m.Descriptors = append(m.Descriptors, d)
	}

	return
}

// E820 converts the whole memory map into E820 entries.
func (m *MemoryMap) E820() (entries []bzimage.E820Entry, err error) {
	for _, d := range m.Descriptors {
		var e bzimage.E820Entry

		if e, err = d.E820(); err != nil {
			return
		}

		entries = append(entries, e)
	}

	return
}
