// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"fmt"
)

// PageSize represents the EFI page size in bytes
const PageSize = 4096 // 4 KiB

// EFI_ALLOCATE_TYPE
const (
	AllocateAnyPages = iota
	AllocateMaxAddress
	AllocateAddress
	MaxAllocateType
)

// MemoryType represents an EFI_MEMORY_TYPE.
type MemoryType uint32

// EFI_MEMORY_TYPE
const (
	EfiReservedMemoryType MemoryType = iota
	EfiLoaderCode
	EfiLoaderData
	EfiBootServicesCode
	EfiBootServicesData
	EfiRuntimeServicesCode
	EfiRuntimeServicesData
	EfiConventionalMemory
	EfiUnusableMemory
	EfiACPIReclaimMemory
	EfiACPIMemoryNVS
	EfiMemoryMappedIO
	EfiMemoryMappedIOPortSpace
	EfiPalCode
	EfiPersistentMemory
	EfiUnacceptedMemoryType
	EfiMaxMemoryType
)

var memoryTypeName = []string{
	"Reserved",
	"LoaderCode",
	"LoaderData",
	"BootServicesCode",
	"BootServicesData",
	"RuntimeServicesCode",
	"RuntimeServicesData",
	"Conventional",
	"Unusable",
	"ACPIReclaim",
	"ACPIMemoryNVS",
	"MemoryMappedIO",
	"MemoryMappedIOPortSpace",
	"PalCode",
	"Persistent",
	"Unaccepted",
}

// String returns the memory type name.
func (t MemoryType) String() string {
	if int(t) < len(memoryTypeName) {
		return memoryTypeName[t]
	}

	return fmt.Sprintf("MemoryType(%#x)", uint32(t))
}

// Allocatable reports whether pages of this type can be requested from an
// allocator.
func (t MemoryType) Allocatable() bool {
	return t < EfiMaxMemoryType && t != EfiConventionalMemory && t != EfiPersistentMemory && t != EfiUnacceptedMemoryType
}

// SizeToPages returns the number of pages needed to hold size bytes.
func SizeToPages(size uint64) uint64 {
	return (size + PageSize - 1) / PageSize
}

// PagesToSize returns the size in bytes of n pages.
func PagesToSize(n uint64) uint64 {
	return n * PageSize
}

// AlignDown rounds addr down to a page boundary.
func AlignDown(addr uint64) uint64 {
	return addr &^ (PageSize - 1)
}

// AlignUp rounds addr up to a page boundary.
func AlignUp(addr uint64) uint64 {
	return (addr + PageSize - 1) &^ (PageSize - 1)
}
