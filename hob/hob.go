// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hob implements the Hand-Off Block (HOB) list, the append-only
// chain of typed records which is the only allocation mechanism available
// before permanent memory is installed.
//
// HOB payloads only carry integers, enumerated tags, GUIDs and raw bytes,
// addresses stored in HOBs never reference other HOBs, so that a HOB list
// can be relocated with a flat byte copy.
package hob

import (
	"fmt"

	"github.com/u-root/uio/uio"

	"github.com/usbarmory/go-pei/uefi"
)

// Type represents a HOB type.
type Type uint16

// HOB types
const (
	HandoffInfo        Type = 0x0001
	MemoryAllocation   Type = 0x0002
	ResourceDescriptor Type = 0x0003
	GuidExtension      Type = 0x0004
	Cpu                Type = 0x0005
	MemoryPool         Type = 0x0007
	FirmwareVolume     Type = 0x0009
	Stack              Type = 0x000f
	Unused             Type = 0xfffe
	EndOfHobList       Type = 0xffff
)

var typeName = map[Type]string{
	HandoffInfo:        "HandoffInfo",
	MemoryAllocation:   "MemoryAllocation",
	ResourceDescriptor: "ResourceDescriptor",
	GuidExtension:      "GuidExtension",
	Cpu:                "Cpu",
	MemoryPool:         "MemoryPool",
	FirmwareVolume:     "FirmwareVolume",
	Stack:              "Stack",
	Unused:             "Unused",
	EndOfHobList:       "EndOfHobList",
}

func (t Type) String() string {
	if s, ok := typeName[t]; ok {
		return s
	}

	return fmt.Sprintf("Type(%#x)", uint16(t))
}

// Record sizes
const (
	HeaderSize             = 8
	HandoffSize            = HeaderSize + 48
	MemoryAllocationSize   = HeaderSize + 40
	ResourceDescriptorSize = HeaderSize + 40
	CpuSize                = HeaderSize + 8
	FirmwareVolumeSize     = HeaderSize + 48
	GuidExtensionSize      = HeaderSize + uefi.GUIDSize

	// MaxLength is the largest record a 16-bit HOB length can describe.
	MaxLength = 0xffff
)

// HandoffVersion is the EFI_HOB_HANDOFF_TABLE_VERSION.
const HandoffVersion = 0x0009

// HobMemoryAllocStackGuid names the Stack HOB memory allocation.
var HobMemoryAllocStackGuid = uefi.MustParseGUID("4ed4bf27-4092-42e9-807d-527b1d00c9bd")

// Header represents the generic HOB header (EFI_HOB_GENERIC_HEADER).
type Header struct {
	Type   Type
	Length uint16
}

// Marshal implements uio.Marshaler.
func (h *Header) Marshal(l *uio.Lexer) {
	l.Write16(uint16(h.Type))
	l.Write16(h.Length)
	l.Write32(0)
}

// Unmarshal implements uio.Unmarshaler.
func (h *Header) Unmarshal(l *uio.Lexer) error {
	h.Type = Type(l.Read16())
	h.Length = l.Read16()
	l.Read32()

	return l.Error()
}

// Payload represents the body of a HOB following its generic header.
type Payload interface {
	uio.Marshaler
	uio.Unmarshaler

	Type() Type
}

// Handoff represents the Phase Handoff Information Table (PHIT) HOB, the
// first record of every HOB list.
type Handoff struct {
	Version             uint32
	BootMode            uint32
	EfiMemoryTop        uint64
	EfiMemoryBottom     uint64
	EfiFreeMemoryTop    uint64
	EfiFreeMemoryBottom uint64
	EfiEndOfHobList     uint64
}

// Type implements Payload.
func (h *Handoff) Type() Type { return HandoffInfo }

// Marshal implements uio.Marshaler.
func (h *Handoff) Marshal(l *uio.Lexer) {
	l.Write32(h.Version)
	l.Write32(h.BootMode)
	l.Write64(h.EfiMemoryTop)
	l.Write64(h.EfiMemoryBottom)
	l.Write64(h.EfiFreeMemoryTop)
	l.Write64(h.EfiFreeMemoryBottom)
	l.Write64(h.EfiEndOfHobList)
}

// Unmarshal implements uio.Unmarshaler.
func (h *Handoff) Unmarshal(l *uio.Lexer) error {
	h.Version = l.Read32()
	h.BootMode = l.Read32()
	h.EfiMemoryTop = l.Read64()
	h.EfiMemoryBottom = l.Read64()
	h.EfiFreeMemoryTop = l.Read64()
	h.EfiFreeMemoryBottom = l.Read64()
	h.EfiEndOfHobList = l.Read64()

	return l.Error()
}

// Free returns the bytes available between the free memory boundaries.
func (h *Handoff) Free() uint64 {
	if h.EfiFreeMemoryTop < h.EfiFreeMemoryBottom {
		return 0
	}

	return h.EfiFreeMemoryTop - h.EfiFreeMemoryBottom
}

// Allocation represents a memory allocation descriptor
// (EFI_HOB_MEMORY_ALLOCATION_HEADER).
type Allocation struct {
	Name       uefi.GUID
	Base       uint64
	Length     uint64
	MemoryType uefi.MemoryType
}

// Type implements Payload.
func (a *Allocation) Type() Type { return MemoryAllocation }

// Marshal implements uio.Marshaler.
func (a *Allocation) Marshal(l *uio.Lexer) {
	l.WriteBytes(a.Name[:])
	l.Write64(a.Base)
	l.Write64(a.Length)
	l.Write32(uint32(a.MemoryType))
	l.Write32(0)
}

// Unmarshal implements uio.Unmarshaler.
func (a *Allocation) Unmarshal(l *uio.Lexer) error {
	l.ReadBytes(a.Name[:])
	a.Base = l.Read64()
	a.Length = l.Read64()
	a.MemoryType = uefi.MemoryType(l.Read32())
	l.Read32()

	return l.Error()
}

// StackAllocation represents the Stack HOB, a memory allocation describing
// the boot phase stack.
type StackAllocation struct {
	Allocation
}

// Type implements Payload.
func (s *StackAllocation) Type() Type { return Stack }

// Resource types
const (
	ResourceSystemMemory       = 0x00
	ResourceMemoryMappedIO     = 0x01
	ResourceIO                 = 0x02
	ResourceFirmwareDevice     = 0x03
	ResourceMemoryMappedIOPort = 0x04
	ResourceMemoryReserved     = 0x05
	ResourceIOReserved         = 0x06
)

// Resource attributes
const (
	ResourceAttributePresent     = 0x00000001
	ResourceAttributeInitialized = 0x00000002
	ResourceAttributeTested      = 0x00000004
)

// Resource represents a resource descriptor HOB
// (EFI_HOB_RESOURCE_DESCRIPTOR).
type Resource struct {
	Owner             uefi.GUID
	ResourceType      uint32
	ResourceAttribute uint32
	PhysicalStart     uint64
	ResourceLength    uint64
}

// Type implements Payload.
func (r *Resource) Type() Type { return ResourceDescriptor }

// Marshal implements uio.Marshaler.
func (r *Resource) Marshal(l *uio.Lexer) {
	l.WriteBytes(r.Owner[:])
	l.Write32(r.ResourceType)
	l.Write32(r.ResourceAttribute)
	l.Write64(r.PhysicalStart)
	l.Write64(r.ResourceLength)
}

// Unmarshal implements uio.Unmarshaler.
func (r *Resource) Unmarshal(l *uio.Lexer) error {
	l.ReadBytes(r.Owner[:])
	r.ResourceType = l.Read32()
	r.ResourceAttribute = l.Read32()
	r.PhysicalStart = l.Read64()
	r.ResourceLength = l.Read64()

	return l.Error()
}

// Guid represents a GUID extension HOB, carrying opaque data owned by the
// module identified by Name.
type Guid struct {
	Name uefi.GUID
	Data []byte
}

// Type implements Payload.
func (g *Guid) Type() Type { return GuidExtension }

// Marshal implements uio.Marshaler.
func (g *Guid) Marshal(l *uio.Lexer) {
	l.WriteBytes(g.Name[:])
	l.WriteBytes(g.Data)
}

// Unmarshal implements uio.Unmarshaler.
func (g *Guid) Unmarshal(l *uio.Lexer) error {
	l.ReadBytes(g.Name[:])
	g.Data = l.ReadAll()

	return l.Error()
}

// Processor represents the CPU HOB.
type Processor struct {
	SizeOfMemorySpace uint8
	SizeOfIoSpace     uint8
}

// Type implements Payload.
func (c *Processor) Type() Type { return Cpu }

// Marshal implements uio.Marshaler.
func (c *Processor) Marshal(l *uio.Lexer) {
	l.Write8(c.SizeOfMemorySpace)
	l.Write8(c.SizeOfIoSpace)
	l.Append(6)
}

// Unmarshal implements uio.Unmarshaler.
func (c *Processor) Unmarshal(l *uio.Lexer) error {
	c.SizeOfMemorySpace = l.Read8()
	c.SizeOfIoSpace = l.Read8()
	l.Consume(6)

	return l.Error()
}

// Volume represents a firmware volume HOB (EFI_HOB_FIRMWARE_VOLUME2).
type Volume struct {
	Base     uint64
	Length   uint64
	FvName   uefi.GUID
	FileName uefi.GUID
}

// Type implements Payload.
func (v *Volume) Type() Type { return FirmwareVolume }

// Marshal implements uio.Marshaler.
func (v *Volume) Marshal(l *uio.Lexer) {
	l.Write64(v.Base)
	l.Write64(v.Length)
	l.WriteBytes(v.FvName[:])
	l.WriteBytes(v.FileName[:])
}

// Unmarshal implements uio.Unmarshaler.
func (v *Volume) Unmarshal(l *uio.Lexer) error {
	v.Base = l.Read64()
	v.Length = l.Read64()
	l.ReadBytes(v.FvName[:])
	l.ReadBytes(v.FileName[:])

	return l.Error()
}

// Pool represents a memory pool HOB, its payload is the pool allocation.
type Pool struct {
	Data []byte
}

// Type implements Payload.
func (p *Pool) Type() Type { return MemoryPool }

// Marshal implements uio.Marshaler.
func (p *Pool) Marshal(l *uio.Lexer) {
	l.WriteBytes(p.Data)
}

// Unmarshal implements uio.Unmarshaler.
func (p *Pool) Unmarshal(l *uio.Lexer) error {
	p.Data = l.ReadAll()
	return l.Error()
}

func newPayload(t Type) (p Payload, err error) {
	switch t {
	case HandoffInfo:
		p = &Handoff{}
	case MemoryAllocation:
		p = &Allocation{}
	case Stack:
		p = &StackAllocation{}
	case ResourceDescriptor:
		p = &Resource{}
	case GuidExtension:
		p = &Guid{}
	case Cpu:
		p = &Processor{}
	case FirmwareVolume:
		p = &Volume{}
	case MemoryPool:
		p = &Pool{}
	default:
		err = fmt.Errorf("unsupported HOB type %s", t)
	}

	return
}
