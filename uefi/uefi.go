// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package uefi implements the Unified Extensible Firmware Interface (UEFI)
// and Platform Initialization (PI) data types shared by the boot phases,
// following the specifications at:
//
//	https://uefi.org/specs/UEFI/2.10/
//	https://uefi.org/specs/PI/1.8/
//
// Tables are encoded in their native little-endian layout so that they can
// be placed in, and decoded from, physical memory.
package uefi

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// EFI Table Header Signatures
const (
	SystemTableSignature     = 0x5453595320494249 // TSYS IBI
	RuntimeServicesSignature = 0x56524553544e5552 // VRES TNUR
)

// Revision is the UEFI specification revision implemented by the tables.
const Revision = 2<<16 | 100

// TableHeader represents the data structure that precedes all of the standard
// EFI table types.
type TableHeader struct {
	Signature  uint64
	Revision   uint32
	HeaderSize uint32
	CRC32      uint32
	Reserved   uint32
}

// SystemTable represents the EFI System Table, containing pointers to the
// runtime and boot services tables.
type SystemTable struct {
	Header               TableHeader
	FirmwareVendor       uint64
	FirmwareRevision     uint32
	_                    uint32
	ConsoleInHandle      uint64
	ConIn                uint64
	ConsoleOutHandle     uint64
	ConOut               uint64
	StandardErrorHandle  uint64
	StdErr               uint64
	RuntimeServices      uint64
	BootServices         uint64
	NumberOfTableEntries uint64
	ConfigurationTable   uint64
}

// RuntimeServicesTable represents the EFI Runtime Services Table, each entry
// holds the address of a runtime service.
type RuntimeServicesTable struct {
	Header                    TableHeader
	GetTime                   uint64
	SetTime                   uint64
	GetWakeupTime             uint64
	SetWakeupTime             uint64
	SetVirtualAddressMap      uint64
	ConvertPointer            uint64
	GetVariable               uint64
	GetNextVariableName       uint64
	SetVariable               uint64
	GetNextHighMonotonicCount uint64
	ResetSystem               uint64
	UpdateCapsule             uint64
	QueryCapsuleCapabilities  uint64
	QueryVariableInfo         uint64
}

// Entries returns pointers to every service address of the table, in table
// order.
func (t *RuntimeServicesTable) Entries() []*uint64 {
	return []*uint64{
		&t.GetTime,
		&t.SetTime,
		&t.GetWakeupTime,
		&t.SetWakeupTime,
		&t.SetVirtualAddressMap,
		&t.ConvertPointer,
		&t.GetVariable,
		&t.GetNextVariableName,
		&t.SetVariable,
		&t.GetNextHighMonotonicCount,
		&t.ResetSystem,
		&t.UpdateCapsule,
		&t.QueryCapsuleCapabilities,
		&t.QueryVariableInfo,
	}
}

// NewTableHeader returns a table header for a table of the argument
// signature and in-memory representation.
func NewTableHeader(sig uint64, table any) TableHeader {
	return TableHeader{
		Signature:  sig,
		Revision:   Revision,
		HeaderSize: uint32(binary.Size(table)),
	}
}

// TableCRC32 computes the CRC32 of a table image, the header CRC32 field is
// treated as zero.
func TableCRC32(buf []byte) (uint32, error) {
	var h TableHeader

	if err := unmarshalBinary(buf, &h); err != nil {
		return 0, err
	}

	if int(h.HeaderSize) > len(buf) || int(h.HeaderSize) < binary.Size(h) {
		return 0, errors.New("invalid table header size")
	}

	b := make([]byte, h.HeaderSize)
	copy(b, buf)
	// CRC32 field offset within TableHeader
	binary.LittleEndian.PutUint32(b[16:], 0)

	return crc32.ChecksumIEEE(b), nil
}

// UpdateCRC32 recomputes the CRC32 of the table at the argument physical
// address.
func UpdateCRC32(rw ReadWriterAt, addr uint64) (err error) {
	var h TableHeader
	var sum uint32

	if err = Decode(rw, addr, &h); err != nil {
		return
	}

	buf := make([]byte, h.HeaderSize)

	if _, err = rw.ReadAt(buf, int64(addr)); err != nil {
		return
	}

	if sum, err = TableCRC32(buf); err != nil {
		return
	}

	h.CRC32 = sum

	return Encode(rw, addr, &h)
}

// VerifyCRC32 checks the CRC32 of the table at the argument physical
// address.
func VerifyCRC32(r io.ReaderAt, addr uint64) (ok bool, err error) {
	var h TableHeader
	var sum uint32

	if err = Decode(r, addr, &h); err != nil {
		return
	}

	buf := make([]byte, h.HeaderSize)

	if _, err = r.ReadAt(buf, int64(addr)); err != nil {
		return
	}

	if sum, err = TableCRC32(buf); err != nil {
		return
	}

	return sum == h.CRC32, nil
}

// ReadWriterAt is the physical memory access interface used to read and
// update tables in place.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}
