// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package fv implements parsing and building of Platform Initialization
// firmware volumes, made of Firmware File System (FFS) files and their
// sections.
//
// Firmware volumes are parsed in place from physical memory, file handles
// are the physical addresses of the file headers.
package fv

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/u-root/uio/uio"

	"github.com/usbarmory/go-pei/uefi"
)

// Signature is the firmware volume header signature (_FVH).
const Signature = 0x4856465f

// Firmware volume attributes
const (
	AttribErasePolarity = 0x00000800
	AttribAlignment8    = 0x00030000
)

// Header sizes
const (
	VolumeHeaderSize  = 56
	blockMapEntrySize = 8
	FileHeaderSize    = 24
	SectionHeaderSize = 4
	GuidSectionSize   = SectionHeaderSize + uefi.GUIDSize + 4
)

// FileSystem2Guid identifies the FFSv2 file system.
var FileSystem2Guid = uefi.MustParseGUID("8c8ce578-8a3d-4f1c-9935-896185c32dd3")

// ErrCorrupted is returned on malformed volumes, files or sections.
var ErrCorrupted = fmt.Errorf("firmware volume %w", uefi.ErrVolumeCorrupted)

// BlockMapEntry represents a firmware volume block map entry.
type BlockMapEntry struct {
	NumBlocks uint32
	Length    uint32
}

// VolumeHeader represents the firmware volume header
// (EFI_FIRMWARE_VOLUME_HEADER).
type VolumeHeader struct {
	FileSystemGuid  uefi.GUID
	FvLength        uint64
	Signature       uint32
	Attributes      uint32
	HeaderLength    uint16
	Checksum        uint16
	ExtHeaderOffset uint16
	Revision        uint8
	BlockMap        []BlockMapEntry
}

// Marshal implements uio.Marshaler.
func (h *VolumeHeader) Marshal(l *uio.Lexer) {
	l.Append(16)
	l.WriteBytes(h.FileSystemGuid[:])
	l.Write64(h.FvLength)
	l.Write32(h.Signature)
	l.Write32(h.Attributes)
	l.Write16(h.HeaderLength)
	l.Write16(h.Checksum)
	l.Write16(h.ExtHeaderOffset)
	l.Write8(0)
	l.Write8(h.Revision)

	for _, b := range h.BlockMap {
		l.Write32(b.NumBlocks)
		l.Write32(b.Length)
	}

	l.Write64(0)
}

// Unmarshal implements uio.Unmarshaler.
func (h *VolumeHeader) Unmarshal(l *uio.Lexer) error {
	l.Consume(16)
	l.ReadBytes(h.FileSystemGuid[:])
	h.FvLength = l.Read64()
	h.Signature = l.Read32()
	h.Attributes = l.Read32()
	h.HeaderLength = l.Read16()
	h.Checksum = l.Read16()
	h.ExtHeaderOffset = l.Read16()
	l.Read8()
	h.Revision = l.Read8()

	for l.Error() == nil {
		b := BlockMapEntry{
			NumBlocks: l.Read32(),
			Length:    l.Read32(),
		}

		if b.NumBlocks == 0 && b.Length == 0 {
			break
		}

		h.BlockMap = append(h.BlockMap, b)
	}

	return l.Error()
}

func checksum16(buf []byte) (sum uint16) {
	for i := 0; i+1 < len(buf); i += 2 {
		sum += binary.LittleEndian.Uint16(buf[i:])
	}

	return
}

func checksum8(buf []byte) (sum uint8) {
	for _, b := range buf {
		sum += b
	}

	return
}

// Volume represents a firmware volume mapped in physical memory.
type Volume struct {
	VolumeHeader

	// Base is the physical address of the volume header
	Base uint64

	r io.ReaderAt
}

// Open parses the firmware volume located at the argument physical address.
func Open(r io.ReaderAt, base uint64) (v *Volume, err error) {
	buf := make([]byte, VolumeHeaderSize)

	if _, err = r.ReadAt(buf, int64(base)); err != nil {
		return
	}

	v = &Volume{
		Base: base,
		r:    r,
	}

	hdrLen := binary.LittleEndian.Uint16(buf[48:])

	if hdrLen < VolumeHeaderSize+blockMapEntrySize || hdrLen%2 != 0 {
		return nil, fmt.Errorf("%w: invalid header length %d at %#x", ErrCorrupted, hdrLen, base)
	}

	buf = make([]byte, hdrLen)

	if _, err = r.ReadAt(buf, int64(base)); err != nil {
		return
	}

	if err = v.VolumeHeader.Unmarshal(uio.NewLittleEndianBuffer(buf)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	switch {
	case v.Signature != Signature:
		return nil, fmt.Errorf("%w: invalid signature at %#x", ErrCorrupted, base)
	case checksum16(buf) != 0:
		return nil, fmt.Errorf("%w: invalid header checksum at %#x", ErrCorrupted, base)
	case v.FileSystemGuid != FileSystem2Guid:
		return nil, fmt.Errorf("%w: unsupported file system %s", uefi.ErrUnsupported, v.FileSystemGuid)
	case v.FvLength < uint64(hdrLen):
		return nil, fmt.Errorf("%w: invalid volume length", ErrCorrupted)
	}

	return
}

// ErasePolarity returns the value of erased bytes.
func (v *Volume) ErasePolarity() byte {
	if v.Attributes&AttribErasePolarity != 0 {
		return 0xff
	}

	return 0
}

// Files returns the valid files of the volume in volume order, pad files are
// skipped.
func (v *Volume) Files() (files []*File, err error) {
	end := v.Base + v.FvLength
	off := v.Base + align(uint64(v.HeaderLength), 8)
	erased := v.ErasePolarity()

	for off+FileHeaderSize <= end {
		var f *File

		hdr := make([]byte, FileHeaderSize)

		if _, err = v.r.ReadAt(hdr, int64(off)); err != nil {
			return
		}

		if isErased(hdr, erased) {
			break
		}

		if f, err = v.readFile(off, hdr, end); err != nil {
			return
		}

		off = align(off+uint64(f.Size), 8)

		if f.State != StateDataValid || f.Type == TypePad {
			continue
		}

		files = append(files, f)
	}

	return
}

// File returns the file with the argument name.
func (v *Volume) File(name uefi.GUID) (*File, error) {
	files, err := v.Files()

	if err != nil {
		return nil, err
	}

	for _, f := range files {
		if f.Name == name {
			return f, nil
		}
	}

	return nil, uefi.ErrNotFound
}

func isErased(buf []byte, erased byte) bool {
	for _, b := range buf {
		if b != erased {
			return false
		}
	}

	return true
}

func align(v uint64, n uint64) uint64 {
	return (v + n - 1) &^ (n - 1)
}
