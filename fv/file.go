// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package fv

import (
	"fmt"

	"github.com/u-root/uio/uio"

	"github.com/usbarmory/go-pei/uefi"
)

// FileType represents an EFI_FV_FILETYPE.
type FileType uint8

// EFI_FV_FILETYPE
const (
	TypeAll                 FileType = 0x00
	TypeRaw                 FileType = 0x01
	TypeFreeform            FileType = 0x02
	TypeSecurityCore        FileType = 0x03
	TypePeiCore             FileType = 0x04
	TypeDxeCore             FileType = 0x05
	TypePeim                FileType = 0x06
	TypeDriver              FileType = 0x07
	TypeCombinedPeimDriver  FileType = 0x08
	TypeApplication         FileType = 0x09
	TypeFirmwareVolumeImage FileType = 0x0b
	TypePad                 FileType = 0xf0
)

var fileTypeName = map[FileType]string{
	TypeRaw:                 "RAW",
	TypeFreeform:            "FREEFORM",
	TypeSecurityCore:        "SECURITY_CORE",
	TypePeiCore:             "PEI_CORE",
	TypeDxeCore:             "DXE_CORE",
	TypePeim:                "PEIM",
	TypeDriver:              "DRIVER",
	TypeCombinedPeimDriver:  "COMBINED_PEIM_DRIVER",
	TypeApplication:         "APPLICATION",
	TypeFirmwareVolumeImage: "FIRMWARE_VOLUME_IMAGE",
	TypePad:                 "FFS_PAD",
}

func (t FileType) String() string {
	if s, ok := fileTypeName[t]; ok {
		return s
	}

	return fmt.Sprintf("FileType(%#x)", uint8(t))
}

// File attributes
const (
	AttribChecksum = 0x40
)

// EFI_FFS_FILE_STATE
const (
	StateHeaderConstruction = 0x01
	StateHeaderValid        = 0x02
	StateDataValid          = 0x04
	StateMarkedForUpdate    = 0x08
	StateDeleted            = 0x10
	StateHeaderInvalid      = 0x20
)

// FileChecksum is the data checksum of files without AttribChecksum.
const FileChecksum = 0xaa

// PeiAprioriFileGuid names the file listing modules to be dispatched before
// any other, in listed order.
var PeiAprioriFileGuid = uefi.MustParseGUID("1b45cc0a-156a-428a-af62-49864da0e6e6")

// FileHeader represents an FFS file header (EFI_FFS_FILE_HEADER).
type FileHeader struct {
	Name           uefi.GUID
	HeaderChecksum uint8
	FileChecksum   uint8
	Type           FileType
	Attributes     uint8
	Size           uint32
	State          uint8
}

// Marshal implements uio.Marshaler.
func (h *FileHeader) Marshal(l *uio.Lexer) {
	l.WriteBytes(h.Name[:])
	l.Write8(h.HeaderChecksum)
	l.Write8(h.FileChecksum)
	l.Write8(uint8(h.Type))
	l.Write8(h.Attributes)
	l.Write8(uint8(h.Size))
	l.Write8(uint8(h.Size >> 8))
	l.Write8(uint8(h.Size >> 16))
	l.Write8(h.State)
}

// Unmarshal implements uio.Unmarshaler.
func (h *FileHeader) Unmarshal(l *uio.Lexer) error {
	l.ReadBytes(h.Name[:])
	h.HeaderChecksum = l.Read8()
	h.FileChecksum = l.Read8()
	h.Type = FileType(l.Read8())
	h.Attributes = l.Read8()
	h.Size = uint32(l.Read8()) | uint32(l.Read8())<<8 | uint32(l.Read8())<<16
	h.State = l.Read8()

	return l.Error()
}

// File represents an FFS file.
type File struct {
	FileHeader

	// Handle is the physical address of the file header
	Handle uint64

	// Data holds the file contents following the header
	Data []byte
}

// state returns the most significant state bit, following the volume erase
// polarity.
func state(raw uint8, erased byte) uint8 {
	if erased != 0 {
		raw = ^raw
	}

	for bit := uint8(0x80); bit != 0; bit >>= 1 {
		if raw&bit != 0 {
			return bit
		}
	}

	return 0
}

func (v *Volume) readFile(off uint64, hdr []byte, end uint64) (f *File, err error) {
	f = &File{Handle: off}

	if err = f.FileHeader.Unmarshal(uio.NewLittleEndianBuffer(hdr)); err != nil {
		return
	}

	f.State = state(f.State, v.ErasePolarity())

	if f.Size < FileHeaderSize || off+uint64(f.Size) > end {
		return nil, fmt.Errorf("%w: file %s size %d", ErrCorrupted, f.Name, f.Size)
	}

	if f.State != StateDataValid {
		return
	}

	// the header checksum excludes the state and file checksum bytes
	sum := checksum8(hdr[:17]) + checksum8(hdr[18:23])

	if sum != 0 {
		return nil, fmt.Errorf("%w: file %s header checksum", ErrCorrupted, f.Name)
	}

	f.Data = make([]byte, f.Size-FileHeaderSize)

	if _, err = v.r.ReadAt(f.Data, int64(off+FileHeaderSize)); err != nil {
		return
	}

	switch {
	case f.Attributes&AttribChecksum != 0:
		if checksum8(f.Data)+f.FileChecksum != 0 {
			return nil, fmt.Errorf("%w: file %s data checksum", ErrCorrupted, f.Name)
		}
	case f.FileChecksum != FileChecksum:
		return nil, fmt.Errorf("%w: file %s checksum %#x", ErrCorrupted, f.Name, f.FileChecksum)
	}

	return
}

// Sections returns the file sections.
func (f *File) Sections() ([]*Section, error) {
	return ParseSections(f.Data)
}

// Apriori returns the file names listed in an apriori file.
func (f *File) Apriori() (names []uefi.GUID, err error) {
	var s *Section

	if f.Name != PeiAprioriFileGuid {
		return nil, fmt.Errorf("%s is not an apriori file", f.Name)
	}

	if s, err = FindSection(f.Data, SectionRaw, 0, nil); err != nil {
		return
	}

	if len(s.Data)%uefi.GUIDSize != 0 {
		return nil, fmt.Errorf("%w: apriori file size %d", ErrCorrupted, len(s.Data))
	}

	for i := 0; i < len(s.Data); i += uefi.GUIDSize {
		g, _ := uefi.GUIDFromBytes(s.Data[i:])
		names = append(names, g)
	}

	return
}
