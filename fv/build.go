// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package fv

import (
	"bytes"
	"fmt"

	"github.com/u-root/uio/uio"

	"github.com/usbarmory/go-pei/uefi"
)

const maxSize = 0xffffff

// FileSpec describes a file to be placed in a built volume.
type FileSpec struct {
	Name       uefi.GUID
	Type       FileType
	Attributes uint8

	// Sections holds encoded sections, see NewSection
	Sections [][]byte
}

func size24(l *uio.Lexer, n int) {
	l.Write8(uint8(n))
	l.Write8(uint8(n >> 8))
	l.Write8(uint8(n >> 16))
}

// NewSection encodes a leaf section.
func NewSection(t SectionType, data []byte) []byte {
	l := uio.NewLittleEndianBuffer(nil)

	size24(l, SectionHeaderSize+len(data))
	l.Write8(uint8(t))
	l.WriteBytes(data)

	return l.Data()
}

// NewGuidSection encodes a GUID defined section, data is the section stream
// as processed by the extractor for the definition GUID.
func NewGuidSection(guid uefi.GUID, attributes uint16, data []byte) []byte {
	l := uio.NewLittleEndianBuffer(nil)

	size24(l, GuidSectionSize+len(data))
	l.Write8(uint8(SectionGuidDefined))
	l.WriteBytes(guid[:])
	l.Write16(GuidSectionSize)
	l.Write16(attributes)
	l.WriteBytes(data)

	return l.Data()
}

// SectionStream concatenates encoded sections with their alignment.
func SectionStream(sections ...[]byte) []byte {
	l := uio.NewLittleEndianBuffer(nil)

	for _, s := range sections {
		l.Align(4)
		l.WriteBytes(s)
	}

	return l.Data()
}

// NewAprioriFile returns the apriori file listing the argument modules.
func NewAprioriFile(names ...uefi.GUID) *FileSpec {
	var buf bytes.Buffer

	for _, n := range names {
		buf.Write(n[:])
	}

	return &FileSpec{
		Name:     PeiAprioriFileGuid,
		Type:     TypeFreeform,
		Sections: [][]byte{NewSection(SectionRaw, buf.Bytes())},
	}
}

func (f *FileSpec) encode(erased byte) ([]byte, error) {
	data := SectionStream(f.Sections...)
	size := FileHeaderSize + len(data)

	if size > maxSize {
		return nil, fmt.Errorf("file %s too large (%d bytes)", f.Name, size)
	}

	hdr := &FileHeader{
		Name:         f.Name,
		FileChecksum: FileChecksum,
		Type:         f.Type,
		Attributes:   f.Attributes &^ AttribChecksum,
		Size:         uint32(size),
	}

	buf := uio.ToLittleEndian(hdr)
	hdr.HeaderChecksum = -(checksum8(buf[:17]) + checksum8(buf[18:23]))

	hdr.State = StateHeaderConstruction | StateHeaderValid | StateDataValid

	if erased != 0 {
		hdr.State = ^hdr.State
	}

	return append(uio.ToLittleEndian(hdr), data...), nil
}

// Build returns a firmware volume image of the argument length holding the
// argument files, in order.
func Build(length int, erasePolarity bool, files ...*FileSpec) (buf []byte, err error) {
	var erased byte
	var attr uint32 = AttribAlignment8

	if erasePolarity {
		erased = 0xff
		attr |= AttribErasePolarity
	}

	hdr := &VolumeHeader{
		FileSystemGuid: FileSystem2Guid,
		FvLength:       uint64(length),
		Signature:      Signature,
		Attributes:     attr,
		HeaderLength:   VolumeHeaderSize + 2*blockMapEntrySize,
		Revision:       2,
		BlockMap:       []BlockMapEntry{{NumBlocks: 1, Length: uint32(length)}},
	}

	h := uio.ToLittleEndian(hdr)
	hdr.Checksum = -checksum16(h)

	l := uio.NewLittleEndianBuffer(nil)
	l.WriteBytes(uio.ToLittleEndian(hdr))

	for _, f := range files {
		var b []byte

		if b, err = f.encode(erased); err != nil {
			return
		}

		for l.Len()%8 != 0 {
			l.Write8(erased)
		}

		l.WriteBytes(b)
	}

	if l.Len() > length {
		return nil, fmt.Errorf("files exceed volume length (%d > %d)", l.Len(), length)
	}

	for l.Len() < length {
		l.Write8(erased)
	}

	return l.Data(), l.Error()
}
