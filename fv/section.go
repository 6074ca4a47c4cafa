// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package fv

import (
	"errors"
	"fmt"

	"github.com/u-root/uio/uio"

	"github.com/usbarmory/go-pei/uefi"
)

// SectionType represents an EFI_SECTION_TYPE.
type SectionType uint8

// EFI_SECTION_TYPE
const (
	SectionCompression     SectionType = 0x01
	SectionGuidDefined     SectionType = 0x02
	SectionPE32            SectionType = 0x10
	SectionPIC             SectionType = 0x11
	SectionTE              SectionType = 0x12
	SectionDxeDepex        SectionType = 0x13
	SectionVersion         SectionType = 0x14
	SectionUserInterface   SectionType = 0x15
	SectionFirmwareVolume  SectionType = 0x17
	SectionFreeformSubtype SectionType = 0x18
	SectionRaw             SectionType = 0x19
	SectionPeiDepex        SectionType = 0x1b
)

var sectionTypeName = map[SectionType]string{
	SectionCompression:     "COMPRESSION",
	SectionGuidDefined:     "GUID_DEFINED",
	SectionPE32:            "PE32",
	SectionPIC:             "PIC",
	SectionTE:              "TE",
	SectionDxeDepex:        "DXE_DEPEX",
	SectionVersion:         "VERSION",
	SectionUserInterface:   "USER_INTERFACE",
	SectionFirmwareVolume:  "FIRMWARE_VOLUME_IMAGE",
	SectionFreeformSubtype: "FREEFORM_SUBTYPE_GUID",
	SectionRaw:             "RAW",
	SectionPeiDepex:        "PEI_DEPEX",
}

func (t SectionType) String() string {
	if s, ok := sectionTypeName[t]; ok {
		return s
	}

	return fmt.Sprintf("SectionType(%#x)", uint8(t))
}

// GUID defined section attributes
const (
	GuidedProcessingRequired = 0x01
	GuidedAuthStatusValid    = 0x02
)

// Section represents a file section.
type Section struct {
	Type SectionType

	// Data holds the section contents following its header
	Data []byte

	// GUID defined section fields
	DefinitionGuid uefi.GUID
	Attributes     uint16
}

// Extractor decodes the contents of GUID defined sections.
type Extractor interface {
	// Extract returns the encapsulated section stream of a GUID
	// defined section.
	Extract(s *Section) ([]byte, error)
}

// ParseSections decodes a section stream.
func ParseSections(buf []byte) (sections []*Section, err error) {
	for off := 0; off+SectionHeaderSize <= len(buf); {
		l := uio.NewLittleEndianBuffer(buf[off:])
		size := int(l.Read8()) | int(l.Read8())<<8 | int(l.Read8())<<16

		s := &Section{
			Type: SectionType(l.Read8()),
		}

		if size < SectionHeaderSize || off+size > len(buf) {
			return nil, fmt.Errorf("%w: section %s size %d", ErrCorrupted, s.Type, size)
		}

		body := buf[off+SectionHeaderSize : off+size]

		if s.Type == SectionGuidDefined {
			if size < GuidSectionSize {
				return nil, fmt.Errorf("%w: short GUID defined section", ErrCorrupted)
			}

			l = uio.NewLittleEndianBuffer(body)
			l.ReadBytes(s.DefinitionGuid[:])
			dataOffset := int(l.Read16())
			s.Attributes = l.Read16()

			if dataOffset < GuidSectionSize || dataOffset > size {
				return nil, fmt.Errorf("%w: GUID defined section data offset %d", ErrCorrupted, dataOffset)
			}

			body = buf[off+dataOffset : off+size]
		}

		s.Data = body
		sections = append(sections, s)

		off = int(align(uint64(off+size), 4))
	}

	return
}

// FindSection returns the instance-th (0-based) section of the argument type
// found in a section stream, GUID defined sections are searched depth first
// using the extractor.
func FindSection(buf []byte, t SectionType, instance int, x Extractor) (*Section, error) {
	s, _, err := findSection(buf, t, instance, x)
	return s, err
}

func findSection(buf []byte, t SectionType, instance int, x Extractor) (*Section, int, error) {
	sections, err := ParseSections(buf)

	if err != nil {
		return nil, instance, err
	}

	for _, s := range sections {
		if s.Type == t {
			if instance == 0 {
				return s, 0, nil
			}

			instance--
			continue
		}

		if s.Type != SectionGuidDefined {
			continue
		}

		inner := s.Data

		if s.Attributes&GuidedProcessingRequired != 0 {
			if x == nil {
				continue
			}

			if inner, err = x.Extract(s); err != nil {
				return nil, instance, fmt.Errorf("GUID defined section %s, %w", s.DefinitionGuid, err)
			}
		}

		var found *Section

		found, instance, err = findSection(inner, t, instance, x)

		if found != nil {
			return found, 0, nil
		}

		if err != nil && !errors.Is(err, uefi.ErrNotFound) {
			return nil, instance, err
		}
	}

	return nil, instance, uefi.ErrNotFound
}
