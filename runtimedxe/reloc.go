// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package runtimedxe

import (
	"fmt"

	"github.com/usbarmory/go-pei/mem"
)

// RelocationType represents a PE/COFF base relocation type.
type RelocationType uint8

// PE/COFF base relocation types
const (
	IMAGE_REL_BASED_ABSOLUTE RelocationType = 0
	IMAGE_REL_BASED_HIGHLOW  RelocationType = 3
	IMAGE_REL_BASED_DIR64    RelocationType = 10
)

// Size returns the width of the fixup location.
func (t RelocationType) Size() int {
	switch t {
	case IMAGE_REL_BASED_HIGHLOW:
		return 4
	case IMAGE_REL_BASED_DIR64:
		return 8
	default:
		return 0
	}
}

// Relocation represents an image fixup.
type Relocation struct {
	// Offset is the fixup location relative to the image base
	Offset uint64
	Type   RelocationType
	// Value is the location content at registration
	Value uint64
}

func (reloc *Relocation) read(m *mem.Space, base uint64) (uint64, error) {
	addr := base + reloc.Offset

	switch reloc.Type {
	case IMAGE_REL_BASED_ABSOLUTE:
		return 0, nil
	case IMAGE_REL_BASED_HIGHLOW:
		v, err := m.Read32(addr)
		return uint64(v), err
	case IMAGE_REL_BASED_DIR64:
		return m.Read64(addr)
	default:
		return 0, fmt.Errorf("unsupported relocation type %d", reloc.Type)
	}
}

// apply adjusts the fixup by delta, locations which no longer hold the
// value captured at registration are left untouched.
func (reloc *Relocation) apply(m *mem.Space, base uint64, delta uint64) (applied bool, err error) {
	var v uint64

	if reloc.Type == IMAGE_REL_BASED_ABSOLUTE {
		return
	}

	if v, err = reloc.read(m, base); err != nil || v != reloc.Value {
		return
	}

	addr := base + reloc.Offset

	switch reloc.Type {
	case IMAGE_REL_BASED_HIGHLOW:
		err = m.Write32(addr, uint32(v)+uint32(delta))
	case IMAGE_REL_BASED_DIR64:
		err = m.Write64(addr, v+delta)
	}

	return err == nil, err
}

// relocate applies the image fixups for its new virtual base.
func (e *ImageEntry) relocate(m *mem.Space, virtualBase uint64) (n int, err error) {
	delta := virtualBase - e.ImageBase

	for i := range e.RelocationData {
		var applied bool

		if applied, err = e.RelocationData[i].apply(m, e.ImageBase, delta); err != nil {
			return
		}

		if applied {
			n++
		}
	}

	return
}
