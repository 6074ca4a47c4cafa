// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pei

import (
	"errors"
	"fmt"

	"github.com/usbarmory/go-pei/fv"
	"github.com/usbarmory/go-pei/uefi"
)

// EntryPoint represents a PEIM entry point, file is the handle of the
// module file.
type EntryPoint func(file uint64, ps *Services) error

// Images maps module file names to entry points. A module is loadable when
// its file carries an image section (PE32 or TE) and its name is registered.
type Images map[uefi.GUID]EntryPoint

// Image represents a loaded module image.
type Image struct {
	// Base is the physical address of the image
	Base uint64
	// Size is the image section size
	Size uint64
	// Shadowed is set for images copied to permanent memory
	Shadowed bool

	Entry EntryPoint
}

func (c *CoreInstance) imageSection(f *fv.File) (s *fv.Section, err error) {
	if s, err = fv.FindSection(f.Data, fv.SectionPE32, 0, c.extractor); err == nil {
		return
	}

	if !errors.Is(err, uefi.ErrNotFound) {
		return
	}

	return fv.FindSection(f.Data, fv.SectionTE, 0, c.extractor)
}

// loadImage resolves the entry point of a module, with shadow set the image
// is copied to boot services code pages.
func (c *CoreInstance) loadImage(m *Module, shadow bool) (img *Image, err error) {
	var s *fv.Section

	if s, err = c.imageSection(m.File); err != nil {
		return
	}

	entry, ok := c.Config.Images[m.Name]

	if !ok {
		return nil, fmt.Errorf("%w: no entry point for %s", uefi.ErrLoadError, m.Name)
	}

	img = &Image{
		Base:  m.File.Handle + fv.FileHeaderSize,
		Size:  uint64(len(s.Data)),
		Entry: entry,
	}

	if !shadow {
		return
	}

	if img.Base, err = c.HobList.AllocatePages(uefi.EfiBootServicesCode, uefi.SizeToPages(img.Size)); err != nil {
		return nil, err
	}

	if err = c.Memory.Write(img.Base, s.Data); err != nil {
		return nil, err
	}

	img.Shadowed = true

	c.Log.V(1).Info("shadowed image", "module", m.Name, "base", fmt.Sprintf("%#x", img.Base))

	return
}

// shadowCore copies the PEI core image, located in the boot firmware
// volume, to permanent memory.
func (c *CoreInstance) shadowCore() (addr uint64, err error) {
	var f *fv.File
	var s *fv.Section

	if len(c.dispatch.volumes) == 0 {
		return 0, uefi.ErrNotFound
	}

	if f, err = c.findNextFile(fv.TypePeiCore, c.dispatch.volumes[0], nil); err != nil {
		return
	}

	if s, err = c.imageSection(f); err != nil {
		return
	}

	size := uint64(len(s.Data))

	if addr, err = c.HobList.AllocatePages(uefi.EfiBootServicesCode, uefi.SizeToPages(size)); err != nil {
		return
	}

	if err = c.Memory.Write(addr, s.Data); err != nil {
		return
	}

	c.Log.Info("PEI core shadowed", "base", fmt.Sprintf("%#x", addr), "size", size)

	return
}
