// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pei

import (
	"fmt"

	"github.com/usbarmory/go-pei/fv"
	"github.com/usbarmory/go-pei/hob"
	"github.com/usbarmory/go-pei/mem"
	"github.com/usbarmory/go-pei/ppi"
	"github.com/usbarmory/go-pei/uefi"
)

// Services represents the PEI services table (EFI_PEI_SERVICES), every
// function is bound to the core instance which built the table.
//
// The table is passed explicitly to every module entry point and
// notification, a new table is built when the core is re-entered after the
// memory transition.
type Services struct {
	Hdr uefi.TableHeader

	// PPI functions
	InstallPpi   func(list ...*ppi.Descriptor) error
	ReInstallPpi func(old *ppi.Descriptor, new *ppi.Descriptor) error
	LocatePpi    func(guid uefi.GUID, instance int) (*ppi.Descriptor, error)
	NotifyPpi    func(list ...*Notify) error

	// Boot mode functions
	GetBootMode func() (BootMode, error)
	SetBootMode func(mode BootMode) error

	// HOB functions
	GetHobList func() (*hob.List, error)
	CreateHob  func(t hob.Type, length int) (uint64, error)

	// Firmware volume functions
	FfsFindNextVolume  func(instance int) (*fv.Volume, error)
	FfsFindNextFile    func(t fv.FileType, volume *fv.Volume, prev *fv.File) (*fv.File, error)
	FfsFindSectionData func(t fv.SectionType, file *fv.File) ([]byte, error)
	FfsFindFileByName  func(name uefi.GUID, volume *fv.Volume) (*fv.File, error)

	// PEI memory functions
	InstallPeiMemory func(begin uint64, length uint64) error
	AllocatePages    func(t uefi.MemoryType, pages uint64) (uint64, error)
	AllocatePool     func(size int) (uint64, error)
	CopyMem          func(dst uint64, src uint64, n int) error
	SetMem           func(addr uint64, n int, val byte) error

	// Status code
	ReportStatusCode func(t StatusCodeType, v StatusCodeValue, instance uint32, callerID *uefi.GUID, data []byte) error

	// Reset
	ResetSystem func() error

	// Shadowing
	RegisterForShadow func(file uint64) error

	// Memory gives access to the physical address space
	Memory *mem.Space

	// CpuIo and PciCfg are installed by platform modules and preserved
	// across the memory transition.
	CpuIo  any
	PciCfg any

	core *CoreInstance
}

// newServices returns a services table bound to the core instance.
func (c *CoreInstance) newServices() *Services {
	ps := &Services{
		Hdr: uefi.TableHeader{
			Signature: ServicesSignature,
			Revision:  ServicesRevision,
		},
		Memory: c.Memory,
		core:   c,
	}

	ps.InstallPpi = func(list ...*ppi.Descriptor) (err error) {
		_, err = c.Ppi.Install(list...)
		return
	}

	ps.ReInstallPpi = func(old *ppi.Descriptor, new *ppi.Descriptor) (err error) {
		_, err = c.Ppi.Reinstall(old, new)
		return
	}

	ps.LocatePpi = c.Ppi.Locate

	ps.NotifyPpi = func(list ...*Notify) error {
		return c.Ppi.Notify(list...)
	}

	ps.GetBootMode = c.bootMode
	ps.SetBootMode = c.setBootMode

	ps.GetHobList = func() (*hob.List, error) {
		return c.HobList, nil
	}

	ps.CreateHob = func(t hob.Type, length int) (uint64, error) {
		return c.HobList.CreateHob(t, length)
	}

	ps.FfsFindNextVolume = c.findVolume
	ps.FfsFindNextFile = c.findNextFile
	ps.FfsFindSectionData = c.findSectionData
	ps.FfsFindFileByName = c.findFileByName

	ps.InstallPeiMemory = c.installPeiMemory

	ps.AllocatePages = func(t uefi.MemoryType, pages uint64) (uint64, error) {
		return c.HobList.AllocatePages(t, pages)
	}

	ps.AllocatePool = func(size int) (uint64, error) {
		return c.HobList.AllocatePool(size)
	}

	ps.CopyMem = c.Memory.Copy
	ps.SetMem = c.Memory.Fill

	ps.ReportStatusCode = c.reportStatusCode
	ps.ResetSystem = c.resetSystem
	ps.RegisterForShadow = c.registerForShadow

	return ps
}

func (c *CoreInstance) services() *Services {
	return c.Services
}

func (c *CoreInstance) bootMode() (BootMode, error) {
	mode, err := c.HobList.BootMode()
	return BootMode(mode), err
}

func (c *CoreInstance) setBootMode(mode BootMode) error {
	c.Log.V(1).Info("boot mode", "mode", mode.String())
	return c.HobList.SetBootMode(uint32(mode))
}

func (c *CoreInstance) resetSystem() error {
	d, err := c.Ppi.Locate(ResetPpiGuid, 0)

	if err != nil {
		return uefi.ErrNotAvailableYet
	}

	r, ok := d.Interface.(Reset)

	if !ok {
		return fmt.Errorf("%w: invalid reset PPI", uefi.ErrUnsupported)
	}

	return r.ResetSystem(c.Services)
}

func (c *CoreInstance) findVolume(instance int) (*fv.Volume, error) {
	if instance < 0 || instance >= len(c.dispatch.volumes) {
		return nil, uefi.ErrNotFound
	}

	return c.dispatch.volumes[instance], nil
}

// findNextFile returns the first file of the argument type following prev
// (or the first matching file when prev is nil), fv.TypeAll matches any
// type.
func (c *CoreInstance) findNextFile(t fv.FileType, volume *fv.Volume, prev *fv.File) (*fv.File, error) {
	if volume == nil {
		return nil, uefi.ErrInvalidParameter
	}

	s, err := c.scan(volume)

	if err != nil {
		return nil, err
	}

	found := prev == nil

	for _, f := range s.files {
		if !found {
			found = f.Handle == prev.Handle
			continue
		}

		if t == fv.TypeAll || f.Type == t {
			return f, nil
		}
	}

	return nil, uefi.ErrNotFound
}

func (c *CoreInstance) findFileByName(name uefi.GUID, volume *fv.Volume) (*fv.File, error) {
	volumes := c.dispatch.volumes

	if volume != nil {
		volumes = []*fv.Volume{volume}
	}

	for _, v := range volumes {
		s, err := c.scan(v)

		if err != nil {
			return nil, err
		}

		for _, f := range s.files {
			if f.Name == name {
				return f, nil
			}
		}
	}

	return nil, uefi.ErrNotFound
}

func (c *CoreInstance) findSectionData(t fv.SectionType, file *fv.File) ([]byte, error) {
	if file == nil {
		return nil, uefi.ErrInvalidParameter
	}

	s, err := fv.FindSection(file.Data, t, 0, c.extractor)

	if err != nil {
		return nil, err
	}

	return s.Data, nil
}
