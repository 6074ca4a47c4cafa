// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package platform

import (
	"errors"
	"fmt"

	"github.com/usbarmory/go-pei/extract"
	"github.com/usbarmory/go-pei/hob"
	"github.com/usbarmory/go-pei/pei"
	"github.com/usbarmory/go-pei/ppi"
	"github.com/usbarmory/go-pei/uefi"
)

// CPU address space widths
const (
	memorySpaceBits = 48
	ioSpaceBits     = 16
)

func descriptor(guid uefi.GUID, iface any) *ppi.Descriptor {
	return &ppi.Descriptor{
		Flags:     ppi.FlagPpi | ppi.FlagTerminateList,
		GUID:      guid,
		Interface: iface,
	}
}

func (b *Board) images() pei.Images {
	return pei.Images{
		StatusCodePei: b.statusCodePei,
		PlatformPei:   b.platformPei,
		MemoryInitPei: b.memoryInitPei,
		ExtractPei:    b.extractPei,
		DxeIplPei:     b.dxeIplPei,
		ResetPei:      b.resetPei,
	}
}

// statusCode implements pei.StatusCode.
type statusCode struct {
	b *Board
}

func (s *statusCode) ReportStatusCode(_ *pei.Services, t pei.StatusCodeType, v pei.StatusCodeValue, instance uint32, callerID *uefi.GUID, data []byte) error {
	r := pei.StatusCodeRecord{
		Type:     t,
		Value:    v,
		Instance: instance,
		Data:     data,
	}

	if callerID != nil {
		r.CallerID = *callerID
	}

	s.b.statusCodes = append(s.b.statusCodes, r)

	if t&0xff == pei.EFI_ERROR_CODE {
		s.b.Log.Info("status code", "record", r.String())
	}

	return nil
}

func (b *Board) statusCodePei(_ uint64, ps *pei.Services) error {
	return ps.InstallPpi(descriptor(pei.StatusCodePpiGuid, &statusCode{b}))
}

func (b *Board) platformPei(_ uint64, ps *pei.Services) (err error) {
	l, err := ps.GetHobList()

	if err != nil {
		return
	}

	if err = ps.SetBootMode(pei.BootMode(b.Config.BootModeValue())); err != nil {
		return
	}

	if err = l.BuildCpuHob(memorySpaceBits, ioSpaceBits); err != nil {
		return
	}

	attr := uint32(hob.ResourceAttributePresent | hob.ResourceAttributeInitialized | hob.ResourceAttributeTested)

	for _, r := range []struct {
		t    uint32
		base uint64
		size uint64
	}{
		{hob.ResourceSystemMemory, uint64(b.Config.Dram.Base), uint64(b.Config.Dram.Size)},
		{hob.ResourceSystemMemory, uint64(b.Config.Runtime.Base), uint64(b.Config.Runtime.Size)},
		{hob.ResourceFirmwareDevice, uint64(b.Config.Flash.Base), uint64(b.Config.Flash.Size)},
	} {
		if err = l.BuildResourceDescriptor(r.t, attr, r.base, r.size); err != nil {
			return
		}
	}

	return ps.InstallPpi(descriptor(pei.MasterBootModePpiGuid, nil))
}

func (b *Board) memoryInitPei(_ uint64, ps *pei.Services) error {
	return ps.InstallPeiMemory(uint64(b.Config.Dram.Base), uint64(b.Config.Dram.Size))
}

// extractPei installs the section extraction PPIs once running from
// permanent memory, except on S3 resume where modules are never shadowed.
func (b *Board) extractPei(file uint64, ps *pei.Services) (err error) {
	mode, err := ps.GetBootMode()

	if err != nil {
		return
	}

	_, located := ps.LocatePpi(pei.MemoryDiscoveredPpiGuid, 0)

	if located != nil && mode != pei.BOOT_ON_S3_RESUME {
		return ps.RegisterForShadow(file)
	}

	var list []*ppi.Descriptor

	for _, c := range extract.Codecs() {
		list = append(list, &ppi.Descriptor{Flags: ppi.FlagPpi, GUID: c.GUID, Interface: c})
	}

	list[len(list)-1].Flags |= ppi.FlagTerminateList

	return ps.InstallPpi(list...)
}

func (b *Board) dxeIplPei(_ uint64, ps *pei.Services) error {
	return ps.InstallPpi(descriptor(pei.DxeIplPpiGuid, &dxeIpl{b}))
}

// reset implements pei.Reset.
type reset struct {
	b *Board
}

func (r *reset) ResetSystem(_ *pei.Services) error {
	r.b.resets++
	r.b.Log.Info("system reset requested")

	return nil
}

func (b *Board) resetPei(_ uint64, ps *pei.Services) error {
	return ps.InstallPpi(descriptor(pei.ResetPpiGuid, &reset{b}))
}

// temporaryRamSupport implements pei.TemporaryRamSupport.
type temporaryRamSupport struct {
	b *Board
}

func (t *temporaryRamSupport) TemporaryRamMigration(ps *pei.Services, from uint64, to uint64, size uint64) error {
	t.b.Log.V(1).Info("temporary RAM migration",
		"from", fmt.Sprintf("%#x", from),
		"to", fmt.Sprintf("%#x", to),
		"size", size)

	return ps.CopyMem(to, from, int(size))
}

// dxeIpl implements pei.DxeIpl, it builds the runtime environment in place
// of the DXE phase.
type dxeIpl struct {
	b *Board
}

func (d *dxeIpl) Entry(ps *pei.Services, list *hob.List) (err error) {
	if list == nil {
		return errors.New("missing HOB list")
	}

	d.b.HobList = list

	return d.b.enterRuntime(ps)
}
