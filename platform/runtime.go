// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package platform

import (
	"fmt"

	"github.com/usbarmory/go-pei/pei"
	"github.com/usbarmory/go-pei/runtimedxe"
	"github.com/usbarmory/go-pei/uefi"
)

// FirmwareVendor is the system table vendor string.
const FirmwareVendor = "go-pei"

// FirmwareRevision is the system table firmware revision.
const FirmwareRevision = 0x00010000

// runtime region layout
const (
	systemTableOffset        = 0x0000
	runtimeServicesOffset    = 0x0200
	firmwareVendorOffset     = 0x0400
	configurationTableOffset = 0x0500
	variableStoreOffset      = 0x0800
	runtimeDriverOffset      = 0x1000
	runtimeImageOffset       = 0x2000
	runtimeImageSize         = 0x1000
	runtimeCodeEnd           = 0x3000

	// service entries are laid out every entryStride bytes, their
	// addresses are also held in a pointer table within the image
	entryStride        = 0x10
	pointerTableOffset = 0x800
	imageBaseOffset    = 0x900
)

// Configuration table GUIDs
var (
	HobListGuid       = uefi.MustParseGUID("7739f24c-93d7-11d4-9a3a-0090273fc14d")
	VariableStoreGuid = uefi.MustParseGUID("ddcf3616-3275-4164-98b6-fe85707ffe7d")
)

// environment tracks the runtime environment built at hand-off.
type environment struct {
	systemTable   uint64
	variableStore uint64
	converted     bool
}

func (b *Board) runtimeAddress(off uint64) uint64 {
	return uint64(b.Config.Runtime.Base) + off
}

func (b *Board) writeTable(addr uint64, table any) error {
	if err := uefi.Encode(b.Memory, addr, table); err != nil {
		return err
	}

	return uefi.UpdateCRC32(b.Memory, addr)
}

// enterRuntime lays out the system and runtime services tables, and the
// runtime images, in the runtime region.
func (b *Board) enterRuntime(ps *pei.Services) (err error) {
	env := &environment{
		systemTable:   b.runtimeAddress(systemTableOffset),
		variableStore: b.runtimeAddress(variableStoreOffset),
	}

	driver := b.runtimeAddress(runtimeDriverOffset)
	img := b.runtimeAddress(runtimeImageOffset)

	rt := &uefi.RuntimeServicesTable{}
	rt.Header = uefi.NewTableHeader(uefi.RuntimeServicesSignature, rt)

	var relocs []runtimedxe.Relocation

	for i, e := range rt.Entries() {
		entry := img + uint64(i*entryStride)
		ptr := pointerTableOffset + uint64(i*8)

		switch e {
		case &rt.SetVirtualAddressMap:
			entry = driver + entryStride
		case &rt.ConvertPointer:
			entry = driver + 2*entryStride
		default:
			relocs = append(relocs, runtimedxe.Relocation{
				Offset: ptr,
				Type:   runtimedxe.IMAGE_REL_BASED_DIR64,
			})
		}

		*e = entry

		if err = b.Memory.Write64(img+ptr, entry); err != nil {
			return
		}
	}

	if err = b.Memory.Write32(img+imageBaseOffset, uint32(img)); err != nil {
		return
	}

	relocs = append(relocs, runtimedxe.Relocation{
		Offset: imageBaseOffset,
		Type:   runtimedxe.IMAGE_REL_BASED_HIGHLOW,
	})

	if err = b.writeTable(b.runtimeAddress(runtimeServicesOffset), rt); err != nil {
		return
	}

	vendor, err := uefi.EncodeString(FirmwareVendor)

	if err != nil {
		return
	}

	if err = b.Memory.Write(b.runtimeAddress(firmwareVendorOffset), vendor); err != nil {
		return
	}

	tables := []*uefi.ConfigurationTable{
		{GUID: HobListGuid, VendorTable: b.HobList.Address()},
		{GUID: VariableStoreGuid, VendorTable: env.variableStore},
	}

	for i, t := range tables {
		addr := b.runtimeAddress(configurationTableOffset) + uint64(i*uefi.ConfigurationTableSize)

		if err = uefi.Encode(b.Memory, addr, t); err != nil {
			return
		}
	}

	st := &uefi.SystemTable{
		FirmwareVendor:       b.runtimeAddress(firmwareVendorOffset),
		FirmwareRevision:     FirmwareRevision,
		RuntimeServices:      b.runtimeAddress(runtimeServicesOffset),
		NumberOfTableEntries: uint64(len(tables)),
		ConfigurationTable:   b.runtimeAddress(configurationTableOffset),
	}
	st.Header = uefi.NewTableHeader(uefi.SystemTableSignature, st)

	if err = b.writeTable(env.systemTable, st); err != nil {
		return
	}

	r := runtimedxe.New(b.Memory, driver, env.systemTable, b.Log.WithName("runtime"))

	if _, err = r.RegisterImage(driver, runtimeImageSize, nil, "RuntimeDxe"); err != nil {
		return
	}

	if _, err = r.RegisterImage(img, runtimeImageSize, relocs, "RuntimeServices"); err != nil {
		return
	}

	_, err = r.RegisterEvent(runtimedxe.EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE, 0, func(_ *runtimedxe.EventEntry, ctx any) {
		env := ctx.(*environment)

		if err := r.ConvertPointer(0, &env.variableStore); err != nil {
			b.Log.Error(err, "variable store not converted")
			return
		}

		env.converted = true
	}, env)

	if err != nil {
		return
	}

	b.Runtime = r
	b.env = env

	b.Log.Info("runtime environment",
		"system table", fmt.Sprintf("%#x", env.systemTable),
		"images", r.ImageHead.Len())

	return
}

// SystemTable returns the system table address.
func (b *Board) SystemTable() (addr uint64, err error) {
	b.Lock()
	defer b.Unlock()

	if b.env == nil {
		return 0, ErrNotBooted
	}

	return b.env.systemTable, nil
}

// VariableStore returns the variable store address, virtual once the
// virtual address map has been applied.
func (b *Board) VariableStore() (addr uint64, virtual bool, err error) {
	b.Lock()
	defer b.Unlock()

	if b.env == nil {
		return 0, false, ErrNotBooted
	}

	return b.env.variableStore, b.env.converted, nil
}

// ExitBootServices transitions the runtime environment to runtime.
func (b *Board) ExitBootServices() error {
	b.Lock()
	defer b.Unlock()

	if b.Runtime == nil {
		return ErrNotBooted
	}

	return b.Runtime.ExitBootServices()
}

// SetVirtualAddressMap exits boot services, when still required, and
// applies the board virtual address map.
func (b *Board) SetVirtualAddressMap() (err error) {
	b.Lock()
	defer b.Unlock()

	if b.Runtime == nil {
		return ErrNotBooted
	}

	if !b.Runtime.AtRuntime {
		if err = b.Runtime.ExitBootServices(); err != nil {
			return
		}
	}

	m, err := b.virtualAddressMap()

	if err != nil {
		return
	}

	buf, err := m.Bytes()

	if err != nil {
		return
	}

	return b.Runtime.SetVirtualAddressMap(uint64(len(buf)), m.DescriptorSize, m.DescriptorVersion, buf)
}
