// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package runtimedxe

import (
	"fmt"

	"github.com/usbarmory/go-pei/uefi"
)

// SetVirtualAddressMap switches the runtime environment to the virtual
// addressing described by the argument memory map, descriptors are indexed
// by descSize which may exceed the natural descriptor size.
//
// The call is accepted once, after ExitBootServices(). Errors wrapping
// ErrFatal leave the runtime environment partially converted.
func (r *Runtime) SetVirtualAddressMap(mapSize uint64, descSize uint64, version uint32, virtualMap []byte) (err error) {
	if !r.AtRuntime || r.VirtualMode {
		return uefi.ErrUnsupported
	}

	if version != uefi.DescriptorVersion || descSize < uint64(uefi.DescriptorSize) {
		return uefi.ErrInvalidParameter
	}

	m, err := uefi.ParseMemoryMap(virtualMap, mapSize, descSize, version)

	if err != nil {
		return uefi.ErrInvalidParameter
	}

	r.VirtualMode = true
	r.MemoryDescriptorSize = descSize
	r.MemoryDescriptorVersion = version
	r.stash(m)

	defer r.clear()

	r.Log.Info("set virtual address map", "descriptors", len(m.Descriptors), "runtime", r.virtualMap.Len())

	r.signal(EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE)

	if err = r.relocateImages(); err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}

	if err = r.convertTables(); err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}

	return
}

func (r *Runtime) relocateImages() error {
	return r.ImageHead.Traverse(func(e *ImageEntry) error {
		// the runtime driver executes in place
		if e.ImageBase == r.ImageBase {
			return nil
		}

		virtualBase := e.ImageBase

		if err := r.ConvertPointer(0, &virtualBase); err != nil {
			return fmt.Errorf("image %#x, %w", e.ImageBase, err)
		}

		n, err := e.relocate(r.Memory, virtualBase)

		if err != nil {
			return fmt.Errorf("image %#x relocation, %w", e.ImageBase, err)
		}

		if r.InvalidateInstructionCache != nil {
			r.InvalidateInstructionCache(e.ImageBase, e.ImageSize)
		}

		r.Log.V(1).Info("runtime image relocated", "base", fmt.Sprintf("%#x", e.ImageBase), "virtual", fmt.Sprintf("%#x", virtualBase), "fixups", n)

		return nil
	})
}

// internal reports whether a runtime service entry is provided by the
// runtime driver itself, such entries are never converted.
func internal(t *uefi.RuntimeServicesTable, entry *uint64) bool {
	return entry == &t.SetVirtualAddressMap || entry == &t.ConvertPointer
}

func (r *Runtime) convertTables() (err error) {
	st := &uefi.SystemTable{}

	if err = uefi.Decode(r.Memory, r.SystemTable, st); err != nil {
		return
	}

	rt := &uefi.RuntimeServicesTable{}
	rtAddr := st.RuntimeServices

	if err = uefi.Decode(r.Memory, rtAddr, rt); err != nil {
		return
	}

	for i, entry := range rt.Entries() {
		if internal(rt, entry) {
			continue
		}

		if err = r.ConvertPointer(0, entry); err != nil {
			return fmt.Errorf("runtime service %d, %w", i, err)
		}
	}

	if err = uefi.Encode(r.Memory, rtAddr, rt); err != nil {
		return
	}

	if err = uefi.UpdateCRC32(r.Memory, rtAddr); err != nil {
		return
	}

	if err = r.convertConfigurationTables(st); err != nil {
		return
	}

	if err = r.ConvertPointer(EFI_OPTIONAL_POINTER, &st.FirmwareVendor); err != nil {
		return fmt.Errorf("firmware vendor, %w", err)
	}

	if err = r.ConvertPointer(EFI_OPTIONAL_POINTER, &st.ConfigurationTable); err != nil {
		return fmt.Errorf("configuration table, %w", err)
	}

	if err = r.ConvertPointer(0, &st.RuntimeServices); err != nil {
		return fmt.Errorf("runtime services, %w", err)
	}

	if err = uefi.Encode(r.Memory, r.SystemTable, st); err != nil {
		return
	}

	return uefi.UpdateCRC32(r.Memory, r.SystemTable)
}

// convertConfigurationTables converts vendor table pointers which fall
// within runtime memory, others are left unchanged.
func (r *Runtime) convertConfigurationTables(st *uefi.SystemTable) (err error) {
	if st.NumberOfTableEntries == 0 || st.ConfigurationTable == 0 {
		return
	}

	tables, err := st.ConfigurationTables(r.Memory)

	if err != nil {
		return
	}

	for i, t := range tables {
		if err = r.ConvertPointer(EFI_OPTIONAL_POINTER, &t.VendorTable); err != nil {
			r.Log.V(1).Info("configuration table not converted", "guid", t.GUID.String(), "err", err)
			continue
		}

		addr := st.ConfigurationTable + uint64(i*uefi.ConfigurationTableSize)

		if err = uefi.Encode(r.Memory, addr, t); err != nil {
			return
		}
	}

	return nil
}
