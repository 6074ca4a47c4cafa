// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"fmt"
	"log"
	"regexp"

	"github.com/dustin/go-humanize"

	"github.com/usbarmory/go-pei/pei"
	"github.com/usbarmory/go-pei/shell"
	"github.com/usbarmory/go-pei/uefi"
)

const maxVendorSize = 32

func init() {
	shell.Add(shell.Cmd{
		Name: "uefi",
		Help: "UEFI system table information",
		Fn:   uefiCmd,
	})

	shell.Add(shell.Cmd{
		Name:    "memmap",
		Args:    1,
		Pattern: regexp.MustCompile(`^memmap(?: (e820))?$`),
		Syntax:  "(e820)?",
		Help:    "EFI_BOOT_SERVICES.GetMemoryMap()",
		Fn:      memmapCmd,
	})

	shell.Add(shell.Cmd{
		Name: "mem",
		Help: "list physical memory regions",
		Fn:   memCmd,
	})

	shell.Add(shell.Cmd{
		Name: "ebs",
		Help: "EFI_BOOT_SERVICES.ExitBootServices()",
		Fn:   exitBootServicesCmd,
	})

	shell.Add(shell.Cmd{
		Name: "svam",
		Help: "EFI_RUNTIME_SERVICES.SetVirtualAddressMap()",
		Fn:   setVirtualAddressMapCmd,
	})

	shell.Add(shell.Cmd{
		Name: "reset",
		Help: "EFI_PEI_SERVICES.ResetSystem()",
		Fn:   resetCmd,
	})
}

func uefiCmd(_ *shell.Interface, _ []string) (res string, err error) {
	var buf bytes.Buffer

	b, err := board()

	if err != nil {
		return
	}

	addr, err := b.SystemTable()

	if err != nil {
		return
	}

	b.Lock()
	defer b.Unlock()

	t := &uefi.SystemTable{}

	if err = uefi.Decode(b.Memory, addr, t); err != nil {
		return
	}

	if b.Runtime != nil {
		fmt.Fprintf(&buf, "Addressing .........: %s\n", b.Runtime.State())
	}

	vendor, _ := uefi.ReadString(b.Memory, t.FirmwareVendor, maxVendorSize/2)
	crc, _ := uefi.VerifyCRC32(b.Memory, addr)

	fmt.Fprintf(&buf, "System Table .......: %#x (CRC32 valid: %v)\n", addr, crc)
	fmt.Fprintf(&buf, "Firmware Vendor ....: %s\n", vendor)
	fmt.Fprintf(&buf, "Firmware Revision ..: %#x\n", t.FirmwareRevision)
	fmt.Fprintf(&buf, "Runtime Services  ..: %#x\n", t.RuntimeServices)
	fmt.Fprintf(&buf, "Configuration Tables: %#x\n", t.ConfigurationTable)

	if c, err := t.ConfigurationTables(b.Memory); err == nil {
		for _, t := range c {
			fmt.Fprintf(&buf, "  %s (%#x)\n", t.GUID, t.VendorTable)
		}
	}

	return buf.String(), nil
}

func memmapCmd(_ *shell.Interface, arg []string) (res string, err error) {
	var buf bytes.Buffer
	var memoryMap *uefi.MemoryMap

	b, err := board()

	if err != nil {
		return
	}

	if memoryMap, err = b.MemoryMap(); err != nil {
		return
	}

	if arg[0] == "e820" {
		entries, err := memoryMap.E820()

		if err != nil {
			return "", err
		}

		for _, e := range entries {
			fmt.Fprintf(&buf, "%016x %016x %v\n", e.Addr, e.Addr+e.Size-1, e.MemType)
		}

		return buf.String(), nil
	}

	fmt.Fprintf(&buf, "Type Start            End              Pages            Attributes\n")

	for _, desc := range memoryMap.Descriptors {
		fmt.Fprintf(&buf, "%02d   %016x %016x %016x %016x\n",
			desc.Type, desc.PhysicalStart, desc.PhysicalEnd()-1, desc.NumberOfPages, desc.Attribute)
	}

	return buf.String(), err
}

func memCmd(_ *shell.Interface, _ []string) (res string, err error) {
	var buf bytes.Buffer

	b, err := board()

	if err != nil {
		return
	}

	b.Lock()
	defer b.Unlock()

	if b.Memory == nil {
		for name, r := range b.Config.Regions() {
			fmt.Fprintf(&buf, "%-14s %#016x %s (not populated)\n", name, uint64(r.Base), humanize.IBytes(uint64(r.Size)))
		}

		return buf.String(), nil
	}

	for _, r := range b.Memory.Regions() {
		fmt.Fprintf(&buf, "%-14s %#016x %s\n", r.Name, r.Start(), humanize.IBytes(uint64(r.Size())))
	}

	return buf.String(), nil
}

func exitBootServicesCmd(_ *shell.Interface, _ []string) (res string, err error) {
	b, err := board()

	if err != nil {
		return
	}

	if err = b.ExitBootServices(); err != nil {
		return
	}

	return "boot services terminated", nil
}

func setVirtualAddressMapCmd(_ *shell.Interface, _ []string) (res string, err error) {
	b, err := board()

	if err != nil {
		return
	}

	log.Printf("switching runtime services to virtual addressing at %#x", uint64(b.Config.VirtualBase))

	if err = b.SetVirtualAddressMap(); err != nil {
		return
	}

	addr, _, err := b.VariableStore()

	return fmt.Sprintf("virtual address map applied, variable store at %#x", addr), err
}

func resetCmd(_ *shell.Interface, _ []string) (res string, err error) {
	return withCore(func(c *pei.CoreInstance) (string, error) {
		log.Printf("performing system reset")
		return "", c.Services.ResetSystem()
	})
}
