// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pei

import (
	"fmt"

	"github.com/usbarmory/go-pei/hob"
	"github.com/usbarmory/go-pei/ppi"
	"github.com/usbarmory/go-pei/uefi"
)

// stackLayout returns the stack reserved at the bottom of permanent memory,
// half of the region bounded by the maximum stack size.
func (c *CoreInstance) stackLayout(begin uint64, length uint64) (base uint64, size uint64) {
	base = uefi.AlignUp(begin)
	size = uefi.AlignUp(length >> 1)

	if size > c.Config.MaxStackSize {
		size = c.Config.MaxStackSize
	}

	return
}

// fits returns whether the in use HOB list, and the stack HOB, fit permanent
// memory above the stack.
func (c *CoreInstance) fits(begin uint64, length uint64) (ok bool, err error) {
	var used uint64

	if used, err = c.HobList.Used(); err != nil {
		return
	}

	base, size := c.stackLayout(begin, length)
	need := base - begin + size + used + hob.MemoryAllocationSize

	return need <= length && need >= used, nil
}

// installPeiMemory registers the permanent memory range, the transition is
// performed once the calling module returns.
func (c *CoreInstance) installPeiMemory(begin uint64, length uint64) error {
	if c.PeiMemoryInstalled || c.SwitchStackSignal {
		c.Log.Info("permanent memory already installed")
		return uefi.ErrAlreadyStarted
	}

	if length == 0 || begin+length < begin || length > uint64(int(^uint(0)>>1)) {
		return uefi.ErrInvalidParameter
	}

	if !c.Memory.Contains(begin, int(length)) {
		return fmt.Errorf("%w: %#x-%#x not backed by memory", uefi.ErrInvalidParameter, begin, begin+length)
	}

	tmp := c.SecCoreData

	if begin < tmp.TemporaryRamBase+tmp.TemporaryRamSize && tmp.TemporaryRamBase < begin+length {
		return fmt.Errorf("%w: %#x-%#x overlaps temporary RAM", uefi.ErrInvalidParameter, begin, begin+length)
	}

	if ok, err := c.fits(begin, length); err != nil {
		return err
	} else if !ok {
		return uefi.ErrOutOfResources
	}

	c.Log.Info("permanent memory", "base", fmt.Sprintf("%#x", begin), "length", length)

	c.PhysicalMemoryBegin = begin
	c.PhysicalMemoryLength = length
	c.FreePhysicalMemoryTop = begin + length
	c.SwitchStackSignal = true

	return nil
}

// switchStack migrates the HOB list to permanent memory and returns the
// core instance re-entered on the new stack.
//
// Every check is performed before memory is modified, a failure past that
// point leaves the boot in an unrecoverable state.
func (c *CoreInstance) switchStack() (next *CoreInstance, err error) {
	var h *hob.Handoff
	var used uint64
	var list *hob.List

	begin := c.PhysicalMemoryBegin
	length := c.PhysicalMemoryLength

	if ok, err := c.fits(begin, length); err != nil || !ok {
		return nil, fmt.Errorf("%w: HOB list does not fit permanent memory", uefi.ErrOutOfResources)
	}

	if used, err = c.HobList.Used(); err != nil {
		return
	}

	stackBase, stackSize := c.stackLayout(begin, length)
	oldBase := c.HobList.Address()
	newBase := stackBase + stackSize

	c.Log.Info("migrating HOB list",
		"from", fmt.Sprintf("%#x", oldBase),
		"to", fmt.Sprintf("%#x", newBase),
		"used", used)

	if err = c.migrate(oldBase, newBase, used); err != nil {
		return
	}

	if list, err = hob.Attach(c.Memory, newBase); err != nil {
		return
	}

	list.Log = c.Log

	if h, err = list.Handoff(); err != nil {
		return
	}

	h.EfiEndOfHobList = h.EfiEndOfHobList - oldBase + newBase
	h.EfiMemoryTop = begin + length
	h.EfiMemoryBottom = begin
	h.EfiFreeMemoryTop = c.FreePhysicalMemoryTop
	h.EfiFreeMemoryBottom = newBase + used

	if err = list.SetHandoff(h); err != nil {
		return
	}

	c.Ppi.ConvertPointers(oldBase, used, newBase)

	if err = list.BuildStackHob(stackBase, stackSize); err != nil {
		return
	}

	// re-enter the core on the new stack with a copy of the instance
	n := *c
	next = &n

	next.HobList = list
	next.OldHeapBase = oldBase
	next.NewHeapBase = newBase
	next.StackBase = stackBase
	next.StackSize = stackSize
	next.SwitchStackSignal = false

	next.Services = next.newServices()
	next.Services.CpuIo = c.Services.CpuIo
	next.Services.PciCfg = c.Services.PciCfg
	next.Ppi.Services = next.services

	next.PeiMemoryInstalled = true

	if next.ShadowedPeiCore, err = next.shadowCore(); err != nil {
		next.Log.V(1).Info("PEI core not shadowed", "err", err.Error())
	}

	next.report(EFI_PROGRESS_CODE, EFI_SW_PEI_CORE_PC_ENTRY_POINT, nil)

	_, err = next.Ppi.Install(&ppi.Descriptor{
		Flags: ppi.FlagPpi | ppi.FlagTerminateList,
		GUID:  MemoryDiscoveredPpiGuid,
	})

	if err != nil {
		return
	}

	next.Ppi.ProcessDispatchNotifications()

	return
}

// migrate copies the in use heap to permanent memory, through the temporary
// RAM support PPI when installed.
func (c *CoreInstance) migrate(oldBase uint64, newBase uint64, used uint64) error {
	d, err := c.Ppi.Locate(TemporaryRamSupportPpiGuid, 0)

	if err != nil {
		return c.Memory.Copy(newBase, oldBase, int(used))
	}

	t, ok := d.Interface.(TemporaryRamSupport)

	if !ok {
		return fmt.Errorf("%w: invalid temporary RAM support PPI", uefi.ErrUnsupported)
	}

	return t.TemporaryRamMigration(c.Services, oldBase, newBase, used)
}
