// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package runtimedxe implements the EFI Runtime Architectural Protocol, which
// tracks runtime images and events and converts them, together with the
// system and runtime services tables, from physical to virtual addressing
// when the operating system calls SetVirtualAddressMap().
package runtimedxe

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/btree"

	"github.com/usbarmory/go-pei/mem"
	"github.com/usbarmory/go-pei/uefi"
)

// EFI event types
const (
	EVT_SIGNAL_EXIT_BOOT_SERVICES     = 0x00000201
	EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE = 0x60000202
)

// ConvertPointer dispositions
const (
	EFI_OPTIONAL_POINTER = 0x00000001
)

// ErrFatal is wrapped by errors which leave the runtime environment unusable.
var ErrFatal = errors.New("runtime fatal error")

// State represents the addressing mode of the runtime environment.
type State int

// Runtime states
const (
	Physical State = iota
	VirtualPending
	Virtual
)

func (s State) String() string {
	switch s {
	case Physical:
		return "physical"
	case VirtualPending:
		return "virtual pending"
	case Virtual:
		return "virtual"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventNotify represents an event notification function.
type EventNotify func(event *EventEntry, context any)

// EventEntry represents a runtime event registration.
type EventEntry struct {
	Link[*EventEntry]

	Type           uint32
	NotifyTpl      uint64
	NotifyFunction EventNotify
	NotifyContext  any
}

// ImageEntry represents a runtime image registration.
type ImageEntry struct {
	Link[*ImageEntry]

	ImageBase uint64
	ImageSize uint64
	// RelocationData holds the image fixups with the values they had at
	// registration
	RelocationData []Relocation
	Handle         any
}

// Runtime represents the runtime architectural protocol instance.
type Runtime struct {
	ImageHead List[*ImageEntry]
	EventHead List[*EventEntry]

	AtRuntime   bool
	VirtualMode bool

	// MemoryDescriptorSize and MemoryDescriptorVersion hold the layout of
	// the map being applied
	MemoryDescriptorSize    uint64
	MemoryDescriptorVersion uint32

	// Memory is the physical address space holding images and tables
	Memory *mem.Space

	// ImageBase is the base address of the runtime driver itself
	ImageBase uint64
	// SystemTable is the physical address of the EFI System Table
	SystemTable uint64

	// InvalidateInstructionCache is invoked on each relocated image
	InvalidateInstructionCache func(base uint64, size uint64)

	Log logr.Logger

	// virtual map stashed for the duration of SetVirtualAddressMap()
	virtualMap *btree.BTreeG[*uefi.MemoryDescriptor]
}

// New returns a runtime instance for the argument address space and tables.
func New(space *mem.Space, imageBase uint64, systemTable uint64, log logr.Logger) *Runtime {
	return &Runtime{
		Memory:      space,
		ImageBase:   imageBase,
		SystemTable: systemTable,
		Log:         log,
	}
}

// State returns the current addressing mode.
func (r *Runtime) State() State {
	switch {
	case !r.VirtualMode:
		return Physical
	case r.virtualMap != nil:
		return VirtualPending
	default:
		return Virtual
	}
}

// RegisterImage tracks an image which must be relocated on virtual address
// map changes, the current value of each fixup is captured to detect
// locations modified after load.
func (r *Runtime) RegisterImage(base uint64, size uint64, relocs []Relocation, handle any) (e *ImageEntry, err error) {
	if r.VirtualMode {
		return nil, uefi.ErrUnsupported
	}

	if size == 0 || !r.Memory.Contains(base, int(size)) {
		return nil, uefi.ErrInvalidParameter
	}

	e = &ImageEntry{
		ImageBase: base,
		ImageSize: size,
		Handle:    handle,
	}

	for _, reloc := range relocs {
		if reloc.Offset+uint64(reloc.Type.Size()) > size {
			return nil, fmt.Errorf("%w: relocation offset %#x outside image", uefi.ErrInvalidParameter, reloc.Offset)
		}

		if reloc.Value, err = reloc.read(r.Memory, base); err != nil {
			return nil, err
		}

		e.RelocationData = append(e.RelocationData, reloc)
	}

	r.ImageHead.Append(e)

	r.Log.V(1).Info("runtime image registered", "base", fmt.Sprintf("%#x", base), "size", size, "relocations", len(relocs))

	return
}

// UnregisterImage stops tracking an image.
func (r *Runtime) UnregisterImage(e *ImageEntry) {
	r.ImageHead.Remove(e)
}

// RegisterEvent tracks an event signaled on boot services exit or virtual
// address map changes, depending on its type.
func (r *Runtime) RegisterEvent(t uint32, tpl uint64, fn EventNotify, ctx any) (e *EventEntry, err error) {
	if fn == nil {
		return nil, uefi.ErrInvalidParameter
	}

	e = &EventEntry{
		Type:           t,
		NotifyTpl:      tpl,
		NotifyFunction: fn,
		NotifyContext:  ctx,
	}

	r.EventHead.Append(e)

	return
}

// CloseEvent stops tracking an event.
func (r *Runtime) CloseEvent(e *EventEntry) {
	r.EventHead.Remove(e)
}

func (r *Runtime) signal(t uint32) {
	r.EventHead.Traverse(func(e *EventEntry) error {
		if e.Type&t == t {
			e.NotifyFunction(e, e.NotifyContext)
		}

		return nil
	})
}

// ExitBootServices signals exit boot services events and transitions to
// runtime, where SetVirtualAddressMap() becomes available.
func (r *Runtime) ExitBootServices() error {
	if r.AtRuntime {
		return uefi.ErrAlreadyStarted
	}

	r.signal(EVT_SIGNAL_EXIT_BOOT_SERVICES)
	r.AtRuntime = true

	r.Log.Info("exit boot services")

	return nil
}
