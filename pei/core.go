// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pei

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/usbarmory/go-pei/fv"
	"github.com/usbarmory/go-pei/hob"
	"github.com/usbarmory/go-pei/mem"
	"github.com/usbarmory/go-pei/ppi"
	"github.com/usbarmory/go-pei/uefi"
)

// Default core limits
const (
	DefaultMaxStackSize  = 0x20000
	DefaultMaxVolumes    = 6
	DefaultScanCacheSize = 8
)

// Config represents the core configuration.
type Config struct {
	// MaxStackSize bounds the stack reserved in permanent memory
	MaxStackSize uint64
	// MaxPpi and MaxNotify bound the PPI database
	MaxPpi    int
	MaxNotify int
	// MaxVolumes bounds the number of dispatched firmware volumes
	MaxVolumes int
	// ScanCacheSize is the number of firmware volume scans kept in cache
	ScanCacheSize int

	// Images maps PEIM file names to their entry points
	Images Images

	// Log receives core diagnostics
	Log logr.Logger

	// Now returns the time used for performance records
	Now func() time.Time
}

func (cfg *Config) setDefaults() {
	if cfg.MaxStackSize == 0 {
		cfg.MaxStackSize = DefaultMaxStackSize
	}

	if cfg.MaxPpi == 0 {
		cfg.MaxPpi = ppi.DefaultMax
	}

	if cfg.MaxNotify == 0 {
		cfg.MaxNotify = ppi.DefaultMax
	}

	if cfg.MaxVolumes == 0 {
		cfg.MaxVolumes = DefaultMaxVolumes
	}

	if cfg.ScanCacheSize == 0 {
		cfg.ScanCacheSize = DefaultScanCacheSize
	}

	if cfg.Images == nil {
		cfg.Images = make(Images)
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}
}

// CoreInstance represents the PEI core private data (PEI_CORE_INSTANCE).
//
// An instance is single threaded, it must not be used concurrently.
type CoreInstance struct {
	Signature uint32

	// Services is the services table bound to this instance
	Services *Services

	// SecCoreData is the SEC hand-off
	SecCoreData SecCoreData

	Memory  *mem.Space
	HobList *hob.List
	Ppi     *Database

	// PeiMemoryInstalled is set once the HOB list has been migrated to
	// permanent memory.
	PeiMemoryInstalled bool
	// SwitchStackSignal is set when permanent memory has been installed
	// by the running module and the transition is pending.
	SwitchStackSignal bool

	// permanent memory as requested by InstallPeiMemory
	PhysicalMemoryBegin   uint64
	PhysicalMemoryLength  uint64
	FreePhysicalMemoryTop uint64

	// heap boundaries across the memory transition
	OldHeapBase uint64
	NewHeapBase uint64

	// stack in permanent memory
	StackBase uint64
	StackSize uint64

	// ShadowedPeiCore is the address of the core image in permanent
	// memory.
	ShadowedPeiCore uint64

	// CurrentModule is the module being dispatched
	CurrentModule *Module

	Config Config
	Log    logr.Logger

	dispatch  *dispatchState
	perf      *Performance
	extractor fv.Extractor
}

// New initializes the PEI core from the SEC hand-off, it creates the HOB
// list in temporary RAM, installs the argument PPIs and opens the boot
// firmware volume.
func New(sec SecCoreData, space *mem.Space, cfg Config, list ...*ppi.Descriptor) (c *CoreInstance, err error) {
	cfg.setDefaults()

	c = &CoreInstance{
		Signature:   CoreSignature,
		SecCoreData: sec,
		Memory:      space,
		Config:      cfg,
		Log:         cfg.Log,
		perf:        &Performance{},
	}

	if c.HobList, err = hob.Create(space, sec.PeiTemporaryRamBase, sec.PeiTemporaryRamSize, uint32(BOOT_WITH_FULL_CONFIGURATION)); err != nil {
		return nil, fmt.Errorf("%w, %w", ErrFatal, err)
	}

	c.HobList.Log = c.Log
	c.OldHeapBase = c.HobList.Address()

	c.Ppi = ppi.NewDatabase[*Services](c.services)
	c.Ppi.MaxPpi = cfg.MaxPpi
	c.Ppi.MaxNotify = cfg.MaxNotify
	c.Ppi.Log = c.Log

	c.extractor = &ppiExtractor{db: c.Ppi}
	c.Services = c.newServices()

	if c.dispatch, err = newDispatchState(cfg.ScanCacheSize); err != nil {
		return nil, err
	}

	c.Log.Info("PEI core",
		"temporary RAM", fmt.Sprintf("%#x-%#x", sec.TemporaryRamBase, sec.TemporaryRamBase+sec.TemporaryRamSize),
		"HOB list", fmt.Sprintf("%#x", c.HobList.Address()))

	err = c.Ppi.Notify(&Notify{
		Flags:  ppi.FlagNotifyCallback | ppi.FlagTerminateList,
		GUID:   FirmwareVolumeInfoPpiGuid,
		Notify: firmwareVolumeInfoNotify,
	})

	if err != nil {
		return nil, err
	}

	if err = c.addVolume(sec.BootFirmwareVolumeBase); err != nil {
		return nil, fmt.Errorf("%w, boot firmware volume, %w", ErrFatal, err)
	}

	if len(list) > 0 {
		if _, err = c.Ppi.Install(list...); err != nil {
			return nil, err
		}
	}

	c.report(EFI_PROGRESS_CODE, EFI_SW_PC_INIT, nil)

	return
}

// Run dispatches every module and hands off to the DXE IPL PPI, it returns
// the core instance active at the end of the phase.
func (c *CoreInstance) Run() (*CoreInstance, error) {
	var err error

	if c, err = c.Dispatch(); err != nil {
		return c, err
	}

	return c, c.handoff()
}

// Dispatch runs the dispatcher until no more modules can be dispatched, the
// memory transition is executed when requested by a module and dispatching
// resumes on the new core instance, which is returned.
func (c *CoreInstance) Dispatch() (*CoreInstance, error) {
	for {
		if err := c.dispatcher(); err != nil {
			return c, err
		}

		if !c.SwitchStackSignal {
			return c, nil
		}

		next, err := c.switchStack()

		if err != nil {
			c.report(EFI_ERROR_CODE|EFI_ERROR_UNRECOVERD, EFI_SW_EC_ILLEGAL_SOFTWARE_STATE, nil)
			return c, fmt.Errorf("%w, memory transition, %w", ErrFatal, err)
		}

		c = next
	}
}

func (c *CoreInstance) handoff() error {
	if !c.PeiMemoryInstalled {
		c.report(EFI_ERROR_CODE|EFI_ERROR_MAJOR, EFI_SW_PEI_CORE_EC_MEMORY_NOT_INSTALLED, nil)
		return fmt.Errorf("%w: permanent memory never installed", ErrFatal)
	}

	d, err := c.Ppi.Locate(DxeIplPpiGuid, 0)

	if err != nil {
		c.report(EFI_ERROR_CODE|EFI_ERROR_MAJOR, EFI_SW_PEI_CORE_EC_DXEIPL_NOT_FOUND, nil)
		return fmt.Errorf("%w: DXE IPL PPI not found", ErrFatal)
	}

	ipl, ok := d.Interface.(DxeIpl)

	if !ok {
		c.report(EFI_ERROR_CODE|EFI_ERROR_MAJOR, EFI_SW_PEI_CORE_EC_DXEIPL_NOT_FOUND, nil)
		return fmt.Errorf("%w: invalid DXE IPL PPI", ErrFatal)
	}

	c.Log.Info("DXE IPL entry")
	c.report(EFI_PROGRESS_CODE, EFI_SW_PEI_CORE_PC_HANDOFF_TO_NEXT, nil)

	rec := c.perf.start(DxeIplPpiGuid, "DxeIpl", c.Config.Now())
	err = ipl.Entry(c.Services, c.HobList)
	c.perf.end(rec, c.Config.Now())

	if err != nil {
		return fmt.Errorf("%w: DXE IPL, %w", ErrFatal, err)
	}

	return nil
}

// Performance returns the performance records of the boot.
func (c *CoreInstance) Performance() []PerfRecord {
	return c.perf.Records()
}

// ppiExtractor processes GUID defined sections with the extraction PPI
// installed under the section definition GUID.
type ppiExtractor struct {
	db *Database
}

func (x *ppiExtractor) Extract(s *fv.Section) ([]byte, error) {
	d, err := x.db.Locate(s.DefinitionGuid, 0)

	if err != nil {
		return nil, fmt.Errorf("%w: no extraction PPI for %s", uefi.ErrNotAvailableYet, s.DefinitionGuid)
	}

	e, ok := d.Interface.(fv.Extractor)

	if !ok {
		return nil, fmt.Errorf("%w: invalid extraction PPI %s", uefi.ErrUnsupported, s.DefinitionGuid)
	}

	return e.Extract(s)
}

func firmwareVolumeInfoNotify(ps *Services, _ *Notify, d *ppi.Descriptor) error {
	info, ok := d.Interface.(*FirmwareVolumeInfo)

	if !ok {
		return fmt.Errorf("%w: invalid firmware volume info PPI", uefi.ErrInvalidParameter)
	}

	if info.FvFormat != fv.FileSystem2Guid {
		return fmt.Errorf("%w: firmware volume format %s", uefi.ErrUnsupported, info.FvFormat)
	}

	if ps == nil || ps.core == nil {
		return errors.New("notification without core instance")
	}

	return ps.core.addVolume(info.FvInfo)
}

// newScanCache returns the firmware volume scan cache.
func newScanCache(size int) (*lru.Cache[uint64, *volumeScan], error) {
	return lru.New[uint64, *volumeScan](size)
}
