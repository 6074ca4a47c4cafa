// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pei implements the Pre-EFI Initialization (PEI) Foundation: the
// core instance handed from SEC, the PEI services table, the PEIM dispatcher
// and the transition from temporary to permanent memory.
//
// The core follows the UEFI Platform Initialization (PI) specification
// Volume 1 over a simulated physical address space (see package mem).
package pei

import (
	"errors"

	"github.com/usbarmory/go-pei/fv"
	"github.com/usbarmory/go-pei/hob"
	"github.com/usbarmory/go-pei/ppi"
	"github.com/usbarmory/go-pei/uefi"
)

// ErrFatal is wrapped by errors which halt the boot.
var ErrFatal = errors.New("PEI core fatal error")

// CoreSignature identifies a PEI core instance ("PeiC").
const CoreSignature = 0x43696550

// Services table identification
const (
	ServicesSignature = 0x5652455320494550 // VRES IEP
	ServicesRevision  = 1<<16 | 70
)

// BootMode represents the PHIT boot mode (EFI_BOOT_MODE).
type BootMode uint32

// EFI_BOOT_MODE values
const (
	BOOT_WITH_FULL_CONFIGURATION                  BootMode = 0x00
	BOOT_WITH_MINIMAL_CONFIGURATION               BootMode = 0x01
	BOOT_ASSUMING_NO_CONFIGURATION_CHANGES        BootMode = 0x02
	BOOT_WITH_FULL_CONFIGURATION_PLUS_DIAGNOSTICS BootMode = 0x03
	BOOT_WITH_DEFAULT_SETTINGS                    BootMode = 0x04
	BOOT_ON_S4_RESUME                             BootMode = 0x05
	BOOT_ON_S5_RESUME                             BootMode = 0x06
	BOOT_WITH_MFG_MODE_SETTINGS                   BootMode = 0x07
	BOOT_ON_S2_RESUME                             BootMode = 0x10
	BOOT_ON_S3_RESUME                             BootMode = 0x11
	BOOT_ON_FLASH_UPDATE                          BootMode = 0x12
	BOOT_IN_RECOVERY_MODE                         BootMode = 0x20
)

var bootModeName = map[BootMode]string{
	BOOT_WITH_FULL_CONFIGURATION:                  "full configuration",
	BOOT_WITH_MINIMAL_CONFIGURATION:               "minimal configuration",
	BOOT_ASSUMING_NO_CONFIGURATION_CHANGES:        "no configuration changes",
	BOOT_WITH_FULL_CONFIGURATION_PLUS_DIAGNOSTICS: "full configuration plus diagnostics",
	BOOT_WITH_DEFAULT_SETTINGS:                    "default settings",
	BOOT_ON_S4_RESUME:                             "S4 resume",
	BOOT_ON_S5_RESUME:                             "S5 resume",
	BOOT_WITH_MFG_MODE_SETTINGS:                   "manufacturing mode",
	BOOT_ON_S2_RESUME:                             "S2 resume",
	BOOT_ON_S3_RESUME:                             "S3 resume",
	BOOT_ON_FLASH_UPDATE:                          "flash update",
	BOOT_IN_RECOVERY_MODE:                         "recovery",
}

func (m BootMode) String() string {
	if s, ok := bootModeName[m]; ok {
		return s
	}

	return "unknown"
}

// PPI GUIDs produced or consumed by the core
var (
	MemoryDiscoveredPpiGuid    = uefi.MustParseGUID("f894643d-c449-42d1-8ea8-85bdd8c65bde")
	DxeIplPpiGuid              = uefi.MustParseGUID("0ae8ce5d-e448-4437-a8d7-ebf5f194f731")
	FirmwareVolumeInfoPpiGuid  = uefi.MustParseGUID("49edb1c1-bf21-4761-bb12-eb0031aabb39")
	Security2PpiGuid           = uefi.MustParseGUID("dcd0be23-9586-40f4-b643-06522cce4c3a")
	TemporaryRamSupportPpiGuid = uefi.MustParseGUID("dbe23aa9-a345-4b97-85b6-b226f1617389")
	StatusCodePpiGuid          = uefi.MustParseGUID("229832d3-7a30-4b36-b827-f40cb7d45436")
	ResetPpiGuid               = uefi.MustParseGUID("ef398d58-9dfd-4103-bf94-78c6f4fe712f")
	MasterBootModePpiGuid      = uefi.MustParseGUID("7408d748-fc8c-4ee6-9288-c4bec092a410")
)

// Notify is a notification descriptor receiving the PEI services table.
type Notify = ppi.Notify[*Services]

// Database is the PPI database type used by the core.
type Database = ppi.Database[*Services]

// DxeIpl is the interface of the DXE Initial Program Load PPI, the last
// module invoked by the core.
type DxeIpl interface {
	Entry(ps *Services, hobList *hob.List) error
}

// Security is the interface of the security PPI
// (EFI_PEI_SECURITY2_PPI), consulted before each dispatch.
type Security interface {
	// AuthenticationState returns an error when the file must not be
	// dispatched, deferExecution postpones the dispatch.
	AuthenticationState(ps *Services, authStatus uint32, volume *fv.Volume, file *fv.File) (deferExecution bool, err error)
}

// TemporaryRamSupport is the interface of the temporary RAM support PPI
// produced by SEC, when present it performs the migration of the in use
// temporary heap to permanent memory.
type TemporaryRamSupport interface {
	TemporaryRamMigration(ps *Services, temporaryMemoryBase uint64, permanentMemoryBase uint64, size uint64) error
}

// Reset is the interface of the reset PPI.
type Reset interface {
	ResetSystem(ps *Services) error
}

// FirmwareVolumeInfo represents the firmware volume information PPI
// (EFI_PEI_FIRMWARE_VOLUME_INFO_PPI), it announces a volume to the
// dispatcher.
type FirmwareVolumeInfo struct {
	FvFormat       uefi.GUID
	FvInfo         uint64
	FvInfoSize     uint64
	ParentFvName   uefi.GUID
	ParentFileName uefi.GUID
}

// Rebase implements ppi.Relocatable.
func (i *FirmwareVolumeInfo) Rebase(oldBase uint64, oldSize uint64, newBase uint64) {
	if i.FvInfo >= oldBase && i.FvInfo-oldBase < oldSize {
		i.FvInfo = i.FvInfo - oldBase + newBase
	}
}

// SecCoreData describes the environment handed over by SEC
// (EFI_SEC_PEI_HAND_OFF).
type SecCoreData struct {
	BootFirmwareVolumeBase uint64
	BootFirmwareVolumeSize uint64

	TemporaryRamBase uint64
	TemporaryRamSize uint64

	// PeiTemporaryRam is the temporary RAM area reserved for the HOB list
	PeiTemporaryRamBase uint64
	PeiTemporaryRamSize uint64

	StackBase uint64
	StackSize uint64
}
