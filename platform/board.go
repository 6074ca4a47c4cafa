// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package platform implements an emulated board, booting reference PEI
// modules from a flash firmware volume up to the runtime environment.
package platform

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/usbarmory/go-pei/config"
	"github.com/usbarmory/go-pei/hob"
	"github.com/usbarmory/go-pei/mem"
	"github.com/usbarmory/go-pei/pei"
	"github.com/usbarmory/go-pei/ppi"
	"github.com/usbarmory/go-pei/runtimedxe"
)

// ErrNotBooted is returned by operations requiring a completed boot.
var ErrNotBooted = errors.New("board not booted")

// Board represents the emulated platform.
type Board struct {
	sync.Mutex

	Config *config.Platform
	Log    logr.Logger

	// Memory is the board physical address space, rebuilt on each boot
	Memory *mem.Space

	// Core is the PEI core instance active at the end of the last boot
	Core *pei.CoreInstance
	// HobList is the HOB list handed off to the DXE IPL
	HobList *hob.List
	// Runtime is the runtime environment built by the DXE IPL
	Runtime *runtimedxe.Runtime

	// Started is the board creation time
	Started time.Time
	// Err holds the error which halted the last boot
	Err error

	statusCodes []pei.StatusCodeRecord
	resets      int
	env         *environment
}

// New returns a board for the argument configuration.
func New(cfg *config.Platform, log logr.Logger) (b *Board, err error) {
	if cfg == nil {
		cfg = config.Default()
	}

	if err = cfg.Validate(); err != nil {
		return
	}

	b = &Board{
		Config:  cfg,
		Log:     log,
		Started: time.Now(),
	}

	return
}

func (b *Board) space() (space *mem.Space, err error) {
	space = &mem.Space{}

	for name, r := range b.Config.Regions() {
		var region *mem.Region

		if region, err = mem.NewRegion(name, uint64(r.Base), int(r.Size)); err != nil {
			return
		}

		if err = space.Add(region); err != nil {
			return
		}
	}

	volume, err := BootFirmwareVolume(int(b.Config.Flash.Size), b.Config.Compression)

	if err != nil {
		return
	}

	err = space.Write(uint64(b.Config.Flash.Base), volume)

	return
}

// SecCoreData returns the SEC hand-off for the board temporary RAM and
// flash layout.
func (b *Board) SecCoreData() pei.SecCoreData {
	car := b.Config.TemporaryRam
	half := uint64(car.Size) / 2

	return pei.SecCoreData{
		BootFirmwareVolumeBase: uint64(b.Config.Flash.Base),
		BootFirmwareVolumeSize: uint64(b.Config.Flash.Size),
		TemporaryRamBase:       uint64(car.Base),
		TemporaryRamSize:       uint64(car.Size),
		PeiTemporaryRamBase:    uint64(car.Base),
		PeiTemporaryRamSize:    half,
		StackBase:              uint64(car.Base) + half,
		StackSize:              half,
	}
}

// Boot resets the board and runs the PEI phase up to the DXE IPL hand-off.
func (b *Board) Boot() (err error) {
	b.Lock()
	defer b.Unlock()

	b.Core = nil
	b.HobList = nil
	b.Runtime = nil
	b.Err = nil
	b.statusCodes = nil
	b.resets = 0
	b.env = nil

	defer func() {
		b.Err = err
	}()

	if b.Memory, err = b.space(); err != nil {
		return
	}

	cfg := pei.Config{
		MaxStackSize:  uint64(b.Config.MaxStackSize),
		MaxPpi:        b.Config.MaxPpi,
		MaxNotify:     b.Config.MaxNotify,
		MaxVolumes:    b.Config.MaxVolumes,
		ScanCacheSize: b.Config.ScanCacheSize,
		Images:        b.images(),
		Log:           b.Log.WithName("pei"),
	}

	c, err := pei.New(b.SecCoreData(), b.Memory, cfg,
		&ppi.Descriptor{
			Flags:     ppi.FlagPpi | ppi.FlagTerminateList,
			GUID:      pei.TemporaryRamSupportPpiGuid,
			Interface: &temporaryRamSupport{b},
		},
	)

	if err != nil {
		return
	}

	b.Log.Info("boot", "mode", b.Config.BootMode, "compression", b.Config.Compression)

	b.Core, err = c.Run()

	if err != nil {
		return fmt.Errorf("boot halted, %w", err)
	}

	return
}

// StatusCodes returns the status codes reported during the last boot.
func (b *Board) StatusCodes() []pei.StatusCodeRecord {
	b.Lock()
	defer b.Unlock()

	return append([]pei.StatusCodeRecord(nil), b.statusCodes...)
}

// Resets returns the number of reset requests of the last boot.
func (b *Board) Resets() int {
	b.Lock()
	defer b.Unlock()

	return b.resets
}

// Uptime returns the time elapsed since the board creation.
func (b *Board) Uptime() time.Duration {
	return time.Since(b.Started)
}
