// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package platform

import (
	"errors"
	"io"
	"testing"

	"github.com/go-logr/logr"
	"github.com/u-root/u-root/pkg/boot/bzimage"

	"github.com/usbarmory/go-pei/config"
	"github.com/usbarmory/go-pei/hob"
	"github.com/usbarmory/go-pei/pei"
	"github.com/usbarmory/go-pei/runtimedxe"
	"github.com/usbarmory/go-pei/uefi"
)

func testConfig() *config.Platform {
	cfg := config.Default()
	cfg.Dram.Size = 0x400000

	return cfg
}

func testBoard(t *testing.T, cfg *config.Platform) *Board {
	b, err := New(cfg, logr.Discard())

	if err != nil {
		t.Fatal(err)
	}

	if err = b.Boot(); err != nil {
		t.Fatal(err)
	}

	return b
}

func checkState(t *testing.T, b *Board, name uefi.GUID, want pei.ModuleState) {
	m, err := b.Core.Module(name)

	if err != nil {
		t.Fatal(err)
	}

	if m.State != want {
		t.Errorf("module %s state %q, expected %q", name, m.State, want)
	}
}

func TestBoot(t *testing.T) {
	for _, compression := range []string{"none", "lzma", "lz4", "zstd"} {
		t.Run(compression, func(t *testing.T) {
			cfg := testConfig()
			cfg.Compression = compression

			b := testBoard(t, cfg)

			if !b.Core.PeiMemoryInstalled || b.Runtime == nil || b.HobList == nil {
				t.Fatal("boot did not reach the runtime environment")
			}

			for _, name := range []uefi.GUID{StatusCodePei, PlatformPei, MemoryInitPei, PostMemoryVolume, DxeIplPei, ResetPei} {
				checkState(t, b, name, pei.Dispatched)
			}

			checkState(t, b, ExtractPei, pei.Shadowed)

			if n := len(b.Core.Volumes()); n != 2 {
				t.Fatalf("unexpected volume count %d", n)
			}

			// the apriori status code module reports every other
			// module dispatch
			begin := 0

			for _, r := range b.StatusCodes() {
				if r.CallerID == PlatformPei && r.Value == pei.EFI_SW_PC_INIT_BEGIN {
					begin++
				}
			}

			if begin != 1 {
				t.Fatal("status code PPI not installed before dispatch")
			}

			if _, err := b.HobList.Next(hob.Cpu, 0); err != nil {
				t.Fatal(err)
			}

			if mode, _ := b.HobList.BootMode(); mode != uint32(pei.BOOT_WITH_FULL_CONFIGURATION) {
				t.Fatalf("unexpected boot mode %#x", mode)
			}
		})
	}
}

func TestBootS3(t *testing.T) {
	cfg := testConfig()
	cfg.BootMode = "s3"

	b := testBoard(t, cfg)

	checkState(t, b, ExtractPei, pei.Dispatched)
	checkState(t, b, DxeIplPei, pei.Dispatched)

	if mode, _ := b.HobList.BootMode(); mode != uint32(pei.BOOT_ON_S3_RESUME) {
		t.Fatalf("unexpected boot mode %#x", mode)
	}
}

func TestReboot(t *testing.T) {
	b := testBoard(t, testConfig())
	first := b.Core

	if err := b.Boot(); err != nil {
		t.Fatal(err)
	}

	if b.Core == first || b.Runtime.VirtualMode {
		t.Fatal("board state not reset")
	}
}

func TestReset(t *testing.T) {
	b := testBoard(t, testConfig())

	if err := b.Core.Services.ResetSystem(); err != nil {
		t.Fatal(err)
	}

	if b.Resets() != 1 {
		t.Fatal("reset PPI not invoked")
	}
}

func TestMemoryMap(t *testing.T) {
	b := testBoard(t, testConfig())

	m, err := b.MemoryMap()

	if err != nil {
		t.Fatal(err)
	}

	dram := b.Config.Dram
	next := uint64(dram.Base)
	allocated := 0

	for i, d := range m.Descriptors {
		if i > 0 && d.PhysicalStart < m.Descriptors[i-1].PhysicalEnd() {
			t.Fatalf("overlapping descriptor %d", i)
		}

		if d.PhysicalStart < uint64(dram.Base) || d.PhysicalStart >= dram.End() {
			continue
		}

		if d.PhysicalStart != next {
			t.Fatalf("hole in permanent memory at %#x", next)
		}

		if uefi.MemoryType(d.Type) != uefi.EfiConventionalMemory {
			allocated++
		}

		next = d.PhysicalEnd()
	}

	if next != dram.End() || allocated < 2 {
		t.Fatalf("unexpected permanent memory description (end:%#x allocated:%d)", next, allocated)
	}

	entries, err := m.E820()

	if err != nil {
		t.Fatal(err)
	}

	var ram uint64

	for _, e := range entries {
		if e.MemType == bzimage.RAM {
			ram += e.Size
		}
	}

	if ram != uint64(dram.Size) {
		t.Fatalf("got %#x bytes of RAM, expected %#x", ram, uint64(dram.Size))
	}
}

func TestSetVirtualAddressMap(t *testing.T) {
	cfg := testConfig()
	cfg.DescriptorSize = 48

	b, err := New(cfg, logr.Discard())

	if err != nil {
		t.Fatal(err)
	}

	if err = b.SetVirtualAddressMap(); !errors.Is(err, ErrNotBooted) {
		t.Fatalf("got %v, expected %v", err, ErrNotBooted)
	}

	if err = b.Boot(); err != nil {
		t.Fatal(err)
	}

	if err = b.SetVirtualAddressMap(); err != nil {
		t.Fatal(err)
	}

	if b.Runtime.State() != runtimedxe.Virtual {
		t.Fatalf("unexpected state %s", b.Runtime.State())
	}

	base := uint64(cfg.Runtime.Base)
	virtual := uint64(cfg.VirtualBase)

	if addr, converted, _ := b.VariableStore(); !converted || addr != virtual+variableStoreOffset {
		t.Fatalf("variable store not converted (%#x)", addr)
	}

	st := &uefi.SystemTable{}

	if err = uefi.Decode(b.Memory, base, st); err != nil {
		t.Fatal(err)
	}

	if st.RuntimeServices != virtual+runtimeServicesOffset || st.FirmwareVendor != virtual+firmwareVendorOffset {
		t.Fatalf("system table not converted %+v", st)
	}

	if ok, err := uefi.VerifyCRC32(b.Memory, base); err != nil || !ok {
		t.Fatal("invalid system table CRC32")
	}

	tables, err := st.ConfigurationTables(&translated{b.Memory, base, virtual})

	if err != nil {
		t.Fatal(err)
	}

	if tables[0].VendorTable != b.HobList.Address() || tables[1].VendorTable != virtual+variableStoreOffset {
		t.Fatal("unexpected configuration table conversion")
	}

	img := base + runtimeImageOffset

	if v, _ := b.Memory.Read64(img + pointerTableOffset); v != virtual+runtimeImageOffset {
		t.Fatalf("runtime image not relocated (%#x)", v)
	}

	if v, _ := b.Memory.Read32(img + imageBaseOffset); v != uint32(virtual+runtimeImageOffset) {
		t.Fatalf("runtime image not relocated (%#x)", v)
	}

	if err = b.SetVirtualAddressMap(); !errors.Is(err, uefi.ErrUnsupported) {
		t.Fatalf("second call, got %v", err)
	}
}

// translated reads virtual addresses of the runtime region.
type translated struct {
	m       io.ReaderAt
	base    uint64
	virtual uint64
}

func (t *translated) ReadAt(p []byte, off int64) (int, error) {
	return t.m.ReadAt(p, int64(uint64(off)-t.virtual+t.base))
}
