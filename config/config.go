// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package config implements the emulated platform configuration, loaded in
// JSON format.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

// Default platform layout
const (
	DefaultTemporaryRamBase = 0x00100000
	DefaultTemporaryRamSize = 0x00040000
	DefaultFlashBase        = 0xffc00000
	DefaultFlashSize        = 0x00100000
	DefaultDramBase         = 0x10000000
	DefaultDramSize         = 0x04000000
	DefaultRuntimeBase      = 0x20000000
	DefaultRuntimeSize      = 0x00100000
	DefaultVirtualBase      = 0xffffffff00000000
	DefaultMaxStackSize     = 0x20000
)

const pageSize = 0x1000

// Boot modes
var bootModes = map[string]uint32{
	"full":       0x00,
	"minimal":    0x01,
	"no-change":  0x02,
	"diagnostic": 0x03,
	"s3":         0x11,
	"recovery":   0x20,
}

// Compression algorithms for the post-memory firmware volume
var compressions = []string{"none", "lzma", "lz4", "zstd"}

// Address represents a physical address or size, JSON values can be either
// numbers or hex strings.
type Address uint64

// UnmarshalJSON implements json.Unmarshaler.
func (a *Address) UnmarshalJSON(b []byte) (err error) {
	var s string
	var v uint64

	if err = json.Unmarshal(b, &s); err != nil {
		if err = json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("invalid address %s", b)
		}

		*a = Address(v)
		return
	}

	if v, err = strconv.ParseUint(s, 0, 64); err != nil {
		return fmt.Errorf("invalid address %q, %v", s, err)
	}

	*a = Address(v)

	return
}

// MarshalJSON implements json.Marshaler.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%#x", uint64(a)))
}

// Region represents a physical memory range.
type Region struct {
	Base Address `json:"base"`
	Size Address `json:"size"`
}

// End returns the region end address (exclusive).
func (r Region) End() uint64 {
	return uint64(r.Base) + uint64(r.Size)
}

// Platform represents the emulated platform configuration.
type Platform struct {
	// TemporaryRam is the cache-as-RAM range, its lower half holds the
	// PEI heap and the upper one the SEC stack
	TemporaryRam Region `json:"temporary_ram"`
	// Flash holds the boot firmware volume
	Flash Region `json:"flash"`
	// Dram is installed as permanent memory
	Dram Region `json:"dram"`
	// Runtime holds the runtime services tables and images
	Runtime Region `json:"runtime"`

	// VirtualBase is the virtual address runtime memory is mapped to
	VirtualBase Address `json:"virtual_base"`
	// DescriptorSize is the stride of the virtual address map
	DescriptorSize int `json:"descriptor_size"`

	BootMode    string `json:"boot_mode"`
	Compression string `json:"compression"`

	MaxStackSize  Address `json:"max_stack_size"`
	MaxPpi        int     `json:"max_ppi"`
	MaxNotify     int     `json:"max_notify"`
	MaxVolumes    int     `json:"max_volumes"`
	ScanCacheSize int     `json:"scan_cache_size"`
}

// Default returns the default platform configuration.
func Default() *Platform {
	return &Platform{
		TemporaryRam: Region{DefaultTemporaryRamBase, DefaultTemporaryRamSize},
		Flash:        Region{DefaultFlashBase, DefaultFlashSize},
		Dram:         Region{DefaultDramBase, DefaultDramSize},
		Runtime:      Region{DefaultRuntimeBase, DefaultRuntimeSize},
		VirtualBase:  DefaultVirtualBase,
		BootMode:     "full",
		Compression:  "lzma",
		MaxStackSize: DefaultMaxStackSize,
	}
}

// Parse decodes a JSON configuration, omitted fields retain their default
// value.
func Parse(buf []byte) (p *Platform, err error) {
	p = Default()

	if err = json.Unmarshal(buf, p); err != nil {
		return nil, fmt.Errorf("invalid configuration, %v", err)
	}

	if err = p.Validate(); err != nil {
		return nil, err
	}

	return
}

// Load reads the JSON configuration at the argument path.
func Load(fsys fs.FS, name string) (*Platform, error) {
	buf, err := fs.ReadFile(fsys, name)

	if err != nil {
		return nil, fmt.Errorf("cannot load configuration file, %v", err)
	}

	return Parse(buf)
}

// BootModeValue returns the configured boot mode.
func (p *Platform) BootModeValue() uint32 {
	return bootModes[p.BootMode]
}

// Regions returns the configured memory regions indexed by name.
func (p *Platform) Regions() map[string]Region {
	return map[string]Region{
		"temporary_ram": p.TemporaryRam,
		"flash":         p.Flash,
		"dram":          p.Dram,
		"runtime":       p.Runtime,
	}
}

// Validate checks the configuration consistency.
func (p *Platform) Validate() error {
	var names []string

	regions := p.Regions()

	for name := range regions {
		names = append(names, name)
	}

	sort.Strings(names)

	for i, name := range names {
		r := regions[name]

		if r.Size == 0 || r.End() < uint64(r.Base) {
			return fmt.Errorf("invalid %s region", name)
		}

		if r.Base%pageSize != 0 || r.Size%pageSize != 0 {
			return fmt.Errorf("%s region is not page aligned", name)
		}

		for _, other := range names[i+1:] {
			o := regions[other]

			if uint64(r.Base) < o.End() && uint64(o.Base) < r.End() {
				return fmt.Errorf("%s region overlaps %s", name, other)
			}
		}
	}

	if _, ok := bootModes[p.BootMode]; !ok {
		return fmt.Errorf("invalid boot mode %q", p.BootMode)
	}

	if !valid(p.Compression) {
		return fmt.Errorf("invalid compression %q, supported: %s", p.Compression, strings.Join(compressions, ", "))
	}

	if p.DescriptorSize != 0 && (p.DescriptorSize < 40 || p.DescriptorSize%8 != 0) {
		return errors.New("invalid descriptor size")
	}

	if p.MaxPpi < 0 || p.MaxNotify < 0 || p.MaxVolumes < 0 || p.ScanCacheSize < 0 {
		return errors.New("negative limit")
	}

	return nil
}

func valid(compression string) bool {
	for _, c := range compressions {
		if c == compression {
			return true
		}
	}

	return false
}
