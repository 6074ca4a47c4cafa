// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mem implements a simulated physical address space made of byte
// backed memory regions.
//
// Firmware data structures (HOB lists, firmware volumes, service tables) are
// stored in regions and referenced by 64-bit physical addresses, so that
// pointers can be rebased or converted exactly as firmware does.
package mem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrFault is returned on accesses outside of any memory region.
var ErrFault = errors.New("physical address not backed by memory")

// Region represents a contiguous range of physical memory.
type Region struct {
	// Name identifies the region in memory maps
	Name string

	start uint64
	buf   []byte
}

// NewRegion allocates a zeroed region of physical memory at the argument
// start address.
func NewRegion(name string, start uint64, size int) (r *Region, err error) {
	if size <= 0 {
		return nil, errors.New("invalid region size")
	}

	if start+uint64(size) < start {
		return nil, errors.New("region overflows address space")
	}

	return &Region{
		Name:  name,
		start: start,
		buf:   make([]byte, size),
	}, nil
}

// Start returns the region physical start address.
func (r *Region) Start() uint64 {
	return r.start
}

// End returns the region physical end address (exclusive).
func (r *Region) End() uint64 {
	return r.start + uint64(len(r.buf))
}

// Size returns the region size.
func (r *Region) Size() int {
	return len(r.buf)
}

// Contains reports whether the range [addr, addr+n) falls within the region.
func (r *Region) Contains(addr uint64, n int) bool {
	return addr >= r.start && addr+uint64(n) <= r.End() && addr+uint64(n) >= addr
}

// Space represents a physical address space.
type Space struct {
	regions []*Region
}

// Add maps a region in the address space, regions must not overlap.
func (s *Space) Add(r *Region) error {
	for _, o := range s.regions {
		if r.start < o.End() && o.start < r.End() {
			return fmt.Errorf("region %s overlaps %s", r.Name, o.Name)
		}
	}

	s.regions = append(s.regions, r)

	sort.Slice(s.regions, func(i, j int) bool {
		return s.regions[i].start < s.regions[j].start
	})

	return nil
}

// Regions returns the mapped regions ordered by start address.
func (s *Space) Regions() []*Region {
	return s.regions
}

// Region returns the region mapping the argument address.
func (s *Space) Region(addr uint64) (*Region, bool) {
	i := sort.Search(len(s.regions), func(i int) bool {
		return s.regions[i].End() > addr
	})

	if i < len(s.regions) && s.regions[i].start <= addr {
		return s.regions[i], true
	}

	return nil, false
}

// Contains reports whether the range [addr, addr+n) is entirely backed by a
// single region.
func (s *Space) Contains(addr uint64, n int) bool {
	_, err := s.slice(addr, n)
	return err == nil
}

func (s *Space) slice(addr uint64, n int) ([]byte, error) {
	r, ok := s.Region(addr)

	if !ok || !r.Contains(addr, n) {
		return nil, fmt.Errorf("%w (%#x-%#x)", ErrFault, addr, addr+uint64(n))
	}

	off := addr - r.start

	return r.buf[off : off+uint64(n)], nil
}

// Slice returns the backing bytes of the range [addr, addr+n), changes to the
// returned slice are reflected in memory.
func (s *Space) Slice(addr uint64, n int) ([]byte, error) {
	return s.slice(addr, n)
}

// ReadAt implements io.ReaderAt over physical addresses.
func (s *Space) ReadAt(p []byte, off int64) (n int, err error) {
	var buf []byte

	if buf, err = s.slice(uint64(off), len(p)); err != nil {
		return
	}

	return copy(p, buf), nil
}

// WriteAt implements io.WriterAt over physical addresses.
func (s *Space) WriteAt(p []byte, off int64) (n int, err error) {
	var buf []byte

	if buf, err = s.slice(uint64(off), len(p)); err != nil {
		return
	}

	return copy(buf, p), nil
}

// Read reads n bytes at the argument physical address.
func (s *Space) Read(addr uint64, n int) (buf []byte, err error) {
	buf = make([]byte, n)
	_, err = s.ReadAt(buf, int64(addr))
	return
}

// Write writes buf at the argument physical address.
func (s *Space) Write(addr uint64, buf []byte) (err error) {
	_, err = s.WriteAt(buf, int64(addr))
	return
}

// Copy copies n bytes from src to dst, the ranges may overlap.
func (s *Space) Copy(dst uint64, src uint64, n int) (err error) {
	var d, r []byte

	if r, err = s.slice(src, n); err != nil {
		return
	}

	if d, err = s.slice(dst, n); err != nil {
		return
	}

	copy(d, r)

	return
}

// Fill sets n bytes at the argument physical address to val.
func (s *Space) Fill(addr uint64, n int, val byte) (err error) {
	var buf []byte

	if buf, err = s.slice(addr, n); err != nil {
		return
	}

	for i := range buf {
		buf[i] = val
	}

	return
}

// Read16 reads a little-endian 16-bit value.
func (s *Space) Read16(addr uint64) (uint16, error) {
	buf, err := s.slice(addr, 2)

	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(buf), nil
}

// Read32 reads a little-endian 32-bit value.
func (s *Space) Read32(addr uint64) (uint32, error) {
	buf, err := s.slice(addr, 4)

	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf), nil
}

// Read64 reads a little-endian 64-bit value.
func (s *Space) Read64(addr uint64) (uint64, error) {
	buf, err := s.slice(addr, 8)

	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(buf), nil
}

// Write16 writes a little-endian 16-bit value.
func (s *Space) Write16(addr uint64, val uint16) error {
	buf, err := s.slice(addr, 2)

	if err != nil {
		return err
	}

	binary.LittleEndian.PutUint16(buf, val)

	return nil
}

// Write32 writes a little-endian 32-bit value.
func (s *Space) Write32(addr uint64, val uint32) error {
	buf, err := s.slice(addr, 4)

	if err != nil {
		return err
	}

	binary.LittleEndian.PutUint32(buf, val)

	return nil
}

// Write64 writes a little-endian 64-bit value.
func (s *Space) Write64(addr uint64, val uint64) error {
	buf, err := s.slice(addr, 8)

	if err != nil {
		return err
	}

	binary.LittleEndian.PutUint64(buf, val)

	return nil
}
