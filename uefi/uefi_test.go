// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/u-root/u-root/pkg/boot/bzimage"
)

type testMemory struct {
	buf []byte
}

func (m *testMemory) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.buf[off:]), nil
}

func (m *testMemory) WriteAt(p []byte, off int64) (int, error) {
	return copy(m.buf[off:], p), nil
}

func TestGUID(t *testing.T) {
	s := "1b45cc0a-156a-428a-af62-49864da0e6e6"
	g := MustParseGUID(s)

	if g[0] != 0x0a || g[3] != 0x1b || g[4] != 0x6a || g[8] != 0xaf {
		t.Fatalf("unexpected native layout %x", g[:])
	}

	if g.String() != s {
		t.Fatalf("got %s, expected %s", g, s)
	}

	if _, err := ParseGUID("1b45cc0a-156a-428a-af62"); err == nil {
		t.Fatal("short GUID accepted")
	}
}

func TestStatus(t *testing.T) {
	err := fmt.Errorf("allocate: %w", ErrOutOfResources)

	if !errors.Is(err, ErrOutOfResources) {
		t.Fatal("wrapped status not matched")
	}

	if s := StatusOf(err); s != EFI_OUT_OF_RESOURCES || !s.IsError() {
		t.Fatalf("unexpected status %#x", uint64(s))
	}

	if StatusOf(errors.New("other")) != EFI_DEVICE_ERROR {
		t.Fatal("foreign error not mapped to device error")
	}

	if StatusOf(nil) != EFI_SUCCESS {
		t.Fatal("nil error not mapped to success")
	}

	if uint64(EFI_NOT_FOUND)>>63 != 1 {
		t.Fatal("error bit not set")
	}

	if ok, _ := regexp.MatchString(`^EFI_STATUS error 0x8000000000000063 \(99\)$`, Status(1<<63|99).Error()); !ok {
		t.Fatal(Status(1<<63 | 99).Error())
	}
}

func TestMemoryMapStride(t *testing.T) {
	m := &MemoryMap{
		DescriptorSize:    64,
		DescriptorVersion: DescriptorVersion,
		Descriptors: []*MemoryDescriptor{
			{Type: uint32(EfiRuntimeServicesData), PhysicalStart: 0x1000, VirtualStart: 0x800000000000, NumberOfPages: 1, Attribute: EFI_MEMORY_RUNTIME},
			{Type: uint32(EfiConventionalMemory), PhysicalStart: 0x100000, NumberOfPages: 16},
		},
	}

	buf, err := m.Bytes()

	if err != nil {
		t.Fatal(err)
	}

	if len(buf) != 128 {
		t.Fatalf("unexpected map size %d", len(buf))
	}

	p, err := ParseMemoryMap(buf, uint64(len(buf)), 64, DescriptorVersion)

	if err != nil {
		t.Fatal(err)
	}

	if len(p.Descriptors) != 2 || p.Descriptors[1].PhysicalStart != 0x100000 {
		t.Fatal("descriptors not indexed by stride")
	}

	if !p.Descriptors[0].Runtime() || p.Descriptors[1].Runtime() {
		t.Fatal("unexpected runtime attribute")
	}

	if _, err := ParseMemoryMap(buf, uint64(len(buf)), 16, DescriptorVersion); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("short stride accepted, %v", err)
	}
}

func TestE820(t *testing.T) {
	m := &MemoryMap{
		Descriptors: []*MemoryDescriptor{
			{Type: uint32(EfiBootServicesData), PhysicalStart: 0x100000, NumberOfPages: 2},
			{Type: uint32(EfiACPIMemoryNVS), PhysicalStart: 0x200000, NumberOfPages: 1},
			{Type: uint32(EfiRuntimeServicesCode), PhysicalStart: 0x300000, NumberOfPages: 1},
		},
	}

	e, err := m.E820()

	if err != nil {
		t.Fatal(err)
	}

	if e[0].MemType != bzimage.RAM || e[0].Size != 2*PageSize {
		t.Fatalf("unexpected entry %+v", e[0])
	}

	if e[1].MemType != bzimage.NVS || e[2].MemType != bzimage.Reserved {
		t.Fatal("unexpected memory types")
	}
}

func TestTableCRC32(t *testing.T) {
	mem := &testMemory{buf: make([]byte, 0x1000)}

	rt := &RuntimeServicesTable{
		Header:  NewTableHeader(RuntimeServicesSignature, &RuntimeServicesTable{}),
		GetTime: 0x1234,
	}

	if err := Encode(mem, 0x100, rt); err != nil {
		t.Fatal(err)
	}

	if err := UpdateCRC32(mem, 0x100); err != nil {
		t.Fatal(err)
	}

	if ok, err := VerifyCRC32(mem, 0x100); err != nil || !ok {
		t.Fatalf("CRC32 mismatch, %v", err)
	}

	mem.buf[0x100+24] ^= 0xff

	if ok, _ := VerifyCRC32(mem, 0x100); ok {
		t.Fatal("CRC32 did not detect corruption")
	}
}

func TestString(t *testing.T) {
	mem := &testMemory{buf: make([]byte, 0x100)}

	buf, err := EncodeString("go-pei")

	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(buf[:4], []byte{'g', 0, 'o', 0}) || len(buf) != 14 {
		t.Fatalf("unexpected encoding %x", buf)
	}

	mem.WriteAt(buf, 0x10)

	if s, err := ReadString(mem, 0x10, 32); err != nil || s != "go-pei" {
		t.Fatalf("got %q (%v)", s, err)
	}
}
