// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hob

import (
	"bytes"
	"errors"
	"testing"

	"github.com/usbarmory/go-pei/mem"
	"github.com/usbarmory/go-pei/uefi"
)

const (
	testBase = 0x10000
	testSize = 0x10000
)

func testList(t *testing.T, size uint64) *List {
	space := &mem.Space{}
	r, err := mem.NewRegion("car", testBase, testSize)

	if err != nil {
		t.Fatal(err)
	}

	if err = space.Add(r); err != nil {
		t.Fatal(err)
	}

	l, err := Create(space, testBase, size, 0)

	if err != nil {
		t.Fatal(err)
	}

	return l
}

func checkBoundaries(t *testing.T, l *List) *Handoff {
	h, err := l.Handoff()

	if err != nil {
		t.Fatal(err)
	}

	if h.EfiFreeMemoryBottom > h.EfiFreeMemoryTop {
		t.Fatalf("free bottom %#x above free top %#x", h.EfiFreeMemoryBottom, h.EfiFreeMemoryTop)
	}

	return h
}

func TestCreate(t *testing.T) {
	l := testList(t, testSize)
	h := checkBoundaries(t, l)

	if h.EfiMemoryBottom != testBase || h.EfiMemoryTop != testBase+testSize {
		t.Fatalf("unexpected memory range %#x-%#x", h.EfiMemoryBottom, h.EfiMemoryTop)
	}

	if h.EfiEndOfHobList != testBase+HandoffSize || h.EfiFreeMemoryBottom != testBase+HandoffSize+HeaderSize {
		t.Fatal("unexpected end of list")
	}

	records, err := l.Records()

	if err != nil {
		t.Fatal(err)
	}

	if len(records) != 1 || records[0].Type != HandoffInfo {
		t.Fatalf("unexpected records %v", records)
	}

	if _, err := Attach(l.Space(), testBase); err != nil {
		t.Fatal(err)
	}

	if _, err := Attach(l.Space(), testBase+8); err == nil {
		t.Fatal("attached to a non PHIT record")
	}
}

func TestCreateNoHeap(t *testing.T) {
	space := &mem.Space{}
	r, _ := mem.NewRegion("car", testBase, testSize)
	space.Add(r)

	if _, err := Create(space, testBase, 0, 0); !errors.Is(err, ErrNoHeap) {
		t.Fatalf("zero sized list accepted, %v", err)
	}

	if _, err := Create(space, testBase+testSize-0x10, 0x100, 0); !errors.Is(err, ErrNoHeap) {
		t.Fatalf("unmapped list accepted, %v", err)
	}
}

func TestCreateHobRounding(t *testing.T) {
	l := testList(t, testSize)

	addr, err := l.CreateHob(GuidExtension, 27)

	if err != nil {
		t.Fatal(err)
	}

	rec, err := l.Next(GuidExtension, 0)

	if err != nil {
		t.Fatal(err)
	}

	if rec.Address != addr || rec.Length != 32 {
		t.Fatalf("unexpected record %#x %d", rec.Address, rec.Length)
	}

	if _, err := l.CreateHob(GuidExtension, MaxLength+1); !errors.Is(err, uefi.ErrInvalidParameter) {
		t.Fatalf("oversized record accepted, %v", err)
	}
}

// The serialized records observed at any time are a prefix of the records
// observed later.
func TestAppendOnly(t *testing.T) {
	var prev []byte

	l := testList(t, testSize)

	records := func() []byte {
		buf, err := l.Bytes()

		if err != nil {
			t.Fatal(err)
		}

		// skip PHIT boundaries and end marker
		return buf[HandoffSize : len(buf)-HeaderSize]
	}

	steps := []func() error{
		func() error { _, err := l.AllocatePool(13); return err },
		func() error { _, err := l.AllocatePages(uefi.EfiBootServicesData, 2); return err },
		func() error { return l.BuildCpuHob(48, 16) },
		func() error { _, err := l.BuildGuidDataHob(HobMemoryAllocStackGuid, []byte("data")); return err },
		func() error {
			return l.BuildResourceDescriptor(ResourceSystemMemory, ResourceAttributePresent, 0x100000, 0x100000)
		},
		func() error { _, err := l.AllocatePool(100); return err },
	}

	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d, %v", i, err)
		}

		cur := records()

		if len(cur) <= len(prev) || !bytes.HasPrefix(cur, prev) {
			t.Fatalf("step %d, records are not an extension of the previous chain", i)
		}

		prev = cur
	}
}

type span struct {
	start uint64
	end   uint64
}

func TestAllocatorDisjoint(t *testing.T) {
	var spans []span

	l := testList(t, testSize)

	for i := 0; ; i++ {
		var addr uint64
		var n uint64
		var err error

		if i%3 == 0 {
			n = uint64(uefi.PageSize)
			addr, err = l.AllocatePages(uefi.EfiLoaderData, 1)
		} else {
			n = uint64(40 + i)
			addr, err = l.AllocatePool(int(n))
		}

		checkBoundaries(t, l)

		if errors.Is(err, uefi.ErrOutOfResources) {
			break
		}

		if err != nil {
			t.Fatal(err)
		}

		s := span{addr, addr + n}

		for _, o := range spans {
			if s.start < o.end && o.start < s.end {
				t.Fatalf("allocation %#x-%#x overlaps %#x-%#x", s.start, s.end, o.start, o.end)
			}
		}

		spans = append(spans, s)
	}

	if len(spans) < 10 {
		t.Fatalf("only %d allocations succeeded", len(spans))
	}
}

func TestAllocatePagesOutOfResources(t *testing.T) {
	l := testList(t, testSize)

	before, err := l.Bytes()

	if err != nil {
		t.Fatal(err)
	}

	if _, err := l.AllocatePages(uefi.EfiBootServicesCode, testSize/uefi.PageSize); !errors.Is(err, uefi.ErrOutOfResources) {
		t.Fatalf("expected out of resources, got %v", err)
	}

	after, err := l.Bytes()

	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(before, after) {
		t.Fatal("failed allocation modified the list")
	}

	if _, err := l.Next(MemoryAllocation, 0); !errors.Is(err, uefi.ErrNotFound) {
		t.Fatal("memory allocation HOB appended on failure")
	}
}

func TestAllocatePages(t *testing.T) {
	l := testList(t, testSize-0x123)

	addr, err := l.AllocatePages(uefi.EfiACPIMemoryNVS, 2)

	if err != nil {
		t.Fatal(err)
	}

	if addr%uefi.PageSize != 0 || addr != uefi.AlignDown(testBase+testSize-0x123)-2*uefi.PageSize {
		t.Fatalf("unexpected allocation address %#x", addr)
	}

	rec, err := l.Next(MemoryAllocation, 0)

	if err != nil {
		t.Fatal(err)
	}

	p, err := rec.Payload()

	if err != nil {
		t.Fatal(err)
	}

	a := p.(*Allocation)

	if a.Base != addr || a.Length != 2*uefi.PageSize || a.MemoryType != uefi.EfiACPIMemoryNVS {
		t.Fatalf("unexpected allocation %+v", a)
	}

	if _, err := l.AllocatePages(uefi.EfiConventionalMemory, 1); !errors.Is(err, uefi.ErrInvalidParameter) {
		t.Fatal("conventional memory allocation accepted")
	}

	if _, err := l.AllocatePages(uefi.EfiLoaderData, 0); !errors.Is(err, uefi.ErrInvalidParameter) {
		t.Fatal("zero pages allocation accepted")
	}
}

func TestAllocatePoolLimit(t *testing.T) {
	l := testList(t, testSize)

	for _, size := range []int{MaxLength, 0xfff1, 0xfff7, -1} {
		if _, err := l.AllocatePool(size); !errors.Is(err, uefi.ErrOutOfResources) {
			t.Fatalf("pool of %#x bytes, got %v", size, err)
		}
	}

	addr, err := l.AllocatePool(16)

	if err != nil {
		t.Fatal(err)
	}

	if err = l.Space().Write(addr, []byte("0123456789abcdef")); err != nil {
		t.Fatal(err)
	}

	rec, err := l.Next(MemoryPool, 0)

	if err != nil {
		t.Fatal(err)
	}

	if rec.Address+HeaderSize != addr || string(rec.Raw[HeaderSize:]) != "0123456789abcdef" {
		t.Fatal("pool data not stored in the record")
	}
}

func TestBuilders(t *testing.T) {
	l := testList(t, testSize)
	name := uefi.MustParseGUID("a7f0ccd8-2ba7-4d5b-a5dd-6c30a09c4c52")

	if err := l.BuildStackHob(0x200000, 0x8000); err != nil {
		t.Fatal(err)
	}

	if err := l.BuildFvHob(0xfff00000, 0x100000, name, uefi.ZeroGUID); err != nil {
		t.Fatal(err)
	}

	if _, err := l.BuildGuidDataHob(name, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	rec, err := l.NextGuid(name, 0)

	if err != nil {
		t.Fatal(err)
	}

	p, err := rec.Payload()

	if err != nil {
		t.Fatal(err)
	}

	// data is padded to the record length
	if g := p.(*Guid); !bytes.HasPrefix(g.Data, []byte{1, 2, 3}) || len(g.Data) != 8 {
		t.Fatalf("unexpected GUID data %x", g.Data)
	}

	rec, err = l.Next(Stack, 0)

	if err != nil {
		t.Fatal(err)
	}

	p, _ = rec.Payload()

	if s := p.(*StackAllocation); s.Name != HobMemoryAllocStackGuid || s.Base != 0x200000 {
		t.Fatalf("unexpected stack %+v", s)
	}

	rec, err = l.Next(FirmwareVolume, 0)

	if err != nil {
		t.Fatal(err)
	}

	if rec.Length != FirmwareVolumeSize {
		t.Fatalf("unexpected firmware volume HOB length %d", rec.Length)
	}

	if err := l.SetBootMode(0x11); err != nil {
		t.Fatal(err)
	}

	if mode, _ := l.BootMode(); mode != 0x11 {
		t.Fatalf("unexpected boot mode %#x", mode)
	}
}
