// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"errors"
	"testing"
)

func testSpace(t *testing.T) *Space {
	s := &Space{}

	for _, r := range []struct {
		name  string
		start uint64
		size  int
	}{
		{"dram", 0x100000, 0x10000},
		{"car", 0x1000, 0x1000},
	} {
		region, err := NewRegion(r.name, r.start, r.size)

		if err != nil {
			t.Fatal(err)
		}

		if err = s.Add(region); err != nil {
			t.Fatal(err)
		}
	}

	return s
}

func TestSpaceOrder(t *testing.T) {
	s := testSpace(t)

	if r := s.Regions(); r[0].Name != "car" || r[1].Name != "dram" {
		t.Fatal("regions not sorted by address")
	}

	r, _ := NewRegion("overlap", 0x1800, 0x1000)

	if err := s.Add(r); err == nil {
		t.Fatal("overlapping region accepted")
	}
}

func TestSpaceAccess(t *testing.T) {
	s := testSpace(t)

	if err := s.Write64(0x1ff8, 0x1122334455667788); err != nil {
		t.Fatal(err)
	}

	if v, err := s.Read32(0x1ffc); err != nil || v != 0x11223344 {
		t.Fatalf("got %#x (%v)", v, err)
	}

	if err := s.Write32(0x1ffe, 0); !errors.Is(err, ErrFault) {
		t.Fatalf("access across region end did not fault, %v", err)
	}

	if _, err := s.Read16(0x3000); !errors.Is(err, ErrFault) {
		t.Fatalf("access to unmapped memory did not fault, %v", err)
	}
}

func TestSpaceCopy(t *testing.T) {
	s := testSpace(t)

	if err := s.Write(0x1000, []byte("temporary")); err != nil {
		t.Fatal(err)
	}

	if err := s.Copy(0x100100, 0x1000, 9); err != nil {
		t.Fatal(err)
	}

	buf, err := s.Read(0x100100, 9)

	if err != nil || string(buf) != "temporary" {
		t.Fatalf("got %q (%v)", buf, err)
	}

	if err := s.Fill(0x1000, 4, 0xaa); err != nil {
		t.Fatal(err)
	}

	if v, _ := s.Read32(0x1000); v != 0xaaaaaaaa {
		t.Fatalf("got %#x", v)
	}
}
