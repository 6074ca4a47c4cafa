// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package fv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/usbarmory/go-pei/mem"
	"github.com/usbarmory/go-pei/uefi"
)

const testBase = 0xfff00000

var (
	testPeim   = uefi.MustParseGUID("3b8a7b8f-cb0c-46ba-a50e-9f3fe0cb3b1a")
	testPeim2  = uefi.MustParseGUID("9d8f5a2c-43aa-4ce9-9b8c-0b4cb2a3c9e1")
	testGuided = uefi.MustParseGUID("a31280ad-481e-41b6-95e8-127f4c984779")
)

type testExtractor struct{}

func (x *testExtractor) Extract(s *Section) ([]byte, error) {
	if s.DefinitionGuid != testGuided {
		return nil, uefi.ErrUnsupported
	}

	// reversed section stream
	return reverse(s.Data), nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))

	for i, v := range b {
		out[len(b)-1-i] = v
	}

	return out
}

func testVolume(t *testing.T, erase bool, files ...*FileSpec) *Volume {
	buf, err := Build(0x4000, erase, files...)

	if err != nil {
		t.Fatal(err)
	}

	r, _ := mem.NewRegion("flash", testBase, len(buf))
	space := &mem.Space{}
	space.Add(r)
	space.Write(testBase, buf)

	v, err := Open(space, testBase)

	if err != nil {
		t.Fatal(err)
	}

	return v
}

func TestVolumeFiles(t *testing.T) {
	for _, erase := range []bool{true, false} {
		v := testVolume(t, erase,
			NewAprioriFile(testPeim2),
			&FileSpec{
				Name: testPeim,
				Type: TypePeim,
				Sections: [][]byte{
					NewSection(SectionPeiDepex, []byte{0x06, 0x08}),
					NewSection(SectionPE32, []byte("image")),
				},
			},
			&FileSpec{Name: testPeim2, Type: TypePeim, Sections: [][]byte{NewSection(SectionPE32, []byte("x"))}},
		)

		files, err := v.Files()

		if err != nil {
			t.Fatal(err)
		}

		if len(files) != 3 || files[1].Name != testPeim || files[1].Type != TypePeim {
			t.Fatalf("unexpected files %v", files)
		}

		if files[1].Handle%8 != 0 || files[2].Handle%8 != 0 {
			t.Fatal("files not 8-byte aligned")
		}

		names, err := files[0].Apriori()

		if err != nil || len(names) != 1 || names[0] != testPeim2 {
			t.Fatalf("unexpected apriori list %v (%v)", names, err)
		}

		s, err := FindSection(files[1].Data, SectionPE32, 0, nil)

		if err != nil || string(s.Data) != "image" {
			t.Fatalf("unexpected PE32 section %v (%v)", s, err)
		}

		if _, err := v.File(uefi.ZeroGUID); !errors.Is(err, uefi.ErrNotFound) {
			t.Fatal("unexpected file found")
		}
	}
}

func TestVolumeCorrupted(t *testing.T) {
	buf, err := Build(0x1000, true, &FileSpec{Name: testPeim, Type: TypePeim})

	if err != nil {
		t.Fatal(err)
	}

	r, _ := mem.NewRegion("flash", testBase, len(buf))
	space := &mem.Space{}
	space.Add(r)

	bad := bytes.Clone(buf)
	bad[40] ^= 1

	space.Write(testBase, bad)

	if _, err := Open(space, testBase); !errors.Is(err, uefi.ErrVolumeCorrupted) {
		t.Fatalf("corrupted signature accepted, %v", err)
	}

	bad = bytes.Clone(buf)
	// file type byte, breaks the header checksum
	bad[72+18] ^= 1

	space.Write(testBase, bad)

	v, err := Open(space, testBase)

	if err != nil {
		t.Fatal(err)
	}

	if _, err := v.Files(); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("corrupted file accepted, %v", err)
	}
}

func TestGuidedSection(t *testing.T) {
	inner := SectionStream(
		NewSection(SectionUserInterface, []byte("ui")),
		NewSection(SectionPE32, []byte("inner")),
	)

	data := SectionStream(
		NewSection(SectionPE32, []byte("outer")),
		NewGuidSection(testGuided, GuidedProcessingRequired, reverse(inner)),
		NewSection(SectionRaw, []byte("raw")),
	)

	if _, err := FindSection(data, SectionPE32, 1, nil); !errors.Is(err, uefi.ErrNotFound) {
		t.Fatalf("encapsulated section found without extractor, %v", err)
	}

	s, err := FindSection(data, SectionPE32, 1, &testExtractor{})

	if err != nil || string(s.Data) != "inner" {
		t.Fatalf("unexpected section %v (%v)", s, err)
	}

	if s, err = FindSection(data, SectionRaw, 0, &testExtractor{}); err != nil || string(s.Data) != "raw" {
		t.Fatalf("section after GUID defined section not found, %v", err)
	}

	plain := NewGuidSection(testPeim, 0, NewSection(SectionRaw, []byte("plain")))

	if s, err = FindSection(plain, SectionRaw, 0, nil); err != nil || string(s.Data) != "plain" {
		t.Fatalf("section in unprocessed GUID defined section not found, %v", err)
	}
}
