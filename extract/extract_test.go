// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package extract

import (
	"bytes"
	"errors"
	"testing"

	"github.com/usbarmory/go-pei/fv"
	"github.com/usbarmory/go-pei/uefi"
)

func TestCodecs(t *testing.T) {
	stream := fv.SectionStream(
		fv.NewSection(fv.SectionPeiDepex, []byte{0x06, 0x08}),
		fv.NewSection(fv.SectionPE32, bytes.Repeat([]byte("go-pei "), 512)),
	)

	for _, c := range Codecs() {
		sec, err := c.Section(stream)

		if err != nil {
			t.Fatalf("%s: %v", c.Name, err)
		}

		if len(sec) >= len(stream) {
			t.Errorf("%s: section not compressed (%d >= %d)", c.Name, len(sec), len(stream))
		}

		s, err := fv.FindSection(sec, fv.SectionPE32, 0, c)

		if err != nil {
			t.Fatalf("%s: %v", c.Name, err)
		}

		if !bytes.HasPrefix(s.Data, []byte("go-pei go-pei")) || len(s.Data) != 7*512 {
			t.Fatalf("%s: unexpected section data", c.Name)
		}
	}
}

func TestExtractMismatch(t *testing.T) {
	sec, err := LZ4.Section([]byte("data"))

	if err != nil {
		t.Fatal(err)
	}

	sections, err := fv.ParseSections(sec)

	if err != nil {
		t.Fatal(err)
	}

	if _, err := LZMA.Extract(sections[0]); !errors.Is(err, uefi.ErrInvalidParameter) {
		t.Fatalf("foreign section processed, %v", err)
	}

	sections[0].Data = []byte("garbage")

	if _, err := LZ4.Extract(sections[0]); !errors.Is(err, uefi.ErrVolumeCorrupted) {
		t.Fatalf("corrupted section processed, %v", err)
	}

	if c, err := Lookup(ZstdCustomDecompressGuid); err != nil || c != Zstd {
		t.Fatal("codec lookup failed")
	}
}
