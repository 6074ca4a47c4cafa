// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package platform

import (
	"fmt"
	"strings"

	"github.com/usbarmory/go-pei/depex"
	"github.com/usbarmory/go-pei/extract"
	"github.com/usbarmory/go-pei/fv"
	"github.com/usbarmory/go-pei/pei"
	"github.com/usbarmory/go-pei/uefi"
)

// postMemoryVolumeSize is the size of the volume nested in the boot
// firmware volume.
const postMemoryVolumeSize = 0x4000

// Firmware file names
var (
	PeiCoreFile      = uefi.MustParseGUID("52c05b14-0b98-496c-bc3b-04b50211d680")
	StatusCodePei    = uefi.MustParseGUID("9d225237-fa01-464c-a949-baabc02d31d0")
	PlatformPei      = uefi.MustParseGUID("222c386d-5abc-4fb4-b124-fbb82488acf4")
	MemoryInitPei    = uefi.MustParseGUID("3b42ef57-16d3-44cb-8632-9fb9c2f5f0e5")
	ExtractPei       = uefi.MustParseGUID("c1e69b3d-ee6a-4b1b-9c5a-2d1e6b2f7a10")
	PostMemoryVolume = uefi.MustParseGUID("7e3d1b5c-4a28-4f7e-9c1d-8b6a5f4e3d2c")
	DxeIplPei        = uefi.MustParseGUID("86d70125-baa3-4296-a62f-602bebbb9081")
	ResetPei         = uefi.MustParseGUID("4e1b6a1c-2b6e-4a0a-8f8c-3d5e7b9a1c2d")
)

func image(name uefi.GUID, size int) []byte {
	buf := make([]byte, size)
	copy(buf, "MZ")
	copy(buf[2:], name[:])

	return buf
}

func module(name uefi.GUID, dep []byte) *fv.FileSpec {
	f := &fv.FileSpec{
		Name: name,
		Type: fv.TypePeim,
	}

	if dep != nil {
		f.Sections = append(f.Sections, fv.NewSection(fv.SectionPeiDepex, dep))
	}

	f.Sections = append(f.Sections, fv.NewSection(fv.SectionPE32, image(name, 0x100)))

	return f
}

func requires(guids ...uefi.GUID) []byte {
	return depex.Assemble(depex.All(guids...)...)
}

// postMemoryVolume returns the firmware volume image file holding modules
// dispatched from permanent memory, compressed with the argument codec.
func postMemoryVolume(compression string) (f *fv.FileSpec, err error) {
	inner, err := fv.Build(postMemoryVolumeSize, true,
		module(DxeIplPei, requires(pei.MemoryDiscoveredPpiGuid)),
		module(ResetPei, nil),
	)

	if err != nil {
		return
	}

	section := fv.NewSection(fv.SectionFirmwareVolume, inner)

	if compression != "none" {
		var codec *extract.Codec

		if codec, err = codecByName(compression); err != nil {
			return
		}

		if section, err = codec.Section(section); err != nil {
			return
		}
	}

	return &fv.FileSpec{
		Name: PostMemoryVolume,
		Type: fv.TypeFirmwareVolumeImage,
		Sections: [][]byte{
			fv.NewSection(fv.SectionPeiDepex, requires(pei.MemoryDiscoveredPpiGuid)),
			section,
		},
	}, nil
}

func codecByName(name string) (*extract.Codec, error) {
	for _, c := range extract.Codecs() {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}

	return nil, fmt.Errorf("unsupported compression %q", name)
}

// BootFirmwareVolume returns the boot firmware volume image.
func BootFirmwareVolume(size int, compression string) ([]byte, error) {
	post, err := postMemoryVolume(compression)

	if err != nil {
		return nil, err
	}

	return fv.Build(size, true,
		fv.NewAprioriFile(StatusCodePei),
		&fv.FileSpec{
			Name:     PeiCoreFile,
			Type:     fv.TypePeiCore,
			Sections: [][]byte{fv.NewSection(fv.SectionPE32, image(PeiCoreFile, 0x1000))},
		},
		module(PlatformPei, nil),
		module(ExtractPei, nil),
		module(MemoryInitPei, requires(pei.MasterBootModePpiGuid)),
		post,
		module(StatusCodePei, nil),
	)
}
