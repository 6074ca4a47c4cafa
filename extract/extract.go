// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package extract implements GUID defined section extraction for
// compressed firmware file sections.
//
// Each codec is identified by the section definition GUID it processes and
// is installed as a GUIDed section extraction PPI under that GUID.
package extract

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"

	"github.com/usbarmory/go-pei/fv"
	"github.com/usbarmory/go-pei/uefi"
)

// MaxSize is the largest section stream a codec will produce.
const MaxSize = 16 << 20

// Section definition GUIDs
var (
	LzmaCustomDecompressGuid = uefi.MustParseGUID("ee4e5898-3914-4259-9d6e-dc7bd79403cf")
	Lz4CustomDecompressGuid  = uefi.MustParseGUID("2a0f0a8e-3a5d-4a6c-9d0e-3c7e2b2f4c11")
	ZstdCustomDecompressGuid = uefi.MustParseGUID("5f3e6b1e-8d4a-4c1b-b7f0-9a2c6e1d0b53")
)

// Codec represents a GUID defined section codec.
type Codec struct {
	Name string
	GUID uefi.GUID

	decode func(r io.Reader) (io.Reader, error)
	encode func(w io.Writer, size int) (io.WriteCloser, error)
}

// Extract implements fv.Extractor.
func (c *Codec) Extract(s *fv.Section) (out []byte, err error) {
	var r io.Reader

	if s.Type != fv.SectionGuidDefined || s.DefinitionGuid != c.GUID {
		return nil, fmt.Errorf("%w: %s cannot process %s section", uefi.ErrInvalidParameter, c.Name, s.DefinitionGuid)
	}

	if r, err = c.decode(bytes.NewReader(s.Data)); err != nil {
		return nil, fmt.Errorf("%s, %w (%v)", c.Name, uefi.ErrVolumeCorrupted, err)
	}

	if out, err = io.ReadAll(io.LimitReader(r, MaxSize+1)); err != nil {
		return nil, fmt.Errorf("%s, %w (%v)", c.Name, uefi.ErrVolumeCorrupted, err)
	}

	if len(out) > MaxSize {
		return nil, fmt.Errorf("%s, %w", c.Name, uefi.ErrOutOfResources)
	}

	return
}

// Compress encodes a section stream, the result is suitable as GUID defined
// section data.
func (c *Codec) Compress(stream []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := c.encode(&buf, len(stream))

	if err != nil {
		return nil, err
	}

	if _, err = w.Write(stream); err != nil {
		return nil, err
	}

	if err = w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Section returns an encoded GUID defined section holding the compressed
// section stream.
func (c *Codec) Section(stream []byte) ([]byte, error) {
	data, err := c.Compress(stream)

	if err != nil {
		return nil, err
	}

	return fv.NewGuidSection(c.GUID, fv.GuidedProcessingRequired, data), nil
}

// LZMA processes sections compressed with the LZMA alone format, carrying
// the uncompressed size in its header.
var LZMA = &Codec{
	Name: "LZMA",
	GUID: LzmaCustomDecompressGuid,
	decode: func(r io.Reader) (io.Reader, error) {
		return lzma.NewReader(r)
	},
	encode: func(w io.Writer, size int) (io.WriteCloser, error) {
		c := lzma.WriterConfig{
			SizeInHeader: true,
			Size:         int64(size),
		}

		return c.NewWriter(w)
	},
}

// LZ4 processes sections compressed with the LZ4 frame format.
var LZ4 = &Codec{
	Name: "LZ4",
	GUID: Lz4CustomDecompressGuid,
	decode: func(r io.Reader) (io.Reader, error) {
		return lz4.NewReader(r), nil
	},
	encode: func(w io.Writer, _ int) (io.WriteCloser, error) {
		return lz4.NewWriter(w), nil
	},
}

// Zstd processes sections compressed with the Zstandard frame format.
var Zstd = &Codec{
	Name: "Zstd",
	GUID: ZstdCustomDecompressGuid,
	decode: func(r io.Reader) (io.Reader, error) {
		src, err := io.ReadAll(r)

		if err != nil {
			return nil, err
		}

		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(MaxSize))

		if err != nil {
			return nil, err
		}
		defer d.Close()

		out, err := d.DecodeAll(src, nil)

		return bytes.NewReader(out), err
	},
	encode: func(w io.Writer, _ int) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	},
}

// Codecs returns every supported codec.
func Codecs() []*Codec {
	return []*Codec{LZMA, LZ4, Zstd}
}

// Lookup returns the codec for the argument section definition GUID.
func Lookup(guid uefi.GUID) (*Codec, error) {
	for _, c := range Codecs() {
		if c.GUID == guid {
			return c, nil
		}
	}

	return nil, uefi.ErrNotFound
}
