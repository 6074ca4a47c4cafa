// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

func marshalBinary(data any) (buf []byte, err error) {
	b := new(bytes.Buffer)
	err = binary.Write(b, binary.LittleEndian, data)
	return b.Bytes(), err
}

func unmarshalBinary(buf []byte, data any) (err error) {
	_, err = binary.Decode(buf, binary.LittleEndian, data)
	return
}

// Decode reads the binary representation of data from the argument physical
// address.
func Decode(r io.ReaderAt, addr uint64, data any) (err error) {
	if addr == 0 {
		return errors.New("invalid address")
	}

	buf := make([]byte, binary.Size(data))

	if _, err = r.ReadAt(buf, int64(addr)); err != nil {
		return
	}

	return unmarshalBinary(buf, data)
}

// Encode writes the binary representation of data at the argument physical
// address.
func Encode(w io.WriterAt, addr uint64, data any) (err error) {
	var buf []byte

	if addr == 0 {
		return errors.New("invalid address")
	}

	if buf, err = marshalBinary(data); err != nil {
		return
	}

	_, err = w.WriteAt(buf, int64(addr))

	return
}
