// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"io"

	"golang.org/x/text/encoding/unicode"
)

var ucs2 = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeString converts a string to its null terminated UCS-2 representation.
func EncodeString(s string) ([]byte, error) {
	buf, err := ucs2.NewEncoder().Bytes([]byte(s))

	if err != nil {
		return nil, err
	}

	return append(buf, 0, 0), nil
}

// DecodeString converts a null terminated UCS-2 string to a Go string.
func DecodeString(buf []byte) (string, error) {
	for i := 0; i+1 < len(buf); i += 2 {
		if buf[i] == 0 && buf[i+1] == 0 {
			buf = buf[:i]
			break
		}
	}

	s, err := ucs2.NewDecoder().Bytes(buf)

	return string(s), err
}

// ReadString reads a null terminated UCS-2 string of at most max characters
// at the argument physical address.
func ReadString(r io.ReaderAt, addr uint64, max int) (string, error) {
	buf := make([]byte, max*2)

	if _, err := r.ReadAt(buf, int64(addr)); err != nil {
		return "", err
	}

	return DecodeString(buf)
}
