// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"regexp"
)

var guidPattern = regexp.MustCompile(`^([[:xdigit:]]{8})-([[:xdigit:]]{4})-([[:xdigit:]]{4})-([[:xdigit:]]{4})-([[:xdigit:]]{12})$`)

// GUIDSize is the size of an EFI GUID in bytes.
const GUIDSize = 16

// GUID represents an EFI GUID (Globally Unique Identifier) as a 16-byte array
// with the native EFI byte order.
//
// Note: The registry string format (xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx)
// reorders the first three fields as little-endian. Internally, we keep the
// native EFI layout (as used in memory and in firmware volumes), i.e. 16
// bytes where the first three fields are little-endian values.
type GUID [GUIDSize]byte

// ZeroGUID is the all-zero GUID, used by HOBs without an owner.
var ZeroGUID GUID

// ParseGUID parses a GUID in registry string format into a native EFI GUID.
func ParseGUID(s string) (out GUID, err error) {
	var off int
	var buf []byte

	m := guidPattern.FindStringSubmatch(s)

	if len(m) != 6 {
		return GUID{}, fmt.Errorf("invalid GUID format: %q", s)
	}

	for i, b := range m[1:] {
		if buf, err = hex.DecodeString(b); err != nil {
			return GUID{}, err
		}

		switch i {
		case 0:
			binary.LittleEndian.PutUint32(out[off:], binary.BigEndian.Uint32(buf))
		case 1, 2:
			binary.LittleEndian.PutUint16(out[off:], binary.BigEndian.Uint16(buf))
		default:
			copy(out[off:], buf)
		}

		off += len(buf)
	}

	return out, nil
}

// MustParseGUID is like ParseGUID but panics on error. It is intended for package
// level GUID declarations.
func MustParseGUID(s string) (g GUID) {
	var err error

	if g, err = ParseGUID(s); err != nil {
		panic(err)
	}

	return
}

// GUIDFromBytes returns the GUID stored at the start of buf in native
// layout.
func GUIDFromBytes(buf []byte) (g GUID, err error) {
	if len(buf) < GUIDSize {
		return g, fmt.Errorf("short GUID buffer (%d bytes)", len(buf))
	}

	copy(g[:], buf)

	return
}

// IsZero reports whether all GUID bytes are zero.
func (g GUID) IsZero() bool {
	return g == ZeroGUID
}

// String returns the registry format string representation of the GUID.
// https://uefi.org/specs/UEFI/2.10/Apx_A_GUID_and_Time_Formats.html
func (g GUID) String() string {
	// first three fields are little-endian 32/16/16
	return fmt.Sprintf("%08x-%04x-%04x-%x-%x",
		binary.LittleEndian.Uint32(g[0:4]),
		binary.LittleEndian.Uint16(g[4:6]),
		binary.LittleEndian.Uint16(g[6:8]),
		g[8:10],
		g[10:])
}
