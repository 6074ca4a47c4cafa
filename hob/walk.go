// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hob

import (
	"bytes"
	"fmt"

	"github.com/u-root/uio/uio"

	"github.com/usbarmory/go-pei/uefi"
)

// Record represents a HOB found walking a list.
type Record struct {
	// Address is the physical address of the record header
	Address uint64
	Header

	// Raw holds the whole record, header included
	Raw []byte
}

// Payload decodes the record body.
func (r *Record) Payload() (p Payload, err error) {
	if p, err = newPayload(r.Type); err != nil {
		return
	}

	if int(r.Length) > len(r.Raw) {
		return nil, fmt.Errorf("truncated %s record", r.Type)
	}

	err = p.Unmarshal(uio.NewLittleEndianBuffer(r.Raw[HeaderSize:r.Length]))

	return
}

// Records walks the list and returns every record, in creation order, up to
// and excluding the end-of-list marker.
func (l *List) Records() (records []*Record, err error) {
	err = l.Walk(func(r *Record) bool {
		records = append(records, r)
		return true
	})

	return
}

// Walk calls fn for every record of the list in creation order, until fn
// returns false or the end-of-list marker is reached.
func (l *List) Walk(fn func(*Record) bool) (err error) {
	var h *Handoff

	if h, err = l.Handoff(); err != nil {
		return
	}

	for addr := l.phit; ; {
		var hdr *Header
		var raw []byte

		if hdr, err = l.header(addr); err != nil {
			return
		}

		if hdr.Type == EndOfHobList {
			return
		}

		if hdr.Length < HeaderSize || addr+uint64(hdr.Length) > h.EfiEndOfHobList {
			return fmt.Errorf("corrupted HOB at %#x (%s, %d bytes)", addr, hdr.Type, hdr.Length)
		}

		if raw, err = l.space.Read(addr, int(hdr.Length)); err != nil {
			return
		}

		if !fn(&Record{Address: addr, Header: *hdr, Raw: raw}) {
			return
		}

		addr += uint64(hdr.Length)
	}
}

// Next returns the first record of the argument type located at or after
// the from address, a zero from address starts at the list head.
func (l *List) Next(t Type, from uint64) (rec *Record, err error) {
	err = l.Walk(func(r *Record) bool {
		if r.Address >= from && r.Type == t {
			rec = r
			return false
		}

		return true
	})

	if err == nil && rec == nil {
		err = uefi.ErrNotFound
	}

	return
}

// NextGuid returns the first GUID extension record with the argument name
// located at or after the from address.
func (l *List) NextGuid(name uefi.GUID, from uint64) (rec *Record, err error) {
	err = l.Walk(func(r *Record) bool {
		if r.Address >= from && r.Type == GuidExtension &&
			len(r.Raw) >= GuidExtensionSize && bytes.Equal(r.Raw[HeaderSize:GuidExtensionSize], name[:]) {
			rec = r
			return false
		}

		return true
	})

	if err == nil && rec == nil {
		err = uefi.ErrNotFound
	}

	return
}
