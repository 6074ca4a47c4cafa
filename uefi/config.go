// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"encoding/binary"
	"errors"
	"io"
)

// ConfigurationTable represents an EFI Configuration Table.
type ConfigurationTable struct {
	GUID        GUID
	VendorTable uint64
}

// ConfigurationTableSize is the size of a ConfigurationTable entry.
var ConfigurationTableSize = binary.Size(ConfigurationTable{})

// ConfigurationTables returns the EFI Configuration Tables.
func (d *SystemTable) ConfigurationTables(r io.ReaderAt) (c []*ConfigurationTable, err error) {
	if d.NumberOfTableEntries == 0 || d.ConfigurationTable == 0 {
		return nil, errors.New("EFI Configuration Table is invalid")
	}

	buf := make([]byte, ConfigurationTableSize*int(d.NumberOfTableEntries))

	if _, err = r.ReadAt(buf, int64(d.ConfigurationTable)); err != nil {
		return
	}

	for i := 0; i < len(buf); i += ConfigurationTableSize {
		t := &ConfigurationTable{}

		if err = unmarshalBinary(buf[i:i+ConfigurationTableSize], t); err != nil {
			return
		}

		c = append(c, t)
	}

	return
}

// LocateConfiguration locates an EFI Configuration Table.
func (d *SystemTable) LocateConfiguration(r io.ReaderAt, guid GUID) (t *ConfigurationTable, err error) {
	var c []*ConfigurationTable

	if c, err = d.ConfigurationTables(r); err != nil {
		return
	}

	for _, t := range c {
		if t.GUID == guid {
			return t, nil
		}
	}

	return nil, errors.New("could not find configuration table")
}
