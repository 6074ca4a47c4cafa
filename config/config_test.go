// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"regexp"
	"testing"
	"testing/fstest"
)

const testConfig = `{
	"dram": {"base": "0x40000000", "size": 16777216},
	"boot_mode": "s3",
	"compression": "zstd",
	"descriptor_size": 48,
	"max_ppi": 32
}`

func TestLoad(t *testing.T) {
	fsys := fstest.MapFS{
		"platform.json": {Data: []byte(testConfig)},
	}

	p, err := Load(fsys, "platform.json")

	if err != nil {
		t.Fatal(err)
	}

	if p.Dram.Base != 0x40000000 || p.Dram.Size != 0x1000000 {
		t.Fatalf("unexpected dram region %+v", p.Dram)
	}

	if p.BootModeValue() != 0x11 || p.Compression != "zstd" || p.DescriptorSize != 48 || p.MaxPpi != 32 {
		t.Fatalf("unexpected configuration %+v", p)
	}

	if p.Flash != Default().Flash || p.MaxStackSize != DefaultMaxStackSize {
		t.Fatal("defaults not retained")
	}

	if _, err = Load(fsys, "missing.json"); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestAddressJSON(t *testing.T) {
	var a Address

	buf, err := json.Marshal(Address(0xffc00000))

	if err != nil || string(buf) != `"0xffc00000"` {
		t.Fatalf("got %s (%v)", buf, err)
	}

	if err = json.Unmarshal(buf, &a); err != nil || a != 0xffc00000 {
		t.Fatalf("got %#x (%v)", uint64(a), err)
	}

	if err = json.Unmarshal([]byte(`"0xzz"`), &a); err == nil {
		t.Fatal("invalid address accepted")
	}
}

func TestValidate(t *testing.T) {
	for _, test := range []struct {
		config string
		err    string
	}{
		{`{"dram": {"base": "0x100000", "size": "0x100000"}}`, "overlaps"},
		{`{"runtime": {"base": "0x20000800", "size": "0x1000"}}`, "not page aligned"},
		{`{"flash": {"base": "0x0", "size": "0"}}`, "invalid flash region"},
		{`{"boot_mode": "s5"}`, "invalid boot mode"},
		{`{"compression": "gzip"}`, "invalid compression"},
		{`{"descriptor_size": 36}`, "invalid descriptor size"},
		{`{"max_volumes": -1}`, "negative limit"},
		{`{"dram": []}`, "invalid configuration"},
	} {
		_, err := Parse([]byte(test.config))

		if err == nil {
			t.Errorf("%s accepted", test.config)
			continue
		}

		if !regexp.MustCompile(test.err).MatchString(err.Error()) {
			t.Errorf("%s, got %v, expected %q", test.config, err, test.err)
		}
	}

	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}
