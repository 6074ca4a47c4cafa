// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/go-logr/logr"

	"github.com/usbarmory/go-pei/config"
	"github.com/usbarmory/go-pei/pei"
	"github.com/usbarmory/go-pei/platform"
	"github.com/usbarmory/go-pei/shell"
)

func testBoard(t *testing.T) *shell.Interface {
	cfg := config.Default()
	cfg.Dram.Size = 0x400000

	b, err := platform.New(cfg, logr.Discard())

	if err != nil {
		t.Fatal(err)
	}

	Board = b

	return &shell.Interface{}
}

func TestCommands(t *testing.T) {
	iface := testBoard(t)

	for _, line := range []string{"peim", "hob", "svam", "uefi", "memmap"} {
		if _, err := iface.Exec(line); err == nil {
			t.Errorf("%s succeeded before boot", line)
		}
	}

	if res, err := iface.Exec("mem"); err != nil || !strings.Contains(res, "not populated") {
		t.Fatalf("got %q (%v)", res, err)
	}

	if res, err := iface.Exec("boot"); err != nil || !strings.HasPrefix(res, "boot complete") {
		t.Fatalf("got %q (%v)", res, err)
	}

	for _, test := range []struct {
		line string
		want string
	}{
		{"peim", platform.DxeIplPei.String()},
		{"hob", "HandoffInfo"},
		{"ppi", pei.ResetPpiGuid.String()},
		{"fv", "ffc00000"},
		{"perf", "total"},
		{"status", "progress"},
		{"memmap", "Attributes"},
		{"memmap e820", "ffc00000"},
		{"mem", "dram"},
		{"uefi", platform.FirmwareVendor},
		{"reset", ""},
		{"svam", "variable store"},
		{"uefi", "virtual"},
		{"uptime", ""},
		{"help", "svam"},
	} {
		res, err := iface.Exec(test.line)

		if err != nil {
			t.Errorf("%s, %v", test.line, err)
			continue
		}

		if !strings.Contains(res, test.want) {
			t.Errorf("%s, missing %q in\n%s", test.line, test.want, res)
		}
	}

	if _, err := iface.Exec("svam"); err == nil {
		t.Error("second svam succeeded")
	}

	if _, err := iface.Exec("quit"); !errors.Is(err, io.EOF) {
		t.Fatalf("got %v, expected EOF", err)
	}
}
