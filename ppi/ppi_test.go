// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ppi

import (
	"errors"
	"testing"

	"github.com/usbarmory/go-pei/uefi"
)

var (
	testG1 = uefi.MustParseGUID("1e2ed096-30e2-4254-bd89-863bbef82325")
	testG2 = uefi.MustParseGUID("6b77a0e1-cc4c-4a0f-9ef2-fbc6fd6efa54")
)

type testServices struct {
	epoch int
}

func ppiDescriptor(g uefi.GUID, iface any) *Descriptor {
	return &Descriptor{
		Flags:     FlagPpi | FlagTerminateList,
		GUID:      g,
		Interface: iface,
	}
}

func TestInstallLocateReinstall(t *testing.T) {
	db := NewDatabase(func() *testServices { return nil })

	d := ppiDescriptor(testG1, "first")

	if _, err := db.Install(d); err != nil {
		t.Fatal(err)
	}

	if res, err := db.Locate(testG1, 0); err != nil || res.Interface != "first" {
		t.Fatalf("unexpected locate result %v (%v)", res, err)
	}

	if _, err := db.Locate(testG1, 1); !errors.Is(err, uefi.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	n := db.Len()
	nd := ppiDescriptor(testG1, "second")

	if _, err := db.Reinstall(d, nd); err != nil {
		t.Fatal(err)
	}

	if res, err := db.Locate(testG1, 0); err != nil || res.Interface != "second" {
		t.Fatalf("reinstalled interface not returned, %v (%v)", res, err)
	}

	if db.Len() != n {
		t.Fatal("reinstall appended a record")
	}

	if _, err := db.Reinstall(d, ppiDescriptor(testG1, "third")); !errors.Is(err, uefi.ErrNotFound) {
		t.Fatalf("stale descriptor reinstalled, %v", err)
	}
}

func TestInstallOrder(t *testing.T) {
	db := NewDatabase(func() *testServices { return nil })

	for i := 0; i < 3; i++ {
		if _, err := db.Install(ppiDescriptor(testG1, i)); err != nil {
			t.Fatal(err)
		}

		if _, err := db.Install(ppiDescriptor(testG2, -i)); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 3; i++ {
		if d, err := db.Locate(testG1, i); err != nil || d.Interface != i {
			t.Fatalf("instance %d, got %v (%v)", i, d, err)
		}
	}
}

func TestInstallValidation(t *testing.T) {
	db := NewDatabase(func() *testServices { return nil })
	db.MaxPpi = 2

	for _, list := range [][]*Descriptor{
		{},
		{{Flags: FlagPpi, GUID: testG1}},
		{{Flags: FlagPpi | FlagTerminateList, GUID: testG1}, {Flags: FlagPpi | FlagTerminateList, GUID: testG2}},
		{{Flags: FlagPpi, GUID: testG1}, {Flags: FlagNotifyCallback | FlagTerminateList, GUID: testG2}},
	} {
		if _, err := db.Install(list...); !errors.Is(err, uefi.ErrInvalidParameter) {
			t.Fatalf("invalid list accepted, %v", err)
		}
	}

	if db.Len() != 0 {
		t.Fatal("invalid list partially installed")
	}

	list := []*Descriptor{
		{Flags: FlagPpi, GUID: testG1},
		{Flags: FlagPpi, GUID: testG2},
		{Flags: FlagPpi | FlagTerminateList, GUID: testG2},
	}

	if _, err := db.Install(list...); !errors.Is(err, uefi.ErrOutOfResources) {
		t.Fatalf("expected out of resources, got %v", err)
	}

	if handles, err := db.Install(list[1:]...); err != nil || len(handles) != 2 || handles[1] != 1 {
		t.Fatalf("unexpected handles %v (%v)", handles, err)
	}
}

func TestNotifyEdgeTriggered(t *testing.T) {
	var calls []any

	s := &testServices{epoch: 1}
	db := NewDatabase(func() *testServices { return s })

	if _, err := db.Install(ppiDescriptor(testG1, "early")); err != nil {
		t.Fatal(err)
	}

	n := &Notify[*testServices]{
		Flags: FlagNotifyCallback | FlagTerminateList,
		GUID:  testG1,
		Notify: func(ps *testServices, _ *Notify[*testServices], d *Descriptor) error {
			if ps.epoch != 2 {
				t.Errorf("stale services epoch %d", ps.epoch)
			}

			calls = append(calls, d.Interface)
			return nil
		},
	}

	if err := db.Notify(n); err != nil {
		t.Fatal(err)
	}

	if len(calls) != 0 {
		t.Fatal("notification fired on registration")
	}

	s = &testServices{epoch: 2}
	d := ppiDescriptor(testG1, "late")

	if _, err := db.Install(d); err != nil {
		t.Fatal(err)
	}

	if len(calls) != 1 || calls[0] != "late" {
		t.Fatalf("unexpected calls %v", calls)
	}

	if _, err := db.Reinstall(d, ppiDescriptor(testG1, "again")); err != nil {
		t.Fatal(err)
	}

	if cnt, err := db.NotifyPpi(testG1); err != nil || cnt != 1 {
		t.Fatalf("unexpected NotifyPpi result %d (%v)", cnt, err)
	}

	if len(calls) != 3 || calls[1] != "again" || calls[2] != "again" {
		t.Fatalf("unexpected calls %v", calls)
	}

	if _, err := db.NotifyPpi(testG2); !errors.Is(err, uefi.ErrNotFound) {
		t.Fatal("notify for absent PPI succeeded")
	}
}

func TestDispatchNotify(t *testing.T) {
	var order []string

	db := NewDatabase(func() *testServices { return nil })

	record := func(tag string) NotifyFunc[*testServices] {
		return func(_ *testServices, _ *Notify[*testServices], _ *Descriptor) error {
			order = append(order, tag)
			return nil
		}
	}

	err := db.Notify(
		&Notify[*testServices]{Flags: FlagNotifyDispatch, GUID: testG1, Notify: record("dispatch")},
		&Notify[*testServices]{Flags: FlagNotifyCallback | FlagTerminateList, GUID: testG1, Notify: record("callback")},
	)

	if err != nil {
		t.Fatal(err)
	}

	if _, err := db.Install(ppiDescriptor(testG1, nil)); err != nil {
		t.Fatal(err)
	}

	if len(order) != 1 || order[0] != "callback" || db.Pending() != 1 {
		t.Fatalf("unexpected order %v", order)
	}

	if n := db.ProcessDispatchNotifications(); n != 1 || order[1] != "dispatch" {
		t.Fatalf("unexpected order %v", order)
	}

	if err := db.Notify(&Notify[*testServices]{Flags: FlagNotifyCallback | FlagTerminateList, GUID: testG2}); !errors.Is(err, uefi.ErrInvalidParameter) {
		t.Fatal("notification without function accepted")
	}
}

type testRelocatable struct {
	table uint64
}

func (r *testRelocatable) Rebase(oldBase uint64, oldSize uint64, newBase uint64) {
	if r.table >= oldBase && r.table < oldBase+oldSize {
		r.table = r.table - oldBase + newBase
	}
}

func TestConvertPointers(t *testing.T) {
	db := NewDatabase(func() *testServices { return nil })
	iface := &testRelocatable{table: 0x1800}

	inside := &Descriptor{Flags: FlagPpi, GUID: testG1, Address: 0x1100, Interface: iface}
	outside := &Descriptor{Flags: FlagPpi | FlagTerminateList, GUID: testG2, Address: 0x3000}

	if _, err := db.Install(inside, outside); err != nil {
		t.Fatal(err)
	}

	db.ConvertPointers(0x1000, 0x1000, 0x80000)

	if inside.Address != 0x80100 || iface.table != 0x80800 {
		t.Fatalf("pointers not rebased, %#x %#x", inside.Address, iface.table)
	}

	if outside.Address != 0x3000 {
		t.Fatal("pointer outside range rebased")
	}
}
