// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package depex

import (
	"errors"
	"testing"

	"github.com/usbarmory/go-pei/uefi"
)

var (
	testG1 = uefi.MustParseGUID("1e2ed096-30e2-4254-bd89-863bbef82325")
	testG2 = uefi.MustParseGUID("6b77a0e1-cc4c-4a0f-9ef2-fbc6fd6efa54")
)

func installed(guids ...uefi.GUID) func(uefi.GUID) bool {
	return func(g uefi.GUID) bool {
		for _, i := range guids {
			if i == g {
				return true
			}
		}

		return false
	}
}

func TestEvaluate(t *testing.T) {
	for _, tc := range []struct {
		tokens  []Token
		present []uefi.GUID
		want    bool
	}{
		{All(testG1, testG2), []uefi.GUID{testG1}, false},
		{All(testG1, testG2), []uefi.GUID{testG1, testG2}, true},
		{[]Token{Push(testG1), Push(testG2), Op(OR)}, []uefi.GUID{testG2}, true},
		{[]Token{Push(testG1), Op(NOT)}, nil, true},
		{[]Token{Push(testG1), Op(NOT)}, []uefi.GUID{testG1}, false},
		{[]Token{Op(TRUE), Op(FALSE), Op(AND)}, nil, false},
		{All(), nil, true},
	} {
		e, err := Parse(Assemble(tc.tokens...))

		if err != nil {
			t.Fatal(err)
		}

		res, err := e.Evaluate(installed(tc.present...))

		if err != nil {
			t.Fatal(err)
		}

		if res != tc.want {
			t.Errorf("%s: got %v, expected %v", e, res, tc.want)
		}
	}
}

func TestEvaluateNoShortCircuit(t *testing.T) {
	var queried []uefi.GUID

	e, err := Parse(Assemble(Op(FALSE), Push(testG1), Op(AND), Push(testG2), Op(OR)))

	if err != nil {
		t.Fatal(err)
	}

	e.Evaluate(func(g uefi.GUID) bool {
		queried = append(queried, g)
		return false
	})

	if len(queried) != 2 {
		t.Fatalf("expected every PUSH evaluated, got %d", len(queried))
	}
}

func TestParseMalformed(t *testing.T) {
	for name, buf := range map[string][]byte{
		"empty":       {},
		"missing END": {byte(TRUE)},
		"truncated":   {byte(PUSH), 1, 2, 3},
		"underflow":   {byte(TRUE), byte(AND), byte(END)},
		"two values":  {byte(TRUE), byte(TRUE), byte(END)},
		"unknown":     {0x42, byte(END)},
		"trailing":    {byte(TRUE), byte(END), byte(TRUE)},
		"late SOR":    {byte(TRUE), byte(SOR), byte(END)},
		"no value":    {byte(END)},
	} {
		if _, err := Parse(buf); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected malformed expression, got %v", name, err)
		}
	}

	before := Assemble(Token{Op: BEFORE, GUID: testG1}, Op(TRUE))

	if _, err := Parse(before); !errors.Is(err, ErrMalformed) {
		t.Errorf("BEFORE with program accepted, %v", err)
	}
}

func TestOrderingHints(t *testing.T) {
	e, err := Parse(Assemble(Token{Op: AFTER, GUID: testG2}))

	if err != nil {
		t.Fatal(err)
	}

	if e.After == nil || *e.After != testG2 || e.Before != nil {
		t.Fatal("AFTER target not decoded")
	}

	if ok, err := e.Evaluate(installed()); !ok || err != nil {
		t.Fatal("ordering hint not satisfied")
	}

	e, err = Parse(Assemble(Op(SOR), Push(testG1)))

	if err != nil {
		t.Fatal(err)
	}

	if !e.Schedule {
		t.Fatal("SOR not decoded")
	}

	if e.String() != "SOR "+testG1.String() {
		t.Fatalf("unexpected string %q", e)
	}
}
