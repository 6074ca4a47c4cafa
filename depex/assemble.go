// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package depex

import (
	"github.com/u-root/uio/uio"

	"github.com/usbarmory/go-pei/uefi"
)

// Assemble encodes a token sequence, END is appended.
func Assemble(tokens ...Token) []byte {
	l := uio.NewLittleEndianBuffer(nil)

	for _, t := range tokens {
		l.Write8(uint8(t.Op))

		switch t.Op {
		case PUSH, BEFORE, AFTER:
			l.WriteBytes(t.GUID[:])
		}
	}

	l.Write8(uint8(END))

	return l.Data()
}

// Push returns a PUSH token.
func Push(g uefi.GUID) Token {
	return Token{Op: PUSH, GUID: g}
}

// Op returns a token without operand.
func Op(op Opcode) Token {
	return Token{Op: op}
}

// All returns the tokens of an expression requiring every argument
// interface.
func All(guids ...uefi.GUID) (tokens []Token) {
	if len(guids) == 0 {
		return []Token{Op(TRUE)}
	}

	for i, g := range guids {
		tokens = append(tokens, Push(g))

		if i > 0 {
			tokens = append(tokens, Op(AND))
		}
	}

	return
}
