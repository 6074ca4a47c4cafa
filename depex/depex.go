// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package depex implements the dependency expression bytecode of firmware
// modules, a postfix boolean program over interface presence predicates.
package depex

import (
	"errors"
	"fmt"
	"strings"

	"github.com/usbarmory/go-pei/uefi"
)

// Opcode represents a dependency expression opcode.
type Opcode uint8

// Dependency expression opcodes
const (
	PUSH   Opcode = 0x02
	AND    Opcode = 0x03
	OR     Opcode = 0x04
	NOT    Opcode = 0x05
	TRUE   Opcode = 0x06
	FALSE  Opcode = 0x07
	END    Opcode = 0x08
	SOR    Opcode = 0x09
	BEFORE Opcode = 0x0a
	AFTER  Opcode = 0x0b
)

var opcodeName = map[Opcode]string{
	PUSH:   "PUSH",
	AND:    "AND",
	OR:     "OR",
	NOT:    "NOT",
	TRUE:   "TRUE",
	FALSE:  "FALSE",
	END:    "END",
	SOR:    "SOR",
	BEFORE: "BEFORE",
	AFTER:  "AFTER",
}

func (op Opcode) String() string {
	if s, ok := opcodeName[op]; ok {
		return s
	}

	return fmt.Sprintf("Opcode(%#x)", uint8(op))
}

// ErrMalformed is returned for dependency expressions which cannot be
// evaluated.
var ErrMalformed = errors.New("malformed dependency expression")

// Token represents a decoded instruction.
type Token struct {
	Op   Opcode
	GUID uefi.GUID
}

func (t Token) String() string {
	switch t.Op {
	case PUSH, BEFORE, AFTER:
		return fmt.Sprintf("%s %s", t.Op, t.GUID)
	default:
		return t.Op.String()
	}
}

// Expression represents a parsed dependency expression.
type Expression struct {
	// Tokens holds the boolean program, END excluded
	Tokens []Token

	// Before and After hold the ordering hint target, when present
	Before *uefi.GUID
	After  *uefi.GUID

	// Schedule is set when the expression starts with SOR, the module must
	// be explicitly scheduled before it can be dispatched
	Schedule bool
}

func malformed(off int, format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrMalformed, off, fmt.Sprintf(format, args...))
}

// Parse decodes and validates a dependency expression.
//
// An expression is either a single ordering hint (BEFORE/AFTER GUID)
// followed by END, or a boolean program terminated by END and optionally
// prefixed by SOR.
func Parse(buf []byte) (e *Expression, err error) {
	var depth int

	e = &Expression{}

	for off := 0; ; {
		if off >= len(buf) {
			return nil, malformed(off, "missing END")
		}

		op := Opcode(buf[off])
		tok := Token{Op: op}

		switch op {
		case PUSH, BEFORE, AFTER:
			if off+1+uefi.GUIDSize > len(buf) {
				return nil, malformed(off, "truncated %s", op)
			}

			copy(tok.GUID[:], buf[off+1:])
			off += 1 + uefi.GUIDSize
		default:
			off++
		}

		switch op {
		case BEFORE, AFTER:
			if off-1-uefi.GUIDSize != 0 {
				return nil, malformed(off, "%s must be the first opcode", op)
			}

			g := tok.GUID

			if op == BEFORE {
				e.Before = &g
			} else {
				e.After = &g
			}

			if off >= len(buf) || Opcode(buf[off]) != END {
				return nil, malformed(off, "%s must be followed by END", op)
			}

			continue
		case SOR:
			if off != 1 {
				return nil, malformed(off-1, "SOR must be the first opcode")
			}

			e.Schedule = true

			continue
		case PUSH, TRUE, FALSE:
			depth++
		case AND, OR:
			if depth < 2 {
				return nil, malformed(off-1, "%s stack underflow", op)
			}

			depth--
		case NOT:
			if depth < 1 {
				return nil, malformed(off-1, "NOT stack underflow")
			}
		case END:
			if off != len(buf) {
				return nil, malformed(off, "trailing bytes after END")
			}

			if e.Before != nil || e.After != nil {
				return e, nil
			}

			if depth != 1 {
				return nil, malformed(off-1, "END with %d stack entries", depth)
			}

			return e, nil
		default:
			return nil, malformed(off-1, "unknown opcode %#x", uint8(op))
		}

		e.Tokens = append(e.Tokens, tok)
	}
}

// Evaluate runs the boolean program, present reports whether an interface is
// installed. Every token is evaluated, there is no short circuit. Ordering
// hint expressions evaluate to true.
func (e *Expression) Evaluate(present func(uefi.GUID) bool) (bool, error) {
	var stack []bool

	if e.Before != nil || e.After != nil {
		return true, nil
	}

	pop := func() (v bool) {
		v = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return
	}

	for i, t := range e.Tokens {
		switch t.Op {
		case PUSH:
			stack = append(stack, present(t.GUID))
		case TRUE:
			stack = append(stack, true)
		case FALSE:
			stack = append(stack, false)
		case AND, OR:
			if len(stack) < 2 {
				return false, fmt.Errorf("%w: token %d %s stack underflow", ErrMalformed, i, t.Op)
			}

			a, b := pop(), pop()

			if t.Op == AND {
				stack = append(stack, a && b)
			} else {
				stack = append(stack, a || b)
			}
		case NOT:
			if len(stack) < 1 {
				return false, fmt.Errorf("%w: token %d NOT stack underflow", ErrMalformed, i)
			}

			stack = append(stack, !pop())
		default:
			return false, fmt.Errorf("%w: token %d unexpected %s", ErrMalformed, i, t.Op)
		}
	}

	if len(stack) != 1 {
		return false, fmt.Errorf("%w: %d stack entries at END", ErrMalformed, len(stack))
	}

	return stack[0], nil
}

// String returns the expression in infix notation.
func (e *Expression) String() string {
	var stack []string

	switch {
	case e.Before != nil:
		return "BEFORE " + e.Before.String()
	case e.After != nil:
		return "AFTER " + e.After.String()
	}

	for _, t := range e.Tokens {
		switch t.Op {
		case PUSH:
			stack = append(stack, t.GUID.String())
		case TRUE, FALSE:
			stack = append(stack, t.Op.String())
		case NOT:
			if n := len(stack); n > 0 {
				stack[n-1] = "NOT " + stack[n-1]
			}
		case AND, OR:
			if n := len(stack); n > 1 {
				stack = append(stack[:n-2], "("+stack[n-2]+" "+t.Op.String()+" "+stack[n-1]+")")
			}
		}
	}

	s := strings.Join(stack, " ")

	if e.Schedule {
		s = "SOR " + s
	}

	return s
}
