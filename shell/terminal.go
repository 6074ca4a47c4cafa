// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package shell implements a terminal console handler for user defined
// commands.
package shell

import (
	"errors"
	"fmt"
	"io"
	"log"

	"golang.org/x/term"
)

// ErrUnknownCommand is returned for lines matching no registered command.
var ErrUnknownCommand = errors.New("unknown command, type `help`")

// Interface represents a terminal interface.
type Interface struct {
	// Banner represents the welcome message
	Banner string

	// Log represents the interface log output
	Log io.Writer

	// ReadWriter represents the terminal connection
	ReadWriter io.ReadWriter

	VT100 bool

	// Terminal is the active terminal, set by Start
	Terminal *term.Terminal
}

// Exec executes a command line, io.EOF is returned by commands which end
// the session.
func (iface *Interface) Exec(line string) (res string, err error) {
	match, arg := lookup(line)

	if match == nil {
		return "", ErrUnknownCommand
	}

	return match.Fn(iface, arg)
}

func (iface *Interface) handleLine(line string, w io.Writer) (err error) {
	var res string

	if line == "" {
		return
	}

	if res, err = iface.Exec(line); err != nil {
		return
	}

	if len(res) > 0 {
		fmt.Fprintln(w, res)
	}

	return
}

func (iface *Interface) readLine(t *term.Terminal, w io.Writer) error {
	s, err := t.ReadLine()

	if err == io.EOF {
		return err
	}

	if err != nil {
		log.Printf("readline error, %v", err)
		return nil
	}

	if iface.Log != nil {
		fmt.Fprintf(iface.Log, "> %s\n", s)
	}

	if err = iface.handleLine(s, w); err != nil {
		if err == io.EOF {
			return err
		}

		fmt.Fprintf(w, "command error, %v\n", err)
		return nil
	}

	return nil
}

// Start handles registered commands over the interface ReadWriter.
func (iface *Interface) Start() {
	var w io.Writer

	t := term.NewTerminal(iface.ReadWriter, "")
	w = iface.ReadWriter

	if iface.VT100 {
		t.SetPrompt(string(t.Escape.Red) + "> " + string(t.Escape.Reset))
		w = t
	}

	iface.Terminal = t

	fmt.Fprintf(t, "\n%s\n\n", iface.Banner)
	fmt.Fprintf(t, "%s\n", iface.Help())

	for {
		if err := iface.readLine(t, w); err != nil {
			return
		}
	}
}
