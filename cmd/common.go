// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package cmd implements the shell commands driving and inspecting the
// emulated board.
package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"time"

	"github.com/hako/durafmt"

	"github.com/usbarmory/go-pei/platform"
	"github.com/usbarmory/go-pei/shell"
)

// Board is the board driven by the commands.
var Board *platform.Board

var errNoBoard = errors.New("no board")

func init() {
	shell.Add(shell.Cmd{
		Name: "help",
		Help: "this help",
		Fn:   helpCmd,
	})

	shell.Add(shell.Cmd{
		Name: "build",
		Help: "build information",
		Fn:   buildInfoCmd,
	})

	shell.Add(shell.Cmd{
		Name:    "exit, quit",
		Args:    1,
		Pattern: regexp.MustCompile(`^(exit|quit)$`),
		Help:    "close session",
		Fn:      exitCmd,
	})

	shell.Add(shell.Cmd{
		Name: "stack",
		Help: "goroutine stack trace (current)",
		Fn:   stackCmd,
	})

	shell.Add(shell.Cmd{
		Name: "stackall",
		Help: "goroutine stack trace (all)",
		Fn:   stackallCmd,
	})

	shell.Add(shell.Cmd{
		Name: "uptime",
		Help: "show how long the board has been running",
		Fn:   uptimeCmd,
	})
}

func board() (*platform.Board, error) {
	if Board == nil {
		return nil, errNoBoard
	}

	return Board, nil
}

func helpCmd(iface *shell.Interface, _ []string) (string, error) {
	return iface.Help(), nil
}

func buildInfoCmd(_ *shell.Interface, _ []string) (string, error) {
	if bi, ok := debug.ReadBuildInfo(); ok {
		return bi.String(), nil
	}

	return "", errors.New("no build information")
}

func exitCmd(iface *shell.Interface, _ []string) (string, error) {
	if iface.ReadWriter != nil {
		fmt.Fprintf(iface.ReadWriter, "Goodbye from %s/%s\n", runtime.GOOS, runtime.GOARCH)
	}

	return "logout", io.EOF
}

func stackCmd(_ *shell.Interface, _ []string) (string, error) {
	return string(debug.Stack()), nil
}

func stackallCmd(_ *shell.Interface, _ []string) (string, error) {
	buf := new(bytes.Buffer)
	pprof.Lookup("goroutine").WriteTo(buf, 1)

	return buf.String(), nil
}

func uptimeCmd(_ *shell.Interface, _ []string) (string, error) {
	b, err := board()

	if err != nil {
		return "", err
	}

	return durafmt.Parse(b.Uptime().Truncate(time.Second)).String(), nil
}
