// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package shell

import (
	"bytes"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
)

func init() {
	Add(Cmd{
		Name:    "echo",
		Args:    1,
		Pattern: regexp.MustCompile(`^echo (.*)`),
		Syntax:  "<text>",
		Help:    "echo text",
		Fn: func(_ *Interface, arg []string) (string, error) {
			return arg[0], nil
		},
	})

	Add(Cmd{
		Name: "fail",
		Help: "always fails",
		Fn: func(_ *Interface, _ []string) (string, error) {
			return "", errors.New("failure")
		},
	})

	Add(Cmd{
		Name: "bye",
		Help: "end session",
		Fn: func(_ *Interface, _ []string) (string, error) {
			return "", io.EOF
		},
	})
}

func TestExec(t *testing.T) {
	iface := &Interface{}

	if res, err := iface.Exec("echo hello world"); err != nil || res != "hello world" {
		t.Fatalf("got %q (%v)", res, err)
	}

	if _, err := iface.Exec("echo"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("got %v, expected %v", err, ErrUnknownCommand)
	}

	if _, err := iface.Exec("fail"); err == nil {
		t.Fatal("command error not returned")
	}

	help := iface.Help()

	if !strings.Contains(help, "echo") || !strings.Contains(help, "<text>") || strings.Index(help, "bye") > strings.Index(help, "echo") {
		t.Fatalf("unexpected help\n%s", help)
	}
}

func TestStart(t *testing.T) {
	var out bytes.Buffer
	var log bytes.Buffer

	iface := &Interface{
		Banner: "test banner",
		Log:    &log,
		ReadWriter: struct {
			io.Reader
			io.Writer
		}{
			strings.NewReader("echo first\rfail\rbye\recho never\r"),
			&out,
		},
	}

	iface.Start()

	s := out.String()

	for _, want := range []string{"test banner", "first", "command error, failure"} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %q in output\n%s", want, s)
		}
	}

	if strings.Contains(s, "never") || strings.Contains(log.String(), "never") {
		t.Fatal("session not ended")
	}
}
