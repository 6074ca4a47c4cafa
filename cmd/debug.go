// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build debug

package cmd

import (
	"log"
	"net/http"
	_ "net/http/pprof"

	"github.com/arl/statsviz"

	"github.com/usbarmory/go-pei/shell"
)

// DebugAddress is the listening address of the debug HTTP server.
var DebugAddress = "localhost:6060"

func init() {
	if err := statsviz.RegisterDefault(); err != nil {
		log.Printf("statsviz unavailable, %v", err)
	}

	shell.Add(shell.Cmd{
		Name: "debug",
		Help: "start the runtime statistics HTTP server",
		Fn:   debugCmd,
	})
}

func debugCmd(_ *shell.Interface, _ []string) (string, error) {
	go func() {
		if err := http.ListenAndServe(DebugAddress, nil); err != nil {
			log.Printf("debug server error, %v", err)
		}
	}()

	return "statistics at http://" + DebugAddress + "/debug/statsviz/", nil
}
