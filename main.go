// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"k8s.io/klog/v2"

	"github.com/usbarmory/go-pei/cmd"
	"github.com/usbarmory/go-pei/config"
	"github.com/usbarmory/go-pei/platform"
	"github.com/usbarmory/go-pei/shell"
)

var (
	configPath string
	sshAddr    string
	hostKey    string
	useKlog    bool
	verbosity  int
)

var banner string

// errConsoleClosed ends the console group when the local session exits.
var errConsoleClosed = errors.New("console closed")

func init() {
	log.SetFlags(0)

	banner = fmt.Sprintf("%s/%s (%s) • PEI", runtime.GOOS, runtime.GOARCH, runtime.Version())

	flag.StringVar(&configPath, "config", "", "platform configuration (JSON)")
	flag.StringVar(&sshAddr, "ssh", "", "SSH console listening address (e.g. localhost:2222)")
	flag.StringVar(&hostKey, "hostkey", "", "SSH host private key (PEM), generated when empty")
	flag.BoolVar(&useKlog, "klog", false, "log through klog")
	flag.IntVar(&verbosity, "v", 0, "log verbosity")
}

func logger() logr.Logger {
	if useKlog {
		fs := flag.NewFlagSet("klog", flag.ExitOnError)
		klog.InitFlags(fs)
		fs.Set("v", strconv.Itoa(verbosity))

		return klog.NewKlogr()
	}

	stdr.SetVerbosity(verbosity)

	return stdr.New(log.New(os.Stderr, "", log.LstdFlags))
}

func loadConfig() (*config.Platform, error) {
	if configPath == "" {
		return config.Default(), nil
	}

	dir, name := filepath.Split(filepath.Clean(configPath))

	if dir == "" {
		dir = "."
	}

	return config.Load(os.DirFS(dir), name)
}

// localConsole runs the shell on the process terminal.
func localConsole() error {
	fd := int(os.Stdin.Fd())

	iface := &shell.Interface{
		Banner: banner,
		ReadWriter: struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout},
	}

	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)

		if err != nil {
			return err
		}

		defer term.Restore(fd, state)

		iface.VT100 = true
	}

	iface.Start()

	return errConsoleClosed
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()

	if err != nil {
		log.Fatal(err)
	}

	if cmd.Board, err = platform.New(cfg, logger()); err != nil {
		log.Fatal(err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	// without a terminal the SSH console is the only one
	if sshAddr == "" || term.IsTerminal(int(os.Stdin.Fd())) {
		g.Go(localConsole)
	}

	if sshAddr != "" {
		g.Go(func() error {
			return startSSH(ctx, sshAddr, hostKey)
		})
	}

	if err = g.Wait(); err != nil && !errors.Is(err, errConsoleClosed) {
		log.Fatal(err)
	}
}
