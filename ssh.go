// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/gliderlabs/ssh"
	gossh "golang.org/x/crypto/ssh"

	"github.com/usbarmory/go-pei/shell"
)

func signer(path string) (gossh.Signer, error) {
	if path == "" {
		_, key, err := ed25519.GenerateKey(rand.Reader)

		if err != nil {
			return nil, err
		}

		return gossh.NewSignerFromKey(key)
	}

	pem, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("cannot read host key, %v", err)
	}

	return gossh.ParsePrivateKey(pem)
}

func handleSession(s ssh.Session) {
	_, _, isPty := s.Pty()

	iface := &shell.Interface{
		Banner:     banner,
		ReadWriter: s,
		VT100:      isPty,
	}

	log.Printf("ssh session from %s (%s)", s.RemoteAddr(), s.User())

	iface.Start()

	log.Printf("ssh session from %s closed", s.RemoteAddr())
}

// startSSH serves the shell over SSH until the context is canceled.
func startSSH(ctx context.Context, addr string, keyPath string) error {
	key, err := signer(keyPath)

	if err != nil {
		return err
	}

	srv := &ssh.Server{
		Addr:    addr,
		Handler: handleSession,
	}

	srv.AddHostKey(key)

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Printf("starting ssh server (%s) at %s", gossh.FingerprintSHA256(key.PublicKey()), addr)

	if err = srv.ListenAndServe(); errors.Is(err, ssh.ErrServerClosed) {
		return nil
	}

	return err
}
