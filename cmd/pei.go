// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"

	"github.com/usbarmory/go-pei/hob"
	"github.com/usbarmory/go-pei/pei"
	"github.com/usbarmory/go-pei/shell"
)

func init() {
	shell.Add(shell.Cmd{
		Name: "boot",
		Help: "reset the board and run the PEI phase",
		Fn:   bootCmd,
	})

	shell.Add(shell.Cmd{
		Name: "peim",
		Help: "list PEI modules",
		Fn:   peimCmd,
	})

	shell.Add(shell.Cmd{
		Name: "perf",
		Help: "show module dispatch durations",
		Fn:   perfCmd,
	})

	shell.Add(shell.Cmd{
		Name: "hob",
		Help: "walk the HOB list",
		Fn:   hobCmd,
	})

	shell.Add(shell.Cmd{
		Name: "ppi",
		Help: "list installed PPIs and notifications",
		Fn:   ppiCmd,
	})

	shell.Add(shell.Cmd{
		Name: "fv",
		Help: "list firmware volumes",
		Fn:   fvCmd,
	})

	shell.Add(shell.Cmd{
		Name: "status",
		Help: "show reported status codes",
		Fn:   statusCmd,
	})
}

// withCore invokes fn on the core instance of the last boot, with the board
// locked.
func withCore(fn func(c *pei.CoreInstance) (string, error)) (string, error) {
	b, err := board()

	if err != nil {
		return "", err
	}

	b.Lock()
	defer b.Unlock()

	if b.Core == nil {
		return "", errors.New("board not booted, type `boot`")
	}

	return fn(b.Core)
}

func bootCmd(_ *shell.Interface, _ []string) (res string, err error) {
	b, err := board()

	if err != nil {
		return
	}

	log.Printf("booting %s configuration", b.Config.BootMode)

	start := time.Now()
	err = b.Boot()
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, pei.ErrFatal) {
			log.Printf("boot halted after %s", durafmt.Parse(elapsed))
		}

		return
	}

	return fmt.Sprintf("boot complete (%d modules) in %s", len(b.Core.Modules()), durafmt.Parse(elapsed)), nil
}

func peimCmd(_ *shell.Interface, _ []string) (string, error) {
	return withCore(func(c *pei.CoreInstance) (string, error) {
		var buf bytes.Buffer

		t := tabwriter.NewWriter(&buf, 0, 8, 1, ' ', 0)
		fmt.Fprintf(t, "Name\tVolume\tState\tImage\tFlags\n")

		for _, m := range c.Modules() {
			var base uint64
			var flags string

			if m.Image != nil {
				base = m.Image.Base
			}

			if m.Apriori {
				flags += "apriori "
			}

			if m.DepexErr != nil {
				flags += "invalid-depex "
			}

			fmt.Fprintf(t, "%s\t%d\t%s\t%#x\t%s\n", m.Name, m.Volume, m.State, base, flags)
		}

		t.Flush()

		return buf.String(), nil
	})
}

func perfCmd(_ *shell.Interface, _ []string) (string, error) {
	return withCore(func(c *pei.CoreInstance) (string, error) {
		var buf bytes.Buffer
		var total time.Duration

		t := tabwriter.NewWriter(&buf, 0, 8, 1, ' ', 0)

		for _, r := range c.Performance() {
			total += r.Duration()
			fmt.Fprintf(t, "%s\t%s\t%s\n", r.Name, r.Token, durafmt.Parse(r.Duration()).LimitFirstN(2))
		}

		fmt.Fprintf(t, "\ttotal\t%s\n", durafmt.Parse(total).LimitFirstN(2))
		t.Flush()

		return buf.String(), nil
	})
}

func hobCmd(_ *shell.Interface, _ []string) (string, error) {
	return withCore(func(c *pei.CoreInstance) (string, error) {
		var buf bytes.Buffer

		records, err := c.HobList.Records()

		if err != nil {
			return "", err
		}

		for _, r := range records {
			fmt.Fprintf(&buf, "%#016x %-22s %4d", r.Address, r.Type, r.Length)

			if p, err := r.Payload(); err == nil {
				switch v := p.(type) {
				case *hob.Handoff:
					fmt.Fprintf(&buf, " mode:%s free:%s", pei.BootMode(v.BootMode), humanize.IBytes(v.Free()))
				case *hob.Allocation:
					fmt.Fprintf(&buf, " %#x-%#x type:%d", v.Base, v.Base+v.Length, v.MemoryType)
				case *hob.StackAllocation:
					fmt.Fprintf(&buf, " %#x-%#x", v.Base, v.Base+v.Length)
				case *hob.Resource:
					fmt.Fprintf(&buf, " %#x %s type:%d", v.PhysicalStart, humanize.IBytes(v.ResourceLength), v.ResourceType)
				case *hob.Volume:
					fmt.Fprintf(&buf, " %#x %s", v.Base, humanize.IBytes(v.Length))
				case *hob.Guid:
					fmt.Fprintf(&buf, " %s", v.Name)
				}
			}

			fmt.Fprintln(&buf)
		}

		return buf.String(), nil
	})
}

func ppiCmd(_ *shell.Interface, _ []string) (string, error) {
	return withCore(func(c *pei.CoreInstance) (string, error) {
		var buf bytes.Buffer

		for _, d := range c.Ppi.Entries() {
			fmt.Fprintf(&buf, "ppi    %s %#08x %T\n", d.GUID, uint32(d.Flags), d.Interface)
		}

		for _, n := range c.Ppi.Notifications() {
			fmt.Fprintf(&buf, "notify %s %#08x\n", n.GUID, uint32(n.Flags))
		}

		return buf.String(), nil
	})
}

func fvCmd(_ *shell.Interface, _ []string) (string, error) {
	return withCore(func(c *pei.CoreInstance) (string, error) {
		var buf bytes.Buffer

		for i, v := range c.Volumes() {
			fmt.Fprintf(&buf, "%d %#016x %s\n", i, v.Base, humanize.IBytes(v.FvLength))
		}

		return buf.String(), nil
	})
}

func statusCmd(_ *shell.Interface, _ []string) (string, error) {
	var buf bytes.Buffer

	b, err := board()

	if err != nil {
		return "", err
	}

	for _, r := range b.StatusCodes() {
		fmt.Fprintln(&buf, r.String())
	}

	b.Lock()
	defer b.Unlock()

	if b.Err != nil {
		fmt.Fprintf(&buf, "%v\n", b.Err)
	}

	return buf.String(), nil
}
