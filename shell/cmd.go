// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package shell

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"text/tabwriter"
)

// CmdFn represents a command handler.
type CmdFn func(iface *Interface, arg []string) (res string, err error)

// Cmd represents a shell command.
type Cmd struct {
	// Name is the command name, matched as is when Pattern is nil
	Name string
	// Args is the number of Pattern submatches passed to Fn
	Args    int
	Pattern *regexp.Regexp
	Syntax  string
	Help    string
	Fn      CmdFn
}

var (
	mu   sync.RWMutex
	cmds []*Cmd
)

// Add registers a terminal command, a command with the same name replaces
// any previous registration.
func Add(cmd Cmd) {
	mu.Lock()
	defer mu.Unlock()

	for i, c := range cmds {
		if c.Name == cmd.Name {
			cmds[i] = &cmd
			return
		}
	}

	cmds = append(cmds, &cmd)

	sort.SliceStable(cmds, func(i, j int) bool {
		return cmds[i].Name < cmds[j].Name
	})
}

func lookup(line string) (match *Cmd, arg []string) {
	mu.RLock()
	defer mu.RUnlock()

	for _, cmd := range cmds {
		if cmd.Pattern == nil {
			if cmd.Name == line {
				return cmd, nil
			}
		} else if m := cmd.Pattern.FindStringSubmatch(line); len(m) > 0 && (len(m)-1 == cmd.Args) {
			return cmd, m[1:]
		}
	}

	return
}

// Help returns the list of registered commands.
func (iface *Interface) Help() string {
	var buf bytes.Buffer

	mu.RLock()
	defer mu.RUnlock()

	t := tabwriter.NewWriter(&buf, 16, 8, 0, '\t', tabwriter.TabIndent)

	for _, cmd := range cmds {
		fmt.Fprintf(t, "%s\t%s\t # %s\n", cmd.Name, cmd.Syntax, cmd.Help)
	}

	t.Flush()

	return buf.String()
}
