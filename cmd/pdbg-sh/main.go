// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pdbg-sh is an interactive shell to probe targets and access
// their SCOM registers and LPC bus.
package main // import "github.com/go-lpc/pdbg/cmd/pdbg-sh"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-lpc/pdbg"
	"github.com/go-lpc/pdbg/desc"
	"github.com/go-lpc/pdbg/lpc"
	"github.com/go-lpc/pdbg/medium"
	"github.com/go-lpc/pdbg/scom"
	"github.com/go-lpc/pdbg/target"
	"github.com/peterh/liner"
)

var errQuit = errors.New("quit")

func main() {
	var (
		backend = flag.String("backend", medium.Default(), "medium to reach targets (sim, mem, i2c)")
		dev     = flag.String("dev", "/dev/mem", "device file of the mem backend")
		bus     = flag.Int("bus", 0, "SMBus adapter of the i2c backend")
		dtb     = flag.String("dtb", "", "hardware description file (overridden by $PDBG_DTB)")
		pib     = flag.String("lpc", "/proc0/pib", "path of the PIB target bridging the LPC bus")
		verbose = flag.Bool("v", false, "enable verbose mode")
		showVer = flag.Bool("version", false, "print version and exit")
	)

	flag.Parse()

	log.SetPrefix("pdbg-sh: ")
	log.SetFlags(0)

	if *showVer {
		vers, sum := pdbg.Version()
		fmt.Printf("pdbg-sh %s %s\n", vers, sum)
		return
	}

	msg := log.New(io.Discard, "", 0)
	if *verbose {
		msg = log.New(os.Stderr, "pdbg-sh: ", 0)
	}

	drvs, closer, err := medium.Open(medium.Config{
		Backend: *backend,
		Dev:     *dev,
		Bus:     *bus,
		Msg:     msg,
	})
	if err != nil {
		log.Fatalf("could not open medium: %+v", err)
	}
	defer closer.Close()

	sys := target.NewSystem(drvs, target.WithLogger(msg))
	defer sys.Close()

	topo, err := sys.Init(desc.Loader(*dtb))
	if err != nil {
		log.Fatalf("could not initialize targets: %+v", err)
	}

	sh := newShell(os.Stdout, topo, *pib, msg)
	err = sh.loop()
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type shell struct {
	out  io.Writer
	msg  *log.Logger
	topo *target.Topology
	pib  string
	hist string
}

func newShell(out io.Writer, topo *target.Topology, pib string, msg *log.Logger) *shell {
	sh := &shell{
		out:  out,
		msg:  msg,
		topo: topo,
		pib:  pib,
	}
	if dir, err := os.UserCacheDir(); err == nil {
		sh.hist = filepath.Join(dir, "pdbg-sh.history")
	}
	return sh
}

func (sh *shell) loop() error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(sh.complete)

	if f, err := os.Open(sh.hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(sh.hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("pdbg> ")
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, liner.ErrPromptAborted):
			fmt.Fprintln(sh.out)
			return nil
		default:
			return fmt.Errorf("could not read command: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(line)
		switch {
		case err == nil:
		case errors.Is(err, errQuit):
			return nil
		default:
			fmt.Fprintf(sh.out, "error: %+v\n", err)
		}
	}
}

var commands = []string{
	"help", "tree", "probe", "probe-all", "status", "disable", "release",
	"getscom", "putscom", "lpcread", "lpcwrite", "quit",
}

func (sh *shell) complete(line string) []string {
	var o []string
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, line) {
			o = append(o, cmd)
		}
	}
	return o
}

func (sh *shell) exec(line string) error {
	args := strings.Fields(line)
	cmd, args := args[0], args[1:]

	switch cmd {
	case "help":
		fmt.Fprintf(sh.out, `commands:
  tree                      display all targets
  probe PATH                probe a target
  probe-all                 probe all targets
  status PATH               display the status of a target
  disable PATH              prevent a target from being probed
  release PATH              release a target and its children
  getscom PATH ADDR         read a SCOM register
  putscom PATH ADDR VALUE   write a SCOM register
  lpcread ADDR              read from the LPC bus
  lpcwrite ADDR VALUE       write to the LPC bus
  quit                      exit the shell
`)
		return nil

	case "tree":
		return sh.topo.Walk(func(t *target.Target) error {
			depth := strings.Count(t.Path(), "/")
			if t.Parent() == nil {
				depth = 0
			}
			fmt.Fprintf(sh.out, "%s%s (%s) %v\n", strings.Repeat("  ", depth), t.Name(), t.Class(), t.Status())
			return nil
		})

	case "probe", "status", "disable", "release":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s PATH", cmd)
		}
		t, err := sh.topo.Lookup(nil, args[0])
		if err != nil {
			return err
		}
		switch cmd {
		case "probe":
			_, err = sh.topo.Probe(t)
		case "disable":
			err = sh.topo.SetStatus(t, target.Disabled)
		case "release":
			err = sh.topo.Release(t)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%s: %v\n", t.Path(), t.Status())
		return nil

	case "probe-all":
		if len(args) != 0 {
			return fmt.Errorf("usage: probe-all")
		}
		return sh.topo.ProbeAll(nil)

	case "getscom":
		if len(args) != 2 {
			return fmt.Errorf("usage: getscom PATH ADDR")
		}
		t, err := sh.topo.Lookup(nil, args[0])
		if err != nil {
			return err
		}
		addr, err := parseU64(args[1])
		if err != nil {
			return err
		}
		v, err := scom.Read(t, addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%s: 0x%x = 0x%016x\n", t.Path(), addr, v)
		return nil

	case "putscom":
		if len(args) != 3 {
			return fmt.Errorf("usage: putscom PATH ADDR VALUE")
		}
		t, err := sh.topo.Lookup(nil, args[0])
		if err != nil {
			return err
		}
		addr, err := parseU64(args[1])
		if err != nil {
			return err
		}
		v, err := parseU64(args[2])
		if err != nil {
			return err
		}
		return scom.Write(t, addr, v)

	case "lpcread", "lpcwrite":
		want := 1
		if cmd == "lpcwrite" {
			want = 2
		}
		if len(args) != want {
			return fmt.Errorf("usage: %s ADDR%s", cmd, strings.Repeat(" VALUE", want-1))
		}
		pib, err := sh.topo.Lookup(nil, sh.pib)
		if err != nil {
			return err
		}
		addr, err := parseU64(args[0])
		if err != nil {
			return err
		}
		b := lpc.New(pib, lpc.WithTopology(sh.topo), lpc.WithLogger(sh.msg))
		if cmd == "lpcwrite" {
			v, err := parseU64(args[1])
			if err != nil {
				return err
			}
			return b.Write(addr, v)
		}
		v, err := b.Read(addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%x: 0x%016x\n", addr, v)
		return nil

	case "quit", "exit":
		return errQuit
	}

	return fmt.Errorf("unknown command %q (try help)", cmd)
}

func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return v, nil
}
