// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lpc-read reads a 64-bit value from the LPC bus, through the
// LPC bridge of a processor PIB.
//
// Usage: lpc-read [options] 0xADDR
//
// Example:
//
//	$> lpc-read -backend=mem -dev=/sys/bus/pci/devices/0000:00:01.0/resource0 0x3f8
//	3f8: 0x00000000000000ab
package main // import "github.com/go-lpc/pdbg/cmd/lpc-read"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/go-lpc/pdbg"
	"github.com/go-lpc/pdbg/desc"
	"github.com/go-lpc/pdbg/lpc"
	"github.com/go-lpc/pdbg/medium"
	"github.com/go-lpc/pdbg/target"
)

const defaultPath = "/proc0/pib"

func main() {
	var (
		backend = flag.String("backend", medium.Default(), "medium to reach targets (sim, mem, i2c)")
		dev     = flag.String("dev", "/dev/mem", "device file of the mem backend")
		bus     = flag.Int("bus", 0, "SMBus adapter of the i2c backend")
		dtb     = flag.String("dtb", "", "hardware description file (overridden by $PDBG_DTB)")
		path    = flag.String("path", defaultPath, "path of the PIB target")
		verbose = flag.Bool("v", false, "enable verbose mode")
		showVer = flag.Bool("version", false, "print version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `lpc-read reads a 64-bit value from the LPC bus.

Usage: lpc-read [options] 0xADDR

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	log.SetPrefix("lpc-read: ")
	log.SetFlags(0)

	if *showVer {
		vers, sum := pdbg.Version()
		fmt.Printf("lpc-read %s %s\n", vers, sum)
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing LPC address")
	}

	addr, err := parseAddr(flag.Arg(0))
	if err != nil {
		log.Fatalf("%+v", err)
	}

	msg := log.New(io.Discard, "", 0)
	if *verbose {
		msg = log.New(os.Stderr, "lpc-read: ", 0)
	}

	err = run(os.Stdout, msg, medium.Config{
		Backend: *backend,
		Dev:     *dev,
		Bus:     *bus,
		Msg:     msg,
	}, *dtb, *path, addr)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func parseAddr(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") {
		return 0, fmt.Errorf("%q must be a hex number", s)
	}
	addr, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse address %q: %w", s, err)
	}
	return addr, nil
}

func run(w io.Writer, msg *log.Logger, cfg medium.Config, dtb, path string, addr uint64) error {
	drvs, closer, err := medium.Open(cfg)
	if err != nil {
		return fmt.Errorf("could not open medium: %w", err)
	}
	defer closer.Close()

	sys := target.NewSystem(drvs, target.WithLogger(msg))
	defer sys.Close()

	topo, err := sys.Init(desc.Loader(dtb))
	if err != nil {
		return fmt.Errorf("could not initialize targets: %w", err)
	}

	pib, err := topo.Lookup(nil, path)
	if err != nil {
		return fmt.Errorf("could not find target %q: %w", path, err)
	}

	st, err := topo.Probe(pib)
	if err != nil {
		return fmt.Errorf("could not probe %q: %w", path, err)
	}
	if st != target.Enabled {
		return fmt.Errorf("could not probe %q: status=%v", path, st)
	}

	v, err := lpc.New(pib, lpc.WithTopology(topo), lpc.WithLogger(msg)).Read(addr)
	if err != nil {
		return fmt.Errorf("could not read LPC address 0x%x: %w", addr, err)
	}

	_, err = fmt.Fprintf(w, "%x: 0x%016x\n", addr, v)
	return err
}
