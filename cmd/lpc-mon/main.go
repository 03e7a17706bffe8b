// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lpc-mon starts a TDAQ process polling a list of LPC addresses
// through the LPC bridge of a processor PIB.
//
// Each sample is published on the "/lpc" output as a frame holding the
// sample sequence number, followed by (address, value) pairs.
//
// Usage: lpc-mon [tdaq-options] 0xADDR [0xADDR...]
//
// The medium and the hardware description are selected with the
// $PDBG_BACKEND and $PDBG_DTB environment variables.
package main // import "github.com/go-lpc/pdbg/cmd/lpc-mon"

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/pdbg/desc"
	"github.com/go-lpc/pdbg/lpc"
	"github.com/go-lpc/pdbg/medium"
	"github.com/go-lpc/pdbg/target"
)

const (
	defaultPath = "/proc0/pib"
	defaultFreq = 100 * time.Millisecond
)

func main() {
	cmd := flags.New()

	addrs, err := parseAddrs(cmd.Args)
	if err != nil {
		log.Panicf("error: %+v", err)
	}

	dev := newMonitor(medium.Config{
		Backend: medium.Default(),
		Dev:     "/dev/mem",
	}, addrs)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/lpc", dev.lpc)

	srv.RunHandle(dev.run)

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func parseAddrs(args []string) ([]uint64, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing LPC address(es)")
	}
	addrs := make([]uint64, len(args))
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("could not parse LPC address %q: %w", arg, err)
		}
		if v&^lpc.AddrMask != 0 {
			return nil, fmt.Errorf("LPC address 0x%x out of range", v)
		}
		addrs[i] = v
	}
	return addrs, nil
}

type monitor struct {
	cfg   medium.Config
	path  string
	addrs []uint64
	freq  time.Duration

	closer io.Closer
	sys    *target.System
	bridge *lpc.Bridge

	seq  uint64
	n    int // number of published samples
	errs int // number of failed samples
	data chan []byte
}

func newMonitor(cfg medium.Config, addrs []uint64) *monitor {
	if cfg.Msg == nil {
		cfg.Msg = log.New(io.Discard, "", 0)
	}
	return &monitor{
		cfg:   cfg,
		path:  defaultPath,
		addrs: addrs,
		freq:  defaultFreq,
	}
}

func (dev *monitor) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	err := dev.close()
	if err != nil {
		ctx.Msg.Warnf("could not release previous configuration: %+v", err)
	}

	drvs, closer, err := medium.Open(dev.cfg)
	if err != nil {
		ctx.Msg.Errorf("could not open medium %q: %+v", dev.cfg.Backend, err)
		return fmt.Errorf("could not open medium %q: %w", dev.cfg.Backend, err)
	}
	dev.closer = closer
	dev.sys = target.NewSystem(drvs, target.WithLogger(dev.cfg.Msg))

	_, err = dev.sys.Init(desc.Loader(""))
	if err != nil {
		ctx.Msg.Errorf("could not initialize targets: %+v", err)
		return fmt.Errorf("could not initialize targets: %w", err)
	}
	return nil
}

func (dev *monitor) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	if dev.sys == nil {
		return fmt.Errorf("could not initialize: not configured")
	}

	topo, err := dev.sys.Topology()
	if err != nil {
		return fmt.Errorf("could not retrieve topology: %w", err)
	}

	pib, err := topo.Lookup(nil, dev.path)
	if err != nil {
		return fmt.Errorf("could not find target %q: %w", dev.path, err)
	}

	st, err := topo.Probe(pib)
	if err != nil {
		ctx.Msg.Errorf("could not probe %q: %+v", dev.path, err)
		return fmt.Errorf("could not probe %q: %w", dev.path, err)
	}
	if st != target.Enabled {
		return fmt.Errorf("could not probe %q: status=%v", dev.path, st)
	}

	dev.bridge = lpc.New(pib, lpc.WithTopology(topo), lpc.WithLogger(dev.cfg.Msg))
	dev.reset()
	return nil
}

func (dev *monitor) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	dev.reset()
	return nil
}

func (dev *monitor) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if dev.bridge == nil {
		return fmt.Errorf("could not start: not initialized")
	}
	return nil
}

func (dev *monitor) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command... -> n=%d (errs=%d)", dev.n, dev.errs)
	return nil
}

func (dev *monitor) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	err := dev.close()
	if err != nil {
		ctx.Msg.Errorf("could not release targets: %+v", err)
		return fmt.Errorf("could not release targets: %w", err)
	}
	return nil
}

func (dev *monitor) reset() {
	dev.seq = 0
	dev.n = 0
	dev.errs = 0
	dev.data = make(chan []byte, 1024)
}

func (dev *monitor) close() error {
	var err error
	if dev.sys != nil {
		err = dev.sys.Close()
		dev.sys = nil
	}
	if dev.closer != nil {
		if e := dev.closer.Close(); e != nil && err == nil {
			err = e
		}
		dev.closer = nil
	}
	dev.bridge = nil
	return err
}

// sample reads all the monitored LPC addresses and encodes them into
// a frame body.
func (dev *monitor) sample() ([]byte, error) {
	var (
		buf = new(bytes.Buffer)
		enc = tdaq.NewEncoder(buf)
	)
	enc.WriteU64(dev.seq)
	enc.WriteU64(uint64(len(dev.addrs)))
	for _, addr := range dev.addrs {
		v, err := dev.bridge.Read(addr)
		if err != nil {
			return nil, fmt.Errorf("could not read LPC address 0x%x: %w", addr, err)
		}
		enc.WriteU64(addr)
		enc.WriteU64(v)
	}
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("could not encode sample: %w", err)
	}
	dev.seq++
	return buf.Bytes(), nil
}

func (dev *monitor) lpc(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.data:
		dst.Body = data
	}
	return nil
}

func (dev *monitor) run(ctx tdaq.Context) error {
	tick := time.NewTicker(dev.freq)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-tick.C:
			raw, err := dev.sample()
			if err != nil {
				dev.errs++
				ctx.Msg.Warnf("%+v", err)
				continue
			}
			select {
			case dev.data <- raw:
				dev.n++
			default:
			}
		}
	}
}
