// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package medium selects the physical medium used to reach targets.
package medium // import "github.com/go-lpc/pdbg/medium"

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/pdbg/medium/i2c"
	"github.com/go-lpc/pdbg/medium/mem"
	"github.com/go-lpc/pdbg/medium/sim"
	"github.com/go-lpc/pdbg/target"
)

// EnvName is the environment variable holding the default medium.
const EnvName = "PDBG_BACKEND"

// Config describes the medium to open.
type Config struct {
	Backend string      // sim, mem or i2c
	Dev     string      // device file of the mem backend
	Bus     int         // SMBus adapter of the i2c backend
	Msg     *log.Logger // medium logger, may be nil
}

// Default returns the name of the default backend.
func Default() string {
	if v := os.Getenv(EnvName); v != "" {
		return v
	}
	return "mem"
}

// NewSim creates the machine used by the sim backend.
var NewSim = func(msg *log.Logger) *sim.Machine {
	return sim.New(sim.WithLogger(msg))
}

// Open returns the drivers of the configured medium and a closer
// releasing it.
func Open(cfg Config) (map[target.Class]target.Driver, io.Closer, error) {
	switch cfg.Backend {
	case "sim":
		m := NewSim(cfg.Msg)
		return m.Drivers(), nopCloser{}, nil
	case "mem":
		if cfg.Dev == "" {
			return nil, nil, fmt.Errorf("medium: no device file for mem backend")
		}
		dev := mem.New(cfg.Dev, mem.WithLogger(cfg.Msg))
		return dev.Drivers(), dev, nil
	case "i2c":
		bus := i2c.New(cfg.Bus, i2c.WithLogger(cfg.Msg))
		return bus.Drivers(), bus, nil
	}
	return nil, nil, fmt.Errorf("medium: unknown backend %q", cfg.Backend)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
