// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package i2c provides a SCOM medium over an SMBus/I2C debug bridge.
//
// The bridge exposes byte registers:
//   - 0x00-0x03: SCOM address (big-endian),
//   - 0x10-0x17: SCOM data (big-endian),
//   - 0x20: control (1: read, 2: write),
//   - 0x21: completion code (0: success),
//   - 0xff: chip ID (0xff when no chip answers).
package i2c // import "github.com/go-lpc/pdbg/medium/i2c"

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/go-daq/smbus"
	"github.com/go-lpc/pdbg/scom"
	"github.com/go-lpc/pdbg/target"
)

const (
	regAddr   = 0x00
	regData   = 0x10
	regCtrl   = 0x20
	regStatus = 0x21
	regID     = 0xff

	ctrlRead  = 0x1
	ctrlWrite = 0x2

	// DefaultAddr is the SMBus address of a bridge without an "i2c-addr"
	// attribute.
	DefaultAddr = 0x50
)

type conn interface {
	ReadReg(addr, reg uint8) (uint8, error)
	WriteReg(addr, reg, v uint8) error
	Close() error
}

var smbusOpen = func(bus int, addr uint8) (conn, error) {
	c, err := smbus.Open(bus, addr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Bus is an SMBus adapter with debug bridges attached.
type Bus struct {
	mu  sync.Mutex
	msg *log.Logger
	bus int
	c   conn
}

type Option func(*Bus)

// WithLogger sets the logger of the bus.
func WithLogger(msg *log.Logger) Option {
	return func(b *Bus) {
		if msg != nil {
			b.msg = msg
		}
	}
}

// New returns the medium for the SMBus adapter number bus.
// The adapter is opened on first use.
func New(bus int, opts ...Option) *Bus {
	b := &Bus{
		msg: log.New(io.Discard, "i2c: ", 0),
		bus: bus,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Drivers returns the drivers served by the bus.
func (b *Bus) Drivers() map[target.Class]target.Driver {
	return map[target.Class]target.Driver{
		target.ClassPIB: b,
	}
}

func (b *Bus) conn() (conn, error) {
	if b.c != nil {
		return b.c, nil
	}
	c, err := smbusOpen(b.bus, DefaultAddr)
	if err != nil {
		return nil, fmt.Errorf("i2c: could not open SMBus %d: %w", b.bus, err)
	}
	b.msg.Printf("opened SMBus %d", b.bus)
	b.c = c
	return c, nil
}

func devAddr(t *target.Target) (uint8, error) {
	if _, ok := t.Attr("i2c-addr"); !ok {
		return DefaultAddr, nil
	}
	v, err := t.AttrU64("i2c-addr")
	if err != nil {
		return 0, err
	}
	if v > 0x7f {
		return 0, fmt.Errorf("i2c: invalid device address 0x%x for %s", v, t.Path())
	}
	return uint8(v), nil
}

// Probe implements target.Driver.
func (b *Bus) Probe(t *target.Target) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.conn()
	if err != nil {
		return false, err
	}
	dev, err := devAddr(t)
	if err != nil {
		return false, err
	}
	id, err := c.ReadReg(dev, regID)
	if err != nil {
		return false, fmt.Errorf("i2c: could not read chip ID of %s (dev=0x%x): %w", t.Path(), dev, err)
	}
	return id != 0xff, nil
}

// Read implements scom.Transport.
func (b *Bus) Read(t *target.Target, addr uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, dev, err := b.start(t, addr, ctrlRead)
	if err != nil {
		return 0, err
	}

	var v uint64
	for i := 0; i < 8; i++ {
		octet, err := c.ReadReg(dev, regData+uint8(i))
		if err != nil {
			return 0, fmt.Errorf("i2c: could not read data byte %d (addr=0x%x): %w", i, addr, err)
		}
		v = v<<8 | uint64(octet)
	}
	return v, nil
}

// Write implements scom.Transport.
func (b *Bus) Write(t *target.Target, addr, v uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.conn()
	if err != nil {
		return err
	}
	dev, err := devAddr(t)
	if err != nil {
		return err
	}
	for i := 0; i < 8; i++ {
		octet := uint8(v >> (56 - 8*i))
		err = c.WriteReg(dev, regData+uint8(i), octet)
		if err != nil {
			return fmt.Errorf("i2c: could not write data byte %d (addr=0x%x): %w", i, addr, err)
		}
	}

	_, _, err = b.start(t, addr, ctrlWrite)
	return err
}

// start loads the address registers and runs the SCOM access.
func (b *Bus) start(t *target.Target, addr uint64, ctrl uint8) (conn, uint8, error) {
	if addr > 0xffffffff {
		return nil, 0, fmt.Errorf("i2c: SCOM address 0x%x out of range", addr)
	}
	c, err := b.conn()
	if err != nil {
		return nil, 0, err
	}
	dev, err := devAddr(t)
	if err != nil {
		return nil, 0, err
	}

	for i := 0; i < 4; i++ {
		octet := uint8(addr >> (24 - 8*i))
		err = c.WriteReg(dev, regAddr+uint8(i), octet)
		if err != nil {
			return nil, 0, fmt.Errorf("i2c: could not write address byte %d (addr=0x%x): %w", i, addr, err)
		}
	}

	err = c.WriteReg(dev, regCtrl, ctrl)
	if err != nil {
		return nil, 0, fmt.Errorf("i2c: could not start access (addr=0x%x): %w", addr, err)
	}
	code, err := c.ReadReg(dev, regStatus)
	if err != nil {
		return nil, 0, fmt.Errorf("i2c: could not read completion code (addr=0x%x): %w", addr, err)
	}
	if code != 0 {
		return nil, 0, fmt.Errorf("i2c: SCOM access failed (addr=0x%x, code=0x%x)", addr, code)
	}
	return c, dev, nil
}

// Close closes the SMBus adapter.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.c == nil {
		return nil
	}
	err := b.c.Close()
	b.c = nil
	if err != nil {
		return fmt.Errorf("i2c: could not close SMBus %d: %w", b.bus, err)
	}
	return nil
}

var _ scom.Transport = (*Bus)(nil)
