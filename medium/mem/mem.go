// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mem provides a SCOM medium over a memory-mapped register
// window, such as a PCI resource file or a /dev/mem region.
package mem // import "github.com/go-lpc/pdbg/medium/mem"

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"sync"

	"github.com/go-lpc/pdbg/internal/mmap"
	"github.com/go-lpc/pdbg/scom"
	"github.com/go-lpc/pdbg/target"
)

const (
	regSize = 8

	// DefaultSize covers the bridge registers of a PIB at base 0.
	DefaultSize = 8 << 20
)

var mmapOpen = mmap.Open

// Device is a register window mapped from a file.
//
// The register addr of a PIB target is the 64-bit big-endian word at
// byte offset (base+addr)*8 of the window, where base is the "base"
// attribute of the target.
type Device struct {
	mu   sync.Mutex
	msg  *log.Logger
	name string
	off  int64
	size int
	h    *mmap.Handle
}

type Option func(*Device)

// WithLogger sets the logger of the device.
func WithLogger(msg *log.Logger) Option {
	return func(dev *Device) {
		if msg != nil {
			dev.msg = msg
		}
	}
}

// WithWindow sets the offset and size of the mapped window.
func WithWindow(off int64, size int) Option {
	return func(dev *Device) {
		dev.off = off
		dev.size = size
	}
}

// New returns a device mapping the file name.
// The file is mapped on first use.
func New(name string, opts ...Option) *Device {
	dev := &Device{
		msg:  log.New(io.Discard, "mem: ", 0),
		name: name,
		size: DefaultSize,
	}
	for _, opt := range opts {
		opt(dev)
	}
	return dev
}

// Drivers returns the drivers served by the device.
// Only PIB targets carry registers, all the other classes are structural.
func (dev *Device) Drivers() map[target.Class]target.Driver {
	return map[target.Class]target.Driver{
		target.ClassPIB: dev,
	}
}

func (dev *Device) handle() (*mmap.Handle, error) {
	if dev.h != nil {
		return dev.h, nil
	}
	h, err := mmapOpen(dev.name, dev.off, dev.size, true)
	if err != nil {
		return nil, err
	}
	dev.msg.Printf("mapped %q (off=0x%x, size=0x%x)", dev.name, dev.off, dev.size)
	dev.h = h
	return h, nil
}

func (dev *Device) offset(t *target.Target, addr uint64) (int64, error) {
	var base uint64
	if _, ok := t.Attr("base"); ok {
		v, err := t.AttrU64("base")
		if err != nil {
			return 0, err
		}
		base = v
	}
	reg := base + addr
	if reg >= uint64(dev.size/regSize) {
		return 0, fmt.Errorf("mem: register 0x%x out of window %q", reg, dev.name)
	}
	return int64(reg * regSize), nil
}

// Probe implements target.Driver.
// A target is present when the device file exists and its base
// register is inside the window.
func (dev *Device) Probe(t *target.Target) (bool, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	_, err := dev.handle()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	_, err = dev.offset(t, 0)
	return err == nil, nil
}

// Read implements scom.Transport.
func (dev *Device) Read(t *target.Target, addr uint64) (uint64, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	h, err := dev.handle()
	if err != nil {
		return 0, err
	}
	off, err := dev.offset(t, addr)
	if err != nil {
		return 0, err
	}
	return h.ReadU64(off)
}

// Write implements scom.Transport.
func (dev *Device) Write(t *target.Target, addr, v uint64) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	h, err := dev.handle()
	if err != nil {
		return err
	}
	off, err := dev.offset(t, addr)
	if err != nil {
		return err
	}
	return h.WriteU64(off, v)
}

// Close unmaps the register window.
func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.h == nil {
		return nil
	}
	err := dev.h.Close()
	dev.h = nil
	if err != nil {
		return fmt.Errorf("mem: could not unmap %q: %w", dev.name, err)
	}
	return nil
}

var _ scom.Transport = (*Device)(nil)
