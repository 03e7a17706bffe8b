// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scom provides raw read/write access to the address-indexed
// register space of targets.
package scom // import "github.com/go-lpc/pdbg/scom"

import (
	"errors"
	"fmt"

	"github.com/go-lpc/pdbg/target"
)

var (
	ErrTransport = errors.New("scom: transport error")

	errNoTransport = errors.New("scom: no register space")
	errNotEnabled  = fmt.Errorf("target not enabled: %w", ErrTransport)
)

// Transport is implemented by the drivers of register-bearing
// target classes (e.g. PIB).
//
// Addresses given to a Transport are relative to the register-bearing
// target t.
type Transport interface {
	target.Driver
	Read(t *target.Target, addr uint64) (uint64, error)
	Write(t *target.Target, addr, v uint64) error
}

// Read reads the register at addr, relative to t.
func Read(t *target.Target, addr uint64) (uint64, error) {
	tr, dev, addr, err := resolve("read", t, addr)
	if err != nil {
		return 0, err
	}
	v, err := tr.Read(dev, addr)
	if err != nil {
		return 0, &target.Error{Op: "read", Path: t.Path(), Kind: ErrTransport, Err: err}
	}
	return v, nil
}

// Write writes v to the register at addr, relative to t.
func Write(t *target.Target, addr, v uint64) error {
	tr, dev, addr, err := resolve("write", t, addr)
	if err != nil {
		return err
	}
	err = tr.Write(dev, addr, v)
	if err != nil {
		return &target.Error{Op: "write", Path: t.Path(), Kind: ErrTransport, Err: err}
	}
	return nil
}

// resolve finds the register-bearing target serving t, and translates
// addr through the base addresses of the targets in between.
func resolve(op string, t *target.Target, addr uint64) (Transport, *target.Target, uint64, error) {
	if t == nil {
		return nil, nil, 0, &target.Error{Op: op, Kind: ErrTransport, Err: errors.New("nil target")}
	}
	if t.Status() != target.Enabled {
		return nil, nil, 0, &target.Error{Op: op, Path: t.Path(), Kind: target.ErrUnavailable, Err: errNotEnabled}
	}

	for dev := t; dev != nil; dev = dev.Parent() {
		if tr, ok := dev.Driver().(Transport); ok {
			return tr, dev, addr, nil
		}
		if _, ok := dev.Attr("base"); !ok {
			continue
		}
		base, err := dev.AttrU64("base")
		if err != nil {
			return nil, nil, 0, &target.Error{Op: op, Path: t.Path(), Kind: ErrTransport, Err: err}
		}
		addr += base
	}

	return nil, nil, 0, &target.Error{Op: op, Path: t.Path(), Kind: ErrTransport, Err: errNoTransport}
}
