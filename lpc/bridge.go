// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lpc

import (
	"io"
	"log"
	"sync"

	"github.com/go-lpc/pdbg/scom"
	"github.com/go-lpc/pdbg/target"
	"golang.org/x/xerrors"
)

var (
	scomRead  = scom.Read
	scomWrite = scom.Write
)

// Bridge performs LPC transactions through a PIB target.
//
// A Bridge serializes its own transactions.
// Transactions issued on the same target through other means (another
// Bridge, or direct SCOM accesses to the bridge registers) must be
// serialized by the caller.
type Bridge struct {
	mu   sync.Mutex
	msg  *log.Logger
	tgt  *target.Target
	topo *target.Topology
}

type Option func(*Bridge)

// WithLogger sets the logger used to trace transactions.
func WithLogger(msg *log.Logger) Option {
	return func(b *Bridge) {
		if msg != nil {
			b.msg = msg
		}
	}
}

// WithTopology allows the bridge to probe its target when needed.
func WithTopology(topo *target.Topology) Option {
	return func(b *Bridge) {
		b.topo = topo
	}
}

// New returns a bridge using the registers of the PIB target t.
func New(t *target.Target, opts ...Option) *Bridge {
	b := &Bridge{
		msg: log.New(io.Discard, "lpc: ", 0),
		tgt: t,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Read reads a 64-bit value at the LPC address addr.
func (b *Bridge) Read(addr uint64) (uint64, error) {
	return b.Do(Transaction{Addr: addr, Dir: DirRead})
}

// Write writes v at the LPC address addr.
func (b *Bridge) Write(addr, v uint64) error {
	_, err := b.Do(Transaction{Addr: addr, Dir: DirWrite, Data: v})
	return err
}

// Do executes a transaction.
// For a read, Do returns the content of the data register.
//
// The status register is checked exactly once, right after the command
// is issued. Any value but StatusDone fails the transaction.
func (b *Bridge) Do(tx Transaction) (uint64, error) {
	err := tx.validate()
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	err = b.ensure(tx)
	if err != nil {
		return 0, err
	}

	if tx.Dir == DirWrite {
		err = scomWrite(b.tgt, DataReg, tx.Data)
		if err != nil {
			return 0, xerrors.Errorf("lpc: could not stage data 0x%x (addr=0x%x): %w", tx.Data, tx.Addr, err)
		}
	}

	cmd := tx.Command()
	err = scomWrite(b.tgt, CmdReg, cmd)
	if err != nil {
		return 0, xerrors.Errorf("lpc: could not write command 0x%016x: %w", cmd, err)
	}

	status, err := scomRead(b.tgt, StatusReg)
	if err != nil {
		return 0, xerrors.Errorf("lpc: could not read status (addr=0x%x): %w", tx.Addr, err)
	}
	if status != StatusDone {
		b.msg.Printf("%v 0x%x: status=0x%016x", tx.Dir, tx.Addr, status)
		return 0, &FaultError{Tx: tx, Status: status}
	}

	if tx.Dir == DirWrite {
		b.msg.Printf("write 0x%x: 0x%016x", tx.Addr, tx.Data)
		return 0, nil
	}

	v, err := scomRead(b.tgt, DataReg)
	if err != nil {
		return 0, xerrors.Errorf("lpc: could not read data (addr=0x%x): %w", tx.Addr, err)
	}
	b.msg.Printf("read 0x%x: 0x%016x", tx.Addr, v)
	return v, nil
}

// ensure makes sure the bridge target is enabled, probing it if possible.
func (b *Bridge) ensure(tx Transaction) error {
	op := "lpc-" + tx.Dir.String()
	if b.tgt == nil {
		return &target.Error{Op: op, Kind: target.ErrUnavailable}
	}

	st := b.tgt.Status()
	switch st {
	case target.Enabled:
		return nil
	case target.Unknown, target.MustExist:
		if b.topo == nil {
			return &target.Error{Op: op, Path: b.tgt.Path(), Kind: target.ErrUnavailable}
		}
		var err error
		st, err = b.topo.Probe(b.tgt)
		if err != nil {
			return xerrors.Errorf("lpc: could not probe %s: %w", b.tgt.Path(), err)
		}
		if st == target.Enabled {
			return nil
		}
	}
	return xerrors.Errorf("lpc: %s is %v: %w", b.tgt.Path(), st,
		&target.Error{Op: op, Path: b.tgt.Path(), Kind: target.ErrUnavailable},
	)
}

// Read reads a 64-bit value at the LPC address addr, through the PIB
// target t of topology topo.
func Read(topo *target.Topology, t *target.Target, addr uint64) (uint64, error) {
	return New(t, WithTopology(topo)).Read(addr)
}

// Write writes v at the LPC address addr, through the PIB target t of
// topology topo.
func Write(topo *target.Topology, t *target.Target, addr, v uint64) error {
	return New(t, WithTopology(topo)).Write(addr, v)
}
