// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim provides a simulated hardware medium: targets that can be
// present or absent, register files for PIB targets, and an LPC bus
// behind each PIB bridge.
package sim // import "github.com/go-lpc/pdbg/medium/sim"

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/go-lpc/pdbg/lpc"
	"github.com/go-lpc/pdbg/scom"
	"github.com/go-lpc/pdbg/target"
)

// Op is the kind of a recorded medium access.
type Op string

const (
	OpProbe Op = "probe"
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// Access is a recorded medium access.
type Access struct {
	Op    Op
	Path  string
	Addr  uint64
	Value uint64
}

func (acc Access) String() string {
	if acc.Op == OpProbe {
		return fmt.Sprintf("%s %s", acc.Op, acc.Path)
	}
	return fmt.Sprintf("%s %s 0x%x=0x%x", acc.Op, acc.Path, acc.Addr, acc.Value)
}

// Machine is a simulated system.
// All targets are present unless marked absent.
type Machine struct {
	mu  sync.Mutex
	msg *log.Logger

	absent map[string]bool
	faults map[string]error // medium failures, per target path
	regs   map[string]map[uint64]uint64
	bus    map[string]map[uint64]uint64 // LPC memory, per PIB target
	status map[string]uint64            // forced bridge status, per PIB target

	trace []Access
}

type Option func(*Machine)

// WithLogger sets the logger used to trace medium accesses.
func WithLogger(msg *log.Logger) Option {
	return func(m *Machine) {
		if msg != nil {
			m.msg = msg
		}
	}
}

// WithAbsent marks the targets at the given paths as absent.
func WithAbsent(paths ...string) Option {
	return func(m *Machine) {
		for _, p := range paths {
			m.absent[p] = true
		}
	}
}

// New creates a new simulated machine.
func New(opts ...Option) *Machine {
	m := &Machine{
		msg:    log.New(io.Discard, "sim: ", 0),
		absent: make(map[string]bool),
		faults: make(map[string]error),
		regs:   make(map[string]map[uint64]uint64),
		bus:    make(map[string]map[uint64]uint64),
		status: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Drivers returns the drivers for all the known target classes.
// PIB targets get a register file and an LPC bridge, all the other
// classes are presence-only.
func (m *Machine) Drivers() map[target.Class]target.Driver {
	p := prober{m}
	return map[target.Class]target.Driver{
		target.ClassProc: p,
		target.ClassFSI:  p,
		target.ClassCore: p,
		target.ClassPIB:  m,
	}
}

// SetFault makes every access to the target at path p fail with err.
// A nil err clears the fault.
func (m *Machine) SetFault(p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, p)
		return
	}
	m.faults[p] = err
}

// SetBridgeStatus forces the value reported by the bridge status
// register of the PIB target at path p, for all subsequent transactions.
func (m *Machine) SetBridgeStatus(p string, v uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[p] = v
}

// Poke writes v at the LPC address addr behind the PIB target at path p.
func (m *Machine) Poke(p string, addr, v uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.space(m.bus, p)[addr] = v
}

// Peek reads the LPC address addr behind the PIB target at path p.
func (m *Machine) Peek(p string, addr uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bus[p][addr]
}

// Trace returns the list of medium accesses so far.
func (m *Machine) Trace() []Access {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Access(nil), m.trace...)
}

// Count returns the number of accesses of kind op to the target at path p.
func (m *Machine) Count(op Op, p string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, acc := range m.trace {
		if acc.Op == op && acc.Path == p {
			n++
		}
	}
	return n
}

func (m *Machine) record(acc Access) {
	m.msg.Printf("%v", acc)
	m.trace = append(m.trace, acc)
}

func (m *Machine) space(spaces map[string]map[uint64]uint64, p string) map[uint64]uint64 {
	s, ok := spaces[p]
	if !ok {
		s = make(map[uint64]uint64)
		spaces[p] = s
	}
	return s
}

func (m *Machine) probe(t *target.Target) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record(Access{Op: OpProbe, Path: t.Path()})
	if err := m.faults[t.Path()]; err != nil {
		return false, err
	}
	return !m.absent[t.Path()], nil
}

// Probe implements target.Driver.
func (m *Machine) Probe(t *target.Target) (bool, error) {
	return m.probe(t)
}

// Read implements scom.Transport.
func (m *Machine) Read(t *target.Target, addr uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.faults[t.Path()]; err != nil {
		return 0, err
	}
	v := m.regs[t.Path()][addr]
	m.record(Access{Op: OpRead, Path: t.Path(), Addr: addr, Value: v})
	return v, nil
}

// Write implements scom.Transport.
// Writing the bridge command register runs the LPC transaction.
func (m *Machine) Write(t *target.Target, addr, v uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.faults[t.Path()]; err != nil {
		return err
	}
	m.record(Access{Op: OpWrite, Path: t.Path(), Addr: addr, Value: v})
	regs := m.space(m.regs, t.Path())
	regs[addr] = v
	if addr == lpc.CmdReg {
		m.bridge(t.Path(), regs, v)
	}
	return nil
}

func (m *Machine) bridge(p string, regs map[uint64]uint64, cmd uint64) {
	var (
		bus    = m.space(m.bus, p)
		addr   = cmd & lpc.AddrMask
		status = lpc.StatusDone
	)
	switch cmd &^ lpc.AddrMask {
	case lpc.Transaction{Dir: lpc.DirRead}.Command():
		regs[lpc.DataReg] = bus[addr]
	case lpc.Transaction{Dir: lpc.DirWrite}.Command():
		bus[addr] = regs[lpc.DataReg]
	default:
		status = 0
	}
	if v, ok := m.status[p]; ok {
		status = v
	}
	regs[lpc.StatusReg] = status
}

type prober struct {
	m *Machine
}

func (p prober) Probe(t *target.Target) (bool, error) { return p.m.probe(t) }

var (
	_ target.Driver  = prober{}
	_ scom.Transport = (*Machine)(nil)
)
