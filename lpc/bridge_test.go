// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lpc_test

import (
	"bytes"
	"errors"
	"log"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/go-lpc/pdbg/lpc"
	"github.com/go-lpc/pdbg/medium/sim"
	"github.com/go-lpc/pdbg/target"
)

const pibPath = "/proc0/pib"

func newSystem(t *testing.T, m *sim.Machine) (*target.Topology, *target.Target) {
	t.Helper()
	topo, err := target.New(target.Description{
		Nodes: []target.NodeDesc{
			{Path: "/", Class: target.ClassRoot},
			{Path: "/proc0", Class: target.ClassProc, Parent: "/"},
			{Path: "/proc0/pib", Class: target.ClassPIB, Parent: "/proc0"},
		},
	}, m.Drivers())
	if err != nil {
		t.Fatalf("could not create topology: %+v", err)
	}
	pib, err := topo.Lookup(nil, pibPath)
	if err != nil {
		t.Fatalf("could not lookup PIB: %+v", err)
	}
	return topo, pib
}

func TestCommand(t *testing.T) {
	for _, tc := range []struct {
		tx   lpc.Transaction
		want uint64
	}{
		{lpc.Transaction{Addr: 0x42, Dir: lpc.DirRead}, 0x80400000F0000042},
		{lpc.Transaction{Addr: 0x0, Dir: lpc.DirRead}, 0x80400000F0000000},
		{lpc.Transaction{Addr: 0x0FFFFFFF, Dir: lpc.DirRead}, 0x80400000FFFFFFFF},
		{lpc.Transaction{Addr: 0x42, Dir: lpc.DirWrite, Data: 0xff}, 0x80000000F0000042},
	} {
		if got := tc.tx.Command(); got != tc.want {
			t.Fatalf("invalid command word for %+v: got=0x%016x, want=0x%016x", tc.tx, got, tc.want)
		}
	}
}

func TestRead(t *testing.T) {
	m := sim.New()
	m.Poke(pibPath, 0x42, 0x1122334455667788)
	topo, pib := newSystem(t, m)

	v, err := lpc.Read(topo, pib, 0x42)
	if err != nil {
		t.Fatalf("could not read LPC: %+v", err)
	}
	if got, want := v, uint64(0x1122334455667788); got != want {
		t.Fatalf("invalid value: got=0x%x, want=0x%x", got, want)
	}

	if got := topo.Status(pib); got != target.Enabled {
		t.Fatalf("bridge target not probed: %v", got)
	}

	want := []sim.Access{
		{Op: sim.OpProbe, Path: "/proc0"},
		{Op: sim.OpProbe, Path: pibPath},
		{Op: sim.OpWrite, Path: pibPath, Addr: lpc.CmdReg, Value: 0x80400000F0000042},
		{Op: sim.OpRead, Path: pibPath, Addr: lpc.StatusReg, Value: lpc.StatusDone},
		{Op: sim.OpRead, Path: pibPath, Addr: lpc.DataReg, Value: 0x1122334455667788},
	}
	if got := m.Trace(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid trace:\ngot= %v\nwant=%v", got, want)
	}
}

func TestWrite(t *testing.T) {
	m := sim.New()
	topo, pib := newSystem(t, m)

	buf := new(bytes.Buffer)
	b := lpc.New(pib, lpc.WithTopology(topo), lpc.WithLogger(log.New(buf, "lpc: ", 0)))
	err := b.Write(0x3f8, 0xab)
	if err != nil {
		t.Fatalf("could not write LPC: %+v", err)
	}
	if got, want := m.Peek(pibPath, 0x3f8), uint64(0xab); got != want {
		t.Fatalf("invalid LPC memory: got=0x%x, want=0x%x", got, want)
	}

	v, err := b.Read(0x3f8)
	if err != nil {
		t.Fatalf("could not read back: %+v", err)
	}
	if v != 0xab {
		t.Fatalf("invalid read-back: got=0x%x, want=0xab", v)
	}

	trace := m.Trace()[2:] // skip probes
	want := []sim.Access{
		{Op: sim.OpWrite, Path: pibPath, Addr: lpc.DataReg, Value: 0xab},
		{Op: sim.OpWrite, Path: pibPath, Addr: lpc.CmdReg, Value: 0x80000000F00003F8},
		{Op: sim.OpRead, Path: pibPath, Addr: lpc.StatusReg, Value: lpc.StatusDone},
	}
	if got := trace[:3]; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid trace:\ngot= %v\nwant=%v", got, want)
	}

	if !strings.Contains(buf.String(), "lpc: write 0x3f8: 0x00000000000000ab") {
		t.Fatalf("missing transaction log:\n%s", buf.String())
	}
}

func TestBridgeFault(t *testing.T) {
	m := sim.New()
	m.Poke(pibPath, 0x42, 0xdead)
	topo, pib := newSystem(t, m)

	b := lpc.New(pib, lpc.WithTopology(topo))
	if _, err := b.Read(0x42); err != nil {
		t.Fatalf("could not read LPC: %+v", err)
	}

	m.SetBridgeStatus(pibPath, 0x0)
	v, err := b.Read(0x42)
	if !errors.Is(err, lpc.ErrBridgeFault) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, lpc.ErrBridgeFault)
	}
	if v != 0 {
		t.Fatalf("stale data returned on fault: 0x%x", v)
	}
	var fault *lpc.FaultError
	if !errors.As(err, &fault) {
		t.Fatalf("invalid error type: %T", err)
	}
	if fault.Status != 0 || fault.Tx.Addr != 0x42 {
		t.Fatalf("invalid fault: %+v", fault)
	}

	// the data register is never read after a fault.
	trace := m.Trace()
	last := trace[len(trace)-1]
	if want := (sim.Access{Op: sim.OpRead, Path: pibPath, Addr: lpc.StatusReg, Value: 0}); last != want {
		t.Fatalf("invalid last access: got=%v, want=%v", last, want)
	}
	if got, want := m.Count(sim.OpRead, pibPath), 3; got != want {
		t.Fatalf("invalid number of register reads: got=%d, want=%d", got, want)
	}

	m.SetBridgeStatus(pibPath, 0x8000000000000001)
	err = b.Write(0x42, 1)
	if !errors.Is(err, lpc.ErrBridgeFault) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, lpc.ErrBridgeFault)
	}
}

func TestUnavailable(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		m := sim.New()
		topo, pib := newSystem(t, m)
		if err := topo.SetStatus(pib, target.Disabled); err != nil {
			t.Fatalf("could not disable target: %+v", err)
		}

		_, err := lpc.Read(topo, pib, 0x42)
		if !errors.Is(err, target.ErrUnavailable) {
			t.Fatalf("invalid error: got=%+v, want=%v", err, target.ErrUnavailable)
		}
		if trace := m.Trace(); len(trace) != 0 {
			t.Fatalf("medium accessed: %v", trace)
		}
	})

	t.Run("absent", func(t *testing.T) {
		m := sim.New(sim.WithAbsent("/proc0"))
		topo, pib := newSystem(t, m)

		_, err := lpc.Read(topo, pib, 0x42)
		if !errors.Is(err, target.ErrUnavailable) {
			t.Fatalf("invalid error: got=%+v, want=%v", err, target.ErrUnavailable)
		}
		if got := topo.Status(pib); got != target.Nonexistent {
			t.Fatalf("invalid status: got=%v, want=%v", got, target.Nonexistent)
		}
		if got := m.Count(sim.OpWrite, pibPath); got != 0 {
			t.Fatalf("registers written on absent target")
		}
	})

	t.Run("no-topology", func(t *testing.T) {
		m := sim.New()
		_, pib := newSystem(t, m)

		_, err := lpc.New(pib).Read(0x42)
		if !errors.Is(err, target.ErrUnavailable) {
			t.Fatalf("invalid error: got=%+v, want=%v", err, target.ErrUnavailable)
		}
	})

	t.Run("released", func(t *testing.T) {
		m := sim.New()
		topo, pib := newSystem(t, m)
		if _, err := lpc.Read(topo, pib, 0x42); err != nil {
			t.Fatalf("could not read LPC: %+v", err)
		}
		if err := topo.Release(pib); err != nil {
			t.Fatalf("could not release: %+v", err)
		}
		_, err := lpc.Read(topo, pib, 0x42)
		if !errors.Is(err, target.ErrUnavailable) {
			t.Fatalf("invalid error: got=%+v, want=%v", err, target.ErrUnavailable)
		}
	})

	t.Run("nil-target", func(t *testing.T) {
		_, err := lpc.New(nil).Read(0x42)
		if !errors.Is(err, target.ErrUnavailable) {
			t.Fatalf("invalid error: got=%+v, want=%v", err, target.ErrUnavailable)
		}
	})
}

func TestInvalidAddress(t *testing.T) {
	m := sim.New()
	topo, pib := newSystem(t, m)

	for _, addr := range []uint64{0x10000000, 0xF0000000, ^uint64(0)} {
		_, err := lpc.Read(topo, pib, addr)
		if !errors.Is(err, lpc.ErrInvalidAddress) {
			t.Fatalf("invalid error for 0x%x: got=%+v, want=%v", addr, err, lpc.ErrInvalidAddress)
		}
		err = lpc.Write(topo, pib, addr, 1)
		if !errors.Is(err, lpc.ErrInvalidAddress) {
			t.Fatalf("invalid error for 0x%x: got=%+v, want=%v", addr, err, lpc.ErrInvalidAddress)
		}
	}
	if trace := m.Trace(); len(trace) != 0 {
		t.Fatalf("medium accessed: %v", trace)
	}
}

func TestTransportError(t *testing.T) {
	m := sim.New()
	topo, pib := newSystem(t, m)
	if _, err := topo.Probe(pib); err != nil {
		t.Fatalf("could not probe: %+v", err)
	}

	m.SetFault(pibPath, errors.New("bus timeout"))
	_, err := lpc.Read(topo, pib, 0x42)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if errors.Is(err, lpc.ErrBridgeFault) {
		t.Fatalf("transport error reported as bridge fault: %+v", err)
	}
	if !strings.Contains(err.Error(), "bus timeout") {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestConcurrentBridge(t *testing.T) {
	m := sim.New()
	topo, pib := newSystem(t, m)
	for i := uint64(0); i < 16; i++ {
		m.Poke(pibPath, i, i*i)
	}

	b := lpc.New(pib, lpc.WithTopology(topo))
	var (
		wg   sync.WaitGroup
		errc = make(chan error, 16)
	)
	for i := uint64(0); i < 16; i++ {
		wg.Add(1)
		go func(addr uint64) {
			defer wg.Done()
			v, err := b.Read(addr)
			if err != nil {
				errc <- err
				return
			}
			if v != addr*addr {
				errc <- errors.New("interleaved bridge transaction")
			}
		}(i)
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		t.Fatalf("could not read concurrently: %+v", err)
	}
}
