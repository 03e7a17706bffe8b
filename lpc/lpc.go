// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lpc implements indirect access to the LPC bus, through the
// command, data and status registers of a PIB target.
package lpc // import "github.com/go-lpc/pdbg/lpc"

import (
	"errors"
	"fmt"
)

// Bridge registers, in the SCOM space of the PIB target.
const (
	CmdReg    = 0x90041
	DataReg   = 0x90042
	StatusReg = 0x90043
)

const (
	cmdRead  uint64 = 0x8040000000000000
	cmdWrite uint64 = 0x8000000000000000
	fwSpace  uint64 = 0x00000000F0000000

	// AddrMask is the range of LPC addresses a command word can hold.
	AddrMask uint64 = 0x000000000FFFFFFF

	// StatusDone is the value of the status register after a
	// successful transaction.
	StatusDone uint64 = 0x8000000000000000
)

var (
	ErrBridgeFault    = errors.New("lpc: bridge fault")
	ErrInvalidAddress = errors.New("lpc: invalid address")
)

// Dir is the direction of a bridge transaction.
type Dir uint8

const (
	DirRead Dir = iota
	DirWrite
)

func (dir Dir) String() string {
	switch dir {
	case DirRead:
		return "read"
	case DirWrite:
		return "write"
	}
	return fmt.Sprintf("dir(%d)", uint8(dir))
}

// Transaction is a single access to the LPC bus.
type Transaction struct {
	Addr uint64 // LPC address
	Dir  Dir
	Data uint64 // payload of a write
}

func (tx Transaction) validate() error {
	if tx.Addr&^AddrMask != 0 {
		return &AddressError{Addr: tx.Addr}
	}
	switch tx.Dir {
	case DirRead, DirWrite:
	default:
		return fmt.Errorf("lpc: invalid transaction direction %v", tx.Dir)
	}
	return nil
}

// Command returns the command word of the transaction.
func (tx Transaction) Command() uint64 {
	op := cmdRead
	if tx.Dir == DirWrite {
		op = cmdWrite
	}
	return op | fwSpace | tx.Addr
}

// AddressError is returned for LPC addresses that do not fit in a
// command word.
type AddressError struct {
	Addr uint64
}

func (err *AddressError) Error() string {
	return fmt.Sprintf("lpc: invalid address 0x%x (max=0x%x)", err.Addr, AddrMask)
}

func (err *AddressError) Is(target error) bool { return target == ErrInvalidAddress }

// FaultError is returned when the status register does not report a
// successful transaction.
type FaultError struct {
	Tx     Transaction
	Status uint64
}

func (err *FaultError) Error() string {
	return fmt.Sprintf("lpc: bridge fault (%v addr=0x%x, status=0x%016x)", err.Tx.Dir, err.Tx.Addr, err.Status)
}

func (err *FaultError) Is(target error) bool { return target == ErrBridgeFault }
