// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides memory-mapped register windows.
package mmap // import "github.com/go-lpc/pdbg/internal/mmap"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is a memory-mapped window of a file.
type Handle struct {
	data []byte
}

// Open maps size bytes of the file name, starting at offset off.
// off must be a multiple of the page size.
func Open(name string, off int64, size int, write bool) (*Handle, error) {
	flag, prot := os.O_RDONLY, unix.PROT_READ
	if write {
		flag, prot = os.O_RDWR|os.O_SYNC, unix.PROT_READ|unix.PROT_WRITE
	}

	f, err := os.OpenFile(name, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not open %q: %w", name, err)
	}
	// the mapping outlives the file descriptor.
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), off, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not map %q (off=0x%x, size=0x%x): %w", name, off, size, err)
	}

	return HandleFrom(data), nil
}

// HandleFrom wraps a mapped (or plain) byte slice.
// Closing the handle unmaps data.
func HandleFrom(data []byte) *Handle {
	h := &Handle{data: data}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h
}

// Close closes the mmap handle.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	runtime.SetFinalizer(h, nil)

	return unix.Munmap(data)
}

// Len returns the length of the underlying memory-mapped file.
func (h *Handle) Len() int {
	return len(h.data)
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid WriteAt offset %d", off)
	}
	n := copy(h.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// ReadU64 reads the big-endian 64-bit register at offset off.
func (h *Handle) ReadU64(off int64) (uint64, error) {
	var buf [8]byte
	_, err := h.ReadAt(buf[:], off)
	if err != nil {
		return 0, fmt.Errorf("mmap: could not read register at 0x%x: %w", off, err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// WriteU64 writes v to the big-endian 64-bit register at offset off.
func (h *Handle) WriteU64(off int64, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := h.WriteAt(buf[:], off)
	if err != nil {
		return fmt.Errorf("mmap: could not write register at 0x%x: %w", off, err)
	}
	return nil
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
