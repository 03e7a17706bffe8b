// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap // import "github.com/go-lpc/pdbg/internal/mmap"

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestHandle(t *testing.T) {
	t.Run("nil-handle", func(t *testing.T) {
		var h *Handle

		_, err := h.ReadU64(0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid read error: %+v", err)
		}

		err = h.WriteU64(0, 1)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid write error: %+v", err)
		}

		err = h.Close()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid close error: %+v", err)
		}
	})
	t.Run("nil-data", func(t *testing.T) {
		var h Handle

		_, err := h.ReadU64(0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid read error: %+v", err)
		}

		err = h.WriteU64(0, 1)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid write error: %+v", err)
		}

		err = h.Close()
		if err != nil {
			t.Fatalf("error closing nil-data handle: %+v", err)
		}
	})
}

func TestOpen(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "regs.bin")
	raw := make([]byte, 4096)
	raw[8] = 0x11
	raw[15] = 0x88
	err := os.WriteFile(fname, raw, 0644)
	if err != nil {
		t.Fatalf("could not create register file: %+v", err)
	}

	h, err := Open(fname, 0, len(raw), true)
	if err != nil {
		t.Fatalf("could not map register file: %+v", err)
	}
	defer h.Close()

	if got, want := h.Len(), 4096; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	v, err := h.ReadU64(8)
	if err != nil {
		t.Fatalf("could not read register: %+v", err)
	}
	if got, want := v, uint64(0x1100000000000088); got != want {
		t.Fatalf("invalid register: got=0x%x, want=0x%x", got, want)
	}

	err = h.WriteU64(16, 0x0102030405060708)
	if err != nil {
		t.Fatalf("could not write register: %+v", err)
	}
	v, err = h.ReadU64(16)
	if err != nil {
		t.Fatalf("could not read back register: %+v", err)
	}
	if v != 0x0102030405060708 {
		t.Fatalf("invalid round-trip: got=0x%x", v)
	}

	_, err = h.ReadU64(4092)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid error reading past the window: %+v", err)
	}
	err = h.WriteU64(-1, 0)
	if err == nil {
		t.Fatalf("expected an error")
	}

	if err := h.Close(); err != nil {
		t.Fatalf("could not unmap: %+v", err)
	}

	_, err = Open(filepath.Join(t.TempDir(), "missing"), 0, 4096, false)
	if err == nil {
		t.Fatalf("expected an error mapping a missing file")
	}
}
