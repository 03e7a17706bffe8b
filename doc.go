// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pdbg provides low-level debug access to processors.
//
// Targets (processors, their FSI links, PIBs and cores) are described by
// a hardware description and organized into a topology by package target.
// Targets are probed lazily through a medium (package medium), which
// exposes the SCOM register space of PIB targets (package scom).
// Package lpc drives the LPC bridge behind a PIB.
package pdbg // import "github.com/go-lpc/pdbg"

import (
	"fmt"
	"runtime/debug"
)

const modpath = "github.com/go-lpc/pdbg"

// Version returns the version of pdbg and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	mod := &b.Main
	if mod.Path != modpath {
		mod = nil
		for _, dep := range b.Deps {
			if dep.Path == modpath {
				mod = dep
				break
			}
		}
	}
	if mod == nil {
		return "", ""
	}

	rep := mod.Replace
	switch {
	case rep == nil:
		return mod.Version, mod.Sum
	case rep.Path != "" && rep.Version != "":
		return fmt.Sprintf("%s %s", rep.Path, rep.Version), rep.Sum
	case rep.Version != "":
		return rep.Version, rep.Sum
	case rep.Path != "":
		return rep.Path, rep.Sum
	}
	return mod.Version + "*", ""
}
