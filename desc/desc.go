// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package desc loads hardware descriptions.
package desc // import "github.com/go-lpc/pdbg/desc"

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/go-lpc/pdbg/target"
	"gopkg.in/yaml.v3"
)

// EnvName is the environment variable that overrides the hardware
// description to load.
const EnvName = "PDBG_DTB"

//go:embed default.yaml
var defaultDesc []byte

type document struct {
	Targets []node `yaml:"targets"`
}

type node struct {
	Path   string               `yaml:"path"`
	Class  string               `yaml:"class"`
	Parent *string              `yaml:"parent,omitempty"`
	Status string               `yaml:"status,omitempty"`
	Attrs  map[string]yaml.Node `yaml:"attrs,omitempty"`
}

// Load decodes a YAML hardware description.
// The root target is implied when not declared, and the parent of a
// target defaults to the directory of its path.
func Load(r io.Reader) (target.Description, error) {
	var (
		doc  document
		desc target.Description
	)
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(&doc)
	if err != nil && err != io.EOF {
		return desc, fmt.Errorf("desc: could not decode description: %w", err)
	}

	root := false
	for i, n := range doc.Targets {
		if n.Path == "/" {
			root = true
		}
		nd, err := n.convert()
		if err != nil {
			return desc, fmt.Errorf("desc: invalid target #%d (%q): %w", i, n.Path, err)
		}
		desc.Nodes = append(desc.Nodes, nd)
	}

	if !root {
		desc.Nodes = append([]target.NodeDesc{{Path: "/", Class: target.ClassRoot}}, desc.Nodes...)
	}

	return desc, nil
}

func (n node) convert() (target.NodeDesc, error) {
	st, err := target.ParseStatus(n.Status)
	if err != nil {
		return target.NodeDesc{}, err
	}

	nd := target.NodeDesc{
		Path:   n.Path,
		Class:  target.Class(n.Class),
		Status: st,
		Attrs:  make(map[string]string, len(n.Attrs)),
	}
	switch {
	case n.Parent != nil:
		nd.Parent = *n.Parent
	case n.Path != "/":
		nd.Parent = path.Dir(n.Path)
	}
	if nd.Path == "/" && nd.Class == "" {
		nd.Class = target.ClassRoot
	}

	for k, v := range n.Attrs {
		if v.Kind != yaml.ScalarNode {
			return nd, fmt.Errorf("attribute %q is not a scalar", k)
		}
		nd.Attrs[k] = v.Value
	}
	return nd, nil
}

// ReadFile loads the YAML hardware description file name.
func ReadFile(name string) (target.Description, error) {
	f, err := os.Open(name)
	if err != nil {
		return target.Description{}, fmt.Errorf("desc: could not open description: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Default returns the built-in hardware description.
func Default() target.Description {
	desc, err := Load(bytes.NewReader(defaultDesc))
	if err != nil {
		panic(err)
	}
	return desc
}

// Resolve returns the name of the description to load.
// The PDBG_DTB environment variable, when set, overrides name.
// An empty result means the built-in description.
func Resolve(name string) string {
	if env := os.Getenv(EnvName); env != "" {
		return env
	}
	return name
}

// Loader returns a function loading the description named by
// Resolve(name), for target.System.Init.
func Loader(name string) func() (target.Description, error) {
	return func() (target.Description, error) {
		name := Resolve(name)
		if name == "" {
			return Default(), nil
		}
		return ReadFile(name)
	}
}
