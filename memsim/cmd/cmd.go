// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd holds implementations of the memsim commands.
package cmd

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
	"misraos.dev/kmem/memsim/config"
	"misraos.dev/kmem/pkg/boot"
	"misraos.dev/kmem/pkg/ring0"
)

// Output formats understood by the commands. Not every command supports
// every format.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
	formatProm = "prom"
)

// formatFlag is a flag.Value that only accepts a fixed set of formats.
type formatFlag struct {
	value   string
	allowed []string
}

func newFormatFlag(allowed ...string) formatFlag {
	return formatFlag{value: formatText, allowed: allowed}
}

// String implements flag.Value.
func (f *formatFlag) String() string {
	return f.value
}

// Get implements flag.Getter.
func (f *formatFlag) Get() any {
	return f.value
}

// Set implements flag.Value.
func (f *formatFlag) Set(s string) error {
	for _, a := range f.allowed {
		if s == a {
			f.value = s
			return nil
		}
	}
	return fmt.Errorf("invalid format %q, want one of %s", s, strings.Join(f.allowed, ", "))
}

func (f *formatFlag) register(fs *flag.FlagSet) {
	fs.Var(f, "format", "output format: "+strings.Join(f.allowed, ", ")+".")
}

// writeStructured writes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling json: %w", err)
		}
		_, err = w.Write(append(b, '\n'))
		return err
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("marshaling yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q is not structured", format)
	}
}

// parseAddr parses an address written in Go integer syntax, for example
// 0xffff_8000_0000_1000.
func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return v, nil
}

// bootMachine boots the machine selected by conf. A halt during boot is
// returned as a *ring0.Halted error.
func bootMachine(conf *config.Config) (*boot.Kernel, error) {
	info, err := conf.LoadBootInfo()
	if err != nil {
		return nil, err
	}
	var k *boot.Kernel
	if h := ring0.CatchHalt(func() {
		k, err = boot.Boot(info, conf.BootOptions())
	}); h != nil {
		return nil, h
	}
	return k, err
}
