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

package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"misraos.dev/kmem/memsim/cmd/util"
	"misraos.dev/kmem/memsim/config"
	"misraos.dev/kmem/pkg/hostarch"
	"misraos.dev/kmem/pkg/ring0"
)

// Translate implements subcommands.Command for the "translate" command.
type Translate struct {
	format formatFlag
}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "translate virtual addresses through the booted page tables"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return `translate [flags] <virtual address>... - boot the machine and walk each address from CR3.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *Translate) SetFlags(f *flag.FlagSet) {
	t.format = newFormatFlag(formatText, formatJSON, formatYAML)
	t.format.register(f)
}

// Execute implements subcommands.Command.Execute.
func (t *Translate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := t.run(conf, f.Args(), os.Stdout); err != nil {
		return util.Errorf("translate failed: %v", err)
	}
	return subcommands.ExitSuccess
}

// translation is the result for one address. Exactly one of Physical and
// Fault is set.
type translation struct {
	Virtual  string `json:"virtual" yaml:"virtual"`
	Physical string `json:"physical,omitempty" yaml:"physical,omitempty"`
	Flags    string `json:"flags,omitempty" yaml:"flags,omitempty"`
	Fault    string `json:"fault,omitempty" yaml:"fault,omitempty"`
}

func translateAll(cpu *ring0.CPU, addrs []hostarch.Addr) ([]translation, error) {
	out := make([]translation, 0, len(addrs))
	for _, va := range addrs {
		tr := translation{Virtual: va.String()}
		pa, flags, err := cpu.Translate(va)
		var fault *ring0.Fault
		switch {
		case err == nil:
			tr.Physical = pa.String()
			tr.Flags = flags.String()
		case errors.As(err, &fault):
			tr.Fault = fault.Error()
		default:
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

func (t *Translate) run(conf *config.Config, args []string, w io.Writer) error {
	addrs := make([]hostarch.Addr, 0, len(args))
	for _, a := range args {
		v, err := parseAddr(a)
		if err != nil {
			return err
		}
		addrs = append(addrs, hostarch.Addr(v))
	}

	k, err := bootMachine(conf)
	if err != nil {
		return err
	}
	defer k.Release()

	out, err := translateAll(k.CPU, addrs)
	if err != nil {
		return err
	}
	if t.format.value != formatText {
		return writeStructured(w, t.format.value, out)
	}
	for _, tr := range out {
		if tr.Fault != "" {
			fmt.Fprintf(w, "%s: %s\n", tr.Virtual, tr.Fault)
			continue
		}
		fmt.Fprintf(w, "%s -> %s [%s]\n", tr.Virtual, tr.Physical, tr.Flags)
	}
	return nil
}
