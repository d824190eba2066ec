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
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"misraos.dev/kmem/memsim/cmd/util"
	"misraos.dev/kmem/memsim/config"
	"misraos.dev/kmem/pkg/bootinfo"
)

// Regions implements subcommands.Command for the "regions" command.
type Regions struct {
	format formatFlag
	tag    string
}

// Name implements subcommands.Command.Name.
func (*Regions) Name() string {
	return "regions"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Regions) Synopsis() string {
	return "print the memory map of the machine"
}

// Usage implements subcommands.Command.Usage.
func (*Regions) Usage() string {
	return `regions [flags] - print the decoded memory map, optionally writing it as a stivale2 memmap tag.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Regions) SetFlags(f *flag.FlagSet) {
	r.format = newFormatFlag(formatText, formatJSON, formatYAML)
	r.format.register(f)
	f.StringVar(&r.tag, "write-tag", "", "file to write the memory map to as a stivale2 memmap tag.")
}

// Execute implements subcommands.Command.Execute.
func (r *Regions) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := r.run(conf, os.Stdout); err != nil {
		return util.Errorf("regions failed: %v", err)
	}
	return subcommands.ExitSuccess
}

// regionsSummary is what the regions command reports.
type regionsSummary struct {
	Regions       bootinfo.MemoryMap `json:"regions" yaml:"regions"`
	UsableBytes   uint64             `json:"usable_bytes" yaml:"usable_bytes"`
	ReservedBytes uint64             `json:"reserved_bytes" yaml:"reserved_bytes"`
	Largest       int                `json:"largest" yaml:"largest"`
}

func (r *Regions) run(conf *config.Config, w io.Writer) error {
	info, err := conf.LoadBootInfo()
	if err != nil {
		return err
	}
	if err := info.Memory.Validate(); err != nil {
		return err
	}
	if r.tag != "" {
		if err := os.WriteFile(r.tag, bootinfo.EncodeMemmapTag(info.Memory), 0644); err != nil {
			return fmt.Errorf("writing memmap tag: %w", err)
		}
	}

	s := regionsSummary{
		Regions:       info.Memory,
		UsableBytes:   info.Memory.UsableBytes(),
		ReservedBytes: info.Memory.ReservedBytes(),
		Largest:       -1,
	}
	if i, ok := info.Memory.Largest(); ok {
		s.Largest = i
	}
	if r.format.value != formatText {
		return writeStructured(w, r.format.value, s)
	}

	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprint(tw, "INDEX\tSTART\tEND\tLENGTH\tKIND\n")
	for i, reg := range info.Memory {
		mark := ""
		if i == s.Largest {
			mark = " *"
		}
		rg := reg.Range()
		fmt.Fprintf(tw, "%d\t%v\t%v\t%#x\t%s%s\n", i, rg.Start, rg.End, reg.Length, reg.Kind, mark)
	}
	fmt.Fprintf(tw, "\nusable %d KB, reserved %d KB\n", s.UsableBytes/1024, s.ReservedBytes/1024)
	return tw.Flush()
}
