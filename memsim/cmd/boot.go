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
	"misraos.dev/kmem/pkg/addrspace"
	"misraos.dev/kmem/pkg/boot"
	"misraos.dev/kmem/pkg/log"
	"misraos.dev/kmem/pkg/pgalloc"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	format formatFlag
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "bring up memory on a simulated machine and report the boot mappings"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - initialize the frame allocator, build and load the kernel page tables.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	b.format = newFormatFlag(formatText, formatJSON, formatYAML)
	b.format.register(f)
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := b.run(conf, os.Stdout); err != nil {
		return util.Errorf("boot failed: %v", err)
	}
	return subcommands.ExitSuccess
}

// bootSummary is what the boot command reports.
type bootSummary struct {
	CR3         string                    `json:"cr3" yaml:"cr3"`
	TableFrames uint64                    `json:"table_frames" yaml:"table_frames"`
	Mappings    addrspace.BootstrapReport `json:"mappings" yaml:"mappings"`
	Stats       pgalloc.Stats             `json:"stats" yaml:"stats"`
}

func summarize(k *boot.Kernel) bootSummary {
	return bootSummary{
		CR3:         fmt.Sprintf("%#x", k.CPU.CR3()),
		TableFrames: k.AddressSpace.TableFrames(),
		Mappings:    k.Report,
		Stats:       k.Frames.Stats(),
	}
}

func (b *Boot) run(conf *config.Config, w io.Writer) error {
	k, err := bootMachine(conf)
	if err != nil {
		return err
	}
	defer k.Release()
	log.Debugf("Boot mappings: %+v", k.Report)

	s := summarize(k)
	if b.format.value != formatText {
		return writeStructured(w, b.format.value, s)
	}
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "CR3\t%s\n", s.CR3)
	fmt.Fprintf(tw, "Page table frames\t%d\n", s.TableFrames)
	fmt.Fprintf(tw, "Kernel pages\t%d\n", s.Mappings.KernelPages)
	fmt.Fprintf(tw, "Framebuffer pages\t%d\n", s.Mappings.FramebufferPages)
	fmt.Fprintf(tw, "Direct map pages\t%d\n", s.Mappings.DirectPages)
	fmt.Fprintf(tw, "Identity map pages\t%d\n", s.Mappings.IdentityPages)
	fmt.Fprintf(tw, "Shared pages\t%d\n", s.Mappings.SharedPages)
	fmt.Fprintf(tw, "Free memory\t%d KB\n", s.Stats.FreeBytes/1024)
	fmt.Fprintf(tw, "Used memory\t%d KB\n", s.Stats.UsedBytes/1024)
	fmt.Fprintf(tw, "Reserved memory\t%d KB\n", s.Stats.ReservedBytes/1024)
	return tw.Flush()
}
