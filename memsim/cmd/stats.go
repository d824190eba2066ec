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

	"github.com/google/subcommands"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
	"misraos.dev/kmem/memsim/cmd/util"
	"misraos.dev/kmem/memsim/config"
	"misraos.dev/kmem/pkg/bootinfo"
	"misraos.dev/kmem/pkg/pgalloc"
	"misraos.dev/kmem/pkg/ring0"
)

// metricPrefix prefixes every exported metric name.
const metricPrefix = "kmem_"

// Stats implements subcommands.Command for the "stats" command.
type Stats struct {
	format   formatFlag
	allocate int
	free     bool
}

// Name implements subcommands.Command.Name.
func (*Stats) Name() string {
	return "stats"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stats) Synopsis() string {
	return "print frame allocator statistics after boot"
}

// Usage implements subcommands.Command.Usage.
func (*Stats) Usage() string {
	return `stats [flags] - boot the machine and print physical memory accounting.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stats) SetFlags(f *flag.FlagSet) {
	s.format = newFormatFlag(formatText, formatJSON, formatYAML, formatProm)
	s.format.register(f)
	f.IntVar(&s.allocate, "allocate", 0, "number of frames to allocate after boot.")
	f.BoolVar(&s.free, "free", false, "free the frames allocated by --allocate before reporting.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stats) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if s.allocate < 0 {
		return util.Errorf("--allocate must not be negative: %d", s.allocate)
	}
	conf := args[0].(*config.Config)
	if err := s.run(conf, os.Stdout); err != nil {
		return util.Errorf("stats failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func (s *Stats) run(conf *config.Config, w io.Writer) error {
	k, err := bootMachine(conf)
	if err != nil {
		return err
	}
	defer k.Release()

	var lists []pgalloc.PageList
	if h := ring0.CatchHalt(func() {
		for left := s.allocate; left > 0 && err == nil; left -= pgalloc.MaxPagesPerCall {
			var l pgalloc.PageList
			l, err = k.Frames.AllocatePages(min(left, pgalloc.MaxPagesPerCall))
			lists = append(lists, l)
		}
	}); h != nil {
		return h
	}
	if err != nil {
		return err
	}
	if s.free {
		for _, l := range lists {
			if err := k.Frames.FreePageList(l); err != nil {
				return err
			}
		}
	}

	st := k.Frames.Stats()
	switch s.format.value {
	case formatText:
		_, err := fmt.Fprintf(w, "Free Memory : %d KB\nUsed Memory : %d KB\nReserved Memory : %d KB\nFree Pages : %d pages\nTotal Pages : %d pages\n",
			st.FreeBytes/1024, st.UsedBytes/1024, st.ReservedBytes/1024, st.FreePages, st.TotalPages)
		return err
	case formatProm:
		return writeMetrics(w, st, k.Info.Memory)
	default:
		return writeStructured(w, s.format.value, st)
	}
}

func gauge(name, help string, v uint64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(metricPrefix + name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{
			{Gauge: &dto.Gauge{Value: proto.Float64(float64(v))}},
		},
	}
}

// regionFamily reports the bytes of each region kind present in m, in the
// order kinds first appear.
func regionFamily(m bootinfo.MemoryMap) *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: proto.String(metricPrefix + "region_bytes"),
		Help: proto.String("Bytes of physical memory per memory map region kind."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	seen := make(map[bootinfo.Kind]bool)
	for _, r := range m {
		if seen[r.Kind] {
			continue
		}
		seen[r.Kind] = true
		var total uint64
		for _, o := range m.OfKind(r.Kind) {
			total += o.Length
		}
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label: []*dto.LabelPair{{Name: proto.String("kind"), Value: proto.String(r.Kind.String())}},
			Gauge: &dto.Gauge{Value: proto.Float64(float64(total))},
		})
	}
	return mf
}

// writeMetrics writes st in the Prometheus text exposition format.
func writeMetrics(w io.Writer, st pgalloc.Stats, m bootinfo.MemoryMap) error {
	families := []*dto.MetricFamily{
		gauge("free_bytes", "Bytes of usable memory on the free stack.", st.FreeBytes),
		gauge("used_bytes", "Bytes of usable memory allocated or holding the free stack.", st.UsedBytes),
		gauge("reserved_bytes", "Bytes of memory that is not usable.", st.ReservedBytes),
		gauge("total_bytes", "Bytes of memory described by the memory map.", st.TotalBytes),
		gauge("free_pages", "Frames on the free stack.", st.FreePages),
		gauge("total_pages", "Capacity of the free stack in frames.", st.TotalPages),
		gauge("stack_pages", "Frames holding the free stack.", st.StackPages),
		gauge("allocated_pages", "Frames handed out and not yet freed.", st.AllocatedPages),
		gauge("pinned_pages", "Allocated frames backing page tables.", st.PinnedPages),
		regionFamily(m),
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
