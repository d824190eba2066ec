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

package pagetables

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"misraos.dev/kmem/pkg/hostarch"
)

type mapping struct {
	start    hostarch.Addr
	physical hostarch.PhysAddr
	flags    Flags
}

func checkMappings(t *testing.T, pt *PageTables, want []mapping) {
	t.Helper()
	var got []mapping
	pt.Walk(func(addr hostarch.Addr, pte *PTE) bool {
		got = append(got, mapping{addr, pte.Address(), pte.Flags()})
		return true
	})
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(mapping{})); diff != "" {
		t.Errorf("mappings mismatch (-want +got):\n%s", diff)
	}
}

func TestIndices(t *testing.T) {
	for _, test := range []struct {
		addr hostarch.Addr
		want [Levels]uint16
	}{
		{0, [Levels]uint16{0, 0, 0, 0}},
		{0x400000, [Levels]uint16{0, 0, 2, 0}},
		{0x7fffffffffff, [Levels]uint16{511, 511, 511, 511}},
		{hostarch.HigherHalfOffset, [Levels]uint16{256, 0, 0, 0}},
		{hostarch.KernelVirtBase, [Levels]uint16{511, 510, 0, 0}},
		{hostarch.KernelVirtBase + 0x123456, [Levels]uint16{511, 510, 0, 0x123}},
	} {
		if got := Indices(test.addr); got != test.want {
			t.Errorf("Indices(%v) = %v, want %v", test.addr, got, test.want)
		}
	}
}

func TestIsCanonical(t *testing.T) {
	for addr, want := range map[hostarch.Addr]bool{
		0:                         true,
		0x00007fffffffffff:        true,
		0x0000800000000000:        false,
		0xffff7fffffffffff:        false,
		hostarch.HigherHalfOffset: true,
		hostarch.KernelVirtBase:   true,
	} {
		if got := IsCanonical(addr); got != want {
			t.Errorf("IsCanonical(%v) = %t, want %t", addr, got, want)
		}
	}
}

func TestMapRoundTrip(t *testing.T) {
	for _, test := range []struct {
		name  string
		addr  hostarch.Addr
		phys  hostarch.PhysAddr
		flags Flags
	}{
		{"low", 0x400000, 0x2a000, Present | ReadWrite},
		{"user", 0x7fff_ffff_f000, 0x1000, Present | ReadWrite | User},
		{"direct map", hostarch.HigherHalfOffset + 0x200000, 0x200000, Present | ReadWrite | NoExecute},
		{"kernel", hostarch.KernelVirtBase, 0x200000, Present | ReadWrite | Global},
		{"framebuffer", hostarch.HigherHalfOffset + 0xfd000000, 0xfd000000, Present | ReadWrite | WriteThrough | CacheDisable},
		{"read only", 0x1000, 0x000ffffffffff000, Present},
	} {
		t.Run(test.name, func(t *testing.T) {
			pt := New(NewRuntimeAllocator())
			if err := pt.Map(test.addr, test.phys, test.flags); err != nil {
				t.Fatalf("Map failed: %v", err)
			}
			pte, ok := pt.GetPage(test.addr, false)
			if !ok || !pte.Valid() {
				t.Fatalf("GetPage(%v, false) = (%v, %t), want a present entry", test.addr, pte, ok)
			}
			if got, want := pte.Frame(), uint64(test.phys)>>hostarch.PageShift; got != want {
				t.Errorf("frame = %#x, want %#x", got, want)
			}
			if got := pte.Flags(); got != test.flags {
				t.Errorf("flags = %v, want %v", got, test.flags)
			}
			checkMappings(t, pt, []mapping{{test.addr, test.phys, test.flags}})
		})
	}
}

func TestMapAlwaysPresent(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	if err := pt.Map(0x1000, 0x2000, ReadWrite); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	checkMappings(t, pt, []mapping{{0x1000, 0x2000, Present | ReadWrite}})
}

func TestMapUnaligned(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	for _, test := range []struct {
		addr hostarch.Addr
		phys hostarch.PhysAddr
	}{
		{0x1001, 0x2000},
		{0x1000, 0x2008},
	} {
		if err := pt.Map(test.addr, test.phys, Present); !errors.Is(err, ErrUnaligned) {
			t.Errorf("Map(%v, %v) = %v, want %v", test.addr, test.phys, err, ErrUnaligned)
		}
	}
	checkMappings(t, pt, nil)
}

func TestMapPhysicalTooWide(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	for _, phys := range []hostarch.PhysAddr{1 << 52, 0xfff0_0000_0000_0000, 0x0010_0000_0000_1000} {
		if err := pt.Map(0x1000, phys, Present); !errors.Is(err, ErrPhysicalTooWide) {
			t.Errorf("Map(0x1000, %v) = %v, want %v", phys, err, ErrPhysicalTooWide)
		}
	}
	checkMappings(t, pt, nil)
	if err := pt.Map(0x1000, (1<<52)-hostarch.PageSize, Present); err != nil {
		t.Errorf("Map of the highest frame failed: %v", err)
	}
}

func TestMapOverwrite(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	pt.Map(0x400000, 0x1000, Present|ReadWrite|User)
	pt.Map(0x400000, 0x9000, Present)
	checkMappings(t, pt, []mapping{{0x400000, 0x9000, Present}})
}

func TestGetPageAbsentAllocatesNothing(t *testing.T) {
	a := NewRuntimeAllocator()
	pt := New(a)
	pt.Map(0x400000, 0x1000, Present|ReadWrite)
	before := a.Allocated()

	for _, addr := range []hostarch.Addr{
		0x40000000,                       // Absent PD.
		hostarch.HigherHalfOffset,        // Absent PDPT.
		hostarch.KernelVirtBase + 0x1000, // Absent PDPT.
	} {
		if pte, ok := pt.GetPage(addr, false); ok {
			t.Errorf("GetPage(%v, false) = %v, want absent", addr, pte)
		}
	}
	// The leaf table exists but the entry is clear.
	if pte, ok := pt.GetPage(0x401000, false); !ok || pte.Valid() {
		t.Errorf("GetPage(0x401000, false) = (%v, %t), want a clear entry", pte, ok)
	}
	if _, _, ok := pt.Lookup(0x40000000); ok {
		t.Errorf("Lookup of an unmapped address succeeded")
	}
	if got := a.Allocated(); got != before {
		t.Errorf("lookups allocated %d tables", got-before)
	}
}

func TestNextLevel(t *testing.T) {
	a := NewRuntimeAllocator()
	pt := New(a)
	root := pt.Root()

	if next := pt.NextLevel(root, 3, false); next != nil {
		t.Fatalf("NextLevel(allocate=false) on a clear entry = %p", next)
	}
	next := pt.NextLevel(root, 3, true)
	if next == nil {
		t.Fatalf("NextLevel(allocate=true) returned nil")
	}
	if got, want := root[3].Flags(), Present|ReadWrite; got != want {
		t.Errorf("new entry flags = %v, want %v", got, want)
	}
	if got, want := root[3].Address(), a.PhysicalFor(next); got != want {
		t.Errorf("new entry address = %v, want %v", got, want)
	}
	if again := pt.NextLevel(root, 3, true); again != next {
		t.Errorf("second NextLevel returned a different table")
	}
	if got := a.Allocated(); got != 2 {
		t.Errorf("allocated %d tables, want 2", got)
	}
}

func TestLookupOffset(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	pt.Map(hostarch.KernelVirtBase, 0x200000, Present|ReadWrite)
	phys, flags, ok := pt.Lookup(hostarch.KernelVirtBase + 0x123)
	if !ok || phys != 0x200123 || flags != Present|ReadWrite {
		t.Errorf("Lookup = (%v, %v, %t), want (0x200123, P|RW, true)", phys, flags, ok)
	}
}

func TestUnmap(t *testing.T) {
	a := NewRuntimeAllocator()
	pt := New(a)
	pt.Map(0x400000, 0x1000, Present|ReadWrite)
	pt.Map(0x401000, 0x2000, Present|ReadWrite)
	tables := a.Allocated()

	if !pt.Unmap(0x400fff) {
		t.Errorf("Unmap of a mapped page reported nothing removed")
	}
	if pt.Unmap(0x400000) || pt.Unmap(0x80000000) {
		t.Errorf("Unmap of an unmapped page reported a removal")
	}
	checkMappings(t, pt, []mapping{{0x401000, 0x2000, Present | ReadWrite}})
	if got := a.Allocated(); got != tables {
		t.Errorf("Unmap changed the table count from %d to %d", tables, got)
	}
}

func TestWalkOrderAndTables(t *testing.T) {
	a := NewRuntimeAllocator()
	pt := New(a)
	pt.Map(hostarch.KernelVirtBase, 0x200000, Present|ReadWrite)
	pt.Map(hostarch.HigherHalfOffset, 0, Present|ReadWrite)
	pt.Map(0x400000, 0x1000, Present|ReadWrite)

	checkMappings(t, pt, []mapping{
		{0x400000, 0x1000, Present | ReadWrite},
		{hostarch.HigherHalfOffset, 0, Present | ReadWrite},
		{hostarch.KernelVirtBase, 0x200000, Present | ReadWrite},
	})
	if got := pt.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}

	levels := make(map[int]int)
	pt.Tables(func(level int, physical hostarch.PhysAddr) {
		levels[level]++
		if a.LookupPTEs(physical) == nil {
			t.Errorf("table at %v is unknown to the allocator", physical)
		}
	})
	if diff := cmp.Diff(map[int]int{0: 1, 1: 3, 2: 3, 3: 3}, levels); diff != "" {
		t.Errorf("tables per level (-want +got):\n%s", diff)
	}
	if got, want := len(levels), Levels; got != want {
		t.Errorf("tables found at %d levels, want %d", got, want)
	}
	if got := a.Allocated(); got != 10 {
		t.Errorf("allocated %d tables, want 10", got)
	}
}

func TestWalkStops(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	for i := hostarch.Addr(0); i < 8; i++ {
		pt.Map(i*hostarch.PageSize, hostarch.PhysAddr(i)*hostarch.PageSize, Present)
	}
	n := 0
	pt.Walk(func(hostarch.Addr, *PTE) bool {
		n++
		return n < 3
	})
	if n != 3 {
		t.Errorf("Walk visited %d entries after being told to stop at 3", n)
	}
}

func TestCR3(t *testing.T) {
	a := NewRuntimeAllocator()
	pt := New(a)
	if got, want := pt.CR3(), uint64(a.PhysicalFor(pt.Root())); got != want {
		t.Errorf("CR3() = %#x, want %#x", got, want)
	}
	if pt.RootPhysical() != hostarch.PageSize {
		t.Errorf("RootPhysical() = %v, want first allocated frame", pt.RootPhysical())
	}
}

func TestLevelName(t *testing.T) {
	got := []string{LevelName(0), LevelName(1), LevelName(2), LevelName(3), LevelName(4)}
	want := []string{"PML4", "PDPT", "PD", "PT", "level 4"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LevelName mismatch (-want +got):\n%s", diff)
	}
}
