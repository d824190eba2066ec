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

package ring0

import (
	"errors"
	"testing"

	"misraos.dev/kmem/pkg/hostarch"
	"misraos.dev/kmem/pkg/log"
	"misraos.dev/kmem/pkg/ring0/pagetables"
)

func newCPU(t *testing.T) (*CPU, *pagetables.PageTables) {
	t.Helper()
	a := pagetables.NewRuntimeAllocator()
	pt := pagetables.New(a)
	c := NewCPU(a)
	c.LoadCR3(pt.CR3())
	return c, pt
}

func TestTranslate(t *testing.T) {
	c, pt := newCPU(t)
	pt.Map(hostarch.KernelVirtBase, 0x200000, pagetables.Present|pagetables.ReadWrite|pagetables.Global)
	pt.Map(0x1000, 0x5000, pagetables.Present|pagetables.NoExecute)

	for _, test := range []struct {
		addr  hostarch.Addr
		phys  hostarch.PhysAddr
		flags pagetables.Flags
	}{
		{hostarch.KernelVirtBase + 0x10, 0x200010, pagetables.Present | pagetables.ReadWrite | pagetables.Global},
		{0x1fff, 0x5fff, pagetables.Present | pagetables.NoExecute},
	} {
		phys, flags, err := c.Translate(test.addr)
		if err != nil {
			t.Errorf("Translate(%v) failed: %v", test.addr, err)
			continue
		}
		if phys != test.phys || flags != test.flags {
			t.Errorf("Translate(%v) = (%v, %v), want (%v, %v)", test.addr, phys, flags, test.phys, test.flags)
		}
	}
}

func TestTranslateUserNeedsEveryLevel(t *testing.T) {
	c, pt := newCPU(t)
	pt.Map(0x400000, 0x1000, pagetables.Present|pagetables.ReadWrite|pagetables.User)

	// Intermediate entries are supervisor only, so the page is too.
	_, flags, err := c.Translate(0x400000)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if flags&pagetables.User != 0 {
		t.Errorf("effective flags %v grant user access through supervisor tables", flags)
	}

	idx := pagetables.Indices(0x400000)
	table := pt.Root()
	for level := 0; level < pagetables.Levels-1; level++ {
		table[idx[level]].SetFlag(pagetables.User, true)
		table = pt.NextLevel(table, idx[level], false)
	}
	if _, flags, _ := c.Translate(0x400000); flags&pagetables.User == 0 {
		t.Errorf("effective flags %v lack User with every level granting it", flags)
	}
}

func TestTranslateLargePages(t *testing.T) {
	c, pt := newCPU(t)
	idx := pagetables.Indices(0x40000000)
	pdpt := pt.NextLevel(pt.Root(), idx[0], true)
	pdpt[idx[1]].Set(0x80000000, pagetables.Present|pagetables.ReadWrite|pagetables.LargerPages)

	phys, _, err := c.Translate(0x40000000 + 0x12345)
	if err != nil || phys != 0x80012345 {
		t.Errorf("1G translation = (%v, %v), want 0x80012345", phys, err)
	}

	idx = pagetables.Indices(0x200000)
	pd := pt.NextLevel(pt.NextLevel(pt.Root(), idx[0], true), idx[1], true)
	pd[idx[2]].Set(0x600000, pagetables.Present|pagetables.LargerPages)
	phys, _, err = c.Translate(0x2fffff)
	if err != nil || phys != 0x6fffff {
		t.Errorf("2M translation = (%v, %v), want 0x6fffff", phys, err)
	}
}

func TestTranslateFaults(t *testing.T) {
	var fault *Fault

	c := NewCPU(pagetables.NewRuntimeAllocator())
	if _, _, err := c.Translate(0x1000); !errors.As(err, &fault) || fault.Level != -1 {
		t.Errorf("Translate before LoadCR3 = %v, want a fault", err)
	}

	c, pt := newCPU(t)
	pt.Map(0x400000, 0x1000, pagetables.Present)
	for _, test := range []struct {
		addr  hostarch.Addr
		level int
	}{
		{0x0000800000000000, -1},
		{hostarch.HigherHalfOffset, 0},
		{0x40000000, 1},
		{0x600000, 2},
		{0x401000, 3},
	} {
		_, _, err := c.Translate(test.addr)
		if !errors.As(err, &fault) {
			t.Errorf("Translate(%v) = %v, want a *Fault", test.addr, err)
			continue
		}
		if fault.Level != test.level || fault.Addr != test.addr {
			t.Errorf("Translate(%v) fault = %+v, want level %d", test.addr, fault, test.level)
		}
	}
}

func TestLoadCR3(t *testing.T) {
	c, pt := newCPU(t)
	if !c.Paging() || c.CR3() != pt.CR3() {
		t.Errorf("CR3() = %#x, want %#x", c.CR3(), pt.CR3())
	}
	c.LoadCR3(pt.CR3())
	if got := c.CR3Loads(); got != 2 {
		t.Errorf("CR3Loads() = %d, want 2", got)
	}
}

func TestHalt(t *testing.T) {
	log.SetupForTest(t)
	h := CatchHalt(func() {
		Halt("out of frames: %d left", 0)
	})
	if h == nil {
		t.Fatalf("CatchHalt returned nil for a halting function")
	}
	if got, want := h.Reason, "out of frames: 0 left"; got != want {
		t.Errorf("Reason = %q, want %q", got, want)
	}
	if got, want := h.Error(), "cpu halted: out of frames: 0 left"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if h := CatchHalt(func() {}); h != nil {
		t.Errorf("CatchHalt of a normal function = %v", h)
	}
}

func TestCatchHaltPropagatesOtherPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != "boom" {
			t.Errorf("recovered %v, want boom", r)
		}
	}()
	CatchHalt(func() { panic("boom") })
	t.Errorf("CatchHalt swallowed a foreign panic")
}
