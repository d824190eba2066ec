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

// Package ring0 simulates the parts of the bootstrap processor the memory
// core touches: the page-table-root register, the MMU walk it drives, and
// halting.
package ring0

import (
	"fmt"

	"misraos.dev/kmem/pkg/hostarch"
	"misraos.dev/kmem/pkg/ring0/pagetables"
)

// TableReader resolves the physical address of a page table, as the MMU does
// when it follows CR3 and non-leaf entries.
type TableReader interface {
	LookupPTEs(physical hostarch.PhysAddr) *pagetables.PTEs
}

// Fault describes a failed translation.
type Fault struct {
	// Addr is the faulting virtual address.
	Addr hostarch.Addr

	// Level is the table level at which the walk stopped, root first, or
	// -1 if no table was consulted.
	Level int

	// Reason describes the fault.
	Reason string
}

// Error implements error.Error.
func (f *Fault) Error() string {
	if f.Level < 0 {
		return fmt.Sprintf("page fault at %v: %s", f.Addr, f.Reason)
	}
	return fmt.Sprintf("page fault at %v: %s in %s", f.Addr, f.Reason, pagetables.LevelName(f.Level))
}

// CPU is a simulated bootstrap processor.
type CPU struct {
	// MMU reads page tables from physical memory.
	MMU TableReader

	// cr3 is the page-table-root register.
	cr3 uint64

	// paging is set once CR3 has been loaded.
	paging bool

	// loads counts CR3 writes. Each one flushes the (non-global) TLB.
	loads uint64
}

// NewCPU returns a CPU whose MMU reads tables through r.
func NewCPU(r TableReader) *CPU {
	return &CPU{MMU: r}
}

// LoadCR3 writes the page-table-root register. All subsequent translations
// go through the new root.
func (c *CPU) LoadCR3(cr3 uint64) {
	c.cr3 = cr3
	c.paging = true
	c.loads++
}

// CR3 returns the page-table-root register.
func (c *CPU) CR3() uint64 {
	return c.cr3
}

// Paging returns true once a root has been loaded.
func (c *CPU) Paging() bool {
	return c.paging
}

// CR3Loads returns the number of times CR3 has been written.
func (c *CPU) CR3Loads() uint64 {
	return c.loads
}

// Sizes of the pages an L3 and L2 entry with LargerPages set map.
const (
	hugePageSize  = 1 << 30
	largePageSize = 1 << 21
)

// Translate walks the loaded tables for addr the way the MMU does. It returns
// the physical address and the effective permissions: ReadWrite and User
// only if every level grants them, NoExecute if any level sets it, and the
// leaf's remaining bits.
func (c *CPU) Translate(addr hostarch.Addr) (hostarch.PhysAddr, pagetables.Flags, error) {
	if !c.paging {
		return 0, 0, &Fault{Addr: addr, Level: -1, Reason: "no page table loaded"}
	}
	if !pagetables.IsCanonical(addr) {
		return 0, 0, &Fault{Addr: addr, Level: -1, Reason: "non-canonical address"}
	}

	const inherited = pagetables.ReadWrite | pagetables.User
	effective := inherited
	var nx pagetables.Flags

	idx := pagetables.Indices(addr)
	table := c.MMU.LookupPTEs(hostarch.PhysAddr(c.cr3).RoundDown())
	for level := 0; level < pagetables.Levels; level++ {
		entry := &table[idx[level]]
		if !entry.Valid() {
			return 0, 0, &Fault{Addr: addr, Level: level, Reason: "entry not present"}
		}
		flags := entry.Flags()
		effective &= flags | ^inherited
		nx |= flags & pagetables.NoExecute

		size := uint64(0)
		switch {
		case level == pagetables.Levels-1:
			size = hostarch.PageSize
		case level == 1 && entry.Flag(pagetables.LargerPages):
			size = hugePageSize
		case level == 2 && entry.Flag(pagetables.LargerPages):
			size = largePageSize
		}
		if size != 0 {
			base := uint64(entry.Address()) &^ (size - 1)
			leaf := flags&^inherited&^pagetables.NoExecute | effective | nx
			return hostarch.PhysAddr(base | uint64(addr)&(size-1)), leaf, nil
		}
		table = c.MMU.LookupPTEs(entry.Address())
	}
	panic("unreachable")
}
