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

// Package pagetables provides a generic implementation of x86-64 four-level
// page tables.
//
// The same table type is used at every level. A virtual address is split
// into four 9-bit indices (L4 at bits 39-47 down to L1 at bits 12-20) and a
// 12-bit page offset. Tables are reached through an Allocator, which owns the
// frames backing them and converts between table pointers and the physical
// addresses stored in entries.
package pagetables

import (
	"errors"
	"fmt"

	"misraos.dev/kmem/pkg/hostarch"
)

const (
	// entriesPerPage is the number of entries in one table.
	entriesPerPage = 512

	// Levels is the depth of the hierarchy.
	Levels = 4

	indexMask = entriesPerPage - 1
)

// levelShifts holds the shift of each level's index, root first.
var levelShifts = [Levels]uint{39, 30, 21, 12}

// LevelName returns the conventional name of a level, root first.
func LevelName(level int) string {
	switch level {
	case 0:
		return "PML4"
	case 1:
		return "PDPT"
	case 2:
		return "PD"
	case 3:
		return "PT"
	default:
		return fmt.Sprintf("level %d", level)
	}
}

// PTEs is a single page table: one frame holding 512 entries.
type PTEs [entriesPerPage]PTE

// Allocator is used to allocate and map PTEs.
//
// Note that allocators may be called concurrently.
type Allocator interface {
	// NewPTEs returns a new, zeroed set of PTEs.
	NewPTEs() *PTEs

	// PhysicalFor gives the physical address for a set of PTEs.
	PhysicalFor(ptes *PTEs) hostarch.PhysAddr

	// LookupPTEs looks up PTEs by physical address.
	LookupPTEs(physical hostarch.PhysAddr) *PTEs
}

// ErrUnaligned is returned when a mapping is requested for an address that is
// not page aligned.
var ErrUnaligned = errors.New("address is not page aligned")

// ErrPhysicalTooWide is returned when a physical address does not fit the
// 52-bit frame field of an entry.
var ErrPhysicalTooWide = errors.New("physical address exceeds 52 bits")

// Indices returns the table index of addr at every level, root first.
func Indices(addr hostarch.Addr) [Levels]uint16 {
	var idx [Levels]uint16
	for level, shift := range levelShifts {
		idx[level] = uint16((uint64(addr) >> shift) & indexMask)
	}
	return idx
}

// IsCanonical returns true iff bits 48-63 of addr are copies of bit 47.
func IsCanonical(addr hostarch.Addr) bool {
	return addr <= 0x00007fffffffffff || addr >= 0xffff800000000000
}

// canonical sign-extends bit 47 of addr.
func canonical(addr hostarch.Addr) hostarch.Addr {
	if addr&(1<<47) != 0 {
		return addr | 0xffff000000000000
	}
	return addr &^ 0xffff000000000000
}

// PageTables is a page table tree.
type PageTables struct {
	// Allocator is used to allocate nodes.
	Allocator Allocator

	// root is the pagetable root.
	root *PTEs

	// rootPhysical is the cached physical address of the root.
	rootPhysical hostarch.PhysAddr
}

// New returns new PageTables with a freshly allocated root.
func New(a Allocator) *PageTables {
	p := new(PageTables)
	p.Init(a)
	return p
}

// Init initializes a set of PageTables.
func (p *PageTables) Init(allocator Allocator) {
	p.Allocator = allocator
	p.root = p.Allocator.NewPTEs()
	p.rootPhysical = p.Allocator.PhysicalFor(p.root)
}

// Root returns the root table.
func (p *PageTables) Root() *PTEs {
	return p.root
}

// RootPhysical returns the physical address of the root table.
func (p *PageTables) RootPhysical() hostarch.PhysAddr {
	return p.rootPhysical
}

// CR3 returns the value to load into the page-table-root register.
func (p *PageTables) CR3() uint64 {
	return uint64(p.rootPhysical)
}

// NextLevel returns the table that entry index of table points to.
//
// If the entry is absent and allocate is false, NextLevel returns nil without
// side effects. If allocate is true, a zeroed table is installed in the entry
// with Present and ReadWrite set.
func (p *PageTables) NextLevel(table *PTEs, index uint16, allocate bool) *PTEs {
	entry := &table[index]
	if entry.Valid() {
		return p.Allocator.LookupPTEs(entry.Address())
	}
	if !allocate {
		return nil
	}
	next := p.Allocator.NewPTEs()
	entry.Set(p.Allocator.PhysicalFor(next), Present|ReadWrite)
	return next
}

// GetPage returns the leaf entry for addr. ok is false if some level on the
// way is absent and allocate is false.
func (p *PageTables) GetPage(addr hostarch.Addr, allocate bool) (pte *PTE, ok bool) {
	idx := Indices(addr)
	table := p.root
	for level := 0; level < Levels-1; level++ {
		if table = p.NextLevel(table, idx[level], allocate); table == nil {
			return nil, false
		}
	}
	return &table[idx[Levels-1]], true
}

// Map maps the page at addr to the frame at physical, replacing any existing
// mapping. Present is always set in addition to flags.
func (p *PageTables) Map(addr hostarch.Addr, physical hostarch.PhysAddr, flags Flags) error {
	if !addr.IsPageAligned() || !physical.IsPageAligned() {
		return fmt.Errorf("mapping %v to %v: %w", addr, physical, ErrUnaligned)
	}
	if uint64(physical)&^addressMask != 0 {
		return fmt.Errorf("mapping %v to %v: %w", addr, physical, ErrPhysicalTooWide)
	}
	pte, _ := p.GetPage(addr, true)
	pte.Set(physical, flags|Present)
	return nil
}

// Unmap clears the leaf entry for the page containing addr. It returns true
// if a mapping was removed. Intermediate tables are never freed.
func (p *PageTables) Unmap(addr hostarch.Addr) bool {
	pte, ok := p.GetPage(addr.RoundDown(), false)
	if !ok || !pte.Valid() {
		return false
	}
	pte.Clear()
	return true
}

// Lookup returns the physical address that addr translates to and the flags
// of its leaf entry. ok is false if addr is not mapped. Lookup never
// allocates.
func (p *PageTables) Lookup(addr hostarch.Addr) (physical hostarch.PhysAddr, flags Flags, ok bool) {
	pte, ok := p.GetPage(addr, false)
	if !ok || !pte.Valid() {
		return 0, 0, false
	}
	return pte.Address() + hostarch.PhysAddr(addr.PageOffset()), pte.Flags(), true
}
