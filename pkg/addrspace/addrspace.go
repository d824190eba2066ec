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

// Package addrspace is the virtual address space manager: it owns the kernel's
// four-level page table tree, builds the boot mappings and loads the root into
// the processor.
package addrspace

import (
	"errors"
	"fmt"

	"misraos.dev/kmem/pkg/hostarch"
	"misraos.dev/kmem/pkg/log"
	"misraos.dev/kmem/pkg/pgalloc"
	"misraos.dev/kmem/pkg/ring0"
	"misraos.dev/kmem/pkg/ring0/pagetables"
)

// State is the lifecycle of an AddressSpace.
type State int

// Address space states, in the only order they are entered.
const (
	Uninitialized State = iota
	RootAllocated
	Bootstrapping
	Active
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case RootAllocated:
		return "RootAllocated"
	case Bootstrapping:
		return "Bootstrapping"
	case Active:
		return "Active"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Errors returned by AddressSpace.
var (
	ErrAlreadyInitialized = errors.New("page map already created")
	ErrNotInitialized     = errors.New("page map not created")
	ErrActive             = errors.New("address space already active")
	ErrUnaligned          = pagetables.ErrUnaligned
	ErrPhysicalTooWide    = pagetables.ErrPhysicalTooWide
	ErrOverlap            = errors.New("mapping would replace a different frame")
)

// AddressSpace is the kernel address space.
type AddressSpace struct {
	state  State
	frames *pgalloc.Allocator
	alloc  frameAllocator
	tables *pagetables.PageTables
	cpu    *ring0.CPU
}

// New returns an uninitialized address space whose tables are taken from
// frames and live in mem. LoadPageTable activates it on cpu.
func New(frames *pgalloc.Allocator, mem Memory, cpu *ring0.CPU) *AddressSpace {
	return &AddressSpace{
		frames: frames,
		alloc:  frameAllocator{frames: frames, mem: mem},
		cpu:    cpu,
	}
}

// State returns the current lifecycle state.
func (as *AddressSpace) State() State {
	return as.state
}

// PageTables returns the table tree, or nil before CreatePageMap.
func (as *AddressSpace) PageTables() *pagetables.PageTables {
	return as.tables
}

// TableFrames returns the number of frames the tree occupies.
func (as *AddressSpace) TableFrames() uint64 {
	return as.alloc.tables
}

// CreatePageMap allocates and zeroes the root table. It may only be called
// once; later calls are refused and logged.
func (as *AddressSpace) CreatePageMap() error {
	if as.state != Uninitialized {
		log.Warningf("Page map already created (state %v); ignoring", as.state)
		return ErrAlreadyInitialized
	}
	as.tables = pagetables.New(&as.alloc)
	as.state = RootAllocated
	log.Debugf("Page map root at %v", as.tables.RootPhysical())
	return nil
}

// GetPage returns the leaf entry for addr, allocating missing tables on the
// way if allocate is set. An absent path with allocate unset yields a nil
// entry and no error. ErrNotInitialized is returned before CreatePageMap.
func (as *AddressSpace) GetPage(addr hostarch.Addr, allocate bool) (*pagetables.PTE, error) {
	if as.state == Uninitialized {
		return nil, ErrNotInitialized
	}
	pte, ok := as.tables.GetPage(addr, allocate)
	if !ok {
		return nil, nil
	}
	return pte, nil
}

// MapMemory maps the page at addr to the frame at physical with the given
// flags. Present is always set. An existing mapping is replaced.
func (as *AddressSpace) MapMemory(addr hostarch.Addr, physical hostarch.PhysAddr, flags pagetables.Flags) error {
	if as.state == Uninitialized {
		return ErrNotInitialized
	}
	return as.tables.Map(addr, physical, flags)
}

// Unmap removes the mapping of the page containing addr, if any. Tables are
// not reclaimed and no TLB shootdown is performed.
func (as *AddressSpace) Unmap(addr hostarch.Addr) bool {
	if as.state == Uninitialized {
		return false
	}
	return as.tables.Unmap(addr)
}

// Lookup translates addr through the tables without touching the processor.
func (as *AddressSpace) Lookup(addr hostarch.Addr) (hostarch.PhysAddr, pagetables.Flags, bool) {
	if as.state == Uninitialized {
		return 0, 0, false
	}
	return as.tables.Lookup(addr)
}

// LoadPageTable loads the root into the processor's page-table-root register.
// Every later access is translated by this tree. Loading again is allowed and
// reloads the same root.
func (as *AddressSpace) LoadPageTable() error {
	if as.state == Uninitialized {
		return ErrNotInitialized
	}
	as.cpu.LoadCR3(as.tables.CR3())
	if as.state != Active {
		log.Infof("Loaded page table: CR3 = %#x, %d table frames", as.tables.CR3(), as.alloc.tables)
	}
	as.state = Active
	return nil
}
