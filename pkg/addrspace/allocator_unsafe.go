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

package addrspace

import (
	"unsafe"

	"misraos.dev/kmem/pkg/hostarch"
	"misraos.dev/kmem/pkg/pgalloc"
	"misraos.dev/kmem/pkg/ring0"
	"misraos.dev/kmem/pkg/ring0/pagetables"
)

// Memory is the physical memory page tables live in.
type Memory interface {
	// Pointer returns a pointer to the length bytes at pa.
	Pointer(pa hostarch.PhysAddr, length uint64) unsafe.Pointer

	// PhysicalFor returns the physical address p points to.
	PhysicalFor(p unsafe.Pointer) hostarch.PhysAddr

	// ZeroFrame clears the frame at pa.
	ZeroFrame(pa hostarch.PhysAddr)
}

// frameAllocator takes page table frames from the physical frame allocator
// and pins them so they cannot be freed while the tree references them.
type frameAllocator struct {
	frames *pgalloc.Allocator
	mem    Memory

	// tables counts the frames handed to the tree.
	tables uint64
}

// PhysicalTables returns a ring0.TableReader that finds page tables in mem,
// for the MMU of a CPU that will run on tables built here.
func PhysicalTables(mem Memory) ring0.TableReader {
	return &frameAllocator{mem: mem}
}

// NewPTEs implements pagetables.Allocator.NewPTEs.
func (f *frameAllocator) NewPTEs() *pagetables.PTEs {
	addr := f.frames.AllocatePage()
	if err := f.frames.Pin(addr); err != nil {
		ring0.Halt("pinning page table frame %v: %v", addr, err)
	}
	pa := addr.Physical()
	f.mem.ZeroFrame(pa)
	f.tables++
	return f.LookupPTEs(pa)
}

// PhysicalFor implements pagetables.Allocator.PhysicalFor.
func (f *frameAllocator) PhysicalFor(ptes *pagetables.PTEs) hostarch.PhysAddr {
	return f.mem.PhysicalFor(unsafe.Pointer(ptes))
}

// LookupPTEs implements pagetables.Allocator.LookupPTEs.
func (f *frameAllocator) LookupPTEs(physical hostarch.PhysAddr) *pagetables.PTEs {
	return (*pagetables.PTEs)(f.mem.Pointer(physical, hostarch.PageSize))
}
