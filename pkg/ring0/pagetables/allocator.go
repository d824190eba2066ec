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
	"fmt"

	"misraos.dev/kmem/pkg/hostarch"
)

// RuntimeAllocator is a trivial allocator that takes tables from the Go heap
// and invents physical addresses for them. It has no backing memory, so it is
// only useful for exercising the tree itself.
type RuntimeAllocator struct {
	next   hostarch.PhysAddr
	byPhys map[hostarch.PhysAddr]*PTEs
	byPTEs map[*PTEs]hostarch.PhysAddr
}

// NewRuntimeAllocator returns an allocator whose tables start at physical
// address 0x1000.
func NewRuntimeAllocator() *RuntimeAllocator {
	return &RuntimeAllocator{
		next:   hostarch.PageSize,
		byPhys: make(map[hostarch.PhysAddr]*PTEs),
		byPTEs: make(map[*PTEs]hostarch.PhysAddr),
	}
}

// NewPTEs implements Allocator.NewPTEs.
func (r *RuntimeAllocator) NewPTEs() *PTEs {
	ptes := new(PTEs)
	r.byPhys[r.next] = ptes
	r.byPTEs[ptes] = r.next
	r.next += hostarch.PageSize
	return ptes
}

// PhysicalFor implements Allocator.PhysicalFor.
func (r *RuntimeAllocator) PhysicalFor(ptes *PTEs) hostarch.PhysAddr {
	phys, ok := r.byPTEs[ptes]
	if !ok {
		panic(fmt.Sprintf("PTEs %p not allocated here", ptes))
	}
	return phys
}

// LookupPTEs implements Allocator.LookupPTEs.
func (r *RuntimeAllocator) LookupPTEs(physical hostarch.PhysAddr) *PTEs {
	ptes, ok := r.byPhys[physical]
	if !ok {
		panic(fmt.Sprintf("no PTEs at %v", physical))
	}
	return ptes
}

// Allocated returns the number of tables handed out.
func (r *RuntimeAllocator) Allocated() int {
	return len(r.byPhys)
}
