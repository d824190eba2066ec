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
	"misraos.dev/kmem/pkg/hostarch"
)

// Visitor is called for each present leaf entry by Walk, in ascending
// canonical address order. Returning false stops the walk.
type Visitor func(addr hostarch.Addr, pte *PTE) bool

// Walk visits every present leaf entry in the tree.
func (p *PageTables) Walk(fn Visitor) {
	p.walkLevel(p.root, 0, 0, fn)
}

// walkLevel walks table, found at the given level, whose first entry covers
// base. It returns false if the visitor asked to stop.
func (p *PageTables) walkLevel(table *PTEs, level int, base hostarch.Addr, fn Visitor) bool {
	shift := levelShifts[level]
	for index := range table {
		entry := &table[index]
		if !entry.Valid() {
			continue
		}
		addr := base | hostarch.Addr(index)<<shift
		if level == 0 {
			addr = canonical(addr)
		}
		if level == Levels-1 {
			if !fn(addr, entry) {
				return false
			}
			continue
		}
		next := p.Allocator.LookupPTEs(entry.Address())
		if !p.walkLevel(next, level+1, addr, fn) {
			return false
		}
	}
	return true
}

// Tables calls fn with the physical address of every table in the tree,
// root first, and the level the table sits at.
func (p *PageTables) Tables(fn func(level int, physical hostarch.PhysAddr)) {
	fn(0, p.rootPhysical)
	p.tablesBelow(p.root, 0, fn)
}

func (p *PageTables) tablesBelow(table *PTEs, level int, fn func(int, hostarch.PhysAddr)) {
	if level == Levels-1 {
		return
	}
	for index := range table {
		entry := &table[index]
		if !entry.Valid() {
			continue
		}
		fn(level+1, entry.Address())
		p.tablesBelow(p.Allocator.LookupPTEs(entry.Address()), level+1, fn)
	}
}

// Count returns the number of present leaf entries.
func (p *PageTables) Count() uint64 {
	var n uint64
	p.Walk(func(hostarch.Addr, *PTE) bool {
		n++
		return true
	})
	return n
}
