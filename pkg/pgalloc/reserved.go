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

package pgalloc

import (
	"sort"

	"github.com/google/btree"
	"misraos.dev/kmem/pkg/bootinfo"
	"misraos.dev/kmem/pkg/hostarch"
)

// reservedDegree is the B-tree degree of the reserved index. Memory maps are
// small, so a shallow tree is plenty.
const reservedDegree = 8

// reservedIndex returns the non-usable regions of mm merged into disjoint,
// non-adjacent ranges ordered by start address.
func reservedIndex(mm bootinfo.MemoryMap) *btree.BTreeG[hostarch.PhysRange] {
	var ranges []hostarch.PhysRange
	for _, r := range mm {
		if !r.Kind.IsUsable() {
			ranges = append(ranges, r.Range())
		}
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	t := btree.NewG(reservedDegree, func(a, b hostarch.PhysRange) bool {
		return a.Start < b.Start
	})
	var cur hostarch.PhysRange
	have := false
	for _, r := range ranges {
		if have && r.Start <= cur.End {
			if r.End > cur.End {
				cur.End = r.End
			}
			continue
		}
		if have {
			t.ReplaceOrInsert(cur)
		}
		cur, have = r, true
	}
	if have {
		t.ReplaceOrInsert(cur)
	}
	return t
}

// overlapsReserved returns the reserved range that r overlaps, if any.
func (a *Allocator) overlapsReserved(r hostarch.PhysRange) (hostarch.PhysRange, bool) {
	// Ranges are disjoint, so only the last one starting before r.End can
	// reach into r.
	var found hostarch.PhysRange
	ok := false
	a.reserved.DescendLessOrEqual(hostarch.PhysRange{Start: r.End - 1}, func(item hostarch.PhysRange) bool {
		found, ok = item, item.Overlaps(r)
		return false
	})
	return found, ok
}

// ReservedRanges returns the coalesced non-usable ranges in address order.
func (a *Allocator) ReservedRanges() []hostarch.PhysRange {
	var out []hostarch.PhysRange
	a.reserved.Ascend(func(r hostarch.PhysRange) bool {
		out = append(out, r)
		return true
	})
	return out
}
